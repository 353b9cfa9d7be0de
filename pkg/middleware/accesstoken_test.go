package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"keyproxy.com/pkg/logger"
)

func newGateRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger.Init("key-proxy-test", "error")

	r := gin.New()
	r.Use(AccessToken(token))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestAccessToken_Disabled(t *testing.T) {
	r := newGateRouter("")

	// 没配置 token，门禁不生效
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAccessToken_MissingOrWrong(t *testing.T) {
	r := newGateRouter("s3cret")

	// 不带头
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized", w.Body.String())

	// 带错的
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderAccessToken, "nope")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAccessToken_Match(t *testing.T) {
	r := newGateRouter("s3cret")

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderAccessToken, "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}
