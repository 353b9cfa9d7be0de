package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"keyproxy.com/internal/keyproxy/forward"
	"keyproxy.com/internal/keyproxy/keypool"
	"keyproxy.com/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Init("key-proxy-test", "error")
	m.Run()
}

// 按 key 决定上游行为的测试桩
func newRouter(t *testing.T, pool *keypool.Pool, upstreamURL string) *gin.Engine {
	t.Helper()
	r := gin.New()
	r.NoRoute(Proxy(pool, forward.New(upstreamURL, 5*time.Second)))
	return r
}

// 前两把 key 被 429 拒绝、第三把成功：正好三次转发，最终 200 来自第三把
func TestProxy_RotatesUntilSuccess(t *testing.T) {
	var hits int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		switch r.URL.Query().Get("key") {
		case "k0", "k1":
			w.WriteHeader(http.StatusTooManyRequests)
		case "k2":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			t.Errorf("上游收到了不认识的 key: %q", r.URL.Query().Get("key"))
		}
	}))
	defer upstream.Close()

	pool, err := keypool.New([]string{"k0", "k1", "k2"}, time.Hour)
	require.NoError(t, err)
	r := newRouter(t, pool, upstream.URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1beta/models", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.EqualValues(t, 3, atomic.LoadInt64(&hits))

	// k0、k1 已冷却，只剩 k2 可用
	assert.Equal(t, 1, pool.Available())
}

// 重试上界：池子多大就最多试多少次，全被拒就 429 收尾
func TestProxy_BoundedAttempts(t *testing.T) {
	var hits int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	pool, err := keypool.New([]string{"k0", "k1", "k2"}, time.Hour)
	require.NoError(t, err)
	r := newRouter(t, pool, upstream.URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/x", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, msgRetriesExhausted, w.Body.String())
	assert.EqualValues(t, 3, atomic.LoadInt64(&hits))
}

// 全员冷却：零次转发直接 429，文案和重试耗尽的不一样
func TestProxy_AllCoolingNoForward(t *testing.T) {
	var hits int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer upstream.Close()

	pool, err := keypool.New([]string{"k0", "k1"}, time.Hour)
	require.NoError(t, err)
	pool.MarkExhausted(0)
	pool.MarkExhausted(1)
	r := newRouter(t, pool, upstream.URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/x", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, msgNoKeyAvailable, w.Body.String())
	assert.EqualValues(t, 0, atomic.LoadInt64(&hits))
}

// 网络错误是终态 500，不换 key 重试
func TestProxy_NetworkErrorNoRetry(t *testing.T) {
	pool, err := keypool.New([]string{"k0", "k1"}, time.Hour)
	require.NoError(t, err)
	// 连不上的地址
	r := newRouter(t, pool, "http://127.0.0.1:1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgInternalError, w.Body.String())
	// 网络错误不算 key 的问题，池子不动
	assert.Equal(t, 2, pool.Available())
}

// 非配额类错误（404/500）原样透传，不烧 key
func TestProxy_PassesThroughFinalErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("model not found"))
	}))
	defer upstream.Close()

	pool, err := keypool.New([]string{"k0", "k1"}, time.Hour)
	require.NoError(t, err)
	r := newRouter(t, pool, upstream.URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "model not found", w.Body.String())
	assert.Equal(t, 2, pool.Available())
}

// 上游自带的 CORS 头被剥掉，代理统一注入 *，不出现重复头
func TestProxy_OverridesCORSHeader(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "https://upstream.example")
		w.Header().Set("X-Upstream-Extra", "keep-me")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	pool, err := keypool.New([]string{"k0"}, time.Hour)
	require.NoError(t, err)
	r := newRouter(t, pool, upstream.URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/x", nil))

	assert.Equal(t, []string{"*"}, w.Header().Values("Access-Control-Allow-Origin"))
	assert.Equal(t, "keep-me", w.Header().Get("X-Upstream-Extra"))
}

// POST body 在重试之间重放：第一把 key 被拒后，第二把仍收到完整 body
func TestProxy_ReplaysBodyAcrossRetries(t *testing.T) {
	payload := `{"contents":[{"parts":[{"text":"hello"}]}]}`
	var bodies []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if r.URL.Query().Get("key") == "k0" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	pool, err := keypool.New([]string{"k0", "k1"}, time.Hour)
	require.NoError(t, err)
	r := newRouter(t, pool, upstream.URL)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(payload))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, bodies, 2)
	assert.Equal(t, payload, bodies[0])
	assert.Equal(t, payload, bodies[1])
}
