package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"keyproxy.com/pkg/common"
	"keyproxy.com/pkg/logger"
)

// 代理自己的准入头，转发前会被剥掉，不会漏给上游
const HeaderAccessToken = "X-Access-Token"

// AccessToken 静态令牌门禁。配置了 token 才生效，校验失败直接 401，
// 不碰 key 池也不碰上游。纯字符串比对，不是什么签名校验。
func AccessToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if c.GetHeader(HeaderAccessToken) != token {
			logger.Warn(c, "unauthorized access attempt",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}
