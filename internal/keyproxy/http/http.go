package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	proxyConfig "keyproxy.com/internal/keyproxy/config"
	"keyproxy.com/internal/keyproxy/forward"
	"keyproxy.com/internal/keyproxy/handler"
	"keyproxy.com/internal/keyproxy/keypool"
	middleware2 "keyproxy.com/pkg/middleware"
	"keyproxy.com/pkg/ratelimit"
)

// NewRouter 组装 gin 引擎和 http.Server。
// 代理路由用 NoRoute 挂：/metrics 这类内部路由正常注册，
// 其余任意方法任意路径都落到转发 handler（gin 的通配路由和
// /metrics 会冲突，NoRoute 不会）。
func NewRouter(ctx context.Context, cfg proxyConfig.ProxyConfig, pool *keypool.Pool) *http.Server {
	// 入口限流
	store := ratelimit.NewStore(rate.Limit(cfg.RateLimit.Rate), cfg.RateLimit.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()

	// 监控
	p := ginprom.NewPrometheus("keyproxy")
	p.Use(r)

	r.Use(
		otelgin.Middleware(cfg.Name),
		middleware2.ReqId(),
		middleware2.Recover(),
		middleware2.RateLimit(store),
		middleware2.AccessToken(cfg.HTTP.AccessToken),
	)

	fwd := forward.New(cfg.Upstream.BaseURL, time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second)
	r.NoRoute(handler.Proxy(pool, fwd))

	s := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
		// 流式透传大响应，WriteTimeout 按上游超时放宽一点
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   time.Duration(cfg.Upstream.TimeoutSeconds+10) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}
