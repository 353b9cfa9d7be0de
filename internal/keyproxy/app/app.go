package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	proxyConfig "keyproxy.com/internal/keyproxy/config"
	ghttp "keyproxy.com/internal/keyproxy/http"
	"keyproxy.com/internal/keyproxy/keypool"
	vipConfig "keyproxy.com/pkg/config"
	"keyproxy.com/pkg/logger"
	"keyproxy.com/pkg/metrics"
	"keyproxy.com/pkg/trace"
)

// 环境变量兜底：viper 对没出现在 yaml 里的嵌套 key 不一定吃得到 AutomaticEnv，
// 密钥这种只走环境变量的配置显式再读一次
const envAPIKeys = "KEY_PROXY_UPSTREAM_APIKEYS"

type App struct {
	ctx           context.Context
	cfg           proxyConfig.ProxyConfig
	pool          *keypool.Pool
	traceShutdown func(context.Context) error
}

func New(configName string) (*App, error) {
	var cfg = &proxyConfig.ProxyConfig{}
	if configName == "" {
		configName = "key-proxy"
	}
	if _, err := vipConfig.LoadAndWatch(configName, cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.FillDefaults()

	if raw := os.Getenv(envAPIKeys); raw != "" {
		cfg.Upstream.APIKeys = []string{raw}
	}

	app := &App{
		cfg: *cfg,
	}
	return app, nil
}

// StartService 初始化日志、追踪、key 池和监控，返回退出时的清理函数。
// key 池是空的就直接报错，别带病启动。
func (app *App) StartService(ctx context.Context) (func(), error) {
	logger.Init(app.cfg.Name, app.cfg.LogLevel)

	app.ctx = ctx

	keys := app.cfg.Keys()
	pool, err := keypool.New(keys, time.Duration(app.cfg.Upstream.CooldownSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("init key pool: %w", err)
	}
	app.pool = pool

	metrics.MustRegister()
	metrics.PoolAvailable.Set(float64(pool.Available()))

	// 追踪是可选的，没配采集端就不起
	if app.cfg.Trace.Host != "" {
		shutdown, err := trace.InitTrace(app.cfg.Name, app.cfg.Trace.Host)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		app.traceShutdown = shutdown
	}

	logger.Info(ctx, "key proxy initialized",
		zap.Int("pool_size", pool.Size()),
		zap.String("upstream", app.cfg.Upstream.BaseURL),
		zap.Bool("access_gate", app.cfg.HTTP.AccessToken != ""),
		zap.Int("cooldown_seconds", app.cfg.Upstream.CooldownSeconds),
	)

	cleanUp := func() {
		if app.traceShutdown != nil {
			_ = app.traceShutdown(ctx)
		}
		logger.Sync()
	}
	return cleanUp, nil
}

func (app *App) StartHttp() *http.Server {
	return ghttp.NewRouter(app.ctx, app.cfg, app.pool)
}
