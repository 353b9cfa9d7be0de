package config

import "strings"

// 总配置
type ProxyConfig struct {
	Name      string          `mapstructure:"name" json:"name" yaml:"name"`
	LogLevel  string          `mapstructure:"logLevel" json:"log_level" yaml:"logLevel"`
	HTTP      HTTPConfig      `mapstructure:"http" json:"http" yaml:"http"`
	Upstream  UpstreamConfig  `mapstructure:"upstream" json:"upstream" yaml:"upstream"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit" json:"rate_limit" yaml:"rateLimit"`
	Trace     TraceConfig     `mapstructure:"trace" json:"trace" yaml:"trace"`
}

// HTTP 入口配置
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// 代理自己的准入令牌，空表示不启用门禁
	AccessToken string `mapstructure:"accessToken" yaml:"accessToken"`
}

// 上游配置
type UpstreamConfig struct {
	// 固定的上游源，默认 Gemini
	BaseURL string `mapstructure:"baseUrl" yaml:"baseUrl"`
	// API key 列表。绝不硬编码进源码——yaml 留空，
	// 用 KEY_PROXY_UPSTREAM_APIKEYS 注入（逗号分隔）
	APIKeys []string `mapstructure:"apiKeys" yaml:"apiKeys"`
	// 单把 key 被拒后的冷却秒数
	CooldownSeconds int `mapstructure:"cooldownSeconds" yaml:"cooldownSeconds"`
	// 单次上游调用的超时秒数
	TimeoutSeconds int `mapstructure:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// 入口限流配置
type RateLimitConfig struct {
	Rate  float64 `mapstructure:"rate" yaml:"rate"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

type TraceConfig struct {
	// OTLP gRPC 地址，空表示不启用追踪
	Host string `mapstructure:"host" yaml:"host"`
}

// 没配置的项给默认值
func (c *ProxyConfig) FillDefaults() {
	if c.Name == "" {
		c.Name = "key-proxy"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if c.Upstream.CooldownSeconds <= 0 {
		c.Upstream.CooldownSeconds = 3600
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.RateLimit.Rate <= 0 {
		c.RateLimit.Rate = 100
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 200
	}
}

// Keys 返回展开后的 key 列表。
// viper 的环境变量覆盖进来是一整条字符串，这里按逗号拆开并去掉空白项。
func (c *ProxyConfig) Keys() []string {
	var keys []string
	for _, raw := range c.Upstream.APIKeys {
		for _, k := range strings.Split(raw, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}
