package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// 上游转发次数，outcome: relayed / exhausted / error
	UpstreamAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyproxy",
			Name:      "upstream_attempts_total",
			Help:      "Total number of upstream forwarding attempts.",
		},
		[]string{"outcome"},
	)

	// key 被判定为耗尽（401/403/429）并进入冷却的次数
	KeyExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keyproxy",
			Name:      "key_exhausted_total",
			Help:      "Total number of keys put into cooldown after a quota/auth rejection.",
		},
	)

	// 当前可用（未冷却）的 key 数量
	PoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keyproxy",
			Name:      "pool_available",
			Help:      "Number of keys currently usable (not cooling down).",
		},
	)

	// 整条请求以 429 收尾的次数，reason: no_key / retries
	PoolExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keyproxy",
			Name:      "pool_exhausted_total",
			Help:      "Total number of requests rejected because the whole pool was exhausted.",
		},
		[]string{"reason"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		UpstreamAttemptsTotal,
		KeyExhaustedTotal,
		PoolAvailable,
		PoolExhaustedTotal,
	)
}
