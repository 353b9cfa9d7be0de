package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"keyproxy.com/internal/keyproxy/forward"
	"keyproxy.com/internal/keyproxy/keypool"
	"keyproxy.com/pkg/common"
	"keyproxy.com/pkg/logger"
	"keyproxy.com/pkg/metrics"
)

// 对外的终态文案。别带内部细节，状态码加一句人话就够了。
const (
	msgNoKeyAvailable   = "All API keys exhausted (quota exceeded)."
	msgRetriesExhausted = "Error: All API keys exhausted or invalid after retries."
	msgInternalError    = "Internal error in key rotator proxy."
)

// 流式回写的拷贝缓冲大小，上游响应可能很大，绝不整体读进内存
const relayBufSize = 8 * 1024

// Proxy 单条请求的控制循环：选 key → 转发 → 按结果收尾或换下一个 key。
// 重试次数以池子大小封顶，保证必然终止。
func Proxy(pool *keypool.Pool, fwd *forward.Forwarder) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := common.RequestIDFromGin(c)

		// 入站 body 一次性读完，重试时重放。
		// 上游的响应才是大头，那边保持流式。
		var body []byte
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			b, err := io.ReadAll(c.Request.Body)
			if err != nil {
				logger.Error(c, "read inbound body failed",
					zap.String("request_id", rid),
					zap.Error(err),
				)
				c.String(http.StatusInternalServerError, msgInternalError)
				return
			}
			body = b
		}

		// 每个 key 最多试一次的朴素上界。中途别的请求成功可能让冷却
		// 提前清掉，所以按次数封顶，不做排除集合。
		for attempt := 0; attempt < pool.Size(); attempt++ {
			idx, key, err := pool.Next()
			if err != nil {
				// 一把 key 都拿不出来，上游都不用碰
				logger.Warn(c, "no usable api key",
					zap.String("request_id", rid),
					zap.Int("attempt", attempt),
				)
				metrics.PoolExhaustedTotal.WithLabelValues("no_key").Inc()
				metrics.PoolAvailable.Set(float64(pool.Available()))
				c.String(http.StatusTooManyRequests, msgNoKeyAvailable)
				return
			}

			resp, err := fwd.Do(c.Request, body, key)
			if err != nil {
				// 网络层错误不归咎于 key，不换 key 重试，直接 500。
				// 分类都收在 forward.Exhausted 里，以后要改策略只动这一个分支。
				logger.Error(c, "upstream forwarding failed",
					zap.String("request_id", rid),
					zap.Int("key_index", idx),
					zap.Error(err),
				)
				metrics.UpstreamAttemptsTotal.WithLabelValues("error").Inc()
				c.String(http.StatusInternalServerError, msgInternalError)
				return
			}

			if forward.Exhausted(resp.StatusCode) {
				// 这把 key 配额见底或被拒，打入冷却换下一把
				resp.Body.Close()
				pool.MarkExhausted(idx)
				logger.Warn(c, "api key rejected by upstream",
					zap.String("request_id", rid),
					zap.Int("key_index", idx),
					zap.Int("status", resp.StatusCode),
				)
				metrics.UpstreamAttemptsTotal.WithLabelValues("exhausted").Inc()
				metrics.KeyExhaustedTotal.Inc()
				metrics.PoolAvailable.Set(float64(pool.Available()))
				continue
			}

			// 终态响应（2xx 或与 key 无关的 4xx/5xx），原样流式回写
			logger.Info(c, "upstream response relayed",
				zap.String("request_id", rid),
				zap.Int("key_index", idx),
				zap.Int("status", resp.StatusCode),
			)
			metrics.UpstreamAttemptsTotal.WithLabelValues("relayed").Inc()
			relay(c, resp)
			return
		}

		// 整个池子轮了一遍全被拒
		logger.Warn(c, "all api keys rejected after retries",
			zap.String("request_id", rid),
			zap.Int("attempts", pool.Size()),
		)
		metrics.PoolExhaustedTotal.WithLabelValues("retries").Inc()
		metrics.PoolAvailable.Set(float64(pool.Available()))
		c.String(http.StatusTooManyRequests, msgRetriesExhausted)
	}
}

// relay 把上游响应透传给调用方：剥掉上游自己的 CORS 头后强制 *，
// body 用固定大小缓冲流式拷贝。
func relay(c *gin.Context, resp *http.Response) {
	defer resp.Body.Close()

	header := c.Writer.Header()
	for name, values := range resp.Header {
		if http.CanonicalHeaderKey(name) == "Access-Control-Allow-Origin" {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	header.Set("Access-Control-Allow-Origin", "*")

	c.Status(resp.StatusCode)

	buf := make([]byte, relayBufSize)
	if _, err := io.CopyBuffer(c.Writer, resp.Body, buf); err != nil {
		// 头已经发出去了，只能记一笔。常见原因是调用方中途断开，
		// 这时 request context 取消，上游连接也跟着释放。
		logger.Warn(c, "relay interrupted",
			zap.String("request_id", common.RequestIDFromGin(c)),
			zap.Error(err),
		)
	}
}
