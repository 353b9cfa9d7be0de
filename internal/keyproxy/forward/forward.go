package forward

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// 转发时剥掉的入站头：Host 交给 http 客户端自己算，
// Cookie/Authorization 是调用方自己的凭证不能漏给上游，
// X-Access-Token 是代理自己的准入头。
var strippedHeaders = map[string]struct{}{
	"Host":           {},
	"Cookie":         {},
	"Authorization":  {},
	"X-Access-Token": {},
}

// 注入 key 的查询参数名，Gemini 风格的 ?key=xxx
const keyParam = "key"

// Forwarder 负责把一条入站请求原样转给固定上游，换上指定的 API key。
// 响应不在这里消费，交给调用方流式回写。
type Forwarder struct {
	client *http.Client
	base   string
}

// New 构造转发器。timeout 限制单次上游调用的总时长，
// 防止慢上游把 handler 协程吊死。
func New(base string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Forwarder{
		client: &http.Client{Timeout: timeout},
		base:   strings.TrimRight(base, "/"),
	}
}

// Do 用选中的 key 转发一次。body 是预先读好的入站请求体（重试时要重放，
// 不能直接用原始流），无体方法传 nil。
// ctx 用入站请求自己的 context：调用方断开时上游调用一起取消，不留悬挂连接。
func (f *Forwarder) Do(inbound *http.Request, body []byte, apiKey string) (*http.Response, error) {
	target := f.base + "/" + strings.TrimLeft(inbound.URL.Path, "/")

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(inbound.Context(), inbound.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	// 查询参数照抄，再塞进本次选中的 key
	q := inbound.URL.Query()
	q.Set(keyParam, apiKey)
	req.URL.RawQuery = q.Encode()

	// 头部照抄，剥掉黑名单
	for name, values := range inbound.Header {
		if _, drop := strippedHeaders[http.CanonicalHeaderKey(name)]; drop {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

// Exhausted 判断上游状态码是不是「这个 key 废了，换下一个」。
// 401/403/429 归为 key 问题；其余状态（包括 5xx）与 key 无关，原样透传。
func Exhausted(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	}
	return false
}
