package server

import (
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/any-hub/portfolio-cache/internal/config"
	"github.com/any-hub/portfolio-cache/internal/version"
)

// 回源与预缓存共用的连接池参数；响应头超时由 UpstreamTimeout 决定。
func newTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewUpstreamClient 返回 worker 回源用的 http.Client。
// 整体超时取 UpstreamTimeout 与 RevalidateTimeout 中较大者，
// 后台再验证自身的截止时间由 worker 通过 context 控制，不会被客户端提前截断。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	headerTimeout := 30 * time.Second
	timeout := headerTimeout
	agent := version.Full()
	if cfg != nil {
		if d := cfg.Global.UpstreamTimeout.DurationValue(); d > 0 {
			headerTimeout = d
			timeout = d
		}
		if d := cfg.Global.RevalidateTimeout.DurationValue(); d > timeout {
			timeout = d
		}
		if cfg.Worker.Version != "" {
			agent = fmt.Sprintf("%s worker/%s", agent, cfg.Worker.Version)
		}
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &userAgentTransport{
			base:  newTransport(headerTimeout),
			agent: agent,
		},
	}
}

// userAgentTransport 为未声明 User-Agent 的回源请求补上服务标识。
type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	cloned := req.Clone(req.Context())
	cloned.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(cloned)
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := hopByHopHeaders[canonical]; ok {
		return true
	}

	return false
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	return isHopByHopHeader(key)
}
