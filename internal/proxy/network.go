package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/any-hub/portfolio-cache/internal/cache"
	"github.com/any-hub/portfolio-cache/internal/server"
	"github.com/any-hub/portfolio-cache/internal/worker"
)

// 条件请求与分段请求会让上游返回 304/206，worker 需要的是完整快照。
var strippedFetchHeaders = []string{
	"Host",
	"Accept-Encoding",
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// NetworkFetcher 实现 worker.Fetcher：经共享 http.Client 回源并完整读取正文。
type NetworkFetcher struct {
	client *http.Client
}

// NewNetworkFetcher 使用 server.NewUpstreamClient 创建的客户端。
func NewNetworkFetcher(client *http.Client) *NetworkFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &NetworkFetcher{client: client}
}

// Fetch 发起请求并返回响应快照；非 2xx 状态不是错误，由 worker 决定是否缓存。
func (f *NetworkFetcher) Fetch(ctx context.Context, req *worker.Request) (*cache.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	for _, key := range strippedFetchHeaders {
		httpReq.Header.Del(key)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
		URL:    finalURL,
	}, nil
}

var _ worker.Fetcher = (*NetworkFetcher)(nil)
