package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/portfolio-cache/internal/logging"
	"github.com/any-hub/portfolio-cache/internal/server"
	"github.com/any-hub/portfolio-cache/internal/worker"
)

const (
	headerCacheSource   = "X-Portfolio-Cache-Source"
	headerCacheStrategy = "X-Portfolio-Cache-Strategy"
	headerCacheStore    = "X-Portfolio-Cache-Store"

	// strategyBypass 标记 worker 未接管、直接透传的请求。
	strategyBypass = "bypass"
)

// Handler 把每个路由到的请求转换为 worker 的 fetch 事件；worker 不接管时直接透传上游。
type Handler struct {
	worker     *worker.Worker
	client     *http.Client
	logger     *logrus.Logger
	workerPath string
}

// NewHandler 构造 Handler；workerPath 为站点上的注册脚本路径（默认 /sw.js）。
func NewHandler(w *worker.Worker, client *http.Client, logger *logrus.Logger, workerPath string) *Handler {
	if workerPath == "" {
		workerPath = "/sw.js"
	}
	return &Handler{
		worker:     w,
		client:     client,
		logger:     logger,
		workerPath: workerPath,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := requestPath(c)
	target := route.Resolve(path, string(c.Request().URI().QueryString()))

	if route.Site && path == h.workerPath {
		return h.serveWorkerScript(ctx, c, route, target, requestID, started)
	}

	req := &worker.Request{
		Method:      c.Method(),
		URL:         target,
		Destination: worker.ParseDestination(c.Get("Sec-Fetch-Dest")),
		Header:      fiberHeadersAsHTTP(c),
	}

	result, err := h.worker.Fetch(ctx, req)
	switch {
	case errors.Is(err, worker.ErrNotHandled):
		return h.passthrough(ctx, c, route, target, requestID, started, nil)
	case err != nil:
		h.logResult(route, req, "", "", "", target, requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	c.Set(headerCacheSource, string(result.Source))
	c.Set(headerCacheStrategy, string(result.Strategy))
	if result.Store != "" {
		c.Set(headerCacheStore, result.Store)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	h.logResult(route, req, string(result.Strategy), string(result.Source), result.Store, target, requestID,
		resp.Status, result.Source == worker.SourceCache, started, nil)
	return c.Status(resp.Status).Send(resp.Body)
}

// serveWorkerScript 每次命中注册路径都会触发幂等注册，之后把脚本本身透传给页面。
func (h *Handler) serveWorkerScript(
	ctx context.Context,
	c fiber.Ctx,
	route *server.OriginRoute,
	target string,
	requestID string,
	started time.Time,
) error {
	fields := logging.LifecycleFields("register", h.worker.Config().Version)
	fields["request_id"] = requestID
	if err := h.worker.Register(ctx); err != nil {
		h.logger.WithFields(fields).WithError(err).Warn("worker_register_failed")
	} else {
		fields["state"] = string(h.worker.State())
		h.logger.WithFields(fields).Debug("worker_registered")
	}

	return h.passthrough(ctx, c, route, target, requestID, started, func(c fiber.Ctx) {
		c.Set("Service-Worker-Allowed", "/")
		c.Set(fiber.HeaderCacheControl, "no-cache")
	})
}

// passthrough 直接回源并流式返回，不读写任何缓存。
func (h *Handler) passthrough(
	ctx context.Context,
	c fiber.Ctx,
	route *server.OriginRoute,
	target string,
	requestID string,
	started time.Time,
	decorate func(fiber.Ctx),
) error {
	req := &worker.Request{Method: c.Method(), URL: target, Destination: worker.ParseDestination(c.Get("Sec-Fetch-Dest"))}

	upstreamReq, err := http.NewRequestWithContext(ctx, c.Method(), target, bytesReader(c.Body()))
	if err != nil {
		h.logResult(route, req, strategyBypass, string(worker.SourceNetwork), "", target, requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	server.CopyHeaders(upstreamReq.Header, fiberHeadersAsHTTP(c))
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Header.Del("Host")

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		h.logResult(route, req, strategyBypass, string(worker.SourceNetwork), "", target, requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(headerCacheSource, string(worker.SourceNetwork))
	c.Set(headerCacheStrategy, strategyBypass)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	if decorate != nil {
		decorate(c)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(route, req, strategyBypass, string(worker.SourceNetwork), "", target, requestID, resp.StatusCode, false, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, req, strategyBypass, string(worker.SourceNetwork), "", target, requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.OriginRoute,
	req *worker.Request,
	strategy string,
	source string,
	store string,
	upstream string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(store, string(req.Destination), strategy, source, cacheHit)
	fields["action"] = "proxy"
	fields["host"] = route.Host
	fields["method"] = req.Method
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 跳过 hop-by-hop 与 Content-Length，后者由 fasthttp 按正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
