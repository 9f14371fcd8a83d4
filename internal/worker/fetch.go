package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/portfolio-cache/internal/cache"
	"github.com/any-hub/portfolio-cache/internal/logging"
)

// FetchResult 描述 worker 对一次 fetch 的应答。
type FetchResult struct {
	Response *cache.Response
	Strategy Strategy
	Source   Source
	// Store 为命中或写入的缓存名，纯网络应答且未写缓存时为空。
	Store string
}

// Fetch 处理一次被拦截的请求。非 GET 或尚未激活时返回 ErrNotHandled，且不会触碰任何缓存。
func (w *Worker) Fetch(ctx context.Context, req *Request) (*FetchResult, error) {
	if req == nil || req.Method != http.MethodGet {
		return nil, ErrNotHandled
	}
	if !w.Controlling() {
		return nil, ErrNotHandled
	}

	strategy := Classify(req.Destination)
	switch strategy {
	case StrategyCacheFirst:
		return w.cacheFirst(ctx, req)
	default:
		return w.networkFirst(ctx, req)
	}
}

// cacheFirst 命中时立即返回缓存并在后台刷新静态缓存；未命中时回源并写入静态缓存。
func (w *Worker) cacheFirst(ctx context.Context, req *Request) (*FetchResult, error) {
	key := cache.NewKey(req.Method, req.URL)
	cached, storeName, err := w.match(ctx, key)
	if err == nil {
		w.revalidate(ctx, req)
		w.logFetch(req, StrategyCacheFirst, SourceCache, storeName, true, nil)
		return &FetchResult{Response: cached, Strategy: StrategyCacheFirst, Source: SourceCache, Store: storeName}, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		w.logger.WithError(err).WithField("url", req.URL).Warn("cache_match_failed")
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		w.logFetch(req, StrategyCacheFirst, SourceNetwork, "", false, err)
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}

	result := &FetchResult{Response: resp, Strategy: StrategyCacheFirst, Source: SourceNetwork}
	if resp.Status == http.StatusOK {
		name := w.cfg.StaticCacheName()
		if w.put(ctx, name, key, resp.Clone()) {
			result.Store = name
		}
	}
	w.logFetch(req, StrategyCacheFirst, SourceNetwork, result.Store, false, nil)
	return result, nil
}

// networkFirst 优先回源并把 200 响应写入动态缓存；网络失败时回退到已有缓存。
func (w *Worker) networkFirst(ctx context.Context, req *Request) (*FetchResult, error) {
	key := cache.NewKey(req.Method, req.URL)
	resp, fetchErr := w.fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		result := &FetchResult{Response: resp, Strategy: StrategyNetworkFirst, Source: SourceNetwork}
		if resp.Status == http.StatusOK {
			name := w.cfg.DynamicCacheName()
			if w.put(ctx, name, key, resp.Clone()) {
				result.Store = name
			}
		}
		w.logFetch(req, StrategyNetworkFirst, SourceNetwork, result.Store, false, nil)
		return result, nil
	}

	cached, storeName, err := w.match(ctx, key)
	if err != nil {
		w.logFetch(req, StrategyNetworkFirst, SourceNetwork, "", false, fetchErr)
		return nil, fmt.Errorf("fetch %s: %w", req.URL, fetchErr)
	}
	w.logFetch(req, StrategyNetworkFirst, SourceCache, storeName, true, nil)
	return &FetchResult{Response: cached, Strategy: StrategyNetworkFirst, Source: SourceCache, Store: storeName}, nil
}

// revalidate 在后台重新拉取请求并覆盖静态缓存；调用方不等待，失败静默忽略。
func (w *Worker) revalidate(parent context.Context, req *Request) {
	fresh := *req
	fresh.Header = req.Header.Clone()

	w.background.Add(1)
	go func() {
		defer w.background.Done()

		ctx := context.WithoutCancel(parent)
		if w.cfg.RevalidateTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, w.cfg.RevalidateTimeout)
			defer cancel()
		}

		resp, err := w.fetcher.Fetch(ctx, &fresh)
		if err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action": "revalidate",
				"url":    fresh.URL,
			}).Debug("revalidate_failed")
			return
		}
		if resp.Status != http.StatusOK {
			w.logger.WithFields(logrus.Fields{
				"action":          "revalidate",
				"url":             fresh.URL,
				"upstream_status": resp.Status,
			}).Debug("revalidate_skipped")
			return
		}
		w.put(ctx, w.cfg.StaticCacheName(), cache.NewKey(fresh.Method, fresh.URL), resp)
	}()
}

// match 依次在当前静态缓存、当前动态缓存与旧缓存中查找，不会创建缺失的缓存。
func (w *Worker) match(ctx context.Context, key cache.Key) (*cache.Response, string, error) {
	for _, name := range w.lookupOrder() {
		exists, err := w.storage.Has(ctx, name)
		if err != nil {
			return nil, "", err
		}
		if !exists {
			continue
		}
		store, err := w.storage.Open(ctx, name)
		if err != nil {
			return nil, "", err
		}
		resp, err := store.Match(ctx, key)
		if err == nil {
			return resp, name, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, "", cache.ErrNotFound
}

func (w *Worker) lookupOrder() []string {
	return []string{
		w.cfg.StaticCacheName(),
		w.cfg.DynamicCacheName(),
		w.cfg.LegacyCacheName(),
	}
}

// put 写入缓存；失败只记录日志，不影响已经拿到的网络响应。
func (w *Worker) put(ctx context.Context, name string, key cache.Key, resp *cache.Response) bool {
	store, err := w.storage.Open(ctx, name)
	if err == nil {
		err = store.Put(ctx, key, resp)
	}
	if err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_put",
			"store":  name,
			"url":    key.URL,
		}).Warn("cache_put_failed")
		return false
	}
	return true
}

func (w *Worker) logFetch(req *Request, strategy Strategy, source Source, store string, cacheHit bool, err error) {
	fields := logging.RequestFields(store, string(req.Destination), string(strategy), string(source), cacheHit)
	fields["action"] = "fetch"
	fields["url"] = req.URL
	if err != nil {
		fields["error"] = err.Error()
		w.logger.WithFields(fields).Warn("fetch_failed")
		return
	}
	w.logger.WithFields(fields).Debug("fetch_complete")
}
