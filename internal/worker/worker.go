package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/portfolio-cache/internal/cache"
	"github.com/any-hub/portfolio-cache/internal/logging"
)

// State 描述 worker 生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

var (
	// ErrNotHandled 表示 worker 不处理该事件，宿主应直接走默认网络行为。
	ErrNotHandled = errors.New("event not handled by worker")
	// ErrInstallFailed 表示预缓存未全部完成，宿主需在下次加载时重试安装。
	ErrInstallFailed = errors.New("worker install failed")
	// ErrInvalidState 表示当前生命周期阶段不允许该操作。
	ErrInvalidState = errors.New("invalid worker state")
)

// Request 是 worker 看到的一次出站请求。URL 必须是绝对地址。
type Request struct {
	Method      string
	URL         string
	Destination Destination
	Header      http.Header
}

// Fetcher 执行真实的网络请求，返回完整读取正文后的响应快照。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// Clients 对应宿主中被 worker 控制的页面实例。
type Clients interface {
	Claim(ctx context.Context) error
	OpenWindow(ctx context.Context, url string) error
}

// Notifier 负责展示与关闭用户可见的通知。
type Notifier interface {
	Show(ctx context.Context, n Notification) (string, error)
	Close(ctx context.Context, id string) error
}

// Options 汇总 worker 的外部依赖，便于测试注入假实现。
type Options struct {
	Storage  cache.Storage
	Fetcher  Fetcher
	Clients  Clients
	Notifier Notifier
	Logger   *logrus.Logger
}

// Worker 实现 Dispatcher，所有状态都封装在实例内部。
type Worker struct {
	cfg      Config
	storage  cache.Storage
	fetcher  Fetcher
	clients  Clients
	notifier Notifier
	logger   *logrus.Logger
	now      func() time.Time

	lifecycleMu sync.Mutex
	stateMu     sync.RWMutex
	state       State
	skipWaiting bool

	background sync.WaitGroup
}

// ActivateResult 汇总激活阶段的清理结果；Failures 为逐个删除失败的合并错误。
type ActivateResult struct {
	Deleted  []string
	Kept     []string
	Failures error
}

// New 根据不可变配置构建 worker，初始状态为 parsed。
func New(cfg Config, opts Options) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Worker{
		cfg:      cfg.clone(),
		storage:  opts.Storage,
		fetcher:  opts.Fetcher,
		clients:  opts.Clients,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      time.Now,
		state:    StateParsed,
	}, nil
}

// Config 返回配置副本。
func (w *Worker) Config() Config {
	return w.cfg.clone()
}

// State 返回当前生命周期阶段。
func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// SkipWaiting 报告安装阶段是否已请求跳过等待期。
func (w *Worker) SkipWaiting() bool {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.skipWaiting
}

// Controlling 表示 worker 已激活并接管 fetch。
func (w *Worker) Controlling() bool {
	return w.State() == StateActivated
}

func (w *Worker) setState(state State) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()
}

// Register 执行宿主注册流程：未安装时安装，已安装且请求跳过等待时立即激活。
// 已激活时为空操作；安装失败返回错误，下次调用会重新尝试。
func (w *Worker) Register(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.State() == StateParsed {
		if err := w.install(ctx); err != nil {
			return err
		}
	}
	if w.State() == StateInstalled && w.SkipWaiting() {
		if _, err := w.activate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Install 预填充静态与动态缓存；两份清单都必须完整写入，否则整体失败。
func (w *Worker) Install(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	return w.install(ctx)
}

func (w *Worker) install(ctx context.Context) error {
	if state := w.State(); state != StateParsed {
		return fmt.Errorf("%w: install from %s", ErrInvalidState, state)
	}
	w.setState(StateInstalling)
	w.logger.WithFields(logging.LifecycleFields("install", w.cfg.Version)).Info("worker_installing")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.populate(gctx, w.cfg.StaticCacheName(), w.cfg.StaticURLs)
	})
	g.Go(func() error {
		return w.populate(gctx, w.cfg.DynamicCacheName(), w.cfg.DynamicURLs)
	})
	if err := g.Wait(); err != nil {
		w.setState(StateParsed)
		fields := logging.LifecycleFields("install", w.cfg.Version)
		fields["error"] = err.Error()
		w.logger.WithFields(fields).Error("worker_install_failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	w.stateMu.Lock()
	w.state = StateInstalled
	w.skipWaiting = true
	w.stateMu.Unlock()
	w.logger.WithFields(logging.LifecycleFields("install", w.cfg.Version)).Info("worker_installed")
	return nil
}

// populate 对应 cache.addAll：先并发拉取全部地址并确认状态码，再统一写入。
func (w *Worker) populate(ctx context.Context, name string, urls []string) error {
	store, err := w.storage.Open(ctx, name)
	if err != nil {
		return err
	}

	responses := make([]*cache.Response, len(urls))
	keys := make([]cache.Key, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range urls {
		g.Go(func() error {
			target, err := w.cfg.ResolveURL(raw)
			if err != nil {
				return err
			}
			resp, err := w.fetcher.Fetch(gctx, &Request{Method: http.MethodGet, URL: target})
			if err != nil {
				return fmt.Errorf("fetch %s: %w", target, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: unexpected status %d", target, resp.Status)
			}
			keys[i] = cache.NewKey(http.MethodGet, target)
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range keys {
		if err := store.Put(ctx, keys[i], responses[i]); err != nil {
			return fmt.Errorf("store %s in %s: %w", keys[i].URL, name, err)
		}
	}

	w.logger.WithFields(logrus.Fields{
		"action":  "lifecycle",
		"event":   "install",
		"store":   name,
		"entries": len(keys),
	}).Info("cache_populated")
	return nil
}

// Activate 删除所有非当前版本的缓存（保留旧名），随后接管全部页面实例。
// 单个缓存删除失败不会中断其余删除，也不会阻止激活。
func (w *Worker) Activate(ctx context.Context) (ActivateResult, error) {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	return w.activate(ctx)
}

func (w *Worker) activate(ctx context.Context) (ActivateResult, error) {
	if state := w.State(); state != StateInstalled {
		return ActivateResult{}, fmt.Errorf("%w: activate from %s", ErrInvalidState, state)
	}
	w.setState(StateActivating)
	w.logger.WithFields(logging.LifecycleFields("activate", w.cfg.Version)).Info("worker_activating")

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return ActivateResult{}, fmt.Errorf("list caches: %w", err)
	}

	keep := map[string]struct{}{
		w.cfg.StaticCacheName():  {},
		w.cfg.DynamicCacheName(): {},
		w.cfg.LegacyCacheName():  {},
	}

	type deletion struct {
		name    string
		deleted bool
		err     error
	}
	var (
		result ActivateResult
		stale  []string
	)
	for _, name := range names {
		if _, ok := keep[name]; ok {
			result.Kept = append(result.Kept, name)
			continue
		}
		stale = append(stale, name)
	}

	outcomes := make([]deletion, len(stale))
	var g errgroup.Group
	for i, name := range stale {
		g.Go(func() error {
			deleted, err := w.storage.Delete(ctx, name)
			outcomes[i] = deletion{name: name, deleted: deleted, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, outcome := range outcomes {
		if outcome.err != nil {
			w.logger.WithError(outcome.err).WithFields(logrus.Fields{
				"action": "lifecycle",
				"event":  "activate",
				"store":  outcome.name,
			}).Warn("cache_delete_failed")
			result.Failures = multierr.Append(result.Failures, fmt.Errorf("delete %s: %w", outcome.name, outcome.err))
			continue
		}
		if outcome.deleted {
			w.logger.WithFields(logrus.Fields{
				"action": "lifecycle",
				"event":  "activate",
				"store":  outcome.name,
			}).Info("cache_deleted")
			result.Deleted = append(result.Deleted, outcome.name)
		}
	}

	w.setState(StateActivated)

	if w.clients != nil {
		if err := w.clients.Claim(ctx); err != nil {
			w.logger.WithError(err).WithFields(logging.LifecycleFields("activate", w.cfg.Version)).Warn("clients_claim_failed")
			result.Failures = multierr.Append(result.Failures, fmt.Errorf("claim clients: %w", err))
		}
	}

	fields := logging.LifecycleFields("activate", w.cfg.Version)
	fields["deleted"] = result.Deleted
	fields["failures"] = len(multierr.Errors(result.Failures))
	w.logger.WithFields(fields).Info("worker_activated")
	return result, nil
}

// Wait 阻塞直到所有后台再验证任务结束，用于测试与优雅退出。
func (w *Worker) Wait() {
	w.background.Wait()
}
