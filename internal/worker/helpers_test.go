package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/portfolio-cache/internal/cache"
)

const testOrigin = "https://portfolio.example.com"

var errNetworkDown = errors.New("network down")

type fakeReply struct {
	status int
	body   string
	err    error
}

// fakeFetcher answers from a URL → reply table and records every call.
type fakeFetcher struct {
	mu      sync.Mutex
	replies map[string]fakeReply
	calls   []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{replies: make(map[string]fakeReply)}
}

func (f *fakeFetcher) set(url string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[url] = fakeReply{status: status, body: body}
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[url] = fakeReply{err: err}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	reply, ok := f.replies[req.URL]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNetworkDown
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &cache.Response{
		Status: reply.status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(reply.body),
		URL:    req.URL,
	}, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if call == url {
			n++
		}
	}
	return n
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeClients struct {
	mu       sync.Mutex
	claimed  int
	opened   []string
	claimErr error
}

func (c *fakeClients) Claim(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed++
	return c.claimErr
}

func (c *fakeClients) OpenWindow(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, url)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []Notification
	closed []string
}

func (n *fakeNotifier) Show(_ context.Context, notification Notification) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, notification)
	return "n-1", nil
}

func (n *fakeNotifier) Close(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, id)
	return nil
}

// failingStorage fails Delete for the listed cache names.
type failingStorage struct {
	cache.Storage
	failDelete map[string]bool
}

func (s *failingStorage) Delete(ctx context.Context, name string) (bool, error) {
	if s.failDelete[name] {
		return false, errors.New("permission denied")
	}
	return s.Storage.Delete(ctx, name)
}

// spyStorage counts every call that reaches the storage layer.
type spyStorage struct {
	cache.Storage
	calls atomic.Int64
}

func (s *spyStorage) Open(ctx context.Context, name string) (cache.Store, error) {
	s.calls.Add(1)
	return s.Storage.Open(ctx, name)
}

func (s *spyStorage) Has(ctx context.Context, name string) (bool, error) {
	s.calls.Add(1)
	return s.Storage.Has(ctx, name)
}

func (s *spyStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.calls.Add(1)
	return s.Storage.Delete(ctx, name)
}

func (s *spyStorage) Keys(ctx context.Context) ([]string, error) {
	s.calls.Add(1)
	return s.Storage.Keys(ctx)
}

func testConfig() Config {
	return Config{
		Version:       "2.0.0",
		StaticPrefix:  "static",
		DynamicPrefix: "dynamic",
		LegacyPrefix:  "portfolio",
		Origin:        testOrigin,
		StaticURLs:    []string{"/", "/index.html", "/styles.css", "/script.js"},
		DynamicURLs:   []string{"https://images.unsplash.com/photo-1?w=400"},
		SyncTags:      []string{"background-sync"},
		Push: PushOptions{
			Title:       "Gourav Jain Portfolio",
			DefaultBody: "New update available!",
			Icon:        "/image.png",
			Badge:       "/image.png",
			Vibrate:     []int{100, 50, 100},
			OpenURL:     "/",
		},
		RevalidateTimeout: time.Second,
	}
}

// seedManifest makes every manifest URL of cfg fetchable.
func seedManifest(f *fakeFetcher, cfg Config) {
	for _, raw := range append(append([]string(nil), cfg.StaticURLs...), cfg.DynamicURLs...) {
		target, _ := cfg.ResolveURL(raw)
		f.set(target, http.StatusOK, "v1:"+target)
	}
}

func newTestStorage(t *testing.T) cache.Storage {
	t.Helper()
	storage, err := cache.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	return storage
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testHarness struct {
	worker   *Worker
	storage  cache.Storage
	fetcher  *fakeFetcher
	clients  *fakeClients
	notifier *fakeNotifier
}

func newHarness(t *testing.T, storage cache.Storage) *testHarness {
	t.Helper()
	if storage == nil {
		storage = newTestStorage(t)
	}
	cfg := testConfig()
	h := &testHarness{
		storage:  storage,
		fetcher:  newFakeFetcher(),
		clients:  &fakeClients{},
		notifier: &fakeNotifier{},
	}
	seedManifest(h.fetcher, cfg)

	w, err := New(cfg, Options{
		Storage:  storage,
		Fetcher:  h.fetcher,
		Clients:  h.clients,
		Notifier: h.notifier,
		Logger:   newTestLogger(),
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	h.worker = w
	return h
}

// newActiveHarness returns a worker that has completed install + activate.
func newActiveHarness(t *testing.T) *testHarness {
	t.Helper()
	h := newHarness(t, nil)
	if err := h.worker.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !h.worker.Controlling() {
		t.Fatalf("worker should control after register, state=%s", h.worker.State())
	}
	return h
}

func (h *testHarness) storeKeys(t *testing.T, name string) []cache.Key {
	t.Helper()
	store, err := h.storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	keys, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys %s: %v", name, err)
	}
	return keys
}

func (h *testHarness) stored(t *testing.T, name, url string) (*cache.Response, bool) {
	t.Helper()
	store, err := h.storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	resp, err := store.Match(context.Background(), cache.NewKey(http.MethodGet, url))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		t.Fatalf("match %s: %v", url, err)
	}
	return resp, true
}
