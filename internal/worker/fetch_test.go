package worker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/any-hub/portfolio-cache/internal/cache"
)

func getRequest(url string, dest Destination) *Request {
	return &Request{Method: http.MethodGet, URL: url, Destination: dest}
}

func TestCacheFirstHitRevalidatesInBackground(t *testing.T) {
	h := newActiveHarness(t)
	target := testOrigin + "/script.js"
	h.fetcher.set(target, http.StatusOK, "v2:"+target)

	result, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationScript))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Source != SourceCache || result.Strategy != StrategyCacheFirst {
		t.Fatalf("expected cache-first hit, got %s/%s", result.Strategy, result.Source)
	}
	if result.Store != "static-v2.0.0" {
		t.Fatalf("unexpected store %s", result.Store)
	}
	if string(result.Response.Body) != "v1:"+target {
		t.Fatalf("cached body should be returned unchanged, got %s", string(result.Response.Body))
	}

	h.worker.Wait()
	if got := h.fetcher.count(target); got != 2 {
		t.Fatalf("expected install fetch plus one revalidation, got %d", got)
	}
	stored, ok := h.stored(t, "static-v2.0.0", target)
	if !ok || string(stored.Body) != "v2:"+target {
		t.Fatalf("revalidation should refresh the static store, got %+v", stored)
	}
}

func TestCacheFirstRevalidationFailureIsSilent(t *testing.T) {
	h := newActiveHarness(t)
	target := testOrigin + "/styles.css"
	h.fetcher.fail(target, errNetworkDown)

	result, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationStyle))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Source != SourceCache {
		t.Fatalf("expected cached response, got %s", result.Source)
	}
	h.worker.Wait()

	stored, ok := h.stored(t, "static-v2.0.0", target)
	if !ok || string(stored.Body) != "v1:"+target {
		t.Fatalf("failed revalidation must keep the old entry, got %+v", stored)
	}
}

func TestCacheFirstRevalidationSkipsNonOK(t *testing.T) {
	h := newActiveHarness(t)
	target := testOrigin + "/index.html"
	h.fetcher.set(target, http.StatusServiceUnavailable, "down")

	if _, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationDocument)); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	h.worker.Wait()

	stored, ok := h.stored(t, "static-v2.0.0", target)
	if !ok || stored.Status != http.StatusOK || string(stored.Body) != "v1:"+target {
		t.Fatalf("non-200 revalidation must not overwrite cache, got %+v", stored)
	}
}

func TestCacheFirstMissStoresInStatic(t *testing.T) {
	h := newActiveHarness(t)
	target := testOrigin + "/about.html"
	h.fetcher.set(target, http.StatusOK, "about")

	result, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationDocument))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Source != SourceNetwork || result.Store != "static-v2.0.0" {
		t.Fatalf("expected network response stored in static, got %s/%s", result.Source, result.Store)
	}
	if string(result.Response.Body) != "about" {
		t.Fatalf("unexpected body %s", string(result.Response.Body))
	}
	stored, ok := h.stored(t, "static-v2.0.0", target)
	if !ok || string(stored.Body) != "about" {
		t.Fatalf("miss should be written to static store")
	}
	if _, ok := h.stored(t, "dynamic-v2.0.0", target); ok {
		t.Fatalf("cache-first miss must not touch dynamic store")
	}
}

func TestCacheFirstDefaultDestination(t *testing.T) {
	h := newActiveHarness(t)
	target := testOrigin + "/data.json"
	h.fetcher.set(target, http.StatusOK, "{}")

	result, err := h.worker.Fetch(context.Background(), getRequest(target, ParseDestination("empty")))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Strategy != StrategyCacheFirst || result.Store != "static-v2.0.0" {
		t.Fatalf("default destination should be cache-first into static, got %s/%s", result.Strategy, result.Store)
	}
}

func TestCacheFirstMissDoesNotCacheNonOK(t *testing.T) {
	h := newActiveHarness(t)
	target := testOrigin + "/missing.html"
	h.fetcher.set(target, http.StatusNotFound, "nope")

	result, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationDocument))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Response.Status != http.StatusNotFound || result.Store != "" {
		t.Fatalf("404 should be passed through uncached, got %d/%s", result.Response.Status, result.Store)
	}
	if _, ok := h.stored(t, "static-v2.0.0", target); ok {
		t.Fatalf("404 must not be cached")
	}
}

func TestCacheFirstMissWithNetworkFailure(t *testing.T) {
	h := newActiveHarness(t)
	target := testOrigin + "/offline.js"

	_, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationScript))
	if !errors.Is(err, errNetworkDown) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestNetworkFirstStoresInDynamic(t *testing.T) {
	h := newActiveHarness(t)
	target := "https://images.unsplash.com/photo-2?w=400"
	h.fetcher.set(target, http.StatusOK, "png")

	result, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationImage))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Strategy != StrategyNetworkFirst || result.Source != SourceNetwork || result.Store != "dynamic-v2.0.0" {
		t.Fatalf("unexpected result %+v", result)
	}
	stored, ok := h.stored(t, "dynamic-v2.0.0", target)
	if !ok || string(stored.Body) != "png" {
		t.Fatalf("image should be stored in dynamic store")
	}
	if _, ok := h.stored(t, "static-v2.0.0", target); ok {
		t.Fatalf("network-first must not write static store")
	}
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	h := newActiveHarness(t)
	target := "https://images.unsplash.com/photo-1?w=400"
	h.fetcher.fail(target, errNetworkDown)

	result, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationImage))
	if err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if result.Source != SourceCache || result.Store != "dynamic-v2.0.0" {
		t.Fatalf("expected dynamic cache fallback, got %s/%s", result.Source, result.Store)
	}
	if string(result.Response.Body) != "v1:"+target {
		t.Fatalf("unexpected fallback body %s", string(result.Response.Body))
	}
}

func TestNetworkFirstFallbackSearchesAllStores(t *testing.T) {
	h := newActiveHarness(t)
	ctx := context.Background()
	target := testOrigin + "/fonts/inter.woff2"

	legacy, err := h.storage.Open(ctx, "portfolio-v2.0.0")
	if err != nil {
		t.Fatalf("open legacy: %v", err)
	}
	if err := legacy.Put(ctx, cache.NewKey(http.MethodGet, target), &cache.Response{Status: http.StatusOK, Body: []byte("font")}); err != nil {
		t.Fatalf("seed legacy: %v", err)
	}

	result, err := h.worker.Fetch(ctx, getRequest(target, Destination("font")))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Store != "portfolio-v2.0.0" || string(result.Response.Body) != "font" {
		t.Fatalf("expected legacy store match, got %s/%s", result.Store, string(result.Response.Body))
	}
}

func TestNetworkFirstFailureWithoutCache(t *testing.T) {
	h := newActiveHarness(t)
	_, err := h.worker.Fetch(context.Background(), getRequest("https://images.unsplash.com/never", DestinationImage))
	if !errors.Is(err, errNetworkDown) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestNetworkFirstDoesNotCacheNonOK(t *testing.T) {
	h := newActiveHarness(t)
	target := "https://images.unsplash.com/photo-3"
	h.fetcher.set(target, http.StatusInternalServerError, "boom")

	result, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationImage))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if result.Response.Status != http.StatusInternalServerError || result.Store != "" {
		t.Fatalf("500 should pass through uncached")
	}
	if _, ok := h.stored(t, "dynamic-v2.0.0", target); ok {
		t.Fatalf("500 must not be cached")
	}
}

func TestNonGETIsNotHandled(t *testing.T) {
	base := newTestStorage(t)
	spy := &spyStorage{Storage: base}
	h := newHarness(t, spy)
	if err := h.worker.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	spy.calls.Store(0)
	fetches := h.fetcher.total()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead} {
		req := &Request{Method: method, URL: testOrigin + "/api/contact", Destination: DestinationDefault}
		if _, err := h.worker.Fetch(context.Background(), req); !errors.Is(err, ErrNotHandled) {
			t.Fatalf("%s should not be handled, got %v", method, err)
		}
	}
	if spy.calls.Load() != 0 {
		t.Fatalf("non-GET requests must not touch storage, got %d calls", spy.calls.Load())
	}
	if h.fetcher.total() != fetches {
		t.Fatalf("non-GET requests must not be fetched by the worker")
	}
}

func TestFetchBeforeActivationIsNotHandled(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.worker.Fetch(context.Background(), getRequest(testOrigin+"/", DestinationDocument))
	if !errors.Is(err, ErrNotHandled) {
		t.Fatalf("expected ErrNotHandled before activation, got %v", err)
	}
	if h.fetcher.total() != 0 {
		t.Fatalf("uncontrolled fetch must not reach network through worker")
	}
}

func TestCachedResponseIsIsolatedFromCaller(t *testing.T) {
	h := newActiveHarness(t)
	target := "https://images.unsplash.com/photo-4"
	h.fetcher.set(target, http.StatusOK, "abcd")

	result, err := h.worker.Fetch(context.Background(), getRequest(target, DestinationImage))
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	result.Response.Body[0] = 'z'

	stored, ok := h.stored(t, "dynamic-v2.0.0", target)
	if !ok || string(stored.Body) != "abcd" {
		t.Fatalf("stored snapshot must not alias returned body, got %+v", stored)
	}
}
