// Package repository provides unit tests for the read/write facade.
package repository

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/driftsync/driftsync/internal/cache"
	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/connectivity"
	"github.com/driftsync/driftsync/internal/db"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/logging"
	"github.com/driftsync/driftsync/internal/models"
	"github.com/driftsync/driftsync/internal/sync/drain"
	"github.com/driftsync/driftsync/internal/sync/executor"
	"github.com/driftsync/driftsync/internal/sync/queue"
	"github.com/driftsync/driftsync/internal/sync/retry"
	"github.com/driftsync/driftsync/internal/telemetry"
	"github.com/driftsync/driftsync/internal/uuid"
)

// fakeStates reports a fixed connectivity classification.
type fakeStates struct {
	mu    sync.Mutex
	state connectivity.State
}

func (f *fakeStates) State() connectivity.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStates) set(s connectivity.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// fakeTransport returns one scripted response and records calls. A non-zero
// delay makes it wait, honoring context cancellation.
type fakeTransport struct {
	mu       sync.Mutex
	status   int
	body     []byte
	err      error
	delay    time.Duration
	calls    int
	lastPath string
}

func (f *fakeTransport) Send(ctx context.Context, method, path string, body []byte,
	headers map[string]string) (*executor.Response, error) {
	f.mu.Lock()
	f.calls++
	f.lastPath = path
	delay, status, respBody, err := f.delay, f.status, f.body, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &executor.Response{StatusCode: status, Body: respBody}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// staticCreds always yields the same token.
type staticCreds struct{}

func (staticCreds) CurrentToken(ctx context.Context) (string, error) { return "test-token", nil }
func (staticCreds) ForceRefresh(ctx context.Context) (string, error) { return "test-token", nil }

func testLogger() *logging.Logger {
	return logging.New(io.Discard, logging.LevelError)
}

// testHarness bundles the facade with the collaborators tests poke at.
type testHarness struct {
	repo      *Repository
	states    *fakeStates
	transport *fakeTransport
	cache     *cache.Cache
	store     *queue.Store
	exec      *executor.Executor
	cfg       *config.Config
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	dbRepo := db.NewRepository(database.DB)
	t.Cleanup(func() { dbRepo.Close() })

	logger := testLogger()
	cfg := config.Default()
	states := &fakeStates{state: connectivity.Online}
	transport := &fakeTransport{status: 200, body: []byte(`{}`)}
	c := cache.New(dbRepo, logger)
	store := queue.NewStore(dbRepo, cfg.MaxQueueSize, logger)
	exec := executor.New(transport, staticCreds{}, logger)

	return &testHarness{
		repo:      New(states, transport, staticCreds{}, exec, c, store, cfg, logger),
		states:    states,
		transport: transport,
		cache:     c,
		store:     store,
		exec:      exec,
		cfg:       cfg,
	}
}

// TestFetch_OfflineServesCacheWithoutNetwork tests that offline reads never
// touch the transport.
func TestFetch_OfflineServesCacheWithoutNetwork(t *testing.T) {
	h := newHarness(t)
	h.states.set(connectivity.Offline)

	if err := h.cache.Put("todos", "1", json.RawMessage(`{"id":"1","title":"x"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	result, err := h.repo.Fetch(context.Background(), "todos", "1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.FromCache {
		t.Fatal("Expected a cached result")
	}
	if string(result.Document.Data) != `{"id":"1","title":"x"}` {
		t.Fatalf("Unexpected document: %s", result.Document.Data)
	}
	if h.transport.callCount() != 0 {
		t.Fatalf("Expected zero transport calls, got %d", h.transport.callCount())
	}

	if _, err := h.repo.Fetch(context.Background(), "todos", "missing"); !errors.Is(err, errors.ErrNoData) {
		t.Fatalf("Expected NO_DATA for a cache miss, got %v", err)
	}
}

// TestFetch_OnlineRefreshesCache tests that a remote success overwrites the
// cached copy.
func TestFetch_OnlineRefreshesCache(t *testing.T) {
	h := newHarness(t)
	h.transport.body = []byte(`{"id":"1","title":"fresh"}`)

	if err := h.cache.Put("todos", "1", json.RawMessage(`{"id":"1","title":"stale"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	result, err := h.repo.Fetch(context.Background(), "todos", "1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.FromCache {
		t.Fatal("Expected a remote result")
	}
	if h.transport.lastPath != "/todos/1" {
		t.Fatalf("Unexpected path: %s", h.transport.lastPath)
	}

	doc, err := h.cache.Get("todos", "1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(doc.Data) != `{"id":"1","title":"fresh"}` {
		t.Fatalf("Expected the cache to be refreshed, got %s", doc.Data)
	}
}

// TestFetch_RemoteFailureFallsBackToCache tests degradation on server
// errors.
func TestFetch_RemoteFailureFallsBackToCache(t *testing.T) {
	h := newHarness(t)
	h.transport.status = 503

	if err := h.cache.Put("todos", "1", json.RawMessage(`{"id":"1"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	result, err := h.repo.Fetch(context.Background(), "todos", "1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.FromCache {
		t.Fatal("Expected a cached result after remote failure")
	}

	// Nothing cached and the remote down means no data at all.
	if _, err := h.repo.Fetch(context.Background(), "todos", "2"); !errors.Is(err, errors.ErrNoData) {
		t.Fatalf("Expected NO_DATA, got %v", err)
	}
}

// TestFetch_PoorUsesShortTimeout tests that a degraded link gives up on the
// remote quickly and serves the cache.
func TestFetch_PoorUsesShortTimeout(t *testing.T) {
	h := newHarness(t)
	h.states.set(connectivity.Poor)
	h.cfg.PoorRemoteTimeout = 50 * time.Millisecond
	h.transport.delay = 5 * time.Second

	if err := h.cache.Put("todos", "1", json.RawMessage(`{"id":"1"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	start := time.Now()
	result, err := h.repo.Fetch(context.Background(), "todos", "1")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.FromCache {
		t.Fatal("Expected a cached result after timeout")
	}
	if elapsed > time.Second {
		t.Fatalf("Expected the short timeout to apply, took %v", elapsed)
	}
}

// TestFetchAll_OnlineReplacesCachedCollection tests collection reads.
func TestFetchAll_OnlineReplacesCachedCollection(t *testing.T) {
	h := newHarness(t)
	h.transport.body = []byte(`[{"id":"1","title":"a"},{"id":2,"title":"b"}]`)

	result, err := h.repo.FetchAll(context.Background(), "todos")
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if result.FromCache {
		t.Fatal("Expected a remote result")
	}
	if len(result.Documents) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(result.Documents))
	}

	// Numeric server ids are normalized to string keys.
	if _, err := h.cache.Get("todos", "2"); err != nil {
		t.Fatalf("Expected document 2 in cache: %v", err)
	}

	h.states.set(connectivity.Offline)
	cached, err := h.repo.FetchAll(context.Background(), "todos")
	if err != nil {
		t.Fatalf("FetchAll failed offline: %v", err)
	}
	if !cached.FromCache || len(cached.Documents) != 2 {
		t.Fatalf("Expected 2 cached documents, got %d (fromCache=%v)",
			len(cached.Documents), cached.FromCache)
	}
}

// TestMutate_OfflineQueuesOptimistically tests the deferred write path.
func TestMutate_OfflineQueuesOptimistically(t *testing.T) {
	h := newHarness(t)
	h.states.set(connectivity.Offline)

	result, err := h.repo.Mutate(context.Background(), models.OperationCreate, "todos",
		map[string]interface{}{"title": "offline write"})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if !result.Queued {
		t.Fatal("Expected the write to be queued")
	}
	if !uuid.IsTemp(result.ID) {
		t.Fatalf("Expected a temporary id, got %q", result.ID)
	}
	if result.Pending != 1 {
		t.Fatalf("Expected 1 pending mutation, got %d", result.Pending)
	}
	if h.transport.callCount() != 0 {
		t.Fatalf("Expected zero transport calls, got %d", h.transport.callCount())
	}

	doc, err := h.cache.Get("todos", result.ID)
	if err != nil {
		t.Fatalf("Expected an optimistic cache entry: %v", err)
	}
	if !strings.Contains(string(doc.Data), "offline write") {
		t.Fatalf("Unexpected optimistic document: %s", doc.Data)
	}
}

// TestMutate_OfflineDeleteRemovesFromCache tests optimistic deletes.
func TestMutate_OfflineDeleteRemovesFromCache(t *testing.T) {
	h := newHarness(t)
	h.states.set(connectivity.Offline)

	if err := h.cache.Put("todos", "1", json.RawMessage(`{"id":"1"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	result, err := h.repo.Mutate(context.Background(), models.OperationDelete, "todos",
		map[string]interface{}{"id": "1"})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if !result.Queued {
		t.Fatal("Expected the delete to be queued")
	}
	if _, err := h.cache.Get("todos", "1"); !errors.Is(err, errors.ErrNoData) {
		t.Fatalf("Expected the document to be gone, got %v", err)
	}
}

// TestMutate_OnlineDirectSuccess tests the direct write path absorbing the
// server document.
func TestMutate_OnlineDirectSuccess(t *testing.T) {
	h := newHarness(t)
	h.transport.status = 201
	h.transport.body = []byte(`{"id":42,"title":"x"}`)

	result, err := h.repo.Mutate(context.Background(), models.OperationCreate, "todos",
		map[string]interface{}{"title": "x"})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if result.Queued {
		t.Fatal("Expected a direct write, not a queued one")
	}
	if result.ID != "42" {
		t.Fatalf("Expected server id 42, got %q", result.ID)
	}

	if _, err := h.cache.Get("todos", "42"); err != nil {
		t.Fatalf("Expected the server document in cache: %v", err)
	}
	if size, _ := h.store.Size(); size != 0 {
		t.Fatalf("Expected an empty queue, got %d", size)
	}
}

// TestMutate_OnlineRetryableFailureQueues tests the queue fallback for
// transient failures.
func TestMutate_OnlineRetryableFailureQueues(t *testing.T) {
	h := newHarness(t)
	h.transport.status = 500

	result, err := h.repo.Mutate(context.Background(), models.OperationUpdate, "todos",
		map[string]interface{}{"id": "1", "title": "y"})
	if err == nil {
		t.Fatal("Expected an error for the failed remote write")
	}
	if result == nil || !result.Queued {
		t.Fatal("Expected the failed write to be queued")
	}
	if size, _ := h.store.Size(); size != 1 {
		t.Fatalf("Expected 1 queued mutation, got %d", size)
	}
}

// TestMutate_ClientErrorNotQueued tests that unfixable requests are
// surfaced, not deferred.
func TestMutate_ClientErrorNotQueued(t *testing.T) {
	h := newHarness(t)
	h.transport.status = 400

	_, err := h.repo.Mutate(context.Background(), models.OperationCreate, "todos",
		map[string]interface{}{"title": "bad"})
	if !errors.Is(err, errors.ErrClient) {
		t.Fatalf("Expected CLIENT_ERROR, got %v", err)
	}
	if size, _ := h.store.Size(); size != 0 {
		t.Fatalf("Expected nothing queued, got %d", size)
	}
}

// TestMutate_InvalidKindRejected tests input validation.
func TestMutate_InvalidKindRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.repo.Mutate(context.Background(), models.OperationKind("upsert"), "todos",
		map[string]interface{}{"title": "x"})
	if !errors.Is(err, errors.ErrClient) {
		t.Fatalf("Expected CLIENT_ERROR for an unknown kind, got %v", err)
	}
}

// TestOfflineCreateThenDrainReplacesTempID walks the full round trip: an
// offline create lands in cache under a temporary id, and a later drain
// replaces it with the server-assigned document.
func TestOfflineCreateThenDrainReplacesTempID(t *testing.T) {
	h := newHarness(t)
	h.states.set(connectivity.Offline)

	result, err := h.repo.Mutate(context.Background(), models.OperationCreate, "todos",
		map[string]interface{}{"title": "round trip"})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	tempID := result.ID
	if !uuid.IsTemp(tempID) {
		t.Fatalf("Expected a temporary id, got %q", tempID)
	}

	// Connectivity returns; the server assigns id 42 on replay.
	h.states.set(connectivity.Online)
	h.transport.status = 201
	h.transport.body = []byte(`{"id":42,"title":"round trip"}`)

	d := drain.New(h.store, h.exec, retry.New(1, testLogger()), h.cache,
		h.cfg.MaxRetries, telemetry.NopReporter{}, testLogger())
	pass := d.DrainNow(context.Background())
	if pass.Succeeded != 1 {
		t.Fatalf("Expected 1 drained mutation, got %+v", pass)
	}

	if size, _ := h.store.Size(); size != 0 {
		t.Fatalf("Expected an empty queue, got %d", size)
	}
	if _, err := h.cache.Get("todos", tempID); !errors.Is(err, errors.ErrNoData) {
		t.Fatalf("Expected the temporary id to stop resolving, got %v", err)
	}
	doc, err := h.cache.Get("todos", "42")
	if err != nil {
		t.Fatalf("Expected the server document under id 42: %v", err)
	}
	if !strings.Contains(string(doc.Data), "round trip") {
		t.Fatalf("Unexpected drained document: %s", doc.Data)
	}
}
