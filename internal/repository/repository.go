// Package repository is the single entry point the application layer uses
// for reads and writes. It routes every call according to the current
// connectivity state: remote-first with cache fallback for reads, direct
// execution with queue fallback for writes.
package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/driftsync/driftsync/internal/cache"
	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/connectivity"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/logging"
	"github.com/driftsync/driftsync/internal/models"
	"github.com/driftsync/driftsync/internal/sync/executor"
	"github.com/driftsync/driftsync/internal/sync/queue"
	"github.com/driftsync/driftsync/internal/uuid"
)

// StateSource yields the current connectivity classification. The
// classifier satisfies this.
type StateSource interface {
	State() connectivity.State
}

// Executor is the slice of the mutation executor the facade needs for
// direct (non-queued) writes.
type Executor interface {
	Execute(ctx context.Context, m *models.QueuedMutation) executor.Result
}

// FetchResult is the outcome of a single-document read.
type FetchResult struct {
	Document  *models.CachedDocument
	FromCache bool
}

// CollectionResult is the outcome of a collection read.
type CollectionResult struct {
	Documents []*models.CachedDocument
	FromCache bool
}

// MutateResult is the outcome of a write. Queued means the write was
// deferred to the mutation store rather than applied remotely; Pending is
// the number of mutations awaiting replay after this call.
type MutateResult struct {
	ID             string
	Data           json.RawMessage
	IdempotencyKey string
	Queued         bool
	Pending        int
}

// Repository coordinates the cache, the mutation store and the remote
// transport behind one read/write surface.
type Repository struct {
	states    StateSource
	transport executor.Transport
	creds     executor.CredentialProvider
	exec      Executor
	cache     *cache.Cache
	store     *queue.Store
	cfg       *config.Config
	logger    *logging.Logger
}

// New creates a Repository.
func New(states StateSource, transport executor.Transport, creds executor.CredentialProvider,
	exec Executor, c *cache.Cache, store *queue.Store, cfg *config.Config, logger *logging.Logger) *Repository {
	return &Repository{
		states:    states,
		transport: transport,
		creds:     creds,
		exec:      exec,
		cache:     c,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// Fetch reads one document. Offline reads never touch the network; Poor and
// Online reads go remote first (with the state's timeout) and degrade to the
// cache on any failure. A remote success refreshes the cache.
func (r *Repository) Fetch(ctx context.Context, collection, id string) (*FetchResult, error) {
	state := r.states.State()
	if state == connectivity.Offline {
		return r.fetchCached(collection, id)
	}

	remoteCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout(state))
	defer cancel()

	body, err := r.fetchRemote(remoteCtx, "/"+collection+"/"+id)
	if err != nil {
		r.logger.Warn("Remote fetch failed, falling back to cache",
			map[string]interface{}{"collection": collection, "id": id, "error": err.Error()})
		return r.fetchCached(collection, id)
	}

	if err := r.cache.Put(collection, id, body); err != nil {
		r.logger.Warn("Could not cache fetched document",
			map[string]interface{}{"collection": collection, "id": id, "error": err.Error()})
	}

	doc := &models.CachedDocument{
		Collection: collection,
		ID:         id,
		Data:       body,
		UpdatedAt:  time.Now().Unix(),
	}
	return &FetchResult{Document: doc}, nil
}

// FetchAll reads a whole collection with the same routing as Fetch. A
// remote success replaces the cached view of the collection.
func (r *Repository) FetchAll(ctx context.Context, collection string) (*CollectionResult, error) {
	state := r.states.State()
	if state == connectivity.Offline {
		return r.listCached(collection)
	}

	remoteCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout(state))
	defer cancel()

	body, err := r.fetchRemote(remoteCtx, "/"+collection)
	if err != nil {
		r.logger.Warn("Remote list failed, falling back to cache",
			map[string]interface{}{"collection": collection, "error": err.Error()})
		return r.listCached(collection)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		r.logger.Warn("Remote list response was not a JSON array, falling back to cache",
			map[string]interface{}{"collection": collection, "error": err.Error()})
		return r.listCached(collection)
	}

	now := time.Now().Unix()
	docs := make([]*models.CachedDocument, 0, len(items))
	for _, item := range items {
		id := models.DocumentID(item)
		if id == "" {
			continue
		}
		docs = append(docs, &models.CachedDocument{
			Collection: collection,
			ID:         id,
			Data:       item,
			UpdatedAt:  now,
		})
	}

	if err := r.cache.PutMany(collection, docs); err != nil {
		r.logger.Warn("Could not cache fetched collection",
			map[string]interface{}{"collection": collection, "error": err.Error()})
	}

	return &CollectionResult{Documents: docs}, nil
}

// Mutate applies a write. Offline writes are deferred: the document is
// updated optimistically in the cache (creates get a temp_-prefixed id) and
// the mutation is queued for replay. Online and Poor writes execute
// directly; a retryable or auth failure falls back to the queue so the
// write is never lost, and the returned error then still carries a result
// with Queued set. A non-retryable client failure is surfaced without
// queueing since replay cannot change the outcome.
func (r *Repository) Mutate(ctx context.Context, kind models.OperationKind, collection string,
	payload map[string]interface{}) (*MutateResult, error) {
	if !kind.Valid() {
		return nil, errors.New(errors.ErrClient, "unsupported operation kind: "+string(kind))
	}

	fields := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		fields[k] = v
	}

	state := r.states.State()
	if state == connectivity.Offline {
		return r.deferMutation(kind, collection, fields, nil)
	}

	m, err := r.buildMutation(kind, collection, fields)
	if err != nil {
		return nil, err
	}

	remoteCtx, cancel := context.WithTimeout(ctx, r.remoteTimeout(state))
	defer cancel()

	result := r.exec.Execute(remoteCtx, m)
	switch {
	case result.Outcome == executor.Success:
		if err := r.cache.AbsorbMutation(m, result.Body); err != nil {
			r.logger.Warn("Could not absorb mutation result into cache",
				map[string]interface{}{"collection": collection, "error": err.Error()})
		}
		data := result.Body
		if len(data) == 0 {
			data = m.Payload
		}
		id := models.DocumentID(result.Body)
		if id == "" {
			if v, ok := fields["id"].(string); ok {
				id = v
			}
		}
		return &MutateResult{
			ID:             id,
			Data:           data,
			IdempotencyKey: m.IdempotencyKey,
			Pending:        r.pendingCount(),
		}, nil

	case result.Outcome == executor.Fatal && !result.Auth:
		return nil, result.Err

	default:
		// Retryable or auth failure: keep the intent for replay.
		r.logger.Warn("Direct mutation failed, deferring to queue",
			map[string]interface{}{"collection": collection, "kind": string(kind), "error": result.Err.Error()})
		return r.deferMutation(kind, collection, fields, result.Err)
	}
}

// PendingCount returns the number of mutations awaiting replay.
func (r *Repository) PendingCount() (int, error) {
	return r.store.Size()
}

// deferMutation queues a mutation and applies it optimistically to the
// cache. cause, when non-nil, is the remote failure that forced the
// deferral; it is returned alongside the queued result.
func (r *Repository) deferMutation(kind models.OperationKind, collection string,
	fields map[string]interface{}, cause error) (*MutateResult, error) {
	if kind == models.OperationCreate {
		if id, _ := fields["id"].(string); id == "" {
			fields["id"] = uuid.NewTemp()
		}
	}
	id, _ := fields["id"].(string)

	m, err := r.buildMutation(kind, collection, fields)
	if err != nil {
		return nil, err
	}

	if _, err := r.store.Enqueue(m); err != nil {
		return nil, err
	}

	switch kind {
	case models.OperationDelete:
		if id != "" {
			if err := r.cache.Remove(collection, id); err != nil {
				r.logger.Warn("Could not remove document optimistically",
					map[string]interface{}{"collection": collection, "id": id, "error": err.Error()})
			}
		}
	default:
		if id != "" {
			if err := r.cache.Put(collection, id, m.Payload); err != nil {
				r.logger.Warn("Could not apply mutation optimistically",
					map[string]interface{}{"collection": collection, "id": id, "error": err.Error()})
			}
		}
	}

	result := &MutateResult{
		ID:             id,
		Data:           m.Payload,
		IdempotencyKey: m.IdempotencyKey,
		Queued:         true,
		Pending:        r.pendingCount(),
	}
	return result, cause
}

// buildMutation marshals the field map into a queueable mutation.
func (r *Repository) buildMutation(kind models.OperationKind, collection string,
	fields map[string]interface{}) (*models.QueuedMutation, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(errors.ErrClient, "payload is not serializable", err)
	}
	return &models.QueuedMutation{
		ID:             models.UUID(uuid.New()),
		Kind:           kind,
		Resource:       collection,
		Payload:        payload,
		IdempotencyKey: uuid.New(),
		EnqueuedAt:     time.Now().Unix(),
	}, nil
}

// fetchRemote issues an authenticated GET and returns the response body.
func (r *Repository) fetchRemote(ctx context.Context, path string) ([]byte, error) {
	token, err := r.creds.CurrentToken(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAuth, "could not resolve credentials", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Accept":        "application/json",
	}
	resp, err := r.transport.Send(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "remote fetch failed", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.Body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.New(errors.ErrAuth, "remote fetch rejected: "+strconv.Itoa(resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, errors.New(errors.ErrClient, "remote fetch rejected: "+strconv.Itoa(resp.StatusCode))
	default:
		return nil, errors.New(errors.ErrNetwork, "remote fetch failed: "+strconv.Itoa(resp.StatusCode))
	}
}

func (r *Repository) fetchCached(collection, id string) (*FetchResult, error) {
	doc, err := r.cache.Get(collection, id)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Document: doc, FromCache: true}, nil
}

func (r *Repository) listCached(collection string) (*CollectionResult, error) {
	docs, err := r.cache.GetAll(collection)
	if err != nil {
		return nil, err
	}
	return &CollectionResult{Documents: docs, FromCache: true}, nil
}

func (r *Repository) remoteTimeout(state connectivity.State) time.Duration {
	if state == connectivity.Poor {
		return r.cfg.PoorRemoteTimeout
	}
	return r.cfg.OnlineRemoteTimeout
}

// pendingCount is best-effort; a storage failure here must not fail the
// surrounding call.
func (r *Repository) pendingCount() int {
	n, err := r.store.Size()
	if err != nil {
		return 0
	}
	return n
}
