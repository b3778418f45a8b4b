// Package queue provides the durable mutation store: crash-safe CRUD over
// pending mutations with idempotency-key duplicate suppression.
package queue

import (
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/db"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/logging"
	"github.com/driftsync/driftsync/internal/models"
	"github.com/driftsync/driftsync/internal/uuid"
)

// EnqueueResult reports what Enqueue did with a mutation.
type EnqueueResult int

const (
	// Added means the mutation was persisted.
	Added EnqueueResult = iota

	// DuplicateIgnored means a pending mutation already carries the same
	// idempotency key; the enqueue was a no-op.
	DuplicateIgnored

	// QueueFull means the store is at capacity and nothing was persisted.
	QueueFull
)

// String returns the result name.
func (r EnqueueResult) String() string {
	switch r {
	case Added:
		return "added"
	case DuplicateIgnored:
		return "duplicate_ignored"
	case QueueFull:
		return "queue_full"
	}
	return "unknown"
}

// Store manages pending mutations over the offline_queue table. All writes
// are serialized through one mutex so a concurrent enqueue and a concurrent
// remove or retry-count update never interleave mid-operation.
type Store struct {
	repo    *db.Repository
	maxSize int
	logger  *logging.Logger

	mu sync.Mutex
}

// NewStore creates a mutation store with the given capacity.
func NewStore(repo *db.Repository, maxSize int, logger *logging.Logger) *Store {
	return &Store{
		repo:    repo,
		maxSize: maxSize,
		logger:  logger,
	}
}

// Enqueue persists a mutation unless the store is full or a pending
// mutation already carries the same idempotency key. The duplicate check
// runs before the capacity check: a re-enqueued intent is already safely
// stored, so a full queue must not make it look rejected. Missing id and
// enqueue timestamp are filled in.
func (s *Store) Enqueue(m *models.QueuedMutation) (EnqueueResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.repo.HasMutationWithKey(m.IdempotencyKey)
	if err != nil {
		return QueueFull, errors.Wrap(errors.ErrStorage, "failed to check idempotency key", err)
	}
	if exists {
		s.logger.Debug("Duplicate enqueue ignored",
			map[string]interface{}{"idempotency_key": m.IdempotencyKey})
		return DuplicateIgnored, nil
	}

	count, err := s.repo.CountMutations()
	if err != nil {
		return QueueFull, errors.Wrap(errors.ErrStorage, "failed to read queue size", err)
	}
	if count >= s.maxSize {
		s.logger.Warn("Mutation rejected, queue at capacity",
			map[string]interface{}{"max_size": s.maxSize})
		return QueueFull, errors.New(errors.ErrQueueFull, "mutation queue is at capacity")
	}

	if m.ID == "" {
		m.ID = models.UUID(uuid.New())
	}
	if m.EnqueuedAt == 0 {
		m.EnqueuedAt = time.Now().Unix()
	}

	if err := s.repo.InsertMutation(m); err != nil {
		return QueueFull, errors.Wrap(errors.ErrStorage, "failed to persist mutation", err)
	}

	s.logger.Info("Mutation enqueued",
		map[string]interface{}{
			"mutation_id": m.ID.String(),
			"kind":        string(m.Kind),
			"resource":    m.Resource,
		})

	return Added, nil
}

// ListOrdered returns all pending mutations ascending by enqueue time.
func (s *Store) ListOrdered() ([]*models.QueuedMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutations, err := s.repo.ListMutationsOrdered()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list mutations", err)
	}
	return mutations, nil
}

// Remove deletes a pending mutation by id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.DeleteMutation(id); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to remove mutation", err)
	}
	return nil
}

// UpdateRetryCount sets a pending mutation's retry count.
func (s *Store) UpdateRetryCount(id string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.UpdateMutationRetryCount(id, count); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to update retry count", err)
	}
	return nil
}

// Size returns the number of pending mutations.
func (s *Store) Size() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.repo.CountMutations()
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to read queue size", err)
	}
	return count, nil
}

// HasPending reports whether a mutation with the given idempotency key is
// still waiting to be replayed. The UI layer uses this for its "pending
// sync" indicator.
func (s *Store) HasPending(idempotencyKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.repo.HasMutationWithKey(idempotencyKey)
	if err != nil {
		return false, errors.Wrap(errors.ErrStorage, "failed to check idempotency key", err)
	}
	return exists, nil
}

// Clear removes every pending mutation, e.g. on logout.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.ClearMutations(); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to clear queue", err)
	}

	s.logger.Info("Mutation queue cleared", nil)
	return nil
}
