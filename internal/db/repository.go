// Package db provides CRUD repository operations for the queue and cache tables.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/models"
)

// Repository provides SQL operations over the offline_queue and
// cache_documents tables. Statements are prepared on first use and cached
// for reuse.
type Repository struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a Repository over an open database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
// Should be called when the Repository is no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Queue Operations
// =====================================================

// InsertMutation persists a queued mutation.
func (r *Repository) InsertMutation(m *models.QueuedMutation) error {
	query := `
	INSERT INTO offline_queue (id, kind, resource, payload, idempotency_key, enqueued_at, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, m.ID, string(m.Kind), m.Resource, string(m.Payload),
		m.IdempotencyKey, m.EnqueuedAt, m.RetryCount)
	return err
}

// HasMutationWithKey reports whether a pending mutation carries the given
// idempotency key.
func (r *Repository) HasMutationWithKey(key string) (bool, error) {
	query := `SELECT COUNT(*) FROM offline_queue WHERE idempotency_key = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return false, err
	}

	var count int
	if err := stmt.QueryRow(key).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListMutationsOrdered returns all pending mutations in enqueue order.
// Ties on enqueued_at resolve by insertion order via rowid, so processing
// order is stable even at second resolution.
func (r *Repository) ListMutationsOrdered() ([]*models.QueuedMutation, error) {
	query := `
	SELECT id, kind, resource, payload, idempotency_key, enqueued_at, retry_count
	FROM offline_queue ORDER BY enqueued_at ASC, rowid ASC
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mutations []*models.QueuedMutation
	for rows.Next() {
		var m models.QueuedMutation
		var kind, payload string
		if err := rows.Scan(&m.ID, &kind, &m.Resource, &payload,
			&m.IdempotencyKey, &m.EnqueuedAt, &m.RetryCount); err != nil {
			return nil, err
		}
		m.Kind = models.OperationKind(kind)
		m.Payload = []byte(payload)
		mutations = append(mutations, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return mutations, nil
}

// GetMutation retrieves a single queued mutation by id.
func (r *Repository) GetMutation(id string) (*models.QueuedMutation, error) {
	query := `
	SELECT id, kind, resource, payload, idempotency_key, enqueued_at, retry_count
	FROM offline_queue WHERE id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var m models.QueuedMutation
	var kind, payload string
	err = stmt.QueryRow(id).Scan(&m.ID, &kind, &m.Resource, &payload,
		&m.IdempotencyKey, &m.EnqueuedAt, &m.RetryCount)
	if err != nil {
		return nil, err
	}
	m.Kind = models.OperationKind(kind)
	m.Payload = []byte(payload)
	return &m, nil
}

// DeleteMutation removes a queued mutation.
func (r *Repository) DeleteMutation(id string) error {
	result, err := r.db.Exec(`DELETE FROM offline_queue WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("queued mutation not found: %s", id)
	}
	return nil
}

// UpdateMutationRetryCount sets the retry count of a queued mutation.
func (r *Repository) UpdateMutationRetryCount(id string, count int) error {
	result, err := r.db.Exec(`UPDATE offline_queue SET retry_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("queued mutation not found: %s", id)
	}
	return nil
}

// CountMutations returns the number of pending mutations.
func (r *Repository) CountMutations() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM offline_queue`).Scan(&count)
	return count, err
}

// ClearMutations removes every pending mutation.
func (r *Repository) ClearMutations() error {
	_, err := r.db.Exec(`DELETE FROM offline_queue`)
	return err
}

// =====================================================
// Cache Operations
// =====================================================

// UpsertDocument inserts or overwrites a cached document. Last write wins
// per (collection, id).
func (r *Repository) UpsertDocument(doc *models.CachedDocument) error {
	doc.UpdatedAt = time.Now().Unix()
	query := `
	INSERT INTO cache_documents (collection, id, data, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, doc.Collection, doc.ID, string(doc.Data), doc.UpdatedAt)
	return err
}

// GetDocument retrieves a cached document. Returns sql.ErrNoRows when the
// pair is not cached.
func (r *Repository) GetDocument(collection, id string) (*models.CachedDocument, error) {
	query := `SELECT collection, id, data, updated_at FROM cache_documents WHERE collection = ? AND id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var doc models.CachedDocument
	var data string
	if err := stmt.QueryRow(collection, id).Scan(&doc.Collection, &doc.ID, &data, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Data = []byte(data)
	return &doc, nil
}

// ListDocuments returns every cached document in a collection, most
// recently updated first.
func (r *Repository) ListDocuments(collection string) ([]*models.CachedDocument, error) {
	query := `
	SELECT collection, id, data, updated_at FROM cache_documents
	WHERE collection = ? ORDER BY updated_at DESC, id ASC
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.CachedDocument
	for rows.Next() {
		var doc models.CachedDocument
		var data string
		if err := rows.Scan(&doc.Collection, &doc.ID, &data, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Data = []byte(data)
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// DeleteDocument removes a single cached document. Deleting an absent
// document is not an error; the cache is best-effort state.
func (r *Repository) DeleteDocument(collection, id string) error {
	_, err := r.db.Exec(`DELETE FROM cache_documents WHERE collection = ? AND id = ?`, collection, id)
	return err
}

// ClearDocuments removes every cached document in a collection.
func (r *Repository) ClearDocuments(collection string) error {
	_, err := r.db.Exec(`DELETE FROM cache_documents WHERE collection = ?`, collection)
	return err
}
