// Package cache serves last-known-good documents and absorbs remote
// read/write results.
package cache

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"sync"

	"github.com/driftsync/driftsync/internal/db"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/logging"
	"github.com/driftsync/driftsync/internal/models"
)

// Cache is the read-through document cache over the cache_documents table.
// Reads are cheap lookups; writes are serialized so concurrent puts for the
// same pair settle on a single winner.
type Cache struct {
	repo   *db.Repository
	logger *logging.Logger

	mu sync.Mutex
}

// New creates a Cache.
func New(repo *db.Repository, logger *logging.Logger) *Cache {
	return &Cache{
		repo:   repo,
		logger: logger,
	}
}

// Get returns the cached document for (collection, id). A miss is reported
// as NO_DATA; storage failures as STORAGE_ERROR. Callers fall back to an
// empty result either way, never panic.
func (c *Cache) Get(collection, id string) (*models.CachedDocument, error) {
	doc, err := c.repo.GetDocument(collection, id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.ErrNoData, "document not cached")
		}
		return nil, errors.Wrap(errors.ErrStorage, "cache read failed", err)
	}
	return doc, nil
}

// GetAll returns every cached document in a collection. An empty collection
// yields an empty slice, not an error.
func (c *Cache) GetAll(collection string) ([]*models.CachedDocument, error) {
	docs, err := c.repo.ListDocuments(collection)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "cache read failed", err)
	}
	return docs, nil
}

// Put stores or overwrites one document. Last write wins.
func (c *Cache) Put(collection, id string, data json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := &models.CachedDocument{
		Collection: collection,
		ID:         id,
		Data:       data,
	}
	if err := c.repo.UpsertDocument(doc); err != nil {
		return errors.Wrap(errors.ErrStorage, "cache write failed", err)
	}
	return nil
}

// PutMany stores a batch of documents, e.g. after a successful remote list.
func (c *Cache) PutMany(collection string, docs []*models.CachedDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, doc := range docs {
		stored := &models.CachedDocument{
			Collection: collection,
			ID:         doc.ID,
			Data:       doc.Data,
		}
		if err := c.repo.UpsertDocument(stored); err != nil {
			return errors.Wrap(errors.ErrStorage, "cache batch write failed", err)
		}
	}
	return nil
}

// Remove drops one document, e.g. after a confirmed remote deletion.
// Removing an absent document is a no-op.
func (c *Cache) Remove(collection, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.DeleteDocument(collection, id); err != nil {
		return errors.Wrap(errors.ErrStorage, "cache remove failed", err)
	}
	return nil
}

// Clear drops every document in a collection, e.g. on logout.
func (c *Cache) Clear(collection string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.ClearDocuments(collection); err != nil {
		return errors.Wrap(errors.ErrStorage, "cache clear failed", err)
	}

	c.logger.Info("Cache collection cleared",
		map[string]interface{}{"collection": collection})
	return nil
}
