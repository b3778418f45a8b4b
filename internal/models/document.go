// Package models provides data model definitions for the sync core.
package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// CachedDocument is a last-known-good local copy of a remote record.
type CachedDocument struct {
	Collection string          `db:"collection" json:"collection"`
	ID         string          `db:"id" json:"id"`
	Data       json.RawMessage `db:"data" json:"data"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for CachedDocument.
func (CachedDocument) TableName() string {
	return "cache_documents"
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (d *CachedDocument) UpdatedAtTime() time.Time {
	return time.Unix(d.UpdatedAt, 0)
}

// Fields decodes the document body into a field map.
func (d *CachedDocument) Fields() (map[string]interface{}, error) {
	if len(d.Data) == 0 {
		return map[string]interface{}{}, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(d.Data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// DocumentID extracts the id field from a JSON document body. Servers
// assign ids as strings or numbers; both are normalized to a string key.
// Anything without a usable id yields "".
func DocumentID(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	switch id := doc["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
