// Package models provides data model definitions for the sync core.
package models

import (
	"encoding/json"
	"time"
)

// OperationKind classifies a deferred write.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// Valid reports whether k is a recognized operation kind.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// QueuedMutation represents one deferred write awaiting replay.
type QueuedMutation struct {
	ID             UUID            `db:"id" json:"id"`
	Kind           OperationKind   `db:"kind" json:"kind"`
	Resource       string          `db:"resource" json:"resource"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	EnqueuedAt     int64           `db:"enqueued_at" json:"enqueued_at"`
	RetryCount     int             `db:"retry_count" json:"retry_count"`
}

// TableName returns the table name for QueuedMutation.
func (QueuedMutation) TableName() string {
	return "offline_queue"
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (m *QueuedMutation) EnqueuedAtTime() time.Time {
	return time.Unix(m.EnqueuedAt, 0)
}

// Fields decodes the payload into a field map. The core treats payload
// contents as opaque; this helper exists for callers that need to inspect
// individual fields (e.g. the facade extracting a record id).
func (m *QueuedMutation) Fields() (map[string]interface{}, error) {
	if len(m.Payload) == 0 {
		return map[string]interface{}{}, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(m.Payload, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
