// Package models provides unit tests for the data models.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

// TestUUID_Scan tests scanning UUIDs from driver values.
func TestUUID_Scan(t *testing.T) {
	var u UUID

	if err := u.Scan([]byte("abc-123")); err != nil {
		t.Fatalf("Scan bytes failed: %v", err)
	}
	if u.String() != "abc-123" {
		t.Errorf("Expected abc-123, got %s", u)
	}

	if err := u.Scan("def-456"); err != nil {
		t.Fatalf("Scan string failed: %v", err)
	}
	if u != "def-456" {
		t.Errorf("Expected def-456, got %s", u)
	}

	if err := u.Scan(nil); err != nil {
		t.Fatalf("Scan nil failed: %v", err)
	}
	if u != "" {
		t.Errorf("Expected empty UUID after nil scan, got %s", u)
	}
}

// TestOperationKind_Valid tests kind validation.
func TestOperationKind_Valid(t *testing.T) {
	for _, k := range []OperationKind{OperationCreate, OperationUpdate, OperationDelete} {
		if !k.Valid() {
			t.Errorf("Expected %s to be valid", k)
		}
	}
	if OperationKind("upsert").Valid() {
		t.Error("Expected unknown kind to be invalid")
	}
}

// TestQueuedMutation_Fields tests payload decoding.
func TestQueuedMutation_Fields(t *testing.T) {
	m := &QueuedMutation{
		Payload: json.RawMessage(`{"title":"Buy milk","done":false}`),
	}

	fields, err := m.Fields()
	if err != nil {
		t.Fatalf("Fields failed: %v", err)
	}
	if fields["title"] != "Buy milk" {
		t.Errorf("Expected title field, got %v", fields)
	}

	// Empty payload decodes to an empty map, not an error.
	empty := &QueuedMutation{}
	fields, err = empty.Fields()
	if err != nil {
		t.Fatalf("Fields on empty payload failed: %v", err)
	}
	if len(fields) != 0 {
		t.Errorf("Expected empty map, got %v", fields)
	}

	// Malformed payload surfaces the error.
	bad := &QueuedMutation{Payload: json.RawMessage(`{`)}
	if _, err := bad.Fields(); err == nil {
		t.Error("Expected error for malformed payload")
	}
}

// TestQueuedMutation_EnqueuedAtTime tests timestamp conversion.
func TestQueuedMutation_EnqueuedAtTime(t *testing.T) {
	now := time.Now().Unix()
	m := &QueuedMutation{EnqueuedAt: now}

	if m.EnqueuedAtTime().Unix() != now {
		t.Errorf("Expected %d, got %d", now, m.EnqueuedAtTime().Unix())
	}
}

// TestCachedDocument_Fields tests document body decoding.
func TestCachedDocument_Fields(t *testing.T) {
	d := &CachedDocument{
		Collection: "todos",
		ID:         "42",
		Data:       json.RawMessage(`{"id":"42","title":"Buy milk"}`),
	}

	fields, err := d.Fields()
	if err != nil {
		t.Fatalf("Fields failed: %v", err)
	}
	if fields["id"] != "42" {
		t.Errorf("Expected id field, got %v", fields)
	}
}

// TestTableNames tests persisted table bindings.
func TestTableNames(t *testing.T) {
	if got := (QueuedMutation{}).TableName(); got != "offline_queue" {
		t.Errorf("Expected offline_queue, got %s", got)
	}
	if got := (CachedDocument{}).TableName(); got != "cache_documents" {
		t.Errorf("Expected cache_documents, got %s", got)
	}
}

// TestDocumentID tests server-id extraction and normalization.
func TestDocumentID(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"string id", `{"id":"abc","title":"x"}`, "abc"},
		{"numeric id", `{"id":42,"title":"x"}`, "42"},
		{"missing id", `{"title":"x"}`, ""},
		{"empty body", ``, ""},
		{"not an object", `[1,2,3]`, ""},
		{"garbage", `{{{`, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DocumentID([]byte(tc.body)); got != tc.want {
				t.Errorf("DocumentID(%q) = %q, want %q", tc.body, got, tc.want)
			}
		})
	}
}
