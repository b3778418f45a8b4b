// Package errors provides unit tests for the error taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

// TestNew tests creating an error with a code.
func TestNew(t *testing.T) {
	err := New(ErrQueueFull, "queue is at capacity")

	if err.Code != ErrQueueFull {
		t.Errorf("Expected code %s, got %s", ErrQueueFull, err.Code)
	}

	msg := err.Error()
	if !strings.Contains(msg, "QUEUE_FULL") {
		t.Errorf("Expected message to contain code, got %q", msg)
	}
	if !strings.Contains(msg, "queue is at capacity") {
		t.Errorf("Expected message to contain text, got %q", msg)
	}
}

// TestWrap tests wrapping an underlying error.
func TestWrap(t *testing.T) {
	underlying := fmt.Errorf("disk full")
	err := Wrap(ErrStorage, "failed to persist mutation", underlying)

	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected wrapped message, got %q", err.Error())
	}

	if !stderrors.Is(err, underlying) {
		t.Error("Expected errors.Is to find the underlying error")
	}
}

// TestIs tests code matching through wrapping.
func TestIs(t *testing.T) {
	err := Wrap(ErrAuth, "session revoked", fmt.Errorf("401"))

	if !Is(err, ErrAuth) {
		t.Error("Expected Is to match AUTH_ERROR")
	}
	if Is(err, ErrNetwork) {
		t.Error("Expected Is not to match NETWORK_ERROR")
	}

	// Wrapped one level deeper by fmt.Errorf.
	outer := fmt.Errorf("drain aborted: %w", err)
	if !Is(outer, ErrAuth) {
		t.Error("Expected Is to unwrap through fmt.Errorf")
	}

	if Is(fmt.Errorf("plain"), ErrAuth) {
		t.Error("Expected Is to reject non-AppError")
	}
}

// TestCodeOf tests code extraction.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrNoData, "nothing found")); got != ErrNoData {
		t.Errorf("Expected NO_DATA, got %s", got)
	}

	if got := CodeOf(fmt.Errorf("plain")); got != "" {
		t.Errorf("Expected empty code for plain error, got %s", got)
	}
}

// TestRetryable tests the retryable classification helper.
func TestRetryable(t *testing.T) {
	if !Retryable(New(ErrNetwork, "timeout")) {
		t.Error("Expected NETWORK_ERROR to be retryable")
	}
	if Retryable(New(ErrClient, "bad request")) {
		t.Error("Expected CLIENT_ERROR not to be retryable")
	}
	if Retryable(New(ErrAuth, "revoked")) {
		t.Error("Expected AUTH_ERROR not to be retryable")
	}
}
