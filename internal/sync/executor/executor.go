// Package executor translates one queued mutation into exactly one network
// call and interprets the result.
package executor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/logging"
	"github.com/driftsync/driftsync/internal/models"
)

// Transport performs the actual network call for a mutation or read.
type Transport interface {
	// Send issues one request. A returned error means the request never
	// produced an HTTP response (timeout, connection reset, DNS failure);
	// HTTP-level failures arrive as a Response with a non-2xx status.
	Send(ctx context.Context, method, path string, body []byte, headers map[string]string) (*Response, error)
}

// Response is the transport-level result of a request.
type Response struct {
	StatusCode int
	Body       []byte
}

// CredentialProvider supplies a bearer credential on demand.
type CredentialProvider interface {
	// CurrentToken returns a valid token, refreshing internally if needed.
	CurrentToken(ctx context.Context) (string, error)

	// ForceRefresh discards any cached token and fetches a new one.
	ForceRefresh(ctx context.Context) (string, error)
}

// Outcome classifies an execution attempt.
type Outcome int

const (
	// Success means the server accepted the mutation.
	Success Outcome = iota

	// Retryable means a transient failure: timeout, reset, 5xx.
	Retryable

	// Fatal means retrying cannot change the outcome. When Auth is also
	// set the failure poisons the whole drain pass; otherwise it is
	// scoped to the single mutation.
	Fatal
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Result is the interpreted outcome of one execution attempt.
type Result struct {
	Outcome    Outcome
	Auth       bool
	StatusCode int
	Body       []byte
	Err        error
}

// Executor maps mutations onto transport calls with fresh credentials.
type Executor struct {
	transport Transport
	creds     CredentialProvider
	logger    *logging.Logger
}

// New creates an Executor.
func New(transport Transport, creds CredentialProvider, logger *logging.Logger) *Executor {
	return &Executor{
		transport: transport,
		creds:     creds,
		logger:    logger,
	}
}

// Execute performs the network operation for one mutation. A fresh
// credential is obtained for every attempt, so a token refreshed between
// retries is picked up automatically.
func (e *Executor) Execute(ctx context.Context, m *models.QueuedMutation) Result {
	token, err := e.creds.CurrentToken(ctx)
	if err != nil {
		return Result{
			Outcome: Fatal,
			Auth:    true,
			Err:     errors.Wrap(errors.ErrAuth, "failed to obtain credential", err),
		}
	}

	method, path, body, result := e.route(m)
	if result != nil {
		return *result
	}

	headers := map[string]string{
		"Authorization":   "Bearer " + token,
		"Content-Type":    "application/json",
		"Idempotency-Key": m.IdempotencyKey,
	}

	resp, err := e.transport.Send(ctx, method, path, body, headers)
	if err != nil {
		return Result{
			Outcome: Retryable,
			Err:     errors.Wrap(errors.ErrNetwork, "mutation request failed", err),
		}
	}

	return e.classify(m, resp)
}

// route maps a mutation onto verb, path and request body. Update and delete
// need a record id in the payload; a mutation without one can never succeed
// and is reported as a client error.
func (e *Executor) route(m *models.QueuedMutation) (method, path string, body []byte, failed *Result) {
	switch m.Kind {
	case models.OperationCreate:
		return http.MethodPost, "/" + m.Resource, m.Payload, nil

	case models.OperationUpdate, models.OperationDelete:
		fields, err := m.Fields()
		if err != nil {
			return "", "", nil, &Result{
				Outcome: Fatal,
				Err:     errors.Wrap(errors.ErrClient, "mutation payload is not decodable", err),
			}
		}
		id, _ := fields["id"].(string)
		if id == "" {
			return "", "", nil, &Result{
				Outcome: Fatal,
				Err:     errors.New(errors.ErrClient, "mutation payload is missing a record id"),
			}
		}
		if m.Kind == models.OperationDelete {
			return http.MethodDelete, "/" + m.Resource + "/" + id, nil, nil
		}
		return http.MethodPut, "/" + m.Resource + "/" + id, m.Payload, nil
	}

	return "", "", nil, &Result{
		Outcome: Fatal,
		Err:     errors.New(errors.ErrClient, fmt.Sprintf("unknown operation kind: %s", m.Kind)),
	}
}

// classify interprets an HTTP response per the failure taxonomy: 2xx
// success, 401/403 auth-fatal, other 4xx mutation-fatal, 5xx retryable.
func (e *Executor) classify(m *models.QueuedMutation, resp *Response) Result {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{
			Outcome:    Success,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.logger.Warn("Mutation rejected with auth failure",
			map[string]interface{}{"mutation_id": m.ID.String(), "status": resp.StatusCode})
		return Result{
			Outcome:    Fatal,
			Auth:       true,
			StatusCode: resp.StatusCode,
			Err:        errors.New(errors.ErrAuth, fmt.Sprintf("server rejected credential with %d", resp.StatusCode)),
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{
			Outcome:    Fatal,
			StatusCode: resp.StatusCode,
			Err:        errors.New(errors.ErrClient, fmt.Sprintf("server rejected mutation with %d", resp.StatusCode)),
		}

	default:
		return Result{
			Outcome:    Retryable,
			StatusCode: resp.StatusCode,
			Err:        errors.New(errors.ErrNetwork, fmt.Sprintf("server returned %d", resp.StatusCode)),
		}
	}
}
