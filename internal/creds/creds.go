// Package creds provides credential providers for the remote transport: a
// fixed-token provider and a file-backed store that keeps the token
// encrypted at rest and can refresh it through a callback.
package creds

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/driftsync/driftsync/internal/crypto"
	"github.com/driftsync/driftsync/internal/errors"
)

const tokenFile = "credentials.enc"

// Static serves one fixed token. Refreshing is a no-op; an expired static
// token surfaces as an auth failure upstream.
type Static struct {
	Token string
}

// CurrentToken returns the fixed token.
func (s Static) CurrentToken(ctx context.Context) (string, error) {
	if s.Token == "" {
		return "", errors.New(errors.ErrAuth, "no token configured")
	}
	return s.Token, nil
}

// ForceRefresh returns the fixed token; static credentials cannot rotate.
func (s Static) ForceRefresh(ctx context.Context) (string, error) {
	return s.CurrentToken(ctx)
}

// RefreshFunc obtains a new token from the auth system.
type RefreshFunc func(ctx context.Context) (string, error)

// FileStore persists the current token encrypted at rest and hands it to
// the transport on demand. When a refresh callback is configured, a missing
// or rejected token is replaced through it.
type FileStore struct {
	path    string
	key     []byte
	refresh RefreshFunc

	mu    sync.Mutex
	token string
}

// NewFileStore creates a store under dataDir. key protects the token at
// rest; refresh may be nil for read-only stores.
func NewFileStore(dataDir string, key []byte, refresh RefreshFunc) *FileStore {
	return &FileStore{
		path:    filepath.Join(dataDir, tokenFile),
		key:     key,
		refresh: refresh,
	}
}

// CurrentToken returns the cached token, loading it from disk on first use
// and refreshing when nothing usable is stored.
func (f *FileStore) CurrentToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token != "" {
		return f.token, nil
	}

	if token, err := f.load(); err == nil && token != "" {
		f.token = token
		return token, nil
	}

	return f.refreshLocked(ctx)
}

// ForceRefresh discards the current token and obtains a new one through the
// refresh callback.
func (f *FileStore) ForceRefresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	return f.refreshLocked(ctx)
}

// SetToken stores a token explicitly, e.g. after an interactive login.
func (f *FileStore) SetToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.save(token); err != nil {
		return err
	}
	f.token = token
	return nil
}

// Clear removes the stored token, e.g. on logout. A missing file is fine.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.token = ""
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrStorage, "failed to remove stored credentials", err)
	}
	return nil
}

func (f *FileStore) refreshLocked(ctx context.Context) (string, error) {
	if f.refresh == nil {
		return "", errors.New(errors.ErrAuth, "no stored credentials and no refresh configured")
	}

	token, err := f.refresh(ctx)
	if err != nil {
		return "", errors.Wrap(errors.ErrAuth, "token refresh failed", err)
	}
	if err := f.save(token); err != nil {
		return "", err
	}
	f.token = token
	return token, nil
}

func (f *FileStore) load() (string, error) {
	sealed, err := os.ReadFile(f.path)
	if err != nil {
		return "", err
	}
	token, err := crypto.Decrypt(string(sealed), f.key)
	if err != nil {
		return "", err
	}
	return string(token), nil
}

func (f *FileStore) save(token string) error {
	sealed, err := crypto.Encrypt([]byte(token), f.key)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to encrypt credentials", err)
	}
	if err := os.WriteFile(f.path, []byte(sealed), 0600); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to write credentials", err)
	}
	return nil
}
