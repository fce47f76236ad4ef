// Package credentials loads and stores the bearer token used to
// authenticate deliveries to the backend.
package credentials

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrNotConfigured indicates that no token is available. Deliveries
// attempted in this state fail the same way any other delivery error
// does, so queued items survive until a token is saved.
var ErrNotConfigured = errors.New("credentials not configured")

// ErrExpired indicates the stored token passed its expiry. Deliveries
// keep failing until a fresh token is saved.
var ErrExpired = errors.New("credentials expired")

// Credentials is the on-disk credential file contents.
type Credentials struct {
	Token      string     `toml:"token"`
	EmployeeID string     `toml:"employee_id,omitempty"`
	ExpiresAt  *time.Time `toml:"expires_at,omitempty"`
}

// Provider supplies the bearer token for outgoing requests.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed-token provider.
type Static struct {
	Value string
}

// Token returns the fixed token, or ErrNotConfigured when empty.
func (s Static) Token(ctx context.Context) (string, error) {
	if s.Value == "" {
		return "", ErrNotConfigured
	}
	return s.Value, nil
}

// File reads credentials from a TOML file. Parsed contents are cached
// and refreshed when the file changes on disk, so token rotation needs
// no restart.
type File struct {
	path string

	mu     sync.RWMutex
	cached *Credentials
	mtime  time.Time
}

// NewFile creates a file-backed provider.
func NewFile(path string) *File {
	return &File{path: path}
}

// DefaultPath returns the standard credential file location,
// ~/.pointd/credentials.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".pointd", "credentials.toml"), nil
}

// Path returns the credential file location.
func (f *File) Path() string {
	return f.path
}

// Token loads the file and returns its token. An expired token is an
// error; queued items keep failing retryably until a new one is saved.
func (f *File) Token(ctx context.Context) (string, error) {
	creds, err := f.Load()
	if err != nil {
		return "", err
	}
	if creds.Token == "" {
		return "", ErrNotConfigured
	}
	if creds.ExpiresAt != nil && !creds.ExpiresAt.After(time.Now()) {
		return "", fmt.Errorf("%s: %w", f.path, ErrExpired)
	}
	return creds.Token, nil
}

// Load returns the parsed credential file, reading it only when the
// file changed since the last read. A missing file maps to
// ErrNotConfigured.
func (f *File) Load() (*Credentials, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.drop()
			return nil, fmt.Errorf("%s: %w", f.path, ErrNotConfigured)
		}
		return nil, fmt.Errorf("failed to stat credentials file %s: %w", f.path, err)
	}

	f.mu.RLock()
	if f.cached != nil && info.ModTime().Equal(f.mtime) {
		creds := *f.cached
		f.mu.RUnlock()
		return &creds, nil
	}
	f.mu.RUnlock()

	var creds Credentials
	if _, err := toml.DecodeFile(f.path, &creds); err != nil {
		if os.IsNotExist(err) {
			f.drop()
			return nil, fmt.Errorf("%s: %w", f.path, ErrNotConfigured)
		}
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", f.path, err)
	}

	f.mu.Lock()
	cached := creds
	f.cached = &cached
	f.mtime = info.ModTime()
	f.mu.Unlock()

	return &creds, nil
}

// Reload drops the cache so the next read parses the file again,
// regardless of timestamps.
func (f *File) Reload() {
	f.drop()
}

func (f *File) drop() {
	f.mu.Lock()
	f.cached = nil
	f.mtime = time.Time{}
	f.mu.Unlock()
}

// Save writes the credential file with owner-only permissions.
func (f *File) Save(creds *Credentials) error {
	if creds == nil || creds.Token == "" {
		return fmt.Errorf("token is required")
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(creds); err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	if err := os.WriteFile(f.path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}

	f.drop()
	return nil
}

// Delete removes the credential file. Deleting a missing file is not
// an error.
func (f *File) Delete() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credentials file: %w", err)
	}
	f.drop()
	return nil
}
