// Package secrets provides the narrow secret accessor exposed to admitted
// artifacts. Artifacts never read the environment or the filesystem directly.
package secrets

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// Store resolves secrets from a dotenv file, falling back to the process
// environment.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore loads the dotenv file at path. A missing file leaves the store
// backed by the process environment only.
func NewStore(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, values: map[string]string{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromMap builds a store over fixed values. Used by tests and embedders.
func FromMap(values map[string]string) *Store {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Store{values: copied, logger: slog.Default()}
}

// Reload re-reads the dotenv file.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	values, err := godotenv.Read(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("secrets.file.missing", slog.String("path", s.path))
			values = map[string]string{}
		} else {
			return err
		}
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// GetSecret returns the value for key, or "" when unknown.
func (s *Store) GetSecret(key string) string {
	if s == nil || key == "" {
		return ""
	}
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	return os.Getenv(key)
}
