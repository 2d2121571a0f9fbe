package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/medialobby/gateway/internal/observability"
)

// filePerm is the permission mode for the backing file.
const filePerm = 0o600

// FileStore implements Store backed by a single JSON file. Writes go to a
// temporary file in the same directory followed by a rename, so readers
// never observe a partially written set. A process-level mutex serializes
// the read-modify-write cycles of concurrent requests.
type FileStore struct {
	path   string
	logger observability.Logger
	mu     sync.Mutex
}

// NewFileStore creates a file-backed store at the given path. The parent
// directory is created if missing. A nil logger is replaced with a nop
// logger.
func NewFileStore(path string, logger observability.Logger) (*FileStore, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &FileStore{
		path:   path,
		logger: logger,
	}, nil
}

// Load implements Store. A missing file yields an empty set. A corrupt
// file degrades to an empty set rather than failing the request; the
// condition is logged.
func (s *FileStore) Load(ctx context.Context) (map[string]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked()
}

func (s *FileStore) loadLocked() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]Entry), nil
		}
		return nil, fmt.Errorf("failed to read attempt store %s: %w", s.path, err)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("attempt store is malformed, starting empty",
			observability.String("path", s.path),
			observability.Error(err),
		)
		return make(map[string]Entry), nil
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	return entries, nil
}

// Save implements Store using a temp-file-then-rename replace.
func (s *FileStore) Save(ctx context.Context, entries map[string]Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(entries)
}

func (s *FileStore) saveLocked(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode attempt store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".attempts-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write attempt store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace attempt store: %w", err)
	}
	return nil
}

// Update runs a read-modify-write cycle under the store lock, closing the
// lost-update window between concurrent requests from the same client.
func (s *FileStore) Update(ctx context.Context, fn func(map[string]Entry) map[string]Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked()
	if err != nil {
		return err
	}
	return s.saveLocked(fn(entries))
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
