package session

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/medialobby/gateway/internal/observability"
)

// FileUserStore reads the user session store: a JSON object mapping
// opaque tokens to UserSession records. The file is re-read on every
// lookup; staleness is bounded by write-then-read consistency of the
// issuing subsystem.
type FileUserStore struct {
	path   string
	logger observability.Logger
}

// NewFileUserStore creates a user session store over the given file.
func NewFileUserStore(path string, logger observability.Logger) *FileUserStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FileUserStore{path: path, logger: logger}
}

// Lookup implements Store.
func (s *FileUserStore) Lookup(ctx context.Context, token string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok := readStoreFile(s.path, s.logger)
	if !ok {
		return nil, nil
	}

	var sessions map[string]UserSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		s.logger.Warn("user session store is malformed",
			observability.String("path", s.path),
			observability.Error(err),
		)
		return nil, nil
	}

	sess, ok := sessions[token]
	if !ok {
		return nil, nil
	}

	return &Record{
		Token:     token,
		ExpiresAt: sess.ExpiresAt,
		User:      &sess,
	}, nil
}

// FileAdminStore reads the admin session store: a JSON array of
// AdminSession records with epoch-millis expiry.
type FileAdminStore struct {
	path   string
	logger observability.Logger
}

// NewFileAdminStore creates an admin session store over the given file.
func NewFileAdminStore(path string, logger observability.Logger) *FileAdminStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FileAdminStore{path: path, logger: logger}
}

// Lookup implements Store.
func (s *FileAdminStore) Lookup(ctx context.Context, token string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok := readStoreFile(s.path, s.logger)
	if !ok {
		return nil, nil
	}

	var sessions []AdminSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		s.logger.Warn("admin session store is malformed",
			observability.String("path", s.path),
			observability.Error(err),
		)
		return nil, nil
	}

	for _, sess := range sessions {
		if sess.SessionID == token {
			return &Record{
				Token:     token,
				ExpiresAt: time.UnixMilli(sess.ExpiresAt),
			}, nil
		}
	}
	return nil, nil
}

// readStoreFile reads a session file, treating absence and read failures
// as an empty store. Only genuinely unexpected errors are logged.
func readStoreFile(path string, logger observability.Logger) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to read session store",
				observability.String("path", path),
				observability.Error(err),
			)
		}
		return nil, false
	}
	return data, true
}
