package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/medialobby/gateway/internal/observability"
)

// Invite is one registration invite code.
type Invite struct {
	Code      string     `json:"code"`
	Active    bool       `json:"active"`
	UsedBy    string     `json:"usedBy,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Used reports whether the invite has already been redeemed.
func (i Invite) Used() bool {
	return i.UsedBy != "" || i.UsedAt != nil
}

// InviteStore verifies invite codes against a flat JSON file.
type InviteStore struct {
	path   string
	logger observability.Logger
	mu     sync.Mutex
}

// InviteStoreOption is a functional option for configuring the store.
type InviteStoreOption func(*InviteStore)

// WithInviteLogger sets the logger for the store.
func WithInviteLogger(logger observability.Logger) InviteStoreOption {
	return func(s *InviteStore) {
		s.logger = logger
	}
}

// NewInviteStore creates a store backed by the JSON file at path.
func NewInviteStore(path string, opts ...InviteStoreOption) *InviteStore {
	s := &InviteStore{
		path:   path,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Verify reports whether code matches an active, unused invite. Matching is
// case-insensitive. A missing or malformed file means no invite matches.
func (s *InviteStore) Verify(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, invite := range s.load() {
		if !strings.EqualFold(invite.Code, code) {
			continue
		}
		return invite.Active && !invite.Used(), nil
	}
	return false, nil
}

func (s *InviteStore) load() []Invite {
	var invites []Invite
	if err := readJSONFile(s.path, &invites); err != nil {
		s.logger.Warn("invite store unreadable, treating as empty",
			observability.String("path", s.path),
			observability.Error(err),
		)
		return nil
	}
	return invites
}
