package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medialobby/gateway/internal/observability"
)

// IssueStatus is the workflow state of a reported content issue.
type IssueStatus string

// Valid issue statuses.
const (
	IssuePending   IssueStatus = "pending"
	IssueResolved  IssueStatus = "resolved"
	IssueDismissed IssueStatus = "dismissed"
)

// Issue lookup and update errors.
var (
	ErrIssueNotFound  = errors.New("content issue not found")
	ErrInvalidStatus  = errors.New("invalid issue status")
	ErrEmptyIssueBody = errors.New("issue description must not be empty")
)

// ValidIssueStatus reports whether s is one of the allowed statuses.
func ValidIssueStatus(s IssueStatus) bool {
	switch s {
	case IssuePending, IssueResolved, IssueDismissed:
		return true
	}
	return false
}

// Issue is one user-reported content problem.
type Issue struct {
	ID          string      `json:"id"`
	MediaTitle  string      `json:"mediaTitle"`
	Description string      `json:"description"`
	ReportedBy  string      `json:"reportedBy,omitempty"`
	Status      IssueStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// IssueStore persists content issues in a flat JSON file. All mutations are
// serialized behind a mutex and written with an atomic replace.
type IssueStore struct {
	path   string
	logger observability.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// IssueStoreOption is a functional option for configuring the store.
type IssueStoreOption func(*IssueStore)

// WithIssueLogger sets the logger for the store.
func WithIssueLogger(logger observability.Logger) IssueStoreOption {
	return func(s *IssueStore) {
		s.logger = logger
	}
}

// WithIssueClock overrides the time source, for tests.
func WithIssueClock(now func() time.Time) IssueStoreOption {
	return func(s *IssueStore) {
		s.now = now
	}
}

// NewIssueStore creates a store backed by the JSON file at path.
func NewIssueStore(path string, opts ...IssueStoreOption) *IssueStore {
	s := &IssueStore{
		path:   path,
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// List returns all issues sorted newest-first by creation time. A missing or
// malformed file yields an empty list.
func (s *IssueStore) List(ctx context.Context) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issues := s.load()
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].CreatedAt.After(issues[j].CreatedAt)
	})
	return issues, nil
}

// Create appends a new pending issue and returns it with its generated id.
func (s *IssueStore) Create(ctx context.Context, mediaTitle, description, reportedBy string) (*Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if description == "" {
		return nil, ErrEmptyIssueBody
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issues := s.load()

	now := s.now().UTC()
	issue := Issue{
		ID:          uuid.NewString(),
		MediaTitle:  mediaTitle,
		Description: description,
		ReportedBy:  reportedBy,
		Status:      IssuePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	issues = append(issues, issue)

	if err := writeJSONFile(s.path, issues); err != nil {
		return nil, fmt.Errorf("persist issues: %w", err)
	}
	return &issue, nil
}

// UpdateStatus sets the status of the issue with the given id.
func (s *IssueStore) UpdateStatus(ctx context.Context, id string, status IssueStatus) (*Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidIssueStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issues := s.load()
	for i := range issues {
		if issues[i].ID != id {
			continue
		}
		issues[i].Status = status
		issues[i].UpdatedAt = s.now().UTC()

		if err := writeJSONFile(s.path, issues); err != nil {
			return nil, fmt.Errorf("persist issues: %w", err)
		}
		return &issues[i], nil
	}
	return nil, ErrIssueNotFound
}

// load reads the issue file, degrading a missing or malformed file to an
// empty list.
func (s *IssueStore) load() []Issue {
	var issues []Issue
	if err := readJSONFile(s.path, &issues); err != nil {
		s.logger.Warn("issue store unreadable, starting empty",
			observability.String("path", s.path),
			observability.Error(err),
		)
		return []Issue{}
	}
	if issues == nil {
		issues = []Issue{}
	}
	return issues
}
