package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueStoreCreateAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.json")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store := NewIssueStore(path, WithIssueClock(func() time.Time { return current }))

	first, err := store.Create(context.Background(), "Deep Water", "subtitles out of sync", "mallory")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, IssuePending, first.Status)

	current = base.Add(time.Minute)
	second, err := store.Create(context.Background(), "Watershed", "episode 3 missing", "trent")
	require.NoError(t, err)

	issues, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, second.ID, issues[0].ID, "newest issue listed first")
	assert.Equal(t, first.ID, issues[1].ID)
}

func TestIssueStoreListOrdering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.json")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store := NewIssueStore(path, WithIssueClock(func() time.Time { return current }))

	for i, title := range []string{"a", "b", "c", "d"} {
		current = base.Add(time.Duration(i) * time.Hour)
		_, err := store.Create(context.Background(), title, "broken", "")
		require.NoError(t, err)
	}

	issues, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 4)
	for i := 1; i < len(issues); i++ {
		assert.True(t, issues[i-1].CreatedAt.After(issues[i].CreatedAt),
			"issues must be sorted by createdAt descending")
	}
}

func TestIssueStoreUpdateStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.json")
	store := NewIssueStore(path)

	issue, err := store.Create(context.Background(), "Deep Water", "wrong audio track", "")
	require.NoError(t, err)

	updated, err := store.UpdateStatus(context.Background(), issue.ID, IssueResolved)
	require.NoError(t, err)
	assert.Equal(t, IssueResolved, updated.Status)

	// Round-trip through a fresh store instance.
	reread := NewIssueStore(path)
	issues, err := reread.List(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueResolved, issues[0].Status)
}

func TestIssueStoreUpdateStatusValidation(t *testing.T) {
	store := NewIssueStore(filepath.Join(t.TempDir(), "issues.json"))

	issue, err := store.Create(context.Background(), "Deep Water", "stutters", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      string
		status  IssueStatus
		wantErr error
	}{
		{name: "unknown status", id: issue.ID, status: IssueStatus("archived"), wantErr: ErrInvalidStatus},
		{name: "unknown id", id: "missing", status: IssueDismissed, wantErr: ErrIssueNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.UpdateStatus(context.Background(), tt.id, tt.status)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIssueStoreMalformedFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewIssueStore(path)
	issues, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestIssueStoreCreateRequiresDescription(t *testing.T) {
	store := NewIssueStore(filepath.Join(t.TempDir(), "issues.json"))

	_, err := store.Create(context.Background(), "Deep Water", "", "")
	assert.ErrorIs(t, err, ErrEmptyIssueBody)
}

func TestInviteStoreVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invites.json")
	usedAt := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	writeInvites(t, path, []Invite{
		{Code: "WELCOME-2025", Active: true, CreatedAt: usedAt},
		{Code: "RETIRED", Active: false, CreatedAt: usedAt},
		{Code: "TAKEN", Active: true, UsedBy: "mallory", UsedAt: &usedAt, CreatedAt: usedAt},
	})

	store := NewInviteStore(path)

	tests := []struct {
		name string
		code string
		want bool
	}{
		{name: "exact match", code: "WELCOME-2025", want: true},
		{name: "case-insensitive match", code: "welcome-2025", want: true},
		{name: "mixed case match", code: "Welcome-2025", want: true},
		{name: "inactive code", code: "RETIRED", want: false},
		{name: "already used", code: "TAKEN", want: false},
		{name: "unknown code", code: "NOPE", want: false},
		{name: "empty code", code: "", want: false},
		{name: "whitespace only", code: "   ", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := store.Verify(context.Background(), tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestInviteStoreMissingFile(t *testing.T) {
	store := NewInviteStore(filepath.Join(t.TempDir(), "absent.json"))

	ok, err := store.Verify(context.Background(), "WELCOME-2025")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInviteStoreCanceledContext(t *testing.T) {
	store := NewInviteStore(filepath.Join(t.TempDir(), "invites.json"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Verify(ctx, "WELCOME-2025")
	assert.ErrorIs(t, err, context.Canceled)
}

func writeInvites(t *testing.T, path string, invites []Invite) {
	t.Helper()
	require.NoError(t, writeJSONFile(path, invites))
}
