package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *RelayJournal {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRelayJournal(db)
}

func TestRelayJournalAppendRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []RelayEntry{
		{SessionID: "s1", Verb: "BCST", RelayID: "foo", Outcome: "stored", Args: []string{"x", "y"}, CreatedAt: base},
		{SessionID: "s2", Verb: "RQST", RelayID: "foo", Outcome: "matched", Args: []string{"x", "y"}, CreatedAt: base.Add(time.Second)},
		{SessionID: "s3", Verb: "RQST", RelayID: "bar", Outcome: "not_found", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, j.Append(ctx, e))
	}

	all, err := j.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].SessionID, "newest first")
	assert.Nil(t, all[0].Args)
	assert.True(t, all[0].CreatedAt.Equal(base.Add(2*time.Second)))

	foo, err := j.Recent(ctx, "foo", 10)
	require.NoError(t, err)
	require.Len(t, foo, 2)
	assert.Equal(t, "matched", foo[0].Outcome)
	assert.Equal(t, []string{"x", "y"}, foo[1].Args)

	limited, err := j.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRelayJournalRejectsIncompleteEntry(t *testing.T) {
	t.Parallel()
	j := openJournal(t)

	err := j.Append(context.Background(), RelayEntry{SessionID: "s1", Verb: "BCST"})
	assert.Error(t, err)
}

func TestRelayJournalDefaultsTimestamp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)
	fixed := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	require.NoError(t, j.Append(ctx, RelayEntry{SessionID: "s1", Verb: "NOPE", Outcome: "ignored"}))
	got, err := j.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].CreatedAt.Equal(fixed))
	assert.Empty(t, got[0].RelayID)
}
