package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meganz/megacmd-updater/internal/observability"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal", "runs.db"), observability.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBeginFinishRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	runID := uuid.NewString()
	require.NoError(t, db.Begin(ctx, runID, 30))
	require.NoError(t, db.Finish(ctx, runID, 31, OutcomeInstalled, ""))

	runs, err := db.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	r := runs[0]
	assert.Equal(t, runID, r.RunID)
	assert.Equal(t, 30, r.FromVersion)
	assert.True(t, r.FinishedAt.Valid)
	assert.EqualValues(t, 31, r.ToVersion.Int64)
	assert.Equal(t, string(OutcomeInstalled), r.Outcome.String)
	assert.Empty(t, r.Detail.String)
}

func TestFailedRunKeepsDetail(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	runID := uuid.NewString()
	require.NoError(t, db.Begin(ctx, runID, 30))
	require.NoError(t, db.Finish(ctx, runID, 31, OutcomeFailed, "commit failed: rename: permission denied"))

	runs, err := db.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, string(OutcomeFailed), runs[0].Outcome.String)
	assert.Contains(t, runs[0].Detail.String, "rename")
}

func TestRecentOrdersAndLimits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Begin(ctx, uuid.NewString(), 30+i))
	}

	runs, err := db.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// Newest first: the last run begun (from version 34) leads.
	assert.Equal(t, 34, runs[0].FromVersion)
	assert.Equal(t, 33, runs[1].FromVersion)
	assert.Equal(t, 32, runs[2].FromVersion)
}

func TestNilHandleIsNoop(t *testing.T) {
	var db *DB
	ctx := context.Background()

	assert.NoError(t, db.Begin(ctx, "x", 1))
	assert.NoError(t, db.Finish(ctx, "x", 2, OutcomeInstalled, ""))
	runs, err := db.Recent(ctx, 5)
	assert.NoError(t, err)
	assert.Nil(t, runs)
	assert.NoError(t, db.Close())
}
