package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

func TestRunTrackerCounters(t *testing.T) {
	db := newTestDB(t)
	tracker := NewRunTracker(db, 2, nil)

	run, err := tracker.Start(context.Background(), "sreality")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	tracker.Record(run, OutcomeNew)
	tracker.Record(run, OutcomeUpdated)
	tracker.Record(run, OutcomePriceChanged)
	tracker.Record(run, OutcomeSkipped)

	require.NoError(t, tracker.Finish(context.Background(), run, true))

	runs, err := db.GetRecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].ListingsFound)
	assert.Equal(t, 1, runs[0].ListingsNew)
	assert.Equal(t, 2, runs[0].ListingsUpdated)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestRunTrackerFailedRun(t *testing.T) {
	db := newTestDB(t)
	tracker := NewRunTracker(db, 2, nil)

	run, err := tracker.Start(context.Background(), "sreality")
	require.NoError(t, err)
	require.NoError(t, tracker.Finish(context.Background(), run, false))

	runs, err := db.GetRecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
}

func TestMarkMissingRemovesAfterThreshold(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)
	tracker := NewRunTracker(db, 2, nil)
	ctx := context.Background()

	_, kept, err := r.Ingest(ctx, rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)
	_, gone, err := r.Ingest(ctx, rawListing("sreality", "a2", "4 000 000"))
	require.NoError(t, err)

	seen := map[string]struct{}{"a1": {}}

	// First and second misses only count up.
	for i := 1; i <= 2; i++ {
		removed, err := tracker.MarkMissing(ctx, "sreality", seen)
		require.NoError(t, err)
		assert.Zero(t, removed)

		p, err := db.GetProperty(gone.ID)
		require.NoError(t, err)
		assert.Equal(t, i, p.MissedRuns)
		assert.Equal(t, models.StatusActive, p.Status)
	}

	// The third consecutive miss crosses the threshold.
	removed, err := tracker.MarkMissing(ctx, "sreality", seen)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	p, err := db.GetProperty(gone.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemoved, p.Status)

	p, err = db.GetProperty(kept.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, p.Status)
	assert.Zero(t, p.MissedRuns)
}

func TestMarkMissingSkipsEmptyRun(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)
	tracker := NewRunTracker(db, 2, nil)
	ctx := context.Background()

	_, p, err := r.Ingest(ctx, rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	removed, err := tracker.MarkMissing(ctx, "sreality", nil)
	require.NoError(t, err)
	assert.Zero(t, removed)

	reloaded, err := db.GetProperty(p.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.MissedRuns)
}

func TestMarkMissingIgnoresOtherSources(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)
	tracker := NewRunTracker(db, 0, nil)
	ctx := context.Background()

	raw := rawListing("bezrealitky", "b1", "5 000 000")
	raw.Latitude = nil
	raw.Longitude = nil
	_, other, err := r.Ingest(ctx, raw)
	require.NoError(t, err)

	_, _, err = r.Ingest(ctx, rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	removed, err := tracker.MarkMissing(ctx, "sreality", map[string]struct{}{"a1": {}})
	require.NoError(t, err)
	assert.Zero(t, removed)

	reloaded, err := db.GetProperty(other.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.MissedRuns)
	assert.Equal(t, models.StatusActive, reloaded.Status)
}
