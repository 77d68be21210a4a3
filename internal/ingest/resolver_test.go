package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/models"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestResolver(t *testing.T, db *database.Database) *Resolver {
	t.Helper()
	return NewResolver(db, nil, nil, ResolverConfig{
		ScoreThreshold:      5,
		MaxDistanceMeters:   50,
		CandidateWindowDays: 30,
	}, nil)
}

func rawListing(source, externalID, price string) models.RawListing {
	size := 54.0
	lat, lng := 50.0755, 14.4378
	return models.RawListing{
		Source:          source,
		ExternalID:      externalID,
		URL:             "https://example.com/" + externalID,
		Title:           "Prodej bytu 2+kk, Praha",
		PropertyType:    "byt",
		TransactionType: "prodej",
		Disposition:     "2+kk",
		Price:           price,
		SizeM2:          &size,
		Latitude:        &lat,
		Longitude:       &lng,
		City:            "Praha",
	}
}

func TestIngestCreatesPropertyWithInitialHistory(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	outcome, p, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcome)
	require.NotNil(t, p)
	assert.Equal(t, models.StatusActive, p.Status)

	history, err := db.GetPriceHistory(p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 5000000.0, history[0].Price)
	require.NotNil(t, history[0].PricePerM2)
	assert.InDelta(t, 5000000.0/54.0, *history[0].PricePerM2, 0.01)
}

func TestIngestSamePriceAppendsNothing(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, p, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	outcome, _, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	history, err := db.GetPriceHistory(p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIngestPriceChangeAppendsOneEntry(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, p, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	outcome, updated, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "4 800 000"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePriceChanged, outcome)
	assert.Equal(t, p.ID, updated.ID)

	history, err := db.GetPriceHistory(p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 5000000.0, history[0].Price)
	assert.Equal(t, 4800000.0, history[1].Price)
}

func TestIngestPreservesIdentityAndFirstSeen(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, first, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	_, second, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.FirstSeenAt.Unix(), second.FirstSeenAt.Unix())
	assert.False(t, second.LastSeenAt.Before(first.LastSeenAt))
}

func TestIngestReactivatesRemovedListing(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, p, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	err = db.DB().Model(&models.Property{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{"status": models.StatusRemoved, "missed_runs": 3}).Error
	require.NoError(t, err)

	_, revived, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, revived.Status)
	assert.Equal(t, 0, revived.MissedRuns)
}

func TestIngestKeepsSoldStatusOnReobservation(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, p, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	require.NoError(t, db.MarkSold(p.ID))

	outcome, again, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, models.StatusSold, again.Status)
}

func TestIngestNullPriceRoundTripKeepsOneEntry(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, p, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	// One run reports "Cena dohodou", then the old price returns.
	_, _, err = r.Ingest(context.Background(), rawListing("sreality", "a1", "Cena dohodou"))
	require.NoError(t, err)

	_, relisted, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)
	require.NotNil(t, relisted.Price)

	history, err := db.GetPriceHistory(p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIngestSkipsInvalidListing(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	outcome, p, err := r.Ingest(context.Background(), models.RawListing{Source: "sreality"})
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestIngestLinksCrossSourceDuplicate(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, root, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	_, dup, err := r.Ingest(context.Background(), rawListing("bezrealitky", "b1", "5 100 000"))
	require.NoError(t, err)

	require.NotNil(t, dup.DuplicateOf)
	assert.Equal(t, root.ID, *dup.DuplicateOf)
}

func TestIngestNeverLinksWithinOneSource(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, _, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	_, second, err := r.Ingest(context.Background(), rawListing("sreality", "a2", "5 000 000"))
	require.NoError(t, err)
	assert.Nil(t, second.DuplicateOf)
}

func TestIngestNeverChainsDuplicates(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, root, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	_, dup, err := r.Ingest(context.Background(), rawListing("bezrealitky", "b1", "5 000 000"))
	require.NoError(t, err)
	require.NotNil(t, dup.DuplicateOf)

	// The third arrival must link to the root, not to the duplicate.
	_, third, err := r.Ingest(context.Background(), rawListing("idnes", "c1", "5 000 000"))
	require.NoError(t, err)
	require.NotNil(t, third.DuplicateOf)
	assert.Equal(t, root.ID, *third.DuplicateOf)
}

func TestIngestNoCoordinatesNoLink(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	_, _, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)

	raw := rawListing("bezrealitky", "b1", "5 000 000")
	raw.Latitude = nil
	raw.Longitude = nil
	_, second, err := r.Ingest(context.Background(), raw)
	require.NoError(t, err)
	assert.Nil(t, second.DuplicateOf)
}

func TestWeightedScorer(t *testing.T) {
	scorer := WeightedScorer{MaxDistanceMeters: 50}

	lat1, lng1 := 50.0755, 14.4378
	lat2, lng2 := 50.0756, 14.4379 // roughly 13 meters away
	size1, size2 := 54.0, 55.0
	price1, price2 := 5000000.0, 5100000.0

	a := &models.Property{
		Latitude: &lat1, Longitude: &lng1, Disposition: "2+kk",
		SizeM2: &size1, Price: &price1,
		PropertyType: "byt", TransactionType: "prodej",
	}
	b := &models.Property{
		Latitude: &lat2, Longitude: &lng2, Disposition: "2+kk",
		SizeM2: &size2, Price: &price2,
		PropertyType: "byt", TransactionType: "prodej",
	}
	assert.Equal(t, 6, scorer.Score(a, b))

	b.Disposition = "3+kk"
	assert.Equal(t, 5, scorer.Score(a, b))

	b.Latitude = nil
	assert.Equal(t, 3, scorer.Score(a, b))
}

func TestHaversineMeters(t *testing.T) {
	// Old Town Square to the Charles Bridge, roughly half a kilometer.
	d := HaversineMeters(50.0875, 14.4213, 50.0865, 14.4114)
	assert.InDelta(t, 715, d, 50)

	assert.InDelta(t, 0, HaversineMeters(50.0, 14.0, 50.0, 14.0), 0.001)
}

func TestDeduplicateSweepLinksLateArrivals(t *testing.T) {
	db := newTestDB(t)
	r := newTestResolver(t, db)

	// Ingested without coordinates, so arrival-time linking never fired.
	raw := rawListing("bezrealitky", "b1", "5 000 000")
	raw.Latitude = nil
	raw.Longitude = nil
	_, older, err := r.Ingest(context.Background(), raw)
	require.NoError(t, err)

	_, newer, err := r.Ingest(context.Background(), rawListing("sreality", "a1", "5 000 000"))
	require.NoError(t, err)
	require.Nil(t, newer.DuplicateOf)

	// Coordinates arrive on a later observation of the older ad.
	_, _, err = r.Ingest(context.Background(), rawListing("bezrealitky", "b1", "5 000 000"))
	require.NoError(t, err)

	linked, err := r.DeduplicateSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, linked)

	// The listing seen first stays the root; the later one links to it.
	reloaded, err := db.GetProperty(newer.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.DuplicateOf)
	assert.Equal(t, older.ID, *reloaded.DuplicateOf)
}
