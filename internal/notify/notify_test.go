package notify

import (
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

func sampleProperty() *models.Property {
	price := 5000000.0
	size := 54.0
	return &models.Property{
		ID:              1,
		PropertyType:    "byt",
		TransactionType: "prodej",
		Disposition:     "2+kk",
		Price:           &price,
		SizeM2:          &size,
		City:            "Praha",
		District:        "Smíchov",
	}
}

func TestMatches(t *testing.T) {
	p := sampleProperty()

	assert.True(t, Matches(&models.UserFilter{}, p))
	assert.True(t, Matches(&models.UserFilter{City: "praha"}, p))
	assert.True(t, Matches(&models.UserFilter{District: "smichov"}, p))
	assert.True(t, Matches(&models.UserFilter{Disposition: "1+kk, 2+kk"}, p))

	assert.False(t, Matches(&models.UserFilter{City: "Brno"}, p))
	assert.False(t, Matches(&models.UserFilter{Disposition: "3+kk"}, p))
	assert.False(t, Matches(&models.UserFilter{PropertyType: "dum"}, p))

	min := 6000000.0
	assert.False(t, Matches(&models.UserFilter{PriceMin: &min}, p))
	max := 6000000.0
	assert.True(t, Matches(&models.UserFilter{PriceMax: &max}, p))

	unpriced := sampleProperty()
	unpriced.Price = nil
	assert.False(t, Matches(&models.UserFilter{PriceMax: &max}, unpriced))
}

func TestDropPercent(t *testing.T) {
	assert.InDelta(t, 10, DropPercent(5000000, 4500000), 0.001)
	assert.InDelta(t, 0, DropPercent(0, 4500000), 0.001)
	assert.True(t, DropPercent(5000000, 5500000) < 0)
}

func TestFiltersForNewListing(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	p := seedNotifyProperty(t, db)

	require.NoError(t, db.CreateFilter(&models.UserFilter{
		ChatID: 10, City: "Praha", NotifyNew: true, Active: true,
	}))
	require.NoError(t, db.CreateFilter(&models.UserFilter{
		ChatID: 11, City: "Brno", NotifyNew: true, Active: true,
	}))
	require.NoError(t, db.CreateFilter(&models.UserFilter{
		ChatID: 12, City: "Praha", NotifyNew: false, Active: true,
	}))

	filters, err := svc.FiltersForNewListing(p)
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, int64(10), filters[0].ChatID)

	// Logging the alert suppresses the next round.
	require.NoError(t, svc.MarkNotified(filters[0].ID, p.ID, models.NotifyNewListing))
	filters, err = svc.FiltersForNewListing(p)
	require.NoError(t, err)
	assert.Empty(t, filters)
}

func TestFiltersForPriceDropThreshold(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)
	p := seedNotifyProperty(t, db)

	require.NoError(t, db.CreateFilter(&models.UserFilter{
		ChatID: 10, NotifyPriceDrop: true, PriceDropThreshold: 5, Active: true,
	}))

	// A 2 percent drop stays below the 5 percent threshold.
	filters, err := svc.FiltersForPriceDrop(p, 5000000, 4900000)
	require.NoError(t, err)
	assert.Empty(t, filters)

	filters, err = svc.FiltersForPriceDrop(p, 5000000, 4500000)
	require.NoError(t, err)
	assert.Len(t, filters, 1)

	// A price increase never alerts.
	filters, err = svc.FiltersForPriceDrop(p, 5000000, 5500000)
	require.NoError(t, err)
	assert.Empty(t, filters)
}

func seedNotifyProperty(t *testing.T, db *database.Database) *models.Property {
	t.Helper()
	p := sampleProperty()
	p.ID = 0
	p.Source = "sreality"
	p.ExternalID = "n1"
	p.Status = models.StatusActive
	require.NoError(t, db.DB().Create(p).Error)
	return p
}
