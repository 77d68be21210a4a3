package stats

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

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

var seedCounter int64

func seedProperty(t *testing.T, db *database.Database, kuKod *int, kuNazev, city string, price, size float64) {
	t.Helper()
	now := time.Now().UTC()
	p := models.Property{
		Source:          "sreality",
		ExternalID:      fmt.Sprintf("seed-%d", atomic.AddInt64(&seedCounter, 1)),
		PropertyType:    "byt",
		TransactionType: "prodej",
		Price:           &price,
		SizeM2:          &size,
		KuKod:           kuKod,
		KuNazev:         kuNazev,
		City:            city,
		Status:          models.StatusActive,
		FirstSeenAt:     now,
		LastSeenAt:      now,
	}
	require.NoError(t, db.DB().Create(&p).Error)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 20.0, Median([]float64{30, 10, 20}))
	assert.Equal(t, 25.0, Median([]float64{40, 10, 30, 20}))
	assert.Equal(t, 7.0, Median([]float64{7}))
	assert.Equal(t, 0.0, Median(nil))
}

func TestMean(t *testing.T) {
	assert.Equal(t, 20.0, Mean([]float64{10, 20, 30}))
	assert.Equal(t, 0.0, Mean(nil))
}

func TestAggregatorGroupsByUnitAndCity(t *testing.T) {
	db := newTestDB(t)
	vinohrady := 727164

	// Three samples in one cadastral unit, 100k / 120k / 140k per m2.
	seedProperty(t, db, &vinohrady, "Vinohrady", "Praha", 5000000, 50)
	seedProperty(t, db, &vinohrady, "Vinohrady", "Praha", 6000000, 50)
	seedProperty(t, db, &vinohrady, "Vinohrady", "Praha", 7000000, 50)

	// No cadastral unit resolved, grouped by city instead.
	seedProperty(t, db, nil, "", "Brno", 4000000, 50)

	agg := NewAggregator(db, AggregatorConfig{MinSamples: 1}, nil)
	written, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	var unit models.KuPriceStats
	require.NoError(t, db.DB().Where("ku_kod = ?", vinohrady).First(&unit).Error)
	assert.Equal(t, "Vinohrady", unit.Region)
	assert.Equal(t, 120000.0, unit.MedianPriceM2)
	assert.Equal(t, 120000.0, unit.AvgPriceM2)
	assert.Equal(t, 3, unit.SampleCount)
	assert.False(t, unit.Stale)

	var city models.KuPriceStats
	require.NoError(t, db.DB().Where("ku_kod = 0 AND region = ?", "Brno").First(&city).Error)
	assert.Equal(t, 80000.0, city.MedianPriceM2)
	assert.Equal(t, 1, city.SampleCount)
}

func TestAggregatorFiltersImplausibleUnitPrices(t *testing.T) {
	db := newTestDB(t)

	seedProperty(t, db, nil, "", "Praha", 5000000, 50) // 100k per m2, in bounds
	seedProperty(t, db, nil, "", "Praha", 100000, 50)  // 2k per m2, too cheap
	seedProperty(t, db, nil, "", "Praha", 50000000, 5) // 10M per m2, absurd

	agg := NewAggregator(db, AggregatorConfig{}, nil)
	written, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	var row models.KuPriceStats
	require.NoError(t, db.DB().Where("region = ?", "Praha").First(&row).Error)
	assert.Equal(t, 1, row.SampleCount)
	assert.Equal(t, 100000.0, row.MedianPriceM2)
}

func TestAggregatorMinSamples(t *testing.T) {
	db := newTestDB(t)
	seedProperty(t, db, nil, "", "Praha", 5000000, 50)

	agg := NewAggregator(db, AggregatorConfig{MinSamples: 3}, nil)
	written, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestAggregatorDeletesStaleGroups(t *testing.T) {
	db := newTestDB(t)
	seedProperty(t, db, nil, "", "Praha", 5000000, 50)

	agg := NewAggregator(db, AggregatorConfig{}, nil)
	_, err := agg.Run(context.Background())
	require.NoError(t, err)

	// The only sample goes away before the next run.
	require.NoError(t, db.DB().
		Model(&models.Property{}).
		Where("city = ?", "Praha").
		Update("status", models.StatusRemoved).Error)

	written, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, written)

	var count int64
	require.NoError(t, db.DB().Model(&models.KuPriceStats{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAggregatorFlagsStaleGroups(t *testing.T) {
	db := newTestDB(t)
	seedProperty(t, db, nil, "", "Praha", 5000000, 50)

	agg := NewAggregator(db, AggregatorConfig{StalePolicy: StalePolicyFlag}, nil)
	_, err := agg.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, db.DB().
		Model(&models.Property{}).
		Where("city = ?", "Praha").
		Update("status", models.StatusRemoved).Error)

	_, err = agg.Run(context.Background())
	require.NoError(t, err)

	var row models.KuPriceStats
	require.NoError(t, db.DB().Where("region = ?", "Praha").First(&row).Error)
	assert.True(t, row.Stale)
	assert.Equal(t, 1, row.SampleCount)
}

func TestAggregatorExcludesDuplicates(t *testing.T) {
	db := newTestDB(t)
	seedProperty(t, db, nil, "", "Praha", 5000000, 50)

	// Mark it as a duplicate of some root; it must stop counting.
	require.NoError(t, db.DB().
		Model(&models.Property{}).
		Where("city = ?", "Praha").
		Update("duplicate_of", 999).Error)

	agg := NewAggregator(db, AggregatorConfig{}, nil)
	written, err := agg.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, written)
}
