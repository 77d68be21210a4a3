package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

// UpsertBenchmark writes one externally sourced price point, keyed by its
// natural key. Benchmark collaborators call this; the aggregator never does.
func (d *Database) UpsertBenchmark(b *models.ReferenceBenchmark) error {
	if b.FetchedAt.IsZero() {
		b.FetchedAt = time.Now().UTC()
	}
	err := d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"}, {Name: "region"}, {Name: "property_type"},
			{Name: "transaction_type"}, {Name: "period"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"price_m2", "fetched_at"}),
	}).Create(b).Error
	if err != nil {
		return fmt.Errorf("failed to upsert benchmark: %w", err)
	}
	return nil
}

// LatestBenchmark returns the freshest benchmark row matching the region for
// one external source, or ErrNotFound.
func (d *Database) LatestBenchmark(source, regionPattern, transactionType string) (*models.ReferenceBenchmark, error) {
	var b models.ReferenceBenchmark
	tx := d.db.Where("source = ?", source)
	if regionPattern != "" {
		tx = tx.Where("LOWER(region) LIKE ?", "%"+regionPattern+"%")
	}
	if transactionType != "" {
		tx = tx.Where("transaction_type = ?", transactionType)
	}
	err := tx.Order("fetched_at DESC").First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load benchmark: %w", err)
	}
	return &b, nil
}

// ListKuStats returns the fresh aggregate rows for one transaction type,
// most samples first. Region matching against a city happens in the caller
// since stored names carry diacritics.
func (d *Database) ListKuStats(transactionType, propertyType string) ([]models.KuPriceStats, error) {
	tx := d.db.Where("stale = ?", false)
	if transactionType != "" {
		tx = tx.Where("transaction_type = ?", transactionType)
	}
	if propertyType != "" {
		tx = tx.Where("property_type = ?", propertyType)
	}
	var rows []models.KuPriceStats
	if err := tx.Order("sample_count DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list price stats: %w", err)
	}
	return rows, nil
}

// BestKuStats returns the most populated fresh aggregate row whose region
// matches the pattern. Stale rows are never returned.
func (d *Database) BestKuStats(regionPattern, propertyType, transactionType string, minSamples int) (*models.KuPriceStats, error) {
	var s models.KuPriceStats
	tx := d.db.Where("stale = ?", false).
		Where("transaction_type = ?", transactionType).
		Where("sample_count >= ?", minSamples)
	if regionPattern != "" {
		tx = tx.Where("LOWER(region) LIKE ?", "%"+regionPattern+"%")
	}
	if propertyType != "" {
		tx = tx.Where("property_type = ?", propertyType)
	}
	err := tx.Order("sample_count DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load price stats: %w", err)
	}
	return &s, nil
}
