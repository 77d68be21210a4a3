package database

import (
	"fmt"
	"time"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

// DashboardStats are the aggregate counters shown on the dashboard header.
type DashboardStats struct {
	TotalActive     int64            `json:"total_active"`
	NewToday        int64            `json:"new_today"`
	PriceDropsToday int64            `json:"price_drops_today"`
	RemovedToday    int64            `json:"removed_today"`
	BySource        map[string]int64 `json:"by_source"`
	ByType          map[string]int64 `json:"by_type"`
	ByTransaction   map[string]int64 `json:"by_transaction"`
}

func (d *Database) GetDashboardStats(now time.Time) (*DashboardStats, error) {
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stats := &DashboardStats{
		BySource:      map[string]int64{},
		ByType:        map[string]int64{},
		ByTransaction: map[string]int64{},
	}

	err := d.db.Model(&models.Property{}).
		Where("status = ?", models.StatusActive).
		Count(&stats.TotalActive).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count active properties: %w", err)
	}

	err = d.db.Model(&models.Property{}).
		Where("status = ? AND first_seen_at >= ?", models.StatusActive, todayStart).
		Count(&stats.NewToday).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count new properties: %w", err)
	}

	// Every new listing also writes an initial price-history row, so those
	// are subtracted to leave genuine price changes.
	var touched int64
	err = d.db.Model(&models.PriceHistoryEntry{}).
		Where("recorded_at >= ?", todayStart).
		Distinct("property_id").
		Count(&touched).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count price changes: %w", err)
	}
	stats.PriceDropsToday = touched - stats.NewToday
	if stats.PriceDropsToday < 0 {
		stats.PriceDropsToday = 0
	}

	err = d.db.Model(&models.Property{}).
		Where("status = ? AND updated_at >= ?", models.StatusRemoved, todayStart).
		Count(&stats.RemovedToday).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count removed properties: %w", err)
	}

	type bucket struct {
		Key   string
		Count int64
	}
	fill := func(column string, dest map[string]int64) error {
		var rows []bucket
		err := d.db.Model(&models.Property{}).
			Select(column+" AS key, COUNT(*) AS count").
			Where("status = ? AND "+column+" != ''", models.StatusActive).
			Group(column).
			Scan(&rows).Error
		if err != nil {
			return err
		}
		for _, r := range rows {
			dest[r.Key] = r.Count
		}
		return nil
	}
	if err := fill("source", stats.BySource); err != nil {
		return nil, fmt.Errorf("failed to group by source: %w", err)
	}
	if err := fill("property_type", stats.ByType); err != nil {
		return nil, fmt.Errorf("failed to group by type: %w", err)
	}
	if err := fill("transaction_type", stats.ByTransaction); err != nil {
		return nil, fmt.Errorf("failed to group by transaction: %w", err)
	}

	return stats, nil
}

// CityCount is one row of the per-city listing breakdown.
type CityCount struct {
	City  string `json:"city"`
	Count int64  `json:"count"`
}

func (d *Database) GetCityCounts(limit int) ([]CityCount, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []CityCount
	err := d.db.Model(&models.Property{}).
		Select("city, COUNT(*) AS count").
		Where("status = ? AND city != ''", models.StatusActive).
		Group("city").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count cities: %w", err)
	}
	return rows, nil
}

// GetRecentRuns returns the latest scrape runs, newest first.
func (d *Database) GetRecentRuns(limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.ScrapeRun
	err := d.db.Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load scrape runs: %w", err)
	}
	return runs, nil
}
