package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/models"
)

// Stale policies for groups that lost all their samples since the last run.
const (
	StalePolicyDelete = "delete"
	StalePolicyFlag   = "flag"
)

// AggregatorConfig bounds which samples enter the aggregation and what
// happens to groups that disappear.
type AggregatorConfig struct {
	MinSamples  int
	StalePolicy string
	PriceM2Min  float64
	PriceM2Max  float64
}

// Aggregator recomputes per-region unit-price statistics from the active
// listing set. One row per (cadastral unit or city, property type,
// transaction type) group.
type Aggregator struct {
	db     *gorm.DB
	cfg    AggregatorConfig
	logger *logrus.Logger
}

func NewAggregator(db *database.Database, cfg AggregatorConfig, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 1
	}
	if cfg.StalePolicy != StalePolicyFlag {
		cfg.StalePolicy = StalePolicyDelete
	}
	if cfg.PriceM2Min <= 0 {
		cfg.PriceM2Min = 5000
	}
	if cfg.PriceM2Max <= cfg.PriceM2Min {
		cfg.PriceM2Max = 500000
	}
	return &Aggregator{db: db.DB(), cfg: cfg, logger: logger}
}

type groupKey struct {
	KuKod           int
	Region          string
	PropertyType    string
	TransactionType string
}

// Run recomputes every aggregate group and applies the stale policy to
// groups no longer backed by any sample. Returns the number of groups
// written.
func (a *Aggregator) Run(ctx context.Context) (int, error) {
	startedAt := time.Now().UTC()

	var props []models.Property
	err := a.db.WithContext(ctx).
		Select("ku_kod", "ku_nazev", "city", "property_type", "transaction_type", "price", "size_m2").
		Where("status = ?", models.StatusActive).
		Where("duplicate_of IS NULL").
		Where("price IS NOT NULL AND size_m2 IS NOT NULL AND size_m2 > 0").
		Where("property_type != '' AND transaction_type != ''").
		Find(&props).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load aggregation samples: %w", err)
	}

	groups := make(map[groupKey][]float64)
	for _, p := range props {
		ppm2 := *p.Price / *p.SizeM2
		if ppm2 < a.cfg.PriceM2Min || ppm2 > a.cfg.PriceM2Max {
			continue
		}
		key := groupKey{PropertyType: p.PropertyType, TransactionType: p.TransactionType}
		switch {
		case p.KuKod != nil:
			key.KuKod = *p.KuKod
			key.Region = p.KuNazev
		case p.City != "":
			key.Region = p.City
		default:
			continue
		}
		groups[key] = append(groups[key], ppm2)
	}

	written := 0
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, samples := range groups {
			if len(samples) < a.cfg.MinSamples {
				continue
			}
			row := models.KuPriceStats{
				KuKod:           key.KuKod,
				Region:          key.Region,
				PropertyType:    key.PropertyType,
				TransactionType: key.TransactionType,
				MedianPriceM2:   Median(samples),
				AvgPriceM2:      Mean(samples),
				SampleCount:     len(samples),
				Stale:           false,
				ComputedAt:      startedAt,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "ku_kod"}, {Name: "region"},
					{Name: "property_type"}, {Name: "transaction_type"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"median_price_m2", "avg_price_m2", "sample_count", "stale", "computed_at",
				}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("failed to upsert price stats: %w", err)
			}
			written++
		}

		// Groups untouched by this run have no samples left.
		leftovers := tx.Model(&models.KuPriceStats{}).Where("computed_at < ?", startedAt)
		if a.cfg.StalePolicy == StalePolicyFlag {
			if err := leftovers.Update("stale", true).Error; err != nil {
				return fmt.Errorf("failed to flag stale stats: %w", err)
			}
			return nil
		}
		if err := tx.Where("computed_at < ?", startedAt).Delete(&models.KuPriceStats{}).Error; err != nil {
			return fmt.Errorf("failed to delete stale stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	a.logger.WithFields(logrus.Fields{
		"groups":  written,
		"samples": len(props),
	}).Info("Price statistics recomputed")
	return written, nil
}

// Median of the samples; the mean of the two middle values for even counts.
func Median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
