package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/events"
	"github.com/dslovacek55-hash/Reality/internal/geo"
	"github.com/dslovacek55-hash/Reality/internal/models"
)

// Outcome of ingesting one raw listing.
type Outcome string

const (
	OutcomeNew          Outcome = "new"
	OutcomeUpdated      Outcome = "updated"
	OutcomePriceChanged Outcome = "price_changed"
	OutcomeSkipped      Outcome = "skipped"
)

// Scorer rates how likely two properties describe the same real-world object.
type Scorer interface {
	Score(a, b *models.Property) int
}

// WeightedScorer is the default similarity heuristic. GPS proximity weighs
// double; without coordinates on both sides a pair can never reach the
// default linking threshold.
type WeightedScorer struct {
	MaxDistanceMeters float64
}

func (s WeightedScorer) Score(a, b *models.Property) int {
	score := 0
	if a.Latitude != nil && a.Longitude != nil && b.Latitude != nil && b.Longitude != nil {
		d := HaversineMeters(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
		if d <= s.MaxDistanceMeters {
			score += 2
		}
	}
	if a.Disposition != "" && a.Disposition == b.Disposition {
		score++
	}
	if a.SizeM2 != nil && b.SizeM2 != nil && *b.SizeM2 > 0 {
		ratio := *a.SizeM2 / *b.SizeM2
		if ratio >= 0.95 && ratio <= 1.05 {
			score++
		}
	}
	if a.Price != nil && b.Price != nil && *b.Price > 0 {
		ratio := *a.Price / *b.Price
		if ratio >= 0.90 && ratio <= 1.10 {
			score++
		}
	}
	if a.PropertyType != "" && a.PropertyType == b.PropertyType &&
		a.TransactionType != "" && a.TransactionType == b.TransactionType {
		score++
	}
	return score
}

const earthRadiusMeters = 6371000

// HaversineMeters is the great-circle distance between two WGS84 points.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ResolverConfig tunes identity resolution and duplicate linking.
type ResolverConfig struct {
	ScoreThreshold      int
	MaxDistanceMeters   float64
	CandidateWindowDays int
}

// Resolver owns the ingestion write path: it upserts listings by their
// (source, external_id) identity, tracks price history, attributes cadastral
// units and links cross-source duplicates.
type Resolver struct {
	db         *gorm.DB
	attributor *geo.Attributor
	scorer     Scorer
	publisher  *events.Publisher
	cfg        ResolverConfig
	logger     *logrus.Logger
}

func NewResolver(db *database.Database, attributor *geo.Attributor, publisher *events.Publisher, cfg ResolverConfig, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 5
	}
	if cfg.MaxDistanceMeters <= 0 {
		cfg.MaxDistanceMeters = 50
	}
	if cfg.CandidateWindowDays <= 0 {
		cfg.CandidateWindowDays = 30
	}
	return &Resolver{
		db:         db.DB(),
		attributor: attributor,
		scorer:     WeightedScorer{MaxDistanceMeters: cfg.MaxDistanceMeters},
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
	}
}

// upsertColumns are the fields a re-observation overwrites. Identity, the
// first-seen timestamp and the duplicate link are preserved.
var upsertColumns = []string{
	"url", "title", "description", "property_type", "transaction_type",
	"disposition", "price", "price_currency", "size_m2", "rooms",
	"latitude", "longitude", "ku_kod", "ku_nazev", "city", "district",
	"address", "images", "raw_data", "search_text",
	"status", "missed_runs", "last_seen_at", "updated_at",
}

// Ingest processes one raw listing in its own transaction. Validation
// failures return OutcomeSkipped with an error wrapping ErrValidation; the
// caller logs and moves on.
func (r *Resolver) Ingest(ctx context.Context, raw models.RawListing) (Outcome, *models.Property, error) {
	now := time.Now().UTC()
	p, err := Normalize(raw, now)
	if err != nil {
		return OutcomeSkipped, nil, err
	}
	if r.attributor != nil {
		r.attributor.Attribute(p)
	}

	var (
		outcome  Outcome
		saved    models.Property
		oldPrice *float64
	)

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Property
		findErr := tx.Where("source = ? AND external_id = ?", p.Source, p.ExternalID).
			First(&existing).Error
		isNew := errors.Is(findErr, gorm.ErrRecordNotFound)
		if findErr != nil && !isNew {
			return fmt.Errorf("failed to look up listing: %w", findErr)
		}

		// A manual sold mark survives re-observation; only removed
		// listings reactivate.
		if !isNew && existing.Status == models.StatusSold {
			p.Status = models.StatusSold
		}

		p.UpdatedAt = now
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(p).Error; err != nil {
			return fmt.Errorf("failed to upsert listing: %w", err)
		}

		if err := tx.Where("source = ? AND external_id = ?", p.Source, p.ExternalID).
			First(&saved).Error; err != nil {
			return fmt.Errorf("failed to reload listing: %w", err)
		}

		if isNew {
			outcome = OutcomeNew
			if saved.Price != nil {
				if err := appendPriceEntry(tx, &saved, now); err != nil {
					return err
				}
			}
			return r.linkDuplicate(tx, &saved, now)
		}

		oldPrice = existing.Price
		outcome = OutcomeUpdated
		if priceChanged(existing.Price, saved.Price) && saved.Price != nil {
			outcome = OutcomePriceChanged
			if err := appendPriceEntry(tx, &saved, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return OutcomeSkipped, nil, err
	}

	switch outcome {
	case OutcomeNew:
		if saved.DuplicateOf == nil {
			r.publisher.NewListing(ctx, saved.ID, saved.Source)
		}
	case OutcomePriceChanged:
		if oldPrice != nil && saved.Price != nil && *saved.Price < *oldPrice {
			r.publisher.PriceDrop(ctx, saved.ID, saved.Source, *oldPrice, *saved.Price)
		}
	}
	return outcome, &saved, nil
}

func priceChanged(old, new *float64) bool {
	switch {
	case old == nil && new == nil:
		return false
	case old == nil || new == nil:
		return true
	default:
		return *old != *new
	}
}

func appendPriceEntry(tx *gorm.DB, p *models.Property, now time.Time) error {
	var last models.PriceHistoryEntry
	err := tx.Where("property_id = ?", p.ID).
		Order("recorded_at DESC, id DESC").
		First(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to read price history: %w", err)
	}
	// A price withdrawn and re-listed unchanged is not a new point.
	if err == nil && last.Price == *p.Price {
		return nil
	}
	entry := models.PriceHistoryEntry{
		PropertyID: p.ID,
		Price:      *p.Price,
		PricePerM2: PricePerM2(*p.Price, p.SizeM2),
		RecordedAt: now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append price history: %w", err)
	}
	return nil
}

// linkDuplicate searches other sources for a listing describing the same
// object and, on a sufficiently strong match, points the new row at the
// oldest matching root. Chains never form: candidates are roots themselves.
func (r *Resolver) linkDuplicate(tx *gorm.DB, p *models.Property, now time.Time) error {
	if p.Latitude == nil || p.Longitude == nil {
		return nil
	}

	cutoff := now.AddDate(0, 0, -r.cfg.CandidateWindowDays)
	latDelta, lngDelta := boundingBoxDeltas(*p.Latitude, r.cfg.MaxDistanceMeters)

	var candidates []models.Property
	err := tx.
		Where("id <> ?", p.ID).
		Where("source <> ?", p.Source).
		Where("status = ?", models.StatusActive).
		Where("duplicate_of IS NULL").
		Where("first_seen_at >= ?", cutoff).
		Where("latitude BETWEEN ? AND ?", *p.Latitude-latDelta, *p.Latitude+latDelta).
		Where("longitude BETWEEN ? AND ?", *p.Longitude-lngDelta, *p.Longitude+lngDelta).
		Find(&candidates).Error
	if err != nil {
		return fmt.Errorf("failed to load duplicate candidates: %w", err)
	}

	var root *models.Property
	bestScore := 0
	for i := range candidates {
		c := &candidates[i]
		score := r.scorer.Score(p, c)
		if score < r.cfg.ScoreThreshold {
			continue
		}
		if root == nil || score > bestScore ||
			(score == bestScore && c.FirstSeenAt.Before(root.FirstSeenAt)) {
			root = c
			bestScore = score
		}
	}
	if root == nil {
		return nil
	}

	res := tx.Model(&models.Property{}).
		Where("id = ? AND duplicate_of IS NULL", p.ID).
		Update("duplicate_of", root.ID)
	if res.Error != nil {
		return fmt.Errorf("failed to link duplicate: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		p.DuplicateOf = &root.ID
		r.logger.WithFields(logrus.Fields{
			"property_id": p.ID,
			"root_id":     root.ID,
			"score":       bestScore,
		}).Info("Linked cross-source duplicate")
	}
	return nil
}

// boundingBoxDeltas converts a radius in meters to degree deltas with a small
// slack so the SQL prefilter never cuts off a true match.
func boundingBoxDeltas(lat, meters float64) (latDelta, lngDelta float64) {
	latDelta = meters / 111320 * 1.1
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	lngDelta = meters / (111320 * cos) * 1.1
	return latDelta, lngDelta
}

// DeduplicateSweep re-runs duplicate linking over the whole active set. It
// catches pairs where the later listing arrived before the earlier one had
// coordinates or price filled in. Returns the number of links created.
func (r *Resolver) DeduplicateSweep(ctx context.Context) (int, error) {
	var props []models.Property
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusActive).
		Where("duplicate_of IS NULL").
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Order("first_seen_at ASC, id ASC").
		Find(&props).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load properties for dedup sweep: %w", err)
	}

	linked := 0
	taken := make(map[int64]bool, len(props))
	for i := range props {
		newer := &props[i]
		if taken[newer.ID] {
			continue
		}
		for j := 0; j < i; j++ {
			older := &props[j]
			if taken[older.ID] || older.Source == newer.Source {
				continue
			}
			if r.scorer.Score(newer, older) < r.cfg.ScoreThreshold {
				continue
			}
			res := r.db.WithContext(ctx).Model(&models.Property{}).
				Where("id = ? AND duplicate_of IS NULL", newer.ID).
				Update("duplicate_of", older.ID)
			if res.Error != nil {
				return linked, fmt.Errorf("failed to link duplicate in sweep: %w", res.Error)
			}
			if res.RowsAffected > 0 {
				taken[newer.ID] = true
				linked++
			}
			break
		}
	}
	if linked > 0 {
		r.logger.WithField("linked", linked).Info("Deduplication sweep finished")
	}
	return linked, nil
}

// AttributeSweep recomputes cadastral attribution for rows that have
// coordinates but no unit, typically after boundary data was updated.
func (r *Resolver) AttributeSweep(ctx context.Context) (int, error) {
	if r.attributor == nil {
		return 0, nil
	}
	var props []models.Property
	err := r.db.WithContext(ctx).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Where("ku_kod IS NULL").
		Find(&props).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load properties for attribution: %w", err)
	}

	updated := 0
	for i := range props {
		p := &props[i]
		if !r.attributor.Attribute(p) {
			continue
		}
		err := r.db.WithContext(ctx).Model(&models.Property{}).
			Where("id = ?", p.ID).
			Updates(map[string]interface{}{"ku_kod": p.KuKod, "ku_nazev": p.KuNazev}).Error
		if err != nil {
			return updated, fmt.Errorf("failed to store attribution: %w", err)
		}
		updated++
	}
	if updated > 0 {
		r.logger.WithField("updated", updated).Info("Cadastral attribution sweep finished")
	}
	return updated, nil
}
