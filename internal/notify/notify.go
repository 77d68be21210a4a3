package notify

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/models"
	"github.com/dslovacek55-hash/Reality/internal/search"
)

// Matches reports whether a property satisfies every criterion a saved
// filter sets. Empty criteria match anything.
func Matches(f *models.UserFilter, p *models.Property) bool {
	if f.PropertyType != "" && f.PropertyType != p.PropertyType {
		return false
	}
	if f.TransactionType != "" && f.TransactionType != p.TransactionType {
		return false
	}
	if f.City != "" && !strings.Contains(search.Fold(p.City), search.Fold(f.City)) {
		return false
	}
	if f.District != "" && !strings.Contains(search.Fold(p.District), search.Fold(f.District)) {
		return false
	}
	if f.Disposition != "" {
		found := false
		for _, d := range strings.Split(f.Disposition, ",") {
			if strings.TrimSpace(d) == p.Disposition {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PriceMin != nil && (p.Price == nil || *p.Price < *f.PriceMin) {
		return false
	}
	if f.PriceMax != nil && (p.Price == nil || *p.Price > *f.PriceMax) {
		return false
	}
	if f.SizeMin != nil && (p.SizeM2 == nil || *p.SizeM2 < *f.SizeMin) {
		return false
	}
	if f.SizeMax != nil && (p.SizeM2 == nil || *p.SizeM2 > *f.SizeMax) {
		return false
	}
	return true
}

// DropPercent is the relative price decrease in percent; zero or negative
// when the price did not drop.
func DropPercent(oldPrice, newPrice float64) float64 {
	if oldPrice <= 0 {
		return 0
	}
	return (oldPrice - newPrice) / oldPrice * 100
}

// Service resolves which subscriptions an event should alert, suppressing
// repeats through the notification log.
type Service struct {
	db     *database.Database
	logger *logrus.Logger
}

func NewService(db *database.Database, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Service{db: db, logger: logger}
}

// FiltersForNewListing returns the active subscriptions to alert about a
// freshly ingested property.
func (s *Service) FiltersForNewListing(p *models.Property) ([]models.UserFilter, error) {
	return s.matching(p, models.NotifyNewListing, func(f *models.UserFilter) bool {
		return f.NotifyNew
	})
}

// FiltersForPriceDrop returns the active subscriptions whose drop threshold
// the price change clears.
func (s *Service) FiltersForPriceDrop(p *models.Property, oldPrice, newPrice float64) ([]models.UserFilter, error) {
	drop := DropPercent(oldPrice, newPrice)
	if drop <= 0 {
		return nil, nil
	}
	return s.matching(p, models.NotifyPriceDrop, func(f *models.UserFilter) bool {
		return f.NotifyPriceDrop && drop >= f.PriceDropThreshold
	})
}

func (s *Service) matching(p *models.Property, kind string, wants func(*models.UserFilter) bool) ([]models.UserFilter, error) {
	filters, err := s.db.ActiveFilters()
	if err != nil {
		return nil, err
	}

	var matched []models.UserFilter
	for i := range filters {
		f := &filters[i]
		if !wants(f) || !Matches(f, p) {
			continue
		}
		sent, err := s.db.AlreadyNotified(f.ID, p.ID, kind)
		if err != nil {
			return nil, err
		}
		if sent {
			continue
		}
		matched = append(matched, *f)
	}
	return matched, nil
}

// MarkNotified logs a dispatched alert so the same event never repeats.
func (s *Service) MarkNotified(filterID, propertyID int64, kind string) error {
	return s.db.RecordNotification(filterID, propertyID, kind)
}
