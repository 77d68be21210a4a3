package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/dslovacek55-hash/Reality/internal/models"
	"github.com/dslovacek55-hash/Reality/internal/search"
)

var ErrNotFound = errors.New("not found")

// ListQuery is the filter surface of the dashboard listing endpoint. The CSV
// export uses the identical structure so both always agree on the row set.
type ListQuery struct {
	PropertyType    string
	TransactionType string
	City            string
	District        string
	Disposition     string // comma-separated multi-select
	PriceMin        *float64
	PriceMax        *float64
	SizeMin         *float64
	SizeMax         *float64
	Status          string
	Source          string
	Search          string
	Sort            string
	Page            int
	PerPage         int
}

var validSorts = map[string]string{
	"newest":     "first_seen_at DESC",
	"price_asc":  "price ASC",
	"price_desc": "price DESC",
	"size_asc":   "size_m2 ASC",
	"size_desc":  "size_m2 DESC",
}

func (q *ListQuery) normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 20
	}
	if q.PerPage > 100 {
		q.PerPage = 100
	}
	if _, ok := validSorts[q.Sort]; !ok {
		q.Sort = "newest"
	}
	if q.Status == "" {
		q.Status = models.StatusActive
	}
}

// apply builds the WHERE clause shared by the list, count, and export paths.
// Duplicates are always excluded; they are visible only through their root.
func (q *ListQuery) apply(tx *gorm.DB) *gorm.DB {
	tx = tx.Where("duplicate_of IS NULL")

	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.PropertyType != "" {
		tx = tx.Where("property_type = ?", q.PropertyType)
	}
	if q.TransactionType != "" {
		tx = tx.Where("transaction_type = ?", q.TransactionType)
	}
	if q.City != "" {
		tx = tx.Where("city LIKE ?", "%"+escapeLike(q.City)+"%")
	}
	if q.District != "" {
		tx = tx.Where("district LIKE ?", "%"+escapeLike(q.District)+"%")
	}
	if q.Disposition != "" {
		var dispositions []string
		for _, d := range strings.Split(q.Disposition, ",") {
			if d = strings.TrimSpace(d); d != "" {
				dispositions = append(dispositions, d)
			}
		}
		if len(dispositions) > 0 {
			tx = tx.Where("disposition IN ?", dispositions)
		}
	}
	if q.PriceMin != nil {
		tx = tx.Where("price >= ?", *q.PriceMin)
	}
	if q.PriceMax != nil {
		tx = tx.Where("price <= ?", *q.PriceMax)
	}
	if q.SizeMin != nil {
		tx = tx.Where("size_m2 >= ?", *q.SizeMin)
	}
	if q.SizeMax != nil {
		tx = tx.Where("size_m2 <= ?", *q.SizeMax)
	}
	if q.Source != "" {
		tx = tx.Where("source = ?", q.Source)
	}
	for _, tok := range search.Tokenize(q.Search) {
		tx = tx.Where("search_text LIKE ?", "%"+tok+"%")
	}
	return tx
}

// escapeLike neutralizes LIKE wildcards in user input.
func escapeLike(v string) string {
	v = strings.ReplaceAll(v, "%", "")
	return strings.ReplaceAll(v, "_", "")
}

// ListProperties returns one page plus the total match count. Ties under any
// sort order are broken by id ascending so pagination is stable.
func (d *Database) ListProperties(q ListQuery) ([]models.Property, int64, error) {
	q.normalize()

	var total int64
	if err := q.apply(d.db.Model(&models.Property{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count properties: %w", err)
	}

	var items []models.Property
	base := q.apply(d.db.Model(&models.Property{}))

	// Free-text queries without an explicit sort are ranked by relevance.
	if q.Search != "" && q.Sort == "newest" {
		if err := base.Order("id ASC").Find(&items).Error; err != nil {
			return nil, 0, fmt.Errorf("failed to query properties: %w", err)
		}
		sort.SliceStable(items, func(i, j int) bool {
			ri := search.Rank(items[i].SearchText, q.Search)
			rj := search.Rank(items[j].SearchText, q.Search)
			if ri != rj {
				return ri > rj
			}
			return items[i].ID < items[j].ID
		})
		offset := (q.Page - 1) * q.PerPage
		if offset >= len(items) {
			return []models.Property{}, total, nil
		}
		end := offset + q.PerPage
		if end > len(items) {
			end = len(items)
		}
		return items[offset:end], total, nil
	}

	err := base.
		Order(validSorts[q.Sort]).
		Order("id ASC").
		Offset((q.Page - 1) * q.PerPage).
		Limit(q.PerPage).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query properties: %w", err)
	}
	return items, total, nil
}

// Marker is the lightweight map representation of a listing.
type Marker struct {
	ID          int64    `json:"id"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Price       *float64 `json:"price"`
	Disposition string   `json:"disposition"`
	Title       string   `json:"title"`
	Source      string   `json:"source"`
}

// MarkerQuery bounds the marker lookup to a viewport and basic filters.
type MarkerQuery struct {
	PropertyType    string
	TransactionType string
	City            string
	PriceMin        *float64
	PriceMax        *float64
	MinLat, MaxLat  *float64
	MinLng, MaxLng  *float64
	Limit           int
}

// GetMarkers returns active, non-duplicate, geolocated listings for the map.
func (d *Database) GetMarkers(q MarkerQuery) ([]Marker, error) {
	if q.Limit <= 0 || q.Limit > 2000 {
		q.Limit = 2000
	}

	tx := d.db.Model(&models.Property{}).
		Where("status = ?", models.StatusActive).
		Where("duplicate_of IS NULL").
		Where("latitude IS NOT NULL AND longitude IS NOT NULL")

	if q.PropertyType != "" {
		tx = tx.Where("property_type = ?", q.PropertyType)
	}
	if q.TransactionType != "" {
		tx = tx.Where("transaction_type = ?", q.TransactionType)
	}
	if q.City != "" {
		tx = tx.Where("city LIKE ?", "%"+escapeLike(q.City)+"%")
	}
	if q.PriceMin != nil {
		tx = tx.Where("price >= ?", *q.PriceMin)
	}
	if q.PriceMax != nil {
		tx = tx.Where("price <= ?", *q.PriceMax)
	}
	if q.MinLat != nil {
		tx = tx.Where("latitude >= ?", *q.MinLat)
	}
	if q.MaxLat != nil {
		tx = tx.Where("latitude <= ?", *q.MaxLat)
	}
	if q.MinLng != nil {
		tx = tx.Where("longitude >= ?", *q.MinLng)
	}
	if q.MaxLng != nil {
		tx = tx.Where("longitude <= ?", *q.MaxLng)
	}

	var props []models.Property
	if err := tx.Limit(q.Limit).Find(&props).Error; err != nil {
		return nil, fmt.Errorf("failed to query markers: %w", err)
	}

	markers := make([]Marker, 0, len(props))
	for _, p := range props {
		markers = append(markers, Marker{
			ID:          p.ID,
			Lat:         *p.Latitude,
			Lng:         *p.Longitude,
			Price:       p.Price,
			Disposition: p.Disposition,
			Title:       p.Title,
			Source:      p.Source,
		})
	}
	return markers, nil
}

// GetProperty loads one property with its price history, oldest entry first.
func (d *Database) GetProperty(id int64) (*models.Property, error) {
	var p models.Property
	err := d.db.
		Preload("PriceHistory", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("recorded_at ASC, id ASC")
		}).
		First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load property: %w", err)
	}
	return &p, nil
}

// GetPriceHistory returns the append-only price trail for one property.
func (d *Database) GetPriceHistory(propertyID int64) ([]models.PriceHistoryEntry, error) {
	var entries []models.PriceHistoryEntry
	err := d.db.
		Where("property_id = ?", propertyID).
		Order("recorded_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}
	return entries, nil
}

// MarkSold flips an active property to sold.
func (d *Database) MarkSold(id int64) error {
	res := d.db.Model(&models.Property{}).
		Where("id = ? AND status = ?", id, models.StatusActive).
		Update("status", models.StatusSold)
	if res.Error != nil {
		return fmt.Errorf("failed to mark property sold: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProperty hard-deletes a property. Price history, favorites and
// notifications cascade; duplicates pointing at it are unlinked.
func (d *Database) DeleteProperty(id int64) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Property{}).
			Where("duplicate_of = ?", id).
			Update("duplicate_of", nil).Error; err != nil {
			return fmt.Errorf("failed to unlink duplicates: %w", err)
		}
		if err := tx.Where("property_id = ?", id).Delete(&models.PriceHistoryEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete price history: %w", err)
		}
		if err := tx.Where("property_id = ?", id).Delete(&models.Favorite{}).Error; err != nil {
			return fmt.Errorf("failed to delete favorites: %w", err)
		}
		if err := tx.Where("property_id = ?", id).Delete(&models.Notification{}).Error; err != nil {
			return fmt.Errorf("failed to delete notifications: %w", err)
		}
		res := tx.Delete(&models.Property{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete property: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
