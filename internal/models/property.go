package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Property statuses. Allowed transitions are active->removed, active->sold
// and removed->active (a listing reappearing in a scrape run).
const (
	StatusActive  = "active"
	StatusRemoved = "removed"
	StatusSold    = "sold"
)

// Scrape run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Notification kinds logged per (filter, property) to suppress repeats.
const (
	NotifyNewListing = "new_listing"
	NotifyPriceDrop  = "price_drop"
)

// StringList stores a JSON array in a single text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// JSONMap stores an arbitrary JSON object in a single text column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *JSONMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

func scanJSON(value, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.New("unsupported column type for JSON scan")
	}
}

// Property is the canonical record one or more portal listings resolve to.
// (Source, ExternalID) is the identity; DuplicateOf links a cross-source
// duplicate to its canonical root and is never chained.
type Property struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	Source          string     `gorm:"size:50;not null;uniqueIndex:uq_source_external;index:idx_properties_source_status" json:"source"`
	ExternalID      string     `gorm:"size:100;not null;uniqueIndex:uq_source_external" json:"external_id"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	PropertyType    string     `gorm:"size:30;index" json:"property_type"`
	TransactionType string     `gorm:"size:20;index" json:"transaction_type"`
	Disposition     string     `gorm:"size:20" json:"disposition"`
	Price           *float64   `json:"price"`
	PriceCurrency   string     `gorm:"size:10;default:CZK" json:"price_currency"`
	SizeM2          *float64   `json:"size_m2"`
	Rooms           *int       `json:"rooms"`
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	KuKod           *int       `gorm:"index" json:"ku_kod"`
	KuNazev         string     `gorm:"size:200" json:"ku_nazev"`
	City            string     `gorm:"size:200;index" json:"city"`
	District        string     `gorm:"size:200" json:"district"`
	Address         string     `json:"address"`
	Images          StringList `gorm:"type:text" json:"images"`
	RawData         JSONMap    `gorm:"type:text" json:"raw_data"`
	Status          string     `gorm:"size:20;default:active;index:idx_properties_source_status" json:"status"`
	DuplicateOf     *int64     `gorm:"index" json:"duplicate_of"`
	MissedRuns      int        `gorm:"default:0" json:"missed_runs"`
	SearchText      string     `json:"-"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	PriceHistory []PriceHistoryEntry `gorm:"constraint:OnDelete:CASCADE" json:"price_history,omitempty"`
}

func (Property) TableName() string { return "properties" }

// PriceHistoryEntry is an append-only price snapshot. Rows are never updated.
type PriceHistoryEntry struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	PropertyID int64     `gorm:"not null;index" json:"property_id"`
	Price      float64   `gorm:"not null" json:"price"`
	PricePerM2 *float64  `json:"price_per_m2"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (PriceHistoryEntry) TableName() string { return "price_history" }

// UserFilter is a saved notification subscription for one chat.
type UserFilter struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	ChatID             int64     `gorm:"not null;index" json:"chat_id"`
	Name               string    `gorm:"size:200;default:My Filter" json:"name"`
	PropertyType       string    `gorm:"size:30" json:"property_type"`
	TransactionType    string    `gorm:"size:20" json:"transaction_type"`
	City               string    `gorm:"size:200" json:"city"`
	District           string    `gorm:"size:200" json:"district"`
	Disposition        string    `json:"disposition"`
	PriceMin           *float64  `json:"price_min"`
	PriceMax           *float64  `json:"price_max"`
	SizeMin            *float64  `json:"size_min"`
	SizeMax            *float64  `json:"size_max"`
	NotifyNew          bool      `json:"notify_new"`
	NotifyPriceDrop    bool      `json:"notify_price_drop"`
	PriceDropThreshold float64   `json:"price_drop_threshold"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`

	Notifications []Notification `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (UserFilter) TableName() string { return "user_filters" }

// Notification logs one dispatched alert so the same event is never re-sent.
type Notification struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UserFilterID *int64    `gorm:"index" json:"user_filter_id"`
	PropertyID   *int64    `gorm:"index" json:"property_id"`
	Kind         string    `gorm:"size:30;not null" json:"kind"`
	SentAt       time.Time `json:"sent_at"`

	Property *Property `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (Notification) TableName() string { return "notifications" }

// ScrapeRun records one ingestion batch for one source.
type ScrapeRun struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	Source          string     `gorm:"size:50;not null;index" json:"source"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	ListingsFound   int        `gorm:"default:0" json:"listings_found"`
	ListingsNew     int        `gorm:"default:0" json:"listings_new"`
	ListingsUpdated int        `gorm:"default:0" json:"listings_updated"`
	Status          string     `gorm:"size:20;default:running" json:"status"`
}

func (ScrapeRun) TableName() string { return "scrape_runs" }

// Favorite pins a property for one dashboard session.
type Favorite struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"size:100;not null;uniqueIndex:uq_favorite" json:"session_id"`
	PropertyID int64     `gorm:"not null;uniqueIndex:uq_favorite" json:"property_id"`
	CreatedAt  time.Time `json:"created_at"`

	Property *Property `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (Favorite) TableName() string { return "favorites" }

// KuPriceStats is one aggregate row per (region, type, transaction) group.
// KuKod is 0 for city-level groups; Region then holds the city name.
type KuPriceStats struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	KuKod           int       `gorm:"uniqueIndex:uq_ku_price_stats" json:"ku_kod"`
	Region          string    `gorm:"size:200;uniqueIndex:uq_ku_price_stats" json:"region"`
	PropertyType    string    `gorm:"size:30;uniqueIndex:uq_ku_price_stats" json:"property_type"`
	TransactionType string    `gorm:"size:20;uniqueIndex:uq_ku_price_stats" json:"transaction_type"`
	MedianPriceM2   float64   `json:"median_price_m2"`
	AvgPriceM2      float64   `json:"avg_price_m2"`
	SampleCount     int       `gorm:"default:0" json:"sample_count"`
	Stale           bool      `gorm:"default:false" json:"stale"`
	ComputedAt      time.Time `json:"computed_at"`
}

func (KuPriceStats) TableName() string { return "ku_price_stats" }

// ReferenceBenchmark holds an externally sourced price point. Written only by
// benchmark collaborators, merged with own stats at query time.
type ReferenceBenchmark struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	Source          string    `gorm:"size:50;not null;uniqueIndex:uq_ref_benchmark" json:"source"`
	Region          string    `gorm:"size:200;not null;uniqueIndex:uq_ref_benchmark" json:"region"`
	PropertyType    string    `gorm:"size:30;uniqueIndex:uq_ref_benchmark" json:"property_type"`
	TransactionType string    `gorm:"size:20;uniqueIndex:uq_ref_benchmark" json:"transaction_type"`
	Period          string    `gorm:"size:20;uniqueIndex:uq_ref_benchmark" json:"period"`
	PriceM2         float64   `json:"price_m2"`
	FetchedAt       time.Time `json:"fetched_at"`
}

func (ReferenceBenchmark) TableName() string { return "reference_benchmarks" }

// RawListing is the record a scraper collaborator emits for one observed ad.
type RawListing struct {
	Source          string                 `json:"source"`
	ExternalID      string                 `json:"external_id"`
	URL             string                 `json:"url"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	PropertyType    string                 `json:"property_type"`
	TransactionType string                 `json:"transaction_type"`
	Disposition     string                 `json:"disposition"`
	Price           string                 `json:"price"`
	Currency        string                 `json:"currency"`
	SizeM2          *float64               `json:"size_m2"`
	Rooms           *int                   `json:"rooms"`
	Latitude        *float64               `json:"latitude"`
	Longitude       *float64               `json:"longitude"`
	City            string                 `json:"city"`
	District        string                 `json:"district"`
	Address         string                 `json:"address"`
	Images          []string               `json:"images"`
	RawPayload      map[string]interface{} `json:"raw_payload"`
}
