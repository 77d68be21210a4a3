package ingest

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dslovacek55-hash/Reality/internal/models"
	"github.com/dslovacek55-hash/Reality/internal/search"
)

// ErrValidation marks a listing rejected by Normalize. Callers skip the row
// and keep processing the rest of the batch.
var ErrValidation = errors.New("invalid listing")

// Dispositions recognized as canonical facet values. Anything else is kept
// verbatim on the property but never offered as a filter option.
var canonicalDispositions = []string{
	"1+kk", "1+1", "2+kk", "2+1", "3+kk", "3+1",
	"4+kk", "4+1", "5+kk", "5+1", "6+kk", "6+1",
	"atypicky", "pokoj",
}

var canonicalDispositionSet = func() map[string]bool {
	m := make(map[string]bool, len(canonicalDispositions))
	for _, d := range canonicalDispositions {
		m[d] = true
	}
	return m
}()

// dispositionPattern matches the common portal spellings: "2+kk", "2 kk",
// "2kk", "DISP_2_KK", "GARSONIERA" and friends.
var dispositionPattern = regexp.MustCompile(`^([1-6])[\s_+]*(kk|1)$`)

// CanonicalDispositions returns the facet vocabulary in display order.
func CanonicalDispositions() []string {
	out := make([]string, len(canonicalDispositions))
	copy(out, canonicalDispositions)
	return out
}

// IsCanonicalDisposition reports whether v is part of the facet vocabulary.
func IsCanonicalDisposition(v string) bool {
	return canonicalDispositionSet[v]
}

// NormalizeDisposition maps a portal disposition spelling onto the canonical
// form. Unrecognized values come back trimmed and lowercased as free text.
func NormalizeDisposition(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return ""
	}
	v = strings.TrimPrefix(v, "disp_")
	switch v {
	case "garsoniera", "garsonka", "1kk":
		return "1+kk"
	case "atypical", "atypicky", "atyp":
		return "atypicky"
	case "pokoj", "room":
		return "pokoj"
	}
	if m := dispositionPattern.FindStringSubmatch(v); m != nil {
		return m[1] + "+" + m[2]
	}
	if canonicalDispositionSet[v] {
		return v
	}
	return v
}

var priceDigits = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)

// ParsePrice extracts an amount and currency from a scraped price string.
// Returns a nil amount for unpriced listings ("Cena dohodou", "Info v RK").
func ParsePrice(raw, currency string) (*float64, string) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" {
		cur = "CZK"
		lower := strings.ToLower(raw)
		if strings.Contains(raw, "€") || strings.Contains(lower, "eur") {
			cur = "EUR"
		}
	}

	// Thousands separators in Czech price strings are spaces or NBSPs.
	cleaned := strings.NewReplacer(" ", "", " ", "", " ", "").Replace(raw)
	match := priceDigits.FindString(cleaned)
	if match == "" {
		return nil, cur
	}
	match = strings.ReplaceAll(match, ",", ".")
	amount, err := strconv.ParseFloat(match, 64)
	if err != nil || amount <= 0 {
		return nil, cur
	}
	return &amount, cur
}

// Normalize validates a scraped listing and maps it onto a canonical property
// record. It is pure; identity resolution and persistence happen in the
// resolver.
func Normalize(raw models.RawListing, now time.Time) (*models.Property, error) {
	source := strings.ToLower(strings.TrimSpace(raw.Source))
	externalID := strings.TrimSpace(raw.ExternalID)
	if source == "" {
		return nil, fmt.Errorf("%w: missing source", ErrValidation)
	}
	if externalID == "" {
		return nil, fmt.Errorf("%w: missing external_id", ErrValidation)
	}
	if raw.Latitude != nil && (*raw.Latitude < -90 || *raw.Latitude > 90) {
		return nil, fmt.Errorf("%w: latitude out of range", ErrValidation)
	}
	if raw.Longitude != nil && (*raw.Longitude < -180 || *raw.Longitude > 180) {
		return nil, fmt.Errorf("%w: longitude out of range", ErrValidation)
	}
	if raw.SizeM2 != nil && *raw.SizeM2 <= 0 {
		raw.SizeM2 = nil
	}

	price, currency := ParsePrice(raw.Price, raw.Currency)

	p := &models.Property{
		Source:          source,
		ExternalID:      externalID,
		URL:             strings.TrimSpace(raw.URL),
		Title:           strings.TrimSpace(raw.Title),
		Description:     strings.TrimSpace(raw.Description),
		PropertyType:    strings.ToLower(strings.TrimSpace(raw.PropertyType)),
		TransactionType: strings.ToLower(strings.TrimSpace(raw.TransactionType)),
		Disposition:     NormalizeDisposition(raw.Disposition),
		Price:           price,
		PriceCurrency:   currency,
		SizeM2:          raw.SizeM2,
		Rooms:           raw.Rooms,
		Latitude:        raw.Latitude,
		Longitude:       raw.Longitude,
		City:            strings.TrimSpace(raw.City),
		District:        strings.TrimSpace(raw.District),
		Address:         strings.TrimSpace(raw.Address),
		Images:          models.StringList(raw.Images),
		RawData:         models.JSONMap(raw.RawPayload),
		Status:          models.StatusActive,
		FirstSeenAt:     now,
		LastSeenAt:      now,
	}
	p.SearchText = search.BuildText(p)
	return p, nil
}

// PricePerM2 derives the unit price for a history entry, rounded to two
// decimal places. Nil when the size is unknown.
func PricePerM2(price float64, sizeM2 *float64) *float64 {
	if sizeM2 == nil || *sizeM2 <= 0 {
		return nil
	}
	v := math.Round(price / *sizeM2 * 100) / 100
	return &v
}
