package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

func TestNormalizeDisposition(t *testing.T) {
	cases := map[string]string{
		"2+kk":      "2+kk",
		"2 kk":      "2+kk",
		"2kk":       "2+kk",
		"DISP_2_KK": "2+kk",
		"DISP_3_1":  "3+1",
		"3+1":       "3+1",
		"garsoniera": "1+kk",
		"atyp":      "atypicky",
		"":          "",
		"mezonet":   "mezonet",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeDisposition(input), "input %q", input)
	}
}

func TestIsCanonicalDisposition(t *testing.T) {
	assert.True(t, IsCanonicalDisposition("2+kk"))
	assert.True(t, IsCanonicalDisposition("atypicky"))
	assert.False(t, IsCanonicalDisposition("mezonet"))
	assert.False(t, IsCanonicalDisposition(""))
}

func TestParsePrice(t *testing.T) {
	price, currency := ParsePrice("3 500 000 Kč", "")
	require.NotNil(t, price)
	assert.Equal(t, 3500000.0, *price)
	assert.Equal(t, "CZK", currency)

	price, currency = ParsePrice("1200 EUR", "")
	require.NotNil(t, price)
	assert.Equal(t, 1200.0, *price)
	assert.Equal(t, "EUR", currency)

	price, currency = ParsePrice("Cena dohodou", "")
	assert.Nil(t, price)
	assert.Equal(t, "CZK", currency)

	price, currency = ParsePrice("25000", "czk")
	require.NotNil(t, price)
	assert.Equal(t, 25000.0, *price)
	assert.Equal(t, "CZK", currency)
}

func TestNormalizeRejectsMissingIdentity(t *testing.T) {
	now := time.Now().UTC()

	_, err := Normalize(models.RawListing{ExternalID: "123"}, now)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = Normalize(models.RawListing{Source: "sreality"}, now)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestNormalizeRejectsBadCoordinates(t *testing.T) {
	now := time.Now().UTC()
	lat := 123.0
	_, err := Normalize(models.RawListing{
		Source: "sreality", ExternalID: "1", Latitude: &lat,
	}, now)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestNormalizeBuildsSearchableProperty(t *testing.T) {
	now := time.Now().UTC()
	size := 54.0
	p, err := Normalize(models.RawListing{
		Source:          "SReality",
		ExternalID:      " 42 ",
		Title:           "Prodej bytu 2+kk, Praha 5 - Smíchov",
		PropertyType:    "Byt",
		TransactionType: "Prodej",
		Disposition:     "DISP_2_KK",
		Price:           "5 990 000 Kč",
		SizeM2:          &size,
		City:            "Praha",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "sreality", p.Source)
	assert.Equal(t, "42", p.ExternalID)
	assert.Equal(t, "byt", p.PropertyType)
	assert.Equal(t, "prodej", p.TransactionType)
	assert.Equal(t, "2+kk", p.Disposition)
	require.NotNil(t, p.Price)
	assert.Equal(t, 5990000.0, *p.Price)
	assert.Equal(t, models.StatusActive, p.Status)
	assert.Equal(t, now, p.FirstSeenAt)
	assert.Contains(t, p.SearchText, "smichov")
}

func TestPricePerM2(t *testing.T) {
	size := 50.0
	v := PricePerM2(5000000, &size)
	require.NotNil(t, v)
	assert.Equal(t, 100000.0, *v)

	odd := 3.0
	v = PricePerM2(100, &odd)
	require.NotNil(t, v)
	assert.Equal(t, 33.33, *v)

	assert.Nil(t, PricePerM2(5000000, nil))
	zero := 0.0
	assert.Nil(t, PricePerM2(5000000, &zero))
}
