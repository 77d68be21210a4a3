package search

import (
	"strings"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

// Czech diacritics fold so that "Říčany" and "Ricany" match each other.
// Simple character substitution, no stemming.
var folder = strings.NewReplacer(
	"á", "a", "č", "c", "ď", "d", "é", "e", "ě", "e", "í", "i", "ň", "n",
	"ó", "o", "ř", "r", "š", "s", "ť", "t", "ú", "u", "ů", "u", "ý", "y",
	"ž", "z",
	"Á", "a", "Č", "c", "Ď", "d", "É", "e", "Ě", "e", "Í", "i", "Ň", "n",
	"Ó", "o", "Ř", "r", "Š", "s", "Ť", "t", "Ú", "u", "Ů", "u", "Ý", "y",
	"Ž", "z",
)

// Fold lowercases the input and strips Czech diacritics.
func Fold(s string) string {
	return strings.ToLower(folder.Replace(s))
}

// Tokenize splits folded text into plain alphanumeric tokens.
func Tokenize(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// Section separator inside the stored search text. Title/city tokens come
// first, then district/address, then description.
const sectionSep = " \x1f "

// BuildText renders the property's searchable representation. It is stored
// on the row and refreshed by the ingestion hooks whenever the underlying
// fields change.
func BuildText(p *models.Property) string {
	sections := []string{
		strings.Join(Tokenize(p.Title+" "+p.City), " "),
		strings.Join(Tokenize(p.District+" "+p.Address), " "),
		strings.Join(Tokenize(p.Description), " "),
	}
	return strings.Join(sections, sectionSep)
}

// Matches reports whether every token of the query occurs somewhere in the
// stored search text.
func Matches(searchText, query string) bool {
	for _, tok := range Tokenize(query) {
		if !strings.Contains(searchText, tok) {
			return false
		}
	}
	return true
}

// Rank scores a match for result ordering. Title and city hits weigh most,
// district and address half of that, description least.
func Rank(searchText, query string) int {
	sections := strings.Split(searchText, sectionSep)
	weights := []int{4, 2, 1}
	score := 0
	for _, tok := range Tokenize(query) {
		for i, section := range sections {
			if i < len(weights) && strings.Contains(section, tok) {
				score += weights[i]
			}
		}
	}
	return score
}
