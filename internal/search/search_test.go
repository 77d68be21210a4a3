package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "ricany", Fold("Říčany"))
	assert.Equal(t, "usti nad labem", Fold("Ústí nad Labem"))
	assert.Equal(t, "zizkov", Fold("Žižkov"))
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("Prodej bytu 2+kk, Praha 5 - Smíchov")
	assert.Equal(t, []string{"prodej", "bytu", "2", "kk", "praha", "5", "smichov"}, tokens)
}

func TestMatchesIgnoresDiacritics(t *testing.T) {
	p := &models.Property{
		Title: "Prodej bytu 3+1",
		City:  "Plzeň",
	}
	text := BuildText(p)

	assert.True(t, Matches(text, "plzen"))
	assert.True(t, Matches(text, "Plzeň prodej"))
	assert.False(t, Matches(text, "brno"))
}

func TestRankPrefersTitleAndCity(t *testing.T) {
	inTitle := BuildText(&models.Property{Title: "krasny byt u parku"})
	inAddress := BuildText(&models.Property{Address: "krasny byt u parku"})
	inDescription := BuildText(&models.Property{Description: "krasny byt u parku"})

	assert.Greater(t, Rank(inTitle, "parku"), Rank(inAddress, "parku"))
	assert.Greater(t, Rank(inAddress, "parku"), Rank(inDescription, "parku"))
	assert.Zero(t, Rank(inTitle, "garaz"))
}
