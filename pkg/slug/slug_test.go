package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "folds umlauts", input: "Büro", expected: "buero"},
		{name: "folds umlauts inside words", input: "Stühle", expected: "stuehle"},
		{name: "folds sharp s", input: "Straße", expected: "strasse"},
		{name: "folds ampersand", input: "Tische & Stühle", expected: "tische-und-stuehle"},
		{name: "transliterates accents", input: "Café Crème", expected: "cafe-creme"},
		{name: "collapses separators", input: "  A -- B  //  C ", expected: "a-b-c"},
		{name: "keeps digits", input: "Ordner 2000 A4", expected: "ordner-2000-a4"},
		{name: "trims hyphens", input: "--x--", expected: "x"},
		{name: "empty input", input: "   ", expected: ""},
		{name: "uppercase umlaut", input: "ÖL", expected: "oel"},
		{name: "non decomposable letters", input: "Smørrebrød", expected: "smorrebrod"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Make(test.input))
		})
	}
}

func TestTransliterate(t *testing.T) {
	assert.Equal(t, "Aeioun", Transliterate("Áéíóúñ"))
	assert.Equal(t, "Francais", Transliterate("Français"))
}
