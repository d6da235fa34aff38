package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{"both empty", "", "", 0},
		{"empty left", "", "abc", 3},
		{"empty right", "abcd", "", 4},
		{"identical", "dating", "dating", 0},
		{"substitution", "tip", "tap", 1},
		{"insertion", "tip", "tips", 1},
		{"deletion", "advice", "advce", 1},
		{"classic", "kitten", "sitting", 3},
		{"multibyte runes", "café", "cafe", 1},
		{"emoji", "💖", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Distance(tt.a, tt.b))
		})
	}
}

func TestDistanceProperties(t *testing.T) {
	samples := []string{"", "a", "tip", "Dating Tips", "breakup advice", "naïve", "first date ideas"}

	for _, a := range samples {
		assert.Equal(t, 0, Distance(a, a), "identity for %q", a)
		assert.Equal(t, len([]rune(a)), Distance("", a), "empty prefix for %q", a)
		for _, b := range samples {
			assert.Equal(t, Distance(a, b), Distance(b, a), "symmetry for %q/%q", a, b)
		}
	}
}
