package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, LevenshteinDistance("Acme", "acme"))
	assert.Equal(t, 3, LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 4, LevenshteinDistance("", "abcd"))
	assert.Equal(t, 0, LevenshteinDistance("Café", "cafe"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("Acme Corp", "acme  corp"))
	assert.InDelta(t, 0.888, Similarity("Acme Corp", "Acme Crp"), 0.01)
	assert.Less(t, Similarity("Acme", "Globex"), 0.5)
}

func TestTokenContainment(t *testing.T) {
	assert.Equal(t, 1.0, TokenContainment("Acme", "Acme Corp"))
	assert.Equal(t, 0.5, TokenContainment("Acme Labs", "Acme Corp"))
	assert.Equal(t, 0.0, TokenContainment("", "Acme"))
}

func TestFuzzyMatch(t *testing.T) {
	assert.True(t, FuzzyMatch("noodle", "Project Noodle", 1))
	assert.True(t, FuzzyMatch("nodle", "Project Noodle", 1))
	assert.False(t, FuzzyMatch("banana", "Project Noodle", 1))
}
