package fuzzy

import (
	"strings"
	"unicode"
)

// LevenshteinDistance calculates the edit distance between two strings
// after lowercasing, accent folding and whitespace collapsing.
func LevenshteinDistance(s1, s2 string) int {
	r1 := []rune(normalizeString(s1))
	r2 := []rune(normalizeString(s2))
	return distance(r1, r2)
}

func distance(r1, r2 []rune) int {
	m, n := len(r1), len(r2)
	if m == 0 {
		return n
	}
	if n == 0 {
		return m
	}

	// Two rows are enough for the classic matrix.
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[n]
}

// Similarity returns 1 - distance/maxLen, in [0,1]. Identical strings score 1.
func Similarity(s1, s2 string) float64 {
	r1 := []rune(normalizeString(s1))
	r2 := []rune(normalizeString(s2))
	longest := len(r1)
	if len(r2) > longest {
		longest = len(r2)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(distance(r1, r2))/float64(longest)
}

// TokenContainment reports the share of the shorter name's words that also
// appear in the longer one, so "Acme" vs "Acme Corp" scores 1.
func TokenContainment(s1, s2 string) float64 {
	a := strings.Fields(normalizeString(s1))
	b := strings.Fields(normalizeString(s2))
	if len(a) > len(b) {
		a, b = b, a
	}
	if len(a) == 0 {
		return 0
	}
	words := make(map[string]bool, len(b))
	for _, w := range b {
		words[w] = true
	}
	shared := 0
	for _, w := range a {
		if words[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}

// FuzzyMatch checks if query fuzzy-matches text within a given threshold
// threshold is the maximum allowed edit distance per word
func FuzzyMatch(query, text string, threshold int) bool {
	query = normalizeString(query)
	text = normalizeString(text)

	if strings.Contains(text, query) {
		return true
	}

	for _, word := range strings.Fields(text) {
		if LevenshteinDistance(query, word) <= threshold {
			return true
		}
		if strings.HasPrefix(word, query) {
			return true
		}
	}
	return false
}

// Helper functions

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}

// normalizeString lowercases, folds accents and collapses whitespace
func normalizeString(s string) string {
	s = removeAccents(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// removeAccents maps common accented Latin letters to ASCII
func removeAccents(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) { // Mn: Mark, nonspacing
			continue
		}
		switch r {
		case 'á', 'à', 'ả', 'ã', 'ạ', 'ă', 'â', 'ä', 'å':
			result.WriteRune('a')
		case 'é', 'è', 'ẻ', 'ẽ', 'ẹ', 'ê', 'ë':
			result.WriteRune('e')
		case 'í', 'ì', 'ỉ', 'ĩ', 'ị', 'î', 'ï':
			result.WriteRune('i')
		case 'ó', 'ò', 'ỏ', 'õ', 'ọ', 'ô', 'ơ', 'ö', 'ø':
			result.WriteRune('o')
		case 'ú', 'ù', 'ủ', 'ũ', 'ụ', 'ư', 'û', 'ü':
			result.WriteRune('u')
		case 'ý', 'ỳ', 'ỷ', 'ỹ', 'ỵ', 'ÿ':
			result.WriteRune('y')
		case 'ç':
			result.WriteRune('c')
		case 'ñ':
			result.WriteRune('n')
		case 'đ':
			result.WriteRune('d')
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
