package domain

import (
	"strings"
	"unicode"

	"noodle-backend/pkg/apperrors"
)

const EntityTypePerson = "person"

// Leading titles dropped from person names before keying.
var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true,
	"dr": true, "prof": true, "sir": true, "dame": true, "madam": true,
}

// NormalizeName case-folds name, strips punctuation and collapses whitespace.
// Dots and hyphens survive between letters or digits ("example.com", "co-op");
// "@", "&" and "+" are kept. For persons, leading honorifics are dropped.
func NormalizeName(entityType, name string) string {
	runes := []rune(strings.ToLower(name))
	var b strings.Builder
	b.Grow(len(runes))
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '@' || r == '&' || r == '+':
			b.WriteRune(r)
		case (r == '.' || r == '-') && i > 0 && i < len(runes)-1 && isAlnum(runes[i-1]) && isAlnum(runes[i+1]):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// O'Brien and O’Brien key the same as OBrien
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	if normalizeType(entityType) == EntityTypePerson {
		for len(fields) > 1 && honorifics[fields[0]] {
			fields = fields[1:]
		}
	}
	return strings.Join(fields, " ")
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func normalizeType(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(t)), "_")
}

// NormalizeType returns the type component of a normalized key.
func NormalizeType(entityType string) string {
	return normalizeType(entityType)
}

// NormalizedKey is "type|normalized name". The type is part of the key so
// an organization and a project with the same name stay distinct.
func NormalizedKey(entityType, name string) (string, error) {
	t := normalizeType(entityType)
	if t == "" {
		return "", apperrors.Invalid("entity_type", "required")
	}
	n := NormalizeName(t, name)
	if n == "" {
		return "", apperrors.Invalid("name", "%q normalizes to nothing", name)
	}
	return t + "|" + n, nil
}

// CanonicalName is the display form stored for a new entity: the raw name
// with surrounding and repeated whitespace removed.
func CanonicalName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
