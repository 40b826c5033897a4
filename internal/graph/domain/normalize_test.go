package domain

import (
	"testing"

	"noodle-backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizedKey_Converges(t *testing.T) {
	want := "organization|acme corp"
	for _, name := range []string{"Acme Corp", "acme corp", " ACME CORP ", "Acme   Corp.", "Acme, Corp"} {
		got, err := NormalizedKey("Organization", name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	other, err := NormalizedKey("project", "Acme Corp")
	require.NoError(t, err)
	assert.NotEqual(t, want, other)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		entityType string
		in         string
		want       string
	}{
		{"person", "Dr. Jane Smith", "jane smith"},
		{"person", "Mr Mrs Smith", "smith"},
		{"person", "Dr", "dr"},
		{"organization", "Dr Pepper", "dr pepper"},
		{"person", "Sean O'Brien", "sean obrien"},
		{"email", "Alice@Example.COM", "alice@example.com"},
		{"organization", "Co-op Bank", "co-op bank"},
		{"organization", "-Acme-", "acme"},
		{"organization", "AT&T", "at&t"},
		{"project", "Project\tNoodle\n", "project noodle"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.entityType, tt.in), tt.in)
	}
}

func TestNormalizedKey_Rejects(t *testing.T) {
	_, err := NormalizedKey("", "Acme")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = NormalizedKey("organization", " ,.; ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleSender, ParseRole(" Sender "))
	assert.Equal(t, RoleUnknown, ParseRole("boss"))
	assert.Equal(t, RoleCc, ParseRole("CC"))
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "Project Noodle", CanonicalName("  Project   Noodle "))
}
