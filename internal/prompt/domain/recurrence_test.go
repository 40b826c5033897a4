package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseRecurrence(t *testing.T) {
	for _, spec := range []string{"0 9 * * 1-5", "@hourly", "@daily", "@weekly", "@every 15m"} {
		_, err := ParseRecurrence(spec)
		assert.NoError(t, err, spec)
	}
	for _, spec := range []string{"", "every day", "0 0 9 * * *", "@every banana"} {
		_, err := ParseRecurrence(spec)
		assert.Error(t, err, spec)
	}
}

func TestLatestDue_CollapsesMissedOccurrences(t *testing.T) {
	r, err := ParseRecurrence("@hourly")
	require.NoError(t, err)

	due, ok := r.LatestDue(at("2026-03-01T08:30:00Z"), at("2026-03-01T12:15:00Z"))
	require.True(t, ok)
	assert.Equal(t, at("2026-03-01T12:00:00Z"), due)
}

func TestLatestDue_NothingDueYet(t *testing.T) {
	r, err := ParseRecurrence("0 9 * * *")
	require.NoError(t, err)

	_, ok := r.LatestDue(at("2026-03-01T09:00:00Z"), at("2026-03-02T08:59:59Z"))
	assert.False(t, ok)

	due, ok := r.LatestDue(at("2026-03-01T09:00:00Z"), at("2026-03-02T09:00:00Z"))
	require.True(t, ok)
	assert.Equal(t, at("2026-03-02T09:00:00Z"), due)
}

func TestLatestDue_Every(t *testing.T) {
	r, err := ParseRecurrence("@every 10m")
	require.NoError(t, err)

	due, ok := r.LatestDue(at("2026-03-01T08:00:00Z"), at("2026-03-01T08:35:00Z"))
	require.True(t, ok)
	assert.Equal(t, at("2026-03-01T08:30:00Z"), due)
}

func TestScopeFilter(t *testing.T) {
	now := at("2026-03-10T00:00:00Z")
	yes := true
	s := Scope{Folders: []string{"INBOX"}, SinceDays: 7, NeedsResponse: &yes, Limit: 20}

	f := s.Filter(now)
	assert.Equal(t, []string{"INBOX"}, f.Folders)
	require.NotNil(t, f.Since)
	assert.Equal(t, at("2026-03-03T00:00:00Z"), *f.Since)
	assert.Equal(t, &yes, f.NeedsResponse)
	assert.Equal(t, 20, f.Limit)
}

func TestPromptValidate(t *testing.T) {
	bad := "not a schedule"
	cases := []struct {
		name   string
		prompt Prompt
		field  string
	}{
		{"missing name", Prompt{Kind: KindPeriodic, Template: "x"}, "name"},
		{"bad kind", Prompt{Name: "a", Kind: "weekly", Template: "x"}, "kind"},
		{"periodic without template", Prompt{Name: "a", Kind: KindPeriodic}, "template"},
		{"bad schedule", Prompt{Name: "a", Kind: KindPeriodic, Template: "x", Schedule: &bad}, "schedule"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.prompt.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}

	ok := Prompt{Name: "refresh", Kind: KindExtraction}
	assert.NoError(t, ok.Validate())
}

func TestPromptScopeRoundTrip(t *testing.T) {
	p := &Prompt{}
	p.SetScope(Scope{Folders: []string{"Sent"}, Project: "Noodle"})
	assert.Equal(t, "Noodle", p.Scope().Project)
	assert.Equal(t, []string{"Sent"}, p.Scope().Folders)

	temp := float32(0.3)
	p.SetModelPref(ModelPref{Model: "llama3", Temperature: &temp})
	require.NotNil(t, p.ModelPref().Temperature)
	assert.InDelta(t, 0.3, *p.ModelPref().Temperature, 1e-6)
}
