package domain

import (
	"errors"
	"testing"

	"noodle-backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() *Payload {
	return &Payload{
		PrimaryType:   PrimaryTypeRequest,
		Intent:        IntentAsk,
		Urgency:       UrgencyHigh,
		Sentiment:     SentimentConcerned,
		NeedsResponse: true,
		WaitingOn:     WaitingOnMe,
		Summary:       "Client asks for the revised budget by Friday.",
		KeyPoints:     []string{"Budget revision", "Friday deadline"},
		Risks:         []Item{{Title: "Late delivery", Severity: SeverityMedium, Confidence: 0.7}},
		Confidence:    0.9,
		ClientOrProject: &ClientOrProject{
			Name: "Project Noodle", Kind: AttributionProject, Confidence: 0.8,
		},
	}
}

func TestPayload_ValidateAcceptsWellFormed(t *testing.T) {
	assert.NoError(t, validPayload().Validate())
}

func TestPayload_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Payload)
		field  string
	}{
		{"unknown urgency", func(p *Payload) { p.Urgency = "critical" }, "urgency"},
		{"unknown sentiment", func(p *Payload) { p.Sentiment = "angry" }, "sentiment"},
		{"confidence above one", func(p *Payload) { p.Confidence = 1.2 }, "confidence"},
		{"missing summary", func(p *Payload) { p.Summary = "  " }, "summary"},
		{"bad attribution kind", func(p *Payload) { p.ClientOrProject.Kind = "team" }, "client_or_project.kind"},
		{"item without severity", func(p *Payload) { p.Risks[0].Severity = "" }, "risks[0].severity"},
		{"negative entity confidence", func(p *Payload) {
			p.Entities = []ExtractedEntity{{Name: "Acme", Type: "org", Confidence: -0.1}}
		}, "entities[0].confidence"},
		{"relation without target", func(p *Payload) {
			p.Relations = []ExtractedRelation{{Source: "Alice", Type: "works_for"}}
		}, "relations[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrValidation))
			var verr *apperrors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNewExtractedFacts_RoundTripsThroughView(t *testing.T) {
	p := validPayload()
	f := NewExtractedFacts(7, p, Provenance{Provider: "ollama", Model: "llama3", PromptID: "builtin:extraction", PromptVersion: 1})

	require.NotNil(t, f.ProjectName)
	assert.Equal(t, "Project Noodle", *f.ProjectName)
	assert.Equal(t, "[]", f.IssuesJSON)

	v := f.View()
	assert.Equal(t, uint(7), v.EmailID)
	assert.Equal(t, p.KeyPoints, v.KeyPoints)
	assert.Equal(t, p.Risks, v.Risks)
	assert.Equal(t, "llama3", v.Provenance.Model)
	require.NotNil(t, v.ClientOrProject)
	assert.Equal(t, AttributionProject, v.ClientOrProject.Kind)
}

func TestPayloadSchema_ListsEnumerations(t *testing.T) {
	schema := PayloadSchema()
	for _, v := range []string{"decision", "escalate", "hostile", "third_party"} {
		assert.Contains(t, schema, `"`+v+`"`)
	}
}
