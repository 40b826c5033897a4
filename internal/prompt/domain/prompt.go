package domain

import (
	"encoding/json"
	"strings"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/pkg/apperrors"
)

// Kind says what a prompt run does with its scope.
type Kind string

const (
	// KindExtraction re-runs fact extraction for every email in scope.
	KindExtraction Kind = "extraction"
	// KindPeriodic makes one aggregate call over the scope.
	KindPeriodic Kind = "periodic"
)

// Prompt is a named extraction or aggregate task, optionally on a schedule.
// Prompts without a schedule run only on demand.
type Prompt struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	Name          string    `json:"name" gorm:"uniqueIndex;not null"`
	Kind          Kind      `json:"kind" gorm:"not null"`
	Enabled       bool      `json:"enabled"`
	Schedule      *string   `json:"schedule,omitempty"`
	ScopeJSON     string    `json:"-" gorm:"column:scope_json"`
	ModelPrefJSON string    `json:"-" gorm:"column:model_pref_json"`
	Template      string    `json:"template" gorm:"type:text;not null"`
	OutputSchema  *string   `json:"output_schema,omitempty" gorm:"type:text"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Prompt) TableName() string {
	return "prompts"
}

// IsScheduled reports whether the scheduler should consider this prompt.
func (p *Prompt) IsScheduled() bool {
	return p.Enabled && p.Schedule != nil && strings.TrimSpace(*p.Schedule) != ""
}

func (p *Prompt) Recurrence() (*Recurrence, error) {
	if p.Schedule == nil {
		return nil, apperrors.Invalid("schedule", "prompt %s has no schedule", p.Name)
	}
	return ParseRecurrence(*p.Schedule)
}

// Scope selects the emails a run applies to.
type Scope struct {
	Folders      []string   `json:"folders,omitempty" yaml:"folders"`
	Participants []string   `json:"participants,omitempty" yaml:"participants"`
	Project      string     `json:"project,omitempty" yaml:"project"`
	Sentiments   []string   `json:"sentiments,omitempty" yaml:"sentiments"`
	// SinceDays is relative to the run time and wins over Since.
	SinceDays       int        `json:"since_days,omitempty" yaml:"since_days"`
	Since           *time.Time `json:"since,omitempty" yaml:"since"`
	Until           *time.Time `json:"until,omitempty" yaml:"until"`
	NeedsResponse   *bool      `json:"needs_response,omitempty" yaml:"needs_response"`
	IncludeExcluded bool       `json:"include_excluded,omitempty" yaml:"include_excluded"`
	Limit           int        `json:"limit,omitempty" yaml:"limit"`
}

// Filter resolves the scope against the given run time.
func (s Scope) Filter(now time.Time) emaildomain.EmailFilter {
	f := emaildomain.EmailFilter{
		Folders:         s.Folders,
		Participants:    s.Participants,
		Project:         s.Project,
		Sentiments:      s.Sentiments,
		Since:           s.Since,
		Until:           s.Until,
		NeedsResponse:   s.NeedsResponse,
		IncludeExcluded: s.IncludeExcluded,
		Limit:           s.Limit,
	}
	if s.SinceDays > 0 {
		since := now.AddDate(0, 0, -s.SinceDays)
		f.Since = &since
	}
	return f
}

// ModelPref overrides the provider's default model for one prompt.
type ModelPref struct {
	Model       string   `json:"model,omitempty" yaml:"model"`
	Temperature *float32 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

func (p *Prompt) Scope() Scope {
	var s Scope
	if p.ScopeJSON != "" {
		_ = json.Unmarshal([]byte(p.ScopeJSON), &s)
	}
	return s
}

func (p *Prompt) SetScope(s Scope) {
	b, _ := json.Marshal(s)
	p.ScopeJSON = string(b)
}

func (p *Prompt) ModelPref() ModelPref {
	var m ModelPref
	if p.ModelPrefJSON != "" {
		_ = json.Unmarshal([]byte(p.ModelPrefJSON), &m)
	}
	return m
}

func (p *Prompt) SetModelPref(m ModelPref) {
	b, _ := json.Marshal(m)
	p.ModelPrefJSON = string(b)
}

// MarshalJSON adds the decoded scope and model preference.
func (p Prompt) MarshalJSON() ([]byte, error) {
	type alias Prompt
	return json.Marshal(struct {
		alias
		Scope     Scope     `json:"scope"`
		ModelPref ModelPref `json:"model_pref"`
	}{alias(p), p.Scope(), p.ModelPref()})
}

// Validate checks the fields that do not need a template engine or schema compiler.
func (p *Prompt) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.Invalid("name", "required")
	}
	if p.Kind != KindExtraction && p.Kind != KindPeriodic {
		return apperrors.Invalid("kind", "must be %q or %q", KindExtraction, KindPeriodic)
	}
	if strings.TrimSpace(p.Template) == "" && p.Kind == KindPeriodic {
		return apperrors.Invalid("template", "required for periodic prompts")
	}
	if p.Schedule != nil && strings.TrimSpace(*p.Schedule) != "" {
		if _, err := ParseRecurrence(*p.Schedule); err != nil {
			return err
		}
	}
	if p.OutputSchema != nil && p.Kind == KindExtraction && strings.TrimSpace(*p.OutputSchema) != "" {
		return apperrors.Invalid("output_schema", "extraction prompts always produce the facts schema")
	}
	return nil
}
