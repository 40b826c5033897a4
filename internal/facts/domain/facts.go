package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"noodle-backend/pkg/apperrors"
)

// Item is a risk, issue or blocker.
type Item struct {
	Title      string   `json:"title"`
	Details    string   `json:"details,omitempty"`
	Owner      string   `json:"owner,omitempty"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
}

type OpenQuestion struct {
	Question   string     `json:"question"`
	AskedBy    string     `json:"asked_by,omitempty"`
	Owner      string     `json:"owner,omitempty"`
	DueBy      *time.Time `json:"due_by,omitempty"`
	Confidence float64    `json:"confidence"`
}

type AnsweredQuestion struct {
	Question      string  `json:"question"`
	AnswerSummary string  `json:"answer_summary"`
	Confidence    float64 `json:"confidence"`
}

type ClientOrProject struct {
	Name       string          `json:"name"`
	Kind       AttributionKind `json:"kind"`
	Confidence float64         `json:"confidence"`
}

// Provenance records which prompt and model produced a fact set.
type Provenance struct {
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	PromptID      string    `json:"prompt_id"`
	PromptVersion int       `json:"prompt_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExtractedEntity and ExtractedRelation feed the graph builder.
type ExtractedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Role       string  `json:"role"`
	Confidence float64 `json:"confidence"`
}

type ExtractedRelation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
	// Entity types of the endpoints; resolved against Entities when empty.
	SourceType string `json:"source_type,omitempty"`
	TargetType string `json:"target_type,omitempty"`
}

// Payload is the AI extraction result for one email.
type Payload struct {
	PrimaryType       PrimaryType         `json:"primary_type"`
	Intent            Intent              `json:"intent"`
	Urgency           Urgency             `json:"urgency"`
	Sentiment         Sentiment           `json:"sentiment"`
	ClientOrProject   *ClientOrProject    `json:"client_or_project,omitempty"`
	DueBy             *time.Time          `json:"due_by,omitempty"`
	NeedsResponse     bool                `json:"needs_response"`
	WaitingOn         WaitingOn           `json:"waiting_on"`
	Summary           string              `json:"summary"`
	KeyPoints         []string            `json:"key_points"`
	Risks             []Item              `json:"risks"`
	Issues            []Item              `json:"issues"`
	Blockers          []Item              `json:"blockers"`
	OpenQuestions     []OpenQuestion      `json:"open_questions"`
	AnsweredQuestions []AnsweredQuestion  `json:"answered_questions"`
	Confidence        float64             `json:"confidence"`
	Entities          []ExtractedEntity   `json:"entities"`
	Relations         []ExtractedRelation `json:"relations"`
}

const maxSummaryChars = 2000

func checkConfidence(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return apperrors.Invalid(field, "confidence must be within [0,1], got %v", v)
	}
	return nil
}

// Validate checks enumerations and confidence bounds. A failing payload must
// not be persisted.
func (p *Payload) Validate() error {
	if !oneOf(p.PrimaryType, PrimaryTypes) {
		return apperrors.Invalid("primary_type", "unknown value %q", p.PrimaryType)
	}
	if !oneOf(p.Intent, Intents) {
		return apperrors.Invalid("intent", "unknown value %q", p.Intent)
	}
	if !oneOf(p.Urgency, Urgencies) {
		return apperrors.Invalid("urgency", "unknown value %q", p.Urgency)
	}
	if !oneOf(p.Sentiment, Sentiments) {
		return apperrors.Invalid("sentiment", "unknown value %q", p.Sentiment)
	}
	if !oneOf(p.WaitingOn, WaitingOns) {
		return apperrors.Invalid("waiting_on", "unknown value %q", p.WaitingOn)
	}
	if strings.TrimSpace(p.Summary) == "" {
		return apperrors.Invalid("summary", "required")
	}
	if len(p.Summary) > maxSummaryChars {
		return apperrors.Invalid("summary", "longer than %d characters", maxSummaryChars)
	}
	if err := checkConfidence("confidence", p.Confidence); err != nil {
		return err
	}
	if p.ClientOrProject != nil {
		if strings.TrimSpace(p.ClientOrProject.Name) == "" {
			return apperrors.Invalid("client_or_project.name", "required")
		}
		if p.ClientOrProject.Kind != AttributionClient && p.ClientOrProject.Kind != AttributionProject {
			return apperrors.Invalid("client_or_project.kind", "unknown value %q", p.ClientOrProject.Kind)
		}
		if err := checkConfidence("client_or_project.confidence", p.ClientOrProject.Confidence); err != nil {
			return err
		}
	}

	lists := map[string][]Item{"risks": p.Risks, "issues": p.Issues, "blockers": p.Blockers}
	for _, name := range []string{"risks", "issues", "blockers"} {
		for i, item := range lists[name] {
			field := fmt.Sprintf("%s[%d]", name, i)
			if strings.TrimSpace(item.Title) == "" {
				return apperrors.Invalid(field+".title", "required")
			}
			if !oneOf(item.Severity, Severities) {
				return apperrors.Invalid(field+".severity", "unknown value %q", item.Severity)
			}
			if err := checkConfidence(field+".confidence", item.Confidence); err != nil {
				return err
			}
		}
	}
	for i, q := range p.OpenQuestions {
		field := fmt.Sprintf("open_questions[%d]", i)
		if strings.TrimSpace(q.Question) == "" {
			return apperrors.Invalid(field+".question", "required")
		}
		if err := checkConfidence(field+".confidence", q.Confidence); err != nil {
			return err
		}
	}
	for i, q := range p.AnsweredQuestions {
		field := fmt.Sprintf("answered_questions[%d]", i)
		if strings.TrimSpace(q.Question) == "" {
			return apperrors.Invalid(field+".question", "required")
		}
		if err := checkConfidence(field+".confidence", q.Confidence); err != nil {
			return err
		}
	}
	for i, e := range p.Entities {
		field := fmt.Sprintf("entities[%d]", i)
		if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.Type) == "" {
			return apperrors.Invalid(field, "name and type are required")
		}
		if err := checkConfidence(field+".confidence", e.Confidence); err != nil {
			return err
		}
	}
	for i, r := range p.Relations {
		if strings.TrimSpace(r.Source) == "" || strings.TrimSpace(r.Target) == "" || strings.TrimSpace(r.Type) == "" {
			return apperrors.Invalid(fmt.Sprintf("relations[%d]", i), "source, target and type are required")
		}
	}
	return nil
}

// ExtractedFacts is the stored 1:1 projection of a Payload.
type ExtractedFacts struct {
	EmailID               uint            `json:"email_id" gorm:"primaryKey;autoIncrement:false"`
	PrimaryType           PrimaryType     `json:"primary_type"`
	Intent                Intent          `json:"intent"`
	Urgency               Urgency         `json:"urgency"`
	Sentiment             Sentiment       `json:"sentiment"`
	ProjectName           *string         `json:"project_name,omitempty"`
	ProjectKind           *string         `json:"project_kind,omitempty"`
	ProjectConfidence     *float64        `json:"project_confidence,omitempty"`
	DueBy                 *time.Time      `json:"due_by,omitempty"`
	NeedsResponse         bool            `json:"needs_response"`
	WaitingOn             WaitingOn       `json:"waiting_on"`
	Summary               string          `json:"summary"`
	KeyPointsJSON         string          `json:"-" gorm:"column:key_points_json"`
	RisksJSON             string          `json:"-" gorm:"column:risks_json"`
	IssuesJSON            string          `json:"-" gorm:"column:issues_json"`
	BlockersJSON          string          `json:"-" gorm:"column:blockers_json"`
	OpenQuestionsJSON     string          `json:"-" gorm:"column:open_questions_json"`
	AnsweredQuestionsJSON string          `json:"-" gorm:"column:answered_questions_json"`
	Confidence            float64         `json:"confidence"`
	ProvenanceJSON        string          `json:"-" gorm:"column:provenance_json"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (ExtractedFacts) TableName() string {
	return "extracted_email_facts"
}

func mustJSON(v any, empty string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

// NewExtractedFacts flattens a validated payload for storage.
func NewExtractedFacts(emailID uint, p *Payload, prov Provenance) *ExtractedFacts {
	f := &ExtractedFacts{
		EmailID:               emailID,
		PrimaryType:           p.PrimaryType,
		Intent:                p.Intent,
		Urgency:               p.Urgency,
		Sentiment:             p.Sentiment,
		DueBy:                 p.DueBy,
		NeedsResponse:         p.NeedsResponse,
		WaitingOn:             p.WaitingOn,
		Summary:               strings.TrimSpace(p.Summary),
		KeyPointsJSON:         mustJSON(p.KeyPoints, "[]"),
		RisksJSON:             mustJSON(p.Risks, "[]"),
		IssuesJSON:            mustJSON(p.Issues, "[]"),
		BlockersJSON:          mustJSON(p.Blockers, "[]"),
		OpenQuestionsJSON:     mustJSON(p.OpenQuestions, "[]"),
		AnsweredQuestionsJSON: mustJSON(p.AnsweredQuestions, "[]"),
		Confidence:            p.Confidence,
		ProvenanceJSON:        mustJSON(prov, "{}"),
	}
	if cp := p.ClientOrProject; cp != nil {
		name := strings.TrimSpace(cp.Name)
		kind := string(cp.Kind)
		conf := cp.Confidence
		f.ProjectName, f.ProjectKind, f.ProjectConfidence = &name, &kind, &conf
	}
	return f
}

// View is the decoded, API-facing form of ExtractedFacts.
type View struct {
	EmailID           uint               `json:"email_id"`
	PrimaryType       PrimaryType        `json:"primary_type"`
	Intent            Intent             `json:"intent"`
	Urgency           Urgency            `json:"urgency"`
	Sentiment         Sentiment          `json:"sentiment"`
	ClientOrProject   *ClientOrProject   `json:"client_or_project,omitempty"`
	DueBy             *time.Time         `json:"due_by,omitempty"`
	NeedsResponse     bool               `json:"needs_response"`
	WaitingOn         WaitingOn          `json:"waiting_on"`
	Summary           string             `json:"summary"`
	KeyPoints         []string           `json:"key_points"`
	Risks             []Item             `json:"risks"`
	Issues            []Item             `json:"issues"`
	Blockers          []Item             `json:"blockers"`
	OpenQuestions     []OpenQuestion     `json:"open_questions"`
	AnsweredQuestions []AnsweredQuestion `json:"answered_questions"`
	Confidence        float64            `json:"confidence"`
	Provenance        Provenance         `json:"provenance"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// View decodes the JSON columns. Malformed columns decode as empty lists.
func (f *ExtractedFacts) View() *View {
	v := &View{
		EmailID:       f.EmailID,
		PrimaryType:   f.PrimaryType,
		Intent:        f.Intent,
		Urgency:       f.Urgency,
		Sentiment:     f.Sentiment,
		DueBy:         f.DueBy,
		NeedsResponse: f.NeedsResponse,
		WaitingOn:     f.WaitingOn,
		Summary:       f.Summary,
		Confidence:    f.Confidence,
		UpdatedAt:     f.UpdatedAt,
	}
	if f.ProjectName != nil {
		cp := &ClientOrProject{Name: *f.ProjectName}
		if f.ProjectKind != nil {
			cp.Kind = AttributionKind(*f.ProjectKind)
		}
		if f.ProjectConfidence != nil {
			cp.Confidence = *f.ProjectConfidence
		}
		v.ClientOrProject = cp
	}
	_ = json.Unmarshal([]byte(f.KeyPointsJSON), &v.KeyPoints)
	_ = json.Unmarshal([]byte(f.RisksJSON), &v.Risks)
	_ = json.Unmarshal([]byte(f.IssuesJSON), &v.Issues)
	_ = json.Unmarshal([]byte(f.BlockersJSON), &v.Blockers)
	_ = json.Unmarshal([]byte(f.OpenQuestionsJSON), &v.OpenQuestions)
	_ = json.Unmarshal([]byte(f.AnsweredQuestionsJSON), &v.AnsweredQuestions)
	_ = json.Unmarshal([]byte(f.ProvenanceJSON), &v.Provenance)
	return v
}
