package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	factsdomain "noodle-backend/internal/facts/domain"
	"noodle-backend/pkg/ai"
	"noodle-backend/pkg/apperrors"

	"go.uber.org/zap"
)

const (
	BuiltinPromptID      = "builtin:extraction"
	BuiltinPromptVersion = 1

	maxAttachmentChars = 2000
)

// DefaultTemplate is used when a request carries no template of its own.
const DefaultTemplate = `You are an assistant that reads work email and records structured facts about it.

TODAY: {{.Today}}

INSTRUCTIONS:
1. Classify the email: primary_type, intent, urgency, sentiment and waiting_on.
2. Attribute it to a client or project when one is clearly named, with a confidence.
3. Write a short factual summary (at most 3 sentences) and the key points.
4. List risks, issues, blockers, open questions and answered questions. Use empty lists when there are none.
5. List the people, organizations and projects mentioned as entities with a role
   (sender, recipient, cc, internal, external, client, vendor, opposing, unknown),
   and the relations between them (for example "works_for", "works_on", "reports_to").
6. Every confidence is a number between 0 and 1. Dates use RFC 3339.

Return ONLY one JSON object that satisfies this schema:
{{.Schema}}

EMAIL:
{{.Email}}

JSON OUTPUT:`

type ExtractRequest struct {
	Email         *emaildomain.Email
	PromptID      string
	PromptVersion int
	// Template is a text/template over TemplateData; empty selects DefaultTemplate.
	Template string
	Model    string
}

type ExtractResult struct {
	Payload    *factsdomain.Payload
	Provenance factsdomain.Provenance
}

// TemplateData is what prompt templates can reference.
type TemplateData struct {
	Today   string
	Schema  string
	Email   string
	Subject string
	Sender  string
	Folder  string
}

// Extractor turns one email into a validated fact payload through the AI provider.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error)
}

type extractor struct {
	provider     ai.Provider
	contract     *ai.Contract
	maxBodyChars int
	temperature  float32
	now          func() time.Time
	logger       *zap.Logger
}

func NewExtractor(provider ai.Provider, maxBodyChars int, temperature float32, logger *zap.Logger) (Extractor, error) {
	contract, err := ai.CompileContract("extracted_facts", factsdomain.PayloadSchema())
	if err != nil {
		return nil, err
	}
	if maxBodyChars <= 0 {
		maxBodyChars = 8000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &extractor{
		provider:     provider,
		contract:     contract,
		maxBodyChars: maxBodyChars,
		temperature:  temperature,
		now:          time.Now,
		logger:       logger.Named("extractor"),
	}, nil
}

// ValidateTemplate reports whether tmpl parses and renders against sample data.
func ValidateTemplate(tmpl string) error {
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return apperrors.Invalid("template", "%v", err)
	}
	if err := t.Execute(&bytes.Buffer{}, TemplateData{}); err != nil {
		return apperrors.Invalid("template", "%v", err)
	}
	return nil
}

func (x *extractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if req.Email == nil {
		return nil, fmt.Errorf("extract: %w", apperrors.ErrInvalidInput)
	}
	if x.provider == nil {
		return nil, fmt.Errorf("extract: no AI provider configured: %w", apperrors.ErrUnavailable)
	}
	tmpl := req.Template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	promptID, version := req.PromptID, req.PromptVersion
	if promptID == "" {
		promptID, version = BuiltinPromptID, BuiltinPromptVersion
	}

	prompt, err := x.render(tmpl, req.Email)
	if err != nil {
		return nil, err
	}

	doc, resp, err := ai.CompleteJSON(ctx, x.provider, ai.CompletionRequest{
		Prompt:      prompt,
		Model:       req.Model,
		Temperature: x.temperature,
	}, x.contract)
	if err != nil {
		return nil, err
	}

	var payload factsdomain.Payload
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return nil, apperrors.Invalid("payload", "cannot decode: %v", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	x.logger.Debug("Extraction completed",
		zap.Uint("email_id", req.Email.ID),
		zap.String("prompt_id", promptID),
		zap.String("provider", string(resp.Provider)),
		zap.Int("entities", len(payload.Entities)))

	return &ExtractResult{
		Payload: &payload,
		Provenance: factsdomain.Provenance{
			Provider:      string(resp.Provider),
			Model:         resp.Model,
			PromptID:      promptID,
			PromptVersion: version,
			CreatedAt:     x.now().UTC(),
		},
	}, nil
}

func (x *extractor) render(tmpl string, e *emaildomain.Email) (string, error) {
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", apperrors.Invalid("template", "%v", err)
	}
	var buf bytes.Buffer
	err = t.Execute(&buf, TemplateData{
		Today:   x.now().Format("2006-01-02"),
		Schema:  x.contract.Source(),
		Email:   RenderEmail(e, x.maxBodyChars),
		Subject: e.Subject,
		Sender:  e.Sender,
		Folder:  e.Folder,
	})
	if err != nil {
		return "", apperrors.Invalid("template", "%v", err)
	}
	return buf.String(), nil
}

// RenderEmail formats an email as prompt context with the body capped at maxBodyChars.
func RenderEmail(e *emaildomain.Email, maxBodyChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
	fmt.Fprintf(&b, "From: %s\n", e.Sender)
	if e.To != "" {
		fmt.Fprintf(&b, "To: %s\n", e.To)
	}
	if e.Cc != nil && *e.Cc != "" {
		fmt.Fprintf(&b, "Cc: %s\n", *e.Cc)
	}
	date := e.ReceivedAt
	if e.SentAt != nil {
		date = *e.SentAt
	}
	fmt.Fprintf(&b, "Date: %s\n", date.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Folder: %s\n\n", e.Folder)
	b.WriteString(truncate(strings.TrimSpace(e.BodyText), maxBodyChars))

	for _, a := range e.Attachments {
		fmt.Fprintf(&b, "\n\n[Attachment: %s (%s)]", a.Filename, a.MimeType)
		if a.ExtractedText != nil && *a.ExtractedText != "" {
			b.WriteString("\n")
			b.WriteString(truncate(*a.ExtractedText, maxAttachmentChars))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
