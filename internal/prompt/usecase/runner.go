package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	emaildomain "noodle-backend/internal/email/domain"
	emailusecase "noodle-backend/internal/email/usecase"
	"noodle-backend/internal/prompt/domain"
	"noodle-backend/pkg/ai"
	"noodle-backend/pkg/apperrors"
)

const maxReportedErrors = 5

const periodicSystemPrompt = `You analyse a set of work emails for the mailbox owner.
Base every statement on the emails provided. Cite subjects when you refer to an email.`

// ExtractionReport is the output of an extraction-kind run.
type ExtractionReport struct {
	Emails    int      `json:"emails"`
	Indexed   int      `json:"indexed"`
	Excluded  int      `json:"excluded"`
	Coalesced int      `json:"coalesced"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

func (u *promptUsecase) runExtraction(ctx context.Context, p *domain.Prompt) (domain.RunResult, error) {
	var result domain.RunResult
	emails, err := u.emails.Find(ctx, p.Scope().Filter(u.now().UTC()))
	if err != nil {
		return result, fmt.Errorf("resolve scope: %w", err)
	}

	ref := emailusecase.PromptRef{ID: p.ID, Version: p.Version, Template: p.Template, Model: p.ModelPref().Model}
	report := ExtractionReport{Emails: len(emails)}
	var firstErr error
	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		out := u.pipeline.Process(ctx, emailusecase.Job{EmailID: e.ID, Force: true, Prompt: ref})
		switch out.State {
		case emailusecase.StateIndexed:
			report.Indexed++
		case emailusecase.StateExcluded:
			report.Excluded++
		case emailusecase.StateCoalesced:
			report.Coalesced++
		default:
			report.Failed++
			if out.Err != nil {
				if firstErr == nil {
					firstErr = out.Err
				}
				if len(report.Errors) < maxReportedErrors {
					report.Errors = append(report.Errors, out.Err.Error())
				}
			}
		}
	}

	result.EmailsProcessed = report.Indexed
	b, _ := json.Marshal(report)
	result.OutputJSON = string(b)

	if report.Failed > 0 && report.Indexed == 0 && report.Coalesced == 0 {
		return result, fmt.Errorf("all %d extractions failed: %w", report.Failed, firstErr)
	}
	return result, nil
}

// PeriodicEmail is one email as periodic templates see it.
type PeriodicEmail struct {
	ID            uint
	Subject       string
	Sender        string
	Folder        string
	Received      string
	Summary       string
	Urgency       string
	Sentiment     string
	NeedsResponse bool
	Project       string
	KeyPoints     []string
	OpenQuestions []string
}

// PeriodicData is what periodic templates can reference.
type PeriodicData struct {
	Today  string
	Prompt string
	Count  int
	Emails []PeriodicEmail
	// Context is Emails pre-rendered as text.
	Context string
}

func parsePeriodic(tmpl string) (*template.Template, error) {
	return template.New("periodic").Option("missingkey=error").Parse(tmpl)
}

// ValidatePeriodicTemplate parses tmpl and executes it against empty data.
func ValidatePeriodicTemplate(tmpl string) error {
	t, err := parsePeriodic(tmpl)
	if err != nil {
		return apperrors.Invalid("template", "%v", err)
	}
	if err := t.Execute(&bytes.Buffer{}, PeriodicData{}); err != nil {
		return apperrors.Invalid("template", "%v", err)
	}
	return nil
}

func (u *promptUsecase) runPeriodic(ctx context.Context, p *domain.Prompt) (domain.RunResult, error) {
	var result domain.RunResult
	if u.provider == nil {
		return result, fmt.Errorf("%w: %w", ErrNoProvider, apperrors.ErrUnavailable)
	}

	now := u.now().UTC()
	filter := p.Scope().Filter(now)
	if filter.Limit <= 0 || filter.Limit > u.cfg.MaxScopeEmails {
		filter.Limit = u.cfg.MaxScopeEmails
	}
	emails, err := u.emails.Find(ctx, filter)
	if err != nil {
		return result, fmt.Errorf("resolve scope: %w", err)
	}
	data, err := u.periodicData(ctx, p, emails)
	if err != nil {
		return result, err
	}
	data.Today = now.Format("2006-01-02")

	t, err := parsePeriodic(p.Template)
	if err != nil {
		return result, apperrors.Invalid("template", "%v", err)
	}
	var prompt bytes.Buffer
	if err := t.Execute(&prompt, data); err != nil {
		return result, apperrors.Invalid("template", "%v", err)
	}

	pref := p.ModelPref()
	req := ai.CompletionRequest{
		System:    periodicSystemPrompt,
		Prompt:    prompt.String(),
		Model:     pref.Model,
		MaxTokens: pref.MaxTokens,
	}
	if pref.Temperature != nil {
		req.Temperature = *pref.Temperature
	}
	result.EmailsProcessed = len(emails)

	if p.OutputSchema != nil {
		contract, err := ai.CompileContract(p.Name, *p.OutputSchema)
		if err != nil {
			return result, apperrors.Invalid("output_schema", "%v", err)
		}
		doc, _, err := ai.CompleteJSON(ctx, u.provider, req, contract)
		if err != nil {
			return result, err
		}
		result.OutputJSON = doc
		return result, nil
	}

	resp, err := u.provider.Complete(ctx, req)
	if err != nil {
		return result, err
	}
	result.OutputText = strings.TrimSpace(resp.Text)
	return result, nil
}

func (u *promptUsecase) periodicData(ctx context.Context, p *domain.Prompt, emails []*emaildomain.Email) (PeriodicData, error) {
	data := PeriodicData{Prompt: p.Name, Count: len(emails)}
	ids := make([]uint, len(emails))
	for i, e := range emails {
		ids[i] = e.ID
	}
	facts, err := u.facts.GetMany(ctx, ids)
	if err != nil {
		return data, err
	}

	var text strings.Builder
	for i, e := range emails {
		pe := PeriodicEmail{
			ID:       e.ID,
			Subject:  e.Subject,
			Sender:   e.Sender,
			Folder:   e.Folder,
			Received: e.ReceivedAt.UTC().Format("2006-01-02 15:04"),
		}
		if f := facts[e.ID]; f != nil {
			v := f.View()
			pe.Summary = v.Summary
			pe.Urgency = string(v.Urgency)
			pe.Sentiment = string(v.Sentiment)
			pe.NeedsResponse = v.NeedsResponse
			pe.KeyPoints = v.KeyPoints
			if v.ClientOrProject != nil {
				pe.Project = v.ClientOrProject.Name
			}
			for _, q := range v.OpenQuestions {
				pe.OpenQuestions = append(pe.OpenQuestions, q.Question)
			}
		}
		data.Emails = append(data.Emails, pe)

		fmt.Fprintf(&text, "[%d] %s | From: %s | %s\n", i+1, pe.Subject, pe.Sender, pe.Received)
		if pe.Summary != "" {
			fmt.Fprintf(&text, "    Summary: %s\n", pe.Summary)
		}
		if pe.Project != "" {
			fmt.Fprintf(&text, "    Project: %s\n", pe.Project)
		}
		for _, q := range pe.OpenQuestions {
			fmt.Fprintf(&text, "    Open question: %s\n", q)
		}
	}
	data.Context = text.String()
	return data, nil
}
