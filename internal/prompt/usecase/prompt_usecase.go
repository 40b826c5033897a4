package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	emailrepo "noodle-backend/internal/email/repository"
	emailusecase "noodle-backend/internal/email/usecase"
	factsrepo "noodle-backend/internal/facts/repository"
	factsusecase "noodle-backend/internal/facts/usecase"
	"noodle-backend/internal/prompt/domain"
	"noodle-backend/internal/prompt/repository"
	"noodle-backend/pkg/ai"
	"noodle-backend/pkg/apperrors"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Pipeline is the part of the extraction orchestrator prompt runs depend on.
type Pipeline interface {
	Process(ctx context.Context, job emailusecase.Job) emailusecase.Outcome
}

// PromptInput is the writable part of a prompt, shared by the API and YAML import.
type PromptInput struct {
	Name         string           `json:"name" yaml:"name"`
	Kind         domain.Kind      `json:"kind" yaml:"kind"`
	Enabled      *bool            `json:"enabled" yaml:"enabled"`
	Schedule     string           `json:"schedule" yaml:"schedule"`
	Scope        domain.Scope     `json:"scope" yaml:"scope"`
	Model        domain.ModelPref `json:"model" yaml:"model"`
	Template     string           `json:"template" yaml:"template"`
	OutputSchema string           `json:"output_schema" yaml:"output_schema"`
}

// PromptUsecase manages prompts and executes their runs.
type PromptUsecase interface {
	Create(ctx context.Context, in PromptInput) (*domain.Prompt, error)
	Update(ctx context.Context, id string, in PromptInput) (*domain.Prompt, error)
	Get(ctx context.Context, id string) (*domain.Prompt, error)
	List(ctx context.Context) ([]*domain.Prompt, error)
	Delete(ctx context.Context, id string) error
	// Import creates or updates prompts by name from a YAML document.
	Import(ctx context.Context, data []byte) ([]*domain.Prompt, error)
	// RunNow starts a manual run. Without wait it returns the pending run.
	RunNow(ctx context.Context, id string, wait bool) (*domain.PeriodicRun, error)
	Runs(ctx context.Context, id string, limit int) ([]*domain.PeriodicRun, error)
	// Execute drives a claimed run to a terminal status.
	Execute(ctx context.Context, p *domain.Prompt, run *domain.PeriodicRun) (*domain.PeriodicRun, error)
	// Wait blocks until background manual runs finish.
	Wait()
}

type Config struct {
	// MaxScopeEmails caps the emails folded into one periodic call.
	MaxScopeEmails int
}

type promptUsecase struct {
	prompts  repository.PromptRepository
	runs     repository.RunRepository
	emails   emailrepo.EmailRepository
	facts    factsrepo.FactsRepository
	pipeline Pipeline
	provider ai.Provider
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

func NewPromptUsecase(
	prompts repository.PromptRepository,
	runs repository.RunRepository,
	emails emailrepo.EmailRepository,
	facts factsrepo.FactsRepository,
	pipeline Pipeline,
	provider ai.Provider,
	cfg Config,
	logger *zap.Logger,
) PromptUsecase {
	if cfg.MaxScopeEmails <= 0 {
		cfg.MaxScopeEmails = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &promptUsecase{
		prompts:  prompts,
		runs:     runs,
		emails:   emails,
		facts:    facts,
		pipeline: pipeline,
		provider: provider,
		cfg:      cfg,
		logger:   logger.Named("prompt"),
		now:      time.Now,
	}
}

func (u *promptUsecase) apply(p *domain.Prompt, in PromptInput) error {
	p.Name = strings.TrimSpace(in.Name)
	p.Kind = in.Kind
	if p.Kind == "" {
		p.Kind = domain.KindPeriodic
	}
	p.Enabled = in.Enabled == nil || *in.Enabled
	p.Schedule = nil
	if s := strings.TrimSpace(in.Schedule); s != "" {
		p.Schedule = &s
	}
	p.SetScope(in.Scope)
	p.SetModelPref(in.Model)
	p.Template = in.Template
	p.OutputSchema = nil
	if s := strings.TrimSpace(in.OutputSchema); s != "" {
		p.OutputSchema = &s
	}
	return validatePrompt(p)
}

func validatePrompt(p *domain.Prompt) error {
	if err := p.Validate(); err != nil {
		return err
	}
	switch p.Kind {
	case domain.KindExtraction:
		if p.Template != "" {
			if err := factsusecase.ValidateTemplate(p.Template); err != nil {
				return err
			}
		}
	case domain.KindPeriodic:
		if err := ValidatePeriodicTemplate(p.Template); err != nil {
			return err
		}
		if p.OutputSchema != nil {
			if _, err := ai.CompileContract(p.Name, *p.OutputSchema); err != nil {
				return apperrors.Invalid("output_schema", "%v", err)
			}
		}
	}
	return nil
}

func (u *promptUsecase) Create(ctx context.Context, in PromptInput) (*domain.Prompt, error) {
	p := &domain.Prompt{}
	if err := u.apply(p, in); err != nil {
		return nil, err
	}
	if err := u.prompts.Create(ctx, p); err != nil {
		return nil, err
	}
	u.logger.Info("Prompt created", zap.String("prompt_id", p.ID), zap.String("name", p.Name), zap.String("kind", string(p.Kind)))
	return p, nil
}

func (u *promptUsecase) Update(ctx context.Context, id string, in PromptInput) (*domain.Prompt, error) {
	p, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.apply(p, in); err != nil {
		return nil, err
	}
	if err := u.prompts.Update(ctx, p); err != nil {
		return nil, err
	}
	u.logger.Info("Prompt updated", zap.String("prompt_id", p.ID), zap.Int("version", p.Version))
	return p, nil
}

func (u *promptUsecase) Get(ctx context.Context, id string) (*domain.Prompt, error) {
	p, err := u.prompts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("prompt %s: %w", id, apperrors.ErrNotFound)
	}
	return p, nil
}

func (u *promptUsecase) List(ctx context.Context) ([]*domain.Prompt, error) {
	return u.prompts.List(ctx)
}

func (u *promptUsecase) Delete(ctx context.Context, id string) error {
	return u.prompts.Delete(ctx, id)
}

type promptFile struct {
	Prompts []PromptInput `yaml:"prompts"`
}

func (u *promptUsecase) Import(ctx context.Context, data []byte) ([]*domain.Prompt, error) {
	var file promptFile
	if err := yaml.Unmarshal(data, &file); err != nil || len(file.Prompts) == 0 {
		// A bare list is accepted too.
		var list []PromptInput
		if lerr := yaml.Unmarshal(data, &list); lerr != nil {
			if err == nil {
				err = lerr
			}
			return nil, apperrors.Invalid("yaml", "%v", err)
		}
		file.Prompts = list
	}
	if len(file.Prompts) == 0 {
		return nil, apperrors.Invalid("yaml", "no prompts found")
	}

	// Validate everything before writing anything.
	seen := map[string]bool{}
	for i, in := range file.Prompts {
		if err := u.apply(&domain.Prompt{}, in); err != nil {
			return nil, fmt.Errorf("prompts[%d]: %w", i, err)
		}
		if seen[strings.TrimSpace(in.Name)] {
			return nil, apperrors.Invalid(fmt.Sprintf("prompts[%d].name", i), "duplicate name %q", in.Name)
		}
		seen[strings.TrimSpace(in.Name)] = true
	}

	out := make([]*domain.Prompt, 0, len(file.Prompts))
	for _, in := range file.Prompts {
		existing, err := u.prompts.GetByName(ctx, strings.TrimSpace(in.Name))
		if err != nil {
			return out, err
		}
		var p *domain.Prompt
		if existing != nil {
			p, err = u.Update(ctx, existing.ID, in)
		} else {
			p, err = u.Create(ctx, in)
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (u *promptUsecase) Runs(ctx context.Context, id string, limit int) ([]*domain.PeriodicRun, error) {
	if _, err := u.Get(ctx, id); err != nil {
		return nil, err
	}
	return u.runs.List(ctx, id, limit)
}

func (u *promptUsecase) RunNow(ctx context.Context, id string, wait bool) (*domain.PeriodicRun, error) {
	p, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	run, err := u.runs.Claim(ctx, p.ID, u.now().UTC(), domain.TriggerManual)
	if err != nil {
		return nil, err
	}

	if wait {
		return u.Execute(ctx, p, run)
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if _, err := u.Execute(context.WithoutCancel(ctx), p, run); err != nil {
			u.logger.Error("Manual run failed to record", zap.Uint("run_id", run.ID), zap.Error(err))
		}
	}()
	return run, nil
}

func (u *promptUsecase) Wait() {
	u.wg.Wait()
}

func (u *promptUsecase) Execute(ctx context.Context, p *domain.Prompt, run *domain.PeriodicRun) (*domain.PeriodicRun, error) {
	if err := u.runs.MarkRunning(ctx, run.ID); err != nil {
		// A conflict means another executor owns the run.
		if !errors.Is(err, apperrors.ErrConflict) {
			if ferr := u.runs.Finish(context.WithoutCancel(ctx), run.ID, domain.RunFailed, domain.RunResult{}, err.Error()); ferr != nil {
				u.logger.Error("Failed to record unstarted run", zap.Uint("run_id", run.ID), zap.Error(ferr))
			}
		}
		return nil, fmt.Errorf("start run %d: %w", run.ID, err)
	}
	logger := u.logger.With(zap.String("prompt_id", p.ID), zap.Uint("run_id", run.ID), zap.String("kind", string(p.Kind)))
	logger.Info("Prompt run started", zap.Time("due_at", run.DueAt))

	result, runErr := u.safeExecute(ctx, p)

	status := domain.RunSuccess
	errText := ""
	if runErr != nil {
		status = domain.RunFailed
		errText = runErr.Error()
	}
	// The outcome is recorded even when ctx was cancelled.
	if err := u.runs.Finish(context.WithoutCancel(ctx), run.ID, status, result, errText); err != nil {
		return nil, err
	}

	if runErr != nil {
		logger.Warn("Prompt run failed", zap.Error(runErr))
	} else {
		logger.Info("Prompt run finished", zap.Int("emails", result.EmailsProcessed))
	}
	return u.runs.Get(context.WithoutCancel(ctx), run.ID)
}

func (u *promptUsecase) safeExecute(ctx context.Context, p *domain.Prompt) (result domain.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prompt run panicked: %v", r)
		}
	}()
	switch p.Kind {
	case domain.KindExtraction:
		return u.runExtraction(ctx, p)
	case domain.KindPeriodic:
		return u.runPeriodic(ctx, p)
	}
	return result, fmt.Errorf("unknown prompt kind %q: %w", p.Kind, apperrors.ErrInvalidInput)
}

// ErrNoProvider is returned by periodic runs when no AI provider is configured.
var ErrNoProvider = errors.New("no AI provider configured")
