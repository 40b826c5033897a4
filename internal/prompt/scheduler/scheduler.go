package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"noodle-backend/internal/prompt/domain"
	"noodle-backend/internal/prompt/repository"

	"go.uber.org/zap"
)

// Executor drives a claimed run to completion.
type Executor interface {
	Execute(ctx context.Context, p *domain.Prompt, run *domain.PeriodicRun) (*domain.PeriodicRun, error)
}

// PromptScheduler claims due occurrences of scheduled prompts and runs them.
type PromptScheduler struct {
	prompts  repository.PromptRepository
	runs     repository.RunRepository
	executor Executor
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	loopWg   sync.WaitGroup
	runWg    sync.WaitGroup
}

func NewPromptScheduler(
	prompts repository.PromptRepository,
	runs repository.RunRepository,
	executor Executor,
	interval time.Duration,
	logger *zap.Logger,
) *PromptScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptScheduler{
		prompts:  prompts,
		runs:     runs,
		executor: executor,
		interval: interval,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Recover fails runs a previous process left pending or running.
func (s *PromptScheduler) Recover(ctx context.Context) error {
	n, err := s.runs.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("Marked interrupted runs as failed", zap.Int64("runs", n))
	}
	return nil
}

// Start begins the scheduler loop. Runs use ctx; cancelling it stops new
// claims and aborts in-flight calls.
func (s *PromptScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting prompt scheduler", zap.Duration("interval", s.interval))

	s.loopWg.Add(1)
	go func() {
		defer s.loopWg.Done()

		// Run immediately on start
		s.Tick(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-ctx.Done():
				s.logger.Info("Scheduler stopped")
				return
			case <-s.stopChan:
				s.logger.Info("Scheduler stopped")
				return
			}
		}
	}()
}

// Stop ends the loop and waits for the runs it started.
func (s *PromptScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.loopWg.Wait()
	s.runWg.Wait()
}

// Wait blocks until every run started by Tick has finished.
func (s *PromptScheduler) Wait() {
	s.runWg.Wait()
}

// Tick claims the latest due occurrence of every scheduled prompt and starts
// a run for each claim. It returns the number of runs started.
func (s *PromptScheduler) Tick(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	prompts, err := s.prompts.ListScheduled(ctx)
	if err != nil {
		s.logger.Error("Failed to list scheduled prompts", zap.Error(err))
		return 0
	}

	now := s.now().UTC()
	started := 0
	for _, p := range prompts {
		run, err := s.claim(ctx, p, now)
		if err != nil {
			s.logger.Error("Failed to claim prompt occurrence", zap.String("prompt_id", p.ID), zap.Error(err))
			continue
		}
		if run == nil {
			continue
		}

		started++
		s.runWg.Add(1)
		go func(p *domain.Prompt, run *domain.PeriodicRun) {
			defer s.runWg.Done()
			if _, err := s.executor.Execute(ctx, p, run); err != nil {
				s.logger.Error("Failed to record run", zap.String("prompt_id", p.ID), zap.Uint("run_id", run.ID), zap.Error(err))
			}
		}(p, run)
	}
	return started
}

// claim returns nil without error when nothing is due, the occurrence was
// claimed elsewhere, or the prompt is still busy.
func (s *PromptScheduler) claim(ctx context.Context, p *domain.Prompt, now time.Time) (*domain.PeriodicRun, error) {
	rec, err := p.Recurrence()
	if err != nil {
		return nil, err
	}

	anchor := p.CreatedAt.UTC()
	last, err := s.runs.LastScheduledDue(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if last != nil && last.After(anchor) {
		anchor = *last
	}

	due, ok := rec.LatestDue(anchor, now)
	if !ok {
		return nil, nil
	}

	run, err := s.runs.Claim(ctx, p.ID, due, domain.TriggerSchedule)
	switch {
	case errors.Is(err, repository.ErrOccurrenceClaimed):
		return nil, nil
	case errors.Is(err, repository.ErrRunActive):
		s.logger.Info("Deferring prompt run, previous run still active", zap.String("prompt_id", p.ID), zap.Time("due_at", due))
		return nil, nil
	case err != nil:
		return nil, err
	}
	return run, nil
}

// NextDue reports when p is next due after its last scheduled run.
func (s *PromptScheduler) NextDue(ctx context.Context, p *domain.Prompt) (*time.Time, error) {
	if !p.IsScheduled() {
		return nil, nil
	}
	rec, err := p.Recurrence()
	if err != nil {
		return nil, err
	}
	anchor := p.CreatedAt.UTC()
	last, err := s.runs.LastScheduledDue(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if last != nil && last.After(anchor) {
		anchor = *last
	}
	next := rec.Next(anchor)
	return &next, nil
}
