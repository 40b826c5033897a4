package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"noodle-backend/internal/prompt/domain"
	"noodle-backend/pkg/apperrors"

	"gorm.io/gorm"
)

var (
	// ErrOccurrenceClaimed means another tick already created the run for this occurrence.
	ErrOccurrenceClaimed = fmt.Errorf("occurrence already claimed: %w", apperrors.ErrConflict)
	// ErrRunActive means the prompt still has a pending or running run.
	ErrRunActive = fmt.Errorf("prompt has an active run: %w", apperrors.ErrConflict)
)

// RunRepository is the append-only run history. Uniqueness on
// (prompt_id, due_at) and a partial unique index over active runs make Claim
// safe across concurrent schedulers.
type RunRepository interface {
	// Claim inserts a pending run for the occurrence.
	Claim(ctx context.Context, promptID string, dueAt time.Time, trigger domain.Trigger) (*domain.PeriodicRun, error)
	MarkRunning(ctx context.Context, runID uint) error
	// Finish moves a pending or running run to status. Terminal runs are never touched.
	Finish(ctx context.Context, runID uint, status domain.RunStatus, result domain.RunResult, errText string) error
	Get(ctx context.Context, runID uint) (*domain.PeriodicRun, error)
	List(ctx context.Context, promptID string, limit int) ([]*domain.PeriodicRun, error)
	// LastScheduledDue returns the latest occurrence the scheduler claimed.
	LastScheduledDue(ctx context.Context, promptID string) (*time.Time, error)
	Active(ctx context.Context, promptID string) (*domain.PeriodicRun, error)
	// FailInterrupted fails runs left pending or running by a previous process.
	FailInterrupted(ctx context.Context) (int64, error)
}

type runRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db, now: time.Now}
}

func (r *runRepository) Claim(ctx context.Context, promptID string, dueAt time.Time, trigger domain.Trigger) (*domain.PeriodicRun, error) {
	run := &domain.PeriodicRun{
		PromptID:    promptID,
		DueAt:       dueAt.UTC(),
		RunAt:       r.now().UTC(),
		Status:      domain.RunPending,
		TriggerKind: trigger,
	}
	err := r.db.WithContext(ctx).Create(run).Error
	if err == nil {
		return run, nil
	}
	if !apperrors.IsUniqueViolation(err) {
		return nil, fmt.Errorf("claim run for prompt %s: %w", promptID, err)
	}

	// Tell the two constraints apart by reading back.
	var n int64
	if cerr := r.db.WithContext(ctx).Model(&domain.PeriodicRun{}).
		Where("prompt_id = ? AND due_at = ?", promptID, dueAt.UTC()).
		Count(&n).Error; cerr != nil {
		return nil, cerr
	}
	if n > 0 {
		return nil, ErrOccurrenceClaimed
	}
	return nil, ErrRunActive
}

func (r *runRepository) MarkRunning(ctx context.Context, runID uint) error {
	res := r.db.WithContext(ctx).Model(&domain.PeriodicRun{}).
		Where("id = ? AND status = ?", runID, domain.RunPending).
		Updates(map[string]interface{}{"status": domain.RunRunning, "run_at": r.now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %d is not pending: %w", runID, apperrors.ErrConflict)
	}
	return nil
}

func (r *runRepository) Finish(ctx context.Context, runID uint, status domain.RunStatus, result domain.RunResult, errText string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish run %d with %q: %w", runID, status, apperrors.ErrInvalidInput)
	}
	updates := map[string]interface{}{
		"status":           status,
		"finished_at":      r.now().UTC(),
		"emails_processed": result.EmailsProcessed,
		"output_json":      nullable(result.OutputJSON),
		"output_text":      nullable(result.OutputText),
		"error_text":       nullable(errText),
	}
	res := r.db.WithContext(ctx).Model(&domain.PeriodicRun{}).
		Where("id = ? AND status IN ?", runID, []domain.RunStatus{domain.RunPending, domain.RunRunning}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %d already finished: %w", runID, apperrors.ErrConflict)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *runRepository) Get(ctx context.Context, runID uint) (*domain.PeriodicRun, error) {
	var run domain.PeriodicRun
	if err := r.db.WithContext(ctx).First(&run, runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) List(ctx context.Context, promptID string, limit int) ([]*domain.PeriodicRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var runs []*domain.PeriodicRun
	err := r.db.WithContext(ctx).
		Where("prompt_id = ?", promptID).
		Order("run_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (r *runRepository) LastScheduledDue(ctx context.Context, promptID string) (*time.Time, error) {
	var run domain.PeriodicRun
	err := r.db.WithContext(ctx).
		Where("prompt_id = ? AND trigger_kind = ?", promptID, domain.TriggerSchedule).
		Order("due_at DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	due := run.DueAt.UTC()
	return &due, nil
}

func (r *runRepository) Active(ctx context.Context, promptID string) (*domain.PeriodicRun, error) {
	var run domain.PeriodicRun
	err := r.db.WithContext(ctx).
		Where("prompt_id = ? AND status IN ?", promptID, []domain.RunStatus{domain.RunPending, domain.RunRunning}).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) FailInterrupted(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.PeriodicRun{}).
		Where("status IN ?", []domain.RunStatus{domain.RunPending, domain.RunRunning}).
		Updates(map[string]interface{}{
			"status":      domain.RunFailed,
			"finished_at": r.now().UTC(),
			"error_text":  "interrupted",
		})
	return res.RowsAffected, res.Error
}
