package repository

import (
	"context"
	"testing"
	"time"

	"noodle-backend/internal/prompt/domain"
	"noodle-backend/pkg/apperrors"
	"noodle-backend/pkg/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRepos(t *testing.T) (*gorm.DB, PromptRepository, RunRepository) {
	db := testhelpers.NewTestDB(t)
	return db, NewPromptRepository(db), NewRunRepository(db)
}

func schedule(s string) *string { return &s }

func createPrompt(t *testing.T, prompts PromptRepository, name string) *domain.Prompt {
	p := &domain.Prompt{Name: name, Kind: domain.KindPeriodic, Enabled: true, Schedule: schedule("@hourly"), Template: "Summarize {{.Context}}"}
	require.NoError(t, prompts.Create(context.Background(), p))
	return p
}

func TestPromptRepository_CRUD(t *testing.T) {
	_, prompts, _ := newRepos(t)
	ctx := context.Background()

	p := createPrompt(t, prompts, "weekly-risks")
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, 1, p.Version)

	dup := &domain.Prompt{Name: "weekly-risks", Kind: domain.KindPeriodic, Template: "x"}
	assert.ErrorIs(t, prompts.Create(ctx, dup), apperrors.ErrConflict)

	p.Template = "New {{.Context}}"
	require.NoError(t, prompts.Update(ctx, p))
	got, err := prompts.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "New {{.Context}}", got.Template)

	byName, err := prompts.GetByName(ctx, "weekly-risks")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	missing, err := prompts.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, prompts.Delete(ctx, p.ID))
	assert.ErrorIs(t, prompts.Delete(ctx, p.ID), apperrors.ErrNotFound)
}

func TestPromptRepository_ListScheduled(t *testing.T) {
	_, prompts, _ := newRepos(t)
	ctx := context.Background()

	createPrompt(t, prompts, "scheduled")
	require.NoError(t, prompts.Create(ctx, &domain.Prompt{Name: "adhoc", Kind: domain.KindPeriodic, Enabled: true, Template: "x"}))
	disabled := createPrompt(t, prompts, "disabled")
	disabled.Enabled = false
	require.NoError(t, prompts.Update(ctx, disabled))

	list, err := prompts.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "scheduled", list[0].Name)

	all, err := prompts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunRepository_ClaimOnePerOccurrence(t *testing.T) {
	_, prompts, runs := newRepos(t)
	ctx := context.Background()
	p := createPrompt(t, prompts, "p")
	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	run, err := runs.Claim(ctx, p.ID, due, domain.TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, run.Status)

	_, err = runs.Claim(ctx, p.ID, due, domain.TriggerSchedule)
	assert.ErrorIs(t, err, ErrOccurrenceClaimed)

	// A later occurrence is deferred while the first run is active.
	_, err = runs.Claim(ctx, p.ID, due.Add(time.Hour), domain.TriggerSchedule)
	assert.ErrorIs(t, err, ErrRunActive)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	require.NoError(t, runs.MarkRunning(ctx, run.ID))
	require.NoError(t, runs.Finish(ctx, run.ID, domain.RunSuccess, domain.RunResult{EmailsProcessed: 3, OutputText: "ok"}, ""))

	next, err := runs.Claim(ctx, p.ID, due.Add(time.Hour), domain.TriggerSchedule)
	require.NoError(t, err)
	assert.NotEqual(t, run.ID, next.ID)
}

func TestRunRepository_TerminalRunsAreFinal(t *testing.T) {
	_, prompts, runs := newRepos(t)
	ctx := context.Background()
	p := createPrompt(t, prompts, "p")

	run, err := runs.Claim(ctx, p.ID, time.Now(), domain.TriggerManual)
	require.NoError(t, err)
	require.NoError(t, runs.MarkRunning(ctx, run.ID))
	assert.ErrorIs(t, runs.MarkRunning(ctx, run.ID), apperrors.ErrConflict)

	require.NoError(t, runs.Finish(ctx, run.ID, domain.RunFailed, domain.RunResult{}, "boom"))
	assert.ErrorIs(t, runs.Finish(ctx, run.ID, domain.RunSuccess, domain.RunResult{}, ""), apperrors.ErrConflict)
	assert.ErrorIs(t, runs.Finish(ctx, run.ID, domain.RunRunning, domain.RunResult{}, ""), apperrors.ErrInvalidInput)

	got, err := runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	require.NotNil(t, got.ErrorText)
	assert.Equal(t, "boom", *got.ErrorText)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.OutputText)
}

func TestRunRepository_LastScheduledDueIgnoresManualRuns(t *testing.T) {
	_, prompts, runs := newRepos(t)
	ctx := context.Background()
	p := createPrompt(t, prompts, "p")

	last, err := runs.LastScheduledDue(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	run, err := runs.Claim(ctx, p.ID, due, domain.TriggerSchedule)
	require.NoError(t, err)
	require.NoError(t, runs.Finish(ctx, run.ID, domain.RunSuccess, domain.RunResult{}, ""))

	manual, err := runs.Claim(ctx, p.ID, due.Add(5*time.Hour), domain.TriggerManual)
	require.NoError(t, err)
	require.NoError(t, runs.Finish(ctx, manual.ID, domain.RunSuccess, domain.RunResult{}, ""))

	last, err = runs.LastScheduledDue(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, due.Equal(*last))

	list, err := runs.List(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRunRepository_FailInterrupted(t *testing.T) {
	_, prompts, runs := newRepos(t)
	ctx := context.Background()
	a := createPrompt(t, prompts, "a")
	b := createPrompt(t, prompts, "b")

	ra, err := runs.Claim(ctx, a.ID, time.Now(), domain.TriggerSchedule)
	require.NoError(t, err)
	rb, err := runs.Claim(ctx, b.ID, time.Now(), domain.TriggerSchedule)
	require.NoError(t, err)
	require.NoError(t, runs.MarkRunning(ctx, rb.ID))

	n, err := runs.FailInterrupted(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, id := range []uint{ra.ID, rb.ID} {
		got, err := runs.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RunFailed, got.Status)
		assert.Equal(t, "interrupted", *got.ErrorText)
	}
	active, err := runs.Active(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRunRepository_PromptDeleteCascades(t *testing.T) {
	db, prompts, runs := newRepos(t)
	ctx := context.Background()
	p := createPrompt(t, prompts, "p")
	_, err := runs.Claim(ctx, p.ID, time.Now(), domain.TriggerManual)
	require.NoError(t, err)

	require.NoError(t, prompts.Delete(ctx, p.ID))
	var n int64
	require.NoError(t, db.Table("periodic_runs").Count(&n).Error)
	assert.Zero(t, n)
}
