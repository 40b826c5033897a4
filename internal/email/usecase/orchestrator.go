package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/internal/email/repository"
	factsrepo "noodle-backend/internal/facts/repository"
	factsusecase "noodle-backend/internal/facts/usecase"
	graphusecase "noodle-backend/internal/graph/usecase"
	"noodle-backend/pkg/apperrors"
	"noodle-backend/pkg/retry"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// State is a step of the per-email pipeline.
type State string

const (
	StateFetched      State = "fetched"
	StateDeduped      State = "deduped"
	StateSkipped      State = "skipped"
	StateExcluded     State = "excluded"
	StateExtracting   State = "extracting"
	StateExtracted    State = "extracted"
	StateGraphApplied State = "graph_applied"
	StateIndexed      State = "indexed"
	StateFailed       State = "failed"
	// StateCoalesced means another extraction of the same email was in flight;
	// this request was folded into a rerun of that one.
	StateCoalesced State = "coalesced"
)

// ErrQueueClosed is returned by Submit after Stop.
var ErrQueueClosed = errors.New("orchestrator queue is closed")

// PromptRef selects the prompt an extraction runs with. The zero value means
// the built-in extraction prompt.
type PromptRef struct {
	ID       string
	Version  int
	Template string
	Model    string
}

// Job is one unit of orchestrator work: a raw email from a connector, or an
// already stored email to re-extract.
type Job struct {
	Raw     *emaildomain.RawEmail
	EmailID uint
	// Force extracts even when the hash is unchanged.
	Force  bool
	Prompt PromptRef

	isNew bool
}

// Outcome is where a job ended.
type Outcome struct {
	EmailID  uint          `json:"email_id"`
	State    State         `json:"state"`
	IsNew    bool          `json:"is_new"`
	Attempts int           `json:"attempts,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Observer is told about every terminal outcome.
type Observer func(Outcome)

type OrchestratorConfig struct {
	Workers   int
	QueueSize int
	Retry     *retry.Config
}

// Orchestrator runs the extraction pipeline for one email at a time per id,
// across a bounded pool of workers.
type Orchestrator struct {
	db        *gorm.DB
	emails    repository.EmailRepository
	index     repository.SearchIndex
	facts     factsrepo.FactsRepository
	builder   *graphusecase.Builder
	extractor factsusecase.Extractor
	policy    *ExclusionPolicy
	vectors   *VectorSyncer
	retryCfg  *retry.Config
	logger    *zap.Logger
	now       func() time.Time

	jobQueue    chan Job
	done        chan struct{}
	queueMu     sync.RWMutex
	workerWg    sync.WaitGroup
	workerCount int
	started     bool
	stopped     bool
	mu          sync.Mutex

	// slots bounds concurrent AI calls across workers and direct Process callers.
	slots chan struct{}

	flightMu sync.Mutex
	inflight map[uint]*flight

	observerMu sync.RWMutex
	observers  []Observer
}

type flight struct {
	rerun *Job
}

func NewOrchestrator(
	db *gorm.DB,
	emails repository.EmailRepository,
	index repository.SearchIndex,
	facts factsrepo.FactsRepository,
	builder *graphusecase.Builder,
	extractor factsusecase.Extractor,
	policy *ExclusionPolicy,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 500
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		db:          db,
		emails:      emails,
		index:       index,
		facts:       facts,
		builder:     builder,
		extractor:   extractor,
		policy:      policy,
		retryCfg:    cfg.Retry,
		logger:      logger.Named("orchestrator"),
		now:         time.Now,
		jobQueue:    make(chan Job, cfg.QueueSize),
		done:        make(chan struct{}),
		workerCount: cfg.Workers,
		slots:       make(chan struct{}, cfg.Workers),
		inflight:    make(map[uint]*flight),
	}
}

// SetVectorSyncer enables the vector projection after each committed extraction.
func (o *Orchestrator) SetVectorSyncer(v *VectorSyncer) {
	o.vectors = v
}

// OnOutcome registers an observer. Observers run on the worker goroutine.
func (o *Orchestrator) OnOutcome(fn Observer) {
	o.observerMu.Lock()
	defer o.observerMu.Unlock()
	o.observers = append(o.observers, fn)
}

// Start launches the workers. Jobs run with ctx; cancelling it aborts
// in-flight AI calls and discards their results.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return
	}

	for i := 0; i < o.workerCount; i++ {
		o.workerWg.Add(1)
		go o.worker(ctx, i)
	}
	o.started = true
	o.logger.Info("Started workers", zap.Int("workers", o.workerCount), zap.Int("queue_size", cap(o.jobQueue)))
}

// Stop closes the queue and waits for the workers to drain it. Blocked
// Submit calls return ErrQueueClosed.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	close(o.done)
	o.queueMu.Lock()
	close(o.jobQueue)
	o.queueMu.Unlock()

	o.workerWg.Wait()
	o.logger.Info("All workers stopped")
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.workerWg.Done()

	for job := range o.jobQueue {
		o.Process(ctx, job)
	}

	o.logger.Debug("Worker stopped", zap.Int("worker", id))
}

// Submit queues job, blocking while the queue is full.
func (o *Orchestrator) Submit(ctx context.Context, job Job) error {
	// The read lock keeps Stop from closing the queue under a pending send.
	o.queueMu.RLock()
	defer o.queueMu.RUnlock()

	select {
	case <-o.done:
		return ErrQueueClosed
	default:
	}

	select {
	case o.jobQueue <- job:
		return nil
	case <-o.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues job without blocking and reports whether it was accepted.
func (o *Orchestrator) TrySubmit(job Job) bool {
	o.queueMu.RLock()
	defer o.queueMu.RUnlock()

	select {
	case <-o.done:
		return false
	default:
	}

	select {
	case o.jobQueue <- job:
		return true
	default:
		return false
	}
}

// Ingest stores raw and its index entry before returning, then queues the
// extraction when the stored email needs one. Once Ingest returns nil the
// email is durable, so a connector checkpoint covering it may advance.
func (o *Orchestrator) Ingest(ctx context.Context, raw *emaildomain.RawEmail) (Outcome, error) {
	out, email := o.admit(ctx, Job{Raw: raw})
	if out.Err != nil {
		return out, out.Err
	}
	if email == nil {
		o.notify(out)
		return out, nil
	}
	if err := o.Submit(ctx, Job{EmailID: email.ID, isNew: out.IsNew}); err != nil {
		// Still unextracted: a redelivery of the same content retries it.
		return out, fmt.Errorf("queue extraction of email %d: %w", email.ID, err)
	}
	return out, nil
}

// RequeuePending queues up to limit stored emails that have no extraction
// yet, such as those left in the queue by a previous process.
func (o *Orchestrator) RequeuePending(ctx context.Context, limit int) (int, error) {
	ids, err := o.emails.PendingExtraction(ctx, limit)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, id := range ids {
		if err := o.Submit(ctx, Job{EmailID: id}); err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		o.logger.Info("Requeued emails pending extraction", zap.Int("emails", queued))
	}
	return queued, nil
}

// QueueLength returns the number of jobs waiting.
func (o *Orchestrator) QueueLength() int {
	return len(o.jobQueue)
}

// Process runs job synchronously through the pipeline.
func (o *Orchestrator) Process(ctx context.Context, job Job) Outcome {
	start := o.now()
	out := o.process(ctx, job)
	out.Duration = o.now().Sub(start)

	fields := []zap.Field{
		zap.Uint("email_id", out.EmailID),
		zap.String("state", string(out.State)),
		zap.Duration("duration", out.Duration),
	}
	switch {
	case out.Err != nil:
		o.logger.Warn("Email pipeline failed", append(fields,
			zap.String("prompt_id", job.Prompt.ID),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err))...)
	case out.State == StateSkipped || out.State == StateCoalesced:
		o.logger.Debug("Email pipeline finished", fields...)
	default:
		o.logger.Info("Email pipeline finished", fields...)
	}

	o.notify(out)
	return out
}

func (o *Orchestrator) notify(out Outcome) {
	o.observerMu.RLock()
	observers := o.observers
	o.observerMu.RUnlock()
	for _, fn := range observers {
		fn(out)
	}
}

// admit runs Fetched -> Deduped and the exclusion policy. It returns the
// email when extraction should proceed, or nil with a terminal outcome.
func (o *Orchestrator) admit(ctx context.Context, job Job) (Outcome, *emaildomain.Email) {
	var (
		email *emaildomain.Email
		isNew = job.isNew
	)

	switch {
	case job.Raw != nil:
		// Storing is not abandoned on shutdown; only the AI call is.
		storeCtx := context.WithoutCancel(ctx)
		res, err := o.ingest(storeCtx, job.Raw)
		if err != nil {
			return Outcome{State: StateFailed, Err: err}, nil
		}
		isNew = res.IsNew
		email, err = o.emails.GetByID(storeCtx, res.EmailID)
		if err != nil || email == nil {
			return Outcome{EmailID: res.EmailID, State: StateFailed, IsNew: isNew, Err: notFoundOr(err, res.EmailID)}, nil
		}
		if !job.Force && !res.NeedsExtraction() {
			if res.MetadataChanged {
				// A folder move can enter or leave an excluded folder.
				if reason, _ := o.applyPolicy(storeCtx, email); reason != "" {
					return Outcome{EmailID: email.ID, State: StateExcluded, Reason: reason}, nil
				}
			}
			if !o.neverExtracted(email) {
				return Outcome{EmailID: email.ID, State: StateSkipped}, nil
			}
		}
	case job.EmailID != 0:
		var err error
		email, err = o.emails.GetByID(ctx, job.EmailID)
		if err != nil || email == nil {
			return Outcome{EmailID: job.EmailID, State: StateFailed, IsNew: isNew, Err: notFoundOr(err, job.EmailID)}, nil
		}
	default:
		return Outcome{State: StateFailed, Err: fmt.Errorf("empty job: %w", apperrors.ErrInvalidInput)}, nil
	}

	if reason, changed := o.applyPolicy(ctx, email); reason != "" {
		if changed {
			o.logger.Info("Email excluded from extraction", zap.Uint("email_id", email.ID), zap.String("reason", reason))
		}
		return Outcome{EmailID: email.ID, State: StateExcluded, IsNew: isNew, Reason: reason}, nil
	}
	return Outcome{EmailID: email.ID, State: StateDeduped, IsNew: isNew}, email
}

func (o *Orchestrator) process(ctx context.Context, job Job) Outcome {
	admitted, email := o.admit(ctx, job)
	if email == nil {
		return admitted
	}
	isNew := admitted.IsNew

	id := email.ID
	if !o.acquire(id, job) {
		return Outcome{EmailID: id, State: StateCoalesced, IsNew: isNew}
	}

	out := o.extract(ctx, email, job)
	for next := o.release(id); next != nil; next = o.release(id) {
		o.logger.Debug("Running coalesced extraction", zap.Uint("email_id", id))
		fresh, err := o.emails.GetByID(ctx, id)
		if err != nil || fresh == nil {
			// Purged while we were busy.
			o.drop(id)
			break
		}
		out = o.extract(ctx, fresh, *next)
	}
	out.IsNew = isNew
	return out
}

// neverExtracted covers emails whose earlier extraction gave up: a redelivery
// with an unchanged hash gets another attempt.
func (o *Orchestrator) neverExtracted(e *emaildomain.Email) bool {
	return e.LastIndexedAt == nil && !e.IsExcluded()
}

// ingest upserts the raw email and keeps the search index in step, in one transaction.
func (o *Orchestrator) ingest(ctx context.Context, raw *emaildomain.RawEmail) (repository.UpsertResult, error) {
	var res repository.UpsertResult
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = o.emails.WithTx(tx).UpsertEmail(ctx, raw)
		if err != nil {
			return err
		}
		index := o.index.WithTx(tx)
		switch {
		case res.IsNew:
			return index.OnInsert(ctx, res.EmailID)
		case res.ContentChanged || res.MetadataChanged:
			return index.OnUpdate(ctx, res.EmailID)
		}
		return nil
	})
	return res, err
}

// applyPolicy marks or clears the exclusion. changed is true when the stored
// reason was updated.
func (o *Orchestrator) applyPolicy(ctx context.Context, e *emaildomain.Email) (reason string, changed bool) {
	reason = o.policy.Reason(e)
	current := ""
	if e.ExcludedReason != nil {
		current = *e.ExcludedReason
	}
	if reason == current {
		return reason, false
	}

	var err error
	if reason != "" {
		err = o.emails.MarkExcluded(ctx, e.ID, reason)
	} else {
		err = o.emails.ClearExcluded(ctx, e.ID)
	}
	if err != nil {
		o.logger.Error("Failed to update exclusion", zap.Uint("email_id", e.ID), zap.Error(err))
		return reason, false
	}
	if reason != "" {
		e.ExcludedReason = &reason
	} else {
		e.ExcludedReason = nil
	}
	return reason, true
}

func (o *Orchestrator) acquire(id uint, job Job) bool {
	o.flightMu.Lock()
	defer o.flightMu.Unlock()
	if f, ok := o.inflight[id]; ok {
		// Only the latest request matters.
		f.rerun = &job
		return false
	}
	o.inflight[id] = &flight{}
	return true
}

// release returns a coalesced job to run next, or frees id.
func (o *Orchestrator) release(id uint) *Job {
	o.flightMu.Lock()
	defer o.flightMu.Unlock()
	f := o.inflight[id]
	if f != nil && f.rerun != nil {
		next := f.rerun
		f.rerun = nil
		return next
	}
	delete(o.inflight, id)
	return nil
}

func (o *Orchestrator) drop(id uint) {
	o.flightMu.Lock()
	defer o.flightMu.Unlock()
	delete(o.inflight, id)
}

// InFlight reports whether an extraction for id is running.
func (o *Orchestrator) InFlight(id uint) bool {
	o.flightMu.Lock()
	defer o.flightMu.Unlock()
	_, ok := o.inflight[id]
	return ok
}

// extract runs Extracting -> Extracted -> GraphApplied -> Indexed for one email.
func (o *Orchestrator) extract(ctx context.Context, email *emaildomain.Email, job Job) Outcome {
	out := Outcome{EmailID: email.ID, State: StateExtracting}

	req := factsusecase.ExtractRequest{
		Email:         email,
		PromptID:      job.Prompt.ID,
		PromptVersion: job.Prompt.Version,
		Template:      job.Prompt.Template,
		Model:         job.Prompt.Model,
	}
	result, attempts, err := retry.DoCounted(ctx, o.retryCfg, func() (*factsusecase.ExtractResult, error) {
		select {
		case o.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-o.slots }()
		return o.extractor.Extract(ctx, req)
	})
	out.Attempts = attempts
	if err != nil {
		// Prior facts stay; the email stays searchable by subject and body.
		out.State = StateFailed
		out.Err = fmt.Errorf("extract email %d: %w", email.ID, err)
		return out
	}
	out.State = StateExtracted

	if err := ctx.Err(); err != nil {
		out.State = StateFailed
		out.Err = fmt.Errorf("extract email %d: %w", email.ID, err)
		return out
	}

	hash := email.Hash
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The email may have been purged or rewritten while the AI call ran.
		current, err := o.emails.WithTx(tx).GetByID(ctx, email.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("email %d: %w", email.ID, apperrors.ErrNotFound)
		}
		hash = current.Hash

		if _, err := o.facts.WithTx(tx).Persist(ctx, email.ID, result.Payload, result.Provenance); err != nil {
			return err
		}
		if _, err := o.builder.Apply(ctx, tx, email.ID, result.Payload.Entities, result.Payload.Relations); err != nil {
			return err
		}
		if err := o.index.WithTx(tx).OnUpdate(ctx, email.ID); err != nil {
			return err
		}
		return o.emails.WithTx(tx).MarkIndexed(ctx, email.ID, o.now().UTC())
	})
	if err != nil {
		out.State = StateFailed
		out.Err = fmt.Errorf("apply extraction for email %d: %w", email.ID, err)
		return out
	}
	out.State = StateIndexed

	if o.vectors != nil {
		if err := o.vectors.Sync(ctx, email.ID, hash); err != nil {
			// Backfill picks the email up on the next cycle.
			o.logger.Warn("Vector projection failed", zap.Uint("email_id", email.ID), zap.Error(err))
		}
	}
	return out
}

func notFoundOr(err error, id uint) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("email %d: %w", id, apperrors.ErrNotFound)
}
