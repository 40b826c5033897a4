package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/internal/email/repository"
	factsdomain "noodle-backend/internal/facts/domain"
	factsrepo "noodle-backend/internal/facts/repository"
	factsusecase "noodle-backend/internal/facts/usecase"
	graphrepo "noodle-backend/internal/graph/repository"
	graphusecase "noodle-backend/internal/graph/usecase"
	"noodle-backend/pkg/apperrors"
	"noodle-backend/pkg/retry"
	"noodle-backend/pkg/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	// fn overrides the default answer when set.
	fn func(ctx context.Context, req factsusecase.ExtractRequest) (*factsusecase.ExtractResult, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req factsusecase.ExtractRequest) (*factsusecase.ExtractResult, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return validResult(req), nil
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func validResult(req factsusecase.ExtractRequest) *factsusecase.ExtractResult {
	return &factsusecase.ExtractResult{
		Payload: &factsdomain.Payload{
			PrimaryType:   factsdomain.PrimaryTypeRequest,
			Intent:        factsdomain.IntentAsk,
			Urgency:       factsdomain.UrgencyHigh,
			Sentiment:     factsdomain.SentimentConcerned,
			NeedsResponse: true,
			WaitingOn:     factsdomain.WaitingOnMe,
			Summary:       "Alice wants the noodle budget reviewed",
			KeyPoints:     []string{"budget"},
			Confidence:    0.9,
			Entities: []factsdomain.ExtractedEntity{
				{Name: "Alice", Type: "person", Role: "sender", Confidence: 0.9},
				{Name: "Project Noodle", Type: "project", Role: "unknown", Confidence: 0.8},
			},
			Relations: []factsdomain.ExtractedRelation{
				{Source: "Alice", Target: "Project Noodle", Type: "works_on"},
			},
		},
		Provenance: factsdomain.Provenance{Provider: "fake", Model: "fake-1", PromptID: req.PromptID, PromptVersion: req.PromptVersion},
	}
}

type pipelineFixture struct {
	db        *gorm.DB
	emails    repository.EmailRepository
	index     repository.SearchIndex
	facts     factsrepo.FactsRepository
	graph     graphrepo.GraphRepository
	extractor *fakeExtractor
	orch      *Orchestrator
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	db := testhelpers.NewTestDB(t)
	emails := repository.NewEmailRepository(db)
	index := repository.NewSearchIndex(db)
	facts := factsrepo.NewFactsRepository(db)
	entities := graphrepo.NewEntityRepository(db)
	graph := graphrepo.NewGraphRepository(db)
	extractor := &fakeExtractor{}

	orch := NewOrchestrator(db, emails, index, facts,
		graphusecase.NewBuilder(entities, graph, nil),
		extractor,
		NewExclusionPolicy([]string{"Spam"}, []string{"noreply@"}),
		OrchestratorConfig{
			Workers:   2,
			QueueSize: 10,
			Retry:     &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		},
		nil,
	)
	return &pipelineFixture{db: db, emails: emails, index: index, facts: facts, graph: graph, extractor: extractor, orch: orch}
}

func newRaw(entryID, folder string) *emaildomain.RawEmail {
	return &emaildomain.RawEmail{
		MailboxID:  "mbx-1",
		EntryID:    entryID,
		Folder:     folder,
		Subject:    "Quarterly budget",
		Sender:     "alice@example.com",
		To:         []string{"me@example.com"},
		ReceivedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		BodyText:   "Can you review the quarterly numbers before Friday?",
	}
}

func TestProcess_NewEmailIsExtractedAndIndexed(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, out.Err)
	assert.Equal(t, StateIndexed, out.State)
	assert.True(t, out.IsNew)
	assert.Equal(t, 1, out.Attempts)

	email, err := f.emails.GetByID(ctx, out.EmailID)
	require.NoError(t, err)
	require.NotNil(t, email.LastIndexedAt)

	facts, err := f.facts.Get(ctx, out.EmailID)
	require.NoError(t, err)
	require.NotNil(t, facts)
	assert.Equal(t, "Alice wants the noodle budget reviewed", facts.Summary)

	mentions, err := f.graph.MentionsForEmail(ctx, out.EmailID)
	require.NoError(t, err)
	assert.Len(t, mentions, 2)

	// The summary becomes searchable once the extraction commits.
	hits, err := f.index.Search(ctx, "noodle", 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, out.EmailID, hits[0].EmailID)
}

func TestProcess_UnchangedRedeliveryIsSkipped(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	first := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, first.Err)

	second := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, second.Err)
	assert.Equal(t, StateSkipped, second.State)
	assert.Equal(t, first.EmailID, second.EmailID)
	assert.Equal(t, 1, f.extractor.Calls())

	forced := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX"), Force: true})
	require.NoError(t, forced.Err)
	assert.Equal(t, StateIndexed, forced.State)
	assert.Equal(t, 2, f.extractor.Calls())
}

func TestProcess_ContentChangeReextracts(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")}).Err)

	changed := newRaw("e-1", "INBOX")
	changed.BodyText = "Numbers are in. No review needed."
	out := f.orch.Process(ctx, Job{Raw: changed})
	require.NoError(t, out.Err)
	assert.Equal(t, StateIndexed, out.State)
	assert.False(t, out.IsNew)
	assert.Equal(t, 2, f.extractor.Calls())
}

func TestProcess_ExcludedFolderIsStoredButNotExtracted(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "Spam")})
	require.NoError(t, out.Err)
	assert.Equal(t, StateExcluded, out.State)
	assert.Equal(t, "folder:Spam", out.Reason)
	assert.Zero(t, f.extractor.Calls())

	email, err := f.emails.GetByID(ctx, out.EmailID)
	require.NoError(t, err)
	require.NotNil(t, email.ExcludedReason)
	assert.Equal(t, "folder:Spam", *email.ExcludedReason)

	hits, err := f.index.Search(ctx, "quarterly", 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestProcess_ExcludedSender(t *testing.T) {
	f := newPipelineFixture(t)
	raw := newRaw("e-1", "INBOX")
	raw.Sender = "noreply@vendor.example"

	out := f.orch.Process(context.Background(), Job{Raw: raw})
	assert.Equal(t, StateExcluded, out.State)
	assert.Equal(t, "sender:noreply@", out.Reason)
}

func TestProcess_FailedExtractionLeavesEmailSearchable(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	f.extractor.fn = func(context.Context, factsusecase.ExtractRequest) (*factsusecase.ExtractResult, error) {
		return nil, apperrors.Invalid("payload", "not json")
	}

	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, apperrors.ErrValidation)
	assert.Equal(t, StateFailed, out.State)
	// Validation errors are not retried.
	assert.Equal(t, 1, out.Attempts)

	facts, err := f.facts.Get(ctx, out.EmailID)
	require.NoError(t, err)
	assert.Nil(t, facts)

	hits, err := f.index.Search(ctx, "quarterly", 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// An unchanged redelivery gets another attempt because nothing was ever extracted.
	f.extractor.fn = nil
	again := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, again.Err)
	assert.Equal(t, StateIndexed, again.State)
}

func TestProcess_TransientErrorsAreRetried(t *testing.T) {
	f := newPipelineFixture(t)
	var calls int32
	f.extractor.fn = func(ctx context.Context, req factsusecase.ExtractRequest) (*factsusecase.ExtractResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return validResult(req), nil
	}

	out := f.orch.Process(context.Background(), Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, out.Err)
	assert.Equal(t, StateIndexed, out.State)
	assert.Equal(t, 2, out.Attempts)
}

func TestProcess_EmailPurgedDuringExtractionCommitsNothing(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	f.extractor.fn = func(ctx context.Context, req factsusecase.ExtractRequest) (*factsusecase.ExtractResult, error) {
		require.NoError(t, f.emails.Delete(ctx, req.Email.ID))
		return validResult(req), nil
	}

	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, apperrors.ErrNotFound)

	var facts, mentions, entities int64
	require.NoError(t, f.db.Table("extracted_email_facts").Count(&facts).Error)
	require.NoError(t, f.db.Table("entity_mentions").Count(&mentions).Error)
	require.NoError(t, f.db.Table("entities").Count(&entities).Error)
	assert.Zero(t, facts)
	assert.Zero(t, mentions)
	assert.Zero(t, entities)
}

func TestProcess_CancelledContextDiscardsResult(t *testing.T) {
	f := newPipelineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.extractor.fn = func(_ context.Context, req factsusecase.ExtractRequest) (*factsusecase.ExtractResult, error) {
		cancel()
		return validResult(req), nil
	}

	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, context.Canceled)

	facts, err := f.facts.Get(context.Background(), out.EmailID)
	require.NoError(t, err)
	assert.Nil(t, facts)
}

func TestProcess_ConcurrentRequestsForOneEmailCoalesce(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	first := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, first.Err)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	f.extractor.fn = func(ctx context.Context, req factsusecase.ExtractRequest) (*factsusecase.ExtractResult, error) {
		once.Do(func() {
			close(entered)
			<-unblock
		})
		return validResult(req), nil
	}

	done := make(chan Outcome, 1)
	go func() {
		done <- f.orch.Process(ctx, Job{EmailID: first.EmailID, Force: true})
	}()
	<-entered
	assert.True(t, f.orch.InFlight(first.EmailID))

	second := f.orch.Process(ctx, Job{EmailID: first.EmailID, Force: true})
	assert.Equal(t, StateCoalesced, second.State)
	third := f.orch.Process(ctx, Job{EmailID: first.EmailID, Force: true})
	assert.Equal(t, StateCoalesced, third.State)

	close(unblock)
	out := <-done
	require.NoError(t, out.Err)
	assert.Equal(t, StateIndexed, out.State)
	assert.False(t, f.orch.InFlight(first.EmailID))

	// One initial extraction, the blocked one, and a single rerun for both coalesced requests.
	assert.Equal(t, 3, f.extractor.Calls())
}

func TestProcess_PromptProvenance(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX"), Prompt: PromptRef{ID: "p-1", Version: 4}})
	require.NoError(t, out.Err)

	facts, err := f.facts.Get(ctx, out.EmailID)
	require.NoError(t, err)
	assert.Contains(t, facts.ProvenanceJSON, `"prompt_id":"p-1"`)
	assert.Contains(t, facts.ProvenanceJSON, `"prompt_version":4`)
}

func TestOrchestrator_WorkersDrainQueue(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	states := map[State]int{}
	f.orch.OnOutcome(func(o Outcome) {
		mu.Lock()
		states[o.State]++
		mu.Unlock()
	})

	f.orch.Start(ctx)
	for _, id := range []string{"e-1", "e-2", "e-3"} {
		require.NoError(t, f.orch.Submit(ctx, Job{Raw: newRaw(id, "INBOX")}))
	}
	require.NoError(t, f.orch.Submit(ctx, Job{Raw: newRaw("e-4", "Spam")}))
	f.orch.Stop()

	assert.Equal(t, 3, states[StateIndexed])
	assert.Equal(t, 1, states[StateExcluded])

	assert.ErrorIs(t, f.orch.Submit(ctx, Job{Raw: newRaw("e-5", "INBOX")}), ErrQueueClosed)
	assert.False(t, f.orch.TrySubmit(Job{Raw: newRaw("e-5", "INBOX")}))
}

func TestProcess_EmptyJob(t *testing.T) {
	f := newPipelineFixture(t)
	out := f.orch.Process(context.Background(), Job{})
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, apperrors.ErrInvalidInput)
}

func TestProcess_MoveOutOfExcludedFolderExtracts(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	spam := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "Spam")})
	require.Equal(t, StateExcluded, spam.State)
	assert.Zero(t, f.extractor.Calls())

	moved := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, moved.Err)
	assert.Equal(t, StateIndexed, moved.State)
	assert.Equal(t, spam.EmailID, moved.EmailID)
	assert.Equal(t, 1, f.extractor.Calls())

	email, err := f.emails.GetByID(ctx, moved.EmailID)
	require.NoError(t, err)
	assert.Nil(t, email.ExcludedReason)
	assert.NotNil(t, email.LastIndexedAt)
}

func TestProcess_MoveIntoExcludedFolderExcludes(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	first := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.Equal(t, StateIndexed, first.State)

	moved := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "Spam")})
	require.NoError(t, moved.Err)
	assert.Equal(t, StateExcluded, moved.State)
	assert.Equal(t, "folder:Spam", moved.Reason)
	assert.Equal(t, 1, f.extractor.Calls())

	email, err := f.emails.GetByID(ctx, first.EmailID)
	require.NoError(t, err)
	require.NotNil(t, email.ExcludedReason)
	assert.Equal(t, "folder:Spam", *email.ExcludedReason)

	// Moving back does not extract again: the earlier facts still hold.
	back := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	assert.Equal(t, StateSkipped, back.State)
	assert.Equal(t, 1, f.extractor.Calls())
}

func TestIngest_StoresBeforeQueueingExtraction(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	out, err := f.orch.Ingest(ctx, newRaw("e-1", "INBOX"))
	require.NoError(t, err)
	assert.Equal(t, StateDeduped, out.State)
	assert.True(t, out.IsNew)
	assert.Equal(t, 1, f.orch.QueueLength())

	// Workers are not running yet; the email is already stored and searchable.
	email, err := f.emails.GetByKey(ctx, "mbx-1", "e-1")
	require.NoError(t, err)
	require.NotNil(t, email)
	assert.Nil(t, email.LastIndexedAt)
	hits, err := f.index.Search(ctx, "quarterly", 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	var got []Outcome
	f.orch.OnOutcome(func(o Outcome) { got = append(got, o) })
	f.orch.Start(ctx)
	f.orch.Stop()

	require.Len(t, got, 1)
	assert.Equal(t, StateIndexed, got[0].State)
	assert.True(t, got[0].IsNew)

	email, err = f.emails.GetByID(ctx, out.EmailID)
	require.NoError(t, err)
	assert.NotNil(t, email.LastIndexedAt)
}

func TestIngest_ExcludedEmailIsNotQueued(t *testing.T) {
	f := newPipelineFixture(t)

	out, err := f.orch.Ingest(context.Background(), newRaw("e-1", "Spam"))
	require.NoError(t, err)
	assert.Equal(t, StateExcluded, out.State)
	assert.Zero(t, f.orch.QueueLength())
}

func TestIngest_QueueClosedKeepsStoredEmail(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	f.orch.Stop()

	_, err := f.orch.Ingest(ctx, newRaw("e-1", "INBOX"))
	assert.ErrorIs(t, err, ErrQueueClosed)

	email, err := f.emails.GetByKey(ctx, "mbx-1", "e-1")
	require.NoError(t, err)
	require.NotNil(t, email)

	pending, err := f.emails.PendingExtraction(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{email.ID}, pending)
}

func TestOrchestrator_QueuedRawJobsAreStoredAfterCancel(t *testing.T) {
	f := newPipelineFixture(t)
	for _, id := range []string{"e-1", "e-2"} {
		require.True(t, f.orch.TrySubmit(Job{Raw: newRaw(id, "INBOX")}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.orch.Start(ctx)
	f.orch.Stop()

	bg := context.Background()
	for _, id := range []string{"e-1", "e-2"} {
		email, err := f.emails.GetByKey(bg, "mbx-1", id)
		require.NoError(t, err)
		require.NotNil(t, email, id)
		assert.Nil(t, email.LastIndexedAt, id)
	}

	pending, err := f.emails.PendingExtraction(bg, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRequeuePending_QueuesUnextractedEmails(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	var ids []uint
	for _, id := range []string{"e-1", "e-2", "e-3"} {
		res, err := f.emails.UpsertEmail(ctx, newRaw(id, "INBOX"))
		require.NoError(t, err)
		ids = append(ids, res.EmailID)
	}
	require.NoError(t, f.emails.MarkExcluded(ctx, ids[2], "sender:noreply@"))

	queued, err := f.orch.RequeuePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, 2, f.orch.QueueLength())

	f.orch.Start(ctx)
	f.orch.Stop()
	assert.Equal(t, 2, f.extractor.Calls())

	pending, err := f.emails.PendingExtraction(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcess_ConcurrentExtractionsShareWorkerSlots(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	var active, peak int32
	f.extractor.fn = func(_ context.Context, req factsusecase.ExtractRequest) (*factsusecase.ExtractResult, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return validResult(req), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := newRaw("e-"+string(rune('a'+i)), "INBOX")
			assert.NoError(t, f.orch.Process(ctx, Job{Raw: raw}).Err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 6, f.extractor.Calls())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSubmit_BlockedSendReturnsOnStop(t *testing.T) {
	f := newPipelineFixture(t)
	for i := 1; i <= 10; i++ {
		require.True(t, f.orch.TrySubmit(Job{EmailID: uint(i)}))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.orch.Submit(context.Background(), Job{EmailID: 11})
	}()
	time.Sleep(20 * time.Millisecond)
	f.orch.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit stayed blocked after Stop")
	}
}
