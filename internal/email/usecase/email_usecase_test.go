package usecase

import (
	"context"
	"testing"

	"noodle-backend/internal/email/repository"
	"noodle-backend/pkg/ai"
	"noodle-backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type draftProvider struct {
	requests []ai.CompletionRequest
}

func (p *draftProvider) Name() ai.ProviderType { return ai.ProviderOllama }
func (p *draftProvider) Complete(_ context.Context, req ai.CompletionRequest) (*ai.CompletionResponse, error) {
	p.requests = append(p.requests, req)
	return &ai.CompletionResponse{Text: "  Hi Alice, I'll review them today.  ", Provider: ai.ProviderOllama, Model: "llama3"}, nil
}
func (p *draftProvider) Embed(context.Context, string) ([]float32, error) { return nil, nil }
func (p *draftProvider) Ping(context.Context) error                       { return nil }

func newEmailUsecase(f *pipelineFixture, vectors *VectorSyncer, provider ai.Provider) EmailUsecase {
	return NewEmailUsecase(f.db, f.emails, f.index, f.facts, repository.NewStatsRepository(f.db), f.graph, f.orch, vectors, provider, nil)
}

func TestGetEmail_IncludesFactsAndMentions(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, out.Err)

	uc := newEmailUsecase(f, nil, nil)
	detail, err := uc.GetEmail(ctx, out.EmailID)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly budget", detail.Email.Subject)
	require.NotNil(t, detail.Facts)
	assert.Equal(t, []string{"budget"}, detail.Facts.KeyPoints)
	assert.Len(t, detail.Mentions, 2)

	_, err = uc.GetEmail(ctx, 999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSearch_JoinsFacts(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, out.Err)

	uc := newEmailUsecase(f, nil, nil)
	results, err := uc.Search(ctx, "quarterly", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Alice wants the noodle budget reviewed", results[0].Summary)
	assert.Nil(t, results[0].Distance)

	_, err = uc.Search(ctx, "  ", 10, 0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSemanticSearch(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, err := newEmailUsecase(f, nil, nil).SemanticSearch(ctx, "budget", 5)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)

	store := newMemoryVectorStore()
	vectors := withVectors(f, store)
	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, out.Err)

	results, err := newEmailUsecase(f, vectors, nil).SemanticSearch(ctx, "noodle budget", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, out.EmailID, results[0].EmailID)
	require.NotNil(t, results[0].Distance)
	assert.InDelta(t, 0.1, *results[0].Distance, 1e-9)
}

func TestPurge_RemovesEverything(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	store := newMemoryVectorStore()
	vectors := withVectors(f, store)
	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, out.Err)

	uc := newEmailUsecase(f, vectors, nil)
	require.NoError(t, uc.Purge(ctx, out.EmailID))

	email, err := f.emails.GetByID(ctx, out.EmailID)
	require.NoError(t, err)
	assert.Nil(t, email)

	hits, err := f.index.Search(ctx, "quarterly", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, store.docs)

	var facts, mentions int64
	require.NoError(t, f.db.Table("extracted_email_facts").Count(&facts).Error)
	require.NoError(t, f.db.Table("entity_mentions").Count(&mentions).Error)
	assert.Zero(t, facts)
	assert.Zero(t, mentions)

	assert.ErrorIs(t, uc.Purge(ctx, out.EmailID), apperrors.ErrNotFound)
}

func TestDraftReply_GroundsPrompt(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, out.Err)
	related := newRaw("e-2", "INBOX")
	related.Subject = "Quarterly budget follow-up"
	require.NoError(t, f.orch.Process(ctx, Job{Raw: related}).Err)

	provider := &draftProvider{}
	uc := newEmailUsecase(f, nil, provider)
	draft, err := uc.DraftReply(ctx, out.EmailID, "keep it short")
	require.NoError(t, err)

	assert.Equal(t, "Hi Alice, I'll review them today.", draft.Text)
	assert.Equal(t, "llama3", draft.Model)
	require.Len(t, provider.requests, 1)
	prompt := provider.requests[0].Prompt
	assert.Contains(t, prompt, "Summary: Alice wants the noodle budget reviewed")
	assert.Contains(t, prompt, "- budget")
	assert.Contains(t, prompt, "Quarterly budget follow-up")
	assert.Contains(t, prompt, "keep it short")
	assert.NotContains(t, draft.Related, out.EmailID)
	assert.Len(t, draft.Related, 1)

	_, err = newEmailUsecase(f, nil, nil).DraftReply(ctx, out.EmailID, "")
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
}

func TestReprocess_Wait(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	out := f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")})
	require.NoError(t, out.Err)

	uc := newEmailUsecase(f, nil, nil)
	res, err := uc.Reprocess(ctx, out.EmailID, true)
	require.NoError(t, err)
	assert.Equal(t, StateIndexed, res.State)
	assert.Equal(t, 2, f.extractor.Calls())

	_, err = uc.Reprocess(ctx, 12345, true)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStatsAndRebuild(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	require.NoError(t, f.orch.Process(ctx, Job{Raw: newRaw("e-1", "INBOX")}).Err)
	require.NoError(t, f.orch.Process(ctx, Job{Raw: newRaw("e-2", "Spam")}).Err)

	uc := newEmailUsecase(f, nil, nil)
	stats, err := uc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalEmails)
	assert.EqualValues(t, 1, stats.ExtractedEmails)
	assert.EqualValues(t, 1, stats.ExcludedEmails)

	n, err := uc.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
