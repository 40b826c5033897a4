package usecase

import (
	"context"
	"fmt"
	"strings"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/internal/email/repository"
	factsdomain "noodle-backend/internal/facts/domain"
	factsrepo "noodle-backend/internal/facts/repository"
	graphrepo "noodle-backend/internal/graph/repository"
	"noodle-backend/pkg/ai"
	"noodle-backend/pkg/apperrors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxRelatedEmails = 3
	defaultPageSize  = 20
	maxPageSize      = 200
)

const draftSystemPrompt = `You draft email replies for the mailbox owner.
Ground every statement in the email and the extracted notes you are given. Do not invent commitments, dates or figures.
Answer open questions only when the material answers them; otherwise say you will follow up.
Write the reply body only, without a subject line.`

type emailUsecase struct {
	db           *gorm.DB
	emails       repository.EmailRepository
	index        repository.SearchIndex
	facts        factsrepo.FactsRepository
	stats        repository.StatsRepository
	graph        graphrepo.GraphRepository
	orchestrator *Orchestrator
	vectors      *VectorSyncer
	provider     ai.Provider
	logger       *zap.Logger
}

// NewEmailUsecase builds the query surface. vectors and provider may be nil;
// semantic search and drafting then report ErrUnavailable.
func NewEmailUsecase(
	db *gorm.DB,
	emails repository.EmailRepository,
	index repository.SearchIndex,
	facts factsrepo.FactsRepository,
	stats repository.StatsRepository,
	graph graphrepo.GraphRepository,
	orchestrator *Orchestrator,
	vectors *VectorSyncer,
	provider ai.Provider,
	logger *zap.Logger,
) EmailUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &emailUsecase{
		db:           db,
		emails:       emails,
		index:        index,
		facts:        facts,
		stats:        stats,
		graph:        graph,
		orchestrator: orchestrator,
		vectors:      vectors,
		provider:     provider,
		logger:       logger.Named("email_usecase"),
	}
}

func (u *emailUsecase) getEmail(ctx context.Context, id uint) (*emaildomain.Email, error) {
	email, err := u.emails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, fmt.Errorf("email %d: %w", id, apperrors.ErrNotFound)
	}
	return email, nil
}

func (u *emailUsecase) GetEmail(ctx context.Context, id uint) (*EmailDetail, error) {
	email, err := u.getEmail(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &EmailDetail{Email: email, Mentions: []graphrepo.MentionView{}}
	facts, err := u.facts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if facts != nil {
		detail.Facts = facts.View()
	}

	mentions, err := u.graph.MentionsForEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if mentions != nil {
		detail.Mentions = mentions
	}
	return detail, nil
}

func (u *emailUsecase) ListEmails(ctx context.Context, filter emaildomain.EmailFilter) ([]EmailSummary, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	emails, err := u.emails.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(emails))
	for i, e := range emails {
		ids[i] = e.ID
	}
	facts, err := u.facts.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]EmailSummary, 0, len(emails))
	for _, e := range emails {
		s := EmailSummary{Email: e}
		if f := facts[e.ID]; f != nil {
			s.Summary = f.Summary
			s.Sentiment = f.Sentiment
			s.Urgency = f.Urgency
			s.NeedsResponse = f.NeedsResponse
			s.Project = f.ProjectName
		}
		out = append(out, s)
	}
	return out, nil
}

func (u *emailUsecase) Search(ctx context.Context, query string, limit, offset int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.Invalid("q", "query is required")
	}
	if offset < 0 {
		offset = 0
	}

	hits, err := u.index.Search(ctx, query, clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	return u.joinFacts(ctx, hits, nil)
}

func (u *emailUsecase) SemanticSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.Invalid("query", "query is required")
	}
	if u.vectors == nil {
		return nil, fmt.Errorf("semantic search is not configured: %w", apperrors.ErrUnavailable)
	}

	matches, err := u.vectors.Search(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(matches))
	distances := make(map[uint]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.EmailID
		distances[m.EmailID] = m.Distance
	}

	emails, err := u.emails.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]*emaildomain.Email, len(emails))
	for _, e := range emails {
		byID[e.ID] = e
	}

	// Keep the store's ranking; ids purged since their projection are dropped.
	hits := make([]repository.SearchHit, 0, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			continue
		}
		hits = append(hits, repository.SearchHit{
			EmailID:    e.ID,
			Subject:    e.Subject,
			Sender:     e.Sender,
			Folder:     e.Folder,
			ReceivedAt: e.ReceivedAt,
			Snippet:    truncateRunes(e.BodyText, 200),
		})
	}
	return u.joinFacts(ctx, hits, distances)
}

func (u *emailUsecase) joinFacts(ctx context.Context, hits []repository.SearchHit, distances map[uint]float64) ([]SearchResult, error) {
	ids := make([]uint, len(hits))
	for i, h := range hits {
		ids[i] = h.EmailID
	}
	facts, err := u.facts.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		r := SearchResult{SearchHit: h}
		if f := facts[h.EmailID]; f != nil {
			r.Summary = f.Summary
			r.Sentiment = f.Sentiment
			r.Project = f.ProjectName
		}
		if d, ok := distances[h.EmailID]; ok {
			d := d
			r.Distance = &d
		}
		out = append(out, r)
	}
	return out, nil
}

func (u *emailUsecase) Stats(ctx context.Context) (*repository.Stats, error) {
	return u.stats.Stats(ctx)
}

func (u *emailUsecase) DraftReply(ctx context.Context, id uint, instructions string) (*Draft, error) {
	if u.provider == nil {
		return nil, fmt.Errorf("no AI provider configured: %w", apperrors.ErrUnavailable)
	}
	email, err := u.getEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	facts, err := u.facts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var view *factsdomain.View
	if facts != nil {
		view = facts.View()
	}

	related := u.relatedEmails(ctx, email, view)
	prompt := buildDraftPrompt(email, view, related, instructions)

	resp, err := u.provider.Complete(ctx, ai.CompletionRequest{
		System:      draftSystemPrompt,
		Prompt:      prompt,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, fmt.Errorf("draft reply for email %d: %w", id, err)
	}

	draft := &Draft{
		EmailID:  id,
		Text:     strings.TrimSpace(resp.Text),
		Provider: string(resp.Provider),
		Model:    resp.Model,
		Related:  make([]uint, 0, len(related)),
	}
	for _, r := range related {
		draft.Related = append(draft.Related, r.EmailID)
	}
	return draft, nil
}

// relatedEmails finds up to three other emails on the same topic. The vector
// projection is asked first; the full-text index covers for it.
func (u *emailUsecase) relatedEmails(ctx context.Context, email *emaildomain.Email, view *factsdomain.View) []repository.SearchHit {
	var related []repository.SearchHit
	seen := map[uint]bool{email.ID: true}
	add := func(h repository.SearchHit) {
		if len(related) < maxRelatedEmails && !seen[h.EmailID] {
			seen[h.EmailID] = true
			related = append(related, h)
		}
	}

	if u.vectors != nil {
		query := email.Subject
		if view != nil && view.Summary != "" {
			query += "\n" + view.Summary
		}
		matches, err := u.vectors.Search(ctx, query, maxRelatedEmails+1)
		if err != nil {
			u.logger.Debug("Vector lookup for draft failed", zap.Uint("email_id", email.ID), zap.Error(err))
		}
		ids := make([]uint, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.EmailID)
		}
		if len(ids) > 0 {
			emails, err := u.emails.GetByIDs(ctx, ids)
			if err == nil {
				byID := make(map[uint]*emaildomain.Email, len(emails))
				for _, e := range emails {
					byID[e.ID] = e
				}
				for _, id := range ids {
					if e, ok := byID[id]; ok {
						add(repository.SearchHit{EmailID: e.ID, Subject: e.Subject, Sender: e.Sender, ReceivedAt: e.ReceivedAt})
					}
				}
			}
		}
	}

	if len(related) < maxRelatedEmails && strings.TrimSpace(email.Subject) != "" {
		hits, err := u.index.Search(ctx, email.Subject, maxRelatedEmails+1, 0)
		if err != nil {
			u.logger.Debug("Full-text lookup for draft failed", zap.Uint("email_id", email.ID), zap.Error(err))
		}
		for _, h := range hits {
			add(h)
		}
	}
	return related
}

func buildDraftPrompt(email *emaildomain.Email, view *factsdomain.View, related []repository.SearchHit, instructions string) string {
	var b strings.Builder
	b.WriteString("Draft a reply to this email.\n\n")
	fmt.Fprintf(&b, "From: %s\nTo: %s\nSubject: %s\nReceived: %s\n\n%s\n",
		email.Sender, email.To, email.Subject, email.ReceivedAt.Format("2006-01-02 15:04"),
		truncateRunes(email.BodyText, maxVectorBodyChars))

	if view != nil {
		b.WriteString("\nNotes:\n")
		if view.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", view.Summary)
		}
		for _, kp := range view.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", kp)
		}
		if len(view.OpenQuestions) > 0 {
			b.WriteString("Open questions:\n")
			for _, q := range view.OpenQuestions {
				fmt.Fprintf(&b, "- %s\n", q.Question)
			}
		}
	}

	if len(related) > 0 {
		b.WriteString("\nRelated threads:\n")
		for _, r := range related {
			fmt.Fprintf(&b, "- %s (%s)\n", r.Subject, r.Sender)
		}
	}

	if s := strings.TrimSpace(instructions); s != "" {
		fmt.Fprintf(&b, "\nInstructions from the mailbox owner: %s\n", s)
	}
	return b.String()
}

func (u *emailUsecase) Purge(ctx context.Context, id uint) error {
	if _, err := u.getEmail(ctx, id); err != nil {
		return err
	}

	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := u.index.WithTx(tx).OnDelete(ctx, id); err != nil {
			return err
		}
		return u.emails.WithTx(tx).Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("purge email %d: %w", id, err)
	}

	if u.vectors != nil {
		if err := u.vectors.Remove(ctx, id); err != nil {
			u.logger.Warn("Failed to remove vector projection", zap.Uint("email_id", id), zap.Error(err))
		}
	}
	u.logger.Info("Email purged", zap.Uint("email_id", id))
	return nil
}

func (u *emailUsecase) Reprocess(ctx context.Context, id uint, wait bool) (*Outcome, error) {
	if _, err := u.getEmail(ctx, id); err != nil {
		return nil, err
	}
	job := Job{EmailID: id, Force: true}

	if !wait {
		if err := u.orchestrator.Submit(ctx, job); err != nil {
			return nil, err
		}
		return nil, nil
	}

	out := u.orchestrator.Process(ctx, job)
	if out.Err != nil {
		return &out, out.Err
	}
	return &out, nil
}

func (u *emailUsecase) RebuildIndex(ctx context.Context) (int, error) {
	n, err := u.index.Rebuild(ctx)
	if err != nil {
		return 0, err
	}
	u.logger.Info("Search index rebuilt", zap.Int("documents", n))
	return n, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}
