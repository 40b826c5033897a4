package usecase

import (
	"context"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/internal/email/repository"
	factsdomain "noodle-backend/internal/facts/domain"
	graphrepo "noodle-backend/internal/graph/repository"
)

// EmailDetail is an email with everything derived from it.
type EmailDetail struct {
	Email    *emaildomain.Email      `json:"email"`
	Facts    *factsdomain.View       `json:"facts,omitempty"`
	Mentions []graphrepo.MentionView `json:"mentions"`
}

// EmailSummary is an email row joined with the headline facts.
type EmailSummary struct {
	*emaildomain.Email
	Summary       string                `json:"summary,omitempty"`
	Sentiment     factsdomain.Sentiment `json:"sentiment,omitempty"`
	Urgency       factsdomain.Urgency   `json:"urgency,omitempty"`
	NeedsResponse bool                  `json:"needs_response"`
	Project       *string               `json:"project,omitempty"`
}

// SearchResult is a ranked hit with its headline facts.
type SearchResult struct {
	repository.SearchHit
	Summary   string                `json:"summary,omitempty"`
	Sentiment factsdomain.Sentiment `json:"sentiment,omitempty"`
	Project   *string               `json:"project,omitempty"`
	Distance  *float64              `json:"distance,omitempty"`
}

// Draft is a suggested reply. Drafts are never stored.
type Draft struct {
	EmailID  uint   `json:"email_id"`
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Related  []uint `json:"related"`
}

// EmailUsecase is the query surface over the record store and its projections.
type EmailUsecase interface {
	GetEmail(ctx context.Context, id uint) (*EmailDetail, error)
	ListEmails(ctx context.Context, filter emaildomain.EmailFilter) ([]EmailSummary, error)
	Search(ctx context.Context, query string, limit, offset int) ([]SearchResult, error)
	SemanticSearch(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Stats(ctx context.Context) (*repository.Stats, error)
	DraftReply(ctx context.Context, id uint, instructions string) (*Draft, error)
	// Purge deletes the email and every projection of it.
	Purge(ctx context.Context, id uint) error
	// Reprocess forces a new extraction. With wait it runs inline and returns the outcome.
	Reprocess(ctx context.Context, id uint, wait bool) (*Outcome, error)
	RebuildIndex(ctx context.Context) (int, error)
}
