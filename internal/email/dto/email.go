package dto

import (
	"noodle-backend/internal/email/usecase"
)

type EmailsResponse struct {
	Emails []usecase.EmailSummary `json:"emails"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

type SearchResponse struct {
	Query   string                 `json:"query"`
	Results []usecase.SearchResult `json:"results"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

type SemanticSearchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

type DraftRequest struct {
	Instructions string `json:"instructions"`
}

type ReprocessResponse struct {
	EmailID uint             `json:"email_id"`
	Queued  bool             `json:"queued"`
	Outcome *usecase.Outcome `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
}
