package repository

import (
	"context"

	"gorm.io/gorm"
)

// Stats is the aggregate view served by the stats query.
type Stats struct {
	TotalEmails      int64            `json:"total_emails"`
	ExtractedEmails  int64            `json:"extracted_emails"`
	ExcludedEmails   int64            `json:"excluded_emails"`
	NeedsResponse    int64            `json:"needs_response"`
	Entities         int64            `json:"entities"`
	Edges            int64            `json:"edges"`
	SentimentCounts  map[string]int64 `json:"sentiment_counts"`
	UrgencyCounts    map[string]int64 `json:"urgency_counts"`
	FolderCounts     map[string]int64 `json:"folder_counts"`
	VectorSynced     int64            `json:"vector_synced"`
	SearchIndexCount int64            `json:"search_index_count"`
}

type StatsRepository interface {
	Stats(ctx context.Context) (*Stats, error)
}

type statsRepository struct {
	db *gorm.DB
}

func NewStatsRepository(db *gorm.DB) StatsRepository {
	return &statsRepository{db: db}
}

type groupCount struct {
	Bucket string
	Count  int64
}

func (r *statsRepository) Stats(ctx context.Context) (*Stats, error) {
	db := r.db.WithContext(ctx)
	s := &Stats{}

	counts := []struct {
		table string
		where string
		dst   *int64
	}{
		{"emails", "", &s.TotalEmails},
		{"extracted_email_facts", "", &s.ExtractedEmails},
		{"emails", "excluded_reason IS NOT NULL AND excluded_reason <> ''", &s.ExcludedEmails},
		{"extracted_email_facts", "needs_response = TRUE", &s.NeedsResponse},
		{"entities", "", &s.Entities},
		{"edges", "", &s.Edges},
		{"vector_sync_history", "", &s.VectorSynced},
		{"email_search", "", &s.SearchIndexCount},
	}
	for _, c := range counts {
		q := db.Table(c.table)
		if c.where != "" {
			q = q.Where(c.where)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return nil, err
		}
	}

	var err error
	if s.SentimentCounts, err = r.groupBy(ctx, "extracted_email_facts", "sentiment"); err != nil {
		return nil, err
	}
	if s.UrgencyCounts, err = r.groupBy(ctx, "extracted_email_facts", "urgency"); err != nil {
		return nil, err
	}
	if s.FolderCounts, err = r.groupBy(ctx, "emails", "folder"); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *statsRepository) groupBy(ctx context.Context, table, column string) (map[string]int64, error) {
	var rows []groupCount
	err := r.db.WithContext(ctx).Table(table).
		Select(column + " AS bucket, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Bucket] = row.Count
	}
	return out, nil
}
