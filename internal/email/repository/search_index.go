package repository

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/pkg/apperrors"
	"noodle-backend/pkg/database"

	"gorm.io/gorm"
)

// SearchHit is one ranked result of a full-text query. Higher Score ranks first.
type SearchHit struct {
	EmailID    uint      `json:"email_id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Folder     string    `json:"folder"`
	ReceivedAt time.Time `json:"received_at"`
	Snippet    string    `json:"snippet"`
	Score      float64   `json:"score"`
}

// SearchIndex keeps the email_search projection in step with the record store.
// Callers run the On* methods on the same transaction as the store mutation.
type SearchIndex interface {
	OnInsert(ctx context.Context, emailID uint) error
	// OnUpdate deletes and re-inserts the document, never patching fields.
	OnUpdate(ctx context.Context, emailID uint) error
	OnDelete(ctx context.Context, emailID uint) error
	Search(ctx context.Context, query string, limit, offset int) ([]SearchHit, error)
	// Rebuild drops every document and re-indexes all emails. Returns the count indexed.
	Rebuild(ctx context.Context) (int, error)
	WithTx(tx *gorm.DB) SearchIndex
}

type searchIndex struct {
	db *gorm.DB
}

func NewSearchIndex(db *gorm.DB) SearchIndex {
	return &searchIndex{db: db}
}

func (s *searchIndex) WithTx(tx *gorm.DB) SearchIndex {
	return &searchIndex{db: tx}
}

type searchDocument struct {
	Subject  string
	Sender   string
	Body     string
	Summary  string
	Entities string
}

func (s *searchIndex) buildDocument(ctx context.Context, emailID uint) (*searchDocument, error) {
	db := s.db.WithContext(ctx)

	var email emaildomain.Email
	if err := db.Preload("Attachments").First(&email, emailID).Error; err != nil {
		return nil, fmt.Errorf("load email %d for indexing: %w", emailID, err)
	}

	body := []string{email.BodyText}
	for _, a := range email.Attachments {
		body = append(body, a.Filename)
		if a.ExtractedText != nil {
			body = append(body, *a.ExtractedText)
		}
	}

	var facts struct {
		Summary     string
		ProjectName *string
	}
	err := db.Table("extracted_email_facts").
		Select("summary, project_name").
		Where("email_id = ?", emailID).
		Limit(1).
		Scan(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("load facts of email %d for indexing: %w", emailID, err)
	}

	var names []string
	err = db.Table("entity_mentions m").
		Joins("JOIN entities en ON en.id = m.entity_id").
		Where("m.email_id = ?", emailID).
		Order("en.canonical_name").
		Pluck("en.canonical_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("load entities of email %d for indexing: %w", emailID, err)
	}

	summary := facts.Summary
	if facts.ProjectName != nil && *facts.ProjectName != "" {
		summary = strings.TrimSpace(summary + " " + *facts.ProjectName)
	}

	return &searchDocument{
		Subject:  email.Subject,
		Sender:   email.Sender,
		Body:     strings.Join(body, "\n"),
		Summary:  summary,
		Entities: strings.Join(names, ", "),
	}, nil
}

func (s *searchIndex) OnInsert(ctx context.Context, emailID uint) error {
	doc, err := s.buildDocument(ctx, emailID)
	if err != nil {
		return err
	}

	var stmt string
	if database.Dialect(s.db) == database.DriverPostgres {
		stmt = "INSERT INTO email_search (email_id, subject, sender, body, summary, entities) VALUES (?, ?, ?, ?, ?, ?)"
	} else {
		stmt = "INSERT INTO email_search (rowid, subject, sender, body, summary, entities) VALUES (?, ?, ?, ?, ?, ?)"
	}
	err = s.db.WithContext(ctx).Exec(stmt, emailID, doc.Subject, doc.Sender, doc.Body, doc.Summary, doc.Entities).Error
	if err != nil {
		return fmt.Errorf("index email %d: %w", emailID, err)
	}
	return nil
}

func (s *searchIndex) OnUpdate(ctx context.Context, emailID uint) error {
	if err := s.OnDelete(ctx, emailID); err != nil {
		return err
	}
	return s.OnInsert(ctx, emailID)
}

func (s *searchIndex) OnDelete(ctx context.Context, emailID uint) error {
	stmt := "DELETE FROM email_search WHERE rowid = ?"
	if database.Dialect(s.db) == database.DriverPostgres {
		stmt = "DELETE FROM email_search WHERE email_id = ?"
	}
	if err := s.db.WithContext(ctx).Exec(stmt, emailID).Error; err != nil {
		return fmt.Errorf("unindex email %d: %w", emailID, err)
	}
	return nil
}

func (s *searchIndex) Search(ctx context.Context, query string, limit, offset int) ([]SearchHit, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var hits []SearchHit
	if database.Dialect(s.db) == database.DriverPostgres {
		if strings.TrimSpace(query) == "" {
			return nil, fmt.Errorf("search: %w: empty query", apperrors.ErrInvalidInput)
		}
		err := s.db.WithContext(ctx).Raw(`
			SELECT e.id AS email_id, e.subject, e.sender, e.folder, e.received_at,
			       ts_headline('simple', s.body, q, 'MaxWords=24, MinWords=8') AS snippet,
			       ts_rank(s.document, q) AS score
			FROM email_search s
			JOIN emails e ON e.id = s.email_id,
			     plainto_tsquery('simple', ?) q
			WHERE s.document @@ q
			ORDER BY score DESC, e.received_at DESC
			LIMIT ? OFFSET ?`, query, limit, offset).Scan(&hits).Error
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", query, err)
		}
		return hits, nil
	}

	match := ftsMatchExpression(query)
	if match == "" {
		return nil, fmt.Errorf("search: %w: empty query", apperrors.ErrInvalidInput)
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT e.id AS email_id, e.subject, e.sender, e.folder, e.received_at,
		       snippet(email_search, 2, '[', ']', '...', 16) AS snippet,
		       -bm25(email_search, 10.0, 2.0, 1.0, 4.0, 4.0) AS score
		FROM email_search
		JOIN emails e ON e.id = email_search.rowid
		WHERE email_search MATCH ?
		ORDER BY score DESC, e.received_at DESC
		LIMIT ? OFFSET ?`, match, limit, offset).Scan(&hits).Error
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return hits, nil
}

// ftsMatchExpression turns free text into an FTS5 query where every token is
// a quoted phrase, so user input never reaches the FTS5 query grammar.
func ftsMatchExpression(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-' && r != '_' && r != '@' && r != '.'
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'-_.@")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

func (s *searchIndex) Rebuild(ctx context.Context) (int, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&emaildomain.Email{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM email_search").Error; err != nil {
			return err
		}
		idx := s.WithTx(tx)
		for _, id := range ids {
			if err := idx.OnInsert(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rebuild search index: %w", err)
	}
	return len(ids), nil
}
