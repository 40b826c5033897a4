package repository

import (
	"context"
	"errors"
	"fmt"

	factsdomain "noodle-backend/internal/facts/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FactsRepository persists one ExtractedFacts row per email.
type FactsRepository interface {
	// Persist validates payload and replaces any prior facts for the email.
	// On validation failure nothing is written and the error wraps apperrors.ErrValidation.
	Persist(ctx context.Context, emailID uint, payload *factsdomain.Payload, prov factsdomain.Provenance) (*factsdomain.ExtractedFacts, error)
	Get(ctx context.Context, emailID uint) (*factsdomain.ExtractedFacts, error)
	GetMany(ctx context.Context, emailIDs []uint) (map[uint]*factsdomain.ExtractedFacts, error)
	Delete(ctx context.Context, emailID uint) error
	// WithTx returns a repository bound to tx.
	WithTx(tx *gorm.DB) FactsRepository
}

type factsRepository struct {
	db *gorm.DB
}

func NewFactsRepository(db *gorm.DB) FactsRepository {
	return &factsRepository{db: db}
}

func (r *factsRepository) WithTx(tx *gorm.DB) FactsRepository {
	return &factsRepository{db: tx}
}

var factsUpdateColumns = []string{
	"primary_type", "intent", "urgency", "sentiment",
	"project_name", "project_kind", "project_confidence",
	"due_by", "needs_response", "waiting_on", "summary",
	"key_points_json", "risks_json", "issues_json", "blockers_json",
	"open_questions_json", "answered_questions_json",
	"confidence", "provenance_json", "updated_at",
}

func (r *factsRepository) Persist(ctx context.Context, emailID uint, payload *factsdomain.Payload, prov factsdomain.Provenance) (*factsdomain.ExtractedFacts, error) {
	if payload == nil {
		return nil, fmt.Errorf("persist facts for email %d: nil payload", emailID)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	facts := factsdomain.NewExtractedFacts(emailID, payload, prov)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email_id"}},
		DoUpdates: clause.AssignmentColumns(factsUpdateColumns),
	}).Create(facts).Error
	if err != nil {
		return nil, fmt.Errorf("persist facts for email %d: %w", emailID, err)
	}
	return facts, nil
}

func (r *factsRepository) Get(ctx context.Context, emailID uint) (*factsdomain.ExtractedFacts, error) {
	var facts factsdomain.ExtractedFacts
	err := r.db.WithContext(ctx).Where("email_id = ?", emailID).First(&facts).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &facts, nil
}

func (r *factsRepository) GetMany(ctx context.Context, emailIDs []uint) (map[uint]*factsdomain.ExtractedFacts, error) {
	result := make(map[uint]*factsdomain.ExtractedFacts, len(emailIDs))
	if len(emailIDs) == 0 {
		return result, nil
	}

	var rows []factsdomain.ExtractedFacts
	if err := r.db.WithContext(ctx).Where("email_id IN ?", emailIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		result[rows[i].EmailID] = &rows[i]
	}
	return result, nil
}

func (r *factsRepository) Delete(ctx context.Context, emailID uint) error {
	return r.db.WithContext(ctx).Where("email_id = ?", emailID).Delete(&factsdomain.ExtractedFacts{}).Error
}
