package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	emaildomain "noodle-backend/internal/email/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoredVector is a decoded embedding row.
type StoredVector struct {
	EmailID uint
	Vector  []float32
}

// EmbeddingRepository stores email vectors in the primary database.
type EmbeddingRepository interface {
	Save(ctx context.Context, emailID uint, model string, vector []float32) error
	// Each calls fn for every stored vector until fn returns false.
	Each(ctx context.Context, fn func(StoredVector) bool) error
	Delete(ctx context.Context, emailID uint) error
}

type embeddingRepository struct {
	db *gorm.DB
}

func NewEmbeddingRepository(db *gorm.DB) EmbeddingRepository {
	return &embeddingRepository{db: db}
}

func (r *embeddingRepository) Save(ctx context.Context, emailID uint, model string, vector []float32) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	row := emaildomain.EmailEmbedding{
		EmailID:    emailID,
		Model:      model,
		Dimensions: len(vector),
		VectorJSON: string(raw),
		UpdatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"model", "dimensions", "vector_json", "updated_at"}),
	}).Create(&row).Error
}

func (r *embeddingRepository) Each(ctx context.Context, fn func(StoredVector) bool) error {
	const batch = 200
	var lastID uint
	for {
		var rows []emaildomain.EmailEmbedding
		err := r.db.WithContext(ctx).
			Where("email_id > ?", lastID).
			Order("email_id").
			Limit(batch).
			Find(&rows).Error
		if err != nil {
			return err
		}
		for _, row := range rows {
			var vec []float32
			if err := json.Unmarshal([]byte(row.VectorJSON), &vec); err != nil {
				return fmt.Errorf("decode vector of email %d: %w", row.EmailID, err)
			}
			if !fn(StoredVector{EmailID: row.EmailID, Vector: vec}) {
				return nil
			}
			lastID = row.EmailID
		}
		if len(rows) < batch {
			return nil
		}
	}
}

func (r *embeddingRepository) Delete(ctx context.Context, emailID uint) error {
	return r.db.WithContext(ctx).Where("email_id = ?", emailID).Delete(&emaildomain.EmailEmbedding{}).Error
}
