package repository

import (
	"context"
	"errors"
	"time"

	emaildomain "noodle-backend/internal/email/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// vectorSyncRepository implements VectorSyncRepository interface
type vectorSyncRepository struct {
	db *gorm.DB
}

// NewVectorSyncRepository creates a new instance of vectorSyncRepository
func NewVectorSyncRepository(db *gorm.DB) VectorSyncRepository {
	return &vectorSyncRepository{db: db}
}

func (r *vectorSyncRepository) IsSynced(ctx context.Context, emailID uint, hash string) (bool, error) {
	var history emaildomain.VectorSyncHistory
	err := r.db.WithContext(ctx).Where("email_id = ?", emailID).First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return history.Hash == hash, nil
}

func (r *vectorSyncRepository) MarkSynced(ctx context.Context, emailID uint, hash string) error {
	history := emaildomain.VectorSyncHistory{
		EmailID:  emailID,
		Hash:     hash,
		SyncedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"hash", "synced_at"}),
	}).Create(&history).Error
}

func (r *vectorSyncRepository) PendingEmailIDs(ctx context.Context, limit int) ([]uint, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uint
	err := r.db.WithContext(ctx).
		Table("emails e").
		Joins("LEFT JOIN vector_sync_history v ON v.email_id = e.id").
		Where("v.email_id IS NULL OR v.hash <> e.hash").
		Where("e.excluded_reason IS NULL OR e.excluded_reason = ''").
		Order("e.id").
		Limit(limit).
		Pluck("e.id", &ids).Error
	return ids, err
}

func (r *vectorSyncRepository) Delete(ctx context.Context, emailID uint) error {
	return r.db.WithContext(ctx).Where("email_id = ?", emailID).Delete(&emaildomain.VectorSyncHistory{}).Error
}
