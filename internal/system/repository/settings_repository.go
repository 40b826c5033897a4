package repository

import (
	"context"
	"errors"
	"time"

	"noodle-backend/internal/system/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepository interface {
	// Get returns nil when the key is not set.
	Get(ctx context.Context, key string) (*domain.Setting, error)
	Set(ctx context.Context, key, value string) (*domain.Setting, error)
	List(ctx context.Context) ([]domain.Setting, error)
	Delete(ctx context.Context, key string) error
}

type settingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context, key string) (*domain.Setting, error) {
	var s domain.Setting
	err := r.db.WithContext(ctx).Where(`"key" = ?`, key).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepository) Set(ctx context.Context, key, value string) (*domain.Setting, error) {
	s := &domain.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(s).Error
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *settingsRepository) List(ctx context.Context) ([]domain.Setting, error) {
	var settings []domain.Setting
	err := r.db.WithContext(ctx).Order(`"key"`).Find(&settings).Error
	return settings, err
}

func (r *settingsRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where(`"key" = ?`, key).Delete(&domain.Setting{}).Error
}
