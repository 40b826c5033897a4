package repository

import (
	"context"
	"errors"
	"time"

	emaildomain "noodle-backend/internal/email/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointRepository persists connector positions per folder.
type CheckpointRepository interface {
	// Get returns "" when the folder was never synced.
	Get(ctx context.Context, connector, folder string) (string, error)
	Save(ctx context.Context, connector, folder, checkpoint string) error
	List(ctx context.Context, connector string) ([]emaildomain.SyncCheckpoint, error)
	// Reset drops every checkpoint of connector, forcing a full initial scan.
	Reset(ctx context.Context, connector string) error
}

type checkpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) CheckpointRepository {
	return &checkpointRepository{db: db}
}

func (r *checkpointRepository) Get(ctx context.Context, connector, folder string) (string, error) {
	var cp emaildomain.SyncCheckpoint
	err := r.db.WithContext(ctx).Where("connector = ? AND folder = ?", connector, folder).First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return cp.Checkpoint, nil
}

func (r *checkpointRepository) Save(ctx context.Context, connector, folder, checkpoint string) error {
	cp := emaildomain.SyncCheckpoint{
		Connector:  connector,
		Folder:     folder,
		Checkpoint: checkpoint,
		UpdatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connector"}, {Name: "folder"}},
		DoUpdates: clause.AssignmentColumns([]string{"checkpoint", "updated_at"}),
	}).Create(&cp).Error
}

func (r *checkpointRepository) List(ctx context.Context, connector string) ([]emaildomain.SyncCheckpoint, error) {
	var cps []emaildomain.SyncCheckpoint
	err := r.db.WithContext(ctx).Where("connector = ?", connector).Order("folder").Find(&cps).Error
	return cps, err
}

func (r *checkpointRepository) Reset(ctx context.Context, connector string) error {
	return r.db.WithContext(ctx).Where("connector = ?", connector).Delete(&emaildomain.SyncCheckpoint{}).Error
}
