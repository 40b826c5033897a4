package repository

import (
	"context"
	"time"

	"noodle-backend/internal/system/domain"
	"noodle-backend/pkg/logger"

	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// LogRepository stores log entries. It is the sink behind logger.StoreCore.
type LogRepository interface {
	WriteLogs(records []logger.Record) error
	List(ctx context.Context, filter domain.LogFilter) ([]domain.LogEntry, error)
	// Prune deletes entries older than before.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type logRepository struct {
	db *gorm.DB
}

func NewLogRepository(db *gorm.DB) LogRepository {
	return &logRepository{db: db}
}

func (r *logRepository) WriteLogs(records []logger.Record) error {
	if len(records) == 0 {
		return nil
	}
	entries := make([]domain.LogEntry, len(records))
	for i, rec := range records {
		entries[i] = domain.LogEntry{
			Level:      rec.Level,
			Component:  rec.Component,
			Message:    rec.Message,
			FieldsJSON: rec.Fields,
			CreatedAt:  rec.CreatedAt,
		}
		if entries[i].FieldsJSON == "" {
			entries[i].FieldsJSON = "{}"
		}
	}
	return r.db.CreateInBatches(&entries, 100).Error
}

var levelOrder = []zapcore.Level{
	zapcore.DebugLevel,
	zapcore.InfoLevel,
	zapcore.WarnLevel,
	zapcore.ErrorLevel,
	zapcore.DPanicLevel,
	zapcore.PanicLevel,
	zapcore.FatalLevel,
}

// levelsAtOrAbove returns nil when min does not parse.
func levelsAtOrAbove(min string) []string {
	lvl, err := zapcore.ParseLevel(min)
	if err != nil {
		return nil
	}
	var out []string
	for _, l := range levelOrder {
		if l >= lvl {
			out = append(out, l.String())
		}
	}
	return out
}

func (r *logRepository) List(ctx context.Context, filter domain.LogFilter) ([]domain.LogEntry, error) {
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = 100
	case limit > 1000:
		limit = 1000
	}
	q := r.db.WithContext(ctx).Model(&domain.LogEntry{})
	if filter.Level != "" {
		if levels := levelsAtOrAbove(filter.Level); levels != nil {
			q = q.Where("level IN ?", levels)
		}
	}
	if filter.Component != "" {
		q = q.Where("component = ? OR component LIKE ?", filter.Component, filter.Component+".%")
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", filter.Since.UTC())
	}

	var entries []domain.LogEntry
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *logRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&domain.LogEntry{})
	return res.RowsAffected, res.Error
}
