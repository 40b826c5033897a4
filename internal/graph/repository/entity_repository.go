package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	graphdomain "noodle-backend/internal/graph/domain"
	"noodle-backend/pkg/apperrors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntityRepository resolves raw names to canonical entities.
type EntityRepository interface {
	// Resolve returns the entity for (rawName, entityType), creating it on
	// first sight. Concurrent callers with the same key converge on one row.
	Resolve(ctx context.Context, rawName, entityType string) (*graphdomain.Entity, error)
	GetByID(ctx context.Context, id uint) (*graphdomain.Entity, error)
	GetByKey(ctx context.Context, normalizedKey string) (*graphdomain.Entity, error)
	ListByType(ctx context.Context, entityType string, limit int) ([]graphdomain.Entity, error)
	Search(ctx context.Context, query, entityType string, limit int) ([]graphdomain.Entity, error)
	Delete(ctx context.Context, id uint) error
	WithTx(tx *gorm.DB) EntityRepository
}

type entityRepository struct {
	db *gorm.DB
}

func NewEntityRepository(db *gorm.DB) EntityRepository {
	return &entityRepository{db: db}
}

func (r *entityRepository) WithTx(tx *gorm.DB) EntityRepository {
	return &entityRepository{db: tx}
}

// resolveAttempts bounds the create-then-reread loop. A second attempt is
// only needed when a row we conflicted with disappeared before the re-read.
const resolveAttempts = 3

func (r *entityRepository) Resolve(ctx context.Context, rawName, entityType string) (*graphdomain.Entity, error) {
	key, err := graphdomain.NormalizedKey(entityType, rawName)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < resolveAttempts; attempt++ {
		existing, err := r.GetByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}

		entity := &graphdomain.Entity{
			EntityType:    graphdomain.NormalizeType(entityType),
			CanonicalName: graphdomain.CanonicalName(rawName),
			NormalizedKey: key,
			CreatedAt:     time.Now().UTC(),
		}
		res := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "normalized_key"}}, DoNothing: true}).
			Create(entity)
		if res.Error != nil && !apperrors.IsUniqueViolation(res.Error) {
			return nil, fmt.Errorf("create entity %q: %w", key, res.Error)
		}
		if res.Error == nil && res.RowsAffected == 1 {
			return entity, nil
		}
		// Someone else created it between our read and insert.
	}
	return nil, fmt.Errorf("resolve entity %q: %w: did not converge", key, apperrors.ErrConflict)
}

func (r *entityRepository) GetByID(ctx context.Context, id uint) (*graphdomain.Entity, error) {
	var entity graphdomain.Entity
	if err := r.db.WithContext(ctx).First(&entity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entity, nil
}

func (r *entityRepository) GetByKey(ctx context.Context, normalizedKey string) (*graphdomain.Entity, error) {
	var entity graphdomain.Entity
	if err := r.db.WithContext(ctx).Where("normalized_key = ?", normalizedKey).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entity, nil
}

func (r *entityRepository) ListByType(ctx context.Context, entityType string, limit int) ([]graphdomain.Entity, error) {
	if limit <= 0 {
		limit = 1000
	}
	var entities []graphdomain.Entity
	err := r.db.WithContext(ctx).
		Where("entity_type = ?", graphdomain.NormalizeType(entityType)).
		Order("id").
		Limit(limit).
		Find(&entities).Error
	return entities, err
}

func (r *entityRepository) Search(ctx context.Context, query, entityType string, limit int) ([]graphdomain.Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Model(&graphdomain.Entity{})
	if query = strings.TrimSpace(query); query != "" {
		q = q.Where("LOWER(canonical_name) LIKE ?", "%"+strings.ToLower(query)+"%")
	}
	if entityType != "" {
		q = q.Where("entity_type = ?", graphdomain.NormalizeType(entityType))
	}
	var entities []graphdomain.Entity
	err := q.Order("canonical_name").Limit(limit).Find(&entities).Error
	return entities, err
}

func (r *entityRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&graphdomain.Entity{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("entity %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}
