package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"noodle-backend/internal/prompt/domain"
	"noodle-backend/pkg/apperrors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PromptRepository stores prompt definitions. Prompts are only removed explicitly.
type PromptRepository interface {
	Create(ctx context.Context, p *domain.Prompt) error
	// Update saves p and bumps its version.
	Update(ctx context.Context, p *domain.Prompt) error
	Get(ctx context.Context, id string) (*domain.Prompt, error)
	GetByName(ctx context.Context, name string) (*domain.Prompt, error)
	List(ctx context.Context) ([]*domain.Prompt, error)
	// ListScheduled returns enabled prompts that carry a schedule.
	ListScheduled(ctx context.Context) ([]*domain.Prompt, error)
	Delete(ctx context.Context, id string) error
}

type promptRepository struct {
	db *gorm.DB
}

func NewPromptRepository(db *gorm.DB) PromptRepository {
	return &promptRepository{db: db}
}

func (r *promptRepository) Create(ctx context.Context, p *domain.Prompt) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.ScopeJSON == "" {
		p.ScopeJSON = "{}"
	}
	if p.ModelPrefJSON == "" {
		p.ModelPrefJSON = "{}"
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if apperrors.IsUniqueViolation(err) {
			return fmt.Errorf("prompt %q already exists: %w", p.Name, apperrors.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *promptRepository) Update(ctx context.Context, p *domain.Prompt) error {
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Prompt{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"name":            p.Name,
			"kind":            p.Kind,
			"enabled":         p.Enabled,
			"schedule":        p.Schedule,
			"scope_json":      p.ScopeJSON,
			"model_pref_json": p.ModelPrefJSON,
			"template":        p.Template,
			"output_schema":   p.OutputSchema,
			"version":         p.Version,
			"updated_at":      p.UpdatedAt,
		})
	if res.Error != nil {
		if apperrors.IsUniqueViolation(res.Error) {
			return fmt.Errorf("prompt %q already exists: %w", p.Name, apperrors.ErrConflict)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("prompt %s: %w", p.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *promptRepository) first(ctx context.Context, query string, arg interface{}) (*domain.Prompt, error) {
	var p domain.Prompt
	err := r.db.WithContext(ctx).Where(query, arg).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *promptRepository) Get(ctx context.Context, id string) (*domain.Prompt, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *promptRepository) GetByName(ctx context.Context, name string) (*domain.Prompt, error) {
	return r.first(ctx, "name = ?", name)
}

func (r *promptRepository) List(ctx context.Context) ([]*domain.Prompt, error) {
	var prompts []*domain.Prompt
	err := r.db.WithContext(ctx).Order("name").Find(&prompts).Error
	return prompts, err
}

func (r *promptRepository) ListScheduled(ctx context.Context) ([]*domain.Prompt, error) {
	var prompts []*domain.Prompt
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND schedule IS NOT NULL AND schedule <> ''", true).
		Order("name").
		Find(&prompts).Error
	return prompts, err
}

func (r *promptRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&domain.Prompt{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("prompt %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}
