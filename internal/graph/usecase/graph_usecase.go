package usecase

import (
	"context"
	"fmt"
	"sort"

	emailrepo "noodle-backend/internal/email/repository"
	graphdomain "noodle-backend/internal/graph/domain"
	"noodle-backend/internal/graph/repository"
	"noodle-backend/pkg/apperrors"
	"noodle-backend/pkg/fuzzy"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	similarityThreshold = 0.8
	maxSimilar          = 10
)

// SimilarEntity is a merge candidate. Merging is never automatic.
type SimilarEntity struct {
	Entity graphdomain.Entity `json:"entity"`
	Score  float64            `json:"score"`
}

// EntityDetail is an entity with the emails that mention it.
type EntityDetail struct {
	Entity   graphdomain.Entity `json:"entity"`
	EmailIDs []uint             `json:"email_ids"`
}

// GraphUsecase serves graph reads and operator actions on entities.
type GraphUsecase interface {
	Graph(ctx context.Context, q repository.GraphQuery) (*repository.Graph, error)
	Neighbors(ctx context.Context, entityID uint, depth int) ([]repository.Node, error)
	Entity(ctx context.Context, entityID uint) (*EntityDetail, error)
	SearchEntities(ctx context.Context, query, entityType string, limit int) ([]graphdomain.Entity, error)
	Similar(ctx context.Context, entityID uint) ([]SimilarEntity, error)
	// Merge folds entity from into entity into and reindexes affected emails.
	Merge(ctx context.Context, fromID, intoID uint) (*graphdomain.Entity, error)
	MentionsForEmail(ctx context.Context, emailID uint) ([]repository.MentionView, error)
}

type graphUsecase struct {
	db       *gorm.DB
	entities repository.EntityRepository
	graph    repository.GraphRepository
	index    emailrepo.SearchIndex
	logger   *zap.Logger
}

func NewGraphUsecase(db *gorm.DB, entities repository.EntityRepository, graph repository.GraphRepository, index emailrepo.SearchIndex, logger *zap.Logger) GraphUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &graphUsecase{
		db:       db,
		entities: entities,
		graph:    graph,
		index:    index,
		logger:   logger.Named("graph"),
	}
}

func (u *graphUsecase) Graph(ctx context.Context, q repository.GraphQuery) (*repository.Graph, error) {
	return u.graph.Graph(ctx, q)
}

func (u *graphUsecase) Neighbors(ctx context.Context, entityID uint, depth int) ([]repository.Node, error) {
	if _, err := u.mustEntity(ctx, entityID); err != nil {
		return nil, err
	}
	return u.graph.Neighbors(ctx, entityID, depth)
}

func (u *graphUsecase) Entity(ctx context.Context, entityID uint) (*EntityDetail, error) {
	entity, err := u.mustEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	ids, err := u.graph.EmailIDsForEntity(ctx, entityID, 100)
	if err != nil {
		return nil, err
	}
	return &EntityDetail{Entity: *entity, EmailIDs: ids}, nil
}

func (u *graphUsecase) SearchEntities(ctx context.Context, query, entityType string, limit int) ([]graphdomain.Entity, error) {
	return u.entities.Search(ctx, query, entityType, limit)
}

func (u *graphUsecase) MentionsForEmail(ctx context.Context, emailID uint) ([]repository.MentionView, error) {
	return u.graph.MentionsForEmail(ctx, emailID)
}

func (u *graphUsecase) Similar(ctx context.Context, entityID uint) ([]SimilarEntity, error) {
	entity, err := u.mustEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	candidates, err := u.entities.ListByType(ctx, entity.EntityType, 0)
	if err != nil {
		return nil, err
	}

	var similar []SimilarEntity
	for _, c := range candidates {
		if c.ID == entity.ID {
			continue
		}
		score := fuzzy.Similarity(entity.CanonicalName, c.CanonicalName)
		if contained := fuzzy.TokenContainment(entity.CanonicalName, c.CanonicalName); contained == 1 && score < similarityThreshold {
			score = similarityThreshold
		}
		if score >= similarityThreshold {
			similar = append(similar, SimilarEntity{Entity: c, Score: score})
		}
	}
	sort.SliceStable(similar, func(i, j int) bool { return similar[i].Score > similar[j].Score })
	if len(similar) > maxSimilar {
		similar = similar[:maxSimilar]
	}
	return similar, nil
}

func (u *graphUsecase) Merge(ctx context.Context, fromID, intoID uint) (*graphdomain.Entity, error) {
	if fromID == intoID {
		return nil, fmt.Errorf("merge: %w: cannot merge an entity into itself", apperrors.ErrInvalidInput)
	}
	from, err := u.mustEntity(ctx, fromID)
	if err != nil {
		return nil, err
	}
	into, err := u.mustEntity(ctx, intoID)
	if err != nil {
		return nil, err
	}
	if from.EntityType != into.EntityType {
		return nil, fmt.Errorf("merge: %w: %s and %s have different types", apperrors.ErrInvalidInput, from.NormalizedKey, into.NormalizedKey)
	}

	var affected []uint
	err = u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		affected, err = u.graph.WithTx(tx).Repoint(ctx, fromID, intoID)
		if err != nil {
			return err
		}
		if err := u.entities.WithTx(tx).Delete(ctx, fromID); err != nil {
			return err
		}
		index := u.index.WithTx(tx)
		for _, emailID := range affected {
			if err := index.OnUpdate(ctx, emailID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge %d into %d: %w", fromID, intoID, err)
	}

	u.logger.Info("entities merged",
		zap.String("from", from.NormalizedKey),
		zap.String("into", into.NormalizedKey),
		zap.Int("emails", len(affected)))
	return into, nil
}

func (u *graphUsecase) mustEntity(ctx context.Context, id uint) (*graphdomain.Entity, error) {
	entity, err := u.entities.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("entity %d: %w", id, apperrors.ErrNotFound)
	}
	return entity, nil
}
