package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	factsdomain "noodle-backend/internal/facts/domain"
	graphdomain "noodle-backend/internal/graph/domain"
	"noodle-backend/internal/graph/repository"
	"noodle-backend/pkg/apperrors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// entityTypeUnknown is used for relation endpoints the extraction did not type.
const entityTypeUnknown = "unknown"

// ApplyResult summarizes one Apply call.
type ApplyResult struct {
	Mentions int      `json:"mentions"`
	Edges    int      `json:"edges"`
	Skipped  []string `json:"skipped,omitempty"`
}

// Builder turns extracted entities and relations into graph rows for one email.
type Builder struct {
	entities repository.EntityRepository
	graph    repository.GraphRepository
	logger   *zap.Logger
}

func NewBuilder(entities repository.EntityRepository, graph repository.GraphRepository, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{entities: entities, graph: graph, logger: logger.Named("graph_builder")}
}

// Apply replaces the graph state attributed to emailID. It must run inside
// tx so that the replacement lands together with the facts that produced it.
func (b *Builder) Apply(ctx context.Context, tx *gorm.DB, emailID uint, entities []factsdomain.ExtractedEntity, relations []factsdomain.ExtractedRelation) (*ApplyResult, error) {
	entityRepo := b.entities.WithTx(tx)
	graphRepo := b.graph.WithTx(tx)

	if err := graphRepo.DeleteForEmail(ctx, emailID); err != nil {
		return nil, err
	}

	result := &ApplyResult{}

	// The strongest sighting wins when the payload names the same entity twice.
	best := map[uint]*graphdomain.EntityMention{}
	order := []uint{}
	typeByName := map[string]string{}
	now := time.Now().UTC()

	for _, e := range entities {
		entity, err := entityRepo.Resolve(ctx, e.Name, e.Type)
		if err != nil {
			if errors.Is(err, apperrors.ErrValidation) {
				result.Skipped = append(result.Skipped, e.Name)
				continue
			}
			return nil, fmt.Errorf("resolve %q: %w", e.Name, err)
		}
		typeByName[graphdomain.NormalizeName("", e.Name)] = entity.EntityType

		m, seen := best[entity.ID]
		if !seen {
			best[entity.ID] = &graphdomain.EntityMention{
				EmailID:    emailID,
				EntityID:   entity.ID,
				Role:       graphdomain.ParseRole(e.Role),
				Confidence: e.Confidence,
				CreatedAt:  now,
			}
			order = append(order, entity.ID)
			continue
		}
		if e.Confidence > m.Confidence {
			m.Confidence = e.Confidence
			m.Role = graphdomain.ParseRole(e.Role)
		}
	}

	for _, id := range order {
		if err := graphRepo.UpsertMention(ctx, best[id]); err != nil {
			return nil, fmt.Errorf("upsert mention of entity %d: %w", id, err)
		}
		result.Mentions++
	}

	endpointType := func(name, declared string) string {
		if declared != "" {
			return declared
		}
		if t, ok := typeByName[graphdomain.NormalizeName("", name)]; ok {
			return t
		}
		return entityTypeUnknown
	}

	for _, rel := range relations {
		src, err := entityRepo.Resolve(ctx, rel.Source, endpointType(rel.Source, rel.SourceType))
		if err != nil {
			if errors.Is(err, apperrors.ErrValidation) {
				result.Skipped = append(result.Skipped, rel.Source)
				continue
			}
			return nil, fmt.Errorf("resolve %q: %w", rel.Source, err)
		}
		dst, err := entityRepo.Resolve(ctx, rel.Target, endpointType(rel.Target, rel.TargetType))
		if err != nil {
			if errors.Is(err, apperrors.ErrValidation) {
				result.Skipped = append(result.Skipped, rel.Target)
				continue
			}
			return nil, fmt.Errorf("resolve %q: %w", rel.Target, err)
		}
		if src.ID == dst.ID {
			continue
		}

		edge := &graphdomain.Edge{
			SrcEntityID: src.ID,
			DstEntityID: dst.ID,
			EdgeType:    graphdomain.NormalizeType(rel.Type),
			EmailID:     emailID,
			CreatedAt:   now,
		}
		if err := graphRepo.InsertEdge(ctx, edge); err != nil {
			return nil, fmt.Errorf("insert edge %s: %w", edge.EdgeType, err)
		}
		result.Edges++
	}

	if len(result.Skipped) > 0 {
		b.logger.Warn("skipped unresolvable names",
			zap.Uint("email_id", emailID),
			zap.Strings("names", result.Skipped))
	}
	return result, nil
}
