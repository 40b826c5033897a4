package repository

import (
	"context"
	"fmt"
	"strings"

	graphdomain "noodle-backend/internal/graph/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// Caps of the visualization query.
	MaxGraphNodes = 100
	MaxGraphLinks = 200

	MaxNeighborDepth = 3
)

// Node is an entity as drawn in the graph view.
type Node struct {
	ID         uint   `json:"id"`
	EntityType string `json:"type"`
	Name       string `json:"name"`
	Mentions   int64  `json:"mentions"`
	Depth      int    `json:"depth,omitempty"`
}

// Link aggregates the edges of one type between two entities.
type Link struct {
	Source   uint   `json:"source"`
	Target   uint   `json:"target"`
	EdgeType string `json:"type"`
	Weight   int64  `json:"weight"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

type GraphQuery struct {
	EntityType string
	Query      string
	EmailID    uint
	Limit      int
}

// MentionView is a mention joined with its entity.
type MentionView struct {
	EntityID   uint    `json:"entity_id"`
	EntityType string  `json:"entity_type"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	Confidence float64 `json:"confidence"`
}

// GraphRepository stores mentions and edges and answers graph queries.
type GraphRepository interface {
	// DeleteForEmail removes every mention and edge attributed to the email.
	DeleteForEmail(ctx context.Context, emailID uint) error
	// UpsertMention inserts the mention or updates role and confidence of the
	// existing (email, entity) row.
	UpsertMention(ctx context.Context, m *graphdomain.EntityMention) error
	InsertEdge(ctx context.Context, e *graphdomain.Edge) error
	MentionsForEmail(ctx context.Context, emailID uint) ([]MentionView, error)
	EdgesForEmail(ctx context.Context, emailID uint) ([]graphdomain.Edge, error)
	EmailIDsForEntity(ctx context.Context, entityID uint, limit int) ([]uint, error)
	Graph(ctx context.Context, q GraphQuery) (*Graph, error)
	Neighbors(ctx context.Context, entityID uint, depth int) ([]Node, error)
	// Repoint moves mentions and edges from one entity to another and returns
	// the emails whose graph state changed.
	Repoint(ctx context.Context, fromID, toID uint) ([]uint, error)
	EntitiesAfter(ctx context.Context, afterID uint, limit int) ([]graphdomain.Entity, error)
	EdgesAfter(ctx context.Context, afterID uint, limit int) ([]graphdomain.Edge, error)
	WithTx(tx *gorm.DB) GraphRepository
}

type graphRepository struct {
	db *gorm.DB
}

func NewGraphRepository(db *gorm.DB) GraphRepository {
	return &graphRepository{db: db}
}

func (r *graphRepository) WithTx(tx *gorm.DB) GraphRepository {
	return &graphRepository{db: tx}
}

func (r *graphRepository) DeleteForEmail(ctx context.Context, emailID uint) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("email_id = ?", emailID).Delete(&graphdomain.Edge{}).Error; err != nil {
		return fmt.Errorf("delete edges of email %d: %w", emailID, err)
	}
	if err := db.Where("email_id = ?", emailID).Delete(&graphdomain.EntityMention{}).Error; err != nil {
		return fmt.Errorf("delete mentions of email %d: %w", emailID, err)
	}
	return nil
}

func (r *graphRepository) UpsertMention(ctx context.Context, m *graphdomain.EntityMention) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email_id"}, {Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "confidence"}),
	}).Create(m).Error
}

func (r *graphRepository) InsertEdge(ctx context.Context, e *graphdomain.Edge) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *graphRepository) MentionsForEmail(ctx context.Context, emailID uint) ([]MentionView, error) {
	var views []MentionView
	err := r.db.WithContext(ctx).
		Table("entity_mentions m").
		Select("m.entity_id, en.entity_type, en.canonical_name AS name, m.role, m.confidence").
		Joins("JOIN entities en ON en.id = m.entity_id").
		Where("m.email_id = ?", emailID).
		Order("m.confidence DESC, en.canonical_name").
		Scan(&views).Error
	return views, err
}

func (r *graphRepository) EdgesForEmail(ctx context.Context, emailID uint) ([]graphdomain.Edge, error) {
	var edges []graphdomain.Edge
	err := r.db.WithContext(ctx).Where("email_id = ?", emailID).Order("id").Find(&edges).Error
	return edges, err
}

func (r *graphRepository) EmailIDsForEntity(ctx context.Context, entityID uint, limit int) ([]uint, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uint
	err := r.db.WithContext(ctx).Model(&graphdomain.EntityMention{}).
		Where("entity_id = ?", entityID).
		Order("email_id DESC").
		Limit(limit).
		Pluck("email_id", &ids).Error
	return ids, err
}

func (r *graphRepository) Graph(ctx context.Context, q GraphQuery) (*Graph, error) {
	limit := q.Limit
	if limit <= 0 || limit > MaxGraphNodes {
		limit = MaxGraphNodes
	}

	nodesQ := r.db.WithContext(ctx).
		Table("entities en").
		Select("en.id, en.entity_type, en.canonical_name AS name, COUNT(m.id) AS mentions").
		Joins("LEFT JOIN entity_mentions m ON m.entity_id = en.id")
	if q.EntityType != "" {
		nodesQ = nodesQ.Where("en.entity_type = ?", graphdomain.NormalizeType(q.EntityType))
	}
	if s := strings.TrimSpace(q.Query); s != "" {
		nodesQ = nodesQ.Where("LOWER(en.canonical_name) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	if q.EmailID != 0 {
		nodesQ = nodesQ.Where("en.id IN (?)",
			r.db.Table("entity_mentions").Select("entity_id").Where("email_id = ?", q.EmailID))
	}

	var nodes []Node
	err := nodesQ.
		Group("en.id, en.entity_type, en.canonical_name").
		Order("mentions DESC, en.id").
		Limit(limit).
		Scan(&nodes).Error
	if err != nil {
		return nil, fmt.Errorf("graph nodes: %w", err)
	}

	g := &Graph{Nodes: nodes, Links: []Link{}}
	if len(nodes) == 0 {
		g.Nodes = []Node{}
		return g, nil
	}

	ids := make([]uint, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	linksQ := r.db.WithContext(ctx).
		Table("edges").
		Select("src_entity_id AS source, dst_entity_id AS target, edge_type, COUNT(*) AS weight").
		Where("src_entity_id IN ? AND dst_entity_id IN ?", ids, ids)
	if q.EmailID != 0 {
		linksQ = linksQ.Where("email_id = ?", q.EmailID)
	}
	err = linksQ.
		Group("src_entity_id, dst_entity_id, edge_type").
		Order("weight DESC, source, target").
		Limit(MaxGraphLinks).
		Scan(&g.Links).Error
	if err != nil {
		return nil, fmt.Errorf("graph links: %w", err)
	}
	return g, nil
}

func (r *graphRepository) Neighbors(ctx context.Context, entityID uint, depth int) ([]Node, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > MaxNeighborDepth {
		depth = MaxNeighborDepth
	}

	var nodes []Node
	err := r.db.WithContext(ctx).Raw(`
		WITH RECURSIVE walk(entity_id, depth) AS (
			SELECT CAST(? AS BIGINT), 0
			UNION
			SELECT CASE WHEN e.src_entity_id = w.entity_id THEN e.dst_entity_id ELSE e.src_entity_id END,
			       w.depth + 1
			FROM edges e
			JOIN walk w ON e.src_entity_id = w.entity_id OR e.dst_entity_id = w.entity_id
			WHERE w.depth < ?
		)
		SELECT en.id, en.entity_type, en.canonical_name AS name, MIN(w.depth) AS depth,
		       (SELECT COUNT(*) FROM entity_mentions m WHERE m.entity_id = en.id) AS mentions
		FROM walk w
		JOIN entities en ON en.id = w.entity_id
		WHERE w.entity_id <> ?
		GROUP BY en.id, en.entity_type, en.canonical_name
		ORDER BY depth, name
		LIMIT ?`, entityID, depth, entityID, MaxGraphNodes).Scan(&nodes).Error
	if err != nil {
		return nil, fmt.Errorf("neighbors of entity %d: %w", entityID, err)
	}
	return nodes, nil
}

func (r *graphRepository) Repoint(ctx context.Context, fromID, toID uint) ([]uint, error) {
	db := r.db.WithContext(ctx)

	var moving []graphdomain.EntityMention
	if err := db.Where("entity_id = ?", fromID).Find(&moving).Error; err != nil {
		return nil, err
	}

	affected := map[uint]struct{}{}
	for _, m := range moving {
		affected[m.EmailID] = struct{}{}

		var existing graphdomain.EntityMention
		res := db.Where("email_id = ? AND entity_id = ?", m.EmailID, toID).Limit(1).Find(&existing)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			if err := db.Model(&graphdomain.EntityMention{}).Where("id = ?", m.ID).Update("entity_id", toID).Error; err != nil {
				return nil, err
			}
			continue
		}
		if m.Confidence > existing.Confidence {
			if err := db.Model(&existing).Updates(map[string]interface{}{"confidence": m.Confidence, "role": m.Role}).Error; err != nil {
				return nil, err
			}
		}
		if err := db.Delete(&graphdomain.EntityMention{}, m.ID).Error; err != nil {
			return nil, err
		}
	}

	var edgeEmails []uint
	err := db.Model(&graphdomain.Edge{}).
		Where("src_entity_id = ? OR dst_entity_id = ?", fromID, fromID).
		Distinct().
		Pluck("email_id", &edgeEmails).Error
	if err != nil {
		return nil, err
	}
	for _, id := range edgeEmails {
		affected[id] = struct{}{}
	}
	if err := db.Model(&graphdomain.Edge{}).Where("src_entity_id = ?", fromID).Update("src_entity_id", toID).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&graphdomain.Edge{}).Where("dst_entity_id = ?", fromID).Update("dst_entity_id", toID).Error; err != nil {
		return nil, err
	}
	// A relation between the two merged entities would become a self-loop.
	if err := db.Where("src_entity_id = ? AND dst_entity_id = ?", toID, toID).Delete(&graphdomain.Edge{}).Error; err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *graphRepository) EntitiesAfter(ctx context.Context, afterID uint, limit int) ([]graphdomain.Entity, error) {
	var entities []graphdomain.Entity
	err := r.db.WithContext(ctx).Where("id > ?", afterID).Order("id").Limit(limit).Find(&entities).Error
	return entities, err
}

func (r *graphRepository) EdgesAfter(ctx context.Context, afterID uint, limit int) ([]graphdomain.Edge, error) {
	var edges []graphdomain.Edge
	err := r.db.WithContext(ctx).Where("id > ?", afterID).Order("id").Limit(limit).Find(&edges).Error
	return edges, err
}
