package export

import (
	"context"
	"fmt"
	"time"

	graphdomain "noodle-backend/internal/graph/domain"
	"noodle-backend/pkg/config"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const batchSize = 500

// Source pages through the relational graph by id.
type Source interface {
	EntitiesAfter(ctx context.Context, afterID uint, limit int) ([]graphdomain.Entity, error)
	EdgesAfter(ctx context.Context, afterID uint, limit int) ([]graphdomain.Edge, error)
}

// Runner executes one parameterized write statement.
type Runner interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
	Close(ctx context.Context) error
}

// Stats reports what an export wrote.
type Stats struct {
	Entities int           `json:"entities"`
	Edges    int           `json:"edges"`
	Duration time.Duration `json:"duration"`
}

const mergeEntities = `
	UNWIND $rows AS row
	MERGE (e:Entity {key: row.key})
	SET e.id = row.id, e.name = row.name, e.type = row.type`

// Edges are merged on their relational id so a re-export stays idempotent
// while still keeping one relationship per piece of evidence.
const mergeEdges = `
	UNWIND $rows AS row
	MATCH (a:Entity {id: row.src}), (b:Entity {id: row.dst})
	MERGE (a)-[r:RELATES {edge_id: row.id}]->(b)
	SET r.type = row.type, r.email_id = row.email_id`

// Exporter mirrors the entity graph into Neo4j.
type Exporter struct {
	source Source
	runner Runner
	logger *zap.Logger
}

func NewExporter(source Source, runner Runner, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: source, runner: runner, logger: logger.Named("neo4j_export")}
}

// Export writes every entity then every edge, in id order and in batches.
func (e *Exporter) Export(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	if err := e.runner.Write(ctx, "CREATE CONSTRAINT entity_key IF NOT EXISTS FOR (e:Entity) REQUIRE e.key IS UNIQUE", nil); err != nil {
		return nil, fmt.Errorf("ensure constraint: %w", err)
	}

	var after uint
	for {
		entities, err := e.source.EntitiesAfter(ctx, after, batchSize)
		if err != nil {
			return nil, err
		}
		if len(entities) == 0 {
			break
		}
		rows := make([]map[string]any, len(entities))
		for i, en := range entities {
			rows[i] = map[string]any{
				"id":   int64(en.ID),
				"key":  en.NormalizedKey,
				"name": en.CanonicalName,
				"type": en.EntityType,
			}
		}
		if err := e.runner.Write(ctx, mergeEntities, map[string]any{"rows": rows}); err != nil {
			return nil, fmt.Errorf("write entities after %d: %w", after, err)
		}
		stats.Entities += len(entities)
		after = entities[len(entities)-1].ID
	}

	after = 0
	for {
		edges, err := e.source.EdgesAfter(ctx, after, batchSize)
		if err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			break
		}
		rows := make([]map[string]any, len(edges))
		for i, ed := range edges {
			rows[i] = map[string]any{
				"id":       int64(ed.ID),
				"src":      int64(ed.SrcEntityID),
				"dst":      int64(ed.DstEntityID),
				"type":     ed.EdgeType,
				"email_id": int64(ed.EmailID),
			}
		}
		if err := e.runner.Write(ctx, mergeEdges, map[string]any{"rows": rows}); err != nil {
			return nil, fmt.Errorf("write edges after %d: %w", after, err)
		}
		stats.Edges += len(edges)
		after = edges[len(edges)-1].ID
	}

	stats.Duration = time.Since(start)
	e.logger.Info("graph exported",
		zap.Int("entities", stats.Entities),
		zap.Int("edges", stats.Edges),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

type neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jRunner connects to the configured server and verifies connectivity.
func NewNeo4jRunner(ctx context.Context, cfg config.Neo4jConfig) (Runner, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("NEO4J_URI is not set")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	return &neo4jRunner{driver: driver, database: cfg.Database}, nil
}

func (r *neo4jRunner) Write(ctx context.Context, cypher string, params map[string]any) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: r.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}

func (r *neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
