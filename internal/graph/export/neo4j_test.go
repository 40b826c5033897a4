package export

import (
	"context"
	"testing"

	graphdomain "noodle-backend/internal/graph/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	entities []graphdomain.Entity
	edges    []graphdomain.Edge
}

func (f *fakeSource) EntitiesAfter(_ context.Context, afterID uint, limit int) ([]graphdomain.Entity, error) {
	var out []graphdomain.Entity
	for _, e := range f.entities {
		if e.ID > afterID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) EdgesAfter(_ context.Context, afterID uint, limit int) ([]graphdomain.Edge, error) {
	var out []graphdomain.Edge
	for _, e := range f.edges {
		if e.ID > afterID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingRunner struct {
	statements []string
	rows       int
}

func (r *recordingRunner) Write(_ context.Context, cypher string, params map[string]any) error {
	r.statements = append(r.statements, cypher)
	if rows, ok := params["rows"].([]map[string]any); ok {
		r.rows += len(rows)
	}
	return nil
}

func (r *recordingRunner) Close(context.Context) error { return nil }

func TestExporter_BatchesEntitiesThenEdges(t *testing.T) {
	src := &fakeSource{}
	for i := 1; i <= batchSize+3; i++ {
		src.entities = append(src.entities, graphdomain.Entity{ID: uint(i), NormalizedKey: "person|p", EntityType: "person"})
	}
	src.edges = []graphdomain.Edge{{ID: 1, SrcEntityID: 1, DstEntityID: 2, EdgeType: "works_with", EmailID: 9}}

	runner := &recordingRunner{}
	stats, err := NewExporter(src, runner, nil).Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, batchSize+3, stats.Entities)
	assert.Equal(t, 1, stats.Edges)
	// constraint, two entity batches, one edge batch
	require.Len(t, runner.statements, 4)
	assert.Equal(t, mergeEntities, runner.statements[1])
	assert.Equal(t, mergeEdges, runner.statements[3])
	assert.Equal(t, batchSize+4, runner.rows)
}
