package usecase

import (
	"context"
	"testing"

	emailrepo "noodle-backend/internal/email/repository"
	factsdomain "noodle-backend/internal/facts/domain"
	"noodle-backend/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGraphUsecase(f *fixture) (GraphUsecase, emailrepo.SearchIndex) {
	index := emailrepo.NewSearchIndex(f.db)
	return NewGraphUsecase(f.db, f.entities, f.graph, index, nil), index
}

func TestNeighbors_WalksBothDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uc, _ := newGraphUsecase(f)
	e1 := f.email(t, "e-1")

	f.apply(t, e1,
		[]factsdomain.ExtractedEntity{
			{Name: "Alice", Type: "person", Confidence: 0.9},
			{Name: "Bob", Type: "person", Confidence: 0.9},
			{Name: "Carol", Type: "person", Confidence: 0.9},
		},
		[]factsdomain.ExtractedRelation{
			{Source: "Alice", Target: "Bob", Type: "emails"},
			{Source: "Carol", Target: "Bob", Type: "emails"},
		},
	)
	alice, err := f.entities.GetByKey(ctx, "person|alice")
	require.NoError(t, err)

	one, err := uc.Neighbors(ctx, alice.ID, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "Bob", one[0].Name)

	two, err := uc.Neighbors(ctx, alice.ID, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "Carol", two[1].Name)
	assert.Equal(t, 2, two[1].Depth)

	_, err = uc.Neighbors(ctx, 9999, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSimilar_SuggestsWithoutMerging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uc, _ := newGraphUsecase(f)

	acme, err := f.entities.Resolve(ctx, "Acme", "organization")
	require.NoError(t, err)
	corp, err := f.entities.Resolve(ctx, "Acme Corp", "organization")
	require.NoError(t, err)
	_, err = f.entities.Resolve(ctx, "Globex", "organization")
	require.NoError(t, err)
	_, err = f.entities.Resolve(ctx, "Acme Corp", "project")
	require.NoError(t, err)

	similar, err := uc.Similar(ctx, acme.ID)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, corp.ID, similar[0].Entity.ID)

	still, err := f.entities.GetByID(ctx, acme.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestMerge_RepointsAndReindexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uc, index := newGraphUsecase(f)
	e1 := f.email(t, "e-1")
	e2 := f.email(t, "e-2")

	f.apply(t, e1, []factsdomain.ExtractedEntity{
		{Name: "Acme", Type: "organization", Role: "client", Confidence: 0.9},
		{Name: "Alice", Type: "person", Role: "sender", Confidence: 0.9},
	}, []factsdomain.ExtractedRelation{{Source: "Alice", Target: "Acme", Type: "works_for"}})
	f.apply(t, e2, []factsdomain.ExtractedEntity{
		{Name: "Acme Corp", Type: "organization", Role: "client", Confidence: 0.7},
		{Name: "Acme", Type: "organization", Role: "vendor", Confidence: 0.5},
	}, nil)
	for _, id := range []uint{e1, e2} {
		require.NoError(t, index.OnInsert(ctx, id))
	}

	acme, err := f.entities.GetByKey(ctx, "organization|acme")
	require.NoError(t, err)
	corp, err := f.entities.GetByKey(ctx, "organization|acme corp")
	require.NoError(t, err)

	into, err := uc.Merge(ctx, acme.ID, corp.ID)
	require.NoError(t, err)
	assert.Equal(t, corp.ID, into.ID)

	gone, err := f.entities.GetByID(ctx, acme.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	m1, err := f.graph.MentionsForEmail(ctx, e1)
	require.NoError(t, err)
	names := []string{}
	for _, m := range m1 {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{"Acme Corp", "Alice"}, names)

	m2, err := f.graph.MentionsForEmail(ctx, e2)
	require.NoError(t, err)
	require.Len(t, m2, 1)
	assert.InDelta(t, 0.7, m2[0].Confidence, 1e-9)

	edges, err := f.graph.EdgesForEmail(ctx, e1)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, corp.ID, edges[0].DstEntityID)

	hits, err := index.Search(ctx, "corp", 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	_, err = uc.Merge(ctx, corp.ID, corp.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
