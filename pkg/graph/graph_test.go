package graph_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram-go/pkg/graph"
)

// fakeStore is an in-memory graph.Store.
type fakeStore struct {
	mu    sync.Mutex
	nodes map[string]*graph.Node
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: make(map[string]*graph.Node)}
}

func (s *fakeStore) GetNode(_ context.Context, key string) (*graph.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[key]
	if !ok {
		return nil, graph.ErrNotFound
	}
	return node, nil
}

func (s *fakeStore) UpsertNode(_ context.Context, node *graph.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.Key] = node
	return nil
}

func (s *fakeStore) AllNodes(_ context.Context) ([]*graph.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]*graph.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "new_york", graph.Normalize("  New   York "))
	assert.Equal(t, "coffee", graph.Normalize("Coffee"))
	assert.Equal(t, "", graph.Normalize("   "))
}

func TestAddConceptIdempotentKey(t *testing.T) {
	g := graph.New(newFakeStore(), nil)
	ctx := context.Background()

	first, err := g.AddConcept(ctx, "Machine Learning", "learning from data")
	require.NoError(t, err)
	assert.Equal(t, "machine_learning", first.Key)
	assert.Equal(t, 0.5, first.Confidence)

	second, err := g.AddConcept(ctx, "machine learning", "statistical learning from data")
	require.NoError(t, err)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, "statistical learning from data", second.Description)
	assert.False(t, second.LastVerified.Before(first.LastVerified))
}

func TestAddConceptRecordsSources(t *testing.T) {
	g := graph.New(newFakeStore(), nil)
	ctx := context.Background()

	first, err := g.AddConcept(ctx, "kubernetes", "container orchestration")
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, first.Sources)

	// Later mentions accumulate new sources without duplicates.
	second, err := g.AddConcept(ctx, "kubernetes", "", "doc:runbook", "user")
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "doc:runbook"}, second.Sources)
}

func TestLinkConceptsCreatesEndpoints(t *testing.T) {
	g := graph.New(newFakeStore(), nil)
	ctx := context.Background()

	err := g.LinkConcepts(ctx, "Dog", "Animal", graph.RelationIsA, 0.9, false)
	require.NoError(t, err)

	dog, err := g.Get(ctx, "dog")
	require.NoError(t, err)
	require.Len(t, dog.Relations, 1)
	assert.Equal(t, graph.RelationIsA, dog.Relations[0].Type)
	assert.Equal(t, "animal", dog.Relations[0].Target)

	// One-way link: animal carries no mirror edge.
	animal, err := g.Get(ctx, "animal")
	require.NoError(t, err)
	assert.Empty(t, animal.Relations)
}

func TestLinkConceptsBidirectional(t *testing.T) {
	g := graph.New(newFakeStore(), nil)
	ctx := context.Background()

	err := g.LinkConcepts(ctx, "tea", "coffee", graph.RelationRelatedTo, 0.5, true)
	require.NoError(t, err)

	coffee, err := g.Get(ctx, "coffee")
	require.NoError(t, err)
	require.Len(t, coffee.Relations, 1)
	assert.Equal(t, "tea", coffee.Relations[0].Target)
	assert.True(t, coffee.Relations[0].Bidirectional)
}

func TestLinkConceptsRejectsUnknownType(t *testing.T) {
	g := graph.New(newFakeStore(), nil)
	err := g.LinkConcepts(context.Background(), "a", "b", graph.RelationType("KNOWS"), 1, false)
	assert.Error(t, err)
}

func TestFindRelatedDepthAndCycles(t *testing.T) {
	g := graph.New(newFakeStore(), nil)
	ctx := context.Background()

	// a -> b -> c -> a forms a cycle.
	require.NoError(t, g.LinkConcepts(ctx, "a1", "b1", graph.RelationRelatedTo, 1, false))
	require.NoError(t, g.LinkConcepts(ctx, "b1", "c1", graph.RelationRelatedTo, 1, false))
	require.NoError(t, g.LinkConcepts(ctx, "c1", "a1", graph.RelationRelatedTo, 1, false))

	related, err := g.FindRelated(ctx, "a1", 1)
	require.NoError(t, err)
	assert.Len(t, related, 1)

	related, err = g.FindRelated(ctx, "a1", 5)
	require.NoError(t, err)
	// Terminates despite the cycle and never returns the start node.
	assert.Len(t, related, 2)

	_, err = g.FindRelated(ctx, "missing", 2)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestInfer(t *testing.T) {
	g := graph.New(newFakeStore(), nil)
	ctx := context.Background()

	require.NoError(t, g.LinkConcepts(ctx, "Socrates", "human", graph.RelationIsA, 1, false))
	require.NoError(t, g.LinkConcepts(ctx, "human", "mortal", graph.RelationImplies, 1, false))

	statements, err := g.Infer(ctx, "Is Socrates mortal?")
	require.NoError(t, err)
	assert.Contains(t, statements, "Socrates is a human")
	assert.Contains(t, statements, "human implies mortal")
}

func TestVerifyFact(t *testing.T) {
	g := graph.New(newFakeStore(), nil)
	ctx := context.Background()

	_, err := g.AddConcept(ctx, "gravity", "attraction between masses")
	require.NoError(t, err)

	v, err := g.VerifyFact(ctx, "gravity pulls things down")
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.InDelta(t, 0.5, v.Confidence, 0.001)
	assert.Equal(t, []string{"gravity"}, v.Sources)

	// Nothing matched: zero-valued verification, no error.
	v, err = g.VerifyFact(ctx, "completely unrelated text")
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.Zero(t, v.Confidence)
}

func TestScanContradictionsPenalizesPairOnce(t *testing.T) {
	g := graph.New(newFakeStore(), nil)
	ctx := context.Background()

	require.NoError(t, g.LinkConcepts(ctx, "flat_earth", "round_earth", graph.RelationContradicts, 1, true))

	count, err := g.ScanContradictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	node, err := g.Get(ctx, "flat_earth")
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.8, node.Confidence, 0.001)

	other, err := g.Get(ctx, "round_earth")
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.8, other.Confidence, 0.001)
}

func TestReloadRebuildsFromStore(t *testing.T) {
	store := newFakeStore()
	g := graph.New(store, nil)
	ctx := context.Background()

	_, err := g.AddConcept(ctx, "persistence", "")
	require.NoError(t, err)

	// A second graph over the same store sees the concept.
	g2 := graph.New(store, nil)
	node, err := g2.Get(ctx, "persistence")
	require.NoError(t, err)
	assert.Equal(t, "persistence", node.Key)
}
