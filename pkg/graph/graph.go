package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram-go/pkg/analysis"
)

// ErrNotFound indicates a concept lookup missed. Callers treat it as a
// soft miss, not a failure.
var ErrNotFound = errors.New("concept not found")

// Store is the durable node table the graph is built on.
//
// Implementations enforce uniqueness by normalized key.
type Store interface {
	// GetNode returns the node with the given normalized key, or
	// ErrNotFound (possibly wrapped).
	GetNode(ctx context.Context, key string) (*Node, error)

	// UpsertNode inserts or fully replaces a node by its key.
	UpsertNode(ctx context.Context, node *Node) error

	// AllNodes returns every stored node.
	AllNodes(ctx context.Context) ([]*Node, error)
}

// Discovery and verification thresholds.
const (
	// discoveryThreshold is the keyword-overlap similarity above which
	// two concepts are automatically linked RELATED_TO.
	discoveryThreshold = 0.7

	// verifyThreshold is the average node confidence above which a
	// statement counts as verified.
	verifyThreshold = 0.6

	// contradictionPenalty multiplies both endpoints of a CONTRADICTS
	// edge during a maintenance scan.
	contradictionPenalty = 0.8

	// initialConfidence is assigned to concepts on first mention.
	initialConfidence = 0.5

	// inferenceLimit caps the statements returned by Infer.
	inferenceLimit = 10

	// inferenceDepth is the traversal depth used when gathering
	// concepts for inference.
	inferenceDepth = 2
)

// Graph is the knowledge graph with a read-through cache over the store.
//
// All mutations write the store first; the cache only ever holds what the
// store confirmed. Reload drops and rebuilds the cache.
type Graph struct {
	store  Store
	logger *zap.Logger

	mu     sync.RWMutex
	cache  map[string]*Node
	loaded bool
}

// New creates a knowledge graph over the given store. A nil logger is
// replaced with a no-op logger.
func New(store Store, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		store:  store,
		logger: logger,
		cache:  make(map[string]*Node),
	}
}

// Verification is the result of VerifyFact.
type Verification struct {
	// Verified is true when the average confidence of matched concepts
	// exceeds the verification threshold.
	Verified bool

	// Confidence is the average confidence of matched concepts, 0 when
	// nothing matched.
	Confidence float64

	// Sources lists the matched concept keys.
	Sources []string
}

// AddConcept inserts or refreshes a concept and returns its node.
//
// The concept is keyed by its normalized name, so calling AddConcept twice
// with the same name yields the same node. An existing node has its
// description and LastVerified refreshed; a new node gets the initial
// confidence and triggers relationship discovery against all existing
// nodes. Sources name where the knowledge came from (a user, a memory
// ID, a document) and accumulate across mentions without duplicates;
// when none are given the mention is attributed to "user".
//
// Discovery compares keyword sets of every node pair touched, which is
// O(n) per insertion. For large graphs run it from the background sweeper
// rather than inline with interactive requests.
func (g *Graph) AddConcept(ctx context.Context, name, description string, sources ...string) (*Node, error) {
	key := Normalize(name)
	if key == "" {
		return nil, fmt.Errorf("add concept: %w", errEmptyName)
	}
	if len(sources) == 0 {
		sources = []string{"user"}
	}
	if err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if existing, ok := g.cache[key]; ok {
		updated := cloneNode(existing)
		if description != "" {
			updated.Description = description
		}
		updated.addSources(sources...)
		updated.LastVerified = now
		if err := g.store.UpsertNode(ctx, updated); err != nil {
			return nil, err
		}
		g.cache[key] = updated
		return cloneNode(updated), nil
	}

	node := &Node{
		Key:          key,
		Name:         name,
		Description:  description,
		Confidence:   initialConfidence,
		CreatedAt:    now,
		LastVerified: now,
	}
	node.addSources(sources...)
	if err := g.store.UpsertNode(ctx, node); err != nil {
		return nil, err
	}
	g.cache[key] = node

	if err := g.discoverRelationsLocked(ctx, node); err != nil {
		// Discovery failure leaves the node in place; links can be
		// recovered by the next maintenance scan.
		g.logger.Warn("relationship discovery failed",
			zap.String("concept", key), zap.Error(err))
	}

	return cloneNode(node), nil
}

var errEmptyName = errors.New("empty concept name")

// LinkConcepts records a typed directed edge from a to b, creating either
// concept on first mention. When bidirectional is set the edge is
// mirrored on b.
func (g *Graph) LinkConcepts(ctx context.Context, a, b string, relType RelationType, strength float64, bidirectional bool) error {
	if !relType.Valid() {
		return fmt.Errorf("link concepts: unknown relation type %q", relType)
	}
	keyA, keyB := Normalize(a), Normalize(b)
	if keyA == "" || keyB == "" {
		return fmt.Errorf("link concepts: %w", errEmptyName)
	}
	if err := g.ensureLoaded(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	nodeA, err := g.getOrCreateLocked(ctx, keyA, a)
	if err != nil {
		return err
	}
	nodeB, err := g.getOrCreateLocked(ctx, keyB, b)
	if err != nil {
		return err
	}

	if strength < 0 {
		strength = 0
	} else if strength > 1 {
		strength = 1
	}

	updatedA := cloneNode(nodeA)
	updatedA.setRelation(Relation{Type: relType, Target: keyB, Strength: strength, Bidirectional: bidirectional})
	if err := g.store.UpsertNode(ctx, updatedA); err != nil {
		return err
	}
	g.cache[keyA] = updatedA

	if bidirectional {
		updatedB := cloneNode(nodeB)
		updatedB.setRelation(Relation{Type: relType, Target: keyA, Strength: strength, Bidirectional: true})
		if err := g.store.UpsertNode(ctx, updatedB); err != nil {
			return err
		}
		g.cache[keyB] = updatedB
	}

	return nil
}

// getOrCreateLocked returns the cached node for key, creating and
// persisting a fresh one on first mention. Caller holds the write lock.
func (g *Graph) getOrCreateLocked(ctx context.Context, key, name string) (*Node, error) {
	if node, ok := g.cache[key]; ok {
		return node, nil
	}
	now := time.Now()
	node := &Node{
		Key:          key,
		Name:         name,
		Confidence:   initialConfidence,
		CreatedAt:    now,
		LastVerified: now,
	}
	if err := g.store.UpsertNode(ctx, node); err != nil {
		return nil, err
	}
	g.cache[key] = node
	return node, nil
}

// Get returns the node for the given concept name, or ErrNotFound.
func (g *Graph) Get(ctx context.Context, name string) (*Node, error) {
	if err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.cache[Normalize(name)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneNode(node), nil
}

// FindRelated traverses outward from the given concept up to maxDepth
// hops and returns the reachable nodes sorted by confidence descending.
//
// The traversal carries a visited set, so cyclic graphs terminate and
// every node appears at most once. Edges pointing at concepts that no
// longer exist are skipped silently.
func (g *Graph) FindRelated(ctx context.Context, concept string, maxDepth int) ([]*Node, error) {
	if maxDepth <= 0 {
		maxDepth = inferenceDepth
	}
	if err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	start := Normalize(concept)
	if _, ok := g.cache[start]; !ok {
		return nil, ErrNotFound
	}

	visited := map[string]struct{}{start: {}}
	frontier := []string{start}
	var related []*Node

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, key := range frontier {
			node := g.cache[key]
			if node == nil {
				continue
			}
			for _, rel := range node.Relations {
				if _, seen := visited[rel.Target]; seen {
					continue
				}
				visited[rel.Target] = struct{}{}
				target, ok := g.cache[rel.Target]
				if !ok {
					// Stale pointer to a removed concept.
					continue
				}
				related = append(related, cloneNode(target))
				next = append(next, rel.Target)
			}
		}
		frontier = next
	}

	sort.SliceStable(related, func(i, j int) bool {
		return related[i].Confidence > related[j].Confidence
	})
	return related, nil
}

// Infer projects the relationships of concepts mentioned in the premise
// into natural-language statements, deduplicated and capped.
//
// Each entity and keyword of the premise is looked up; for every match the
// concepts reachable within two hops contribute their outgoing edges as
// statements keyed by relationship type.
func (g *Graph) Infer(ctx context.Context, premise string) ([]string, error) {
	if err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var statements []string
	seen := make(map[string]struct{})

	for _, key := range g.matchedKeysLocked(premise) {
		for _, node := range g.reachableLocked(key, inferenceDepth) {
			for _, rel := range node.Relations {
				target, ok := g.cache[rel.Target]
				if !ok {
					continue
				}
				statement := fmt.Sprintf("%s %s %s", node.Name, rel.Type.phrase(), target.Name)
				if _, dup := seen[statement]; dup {
					continue
				}
				seen[statement] = struct{}{}
				statements = append(statements, statement)
				if len(statements) >= inferenceLimit {
					return statements, nil
				}
			}
		}
	}
	return statements, nil
}

// VerifyFact checks a statement against the graph: concepts mentioned in
// the statement are matched by key, and the statement counts as verified
// when their average confidence exceeds the threshold.
func (g *Graph) VerifyFact(ctx context.Context, statement string) (*Verification, error) {
	if err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := g.matchedKeysLocked(statement)
	if len(keys) == 0 {
		return &Verification{}, nil
	}

	var sum float64
	sources := make([]string, 0, len(keys))
	for _, key := range keys {
		sum += g.cache[key].Confidence
		sources = append(sources, key)
	}
	avg := sum / float64(len(keys))

	return &Verification{
		Verified:   avg > verifyThreshold,
		Confidence: avg,
		Sources:    sources,
	}, nil
}

// ScanContradictions walks every CONTRADICTS edge and multiplies the
// confidence of both endpoints by the contradiction penalty. Each
// undirected pair is penalized once per scan. Intended to run from the
// background sweeper.
func (g *Graph) ScanContradictions(ctx context.Context) (int, error) {
	if err := g.ensureLoaded(ctx); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	type pair struct{ a, b string }
	penalized := make(map[pair]struct{})
	var count int

	for key, node := range g.cache {
		for _, rel := range node.Relations {
			if rel.Type != RelationContradicts {
				continue
			}
			target, ok := g.cache[rel.Target]
			if !ok {
				continue
			}
			p := pair{a: key, b: rel.Target}
			if p.a > p.b {
				p.a, p.b = p.b, p.a
			}
			if _, done := penalized[p]; done {
				continue
			}
			penalized[p] = struct{}{}

			updatedA := cloneNode(node)
			updatedA.Confidence *= contradictionPenalty
			updatedB := cloneNode(target)
			updatedB.Confidence *= contradictionPenalty
			if err := g.store.UpsertNode(ctx, updatedA); err != nil {
				return count, err
			}
			if err := g.store.UpsertNode(ctx, updatedB); err != nil {
				return count, err
			}
			g.cache[updatedA.Key] = updatedA
			g.cache[updatedB.Key] = updatedB
			node = updatedA
			count++
		}
	}

	if count > 0 {
		g.logger.Info("contradiction scan penalized concept pairs", zap.Int("pairs", count))
	}
	return count, nil
}

// DiscoverRelations runs relationship discovery for every node. O(n^2);
// intended for the background sweeper.
func (g *Graph) DiscoverRelations(ctx context.Context) error {
	if err := g.ensureLoaded(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, node := range g.cache {
		if err := g.discoverRelationsLocked(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// Reload drops the cache and reloads every node from the store.
func (g *Graph) Reload(ctx context.Context) error {
	nodes, err := g.store.AllNodes(ctx)
	if err != nil {
		return err
	}
	cache := make(map[string]*Node, len(nodes))
	for _, node := range nodes {
		cache[node.Key] = node
	}
	g.mu.Lock()
	g.cache = cache
	g.loaded = true
	g.mu.Unlock()
	return nil
}

func (g *Graph) ensureLoaded(ctx context.Context) error {
	g.mu.RLock()
	loaded := g.loaded
	g.mu.RUnlock()
	if loaded {
		return nil
	}
	return g.Reload(ctx)
}

// discoverRelationsLocked links node to every existing concept whose
// keyword set overlaps above the discovery threshold.
func (g *Graph) discoverRelationsLocked(ctx context.Context, node *Node) error {
	nodeKeywords := conceptKeywords(node)
	for key, other := range g.cache {
		if key == node.Key {
			continue
		}
		similarity := analysis.Jaccard(nodeKeywords, conceptKeywords(other))
		if similarity <= discoveryThreshold {
			continue
		}
		if node.hasRelation(RelationRelatedTo, key) {
			continue
		}

		updated := cloneNode(node)
		updated.setRelation(Relation{Type: RelationRelatedTo, Target: key, Strength: similarity, Bidirectional: true})
		if err := g.store.UpsertNode(ctx, updated); err != nil {
			return err
		}
		g.cache[node.Key] = updated
		node = updated

		updatedOther := cloneNode(other)
		updatedOther.setRelation(Relation{Type: RelationRelatedTo, Target: node.Key, Strength: similarity, Bidirectional: true})
		if err := g.store.UpsertNode(ctx, updatedOther); err != nil {
			return err
		}
		g.cache[key] = updatedOther
	}
	return nil
}

// matchedKeysLocked returns the keys of concepts mentioned in the text,
// matching entities first and falling back to keywords.
func (g *Graph) matchedKeysLocked(text string) []string {
	var keys []string
	seen := make(map[string]struct{})
	add := func(candidate string) {
		key := Normalize(candidate)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		if _, ok := g.cache[key]; ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	for _, entity := range analysis.Entities(text) {
		add(entity)
	}
	for _, keyword := range analysis.Keywords(text) {
		add(keyword)
	}
	return keys
}

// reachableLocked returns the start node plus every node within maxDepth
// hops, each at most once.
func (g *Graph) reachableLocked(start string, maxDepth int) []*Node {
	startNode, ok := g.cache[start]
	if !ok {
		return nil
	}
	visited := map[string]struct{}{start: {}}
	nodes := []*Node{startNode}
	frontier := []string{start}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, key := range frontier {
			for _, rel := range g.cache[key].Relations {
				if _, seen := visited[rel.Target]; seen {
					continue
				}
				visited[rel.Target] = struct{}{}
				target, ok := g.cache[rel.Target]
				if !ok {
					continue
				}
				nodes = append(nodes, target)
				next = append(next, rel.Target)
			}
		}
		frontier = next
	}
	return nodes
}

func conceptKeywords(node *Node) []string {
	text := node.Name + " " + node.Description
	return analysis.Keywords(text)
}

func cloneNode(n *Node) *Node {
	clone := *n
	clone.Relations = append([]Relation(nil), n.Relations...)
	clone.Sources = append([]string(nil), n.Sources...)
	return &clone
}
