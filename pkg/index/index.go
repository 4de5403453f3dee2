// Package index maintains the in-process vector index used for
// semantic retrieval.
//
// The index is a rebuildable projection of the record store, not a
// source of truth: records that could not be embedded (degraded writes)
// are simply absent and resurface after a rebuild. Embeddings are
// cached by content hash so re-indexing unchanged content never calls
// the embedding provider.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/engramlabs/engram-go/pkg/embedder"
	"github.com/engramlabs/engram-go/pkg/memory"
)

const collectionName = "memories"

// Match is one nearest-neighbor hit.
type Match struct {
	// ID is the matched record's ID.
	ID int64

	// Similarity is the cosine similarity to the query, in [0,1] for
	// normalized embeddings.
	Similarity float64
}

// Index is the vector index over memory records.
type Index struct {
	provider embedder.Provider
	logger   *zap.Logger

	mu   sync.Mutex
	db   *chromem.DB
	coll *chromem.Collection

	// embedCache maps content hash to embedding so unchanged content is
	// never re-embedded. Bounded by eviction-on-rebuild.
	embedCache map[string][]float64
}

// New creates an empty in-memory index backed by the given embedding
// provider.
func New(provider embedder.Provider, logger *zap.Logger) (*Index, error) {
	if provider == nil {
		return nil, errors.New("index: embedding provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db := chromem.NewDB()
	coll, err := db.GetOrCreateCollection(collectionName, nil, embeddingFunc(provider))
	if err != nil {
		return nil, err
	}
	return &Index{
		provider:   provider,
		logger:     logger,
		db:         db,
		coll:       coll,
		embedCache: make(map[string][]float64),
	}, nil
}

// embeddingFunc adapts the provider to chromem's embedding callback.
func embeddingFunc(provider embedder.Provider) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return toFloat32(vec), nil
	}
}

// Embed returns the embedding for the given text, served from the
// content-hash cache when possible.
func (ix *Index) Embed(ctx context.Context, text string) ([]float64, error) {
	key := contentHash(text)

	ix.mu.Lock()
	cached, ok := ix.embedCache[key]
	ix.mu.Unlock()
	if ok {
		return cached, nil
	}

	vec, err := ix.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	ix.mu.Lock()
	ix.embedCache[key] = vec
	ix.mu.Unlock()
	return vec, nil
}

// Upsert adds or replaces the record in the index. When the record has
// no embedding yet, one is generated and written back to rec.Embedding.
func (ix *Index) Upsert(ctx context.Context, rec *memory.Record) error {
	if rec.Embedding == nil {
		vec, err := ix.Embed(ctx, rec.Content)
		if err != nil {
			return err
		}
		rec.Embedding = vec
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.coll.AddDocuments(ctx, []chromem.Document{{
		ID:        formatID(rec.ID),
		Content:   rec.Content,
		Embedding: toFloat32(rec.Embedding),
	}}, 1)
}

// Remove deletes the record from the index. Removing an absent record
// is a no-op.
func (ix *Index) Remove(ctx context.Context, id int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.coll.Delete(ctx, nil, nil, formatID(id))
}

// Search returns up to topK records whose embeddings are most similar
// to the query embedding, filtered by the similarity threshold and
// ordered by similarity descending. Equal similarities break toward
// the newer record.
func (ix *Index) Search(ctx context.Context, queryEmbedding []float64, topK int, threshold float64) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	count := ix.coll.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := ix.coll.QueryEmbedding(ctx, toFloat32(queryEmbedding), topK, nil, nil)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(results))
	for _, res := range results {
		sim := float64(res.Similarity)
		if sim < threshold {
			continue
		}
		id, err := parseID(res.ID)
		if err != nil {
			ix.logger.Warn("skipping index entry with malformed id",
				zap.String("id", res.ID))
			continue
		}
		matches = append(matches, Match{ID: id, Similarity: sim})
	}

	// Record IDs are snowflakes, so a higher ID is a newer record.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID > matches[j].ID
	})
	return matches, nil
}

// Count returns the number of indexed records.
func (ix *Index) Count() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.coll.Count()
}

// Rebuild replaces the index contents with the given records. Records
// without embeddings are embedded in one batch; when batch embedding
// fails the rebuild proceeds with only the already-embedded records.
func (ix *Index) Rebuild(ctx context.Context, records []*memory.Record) error {
	var missing []*memory.Record
	for _, rec := range records {
		if rec.Embedding == nil {
			missing = append(missing, rec)
		}
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, rec := range missing {
			texts[i] = rec.Content
		}
		vecs, err := ix.provider.EmbedBatch(ctx, texts)
		if err != nil {
			ix.logger.Warn("batch embedding failed during rebuild, indexing embedded records only",
				zap.Int("missing", len(missing)), zap.Error(err))
		} else {
			for i, rec := range missing {
				rec.Embedding = vecs[i]
			}
		}
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		if rec.Embedding == nil {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        formatID(rec.ID),
			Content:   rec.Content,
			Embedding: toFloat32(rec.Embedding),
		})
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.db.DeleteCollection(collectionName); err != nil {
		return err
	}
	coll, err := ix.db.GetOrCreateCollection(collectionName, nil, embeddingFunc(ix.provider))
	if err != nil {
		return err
	}
	ix.coll = coll
	ix.embedCache = make(map[string][]float64)

	if len(docs) == 0 {
		return nil
	}
	return ix.coll.AddDocuments(ctx, docs, 1)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
