// Package retrieval implements hybrid memory search: keyword, semantic,
// and entity candidate generators whose scores are merged additively,
// followed by hard filtering and context-aware ranking.
//
// Retrieval degrades instead of failing: when the embedding provider or
// the vector index is unavailable the semantic signal is skipped and the
// lexical signals still answer the query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram-go/pkg/analysis"
	"github.com/engramlabs/engram-go/pkg/index"
	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/scoring"
	"github.com/engramlabs/engram-go/pkg/storage"
)

const (
	// SemanticThreshold is the minimum vector similarity for a semantic
	// hit to count.
	SemanticThreshold = 0.5

	// semanticTopK bounds how many neighbors the index is asked for.
	semanticTopK = 20

	// DefaultMaxResults caps result sets when the query does not say.
	DefaultMaxResults = 10
)

// ErrEmptyQuery is returned for queries with no text.
var ErrEmptyQuery = errors.New("query text is empty")

// Query describes one retrieval request.
type Query struct {
	// Text is the free-text query. Required.
	Text string

	// Context scopes ranking (and filtering, where set) to the caller's
	// current exchange.
	Context memory.Context

	// Types restricts results to the given memory types.
	Types []memory.Type

	// MinImportance drops results below the floor.
	MinImportance float64

	// Since/Until bound result creation time.
	Since time.Time
	Until time.Time

	// MaxResults caps the result set; 0 means DefaultMaxResults.
	MaxResults int
}

// Result is one scored retrieval hit.
type Result struct {
	// Record is the matched memory.
	Record *memory.Record

	// Score is the final relevance score, in [0,1].
	Score float64

	// Explanations lists the signals that produced the score.
	Explanations []string
}

// Response is the outcome of a search.
type Response struct {
	// Results are the hits, best first.
	Results []Result

	// Notes report degraded signals or retrieval failures. Empty on a
	// clean search.
	Notes []string
}

// Engine runs hybrid searches over the record store and vector index.
type Engine struct {
	store  storage.RecordStore
	index  *index.Index
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a retrieval engine. The index may be nil, in which
// case every search runs lexical-only.
func NewEngine(store storage.RecordStore, ix *index.Index, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, index: ix, logger: logger, now: time.Now}
}

// Search runs the hybrid pipeline: candidate generation, additive score
// merge, hard filtering, and ranking.
//
// Failures of individual signals degrade the search and are reported in
// Response.Notes; only an empty query is an error.
func (e *Engine) Search(ctx context.Context, q *Query) (*Response, error) {
	if q == nil || strings.TrimSpace(q.Text) == "" {
		return nil, ErrEmptyQuery
	}

	resp := &Response{}

	candidates, err := e.store.QueryRecords(ctx, &storage.QueryOptions{
		Types:          q.Types,
		Since:          q.Since,
		Until:          q.Until,
		MinImportance:  q.MinImportance,
		UserID:         q.Context.UserID,
		ConversationID: q.Context.ConversationID,
		WorkspaceID:    q.Context.WorkspaceID,
	})
	if err != nil {
		e.logger.Error("record store unavailable during search", zap.Error(err))
		resp.Notes = append(resp.Notes, "memory store unavailable; no results")
		return resp, nil
	}
	if len(candidates) == 0 {
		return resp, nil
	}

	byID := make(map[int64]*candidate, len(candidates))
	for _, rec := range candidates {
		byID[rec.ID] = &candidate{record: rec}
	}

	e.scoreKeywords(q.Text, byID)
	e.scoreEntities(q.Text, byID)
	if note := e.scoreSemantic(ctx, q.Text, byID); note != "" {
		resp.Notes = append(resp.Notes, note)
	}

	now := e.now()
	results := make([]Result, 0, len(byID))
	for _, c := range byID {
		if c.score <= 0 {
			continue
		}
		score := c.score
		if score > 1.0 {
			score = 1.0
		}
		score += scoring.RecencyBonus(c.record.CreatedAt, now)
		score += scoring.AccessBonus(c.record.AccessCount)
		score += scoring.ContextBonus(c.record.Context, q.Context)
		results = append(results, Result{
			Record:       c.record,
			Score:        memory.Clamp01(score),
			Explanations: c.explanations,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Record.AccessCount != results[j].Record.AccessCount {
			return results[i].Record.AccessCount > results[j].Record.AccessCount
		}
		if !results[i].Record.LastAccessed.Equal(results[j].Record.LastAccessed) {
			return results[i].Record.LastAccessed.After(results[j].Record.LastAccessed)
		}
		return results[i].Record.ID < results[j].Record.ID
	})

	max := q.MaxResults
	if max <= 0 {
		max = DefaultMaxResults
	}
	if len(results) > max {
		results = results[:max]
	}
	resp.Results = results
	return resp, nil
}

// candidate accumulates generator scores for one record.
type candidate struct {
	record       *memory.Record
	score        float64
	explanations []string
}

func (c *candidate) add(score float64, explanation string) {
	c.score += score
	c.explanations = append(c.explanations, explanation)
}

// scoreKeywords awards the exact-match score when the query appears
// verbatim in the content, otherwise a scaled keyword-overlap score.
func (e *Engine) scoreKeywords(text string, byID map[int64]*candidate) {
	queryLower := strings.ToLower(strings.TrimSpace(text))
	queryKeywords := analysis.Keywords(text)

	for _, c := range byID {
		contentLower := strings.ToLower(c.record.Content)
		if strings.Contains(contentLower, queryLower) {
			c.add(scoring.KeywordExactScore, "Keyword match")
			continue
		}
		recordKeywords := c.record.Metadata.Keywords
		if len(recordKeywords) == 0 {
			recordKeywords = analysis.Keywords(c.record.Content)
		}
		overlap := analysis.OverlapRatio(queryKeywords, recordKeywords)
		if overlap > 0 {
			c.add(overlap*scoring.KeywordOverlapWeight,
				fmt.Sprintf("Keyword match (%.0f%% of query terms)", overlap*100))
		}
	}
}

// scoreEntities awards a weak score proportional to how many query
// entities the record mentions.
func (e *Engine) scoreEntities(text string, byID map[int64]*candidate) {
	queryEntities := analysis.Entities(text)
	if len(queryEntities) == 0 {
		return
	}

	for _, c := range byID {
		known := append([]string(nil), c.record.Metadata.Entities...)
		known = append(known, c.record.Context.RelevantEntities...)
		if len(known) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(known))
		for _, ent := range known {
			set[strings.ToLower(ent)] = struct{}{}
		}
		var shared []string
		for _, ent := range queryEntities {
			if _, ok := set[strings.ToLower(ent)]; ok {
				shared = append(shared, ent)
			}
		}
		if len(shared) == 0 {
			continue
		}
		fraction := float64(len(shared)) / float64(len(queryEntities))
		c.add(scoring.EntityMatchScore*scoring.EntityWeight*fraction,
			"Shared entities: "+strings.Join(shared, ", "))
	}
}

// scoreSemantic embeds the query and merges vector-index hits. Returns a
// degradation note when the signal was skipped, or "" on success.
func (e *Engine) scoreSemantic(ctx context.Context, text string, byID map[int64]*candidate) string {
	if e.index == nil {
		return "semantic search disabled; lexical signals only"
	}

	embedding, err := e.index.Embed(ctx, text)
	if err != nil {
		e.logger.Warn("query embedding failed, continuing without semantic signal", zap.Error(err))
		return "semantic search unavailable; results based on lexical signals only"
	}

	matches, err := e.index.Search(ctx, embedding, semanticTopK, SemanticThreshold)
	if err != nil {
		e.logger.Warn("vector index search failed, continuing without semantic signal", zap.Error(err))
		return "semantic search unavailable; results based on lexical signals only"
	}

	for _, m := range matches {
		c, ok := byID[m.ID]
		if !ok {
			// Indexed but filtered out by the hard predicates.
			continue
		}
		c.add(m.Similarity*scoring.SemanticWeight,
			fmt.Sprintf("Semantically similar (%.2f)", m.Similarity))
	}
	return ""
}
