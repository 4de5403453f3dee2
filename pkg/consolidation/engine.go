// Package consolidation keeps the memory store healthy over time: it
// merges near-duplicate records, compresses clusters of old low-value
// records into summaries, archives by criteria, and recomputes
// importance as memories age.
//
// Deletion only ever happens after the replacing summary or archive
// record has been durably written, so a crash mid-pass loses redundancy
// at worst, never information.
package consolidation

import (
	"context"
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
	// dupThreshold is the token-Jaccard similarity above which two
	// records are treated as duplicates.
	dupThreshold = 0.95

	// Compression candidacy: older than minAgeDays, accessed fewer than
	// maxAccessCount times, below the importance ceiling.
	minAgeDays     = 30
	maxAccessCount = 3
	maxImportance  = 0.7

	// Clustering: candidates group when their tags or keywords are
	// similar enough and they were created within clusterWindowDays of
	// the cluster seed.
	tagSimThreshold     = 0.3
	keywordSimThreshold = 0.4
	clusterWindowDays   = 7

	// minClusterSize keeps single leftovers uncompressed.
	minClusterSize = 2

	// importantContent marks records whose sentences are carried into a
	// summary verbatim.
	importantContent = 0.6

	// summaryImportanceCap bounds the importance of generated summaries.
	summaryImportanceCap = 0.8
)

// IDSource supplies unique IDs for summary and archive records.
type IDSource interface {
	NextID() int64
}

// Report summarizes one consolidation pass.
type Report struct {
	// Merged counts duplicate records folded into a survivor.
	Merged int

	// Compressed counts records replaced by summaries.
	Compressed int

	// Summaries counts summary records created.
	Summaries int

	// Rescored counts records whose importance changed.
	Rescored int
}

// Engine performs consolidation passes over the record store.
type Engine struct {
	store  storage.RecordStore
	index  *index.Index
	ids    IDSource
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a consolidation engine. The index may be nil when
// running without semantic search.
func NewEngine(store storage.RecordStore, ix *index.Index, ids IDSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, index: ix, ids: ids, logger: logger, now: time.Now}
}

// Consolidate runs a full pass: duplicate pruning, cluster compression,
// and importance recomputation.
func (e *Engine) Consolidate(ctx context.Context) (*Report, error) {
	report := &Report{}

	merged, err := e.PruneRedundant(ctx)
	if err != nil {
		return report, err
	}
	report.Merged = merged

	clusters, err := e.CompressionCandidates(ctx)
	if err != nil {
		return report, err
	}
	for _, cluster := range clusters {
		if _, err := e.Compress(ctx, cluster); err != nil {
			return report, err
		}
		report.Compressed += len(cluster)
		report.Summaries++
	}

	rescored, err := e.RecomputeImportance(ctx)
	if err != nil {
		return report, err
	}
	report.Rescored = rescored

	e.logger.Info("consolidation pass complete",
		zap.Int("merged", report.Merged),
		zap.Int("compressed", report.Compressed),
		zap.Int("summaries", report.Summaries),
		zap.Int("rescored", report.Rescored))
	return report, nil
}

// PruneRedundant merges near-duplicate records. The better record of
// each duplicate pair survives and absorbs the other's tags,
// relationships, and access history; the loser is deleted only after
// the merge is durable.
func (e *Engine) PruneRedundant(ctx context.Context) (int, error) {
	records, err := e.store.QueryRecords(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	removed := make(map[int64]bool)
	var merged int

	for i := 0; i < len(records); i++ {
		if removed[records[i].ID] {
			continue
		}
		for j := i + 1; j < len(records); j++ {
			if removed[records[j].ID] {
				continue
			}
			if records[i].Type != records[j].Type {
				continue
			}
			if analysis.TokenJaccard(records[i].Content, records[j].Content) <= dupThreshold {
				continue
			}

			keep, drop := records[i], records[j]
			if better(drop, keep) {
				keep, drop = drop, keep
			}

			keep.AddTags(drop.Tags...)
			keep.AddRelationships(drop.Relationships...)
			keep.AccessCount += drop.AccessCount
			if drop.LastAccessed.After(keep.LastAccessed) {
				keep.LastAccessed = drop.LastAccessed
			}
			keep.Normalize()

			if err := e.store.UpdateRecord(ctx, keep); err != nil {
				return merged, fmt.Errorf("prune: merge into %d: %w", keep.ID, err)
			}
			if err := e.store.DeleteRecord(ctx, drop.ID); err != nil {
				return merged, fmt.Errorf("prune: delete %d: %w", drop.ID, err)
			}
			e.removeFromIndex(ctx, drop.ID)

			removed[drop.ID] = true
			merged++
			if drop == records[i] {
				// The survivor sits at position j; rescan from it.
				break
			}
		}
	}
	return merged, nil
}

// better reports whether a should survive a merge over b: higher
// importance, then more recently accessed, then more accessed, then
// older.
func better(a, b *memory.Record) bool {
	if a.Importance != b.Importance {
		return a.Importance > b.Importance
	}
	if !a.LastAccessed.Equal(b.LastAccessed) {
		return a.LastAccessed.After(b.LastAccessed)
	}
	if a.AccessCount != b.AccessCount {
		return a.AccessCount > b.AccessCount
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// CompressionCandidates returns clusters of old, rarely used, low
// importance records that should be compressed together. Summary and
// archive records are never re-compressed.
func (e *Engine) CompressionCandidates(ctx context.Context) ([][]*memory.Record, error) {
	records, err := e.store.QueryRecords(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("compression candidates: %w", err)
	}

	now := e.now()
	var candidates []*memory.Record
	for _, rec := range records {
		if rec.Type == memory.TypeSummary || rec.Type == memory.TypeArchive {
			continue
		}
		ageDays := now.Sub(rec.CreatedAt).Hours() / 24.0
		if ageDays > minAgeDays && rec.AccessCount < maxAccessCount && rec.Importance < maxImportance {
			candidates = append(candidates, rec)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	var clusters [][]*memory.Record
	used := make(map[int64]bool)
	for i, seed := range candidates {
		if used[seed.ID] {
			continue
		}
		cluster := []*memory.Record{seed}
		used[seed.ID] = true
		for _, other := range candidates[i+1:] {
			if used[other.ID] {
				continue
			}
			if other.CreatedAt.Sub(seed.CreatedAt) > clusterWindowDays*24*time.Hour {
				break
			}
			if !related(seed, other) {
				continue
			}
			cluster = append(cluster, other)
			used[other.ID] = true
		}
		if len(cluster) >= minClusterSize {
			clusters = append(clusters, cluster)
		}
	}
	return clusters, nil
}

// related reports whether two candidates belong in one cluster: similar
// tags or similar content keywords.
func related(a, b *memory.Record) bool {
	if analysis.Jaccard(a.Tags, b.Tags) > tagSimThreshold {
		return true
	}
	return analysis.Jaccard(keywordsOf(a), keywordsOf(b)) > keywordSimThreshold
}

func keywordsOf(rec *memory.Record) []string {
	if len(rec.Metadata.Keywords) > 0 {
		return rec.Metadata.Keywords
	}
	return analysis.Keywords(rec.Content)
}

// Compress replaces a cluster with one summary record. The summary is
// written and indexed before any original is deleted.
func (e *Engine) Compress(ctx context.Context, cluster []*memory.Record) (*memory.Record, error) {
	if len(cluster) == 0 {
		return nil, fmt.Errorf("compress: empty cluster")
	}

	now := e.now()
	summary := &memory.Record{
		ID:           e.ids.NextID(),
		Type:         memory.TypeSummary,
		Content:      SummarizeCluster(cluster),
		CreatedAt:    now,
		LastAccessed: now,
		Source:       memory.Source{Type: "consolidation", Reliability: 0.8},
	}

	var importanceSum float64
	for _, rec := range cluster {
		importanceSum += rec.Importance
		if rec.Confidence > summary.Confidence {
			summary.Confidence = rec.Confidence
		}
		summary.AddTags(rec.Tags...)
		summary.AddRelationships(rec.Relationships...)
		summary.Metadata.Topics = memory.UnionStrings(summary.Metadata.Topics, rec.Metadata.Topics)
		summary.Metadata.Entities = memory.UnionStrings(summary.Metadata.Entities, rec.Metadata.Entities)
	}
	summary.AddTags("compressed", "summary")
	summary.Importance = importanceSum/float64(len(cluster)) + 0.1
	if summary.Importance > summaryImportanceCap {
		summary.Importance = summaryImportanceCap
	}
	summary.Normalize()

	if err := e.store.InsertRecord(ctx, summary); err != nil {
		return nil, fmt.Errorf("compress: insert summary: %w", err)
	}
	if e.index != nil {
		if err := e.index.Upsert(ctx, summary); err != nil {
			e.logger.Warn("summary not indexed", zap.Int64("id", summary.ID), zap.Error(err))
		} else if err := e.store.UpdateRecord(ctx, summary); err != nil {
			e.logger.Warn("summary embedding not persisted", zap.Int64("id", summary.ID), zap.Error(err))
		}
	}

	for _, rec := range cluster {
		if err := e.store.DeleteRecord(ctx, rec.ID); err != nil {
			return summary, fmt.Errorf("compress: delete %d: %w", rec.ID, err)
		}
		e.removeFromIndex(ctx, rec.ID)
	}
	return summary, nil
}

// SummarizeCluster builds the summary text for a cluster: verbatim
// sentences from important records, a topic and entity rollup for the
// rest, and the covered time range.
func SummarizeCluster(cluster []*memory.Record) string {
	var important, regular []*memory.Record
	for _, rec := range cluster {
		if rec.Importance > importantContent {
			important = append(important, rec)
		} else {
			regular = append(regular, rec)
		}
	}

	var parts []string
	for _, rec := range important {
		sentences := analysis.Sentences(rec.Content)
		if len(sentences) > 2 {
			sentences = sentences[:2]
		}
		parts = append(parts, strings.Join(sentences, " "))
	}

	if len(regular) > 0 {
		var b strings.Builder
		var entities []string
		for _, rec := range regular {
			b.WriteString(rec.Content)
			b.WriteString(" ")
			entities = memory.UnionStrings(entities, rec.Metadata.Entities)
		}
		rollup := fmt.Sprintf("%d related memories", len(regular))
		if topics := analysis.Topics(b.String(), 5); len(topics) > 0 {
			rollup += " about " + strings.Join(topics, ", ")
		}
		if len(entities) > 0 {
			if len(entities) > 5 {
				entities = entities[:5]
			}
			rollup += " (mentions " + strings.Join(entities, ", ") + ")"
		}
		parts = append(parts, rollup+".")
	}

	earliest, latest := cluster[0].CreatedAt, cluster[0].CreatedAt
	for _, rec := range cluster[1:] {
		if rec.CreatedAt.Before(earliest) {
			earliest = rec.CreatedAt
		}
		if rec.CreatedAt.After(latest) {
			latest = rec.CreatedAt
		}
	}
	parts = append(parts, fmt.Sprintf("Covers %s to %s.",
		earliest.Format("2006-01-02"), latest.Format("2006-01-02")))

	return strings.Join(parts, " ")
}

// ArchiveCriteria selects records for archival.
type ArchiveCriteria struct {
	// OlderThan selects records created before the cutoff. Required.
	OlderThan time.Time

	// MaxImportance, when positive, restricts to records at or below it.
	MaxImportance float64

	// MaxAccessCount, when positive, restricts to records accessed at
	// most that many times.
	MaxAccessCount int

	// Types, when set, restricts to the given types.
	Types []memory.Type
}

// Archive replaces all records matching the criteria with one archive
// record that keeps their IDs in its relationships. Returns nil when
// nothing matched.
func (e *Engine) Archive(ctx context.Context, criteria ArchiveCriteria) (*memory.Record, error) {
	if criteria.OlderThan.IsZero() {
		return nil, fmt.Errorf("archive: cutoff is required")
	}

	records, err := e.store.QueryRecords(ctx, &storage.QueryOptions{
		Types: criteria.Types,
		Until: criteria.OlderThan,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	var matched []*memory.Record
	for _, rec := range records {
		if rec.Type == memory.TypeArchive {
			continue
		}
		if criteria.MaxImportance > 0 && rec.Importance > criteria.MaxImportance {
			continue
		}
		if criteria.MaxAccessCount > 0 && rec.AccessCount > criteria.MaxAccessCount {
			continue
		}
		matched = append(matched, rec)
	}
	if len(matched) == 0 {
		return nil, nil
	}

	now := e.now()
	archive := &memory.Record{
		ID:           e.ids.NextID(),
		Type:         memory.TypeArchive,
		Content:      SummarizeCluster(matched),
		Importance:   0.3,
		Confidence:   1.0,
		CreatedAt:    now,
		LastAccessed: now,
		Tags:         []string{"archive"},
		Source:       memory.Source{Type: "consolidation", Reliability: 1.0},
	}
	for _, rec := range matched {
		archive.AddRelationships(rec.ID)
	}

	if err := e.store.InsertRecord(ctx, archive); err != nil {
		return nil, fmt.Errorf("archive: insert: %w", err)
	}
	for _, rec := range matched {
		if err := e.store.DeleteRecord(ctx, rec.ID); err != nil {
			return archive, fmt.Errorf("archive: delete %d: %w", rec.ID, err)
		}
		e.removeFromIndex(ctx, rec.ID)
	}

	e.logger.Info("archived records",
		zap.Int("count", len(matched)), zap.Int64("archive_id", archive.ID))
	return archive, nil
}

// RecomputeImportance rescores every record against the current clock
// and persists the ones that moved.
func (e *Engine) RecomputeImportance(ctx context.Context) (int, error) {
	records, err := e.store.QueryRecords(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("recompute importance: %w", err)
	}

	now := e.now()
	var rescored int
	for _, rec := range records {
		updated := scoring.Importance(scoring.Inputs{
			CreatedAt:    rec.CreatedAt,
			LastAccessed: rec.LastAccessed,
			AccessCount:  rec.AccessCount,
			Uniqueness:   0.5,
			Sentiment:    rec.Metadata.Sentiment,
			Reliability:  rec.Source.Reliability,
		}, rec.Context, memory.Context{}, now)

		// Decay only. Promotion happens through access tracking.
		if updated >= rec.Importance {
			continue
		}
		rec.Importance = updated
		if err := e.store.UpdateRecord(ctx, rec); err != nil {
			return rescored, fmt.Errorf("recompute importance: update %d: %w", rec.ID, err)
		}
		rescored++
	}
	return rescored, nil
}

func (e *Engine) removeFromIndex(ctx context.Context, id int64) {
	if e.index == nil {
		return
	}
	if err := e.index.Remove(ctx, id); err != nil {
		e.logger.Warn("stale index entry", zap.Int64("id", id), zap.Error(err))
	}
}
