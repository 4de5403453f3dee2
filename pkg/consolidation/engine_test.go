package consolidation_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram-go/pkg/consolidation"
	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/retrieval"
	"github.com/engramlabs/engram-go/pkg/storage"
)

type fakeRecordStore struct {
	records map[int64]*memory.Record
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[int64]*memory.Record)}
}

func (s *fakeRecordStore) InsertRecord(_ context.Context, rec *memory.Record) error {
	s.records[rec.ID] = rec
	return nil
}

func (s *fakeRecordStore) GetRecord(_ context.Context, id int64) (*memory.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (s *fakeRecordStore) UpdateRecord(_ context.Context, rec *memory.Record) error {
	if _, ok := s.records[rec.ID]; !ok {
		return storage.ErrNotFound
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *fakeRecordStore) DeleteRecord(_ context.Context, id int64) error {
	if _, ok := s.records[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *fakeRecordStore) QueryRecords(_ context.Context, opts *storage.QueryOptions) ([]*memory.Record, error) {
	if opts == nil {
		opts = &storage.QueryOptions{}
	}
	var out []*memory.Record
	for _, rec := range s.records {
		if len(opts.Types) > 0 && !hasType(opts.Types, rec.Type) {
			continue
		}
		if !opts.Until.IsZero() && rec.CreatedAt.After(opts.Until) {
			continue
		}
		if !opts.Since.IsZero() && rec.CreatedAt.Before(opts.Since) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeRecordStore) CountRecords(_ context.Context) (int, error) {
	return len(s.records), nil
}

func hasType(types []memory.Type, t memory.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

type counterIDs struct{ next int64 }

func (c *counterIDs) NextID() int64 {
	c.next++
	return 1000 + c.next
}

func daysAgo(n int) time.Time {
	return time.Now().AddDate(0, 0, -n)
}

func record(id int64, content string, createdDaysAgo int) *memory.Record {
	created := daysAgo(createdDaysAgo)
	return &memory.Record{
		ID:           id,
		Type:         memory.TypeFact,
		Content:      content,
		Importance:   0.2,
		Confidence:   1.0,
		CreatedAt:    created,
		LastAccessed: created,
		Source:       memory.Source{Type: "user", Reliability: 1.0},
	}
}

func TestPruneRedundantMergesDuplicates(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	keep := record(1, "The user prefers tea over coffee.", 5)
	keep.Importance = 0.8
	keep.Tags = []string{"beverages"}
	keep.AccessCount = 3

	drop := record(2, "the user prefers tea over coffee", 4)
	drop.Importance = 0.3
	drop.Tags = []string{"drinks"}
	drop.AccessCount = 2
	drop.Relationships = []int64{7}

	require.NoError(t, store.InsertRecord(ctx, keep))
	require.NoError(t, store.InsertRecord(ctx, drop))

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	merged, err := e.PruneRedundant(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	survivor, err := store.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"beverages", "drinks"}, survivor.Tags)
	assert.Contains(t, survivor.Relationships, int64(7))
	assert.Equal(t, 5, survivor.AccessCount)

	_, err = store.GetRecord(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPruneRedundantSkipsDifferentTypes(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	a := record(1, "likes hiking on weekends", 5)
	b := record(2, "likes hiking on weekends", 5)
	b.Type = memory.TypePreference
	require.NoError(t, store.InsertRecord(ctx, a))
	require.NoError(t, store.InsertRecord(ctx, b))

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	merged, err := e.PruneRedundant(ctx)
	require.NoError(t, err)
	assert.Zero(t, merged)
}

func TestCompressionCandidates(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	// Two old related records land in one cluster.
	a := record(1, "sprint planning notes from march", 45)
	a.Tags = []string{"sprint"}
	b := record(2, "sprint retro notes from march", 42)
	b.Tags = []string{"sprint"}

	// Excluded: too recent, too important, accessed too often.
	recent := record(3, "sprint notes from this week", 2)
	important := record(4, "sprint budget decision", 45)
	important.Importance = 0.9
	busy := record(5, "sprint dashboard link", 45)
	busy.AccessCount = 10

	for _, rec := range []*memory.Record{a, b, recent, important, busy} {
		require.NoError(t, store.InsertRecord(ctx, rec))
	}

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	clusters, err := e.CompressionCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0], 2)
}

func TestCompressionCandidatesRespectsWindow(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	a := record(1, "conference day one", 60)
	a.Tags = []string{"conference"}
	b := record(2, "conference day two", 40)
	b.Tags = []string{"conference"}
	require.NoError(t, store.InsertRecord(ctx, a))
	require.NoError(t, store.InsertRecord(ctx, b))

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	clusters, err := e.CompressionCandidates(ctx)
	require.NoError(t, err)
	// Twenty days apart is outside the cluster window; two singletons
	// are not clusters.
	assert.Empty(t, clusters)
}

func TestCompress(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	a := record(1, "Tried the new ramen place near the office.", 40)
	a.Importance = 0.2
	a.Tags = []string{"food"}
	b := record(2, "Ramen place was crowded at lunch.", 39)
	b.Importance = 0.4
	b.Confidence = 0.9
	b.Tags = []string{"lunch"}
	require.NoError(t, store.InsertRecord(ctx, a))
	require.NoError(t, store.InsertRecord(ctx, b))

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	summary, err := e.Compress(ctx, []*memory.Record{a, b})
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, memory.TypeSummary, summary.Type)
	assert.InDelta(t, 0.4, summary.Importance, 0.001)
	assert.Equal(t, 1.0, summary.Confidence)
	assert.Contains(t, summary.Tags, "compressed")
	assert.Contains(t, summary.Tags, "summary")
	assert.NotEmpty(t, summary.Content)

	// Originals are gone, the summary is stored.
	_, err = store.GetRecord(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetRecord(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	stored, err := store.GetRecord(ctx, summary.ID)
	require.NoError(t, err)
	assert.Equal(t, summary.Content, stored.Content)
}

func TestCompressedClusterStillRecallable(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	a := record(1, "Tried the new ramen place near the office.", 40)
	a.Tags = []string{"food"}
	b := record(2, "Ramen place was crowded at lunch.", 39)
	b.Tags = []string{"food"}
	require.NoError(t, store.InsertRecord(ctx, a))
	require.NoError(t, store.InsertRecord(ctx, b))

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	summary, err := e.Compress(ctx, []*memory.Record{a, b})
	require.NoError(t, err)
	require.NotNil(t, summary)

	// A query that used to hit the originals now hits the summary.
	search := retrieval.NewEngine(store, nil, nil)
	resp, err := search.Search(ctx, &retrieval.Query{Text: "ramen lunch"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, summary.ID, resp.Results[0].Record.ID)
	assert.Greater(t, resp.Results[0].Score, 0.0)
}

func TestCompressImportanceCapped(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	a := record(1, "first note", 40)
	a.Importance = 0.75
	b := record(2, "second note", 39)
	b.Importance = 0.75
	require.NoError(t, store.InsertRecord(ctx, a))
	require.NoError(t, store.InsertRecord(ctx, b))

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	summary, err := e.Compress(ctx, []*memory.Record{a, b})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, summary.Importance, 0.001)
}

func TestArchive(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	old1 := record(1, "old meeting note", 100)
	old2 := record(2, "old decision log", 95)
	fresh := record(3, "fresh note", 1)
	for _, rec := range []*memory.Record{old1, old2, fresh} {
		require.NoError(t, store.InsertRecord(ctx, rec))
	}

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	archive, err := e.Archive(ctx, consolidation.ArchiveCriteria{OlderThan: daysAgo(30)})
	require.NoError(t, err)
	require.NotNil(t, archive)

	assert.Equal(t, memory.TypeArchive, archive.Type)
	assert.ElementsMatch(t, []int64{1, 2}, archive.Relationships)
	assert.Contains(t, archive.Tags, "archive")

	_, err = store.GetRecord(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetRecord(ctx, 3)
	assert.NoError(t, err)
}

func TestArchiveSkipsFrequentlyAccessed(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	quiet := record(1, "old meeting note", 100)
	busy := record(2, "old runbook link", 95)
	busy.AccessCount = 12
	require.NoError(t, store.InsertRecord(ctx, quiet))
	require.NoError(t, store.InsertRecord(ctx, busy))

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	archive, err := e.Archive(ctx, consolidation.ArchiveCriteria{
		OlderThan:      daysAgo(30),
		MaxAccessCount: 5,
	})
	require.NoError(t, err)
	require.NotNil(t, archive)

	// Only the rarely accessed record was archived.
	assert.ElementsMatch(t, []int64{1}, archive.Relationships)
	_, err = store.GetRecord(ctx, 2)
	assert.NoError(t, err)
}

func TestArchiveRequiresCutoff(t *testing.T) {
	e := consolidation.NewEngine(newFakeRecordStore(), nil, &counterIDs{}, nil)
	_, err := e.Archive(context.Background(), consolidation.ArchiveCriteria{})
	assert.Error(t, err)
}

func TestArchiveNothingMatched(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()
	require.NoError(t, store.InsertRecord(ctx, record(1, "fresh note", 1)))

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	archive, err := e.Archive(ctx, consolidation.ArchiveCriteria{OlderThan: daysAgo(30)})
	require.NoError(t, err)
	assert.Nil(t, archive)
}

func TestRecomputeImportanceDecayOnly(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	stale := record(1, "stale fact", 400)
	stale.Importance = 0.9
	low := record(2, "already low", 400)
	low.Importance = 0.05
	require.NoError(t, store.InsertRecord(ctx, stale))
	require.NoError(t, store.InsertRecord(ctx, low))

	e := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	rescored, err := e.RecomputeImportance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rescored)

	updated, err := store.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.Less(t, updated.Importance, 0.9)

	unchanged, err := store.GetRecord(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.05, unchanged.Importance)
}

func TestConsolidatePropagatesStoreErrors(t *testing.T) {
	e := consolidation.NewEngine(&failingStore{}, nil, &counterIDs{}, nil)
	_, err := e.Consolidate(context.Background())
	assert.Error(t, err)
}

type failingStore struct{ fakeRecordStore }

func (s *failingStore) QueryRecords(context.Context, *storage.QueryOptions) ([]*memory.Record, error) {
	return nil, errors.New("store is down")
}
