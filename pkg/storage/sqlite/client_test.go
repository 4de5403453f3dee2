package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram-go/pkg/conversation"
	"github.com/engramlabs/engram-go/pkg/episodic"
	"github.com/engramlabs/engram-go/pkg/graph"
	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/profile"
	"github.com/engramlabs/engram-go/pkg/storage"
	"github.com/engramlabs/engram-go/pkg/storage/sqlite"
)

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "engram.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRecordRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec := &memory.Record{
		ID:            42,
		Type:          memory.TypeFact,
		Content:       "The user's favorite editor is vim.",
		Importance:    0.7,
		Confidence:    0.9,
		Embedding:     []float64{0.1, 0.2, 0.3},
		Tags:          []string{"editor", "preferences"},
		Relationships: []int64{7, 9},
		CreatedAt:     now,
		LastAccessed:  now,
		AccessCount:   2,
		Source:        memory.Source{Type: "user", Identifier: "conv-1", Reliability: 1.0},
		Context: memory.Context{
			UserID:           "u1",
			ConversationID:   "conv-1",
			Timestamp:        now,
			RelevantEntities: []string{"vim"},
		},
		Metadata: memory.Metadata{
			Topics:    []string{"editor"},
			Keywords:  []string{"favorite", "editor", "vim"},
			Sentiment: 0.4,
		},
	}
	require.NoError(t, client.InsertRecord(ctx, rec))

	got, err := client.GetRecord(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, rec.Relationships, got.Relationships)
	assert.Equal(t, rec.Source, got.Source)
	assert.Equal(t, "u1", got.Context.UserID)
	assert.Equal(t, rec.Metadata.Keywords, got.Metadata.Keywords)
	assert.InDelta(t, 0.4, got.Metadata.Sentiment, 0.001)
	assert.WithinDuration(t, now, got.CreatedAt, time.Second)

	_, err = client.GetRecord(ctx, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateAndDeleteRecord(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	rec := &memory.Record{
		ID:        1,
		Type:      memory.TypeFact,
		Content:   "original",
		CreatedAt: time.Now(),
	}
	require.NoError(t, client.InsertRecord(ctx, rec))

	rec.Content = "updated"
	rec.AccessCount = 5
	require.NoError(t, client.UpdateRecord(ctx, rec))

	got, err := client.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Content)
	assert.Equal(t, 5, got.AccessCount)

	missing := &memory.Record{ID: 404, Type: memory.TypeFact, Content: "x"}
	assert.ErrorIs(t, client.UpdateRecord(ctx, missing), storage.ErrNotFound)

	require.NoError(t, client.DeleteRecord(ctx, 1))
	assert.ErrorIs(t, client.DeleteRecord(ctx, 1), storage.ErrNotFound)
}

func TestQueryRecordsFilters(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now()

	for i, tc := range []struct {
		recType    memory.Type
		importance float64
		userID     string
	}{
		{memory.TypeFact, 0.9, "u1"},
		{memory.TypeFact, 0.2, "u1"},
		{memory.TypePreference, 0.8, "u2"},
	} {
		require.NoError(t, client.InsertRecord(ctx, &memory.Record{
			ID:         int64(i + 1),
			Type:       tc.recType,
			Content:    "record",
			Importance: tc.importance,
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
			Context:    memory.Context{UserID: tc.userID},
		}))
	}

	records, err := client.QueryRecords(ctx, &storage.QueryOptions{
		Types: []memory.Type{memory.TypeFact},
	})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = client.QueryRecords(ctx, &storage.QueryOptions{MinImportance: 0.5})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = client.QueryRecords(ctx, &storage.QueryOptions{UserID: "u2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(3), records[0].ID)

	records, err = client.QueryRecords(ctx, &storage.QueryOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	count, err := client.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestNodeRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now()

	node := &graph.Node{
		Key:        "coffee",
		Name:       "Coffee",
		Confidence: 0.5,
		Relations: []graph.Relation{
			{Type: graph.RelationRelatedTo, Target: "tea", Strength: 0.8},
		},
		CreatedAt:    now,
		LastVerified: now,
	}
	require.NoError(t, client.UpsertNode(ctx, node))

	got, err := client.GetNode(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, node.Name, got.Name)
	assert.Equal(t, node.Relations, got.Relations)

	node.Confidence = 0.9
	require.NoError(t, client.UpsertNode(ctx, node))
	got, err = client.GetNode(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Confidence)

	all, err := client.AllNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = client.GetNode(ctx, "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestConversationRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now()

	conv := &conversation.Conversation{
		ID:     "conv-1",
		UserID: "u1",
		Messages: []conversation.Message{
			{ID: "m1", Role: "user", Content: "hello", Timestamp: now},
		},
		Mood:      conversation.MoodNeutral,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, client.SaveConversation(ctx, conv))

	got, err := client.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)

	_, err = client.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestEpisodeRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, client.InsertEpisode(ctx, &episodic.Episode{
		ID:         1,
		UserID:     "u1",
		Event:      "shipped the release",
		Outcome:    "no rollbacks",
		Duration:   90 * time.Minute,
		Success:    true,
		OccurredAt: now,
	}))
	require.NoError(t, client.InsertEpisode(ctx, &episodic.Episode{
		ID:         2,
		UserID:     "u1",
		Event:      "on-call incident",
		Success:    false,
		OccurredAt: now.Add(-48 * time.Hour),
	}))

	episodes, err := client.QueryEpisodes(ctx, &episodic.TimelineQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	// Most recent first.
	assert.Equal(t, int64(1), episodes[0].ID)
	assert.True(t, episodes[0].Success)
	assert.Equal(t, 90*time.Minute, episodes[0].Duration)

	episodes, err = client.QueryEpisodes(ctx, &episodic.TimelineQuery{
		UserID: "u1",
		Since:  now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, episodes, 1)
}

func TestProfileAndPreferences(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	p, err := client.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, client.SaveProfile(ctx, &profile.Profile{
		UserID:    "u1",
		Traits:    map[string]float64{"curiosity": 0.8},
		UpdatedAt: time.Now(),
	}))
	p, err = client.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 0.8, p.Traits["curiosity"])

	require.NoError(t, client.UpsertPreference(ctx, &profile.Preference{
		UserID: "u1", Category: "food", Name: "spicy", Strength: 0.4, UpdatedAt: time.Now(),
	}))
	require.NoError(t, client.UpsertPreference(ctx, &profile.Preference{
		UserID: "u1", Category: "food", Name: "spicy", Strength: 0.9, UpdatedAt: time.Now(),
	}))

	prefs, err := client.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, 0.9, prefs[0].Strength)
}
