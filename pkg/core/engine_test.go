package core_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram-go/pkg/consolidation"
	"github.com/engramlabs/engram-go/pkg/core"
	"github.com/engramlabs/engram-go/pkg/episodic"
	"github.com/engramlabs/engram-go/pkg/graph"
	"github.com/engramlabs/engram-go/pkg/memory"
)

// newTestEngine runs on SQLite in a temp dir without an embedding
// provider, so retrieval is lexical-only.
func newTestEngine(t *testing.T) *core.Engine {
	t.Helper()
	engine, err := core.New(&core.Config{
		Storage: core.StorageConfig{
			Provider: "sqlite",
			SQLite:   core.SQLiteConfig{Path: filepath.Join(t.TempDir(), "engram.db")},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestRememberAndRecall(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	rec, err := engine.Remember(ctx, "My favorite editor is vim.",
		core.WithType(memory.TypePreference),
		core.WithTags("editor"),
		core.WithContext(memory.Context{UserID: "u1"}))
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Greater(t, rec.Importance, 0.0)
	assert.NotEmpty(t, rec.Metadata.Keywords)
	assert.Contains(t, rec.Tags, "editor")

	resp, err := engine.Recall(ctx, "favorite editor",
		core.WithRecallContext(memory.Context{UserID: "u1"}))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, rec.ID, resp.Results[0].Record.ID)
	assert.Contains(t, resp.Results[0].Explanations, "Keyword match")

	// Recall recorded the access.
	got, err := engine.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.AccessCount, 1)
}

func TestRememberValidation(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Remember(ctx, "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = engine.Remember(ctx, "valid content", core.WithType(memory.Type("hunch")))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRecallEmptyQuery(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Recall(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestGetAndForget(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	rec, err := engine.Remember(ctx, "temporary note")
	require.NoError(t, err)

	require.NoError(t, engine.Forget(ctx, rec.ID))
	_, err = engine.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.ErrorIs(t, engine.Forget(ctx, rec.ID), core.ErrNotFound)
}

func TestConversationFlow(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.AddConversationMessage(ctx, "conv-1", "user", "Can you remind me about the deadline?"))
	require.NoError(t, engine.AddConversationMessage(ctx, "conv-1", "assistant", "The deadline is next Friday."))

	conv, err := engine.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)

	summary, err := engine.GetConversationSummary(ctx, "conv-1")
	require.NoError(t, err)
	assert.NotEmpty(t, summary.Summary)

	_, err = engine.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestKnowledgeGraphOps(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.AddConcept(ctx, "Go", "a programming language")
	require.NoError(t, err)
	require.NoError(t, engine.LinkConcepts(ctx, "Go", "programming", graph.RelationRelatedTo, 0.9, false))

	related, err := engine.FindRelatedConcepts(ctx, "Go", 2)
	require.NoError(t, err)
	assert.Len(t, related, 1)

	statements, err := engine.InferKnowledge(ctx, "What do we know about Go?")
	require.NoError(t, err)
	assert.NotEmpty(t, statements)
}

func TestEpisodicOps(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	id, err := engine.RecordEpisode(ctx, &episodic.Episode{
		UserID:  "u1",
		Event:   "deployed the payment service",
		Outcome: "rollout went smoothly",
		Success: true,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	episodes, err := engine.Timeline(ctx, &episodic.TimelineQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, episodes, 1)

	pred, err := engine.PredictOutcome(ctx, "u1", "deploying the payment service again")
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.True(t, pred.Success)
}

func TestProfileOps(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.SetPreference(ctx, "u1", "communication", "concise", 0.8))
	prefs, err := engine.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, "concise", prefs[0].Name)

	value, err := engine.AdjustTrait(ctx, "u1", "curiosity", 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, value, 0.001)

	p, err := engine.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.55, p.Traits["curiosity"], 0.001)
}

func TestOptimizeMemoryMergesDuplicates(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Remember(ctx, "The standup moved to 9am.", core.WithImportance(0.6))
	require.NoError(t, err)
	_, err = engine.Remember(ctx, "the standup moved to 9am", core.WithImportance(0.4))
	require.NoError(t, err)

	report, err := engine.OptimizeMemory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)
}

func TestArchiveMemoriesNothingOld(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Remember(ctx, "a fresh memory")
	require.NoError(t, err)

	archive, err := engine.ArchiveMemories(ctx, consolidation.ArchiveCriteria{
		OlderThan: time.Now().AddDate(0, -1, 0),
	})
	require.NoError(t, err)
	assert.Nil(t, archive)
}
