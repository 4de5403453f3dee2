package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/engramlabs/engram-go/pkg/memory"
	"github.com/engramlabs/engram-go/pkg/scoring"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRecencyDecay(t *testing.T) {
	assert.Equal(t, 1.0, scoring.Recency(now, now))
	// One half-life later the contribution is halved.
	assert.InDelta(t, 0.5, scoring.Recency(now.AddDate(0, 0, -30), now), 0.001)
	assert.InDelta(t, 0.25, scoring.Recency(now.AddDate(0, 0, -60), now), 0.001)
	// Clock skew never yields a score above 1.
	assert.Equal(t, 1.0, scoring.Recency(now.Add(time.Hour), now))
}

func TestAccessFrequency(t *testing.T) {
	assert.Equal(t, 0.0, scoring.AccessFrequency(0))
	assert.InDelta(t, 1.0, scoring.AccessFrequency(100), 0.001)
	assert.Equal(t, 1.0, scoring.AccessFrequency(100000))

	// Log scale: early accesses matter more.
	lowGain := scoring.AccessFrequency(10) - scoring.AccessFrequency(0)
	highGain := scoring.AccessFrequency(100) - scoring.AccessFrequency(90)
	assert.Greater(t, lowGain, highGain)
}

func TestImportanceBounds(t *testing.T) {
	score := scoring.Importance(scoring.Inputs{
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1000,
		Uniqueness:   1.0,
		Sentiment:    -1.0,
		Reliability:  1.0,
	}, memory.Context{}, memory.Context{}, now)
	assert.LessOrEqual(t, score, 1.0)
	assert.InDelta(t, 1.0, score, 0.001)

	score = scoring.Importance(scoring.Inputs{
		CreatedAt: now.AddDate(-10, 0, 0),
	}, memory.Context{}, memory.Context{}, now)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.Less(t, score, 0.05)
}

func TestImportanceUsesAbsoluteSentiment(t *testing.T) {
	base := scoring.Inputs{CreatedAt: now, Reliability: 0.5}

	neutral := scoring.Importance(base, memory.Context{}, memory.Context{}, now)
	base.Sentiment = -0.8
	negative := scoring.Importance(base, memory.Context{}, memory.Context{}, now)
	base.Sentiment = 0.8
	positive := scoring.Importance(base, memory.Context{}, memory.Context{}, now)

	assert.Greater(t, negative, neutral)
	assert.Equal(t, positive, negative)
}

func TestContextRelevance(t *testing.T) {
	scoped := memory.Context{UserID: "u1", ConversationID: "c1", WorkspaceID: "w1"}

	// Unscoped records and unscoped scoring keep the full factor.
	assert.Equal(t, 1.0, scoring.ContextRelevance(memory.Context{}, scoped))
	assert.Equal(t, 1.0, scoring.ContextRelevance(scoped, memory.Context{}))

	// All scopes matching caps at 1.0.
	assert.Equal(t, 1.0, scoring.ContextRelevance(scoped, scoped))

	// Partial matches land between the base and 1.0.
	sameUser := scoring.ContextRelevance(scoped, memory.Context{UserID: "u1", ConversationID: "other", WorkspaceID: "other"})
	assert.InDelta(t, 0.80, sameUser, 0.001)

	noMatch := scoring.ContextRelevance(scoped, memory.Context{UserID: "u2", ConversationID: "c2", WorkspaceID: "w2"})
	assert.InDelta(t, 0.70, noMatch, 0.001)
}

func TestRecencyBonus(t *testing.T) {
	assert.InDelta(t, 0.1, scoring.RecencyBonus(now, now), 0.001)
	assert.InDelta(t, 0.05, scoring.RecencyBonus(now.AddDate(0, 0, -183), now), 0.002)
	assert.Equal(t, 0.0, scoring.RecencyBonus(now.AddDate(-2, 0, 0), now))
}

func TestAccessBonus(t *testing.T) {
	assert.Equal(t, 0.0, scoring.AccessBonus(0))
	assert.InDelta(t, 0.05, scoring.AccessBonus(5), 0.001)
	assert.Equal(t, 0.1, scoring.AccessBonus(50))
}

func TestContextBonus(t *testing.T) {
	query := memory.Context{UserID: "u1", ConversationID: "c1", WorkspaceID: "w1"}
	record := memory.Context{UserID: "u1", ConversationID: "c1", WorkspaceID: "w1"}
	assert.InDelta(t, 0.6, scoring.ContextBonus(record, query), 0.001)

	record.ConversationID = "other"
	assert.InDelta(t, 0.3, scoring.ContextBonus(record, query), 0.001)

	// Bonuses apply only for scopes the query actually carries.
	assert.Equal(t, 0.0, scoring.ContextBonus(record, memory.Context{}))
}
