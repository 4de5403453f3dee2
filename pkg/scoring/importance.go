// Package scoring implements the importance model and the retrieval
// ranking bonuses as pure functions.
//
// All weights are named constants so the formulas can be unit tested and
// tuned independently of the stores and engines that apply them.
package scoring

import (
	"math"
	"time"

	"github.com/engramlabs/engram-go/pkg/memory"
)

// Importance model weights. They sum to 1.0; the weighted sum is clamped
// to [0,1] and then multiplied by the context-relevance factor.
const (
	WeightRecency     = 0.30
	WeightAccessFreq  = 0.20
	WeightUniqueness  = 0.20
	WeightEmotional   = 0.15
	WeightReliability = 0.15
)

// Recency decay: importance contribution halves roughly every
// recencyHalfLifeDays days.
const recencyHalfLifeDays = 30.0

// Access frequency saturates at accessFreqCeiling accesses.
const accessFreqCeiling = 100.0

// Context relevance factors. A record scored without any ownership
// context keeps factor 1.0; otherwise the factor starts at the base and
// grows with each matching scope, capped at 1.0.
const (
	ContextBase             = 0.70
	ContextSameConversation = 0.15
	ContextSameUser         = 0.10
	ContextSameWorkspace    = 0.05
)

// Inputs carries the signals the importance formula combines.
//
// Uniqueness is 1 minus the max cosine similarity to the record's nearest
// neighbor; records with no neighbors use 1. Sentiment is the analyzed
// polarity in [-1,1]; its absolute value is the emotional significance.
type Inputs struct {
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
	Uniqueness   float64
	Sentiment    float64
	Reliability  float64
}

// Importance computes the importance score for a record at the given time:
//
//	clamp01(0.3*recency + 0.2*accessFreq + 0.2*uniqueness +
//	        0.15*|sentiment| + 0.15*reliability) * contextRelevance
func Importance(in Inputs, recordCtx, scoringCtx memory.Context, now time.Time) float64 {
	base := WeightRecency*Recency(in.CreatedAt, now) +
		WeightAccessFreq*AccessFrequency(in.AccessCount) +
		WeightUniqueness*memory.Clamp01(in.Uniqueness) +
		WeightEmotional*math.Abs(in.Sentiment) +
		WeightReliability*memory.Clamp01(in.Reliability)
	return memory.Clamp01(memory.Clamp01(base) * ContextRelevance(recordCtx, scoringCtx))
}

// Recency maps record age to (0,1] with exponential decay.
func Recency(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-math.Ln2 * ageDays / recencyHalfLifeDays)
}

// AccessFrequency maps an access count to [0,1] on a log scale, so the
// difference between 0 and 10 accesses matters far more than the
// difference between 90 and 100.
func AccessFrequency(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	return memory.Clamp01(math.Log1p(float64(accessCount)) / math.Log1p(accessFreqCeiling))
}

// ContextRelevance returns the multiplier applied to the base importance.
//
// When either context carries no ownership information the factor is 1.0
// (unscoped records are not penalized). Otherwise matching scopes raise
// the factor from ContextBase toward 1.0.
func ContextRelevance(recordCtx, scoringCtx memory.Context) float64 {
	if isUnscoped(recordCtx) || isUnscoped(scoringCtx) {
		return 1.0
	}
	factor := ContextBase
	if recordCtx.ConversationID != "" && recordCtx.ConversationID == scoringCtx.ConversationID {
		factor += ContextSameConversation
	}
	if recordCtx.UserID != "" && recordCtx.UserID == scoringCtx.UserID {
		factor += ContextSameUser
	}
	if recordCtx.WorkspaceID != "" && recordCtx.WorkspaceID == scoringCtx.WorkspaceID {
		factor += ContextSameWorkspace
	}
	if factor > 1.0 {
		factor = 1.0
	}
	return factor
}

func isUnscoped(c memory.Context) bool {
	return c.ConversationID == "" && c.UserID == "" && c.WorkspaceID == ""
}
