package scoring

import (
	"time"

	"github.com/engramlabs/engram-go/pkg/memory"
)

// Candidate generator weights for hybrid search. Generator scores are
// merged additively per record and capped at 1.0, so agreement between
// signals outranks any single strong signal.
const (
	// KeywordExactScore is awarded when the query appears verbatim in
	// the record content.
	KeywordExactScore = 0.9

	// KeywordOverlapWeight scales the keyword-overlap ratio for partial
	// matches.
	KeywordOverlapWeight = 0.7

	// SemanticWeight scales vector similarity from the index.
	SemanticWeight = 0.8

	// EntityMatchScore and EntityWeight make entity matches the weakest
	// signal (0.6 * 0.3 = 0.18): enough to surface thematically linked
	// but lexically distant memories, never enough to dominate.
	EntityMatchScore = 0.6
	EntityWeight     = 0.3
)

// Ranking bonus constants applied in the final pass over merged
// candidates.
const (
	RecencyBonusWeight   = 0.1
	RecencyBonusSpanDays = 365.0

	AccessBonusPerHit = 0.01
	AccessBonusCap    = 0.1

	BonusSameUser         = 0.2
	BonusSameConversation = 0.3
	BonusSameWorkspace    = 0.1
)

// RecencyBonus rewards young records: max(0, 1-ageDays/365) * 0.1.
func RecencyBonus(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24.0
	f := 1.0 - ageDays/RecencyBonusSpanDays
	if f < 0 {
		f = 0
	}
	return f * RecencyBonusWeight
}

// AccessBonus rewards frequently retrieved records, capped at 0.1.
func AccessBonus(accessCount int) float64 {
	bonus := float64(accessCount) * AccessBonusPerHit
	if bonus > AccessBonusCap {
		bonus = AccessBonusCap
	}
	return bonus
}

// ContextBonus rewards records scoped to the caller's current exchange.
func ContextBonus(recordCtx, queryCtx memory.Context) float64 {
	var bonus float64
	if queryCtx.UserID != "" && recordCtx.UserID == queryCtx.UserID {
		bonus += BonusSameUser
	}
	if queryCtx.ConversationID != "" && recordCtx.ConversationID == queryCtx.ConversationID {
		bonus += BonusSameConversation
	}
	if queryCtx.WorkspaceID != "" && recordCtx.WorkspaceID == queryCtx.WorkspaceID {
		bonus += BonusSameWorkspace
	}
	return bonus
}
