// Package episodic records concrete experiences (what happened, how it
// turned out) and answers timeline and outcome-prediction queries over
// them.
package episodic

import (
	"context"
	"errors"
	"time"

	"github.com/engramlabs/engram-go/pkg/analysis"
)

// Episode is one recorded experience.
type Episode struct {
	// ID uniquely identifies the episode.
	ID int64 `json:"id"`

	// UserID is the user the episode belongs to.
	UserID string `json:"user_id"`

	// Event describes what happened.
	Event string `json:"event"`

	// Outcome describes how it turned out.
	Outcome string `json:"outcome"`

	// Participants lists who was involved.
	Participants []string `json:"participants,omitempty"`

	// Location is where it happened, when known.
	Location string `json:"location,omitempty"`

	// Duration is how long the event took.
	Duration time.Duration `json:"duration,omitempty"`

	// Emotions lists feelings associated with the episode.
	Emotions []string `json:"emotions,omitempty"`

	// Success records whether the outcome was considered good.
	Success bool `json:"success"`

	// OccurredAt is when the event happened.
	OccurredAt time.Time `json:"occurred_at"`
}

// TimelineQuery filters episodes by user and time range.
type TimelineQuery struct {
	UserID string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Store persists episodes.
type Store interface {
	// InsertEpisode stores an episode.
	InsertEpisode(ctx context.Context, ep *Episode) error

	// QueryEpisodes returns episodes matching the query, most recent
	// first.
	QueryEpisodes(ctx context.Context, q *TimelineQuery) ([]*Episode, error)
}

// Prediction is the result of PredictOutcome: the most similar past
// episode and its outcome. It is a hint drawn from history, not a
// guarantee.
type Prediction struct {
	// Outcome is the outcome of the closest past episode.
	Outcome string

	// Success is whether that episode succeeded.
	Success bool

	// Similarity is the keyword similarity between the scenario and the
	// matched episode, in [0,1].
	Similarity float64

	// Episode is the matched episode.
	Episode *Episode
}

// Memory answers episodic queries over a store.
type Memory struct {
	store Store
	ids   IDSource
}

// IDSource supplies unique episode IDs.
type IDSource interface {
	NextID() int64
}

// New creates an episodic memory over the given store and ID source.
func New(store Store, ids IDSource) *Memory {
	return &Memory{store: store, ids: ids}
}

// Record stores a new episode.
func (m *Memory) Record(ctx context.Context, ep *Episode) (int64, error) {
	if ep.Event == "" {
		return 0, errors.New("episode event is required")
	}
	if ep.OccurredAt.IsZero() {
		ep.OccurredAt = time.Now()
	}
	if ep.ID == 0 {
		ep.ID = m.ids.NextID()
	}
	if err := m.store.InsertEpisode(ctx, ep); err != nil {
		return 0, err
	}
	return ep.ID, nil
}

// Timeline returns the user's episodes within the time range, most
// recent first.
func (m *Memory) Timeline(ctx context.Context, q *TimelineQuery) ([]*Episode, error) {
	if q == nil {
		q = &TimelineQuery{}
	}
	return m.store.QueryEpisodes(ctx, q)
}

// PredictOutcome finds the past episode whose description is closest to
// the scenario and returns its outcome as a hint. Returns nil when the
// user has no history or nothing overlaps at all.
func (m *Memory) PredictOutcome(ctx context.Context, userID, scenario string) (*Prediction, error) {
	episodes, err := m.store.QueryEpisodes(ctx, &TimelineQuery{UserID: userID})
	if err != nil {
		return nil, err
	}
	scenarioKeywords := analysis.Keywords(scenario)

	var best *Episode
	var bestSim float64
	for _, ep := range episodes {
		sim := analysis.Jaccard(scenarioKeywords, analysis.Keywords(ep.Event+" "+ep.Outcome))
		if sim > bestSim {
			bestSim = sim
			best = ep
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Prediction{
		Outcome:    best.Outcome,
		Success:    best.Success,
		Similarity: bestSim,
		Episode:    best,
	}, nil
}
