package episodic_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram-go/pkg/episodic"
)

type fakeStore struct {
	mu       sync.Mutex
	episodes []*episodic.Episode
}

func (s *fakeStore) InsertEpisode(_ context.Context, ep *episodic.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes = append(s.episodes, ep)
	return nil
}

func (s *fakeStore) QueryEpisodes(_ context.Context, q *episodic.TimelineQuery) ([]*episodic.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*episodic.Episode
	for _, ep := range s.episodes {
		if q.UserID != "" && ep.UserID != q.UserID {
			continue
		}
		if !q.Since.IsZero() && ep.OccurredAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && ep.OccurredAt.After(q.Until) {
			continue
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type fakeIDs struct{ next int64 }

func (f *fakeIDs) NextID() int64 {
	f.next++
	return f.next
}

func TestRecordAssignsIDAndTime(t *testing.T) {
	m := episodic.New(&fakeStore{}, &fakeIDs{})
	ctx := context.Background()

	id, err := m.Record(ctx, &episodic.Episode{UserID: "u1", Event: "gave a demo"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = m.Record(ctx, &episodic.Episode{UserID: "u1"})
	assert.Error(t, err)
}

func TestTimelineFiltersByUserAndRange(t *testing.T) {
	store := &fakeStore{}
	m := episodic.New(store, &fakeIDs{})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := m.Record(ctx, &episodic.Episode{
			UserID:     "u1",
			Event:      "daily standup",
			OccurredAt: base.AddDate(0, 0, i),
		})
		require.NoError(t, err)
	}
	_, err := m.Record(ctx, &episodic.Episode{UserID: "u2", Event: "other user", OccurredAt: base})
	require.NoError(t, err)

	episodes, err := m.Timeline(ctx, &episodic.TimelineQuery{
		UserID: "u1",
		Since:  base.AddDate(0, 0, 1),
		Until:  base.AddDate(0, 0, 3),
	})
	require.NoError(t, err)
	assert.Len(t, episodes, 3)
	// Most recent first.
	assert.True(t, episodes[0].OccurredAt.After(episodes[2].OccurredAt))
}

func TestPredictOutcome(t *testing.T) {
	m := episodic.New(&fakeStore{}, &fakeIDs{})
	ctx := context.Background()

	_, err := m.Record(ctx, &episodic.Episode{
		UserID:  "u1",
		Event:   "presented quarterly results to the board",
		Outcome: "board approved the budget",
		Success: true,
	})
	require.NoError(t, err)
	_, err = m.Record(ctx, &episodic.Episode{
		UserID:  "u1",
		Event:   "went hiking in the rain",
		Outcome: "got soaked",
		Success: false,
	})
	require.NoError(t, err)

	pred, err := m.PredictOutcome(ctx, "u1", "presenting results to the board next week")
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, "board approved the budget", pred.Outcome)
	assert.True(t, pred.Success)
	assert.Greater(t, pred.Similarity, 0.0)
}

func TestPredictOutcomeNoHistory(t *testing.T) {
	m := episodic.New(&fakeStore{}, &fakeIDs{})

	pred, err := m.PredictOutcome(context.Background(), "nobody", "anything at all")
	require.NoError(t, err)
	assert.Nil(t, pred)
}
