package profile_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram-go/pkg/profile"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile
	prefs    map[string]*profile.Preference
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[string]*profile.Profile),
		prefs:    make(map[string]*profile.Preference),
	}
}

func (s *fakeStore) GetProfile(_ context.Context, userID string) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userID], nil
}

func (s *fakeStore) SaveProfile(_ context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *fakeStore) UpsertPreference(_ context.Context, pref *profile.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[pref.UserID+"/"+pref.Category+"/"+pref.Name] = pref
	return nil
}

func (s *fakeStore) GetPreferences(_ context.Context, userID string) ([]*profile.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*profile.Preference
	for _, pref := range s.prefs {
		if pref.UserID == userID {
			out = append(out, pref)
		}
	}
	return out, nil
}

func TestAdjustTraitStartsAtMidpoint(t *testing.T) {
	m := profile.NewManager(newFakeStore())
	ctx := context.Background()

	value, err := m.AdjustTrait(ctx, "u1", "curiosity", 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, value, 0.001)
}

func TestAdjustTraitClampsNudge(t *testing.T) {
	m := profile.NewManager(newFakeStore())
	ctx := context.Background()

	// A huge delta is capped at the maximum nudge.
	value, err := m.AdjustTrait(ctx, "u1", "patience", 5.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+profile.MaxNudge, value, 0.001)

	// A tiny delta is raised to the minimum nudge, keeping its sign.
	value, err = m.AdjustTrait(ctx, "u1", "patience", -0.001)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+profile.MaxNudge-profile.MinNudge, value, 0.001)
}

func TestAdjustTraitClampsValue(t *testing.T) {
	m := profile.NewManager(newFakeStore())
	ctx := context.Background()

	var value float64
	var err error
	for i := 0; i < 20; i++ {
		value, err = m.AdjustTrait(ctx, "u1", "optimism", 1.0)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, value)
}

func TestAdjustTraitValidation(t *testing.T) {
	m := profile.NewManager(newFakeStore())
	ctx := context.Background()

	_, err := m.AdjustTrait(ctx, "", "trait", 0.1)
	assert.Error(t, err)
	_, err = m.AdjustTrait(ctx, "u1", "", 0.1)
	assert.Error(t, err)
}

func TestSetPreferenceLastWriteWins(t *testing.T) {
	m := profile.NewManager(newFakeStore())
	ctx := context.Background()

	require.NoError(t, m.SetPreference(ctx, "u1", "food", "spicy", 0.4))
	require.NoError(t, m.SetPreference(ctx, "u1", "food", "spicy", 0.9))
	require.NoError(t, m.SetPreference(ctx, "u1", "music", "jazz", 2.0))

	prefs, err := m.Preferences(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, prefs, 2)

	byName := make(map[string]float64)
	for _, pref := range prefs {
		byName[pref.Name] = pref.Strength
	}
	assert.Equal(t, 0.9, byName["spicy"])
	// Strength is clamped into [0,1].
	assert.Equal(t, 1.0, byName["jazz"])
}

func TestSetPreferenceValidation(t *testing.T) {
	m := profile.NewManager(newFakeStore())
	ctx := context.Background()

	assert.Error(t, m.SetPreference(ctx, "", "food", "spicy", 0.5))
	assert.Error(t, m.SetPreference(ctx, "u1", "", "spicy", 0.5))
	assert.Error(t, m.SetPreference(ctx, "u1", "food", "", 0.5))
}

func TestGetReturnsEmptyProfile(t *testing.T) {
	m := profile.NewManager(newFakeStore())

	p, err := m.Get(context.Background(), "nobody")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "nobody", p.UserID)
	assert.Empty(t, p.Traits)
}
