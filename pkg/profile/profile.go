// Package profile maintains per-user trait vectors and preferences.
//
// Traits move by bounded incremental nudges so no single observation can
// swing a profile; preferences are last-write-wins per (category,
// preference) key, never averaged.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/engramlabs/engram-go/pkg/memory"
)

// Trait nudges are clamped to this band before being applied.
const (
	MinNudge = 0.02
	MaxNudge = 0.10
)

// Preference is one user preference, keyed by (UserID, Category, Name).
type Preference struct {
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Name      string    `json:"name"`
	Strength  float64   `json:"strength"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is a user's trait vector.
type Profile struct {
	UserID    string             `json:"user_id"`
	Traits    map[string]float64 `json:"traits"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store persists profiles and preferences.
type Store interface {
	// GetProfile returns the user's profile, or nil when none exists.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// SaveProfile inserts or fully replaces a profile by user ID.
	SaveProfile(ctx context.Context, p *Profile) error

	// UpsertPreference inserts or replaces a preference by its
	// composite key (last write wins).
	UpsertPreference(ctx context.Context, pref *Preference) error

	// GetPreferences returns all preferences for the user.
	GetPreferences(ctx context.Context, userID string) ([]*Preference, error)
}

// Manager owns user profiles.
type Manager struct {
	store Store
}

// NewManager creates a profile manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// AdjustTrait nudges a trait by delta and returns the new value.
//
// The magnitude of delta is clamped into [MinNudge, MaxNudge] and the
// resulting trait value into [0,1]. A missing profile or trait starts at
// 0.5.
func (m *Manager) AdjustTrait(ctx context.Context, userID, trait string, delta float64) (float64, error) {
	if userID == "" || trait == "" {
		return 0, errors.New("user id and trait are required")
	}

	p, err := m.store.GetProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	if p == nil {
		p = &Profile{UserID: userID, Traits: make(map[string]float64)}
	}
	if p.Traits == nil {
		p.Traits = make(map[string]float64)
	}

	current, ok := p.Traits[trait]
	if !ok {
		current = 0.5
	}

	updated := memory.Clamp01(current + clampNudge(delta))
	p.Traits[trait] = updated
	p.UpdatedAt = time.Now()

	if err := m.store.SaveProfile(ctx, p); err != nil {
		return 0, err
	}
	return updated, nil
}

// SetPreference records a preference, replacing any earlier value for the
// same (category, preference) key.
func (m *Manager) SetPreference(ctx context.Context, userID, category, name string, strength float64) error {
	if userID == "" || category == "" || name == "" {
		return errors.New("user id, category, and preference are required")
	}
	return m.store.UpsertPreference(ctx, &Preference{
		UserID:    userID,
		Category:  category,
		Name:      name,
		Strength:  memory.Clamp01(strength),
		UpdatedAt: time.Now(),
	})
}

// Preferences returns the user's preferences.
func (m *Manager) Preferences(ctx context.Context, userID string) ([]*Preference, error) {
	return m.store.GetPreferences(ctx, userID)
}

// Get returns the user's profile, or an empty one when none exists yet.
func (m *Manager) Get(ctx context.Context, userID string) (*Profile, error) {
	p, err := m.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &Profile{UserID: userID, Traits: make(map[string]float64)}
	}
	return p, nil
}

// clampNudge bounds the magnitude of a trait adjustment while keeping
// its sign.
func clampNudge(delta float64) float64 {
	sign := 1.0
	if delta < 0 {
		sign = -1.0
		delta = -delta
	}
	if delta == 0 {
		return 0
	}
	if delta < MinNudge {
		delta = MinNudge
	}
	if delta > MaxNudge {
		delta = MaxNudge
	}
	return sign * delta
}
