package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/engramlabs/engram-go/pkg/memory"
)

func TestTypeValid(t *testing.T) {
	assert.True(t, memory.TypeFact.Valid())
	assert.True(t, memory.TypeSummary.Valid())
	assert.True(t, memory.TypeArchive.Valid())
	assert.False(t, memory.Type("").Valid())
	assert.False(t, memory.Type("opinion").Valid())
}

func TestTouch(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &memory.Record{CreatedAt: created, LastAccessed: created}

	later := created.Add(time.Hour)
	rec.Touch(later)
	assert.Equal(t, 1, rec.AccessCount)
	assert.Equal(t, later, rec.LastAccessed)

	// An earlier clock still counts the access but never rewinds.
	rec.Touch(created)
	assert.Equal(t, 2, rec.AccessCount)
	assert.Equal(t, later, rec.LastAccessed)
}

func TestNormalize(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &memory.Record{
		Importance:   1.7,
		Confidence:   -0.2,
		CreatedAt:    created,
		LastAccessed: created.Add(-time.Hour),
	}
	rec.Normalize()

	assert.Equal(t, 1.0, rec.Importance)
	assert.Equal(t, 0.0, rec.Confidence)
	assert.Equal(t, created, rec.LastAccessed)
}

func TestAddTags(t *testing.T) {
	rec := &memory.Record{Tags: []string{"work"}}
	rec.AddTags("work", "", "travel")
	assert.Equal(t, []string{"work", "travel"}, rec.Tags)
}

func TestAddRelationships(t *testing.T) {
	rec := &memory.Record{ID: 7, Relationships: []int64{1}}
	rec.AddRelationships(1, 0, 7, 2)
	assert.Equal(t, []int64{1, 2}, rec.Relationships)
}

func TestUnionStrings(t *testing.T) {
	got := memory.UnionStrings([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, memory.Clamp01(-1))
	assert.Equal(t, 0.5, memory.Clamp01(0.5))
	assert.Equal(t, 1.0, memory.Clamp01(2))
}
