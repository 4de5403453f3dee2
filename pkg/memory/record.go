// Package memory defines the core data model shared by the storage,
// retrieval, and consolidation layers: durable memory records with
// provenance, scoring metadata, and typed containers for tags,
// relationships, and analysis results.
package memory

import (
	"time"
)

// Type classifies what kind of knowledge a record holds.
type Type string

const (
	TypeFact         Type = "fact"
	TypePreference   Type = "preference"
	TypeSkill        Type = "skill"
	TypeExperience   Type = "experience"
	TypeRelationship Type = "relationship"
	TypeGoal         Type = "goal"
	TypeTask         Type = "task"
	TypeKnowledge    Type = "knowledge"
	TypeObservation  Type = "observation"
	TypeConversation Type = "conversation"

	// TypeSummary marks a record produced by compressing a cluster of
	// older records. Summary records replace their sources.
	TypeSummary Type = "summary"

	// TypeArchive marks a record produced by an archival sweep. It keeps
	// references to the archived record IDs.
	TypeArchive Type = "archive"
)

// Valid reports whether t is one of the known memory types.
func (t Type) Valid() bool {
	switch t {
	case TypeFact, TypePreference, TypeSkill, TypeExperience,
		TypeRelationship, TypeGoal, TypeTask, TypeKnowledge,
		TypeObservation, TypeConversation, TypeSummary, TypeArchive:
		return true
	}
	return false
}

// Source records where a memory came from and how much the origin is trusted.
type Source struct {
	// Type is the origin kind, e.g. "conversation", "system", "user".
	Type string `json:"type"`

	// Identifier names the concrete origin (a conversation ID, a tool name).
	Identifier string `json:"identifier,omitempty"`

	// Reliability is the trust placed in this origin, in [0,1].
	Reliability float64 `json:"reliability"`
}

// Context scopes a record to the exchange it was captured in.
//
// All fields are optional; empty values mean "not scoped".
type Context struct {
	ConversationID   string    `json:"conversation_id,omitempty"`
	WorkspaceID      string    `json:"workspace_id,omitempty"`
	UserID           string    `json:"user_id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	Timestamp        time.Time `json:"timestamp,omitempty"`
	RelevantEntities []string  `json:"relevant_entities,omitempty"`
}

// Metadata holds analysis results attached to a record at creation time
// and refreshed during consolidation.
type Metadata struct {
	Topics   []string `json:"topics,omitempty"`
	Entities []string `json:"entities,omitempty"`
	Keywords []string `json:"keywords,omitempty"`

	// Sentiment is the analyzed emotional polarity of the content, in [-1,1].
	Sentiment float64 `json:"sentiment"`

	// Verified is set when the content was confirmed against the
	// knowledge graph.
	Verified bool `json:"verified,omitempty"`

	// Contradicts lists record IDs this record is known to contradict.
	Contradicts []int64 `json:"contradicts,omitempty"`
}

// Record is a stored unit of knowledge or experience.
//
// Records are created by Remember, mutated by access tracking
// (AccessCount/LastAccessed) and by consolidation (merge, decay,
// compression), and removed only when replaced by a summary or archive
// record, or by an explicit Forget.
//
// Relationships are weak references: after compression they may point at
// IDs that no longer exist. Callers treat such pointers as soft misses.
type Record struct {
	// ID is the unique identifier of the record.
	ID int64 `json:"id"`

	// Type classifies the record. See the Type constants.
	Type Type `json:"type"`

	// Content is the text content of the record.
	Content string `json:"content"`

	// Importance estimates long-term retention value, in [0,1].
	Importance float64 `json:"importance"`

	// Confidence is how certain the system is that the content is true,
	// in [0,1].
	Confidence float64 `json:"confidence"`

	// Embedding is the vector representation for similarity search.
	// Nil when no embedding has been generated (degraded writes).
	Embedding []float64 `json:"embedding,omitempty"`

	// Tags is a set of free-form labels. Order is not significant.
	Tags []string `json:"tags,omitempty"`

	// Relationships is a set of related record IDs (weak references).
	Relationships []int64 `json:"relationships,omitempty"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessed is when the record was last read. Never before CreatedAt.
	LastAccessed time.Time `json:"last_accessed"`

	// AccessCount is the number of times the record has been retrieved.
	// Monotonically non-decreasing.
	AccessCount int `json:"access_count"`

	// Source records provenance.
	Source Source `json:"source"`

	// Context scopes the record to the exchange it came from.
	Context Context `json:"context"`

	// Metadata holds analysis results for the content.
	Metadata Metadata `json:"metadata"`
}

// Clamp01 restricts v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Touch records an access: bumps AccessCount and advances LastAccessed.
func (r *Record) Touch(now time.Time) {
	r.AccessCount++
	if now.After(r.LastAccessed) {
		r.LastAccessed = now
	}
}

// Normalize enforces the record invariants in place: importance and
// confidence are clamped to [0,1] and LastAccessed is never before
// CreatedAt.
func (r *Record) Normalize() {
	r.Importance = Clamp01(r.Importance)
	r.Confidence = Clamp01(r.Confidence)
	if r.LastAccessed.Before(r.CreatedAt) {
		r.LastAccessed = r.CreatedAt
	}
}

// AgeAt returns how old the record is at the given time.
func (r *Record) AgeAt(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// HasTag reports whether the record carries the given tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTags adds the given tags, keeping Tags a set.
func (r *Record) AddTags(tags ...string) {
	for _, tag := range tags {
		if tag != "" && !r.HasTag(tag) {
			r.Tags = append(r.Tags, tag)
		}
	}
}

// AddRelationships adds the given record IDs, keeping Relationships a set.
// The target records are not required to exist.
func (r *Record) AddRelationships(ids ...int64) {
	for _, id := range ids {
		if id == 0 || id == r.ID {
			continue
		}
		seen := false
		for _, existing := range r.Relationships {
			if existing == id {
				seen = true
				break
			}
		}
		if !seen {
			r.Relationships = append(r.Relationships, id)
		}
	}
}

// UnionStrings returns the set union of two string slices, preserving the
// order of first appearance.
func UnionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// UnionIDs returns the set union of two ID slices, preserving the order of
// first appearance.
func UnionIDs(a, b []int64) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	seen := make(map[int64]struct{}, len(a)+len(b))
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
