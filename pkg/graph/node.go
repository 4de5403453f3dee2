// Package graph implements the concept knowledge graph: concept nodes
// connected by typed, confidence-weighted relationships, with bounded
// traversal, inference, fact verification, and similarity-based
// relationship discovery.
//
// The durable node table behind the Store interface is the source of
// truth; the in-process cache is a rebuildable read-through layer.
package graph

import (
	"strings"
	"time"
)

// RelationType is the type of a directed relationship between concepts.
type RelationType string

const (
	RelationIsA         RelationType = "IS_A"
	RelationPartOf      RelationType = "PART_OF"
	RelationRelatedTo   RelationType = "RELATED_TO"
	RelationCauses      RelationType = "CAUSES"
	RelationImplies     RelationType = "IMPLIES"
	RelationContradicts RelationType = "CONTRADICTS"
)

// Valid reports whether t is one of the known relation types.
func (t RelationType) Valid() bool {
	switch t {
	case RelationIsA, RelationPartOf, RelationRelatedTo,
		RelationCauses, RelationImplies, RelationContradicts:
		return true
	}
	return false
}

// phrase renders the relation as connective text for inference output.
func (t RelationType) phrase() string {
	switch t {
	case RelationIsA:
		return "is a"
	case RelationPartOf:
		return "is part of"
	case RelationCauses:
		return "causes"
	case RelationImplies:
		return "implies"
	case RelationContradicts:
		return "contradicts"
	default:
		return "is related to"
	}
}

// Relation is a directed edge from the owning node to Target.
type Relation struct {
	// Type is the relationship type.
	Type RelationType `json:"type"`

	// Target is the normalized key of the target concept.
	Target string `json:"target"`

	// Strength is the edge weight, in [0,1].
	Strength float64 `json:"strength"`

	// Bidirectional marks edges that are mirrored on the target node.
	Bidirectional bool `json:"bidirectional,omitempty"`
}

// Node is a concept in the knowledge graph.
type Node struct {
	// Key is the normalized unique key: lowercase, whitespace collapsed
	// to underscores.
	Key string `json:"key"`

	// Name is the concept name as first mentioned.
	Name string `json:"name"`

	// Description describes the concept.
	Description string `json:"description,omitempty"`

	// Confidence is how certain the system is about this concept, in
	// [0,1]. Decays when contradictions are detected.
	Confidence float64 `json:"confidence"`

	// Relations are the outgoing typed edges.
	Relations []Relation `json:"relations,omitempty"`

	// Sources lists where knowledge about this concept came from.
	Sources []string `json:"sources,omitempty"`

	// CreatedAt is when the concept was first mentioned.
	CreatedAt time.Time `json:"created_at"`

	// LastVerified is when the concept was last refreshed or confirmed.
	LastVerified time.Time `json:"last_verified"`
}

// setRelation adds or replaces the edge (type, target) on the node.
func (n *Node) setRelation(rel Relation) {
	for i, existing := range n.Relations {
		if existing.Type == rel.Type && existing.Target == rel.Target {
			n.Relations[i] = rel
			return
		}
	}
	n.Relations = append(n.Relations, rel)
}

// addSources appends the sources not already recorded on the node.
func (n *Node) addSources(sources ...string) {
	for _, src := range sources {
		found := false
		for _, existing := range n.Sources {
			if existing == src {
				found = true
				break
			}
		}
		if !found {
			n.Sources = append(n.Sources, src)
		}
	}
}

// hasRelation reports whether the node has an edge of the given type to
// the target.
func (n *Node) hasRelation(t RelationType, target string) bool {
	for _, rel := range n.Relations {
		if rel.Type == t && rel.Target == target {
			return true
		}
	}
	return false
}

// Normalize turns a concept name into its unique key: lowercased with
// whitespace runs replaced by single underscores.
func Normalize(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, "_")
}
