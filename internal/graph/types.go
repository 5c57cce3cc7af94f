package graph

import "time"

// Properties is a node or relationship property bag.
// Values must be JSON-encodable.
type Properties map[string]any

// Node is a typed graph vertex.
type Node struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Label      string     `json:"label,omitempty"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Properties Properties `json:"properties"`
}

// Relationship is a typed, directed edge.
//
// SourceID or TargetID is nil when the endpoint node was deleted with
// KeepConnected (a dangling edge).
type Relationship struct {
	ID         string     `json:"id"`
	SourceID   *string    `json:"source_id"`
	TargetID   *string    `json:"target_id"`
	Type       string     `json:"type"`
	CreatedAt  time.Time  `json:"created_at"`
	Properties Properties `json:"properties"`
}

// NodeInput describes a node to insert. An empty ID is generated.
type NodeInput struct {
	ID         string
	Type       string
	Label      string
	X, Y       float64
	Properties Properties
}

// NodePatch describes a partial node update. Nil fields are left unchanged.
// A non-nil Properties replaces the whole property bag.
type NodePatch struct {
	Type       *string
	Label      *string
	X, Y       *float64
	Properties Properties
}

// EdgeInput describes a relationship to insert. An empty ID is generated.
type EdgeInput struct {
	ID         string
	SourceID   string
	TargetID   string
	Type       string
	Properties Properties
}

// EdgePatch describes a partial relationship update. A non-nil Properties
// replaces the whole property bag.
type EdgePatch struct {
	Type       *string
	Properties Properties
}

// DeleteMode controls what DeleteNode does to incident relationships.
type DeleteMode int

const (
	// KeepConnected nulls the deleted node's endpoint on every incident
	// relationship, leaving dangling edges. It is the zero value.
	KeepConnected DeleteMode = iota

	// DeleteCascade deletes every incident relationship with its properties.
	DeleteCascade
)

// String returns the mode name.
func (m DeleteMode) String() string {
	switch m {
	case DeleteCascade:
		return "cascade"
	case KeepConnected:
		return "keep_connected"
	default:
		return "unknown"
	}
}

// PathStep is one traversed relationship of a path.
type PathStep struct {
	RelationshipID string `json:"id"`
	Type           string `json:"type"`
	SourceID       string `json:"source"`
	TargetID       string `json:"target"`
}

// Pattern selects one-hop (source)-[relationship]->(target) triples.
// Empty fields match anything.
type Pattern struct {
	SourceType        string
	RelationshipTypes []string
	TargetType        string
}

// Match is one triple returned by MatchPattern.
type Match struct {
	Source       Node         `json:"source"`
	Relationship Relationship `json:"relationship"`
	Target       Node         `json:"target"`
}

// PathPolicy decides whether FindPath may revisit nodes.
type PathPolicy int

const (
	// PathSimple never extends a path onto a node it already contains.
	PathSimple PathPolicy = iota

	// PathRevisit bounds paths only by depth, so cycles shorter than the
	// bound may repeat nodes.
	PathRevisit
)

// ParsePathPolicy maps "simple" or "revisit" to a PathPolicy. Empty is simple.
func ParsePathPolicy(s string) (PathPolicy, bool) {
	switch s {
	case "", "simple":
		return PathSimple, true
	case "revisit":
		return PathRevisit, true
	default:
		return PathSimple, false
	}
}

// Traversal selects how path and neighbourhood queries run.
type Traversal int

const (
	// TraversalRecursive uses WITH RECURSIVE queries.
	TraversalRecursive Traversal = iota

	// TraversalInMemory loads relationship rows and searches in Go.
	TraversalInMemory
)

// ParseTraversal maps "recursive" or "inmemory" to a Traversal. Empty is recursive.
func ParseTraversal(s string) (Traversal, bool) {
	switch s {
	case "", "recursive":
		return TraversalRecursive, true
	case "inmemory":
		return TraversalInMemory, true
	default:
		return TraversalRecursive, false
	}
}
