package graph

import (
	"errors"
	"time"
)

// Label is a node label in the knowledge graph
type Label string

const (
	LabelUser    Label = "User"
	LabelEntity  Label = "Entity"
	LabelConcept Label = "Concept"
	LabelEvent   Label = "Event"
	LabelBelief  Label = "Belief"
	LabelValue   Label = "Value"
	LabelTrait   Label = "Trait"
	LabelGoal    Label = "Goal"
	LabelHabit   Label = "Habit"
	LabelPattern Label = "Pattern"
)

// Labels lists every label that carries a uniqueness constraint on id
var Labels = []Label{
	LabelUser, LabelEntity, LabelConcept, LabelEvent, LabelBelief,
	LabelValue, LabelTrait, LabelGoal, LabelHabit, LabelPattern,
}

// Valid reports whether l is a known label. Labels are interpolated into Cypher, so only these may be used.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// RelType is a relationship type in the knowledge graph
type RelType string

const (
	RelHasBelief      RelType = "HAS_BELIEF"
	RelHasValue       RelType = "HAS_VALUE"
	RelHasTrait       RelType = "HAS_TRAIT"
	RelHasGoal        RelType = "HAS_GOAL"
	RelHasHabit       RelType = "HAS_HABIT"
	RelHasPattern     RelType = "HAS_PATTERN"
	RelKnowsAbout     RelType = "KNOWS_ABOUT"
	RelHasKnowledgeOf RelType = "HAS_KNOWLEDGE_OF"
)

var relTypes = []RelType{
	RelHasBelief, RelHasValue, RelHasTrait, RelHasGoal, RelHasHabit,
	RelHasPattern, RelKnowsAbout, RelHasKnowledgeOf,
}

// Valid reports whether t is a known relationship type
func (t RelType) Valid() bool {
	for _, known := range relTypes {
		if t == known {
			return true
		}
	}
	return false
}

var (
	// ErrNodeNotFound is returned when an edge endpoint does not exist
	ErrNodeNotFound = errors.New("node not found")
	// ErrInvalidLabel is returned for labels or relationship types outside the known set
	ErrInvalidLabel = errors.New("invalid label or relationship type")
	// ErrMissingID is returned when a node or edge has no id
	ErrMissingID = errors.New("missing id")
)

// ============================================================================
// Node variants
// ============================================================================

// Node is implemented by every node variant. The set is closed: only types in this package satisfy it.
type Node interface {
	NodeID() string
	NodeLabel() Label
	// Properties returns the attributes written on upsert, id included
	Properties() map[string]any
	isNode()
}

// NodeBase holds the fields shared by every node
type NodeBase struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (b NodeBase) NodeID() string { return b.ID }
func (NodeBase) isNode()          {}

func (b NodeBase) baseProperties() map[string]any {
	props := map[string]any{"id": b.ID}
	if !b.CreatedAt.IsZero() {
		props["created_at"] = formatTime(b.CreatedAt)
	}
	return props
}

// UserNode is the root every user-scoped node hangs off
type UserNode struct {
	NodeBase
	LastActivity time.Time `json:"last_activity"`
}

func (UserNode) NodeLabel() Label { return LabelUser }

func (n UserNode) Properties() map[string]any {
	props := n.baseProperties()
	if !n.LastActivity.IsZero() {
		props["last_activity"] = formatTime(n.LastActivity)
	}
	return props
}

// EntityNode is a named person, place, organization or thing; Subtype is the model-reported kind
type EntityNode struct {
	NodeBase
	Subtype string `json:"entity_type"`
	Name    string `json:"name"`
	Info    string `json:"info"`
}

func (EntityNode) NodeLabel() Label { return LabelEntity }

func (n EntityNode) Properties() map[string]any {
	props := n.baseProperties()
	props["entity_type"] = n.Subtype
	props["name"] = n.Name
	props["info"] = n.Info
	return props
}

// ConceptNode is an abstract idea or theme
type ConceptNode struct {
	NodeBase
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (ConceptNode) NodeLabel() Label { return LabelConcept }

func (n ConceptNode) Properties() map[string]any {
	props := n.baseProperties()
	props["name"] = n.Name
	props["description"] = n.Description
	return props
}

// Statement holds the attributes shared by evidenced claims about the user
type Statement struct {
	Content    string  `json:"content"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (s Statement) apply(props map[string]any) map[string]any {
	props["content"] = s.Content
	props["evidence"] = s.Evidence
	if s.Confidence > 0 {
		props["confidence"] = s.Confidence
	}
	return props
}

type BeliefNode struct {
	NodeBase
	Statement
}

func (BeliefNode) NodeLabel() Label             { return LabelBelief }
func (n BeliefNode) Properties() map[string]any { return n.apply(n.baseProperties()) }

type ValueNode struct {
	NodeBase
	Statement
}

func (ValueNode) NodeLabel() Label             { return LabelValue }
func (n ValueNode) Properties() map[string]any { return n.apply(n.baseProperties()) }

type TraitNode struct {
	NodeBase
	Statement
}

func (TraitNode) NodeLabel() Label             { return LabelTrait }
func (n TraitNode) Properties() map[string]any { return n.apply(n.baseProperties()) }

type GoalNode struct {
	NodeBase
	Statement
}

func (GoalNode) NodeLabel() Label             { return LabelGoal }
func (n GoalNode) Properties() map[string]any { return n.apply(n.baseProperties()) }

type HabitNode struct {
	NodeBase
	Statement
}

func (HabitNode) NodeLabel() Label             { return LabelHabit }
func (n HabitNode) Properties() map[string]any { return n.apply(n.baseProperties()) }

// PatternNode is a recurring behavior or way of thinking
type PatternNode struct {
	NodeBase
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Evidence    string  `json:"evidence"`
	Confidence  float64 `json:"confidence"`
}

func (PatternNode) NodeLabel() Label { return LabelPattern }

func (n PatternNode) Properties() map[string]any {
	props := n.baseProperties()
	props["name"] = n.Name
	props["description"] = n.Description
	props["evidence"] = n.Evidence
	props["confidence"] = n.Confidence
	return props
}

// patternFromProperties rebuilds a PatternNode from stored properties
func patternFromProperties(props map[string]any) PatternNode {
	return PatternNode{
		NodeBase: NodeBase{
			ID:        getStringFromMap(props, "id", ""),
			CreatedAt: parseTime(getStringFromMap(props, "created_at", "")),
		},
		Name:        getStringFromMap(props, "name", ""),
		Description: getStringFromMap(props, "description", ""),
		Evidence:    getStringFromMap(props, "evidence", ""),
		Confidence:  getFloat64FromMap(props, "confidence", 0),
	}
}

// ============================================================================
// Edges and read models
// ============================================================================

// Edge is a directed, typed relationship. Upserts merge on (FromID, ToID, Type).
type Edge struct {
	FromID     string
	FromLabel  Label
	ToID       string
	ToLabel    Label
	Type       RelType
	Properties map[string]any
}

// UserEdge links the user root to node, stamping created_at
func UserEdge(userID string, node Node, relType RelType, now time.Time) Edge {
	return Edge{
		FromID:     userID,
		FromLabel:  LabelUser,
		ToID:       node.NodeID(),
		ToLabel:    node.NodeLabel(),
		Type:       relType,
		Properties: map[string]any{"created_at": formatTime(now)},
	}
}

// GraphNode is a node as read back from the graph
type GraphNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// Relationship is an edge as read back from the graph
type Relationship struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Subgraph is the neighbourhood of a user up to some depth
type Subgraph struct {
	Nodes         []GraphNode    `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
}

// SearchResult is a node adjacent to the user that matched a search
type SearchResult struct {
	Node         GraphNode `json:"node"`
	Relationship string    `json:"relationship"`
}

// EntityConnection is a node directly connected to an entity
type EntityConnection struct {
	Node         GraphNode `json:"node"`
	Relationship string    `json:"relationship"`
	Direction    string    `json:"direction"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
