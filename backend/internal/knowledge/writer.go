package knowledge

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/pkg/logger"
)

// WriteCounts reports what one Write persisted. Failures counts every node or edge write that failed.
type WriteCounts struct {
	Entities      int `json:"entities"`
	Concepts      int `json:"concepts"`
	BeliefsValues int `json:"beliefs_values"`
	Patterns      int `json:"patterns"`
	Relationships int `json:"relationships"`
	Failures      int `json:"failures"`
}

// Writer materializes candidates as user-scoped graph nodes
type Writer struct {
	graph  graph.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewWriter(store graph.Store) *Writer {
	return &Writer{
		graph:  store,
		logger: logger.Named("graph_writer"),
		now:    time.Now,
	}
}

// Write upserts every candidate and links it to the user root. Individual failures are logged
// and counted; the batch always runs to the end unless the user root itself cannot be written.
func (w *Writer) Write(ctx context.Context, userID string, c Candidates) WriteCounts {
	var counts WriteCounts

	if err := w.graph.EnsureUser(ctx, userID); err != nil {
		w.logger.Error("Failed to ensure user node", zap.String("user_id", userID), zap.Error(err))
		counts.Failures++
		return counts
	}

	for _, e := range c.Entities {
		subtype := e.Type
		if strings.TrimSpace(subtype) == "" {
			subtype = "Unknown"
		}
		node := graph.EntityNode{NodeBase: w.base(e.ID), Subtype: subtype, Name: e.Name, Info: e.Info}
		if w.link(ctx, userID, node, graph.RelKnowsAbout, &counts) {
			counts.Entities++
		}
	}

	for _, cc := range c.Concepts {
		node := graph.ConceptNode{NodeBase: w.base(cc.ID), Name: cc.Name, Description: cc.Description}
		if w.link(ctx, userID, node, graph.RelHasKnowledgeOf, &counts) {
			counts.Concepts++
		}
	}

	for _, bv := range c.BeliefsValues {
		node, rel := beliefOrValue(w.base(bv.ID), bv)
		if w.link(ctx, userID, node, rel, &counts) {
			counts.BeliefsValues++
		}
	}

	for _, p := range c.Patterns {
		node := graph.PatternNode{
			NodeBase:    w.base(p.ID),
			Name:        p.Name,
			Description: p.Description,
			Evidence:    p.Evidence,
			Confidence:  p.Confidence,
		}
		if w.link(ctx, userID, node, graph.RelHasPattern, &counts) {
			counts.Patterns++
		}
	}

	if counts.Failures > 0 {
		w.logger.Warn("Graph write finished with failures",
			zap.String("user_id", userID),
			zap.Int("failures", counts.Failures),
		)
	}
	return counts
}

// beliefOrValue picks the node variant for a belief/value candidate. Anything that is not
// a value is written as a belief.
func beliefOrValue(base graph.NodeBase, bv BeliefValue) (graph.Node, graph.RelType) {
	stmt := graph.Statement{Content: bv.Content, Evidence: bv.Evidence}
	if capitalize(strings.TrimSpace(bv.Type)) == string(graph.LabelValue) {
		return graph.ValueNode{NodeBase: base, Statement: stmt}, graph.RelHasValue
	}
	return graph.BeliefNode{NodeBase: base, Statement: stmt}, graph.RelHasBelief
}

// link upserts node and its edge from the user. It reports whether the node was written.
func (w *Writer) link(ctx context.Context, userID string, node graph.Node, rel graph.RelType, counts *WriteCounts) bool {
	if err := w.graph.UpsertNode(ctx, node); err != nil {
		w.logger.Warn("Failed to upsert node",
			zap.String("label", string(node.NodeLabel())),
			zap.String("id", node.NodeID()),
			zap.Error(err),
		)
		counts.Failures++
		return false
	}

	if err := w.graph.UpsertEdge(ctx, graph.UserEdge(userID, node, rel, w.now())); err != nil {
		w.logger.Warn("Failed to upsert relationship",
			zap.String("type", string(rel)),
			zap.String("id", node.NodeID()),
			zap.Error(err),
		)
		counts.Failures++
		return true
	}
	counts.Relationships++
	return true
}

func (w *Writer) base(id string) graph.NodeBase {
	return graph.NodeBase{ID: id, CreatedAt: w.now()}
}
