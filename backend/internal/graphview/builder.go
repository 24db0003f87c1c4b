// Package graphview builds the node/link visualization of a user's insights.
package graphview

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/llmjson"
	"deepintrospect/backend/internal/metrics"
	"deepintrospect/backend/internal/state"
	apperrors "deepintrospect/backend/pkg/errors"
	"deepintrospect/backend/pkg/logger"
)

type Node struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Size     int    `json:"size"`
	Content  string `json:"content,omitempty"`
	Evidence string `json:"evidence,omitempty"`
}

type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
	Type   string `json:"type"`
}

// View is a renderable graph
type View struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

func empty() *View {
	return &View{Nodes: []Node{}, Links: []Link{}}
}

// Config tunes the connection pass
type Config struct {
	CallTimeout time.Duration
	MaxTokens   int
	Metrics     *metrics.Collector
}

// Builder builds insight views
type Builder struct {
	llm    adapter.Provider
	cfg    Config
	logger *zap.Logger
}

func NewBuilder(llm adapter.Provider, cfg Config) *Builder {
	return &Builder{llm: llm, cfg: cfg, logger: logger.Named("graphview")}
}

// Build returns the star graph of insights around the user, extended with model-proposed connections
// and, when kg is not nil, with the knowledge nodes linked to the user.
func (b *Builder) Build(ctx context.Context, userID string, insights []state.Insight, kg *graph.Subgraph) *View {
	view, _ := b.build(ctx, userID, insights, kg)
	return view
}

// build is Build that also reports whether the view is complete. It is not when the connection
// pass was attempted and failed.
func (b *Builder) build(ctx context.Context, userID string, insights []state.Insight, kg *graph.Subgraph) (*View, bool) {
	if len(insights) == 0 {
		return empty(), true
	}

	view := empty()
	view.Nodes = append(view.Nodes, Node{
		ID:    userID,
		Label: "User",
		Type:  "user",
		Size:  constants.UserNodeSize,
	})
	emitted := map[string]bool{userID: true}

	var insightNodes []state.Insight
	for _, in := range insights {
		if in.ID == "" || emitted[in.ID] {
			continue
		}
		typ := strings.ToLower(strings.TrimSpace(in.Type))
		if typ == "" {
			typ = constants.UnknownInsightType
		}
		view.Nodes = append(view.Nodes, Node{
			ID:       in.ID,
			Label:    Truncate(in.Content, constants.InsightLabelMaxRunes),
			Type:     typ,
			Size:     constants.InsightNodeSize,
			Content:  in.Content,
			Evidence: in.Evidence,
		})
		view.Links = append(view.Links, Link{
			Source: userID,
			Target: in.ID,
			Label:  "has_" + typ,
			Type:   typ,
		})
		emitted[in.ID] = true
		insightNodes = append(insightNodes, in)
	}

	complete := true
	if len(insightNodes) >= 2 {
		links, ok := b.connections(ctx, insightNodes)
		view.Links = append(view.Links, links...)
		complete = ok
	}
	if kg != nil {
		mergeKnowledge(view, userID, kg, emitted)
	}
	return view, complete
}

// Truncate shortens s to n runes, appending an ellipsis only when something was cut
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + constants.TruncationEllipsis
}

// ============================================================================
// Connection pass
// ============================================================================

const connectionSystem = "You are an AI assistant tasked with finding meaningful connections between insights. Focus on substantial relationships."

type promptInsight struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Evidence string `json:"evidence,omitempty"`
}

type rawConnection struct {
	Source       llmjson.Text `json:"source"`
	Target       llmjson.Text `json:"target"`
	Relationship llmjson.Text `json:"relationship"`
}

func connectionPrompt(insights []state.Insight) (string, error) {
	items := make([]promptInsight, 0, len(insights))
	for _, in := range insights {
		items = append(items, promptInsight{ID: in.ID, Type: in.Type, Content: in.Content, Evidence: in.Evidence})
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Analyze the following user insights and identify connections between them.
For each pair of connected insights, explain the relationship between them.
Return the connections as a JSON list where each object has "source" (insight ID), "target" (insight ID), and "relationship" (description of how they're related).
Only include meaningful connections where there is a clear relationship.

User Insights:
%s

Connections (as JSON list):`, data), nil
}

// connections asks the model for links between insights. Any failure yields no links and false.
func (b *Builder) connections(ctx context.Context, insights []state.Insight) ([]Link, bool) {
	if b.llm == nil {
		return nil, true
	}
	known := make(map[string]bool, len(insights))
	for _, in := range insights {
		known[in.ID] = true
	}
	prompt, err := connectionPrompt(insights)
	if err != nil {
		return nil, false
	}

	callCtx := ctx
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}
	raw, err := b.llm.GenerateText(callCtx, prompt, connectionSystem, constants.ConnectionTemperature, b.cfg.MaxTokens)
	if err != nil {
		b.logger.Warn("Connection pass failed", zap.Error(err))
		b.cfg.Metrics.ExtractionFailed("connections", "llm")
		return nil, false
	}
	proposed, err := llmjson.DecodeArray[rawConnection](raw)
	if err != nil {
		b.logger.Warn("Failed to parse connections", zap.Error(apperrors.NewParseFailed("connections", err)))
		b.cfg.Metrics.ExtractionFailed("connections", "parse")
		return nil, false
	}

	links := make([]Link, 0, len(proposed))
	for _, c := range proposed {
		source, target := strings.TrimSpace(c.Source.String()), strings.TrimSpace(c.Target.String())
		if source == "" || target == "" || source == target {
			continue
		}
		// Only insight nodes can be connected; the user root and unknown ids are dropped
		if !known[source] || !known[target] {
			continue
		}
		relationship := strings.TrimSpace(c.Relationship.String())
		if relationship == "" {
			relationship = constants.DefaultRelationship
		}
		links = append(links, Link{
			Source: source,
			Target: target,
			Label:  Truncate(relationship, constants.ConnectionLabelRunes),
			Type:   constants.ConnectionLinkType,
		})
	}
	b.cfg.Metrics.ExtractionResult("connections", len(links))
	return links, true
}

// ============================================================================
// Knowledge-graph merge
// ============================================================================

// knowledgeLabels are the extracted node kinds shown next to insights
var knowledgeLabels = map[string]bool{
	string(graph.LabelEntity):  true,
	string(graph.LabelConcept): true,
	string(graph.LabelPattern): true,
	string(graph.LabelBelief):  true,
	string(graph.LabelValue):   true,
}

// mergeKnowledge adds the knowledge nodes directly linked to the user, then every relationship
// between view nodes as a knowledge link. Mirrored insight nodes share the insight id and are
// not added twice.
func mergeKnowledge(view *View, userID string, kg *graph.Subgraph, emitted map[string]bool) {
	adjacent := make(map[string]bool)
	for _, rel := range kg.Relationships {
		if rel.Source == userID {
			adjacent[rel.Target] = true
		}
	}

	for _, n := range kg.Nodes {
		if n.ID == "" || emitted[n.ID] || !adjacent[n.ID] {
			continue
		}
		label, ok := knowledgeLabel(n.Labels)
		if !ok {
			continue
		}
		name := firstString(n.Properties, "name", "content")
		view.Nodes = append(view.Nodes, Node{
			ID:       n.ID,
			Label:    Truncate(name, constants.InsightLabelMaxRunes),
			Type:     strings.ToLower(label),
			Size:     constants.KnowledgeNodeSize,
			Content:  firstString(n.Properties, "description", "info", "content"),
			Evidence: firstString(n.Properties, "evidence"),
		})
		emitted[n.ID] = true
	}

	view.Links = append(view.Links, knowledgeLinks(kg, emitted, view.Links)...)
}

func knowledgeLabel(labels []string) (string, bool) {
	for _, l := range labels {
		if knowledgeLabels[l] {
			return l, true
		}
	}
	return "", false
}

func firstString(props map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := props[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// knowledgeLinks turns graph relationships between view nodes into links, skipping duplicates
func knowledgeLinks(kg *graph.Subgraph, emitted map[string]bool, existing []Link) []Link {
	type key struct{ source, target, label string }
	seen := make(map[key]bool, len(existing))
	for _, l := range existing {
		seen[key{l.Source, l.Target, l.Label}] = true
	}

	var links []Link
	for _, rel := range kg.Relationships {
		if rel.Source == rel.Target || !emitted[rel.Source] || !emitted[rel.Target] {
			continue
		}
		label := strings.ToLower(rel.Type)
		k := key{rel.Source, rel.Target, label}
		if seen[k] {
			continue
		}
		seen[k] = true
		links = append(links, Link{
			Source: rel.Source,
			Target: rel.Target,
			Label:  label,
			Type:   constants.KnowledgeLinkType,
		})
	}
	return links
}
