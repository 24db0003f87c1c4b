package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/cache"
	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/llmjson"
	"deepintrospect/backend/internal/metrics"
	"deepintrospect/backend/internal/state"
	apperrors "deepintrospect/backend/pkg/errors"
	"deepintrospect/backend/pkg/logger"
)

// InsightLister loads a user's insights, newest first
type InsightLister interface {
	ListInsights(ctx context.Context, userID string, filter state.InsightFilter) ([]state.Insight, error)
}

// GraphReader fetches the user's knowledge graph
type GraphReader interface {
	UserGraph(ctx context.Context, userID string, depth int) (*graph.Subgraph, error)
}

// Config tunes a Synthesizer
type Config struct {
	CallTimeout time.Duration
	MaxTokens   int
	CacheTTL    time.Duration
	Metrics     *metrics.Collector
}

// maxGraphContextNodes bounds how much of the knowledge graph goes into the prompt
const maxGraphContextNodes = 50

const summarySystem = "You are an AI assistant tasked with creating insightful user summaries. Be thoughtful, respectful, and evidence-based in your analysis."

// Synthesizer turns a user's insights into a sectioned narrative
type Synthesizer struct {
	insights InsightLister
	graph    GraphReader
	llm      adapter.Provider
	cache    cache.Cache
	cfg      Config
	logger   *zap.Logger
}

// NewSynthesizer builds a Synthesizer. kg and c may be nil.
func NewSynthesizer(insights InsightLister, kg GraphReader, llm adapter.Provider, c cache.Cache, cfg Config) *Synthesizer {
	if c == nil {
		c = cache.Nop{}
	}
	return &Synthesizer{
		insights: insights,
		graph:    kg,
		llm:      llm,
		cache:    c,
		cfg:      cfg,
		logger:   logger.Named("summary"),
	}
}

// GenerateUserSummary never fails: no insights yields the empty-state summary without an LLM call,
// and any generation or parse failure yields the error summary.
func (s *Synthesizer) GenerateUserSummary(ctx context.Context, userID string) UserSummary {
	list, err := s.insights.ListInsights(ctx, userID, state.InsightFilter{})
	if err != nil {
		s.logger.Warn("Failed to load insights for summary", zap.String("user_id", userID), zap.Error(err))
		return NoInsights()
	}
	return s.Summarize(ctx, userID, list)
}

// Summarize builds the summary for an already loaded insight list (newest first)
func (s *Synthesizer) Summarize(ctx context.Context, userID string, list []state.Insight) UserSummary {
	if len(list) == 0 {
		return NoInsights()
	}

	key := CacheKey(userID, list)
	var cached UserSummary
	switch err := s.cache.Get(ctx, key, &cached); {
	case err == nil:
		s.cfg.Metrics.CacheLookup("summary", true)
		return cached
	case !errors.Is(err, cache.ErrMiss):
		s.logger.Warn("Summary cache read failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.cfg.Metrics.CacheLookup("summary", false)

	result, err := s.generate(ctx, userID, list)
	if err != nil {
		s.logger.Warn("Failed to generate summary", zap.String("user_id", userID), zap.Error(err))
		return Fallback()
	}

	if err := s.cache.Set(ctx, key, result, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("Summary cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return result
}

func (s *Synthesizer) generate(ctx context.Context, userID string, list []state.Insight) (UserSummary, error) {
	prompt, err := s.buildPrompt(ctx, userID, list)
	if err != nil {
		return UserSummary{}, err
	}

	callCtx := ctx
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}
	raw, err := s.llm.GenerateText(callCtx, prompt, summarySystem, constants.SummaryTemperature, s.cfg.MaxTokens)
	if err != nil {
		return UserSummary{}, err
	}

	parsed, err := llmjson.DecodeObject[rawSummary](raw)
	if err != nil {
		return UserSummary{}, apperrors.NewParseFailed("summary", err)
	}
	out := UserSummary{Summary: parsed.Summary.String(), Categories: parsed.Categories}
	if out.Categories == nil {
		out.Categories = map[string]Section{}
	}
	return out, nil
}

type promptInsight struct {
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Evidence   string    `json:"evidence,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

type promptNode struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

func (s *Synthesizer) buildPrompt(ctx context.Context, userID string, list []state.Insight) (string, error) {
	items := make([]promptInsight, 0, len(list))
	for _, in := range list {
		items = append(items, promptInsight{
			Type:       in.Type,
			Content:    in.Content,
			Evidence:   in.Evidence,
			Confidence: in.Confidence,
			CreatedAt:  in.CreatedAt,
		})
	}
	insightsJSON, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Generate a comprehensive summary of the user based on the following insights and knowledge graph data.\n\n")
	sb.WriteString("Organize the summary into the following sections:\n")
	descriptions := []string{
		"A concise paragraph describing the user",
		"Personality characteristics or tendencies",
		"What matters to the user and their worldview",
		"What the user is working towards",
		"What the user is struggling with",
		"Recurring behaviors or thought processes",
	}
	for i, name := range Sections {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, name, descriptions[i])
	}
	sb.WriteString("\nFor each section, cite specific insights as evidence.\n\n")
	fmt.Fprintf(&sb, "User Insights:\n%s\n", insightsJSON)

	if nodes := s.graphContext(ctx, userID); len(nodes) > 0 {
		if data, err := json.MarshalIndent(nodes, "", "  "); err == nil {
			fmt.Fprintf(&sb, "\nKnowledge Graph:\n%s\n", data)
		}
	}

	sb.WriteString("\nFormat the output as a JSON object with \"summary\" (the overall paragraph) and \"categories\" ")
	sb.WriteString("(an object keyed by the section names above, each with \"content\" and \"evidence\").\n")
	return sb.String(), nil
}

// graphContext is best effort; any failure just leaves the graph out of the prompt
func (s *Synthesizer) graphContext(ctx context.Context, userID string) []promptNode {
	if s.graph == nil {
		return nil
	}
	sub, err := s.graph.UserGraph(ctx, userID, constants.DefaultGraphDepth)
	if err != nil {
		s.logger.Debug("Knowledge graph unavailable for summary", zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	var nodes []promptNode
	for _, n := range sub.Nodes {
		if n.ID == userID || len(n.Labels) == 0 {
			continue
		}
		text := firstString(n.Properties, "name", "content", "description")
		if text == "" {
			continue
		}
		nodes = append(nodes, promptNode{Label: n.Labels[0], Text: text})
		if len(nodes) == maxGraphContextNodes {
			break
		}
	}
	return nodes
}

func firstString(props map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := props[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// CacheKey identifies a summary by the insight set it was built from. list must be newest first,
// so a newly recorded insight changes the key.
func CacheKey(userID string, list []state.Insight) string {
	newest := ""
	if len(list) > 0 {
		newest = list[0].ID
	}
	return fmt.Sprintf("summary:%s:%d:%s", userID, len(list), newest)
}
