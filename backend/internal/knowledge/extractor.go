package knowledge

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/llmjson"
	"deepintrospect/backend/internal/metrics"
	"deepintrospect/backend/internal/state"
	apperrors "deepintrospect/backend/pkg/errors"
	"deepintrospect/backend/pkg/logger"
)

// Entity is an extracted named entity
type Entity struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Info string `json:"info"`
}

// Concept is an extracted abstract idea
type Concept struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// BeliefValue is an extracted belief or value; Type is whatever the model reported
type BeliefValue struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Evidence string `json:"evidence"`
}

// Pattern is an extracted behavioral or thinking pattern
type Pattern struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Evidence    string  `json:"evidence"`
	Confidence  float64 `json:"confidence"`
}

// Candidates is the output of one extraction pass
type Candidates struct {
	Entities      []Entity      `json:"entities"`
	Concepts      []Concept     `json:"concepts"`
	BeliefsValues []BeliefValue `json:"beliefs_values"`
	Patterns      []Pattern     `json:"patterns"`
}

// Empty reports whether nothing was extracted
func (c Candidates) Empty() bool {
	return len(c.Entities) == 0 && len(c.Concepts) == 0 && len(c.BeliefsValues) == 0 && len(c.Patterns) == 0
}

// PatternFinder looks up a user's persisted patterns
type PatternFinder interface {
	FindPatterns(ctx context.Context, userID string) ([]graph.PatternNode, error)
}

// ExtractorConfig tunes an Extractor
type ExtractorConfig struct {
	// CallTimeout bounds each LLM call; zero means no extra bound
	CallTimeout time.Duration
	MaxTokens   int
	Metrics     *metrics.Collector
}

// Extractor turns a message window into candidate graph content
type Extractor struct {
	llm      adapter.Provider
	patterns PatternFinder
	cfg      ExtractorConfig
	logger   *zap.Logger
}

func NewExtractor(llm adapter.Provider, patterns PatternFinder, cfg ExtractorConfig) *Extractor {
	return &Extractor{
		llm:      llm,
		patterns: patterns,
		cfg:      cfg,
		logger:   logger.Named("extractor"),
	}
}

// Extract runs the four category passes concurrently. A category whose call or parse fails
// yields an empty list; no error is returned. An empty window makes no LLM call.
func (e *Extractor) Extract(ctx context.Context, userID string, messages []state.Message) Candidates {
	var out Candidates
	if len(messages) == 0 {
		return out
	}

	transcript := RenderTranscript(messages)

	var existing []graph.PatternNode
	if e.patterns != nil {
		found, err := e.patterns.FindPatterns(ctx, userID)
		if err != nil {
			e.logger.Warn("Failed to load existing patterns", zap.String("user_id", userID), zap.Error(err))
		} else {
			existing = found
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		items := runCategory[rawEntity](ctx, e, CategoryEntities, entityPrompt(transcript, constants.EntityTemperature))
		out.Entities = make([]Entity, 0, len(items))
		for _, it := range items {
			out.Entities = append(out.Entities, Entity{
				ID:   uuid.NewString(),
				Type: string(it.Type),
				Name: string(it.Name),
				Info: string(it.Info),
			})
		}
		return nil
	})
	g.Go(func() error {
		items := runCategory[rawConcept](ctx, e, CategoryConcepts, conceptPrompt(transcript, constants.ConceptTemperature))
		out.Concepts = make([]Concept, 0, len(items))
		for _, it := range items {
			out.Concepts = append(out.Concepts, Concept{
				ID:          uuid.NewString(),
				Name:        string(it.Name),
				Description: string(it.Description),
			})
		}
		return nil
	})
	g.Go(func() error {
		items := runCategory[rawBeliefValue](ctx, e, CategoryBeliefsValues, beliefValuePrompt(transcript, constants.BeliefTemperature))
		out.BeliefsValues = make([]BeliefValue, 0, len(items))
		for _, it := range items {
			out.BeliefsValues = append(out.BeliefsValues, BeliefValue{
				ID:       uuid.NewString(),
				Type:     string(it.Type),
				Content:  string(it.Content),
				Evidence: string(it.Evidence),
			})
		}
		return nil
	})
	g.Go(func() error {
		items := runCategory[rawPattern](ctx, e, CategoryPatterns, patternPrompt(transcript, existing, constants.PatternTemperature))
		out.Patterns = make([]Pattern, 0, len(items))
		for _, it := range items {
			out.Patterns = append(out.Patterns, Pattern{
				ID:          uuid.NewString(),
				Name:        string(it.Name),
				Description: string(it.Description),
				Evidence:    string(it.Evidence),
				Confidence:  it.Confidence.Unit(constants.DefaultPatternConfidence),
			})
		}
		return nil
	})
	_ = g.Wait()

	e.logger.Debug("Extraction pass complete",
		zap.String("user_id", userID),
		zap.Int("messages", len(messages)),
		zap.Int("entities", len(out.Entities)),
		zap.Int("concepts", len(out.Concepts)),
		zap.Int("beliefs_values", len(out.BeliefsValues)),
		zap.Int("patterns", len(out.Patterns)),
	)
	return out
}

// runCategory performs one call under the per-call timeout and decodes the first JSON array in the reply
func runCategory[T any](ctx context.Context, e *Extractor, cat Category, p prompt) []T {
	callCtx := ctx
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	raw, err := e.llm.GenerateText(callCtx, p.text, p.systemMessage, p.temperature, e.cfg.MaxTokens)
	if err != nil {
		e.logger.Warn("Extraction call failed", zap.String("category", string(cat)), zap.Error(err))
		e.cfg.Metrics.ExtractionFailed(string(cat), "llm")
		return nil
	}

	items, err := llmjson.DecodeArray[T](raw)
	if err != nil {
		e.logger.Warn("Failed to parse extraction response",
			zap.String("category", string(cat)),
			zap.Int("response_length", len(raw)),
			zap.Error(apperrors.NewParseFailed(string(cat), err)),
		)
		e.cfg.Metrics.ExtractionFailed(string(cat), "parse")
		return nil
	}
	e.cfg.Metrics.ExtractionResult(string(cat), len(items))
	return items
}

// Shapes requested from the model
type rawEntity struct {
	Type llmjson.Text `json:"type"`
	Name llmjson.Text `json:"name"`
	Info llmjson.Text `json:"info"`
}

type rawConcept struct {
	Name        llmjson.Text `json:"name"`
	Description llmjson.Text `json:"description"`
}

type rawBeliefValue struct {
	Type     llmjson.Text `json:"type"`
	Content  llmjson.Text `json:"content"`
	Evidence llmjson.Text `json:"evidence"`
}

type rawPattern struct {
	Name        llmjson.Text   `json:"name"`
	Description llmjson.Text   `json:"description"`
	Evidence    llmjson.Text   `json:"evidence"`
	Confidence  llmjson.Number `json:"confidence"`
}
