package constants

// Assistant constants
const (
	// AssistantName is how the chat assistant introduces itself
	AssistantName = "DeepIntrospect AI"

	// ChatTemperature is the sampling temperature for user-facing replies
	ChatTemperature = 0.7

	// ChatContextLimit is the number of most recent messages sent with each reply
	ChatContextLimit = 20
)

// Pipeline thresholds
const (
	// MinMessagesForExtraction is the window size below which the background pass is skipped
	MinMessagesForExtraction = 6

	// MinMessagesForInsights is the window size at which the full insight pass also runs
	MinMessagesForInsights = 10
)

// Extraction temperatures
const (
	EntityTemperature     = 0.2
	ConceptTemperature    = 0.3
	BeliefTemperature     = 0.3
	PatternTemperature    = 0.3
	InsightTemperature    = 0.3
	SummaryTemperature    = 0.3
	ConnectionTemperature = 0.3
)

// Insight defaults
const (
	// DefaultInsightConfidence is applied when a recorded insight carries no confidence
	DefaultInsightConfidence = 0.8

	// DefaultPatternConfidence is applied when an extracted pattern carries no confidence
	DefaultPatternConfidence = 0.5

	// RecentInsightsLimit caps the recent list in the analysis view
	RecentInsightsLimit = 5

	// TopPatternsLimit caps the pattern list in the analysis view
	TopPatternsLimit = 5
)

// Graph view sizing
const (
	UserNodeSize         = 20
	InsightNodeSize      = 10
	KnowledgeNodeSize    = 6
	InsightLabelMaxRunes = 30
	ConnectionLabelRunes = 20
	DefaultRelationship  = "related_to"
	ConnectionLinkType   = "connection"
	KnowledgeLinkType    = "knowledge"
	UnknownInsightType   = "unknown"
	TruncationEllipsis   = "..."
	DefaultGraphDepth    = 2
	ViewGraphDepth       = 1
	MaxGraphDepth        = 5
	DefaultSearchLimit   = 25
)
