package knowledge

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/state"
)

// Category names one extraction pass
type Category string

const (
	CategoryEntities      Category = "entities"
	CategoryConcepts      Category = "concepts"
	CategoryBeliefsValues Category = "beliefs_values"
	CategoryPatterns      Category = "patterns"
)

// prompt is one rendered extraction request
type prompt struct {
	text          string
	systemMessage string
	temperature   float64
}

const (
	entitySystem  = "You are an AI assistant tasked with extracting named entities from text. Be precise and only extract clearly defined entities."
	conceptSystem = "You are an AI assistant tasked with extracting abstract concepts from text. Focus on meaningful ideas and themes."
	beliefSystem  = "You are an AI assistant tasked with extracting beliefs and values from text. Be evidence-based and avoid over-interpretation."
	patternSystem = "You are an AI assistant tasked with identifying behavioral and thinking patterns. Be evidence-based and assign appropriate confidence levels."
)

// RenderTranscript formats messages as "Role: content" lines
func RenderTranscript(messages []state.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", capitalize(msg.Role), msg.Content))
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func entityPrompt(transcript string, temperature float64) prompt {
	return prompt{
		text: fmt.Sprintf(`Extract named entities from the following conversation.
Include people, places, organizations, products, and other specific entities mentioned.
For each entity, provide the entity type, name, and any additional information mentioned.
Format the output as a JSON list where each object has "type", "name", and "info" fields.

Conversation:
%s

Entities (as JSON):`, transcript),
		systemMessage: entitySystem,
		temperature:   temperature,
	}
}

func conceptPrompt(transcript string, temperature float64) prompt {
	return prompt{
		text: fmt.Sprintf(`Extract abstract concepts discussed in the following conversation.
Focus on ideas, themes, and topics rather than specific entities.
For each concept, provide the name and a brief description based on the conversation.
Format the output as a JSON list where each object has "name" and "description" fields.

Conversation:
%s

Concepts (as JSON):`, transcript),
		systemMessage: conceptSystem,
		temperature:   temperature,
	}
}

func beliefValuePrompt(transcript string, temperature float64) prompt {
	return prompt{
		text: fmt.Sprintf(`Extract beliefs and values expressed by the user in the following conversation.
Beliefs are statements about what the user thinks is true about the world.
Values are principles or qualities that the user considers important or worthwhile.
For each belief or value, provide the type ("belief" or "value"), the content, and evidence from the conversation.
Format the output as a JSON list where each object has "type", "content", and "evidence" fields.

Conversation:
%s

Beliefs and Values (as JSON):`, transcript),
		systemMessage: beliefSystem,
		temperature:   temperature,
	}
}

func patternPrompt(transcript string, existing []graph.PatternNode, temperature float64) prompt {
	return prompt{
		text: fmt.Sprintf(`Identify behavioral or thinking patterns based on the conversation and existing known patterns.
Consider how the user approaches problems, recurring themes, or habits that emerge from their statements.

Existing patterns for this user:
%s

Conversation:
%s

For each pattern, provide a name, description, evidence from the conversation, and confidence level (0.0-1.0).
Format the output as a JSON list where each object has "name", "description", "evidence", and "confidence" fields.
Include both new patterns and updates to existing patterns if supported by this conversation.

Patterns (as JSON):`, existingPatternsJSON(existing), transcript),
		systemMessage: patternSystem,
		temperature:   temperature,
	}
}

type existingPattern struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Evidence    string  `json:"evidence,omitempty"`
	Confidence  float64 `json:"confidence"`
}

func existingPatternsJSON(patterns []graph.PatternNode) string {
	if len(patterns) == 0 {
		return "[]"
	}
	list := make([]existingPattern, 0, len(patterns))
	for _, p := range patterns {
		list = append(list, existingPattern{
			Name:        p.Name,
			Description: p.Description,
			Evidence:    p.Evidence,
			Confidence:  p.Confidence,
		})
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}
