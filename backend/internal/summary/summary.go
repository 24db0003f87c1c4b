package summary

import (
	"bytes"
	"encoding/json"
	"strings"

	"deepintrospect/backend/internal/llmjson"
)

// Section names requested from the model
var Sections = []string{
	"Overall Summary",
	"Key Traits",
	"Values & Beliefs",
	"Goals & Aspirations",
	"Challenges",
	"Patterns",
}

const (
	NoInsightsText = "No insights available yet."
	ErrorText      = "Error generating summary."
)

// UserSummary is the narrative built from a user's insights
type UserSummary struct {
	Summary    string             `json:"summary"`
	Categories map[string]Section `json:"categories"`
}

func NoInsights() UserSummary {
	return UserSummary{Summary: NoInsightsText, Categories: map[string]Section{}}
}

func Fallback() UserSummary {
	return UserSummary{Summary: ErrorText, Categories: map[string]Section{}}
}

// Section is one part of a summary. Models answer with either a bare string or an object,
// and evidence may be a string or a list; both shapes decode.
type Section struct {
	Content  string   `json:"content"`
	Evidence []string `json:"evidence,omitempty"`
}

func (s *Section) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*s = Section{}

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		return json.Unmarshal(data, &s.Content)
	case data[0] == '[':
		var parts []llmjson.Text
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		lines := make([]string, 0, len(parts))
		for _, p := range parts {
			lines = append(lines, p.String())
		}
		s.Content = strings.Join(lines, "\n")
		return nil
	case data[0] != '{':
		s.Content = string(data)
		return nil
	}

	var obj struct {
		Content     *llmjson.Text   `json:"content"`
		Summary     *llmjson.Text   `json:"summary"`
		Description *llmjson.Text   `json:"description"`
		Text        *llmjson.Text   `json:"text"`
		Evidence    json.RawMessage `json:"evidence"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for _, candidate := range []*llmjson.Text{obj.Content, obj.Summary, obj.Description, obj.Text} {
		if candidate != nil && *candidate != "" {
			s.Content = candidate.String()
			break
		}
	}
	if s.Content == "" {
		s.Content = string(data)
	}
	s.Evidence = evidenceList(obj.Evidence)
	return nil
}

func evidenceList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []llmjson.Text
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, e := range list {
			if e != "" {
				out = append(out, e.String())
			}
		}
		return out
	}
	var single llmjson.Text
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single.String()}
	}
	return nil
}

// rawSummary is the object shape asked of the model
type rawSummary struct {
	Summary    llmjson.Text       `json:"summary"`
	Categories map[string]Section `json:"categories"`
}
