// Package llmjson pulls JSON values out of free-form model output.
//
// Models frequently wrap the requested JSON in narration or markdown fences. ExtractSpan finds the first
// balanced array or object and reports explicitly whether it succeeded, so callers can degrade to an empty
// result instead of guessing.
package llmjson

import (
	"encoding/json"
	"errors"
	"strings"
)

// Kind selects which JSON container to look for
type Kind int

const (
	Array Kind = iota
	Object
)

func (k Kind) delimiters() (byte, byte) {
	if k == Object {
		return '{', '}'
	}
	return '[', ']'
}

func (k Kind) String() string {
	if k == Object {
		return "object"
	}
	return "array"
}

// Status describes the outcome of a span search
type Status int

const (
	// NotFound means no opening delimiter was present
	NotFound Status = iota
	// Found means a balanced span was located
	Found
	// Unbalanced means an opening delimiter was present but never closed
	Unbalanced
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Unbalanced:
		return "unbalanced"
	default:
		return "not_found"
	}
}

// Span is the result of ExtractSpan. Start and End are byte offsets into the input, End exclusive.
type Span struct {
	Text   string
	Start  int
	End    int
	Status Status
}

// OK reports whether a balanced span was found
func (s Span) OK() bool {
	return s.Status == Found
}

var (
	// ErrNoJSON is returned when the output contains no candidate span
	ErrNoJSON = errors.New("no JSON found in model output")
	// ErrInvalidJSON is returned when every candidate span fails to decode
	ErrInvalidJSON = errors.New("invalid JSON in model output")
)

// ExtractSpan returns the first balanced span of the given kind in raw.
// Brackets inside JSON string literals are ignored.
func ExtractSpan(raw string, kind Kind) Span {
	opening, closing := kind.delimiters()

	start := strings.IndexByte(raw, opening)
	if start < 0 {
		return Span{Start: -1, End: -1, Status: NotFound}
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case opening:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return Span{Text: raw[start : i+1], Start: start, End: i + 1, Status: Found}
			}
		}
	}

	return Span{Start: start, End: -1, Status: Unbalanced}
}

// OuterSpan returns the text from the first opening delimiter to the last closing one.
// It is the looser fallback used when the balanced span does not decode.
func OuterSpan(raw string, kind Kind) Span {
	opening, closing := kind.delimiters()
	start := strings.IndexByte(raw, opening)
	end := strings.LastIndexByte(raw, closing)
	if start < 0 {
		return Span{Start: -1, End: -1, Status: NotFound}
	}
	if end < start {
		return Span{Start: start, End: -1, Status: Unbalanced}
	}
	return Span{Text: raw[start : end+1], Start: start, End: end + 1, Status: Found}
}

// DecodeArray decodes the first JSON array in raw into a slice of T
func DecodeArray[T any](raw string) ([]T, error) {
	var out []T
	if err := decode(raw, Array, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeObject decodes the first JSON object in raw into T
func DecodeObject[T any](raw string) (T, error) {
	var out T
	err := decode(raw, Object, &out)
	return out, err
}

func decode(raw string, kind Kind, dst any) error {
	candidates := make([]string, 0, 2)
	if s := ExtractSpan(raw, kind); s.OK() {
		candidates = append(candidates, s.Text)
	}
	if s := OuterSpan(raw, kind); s.OK() && (len(candidates) == 0 || candidates[0] != s.Text) {
		candidates = append(candidates, s.Text)
	}
	if len(candidates) == 0 {
		return ErrNoJSON
	}

	var lastErr error
	for _, c := range candidates {
		if err := json.Unmarshal([]byte(c), dst); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Join(ErrInvalidJSON, lastErr)
}
