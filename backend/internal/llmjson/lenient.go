package llmjson

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

var null = []byte("null")

// Text is a string field that accepts any JSON value. Non-string values keep their JSON encoding,
// so a model that answers with an object where a string was asked for still yields something readable.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	*t = Text(data)
	return nil
}

func (t Text) String() string {
	return string(t)
}

// Number is a numeric field that also accepts numeric strings. Set is false when the field was
// absent, null, unparseable or not finite.
type Number struct {
	Value float64
	Set   bool
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		n.Value, n.Set = f, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		n.Value, n.Set = f, true
	}
	return nil
}

// Unit returns the value clamped to [0,1], or def when unset
func (n Number) Unit(def float64) float64 {
	if !n.Set {
		return def
	}
	return min(max(n.Value, 0), 1)
}
