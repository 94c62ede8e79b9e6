package resolver

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/parsers"
)

// Field lookup order for generic extraction
var (
	llFields    = []string{"value", "position", "active"}
	stateFields = []string{"position", "value", "dimmer", "active", "switch", "level"}
)

// extracted is a value pulled out without knowing the sensor type
type extracted struct {
	numeric   *float64
	formatted string
	unit      string
	field     string
}

// genericExtract pulls a value out of any payload shape. The boolean is
// false when nothing usable was found.
func genericExtract(raw json.RawMessage) (extracted, bool) {
	if len(raw) == 0 {
		return extracted{}, false
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return extracted{}, false
	}

	obj, isObject := decoded.(map[string]interface{})
	if !isObject {
		return fromAny(decoded, "direct")
	}

	if ll, ok := obj["LL"].(map[string]interface{}); ok {
		for _, field := range llFields {
			if v, ok := ll[field]; ok {
				if e, ok := fromAny(v, "LL."+field); ok {
					return e, true
				}
			}
		}
	}

	for _, field := range stateFields {
		if v, ok := obj[field]; ok {
			if e, ok := fromAny(v, field); ok {
				return e, true
			}
		}
	}

	return extracted{}, false
}

// fromAny converts a decoded JSON or YAML scalar
func fromAny(v interface{}, field string) (extracted, bool) {
	switch val := v.(type) {
	case float64:
		return numericValue(val, field), true
	case float32:
		return numericValue(float64(val), field), true
	case int:
		return numericValue(float64(val), field), true
	case int64:
		return numericValue(float64(val), field), true
	case uint64:
		return numericValue(float64(val), field), true
	case bool:
		if val {
			return numericValue(1, field), true
		}
		return numericValue(0, field), true
	case string:
		text := strings.TrimSpace(val)
		if text == "" {
			return extracted{}, false
		}
		if n, unit, ok := parsers.SplitNumberUnit(text); ok {
			return extracted{numeric: &n, formatted: text, unit: unit, field: field}, true
		}
		return extracted{formatted: text, field: field}, true
	case json.Number:
		if n, err := val.Float64(); err == nil {
			return numericValue(n, field), true
		}
	}
	return extracted{}, false
}

func numericValue(n float64, field string) extracted {
	return extracted{
		numeric:   &n,
		formatted: strconv.FormatFloat(n, 'f', -1, 64),
		field:     field,
	}
}

// sampleText renders a payload for unknown-type descriptions
func sampleText(raw json.RawMessage) string {
	if e, ok := genericExtract(raw); ok {
		return e.formatted
	}
	const max = 64
	s := []rune(strings.TrimSpace(string(raw)))
	if len(s) > max {
		s = s[:max]
	}
	return string(s)
}
