package parsers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Tier confidences
const (
	ConfidenceLLValue      = 0.9
	ConfidenceDirectNumber = 0.7
	ConfidenceBareString   = 0.7
	ConfidenceUnitString   = 0.6
	ConfidenceLooseString  = 0.5
)

// Strategy names recorded in ParsedValue metadata
const (
	StrategyLLValue      = "ll_value"
	StrategyDirectNumber = "direct_number"
	StrategyDirectBool   = "direct_bool"
	StrategyString       = "string"
)

var numberWithUnit = regexp.MustCompile(`^\s*([-+]?(?:\d+(?:[.,]\d*)?|[.,]\d+)(?:[eE][-+]?\d+)?)\s*(.*?)\s*$`)

// candidate is the raw value a parser works from
type candidate struct {
	strategy   string
	text       string
	number     *float64
	boolean    *bool
	confidence float64
}

// extract pulls the most reliable raw value out of a payload. Order: LL.value,
// direct number, direct bool, direct string.
func extract(raw json.RawMessage) (candidate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return candidate{}, ErrEmptyPayload
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return candidate{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch v := decoded.(type) {
	case map[string]interface{}:
		if ll, ok := v["LL"].(map[string]interface{}); ok {
			if value, ok := ll["value"]; ok {
				c, err := fromScalar(value, StrategyLLValue)
				if err == nil {
					c.confidence = ConfidenceLLValue
				}
				return c, err
			}
		}
		return candidate{}, ErrNoValue
	default:
		return fromScalar(v, "")
	}
}

func fromScalar(v interface{}, strategy string) (candidate, error) {
	switch val := v.(type) {
	case float64:
		if strategy == "" {
			strategy = StrategyDirectNumber
		}
		return candidate{strategy: strategy, number: &val, confidence: ConfidenceDirectNumber}, nil
	case bool:
		if strategy == "" {
			strategy = StrategyDirectBool
		}
		return candidate{strategy: strategy, boolean: &val, confidence: ConfidenceDirectNumber}, nil
	case string:
		if strategy == "" {
			strategy = StrategyString
		}
		text := strings.TrimSpace(val)
		if text == "" {
			return candidate{}, ErrNoValue
		}
		return candidate{strategy: strategy, text: text, confidence: stringConfidence(text)}, nil
	}
	return candidate{}, ErrNoValue
}

// stringConfidence grades a string by how much unit stripping it needs
func stringConfidence(text string) float64 {
	_, unit, ok := SplitNumberUnit(text)
	switch {
	case !ok:
		return ConfidenceLooseString
	case unit == "":
		return ConfidenceBareString
	case isKnownUnit(unit):
		return ConfidenceUnitString
	default:
		return ConfidenceLooseString
	}
}

// SplitNumberUnit splits "21.4°C" into 21.4 and "°C". A decimal comma is accepted.
func SplitNumberUnit(text string) (float64, string, bool) {
	m := numberWithUnit.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	num := strings.Replace(m[1], ",", ".", 1)
	value, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, "", false
	}
	return value, strings.TrimSpace(m[2]), true
}

// FormatValue renders a number with its unit
func FormatValue(value float64, unit string) string {
	rounded := math.Round(value*1000) / 1000
	text := strconv.FormatFloat(rounded, 'f', -1, 64)
	switch {
	case unit == "":
		return text
	case unit == "%" || strings.HasPrefix(unit, "°"):
		return text + unit
	default:
		return text + " " + unit
	}
}
