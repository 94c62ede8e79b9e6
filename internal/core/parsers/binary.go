package parsers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
)

var (
	activeWords   = map[string]bool{"1": true, "true": true, "open": true, "on": true}
	inactiveWords = map[string]bool{"0": true, "false": true, "closed": true, "off": true}
)

// BinaryParser parses active/inactive sensors (motion, contact, smoke)
type BinaryParser struct {
	kind     types.SensorKind
	active   string
	inactive string
}

// NewBinaryParser creates a parser for a binary sensor kind
func NewBinaryParser(kind types.SensorKind) *BinaryParser {
	p := &BinaryParser{kind: kind, active: "active", inactive: "inactive"}
	switch kind {
	case types.SensorDoorWindowContact:
		p.active, p.inactive = "open", "closed"
	case types.SensorSmokeDetector:
		p.active, p.inactive = "alarm", "clear"
	}
	return p
}

// Parse implements ValueParser
func (p *BinaryParser) Parse(raw json.RawMessage) (types.ParsedValue, error) {
	parsed, _, err := p.parse(raw)
	return parsed, err
}

// Confidence implements ValueParser
func (p *BinaryParser) Confidence(raw json.RawMessage) float64 {
	_, confidence, err := p.parse(raw)
	if err != nil {
		return 0
	}
	return confidence
}

func (p *BinaryParser) parse(raw json.RawMessage) (types.ParsedValue, float64, error) {
	c, err := extract(raw)
	if err != nil {
		return types.ParsedValue{}, 0, err
	}

	active, err := isActive(c)
	if err != nil {
		return types.ParsedValue{}, 0, err
	}

	value, label := 0.0, p.inactive
	if active {
		value, label = 1.0, p.active
	}

	confidence := c.confidence
	if c.text != "" && c.strategy != StrategyLLValue {
		confidence = ConfidenceBareString
	}

	return types.ParsedValue{
		Numeric:   types.Float64Ptr(value),
		Formatted: label,
		Metadata: map[string]interface{}{
			"strategy": c.strategy,
			"active":   active,
		},
	}, confidence, nil
}

// isActive treats booleans, numbers above zero and a fixed word set as active
func isActive(c candidate) (bool, error) {
	switch {
	case c.boolean != nil:
		return *c.boolean, nil
	case c.number != nil:
		return *c.number > 0, nil
	}

	word := strings.ToLower(strings.TrimSpace(c.text))
	if activeWords[word] {
		return true, nil
	}
	if inactiveWords[word] {
		return false, nil
	}
	if v, _, ok := SplitNumberUnit(word); ok {
		return v > 0, nil
	}
	return false, fmt.Errorf("%w: %q is not a binary state", ErrNotNumeric, c.text)
}
