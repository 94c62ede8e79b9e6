package parsers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
)

// ErrUnknownUnit is returned when a payload carries a unit the kind cannot convert
var ErrUnknownUnit = errors.New("unknown unit")

// NumericParser parses analog readings and normalizes them to the kind's canonical unit
type NumericParser struct {
	kind types.SensorKind
	// fraction scales unitless values in [0,1] to a percentage
	fraction bool
}

// NewNumericParser creates a parser for an analog sensor kind
func NewNumericParser(kind types.SensorKind) *NumericParser {
	return &NumericParser{kind: kind}
}

// NewPositionParser creates the blind position parser. Actuators report 0..1
// fractions, which are scaled to percent.
func NewPositionParser() *NumericParser {
	return &NumericParser{kind: types.SensorBlindPosition, fraction: true}
}

// Parse implements ValueParser
func (p *NumericParser) Parse(raw json.RawMessage) (types.ParsedValue, error) {
	parsed, _, err := p.parse(raw)
	return parsed, err
}

// Confidence implements ValueParser
func (p *NumericParser) Confidence(raw json.RawMessage) float64 {
	_, confidence, err := p.parse(raw)
	if err != nil {
		return 0
	}
	return confidence
}

func (p *NumericParser) parse(raw json.RawMessage) (types.ParsedValue, float64, error) {
	c, err := extract(raw)
	if err != nil {
		return types.ParsedValue{}, 0, err
	}

	canonical := p.kind.CanonicalUnit()

	var value float64
	var sourceUnit string
	keepText := false

	switch {
	case c.number != nil:
		value = *c.number
	case c.boolean != nil:
		if *c.boolean {
			value = 1
		}
	default:
		v, unit, ok := SplitNumberUnit(c.text)
		if !ok {
			return types.ParsedValue{}, 0, fmt.Errorf("%w: %q", ErrNotNumeric, c.text)
		}
		value, sourceUnit = v, unit
		keepText = unit != "" && unit == canonical
	}

	normalized, ok := normalizeUnit(p.kind, value, sourceUnit)
	if !ok {
		return types.ParsedValue{}, 0, fmt.Errorf("%w %q for %s", ErrUnknownUnit, sourceUnit, p.kind)
	}
	if p.fraction && sourceUnit == "" && normalized >= 0 && normalized <= 1 {
		normalized *= 100
	}

	formatted := FormatValue(normalized, canonical)
	if keepText {
		formatted = c.text
	}

	metadata := map[string]interface{}{
		"strategy": c.strategy,
	}
	if sourceUnit != "" && sourceUnit != canonical {
		metadata["source_unit"] = sourceUnit
	}

	return types.ParsedValue{
		Numeric:   types.Float64Ptr(normalized),
		Formatted: formatted,
		Unit:      canonical,
		Metadata:  metadata,
	}, c.confidence, nil
}
