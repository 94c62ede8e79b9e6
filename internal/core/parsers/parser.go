package parsers

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/sirupsen/logrus"
)

// Parser errors. None of these reach resolver callers; the fallback chain absorbs them.
var (
	ErrEmptyPayload     = errors.New("empty payload")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrNoValue          = errors.New("no value in payload")
	ErrNotNumeric       = errors.New("value is not numeric")
	ErrParserNotFound   = errors.New("no parser registered for sensor type")
	ErrParserExists     = errors.New("parser already registered")
)

// ValueParser extracts a typed value from a raw device payload
type ValueParser interface {
	// Parse returns the parsed value or an error when the payload has no usable value
	Parse(raw json.RawMessage) (types.ParsedValue, error)

	// Confidence grades how reliable Parse would be for this payload, 0 when unusable
	Confidence(raw json.RawMessage) float64
}

// Registry maps parser keys to parsers
type Registry struct {
	parsers map[types.ParserKey]ValueParser
	mutex   sync.RWMutex
	logger  *logrus.Logger
}

// NewRegistry creates an empty parser registry
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		parsers: make(map[types.ParserKey]ValueParser),
		logger:  logger,
	}
}

// NewDefaultRegistry creates a registry with a parser for every known sensor kind
func NewDefaultRegistry(logger *logrus.Logger) *Registry {
	r := NewRegistry(logger)
	for _, kind := range types.AllSensorKinds {
		var p ValueParser
		switch {
		case kind.IsBinary():
			p = NewBinaryParser(kind)
		case kind == types.SensorBlindPosition:
			p = NewPositionParser()
		default:
			p = NewNumericParser(kind)
		}
		// Keys are unique per kind, registration cannot collide here
		_ = r.Register(types.NewSensorType(kind).Discriminant(), p)
	}
	return r
}

// Register adds a parser under key
func (r *Registry) Register(key types.ParserKey, parser ValueParser) error {
	if key == "" || parser == nil {
		return fmt.Errorf("parser key and implementation are required")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.parsers[key]; exists {
		return fmt.Errorf("%w: %s", ErrParserExists, key)
	}
	r.parsers[key] = parser
	r.logger.WithField("parser_key", key).Debug("Value parser registered")
	return nil
}

// Replace installs parser under key, overwriting any existing one
func (r *Registry) Replace(key types.ParserKey, parser ValueParser) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.parsers[key] = parser
}

// Get returns the parser for a sensor type
func (r *Registry) Get(sensorType types.SensorType) (ValueParser, bool) {
	if sensorType.IsUnknown() {
		return nil, false
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.parsers[sensorType.Discriminant()]
	return p, ok
}

// Parse runs the parser registered for sensorType and returns its confidence
func (r *Registry) Parse(sensorType types.SensorType, raw json.RawMessage) (types.ParsedValue, float64, error) {
	p, ok := r.Get(sensorType)
	if !ok {
		return types.ParsedValue{}, 0, fmt.Errorf("%w: %s", ErrParserNotFound, sensorType.Kind)
	}

	parsed, err := p.Parse(raw)
	if err != nil {
		return types.ParsedValue{}, 0, err
	}
	return parsed, p.Confidence(raw), nil
}

// Keys lists the registered parser keys in sorted order
func (r *Registry) Keys() []types.ParserKey {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	keys := make([]types.ParserKey, 0, len(r.parsers))
	for key := range r.parsers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
