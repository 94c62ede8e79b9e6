package sensors

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/sirupsen/logrus"
)

// Scoring weights for rule evaluation
const (
	nameMatchScore  = 0.4
	typeMatchScore  = 0.3
	exactMatchBonus = 0.2

	// MinDetectionConfidence is the floor a rule has to reach to classify a device
	MinDetectionConfidence = 0.5
)

// Custom errors for the sensor type registry
var (
	ErrInvalidRule   = fmt.Errorf("invalid detection rule")
	ErrEmptyDeviceID = fmt.Errorf("device uuid cannot be empty")
)

// DetectionSource records which table answered a detection
type DetectionSource string

const (
	DetectionExplicit DetectionSource = "explicit"
	DetectionLearned  DetectionSource = "learned"
	DetectionCached   DetectionSource = "cached"
	DetectionRule     DetectionSource = "rule"
)

// Detection is the result of classifying a device
type Detection struct {
	Type       types.SensorType `json:"type"`
	Confidence float64          `json:"confidence"`
	Rule       string           `json:"rule,omitempty"`
	Source     DetectionSource  `json:"source"`
}

// RegistryStats summarizes registry contents
type RegistryStats struct {
	Rules            int    `json:"rules"`
	ExplicitMappings int    `json:"explicit_mappings"`
	LearnedMappings  int    `json:"learned_mappings"`
	CachedDetections int    `json:"cached_detections"`
	Evaluations      uint64 `json:"evaluations"`
	CacheHits        uint64 `json:"cache_hits"`
}

// Registry classifies devices into sensor types. It is constructed once and
// shared; all methods are safe for concurrent use.
type Registry struct {
	rules    []types.DetectionRule
	explicit map[string]types.SensorType
	learned  map[string]types.SensorType
	detected map[string]Detection

	evaluations uint64
	cacheHits   uint64

	mutex  sync.RWMutex
	logger *logrus.Logger
}

// NewRegistry creates a registry with the given rules. Passing nil installs DefaultRules.
func NewRegistry(rules []types.DetectionRule, logger *logrus.Logger) *Registry {
	if rules == nil {
		rules = DefaultRules()
	}

	r := &Registry{
		rules:    make([]types.DetectionRule, 0, len(rules)),
		explicit: make(map[string]types.SensorType),
		learned:  make(map[string]types.SensorType),
		detected: make(map[string]Detection),
		logger:   logger,
	}

	for _, rule := range rules {
		if err := validateRule(rule); err != nil {
			logger.WithError(err).WithField("rule", rule.Name).Warn("Skipping invalid detection rule")
			continue
		}
		r.rules = append(r.rules, normalizeRule(rule))
	}

	return r
}

// AddRule appends a rule. Rules registered later lose ties against earlier ones.
func (r *Registry) AddRule(rule types.DetectionRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.rules = append(r.rules, normalizeRule(rule))
	r.logger.WithFields(logrus.Fields{
		"rule":   rule.Name,
		"target": rule.Target,
	}).Debug("Detection rule added")
	return nil
}

// Rules returns a copy of the registered rules in evaluation order
func (r *Registry) Rules() []types.DetectionRule {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	rules := make([]types.DetectionRule, len(r.rules))
	copy(rules, r.rules)
	return rules
}

// SetExplicitMapping pins a device to a sensor type. Explicit mappings take
// priority over everything else.
func (r *Registry) SetExplicitMapping(uuid string, sensorType types.SensorType) error {
	if uuid == "" {
		return ErrEmptyDeviceID
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.explicit[uuid] = sensorType
	return nil
}

// LearnSensorType records a learned mapping. It ranks above rule evaluation
// and below an explicit mapping.
func (r *Registry) LearnSensorType(uuid string, sensorType types.SensorType) error {
	if uuid == "" {
		return ErrEmptyDeviceID
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.learned[uuid] = sensorType
	r.logger.WithFields(logrus.Fields{
		"uuid":        uuid,
		"sensor_type": sensorType.Kind,
	}).Info("Learned sensor type mapping")
	return nil
}

// DetectSensorType classifies a device. The boolean is false when nothing
// matched and callers should fall back to generic extraction.
func (r *Registry) DetectSensorType(device types.DeviceInfo) (types.SensorType, bool) {
	detection, ok := r.Detect(device)
	if !ok {
		return types.SensorType{}, false
	}
	return detection.Type, true
}

// Detect classifies a device and reports where the answer came from
func (r *Registry) Detect(device types.DeviceInfo) (Detection, bool) {
	r.mutex.RLock()
	if st, ok := r.explicit[device.UUID]; ok {
		r.mutex.RUnlock()
		return Detection{Type: st, Confidence: 1.0, Source: DetectionExplicit}, true
	}
	if st, ok := r.learned[device.UUID]; ok {
		r.mutex.RUnlock()
		return Detection{Type: st, Confidence: 1.0, Source: DetectionLearned}, true
	}
	if d, ok := r.detected[device.UUID]; ok && device.UUID != "" {
		r.mutex.RUnlock()
		r.mutex.Lock()
		r.cacheHits++
		r.mutex.Unlock()
		d.Source = DetectionCached
		return d, true
	}
	rules := r.rules
	r.mutex.RUnlock()

	detection, ok := evaluate(rules, device)

	r.mutex.Lock()
	r.evaluations++
	if ok && device.UUID != "" {
		r.detected[device.UUID] = detection
	}
	r.mutex.Unlock()

	if ok {
		r.logger.WithFields(logrus.Fields{
			"uuid":        device.UUID,
			"name":        device.Name,
			"sensor_type": detection.Type.Kind,
			"confidence":  detection.Confidence,
			"rule":        detection.Rule,
		}).Debug("Sensor type detected")
	}

	return detection, ok
}

// Score returns the confidence a single rule assigns to a device
func Score(rule types.DetectionRule, device types.DeviceInfo) float64 {
	score, _ := scoreRule(normalizeRule(rule), strings.ToLower(device.Name), strings.ToLower(device.DeviceType))
	return score
}

// DescribeUnknown builds an Unknown sensor type for a device no rule
// classified, listing the patterns that partially matched
func (r *Registry) DescribeUnknown(device types.DeviceInfo, samples ...string) types.SensorType {
	r.mutex.RLock()
	rules := r.rules
	r.mutex.RUnlock()

	name := strings.ToLower(device.Name)
	deviceType := strings.ToLower(device.DeviceType)

	var best float64
	seen := make(map[string]bool)
	var patterns []string
	for _, rule := range rules {
		score, matched := scoreRule(rule, name, deviceType)
		if score > best {
			best = score
		}
		for _, p := range matched {
			if !seen[p] {
				seen[p] = true
				patterns = append(patterns, p)
			}
		}
	}
	sort.Strings(patterns)

	return types.NewUnknownSensorType(types.UnknownSensor{
		DeviceType:       device.DeviceType,
		DetectedPatterns: patterns,
		SampleValues:     samples,
		Confidence:       best,
	})
}

// ClearCache drops learned and detected mappings. Explicit mappings stay.
func (r *Registry) ClearCache() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.learned = make(map[string]types.SensorType)
	r.detected = make(map[string]Detection)
	r.logger.Info("Sensor type cache cleared")
}

// Cached returns the mapping for a uuid without evaluating rules
func (r *Registry) Cached(uuid string) (types.SensorType, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if st, ok := r.explicit[uuid]; ok {
		return st, true
	}
	if st, ok := r.learned[uuid]; ok {
		return st, true
	}
	if d, ok := r.detected[uuid]; ok {
		return d.Type, true
	}
	return types.SensorType{}, false
}

// Stats returns registry counters
func (r *Registry) Stats() RegistryStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return RegistryStats{
		Rules:            len(r.rules),
		ExplicitMappings: len(r.explicit),
		LearnedMappings:  len(r.learned),
		CachedDetections: len(r.detected),
		Evaluations:      r.evaluations,
		CacheHits:        r.cacheHits,
	}
}

// evaluate scores every rule independently and picks the best one above the floor.
// Ties resolve to the earliest rule.
func evaluate(rules []types.DetectionRule, device types.DeviceInfo) (Detection, bool) {
	name := strings.ToLower(strings.TrimSpace(device.Name))
	deviceType := strings.ToLower(strings.TrimSpace(device.DeviceType))

	bestIdx := -1
	var bestScore float64
	for i, rule := range rules {
		score, _ := scoreRule(rule, name, deviceType)
		if score < MinDetectionConfidence {
			continue
		}
		if bestIdx == -1 || score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}

	if bestIdx == -1 {
		return Detection{}, false
	}

	rule := rules[bestIdx]
	return Detection{
		Type:       types.NewSensorType(rule.Target),
		Confidence: bestScore,
		Rule:       rule.Name,
		Source:     DetectionRule,
	}, true
}

// scoreRule expects a normalized rule and lower-cased inputs
func scoreRule(rule types.DetectionRule, name, deviceType string) (float64, []string) {
	var score float64
	var matched []string

	nameHit, exact := false, false
	if name != "" {
		for _, p := range rule.NamePatterns {
			if strings.Contains(name, p) {
				nameHit = true
				matched = append(matched, p)
				if name == p {
					exact = true
				}
			}
		}
	}
	if nameHit {
		score += nameMatchScore
	}

	if deviceType != "" {
		for _, p := range rule.TypePatterns {
			if strings.Contains(deviceType, p) {
				score += typeMatchScore
				matched = append(matched, "type:"+p)
				break
			}
		}
	}

	if exact {
		score += exactMatchBonus
	}

	if score > rule.Confidence {
		score = rule.Confidence
	}
	return score, matched
}

func normalizeRule(rule types.DetectionRule) types.DetectionRule {
	out := rule
	out.NamePatterns = lowerAll(rule.NamePatterns)
	out.TypePatterns = lowerAll(rule.TypePatterns)
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func validateRule(rule types.DetectionRule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if rule.Target == "" || rule.Target == types.SensorUnknown {
		return fmt.Errorf("%w: rule %s needs a known target", ErrInvalidRule, rule.Name)
	}
	if len(rule.NamePatterns) == 0 && len(rule.TypePatterns) == 0 {
		return fmt.Errorf("%w: rule %s has no patterns", ErrInvalidRule, rule.Name)
	}
	if rule.Confidence <= 0 || rule.Confidence > 1 {
		return fmt.Errorf("%w: rule %s confidence must be in (0, 1], got %g", ErrInvalidRule, rule.Name, rule.Confidence)
	}
	return nil
}
