package state

import (
	"math"
	"strings"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
)

// SignificancePolicy holds the thresholds used to rank a change
type SignificancePolicy struct {
	CriticalDeviceTypes []string `mapstructure:"critical_device_types"`
	MajorDeviceTypes    []string `mapstructure:"major_device_types"`

	TemperatureMajor float64 `mapstructure:"temperature_major"`
	TemperatureMinor float64 `mapstructure:"temperature_minor"`
	PercentageMajor  float64 `mapstructure:"percentage_major"`
	PercentageMinor  float64 `mapstructure:"percentage_minor"`

	// RelativeMinor is the fractional change that makes any other numeric
	// change Minor
	RelativeMinor float64 `mapstructure:"relative_minor"`
}

// DefaultSignificancePolicy returns the standard thresholds
func DefaultSignificancePolicy() SignificancePolicy {
	return SignificancePolicy{
		CriticalDeviceTypes: []string{"security", "alarm", "smoke"},
		MajorDeviceTypes:    []string{"door", "window"},
		TemperatureMajor:    2.0,
		TemperatureMinor:    0.5,
		PercentageMajor:     20,
		PercentageMinor:     5,
		RelativeMinor:       0.05,
	}
}

// withDefaults fills zero fields from the default policy
func (p SignificancePolicy) withDefaults() SignificancePolicy {
	d := DefaultSignificancePolicy()
	if p.CriticalDeviceTypes == nil {
		p.CriticalDeviceTypes = d.CriticalDeviceTypes
	}
	if p.MajorDeviceTypes == nil {
		p.MajorDeviceTypes = d.MajorDeviceTypes
	}
	if p.TemperatureMajor <= 0 {
		p.TemperatureMajor = d.TemperatureMajor
	}
	if p.TemperatureMinor <= 0 {
		p.TemperatureMinor = d.TemperatureMinor
	}
	if p.PercentageMajor <= 0 {
		p.PercentageMajor = d.PercentageMajor
	}
	if p.PercentageMinor <= 0 {
		p.PercentageMinor = d.PercentageMinor
	}
	if p.RelativeMinor <= 0 {
		p.RelativeMinor = d.RelativeMinor
	}
	return p
}

// Classify ranks a change of the given type. First sightings are always Minor.
func (p SignificancePolicy) Classify(deviceType string, changeType types.ChangeType, oldValue, newValue *types.ResolvedValue) types.ChangeSignificance {
	if changeType == types.ChangeFirstSeen {
		return types.SignificanceMinor
	}

	lowered := strings.ToLower(deviceType)
	if containsAny(lowered, p.CriticalDeviceTypes) {
		return types.SignificanceCritical
	}

	switch changeType {
	case types.ChangeDeviceOnline, types.ChangeDeviceOffline, types.ChangeError:
		return types.SignificanceMajor
	case types.ChangeQualityChanged:
		return types.SignificanceMinor
	}

	if containsAny(lowered, p.MajorDeviceTypes) || kindOf(newValue) == types.SensorDoorWindowContact {
		return types.SignificanceMajor
	}
	return p.valueSignificance(oldValue, newValue)
}

func (p SignificancePolicy) valueSignificance(oldValue, newValue *types.ResolvedValue) types.ChangeSignificance {
	if !oldValue.HasNumeric() || !newValue.HasNumeric() {
		if oldValue.HasNumeric() != newValue.HasNumeric() || formatted(oldValue) != formatted(newValue) {
			return types.SignificanceMinor
		}
		return types.SignificanceTrivial
	}

	before, after := oldValue.Float(), newValue.Float()
	delta := math.Abs(after - before)
	kind := kindOf(newValue)

	switch {
	case kind == types.SensorTemperature:
		return tiered(delta, p.TemperatureMajor, p.TemperatureMinor)
	case isPercentage(kind, newValue.Unit):
		return tiered(delta, p.PercentageMajor, p.PercentageMinor)
	case kind.IsBinary():
		if delta > 0 {
			return types.SignificanceMajor
		}
		return types.SignificanceTrivial
	}

	if (before == 0) != (after == 0) {
		return types.SignificanceMajor
	}
	if before != 0 && delta/math.Abs(before) > p.RelativeMinor {
		return types.SignificanceMinor
	}
	return types.SignificanceTrivial
}

func tiered(delta, major, minor float64) types.ChangeSignificance {
	switch {
	case delta > major:
		return types.SignificanceMajor
	case delta > minor:
		return types.SignificanceMinor
	}
	return types.SignificanceTrivial
}

// classifyChange compares two successive states. The boolean is false when
// nothing observable changed.
func classifyChange(prev, next *types.DeviceState) (types.ChangeType, bool) {
	hadData, hasData := hasData(prev.Value), hasData(next.Value)

	switch {
	case isParseError(next.Value) && !isParseError(prev.Value):
		return types.ChangeError, true
	case !hadData && hasData:
		return types.ChangeDeviceOnline, true
	case hadData && !hasData:
		return types.ChangeDeviceOffline, true
	case valueChanged(prev.Value, next.Value):
		return types.ChangeValueChanged, true
	case prev.Quality != next.Quality:
		return types.ChangeQualityChanged, true
	}
	return "", false
}

// hasData is false for missing values and for the computed default
func hasData(v *types.ResolvedValue) bool {
	return v != nil && v.Source != types.SourceComputed
}

func isParseError(v *types.ResolvedValue) bool {
	return v != nil && v.ValidationStatus.Kind == types.ValidationParseError
}

func valueChanged(a, b *types.ResolvedValue) bool {
	if a.HasNumeric() != b.HasNumeric() {
		return true
	}
	if a.HasNumeric() && a.Float() != b.Float() {
		return true
	}
	return formatted(a) != formatted(b)
}

func formatted(v *types.ResolvedValue) string {
	if v == nil {
		return ""
	}
	return v.FormattedValue
}

func kindOf(v *types.ResolvedValue) types.SensorKind {
	if v == nil || v.SensorType == nil {
		return types.SensorUnknown
	}
	return v.SensorType.Kind
}

func isPercentage(kind types.SensorKind, unit string) bool {
	return kind == types.SensorHumidity || kind == types.SensorBlindPosition || unit == "%"
}

func containsAny(s string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(s, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
