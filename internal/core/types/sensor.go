package types

import "strings"

// SensorKind is the closed set of semantic sensor categories a device can be
// classified into
type SensorKind string

const (
	SensorTemperature       SensorKind = "temperature"
	SensorHumidity          SensorKind = "humidity"
	SensorIlluminance       SensorKind = "illuminance"
	SensorMotionDetector    SensorKind = "motion_detector"
	SensorDoorWindowContact SensorKind = "door_window_contact"
	SensorSmokeDetector     SensorKind = "smoke_detector"
	SensorPowerMeter        SensorKind = "power_meter"
	SensorEnergyConsumption SensorKind = "energy_consumption"
	SensorCurrentMeter      SensorKind = "current_meter"
	SensorVoltageMeter      SensorKind = "voltage_meter"
	SensorBlindPosition     SensorKind = "blind_position"
	SensorWindSpeed         SensorKind = "wind_speed"
	SensorRainfall          SensorKind = "rainfall"
	SensorAirPressure       SensorKind = "air_pressure"
	SensorAirQuality        SensorKind = "air_quality"
	SensorUnknown           SensorKind = "unknown"
)

// AllSensorKinds lists every known kind except Unknown
var AllSensorKinds = []SensorKind{
	SensorTemperature,
	SensorHumidity,
	SensorIlluminance,
	SensorMotionDetector,
	SensorDoorWindowContact,
	SensorSmokeDetector,
	SensorPowerMeter,
	SensorEnergyConsumption,
	SensorCurrentMeter,
	SensorVoltageMeter,
	SensorBlindPosition,
	SensorWindSpeed,
	SensorRainfall,
	SensorAirPressure,
	SensorAirQuality,
}

// ParseSensorKind matches s against the known kinds, ignoring case
func ParseSensorKind(s string) (SensorKind, bool) {
	for _, kind := range AllSensorKinds {
		if strings.EqualFold(string(kind), s) {
			return kind, true
		}
	}
	return SensorUnknown, false
}

// ParserKey is the stable lookup key of a value parser
type ParserKey string

// UnknownSensor describes a device that no detection rule classified with
// enough confidence
type UnknownSensor struct {
	DeviceType       string   `json:"device_type"`
	DetectedPatterns []string `json:"detected_patterns,omitempty"`
	SampleValues     []string `json:"sample_values,omitempty"`
	Confidence       float64  `json:"confidence"`
}

// SensorType is a classified sensor. Unknown is set only when Kind is SensorUnknown.
type SensorType struct {
	Kind    SensorKind     `json:"kind"`
	Unknown *UnknownSensor `json:"unknown,omitempty"`
}

// NewSensorType builds a known sensor type
func NewSensorType(kind SensorKind) SensorType {
	return SensorType{Kind: kind}
}

// NewUnknownSensorType builds an Unknown sensor type
func NewUnknownSensorType(u UnknownSensor) SensorType {
	return SensorType{Kind: SensorUnknown, Unknown: &u}
}

// Discriminant returns the parser lookup key, independent of payload fields
func (s SensorType) Discriminant() ParserKey {
	return ParserKey(s.Kind)
}

// IsUnknown reports whether the type is the Unknown variant
func (s SensorType) IsUnknown() bool {
	return s.Kind == SensorUnknown || s.Kind == ""
}

// Range returns the valid numeric range for range-bearing kinds
func (s SensorType) Range() (min, max float64, ok bool) {
	return s.Kind.Range()
}

// IsBinary reports whether values are restricted to {0, 1}
func (s SensorType) IsBinary() bool {
	return s.Kind.IsBinary()
}

// Range returns the valid numeric range of environmental and position kinds
func (k SensorKind) Range() (min, max float64, ok bool) {
	switch k {
	case SensorTemperature:
		return -40, 80, true
	case SensorHumidity:
		return 0, 100, true
	case SensorIlluminance:
		return 0, 100000, true
	case SensorBlindPosition:
		return 0, 100, true
	case SensorAirPressure:
		return 800, 1100, true
	}
	return 0, 0, false
}

// IsBinary reports whether the kind only ever reports active/inactive
func (k SensorKind) IsBinary() bool {
	switch k {
	case SensorMotionDetector, SensorDoorWindowContact, SensorSmokeDetector:
		return true
	}
	return false
}

// CanonicalUnit is the unit parsers normalize readings of this kind to
func (k SensorKind) CanonicalUnit() string {
	switch k {
	case SensorTemperature:
		return "°C"
	case SensorHumidity, SensorBlindPosition:
		return "%"
	case SensorIlluminance:
		return "lx"
	case SensorPowerMeter:
		return "kW"
	case SensorEnergyConsumption:
		return "kWh"
	case SensorCurrentMeter:
		return "A"
	case SensorVoltageMeter:
		return "V"
	case SensorWindSpeed:
		return "km/h"
	case SensorRainfall:
		return "mm"
	case SensorAirPressure:
		return "hPa"
	case SensorAirQuality:
		return "ppm"
	}
	return ""
}

// DetectionRule classifies devices by name and device-type substrings
type DetectionRule struct {
	Name         string     `json:"name" mapstructure:"name"`
	NamePatterns []string   `json:"name_patterns" mapstructure:"name_patterns"`
	TypePatterns []string   `json:"type_patterns" mapstructure:"type_patterns"`
	Target       SensorKind `json:"target" mapstructure:"target"`
	// Confidence is the ceiling a match of this rule can reach
	Confidence float64 `json:"confidence" mapstructure:"confidence"`
}
