package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueSource identifies where a resolved value came from
type ValueSource string

const (
	SourceRealTimeAPI    ValueSource = "real_time_api"
	SourceStructureCache ValueSource = "structure_cache"
	SourceStateUUID      ValueSource = "state_uuid"
	SourceComputed       ValueSource = "computed"
)

// ValidationKind is the discriminant of a ValidationStatus
type ValidationKind string

const (
	ValidationValid      ValidationKind = "valid"
	ValidationOutOfRange ValidationKind = "out_of_range"
	ValidationStale      ValidationKind = "stale"
	ValidationParseError ValidationKind = "parse_error"
	ValidationUnknown    ValidationKind = "unknown"
)

// ValidationStatus annotates a resolved value. It is never an error by itself;
// consumers decide how to treat non-valid values.
type ValidationStatus struct {
	Kind       ValidationKind `json:"kind"`
	Min        *float64       `json:"min,omitempty"`
	Max        *float64       `json:"max,omitempty"`
	Actual     *float64       `json:"actual,omitempty"`
	AgeSeconds int64          `json:"age_seconds,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Valid returns a valid status
func Valid() ValidationStatus {
	return ValidationStatus{Kind: ValidationValid}
}

// OutOfRange returns an out-of-range status
func OutOfRange(min, max, actual float64) ValidationStatus {
	return ValidationStatus{
		Kind:   ValidationOutOfRange,
		Min:    Float64Ptr(min),
		Max:    Float64Ptr(max),
		Actual: Float64Ptr(actual),
	}
}

// Stale returns a stale status with the given age
func Stale(ageSeconds int64) ValidationStatus {
	return ValidationStatus{Kind: ValidationStale, AgeSeconds: ageSeconds}
}

// ParseError returns a parse error status
func ParseError(msg string) ValidationStatus {
	return ValidationStatus{Kind: ValidationParseError, Message: msg}
}

// UnknownStatus returns an unknown status
func UnknownStatus() ValidationStatus {
	return ValidationStatus{Kind: ValidationUnknown}
}

// IsValid reports whether the status is Valid
func (s ValidationStatus) IsValid() bool {
	return s.Kind == ValidationValid
}

func (s ValidationStatus) String() string {
	switch s.Kind {
	case ValidationOutOfRange:
		return fmt.Sprintf("out_of_range(%g not in [%g, %g])", deref(s.Actual), deref(s.Min), deref(s.Max))
	case ValidationStale:
		return fmt.Sprintf("stale(%ds)", s.AgeSeconds)
	case ValidationParseError:
		return fmt.Sprintf("parse_error(%s)", s.Message)
	default:
		return string(s.Kind)
	}
}

// ParsedValue is the output of a value parser. It carries no identity information.
type ParsedValue struct {
	Numeric   *float64               `json:"numeric,omitempty"`
	Formatted string                 `json:"formatted"`
	Unit      string                 `json:"unit,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ResolvedValue is the fully resolved, validated value of a single device
type ResolvedValue struct {
	UUID             string           `json:"uuid"`
	DeviceName       string           `json:"device_name"`
	RawValue         json.RawMessage  `json:"raw_value,omitempty"`
	NumericValue     *float64         `json:"numeric_value,omitempty"`
	FormattedValue   string           `json:"formatted_value"`
	Unit             string           `json:"unit,omitempty"`
	SensorType       *SensorType      `json:"sensor_type,omitempty"`
	Room             string           `json:"room,omitempty"`
	Source           ValueSource      `json:"source"`
	Timestamp        time.Time        `json:"timestamp"`
	Confidence       float64          `json:"confidence"`
	ValidationStatus ValidationStatus `json:"validation_status"`
}

// HasNumeric reports whether the value carries a numeric reading
func (v *ResolvedValue) HasNumeric() bool {
	return v != nil && v.NumericValue != nil
}

// Float returns the numeric value or zero
func (v *ResolvedValue) Float() float64 {
	if v == nil || v.NumericValue == nil {
		return 0
	}
	return *v.NumericValue
}

// EncodableRaw returns raw when it is valid JSON and a JSON string holding
// its text otherwise, so that values always marshal
func EncodableRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

// Float64Ptr is a helper for optional numeric fields
func Float64Ptr(f float64) *float64 {
	return &f
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
