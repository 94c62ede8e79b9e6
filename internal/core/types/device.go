package types

import (
	"encoding/json"
	"time"
)

// DeviceInfo is the read-only directory record of a device
type DeviceInfo struct {
	UUID         string                 `json:"uuid" yaml:"uuid" db:"uuid"`
	Name         string                 `json:"name" yaml:"name" db:"name"`
	DeviceType   string                 `json:"device_type" yaml:"device_type" db:"device_type"`
	Room         string                 `json:"room,omitempty" yaml:"room" db:"room"`
	CachedStates map[string]interface{} `json:"cached_states,omitempty" yaml:"cached_states" db:"-"`
}

// StateQuality expresses how trustworthy the current device value is
type StateQuality string

const (
	QualityFresh   StateQuality = "fresh"
	QualityGood    StateQuality = "good"
	QualityStale   StateQuality = "stale"
	QualityUnknown StateQuality = "unknown"
)

// QualityFromConfidence maps a resolver confidence to a state quality
func QualityFromConfidence(v *ResolvedValue) StateQuality {
	if v == nil {
		return QualityUnknown
	}
	switch {
	case v.Confidence > 0.8:
		return QualityFresh
	case v.Confidence > 0.5:
		return QualityGood
	default:
		return QualityStale
	}
}

// DeviceState is the canonical, queryable state of a tracked device
type DeviceState struct {
	UUID        string          `json:"uuid"`
	Name        string          `json:"name"`
	DeviceType  string          `json:"device_type"`
	Room        string          `json:"room,omitempty"`
	Value       *ResolvedValue  `json:"value,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
	ChangeCount uint64          `json:"change_count"`
	Quality     StateQuality    `json:"quality"`
}

// Clone returns a copy safe to hand out of the state manager
func (s *DeviceState) Clone() *DeviceState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Value != nil {
		v := *s.Value
		c.Value = &v
	}
	if s.RawPayload != nil {
		c.RawPayload = append(json.RawMessage(nil), s.RawPayload...)
	}
	return &c
}
