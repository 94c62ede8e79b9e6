package websocket

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/state"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
)

// Message types sent to clients
const (
	MessageTypeConnection  = "connection"
	MessageTypeStateChange = "state_change"
	MessageTypeSubscribed  = "subscribed"
	MessageTypeHeartbeat   = "heartbeat"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Request types accepted from clients
const (
	RequestTypePing      = "ping"
	RequestTypeSubscribe = "subscribe"
)

// Message is an outbound frame
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ToJSON stamps and encodes the message
func (m Message) ToJSON() ([]byte, error) {
	m.Timestamp = time.Now().UTC()
	return json.Marshal(m)
}

// Request is an inbound frame
type Request struct {
	Type   string     `json:"type"`
	Filter FilterSpec `json:"filter"`
}

// FilterSpec narrows the events a client receives. Empty fields match
// everything; set fields must all match.
type FilterSpec struct {
	Device          string                   `json:"device,omitempty"`
	Room            string                   `json:"room,omitempty"`
	Type            string                   `json:"type,omitempty"`
	MinSignificance types.ChangeSignificance `json:"min_significance,omitempty"`
}

// FilterSpecFromQuery reads device, room, type and min_significance
func FilterSpecFromQuery(values url.Values) (FilterSpec, error) {
	spec := FilterSpec{
		Device:          strings.TrimSpace(values.Get("device")),
		Room:            strings.TrimSpace(values.Get("room")),
		Type:            strings.TrimSpace(values.Get("type")),
		MinSignificance: normalizeSignificance(types.ChangeSignificance(values.Get("min_significance"))),
	}
	return spec, spec.Validate()
}

// Validate rejects unknown significance levels
func (f FilterSpec) Validate() error {
	switch f.MinSignificance {
	case "", types.SignificanceMinor, types.SignificanceMajor, types.SignificanceCritical:
		return nil
	}
	return fmt.Errorf("invalid min_significance %q", f.MinSignificance)
}

// Filter converts the spec into a bus filter
func (f FilterSpec) Filter() state.Filter {
	var filters []state.Filter
	if f.Device != "" {
		filters = append(filters, state.DeviceFilter(f.Device))
	}
	if f.Room != "" {
		filters = append(filters, state.RoomFilter(f.Room))
	}
	if f.Type != "" {
		filters = append(filters, state.TypeFilter(f.Type))
	}
	if f.MinSignificance != "" {
		minRank := f.MinSignificance.Rank()
		filters = append(filters, func(event *types.StateChangeEvent) bool {
			return event.Significance.Rank() >= minRank
		})
	}

	if len(filters) == 0 {
		return state.AllEvents
	}
	return func(event *types.StateChangeEvent) bool {
		for _, filter := range filters {
			if !filter(event) {
				return false
			}
		}
		return true
	}
}

func normalizeSignificance(s types.ChangeSignificance) types.ChangeSignificance {
	return types.ChangeSignificance(strings.ToLower(strings.TrimSpace(string(s))))
}
