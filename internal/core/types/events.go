package types

import "time"

// ChangeType classifies a state transition
type ChangeType string

const (
	ChangeValueChanged   ChangeType = "value_changed"
	ChangeDeviceOnline   ChangeType = "device_online"
	ChangeDeviceOffline  ChangeType = "device_offline"
	ChangeQualityChanged ChangeType = "quality_changed"
	ChangeFirstSeen      ChangeType = "first_seen"
	ChangeError          ChangeType = "error"
)

// ChangeSignificance ranks how important a change is. Trivial changes are
// never emitted.
type ChangeSignificance string

const (
	SignificanceCritical ChangeSignificance = "critical"
	SignificanceMajor    ChangeSignificance = "major"
	SignificanceMinor    ChangeSignificance = "minor"
	SignificanceTrivial  ChangeSignificance = "trivial"
)

// Rank orders significances, higher is more important
func (s ChangeSignificance) Rank() int {
	switch s {
	case SignificanceCritical:
		return 3
	case SignificanceMajor:
		return 2
	case SignificanceMinor:
		return 1
	}
	return 0
}

// StateChangeEvent is emitted when a device changes in a significant way
type StateChangeEvent struct {
	ID           string             `json:"id"`
	UUID         string             `json:"uuid"`
	DeviceName   string             `json:"device_name"`
	DeviceType   string             `json:"device_type"`
	Room         string             `json:"room,omitempty"`
	OldValue     *ResolvedValue     `json:"old_value,omitempty"`
	NewValue     *ResolvedValue     `json:"new_value,omitempty"`
	ChangeType   ChangeType         `json:"change_type"`
	Timestamp    time.Time          `json:"timestamp"`
	Significance ChangeSignificance `json:"significance"`
}

// DeviceActivity is a single entry of the most-active-devices ranking
type DeviceActivity struct {
	UUID       string `json:"uuid"`
	DeviceName string `json:"device_name"`
	Changes    uint64 `json:"changes"`
}

// ChangeStatistics aggregates emitted change events
type ChangeStatistics struct {
	TotalChanges      uint64                        `json:"total_changes"`
	ByType            map[ChangeType]uint64         `json:"by_type"`
	BySignificance    map[ChangeSignificance]uint64 `json:"by_significance"`
	ByDeviceType      map[string]uint64             `json:"by_device_type"`
	ByRoom            map[string]uint64             `json:"by_room"`
	MostActiveDevices []DeviceActivity              `json:"most_active_devices"`
	ChangesPerMinute  float64                       `json:"changes_per_minute"`
	WindowStart       time.Time                     `json:"window_start"`
	LastAggregated    time.Time                     `json:"last_aggregated"`
}

// CacheStatistics is the externally visible summary of the cache manager
type CacheStatistics struct {
	DeviceCacheSize  int     `json:"device_cache_size"`
	BatchCacheSize   int     `json:"batch_cache_size"`
	TrackedPatterns  int     `json:"tracked_patterns"`
	TotalAccessCount uint64  `json:"total_access_count"`
	HitCount         uint64  `json:"hit_count"`
	MissCount        uint64  `json:"miss_count"`
	EvictionCount    uint64  `json:"eviction_count"`
	HitRate          float64 `json:"hit_rate"`
}
