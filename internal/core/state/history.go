package state

import (
	"sort"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
)

// ring is a fixed-capacity event buffer that overwrites its oldest entry
type ring struct {
	events []types.StateChangeEvent
	start  int
	size   int
}

func newRing(capacity int) *ring {
	return &ring{events: make([]types.StateChangeEvent, capacity)}
}

func (r *ring) push(event types.StateChangeEvent) {
	capacity := len(r.events)
	if r.size < capacity {
		r.events[(r.start+r.size)%capacity] = event
		r.size++
		return
	}
	r.events[r.start] = event
	r.start = (r.start + 1) % capacity
}

// at returns the i-th oldest event
func (r *ring) at(i int) types.StateChangeEvent {
	return r.events[(r.start+i)%len(r.events)]
}

// latest returns up to limit events, newest first. limit <= 0 returns all.
func (r *ring) latest(limit int) []types.StateChangeEvent {
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]types.StateChangeEvent, 0, limit)
	for i := r.size - 1; i >= r.size-limit; i-- {
		out = append(out, r.at(i))
	}
	return out
}

// dropBefore removes events older than cutoff and returns how many were dropped
func (r *ring) dropBefore(cutoff time.Time) int {
	dropped := 0
	for r.size > 0 && r.at(0).Timestamp.Before(cutoff) {
		r.events[r.start] = types.StateChangeEvent{}
		r.start = (r.start + 1) % len(r.events)
		r.size--
		dropped++
	}
	return dropped
}

// History keeps a bounded ring of emitted events per device
type History struct {
	rings    map[string]*ring
	capacity int
	mutex    sync.RWMutex
}

// NewHistory creates a history keeping capacity events per device
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		rings:    make(map[string]*ring),
		capacity: capacity,
	}
}

// Add appends an event to its device's ring
func (h *History) Add(event types.StateChangeEvent) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	r, ok := h.rings[event.UUID]
	if !ok {
		r = newRing(h.capacity)
		h.rings[event.UUID] = r
	}
	r.push(event)
}

// Device returns up to limit events of a device, newest first
func (h *History) Device(deviceUUID string, limit int) []types.StateChangeEvent {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	r, ok := h.rings[deviceUUID]
	if !ok {
		return []types.StateChangeEvent{}
	}
	return r.latest(limit)
}

// Prune drops events older than cutoff. Emptied rings are removed.
func (h *History) Prune(cutoff time.Time) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	dropped := 0
	for id, r := range h.rings {
		dropped += r.dropBefore(cutoff)
		if r.size == 0 {
			delete(h.rings, id)
		}
	}
	return dropped
}

// Len returns the number of stored events
func (h *History) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	total := 0
	for _, r := range h.rings {
		total += r.size
	}
	return total
}

// statistics accumulates totals over emitted events. Rates are computed per
// aggregation window.
type statistics struct {
	total          uint64
	byType         map[types.ChangeType]uint64
	bySignificance map[types.ChangeSignificance]uint64
	byDeviceType   map[string]uint64
	byRoom         map[string]uint64
	byDevice       map[string]*types.DeviceActivity

	windowStart    time.Time
	windowCount    uint64
	lastRate       float64
	lastAggregated time.Time

	mutex sync.RWMutex
}

func newStatistics(now time.Time) *statistics {
	return &statistics{
		byType:         make(map[types.ChangeType]uint64),
		bySignificance: make(map[types.ChangeSignificance]uint64),
		byDeviceType:   make(map[string]uint64),
		byRoom:         make(map[string]uint64),
		byDevice:       make(map[string]*types.DeviceActivity),
		windowStart:    now,
	}
}

func (s *statistics) record(event types.StateChangeEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.total++
	s.windowCount++
	s.byType[event.ChangeType]++
	s.bySignificance[event.Significance]++
	if event.DeviceType != "" {
		s.byDeviceType[event.DeviceType]++
	}
	if event.Room != "" {
		s.byRoom[event.Room]++
	}

	activity, ok := s.byDevice[event.UUID]
	if !ok {
		activity = &types.DeviceActivity{UUID: event.UUID}
		s.byDevice[event.UUID] = activity
	}
	activity.DeviceName = event.DeviceName
	activity.Changes++
}

// aggregate closes the current window and stores its change rate
func (s *statistics) aggregate(now time.Time) float64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastRate = rate(s.windowCount, now.Sub(s.windowStart))
	s.lastAggregated = now
	s.windowStart = now
	s.windowCount = 0
	return s.lastRate
}

func (s *statistics) snapshot(now time.Time, topN int) types.ChangeStatistics {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := types.ChangeStatistics{
		TotalChanges:      s.total,
		ByType:            make(map[types.ChangeType]uint64, len(s.byType)),
		BySignificance:    make(map[types.ChangeSignificance]uint64, len(s.bySignificance)),
		ByDeviceType:      make(map[string]uint64, len(s.byDeviceType)),
		ByRoom:            make(map[string]uint64, len(s.byRoom)),
		MostActiveDevices: mostActive(s.byDevice, topN),
		WindowStart:       s.windowStart,
		LastAggregated:    s.lastAggregated,
	}
	for k, v := range s.byType {
		out.ByType[k] = v
	}
	for k, v := range s.bySignificance {
		out.BySignificance[k] = v
	}
	for k, v := range s.byDeviceType {
		out.ByDeviceType[k] = v
	}
	for k, v := range s.byRoom {
		out.ByRoom[k] = v
	}

	if s.lastAggregated.IsZero() {
		out.ChangesPerMinute = rate(s.windowCount, now.Sub(s.windowStart))
	} else {
		out.ChangesPerMinute = s.lastRate
	}
	return out
}

// rate is changes per minute; windows shorter than a minute count as one
func rate(count uint64, elapsed time.Duration) float64 {
	if elapsed < time.Minute {
		elapsed = time.Minute
	}
	return float64(count) / elapsed.Minutes()
}

func mostActive(byDevice map[string]*types.DeviceActivity, topN int) []types.DeviceActivity {
	out := make([]types.DeviceActivity, 0, len(byDevice))
	for _, activity := range byDevice {
		out = append(out, *activity)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Changes != out[j].Changes {
			return out[i].Changes > out[j].Changes
		}
		return out[i].UUID < out[j].UUID
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}
