package cache

import (
	"sync"
	"time"
)

// MaxCoAccessEntries bounds the co-access list kept per uuid
const MaxCoAccessEntries = 50

// AccessFrequency holds request statistics for one uuid
type AccessFrequency struct {
	Count           uint64        `json:"count"`
	LastAccess      time.Time     `json:"last_access"`
	AverageInterval time.Duration `json:"average_interval"`
}

// AccessTracker records which devices are requested together and how often
type AccessTracker struct {
	coAccess  map[string][]string
	frequency map[string]*AccessFrequency
	maxCo     int
	mutex     sync.RWMutex
}

// NewAccessTracker creates a tracker. maxCoAccess <= 0 uses MaxCoAccessEntries.
func NewAccessTracker(maxCoAccess int) *AccessTracker {
	if maxCoAccess <= 0 {
		maxCoAccess = MaxCoAccessEntries
	}
	return &AccessTracker{
		coAccess:  make(map[string][]string),
		frequency: make(map[string]*AccessFrequency),
		maxCo:     maxCoAccess,
	}
}

// RecordAccess updates the frequency statistics of uuid
func (t *AccessTracker) RecordAccess(uuid string, now time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.recordAccessLocked(uuid, now)
}

func (t *AccessTracker) recordAccessLocked(uuid string, now time.Time) {
	freq, ok := t.frequency[uuid]
	if !ok {
		t.frequency[uuid] = &AccessFrequency{Count: 1, LastAccess: now}
		return
	}

	interval := now.Sub(freq.LastAccess)
	if interval < 0 {
		interval = 0
	}
	// Running mean over the intervals seen so far
	intervals := int64(freq.Count)
	freq.AverageInterval = time.Duration((int64(freq.AverageInterval)*(intervals-1) + int64(interval)) / intervals)
	freq.Count++
	freq.LastAccess = now
}

// RecordCoAccess marks every uuid in the set as accessed together with the others
func (t *AccessTracker) RecordCoAccess(uuids []string, now time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for _, uuid := range uuids {
		t.recordAccessLocked(uuid, now)
	}
	t.linkLocked(uuids)
}

// LinkCoAccess records the set as requested together without counting an access
func (t *AccessTracker) LinkCoAccess(uuids []string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.linkLocked(uuids)
}

func (t *AccessTracker) linkLocked(uuids []string) {
	if len(uuids) < 2 {
		return
	}
	for _, uuid := range uuids {
		for _, other := range uuids {
			if other != uuid {
				t.addCoAccessLocked(uuid, other)
			}
		}
	}
}

// addCoAccessLocked keeps the most recent distinct partners, newest last
func (t *AccessTracker) addCoAccessLocked(uuid, other string) {
	list := t.coAccess[uuid]
	for i, existing := range list {
		if existing == other {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, other)
	if len(list) > t.maxCo {
		list = list[len(list)-t.maxCo:]
	}
	t.coAccess[uuid] = list
}

// CoAccessed returns the devices requested together with uuid
func (t *AccessTracker) CoAccessed(uuid string) []string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	out := make([]string, len(t.coAccess[uuid]))
	copy(out, t.coAccess[uuid])
	return out
}

// Frequency returns the access statistics of uuid
func (t *AccessTracker) Frequency(uuid string) (AccessFrequency, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	freq, ok := t.frequency[uuid]
	if !ok {
		return AccessFrequency{}, false
	}
	return *freq, true
}

// PrefetchCandidates lists co-accessed devices of uuid that are due for
// another request: time since their last access is under twice their
// average interval. The tracker never fetches anything itself.
func (t *AccessTracker) PrefetchCandidates(uuid string, now time.Time) []string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var candidates []string
	for _, other := range t.coAccess[uuid] {
		freq, ok := t.frequency[other]
		if !ok || freq.Count < 2 || freq.AverageInterval <= 0 {
			continue
		}
		if now.Sub(freq.LastAccess) < 2*freq.AverageInterval {
			candidates = append(candidates, other)
		}
	}
	return candidates
}

// TrackedPatterns returns how many uuids have co-access data
func (t *AccessTracker) TrackedPatterns() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.coAccess)
}

// TotalAccessCount sums access counts over all uuids
func (t *AccessTracker) TotalAccessCount() uint64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var total uint64
	for _, freq := range t.frequency {
		total += freq.Count
	}
	return total
}

// Reset drops all tracked data
func (t *AccessTracker) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.coAccess = make(map[string][]string)
	t.frequency = make(map[string]*AccessFrequency)
}
