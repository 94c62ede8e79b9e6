package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/metrics"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/sirupsen/logrus"
)

// Defaults used when the config leaves a field empty
const (
	DefaultDeviceStateTTL = 30 * time.Second
	DefaultSensorTTL      = 60 * time.Second
	DefaultMaxCacheSize   = 1000
)

// Config configures the cache manager
type Config struct {
	DeviceStateTTL time.Duration `mapstructure:"device_state_ttl"`
	SensorTTL      time.Duration `mapstructure:"sensor_ttl"`
	StructureTTL   time.Duration `mapstructure:"structure_ttl"`
	RoomTTL        time.Duration `mapstructure:"room_ttl"`
	MaxCacheSize   int           `mapstructure:"max_cache_size"`
	EnablePrefetch bool          `mapstructure:"enable_prefetch"`
}

// FetchFunc fetches raw states for a set of uuids. The result may be partial.
type FetchFunc func(ctx context.Context, uuids []string) (map[string]json.RawMessage, error)

// SingleFetchFunc fetches the raw state of one device
type SingleFetchFunc func(ctx context.Context) (json.RawMessage, error)

// TTLPolicy picks the TTL of a device entry
type TTLPolicy func(uuid string) time.Duration

// Manager caches raw device states. It owns the per-device LRU, the batch
// dedup cache and the access tracker.
type Manager struct {
	config  Config
	devices *LRU[json.RawMessage]
	batches *LRU[map[string]json.RawMessage]
	tracker *AccessTracker

	ttlPolicy   TTLPolicy
	policyMutex sync.RWMutex

	prefetch      map[string]struct{}
	prefetchMutex sync.Mutex

	hits   atomic.Uint64
	misses atomic.Uint64

	now     func() time.Time
	metrics *metrics.PrometheusCollector
	logger  *logrus.Logger
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock replaces time.Now, used by tests to step through TTLs
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics attaches a metrics collector
func WithMetrics(collector *metrics.PrometheusCollector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// NewManager creates a cache manager
func NewManager(config Config, logger *logrus.Logger, opts ...Option) *Manager {
	if config.DeviceStateTTL <= 0 {
		config.DeviceStateTTL = DefaultDeviceStateTTL
	}
	if config.SensorTTL <= 0 {
		config.SensorTTL = DefaultSensorTTL
	}
	if config.MaxCacheSize <= 0 {
		config.MaxCacheSize = DefaultMaxCacheSize
	}

	m := &Manager{
		config:   config,
		devices:  NewLRU[json.RawMessage](config.MaxCacheSize),
		batches:  NewLRU[map[string]json.RawMessage](config.MaxCacheSize),
		tracker:  NewAccessTracker(MaxCoAccessEntries),
		prefetch: make(map[string]struct{}),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now reads the manager's clock
func (m *Manager) Now() time.Time {
	return m.now()
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.config
}

// SetTTLPolicy installs a per-device TTL policy. Nil restores device_state_ttl for all.
func (m *Manager) SetTTLPolicy(policy TTLPolicy) {
	m.policyMutex.Lock()
	defer m.policyMutex.Unlock()
	m.ttlPolicy = policy
}

func (m *Manager) ttlFor(uuid string) time.Duration {
	m.policyMutex.RLock()
	policy := m.ttlPolicy
	m.policyMutex.RUnlock()

	if policy != nil {
		if ttl := policy(uuid); ttl > 0 {
			return ttl
		}
	}
	return m.config.DeviceStateTTL
}

// GetDeviceValue returns the cached raw state of uuid, fetching it on a miss
func (m *Manager) GetDeviceValue(ctx context.Context, uuid string, fetch SingleFetchFunc) (json.RawMessage, error) {
	now := m.now()
	if entry, ok := m.devices.Get(uuid, now); ok && !entry.Expired(now) {
		m.recordHit()
		m.tracker.RecordAccess(uuid, now)
		m.logger.WithField("uuid", uuid).Debug("Device cache hit")
		return entry.Value, nil
	}
	m.recordMiss()

	// No lock is held while the fetch runs
	raw, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	now = m.now()
	m.store(uuid, raw, now)
	m.tracker.RecordAccess(uuid, now)
	if m.config.EnablePrefetch {
		m.queuePrefetch(uuid, now, nil)
	}
	return raw, nil
}

// GetBatchDeviceValues returns raw states for uuids. Fresh entries are served
// from cache; the rest are fetched in one call unless an identical stale set
// was fetched within the TTL. Uuids missing from the fetch result are omitted.
// On fetch failure the fresh subset is returned together with the error.
func (m *Manager) GetBatchDeviceValues(ctx context.Context, uuids []string, fetch FetchFunc) (map[string]json.RawMessage, error) {
	uuids = dedupe(uuids)
	now := m.now()

	result := make(map[string]json.RawMessage, len(uuids))
	var stale []string
	for _, uuid := range uuids {
		if entry, ok := m.devices.Get(uuid, now); ok && !entry.Expired(now) {
			result[uuid] = entry.Value
			m.recordHit()
			continue
		}
		stale = append(stale, uuid)
		m.recordMiss()
	}
	defer m.tracker.RecordCoAccess(uuids, now)

	if len(stale) == 0 {
		m.logger.WithField("count", len(uuids)).Debug("Batch served from cache")
		return result, nil
	}

	key := BatchKey(stale)
	if entry, ok := m.batches.Get(key, now); ok && !entry.Expired(now) {
		for _, uuid := range stale {
			if raw, ok := entry.Value[uuid]; ok {
				result[uuid] = raw
			}
		}
		m.logger.WithField("batch_key", key).Debug("Batch cache hit")
		return result, nil
	}

	fetched, err := fetch(ctx, stale)
	if err != nil {
		return result, err
	}

	now = m.now()
	batch := make(map[string]json.RawMessage, len(stale))
	for _, uuid := range stale {
		raw, ok := fetched[uuid]
		if !ok {
			continue
		}
		batch[uuid] = raw
		result[uuid] = raw
		m.store(uuid, raw, now)
	}
	m.batches.Put(key, batch, m.config.DeviceStateTTL, now)

	if m.config.EnablePrefetch {
		exclude := make(map[string]bool, len(uuids))
		for _, uuid := range uuids {
			exclude[uuid] = true
		}
		for _, uuid := range stale {
			m.queuePrefetch(uuid, now, exclude)
		}
	}

	return result, nil
}

// RecordCoAccess links uuids that were requested together through single lookups
func (m *Manager) RecordCoAccess(uuids []string) {
	m.tracker.LinkCoAccess(dedupe(uuids))
}

// WarmDevices fetches the uuids that were not freshly cached at the given
// time and stores them as of that time. A zero time means now.
// Warming is not an access: hit, miss and frequency statistics are untouched.
func (m *Manager) WarmDevices(ctx context.Context, uuids []string, fetch FetchFunc, at time.Time) (int, error) {
	now := at
	if now.IsZero() {
		now = m.now()
	}
	var stale []string
	for _, uuid := range dedupe(uuids) {
		if entry, ok := m.devices.Peek(uuid); ok && !entry.Expired(now) {
			continue
		}
		stale = append(stale, uuid)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	fetched, err := fetch(ctx, stale)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, uuid := range stale {
		raw, ok := fetched[uuid]
		if !ok {
			continue
		}
		// a newer value stored while the fetch was in flight wins
		if entry, ok := m.devices.Peek(uuid); ok && entry.StoredAt.After(now) {
			continue
		}
		m.store(uuid, raw, now)
		stored++
	}
	return stored, nil
}

// Put stores a raw state pushed from outside the fetch path
func (m *Manager) Put(uuid string, raw json.RawMessage) {
	m.store(uuid, raw, m.now())
}

func (m *Manager) store(uuid string, raw json.RawMessage, now time.Time) {
	if evicted, ok := m.devices.Put(uuid, raw, m.ttlFor(uuid), now); ok {
		m.metrics.RecordCacheEviction()
		m.logger.WithFields(logrus.Fields{
			"evicted": evicted,
			"uuid":    uuid,
		}).Debug("Device cache full, evicted least recently used entry")
	}
}

// queuePrefetch adds co-accessed devices that are due and not freshly cached
func (m *Manager) queuePrefetch(uuid string, now time.Time, exclude map[string]bool) {
	candidates := m.tracker.PrefetchCandidates(uuid, now)
	if len(candidates) == 0 {
		return
	}

	m.prefetchMutex.Lock()
	defer m.prefetchMutex.Unlock()

	for _, candidate := range candidates {
		if candidate == uuid || exclude[candidate] {
			continue
		}
		if entry, ok := m.devices.Peek(candidate); ok && !entry.Expired(now) {
			continue
		}
		m.prefetch[candidate] = struct{}{}
	}
}

// TakePrefetchCandidates returns and clears the pending prefetch candidates
func (m *Manager) TakePrefetchCandidates() []string {
	m.prefetchMutex.Lock()
	defer m.prefetchMutex.Unlock()

	if len(m.prefetch) == 0 {
		return nil
	}
	out := make([]string, 0, len(m.prefetch))
	for uuid := range m.prefetch {
		out = append(out, uuid)
	}
	m.prefetch = make(map[string]struct{})
	sort.Strings(out)
	return out
}

// Tracker exposes the access-pattern tracker
func (m *Manager) Tracker() *AccessTracker {
	return m.tracker
}

// Invalidate drops the cached state of uuid
func (m *Manager) Invalidate(uuid string) {
	m.devices.Remove(uuid)
}

// PurgeExpired drops expired device and batch entries
func (m *Manager) PurgeExpired() int {
	now := m.now()
	return m.devices.PurgeExpired(now) + m.batches.PurgeExpired(now)
}

// Clear empties all caches and the access tracker
func (m *Manager) Clear() {
	m.devices.Clear()
	m.batches.Clear()
	m.tracker.Reset()

	m.prefetchMutex.Lock()
	m.prefetch = make(map[string]struct{})
	m.prefetchMutex.Unlock()

	m.logger.Info("Device caches cleared")
}

// Stats returns cache statistics
func (m *Manager) Stats() types.CacheStatistics {
	hits := m.hits.Load()
	misses := m.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return types.CacheStatistics{
		DeviceCacheSize:  m.devices.Len(),
		BatchCacheSize:   m.batches.Len(),
		TrackedPatterns:  m.tracker.TrackedPatterns(),
		TotalAccessCount: m.tracker.TotalAccessCount(),
		HitCount:         hits,
		MissCount:        misses,
		EvictionCount:    m.devices.Evictions(),
		HitRate:          hitRate,
	}
}

func (m *Manager) recordHit() {
	m.hits.Add(1)
	m.metrics.RecordCacheHit()
}

func (m *Manager) recordMiss() {
	m.misses.Add(1)
	m.metrics.RecordCacheMiss()
}

// BatchKey is the sorted, comma-joined uuid set
func BatchKey(uuids []string) string {
	sorted := make([]string, len(uuids))
	copy(sorted, uuids)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func dedupe(uuids []string) []string {
	seen := make(map[string]bool, len(uuids))
	out := make([]string, 0, len(uuids))
	for _, uuid := range uuids {
		if uuid == "" || seen[uuid] {
			continue
		}
		seen[uuid] = true
		out = append(out, uuid)
	}
	return out
}
