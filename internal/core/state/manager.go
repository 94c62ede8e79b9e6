package state

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/directory"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/metrics"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Policy defaults
const (
	DefaultDebounceWindow    = 5 * time.Second
	DefaultHistorySize       = 100
	DefaultHistoryRetention  = 24 * time.Hour
	DefaultStaleAfter        = 5 * time.Minute
	DefaultRepollInterval    = 30 * time.Second
	DefaultAggregateInterval = 5 * time.Minute
	DefaultPruneInterval     = time.Hour
	DefaultTopDevices        = 10
)

// Event outcomes reported to metrics
const (
	OutcomeEmitted    = "emitted"
	OutcomeSuppressed = "suppressed"
	OutcomeDebounced  = "debounced"
)

// Config configures the state manager
type Config struct {
	DebounceWindow    time.Duration      `mapstructure:"debounce_window"`
	HistorySize       int                `mapstructure:"history_size"`
	HistoryRetention  time.Duration      `mapstructure:"history_retention"`
	StaleAfter        time.Duration      `mapstructure:"stale_after"`
	RepollInterval    time.Duration      `mapstructure:"repoll_interval"`
	AggregateInterval time.Duration      `mapstructure:"aggregate_interval"`
	PruneInterval     time.Duration      `mapstructure:"prune_interval"`
	SubscriberBuffer  int                `mapstructure:"subscriber_buffer"`
	TopDevices        int                `mapstructure:"top_devices"`
	Significance      SignificancePolicy `mapstructure:"significance"`
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = DefaultHistoryRetention
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.RepollInterval <= 0 {
		c.RepollInterval = DefaultRepollInterval
	}
	if c.AggregateInterval <= 0 {
		c.AggregateInterval = DefaultAggregateInterval
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = DefaultPruneInterval
	}
	if c.TopDevices <= 0 {
		c.TopDevices = DefaultTopDevices
	}
	c.Significance = c.Significance.withDefaults()
	return c
}

// ValueResolver is the part of the resolver the state manager depends on
type ValueResolver interface {
	ResolveRaw(ctx context.Context, uuid string, raw json.RawMessage) (types.ResolvedValue, error)
	ResolveBatchValues(ctx context.Context, uuids []string) (map[string]types.ResolvedValue, error)
}

// Manager owns the canonical device states and turns updates into change events
type Manager struct {
	config    Config
	resolver  ValueResolver
	directory directory.Directory

	states      map[string]*types.DeviceState
	statesMutex sync.RWMutex

	lastEmitted   map[string]time.Time
	debounceMutex sync.Mutex

	history *History
	stats   *statistics
	bus     *EventBus

	scheduler  *cron.Cron
	extraJobs  []job
	cronMutex  sync.Mutex
	stopped    atomic.Bool
	jobTimeout time.Duration

	now     func() time.Time
	metrics *metrics.PrometheusCollector
	logger  *logrus.Logger
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics attaches a metrics collector
func WithMetrics(collector *metrics.PrometheusCollector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// WithMaintenance schedules an extra job next to the built-in ones. It runs
// under the same stop flag and panic recovery.
func WithMaintenance(name string, interval time.Duration, run func()) Option {
	return func(m *Manager) {
		m.extraJobs = append(m.extraJobs, job{name: name, interval: interval, run: run})
	}
}

// NewManager creates a state manager
func NewManager(config Config, resolver ValueResolver, dir directory.Directory, logger *logrus.Logger, opts ...Option) *Manager {
	config = config.withDefaults()
	m := &Manager{
		config:      config,
		resolver:    resolver,
		directory:   dir,
		states:      make(map[string]*types.DeviceState),
		lastEmitted: make(map[string]time.Time),
		history:     NewHistory(config.HistorySize),
		bus:         NewEventBus(config.SubscriberBuffer, logger),
		jobTimeout:  time.Minute,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.stats = newStatistics(m.now())
	return m
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.config
}

// UpdateDeviceState resolves a raw payload pushed for uuid and applies it.
// It returns the emitted event, or nil when the change was unchanged,
// trivial or debounced.
func (m *Manager) UpdateDeviceState(ctx context.Context, uuid string, raw json.RawMessage) *types.StateChangeEvent {
	var value *types.ResolvedValue
	resolved, err := m.resolver.ResolveRaw(ctx, uuid, raw)
	if err != nil {
		m.logger.WithError(err).WithField("uuid", uuid).Warn("Failed to resolve device update")
	} else {
		value = &resolved
	}
	return m.apply(uuid, value, raw)
}

// ApplyValue applies an already resolved value
func (m *Manager) ApplyValue(value types.ResolvedValue) *types.StateChangeEvent {
	return m.apply(value.UUID, &value, value.RawValue)
}

// Refresh resolves uuids through the resolver and applies every result
func (m *Manager) Refresh(ctx context.Context, uuids []string) ([]types.StateChangeEvent, error) {
	values, err := m.resolver.ResolveBatchValues(ctx, uuids)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var events []types.StateChangeEvent
	for _, id := range ids {
		if event := m.ApplyValue(values[id]); event != nil {
			events = append(events, *event)
		}
	}
	return events, nil
}

func (m *Manager) apply(deviceUUID string, value *types.ResolvedValue, raw json.RawMessage) *types.StateChangeEvent {
	now := m.now()
	info := m.deviceInfo(deviceUUID, value)

	next := &types.DeviceState{
		UUID:        deviceUUID,
		Name:        info.Name,
		DeviceType:  info.DeviceType,
		Room:        info.Room,
		Value:       value,
		RawPayload:  types.EncodableRaw(raw),
		LastUpdated: now,
		Quality:     types.QualityFromConfidence(value),
	}

	m.statesMutex.Lock()
	prev := m.states[deviceUUID]
	if prev != nil {
		next.ChangeCount = prev.ChangeCount + 1
	} else {
		next.ChangeCount = 1
	}
	m.states[deviceUUID] = next
	tracked := len(m.states)
	m.statesMutex.Unlock()

	m.metrics.SetTrackedDevices(tracked)

	var changeType types.ChangeType
	var significance types.ChangeSignificance
	if prev == nil {
		changeType = types.ChangeFirstSeen
		significance = types.SignificanceMinor
	} else {
		var changed bool
		changeType, changed = classifyChange(prev, next)
		if !changed {
			return nil
		}
		significance = m.config.Significance.Classify(info.DeviceType, changeType, prev.Value, value)
	}

	fields := logrus.Fields{
		"uuid":         deviceUUID,
		"change_type":  changeType,
		"significance": significance,
	}

	if significance == types.SignificanceTrivial {
		m.metrics.RecordEvent(OutcomeSuppressed, string(changeType), string(significance))
		m.logger.WithFields(fields).Debug("Trivial change suppressed")
		return nil
	}
	if !m.allow(deviceUUID, now) {
		m.metrics.RecordEvent(OutcomeDebounced, string(changeType), string(significance))
		m.logger.WithFields(fields).Debug("Change debounced")
		return nil
	}

	event := types.StateChangeEvent{
		ID:           newEventID(),
		UUID:         deviceUUID,
		DeviceName:   info.Name,
		DeviceType:   info.DeviceType,
		Room:         info.Room,
		NewValue:     copyValue(value),
		ChangeType:   changeType,
		Timestamp:    now,
		Significance: significance,
	}
	if prev != nil {
		event.OldValue = copyValue(prev.Value)
	}

	m.history.Add(event)
	m.stats.record(event)
	m.metrics.RecordEvent(OutcomeEmitted, string(changeType), string(significance))
	delivered, dropped := m.bus.Publish(event)

	fields["delivered"] = delivered
	fields["dropped"] = dropped
	m.logger.WithFields(fields).Debug("State change emitted")
	return &event
}

// allow is the debounce gate. The timestamp moves only when an event passes.
func (m *Manager) allow(deviceUUID string, now time.Time) bool {
	m.debounceMutex.Lock()
	defer m.debounceMutex.Unlock()

	if last, ok := m.lastEmitted[deviceUUID]; ok && now.Sub(last) < m.config.DebounceWindow {
		return false
	}
	m.lastEmitted[deviceUUID] = now
	return true
}

func (m *Manager) deviceInfo(deviceUUID string, value *types.ResolvedValue) types.DeviceInfo {
	if m.directory != nil {
		if info, ok := m.directory.Device(deviceUUID); ok {
			return info
		}
	}
	info := types.DeviceInfo{UUID: deviceUUID, Name: deviceUUID}
	if value != nil {
		if value.DeviceName != "" {
			info.Name = value.DeviceName
		}
		info.Room = value.Room
	}
	return info
}

// GetDeviceState returns a copy of the current state of uuid
func (m *Manager) GetDeviceState(deviceUUID string) (*types.DeviceState, bool) {
	m.statesMutex.RLock()
	defer m.statesMutex.RUnlock()

	s, ok := m.states[deviceUUID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// GetAllDeviceStates returns copies of every tracked state, sorted by uuid
func (m *Manager) GetAllDeviceStates() []*types.DeviceState {
	m.statesMutex.RLock()
	out := make([]*types.DeviceState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Clone())
	}
	m.statesMutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// GetDeviceHistory returns up to limit emitted events of uuid, newest first
func (m *Manager) GetDeviceHistory(deviceUUID string, limit int) []types.StateChangeEvent {
	return m.history.Device(deviceUUID, limit)
}

// GetChangeStatistics returns the aggregated change statistics
func (m *Manager) GetChangeStatistics() types.ChangeStatistics {
	return m.stats.snapshot(m.now(), m.config.TopDevices)
}

// SubscribeToAll streams every emitted event
func (m *Manager) SubscribeToAll() *Subscription {
	return m.bus.Subscribe(AllEvents)
}

// SubscribeToDevice streams events of one device
func (m *Manager) SubscribeToDevice(deviceUUID string) *Subscription {
	return m.bus.Subscribe(DeviceFilter(deviceUUID))
}

// SubscribeToRoom streams events of devices in room
func (m *Manager) SubscribeToRoom(room string) *Subscription {
	return m.bus.Subscribe(RoomFilter(room))
}

// SubscribeToType streams events of one device type
func (m *Manager) SubscribeToType(deviceType string) *Subscription {
	return m.bus.Subscribe(TypeFilter(deviceType))
}

// Subscribe streams events matching an arbitrary filter
func (m *Manager) Subscribe(filter Filter) *Subscription {
	return m.bus.Subscribe(filter)
}

// Bus exposes the event bus
func (m *Manager) Bus() *EventBus {
	return m.bus
}

// StaleDevices lists tracked devices not updated within the stale window
func (m *Manager) StaleDevices() []string {
	cutoff := m.now().Add(-m.config.StaleAfter)

	m.statesMutex.RLock()
	var stale []string
	for id, s := range m.states {
		if s.LastUpdated.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.statesMutex.RUnlock()

	sort.Strings(stale)
	return stale
}

func newEventID() string {
	return uuid.New().String()
}

func copyValue(v *types.ResolvedValue) *types.ResolvedValue {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
