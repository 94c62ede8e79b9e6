package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/cache"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/directory"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/metrics"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/parsers"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/sensors"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/sirupsen/logrus"
)

// Fallback tier confidences and policy
const (
	GenericConfidence     = 0.5
	CachedStateConfidence = 0.3
	CachedStateAge        = 3600

	// BatchThreshold is the request size above which the batch fetch API is used
	BatchThreshold = 5

	prefetchTimeout = 10 * time.Second
)

// Tier names, used for metrics and logs
const (
	TierParser      = "parser"
	TierGeneric     = "generic"
	TierCachedState = "cached_state"
	TierDefault     = "default"
)

// Resolver errors
var (
	ErrDeviceNotFound = errors.New("device not found in directory")
	ErrNoData         = errors.New("no data returned for device")
)

// StateFetcher fetches raw device states. Results may be partial; a uuid
// absent from the map means no new data.
type StateFetcher interface {
	FetchStates(ctx context.Context, uuids []string) (map[string]json.RawMessage, error)
}

// Resolver turns raw device payloads into validated ResolvedValues. It never
// fails for a device present in the directory.
type Resolver struct {
	directory directory.Directory
	sensors   *sensors.Registry
	parsers   *parsers.Registry
	cache     *cache.Manager
	fetcher   StateFetcher

	prefetchWG sync.WaitGroup

	now     func() time.Time
	metrics *metrics.PrometheusCollector
	logger  *logrus.Logger
}

// Option customizes a Resolver
type Option func(*Resolver)

// WithMetrics attaches a metrics collector
func WithMetrics(collector *metrics.PrometheusCollector) Option {
	return func(r *Resolver) { r.metrics = collector }
}

// WithClock replaces time.Now for value timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a resolver. Classified sensors are cached with the sensor TTL.
func New(dir directory.Directory, sensorRegistry *sensors.Registry, parserRegistry *parsers.Registry,
	cacheManager *cache.Manager, fetcher StateFetcher, logger *logrus.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		directory: dir,
		sensors:   sensorRegistry,
		parsers:   parserRegistry,
		cache:     cacheManager,
		fetcher:   fetcher,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}

	sensorTTL := cacheManager.Config().SensorTTL
	cacheManager.SetTTLPolicy(func(uuid string) time.Duration {
		if st, ok := sensorRegistry.Cached(uuid); ok && !st.IsUnknown() {
			return sensorTTL
		}
		return 0
	})

	return r
}

// ResolveDeviceValue resolves a single device. The only error is ErrDeviceNotFound.
func (r *Resolver) ResolveDeviceValue(ctx context.Context, uuid string) (types.ResolvedValue, error) {
	if _, ok := r.directory.Device(uuid); !ok {
		return types.ResolvedValue{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, uuid)
	}

	values, fetchErr := r.resolve(ctx, []string{uuid})
	if fetchErr != nil {
		r.logger.WithError(fetchErr).WithField("uuid", uuid).Warn("Fetch failed, resolved from fallback")
	}
	return values[uuid], nil
}

// ResolveBatchValues resolves every known uuid. Uuids missing from the
// directory are omitted. A fetch failure is returned only when no requested
// device could be resolved from any data source.
func (r *Resolver) ResolveBatchValues(ctx context.Context, uuids []string) (map[string]types.ResolvedValue, error) {
	values, fetchErr := r.resolve(ctx, uuids)
	if fetchErr == nil {
		return values, nil
	}

	for _, v := range values {
		if v.Source != types.SourceComputed {
			r.logger.WithError(fetchErr).WithField("count", len(uuids)).Warn("Partial fetch failure during batch resolution")
			return values, nil
		}
	}
	return nil, fmt.Errorf("failed to resolve batch: %w", fetchErr)
}

// ResolveRaw runs the fallback chain on a payload pushed by the device
// (a state uuid update) instead of fetching it
func (r *Resolver) ResolveRaw(ctx context.Context, uuid string, raw json.RawMessage) (types.ResolvedValue, error) {
	device, ok := r.directory.Device(uuid)
	if !ok {
		return types.ResolvedValue{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, uuid)
	}
	if len(raw) > 0 && json.Valid(raw) {
		r.cache.Put(uuid, raw)
	}
	return r.resolveDevice(device, raw, types.SourceStateUUID), nil
}

// resolve fetches raw states for the known uuids and runs the chain on each
func (r *Resolver) resolve(ctx context.Context, uuids []string) (map[string]types.ResolvedValue, error) {
	devices := make([]types.DeviceInfo, 0, len(uuids))
	known := make([]string, 0, len(uuids))
	seen := make(map[string]bool, len(uuids))
	for _, uuid := range uuids {
		if seen[uuid] {
			continue
		}
		seen[uuid] = true

		device, ok := r.directory.Device(uuid)
		if !ok {
			r.logger.WithField("uuid", uuid).Warn("Skipping device missing from directory")
			continue
		}
		devices = append(devices, device)
		known = append(known, uuid)
	}

	values := make(map[string]types.ResolvedValue, len(devices))
	if len(devices) == 0 {
		return values, nil
	}

	raws, fetchErr := r.fetchRaw(ctx, known)
	for _, device := range devices {
		values[device.UUID] = r.resolveDevice(device, raws[device.UUID], types.SourceRealTimeAPI)
	}

	r.warmPrefetch()
	return values, fetchErr
}

// fetchRaw reads through the cache, batching when more than BatchThreshold
// uuids are requested
func (r *Resolver) fetchRaw(ctx context.Context, uuids []string) (map[string]json.RawMessage, error) {
	if len(uuids) > BatchThreshold {
		return r.cache.GetBatchDeviceValues(ctx, uuids, r.fetchStates)
	}

	raws := make(map[string]json.RawMessage, len(uuids))
	var lastErr error
	for _, uuid := range uuids {
		uuid := uuid
		raw, err := r.cache.GetDeviceValue(ctx, uuid, func(ctx context.Context) (json.RawMessage, error) {
			states, err := r.fetchStates(ctx, []string{uuid})
			if err != nil {
				return nil, err
			}
			raw, ok := states[uuid]
			if !ok {
				return nil, ErrNoData
			}
			return raw, nil
		})
		if err != nil {
			if !errors.Is(err, ErrNoData) {
				lastErr = err
			}
			continue
		}
		raws[uuid] = raw
	}
	r.cache.RecordCoAccess(uuids)

	if len(raws) == 0 && lastErr != nil {
		return raws, lastErr
	}
	return raws, nil
}

func (r *Resolver) fetchStates(ctx context.Context, uuids []string) (map[string]json.RawMessage, error) {
	start := time.Now()
	states, err := r.fetcher.FetchStates(ctx, uuids)
	r.metrics.RecordFetch(time.Since(start), err)
	if err != nil {
		r.logger.WithError(err).WithField("count", len(uuids)).Warn("Failed to fetch device states")
	}
	return states, err
}

// warmPrefetch fetches the cache's prefetch candidates in the background
func (r *Resolver) warmPrefetch() {
	candidates := r.cache.TakePrefetchCandidates()
	if len(candidates) == 0 {
		return
	}

	known := candidates[:0]
	for _, uuid := range candidates {
		if _, ok := r.directory.Device(uuid); ok {
			known = append(known, uuid)
		}
	}
	if len(known) == 0 {
		return
	}

	queuedAt := r.cache.Now()
	r.prefetchWG.Add(1)
	go func() {
		defer r.prefetchWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()

		stored, err := r.cache.WarmDevices(ctx, known, r.fetchStates, queuedAt)
		if err != nil {
			r.logger.WithError(err).Debug("Prefetch failed")
			return
		}
		r.logger.WithField("count", stored).Debug("Prefetched co-accessed devices")
	}()
}

// WaitPrefetch blocks until in-flight prefetches finish
func (r *Resolver) WaitPrefetch() {
	r.prefetchWG.Wait()
}

// resolveDevice runs the four tiers and stops at the first that produces a value
func (r *Resolver) resolveDevice(device types.DeviceInfo, raw json.RawMessage, source types.ValueSource) types.ResolvedValue {
	sensorType, detected := r.sensors.DetectSensorType(device)
	if !detected {
		sensorType = r.sensors.DescribeUnknown(device, sampleText(raw))
	}

	base := types.ResolvedValue{
		UUID:       device.UUID,
		DeviceName: device.Name,
		RawValue:   types.EncodableRaw(raw),
		SensorType: &sensorType,
		Room:       device.Room,
		Source:     source,
		Timestamp:  r.now(),
	}

	value, tier := r.resolveTiers(base, device, sensorType, detected, raw)
	if value.ValidationStatus.IsValid() {
		value.ValidationStatus = validate(sensorType, value.NumericValue)
	}

	r.metrics.RecordResolution(tier, string(value.ValidationStatus.Kind))
	r.logger.WithFields(logrus.Fields{
		"uuid":       device.UUID,
		"tier":       tier,
		"confidence": value.Confidence,
		"status":     value.ValidationStatus.Kind,
	}).Debug("Device value resolved")
	return value
}

func (r *Resolver) resolveTiers(base types.ResolvedValue, device types.DeviceInfo, sensorType types.SensorType,
	detected bool, raw json.RawMessage) (types.ResolvedValue, string) {
	// Tier 1: type-specific parser
	if detected && len(raw) > 0 {
		parsed, confidence, err := r.parsers.Parse(sensorType, raw)
		if err == nil {
			v := base
			v.NumericValue = parsed.Numeric
			v.FormattedValue = parsed.Formatted
			v.Unit = parsed.Unit
			v.Confidence = clamp(confidence)
			v.ValidationStatus = types.Valid()
			return v, TierParser
		}
		r.logger.WithError(err).WithField("uuid", device.UUID).Debug("Type parser failed, trying generic extraction")
	}

	// Tier 2: generic extraction
	if e, ok := genericExtract(raw); ok {
		v := base
		v.NumericValue = e.numeric
		v.FormattedValue = e.formatted
		v.Unit = e.unit
		v.Confidence = GenericConfidence
		v.ValidationStatus = types.Valid()
		return v, TierGeneric
	}

	// Tier 3: cached state from the directory
	for _, field := range []string{"active", "value"} {
		cached, ok := device.CachedStates[field]
		if !ok {
			continue
		}
		if e, ok := fromAny(cached, field); ok {
			v := base
			v.Source = types.SourceStructureCache
			v.NumericValue = e.numeric
			v.FormattedValue = e.formatted
			v.Unit = e.unit
			v.Confidence = CachedStateConfidence
			v.ValidationStatus = types.Stale(CachedStateAge)
			return v, TierCachedState
		}
	}

	// Tier 4: default unknown
	v := base
	v.Source = types.SourceComputed
	v.FormattedValue = "unknown"
	v.Confidence = 0
	v.ValidationStatus = types.UnknownStatus()
	if len(raw) > 0 && !json.Valid(raw) {
		v.ValidationStatus = types.ParseError("payload is not valid JSON")
	}
	return v, TierDefault
}

// validate checks a numeric value against the type's range or binary domain
func validate(sensorType types.SensorType, numeric *float64) types.ValidationStatus {
	if numeric == nil {
		return types.Valid()
	}
	n := *numeric

	if min, max, ok := sensorType.Range(); ok && (n < min || n > max) {
		return types.OutOfRange(min, max, n)
	}
	if sensorType.IsBinary() && n != 0 && n != 1 {
		return types.OutOfRange(0, 1, n)
	}
	return types.Valid()
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
