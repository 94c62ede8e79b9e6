package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/cache"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/directory"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/parsers"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/sensors"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockFetcher is a testify mock of StateFetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchStates(ctx context.Context, uuids []string) (map[string]json.RawMessage, error) {
	args := m.Called(ctx, uuids)
	states, _ := args.Get(0).(map[string]json.RawMessage)
	return states, args.Error(1)
}

// mapFetcher serves fixed payloads and counts calls
type mapFetcher struct {
	mu     sync.Mutex
	states map[string]json.RawMessage
	err    error
	calls  [][]string
}

func (f *mapFetcher) FetchStates(_ context.Context, uuids []string) (map[string]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]string(nil), uuids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]json.RawMessage)
	for _, uuid := range uuids {
		if raw, ok := f.states[uuid]; ok {
			out[uuid] = raw
		}
	}
	return out, nil
}

func (f *mapFetcher) set(uuid, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[uuid] = json.RawMessage(raw)
}

var testDevices = []types.DeviceInfo{
	{UUID: "0CD8.01.T1", Name: "Living Room Temp", DeviceType: "Analog", Room: "Living Room"},
	{UUID: "0CD8.02.H1", Name: "Bathroom Humidity", DeviceType: "Analog", Room: "Bathroom"},
	{UUID: "0CD8.03.D1", Name: "Front Door Contact", DeviceType: "Digital", Room: "Hall"},
	{UUID: "0CD8.04.J1", Name: "Kitchen Blind", DeviceType: "Jalousie", Room: "Kitchen"},
	{UUID: "0CD8.05.X1", Name: "Mystery", DeviceType: "Pushbutton", Room: "Hall",
		CachedStates: map[string]interface{}{"active": true}},
	{UUID: "0CD8.06.X2", Name: "Orphan", DeviceType: "Virtual"},
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestResolver(t *testing.T, fetcher StateFetcher, config cache.Config) (*Resolver, *cache.Manager) {
	t.Helper()
	logger := newTestLogger()
	cacheManager := cache.NewManager(config, logger)
	r := New(
		directory.NewStatic(testDevices),
		sensors.NewRegistry(nil, logger),
		parsers.NewDefaultRegistry(logger),
		cacheManager,
		fetcher,
		logger,
	)
	return r, cacheManager
}

func TestResolver_EndToEndTemperature(t *testing.T) {
	fetcher := &mapFetcher{states: map[string]json.RawMessage{
		"0CD8.01.T1": json.RawMessage(`{"LL":{"value":"21.4°C"}}`),
	}}
	r, _ := newTestResolver(t, fetcher, cache.Config{})

	value, err := r.ResolveDeviceValue(context.Background(), "0CD8.01.T1")
	require.NoError(t, err)

	require.NotNil(t, value.SensorType)
	assert.Equal(t, types.SensorTemperature, value.SensorType.Kind)
	require.NotNil(t, value.NumericValue)
	assert.InDelta(t, 21.4, *value.NumericValue, 1e-9)
	assert.Equal(t, "21.4°C", value.FormattedValue)
	assert.Equal(t, "°C", value.Unit)
	assert.InDelta(t, 0.9, value.Confidence, 1e-9)
	assert.Equal(t, types.ValidationValid, value.ValidationStatus.Kind)
	assert.Equal(t, types.SourceRealTimeAPI, value.Source)
	assert.Equal(t, "Living Room", value.Room)
	assert.Equal(t, "Living Room Temp", value.DeviceName)
}

func TestResolver_UnknownDeviceIsNotFound(t *testing.T) {
	fetcher := new(MockFetcher)
	r, _ := newTestResolver(t, fetcher, cache.Config{})

	_, err := r.ResolveDeviceValue(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = r.ResolveRaw(context.Background(), "nope", json.RawMessage(`1`))
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	fetcher.AssertNotCalled(t, "FetchStates", mock.Anything, mock.Anything)
}

func TestResolver_GenericTierWhenParserFails(t *testing.T) {
	fetcher := &mapFetcher{states: map[string]json.RawMessage{
		// Temperature device, but the payload carries a unit no parser accepts
		"0CD8.01.T1": json.RawMessage(`{"value":"21 units"}`),
	}}
	r, _ := newTestResolver(t, fetcher, cache.Config{})

	value, err := r.ResolveDeviceValue(context.Background(), "0CD8.01.T1")
	require.NoError(t, err)
	assert.InDelta(t, GenericConfidence, value.Confidence, 1e-9)
	require.NotNil(t, value.NumericValue)
	assert.Equal(t, 21.0, *value.NumericValue)
	assert.Equal(t, "units", value.Unit)
	assert.Equal(t, types.SourceRealTimeAPI, value.Source)
}

func TestResolver_GenericFieldOrder(t *testing.T) {
	tests := []struct {
		raw       string
		numeric   *float64
		formatted string
	}{
		{`{"LL":{"position":"0.4"}}`, types.Float64Ptr(0.4), "0.4"},
		{`{"LL":{"active":true}}`, types.Float64Ptr(1), "1"},
		{`{"dimmer":55,"level":10}`, types.Float64Ptr(55), "55"},
		{`{"switch":false}`, types.Float64Ptr(0), "0"},
		{`{"position":12,"value":3}`, types.Float64Ptr(12), "12"},
		{`"standby"`, nil, "standby"},
		{`7`, types.Float64Ptr(7), "7"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			e, ok := genericExtract(json.RawMessage(tt.raw))
			require.True(t, ok)
			assert.Equal(t, tt.formatted, e.formatted)
			if tt.numeric == nil {
				assert.Nil(t, e.numeric)
			} else {
				require.NotNil(t, e.numeric)
				assert.InDelta(t, *tt.numeric, *e.numeric, 1e-9)
			}
		})
	}

	_, ok := genericExtract(json.RawMessage(`{"foo":"bar"}`))
	assert.False(t, ok)
	_, ok = genericExtract(json.RawMessage(`not json`))
	assert.False(t, ok)
}

func TestResolver_CachedStateTier(t *testing.T) {
	fetcher := &mapFetcher{states: map[string]json.RawMessage{}}
	r, _ := newTestResolver(t, fetcher, cache.Config{})

	value, err := r.ResolveDeviceValue(context.Background(), "0CD8.05.X1")
	require.NoError(t, err)
	assert.Equal(t, types.SourceStructureCache, value.Source)
	assert.InDelta(t, CachedStateConfidence, value.Confidence, 1e-9)
	assert.Equal(t, types.Stale(3600), value.ValidationStatus)
	require.NotNil(t, value.NumericValue)
	assert.Equal(t, 1.0, *value.NumericValue)
	require.NotNil(t, value.SensorType)
	assert.True(t, value.SensorType.IsUnknown())
}

func TestResolver_DefaultTier(t *testing.T) {
	fetcher := &mapFetcher{states: map[string]json.RawMessage{}}
	r, _ := newTestResolver(t, fetcher, cache.Config{})

	value, err := r.ResolveDeviceValue(context.Background(), "0CD8.06.X2")
	require.NoError(t, err)
	assert.Equal(t, types.SourceComputed, value.Source)
	assert.Nil(t, value.NumericValue)
	assert.Zero(t, value.Confidence)
	assert.Equal(t, types.ValidationUnknown, value.ValidationStatus.Kind)

	value, err = r.ResolveRaw(context.Background(), "0CD8.06.X2", json.RawMessage(`{broken`))
	require.NoError(t, err)
	assert.Equal(t, types.ValidationParseError, value.ValidationStatus.Kind)
	assert.Equal(t, types.SourceComputed, value.Source)
}

func TestResolver_OutOfRangeKeepsValue(t *testing.T) {
	fetcher := &mapFetcher{states: map[string]json.RawMessage{
		"0CD8.01.T1": json.RawMessage(`{"LL":{"value":"95°C"}}`),
		"0CD8.02.H1": json.RawMessage(`120`),
	}}
	r, _ := newTestResolver(t, fetcher, cache.Config{})

	values, err := r.ResolveBatchValues(context.Background(), []string{"0CD8.01.T1", "0CD8.02.H1"})
	require.NoError(t, err)

	temp := values["0CD8.01.T1"]
	assert.Equal(t, types.OutOfRange(-40, 80, 95), temp.ValidationStatus)
	require.NotNil(t, temp.NumericValue)
	assert.Equal(t, 95.0, *temp.NumericValue)

	humidity := values["0CD8.02.H1"]
	assert.Equal(t, types.OutOfRange(0, 100, 120), humidity.ValidationStatus)
}

func TestValidate_BinaryDomain(t *testing.T) {
	contact := types.NewSensorType(types.SensorDoorWindowContact)
	assert.True(t, validate(contact, types.Float64Ptr(1)).IsValid())
	assert.True(t, validate(contact, types.Float64Ptr(0)).IsValid())
	assert.Equal(t, types.OutOfRange(0, 1, 2), validate(contact, types.Float64Ptr(2)))
	assert.True(t, validate(contact, nil).IsValid())

	power := types.NewSensorType(types.SensorPowerMeter)
	assert.True(t, validate(power, types.Float64Ptr(-5000)).IsValid())
}

func TestResolver_BatchUsesBatchAPIAboveThreshold(t *testing.T) {
	fetcher := &mapFetcher{states: map[string]json.RawMessage{
		"0CD8.01.T1": json.RawMessage(`21`),
		"0CD8.02.H1": json.RawMessage(`40`),
		"0CD8.03.D1": json.RawMessage(`1`),
		"0CD8.04.J1": json.RawMessage(`0.5`),
		"0CD8.05.X1": json.RawMessage(`1`),
		"0CD8.06.X2": json.RawMessage(`"x"`),
	}}
	r, _ := newTestResolver(t, fetcher, cache.Config{})

	all := []string{"0CD8.01.T1", "0CD8.02.H1", "0CD8.03.D1", "0CD8.04.J1", "0CD8.05.X1", "0CD8.06.X2"}
	values, err := r.ResolveBatchValues(context.Background(), all)
	require.NoError(t, err)
	assert.Len(t, values, 6)
	assert.Len(t, fetcher.calls, 1)
	assert.Len(t, fetcher.calls[0], 6)

	blind := values["0CD8.04.J1"]
	assert.Equal(t, types.SensorBlindPosition, blind.SensorType.Kind)
	assert.Equal(t, 50.0, *blind.NumericValue)

	fetcher.calls = nil
	_, err = r.ResolveBatchValues(context.Background(), all[:5])
	require.NoError(t, err)
	assert.Empty(t, fetcher.calls, "all values still fresh in cache")
}

func TestResolver_SmallBatchFetchesIndividually(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("FetchStates", mock.Anything, []string{"0CD8.01.T1"}).
		Return(map[string]json.RawMessage{"0CD8.01.T1": json.RawMessage(`21`)}, nil).Once()
	fetcher.On("FetchStates", mock.Anything, []string{"0CD8.02.H1"}).
		Return(map[string]json.RawMessage{"0CD8.02.H1": json.RawMessage(`45`)}, nil).Once()

	r, _ := newTestResolver(t, fetcher, cache.Config{})

	values, err := r.ResolveBatchValues(context.Background(), []string{"0CD8.01.T1", "0CD8.02.H1", "unknown", "0CD8.01.T1"})
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.NotContains(t, values, "unknown")
	fetcher.AssertExpectations(t)
}

func TestResolver_TotalFetchFailure(t *testing.T) {
	fetcher := &mapFetcher{err: errors.New("miniserver unreachable")}
	r, _ := newTestResolver(t, fetcher, cache.Config{})

	// No data source at all: the batch call surfaces the failure
	_, err := r.ResolveBatchValues(context.Background(), []string{"0CD8.01.T1", "0CD8.06.X2"})
	assert.Error(t, err)

	// A directory cached state still resolves, so the batch succeeds
	values, err := r.ResolveBatchValues(context.Background(), []string{"0CD8.01.T1", "0CD8.05.X1"})
	require.NoError(t, err)
	assert.Equal(t, types.SourceStructureCache, values["0CD8.05.X1"].Source)
	assert.Equal(t, types.SourceComputed, values["0CD8.01.T1"].Source)

	// Single resolution never fails for a known device
	value, err := r.ResolveDeviceValue(context.Background(), "0CD8.01.T1")
	require.NoError(t, err)
	assert.Equal(t, types.ValidationUnknown, value.ValidationStatus.Kind)
}

func TestResolver_ResolveRawCachesPayload(t *testing.T) {
	fetcher := new(MockFetcher)
	r, cacheManager := newTestResolver(t, fetcher, cache.Config{})

	value, err := r.ResolveRaw(context.Background(), "0CD8.03.D1", json.RawMessage(`{"LL":{"value":"1"}}`))
	require.NoError(t, err)
	assert.Equal(t, types.SourceStateUUID, value.Source)
	assert.Equal(t, "open", value.FormattedValue)
	assert.Equal(t, 1, cacheManager.Stats().DeviceCacheSize)

	// The pushed payload is served from cache without a fetch
	value, err = r.ResolveDeviceValue(context.Background(), "0CD8.03.D1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, *value.NumericValue)
	fetcher.AssertNotCalled(t, "FetchStates", mock.Anything, mock.Anything)
}

func TestResolver_ClassifiedSensorsUseSensorTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	logger := newTestLogger()
	fetcher := &mapFetcher{states: map[string]json.RawMessage{
		"0CD8.01.T1": json.RawMessage(`21`),
		"0CD8.06.X2": json.RawMessage(`1`),
	}}
	cacheManager := cache.NewManager(cache.Config{DeviceStateTTL: 10 * time.Second, SensorTTL: time.Minute}, logger, cache.WithClock(clock))
	r := New(directory.NewStatic(testDevices), sensors.NewRegistry(nil, logger), parsers.NewDefaultRegistry(logger), cacheManager, fetcher, logger)

	// First resolution classifies the sensor; the second stores it under the sensor TTL
	_, err := r.ResolveBatchValues(context.Background(), []string{"0CD8.01.T1", "0CD8.06.X2"})
	require.NoError(t, err)
	cacheManager.Invalidate("0CD8.01.T1")
	_, err = r.ResolveBatchValues(context.Background(), []string{"0CD8.01.T1"})
	require.NoError(t, err)

	fetcher.calls = nil
	now = now.Add(30 * time.Second)
	_, err = r.ResolveBatchValues(context.Background(), []string{"0CD8.01.T1", "0CD8.06.X2"})
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, []string{"0CD8.06.X2"}, fetcher.calls[0])
}

func TestResolver_PrefetchWarmsCoAccessedDevices(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(d)
	}

	logger := newTestLogger()
	fetcher := &mapFetcher{states: map[string]json.RawMessage{}}
	for _, d := range testDevices {
		fetcher.set(d.UUID, `1`)
	}
	cacheManager := cache.NewManager(cache.Config{DeviceStateTTL: 5 * time.Second, SensorTTL: 5 * time.Second, EnablePrefetch: true}, logger, cache.WithClock(clock))
	r := New(directory.NewStatic(testDevices), sensors.NewRegistry(nil, logger), parsers.NewDefaultRegistry(logger), cacheManager, fetcher, logger)

	pair := []string{"0CD8.01.T1", "0CD8.02.H1"}
	for i := 0; i < 3; i++ {
		_, err := r.ResolveBatchValues(context.Background(), pair)
		require.NoError(t, err)
		r.WaitPrefetch()
		advance(10 * time.Second)
	}

	fetcher.mu.Lock()
	fetcher.calls = nil
	fetcher.mu.Unlock()

	_, err := r.ResolveDeviceValue(context.Background(), "0CD8.01.T1")
	require.NoError(t, err)
	r.WaitPrefetch()

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, []string{"0CD8.01.T1"}, fetcher.calls[0])
	assert.Equal(t, []string{"0CD8.02.H1"}, fetcher.calls[1])
}

func TestResolver_PropertyTotality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	fetcher := &mapFetcher{states: map[string]json.RawMessage{}}
	r, _ := newTestResolver(t, fetcher, cache.Config{})

	payloads := gen.OneGenOf(
		gen.AnyString(),
		gen.Float64().Map(func(f float64) string { return fmt.Sprintf("%g", f) }),
		gen.AlphaString().Map(func(s string) string { return fmt.Sprintf(`{"LL":{"value":%q}}`, s) }),
		gen.Float64Range(-1e6, 1e6).Map(func(f float64) string { return fmt.Sprintf(`{"LL":{"value":"%g°C"}}`, f) }),
		gen.IntRange(-5, 5).Map(func(i int) string { return fmt.Sprintf(`{"position":%d}`, i) }),
		gen.Bool().Map(func(b bool) string { return fmt.Sprintf(`{"active":%t}`, b) }),
	)

	properties.Property("known devices always resolve with bounded confidence", prop.ForAll(
		func(idx int, payload string) bool {
			device := testDevices[idx]
			value, err := r.ResolveRaw(context.Background(), device.UUID, json.RawMessage(payload))
			if err != nil {
				return false
			}
			if value.UUID != device.UUID || value.SensorType == nil {
				return false
			}
			if value.Confidence < 0 || value.Confidence > 1 {
				return false
			}
			// OutOfRange always carries a value
			if value.ValidationStatus.Kind == types.ValidationOutOfRange && value.NumericValue == nil {
				return false
			}
			return true
		},
		gen.IntRange(0, len(testDevices)-1),
		payloads,
	))

	properties.TestingRun(t)
}
