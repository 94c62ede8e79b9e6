package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(uuid string, at time.Time) types.StateChangeEvent {
	return types.StateChangeEvent{
		ID:           fmt.Sprintf("%s-%d", uuid, at.Unix()),
		UUID:         uuid,
		DeviceType:   "Analog",
		Room:         "Kitchen",
		ChangeType:   types.ChangeValueChanged,
		Significance: types.SignificanceMinor,
		Timestamp:    at,
	}
}

func TestEventBus_LossyDelivery(t *testing.T) {
	bus := NewEventBus(1, newTestLogger())
	sub := bus.Subscribe(nil)

	now := time.Now()
	delivered, dropped := bus.Publish(event("a", now))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, dropped)

	delivered, dropped = bus.Publish(event("b", now))
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, uint64(1), sub.Dropped())

	got := <-sub.Events
	assert.Equal(t, "a", got.UUID)
}

func TestEventBus_FiltersAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(4, newTestLogger())
	kitchen := bus.Subscribe(RoomFilter("KITCHEN"))
	other := bus.Subscribe(DeviceFilter("zzz"))
	require.Equal(t, 2, bus.Len())

	bus.Publish(event("a", time.Now()))
	assert.Len(t, kitchen.Events, 1)
	assert.Len(t, other.Events, 0)

	other.Close()
	assert.Equal(t, 1, bus.Len())
	_, open := <-other.Events
	assert.False(t, open)
	assert.False(t, bus.Unsubscribe(other.ID))

	bus.Close()
	assert.Equal(t, 0, bus.Len())
	<-kitchen.Events
	_, open = <-kitchen.Events
	assert.False(t, open)
}

func TestHistory_RingKeepsNewest(t *testing.T) {
	h := NewHistory(3)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		h.Add(event("a", base.Add(time.Duration(i)*time.Minute)))
	}
	h.Add(event("b", base))

	got := h.Device("a", 0)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(4*time.Minute), got[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Minute), got[2].Timestamp)

	assert.Len(t, h.Device("a", 2), 2)
	assert.Empty(t, h.Device("missing", 10))
	assert.Equal(t, 4, h.Len())

	dropped := h.Prune(base.Add(3 * time.Minute))
	assert.Equal(t, 2, dropped)
	assert.Len(t, h.Device("a", 0), 2)
	assert.Empty(t, h.Device("b", 0))
}

func TestStatistics_AggregateClosesWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStatistics(start)
	for i := 0; i < 10; i++ {
		s.record(event(fmt.Sprintf("d%d", i%3), start))
	}

	assert.InDelta(t, 2.0, s.aggregate(start.Add(5*time.Minute)), 1e-9)

	snap := s.snapshot(start.Add(6*time.Minute), 2)
	assert.Equal(t, uint64(10), snap.TotalChanges)
	assert.InDelta(t, 2.0, snap.ChangesPerMinute, 1e-9)
	assert.Equal(t, start.Add(5*time.Minute), snap.WindowStart)
	require.Len(t, snap.MostActiveDevices, 2)
	assert.Equal(t, "d0", snap.MostActiveDevices[0].UUID)
	assert.Equal(t, uint64(4), snap.MostActiveDevices[0].Changes)
	assert.Equal(t, "d1", snap.MostActiveDevices[1].UUID)
}

func TestSignificancePolicy_Classify(t *testing.T) {
	policy := DefaultSignificancePolicy()
	temp := types.NewSensorType(types.SensorTemperature)
	humidity := types.NewSensorType(types.SensorHumidity)
	power := types.NewSensorType(types.SensorPowerMeter)
	motion := types.NewSensorType(types.SensorMotionDetector)

	value := func(st types.SensorType, v float64) *types.ResolvedValue {
		return &types.ResolvedValue{NumericValue: types.Float64Ptr(v), SensorType: &st, FormattedValue: fmt.Sprint(v)}
	}
	text := func(s string) *types.ResolvedValue {
		return &types.ResolvedValue{FormattedValue: s}
	}

	tests := []struct {
		name       string
		deviceType string
		change     types.ChangeType
		old, new   *types.ResolvedValue
		want       types.ChangeSignificance
	}{
		{"first seen", "SmokeAlarm", types.ChangeFirstSeen, nil, value(temp, 1), types.SignificanceMinor},
		{"smoke device", "SmokeAlarm", types.ChangeValueChanged, value(motion, 0), value(motion, 1), types.SignificanceCritical},
		{"security device", "SecurityPanel", types.ChangeQualityChanged, text("a"), text("a"), types.SignificanceCritical},
		{"window device", "WindowContact", types.ChangeValueChanged, value(power, 1), value(power, 1.01), types.SignificanceMajor},
		{"offline", "Analog", types.ChangeDeviceOffline, value(temp, 20), nil, types.SignificanceMajor},
		{"quality", "Analog", types.ChangeQualityChanged, value(temp, 20), value(temp, 20), types.SignificanceMinor},
		{"temperature small", "Analog", types.ChangeValueChanged, value(temp, 20), value(temp, 20.4), types.SignificanceTrivial},
		{"temperature minor", "Analog", types.ChangeValueChanged, value(temp, 20), value(temp, 20.6), types.SignificanceMinor},
		{"temperature major", "Analog", types.ChangeValueChanged, value(temp, 20), value(temp, 22.5), types.SignificanceMajor},
		{"humidity minor", "Analog", types.ChangeValueChanged, value(humidity, 40), value(humidity, 46), types.SignificanceMinor},
		{"humidity major", "Analog", types.ChangeValueChanged, value(humidity, 40), value(humidity, 61), types.SignificanceMajor},
		{"humidity trivial", "Analog", types.ChangeValueChanged, value(humidity, 40), value(humidity, 44), types.SignificanceTrivial},
		{"binary flip", "Digital", types.ChangeValueChanged, value(motion, 0), value(motion, 1), types.SignificanceMajor},
		{"zero flip", "Meter", types.ChangeValueChanged, value(power, 0), value(power, 3), types.SignificanceMajor},
		{"relative minor", "Meter", types.ChangeValueChanged, value(power, 100), value(power, 110), types.SignificanceMinor},
		{"relative trivial", "Meter", types.ChangeValueChanged, value(power, 100), value(power, 101), types.SignificanceTrivial},
		{"text change", "Virtual", types.ChangeValueChanged, text("idle"), text("running"), types.SignificanceMinor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Classify(tt.deviceType, tt.change, tt.old, tt.new))
		})
	}
}

func TestSignificancePolicy_DefaultsFillZeroFields(t *testing.T) {
	policy := SignificancePolicy{TemperatureMajor: 5}.withDefaults()
	assert.Equal(t, 5.0, policy.TemperatureMajor)
	assert.Equal(t, 0.5, policy.TemperatureMinor)
	assert.Equal(t, []string{"security", "alarm", "smoke"}, policy.CriticalDeviceTypes)
}

func TestClassifyChange(t *testing.T) {
	computed := &types.ResolvedValue{Source: types.SourceComputed, FormattedValue: "unknown", ValidationStatus: types.UnknownStatus()}
	parseErr := &types.ResolvedValue{Source: types.SourceComputed, FormattedValue: "unknown", ValidationStatus: types.ParseError("bad")}
	live := &types.ResolvedValue{Source: types.SourceRealTimeAPI, NumericValue: types.Float64Ptr(1), FormattedValue: "1"}

	tests := []struct {
		name    string
		prev    *types.DeviceState
		next    *types.DeviceState
		want    types.ChangeType
		changed bool
	}{
		{"online", &types.DeviceState{Value: computed}, &types.DeviceState{Value: live}, types.ChangeDeviceOnline, true},
		{"offline", &types.DeviceState{Value: live}, &types.DeviceState{Value: nil}, types.ChangeDeviceOffline, true},
		{"error", &types.DeviceState{Value: live}, &types.DeviceState{Value: parseErr}, types.ChangeError, true},
		{"quality", &types.DeviceState{Value: live, Quality: types.QualityFresh}, &types.DeviceState{Value: live, Quality: types.QualityGood}, types.ChangeQualityChanged, true},
		{"unchanged", &types.DeviceState{Value: live}, &types.DeviceState{Value: live}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := classifyChange(tt.prev, tt.next)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}
