package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "devices.yaml", `
devices:
  - uuid: 0CD8.01.T1
    name: Living Room Temp
    device_type: Analog
    room: Living Room
  - uuid: 0CD8.02.D1
    name: Front Door
    device_type: Digital
    room: Hall
    cached_states:
      active: 1
`)

	dir, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Len())

	device, ok := dir.Device("0CD8.02.D1")
	require.True(t, ok)
	assert.Equal(t, "Front Door", device.Name)
	assert.Equal(t, 1, device.CachedStates["active"])

	assert.Equal(t, map[string][]string{
		"Living Room": {"0CD8.01.T1"},
		"Hall":        {"0CD8.02.D1"},
	}, dir.Rooms())
}

func TestLoadFile_JSON(t *testing.T) {
	path := writeFile(t, "devices.json", `{"devices":[{"uuid":"a","name":"Kitchen Temp","device_type":"Analog","cached_states":{"value":21.5}}]}`)

	dir, err := LoadFile(path)
	require.NoError(t, err)
	device, ok := dir.Device("a")
	require.True(t, ok)
	assert.Equal(t, 21.5, device.CachedStates["value"])
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(writeFile(t, "devices.txt", "x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadFile(writeFile(t, "devices.yaml", "devices:\n  - name: no uuid\n"))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStatic_DevicesSortedAndUpsert(t *testing.T) {
	dir := NewStatic([]types.DeviceInfo{{UUID: "b"}, {UUID: "a"}, {UUID: ""}})
	dir.Upsert(types.DeviceInfo{UUID: "c", Room: "Office"})

	devices := dir.Devices()
	require.Len(t, devices, 3)
	assert.Equal(t, "a", devices[0].UUID)
	assert.Equal(t, "c", devices[2].UUID)
	assert.Equal(t, map[string][]string{"Office": {"c"}}, dir.Rooms())
}

func TestRefreshing_ReloadsAfterStructureTTL(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	var loads atomic.Int32
	loader := func(ctx context.Context) ([]types.DeviceInfo, error) {
		n := loads.Add(1)
		devices := []types.DeviceInfo{{UUID: "a", Room: "Hall"}}
		if n > 1 {
			devices = append(devices, types.DeviceInfo{UUID: "b", Room: "Hall"})
		}
		return devices, nil
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dir := NewRefreshing(loader, time.Minute, time.Hour, logger)
	dir.now = func() time.Time { return now }

	require.NoError(t, dir.Refresh(context.Background()))
	assert.Len(t, dir.Devices(), 1)
	assert.Equal(t, int32(1), loads.Load())

	now = now.Add(2 * time.Minute)
	dir.Devices()
	assert.Eventually(t, func() bool {
		_, ok := dir.Device("b")
		return ok
	}, time.Second, 10*time.Millisecond)

	// The room index was rebuilt after the reload
	assert.Equal(t, []string{"a", "b"}, dir.Rooms()["Hall"])
}

func TestRefreshing_FailedReloadKeepsStructure(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	fail := false
	loader := func(ctx context.Context) ([]types.DeviceInfo, error) {
		if fail {
			return nil, errors.New("miniserver offline")
		}
		return []types.DeviceInfo{{UUID: "a"}}, nil
	}

	dir := NewRefreshing(loader, 0, 0, logger)
	require.NoError(t, dir.Refresh(context.Background()))

	fail = true
	assert.Error(t, dir.Refresh(context.Background()))
	_, ok := dir.Device("a")
	assert.True(t, ok)
}
