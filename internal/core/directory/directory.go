package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for directory files that are neither YAML nor JSON
var ErrUnsupportedFormat = errors.New("unsupported directory file format")

// Directory is the read-only device directory
type Directory interface {
	// Device returns the record of uuid
	Device(uuid string) (types.DeviceInfo, bool)

	// Devices returns every record, sorted by uuid
	Devices() []types.DeviceInfo

	// Rooms maps room names to the uuids they contain
	Rooms() map[string][]string
}

// Static is an in-memory directory
type Static struct {
	devices map[string]types.DeviceInfo
	mutex   sync.RWMutex
}

// NewStatic creates a directory from a device list. Later duplicates win.
func NewStatic(devices []types.DeviceInfo) *Static {
	s := &Static{}
	s.Replace(devices)
	return s
}

// Replace swaps the whole device set
func (s *Static) Replace(devices []types.DeviceInfo) {
	m := make(map[string]types.DeviceInfo, len(devices))
	for _, d := range devices {
		if d.UUID == "" {
			continue
		}
		m[d.UUID] = d
	}

	s.mutex.Lock()
	s.devices = m
	s.mutex.Unlock()
}

// Upsert adds or replaces one device
func (s *Static) Upsert(device types.DeviceInfo) {
	if device.UUID == "" {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.devices[device.UUID] = device
}

// Device implements Directory
func (s *Static) Device(uuid string) (types.DeviceInfo, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	d, ok := s.devices[uuid]
	return d, ok
}

// Devices implements Directory
func (s *Static) Devices() []types.DeviceInfo {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]types.DeviceInfo, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// Rooms implements Directory
func (s *Static) Rooms() map[string][]string {
	return RoomIndex(s.Devices())
}

// Len returns the number of devices
func (s *Static) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.devices)
}

// RoomIndex groups device uuids by room. Devices without a room are skipped.
func RoomIndex(devices []types.DeviceInfo) map[string][]string {
	rooms := make(map[string][]string)
	for _, d := range devices {
		if d.Room == "" {
			continue
		}
		rooms[d.Room] = append(rooms[d.Room], d.UUID)
	}
	for room := range rooms {
		sort.Strings(rooms[room])
	}
	return rooms
}

// fileFormat is the on-disk layout of a directory file
type fileFormat struct {
	Devices []types.DeviceInfo `json:"devices" yaml:"devices"`
}

// LoadFile reads a YAML or JSON device list
func LoadFile(path string) (*Static, error) {
	devices, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewStatic(devices), nil
}

// ReadFile parses a YAML or JSON device list without building a directory
func ReadFile(path string) ([]types.DeviceInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var file fileFormat
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse directory file %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse directory file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	for i, d := range file.Devices {
		if d.UUID == "" {
			return nil, fmt.Errorf("directory file %s: device %d has no uuid", path, i)
		}
	}
	return file.Devices, nil
}
