package miniserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
)

const structurePath = "/data/LoxAPP3.json"

// structureFile is the subset of LoxAPP3.json the directory needs
type structureFile struct {
	Rooms    map[string]structureRoom    `json:"rooms"`
	Controls map[string]structureControl `json:"controls"`
}

type structureRoom struct {
	Name string `json:"name"`
}

type structureControl struct {
	UUIDAction   string                      `json:"uuidAction"`
	Name         string                      `json:"name"`
	Type         string                      `json:"type"`
	Room         string                      `json:"room"`
	States       map[string]json.RawMessage  `json:"states"`
	SubControls  map[string]structureControl `json:"subControls"`
	CachedStates map[string]interface{}      `json:"cachedStates"`
}

// LoadStructure reads the structure file and returns one device per control
// and sub-control, sorted by uuid
func (c *Client) LoadStructure(ctx context.Context) ([]types.DeviceInfo, error) {
	body, err := c.get(ctx, structurePath, structureMaxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load structure: %w", err)
	}

	devices, err := ParseStructure(body)
	if err != nil {
		return nil, err
	}
	c.logger.WithField("devices", len(devices)).Info("Miniserver structure loaded")
	return devices, nil
}

// ParseStructure converts a LoxAPP3.json document into directory records
func ParseStructure(body []byte) ([]types.DeviceInfo, error) {
	var file structureFile
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("failed to decode structure: %w", err)
	}

	var devices []types.DeviceInfo
	var add func(id string, control structureControl, room string)
	add = func(id string, control structureControl, room string) {
		if control.UUIDAction != "" {
			id = control.UUIDAction
		}
		if control.Room != "" {
			room = control.Room
		}
		roomName := room
		if r, ok := file.Rooms[room]; ok {
			roomName = r.Name
		}

		devices = append(devices, types.DeviceInfo{
			UUID:         id,
			Name:         control.Name,
			DeviceType:   control.Type,
			Room:         roomName,
			CachedStates: control.CachedStates,
		})
		for subID, sub := range control.SubControls {
			add(subID, sub, room)
		}
	}

	for id, control := range file.Controls {
		add(id, control, "")
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].UUID < devices[j].UUID })
	return devices, nil
}
