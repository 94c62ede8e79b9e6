package handlers

import (
	"context"
	"encoding/json"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/directory"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/sensors"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/frostdev-ops/pma-sensor-core/internal/websocket"
	"github.com/sirupsen/logrus"
)

// StateService is the state manager surface the API reads and feeds
type StateService interface {
	UpdateDeviceState(ctx context.Context, uuid string, raw json.RawMessage) *types.StateChangeEvent
	GetDeviceState(uuid string) (*types.DeviceState, bool)
	GetAllDeviceStates() []*types.DeviceState
	GetDeviceHistory(uuid string, limit int) []types.StateChangeEvent
	GetChangeStatistics() types.ChangeStatistics
}

// ValueService resolves device values on demand
type ValueService interface {
	ResolveDeviceValue(ctx context.Context, uuid string) (types.ResolvedValue, error)
	ResolveBatchValues(ctx context.Context, uuids []string) (map[string]types.ResolvedValue, error)
}

// CacheService exposes cache statistics and invalidation
type CacheService interface {
	Stats() types.CacheStatistics
	Clear()
}

// SensorService exposes sensor detection statistics and its cache
type SensorService interface {
	Stats() sensors.RegistryStats
	ClearCache()
}

// Handlers holds the HTTP handlers and their dependencies
type Handlers struct {
	state     StateService
	values    ValueService
	cache     CacheService
	sensors   SensorService
	directory directory.Directory
	hub       *websocket.Hub
	log       *logrus.Logger
}

// Dependencies wires Handlers. Hub and Sensors may be nil.
type Dependencies struct {
	State     StateService
	Values    ValueService
	Cache     CacheService
	Sensors   SensorService
	Directory directory.Directory
	Hub       *websocket.Hub
	Logger    *logrus.Logger
}

// NewHandlers creates the handler set
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		state:     deps.State,
		values:    deps.Values,
		cache:     deps.Cache,
		sensors:   deps.Sensors,
		directory: deps.Directory,
		hub:       deps.Hub,
		log:       deps.Logger,
	}
}
