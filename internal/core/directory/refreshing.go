package directory

import (
	"context"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/sirupsen/logrus"
)

// Loader produces the full device list from its source
type Loader func(ctx context.Context) ([]types.DeviceInfo, error)

const defaultLoadTimeout = 10 * time.Second

// Refreshing is a Directory that reloads its structure from a Loader once it
// is older than structureTTL. The room index is cached for roomTTL. A failed
// reload keeps serving the previous structure.
type Refreshing struct {
	loader       Loader
	structureTTL time.Duration
	roomTTL      time.Duration

	static   *Static
	loadedAt time.Time
	loading  bool

	rooms        map[string][]string
	roomsBuiltAt time.Time

	refreshMutex sync.Mutex
	roomsMutex   sync.Mutex
	now          func() time.Time
	logger       *logrus.Logger
}

// NewRefreshing creates a refreshing directory. Call Refresh to load the
// initial structure.
func NewRefreshing(loader Loader, structureTTL, roomTTL time.Duration, logger *logrus.Logger) *Refreshing {
	return &Refreshing{
		loader:       loader,
		structureTTL: structureTTL,
		roomTTL:      roomTTL,
		static:       NewStatic(nil),
		now:          time.Now,
		logger:       logger,
	}
}

// Refresh reloads the structure now
func (r *Refreshing) Refresh(ctx context.Context) error {
	devices, err := r.loader(ctx)

	r.refreshMutex.Lock()
	defer r.refreshMutex.Unlock()
	r.loading = false

	if err != nil {
		r.logger.WithError(err).Warn("Failed to reload device structure, keeping previous")
		return err
	}

	r.static.Replace(devices)
	r.loadedAt = r.now()

	r.roomsMutex.Lock()
	r.rooms = nil
	r.roomsMutex.Unlock()

	r.logger.WithField("devices", len(devices)).Info("Device structure loaded")
	return nil
}

// LoadedAt returns when the structure was last loaded
func (r *Refreshing) LoadedAt() time.Time {
	r.refreshMutex.Lock()
	defer r.refreshMutex.Unlock()
	return r.loadedAt
}

// maybeRefresh starts a background reload when the structure is expired.
// Readers never wait on the loader.
func (r *Refreshing) maybeRefresh() {
	if r.structureTTL <= 0 {
		return
	}

	r.refreshMutex.Lock()
	due := !r.loading && r.now().Sub(r.loadedAt) >= r.structureTTL
	if due {
		r.loading = true
	}
	r.refreshMutex.Unlock()

	if !due {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultLoadTimeout)
		defer cancel()
		_ = r.Refresh(ctx)
	}()
}

// Device implements Directory
func (r *Refreshing) Device(uuid string) (types.DeviceInfo, bool) {
	r.maybeRefresh()
	return r.static.Device(uuid)
}

// Devices implements Directory
func (r *Refreshing) Devices() []types.DeviceInfo {
	r.maybeRefresh()
	return r.static.Devices()
}

// Rooms implements Directory
func (r *Refreshing) Rooms() map[string][]string {
	r.maybeRefresh()

	r.roomsMutex.Lock()
	defer r.roomsMutex.Unlock()

	now := r.now()
	if r.rooms == nil || (r.roomTTL > 0 && now.Sub(r.roomsBuiltAt) >= r.roomTTL) {
		r.rooms = RoomIndex(r.static.Devices())
		r.roomsBuiltAt = now
	}

	out := make(map[string][]string, len(r.rooms))
	for room, uuids := range r.rooms {
		out[room] = append([]string(nil), uuids...)
	}
	return out
}
