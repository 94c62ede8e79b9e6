package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// ErrDeviceNotFound is returned when a uuid has no directory row
var ErrDeviceNotFound = errors.New("device not found")

// deviceRow is the devices table layout
type deviceRow struct {
	UUID         string    `db:"uuid"`
	Name         string    `db:"name"`
	DeviceType   string    `db:"device_type"`
	Room         string    `db:"room"`
	CachedStates string    `db:"cached_states"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r deviceRow) toDeviceInfo() (types.DeviceInfo, error) {
	info := types.DeviceInfo{
		UUID:       r.UUID,
		Name:       r.Name,
		DeviceType: r.DeviceType,
		Room:       r.Room,
	}
	if r.CachedStates != "" && r.CachedStates != "{}" {
		if err := json.Unmarshal([]byte(r.CachedStates), &info.CachedStates); err != nil {
			return info, fmt.Errorf("invalid cached_states for %s: %w", r.UUID, err)
		}
	}
	return info, nil
}

// DeviceRepository stores the device directory in SQLite
type DeviceRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// NewDeviceRepository creates a DeviceRepository
func NewDeviceRepository(db *sqlx.DB, log *logrus.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:  db,
		log: log,
	}
}

const upsertDevice = `
	INSERT INTO devices (uuid, name, device_type, room, cached_states, updated_at)
	VALUES (:uuid, :name, :device_type, :room, :cached_states, :updated_at)
	ON CONFLICT(uuid) DO UPDATE SET
		name = excluded.name,
		device_type = excluded.device_type,
		room = excluded.room,
		cached_states = excluded.cached_states,
		updated_at = excluded.updated_at`

func newDeviceRow(device types.DeviceInfo, now time.Time) (deviceRow, error) {
	states := "{}"
	if len(device.CachedStates) > 0 {
		encoded, err := json.Marshal(device.CachedStates)
		if err != nil {
			return deviceRow{}, fmt.Errorf("failed to encode cached_states for %s: %w", device.UUID, err)
		}
		states = string(encoded)
	}
	return deviceRow{
		UUID:         device.UUID,
		Name:         device.Name,
		DeviceType:   device.DeviceType,
		Room:         device.Room,
		CachedStates: states,
		UpdatedAt:    now,
	}, nil
}

// Upsert inserts or replaces a device
func (r *DeviceRepository) Upsert(ctx context.Context, device types.DeviceInfo) error {
	row, err := newDeviceRow(device, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExecContext(ctx, upsertDevice, row); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// UpsertAll writes every device in one transaction
func (r *DeviceRepository) UpsertAll(ctx context.Context, devices []types.DeviceInfo) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, device := range devices {
		if device.UUID == "" {
			continue
		}
		row, err := newDeviceRow(device, now)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertDevice, row); err != nil {
			return fmt.Errorf("failed to upsert device %s: %w", device.UUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit devices: %w", err)
	}
	r.log.WithField("count", len(devices)).Info("Device directory stored")
	return nil
}

// Get returns one device
func (r *DeviceRepository) Get(ctx context.Context, uuid string) (types.DeviceInfo, error) {
	var row deviceRow
	err := r.db.GetContext(ctx, &row, `
		SELECT uuid, name, device_type, room, cached_states, updated_at
		FROM devices
		WHERE uuid = ?`, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DeviceInfo{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, uuid)
	}
	if err != nil {
		return types.DeviceInfo{}, fmt.Errorf("failed to get device: %w", err)
	}
	return row.toDeviceInfo()
}

// List returns every device ordered by uuid. Rows with unreadable cached
// states are returned without them.
func (r *DeviceRepository) List(ctx context.Context) ([]types.DeviceInfo, error) {
	var rows []deviceRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT uuid, name, device_type, room, cached_states, updated_at
		FROM devices
		ORDER BY uuid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]types.DeviceInfo, 0, len(rows))
	for _, row := range rows {
		info, err := row.toDeviceInfo()
		if err != nil {
			r.log.WithError(err).Warn("Ignoring cached states of device")
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// Delete removes a device
func (r *DeviceRepository) Delete(ctx context.Context, uuid string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, uuid)
	}
	return nil
}

// Load lists the directory. It matches directory.Loader.
func (r *DeviceRepository) Load(ctx context.Context) ([]types.DeviceInfo, error) {
	return r.List(ctx)
}
