package devicecfg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/provisioning"
)

// DurableStore persists the authoritative configuration record.
type DurableStore interface {
	// Get returns the record for deviceID, or (nil, nil) when none exists.
	Get(ctx context.Context, deviceID string) (*Record, error)

	// Merge upserts the non-nil fields of w. Fields absent from w keep their
	// stored values. An empty SyncStatus keeps the stored status, or starts a
	// new record as pending.
	Merge(ctx context.Context, deviceID string, w Write) error

	// SetSyncStatus updates only the sync status of an existing record.
	SetSyncStatus(ctx context.Context, deviceID string, status SyncStatus) error
}

// Write is one merge into the durable record.
type Write struct {
	Update
	WiFiConfigured *bool
	WiFiSSID       *string
	SyncStatus     SyncStatus
	UpdatedBy      string
}

// SQLiteStore implements DurableStore on the device_configs table.
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewSQLiteStore creates a durable store over an open, migrated database.
func NewSQLiteStore(db *sql.DB, clock clockwork.Clock) *SQLiteStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SQLiteStore{db: db, clock: clock}
}

// Get reads the record for deviceID.
func (s *SQLiteStore) Get(ctx context.Context, deviceID string) (*Record, error) {
	const op = "devicecfg.durable.get"

	query := `
		SELECT device_id, alarm_mode, led_intensity, led_color_r, led_color_g, led_color_b,
			wifi_configured, wifi_ssid, sync_status, updated_by, created_at, last_updated
		FROM device_configs
		WHERE device_id = ?`

	var (
		rec                    Record
		alarm, ssid, updatedBy sql.NullString
		intensity, r, g, b     sql.NullInt64
		wifi                   sql.NullBool
		status                 string
		createdAt, lastUpdated string
	)
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&rec.DeviceID, &alarm, &intensity, &r, &g, &b,
		&wifi, &ssid, &status, &updatedBy, &createdAt, &lastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absent record is a valid answer
	}
	if err != nil {
		return nil, provisioning.FromSQLite(op, err)
	}

	if alarm.Valid {
		m := AlarmMode(alarm.String)
		rec.AlarmMode = &m
	}
	if intensity.Valid {
		v := int(intensity.Int64)
		rec.LEDIntensity = &v
	}
	if r.Valid && g.Valid && b.Valid {
		rec.LEDColor = &RGB{R: int(r.Int64), G: int(g.Int64), B: int(b.Int64)}
	}
	if wifi.Valid {
		rec.WiFiConfigured = &wifi.Bool
	}
	if ssid.Valid {
		rec.WiFiSSID = &ssid.String
	}
	rec.SyncStatus = SyncStatus(status)
	rec.UpdatedBy = updatedBy.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)     //nolint:errcheck // written by Merge
	rec.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated) //nolint:errcheck // written by Merge
	return &rec, nil
}

// Merge upserts w. NULL parameters fall back to the stored column values.
func (s *SQLiteStore) Merge(ctx context.Context, deviceID string, w Write) error {
	const op = "devicecfg.durable.merge"

	now := s.clock.Now().UTC().Format(time.RFC3339Nano)

	var alarm, ssid, updatedBy, status any
	if w.SyncStatus != "" {
		status = string(w.SyncStatus)
	}
	if w.AlarmMode != nil {
		alarm = string(*w.AlarmMode)
	}
	if w.WiFiSSID != nil {
		ssid = *w.WiFiSSID
	}
	if w.UpdatedBy != "" {
		updatedBy = w.UpdatedBy
	}
	var intensity, r, g, b, wifi any
	if w.LEDIntensity != nil {
		intensity = *w.LEDIntensity
	}
	if w.LEDColor != nil {
		r, g, b = w.LEDColor.R, w.LEDColor.G, w.LEDColor.B
	}
	if w.WiFiConfigured != nil {
		wifi = *w.WiFiConfigured
	}

	query := `
		INSERT INTO device_configs (
			device_id, alarm_mode, led_intensity, led_color_r, led_color_g, led_color_b,
			wifi_configured, wifi_ssid, sync_status, updated_by, created_at, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, 'pending'), ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			alarm_mode      = COALESCE(excluded.alarm_mode, device_configs.alarm_mode),
			led_intensity   = COALESCE(excluded.led_intensity, device_configs.led_intensity),
			led_color_r     = COALESCE(excluded.led_color_r, device_configs.led_color_r),
			led_color_g     = COALESCE(excluded.led_color_g, device_configs.led_color_g),
			led_color_b     = COALESCE(excluded.led_color_b, device_configs.led_color_b),
			wifi_configured = COALESCE(excluded.wifi_configured, device_configs.wifi_configured),
			wifi_ssid       = COALESCE(excluded.wifi_ssid, device_configs.wifi_ssid),
			sync_status     = COALESCE(?, device_configs.sync_status),
			updated_by      = COALESCE(excluded.updated_by, device_configs.updated_by),
			last_updated    = excluded.last_updated`

	_, err := s.db.ExecContext(ctx, query,
		deviceID, alarm, intensity, r, g, b,
		wifi, ssid, status, updatedBy, now, now,
		status,
	)
	return provisioning.FromSQLite(op, err)
}

// SetSyncStatus updates the sync status of deviceID.
func (s *SQLiteStore) SetSyncStatus(ctx context.Context, deviceID string, status SyncStatus) error {
	const op = "devicecfg.durable.set_sync_status"

	res, err := s.db.ExecContext(ctx,
		"UPDATE device_configs SET sync_status = ? WHERE device_id = ?",
		string(status), deviceID,
	)
	if err != nil {
		return provisioning.FromSQLite(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return provisioning.NewTransportError(op, provisioning.TransportNotFound, sql.ErrNoRows)
	}
	return nil
}
