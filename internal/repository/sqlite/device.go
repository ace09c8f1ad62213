package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/mochi-mirror/internal/apperror"
	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/repository"
)

var _ repository.DeviceRepository = (*DB)(nil)

// TouchDevice records a sign-in from device.UserAgent. The (user_id,
// user_agent) UNIQUE key makes repeat sign-ins update the same row.
func (db *DB) TouchDevice(ctx context.Context, device *model.Device) error {
	now := time.Now()
	if device.LastActive.IsZero() {
		device.LastActive = now
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO devices (id, user_id, user_agent, ip_address, last_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, user_agent) DO UPDATE SET
			ip_address = excluded.ip_address,
			last_active = excluded.last_active`,
		xid.New().String(),
		device.UserID,
		device.UserAgent,
		device.IPAddress,
		device.LastActive,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touching device for user %s: %w", device.UserID, err)
	}

	err = db.conn.QueryRowContext(ctx,
		`SELECT id, created_at FROM devices WHERE user_id = ? AND user_agent = ?`,
		device.UserID, device.UserAgent,
	).Scan(&device.ID, &device.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: reading back device: %w", err)
	}
	return nil
}

// ListDevices returns the user's devices, most recently active first.
func (db *DB) ListDevices(ctx context.Context, userID string) ([]model.Device, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, user_agent, ip_address, last_active, created_at
		 FROM devices
		 WHERE user_id = ?
		 ORDER BY last_active DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing devices for user %s: %w", userID, err)
	}
	defer rows.Close()

	devices := []model.Device{}
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.UserAgent, &d.IPAddress, &d.LastActive, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning device row: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating device rows: %w", err)
	}
	return devices, nil
}

// DeleteDevice is owner-scoped: another user's device id is reported as not
// found rather than forbidden, so ids cannot be probed.
func (db *DB) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM devices WHERE id = ? AND user_id = ?`, deviceID, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting device %s: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("device", deviceID)
	}
	return nil
}
