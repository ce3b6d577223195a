package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/caresync/backend/internal/models"
)

func (s *SQLiteDB) UpsertDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device_id is required", models.ErrValidation)
	}

	// Merge semantics: only last_seen is written on conflict.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, last_seen)
		VALUES (?, ?)
		ON CONFLICT(device_id) DO UPDATE SET last_seen = excluded.last_seen`,
		deviceID, seenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error upserting device: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListDevices(ctx context.Context) ([]models.DeviceStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_id, last_seen FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("error querying devices: %w", err)
	}
	defer rows.Close()

	var devices []models.DeviceStatus
	for rows.Next() {
		var d models.DeviceStatus
		if err := rows.Scan(&d.DeviceID, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("error scanning device: %w", err)
		}
		d.LastSeen = d.LastSeen.UTC()
		devices = append(devices, d)
	}

	return devices, rows.Err()
}
