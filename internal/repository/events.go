package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caresync/backend/internal/models"
)

func (s *SQLiteDB) AddEvent(ctx context.Context, deviceID string, category models.Category, occurredAt time.Time) (*models.Event, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", models.ErrValidation)
	}
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", models.ErrValidation)
	}

	ev := &models.Event{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Category:   category,
		OccurredAt: occurredAt.UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, device_id, category, occurred_at)
		VALUES (?, ?, ?, ?)`,
		ev.ID, ev.DeviceID, string(ev.Category), ev.OccurredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error inserting event: %w", err)
	}

	return ev, nil
}

func (s *SQLiteDB) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, category, occurred_at
		FROM events
		ORDER BY occurred_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("error querying events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var category string
		if err := rows.Scan(&ev.ID, &ev.DeviceID, &category, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}
		ev.Category = models.Category(category)
		ev.OccurredAt = ev.OccurredAt.UTC()
		events = append(events, ev)
	}

	return events, rows.Err()
}
