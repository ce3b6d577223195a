package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/caresync/backend/internal/models"
)

func (s *SQLiteDB) AddAlert(ctx context.Context, a *models.AlertRecord) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.SentAt = a.SentAt.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_log (id, text, subscriber_count, sent_at)
		VALUES (?, ?, ?, ?)`,
		a.ID, a.Text, a.SubscriberCount, a.SentAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting alert record: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, subscriber_count, sent_at
		FROM alert_log
		ORDER BY sent_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying alert log: %w", err)
	}
	defer rows.Close()

	var alerts []models.AlertRecord
	for rows.Next() {
		var a models.AlertRecord
		if err := rows.Scan(&a.ID, &a.Text, &a.SubscriberCount, &a.SentAt); err != nil {
			return nil, fmt.Errorf("error scanning alert record: %w", err)
		}
		a.SentAt = a.SentAt.UTC()
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}
