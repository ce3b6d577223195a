package repository

import (
	"context"
	"fmt"

	"github.com/caresync/backend/internal/models"
)

func (s *SQLiteDB) UpsertSubscriber(ctx context.Context, sub *models.Subscriber) error {
	// Re-linking the same handle refreshes the chat id but keeps the
	// original linked_at.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (handle, chat_id, linked_at)
		VALUES (?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET chat_id = excluded.chat_id`,
		sub.Handle, sub.ChatID, sub.LinkedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error upserting subscriber: %w", err)
	}
	return nil
}

func (s *SQLiteDB) DeleteSubscriber(ctx context.Context, handle string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE handle = ?`, handle)
	if err != nil {
		return fmt.Errorf("error deleting subscriber: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT handle, chat_id, linked_at FROM subscribers`)
	if err != nil {
		return nil, fmt.Errorf("error querying subscribers: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		if err := rows.Scan(&sub.Handle, &sub.ChatID, &sub.LinkedAt); err != nil {
			return nil, fmt.Errorf("error scanning subscriber: %w", err)
		}
		sub.LinkedAt = sub.LinkedAt.UTC()
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}
