// Package notify maintains the subscriber directory and delivers alert
// text to every linked subscriber.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caresync/backend/internal/models"
	"github.com/caresync/backend/internal/repository"
)

// ErrNotFound is returned by Link when the handle cannot be resolved to
// a deliverable chat. The usual cause is that the person has not started
// a conversation with the bot yet.
var ErrNotFound = errors.New("handle not found")

// Resolver turns a normalized handle into a chat id.
type Resolver interface {
	Resolve(ctx context.Context, handle string) (int64, error)
}

// Sender delivers one message to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type directoryStore interface {
	repository.SubscriberRepository
	repository.AlertRepository
}

type Directory struct {
	store    directoryStore
	resolver Resolver
	sender   Sender
}

func NewDirectory(store directoryStore, resolver Resolver, sender Sender) *Directory {
	return &Directory{
		store:    store,
		resolver: resolver,
		sender:   sender,
	}
}

// NormalizeHandle maps user input to the directory key: whitespace
// trimmed, a single leading @ stripped, lowercased. "@Alice" and
// "alice" are the same subscriber.
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(h, "@")
	return strings.ToLower(h)
}

// Link resolves the handle and upserts the subscriber row. Idempotent:
// repeated links of the same handle keep one row. No row is written
// when resolution fails.
func (d *Directory) Link(ctx context.Context, handle string) (*models.Subscriber, error) {
	normalized := NormalizeHandle(handle)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty handle", models.ErrValidation)
	}

	chatID, err := d.resolver.Resolve(ctx, normalized)
	if err != nil {
		return nil, err
	}

	sub := &models.Subscriber{
		Handle:   normalized,
		ChatID:   chatID,
		LinkedAt: time.Now().UTC(),
	}
	if err := d.store.UpsertSubscriber(ctx, sub); err != nil {
		return nil, err
	}

	slog.Info("subscriber linked", "handle", normalized, "chat_id", chatID)
	return sub, nil
}

// Unlink removes the subscriber if present. Absence is not an error.
func (d *Directory) Unlink(ctx context.Context, handle string) error {
	return d.store.DeleteSubscriber(ctx, NormalizeHandle(handle))
}

func (d *Directory) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	return d.store.ListSubscribers(ctx)
}

// DispatchToAll delivers text to every subscriber independently; one
// failed delivery never stops the pass. With zero subscribers nothing
// is sent and no record is written. One AlertRecord is appended per
// dispatch, carrying the subscriber count observed at the start.
func (d *Directory) DispatchToAll(ctx context.Context, text string) error {
	subs, err := d.store.ListSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("error listing subscribers for dispatch: %w", err)
	}
	if len(subs) == 0 {
		slog.Info("no subscribers linked, skipping dispatch")
		return nil
	}

	for _, sub := range subs {
		if err := d.sender.Send(ctx, sub.ChatID, text); err != nil {
			slog.Error("alert delivery failed", "handle", sub.Handle, "error", err)
		}
	}

	record := &models.AlertRecord{
		Text:            text,
		SubscriberCount: len(subs),
		SentAt:          time.Now().UTC(),
	}
	if err := d.store.AddAlert(ctx, record); err != nil {
		return fmt.Errorf("error recording alert: %w", err)
	}

	slog.Info("alert dispatched", "subscribers", len(subs))
	return nil
}

func (d *Directory) ListAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	return d.store.ListAlerts(ctx, limit)
}
