package repository

import (
	"context"
	"time"

	"github.com/caresync/backend/internal/models"
)

type EventRepository interface {
	// AddEvent validates, assigns an id and persists the event. Presence
	// updates and fan-out are the caller's responsibility.
	AddEvent(ctx context.Context, deviceID string, category models.Category, occurredAt time.Time) (*models.Event, error)
	// ListEvents returns every event, newest first. Events with equal
	// occurred_at come back latest-inserted first.
	ListEvents(ctx context.Context) ([]models.Event, error)
}

type DeviceRepository interface {
	// UpsertDevice writes last_seen for the device, creating the row if
	// it does not exist yet.
	UpsertDevice(ctx context.Context, deviceID string, seenAt time.Time) error
	ListDevices(ctx context.Context) ([]models.DeviceStatus, error)
}

type SubscriberRepository interface {
	UpsertSubscriber(ctx context.Context, s *models.Subscriber) error
	DeleteSubscriber(ctx context.Context, handle string) error
	ListSubscribers(ctx context.Context) ([]models.Subscriber, error)
}

type AlertRepository interface {
	AddAlert(ctx context.Context, a *models.AlertRecord) error
	ListAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error)
}

// Store is the full persistence surface backing the service.
type Store interface {
	EventRepository
	DeviceRepository
	SubscriberRepository
	AlertRepository
}
