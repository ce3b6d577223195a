// Package presence derives online/offline state for devices from their
// last contact time. It holds no state of its own; devices table rows in
// the store are the source of truth.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/caresync/backend/internal/models"
	"github.com/caresync/backend/internal/repository"
)

type Tracker struct {
	repo   repository.DeviceRepository
	window time.Duration
}

func NewTracker(repo repository.DeviceRepository, window time.Duration) *Tracker {
	return &Tracker{
		repo:   repo,
		window: window,
	}
}

// Touch records contact from the device (event submission or explicit
// heartbeat) and returns the fresh status for publication.
func (t *Tracker) Touch(ctx context.Context, deviceID string, now time.Time) (models.DeviceStatus, error) {
	if err := t.repo.UpsertDevice(ctx, deviceID, now); err != nil {
		return models.DeviceStatus{}, fmt.Errorf("error touching device %s: %w", deviceID, err)
	}
	return models.DeviceStatus{DeviceID: deviceID, LastSeen: now.UTC()}, nil
}

func (t *Tracker) ListDevices(ctx context.Context) ([]models.DeviceStatus, error) {
	return t.repo.ListDevices(ctx)
}

// Online reports whether the device was heard from strictly within the
// presence window. At exactly window age the device is offline.
func (t *Tracker) Online(status models.DeviceStatus, now time.Time) bool {
	return now.Sub(status.LastSeen) < t.window
}

// OnlineByID looks the device up first; an unknown device is offline,
// not an error.
func (t *Tracker) OnlineByID(ctx context.Context, deviceID string, now time.Time) (bool, error) {
	devices, err := t.repo.ListDevices(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range devices {
		if d.DeviceID == deviceID {
			return t.Online(d, now), nil
		}
	}
	return false, nil
}
