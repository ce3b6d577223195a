// Package client holds the observer-side view: the canonical event
// sequence merged from snapshot and stream, a local annotation overlay,
// and device presence. It backs any dashboard-like consumer of the API.
package client

import (
	"sort"
	"sync"
	"time"

	"github.com/caresync/backend/internal/models"
)

// AnnotatedEvent is a canonical event with the local overlay applied.
type AnnotatedEvent struct {
	models.Event
	Note         *string `json:"note"`
	Acknowledged bool    `json:"acknowledged"`
}

// View merges the snapshot fetch with the live stream. Ids only ever
// move from unknown to known, so an event re-delivered through both
// paths lands exactly once. The note/acknowledged overlay is keyed by
// event id and owned entirely by this side; it survives re-delivery.
type View struct {
	mu      sync.Mutex
	events  []models.Event // newest first
	known   map[string]struct{}
	notes   map[string]string
	acked   map[string]bool
	devices map[string]models.DeviceStatus
	window  time.Duration
}

func NewView(presenceWindow time.Duration) *View {
	return &View{
		known:   make(map[string]struct{}),
		notes:   make(map[string]string),
		acked:   make(map[string]bool),
		devices: make(map[string]models.DeviceStatus),
		window:  presenceWindow,
	}
}

// LoadSnapshot folds the non-streaming listing into the view. Events
// already known (raced in through the stream) are not duplicated. The
// merged sequence is kept newest first.
func (v *View) LoadSnapshot(events []models.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, ev := range events {
		if _, ok := v.known[ev.ID]; ok {
			continue
		}
		v.known[ev.ID] = struct{}{}
		v.events = append(v.events, ev)
	}

	sort.SliceStable(v.events, func(i, j int) bool {
		return v.events[i].OccurredAt.After(v.events[j].OccurredAt)
	})
}

// ApplyEvent handles one streamed payload. A known id is discarded:
// the snapshot fetch and the stream subscription race on startup and
// the same event can arrive through both.
func (v *View) ApplyEvent(ev models.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.known[ev.ID]; ok {
		return
	}
	v.known[ev.ID] = struct{}{}
	v.events = append([]models.Event{ev}, v.events...)
}

func (v *View) SetNote(id, note string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notes[id] = note
}

func (v *View) SetAcknowledged(id string, acked bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if acked {
		v.acked[id] = true
	} else {
		delete(v.acked, id)
	}
}

// Events returns the merged sequence, newest first, with the overlay
// applied to every entry.
func (v *View) Events() []AnnotatedEvent {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]AnnotatedEvent, 0, len(v.events))
	for _, ev := range v.events {
		ae := AnnotatedEvent{Event: ev, Acknowledged: v.acked[ev.ID]}
		if note, ok := v.notes[ev.ID]; ok {
			ae.Note = &note
		}
		out = append(out, ae)
	}
	return out
}

// LoadDevices folds the device listing into the view.
func (v *View) LoadDevices(devices []models.DeviceStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range devices {
		v.devices[d.DeviceID] = d
	}
}

// ApplyDevice handles one streamed presence payload. Unlike events this
// is a replace-by-key upsert: last_seen is monotonic per device.
func (v *View) ApplyDevice(d models.DeviceStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.devices[d.DeviceID] = d
}

func (v *View) Devices() []models.DeviceStatus {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]models.DeviceStatus, 0, len(v.devices))
	for _, d := range v.devices {
		out = append(out, d)
	}
	return out
}

// Online mirrors the server's presence rule: seen strictly within the
// window. An unknown device is offline.
func (v *View) Online(deviceID string, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	d, ok := v.devices[deviceID]
	if !ok {
		return false
	}
	return now.Sub(d.LastSeen) < v.window
}
