// Package alert holds the burst detector that watches event arrival
// times and hands alert text to the dispatch queue when volume spikes.
package alert

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caresync/backend/internal/models"
)

// Dispatcher accepts alert text for delivery off the request path.
// Enqueue must never block; false means the text was not accepted.
type Dispatcher interface {
	Enqueue(text string) bool
}

// Engine keeps a trailing window of arrival timestamps. The window is
// process-local and lost on restart; a missed burst is recovered by the
// next one. Fires when the window holds strictly more than threshold
// entries, then resets to empty, so consecutive bursts are independent.
type Engine struct {
	mu         sync.Mutex
	window     []time.Time
	span       time.Duration
	threshold  int
	dispatcher Dispatcher
}

func NewEngine(span time.Duration, threshold int, dispatcher Dispatcher) *Engine {
	return &Engine{
		span:       span,
		threshold:  threshold,
		dispatcher: dispatcher,
	}
}

// Observe is called synchronously after every successful event append.
// Prune, append and threshold check run under one lock so concurrent
// submissions cannot lose an increment. The count is intentionally
// category-blind; the alert text names the tipping event's category.
func (e *Engine) Observe(ev models.Event, now time.Time) {
	e.mu.Lock()

	kept := e.window[:0]
	for _, ts := range e.window {
		if now.Sub(ts) <= e.span {
			kept = append(kept, ts)
		}
	}
	e.window = append(kept, now)

	fired := len(e.window) > e.threshold
	var text string
	if fired {
		text = fmt.Sprintf("CareSync alert: %d need events in the last %s, most recent %q from %s",
			len(e.window), e.span, ev.Category, ev.DeviceID)
		e.window = e.window[:0]
	}

	e.mu.Unlock()

	if !fired {
		return
	}

	if !e.dispatcher.Enqueue(text) {
		slog.Error("alert dispatch queue full, alert lost", "text", text)
		return
	}
	slog.Info("burst detected, alert enqueued", "category", ev.Category, "device_id", ev.DeviceID)
}

// WindowSize is exposed for tests and diagnostics.
func (e *Engine) WindowSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.window)
}
