package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/goleak"

	"github.com/caresync/backend/internal/alert"
	"github.com/caresync/backend/internal/ml"
	"github.com/caresync/backend/internal/models"
	"github.com/caresync/backend/internal/notify"
	"github.com/caresync/backend/internal/presence"
	"github.com/caresync/backend/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockStore implements repository.Store in memory for testing
type mockStore struct {
	mu      sync.Mutex
	events  []models.Event
	devices map[string]time.Time
	subs    map[string]models.Subscriber
	alerts  []models.AlertRecord
}

func newMockStore() *mockStore {
	return &mockStore{
		devices: make(map[string]time.Time),
		subs:    make(map[string]models.Subscriber),
	}
}

func (m *mockStore) AddEvent(ctx context.Context, deviceID string, category models.Category, occurredAt time.Time) (*models.Event, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", models.ErrValidation)
	}
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", models.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := models.Event{
		ID:         fmt.Sprintf("ev_%d", len(m.events)+1),
		DeviceID:   deviceID,
		Category:   category,
		OccurredAt: occurredAt,
	}
	m.events = append(m.events, ev)
	return &ev, nil
}

func (m *mockStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Newest first; equal timestamps keep latest-inserted first.
	out := make([]models.Event, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		out = append(out, m.events[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out, nil
}

func (m *mockStore) UpsertDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[deviceID] = seenAt
	return nil
}

func (m *mockStore) ListDevices(ctx context.Context) ([]models.DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeviceStatus
	for id, seen := range m.devices {
		out = append(out, models.DeviceStatus{DeviceID: id, LastSeen: seen})
	}
	return out, nil
}

func (m *mockStore) UpsertSubscriber(ctx context.Context, s *models.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.Handle] = *s
	return nil
}

func (m *mockStore) DeleteSubscriber(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, handle)
	return nil
}

func (m *mockStore) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscriber
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockStore) AddAlert(ctx context.Context, a *models.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *a)
	return nil
}

func (m *mockStore) ListAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.AlertRecord(nil), m.alerts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mockDispatcher records enqueued alert texts
type mockDispatcher struct {
	mu    sync.Mutex
	texts []string
}

func (m *mockDispatcher) Enqueue(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return true
}

func (m *mockDispatcher) dispatched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// mockResolver knows a fixed set of handles
type mockResolver struct {
	known map[string]int64
}

func (m *mockResolver) Resolve(ctx context.Context, handle string) (int64, error) {
	if id, ok := m.known[handle]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: no conversation from @%s", notify.ErrNotFound, handle)
}

type noopSender struct{}

func (noopSender) Send(ctx context.Context, chatID int64, text string) error { return nil }

// mockPredictor returns a canned result or error
type mockPredictor struct {
	probs map[string]float64
	err   error
}

func (m *mockPredictor) Predict(ctx context.Context) (map[string]float64, error) {
	return m.probs, m.err
}

type testEnv struct {
	router     *gin.Engine
	store      *mockStore
	eventHub   *stream.Hub[models.Event]
	deviceHub  *stream.Hub[models.DeviceStatus]
	dispatcher *mockDispatcher
	predictor  *mockPredictor
}

func setupHandler(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMockStore()
	eventHub := stream.NewHub[models.Event](64)
	deviceHub := stream.NewHub[models.DeviceStatus](64)
	t.Cleanup(eventHub.Close)
	t.Cleanup(deviceHub.Close)

	dispatcher := &mockDispatcher{}
	predictor := &mockPredictor{}
	tracker := presence.NewTracker(store, 5*time.Minute)
	engine := alert.NewEngine(time.Minute, 3, dispatcher)
	directory := notify.NewDirectory(store, &mockResolver{known: map[string]int64{"alice": 111}}, noopSender{})

	h := NewHandler(HandlerConfig{
		Store:      store,
		Presence:   tracker,
		EventHub:   eventHub,
		DeviceHub:  deviceHub,
		Engine:     engine,
		Directory:  directory,
		Dispatcher: dispatcher,
		Predictor:  predictor,
		KeepAlive:  30 * time.Second,
		AlertLimit: 50,
	})

	router := gin.New()
	h.RegisterRoutes(router)

	return &testEnv{
		router:     router,
		store:      store,
		eventHub:   eventHub,
		deviceHub:  deviceHub,
		dispatcher: dispatcher,
		predictor:  predictor,
	}
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngestEvent(t *testing.T) {
	env := setupHandler(t)

	w := postJSON(t, env.router, "/api/event", gin.H{
		"device_id":   "care-recipient",
		"category":    "pain",
		"occurred_at": time.Now().Format(time.RFC3339),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.ID == "" {
		t.Fatalf("expected assigned id in response, got %s", w.Body.String())
	}

	events, _ := env.store.ListEvents(context.Background())
	if len(events) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(events))
	}

	// Presence was touched as part of the submission.
	if _, ok := env.store.devices["care-recipient"]; !ok {
		t.Error("expected device presence row after event")
	}
}

func TestIngestEvent_Validation(t *testing.T) {
	env := setupHandler(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing device_id", gin.H{"category": "pain", "occurred_at": time.Now().Format(time.RFC3339)}},
		{"unrecognized category", gin.H{"device_id": "d", "category": "hungry", "occurred_at": time.Now().Format(time.RFC3339)}},
		{"bad timestamp", gin.H{"device_id": "d", "category": "pain", "occurred_at": "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, env.router, "/api/event", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}

	// Rejected before any persistence.
	events, _ := env.store.ListEvents(context.Background())
	if len(events) != 0 {
		t.Errorf("expected no persisted events, got %d", len(events))
	}
}

func TestHeartbeat(t *testing.T) {
	env := setupHandler(t)

	_, ch := env.deviceHub.Subscribe()

	w := postJSON(t, env.router, "/api/heartbeat", gin.H{"device_id": "caregiver"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// Presence only: no event is created.
	events, _ := env.store.ListEvents(context.Background())
	if len(events) != 0 {
		t.Errorf("heartbeat must not create events, got %d", len(events))
	}

	select {
	case st := <-ch:
		if st.DeviceID != "caregiver" {
			t.Errorf("expected caregiver status, got %s", st.DeviceID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("expected device status published on heartbeat")
	}
}

func TestListEvents_NewestFirst(t *testing.T) {
	env := setupHandler(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		postJSON(t, env.router, "/api/event", gin.H{
			"device_id":   "care-recipient",
			"category":    "tired",
			"occurred_at": base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var events []models.Event
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].OccurredAt.After(events[i-1].OccurredAt) {
			t.Errorf("events not newest first at position %d", i)
		}
	}
}

func TestEventStream_ReadyAndNoBacklog(t *testing.T) {
	env := setupHandler(t)

	// Published before anyone subscribes: must never reach the stream.
	postJSON(t, env.router, "/api/event", gin.H{
		"device_id":   "care-recipient",
		"category":    "music",
		"occurred_at": time.Now().Format(time.RFC3339),
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		env.router.ServeHTTP(w, req)
		close(done)
	}()

	// Wait for the subscription to register.
	deadline := time.Now().Add(time.Second)
	for env.eventHub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}

	env.eventHub.Publish(models.Event{ID: "ev_live", DeviceID: "care-recipient", Category: models.CategoryPain, OccurredAt: time.Now()})

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event:ready") {
		t.Errorf("expected ready marker, got %q", body)
	}
	if !strings.Contains(body, "ev_live") {
		t.Errorf("expected live event in stream, got %q", body)
	}
	if strings.Contains(body, "ev_1") {
		t.Errorf("stream must not replay pre-subscription events, got %q", body)
	}
}

func TestBurst_FourEventsDispatchOnce(t *testing.T) {
	env := setupHandler(t)

	for i := 0; i < 4; i++ {
		w := postJSON(t, env.router, "/api/event", gin.H{
			"device_id":   "care-recipient",
			"category":    "pain",
			"occurred_at": time.Now().Format(time.RFC3339),
		})
		if w.Code != http.StatusOK {
			t.Fatalf("event %d failed: %d", i, w.Code)
		}
	}

	texts := env.dispatcher.dispatched()
	if len(texts) != 1 {
		t.Fatalf("expected exactly 1 alert dispatch after 4 events, got %d", len(texts))
	}
	if !strings.Contains(texts[0], `"pain"`) {
		t.Errorf("alert text should reference pain, got %q", texts[0])
	}
}

func TestLinkSubscriber(t *testing.T) {
	env := setupHandler(t)

	w := postJSON(t, env.router, "/api/subscribers", gin.H{"handle": "@Alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"alice"`) {
		t.Errorf("expected normalized handle, got %s", w.Body.String())
	}

	// Unknown handle: 404 with a hint to start a conversation.
	w = postJSON(t, env.router, "/api/subscribers", gin.H{"handle": "@stranger"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hint") {
		t.Errorf("expected hint in 404 body, got %s", w.Body.String())
	}
}

func TestUnlinkSubscriber_AlwaysSucceeds(t *testing.T) {
	env := setupHandler(t)

	postJSON(t, env.router, "/api/subscribers", gin.H{"handle": "alice"})

	req := httptest.NewRequest(http.MethodDelete, "/api/subscribers/@Alice", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	// Absent handle still succeeds.
	req = httptest.NewRequest(http.MethodDelete, "/api/subscribers/nobody", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for absent handle, got %d", w.Code)
	}

	if len(env.store.subs) != 0 {
		t.Errorf("expected empty directory, got %d rows", len(env.store.subs))
	}
}

func TestTestAlert_Enqueues(t *testing.T) {
	env := setupHandler(t)

	w := postJSON(t, env.router, "/api/alerts/test", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	texts := env.dispatcher.dispatched()
	if len(texts) != 1 || !strings.Contains(texts[0], "test alert") {
		t.Errorf("expected one diagnostic dispatch, got %v", texts)
	}
}

func TestPredict(t *testing.T) {
	env := setupHandler(t)
	env.predictor.probs = map[string]float64{"pain": 0.6, "tired": 0.4}

	w := postJSON(t, env.router, "/api/ml/train", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var probs map[string]float64
	if err := json.Unmarshal(w.Body.Bytes(), &probs); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if probs["pain"] != 0.6 {
		t.Errorf("unexpected probabilities: %v", probs)
	}
}

func TestPredict_StructuredErrors(t *testing.T) {
	env := setupHandler(t)

	env.predictor.probs = nil
	env.predictor.err = &ml.RunError{Stage: "script", Detail: "Collect more events before training."}
	w := postJSON(t, env.router, "/api/ml/train", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for script-reported error, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "error") {
		t.Errorf("expected structured error payload, got %s", w.Body.String())
	}

	env.predictor.err = &ml.RunError{Stage: "run", Detail: "python exited 1"}
	w = postJSON(t, env.router, "/api/ml/train", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for pipeline failure, got %d", w.Code)
	}
}
