package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caresync/backend/internal/alert"
	"github.com/caresync/backend/internal/ml"
	"github.com/caresync/backend/internal/models"
	"github.com/caresync/backend/internal/notify"
	"github.com/caresync/backend/internal/presence"
	"github.com/caresync/backend/internal/repository"
	"github.com/caresync/backend/internal/stream"
)

// Predictor is the batch prediction collaborator.
type Predictor interface {
	Predict(ctx context.Context) (map[string]float64, error)
}

type Handler struct {
	store      repository.Store
	presence   *presence.Tracker
	eventHub   *stream.Hub[models.Event]
	deviceHub  *stream.Hub[models.DeviceStatus]
	engine     *alert.Engine
	directory  *notify.Directory
	dispatcher alert.Dispatcher
	predictor  Predictor
	keepAlive  time.Duration
	alertLimit int
}

type HandlerConfig struct {
	Store      repository.Store
	Presence   *presence.Tracker
	EventHub   *stream.Hub[models.Event]
	DeviceHub  *stream.Hub[models.DeviceStatus]
	Engine     *alert.Engine
	Directory  *notify.Directory
	Dispatcher alert.Dispatcher
	Predictor  Predictor
	KeepAlive  time.Duration
	AlertLimit int
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:      cfg.Store,
		presence:   cfg.Presence,
		eventHub:   cfg.EventHub,
		deviceHub:  cfg.DeviceHub,
		engine:     cfg.Engine,
		directory:  cfg.Directory,
		dispatcher: cfg.Dispatcher,
		predictor:  cfg.Predictor,
		keepAlive:  cfg.KeepAlive,
		alertLimit: cfg.AlertLimit,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/api/event", h.ingestEvent)
	r.POST("/api/heartbeat", h.heartbeat)
	r.GET("/api/events", h.listEvents)
	r.GET("/api/events/stream", h.streamEvents)
	r.GET("/api/devices", h.listDevices)
	r.GET("/api/devices/stream", h.streamDevices)
	r.POST("/api/subscribers", h.linkSubscriber)
	r.DELETE("/api/subscribers/:handle", h.unlinkSubscriber)
	r.GET("/api/alerts", h.listAlerts)
	r.POST("/api/alerts/test", h.testAlert)
	r.POST("/api/ml/train", h.predict)
	r.GET("/health", h.health)
}

type eventRequest struct {
	DeviceID   string `json:"device_id"`
	Category   string `json:"category"`
	OccurredAt string `json:"occurred_at"`
}

// ingestEvent is the device submission path: persist, touch presence,
// fan out to both streams, feed the burst detector. Persistence is
// authoritative; every later step is best-effort and never turns a
// stored event into an error response.
func (h *Handler) ingestEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	category := models.ParseCategory(req.Category)
	if category == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized category"})
		return
	}

	occurredAt, err := time.Parse(time.RFC3339, req.OccurredAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "occurred_at must be an RFC 3339 timestamp"})
		return
	}

	ev, err := h.store.AddEvent(c.Request.Context(), req.DeviceID, category, occurredAt)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("failed to persist event", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log event"})
		return
	}

	now := time.Now()
	if status, err := h.presence.Touch(c.Request.Context(), ev.DeviceID, now); err != nil {
		slog.Error("presence update failed", "device_id", ev.DeviceID, "error", err)
	} else {
		h.deviceHub.Publish(status)
	}

	h.eventHub.Publish(*ev)
	h.engine.Observe(*ev, now)

	c.JSON(http.StatusOK, gin.H{"id": ev.ID, "message": "event logged"})
}

type heartbeatRequest struct {
	DeviceID string `json:"device_id"`
}

func (h *Handler) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	status, err := h.presence.Touch(c.Request.Context(), req.DeviceID, time.Now())
	if err != nil {
		slog.Error("heartbeat failed", "device_id", req.DeviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update heartbeat"})
		return
	}

	h.deviceHub.Publish(status)
	c.JSON(http.StatusOK, gin.H{"message": "device heartbeat received"})
}

func (h *Handler) listEvents(c *gin.Context) {
	events, err := h.store.ListEvents(c.Request.Context())
	if err != nil {
		slog.Error("failed to list events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch events"})
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) streamEvents(c *gin.Context) {
	streamSSE(c, h.eventHub, h.keepAlive)
}

func (h *Handler) listDevices(c *gin.Context) {
	devices, err := h.presence.ListDevices(c.Request.Context())
	if err != nil {
		slog.Error("failed to list devices", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch devices"})
		return
	}
	if devices == nil {
		devices = []models.DeviceStatus{}
	}
	c.JSON(http.StatusOK, devices)
}

func (h *Handler) streamDevices(c *gin.Context) {
	streamSSE(c, h.deviceHub, h.keepAlive)
}

type linkRequest struct {
	Handle string `json:"handle"`
}

func (h *Handler) linkSubscriber(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sub, err := h.directory.Link(c.Request.Context(), req.Handle)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "handle is required"})
		case errors.Is(err, notify.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "handle not found",
				"hint":  "start a conversation with the bot first, then link again",
			})
		default:
			slog.Error("link failed", "handle", req.Handle, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to link subscriber"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"handle": sub.Handle})
}

func (h *Handler) unlinkSubscriber(c *gin.Context) {
	if err := h.directory.Unlink(c.Request.Context(), c.Param("handle")); err != nil {
		slog.Error("unlink failed", "handle", c.Param("handle"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unlink subscriber"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unlinked"})
}

func (h *Handler) listAlerts(c *gin.Context) {
	alerts, err := h.directory.ListAlerts(c.Request.Context(), h.alertLimit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}
	if alerts == nil {
		alerts = []models.AlertRecord{}
	}
	c.JSON(http.StatusOK, alerts)
}

// testAlert pushes one diagnostic dispatch through the same queue the
// burst detector uses, independent of the window state.
func (h *Handler) testAlert(c *gin.Context) {
	if !h.dispatcher.Enqueue("CareSync test alert: notification channel check") {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatch queue full"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "test alert enqueued"})
}

func (h *Handler) predict(c *gin.Context) {
	probs, err := h.predictor.Predict(c.Request.Context())
	if err != nil {
		var runErr *ml.RunError
		if errors.As(err, &runErr) {
			status := http.StatusBadGateway
			// export/script failures mean "not enough data", not a
			// broken pipeline.
			if runErr.Stage == "export" || runErr.Stage == "script" {
				status = http.StatusUnprocessableEntity
			}
			c.JSON(status, gin.H{"error": runErr.Detail, "stage": runErr.Stage})
			return
		}
		slog.Error("prediction failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to run ML pipeline"})
		return
	}

	c.JSON(http.StatusOK, probs)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
