package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/caresync/backend/internal/alert"
	"github.com/caresync/backend/internal/api"
	"github.com/caresync/backend/internal/config"
	"github.com/caresync/backend/internal/logging"
	"github.com/caresync/backend/internal/ml"
	"github.com/caresync/backend/internal/models"
	"github.com/caresync/backend/internal/notify"
	"github.com/caresync/backend/internal/presence"
	"github.com/caresync/backend/internal/repository"
	"github.com/caresync/backend/internal/stream"
	"github.com/caresync/backend/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Live fan-out: one hub per stream surface
	eventHub := stream.NewHub[models.Event](cfg.Stream.BufferSize)
	deviceHub := stream.NewHub[models.DeviceStatus](cfg.Stream.BufferSize)

	tracker := presence.NewTracker(db, cfg.Presence.Window)

	telegram := notify.NewTelegramClient(cfg.Telegram.APIBase, cfg.Telegram.BotToken)
	directory := notify.NewDirectory(db, telegram, telegram)

	// Alert dispatch runs off the request path: the burst detector only
	// enqueues; these workers deliver.
	pool := worker.NewDispatchPool(
		cfg.Alerts.DispatchWorkers,
		cfg.Alerts.DispatchBuffer,
		cfg.Alerts.DispatchTimeout,
		func(jobCtx context.Context, text string) error {
			if err := directory.DispatchToAll(jobCtx, text); err != nil {
				slog.Error("alert dispatch failed", "error", err)
				return err
			}
			return nil
		},
	)
	pool.Start(ctx)

	engine := alert.NewEngine(cfg.Alerts.Window, cfg.Alerts.Threshold, pool)
	runner := ml.NewRunner(db, cfg.ML.Python, cfg.ML.Script, cfg.ML.Timeout)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(20))

	handler := api.NewHandler(api.HandlerConfig{
		Store:      db,
		Presence:   tracker,
		EventHub:   eventHub,
		DeviceHub:  deviceHub,
		Engine:     engine,
		Directory:  directory,
		Dispatcher: pool,
		Predictor:  runner,
		KeepAlive:  cfg.Stream.KeepAliveInterval,
		AlertLimit: cfg.Alerts.HistoryLimit,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	// Close stream subscriptions first so SSE handlers exit, then stop
	// dispatch and the HTTP listener.
	eventHub.Close()
	deviceHub.Close()
	cancel()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
