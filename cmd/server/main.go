package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lumina-exam-agent/internal/config"
	"lumina-exam-agent/internal/coordination"
	"lumina-exam-agent/internal/database"
	"lumina-exam-agent/internal/handlers"
	"lumina-exam-agent/internal/logger"
	"lumina-exam-agent/internal/metrics"
	"lumina-exam-agent/internal/middleware"
	"lumina-exam-agent/internal/models"
	"lumina-exam-agent/internal/network"
	"lumina-exam-agent/internal/offline"
	"lumina-exam-agent/internal/repository"
	"lumina-exam-agent/internal/router"
	"lumina-exam-agent/internal/services"
	"lumina-exam-agent/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log := logger.New(cfg.LogLevel, cfg.LogFile)
	defer log.Sync()
	log.Info("🚀 Starting Lumina exam agent...", zap.String("env", cfg.Env))
	log.Info("✓ Environment variables loaded")

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Connect Redis (optional) ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		clients, err := database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("✗ Redis unavailable, continuing without cross-tab coordination", zap.Error(err))
		} else {
			redisClients = clients
			defer redisClients.Close()
			log.Info("✓ Redis connected")
		}
	}

	// ──── Step 3: Open Local Store ────
	store, err := newStore(cfg)
	if err != nil {
		log.Fatal("✗ Local store configuration invalid", zap.Error(err))
	}
	defer store.Close()
	log.Info("✓ Local store ready", zap.String("driver", cfg.StoreDriver))

	// ──── Step 4: Network Monitor ────
	monitor := network.NewMonitor(nil, cfg.NetworkProbeURL, cfg.NetworkProbeInterval, true, log)
	monitor.Start()
	log.Info("✓ Network monitor started", zap.String("probe_url", cfg.NetworkProbeURL))

	// ──── Step 5: WebSocket Hub and UI Updates ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	var (
		wsHub *websocket.Hub
		sink  updateNotifier
	)
	if redisClients != nil {
		wsHub = websocket.NewHub(redisClients.PubSub, services.UserChannel, jwtAuth, log)
		sink = services.NewPublisher(redisClients.Publish, cfg.UserID, log)
	} else {
		wsHub = websocket.NewHub(nil, services.UserChannel, jwtAuth, log)
		sink = wsHub.UserSink(cfg.UserID)
	}
	notifier := services.MultiNotifier{services.NewLogNotifier(log), sink}
	log.Info("✓ WebSocket hub started")

	// ──── Step 6: Offline Submission Pipeline ────
	client := services.NewSubmissionClient(&http.Client{Timeout: 60 * time.Second}, cfg.APIBaseURL, cfg.APIToken)
	pipeline := offline.New(store, client, monitor, notifier, log,
		offline.WithItemDelay(cfg.SyncItemDelay),
	)
	pipeline.Start(ctx)
	go relaySyncStatus(ctx, pipeline, sink)
	log.Info("✓ Offline submission pipeline started")

	// ──── Step 7: Session Coordinator ────
	var transport coordination.Transport
	if redisClients != nil {
		transport = coordination.NewRedisTransport(redisClients.PubSub, cfg.CoordinationChannel)
	}
	coord := coordination.New(transport, log,
		coordination.WithNegotiationWindow(cfg.NegotiationWindow),
		coordination.WithHeartbeatInterval(cfg.HeartbeatInterval),
	)
	coord.Start(ctx)
	go relayConflicts(ctx, coord, sink)
	log.Info("✓ Session coordinator started", zap.String("tab_id", coord.TabID()), zap.Bool("degraded", coord.Degraded()))

	// ──── Step 8: Start HTTP Server ────
	syncLimiter := router.NewSyncLimiter()
	r := router.New(
		jwtAuth,
		handlers.NewExamSessionHandler(coord, log),
		handlers.NewOfflineHandler(pipeline, log),
		wsHub,
		syncLimiter,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)

		coord.Close()
		pipeline.Stop()
		monitor.Stop()
		syncLimiter.Stop()
	}()

	log.Info(fmt.Sprintf("✓ Lumina exam agent ready on http://localhost:%s", cfg.Port))
	log.Info(fmt.Sprintf("  API: http://localhost:%s/api/v1", cfg.Port))
	log.Info(fmt.Sprintf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
	<-shutdownDone
}

type updateNotifier interface {
	services.UpdateSink
	services.Notifier
}

type closableStore interface {
	offline.Store
	io.Closer
}

// newStore picks the local queue backend. Stores connect lazily, so a broken
// database surfaces on first use rather than here.
func newStore(cfg *config.Config) (closableStore, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return repository.NewSQLiteStore(cfg.SQLitePath), nil
	case "postgres":
		return repository.NewPostgresStore(cfg.DatabaseURL), nil
	case "memory":
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func relaySyncStatus(ctx context.Context, pipeline *offline.Pipeline, sink services.UpdateSink) {
	ch, cancel := pipeline.StatusStream()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-ch:
			if !ok {
				return
			}
			sink.PublishUpdate(ctx, models.WSMessage{Type: "sync_status", Payload: status})
		}
	}
}

func relayConflicts(ctx context.Context, coord *coordination.Coordinator, sink services.UpdateSink) {
	ch, cancel := coord.ConflictingSessionStream()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case other, ok := <-ch:
			if !ok {
				return
			}
			sink.PublishUpdate(ctx, models.WSMessage{
				Type:    "exam_conflict",
				Payload: models.ConflictUpdate{HasConflict: other != nil, ConflictingSession: other},
			})
		}
	}
}
