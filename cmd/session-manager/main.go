package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/flame/backendrpc"
	"github.com/flame-sh/flame/internal/flame/config"
	"github.com/flame-sh/flame/internal/flame/controller"
	"github.com/flame-sh/flame/internal/flame/events"
	"github.com/flame-sh/flame/internal/flame/logger"
	"github.com/flame-sh/flame/internal/flame/scheduler"
	"github.com/flame-sh/flame/internal/flame/scheduler/plugins/fairshare"
	"github.com/flame-sh/flame/internal/flame/scheduler/tick"
	"github.com/flame-sh/flame/internal/flame/storage"
	"github.com/flame-sh/flame/internal/flame/streaming"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load(os.Getenv("FLAME_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting Session Manager")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Connect to the lifecycle event bus. NATS if configured,
	// otherwise an in-process bus so a single-node deployment still
	// gets live session/task/executor events.
	var bus events.Bus
	if cfg.NATS.URL != "" {
		natsBus, err := events.NewNATSBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		bus = natsBus
		log.Info("connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		bus = events.NewMemoryBus()
		log.Info("using in-process event bus")
	}
	defer bus.Close()
	pub := events.NewPublisher(bus, "session-manager")

	// 4. Optional write-through persistence mirror
	var persister storage.Persister
	if cfg.Storage.URL != "" {
		sqlPersister, err := storage.NewSQLPersister(cfg.Storage.URL)
		if err != nil {
			log.Fatal("failed to open storage backend", zap.Error(err))
		}
		persister = sqlPersister
		log.Info("connected to storage backend", zap.String("url", cfg.Storage.URL))
	}

	// 5. Authoritative store and controller
	store := storage.NewMemoryStore(cfg.SlotUnit, persister)
	for _, app := range cfg.Applications {
		if err := store.RegisterApplication(ctx, app.ToModel()); err != nil {
			log.Fatal("failed to register application", zap.String("name", app.Name), zap.Error(err))
		}
	}
	ctrl := controller.New(store, pub)

	// 6. Streaming hub, fed by the event bus
	hub := streaming.NewHub(log)
	go hub.Run(ctx)
	if _, err := streaming.BridgeEvents(bus, hub); err != nil {
		log.Fatal("failed to bridge events into the streaming hub", zap.Error(err))
	}

	// 7. Scheduler tick loop
	pluginFactory := func() []scheduler.Plugin { return []scheduler.Plugin{fairshare.New()} }
	sched := tick.New(ctrl, store, cfg.Scheduler.Interval(), cfg.Scheduler.MissedHeartbeatLimitOrDefault(), pluginFactory)
	sched.Start(ctx)
	log.Info("started scheduler tick loop", zap.Duration("interval", cfg.Scheduler.Interval()))

	// 8. HTTP server: backend RPC plus the streaming websocket endpoint
	engine := backendrpc.NewEngine(ctrl, pluginFactory, log)
	streamHandler := streaming.NewHandler(hub, log)
	streaming.SetupRoutes(engine.Group("/streaming"), streamHandler)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("backend RPC listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	// 9. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down Session Manager")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Session Manager stopped")
}
