package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tilecast/internal/core/ports"
	"tilecast/internal/core/services"
	httphandlers "tilecast/internal/handlers/http"
	"tilecast/internal/infrastructure/distributed"
	"tilecast/internal/infrastructure/middleware"
	"tilecast/internal/infrastructure/monitoring"
	"tilecast/internal/infrastructure/repositories"
	wsinfra "tilecast/internal/infrastructure/signal"
	mediainfra "tilecast/internal/infrastructure/webrtc"
	"tilecast/pkg/config"
	"tilecast/pkg/logger"
	"tilecast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func loadConfig() (*config.Config, string) {
	configPaths := []string{
		"configs/config.yaml",
		"/etc/tilecast/config.yaml",
		"config.yaml",
	}
	if p := os.Getenv("TILECAST_CONFIG"); p != "" {
		configPaths = append([]string{p}, configPaths...)
	}

	for _, path := range configPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		if err == nil {
			return cfg, path
		}
	}
	// Load applies env overrides even without a file
	cfg, err := config.Load("")
	if err != nil {
		return config.DefaultConfig(), ""
	}
	return cfg, ""
}

func main() {
	cfg, cfgPath := loadConfig()

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if cfgPath != "" {
		log.Infow("loaded config", "path", cfgPath)
	}

	tp, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tp = &tracing.TracerProvider{}
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := monitoring.NewPrometheusCollector(registry)

	repoFactory, err := repositories.NewRepositoryFactory(rootCtx, cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	layoutRepo, err := repoFactory.CreateLayoutRepository(rootCtx)
	if err != nil {
		log.Fatalw("failed to create layout repository", "error", err)
	}

	var (
		eventBus *distributed.EventBus
		events   ports.LayoutEvents
	)
	if cfg.Events.Enabled && repoFactory.RedisClient() != nil {
		instanceID := uuid.NewString()
		eventBus = distributed.NewEventBus(repoFactory.RedisClient(), instanceID, cfg.Events.Channel, log)
		events = eventBus
		log.Infow("layout events enabled", "instance_id", instanceID, "channel", cfg.Events.Channel)
	}

	sessions := services.NewSessionManager(layoutRepo, events, collector, log, cfg.Store.FetchRetry)

	if eventBus != nil {
		go func() {
			err := eventBus.Subscribe(rootCtx, func(ctx context.Context, ev *distributed.Event) error {
				if ev.Type != distributed.EventLayoutCommitted {
					return nil
				}
				repoFactory.InvalidateLatest(ev.SessionID)
				return sessions.HandleLayoutCommitted(ctx, ev.SessionID, ev.RecordID)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("layout event subscription ended", "error", err)
			}
		}()
	}

	health := monitoring.NewHealthChecker()
	health.AddStorageCheck(repoFactory.HealthCheck, 30*time.Second, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}
	if client := repoFactory.MongoClient(); client != nil {
		health.AddMongoCheck(client, 30*time.Second, 2*time.Second)
	}
	health.StartBackgroundChecks(rootCtx, func(name string, err error) {
		log.Warnw("health check failed", "check", name, "error", err)
	})

	hub := wsinfra.NewWebSocketServer(
		sessions,
		middleware.NewWebSocketLimiter(cfg),
		collector,
		wsinfra.Options{
			PingInterval:   cfg.Signal.PingInterval,
			PongTimeout:    cfg.Signal.PongTimeout,
			WriteTimeout:   cfg.Signal.WriteTimeout,
			SendBufferSize: cfg.Signal.SendBufferSize,
			AllowedOrigins: cfg.Signal.AllowedOrigins,

			NegotiationTimeout: cfg.WebRTC.NegotiationTimeout,
		},
		log,
	)

	var ingest *mediainfra.Ingest
	if cfg.WebRTC.Enabled {
		ingest, err = mediainfra.NewIngest(mediaConfig(cfg), log)
		if err != nil {
			log.Fatalw("failed to create media ingest", "error", err)
		}
		ingest.OnViewports(hub.ApplyViewports)
		hub.SetMediaIngest(ingest)
		log.Infow("media ingest enabled", "ice_servers", len(cfg.WebRTC.ICEServers))
	}

	layoutHandler := httphandlers.NewLayoutHandler(sessions, services.NewLayoutResolver(collector), health, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestContextMiddleware(logger.NewContextLogger(zapLogger), collector),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	layoutHandler.SetupRoutes(router)
	router.GET("/ws", gin.WrapF(hub.HandleWebSocket))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting tilecast server",
			"address", cfg.Server.Address,
			"storage", repoFactory.Driver(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down tilecast server...")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	hub.Close()
	if ingest != nil {
		ingest.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			log.Warnw("error closing event bus", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error flushing traces", "error", err)
	}

	log.Info("tilecast server stopped")
}

func mediaConfig(cfg *config.Config) mediainfra.Config {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return mediainfra.Config{
		ICEServers: servers,
		PortMin:    cfg.WebRTC.PortRange.Min,
		PortMax:    cfg.WebRTC.PortRange.Max,
	}
}
