package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/supportdesk/internal/aggregator"
	"github.com/dennisdiepolder/monti/supportdesk/internal/api"
	"github.com/dennisdiepolder/monti/supportdesk/internal/auth"
	"github.com/dennisdiepolder/monti/supportdesk/internal/config"
	"github.com/dennisdiepolder/monti/supportdesk/internal/datasync"
	"github.com/dennisdiepolder/monti/supportdesk/internal/event"
	"github.com/dennisdiepolder/monti/supportdesk/internal/metrics"
	"github.com/dennisdiepolder/monti/supportdesk/internal/storage"
	"github.com/dennisdiepolder/monti/supportdesk/internal/websocket"
	"github.com/dennisdiepolder/monti/supportdesk/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// server bundles the components the router serves
type server struct {
	cfg        *config.Config
	store      *datasync.Store
	hub        *websocket.Hub
	aggregator *aggregator.Aggregator
	verifier   *auth.Verifier
	receiver   *event.Receiver // nil when the backend takes no external changes
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("storage_mode", string(cfg.StorageMode)).
		Str("realtime_mode", string(cfg.RealtimeMode)).
		Str("log_level", cfg.LogLevel).
		Msg("starting supportdesk server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(prometheus.NewRegistry())

	backend, err := storage.NewBackend(ctx, cfg, m, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create storage backend")
	}
	if runner, ok := backend.(storage.Runner); ok {
		go runner.Run(ctx)
	}

	// Create WebSocket hub
	hub := websocket.NewHub(log.Logger, m)
	go hub.Run(ctx)

	store := datasync.New(backend,
		datasync.WithLogger(log.Logger),
		datasync.WithNotifier(hub),
		datasync.WithMetrics(m),
		datasync.WithPageSize(cfg.PageSize),
		datasync.WithStrictOrdering(cfg.StrictFetchOrder),
	)
	hub.Attach(store)

	if cfg.RealtimeMode != config.RealtimeNone {
		if err := store.Start(ctx); err != nil {
			log.Error().Err(err).Msg("failed to subscribe to changes, continuing without realtime")
		}
	}
	if err := store.FetchAll(ctx); err != nil {
		log.Warn().Err(err).Msg("initial load incomplete")
	}

	aggregatorService := aggregator.NewAggregator(store, hub, cfg.ReportInterval, m, log.Logger)
	go aggregatorService.Start(ctx)

	var verifier *auth.Verifier
	if cfg.SkipAuth {
		verifier = auth.NewSkipVerifier(log.Logger)
	} else {
		verifier, err = auth.NewJWKSVerifier(cfg.JWKSURL, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize JWKS")
		}
	}

	var receiver *event.Receiver
	if pub, ok := backend.(storage.Publisher); ok && cfg.RealtimeMode == config.RealtimeWebhook {
		receiver = event.NewReceiver(pub, cfg.WebhookSecret, m, log.Logger)
	}

	s := &server{
		cfg:        cfg,
		store:      store,
		hub:        hub,
		aggregator: aggregatorService,
		verifier:   verifier,
		receiver:   receiver,
		metrics:    m,
		logger:     log.Logger,
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	store.Dispose()
	cancel()
	if err := backend.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close storage backend")
	}

	log.Info().Msg("server stopped")
}

// routes builds the HTTP router
func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics(s.metrics))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(s.cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Handle("/metrics", s.metrics.Handler())

	// Database webhooks authenticate with a shared secret
	if s.receiver != nil {
		r.Route("/internal", func(r chi.Router) {
			r.Post("/changes", s.receiver.HandleChange)
			r.Get("/changes/stats", s.receiver.GetStats)
		})
	}

	// Add auth middleware for protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Get("/ws", websocket.NewHandler(s.hub, s.cfg, s.logger).ServeHTTP)
		r.Route("/api", api.NewHandler(s.store, s.aggregator, s.logger).Routes)
	})

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"supportdesk"}`)
}
