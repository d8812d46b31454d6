package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/broker"
	"github.com/consultwise/session-server-go/internal/clock"
	"github.com/consultwise/session-server-go/internal/config"
	"github.com/consultwise/session-server-go/internal/database"
	"github.com/consultwise/session-server-go/internal/handler"
	"github.com/consultwise/session-server-go/internal/jobs"
	"github.com/consultwise/session-server-go/internal/ledger"
	"github.com/consultwise/session-server-go/internal/meter"
	"github.com/consultwise/session-server-go/internal/middleware"
	"github.com/consultwise/session-server-go/internal/redis"
	"github.com/consultwise/session-server-go/internal/registry"
	"github.com/consultwise/session-server-go/internal/relay"
	"github.com/consultwise/session-server-go/internal/repository"
	"github.com/consultwise/session-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	chargeRepo := repository.NewPendingChargeRepository(db.DB)
	recordRepo := repository.NewSessionRecordRepository(db.DB)

	eventBroker := broker.NewBroker(redisClient)
	defer eventBroker.Close()

	var balanceLedger ledger.Ledger
	if cfg.LedgerBaseURL != "" {
		balanceLedger = ledger.NewHTTPLedger(cfg.LedgerBaseURL, cfg.LedgerAPIKey)
	} else {
		log.Warn().Msg("no ledger configured, all debits will be approved")
		balanceLedger = ledger.NewNoopLedger()
	}

	engine := meter.NewEngine(balanceLedger, chargeRepo)
	recorder := service.NewCloseRecorder(recordRepo)

	sessionRegistry := registry.New(
		clock.System(),
		broker.NewSessionPublisher(eventBroker),
		engine,
		recorder,
		registry.Options{
			LivenessWindow:  cfg.LivenessWindow(),
			IdleGrace:       cfg.IdleGrace(),
			EvictionGrace:   cfg.EvictionGrace(),
			AbsoluteTimeout: cfg.AbsoluteTimeout(),
		},
	)

	signalRelay := relay.New(sessionRegistry, broker.NewSignalSender(eventBroker))

	sessionService := service.NewSessionService(sessionRegistry, recordRepo)
	signalService := service.NewSignalService(signalRelay)

	authMiddleware := middleware.NewAuthMiddleware(cfg.SessionTokenSecret)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.RateLimitPerMin)

	sessionHandler := handler.NewSessionHandler(sessionService)
	signalHandler := handler.NewSignalHandler(signalService)
	eventsHandler := handler.NewEventsHandler(eventBroker, sessionService)
	wsHandler := handler.NewWSHandler(eventBroker, sessionService, signalService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"sessions":  sessionRegistry.SessionCount(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		// Streaming endpoints sit outside the request timeout; everything
		// else gets the standard deadline.
		r.Get("/{sessionId}/events", eventsHandler.ServeHTTP)
		r.Get("/{sessionId}/ws", wsHandler.ServeHTTP)
		r.Post("/{sessionId}/signal", signalHandler.Send)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/", sessionHandler.Routes())
		})
	})

	sweepJob := jobs.NewSweepJob(sessionRegistry, config.SweepJobInterval)
	sweepJob.Start()
	defer sweepJob.Stop()

	reconcileJob := jobs.NewReconcileJob(chargeRepo, recordRepo, balanceLedger, config.ReconcileJobInterval)
	reconcileJob.Start()
	defer reconcileJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0, // SSE and websocket streams stay open indefinitely
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
