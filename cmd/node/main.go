package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/squadkarma/karma-node/internal/config"
	"github.com/squadkarma/karma-node/internal/database"
	"github.com/squadkarma/karma-node/internal/handler"
	"github.com/squadkarma/karma-node/internal/jobs"
	"github.com/squadkarma/karma-node/internal/logparser"
	"github.com/squadkarma/karma-node/internal/middleware"
	"github.com/squadkarma/karma-node/internal/redis"
	"github.com/squadkarma/karma-node/internal/repository"
	"github.com/squadkarma/karma-node/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	_ = godotenv.Load()

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
	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to apply database schema")
	}
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewSessionRepository(db.DB)
	voteRepo := repository.NewVoteRepository(db.DB)
	nodeRepo := repository.NewTrustedNodeRepository(db.DB)

	sessionManager := service.NewSessionManager(sessionRepo, cfg.NodeID)
	overlapValidator := service.NewOverlapValidator(
		sessionRepo, cfg.NodeID, cfg.MinOverlapMinutes, cfg.TrustWindowHours,
	)
	cooldownStore := service.NewCooldownStore(redisClient)
	rateLimiter := service.NewRateLimiter(redisClient, cfg.VoteRateLimit, cfg.VoteRateWindow())
	voteService := service.NewVoteService(
		voteRepo, sessionRepo, overlapValidator, cooldownStore, rateLimiter, cfg.VoteCooldown(),
	)
	replicationService := service.NewReplicationService(voteRepo, sessionRepo, nodeRepo, cfg.NodeID)

	watcher := logparser.NewWatcher(cfg.LogFilePath, cfg.LogPollInterval())
	events := make(chan logparser.Event, config.SessionEventQueueSize)
	watcher.OnEvent(func(ev logparser.Event) error {
		select {
		case events <- ev:
			return nil
		default:
			log.Warn().Str("steam64", ev.Steam64).Msg("session event queue full, dropping event")
			return nil
		}
	})

	managerCtx, managerCancel := context.WithCancel(context.Background())
	defer managerCancel()
	go sessionManager.Run(managerCtx, events)

	if err := watcher.Start(); err != nil {
		log.Fatal().Err(err).Str("path", cfg.LogFilePath).Msg("failed to start log watcher")
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.APIKey)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	voteHandler := handler.NewVoteHandler(voteService)
	sessionHandler := handler.NewSessionHandler(sessionManager, voteService)
	reputationHandler := handler.NewReputationHandler(voteService)
	replicationHandler := handler.NewReplicationHandler(replicationService, db, cfg.NodeID)
	statsHandler := handler.NewStatsHandler(
		sessionManager, voteRepo, nodeRepo, watcher, cfg.NodeID, cfg.NodeName,
	)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", statsHandler.Health)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)

			r.Get("/stats", statsHandler.Stats)
			r.Mount("/vote", voteHandler.Routes())
			r.Mount("/session", sessionHandler.Routes())
			r.Mount("/reputation", reputationHandler.Routes())
			r.Mount("/replicate", replicationHandler.Routes())
		})
	})

	syncJob := jobs.NewReplicationSyncJob(
		replicationService, jobs.NewCursorStore(redisClient),
		cfg.APIKey, cfg.ReplicationSyncInterval(),
	)
	syncJob.Start()
	defer syncJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("nodeId", cfg.NodeID).
			Msg("starting node")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down node")

	watcher.Stop()
	close(events)
	managerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	// Open sessions would dangle across the restart and pollute the
	// overlap data, so close them at shutdown time.
	if _, err := sessionManager.CloseAllOpenSessions(shutdownCtx, time.Now()); err != nil {
		log.Error().Err(err).Msg("failed to close open sessions")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("node stopped")
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
