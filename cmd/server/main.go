// StudyForge - notebook generation server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/studyforge/internal/api"
	"github.com/ashureev/studyforge/internal/assessment"
	"github.com/ashureev/studyforge/internal/config"
	"github.com/ashureev/studyforge/internal/content"
	"github.com/ashureev/studyforge/internal/curriculum"
	"github.com/ashureev/studyforge/internal/events"
	"github.com/ashureev/studyforge/internal/health"
	"github.com/ashureev/studyforge/internal/identity"
	"github.com/ashureev/studyforge/internal/llm"
	"github.com/ashureev/studyforge/internal/middleware"
	"github.com/ashureev/studyforge/internal/orchestrator"
	"github.com/ashureev/studyforge/internal/retry"
	"github.com/ashureev/studyforge/internal/storage"
	"github.com/ashureev/studyforge/internal/store"
	"github.com/ashureev/studyforge/internal/sweeper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver, "storage", cfg.Storage.Backend)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

// models bundles the pieces that change when a language model is configured.
type models struct {
	generator  content.Generator
	decomposer curriculum.Decomposer
	responder  assessment.Responder
}

func newModels(ctx context.Context, cfg *config.Config, catalog *curriculum.Catalog) (models, error) {
	if !cfg.GenAIEnabled() {
		slog.Info("GOOGLE_API_KEY not set, using catalog planner and template content")
		return models{
			generator:  content.TemplateGenerator{},
			decomposer: &curriculum.CatalogDecomposer{Catalog: catalog, AllowGeneric: true},
			responder:  assessment.QuestionResponder{},
		}, nil
	}
	gemini, err := llm.NewGemini(ctx, cfg.GenAI.APIKey, cfg.GenAI.Model)
	if err != nil {
		return models{}, fmt.Errorf("init gemini: %w", err)
	}
	slog.Info("Gemini client initialized", "model", gemini.Model())
	return models{
		generator:  content.NewGenAIGenerator(gemini),
		decomposer: &curriculum.GenAIDecomposer{LLM: gemini},
		responder:  assessment.NewGenAIResponder(gemini),
	}, nil
}

func newStore(cfg *config.Config) (store.Repository, error) {
	opts := []store.Option{store.WithSessionTTL(cfg.Store.SessionTTL)}
	if cfg.Store.Driver == "memory" {
		slog.Warn("Using in-memory store; jobs and sessions are lost on restart")
		return store.NewMemory(opts...), nil
	}
	return store.NewSQLite(cfg.Store.DBPath, opts...)
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, func() error, error) {
	if cfg.Storage.Backend == "gcs" {
		gcs, err := storage.NewGCS(ctx, storage.GCSConfig{
			Bucket:          cfg.Storage.GCSBucket,
			CredentialsFile: cfg.Storage.GCSCredentialsFile,
			EmulatorHost:    cfg.Storage.EmulatorHost,
		})
		if err != nil {
			return nil, nil, err
		}
		return gcs, gcs.Close, nil
	}
	local, err := storage.NewLocal(cfg.Storage.Dir)
	if err != nil {
		return nil, nil, err
	}
	return local, func() error { return nil }, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	objects, closeObjects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize notebook storage: %w", err)
	}
	defer func() {
		if closeErr := closeObjects(); closeErr != nil {
			slog.Error("Failed to close notebook storage", "error", closeErr)
		}
	}()
	notebooks := storage.NewSink(objects, repo)

	catalog, err := curriculum.LoadCatalog(cfg.GenAI.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	m, err := newModels(ctx, cfg, catalog)
	if err != nil {
		return err
	}
	planner := curriculum.NewPlanner(m.decomposer)
	planner.Retry = retry.Policy{
		MaxAttempts:    cfg.Generation.MaxAttempts,
		BaseDelay:      cfg.Generation.BaseDelay,
		Multiplier:     2,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: cfg.Generation.AttemptTimeout,
	}

	transcripts, err := assessment.NewTranscriptLogger(assessment.TranscriptConfig{
		Enabled:   cfg.TranscriptLog.Enabled,
		Dir:       cfg.TranscriptLog.Dir,
		QueueSize: cfg.TranscriptLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize transcript logger: %w", err)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()
	assessor := assessment.NewService(repo, assessment.NewExtractor(m.responder, catalog.SubjectNames()), transcripts)

	checks := map[string]api.Check{
		"store": repo.Ping,
		"storage": func(ctx context.Context) error {
			_, err := objects.List(ctx, "_health/")
			return err
		},
	}

	var bus events.Bus
	if cfg.Events.RedisAddr != "" {
		redisBus, err := events.NewRedisBus(ctx, cfg.Events.RedisAddr, cfg.Events.RedisChannel)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		if err := redisBus.StartForwarder(ctx); err != nil {
			_ = redisBus.Close()
			return err
		}
		checks["redis"] = redisBus.Ping
		bus = redisBus
		slog.Info("Redis event bus connected", "addr", cfg.Events.RedisAddr, "channel", cfg.Events.RedisChannel)
	} else {
		bus = events.NewHub()
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			slog.Error("Failed to close event bus", "error", closeErr)
		}
	}()

	// Background runs outlive request contexts and end at shutdown.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	orch := orchestrator.New(runCtx, orchestrator.Config{
		Store:     repo,
		Planner:   planner,
		Generator: m.generator,
		Sink:      notebooks,
		Bus:       bus,
		Generation: retry.Policy{
			MaxAttempts:    cfg.Generation.MaxAttempts,
			BaseDelay:      cfg.Generation.BaseDelay,
			Multiplier:     2,
			MaxDelay:       30 * time.Second,
			AttemptTimeout: cfg.Generation.AttemptTimeout,
		},
		Storage: retry.Policy{
			MaxAttempts:    3,
			BaseDelay:      200 * time.Millisecond,
			Multiplier:     2,
			MaxDelay:       2 * time.Second,
			AttemptTimeout: 30 * time.Second,
		},
	})

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	allowedOrigin := cfg.FrontendURL
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	handler := api.NewHandler(repo, assessor, planner, orch, notebooks, bus, api.Options{
		MaxRequestBodySize: cfg.SSE.MaxRequestBodySize,
		SSEKeepalive:       cfg.SSE.KeepaliveInterval,
		SSERetryDelay:      cfg.SSE.RetryDelay,
		SignedURLTTL:       cfg.Storage.SignedURLTTL,
		AllowedOrigin:      allowedOrigin,
		IsDev:              cfg.IsDevelopment(),
		RateLimiter:        limiter,
	})
	healthHandler := api.NewHealthHandler(cfg.Timeout.HealthCheck, checks)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{allowedOrigin}))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else is scoped to the caller.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		handler.RegisterRoutes(r)
	})

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	sweeperDone := sweeper.Start(gctx, repo, cfg.Store.SweepInterval)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.HealthGRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.HealthGRPCPort)
		if err != nil {
			stop()
			return fmt.Errorf("listen grpc health: %w", err)
		}
		grpcHealth := health.NewServer(healthHandler, 15*time.Second, logger)
		g.Go(func() error { return grpcHealth.Serve(gctx, lis) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
		defer cancel()
		handler.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		// In-flight jobs are failed rather than left generating.
		cancelRuns()
		orch.Wait()
		<-sweeperDone
		return nil
	})

	return g.Wait()
}
