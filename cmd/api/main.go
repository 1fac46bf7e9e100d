// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ai4altruism/integritykit/internal/abuse"
	"github.com/ai4altruism/integritykit/internal/api"
	"github.com/ai4altruism/integritykit/internal/approval"
	"github.com/ai4altruism/integritykit/internal/audit"
	"github.com/ai4altruism/integritykit/internal/auth"
	"github.com/ai4altruism/integritykit/internal/candidate"
	"github.com/ai4altruism/integritykit/internal/config"
	"github.com/ai4altruism/integritykit/internal/health"
	"github.com/ai4altruism/integritykit/internal/idempotency"
	"github.com/ai4altruism/integritykit/internal/lifecycle"
	"github.com/ai4altruism/integritykit/internal/llm"
	"github.com/ai4altruism/integritykit/internal/middleware"
	"github.com/ai4altruism/integritykit/internal/notify"
	"github.com/ai4altruism/integritykit/internal/rbac"
	"github.com/ai4altruism/integritykit/internal/readiness"
	"github.com/ai4altruism/integritykit/internal/risk"
	"github.com/ai4altruism/integritykit/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("IntegrityKit API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Database
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	// Redis is optional: without it, abuse tracking and rate limiting
	// fall back to in-memory stores.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-memory fallbacks", "error", err)
			redisClient = nil
		}
	}

	// Tracing
	traceProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "integritykit-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	// Metrics
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	auditMetrics := audit.NewMetrics()
	if err := auditMetrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register audit metrics: %w", err)
	}
	riskMetrics := risk.NewMetrics()
	if err := riskMetrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register risk metrics: %w", err)
	}
	approvalMetrics := approval.NewMetrics()
	if err := approvalMetrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register approval metrics: %w", err)
	}
	lifecycleMetrics := lifecycle.NewMetrics()
	if err := lifecycleMetrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register lifecycle metrics: %w", err)
	}

	// Audit trail: every sensitive operation below appends here.
	auditRepo := audit.NewPostgresRepository(db, logger)
	trail, err := audit.NewService(auditRepo, logger, auditMetrics)
	if err != nil {
		return fmt.Errorf("failed to build audit service: %w", err)
	}

	// Optional S3 archive of aged audit entries.
	var archiveJob *audit.ArchiveJob
	if cfg.ArchiveBucket != "" {
		archiver, err := audit.NewArchiver(audit.ArchiverConfig{
			Bucket:          cfg.ArchiveBucket,
			Prefix:          "audit",
			Region:          cfg.ArchiveRegion,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
		}, auditRepo, logger)
		if err != nil {
			return fmt.Errorf("failed to build audit archiver: %w", err)
		}
		archiveJob = audit.NewArchiveJob(audit.ArchiveJobConfig{Logger: logger}, archiver)
		if err := archiveJob.Start(ctx); err != nil {
			return fmt.Errorf("failed to start archive job: %w", err)
		}
		defer archiveJob.Stop()
	}

	// Users and roles
	userRepo := rbac.NewPostgresRepository(db, logger)
	users := rbac.NewService(userRepo, trail, logger)

	// Risk classification
	classifier, err := risk.NewClassifier(trail, risk.ClassifierConfig{
		OverrideTTL: cfg.TierOverrideTTL,
		Logger:      logger,
		Metrics:     riskMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build risk classifier: %w", err)
	}
	conflictThreshold := candidate.ConflictSeverity(cfg.BlockingConflictSeverity)

	// Readiness evaluation, with optional model-assisted field scoring
	var scorer readiness.Scorer
	if cfg.OpenAIAPIKey != "" {
		llmScorer, err := llm.NewScorer(llm.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to build field scorer: %w", err)
		}
		scorer = llmScorer
	}
	evaluator := readiness.NewEvaluator(readiness.Config{
		MinFieldLength:           cfg.MinFieldLength,
		BlockingConflictSeverity: conflictThreshold,
	}, scorer, logger)

	// Slack notifications, shared by approvals and abuse detection.
	// NewSlackNotifier returns nil when unconfigured.
	var slackNotifier *notify.SlackNotifier
	if cfg.SlackToken != "" {
		slackNotifier = notify.NewSlackNotifier(notify.Config{
			Token:        cfg.SlackToken,
			AlertChannel: cfg.SlackAlertChannel,
			Logger:       logger,
		})
	}

	// Two-person approvals, with a background sweeper for expiry
	approvalCfg := approval.Config{
		TTL:     cfg.ApprovalTTL,
		Logger:  logger,
		Metrics: approvalMetrics,
	}
	if slackNotifier != nil {
		approvalCfg.Notifier = slackNotifier
	}
	approvals, err := approval.NewService(approval.NewPostgresRepository(db, logger), trail, approvalCfg)
	if err != nil {
		return fmt.Errorf("failed to build approval service: %w", err)
	}
	sweeper := approval.NewSweeper(approvals, approval.SweeperConfig{
		Interval: cfg.ApprovalSweepInterval,
		Logger:   logger,
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// The publish gate consults granted approvals before denying a
	// high-stakes candidate.
	gate, err := risk.NewGate(trail, risk.GateConfig{
		BlockingConflictSeverity: conflictThreshold,
		Approvals:                approvals,
		Logger:                   logger,
		Metrics:                  riskMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build publish gate: %w", err)
	}

	// Abuse detection
	var detector *abuse.Detector
	if cfg.AbuseEnabled {
		var tracker abuse.Tracker = abuse.NewMemoryTracker()
		if redisClient != nil {
			tracker = abuse.NewRedisTracker(redisClient)
		}
		var notifier abuse.Notifier
		if slackNotifier != nil {
			notifier = slackNotifier
		}
		detector, err = abuse.NewDetector(tracker, trail, notifier, abuse.Config{
			Enabled:       true,
			Window:        cfg.AbuseWindow,
			Threshold:     cfg.AbuseThreshold,
			AlertCooldown: cfg.AbuseAlertCooldown,
		})
		if err != nil {
			return fmt.Errorf("failed to build abuse detector: %w", err)
		}
	}

	// Candidate lifecycle
	lifecycleSvc, err := lifecycle.NewService(lifecycle.Deps{
		Repo:       candidate.NewPostgresRepository(db, logger),
		Evaluator:  evaluator,
		Classifier: classifier,
		Gate:       gate,
		Approvals:  approvals,
		Users:      users,
		Detector:   detector,
		Trail:      trail,
		Logger:     logger,
		Metrics:    lifecycleMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build lifecycle service: %w", err)
	}

	// HTTP surface. A previous JWT secret keeps old tokens valid
	// through a rotation window.
	currentSecret, previousSecret := cfg.GetJWTSecrets()
	jwtService := auth.NewJWTService(currentSecret)
	if previousSecret != "" {
		jwtService = auth.NewJWTServiceWithRotation(currentSecret, previousSecret)
	}

	router := &api.Router{
		Candidates: api.NewCandidateHandlers(lifecycleSvc, userRepo),
		Approvals:  api.NewApprovalHandlers(approvals, userRepo),
		Audit:      api.NewAuditHandlers(trail, users, userRepo),
		Users:      api.NewUserHandlers(users, userRepo),
	}

	var rateLimitStore middleware.RateLimitStore = middleware.NewInMemoryRateLimitStore()
	if redisClient != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient)
	}

	idempotencyRepo := idempotency.NewInMemoryRepository()
	cleanupStop := make(chan struct{})
	defer close(cleanupStop)
	go idempotency.RunPeriodicCleanup(idempotencyRepo, 1*time.Hour, idempotency.DefaultExpiry, cleanupStop)

	// Authenticated API routes
	apiHandler := http.Handler(router.Mux())
	apiHandler = middleware.IdempotencyMiddleware(idempotencyRepo, map[string]bool{
		"/candidates/{id}/publish": true,
	})(apiHandler)
	apiHandler = middleware.RateLimiter(rateLimitStore, middleware.DefaultGlobalLimit(), middleware.UserKeyFunc())(apiHandler)
	apiHandler = middleware.Auth(jwtService)(apiHandler)

	// Unauthenticated probes and metrics
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(db),
		RedisChecker:   redisChecker(redisClient),
		ScoringChecker: scoringChecker(cfg),
		MetricsEnabled: true,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandlers.Health)
	mux.HandleFunc("GET /ready", healthHandlers.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", apiHandler)

	// Outermost first: RequestID -> Tracing -> CORS -> Logging -> HTTPMetrics
	handler := http.Handler(mux)
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.ProfilingEnabled,
		Environment: cfg.Env,
	})(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if cfg.CORSAllowedOrigins != "" {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}
	if cfg.TracingEnabled {
		handler = middleware.Tracing("integritykit-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func redisChecker(client *redis.Client) api.HealthChecker {
	if client == nil {
		return nil
	}
	return health.NewRedisChecker(client)
}

func scoringChecker(cfg *config.Config) api.HealthChecker {
	if cfg.OpenAIAPIKey == "" {
		return nil
	}
	base := cfg.OpenAIBaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return health.NewHTTPChecker(base + "/models")
}
