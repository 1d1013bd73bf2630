package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/crewform/pkg/api"
	"github.com/platinummonkey/crewform/pkg/audit"
	"github.com/platinummonkey/crewform/pkg/config"
	"github.com/platinummonkey/crewform/pkg/httputil"
	"github.com/platinummonkey/crewform/pkg/middleware"
	"github.com/platinummonkey/crewform/pkg/observability"
	"github.com/platinummonkey/crewform/pkg/orgcontext"
	"github.com/platinummonkey/crewform/pkg/rbac"
)

// maxRequestBody bounds JSON request bodies
const maxRequestBody = 1 << 20

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	observability.SetDefault(logger)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Authorization service stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if cfg.Storage.RunMigrations {
		if err := rbac.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	store := rbac.NewStore(db)

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = openRedis(ctx, cfg.Storage)
		if err != nil {
			db.Close()
			return err
		}
	}

	// Redis is a hard dependency only when it holds the permission versions
	probes := []observability.Probe{observability.DatabaseProbe(db)}
	var versions rbac.VersionCounter = store
	if cfg.Authz.VersionBackend == config.VersionBackendRedis {
		versions = rbac.NewRedisVersionCounterFromClient(redisClient, cfg.Authz.VersionKeyPrefix)
		probes = append(probes, observability.RedisProbe("version_counter", redisClient, true))
	} else if redisClient != nil {
		probes = append(probes, observability.RedisProbe("rate_limiter", redisClient, false))
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	auditLogger := audit.NewNoOpLogger()
	if cfg.Authz.AuditLogDir != "" {
		fileConfig := audit.DefaultFileLoggerConfig()
		fileConfig.BasePath = cfg.Authz.AuditLogDir
		if cfg.Authz.AuditArchiveBucket != "" {
			archiver, err := audit.NewS3Archiver(ctx, cfg.Authz.AuditArchive())
			if err != nil {
				return fmt.Errorf("failed to create audit archive: %w", err)
			}
			fileConfig.Archiver = archiver
		}
		fileLogger, err := audit.NewFileLogger(fileConfig)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		auditLogger = fileLogger
	}

	source := orgcontext.NewStoreSource(store)
	cache := orgcontext.NewCache(source, source, versions, &orgcontext.Config{
		Size:    cfg.Authz.ContextCacheSize,
		TTL:     cfg.Authz.ContextCacheTTL,
		Metrics: metrics,
		Logger:  logger,
	})
	coordinator := rbac.NewCoordinator(store, cache, versions,
		rbac.WithAuditLogger(auditLogger),
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
	)

	rateConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Authz.WriteRateLimit,
		WindowDuration:    cfg.Authz.WriteRateWindow,
		BurstSize:         cfg.Authz.WriteRateBurst,
	}
	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = middleware.NewRedisRateLimiter(redisClient, rateConfig, "")
	} else {
		memoryLimiter := middleware.NewRateLimiter(rateConfig)
		memoryLimiter.StartCleanup(ctx)
		limiter = memoryLimiter
	}

	server := api.NewServer(store, cache, coordinator,
		api.WithAuditLogger(auditLogger),
		api.WithMetrics(metrics),
		api.WithRateLimiter(limiter),
	)
	handler := httputil.Chain(
		httputil.RecoveryMiddleware,
		middleware.RequestID(logger),
		httputil.MaxBytesMiddleware(maxRequestBody),
	)(server)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "crewform-authz"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(cfg.Observability.OTelServiceVersion, probes...))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
		go reportDBStats(ctx, db, metrics)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc("background tasks", func(ctx context.Context) error {
		cancel()
		return nil
	})
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc("audit log", func(ctx context.Context) error {
		return auditLogger.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("database", func(ctx context.Context) error {
		return db.Close()
	})

	serve(logger, "API", httpServer)
	serve(logger, "health", healthServer)
	logger.WithFields(map[string]interface{}{
		"addr":            httpServer.Addr,
		"health_addr":     healthServer.Addr,
		"version_backend": cfg.Authz.VersionBackend,
	}).Info("Crewform authorization service started")

	return shutdown.WaitForShutdown()
}

func serve(logger *observability.Logger, name string, server *http.Server) {
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).WithField("server", name).Error("Server failed")
			os.Exit(1)
		}
	}()
}

func openDatabase(ctx context.Context, cfg config.StorageConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresMinConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg config.StorageConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func reportDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.UpdateDBStats(db.Stats())
		case <-ctx.Done():
			return
		}
	}
}
