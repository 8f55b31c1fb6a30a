package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/grc-api/pkg/audit"
	"github.com/platinummonkey/grc-api/pkg/auth"
	"github.com/platinummonkey/grc-api/pkg/config"
	"github.com/platinummonkey/grc-api/pkg/httputil"
	"github.com/platinummonkey/grc-api/pkg/middleware"
	"github.com/platinummonkey/grc-api/pkg/observability"
	"github.com/platinummonkey/grc-api/pkg/orgs"
	"github.com/platinummonkey/grc-api/pkg/rbac"
	"github.com/platinummonkey/grc-api/pkg/storage/postgres"
)

var version = "dev"

// options holds the one-shot modes selected on the command line.
type options struct {
	migrateOnly bool
	mintKeyOrg  string
	keyName     string
	revokeKeyID string
	keyOrg      string
}

func main() {
	var opts options
	flag.BoolVar(&opts.migrateOnly, "migrate", false, "Apply database migrations and exit")
	flag.StringVar(&opts.mintKeyOrg, "mint-api-key", "", "Create an API key for the given organization ID, print it and exit")
	flag.StringVar(&opts.keyName, "api-key-name", "cli", "Name recorded for a key created with -mint-api-key")
	flag.StringVar(&opts.revokeKeyID, "revoke-api-key", "", "Revoke the API key with the given ID and exit; requires -api-key-org")
	flag.StringVar(&opts.keyOrg, "api-key-org", "", "Organization that owns the key passed to -revoke-api-key")
	flag.Parse()

	if opts.revokeKeyID != "" && opts.keyOrg == "" {
		fmt.Fprintln(os.Stderr, "-revoke-api-key requires -api-key-org")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)
	slog.SetDefault(logger.Slog())

	if err := run(cfg, logger, opts); err != nil {
		logger.WithError(err).Error("grc-api exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, opts options) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.ConnLifetime,
	}, logger)
	if err != nil {
		return err
	}

	if err := postgres.RunMigrations(ctx, conns.Primary(), logger); err != nil {
		conns.Close()
		return err
	}
	if opts.migrateOnly {
		return conns.Close()
	}

	auditLogger, err := newAuditLogger(cfg, conns, logger)
	if err != nil {
		conns.Close()
		return err
	}

	keyStore := auth.NewPostgresAPIKeyStore(conns.Primary())
	if opts.mintKeyOrg != "" || opts.revokeKeyID != "" {
		defer conns.Close()
		defer auditLogger.Close()
		if opts.revokeKeyID != "" {
			return revokeAPIKey(ctx, keyStore, auditLogger, opts.keyOrg, opts.revokeKeyID)
		}
		return mintAPIKey(ctx, os.Stdout, keyStore, auditLogger, opts.mintKeyOrg, opts.keyName)
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("OpenTelemetry unavailable, continuing without it")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisOptions{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, rate limiting per instance")
			redisClient = nil
		}
	}

	// Credential resolution
	resolver := auth.NewResolver(
		keyStore,
		auth.NewJWKSVerifier(auth.JWKSConfig{
			IssuerURL: cfg.Auth.IssuerURL,
			JWKSURL:   cfg.Auth.JWKSURL,
			Audience:  cfg.Auth.Audience,
			Timeout:   cfg.Auth.Timeout,
		}),
		orgs.NewPostgresStore(conns.Primary()),
		auth.ResolverConfig{APIKeyHeader: cfg.Auth.APIKeyHeader, OrgHeader: cfg.Auth.OrgHeader},
		logger,
		metrics,
	)

	// Authorization and role management
	roleStore := rbac.NewPostgresStore(conns.Primary(), conns.Replica())
	permissions := rbac.NewPermissionResolver(roleStore)
	sessionChecker := rbac.NewHTTPSessionChecker(rbac.SessionCheckerConfig{
		URL:     cfg.Auth.SessionCheckURL,
		Timeout: cfg.Auth.Timeout,
	}, logger, metrics)
	guard := rbac.NewGuard(sessionChecker, permissions, auditLogger, logger, metrics)
	roleService := rbac.NewRoleService(roleStore, permissions, rbac.ServiceConfig{
		MaxCustomRoles: cfg.RBAC.MaxCustomRoles,
	}, auditLogger, logger, metrics)

	rateLimit, err := newRateLimitMiddleware(cfg, redisClient, logger, metrics)
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	router.Use(
		httputil.RequestID,
		httputil.Recovery(logger),
		httputil.Logging(logger),
		httputil.CORS(cfg.Server.AllowedOrigins, cfg.Auth.APIKeyHeader, cfg.Auth.OrgHeader),
	)
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(conns.Primary(), redisClient, version))

	stages := []func(http.Handler) http.Handler{middleware.NewAuthMiddleware(resolver, logger).Handler}
	if rateLimit != nil {
		stages = append(stages, rateLimit.Handler)
	}
	api := router.NewRoute().Subrouter()
	api.Use(httputil.Chain(stages...))
	rbac.NewHandlers(roleService, permissions, guard, logger).RegisterRoutes(api)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "grc-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("audit", func(context.Context) error { return auditLogger.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("database", func(context.Context) error { return conns.Close() })
	if otelProviders != nil {
		shutdown.Register("otel", func(ctx context.Context) error { return observability.ShutdownOTel(ctx, otelProviders) })
	}

	conns.StartHealthCheckRoutine(ctx, 30*time.Second)

	serverErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(logger, "http server")
		logger.Infof("Starting grc-api %s on %s", version, server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	signalDone := make(chan error, 1)
	go func() { signalDone <- shutdown.WaitForSignal(ctx) }()

	select {
	case err := <-serverErr:
		if err != nil {
			_ = shutdown.Shutdown(context.Background())
			return fmt.Errorf("http server failed: %w", err)
		}
		// Closed by a signal-driven shutdown; wait for the hooks.
		return <-signalDone
	case err := <-signalDone:
		return err
	}
}

func newAuditLogger(cfg *config.Config, conns *postgres.ConnectionManager, logger *observability.Logger) (audit.Logger, error) {
	if !cfg.Observability.AuditEnabled {
		return audit.NewNoOpLogger(), nil
	}
	dbLogger, err := audit.NewDBLogger(conns.Primary())
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}
	return audit.NewMultiLogger(
		audit.NewStreamLogger(os.Stdout),
		audit.NewAsyncLogger(dbLogger, audit.DefaultAsyncConfig(), logger.WithField("component", "audit")),
	), nil
}

func newRateLimitMiddleware(cfg *config.Config, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) (*middleware.RateLimitMiddleware, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}

	limits := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Window:            cfg.RateLimit.Window,
		MaxKeys:           middleware.DefaultRateLimitConfig().MaxKeys,
	}

	if redisClient != nil {
		limiter := middleware.NewDistributedRateLimiter(redisClient, limits, "")
		return middleware.NewRateLimitMiddleware(limiter, "redis", limits.Window, logger, metrics), nil
	}

	limiter, err := middleware.NewRateLimiter(limits)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit configuration: %w", err)
	}
	return middleware.NewRateLimitMiddleware(limiter, "memory", time.Second, logger, metrics), nil
}

// apiKeyAdmin is the part of the key store the one-shot key modes use.
type apiKeyAdmin interface {
	Create(ctx context.Context, orgID, name string, expiresAt *time.Time) (*auth.APIKey, string, error)
	Revoke(ctx context.Context, orgID, id string) error
}

func mintAPIKey(ctx context.Context, out io.Writer, store apiKeyAdmin, auditLogger audit.Logger, orgID, name string) error {
	key, plaintext, err := store.Create(ctx, orgID, name, nil)
	if err != nil {
		return err
	}

	event := audit.NewEvent(ctx, audit.EventTypeAPIKeyCreate, audit.EventStatusSuccess)
	event.OrganizationID = key.OrganizationID
	event.APIKeyID = key.ID
	event.ResourceType = audit.ResourceTypeAPIKey
	event.ResourceID = key.ID
	event.ResourceName = key.Name
	event.Message = "API key created from the command line"
	if err := auditLogger.Log(ctx, event); err != nil {
		return fmt.Errorf("api key %s created but audit write failed: %w", key.ID, err)
	}

	fmt.Fprintf(out, "Created API key %s (%s) for organization %s\n", key.ID, key.KeyPrefix, key.OrganizationID)
	fmt.Fprintln(out, plaintext)
	fmt.Fprintln(os.Stderr, "Store this key now; it cannot be shown again.")
	return nil
}

func revokeAPIKey(ctx context.Context, store apiKeyAdmin, auditLogger audit.Logger, orgID, id string) error {
	revokeErr := store.Revoke(ctx, orgID, id)

	status := audit.EventStatusSuccess
	if revokeErr != nil {
		status = audit.EventStatusFailure
	}
	event := audit.NewEvent(ctx, audit.EventTypeAPIKeyRevoke, status)
	event.OrganizationID = orgID
	event.APIKeyID = id
	event.ResourceType = audit.ResourceTypeAPIKey
	event.ResourceID = id
	event.Message = "API key revoked from the command line"
	if revokeErr != nil {
		event.ErrorMessage = revokeErr.Error()
	}
	if err := auditLogger.Log(ctx, event); err != nil {
		return errors.Join(revokeErr, fmt.Errorf("audit write failed: %w", err))
	}
	return revokeErr
}
