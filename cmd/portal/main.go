// Command portal runs the partner portal API server: the auth surface
// (login, identity-provider callbacks, password lifecycle) and the JSON
// data views behind the distributor and admin screens.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/spectraline/partner-portal/pkg/activity"
	"github.com/spectraline/partner-portal/pkg/api"
	"github.com/spectraline/partner-portal/pkg/authflow"
	"github.com/spectraline/partner-portal/pkg/config"
	"github.com/spectraline/partner-portal/pkg/identity"
	"github.com/spectraline/partner-portal/pkg/ingest"
	"github.com/spectraline/partner-portal/pkg/middleware"
	"github.com/spectraline/partner-portal/pkg/observability"
	"github.com/spectraline/partner-portal/pkg/password"
	"github.com/spectraline/partner-portal/pkg/portal"
	"github.com/spectraline/partner-portal/pkg/profile"
	"github.com/spectraline/partner-portal/pkg/session"
	"github.com/spectraline/partner-portal/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("portal: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"port":           cfg.Server.Port,
		"health_port":    cfg.Server.HealthPort,
		"profile_lookup": cfg.Auth.ProfileLookup,
	}).Info("starting partner portal")

	ctx := context.Background()

	// Storage backends
	db, err := storage.OpenPostgres(cfg.Storage)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := storage.OpenRedis(cfg.Storage)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	files, err := storage.NewFileStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}

	// Observability
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("opentelemetry: %w", err)
		}
	}

	// Identity provider and session layer
	identityClient := identity.NewClient(cfg.Identity.URL, cfg.Identity.AnonKey)

	// Without an issuer the hosted provider brokers OAuth sign-in itself
	var oauthProvider *identity.OAuthProvider
	if cfg.Identity.OAuthIssuerURL != "" {
		oauthProvider, err = identity.NewOAuthProvider(ctx, identity.OAuthConfig{
			IssuerURL:    cfg.Identity.OAuthIssuerURL,
			ClientID:     cfg.Identity.OAuthClientID,
			ClientSecret: cfg.Identity.OAuthClientSecret,
			RedirectURL:  cfg.Identity.OAuthRedirectURL,
			Scopes:       cfg.Identity.OAuthScopes,
		})
		if err != nil {
			return fmt.Errorf("oauth provider: %w", err)
		}
	}
	sessions := session.NewStore(redisClient, identityClient,
		cfg.Auth.SessionTTL, cfg.Auth.SessionCookieName, cfg.Auth.SecureCookies)

	resolver := profile.NewResolver(db, profile.LookupMode(cfg.Auth.ProfileLookup), logger)
	flows := authflow.NewOrchestrator(identityClient, sessions, resolver, logger, cfg.Auth.DeniedRedirectDelay)
	passwords := password.NewLifecycle(identityClient, resolver, sessions, logger)

	// Portal data services
	library := portal.NewLibrary(db, files, logger)
	releases := portal.NewReleases(db, files, logger)
	customers := portal.NewCustomers(db, logger)

	recorder, err := activity.NewRecorder(db, logger)
	if err != nil {
		return fmt.Errorf("activity recorder: %w", err)
	}
	reports := activity.NewReports(db)

	deps := api.Dependencies{
		Logger:    logger,
		Metrics:   metrics,
		Identity:  identityClient,
		Sessions:  sessions,
		Flows:     flows,
		Passwords: passwords,
		Resolver:  resolver,
		Library:   library,
		Releases:  releases,
		Customers: customers,
		Activity:  recorder,
		Reports:   reports,
		Auth: middleware.NewAuthMiddleware(sessions, resolver, logger),
		// Redis already backs the session store, so the rate limit state
		// is shared across instances too
		RateLimit: middleware.NewDistributedRateLimitMiddleware(redisClient),
		BaseURL:   cfg.Server.BaseURL,
	}
	// A typed nil in the interface would read as configured
	if oauthProvider != nil {
		deps.OAuth = oauthProvider
	}
	server := api.NewServer(deps)

	var handler http.Handler = server
	if otelProviders != nil {
		handler = otelhttp.NewHandler(handler, "portal-api")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port so the probes and scrapers
	// never traverse the auth middleware
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)
	// Runs after the HTTP server drains, so no request can race the close
	shutdown.RegisterShutdownFunc(func(context.Context) error { return recorder.Close() })

	// Optional drop-directory ingest
	ingestCtx, cancelIngest := context.WithCancel(ctx)
	defer cancelIngest()
	if cfg.Ingest.Enabled {
		watcher, err := ingest.NewWatcher(cfg.Ingest.WatchDir, files, library, logger)
		if err != nil {
			return fmt.Errorf("ingest watcher: %w", err)
		}
		watcher.Start(ingestCtx)
		logger.WithField("dir", cfg.Ingest.WatchDir).Info("asset ingest watching drop directory")
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			cancelIngest()
			return watcher.Close()
		})
	}

	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
			return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		})
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("portal API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
		}
	}()

	return shutdown.WaitForShutdown()
}
