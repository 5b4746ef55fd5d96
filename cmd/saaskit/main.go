package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quayside-labs/saaskit/pkg/accounts"
	"github.com/quayside-labs/saaskit/pkg/api"
	"github.com/quayside-labs/saaskit/pkg/authz"
	"github.com/quayside-labs/saaskit/pkg/config"
	"github.com/quayside-labs/saaskit/pkg/events"
	"github.com/quayside-labs/saaskit/pkg/featureflags"
	"github.com/quayside-labs/saaskit/pkg/identity"
	"github.com/quayside-labs/saaskit/pkg/invites"
	"github.com/quayside-labs/saaskit/pkg/janitor"
	"github.com/quayside-labs/saaskit/pkg/observability"
	"github.com/quayside-labs/saaskit/pkg/sessions"
	"github.com/quayside-labs/saaskit/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Database
	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := postgres.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	// Optional redis tier for the session cache
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Error("invalid redis URL")
			os.Exit(1)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		opts.PoolSize = cfg.Redis.PoolSize
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, continuing with the in-process cache only")
			redisClient = nil
		}
	}

	// Feature flags
	var flags featureflags.Source = featureflags.Static{Flags: featureflags.DefaultFlags()}
	if cfg.Flags.File != "" {
		fileSource, err := featureflags.NewFileSource(cfg.Flags.File, logger)
		if err != nil {
			logger.WithError(err).Error("failed to load flags file")
			os.Exit(1)
		}
		defer fileSource.Close()
		flags = fileSource
	}

	// Event bus with log and audit sinks
	bus := events.NewBus(logger)
	bus.Subscribe(events.LogSink(logger))
	bus.Subscribe(events.AuditSink(db, logger))

	// Stores and services
	users := identity.NewStore(db)
	accountStore := accounts.NewStore(db)
	resolver := authz.NewResolver(accountStore)
	signer := identity.NewTokenSigner(cfg.Auth.TokenSecret)
	hasher := identity.NewArgon2()
	mailer := identity.NewLogMailer(logger)

	sessionSvc := sessions.NewService(sessions.NewStore(db), sessions.NewCache(redisClient, metrics),
		users, accountStore, resolver, hasher, flags, metrics)
	identitySvc := identity.NewService(users, hasher, signer, mailer, sessionSvc, bus, metrics)
	accountSvc := accounts.NewService(accountStore, resolver, flags, bus, metrics)
	inviteSvc := invites.NewService(invites.NewStore(db), users, accountStore, resolver,
		signer, hasher, mailer, bus, metrics)

	// Background cleanup
	janitorConfig := janitor.DefaultConfig()
	janitorConfig.SessionIdleTTL = cfg.Auth.SessionIdleTTL
	sweeper := janitor.New(janitorConfig, inviteSvc, sessionSvc, logrus.StandardLogger())
	if err := sweeper.Start(); err != nil {
		logger.WithError(err).Error("failed to start janitor")
		os.Exit(1)
	}
	defer sweeper.Stop()

	server := api.NewServer(api.Deps{
		Identity:      identitySvc,
		Sessions:      sessionSvc,
		Accounts:      accountSvc,
		Invites:       inviteSvc,
		Flags:         flags,
		Logger:        logger,
		Metrics:       metrics,
		SecureCookies: cfg.Auth.SecureCookies,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on their own port so probes skip the session
	// middleware.
	healthMux := http.NewServeMux()
	healthMux.Handle("/healthz", observability.NewHealthChecker(db).Handler())
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
