package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paperrnint/advent-calendar-be/core"
	"github.com/paperrnint/advent-calendar-be/core/providers"
	"github.com/paperrnint/advent-calendar-be/metrics"
	"github.com/paperrnint/advent-calendar-be/storage"
	"github.com/paperrnint/advent-calendar-be/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

type application struct {
	config    *AppConfig
	logger    *slog.Logger
	repo      core.Repository
	closeRepo func() error
	service   *core.AuthService
	server    *core.Server
	limiter   *core.RateLimiter
}

func newApplication(ctx context.Context, config *AppConfig, logger *slog.Logger) (*application, error) {
	signingKey, err := core.NewSigningKey(config.Core.JWT.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	var crypto *core.CryptoService
	if config.Core.Crypto.EncryptionKey != "" {
		crypto, err = core.NewCryptoService(config.Core.Crypto.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize crypto service: %w", err)
		}
	} else {
		logger.Warn("no encryption key configured, emails are stored in plain text")
	}

	repo, closeRepo, err := openRepository(ctx, config.DB, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	providerMap := initProviders(config, logger)
	if len(providerMap) == 0 {
		logger.Warn("no identity providers configured")
	}

	codec := core.NewTokenCodec(signingKey, config.Core.JWT.Issuer)
	service := core.NewAuthService(repo, &config.Core, codec, providerMap, crypto,
		core.WithLogger(logger),
		core.WithMetrics(collector),
	)
	authenticator := core.NewAuthenticator(codec, logger, collector)
	limiter := core.NewRateLimiter(config.Core.RateLimit.RequestsPerMinute, config.Core.RateLimit.Burst)

	server := core.NewServer(service, authenticator, &config.Core,
		core.WithRateLimiter(limiter),
		core.WithMetricsHandler(metrics.Handler(registry)),
		core.WithServerLogger(logger),
	)

	return &application{
		config:    config,
		logger:    logger,
		repo:      repo,
		closeRepo: closeRepo,
		service:   service,
		server:    server,
		limiter:   limiter,
	}, nil
}

func (a *application) Close() {
	a.limiter.Stop()
	if err := a.closeRepo(); err != nil {
		a.logger.Error("failed to close repository", slog.String("error", err.Error()))
	}
}

// serve runs the HTTP server and the purge job until ctx is cancelled
func (a *application) serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      a.server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	purgeJob := worker.NewPurgeJob(a.service, a.logger, a.config.Core.PurgeEvery())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server starting",
			slog.String("addr", httpServer.Addr),
			slog.Any("providers", a.service.Providers()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return purgeJob.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openRepository(ctx context.Context, db DBConfig, logger *slog.Logger) (core.Repository, func() error, error) {
	switch strings.ToLower(db.Type) {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(db.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		logger.Info("using SQLite database", slog.String("path", db.SQLitePath))
		return repo, repo.Close, nil

	case "postgres":
		if err := storage.RunMigrations(db.PostgresURL); err != nil {
			return nil, nil, err
		}
		repo, err := storage.NewPostgresRepository(ctx, db.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize PostgreSQL repository: %w", err)
		}
		logger.Info("using PostgreSQL database")
		return repo, repo.Close, nil

	case "memory":
		logger.Info("using in-memory repository")
		return storage.NewMemoryRepository(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported DB type: %s (supported: sqlite, postgres, memory)", db.Type)
	}
}

func initProviders(config *AppConfig, logger *slog.Logger) map[core.Provider]core.AuthProvider {
	providerMap := make(map[core.Provider]core.AuthProvider)

	if config.Kakao != nil {
		providerMap[core.ProviderKakao] = providers.NewKakaoProvider(config.Kakao)
		logger.Info("Kakao OAuth provider initialized")
	}

	if config.Naver != nil {
		providerMap[core.ProviderNaver] = providers.NewNaverProvider(config.Naver)
		logger.Info("Naver OAuth provider initialized")
	}

	if config.Google != nil {
		providerMap[core.ProviderGoogle] = providers.NewGoogleProvider(config.Google)
		logger.Info("Google OAuth provider initialized")
	}

	return providerMap
}
