package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/metricat/metricat/pkg/api"
	"github.com/metricat/metricat/pkg/auth"
	"github.com/metricat/metricat/pkg/config"
	"github.com/metricat/metricat/pkg/middleware"
	"github.com/metricat/metricat/pkg/observability"
	"github.com/metricat/metricat/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	credStore, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}
	logger.WithField("backend", cfg.Store.Type).Info("credential store initialized")

	codec, err := auth.NewTokenCodec(auth.CodecConfig{
		AccessSecret:  []byte(cfg.Auth.AccessSecret),
		RefreshSecret: []byte(cfg.Auth.RefreshSecret),
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		APIKeyPrefix:  cfg.Auth.APIKeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
		credStore = store.NewInstrumented(credStore, cfg.Store.Type, metrics)
	}

	service := auth.NewService(credStore, codec, auth.NewPasswordHasher(cfg.Auth.BcryptCost), logger)
	service.SetMetrics(metrics)

	var providers *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		providers, err = observability.InitOTel(context.Background(), observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
	}

	opts := []api.Option{
		api.WithLoginLimiter(middleware.NewRateLimiter(middleware.LoginRateLimitConfig())),
	}

	var redisClient *redis.Client
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RedisURL != "" {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.RateLimit.RedisURL,
				Password: cfg.RateLimit.RedisPassword,
				DB:       cfg.RateLimit.RedisDB,
			})
			opts = append(opts, api.WithRateLimit(middleware.NewDistributedRateLimitMiddleware(redisClient, metrics, logger)))
			logger.Info("distributed rate limiting enabled")
		} else {
			opts = append(opts, api.WithRateLimit(middleware.NewRateLimitMiddleware(metrics)))
			logger.Info("in-process rate limiting enabled")
		}
	}

	server := api.NewServer(service, logger, metrics, opts...)

	handler := server.Router()
	if providers != nil {
		handler = otelhttp.NewHandler(handler, "metricat.api")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics live on their own port so they are never
	// rate limited or exposed publicly.
	health := observability.NewHealthChecker(credStore)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	var sweeper *cron.Cron
	if cfg.Auth.CleanupSchedule != "" {
		sweeper = cron.New()
		_, err := sweeper.AddFunc(cfg.Auth.CleanupSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			removed, err := credStore.CleanupExpired(ctx)
			if err != nil {
				logger.WithError(err).Error("credential sweep failed")
				return
			}
			if metrics != nil {
				metrics.CredentialsSweptTotal.Add(float64(removed))
				if counter, ok := credStore.(store.ActiveCounter); ok {
					tokens, keys, err := counter.CountActiveCredentials(ctx)
					if err != nil {
						logger.WithError(err).Warn("failed to count active credentials")
					} else {
						metrics.ActiveRefreshTokensGauge.Set(float64(tokens))
						metrics.ActiveAPIKeysGauge.Set(float64(keys))
					}
				}
			}
			logger.WithField("removed", removed).Info("credential sweep complete")
		})
		if err != nil {
			return fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Auth.CleanupSchedule, err)
		}
		sweeper.Start()
		logger.WithField("schedule", cfg.Auth.CleanupSchedule).Info("credential sweep scheduled")
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if sweeper != nil {
		shutdown.Register(func(ctx context.Context) error {
			select {
			case <-sweeper.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	if redisClient != nil {
		shutdown.Register(func(context.Context) error {
			return redisClient.Close()
		})
	}
	if providers != nil {
		shutdown.Register(providers.Shutdown)
	}
	shutdown.Register(func(context.Context) error {
		return credStore.Close()
	})

	var g errgroup.Group
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("api server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(shutdown.Wait)

	return g.Wait()
}
