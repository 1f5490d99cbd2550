package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"rideledger/internal/address"
	"rideledger/internal/app"
	"rideledger/internal/auth"
	"rideledger/internal/bond"
	"rideledger/internal/config"
	"rideledger/internal/events"
	"rideledger/internal/handler"
	internalRedis "rideledger/internal/redis"
	"rideledger/internal/repository"
	"rideledger/internal/repository/memory"
	"rideledger/internal/repository/postgres"
	"rideledger/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	obs, cleanup, err := app.SetupObservability(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up observability: %w", err)
	}
	defer cleanup()
	logger := obs.Logger

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
			nrApp = nil
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	var db *sqlx.DB
	if cfg.Store.Backend == config.StorePostgres {
		db, err = app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		logger.Info("connected to PostgreSQL", "host", cfg.Database.Host, "db", cfg.Database.DBName)

		if cfg.Store.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return fmt.Errorf("failed to migrate schema: %w", err)
			}
		}
	}

	var redisClient *redis.Client
	if cfg.Store.Backend == config.StoreRedis || cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("connected to Redis", "addr", cfg.Redis.Addr)
	}

	publisher := newPublisher(cfg.Kafka, logger)
	defer publisher.Close()

	server, err := wireServer(db, redisClient, nrApp, publisher, obs, cfg)
	if err != nil {
		return err
	}

	// Start server in goroutine.
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port, "store", cfg.Store.Backend, "funder", cfg.Bond.Funder)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
	return nil
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	db *sqlx.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	publisher events.Publisher,
	obs *app.Observability,
	cfg *config.Config,
) (*http.Server, error) {
	program, err := cfg.Ledger.Program()
	if err != nil {
		return nil, err
	}
	namespace := address.Namespace{Tag: cfg.Ledger.SeedTag, Program: program}

	rideRepo := newRideRepository(cfg.Store.Backend, db, redisClient)

	cache := newRideCache(cfg.Store.Backend, redisClient)

	// Initialize services.
	notificationService := service.NewNotificationService(publisher, obs.Logger, obs.Metrics)
	rideService := service.NewRideService(service.RideServiceDeps{
		RideRepo:      rideRepo,
		Verifier:      auth.NewJWTVerifier(cfg.Auth.Audience, cfg.Auth.MaxProofAge),
		Funder:        newFunder(cfg.Bond),
		Schedule:      bond.Schedule{OverheadBytes: cfg.Bond.OverheadBytes, RatePerByte: cfg.Bond.RatePerByte},
		Namespace:     namespace,
		Cache:         cache,
		Notifications: notificationService,
		Metrics:       obs.Metrics,
		Logger:        obs.Logger,
	})

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		RideHandler: handler.NewRideHandler(rideService),
		KeyHandler:  handler.NewKeyHandler(rideService),
		RedisClient: redisClient,
		NewRelicApp: nrApp,
		Logger:      obs.Logger,
		Metrics:     obs.Metrics,
		Registry:    obs.Registry,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, nil
}

func newRideRepository(backend string, db *sqlx.DB, redisClient *redis.Client) repository.RideRepository {
	switch backend {
	case config.StorePostgres:
		return postgres.NewRideRepository(db)
	case config.StoreRedis:
		return internalRedis.NewRideStore(redisClient)
	default:
		return memory.NewRideRepository()
	}
}

// newRideCache returns nil when Redis is absent or already is the store.
func newRideCache(backend string, redisClient *redis.Client) internalRedis.RideCacheInterface {
	if redisClient == nil || backend == config.StoreRedis {
		return nil
	}
	return internalRedis.NewCacheStore(redisClient)
}

func newFunder(cfg config.BondConfig) bond.Funder {
	if cfg.Funder == config.FunderStripe {
		return bond.NewStripeFunder(bond.StripeConfig{
			APIKey:        cfg.StripeKey,
			Currency:      cfg.StripeCurrency,
			PaymentMethod: cfg.StripePaymentMethod,
		})
	}
	return bond.NewLedger(cfg.Faucet)
}

func newPublisher(cfg config.KafkaConfig, logger *slog.Logger) events.Publisher {
	if len(cfg.Brokers) == 0 {
		return events.NewLogPublisher(logger)
	}
	return events.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}
