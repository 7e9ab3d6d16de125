// Command main runs the class reservation API: it loads configuration, picks
// the storage and ledger drivers, and serves HTTP until SIGINT/SIGTERM.
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

	"github.com/redis/go-redis/v9"
	"github.com/sayuricruzv/project-YeyosFitness/internal/auth"
	"github.com/sayuricruzv/project-YeyosFitness/internal/config"
	"github.com/sayuricruzv/project-YeyosFitness/internal/database"
	"github.com/sayuricruzv/project-YeyosFitness/internal/handler"
	"github.com/sayuricruzv/project-YeyosFitness/internal/metrics"
	"github.com/sayuricruzv/project-YeyosFitness/internal/notify"
	"github.com/sayuricruzv/project-YeyosFitness/internal/repository"
	"github.com/sayuricruzv/project-YeyosFitness/internal/service"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(newLogger(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func run(ctx context.Context, cfg *config.Config) error {
	var probes []func(*http.Request) error

	// ── 1. Storage ────────────────────────────────────────────────────────
	stores, cleanup, err := openStores(ctx, cfg, &probes)
	if err != nil {
		return err
	}
	defer cleanup()

	// ── 2. Notifications ──────────────────────────────────────────────────
	var notifier service.Notifier = notify.LogNotifier{Logger: slog.Default()}
	if cfg.AMQPURL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("notifications: %w", err)
		}
		defer publisher.Close()
		notifier = publisher
		slog.Info("publishing notifications to rabbitmq", "exchange", cfg.AMQPExchange)
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	svc := service.NewReservationService(stores, service.Options{
		LockTimeout:       cfg.LockTimeout,
		RetryAttempts:     cfg.RetryAttempts,
		RetryBackoff:      cfg.RetryBackoff,
		NotifyTimeout:     cfg.NotifyTimeout,
		DefaultListWindow: cfg.DefaultListWindow,
		Notifier:          notifier,
		Recorder:          metrics.NewRecorder(),
		Logger:            slog.Default(),
	})
	defer svc.Wait()

	if cfg.StorageDriver == config.DriverPostgres && cfg.LedgerDriver != config.DriverPostgres {
		if err := svc.SyncLedger(ctx); err != nil {
			return fmt.Errorf("sync ledger: %w", err)
		}
	}

	classHandler := handler.NewClassHandler(svc, handler.NewCheckInSigner(cfg.JWTSecret))
	router := handler.NewRouter(classHandler, handler.RouterConfig{
		Verifier:    auth.NewVerifier(cfg.JWTSecret),
		Limiter:     handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		CORSOrigins: cfg.CORSOrigins,
		Probes:      probes,
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "port", cfg.Port, "storage", cfg.StorageDriver, "ledger", cfg.LedgerDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// openStores builds the catalog, reservation store, waitlist and ledger for
// the configured drivers and registers their health probes.
func openStores(ctx context.Context, cfg *config.Config, probes *[]func(*http.Request) error) (service.Stores, func(), error) {
	var (
		stores  service.Stores
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StorageDriver {
	case config.DriverMemory:
		memory := repository.NewMemoryBackend()
		stores = service.Stores{
			Classes:      memory.Classes,
			Ledger:       memory.Ledger,
			Reservations: memory.Reservations,
			Waitlist:     memory.Waitlist,
		}
		slog.Warn("using in-memory storage; data is lost on restart")

	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, database.FromServiceConfig(cfg))
		if err != nil {
			return stores, func() {}, fmt.Errorf("database: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := database.Migrate(ctx, pool); err != nil {
			cleanup()
			return stores, func() {}, fmt.Errorf("database: %w", err)
		}
		slog.Info("connected to postgres", "host", cfg.DBHost, "db", cfg.DBName)

		stores = service.Stores{
			Classes:      repository.NewClassRepository(pool),
			Ledger:       repository.NewLedgerRepository(pool, cfg.LockTimeout),
			Reservations: repository.NewReservationRepository(pool),
			Waitlist:     repository.NewWaitlistRepository(pool, cfg.LockTimeout),
		}
		*probes = append(*probes, func(r *http.Request) error {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		})

	default:
		return stores, func() {}, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	switch cfg.LedgerDriver {
	case cfg.StorageDriver:
	case config.DriverRedis:
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return stores, func() {}, err
		}
		closers = append(closers, func() { _ = client.Close() })
		stores.Ledger = repository.NewRedisLedger(client)
		*probes = append(*probes, redisProbe(client))
	case config.DriverMemory:
		stores.Ledger = repository.NewMemoryBackend().Ledger
	case config.DriverPostgres:
		return stores, func() {}, fmt.Errorf("ledger driver %q requires postgres storage", cfg.LedgerDriver)
	default:
		cleanup()
		return stores, func() {}, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}

	return stores, cleanup, nil
}

func redisProbe(client *redis.Client) func(*http.Request) error {
	return func(r *http.Request) error {
		return database.RedisHealthCheck(r.Context(), client)
	}
}
