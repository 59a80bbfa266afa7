// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/config"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/database"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/handler"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/i18n"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/notify"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/notify/redisrelay"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository/redisstore"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/repository/sqlite"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/service"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/telemetry"
)

const serviceName = "signup-sheets"

func main() {
	if err := run(); err != nil {
		log.Fatalf("%s: %v", serviceName, err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Configuration & tracing ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	// ── 2. Storage ───────────────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = redisstore.NewClient(ctx, redisstore.ClientConfig{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if cfg.StoreDriver != config.DriverRedis {
			// Otherwise the redis store owns the client.
			defer rdb.Close()
		}
		log.Println("✓ Connected to Redis")
	}

	store, err := openStore(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Printf("✓ Store ready (driver=%s)", cfg.StoreDriver)

	// ── 3. Wire up layers ────────────────────────────────────────────────
	notifier := notify.New()
	defer notifier.Reset()

	g, gctx := errgroup.WithContext(ctx)

	var opts []service.Option
	if cfg.RedisRelay {
		relay := redisrelay.New(rdb, notifier)
		g.Go(func() error { return relay.Run(gctx) })
		opts = append(opts, service.WithPublisher(relay))
	}
	svc := service.NewEventService(store, notifier, opts...)
	h := handler.NewEventHandler(svc, i18n.NewTranslator(cfg.DefaultLocale))

	// ── 4. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler.NewRouter(h, cfg.WebDir),
		ReadTimeout: 15 * time.Second,
		// Streams clear their own write deadline.
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		log.Printf("✓ Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down server…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Long-lived streams only end once their subscriptions close.
		notifier.Reset()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		log.Println("server stopped")
		return nil
	})

	return g.Wait()
}

// openStore returns the Store selected by cfg.StoreDriver.
func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, database.PoolConfig{DSN: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		log.Println("✓ Connected to PostgreSQL")
		if cfg.Migrations {
			if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
				pool.Close()
				return nil, fmt.Errorf("database: %w", err)
			}
		}
		return postgres.New(pool), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return store, nil
	case config.DriverRedis:
		return redisstore.New(rdb), nil
	default:
		return repository.NewMemoryStore(), nil
	}
}
