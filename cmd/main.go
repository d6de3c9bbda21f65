package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/okian/classboard/internal/adapters/http/api"
	"github.com/okian/classboard/internal/adapters/http/swagger"
	"github.com/okian/classboard/internal/adapters/publish"
	"github.com/okian/classboard/internal/adapters/repository"
	app "github.com/okian/classboard/internal/app"
	"github.com/okian/classboard/internal/config"
	"github.com/okian/classboard/pkg/logger"
	"github.com/okian/classboard/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "classboard exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}
	log := logger.Get()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	opts := []app.Option{
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithLocation(loc),
		app.WithThresholds(cfg.Thresholds()),
		app.WithIdleTTL(cfg.ScopeIdleTTL()),
		app.WithMaxScopes(cfg.MaxWatchedScopes),
	}
	if pub := newPublisher(cfg); pub != nil {
		opts = append(opts, app.WithPublisher(pub))
	}

	// Create and start the service with configuration options
	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, svc, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// openStore returns the configured entity store. The memory store is
// seeded from cfg.SeedFile when set.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreMongo:
		store, err := repository.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase,
			repository.WithQueryTimeout(cfg.MongoTimeout()))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store := repository.NewMemoryStore()
		if cfg.SeedFile != "" {
			f, err := repository.LoadFixture(cfg.SeedFile)
			if err != nil {
				return nil, err
			}
			store.Seed(f)
			logger.Get().Info(ctx, "seeded memory store",
				logger.String("file", cfg.SeedFile),
				logger.Int("classes", len(f.Classes)),
				logger.Int("students", len(f.Enrollments)),
			)
		}
		return store, nil
	}
}

// newPublisher returns the Redis publisher, or nil when no address is set.
func newPublisher(cfg *config.Config) *publish.Publisher {
	if cfg.RedisAddr == "" {
		return nil
	}
	return publish.NewRedis(cfg.RedisAddr,
		publish.WithPrefix(cfg.RedisPrefix),
		publish.WithTTL(cfg.RedisTTL()),
	)
}

// newHandler builds the router with the docs and business routes.
func newHandler(ctx context.Context, svc *app.Service, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	api.NewServer(svc, api.WithCORSOrigins(cfg.CORSOrigins)).Register(ctx, r)
	swagger.Register(ctx, r)
	return r
}

// startServiceMetricsUpdater refreshes the gauges derived from service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if !stats.Started {
		return
	}
	metrics.UpdateQueueSize(stats.QueueLength, stats.QueueSize)
	metrics.UpdateWatchedScopes(stats.Cache.Watched)
}
