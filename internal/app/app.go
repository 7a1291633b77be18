package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/shortlink/internal/auth"
	"github.com/sundayezeilo/shortlink/internal/cache"
	"github.com/sundayezeilo/shortlink/internal/config"
	db "github.com/sundayezeilo/shortlink/internal/db/sqlc"
	"github.com/sundayezeilo/shortlink/internal/metrics"
	"github.com/sundayezeilo/shortlink/internal/server"
	"github.com/sundayezeilo/shortlink/internal/shortener"
	"github.com/sundayezeilo/shortlink/sluggen"
)

// memoryCleanupInterval is how often the in-process cache evicts expired keys.
const memoryCleanupInterval = time.Minute

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DBPool  *pgxpool.Pool
	Redis   *redis.Client // nil with the memory cache backend
	Cache   cache.Cache
	Clicks  *shortener.ClickRecorder
	Metrics *metrics.Collector // nil when metrics are disabled
	Server  *server.Server
	Handler *shortener.Handler
}

// LoadConfig reads .env (outside production), the environment and builds the
// logger every command shares.
func LoadConfig() (*config.Config, *slog.Logger, error) {
	if err := loadEnv(); err != nil {
		return nil, nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, setupLogger(cfg.App.LogLevel), nil
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.Observability.ServiceVersion,
	)

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeConnections()
		}
	}()

	keys, err := auth.NewKeys([]byte(cfg.Auth.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to load auth keys: %w", err)
	}

	gen, err := sluggen.New(sluggen.Alphabet(cfg.Shortener.Alphabet))
	if err != nil {
		return nil, fmt.Errorf("failed to create code generator: %w", err)
	}

	a.DBPool, err = connectDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a.Cache, err = a.connectCache(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}

	var hooks shortener.Metrics
	if cfg.Observability.MetricsEnabled {
		a.Metrics = metrics.New(prometheus.Labels{
			"service": cfg.Observability.ServiceName,
			"version": cfg.Observability.ServiceVersion,
		})
		hooks = a.Metrics
	}

	// Setup application dependencies
	repo := shortener.NewRepository(db.New(a.DBPool), &shortener.RepositoryConfig{
		Timeout: cfg.Database.AcquireTimeout,
	})

	a.Clicks = shortener.NewClickRecorder(shortener.ClickRecorderConfig{
		Repository:               repo,
		Cache:                    a.Cache,
		Logger:                   logger,
		Metrics:                  hooks,
		Workers:                  cfg.Clicks.Workers,
		QueueSize:                cfg.Clicks.QueueSize,
		TaskTimeout:              cfg.Clicks.TaskTimeout,
		DisableOwnerListingCache: !cfg.Cache.OwnerListing,
	})

	svc := shortener.NewService(repo, &shortener.ServiceConfig{
		Cache:                    a.Cache,
		Clicks:                   a.Clicks,
		CodeGenerator:            gen,
		CodeLength:               cfg.Shortener.CodeLength,
		CodeMaxAttempts:          cfg.Shortener.MaxAttempts,
		LinkTTL:                  cfg.Cache.LinkTTL,
		ListingTTL:               cfg.Cache.ListingTTL,
		DisableOwnerListingCache: !cfg.Cache.OwnerListing,
		Logger:                   logger,
		Metrics:                  hooks,
	})

	a.Handler = shortener.NewHandler(shortener.HandlerConfig{
		Service: svc,
		Logger:  logger,
		BaseURL: cfg.Server.BaseURL,
	})

	a.Server = server.New(cfg, logger, server.Dependencies{
		Handler: a.Handler,
		Keys:    keys,
		Metrics: a.Metrics,
		Checks: map[string]server.HealthCheck{
			"postgres": a.DBPool.Ping,
			"cache":    a.Cache.Ping,
		},
	})

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"cache_backend", cfg.Cache.Backend,
	)

	return a, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown drains pending clicks before closing the connections they need.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	var errs []error
	if a.Clicks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		if err := a.Clicks.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("click recorder did not drain: %w", err))
		} else {
			a.Logger.Info("click recorder drained")
		}
		cancel()
	}

	if err := a.closeConnections(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) closeConnections() error {
	var err error
	if a.Redis != nil {
		if err = a.Redis.Close(); err != nil {
			err = fmt.Errorf("failed to close redis client: %w", err)
		} else {
			a.Logger.Info("redis connection closed")
		}
		a.Redis = nil
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.DBPool = nil
		a.Logger.Info("database connection closed")
	}
	return err
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Set pool configuration
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}

// connectCache builds the configured cache backend.
func (a *App) connectCache(ctx context.Context) (cache.Cache, error) {
	cfg := a.Config
	if cache.Backend(cfg.Cache.Backend) == cache.BackendMemory {
		a.Logger.Info("using in-process cache")
		return cache.NewMemory(memoryCleanupInterval), nil
	}

	a.Logger.Info("connecting to redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		PoolTimeout: cfg.Redis.AcquireTimeout,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	a.Redis = client

	a.Logger.Info("redis connection established")
	return cache.NewRedis(client), nil
}
