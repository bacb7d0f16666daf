package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/apexgen/jobmanager/config"
	"github.com/apexgen/jobmanager/internal/core"
	"github.com/apexgen/jobmanager/internal/data"
)

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB establishes a connection to the PostgreSQL database.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	// Build DSN using url.URL to safely handle special characters in credentials
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.DBConfig.User, cfg.DBConfig.Password),
		Host:   net.JoinHostPort(cfg.DBConfig.Host, strconv.Itoa(cfg.DBConfig.Port)),
		Path:   "/" + cfg.DBConfig.Name,
	}
	q := u.Query()
	q.Set("sslmode", cfg.DBConfig.SSLMode)
	u.RawQuery = q.Encode()
	dsn := u.String()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
		)
	}

	return db, nil
}

// ConnectRedis establishes a connection to Redis.
//
//nolint:ireturn // returning redis.UniversalClient keeps client selection flexible.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Addr,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "addr", cfg.RedisConfig.Addr)
	}

	return client, nil
}

// RunMigrations runs database migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := data.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}

	return nil
}

// SelectJobStore connects to PostgreSQL and returns the durable job store.
// When the database is unreachable the in-process store is used instead so
// the service still comes up; a restart loses its records, which the startup
// log calls out.
//
//nolint:ireturn // the capability interface is the point: callers must not know which store they got.
func SelectJobStore(cfg DatabaseConfig) (core.JobStore, *sql.DB) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := ConnectDB(cfg)
	if err != nil {
		logger.Warn("database unreachable, using in-memory job store; records will not survive a restart",
			"error", err,
		)
		return data.NewMemoryJobStore(data.MemoryJobStoreOptions{Logger: logger}), nil
	}

	if cfg.DBConfig.RunMigrationsOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := RunMigrations(ctx, db, logger); err != nil {
			logger.Warn("migrations failed, using in-memory job store", "error", err)
			if closeErr := db.Close(); closeErr != nil {
				logger.Error("close database connection", "error", closeErr)
			}
			return data.NewMemoryJobStore(data.MemoryJobStoreOptions{Logger: logger}), nil
		}
	}

	return data.NewPGJobStore(data.PGJobStoreOptions{DB: db, Logger: logger}), db
}

// SelectResultCache returns the Redis-backed result cache when Redis is
// enabled and reachable, the no-op cache otherwise.
//
//nolint:ireturn // the capability interface is the point: callers must not know which cache they got.
func SelectResultCache(cfg DatabaseConfig) (core.ResultCache, redis.UniversalClient) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.RedisConfig.Enabled {
		return data.NoopResultCache{}, nil
	}

	client, err := ConnectRedis(cfg)
	if err != nil {
		logger.Warn("redis unreachable, result caching disabled", "error", err)
		return data.NoopResultCache{}, nil
	}
	return data.NewRedisResultCache(client), client
}
