package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"jobmanager"`
	Password string `env:"PASSWORD" envDefault:"jobmanager"`
	Name     string `env:"NAME"     envDefault:"jobmanager"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for the result cache.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
	// Enabled controls whether Redis is used at all. When false the result
	// cache is a no-op and queries always hit the job store.
	Enabled bool `env:"ENABLED" envDefault:"false"`
}

// CacheConfig contains result cache configuration (Redis-based).
type CacheConfig struct {
	// ResultTTL is the TTL for cached terminal artifacts (final images and
	// failure reports).
	ResultTTL time.Duration `env:"CACHE_RESULT_TTL" envDefault:"1h"`
}
