package domain

import "time"

// Config is the root application configuration.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Inference   InferenceConfig `mapstructure:"inference"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Pipeline    PipelineConfig  `mapstructure:"pipeline"`
	Training    TrainingConfig  `mapstructure:"training"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// InferenceConfig holds model backend configuration.
type InferenceConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	TriageModel   string        `mapstructure:"triage_model"`
	FullModel     string        `mapstructure:"full_model"`
	TriageTimeout time.Duration `mapstructure:"triage_timeout"`
	FullTimeout   time.Duration `mapstructure:"full_timeout"`

	// TriageNoteBudget caps the note characters sent to the triage model.
	TriageNoteBudget int `mapstructure:"triage_note_budget"`
}

// CacheConfig holds Redis response cache configuration.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	RedisURL   string        `mapstructure:"redis_url"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	PoolSize   int           `mapstructure:"pool_size"`
}

// PipelineConfig holds candidate processing configuration.
type PipelineConfig struct {
	Concurrency         int     `mapstructure:"concurrency"`
	FullConcurrency     int64   `mapstructure:"full_concurrency"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// TrainingConfig holds training data collection configuration.
type TrainingConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
