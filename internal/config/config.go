// Package config loads listening-stats configuration from defaults, an optional
// YAML file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Lock modes.
const (
	LockModeLocal    = "local"
	LockModePostgres = "postgres"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Spotify   SpotifyConfig   `koanf:"spotify"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Aggregate AggregateConfig `koanf:"aggregate"`
	Stats     StatsConfig     `koanf:"stats"`
	Cron      CronConfig      `koanf:"cron"`
	Lock      LockConfig      `koanf:"lock"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"`
	RateWindow      time.Duration `koanf:"rate_window" validate:"gt=0"`
	CacheMaxAge     time.Duration `koanf:"cache_max_age" validate:"gte=0"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL            string `koanf:"url" validate:"required"`
	MaxConns       int32  `koanf:"max_conns" validate:"gte=0"`
	MigrateOnStart bool   `koanf:"migrate_on_start"`
}

// SpotifyConfig configures the play-history source and artist lookups.
type SpotifyConfig struct {
	ClientID          string        `koanf:"client_id" validate:"required"`
	ClientSecret      string        `koanf:"client_secret" validate:"required"`
	RefreshToken      string        `koanf:"refresh_token"`
	TokenCachePath    string        `koanf:"token_cache_path"`
	APIURL            string        `koanf:"api_url" validate:"required,url"`
	FetchTimeout      time.Duration `koanf:"fetch_timeout" validate:"gt=0"`
	PageLimit         int           `koanf:"page_limit" validate:"gte=1,lte=50"`
	MaxPages          int           `koanf:"max_pages" validate:"gte=1"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`
	ImageWidth        int           `koanf:"image_width" validate:"gt=0"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	Interval          time.Duration `koanf:"interval" validate:"gt=0"`
	BatchSize         int           `koanf:"batch_size" validate:"gte=1"`
	ChunkSize         int           `koanf:"chunk_size" validate:"gte=1,lte=50"`
	EnrichTimeout     time.Duration `koanf:"enrich_timeout" validate:"gt=0"`
	EnrichConcurrency int           `koanf:"enrich_concurrency" validate:"gte=1"`
	RunOnStart        bool          `koanf:"run_on_start"`
}

// AggregateConfig configures the daily aggregation job.
type AggregateConfig struct {
	Interval   time.Duration `koanf:"interval" validate:"gt=0"`
	Days       int           `koanf:"days" validate:"gte=1"`
	RunOnStart bool          `koanf:"run_on_start"`
}

// StatsConfig configures the range query service.
type StatsConfig struct {
	TopN            int    `koanf:"top_n" validate:"gte=1"`
	MaxRangeDays    int    `koanf:"max_range_days" validate:"gte=1"`
	DefaultImageURL string `koanf:"default_image_url"`
}

// CronConfig holds the shared secret for trigger endpoints.
type CronConfig struct {
	Token string `koanf:"token" validate:"required,min=16"`
}

// LockConfig selects the single-flight lock implementation.
type LockConfig struct {
	Mode string `koanf:"mode" validate:"oneof=local postgres"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       60,
			RateWindow:      time.Minute,
			CacheMaxAge:     time.Hour,
		},
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrateOnStart: true,
		},
		Spotify: SpotifyConfig{
			APIURL:            "https://api.spotify.com/v1",
			FetchTimeout:      10 * time.Second,
			PageLimit:         50,
			MaxPages:          10,
			RequestsPerSecond: 5,
			ImageWidth:        160,
		},
		Ingest: IngestConfig{
			Interval:          30 * time.Minute,
			BatchSize:         50,
			ChunkSize:         50,
			EnrichTimeout:     2 * time.Minute,
			EnrichConcurrency: 3,
			RunOnStart:        true,
		},
		Aggregate: AggregateConfig{
			Interval:   6 * time.Hour,
			Days:       3,
			RunOnStart: true,
		},
		Stats: StatsConfig{
			TopN:         10,
			MaxRangeDays: 3660,
		},
		Lock: LockConfig{
			Mode: LockModeLocal,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate(c); err != nil {
		return err
	}
	if c.Spotify.RefreshToken == "" && c.Spotify.TokenCachePath == "" {
		return fmt.Errorf("%w: spotify.refresh_token or spotify.token_cache_path is required", ErrInvalidConfig)
	}
	return nil
}

// ValidateStorage checks only the sections used by commands that touch the
// database and nothing else (migrate, seed-buckets).
func (c *Config) ValidateStorage() error {
	for _, section := range []any{&c.Database, &c.Aggregate, &c.Lock, &c.Logging} {
		if err := validate(section); err != nil {
			return err
		}
	}
	return nil
}

func validate(v any) error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
}
