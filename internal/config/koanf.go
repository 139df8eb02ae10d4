package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/listening-stats/config.yaml",
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"http_addr":        "server.addr",
	"cors_origins":     "server.cors_origins",
	"rate_limit":       "server.rate_limit",
	"cache_max_age":    "server.cache_max_age",
	"shutdown_timeout": "server.shutdown_timeout",

	"database_url":       "database.url",
	"database_max_conns": "database.max_conns",
	"migrate_on_start":   "database.migrate_on_start",

	"spotify_id":                  "spotify.client_id",
	"spotify_secret":              "spotify.client_secret",
	"spotify_refresh_token":       "spotify.refresh_token",
	"spotify_token_cache":         "spotify.token_cache_path",
	"spotify_api_url":             "spotify.api_url",
	"spotify_fetch_timeout":       "spotify.fetch_timeout",
	"spotify_max_pages":           "spotify.max_pages",
	"spotify_requests_per_second": "spotify.requests_per_second",

	"ingest_interval":           "ingest.interval",
	"ingest_batch_size":         "ingest.batch_size",
	"ingest_enrich_timeout":     "ingest.enrich_timeout",
	"ingest_enrich_concurrency": "ingest.enrich_concurrency",
	"ingest_run_on_start":       "ingest.run_on_start",

	"aggregate_interval":     "aggregate.interval",
	"aggregate_days":         "aggregate.days",
	"aggregate_run_on_start": "aggregate.run_on_start",

	"stats_top_n":             "stats.top_n",
	"stats_max_range_days":    "stats.max_range_days",
	"stats_default_image_url": "stats.default_image_url",

	"cron_token": "cron.token",
	"lock_mode":  "lock.mode",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// sliceKeys are parsed from comma-separated environment values.
var sliceKeys = map[string]bool{
	"server.cors_origins": true,
}

// Load builds the configuration with precedence env > file > defaults and
// validates the result.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStorage is Load for commands that only need the database. Spotify and
// cron settings may be absent.
func LoadStorage() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func transformEnv(key, value string) (string, any) {
	path, ok := envMappings[strings.ToLower(key)]
	if !ok {
		return "", nil
	}
	if sliceKeys[path] {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return path, out
	}
	return path, value
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
