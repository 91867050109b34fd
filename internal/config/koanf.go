// internal/config/koanf.go

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/marketfinder/config.yaml",
}

// ConfigPathEnvVar names the config file override
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CorsOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Enabled:     false,
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Password:    "postgres",
			Database:    "marketfinder",
			MaxConns:    10,
			MaxLifetime: 5 * time.Minute,
			SSLMode:     "disable",
		},
		NATS: NATSConfig{
			Enabled:        false,
			Embedded:       false,
			URL:            "nats://localhost:4222",
			MaxReconnects:  10,
			ReconnectWait:  time.Second,
			ConnectTimeout: 2 * time.Second,
			EventsTopic:    "marketfinder.position",
			DevicePrefix:   "devices",
			DeviceID:       "default",
			RequestTimeout: 5 * time.Second,
		},
		Position: PositionConfig{
			AcquireTimeout:   15 * time.Second,
			MaxAge:           0,
			MinDisplacementM: 100,
			WatchInterval:    30 * time.Second,
			FastestInterval:  10 * time.Second,
			FixedLatitude:    3.8480,
			FixedLongitude:   11.5021,
			ReplayPace:       time.Second,
		},
		Tracking: TrackingConfig{
			SettleDelay: time.Second,
			AutoWatch:   true,
		},
		Scoring: ScoringConfig{
			DistanceBase:      100,
			DistanceFactor:    2,
			PriceBase:         100,
			PriceDivisor:      10,
			UnknownPriceScore: 50,
			DistanceWeight:    0.3,
			PriceWeight:       0.7,
			MatchPolicy:       "first",
		},
		Catalog: CatalogConfig{
			File:             "configs/markets.yaml",
			Timeout:          3 * time.Second,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			RefreshInterval:  5 * time.Minute,
			DefaultRadiusKm:  10,
			MaxRadiusKm:      100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration with precedence env > file > defaults.
// A .env file in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envSections maps an environment variable prefix to its config section
var envSections = map[string]string{
	"server":   "server",
	"db":       "database",
	"nats":     "nats",
	"position": "position",
	"tracking": "tracking",
	"scoring":  "scoring",
	"catalog":  "catalog",
	"log":      "logging",
}

// envTransformFunc maps env names to koanf paths:
//
//	APP_ENV             -> environment
//	DB_HOST             -> database.host
//	SCORING_PRICE_WEIGHT -> scoring.price_weight
//
// Unknown variables map to "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if key == "app_env" {
		return "environment"
	}

	prefix, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return ""
	}
	section, ok := envSections[prefix]
	if !ok {
		return ""
	}
	return section + "." + rest
}
