package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory so no config.yaml or .env is picked up
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(ConfigPathEnvVar, "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "fixed", cfg.PositionSource())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CorsOrigins)
	assert.Equal(t, 15*time.Second, cfg.Position.AcquireTimeout)
	assert.Equal(t, 100.0, cfg.Position.MinDisplacementM)
	assert.Equal(t, 3.8480, cfg.Position.FixedLatitude)
	assert.Equal(t, time.Second, cfg.Tracking.SettleDelay)
	assert.Equal(t, 0.3, cfg.Scoring.DistanceWeight)
	assert.Equal(t, 0.7, cfg.Scoring.PriceWeight)
	assert.Equal(t, "first", cfg.Scoring.MatchPolicy)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("NATS_ENABLED", "true")
	t.Setenv("NATS_DEVICE_ID", "phone-7")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("POSITION_ACQUIRE_TIMEOUT", "5s")
	t.Setenv("SCORING_PRICE_WEIGHT", "0.6")
	t.Setenv("SCORING_MATCH_POLICY", "cheapest")
	t.Setenv("DB_NAME", "markets")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "nats", cfg.PositionSource())
	assert.Equal(t, "phone-7", cfg.NATS.DeviceID)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CorsOrigins)
	assert.Equal(t, 5*time.Second, cfg.Position.AcquireTimeout)
	assert.Equal(t, 0.6, cfg.Scoring.PriceWeight)
	assert.Equal(t, "cheapest", cfg.Scoring.MatchPolicy)
	assert.Equal(t, "markets", cfg.Database.Database)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7070
catalog:
  default_radius_km: 5
  allow_edits: true
tracking:
  settle_delay: 250ms
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SERVER_PORT", "7171")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7171, cfg.Server.Port)
	assert.Equal(t, 5.0, cfg.Catalog.DefaultRadiusKm)
	assert.True(t, cfg.Catalog.AllowEdits)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracking.SettleDelay)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_FORMAT=console\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LOG_FORMAT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown match policy":      {"SCORING_MATCH_POLICY": "random"},
		"unknown environment":       {"APP_ENV": "moon"},
		"nats source without nats":  {"POSITION_SOURCE": "nats"},
		"replay without track file": {"POSITION_SOURCE": "replay"},
		"price weight above one":    {"SCORING_PRICE_WEIGHT": "1.5"},
		"zero price divisor":        {"SCORING_PRICE_DIVISOR": "0"},
		"no catalog at all":         {"CATALOG_FILE": ""},
		"max radius below default":  {"CATALOG_MAX_RADIUS_KM": "1"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"APP_ENV":                  "environment",
		"DB_HOST":                  "database.host",
		"DB_MAX_CONNS":             "database.max_conns",
		"NATS_URL":                 "nats.url",
		"POSITION_SOURCE":          "position.source",
		"SCORING_DISTANCE_WEIGHT":  "scoring.distance_weight",
		"CATALOG_REFRESH_INTERVAL": "catalog.refresh_interval",
		"LOG_LEVEL":                "logging.level",
		"HOME":                     "",
		"PATH":                     "",
		"DB_":                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, envTransformFunc(in), in)
	}
}

func TestConnString(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5433, Database: "mf", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/mf?sslmode=require", d.ConnString())
}
