// internal/config/config.go

package config

import (
	"fmt"
	"time"

	"marketfinder/internal/validation"
)

// Config holds all application configuration
type Config struct {
	Environment string         `koanf:"environment" validate:"oneof=development test staging production"`
	Server      ServerConfig   `koanf:"server"`
	Database    DatabaseConfig `koanf:"database"`
	NATS        NATSConfig     `koanf:"nats"`
	Position    PositionConfig `koanf:"position"`
	Tracking    TrackingConfig `koanf:"tracking"`
	Scoring     ScoringConfig  `koanf:"scoring"`
	Catalog     CatalogConfig  `koanf:"catalog"`
	Logging     LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CorsOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig holds database configuration. When disabled the catalog
// comes from Catalog.File.
type DatabaseConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Host        string        `koanf:"host" validate:"required_if=Enabled true"`
	Port        int           `koanf:"port" validate:"min=1,max=65535"`
	User        string        `koanf:"user"`
	Password    string        `koanf:"password"`
	Database    string        `koanf:"name"`
	MaxConns    int32         `koanf:"max_conns" validate:"min=1"`
	MaxLifetime time.Duration `koanf:"max_lifetime"`
	SSLMode     string        `koanf:"ssl_mode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Embedded       bool          `koanf:"embedded"`
	URL            string        `koanf:"url"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	EventsTopic    string        `koanf:"events_topic" validate:"required"`
	DevicePrefix   string        `koanf:"device_prefix" validate:"required"`
	DeviceID       string        `koanf:"device_id"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// PositionConfig selects and tunes the position source
type PositionConfig struct {
	// Source is fixed, replay or nats. Empty picks fixed in development and nats otherwise.
	Source           string        `koanf:"source" validate:"omitempty,oneof=fixed replay nats"`
	AcquireTimeout   time.Duration `koanf:"acquire_timeout" validate:"gt=0"`
	MaxAge           time.Duration `koanf:"max_age"`
	MinDisplacementM float64       `koanf:"min_displacement_m" validate:"gte=0"`
	WatchInterval    time.Duration `koanf:"watch_interval"`
	FastestInterval  time.Duration `koanf:"fastest_interval"`
	FixedLatitude    float64       `koanf:"fixed_latitude" validate:"gte=-90,lte=90"`
	FixedLongitude   float64       `koanf:"fixed_longitude" validate:"gte=-180,lte=180"`
	ReplayFile       string        `koanf:"replay_file"`
	ReplayPace       time.Duration `koanf:"replay_pace"`
}

// TrackingConfig holds session configuration
type TrackingConfig struct {
	SettleDelay time.Duration `koanf:"settle_delay"`
	AutoWatch   bool          `koanf:"auto_watch"`
}

// ScoringConfig holds the ranking policy
type ScoringConfig struct {
	DistanceBase      float64 `koanf:"distance_base"`
	DistanceFactor    float64 `koanf:"distance_factor" validate:"gte=0"`
	PriceBase         float64 `koanf:"price_base"`
	PriceDivisor      float64 `koanf:"price_divisor" validate:"gt=0"`
	UnknownPriceScore float64 `koanf:"unknown_price_score"`
	DistanceWeight    float64 `koanf:"distance_weight" validate:"gte=0,lte=1"`
	PriceWeight       float64 `koanf:"price_weight" validate:"gte=0,lte=1"`
	MatchPolicy       string  `koanf:"match_policy" validate:"oneof=first cheapest"`
}

// CatalogConfig holds catalog configuration
type CatalogConfig struct {
	File             string        `koanf:"file"`
	SeedDatabase     bool          `koanf:"seed_database"`
	AllowEdits       bool          `koanf:"allow_edits"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
	RefreshInterval  time.Duration `koanf:"refresh_interval" validate:"gt=0"`
	DefaultRadiusKm  float64       `koanf:"default_radius_km" validate:"gt=0"`
	MaxRadiusKm      float64       `koanf:"max_radius_km" validate:"gtefield=DefaultRadiusKm"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// IsDevelopment reports whether the app runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// PositionSource resolves the effective position source
func (c *Config) PositionSource() string {
	if c.Position.Source != "" {
		return c.Position.Source
	}
	if c.IsDevelopment() || c.Environment == "test" {
		return "fixed"
	}
	return "nats"
}

// ConnString builds the PostgreSQL connection string
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if c.PositionSource() == "replay" && c.Position.ReplayFile == "" {
		return fmt.Errorf("position.replay_file is required for the replay source")
	}
	if c.PositionSource() == "nats" && !c.NATS.Enabled {
		return fmt.Errorf("the nats position source requires nats.enabled")
	}
	if !c.Database.Enabled && c.Catalog.File == "" {
		return fmt.Errorf("catalog.file is required when the database is disabled")
	}
	if c.Catalog.SeedDatabase && c.Catalog.File == "" {
		return fmt.Errorf("catalog.seed_database requires catalog.file")
	}
	return nil
}
