// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/terracoord/digcheck/internal/geometry"
)

// Config holds the full application configuration.
type Config struct {
	Detect DetectConfig `yaml:"detect" mapstructure:"detect"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// DetectConfig configures the conflict detection engine.
type DetectConfig struct {
	// ProximityThresholdMeters is the distance within which two project
	// geometries count as a spatial conflict.
	ProximityThresholdMeters float64 `yaml:"proximity_threshold_meters" mapstructure:"proximity_threshold_meters"`

	// MinLineLengthMeters triggers a validation warning for shorter lines.
	MinLineLengthMeters float64 `yaml:"min_line_length_meters" mapstructure:"min_line_length_meters"`

	// MinPolygonAreaSqM triggers a validation warning for smaller polygons.
	MinPolygonAreaSqM float64 `yaml:"min_polygon_area_sqm" mapstructure:"min_polygon_area_sqm"`

	// TimeoutSecs bounds a whole conflict evaluation including data fetches.
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`

	// OperatingBBox is the municipal operating area; geometries outside it
	// get an advisory warning. All zeros disables the check.
	OperatingBBox geometry.BBox `yaml:"operating_bbox" mapstructure:"operating_bbox"`
}

// OperatingBounds returns the configured operating area, or nil if unset.
func (d DetectConfig) OperatingBounds() *geometry.BBox {
	if d.OperatingBBox == (geometry.BBox{}) {
		return nil
	}
	box := d.OperatingBBox
	return &box
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`

	// RateLimitPerSec caps conflict-check requests per client IP.
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DIGCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("detect.proximity_threshold_meters", 25.0)
	v.SetDefault("detect.min_line_length_meters", 10.0)
	v.SetDefault("detect.min_polygon_area_sqm", 100.0)
	v.SetDefault("detect.timeout_secs", 5)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "digcheck.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_sec", 10.0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// WriteDefault writes a commented default config file to the given path.
// Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return eris.Errorf("config: %s already exists", path)
	}

	cfg := Config{
		Detect: DetectConfig{
			ProximityThresholdMeters: 25,
			MinLineLengthMeters:      10,
			MinPolygonAreaSqM:        100,
			TimeoutSecs:              5,
		},
		Store:  StoreConfig{Driver: "sqlite", Path: "digcheck.db"},
		Server: ServerConfig{Port: 8080, RateLimitPerSec: 10, RateLimitBurst: 20},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "config: marshal defaults")
	}

	header := []byte("# digcheck configuration. Values may be overridden via DIGCHECK_* env vars.\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return eris.Wrap(err, "config: write file")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
