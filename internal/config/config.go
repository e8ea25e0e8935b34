// Package config loads the server configuration from built-in defaults, an
// optional YAML file and the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the environment variable holding the YAML file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	StoryAPI StoryAPIConfig `koanf:"story_api"`
	Geocoder GeocoderConfig `koanf:"geocoder"`
	Session  SessionConfig  `koanf:"session"`
	Create   CreateConfig   `koanf:"create"`
	Feed     FeedConfig     `koanf:"feed"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Port            string        `koanf:"port" validate:"required,numeric"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type StoryAPIConfig struct {
	BaseURL string        `koanf:"base_url" validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

type GeocoderConfig struct {
	BaseURL         string        `koanf:"base_url" validate:"required,url"`
	UserAgent       string        `koanf:"user_agent" validate:"required"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	RatePerSecond   float64       `koanf:"rate_per_second" validate:"gt=0"`
	Burst           int           `koanf:"burst" validate:"gte=1"`
	CacheTTL        time.Duration `koanf:"cache_ttl" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

type SessionConfig struct {
	IdleTimeout        time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	TokenTTL           time.Duration `koanf:"token_ttl" validate:"gt=0"`
	TokenEncryptionKey string        `koanf:"token_encryption_key" validate:"omitempty,base64"`
	CookieSecure       bool          `koanf:"cookie_secure"`
	RatePerSecond      float64       `koanf:"rate_per_second" validate:"gt=0"`
	Burst              int           `koanf:"burst" validate:"gte=1"`
}

type CreateConfig struct {
	MaxImageBytes int64         `koanf:"max_image_bytes" validate:"gt=0"`
	Latitude      float64       `koanf:"latitude" validate:"latitude"`
	Longitude     float64       `koanf:"longitude" validate:"longitude"`
	Zoom          int           `koanf:"zoom" validate:"gte=0,lte=19"`
	RelayoutDelay time.Duration `koanf:"relayout_delay" validate:"gte=0"`
	CaptureWidth  int           `koanf:"capture_width" validate:"gt=0"`
	CaptureHeight int           `koanf:"capture_height" validate:"gt=0"`
	FacingMode    string        `koanf:"facing_mode" validate:"oneof=user environment"`
}

type FeedConfig struct {
	Latitude  float64 `koanf:"latitude" validate:"latitude"`
	Longitude float64 `koanf:"longitude" validate:"longitude"`
	Zoom      int     `koanf:"zoom" validate:"gte=0,lte=19"`
	PageSize  int     `koanf:"page_size" validate:"gte=1,lte=100"`
}

type LoggingConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{Path: "geostory.db"},
		StoryAPI: StoryAPIConfig{
			BaseURL: "https://story-api.dicoding.dev/v1",
			Timeout: 30 * time.Second,
		},
		Geocoder: GeocoderConfig{
			BaseURL:         "https://nominatim.openstreetmap.org",
			UserAgent:       "geostory/1.0",
			Timeout:         5 * time.Second,
			RatePerSecond:   1,
			Burst:           1,
			CacheTTL:        time.Hour,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			TokenTTL:      2 * time.Hour,
			CookieSecure:  true,
			RatePerSecond: 10,
			Burst:         30,
		},
		Create: CreateConfig{
			MaxImageBytes: 10 << 20,
			Latitude:      -3.04628,
			Longitude:     119.79492,
			Zoom:          4,
			RelayoutDelay: 100 * time.Millisecond,
			CaptureWidth:  1280,
			CaptureHeight: 720,
			FacingMode:    "user",
		},
		Feed: FeedConfig{
			Latitude:  -7.88289,
			Longitude: 111.45081,
			Zoom:      12,
			PageSize:  20,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file if one is
// found, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"port":                      "server.port",
	"read_timeout":              "server.read_timeout",
	"shutdown_timeout":          "server.shutdown_timeout",
	"database_path":             "database.path",
	"story_api_url":             "story_api.base_url",
	"story_api_timeout":         "story_api.timeout",
	"geocoder_url":              "geocoder.base_url",
	"geocoder_user_agent":       "geocoder.user_agent",
	"geocoder_timeout":          "geocoder.timeout",
	"geocoder_rate_per_second":  "geocoder.rate_per_second",
	"geocoder_burst":            "geocoder.burst",
	"geocoder_cache_ttl":        "geocoder.cache_ttl",
	"geocoder_breaker_failures": "geocoder.breaker_failures",
	"geocoder_breaker_timeout":  "geocoder.breaker_timeout",
	"session_idle_timeout":      "session.idle_timeout",
	"token_ttl":                 "session.token_ttl",
	"token_encryption_key":      "session.token_encryption_key",
	"cookie_secure":             "session.cookie_secure",
	"rate_limit_per_second":     "session.rate_per_second",
	"rate_limit_burst":          "session.burst",
	"max_image_bytes":           "create.max_image_bytes",
	"create_latitude":           "create.latitude",
	"create_longitude":          "create.longitude",
	"create_zoom":               "create.zoom",
	"map_relayout_delay":        "create.relayout_delay",
	"capture_width":             "create.capture_width",
	"capture_height":            "create.capture_height",
	"capture_facing_mode":       "create.facing_mode",
	"feed_latitude":             "feed.latitude",
	"feed_longitude":            "feed.longitude",
	"feed_zoom":                 "feed.zoom",
	"feed_page_size":            "feed.page_size",
	"log_level":                 "logging.level",
}

// envTransformFunc maps an environment variable to its config path. Variables
// not in the table map to "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
