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

// EnvPrefix is stripped from environment variables before they are mapped
// onto config keys. CAMPUSPULSE_SERVER_PORT becomes server.port.
const EnvPrefix = "CAMPUSPULSE_"

// ConfigPathEnvVar names a YAML file to load between defaults and env.
const ConfigPathEnvVar = "CAMPUSPULSE_CONFIG"

// DefaultConfigPaths are checked in order when ConfigPathEnvVar is unset.
var DefaultConfigPaths = []string{"campuspulse.yaml", "config/campuspulse.yaml"}

// Config is the full runtime configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
	Auth    AuthConfig    `koanf:"auth"`
	Campus  CampusConfig  `koanf:"campus"`
	Model   ModelConfig   `koanf:"model"`
	Upload  UploadConfig  `koanf:"upload"`
	Alerts  AlertsConfig  `koanf:"alerts"`
}

type ServerConfig struct {
	Port         string `koanf:"port" validate:"required"`
	DataDir      string `koanf:"data_dir"`
	InMemory     bool   `koanf:"in_memory"`
	MaxStorageGB int64  `koanf:"max_storage_gb" validate:"gte=0"`
	MaxMemoryMB  int64  `koanf:"max_memory_mb" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// AuthConfig configures bearer token verification. An empty secret
// disables token parsing and every request is anonymous.
type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	Issuer     string        `koanf:"issuer"`
	SessionTTL time.Duration `koanf:"session_ttl" validate:"gte=0"`
}

type CampusConfig struct {
	// TimeZone is the zone days are bucketed in.
	TimeZone string `koanf:"time_zone" validate:"required"`
}

// ModelConfig configures the generative model endpoint.
type ModelConfig struct {
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	Name             string        `koanf:"name"`
	Timeout          time.Duration `koanf:"timeout" validate:"gte=0"`
	RequestsPerMin   int           `koanf:"requests_per_min" validate:"gte=0"`
	BreakerFailures  uint32        `koanf:"breaker_failures"`
	BreakerOpenDelay time.Duration `koanf:"breaker_open_delay"`
}

// UploadConfig configures the photo upload service.
type UploadConfig struct {
	CloudName string `koanf:"cloud_name"`
	APIKey    string `koanf:"api_key"`
	APISecret string `koanf:"api_secret"`
	Folder    string `koanf:"folder"`
	BaseURL   string `koanf:"base_url"`
}

// AlertsConfig configures emergency report fan-out. No brokers means
// reports are only stored.
type AlertsConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         DefaultPort,
			DataDir:      DefaultDataDir,
			MaxStorageGB: DefaultMaxStorageGB,
			MaxMemoryMB:  DefaultMaxMemoryMB,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Auth:    AuthConfig{SessionTTL: 15 * time.Minute},
		Campus:  CampusConfig{TimeZone: DefaultTimeZone},
		Model: ModelConfig{
			BaseURL:          "https://generativelanguage.googleapis.com/v1beta",
			Name:             "gemini-2.0-flash",
			Timeout:          ModelCallTimeout,
			RequestsPerMin:   30,
			BreakerFailures:  5,
			BreakerOpenDelay: 30 * time.Second,
		},
		Upload: UploadConfig{
			Folder:  "csm-profile-photos",
			BaseURL: "https://api.cloudinary.com/v1_1",
		},
		Alerts: AlertsConfig{Topic: "campus.emergency"},
	}
}

// Load layers defaults, an optional YAML file, and environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Brokers arrive from env as a comma-separated string.
	if raw, ok := k.Get("alerts.brokers").(string); ok {
		if err := k.Set("alerts.brokers", splitList(raw)); err != nil {
			return nil, fmt.Errorf("failed to parse alerts.brokers: %w", err)
		}
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

// Validate checks field constraints and that the campus zone resolves.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Campus.TimeZone); err != nil {
		return fmt.Errorf("invalid campus.time_zone %q: %w", c.Campus.TimeZone, err)
	}
	return nil
}

// Location resolves the campus time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Campus.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MaxStorageBytes converts the configured storage cap.
func (c *Config) MaxStorageBytes() int64 {
	return c.Server.MaxStorageGB * 1024 * 1024 * 1024
}

// envTransform maps CAMPUSPULSE_MODEL_API_KEY to model.api_key. Only the
// first underscore separates the section from the key.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, found := strings.Cut(s, "_")
	if !found {
		return s
	}
	return section + "." + key
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

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
