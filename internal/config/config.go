// Package config loads the service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "config.yml"

type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Optimizer Optimizer `yaml:"optimizer"`
	Oracle    Oracle    `yaml:"oracle"`
	Geocoder  Geocoder  `yaml:"geocoder"`
	Networks  []Network `yaml:"networks" validate:"dive"`
	Storage   Storage   `yaml:"storage"`
	Auth      Auth      `yaml:"auth"`
}

type Server struct {
	Port              int           `yaml:"port" validate:"min=1,max=65535"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" validate:"gte=0"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

type Optimizer struct {
	WalkSpeedMilesPerMinute   float64       `yaml:"walkSpeedMilesPerMinute" validate:"gt=0"`
	CoordinatePrecisionDigits int           `yaml:"coordinatePrecisionDigits" validate:"min=0,max=10"`
	InjectEndpoints           bool          `yaml:"injectEndpoints"`
	OverallDeadline           time.Duration `yaml:"overallDeadline" validate:"gte=0"`
	MaxWalkMinutes            float64       `yaml:"maxWalkMinutes" validate:"gt=0"`
}

type Oracle struct {
	BaseURL           string        `yaml:"baseURL" validate:"required,url"`
	Profile           string        `yaml:"profile" validate:"required"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	Concurrency       int           `yaml:"concurrency" validate:"min=1,max=256"`
	MaxRetries        int           `yaml:"maxRetries" validate:"min=0,max=10"`
	RetryBaseDelay    time.Duration `yaml:"retryBaseDelay" validate:"gt=0"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay" validate:"gtefield=RetryBaseDelay"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

type Geocoder struct {
	BaseURL           string        `yaml:"baseURL" validate:"required,url"`
	UserAgent         string        `yaml:"userAgent" validate:"required"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
}

// Network is a road network preloaded at startup.
type Network struct {
	Name string `yaml:"name" validate:"required,max=64"`
	Path string `yaml:"path" validate:"required"`
}

type Storage struct {
	DatabaseURL   string `yaml:"databaseURL"`
	RedisURL      string `yaml:"redisURL"`
	MigrationsDir string `yaml:"migrationsDir"`
	Migrate       bool   `yaml:"migrate"`
}

type Auth struct {
	// HMACSecret signs admin bearer tokens; empty enables header-based dev mode.
	HMACSecret string `yaml:"hmacSecret"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: Server{Port: 8080, ReadHeaderTimeout: 5 * time.Second, ShutdownTimeout: 15 * time.Second},
		Log:    Log{Level: "info"},
		Optimizer: Optimizer{
			WalkSpeedMilesPerMinute:   0.05,
			CoordinatePrecisionDigits: 5,
			InjectEndpoints:           true,
			OverallDeadline:           30 * time.Second,
			MaxWalkMinutes:            30,
		},
		Oracle: Oracle{
			BaseURL:        "https://router.project-osrm.org",
			Profile:        "driving",
			Timeout:        10 * time.Second,
			Concurrency:    8,
			MaxRetries:     3,
			RetryBaseDelay: 200 * time.Millisecond,
			RetryMaxDelay:  5 * time.Second,
		},
		Geocoder: Geocoder{
			BaseURL:           "https://nominatim.openstreetmap.org",
			UserAgent:         "pickupopt/1.0",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 1,
		},
		Storage: Storage{MigrationsDir: "db/migrations", Migrate: true},
	}
}

// Load reads path (DefaultPath when empty) over the defaults, applies
// environment overrides and validates the result. A missing file is not an
// error.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("OSRM_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("AUTH_HMAC_SECRET"); v != "" {
		cfg.Auth.HMACSecret = v
	}
	return nil
}
