// Package config loads queryflow's configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/illmade-knight/go-queryflow/pkg/source"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUERYFLOW_"

// Snapshot backends.
const (
	BackendNone      = "none"
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// Config is the full service configuration.
type Config struct {
	LogLevel        string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat       string `yaml:"log_format" validate:"oneof=json console"`
	HTTPPort        string `yaml:"http_port" validate:"required"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`

	FetchTimeout time.Duration  `yaml:"fetch_timeout" validate:"gte=0"`
	Sources      SourcesConfig  `yaml:"sources"`
	Breaker      BreakerConfig  `yaml:"breaker"`
	Snapshot     SnapshotConfig `yaml:"snapshot"`
}

type SourcesConfig struct {
	DogURL  string        `yaml:"dog_url" validate:"required,url"`
	JokeURL string        `yaml:"joke_url" validate:"required,url"`
	UserURL string        `yaml:"user_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests" validate:"gte=1"`
	Interval         time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	MinRequests      uint32        `yaml:"min_requests"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gt=0,lte=1"`
}

type SnapshotConfig struct {
	Backend      string          `yaml:"backend" validate:"oneof=none memory redis firestore"`
	WriteTimeout time.Duration   `yaml:"write_timeout" validate:"gt=0"`
	Redis        RedisConfig     `yaml:"redis"`
	Firestore    FirestoreConfig `yaml:"firestore"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
	Enabled  bool          `yaml:"-"`
}

type FirestoreConfig struct {
	Collection string `yaml:"collection" validate:"required_if=Enabled true"`
	Enabled    bool   `yaml:"-"`
}

// Default returns the configuration used when no file or variable overrides it.
func Default() *Config {
	breaker := source.DefaultBreakerConfig()
	return &Config{
		LogLevel:     "info",
		LogFormat:    "json",
		HTTPPort:     ":8080",
		FetchTimeout: 15 * time.Second,
		Sources: SourcesConfig{
			DogURL:  source.DefaultDogURL,
			JokeURL: source.DefaultJokeURL,
			UserURL: source.DefaultUserURL,
			Timeout: 10 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxRequests:      breaker.MaxRequests,
			Interval:         breaker.Interval,
			Timeout:          breaker.Timeout,
			MinRequests:      breaker.MinRequests,
			FailureThreshold: breaker.FailureThreshold,
		},
		Snapshot: SnapshotConfig{
			Backend:      BackendMemory,
			WriteTimeout: 5 * time.Second,
			Redis:        RedisConfig{Addr: "localhost:6379", TTL: 24 * time.Hour},
			Firestore:    FirestoreConfig{Collection: "queryflow-snapshots"},
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then QUERYFLOW_* variables, and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints, including the settings the selected
// snapshot backend needs.
func (c *Config) Validate() error {
	c.Snapshot.Redis.Enabled = c.Snapshot.Backend == BackendRedis
	c.Snapshot.Firestore.Enabled = c.Snapshot.Backend == BackendFirestore

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Snapshot.Backend == BackendFirestore && c.ProjectID == "" {
		return errors.New("invalid configuration: project_id is required for the firestore snapshot backend")
	}
	return nil
}

// SourceConfig converts to the settings of the source client.
func (c *Config) SourceConfig() source.Config {
	return source.Config{
		DogURL:  c.Sources.DogURL,
		JokeURL: c.Sources.JokeURL,
		UserURL: c.Sources.UserURL,
		Timeout: c.Sources.Timeout,
		Breaker: source.BreakerConfig{
			MaxRequests:      c.Breaker.MaxRequests,
			Interval:         c.Breaker.Interval,
			Timeout:          c.Breaker.Timeout,
			MinRequests:      c.Breaker.MinRequests,
			FailureThreshold: c.Breaker.FailureThreshold,
		},
	}
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"LOG_LEVEL":            &cfg.LogLevel,
		"LOG_FORMAT":           &cfg.LogFormat,
		"HTTP_PORT":            &cfg.HTTPPort,
		"PROJECT_ID":           &cfg.ProjectID,
		"CREDENTIALS_FILE":     &cfg.CredentialsFile,
		"DOG_URL":              &cfg.Sources.DogURL,
		"JOKE_URL":             &cfg.Sources.JokeURL,
		"USER_URL":             &cfg.Sources.UserURL,
		"SNAPSHOT_BACKEND":     &cfg.Snapshot.Backend,
		"REDIS_ADDR":           &cfg.Snapshot.Redis.Addr,
		"REDIS_PASSWORD":       &cfg.Snapshot.Redis.Password,
		"FIRESTORE_COLLECTION": &cfg.Snapshot.Firestore.Collection,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"FETCH_TIMEOUT":          &cfg.FetchTimeout,
		"SOURCE_TIMEOUT":         &cfg.Sources.Timeout,
		"SNAPSHOT_WRITE_TIMEOUT": &cfg.Snapshot.WriteTimeout,
		"REDIS_TTL":              &cfg.Snapshot.Redis.TTL,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sREDIS_DB: %w", EnvPrefix, err)
		}
		cfg.Snapshot.Redis.DB = db
	}
	return nil
}
