package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/go-queryflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queryflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults without a file", func(t *testing.T) {
		cfg, err := config.Load("")

		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.HTTPPort)
		assert.Equal(t, config.BackendMemory, cfg.Snapshot.Backend)
		assert.Equal(t, "https://dog.ceo/api/breeds/image/random", cfg.Sources.DogURL)
		assert.Equal(t, 15*time.Second, cfg.FetchTimeout)
	})

	t.Run("File values override defaults", func(t *testing.T) {
		path := writeConfig(t, `
log_level: debug
http_port: ":9090"
fetch_timeout: 3s
sources:
  joke_url: http://localhost:1234/joke
snapshot:
  backend: redis
  redis:
    addr: redis:6379
    ttl: 1h
`)

		cfg, err := config.Load(path)

		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, ":9090", cfg.HTTPPort)
		assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
		assert.Equal(t, "http://localhost:1234/joke", cfg.Sources.JokeURL)
		assert.Equal(t, "https://randomuser.me/api/", cfg.Sources.UserURL, "unset keys keep their default")
		assert.Equal(t, "redis:6379", cfg.Snapshot.Redis.Addr)
		assert.Equal(t, time.Hour, cfg.Snapshot.Redis.TTL)
	})

	t.Run("Environment wins over the file", func(t *testing.T) {
		path := writeConfig(t, "http_port: \":9090\"\n")
		t.Setenv("QUERYFLOW_HTTP_PORT", ":7070")
		t.Setenv("QUERYFLOW_SOURCE_TIMEOUT", "2s")
		t.Setenv("QUERYFLOW_REDIS_DB", "3")

		cfg, err := config.Load(path)

		require.NoError(t, err)
		assert.Equal(t, ":7070", cfg.HTTPPort)
		assert.Equal(t, 2*time.Second, cfg.Sources.Timeout)
		assert.Equal(t, 3, cfg.Snapshot.Redis.DB)
	})

	t.Run("Bad duration in environment", func(t *testing.T) {
		t.Setenv("QUERYFLOW_FETCH_TIMEOUT", "soon")

		_, err := config.Load("")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUERYFLOW_FETCH_TIMEOUT")
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("Unknown snapshot backend", func(t *testing.T) {
		cfg := config.Default()
		cfg.Snapshot.Backend = "s3"
		assert.Error(t, cfg.Validate())
	})

	t.Run("Redis backend needs an address", func(t *testing.T) {
		cfg := config.Default()
		cfg.Snapshot.Backend = config.BackendRedis
		cfg.Snapshot.Redis.Addr = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("Redis address is optional for other backends", func(t *testing.T) {
		cfg := config.Default()
		cfg.Snapshot.Redis.Addr = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Firestore backend needs a project", func(t *testing.T) {
		cfg := config.Default()
		cfg.Snapshot.Backend = config.BackendFirestore
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project_id")

		cfg.ProjectID = "demo"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Invalid source URL", func(t *testing.T) {
		cfg := config.Default()
		cfg.Sources.DogURL = "not a url"
		assert.Error(t, cfg.Validate())
	})
}

func TestSourceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Breaker.MinRequests = 9

	sc := cfg.SourceConfig()

	assert.Equal(t, cfg.Sources.JokeURL, sc.JokeURL)
	assert.Equal(t, uint32(9), sc.Breaker.MinRequests)
}
