package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[server]
url = "https://records.example.com/api/v1"
notify_url = "wss://records.example.com/notify"
token_path = "/tmp/medsync-token.json"
requests_per_second = 5
burst = 10

[storage]
data_dir = "/tmp/medsync-data"

[sync]
entity_order = ["patients", "prescriptions"]
interval = "10m"
trigger_debounce = "1s"
push_workers = 2

[logging]
log_level = "debug"
log_format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://records.example.com/api/v1", cfg.Server.URL)
	assert.Equal(t, "wss://records.example.com/notify", cfg.Server.NotifyURL)
	assert.Equal(t, "/tmp/medsync-token.json", cfg.Server.TokenPath)
	assert.Equal(t, 5, cfg.Server.RequestsPerSecond)
	assert.Equal(t, 10, cfg.Server.Burst)
	assert.Equal(t, "/tmp/medsync-data", cfg.Storage.DataDir)
	assert.Equal(t, []string{"patients", "prescriptions"}, cfg.Sync.EntityOrder)
	assert.Equal(t, 2, cfg.Sync.PushWorkers)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[server]
url = "https://records.example.com/api/v1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://records.example.com/api/v1", cfg.Server.URL)
	assert.Equal(t, defaultRequestsPerSecond, cfg.Server.RequestsPerSecond)
	assert.Equal(t, defaultSyncInterval, cfg.Sync.Interval)
	assert.Equal(t, defaultEntityOrder, cfg.Sync.EntityOrder)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestLoad_UnknownKeySuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
intervall = "10m"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "sync.intervall"`)
	assert.Contains(t, err.Error(), `"sync.interval"`)
}

func TestLoad_UnknownKeyNoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[server]
completely_wrong = true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "server.completely_wrong"`)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeTestConfig(t, `[server`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationCollectsAllErrors(t *testing.T) {
	path := writeTestConfig(t, `
[server]
url = ""
requests_per_second = -1

[sync]
interval = "not-a-duration"

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)

	// All problems are reported in one pass.
	assert.Contains(t, err.Error(), "server.url must not be empty")
	assert.Contains(t, err.Error(), "server.requests_per_second must be positive")
	assert.Contains(t, err.Error(), "sync.interval is not a valid duration")
	assert.Contains(t, err.Error(), "logging.log_level must be")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, defaultServerURL, cfg.Server.URL)
	assert.Equal(t, defaultEntityOrder, cfg.Sync.EntityOrder)
}

func TestResolve_EnvOverrides(t *testing.T) {
	path := writeTestConfig(t, `
[server]
url = "https://from-file.example.com"
`)

	env := EnvOverrides{
		ServerURL: "https://from-env.example.com",
		DataDir:   "/env/data",
		TokenPath: "/env/token.json",
	}

	cfg, err := Resolve(env, path)
	require.NoError(t, err)

	assert.Equal(t, "https://from-env.example.com", cfg.Server.URL)
	assert.Equal(t, "/env/data", cfg.Storage.DataDir)
	assert.Equal(t, "/env/token.json", cfg.Server.TokenPath)
}

func TestResolve_FlagPathBeatsEnvPath(t *testing.T) {
	flagPath := writeTestConfig(t, `
[server]
url = "https://from-flag.example.com"
`)
	envPath := writeTestConfig(t, `
[server]
url = "https://from-env-file.example.com"
`)

	cfg, err := Resolve(EnvOverrides{ConfigPath: envPath}, flagPath)
	require.NoError(t, err)
	assert.Equal(t, "https://from-flag.example.com", cfg.Server.URL)
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvServerURL, "https://env.example.com")
	t.Setenv(EnvDataDir, "/env/data")
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvTokenPath, "")

	env := ReadEnvOverrides()
	assert.Equal(t, "https://env.example.com", env.ServerURL)
	assert.Equal(t, "/env/data", env.DataDir)
	assert.Empty(t, env.ConfigPath)
	assert.Empty(t, env.TokenPath)
}

func TestSyncInterval_Parsed(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.SyncInterval().String(), "5m0s")
	assert.Equal(t, cfg.TriggerDebounce().String(), "2s")
}
