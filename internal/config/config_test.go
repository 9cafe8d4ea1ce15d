package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("data", "calorily.db"), cfg.DBPath)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, time.Hour, cfg.Sync.SweepInterval)
	assert.InDelta(t, 2000, cfg.DailyCalories, 0.001)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.InboxDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CALORILY_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("CALORILY_SYNC_RETRY_DELAY", "250ms")
	t.Setenv("CALORILY_GOALS_DAILY_CALORIES", "1800")
	t.Setenv("CALORILY_INBOX_DIR", "/tmp/inbox")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.RetryDelay)
	assert.InDelta(t, 1800, cfg.DailyCalories, 0.001)
	assert.Equal(t, "/tmp/inbox", cfg.InboxDir)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calorily.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /var/lib/calorily/meals.db
analysis:
  base_url: https://analysis.example.com
  timeout: 10s
log:
  format: json
`), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/calorily/meals.db", cfg.DBPath)
	assert.Equal(t, "https://analysis.example.com", cfg.Analysis.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Analysis.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calorily.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: \":7000\"\n"), 0o600))
	t.Setenv("CALORILY_HTTP_ADDR", ":7001")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.HTTP.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no db path", func(c *Config) { c.DBPath = "" }},
		{"no image dir", func(c *Config) { c.ImageDir = "" }},
		{"zero retry delay", func(c *Config) { c.Sync.RetryDelay = 0 }},
		{"negative min age", func(c *Config) { c.Sync.SweepMinAge = -time.Second }},
		{"short secret", func(c *Config) { c.HTTP.JWTSecret = "short" }},
		{"bad level", func(c *Config) { c.Log.Level = "chatty" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative goal", func(c *Config) { c.DailyCalories = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CALORILY_LOG_LEVEL=debug\n"), 0o600))
	// Registers cleanup; LoadDotEnv sets the real value below.
	t.Setenv("CALORILY_LOG_LEVEL", "")
	os.Unsetenv("CALORILY_LOG_LEVEL")

	require.NoError(t, LoadDotEnv(path))
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
