package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 5, config.Scrape.PostLimit)
	assert.Equal(t, 3, config.Scrape.BatchSize)
	assert.Equal(t, 3, config.Scrape.PinnedAllowance)
	assert.Equal(t, 12, config.Scrape.TimeThreshold)
	assert.Equal(t, 2, config.Batch.ConcurrencyLimit)
	assert.Equal(t, 120*time.Second, config.Batch.Timeout)
	assert.Equal(t, "0 0 * * *", config.Schedule.Spec)
	assert.Equal(t, 24, config.Server.DefaultThreshold)
	assert.True(t, config.Browser.Headless)
	assert.NoError(t, config.Validate())
	assert.False(t, config.HasCredentials())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INSTAGRAM_USERNAME", "plain-user")
	t.Setenv("INSTAGRAM_PASSWORD", "plain-pass")
	t.Setenv("IGBATCH_CONCURRENCY", "4")
	t.Setenv("IGBATCH_POST_LIMIT", "7")
	t.Setenv("IGBATCH_TIMEOUT", "1500")
	t.Setenv("IGBATCH_HEADLESS", "false")
	t.Setenv("IGBATCH_SESSION_DIR", "/tmp/igbatch-sessions")
	t.Setenv("IGBATCH_LOG_LEVEL", "debug")

	config := DefaultConfig()
	require.NoError(t, config.LoadFromEnv())

	assert.Equal(t, "plain-user", config.Instagram.Username)
	assert.Equal(t, "plain-pass", config.Instagram.Password)
	assert.True(t, config.HasCredentials())
	assert.Equal(t, 4, config.Batch.ConcurrencyLimit)
	assert.Equal(t, 7, config.Scrape.PostLimit)
	assert.Equal(t, 1500*time.Millisecond, config.Batch.Timeout)
	assert.False(t, config.Browser.Headless)
	assert.Equal(t, "/tmp/igbatch-sessions", config.Session.Directory)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadFromEnvPrefixedCredentialsWin(t *testing.T) {
	t.Setenv("INSTAGRAM_USERNAME", "plain-user")
	t.Setenv("IGBATCH_INSTAGRAM_USERNAME", "prefixed-user")

	config := DefaultConfig()
	require.NoError(t, config.LoadFromEnv())
	assert.Equal(t, "prefixed-user", config.Instagram.Username)
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("IGBATCH_CONCURRENCY", "many")
	t.Setenv("IGBATCH_TIMEOUT", "soon")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IGBATCH_CONCURRENCY")
	assert.Contains(t, err.Error(), "IGBATCH_TIMEOUT")
	assert.Equal(t, 2, config.Batch.ConcurrencyLimit)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
scrape:
  post_limit: 8
  batch_size: 4
batch:
  concurrency_limit: 3
  timeout: 45s
schedule:
  spec: "30 6 * * *"
  timezone: UTC
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config := DefaultConfig()
	require.NoError(t, config.LoadFromFile(path))

	assert.Equal(t, 8, config.Scrape.PostLimit)
	assert.Equal(t, 4, config.Scrape.BatchSize)
	assert.Equal(t, 3, config.Batch.ConcurrencyLimit)
	assert.Equal(t, 45*time.Second, config.Batch.Timeout)
	assert.Equal(t, "30 6 * * *", config.Schedule.Spec)
	// untouched keys keep their defaults
	assert.Equal(t, 3, config.Scrape.PinnedAllowance)
}

func TestLoadFromFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scrape: [unterminated"), 0644))

	err := DefaultConfig().LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"zero post limit", func(c *Config) { c.Scrape.PostLimit = 0 }, "post limit must be positive"},
		{"zero batch size", func(c *Config) { c.Scrape.BatchSize = 0 }, "batch size must be positive"},
		{"negative pinned", func(c *Config) { c.Scrape.PinnedAllowance = -1 }, "pinned allowance cannot be negative"},
		{"zero concurrency", func(c *Config) { c.Batch.ConcurrencyLimit = 0 }, "concurrency limit must be positive"},
		{"zero timeout", func(c *Config) { c.Batch.Timeout = 0 }, "per-account timeout must be positive"},
		{"no session dir", func(c *Config) { c.Session.Directory = "" }, "session directory is required"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateJoinsAllProblems(t *testing.T) {
	config := DefaultConfig()
	config.Scrape.PostLimit = 0
	config.Batch.ConcurrencyLimit = 0

	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post limit")
	assert.Contains(t, err.Error(), "concurrency limit")
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()
	config.MergeCommandLineFlags(map[string]interface{}{
		"concurrency": 4,
		"post-limit":  9,
		"threshold":   36,
		"timeout":     30 * time.Second,
		"headless":    false,
		"batch-size":  0,
	})

	assert.Equal(t, 4, config.Batch.ConcurrencyLimit)
	assert.Equal(t, 9, config.Scrape.PostLimit)
	assert.Equal(t, 36, config.Scrape.TimeThreshold)
	assert.Equal(t, 30*time.Second, config.Batch.Timeout)
	assert.False(t, config.Browser.Headless)
	assert.Equal(t, 3, config.Scrape.BatchSize, "zero flag values are ignored")
}

func TestSaveOmitsPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	config := DefaultConfig()
	config.Instagram.Username = "someone"
	config.Instagram.Password = "secret"

	require.NoError(t, config.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.Equal(t, "secret", config.Instagram.Password, "Save must not mutate the receiver")

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, "someone", loaded.Instagram.Username)
	assert.Empty(t, loaded.Instagram.Password)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scrape:\n  post_limit: 8\nbatch:\n  concurrency_limit: 3\n"), 0644))
	t.Setenv("IGBATCH_POST_LIMIT", "6")

	config, err := Load(path, map[string]interface{}{"concurrency": 1})
	require.NoError(t, err)

	assert.Equal(t, 6, config.Scrape.PostLimit, "env overrides file")
	assert.Equal(t, 1, config.Batch.ConcurrencyLimit, "flags override file")
}
