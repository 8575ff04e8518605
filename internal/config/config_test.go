package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesQueueDefaults(t *testing.T) {
	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, conf.Classification.Concurrency)
	assert.Equal(t, 10, conf.Classification.RateLimit)
	assert.Equal(t, 1000, conf.Classification.RateWindowMillis)
	assert.Equal(t, 3, conf.Draft.Concurrency)
	assert.Equal(t, 2000, conf.Draft.BackoffDelayMillis)
	assert.Equal(t, 10, conf.Notification.Concurrency)
	assert.Equal(t, 60000, conf.Notification.RateWindowMillis)
	assert.Equal(t, 5, conf.Notification.MaxAttempts)
	assert.Equal(t, 60, conf.TTLSeconds)
	assert.Equal(t, 5, conf.TypingWindowSeconds)
	assert.False(t, conf.DevBypass)
	assert.Equal(t, "postgres", conf.Driver)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[databaseConfig]
driver = "mysql"

[queueConfig.draft]
concurrency = 7

[authConfig]
devBypass = true
`), 0o600))

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql", conf.Driver)
	assert.Equal(t, 3306, conf.DatabaseConfig.Port)
	assert.Equal(t, 7, conf.Draft.Concurrency)
	assert.Equal(t, 3, conf.Draft.MaxAttempts)
	assert.True(t, conf.DevBypass)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	conf, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
	require.NotNil(t, conf)
	assert.Equal(t, "DeskRelay", conf.AppName)
}
