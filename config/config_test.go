package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		// Setenv registers the restore on cleanup before we drop the value.
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetEnv(t, "SERVER_PORT", "APP_ENV", "DEFAULT_RELEASE_ID", "CATALOG_TIMEOUT", "CATALOG_API_URL", "STAGING_MAX_AGE")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, int64(0), cfg.DefaultReleaseID)
	assert.Equal(t, 5*time.Minute, cfg.CatalogTimeout)
	assert.Equal(t, 48*time.Hour, cfg.StagingMaxAge)
	assert.Equal(t, "http://127.0.0.1:8000/api/v1", cfg.CatalogAPIURL)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ARCHIVE_MASTERS", "true")
	t.Setenv("CATALOG_API_URL", "https://api.example.com/v2/")
	t.Setenv("CATALOG_TIMEOUT", "90s")
	t.Setenv("DEFAULT_RELEASE_ID", "777")
	t.Setenv("STAGING_MAX_AGE", "12h")

	cfg := Load()
	require.NotNil(t, cfg)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.ArchiveMasters)
	assert.Equal(t, "https://api.example.com/v2", cfg.CatalogAPIURL)
	assert.Equal(t, 90*time.Second, cfg.CatalogTimeout)
	assert.Equal(t, int64(777), cfg.DefaultReleaseID)
	assert.Equal(t, 12*time.Hour, cfg.StagingMaxAge)
}

func TestGetEnvHelpers_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	t.Setenv("TEST_BOOL", "maybe")
	t.Setenv("TEST_DURATION", "forever")

	assert.Equal(t, 7, getEnvInt("TEST_INT", 7))
	assert.Equal(t, int64(9), getEnvInt64("TEST_INT", 9))
	assert.False(t, getEnvBool("TEST_BOOL", false))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DURATION", time.Minute))
}
