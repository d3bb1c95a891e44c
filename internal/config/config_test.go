// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("api.endpoint", "https://api.example.com/reports")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, ModeProxy, cfg.Storage.Mode)
	assert.Equal(t, 30, cfg.Storage.Limits.MaxVideoSeconds)
	assert.Equal(t, int64(50*1024*1024), cfg.Storage.Limits.MaxVideoBytes)
	assert.Equal(t, 2, cfg.Storage.Retry.Attempts)
	assert.Equal(t, 300*time.Millisecond, cfg.Storage.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.API.RequestTimeout)
	assert.True(t, cfg.Features.Screenshot)
	assert.False(t, cfg.Features.ConsoleLogs)
	assert.Contains(t, cfg.Privacy.MaskSelectors, "input[type='password']")
	assert.Equal(t, 100, cfg.Diagnostics.ConsoleBufferSize)
	assert.Equal(t, 90*time.Second, cfg.Browser.NavigationTimeout)
}

func TestLoadFromYAML(t *testing.T) {
	yamlConfig := []byte(`
api:
  endpoint: https://bugs.example.com/api/reports
  project_id: web-frontend
  environment: staging
  auth_headers:
    authorization: "Bearer abc"
storage:
  mode: s3-presigned
  s3:
    presign_endpoint: https://bugs.example.com/api/presign
    public_base_url: https://cdn.example.com
  limits:
    max_video_seconds: 15
features:
  console_logs: true
user:
  email: dev@example.com
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "web-frontend", cfg.API.ProjectID)
	assert.Equal(t, "staging", cfg.API.Environment)
	assert.Equal(t, "Bearer abc", cfg.API.AuthHeaders["authorization"])
	assert.Equal(t, ModeS3Presigned, cfg.Storage.Mode)
	assert.Equal(t, "https://cdn.example.com", cfg.Storage.S3.PublicBaseURL)
	assert.Equal(t, 15, cfg.Storage.Limits.MaxVideoSeconds)
	// Unset keys keep their defaults.
	assert.Equal(t, int64(8*1024*1024), cfg.Storage.Limits.MaxScreenshotBytes)
	assert.True(t, cfg.Features.ConsoleLogs)
	assert.True(t, cfg.Features.Screenshot)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		v := viper.New()
		SetDefaults(v)
		v.Set("api.endpoint", "https://api.example.com/reports")
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing endpoint", func(t *testing.T) {
		cfg := valid()
		cfg.API.Endpoint = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api.endpoint is a required configuration field")
	})

	t.Run("unknown storage mode", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.Mode = "ftp"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.mode")
	})

	t.Run("non-positive limits", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.Limits.MaxVideoSeconds = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_video_seconds must be a positive integer")

		cfg = valid()
		cfg.Storage.Limits.MaxScreenshotBytes = -1
		assert.Error(t, cfg.Validate())

		cfg = valid()
		cfg.Storage.Retry.Attempts = -1
		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.retry.attempts must not be negative")

		cfg = valid()
		cfg.Diagnostics.RequestBufferSize = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestReporterAnonymous(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.ReporterAnonymous(), "no identity means anonymous")

	cfg.User.Email = "dev@example.com"
	assert.False(t, cfg.ReporterAnonymous(), "an email is a stable identity")

	// An explicit flag always wins over inference.
	anon := true
	cfg.User.Anonymous = &anon
	assert.True(t, cfg.ReporterAnonymous())

	anon = false
	cfg.User.Email = ""
	assert.False(t, cfg.ReporterAnonymous())
}
