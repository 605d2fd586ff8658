package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "APP_ENV", "LOG_LEVEL", "CODE_LENGTH", "REQUEST_TIMEOUT"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	// empty values are explicit and kept for strings
	assert.Equal(t, "", cfg.Port)
	assert.Equal(t, 6, cfg.CodeLength)
	assert.Equal(t, 12, cfg.CodeMaxLength)
	assert.Equal(t, 8, cfg.CodeAttempts)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/links")
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CODE_LENGTH", "8")
	t.Setenv("CODE_MAX_LENGTH", "10")
	t.Setenv("CODE_ATTEMPTS_PER_LENGTH", "3")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("SHUTDOWN_TIMEOUT", "1m")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://localhost/links", cfg.DatabaseURL)
	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.CodeLength)
	assert.Equal(t, 10, cfg.CodeMaxLength)
	assert.Equal(t, 3, cfg.CodeAttempts)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("CODE_LENGTH", "six")
	t.Setenv("CODE_MAX_LENGTH", "-1")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 6, cfg.CodeLength)
	assert.Equal(t, 12, cfg.CodeMaxLength)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}
