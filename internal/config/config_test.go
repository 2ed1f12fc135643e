package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "msggw-dispatch", cfg.Queue.Group)
	assert.Equal(t, 100, cfg.Queue.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Queue.ClaimAfter)

	assert.Equal(t, 100, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)

	assert.Equal(t, 60*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)

	assert.Equal(t, 5, cfg.Breaker.FailThreshold)
	assert.Equal(t, time.Minute, cfg.Breaker.Cooldown)

	assert.Equal(t, 5*time.Second, cfg.Scanner.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Scanner.StaleAfter)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "twilio", cfg.Providers[0].Name)
	assert.Equal(t, []string{"sms", "mms"}, cfg.Providers[0].Channels)
	assert.Equal(t, "sendgrid", cfg.Providers[1].Name)
	assert.Equal(t, []string{"email"}, cfg.Providers[1].Channels)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("does-not-exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}
