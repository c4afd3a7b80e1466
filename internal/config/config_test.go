package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // keep a developer .env out of the test

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 0.0002, cfg.NoiseThreshold)
	assert.Equal(t, 0.005, cfg.GapMin)
	assert.Equal(t, 0.1, cfg.GapMax)
	assert.Equal(t, 0.005, cfg.GapStep)
	assert.Equal(t, 15.0, cfg.SamplingInterval)
	assert.Equal(t, 10, cfg.TopK)
	assert.Equal(t, 300, cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.RateWindow)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MATCH_WORKERS", "8")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("SANITIZE_NOISE", "0.00005")
	t.Setenv("RATE_LIMIT", "20")
	t.Setenv("RATE_WINDOW", "10s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MatchWorkers)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 0.00005, cfg.NoiseThreshold)
	assert.Equal(t, 20, cfg.RateLimit)
	assert.Equal(t, 10*time.Second, cfg.RateWindow)
}

func TestLoadRateLimitDisabled(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RATE_LIMIT", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.RateLimit)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MATCH_WORKERS":     "zero",
		"HTTP_TIMEOUT":      "-1s",
		"SANITIZE_GAP_MAX":  "0.001",
		"SAMPLING_INTERVAL": "0",
		"TOP_K":             "0",
		"RATE_LIMIT":        "-1",
		"RATE_WINDOW":       "0s",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
