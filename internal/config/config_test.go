package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "auto", cfg.LLMProvider)
	assert.True(t, cfg.Kaizen.Enabled)
	assert.Equal(t, 3, cfg.Kaizen.BreakerThreshold)
	assert.Equal(t, 5, cfg.Kaizen.ActionLimit)
	assert.Equal(t, time.Hour, cfg.Kaizen.ActionWindow)
	assert.Contains(t, cfg.Kaizen.HighRiskTypes, "disable_mode")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SHIKO_PORT", "9090")
	t.Setenv("SHIKO_KAIZEN_BREAKER_THRESHOLD", "7")
	t.Setenv("SHIKO_KAIZEN_CYCLE_INTERVAL", "90s")
	t.Setenv("SHIKO_KAIZEN_HIGH_RISK_TYPES", "disable_mode, adjust_rate_limit")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 7, cfg.Kaizen.BreakerThreshold)
	assert.Equal(t, 90*time.Second, cfg.Kaizen.CycleInterval)
	assert.Equal(t, []string{"disable_mode", "adjust_rate_limit"}, cfg.Kaizen.HighRiskTypes)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SHIKO_PORT", "not-a-number")
	t.Setenv("SHIKO_KAIZEN_BASELINE_ALPHA", "garbage")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 0.2, cfg.Kaizen.BaselineAlpha)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.Kaizen.BaselineAlpha = 1.5
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.Kaizen.Bounds["adjust_retry_count.retries"] = [2]float64{5, 0}
	assert.Error(t, cfg.Validate())
}
