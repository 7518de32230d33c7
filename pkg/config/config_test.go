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

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 3, cfg.Agent.MaxIterations)
	assert.Equal(t, 7, cfg.Agent.MaxTurns)
	assert.Equal(t, 80_000, cfg.Agent.TokenBudget)
	assert.Equal(t, 300*time.Second, cfg.Agent.ContextTTL)
	assert.Equal(t, 10*time.Second, cfg.LPT.DispatchTimeout)
	assert.Equal(t, time.Minute, cfg.Scheduler.TickInterval)
	assert.Equal(t, time.Hour, cfg.Auth.SessionTTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AGENT_MAX_TURNS", "15")
	t.Setenv("AGENT_TOKEN_BUDGET", "120000")
	t.Setenv("AGENT_CONTEXT_TTL", "1m")
	t.Setenv("SCHEDULER_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Agent.MaxTurns)
	assert.Equal(t, 120_000, cfg.Agent.TokenBudget)
	assert.Equal(t, time.Minute, cfg.Agent.ContextTTL)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }},
		{"turns over cap", func(c *Config) { c.Agent.MaxTurns = 21 }},
		{"negative budget", func(c *Config) { c.Agent.TokenBudget = -1 }},
		{"zero dispatch timeout", func(c *Config) { c.LPT.DispatchTimeout = 0 }},
		{"sub-second tick", func(c *Config) { c.Scheduler.TickInterval = 100 * time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("AGENT_MAX_TURNS", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Agent.MaxTurns)
}
