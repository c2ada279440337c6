package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoOverrides(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":3030", cfg.ListenAddr)
	assert.Equal(t, 100, cfg.MaxConcurrentOperations)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("COLLABEDIT_LISTEN_ADDR", ":9999")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
}

func TestLoadAppliesFlagOverrideAboveEnv(t *testing.T) {
	t.Setenv("COLLABEDIT_LISTEN_ADDR", ":9999")
	cfg, err := Load("", []string{"--listen-addr", ":7777"})
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
}

func TestValidateRejectsUnknownConflictStrategy(t *testing.T) {
	cfg := Defaults()
	cfg.ConflictResolutionStrategy = "not-a-strategy"
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	cfg := Defaults()
	cfg.OperationTimeout = 0
	assert.Error(t, Validate(cfg))
}
