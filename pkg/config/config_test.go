package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPopulatesDocumentedDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 100, cfg.LoopRunner.MaxTurns)
	assert.Equal(t, 3, cfg.LoopRunner.MaxIdleTurns)
	assert.Equal(t, 5, cfg.LoopRunner.MaxConsecutiveErrors)
	assert.Equal(t, 0.70, cfg.LoopRunner.WindowFraction)
	assert.Equal(t, 80.0, cfg.Stuck.TurnPercentThreshold)
	assert.Equal(t, 85.0, cfg.Stuck.TokenPercentThreshold)
	assert.True(t, cfg.Decision.AutoEscalateOnError)
	assert.Equal(t, 2, cfg.Recovery.MaxRetriesByType["model_escalation"])
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadExpandsEnvVarsAndOverlaysDefaults(t *testing.T) {
	t.Setenv("TEST_DB_DSN", "file:test.db")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("database:\n  dialect: sqlite3\n  dsn: \"${TEST_DB_DSN}\"\nloop_runner:\n  max_turns: 42\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.Equal(t, 42, cfg.LoopRunner.MaxTurns)
	// Unspecified sections retain their defaults.
	assert.Equal(t, 3, cfg.LoopRunner.MaxIdleTurns)
}

func TestLoadEnvironmentAppliesDefaults(t *testing.T) {
	t.Setenv("ORCHESTRATE_DB_PATH", "")
	t.Setenv("ORCHESTRATE_LOG_LEVEL", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("ORCHESTRATE_API_AUTH_KEY", "")

	env, err := LoadEnvironment()
	require.NoError(t, err)

	assert.Equal(t, defaultDBPath, env.DBPath)
	assert.Equal(t, "info", env.LogLevel)
	assert.Equal(t, "sk-test", env.ProviderAPIKey)
	assert.Equal(t, "", env.APIAuthKey)
}
