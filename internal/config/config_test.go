package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluvrp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1000, cfg.Solver.Iterations)
	assert.Equal(t, "dev", cfg.Auth.Mode)
	assert.Equal(t, "memory", cfg.StoreKind())
	assert.Equal(t, 1000, cfg.Server.KeepRuns)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
store:
  kind: file
  dir: /tmp/ledger
solver:
  iterations: 50
  workers: 2
  time_budget: 90s
  moves: [move2, move1]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file", cfg.StoreKind())
	assert.Equal(t, "/tmp/ledger", cfg.Store.Dir)
	assert.Equal(t, 50, cfg.Solver.Iterations)
	assert.Equal(t, 2, cfg.Solver.Workers)
	assert.Equal(t, 90*time.Second, cfg.Solver.TimeBudget)
	assert.Equal(t, []string{"move2", "move1"}, cfg.Solver.Moves)
	assert.Equal(t, 1000, cfg.Solver.PackAttempts, "unset keys keep defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9000\"\nrate:\n  rps: 5\n")
	t.Setenv("PORT", "7000")
	t.Setenv("RATE_BURST", "3")
	t.Setenv("DATABASE_URL", "postgres://localhost/cluvrp")
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("SOLVER_TIME_BUDGET", "2m")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, 5.0, cfg.Rate.RPS)
	assert.Equal(t, 3, cfg.Rate.Burst)
	assert.Equal(t, "postgres", cfg.StoreKind())
	assert.False(t, cfg.Store.Migrate)
	assert.Equal(t, 2*time.Minute, cfg.Solver.TimeBudget)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("env number", func(t *testing.T) {
		t.Setenv("WEBHOOK_MAX_ATTEMPTS", "many")
		_, err := Load("")
		assert.ErrorContains(t, err, "WEBHOOK_MAX_ATTEMPTS")
	})
	t.Run("hmac without secret", func(t *testing.T) {
		t.Setenv("AUTH_MODE", "hmac")
		_, err := Load("")
		assert.ErrorContains(t, err, "hmac_secret")
	})
	t.Run("store kind", func(t *testing.T) {
		_, err := Load(writeConfig(t, "store:\n  kind: sqlite\n"))
		assert.ErrorContains(t, err, "sqlite")
	})
	t.Run("log level", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log_level: loud\n"))
		assert.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSummaryRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Store.DatabaseURL = "postgres://user:pw@db/cluvrp"
	cfg.Auth.HMACSecret = "s3cret"
	sum := cfg.Summary()
	assert.Equal(t, true, sum["hasDatabaseUrl"])
	for _, v := range sum {
		assert.NotEqual(t, "s3cret", v)
		assert.NotEqual(t, cfg.Store.DatabaseURL, v)
	}
}
