package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "decision.yaml", "base_confidence_threshold: 0.55\n")
	writeConfig(t, dir, "backtest.yaml", "window_size: 60\n")
	main := writeConfig(t, dir, "tradewind.yaml", `Env: dev
DataPath: state
TTL:
  Short: 5
  Medium: 30
  Long: 120
Decision:
  File: decision.yaml
Backtest:
  File: backtest.yaml
`)

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
	assert.False(t, cfg.IsTestEnv())
	assert.Equal(t, "state", cfg.DataPath)
	assert.Equal(t, 5, cfg.TTL.Short)
	assert.Equal(t, dir, cfg.BaseDir())

	require.NotNil(t, cfg.Decision.Value, "the decision section hydrates from its file")
	assert.InDelta(t, 0.55, cfg.Decision.Value.BaseConfidenceThreshold, 1e-9)
	assert.Equal(t, filepath.Join(dir, "decision.yaml"), cfg.Decision.File, "the section path resolves against the main config dir")

	require.NotNil(t, cfg.Backtest.Value)
	assert.Equal(t, 60, cfg.Backtest.Value.WindowSize)
}

func TestLoad_DefaultsApply(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "tradewind.yaml", "Env: test\n")

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.True(t, cfg.IsTestEnv())
	assert.Equal(t, "data", cfg.DataPath)
	assert.Equal(t, 10, cfg.TTL.Short)
	assert.Equal(t, 60, cfg.TTL.Medium)
	assert.Equal(t, 300, cfg.TTL.Long)
	assert.Nil(t, cfg.Decision.Value, "an absent section stays unset")
}

func TestLoad_RejectsUnknownEnv(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "tradewind.yaml", "Env: staging\n")
	_, err := Load(main)
	assert.Error(t, err, "env outside test|dev|prod must be rejected")
}

func TestLoad_RejectsBadTTL(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "tradewind.yaml", `Env: test
TTL:
  Short: -1
  Medium: 60
  Long: 300
`)
	_, err := Load(main)
	assert.Error(t, err)
}

func TestLoad_MissingSectionFile(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "tradewind.yaml", `Env: test
Decision:
  File: nowhere.yaml
`)
	_, err := Load(main)
	assert.Error(t, err, "a dangling section path must fail the load")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
