package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyra-ai/kyra/pkg/governor"
)

func writeConfigFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "kyra.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "kyra.json"))
	require.NoError(t, err)

	assert.Equal(t, governor.DefaultLimits(), cfg.Governor)
	assert.Equal(t, "anthropic", cfg.Provider.Kind)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Logging.File)
	assert.NotEmpty(t, cfg.Audit.Path)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{
		"data_dir": "`+dir+`",
		"governor": {
			"max_recursion_depth": 8,
			"breaker_cooldown": "45s"
		},
		"quotas": {
			"premium": {"tier": "premium", "llm_per_hour": 120}
		},
		"root_budget": {"max_calls": 42},
		"gateway": {"enabled": false, "host": "0.0.0.0", "port": 9000}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Governor.MaxRecursionDepth)
	assert.Equal(t, 45*time.Second, cfg.Governor.BreakerCooldown)
	// Untouched fields keep defaults
	assert.Equal(t, governor.DefaultLimits().MaxSystemAgents, cfg.Governor.MaxSystemAgents)
	assert.Equal(t, int64(120), cfg.Quotas["premium"].LLMPerHour)
	assert.Equal(t, int64(42), cfg.RootBudget.MaxCalls)
	assert.False(t, cfg.Gateway.Enabled)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, filepath.Join(dir, "kyra.log"), cfg.Logging.File)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `{"not_a_key": true}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `{"governor": {"child_budget_share": 1.5}}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateSemanticChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Governor.TempoRecoverErrorRate = 0.9
	assert.Error(t, Validate(cfg))

	cfg = DefaultConfig()
	cfg.Provider.Kind = "anthropic"
	cfg.Provider.APIKey = "sk-wrong"
	assert.Error(t, Validate(cfg))

	cfg.Provider.APIKey = "sk-ant-abc123"
	assert.NoError(t, Validate(cfg))
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kyra.json")

	loader := NewLoader(path)
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.Governor.MaxSystemAgents = 7
	require.Nil(t, cfg.Quotas, "defaults carry no quota overrides")
	require.NoError(t, loader.Save(cfg))

	// The saved file must pass its own schema validation on reload, nil
	// quota map included.
	reloaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, reloaded.Governor.MaxSystemAgents)
	assert.Equal(t, cfg.Governor.BreakerCooldown, reloaded.Governor.BreakerCooldown)
	assert.Empty(t, reloaded.Quotas)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"governor": {"max_system_agents": 10}}`)

	loader := NewLoader(path)
	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(loader, zerolog.Nop(), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	writeConfigFile(t, dir, `{"governor": {"max_system_agents": 25}}`)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 25, cfg.Governor.MaxSystemAgents)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload not observed")
	}
}

func TestWatcherKeepsPreviousConfigOnBadWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{}`)

	loader := NewLoader(path)
	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(loader, zerolog.Nop(), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	writeConfigFile(t, dir, `{"not_a_key": true}`)

	select {
	case <-reloaded:
		t.Fatal("invalid config should not be delivered")
	case <-time.After(1500 * time.Millisecond):
	}
}
