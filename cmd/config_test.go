package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagfiler.dev/pkg/outbox/internal/domain"
	m "tagfiler.dev/pkg/outbox/internal/model"
	"tagfiler.dev/pkg/outbox/internal/rules"
)

func TestConfigConstants(t *testing.T) {
	assert.Equal(t, "outbox", configBaseName)
	assert.Equal(t, "outbox.yaml", configFileName)
	assert.Equal(t, "OUTBOX", envPrefix)
	assert.Equal(t, "register.batch_max", batchMaxKey)
	assert.Equal(t, "paths.exclude", excludeConfigKey)
	assert.Equal(t, ".outbox/state.db", defaultStateDB)
}

func TestConfigDefaults(t *testing.T) {
	assert.Equal(t, currentConfigVersion, viper.GetInt(configVersionKey))
	assert.Equal(t, domain.ModeRegister, viper.GetString(fileModeKey))
	assert.Empty(t, viper.GetString(dirModeKey))
	assert.Equal(t, domain.DefaultBatchMax, viper.GetInt(batchMaxKey))
	assert.Equal(t, domain.DefaultBacklogMemory, viper.GetInt(backlogMemoryKey))
	assert.Equal(t, defaultCatalogTimeout, viper.GetDuration(catalogTimeoutKey))
	assert.NotEmpty(t, viper.GetString(endpointKey))
}

func TestParseSlogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"-4", slog.LevelDebug},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSlogLevel(tt.value, slog.LevelInfo))
		})
	}
}

func TestPipelineConfig(t *testing.T) {
	setConfig(t, rootsKey, []string{"/data/a", "/data/b"})
	setConfig(t, dirModeKey, domain.ModeRegister)
	setConfig(t, batchMaxKey, 50)

	cfg := pipelineConfig(nil, "fp")
	assert.Equal(t, []m.Path{"/data/a", "/data/b"}, cfg.Roots)
	assert.Equal(t, domain.ModeRegister, cfg.DirMode)
	assert.Equal(t, 50, cfg.BatchMax)
	assert.Equal(t, "fp", cfg.RuleFingerprint)

	cfg = pipelineConfig([]m.Path{"/other"}, "fp")
	assert.Equal(t, []m.Path{"/other"}, cfg.Roots)
}

func TestCatalogConfig(t *testing.T) {
	setConfig(t, catalogURLKey, "https://catalog.example/tagfiler")
	setConfig(t, catalogUserKey, "outbox")
	setConfig(t, catalogTimeoutKey, "5s")
	setConfig(t, catalogRateKey, 2.5)

	cfg := catalogConfig()
	assert.Equal(t, "https://catalog.example/tagfiler", cfg.URL)
	assert.Equal(t, "outbox", cfg.Username)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.InDelta(t, 2.5, cfg.RateLimit, 0.001)
}

func TestRuleDefinitions_DefaultNameOnly(t *testing.T) {
	setConfig(t, rulesFileKey, "")
	setConfig(t, endpointKey, "ep")

	defs, err := ruleDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, rules.DefaultNameRule("ep"), defs[0])
}

func TestRuleDefinitions_Inline(t *testing.T) {
	setConfig(t, rulesFileKey, "")
	setConfig(t, endpointKey, "ep")
	setConfig(t, rulesKey, []any{
		map[string]any{
			"pattern": `^/data/studies/([^/]+)/`,
			"extract": "positional",
			"tags":    []any{"date"},
		},
	})

	defs, err := ruleDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, m.ExtractPositional, defs[1].Extract)
	assert.Equal(t, []string{"date"}, defs[1].Tags)

	_, err = rules.CompileAll(defs)
	assert.NoError(t, err)
}

func TestRuleDefinitions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - pattern: '^(?P<name>.+)$'
    extract: named
`), 0o600))

	setConfig(t, rulesFileKey, path)

	defs, err := ruleDefinitions()
	require.NoError(t, err)
	assert.Len(t, defs, 1, "a rule naming the identity tag suppresses the default")

	setConfig(t, rulesFileKey, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err = ruleDefinitions()
	assert.Error(t, err)
}

func TestConfigureLogger(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	path := filepath.Join(t.TempDir(), "outbox.log")
	configureLogger(path, true)

	slog.Debug("visible at debug", "key", "value")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible at debug")
}

func TestReadConfig_ExplicitFile(t *testing.T) {
	resetConfig()
	t.Cleanup(resetConfig)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte("rules: []\n"), 0o600))

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("register:\n  batch_max: 7\nrules_file: rules.yaml\n"), 0o600))

	require.NoError(t, readConfig(path))

	assert.Equal(t, 7, viper.GetInt(batchMaxKey))
	assert.Equal(t, filepath.Join(dir, "rules.yaml"), resolvePath(viper.GetString(rulesFileKey)))
	assert.Equal(t, "/abs/rules.yaml", resolvePath("/abs/rules.yaml"))
}

func TestReadConfig_Errors(t *testing.T) {
	t.Cleanup(resetConfig)

	err := readConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("register: [\n"), 0o600))
	assert.Error(t, readConfig(path))
}

func TestSetConfig_LeavesNoOverrideBehind(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		setConfig(t, batchMaxKey, 50)
		assert.Equal(t, 50, viper.GetInt(batchMaxKey))
	})

	assert.Equal(t, domain.DefaultBatchMax, viper.GetInt(batchMaxKey))

	path := filepath.Join(t.TempDir(), "outbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("register:\n  batch_max: 9\n"), 0o600))

	t.Cleanup(resetConfig)
	require.NoError(t, readConfig(path))
	assert.Equal(t, 9, viper.GetInt(batchMaxKey), "a config file value is visible after an earlier override")
}
