package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	"tagfiler.dev/pkg/outbox/internal/domain"
	m "tagfiler.dev/pkg/outbox/internal/model"
	"tagfiler.dev/pkg/outbox/internal/rules"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "outbox"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	configFlagName  = "config"
	verboseFlagName = "verbose"
	logFileFlagName = "log-file"
	includeFlagName = "include"
	excludeFlagName = "exclude"
	batchFlagName   = "batch-max"
	stateFlagName   = "state"

	rootsKey          = "roots"
	includeConfigKey  = "paths.include"
	excludeConfigKey  = "paths.exclude"
	endpointKey       = "endpoint"
	fileModeKey       = "mode.file"
	dirModeKey        = "mode.dir"
	catalogURLKey     = "catalog.url"
	catalogUserKey    = "catalog.username"
	catalogPassKey    = "catalog.password"
	catalogTokenKey   = "catalog.token"
	catalogTimeoutKey = "catalog.timeout"
	catalogRateKey    = "catalog.rate_limit"
	batchMaxKey       = "register.batch_max"
	stateDBKey        = "state.db"
	backlogMemoryKey  = "pipeline.backlog_memory"
	spillDirKey       = "pipeline.spill_dir"
	rulesKey          = "rules"
	rulesFileKey      = "rules_file"
	metricsFileKey    = "metrics.textfile"

	defaultStateDB        = ".outbox/state.db"
	defaultCatalogTimeout = 30 * time.Second

	envPrefix = "OUTBOX"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".outbox.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	initConfig()
}

// initConfig sets up viper's file lookup, environment binding and defaults.
func initConfig() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	setDefaults()
}

// resetConfig drops every value, override and flag binding and starts over
// from the defaults.
func resetConfig() {
	viper.Reset()
	initConfig()

	configDir = ""
}

func setDefaults() {
	viper.SetDefault(configVersionKey, currentConfigVersion)
	viper.SetDefault(rootsKey, []string{})
	viper.SetDefault(includeConfigKey, []string{})
	viper.SetDefault(excludeConfigKey, []string{})
	viper.SetDefault(endpointKey, defaultEndpoint())
	viper.SetDefault(fileModeKey, domain.ModeRegister)
	viper.SetDefault(dirModeKey, "")
	viper.SetDefault(catalogURLKey, "")
	viper.SetDefault(catalogUserKey, "")
	viper.SetDefault(catalogPassKey, "")
	viper.SetDefault(catalogTokenKey, "")
	viper.SetDefault(catalogTimeoutKey, defaultCatalogTimeout)
	viper.SetDefault(catalogRateKey, 0.0)
	viper.SetDefault(batchMaxKey, domain.DefaultBatchMax)
	viper.SetDefault(stateDBKey, defaultStateDB)
	viper.SetDefault(backlogMemoryKey, domain.DefaultBacklogMemory)
	viper.SetDefault(spillDirKey, "")
	viper.SetDefault(rulesFileKey, "")
	viper.SetDefault(metricsFileKey, "")

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)
}

func defaultEndpoint() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}

	return host
}

// configDir is the directory of the loaded config file; relative paths in the
// config resolve against it.
var configDir string

// readConfig loads the YAML file at path, or outbox.yaml from the working
// directory when path is empty. A missing default file is not an error.
func readConfig(path string) error {
	if path == "" {
		err := viper.ReadInConfig()

		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		configDir = filepath.Dir(viper.ConfigFileUsed())

		return nil
	}

	// #nosec G304 - path is given by the operator
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	if err := viper.ReadConfig(file); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	configDir = filepath.Dir(path)

	return nil
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger.
//
// By default it logs at Info; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose || viper.GetBool(logVerboseKey) {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

// pipelineConfig builds the pipeline configuration. Non-empty roots replace
// the configured ones.
func pipelineConfig(roots []m.Path, fingerprint string) domain.Config {
	if len(roots) == 0 {
		roots = parsePaths(viper.GetStringSlice(rootsKey))
	}

	return domain.Config{
		Roots:           roots,
		Include:         viper.GetStringSlice(includeConfigKey),
		Exclude:         viper.GetStringSlice(excludeConfigKey),
		FileMode:        viper.GetString(fileModeKey),
		DirMode:         viper.GetString(dirModeKey),
		BatchMax:        viper.GetInt(batchMaxKey),
		BacklogMemory:   viper.GetInt(backlogMemoryKey),
		SpillDir:        viper.GetString(spillDirKey),
		RuleFingerprint: fingerprint,
	}
}

func catalogConfig() adapter.CatalogConfig {
	return adapter.CatalogConfig{
		URL:       viper.GetString(catalogURLKey),
		Username:  viper.GetString(catalogUserKey),
		Password:  viper.GetString(catalogPassKey),
		Token:     viper.GetString(catalogTokenKey),
		Timeout:   viper.GetDuration(catalogTimeoutKey),
		RateLimit: viper.GetFloat64(catalogRateKey),
	}
}

// ruleDefinitions returns the effective rule list: the rules file or the
// inline rules, with the default identity rule prepended when needed.
func ruleDefinitions() ([]m.RuleDefinition, error) {
	var defs []m.RuleDefinition

	if path := viper.GetString(rulesFileKey); path != "" {
		loaded, err := rules.LoadFile(resolvePath(path))
		if err != nil {
			return nil, err
		}

		defs = loaded
	} else if viper.IsSet(rulesKey) {
		if err := viper.UnmarshalKey(rulesKey, &defs); err != nil {
			return nil, fmt.Errorf("failed to decode inline rules: %w", err)
		}
	}

	return rules.WithDefaultName(defs, viper.GetString(endpointKey)), nil
}

// resolvePath makes path relative to the directory of the loaded config file.
func resolvePath(path string) string {
	if filepath.IsAbs(path) || configDir == "" {
		return path
	}

	return filepath.Join(configDir, path)
}
