// Package cmd provides the root command and CLI setup for outbox.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	"tagfiler.dev/pkg/outbox/internal/controller"
	m "tagfiler.dev/pkg/outbox/internal/model"
)

var fsAdapter adapter.SourceFSAdapter
var ui controller.UI

// openStore and newCatalog are replaced in tests.
var openStore = adapter.OpenStateStore
var newCatalog = func(cfg adapter.CatalogConfig) (adapter.CatalogClient, error) {
	return adapter.NewCatalogClient(cfg, nil)
}

var configFileFlag string
var verboseFlag bool
var logFileFlag string
var includePatterns []string
var excludePatterns []string
var stateDBFlag string

func init() {
	configureRootFlags(rootCmd)

	// Initialize shared dependencies.
	ui = controller.NewUI(rootCmd, controller.IsTTY(os.Stdout))
	fsAdapter = adapter.NewLocalSourceFSAdapter()
}

const pathPatternsHelp = `Include and exclude patterns are regular expressions matched against
the full path of each entry:
  -i '\.img$'         emit only image files
  -x '/\.snapshot/'   prune snapshot directories and everything below them`

const rootLongDescription = `Outbox watches file-system trees, derives descriptive tags for each file
from configurable path and content rules, and registers the tagged files with
a remote catalog. Only new, changed or re-ruled files are tagged and sent.

` + pathPatternsHelp

const runLongDescription = `Scan the given roots (default: the configured roots), tag new or changed
entries and register them with the catalog.

` + pathPatternsHelp

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "File-system tagging outbox agent",
		Long:  rootLongDescription,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := readConfig(configFileFlag); err != nil {
				return err
			}

			configureLogger(logFileFlag, verboseFlag)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&configFileFlag, configFlagName, "c", "", "config file (default ./"+configFileName+")")
	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", false, "log at debug level")
	cmd.PersistentFlags().StringVar(&logFileFlag, logFileFlagName, "", "log file (default "+defaultLogFilename+")")

	cmd.PersistentFlags().StringVar(&stateDBFlag, stateFlagName, viper.GetString(stateDBKey), "path of the state database")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(stateFlagName), stateDBKey)

	cmd.PersistentFlags().StringArrayVarP(&includePatterns, includeFlagName, "i", viper.GetStringSlice(includeConfigKey), "emit only entries matching regex (can be repeated)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(includeFlagName), includeConfigKey)

	cmd.PersistentFlags().StringArrayVarP(&excludePatterns, excludeFlagName, "x", viper.GetStringSlice(excludeConfigKey), "prune entries matching regex (can be repeated)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(excludeFlagName), excludeConfigKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func parsePaths(args []string) []m.Path {
	paths := make([]m.Path, 0, len(args))
	for _, arg := range args {
		paths = append(paths, m.Path(arg))
	}

	return paths
}

// withStore opens the state database for the duration of fn.
func withStore(ctx context.Context, fn func(store adapter.StateStore) error) error {
	store, err := openStore(ctx, viper.GetString(stateDBKey))
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}

	defer func() {
		_ = store.Close()
	}()

	return fn(store)
}
