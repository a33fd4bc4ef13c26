package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	"tagfiler.dev/pkg/outbox/internal/domain"
	"tagfiler.dev/pkg/outbox/internal/rules"
)

var batchMaxFlag int
var metricsFileFlag string

// runCmd represents the run command.
var runCmd = newRunCmd()

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [roots...]",
		Short: "Scan roots and register tagged files",
		Long:  runLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := ruleDefinitions()
			if err != nil {
				return err
			}

			compiled, err := rules.CompileAll(defs)
			if err != nil {
				return err
			}

			fingerprint, err := rules.Fingerprint(defs)
			if err != nil {
				return err
			}

			cfg := pipelineConfig(parsePaths(args), fingerprint)
			if len(cfg.Roots) == 0 {
				return errors.New("no roots to scan: pass them as arguments or set roots in the config")
			}

			catalog, err := newCatalog(catalogConfig())
			if err != nil {
				return fmt.Errorf("failed to create catalog client: %w", err)
			}

			return withStore(cmd.Context(), func(store adapter.StateStore) error {
				metrics := domain.NewMetrics()
				director := rules.NewDirector(compiled, fsAdapter.Open)
				ob := domain.NewOutbox(cfg, fsAdapter, store, director, catalog, metrics)

				stop := terminateOnSignal(ob)
				if err := ui.StartProgress(cmd.Context(), metrics.Progress, ob.Terminate); err != nil {
					slog.Warn("Failed to start progress view", "error", err)
				}

				summary, runErr := ob.Run(cmd.Context())
				ui.StopProgress(cmd.Context())
				stop()

				if summary != nil {
					if err := ui.DisplaySummary(cmd.Context(), summary); err != nil {
						runErr = errors.Join(runErr, err)
					}
				}

				if path := viper.GetString(metricsFileKey); path != "" {
					if err := metrics.WriteTextfile(path); err != nil {
						slog.Error("Failed to write metrics", "path", path, "error", err)
						runErr = errors.Join(runErr, err)
					}
				}

				return runErr
			})
		},
	}

	configureRunFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func configureRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&batchMaxFlag, batchFlagName, "b", viper.GetInt(batchMaxKey), "maximum files per catalog request")
	bindFlagToConfig(cmd.Flags().Lookup(batchFlagName), batchMaxKey)
	cmd.Flags().StringVar(&metricsFileFlag, "metrics-file", viper.GetString(metricsFileKey), "write Prometheus metrics to this text file after the run")
	bindFlagToConfig(cmd.Flags().Lookup("metrics-file"), metricsFileKey)
}

// terminateOnSignal terminates ob on SIGINT or SIGTERM until the returned
// stop function is called.
func terminateOnSignal(ob domain.Outbox) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			slog.Warn("Received signal, terminating scan", "signal", sig.String())
			ob.Terminate()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
