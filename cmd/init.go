package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var forceInitFlag bool

// initCmd represents the init command.
var initCmd = newInitCmd()

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Write a starter " + configFileName,
		Long: `Write the effective settings (defaults, environment and flags) as a YAML
config file, ./` + configFileName + ` unless a file is named. An existing file is kept
unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := configFileName
			if len(args) == 1 {
				target = args[0]
			}

			write := viper.SafeWriteConfigAs
			if forceInitFlag {
				write = viper.WriteConfigAs
			}

			if err := write(target); err != nil {
				return fmt.Errorf("failed to write %s: %w", target, err)
			}

			cmd.Printf("Wrote %s\n", target)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&forceInitFlag, "force", "f", false, "overwrite an existing file")

	return cmd
}

func init() {
	rootCmd.AddCommand(initCmd)
}
