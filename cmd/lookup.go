package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// lookupCmd represents the lookup command.
var lookupCmd = newLookupCmd()

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <name>",
		Short: "Look up a subject in the catalog by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := newCatalog(catalogConfig())
			if err != nil {
				return fmt.Errorf("failed to create catalog client: %w", err)
			}

			defer func() {
				_ = catalog.Close()
			}()

			if err := catalog.Login(cmd.Context()); err != nil {
				return err
			}

			subject, err := catalog.FindSubjectByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return ui.DisplaySubject(cmd.Context(), args[0], subject)
		},
	}
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}
