package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
	"tagfiler.dev/pkg/outbox/internal/rules"
)

// tagCmd represents the tag command.
var tagCmd = newTagCmd()

func newTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <path>...",
		Short: "Show the tags the rules derive for paths",
		Long: `Evaluate the configured rules against each path and print the resulting tags.
Nothing is recorded or registered.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := ruleDefinitions()
			if err != nil {
				return err
			}

			compiled, err := rules.CompileAll(defs)
			if err != nil {
				return err
			}

			director := rules.NewDirector(compiled, fsAdapter.Open)

			for _, path := range parsePaths(args) {
				info, err := os.Lstat(string(path))
				if err != nil {
					return fmt.Errorf("failed to stat %s: %w", path, err)
				}

				item := &m.WorkItem{Path: path, MTime: info.ModTime()}
				if adapter.EntryKind(info) != "dir" {
					item.Size = m.SizeOf(info.Size())
				}

				tags, tagErr := director.Tag(cmd.Context(), item)
				if err := ui.DisplayTags(cmd.Context(), path, tags, tagErr); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(tagCmd)
}
