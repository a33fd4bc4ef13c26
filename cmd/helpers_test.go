package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"tagfiler.dev/pkg/outbox/internal/controller"
)

// setConfig overrides a viper key until the end of the test, when the whole
// configuration is rebuilt from its defaults.
func setConfig(t *testing.T, key string, value any) {
	t.Helper()

	viper.Set(key, value)
	t.Cleanup(resetConfig)
}

// newTestRoot builds a root command with subs whose output is captured.
// Logging goes to a file in a temp dir.
func newTestRoot(t *testing.T, subs ...*cobra.Command) (*cobra.Command, *bytes.Buffer) {
	t.Helper()

	cmd := newRootCmd()
	configureRootFlags(cmd)
	cmd.AddCommand(subs...)

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})

	originalUI := ui
	ui = controller.NewUI(cmd, false)

	t.Cleanup(func() { ui = originalUI })

	setConfig(t, logFilenameKey, filepath.Join(t.TempDir(), "outbox.log"))
	setConfig(t, stateDBKey, filepath.Join(t.TempDir(), "state.db"))

	return cmd, out
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()

	cmd.SetArgs(args)

	return cmd.Execute()
}

func requireExecute(t *testing.T, cmd *cobra.Command, args ...string) {
	t.Helper()
	require.NoError(t, execute(t, cmd, args...))
}
