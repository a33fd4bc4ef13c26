package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagCmd_DerivesTags(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "studies", "2021-05-01", "session3")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "scan.img")
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o600))

	cmd, out := newTestRoot(t, newTagCmd())
	setConfig(t, rulesFileKey, "")
	setConfig(t, endpointKey, "ep")
	setConfig(t, rulesKey, []any{
		map[string]any{
			"pattern": `^.*/studies/([^/]+)/([^/]+)/`,
			"apply":   "search",
			"extract": "positional",
			"tags":    []any{"date", "session"},
		},
	})

	requireExecute(t, cmd, "tag", path)

	text := out.String()
	assert.Contains(t, text, "file://ep"+path)
	assert.Contains(t, text, "2021-05-01")
	assert.Contains(t, text, "session3")
}

func TestTagCmd_MissingPath(t *testing.T) {
	cmd, _ := newTestRoot(t, newTagCmd())
	setConfig(t, rulesFileKey, "")

	err := execute(t, cmd, "tag", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestTagCmd_RequiresPath(t *testing.T) {
	cmd, _ := newTestRoot(t, newTagCmd())

	assert.Error(t, execute(t, cmd, "tag"))
}
