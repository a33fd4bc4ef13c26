package domain

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
)

// buildTree creates files (relative paths) under a temp root.
func buildTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()

	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	return root
}

func runFind(t *testing.T, cfg Config, roots ...string) ([]*m.WorkItem, []*m.ItemError) {
	t.Helper()

	find, err := NewFind(adapter.NewLocalSourceFSAdapter(), cfg, NewMetrics())
	require.NoError(t, err)

	in := make(chan m.Path, len(roots))
	for _, root := range roots {
		in <- m.Path(root)
	}
	close(in)

	out := make(chan envelope)
	errCh := make(chan error, 1)

	go func() { errCh <- find.Run(context.Background(), in, out) }()

	var (
		items []*m.WorkItem
		errs  []*m.ItemError
	)

	for env := range out {
		if env.err != nil {
			errs = append(errs, env.err)
			continue
		}

		items = append(items, env.item)
	}

	require.NoError(t, <-errCh)

	return items, errs
}

func relPaths(root string, items []*m.WorkItem) []string {
	paths := make([]string, 0, len(items))
	for _, item := range items {
		rel, _ := filepath.Rel(root, string(item.Path))
		paths = append(paths, rel)
	}

	sort.Strings(paths)

	return paths
}

func TestFind_Filters(t *testing.T) {
	files := map[string]string{
		"studies/s1/scan.img":  "img",
		"studies/s1/notes.txt": "txt",
		"tmp/cache.img":        "cache",
		"top.img":              "top",
	}

	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "files only by default mode",
			cfg:  Config{FileMode: ModeRegister},
			want: []string{"studies/s1/notes.txt", "studies/s1/scan.img", "tmp/cache.img", "top.img"},
		},
		{
			name: "include filters emitted entries",
			cfg:  Config{FileMode: ModeRegister, Include: []string{`\.img$`}},
			want: []string{"studies/s1/scan.img", "tmp/cache.img", "top.img"},
		},
		{
			name: "exclude wins over include and prunes",
			cfg:  Config{FileMode: ModeRegister, Include: []string{`\.img$`}, Exclude: []string{`/tmp$`}},
			want: []string{"studies/s1/scan.img", "top.img"},
		},
		{
			name: "directories only with dirmode",
			cfg:  Config{DirMode: ModeRegister, Exclude: []string{`/tmp$`}},
			want: []string{".", "studies", "studies/s1"},
		},
		{
			name: "nothing emitted when both modes are off",
			cfg:  Config{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := buildTree(t, files)

			items, errs := runFind(t, tt.cfg, root)
			assert.Empty(t, errs)
			assert.Equal(t, tt.want, relPaths(root, items))
		})
	}
}

func TestFind_ItemMetadata(t *testing.T) {
	root := buildTree(t, map[string]string{"a/data.bin": "12345"})

	items, _ := runFind(t, Config{FileMode: ModeRegister, DirMode: ModeRegister}, root)

	byPath := map[string]*m.WorkItem{}
	for _, item := range items {
		byPath[string(item.Path)] = item
	}

	file := byPath[filepath.Join(root, "a", "data.bin")]
	require.NotNil(t, file)
	require.NotNil(t, file.Size)
	assert.Equal(t, int64(5), *file.Size)
	assert.False(t, file.MTime.IsZero())
	assert.Equal(t, m.StatusDiscovered, file.Status)

	dir := byPath[filepath.Join(root, "a")]
	require.NotNil(t, dir)
	assert.True(t, dir.IsDir())
}

func TestFind_SkipsSymlinksAndReportsMissingRoots(t *testing.T) {
	root := buildTree(t, map[string]string{"real.txt": "x"})
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	missing := filepath.Join(t.TempDir(), "gone")

	items, errs := runFind(t, Config{FileMode: ModeRegister}, missing, root)

	assert.Equal(t, []string{"real.txt"}, relPaths(root, items))
	require.Len(t, errs, 1)
	assert.Equal(t, m.Path(missing), errs[0].Path)
	assert.Equal(t, m.StageFind, errs[0].Stage)
}

func TestNewFind_InvalidPattern(t *testing.T) {
	_, err := NewFind(adapter.NewLocalSourceFSAdapter(), Config{Exclude: []string{"("}}, NewMetrics())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
