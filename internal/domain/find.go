package domain

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
)

// Find walks scan roots and emits one WorkItem per eligible entry.
type Find struct {
	fs      adapter.SourceFSAdapter
	include []*regexp.Regexp
	exclude []*regexp.Regexp
	files   bool
	dirs    bool
	metrics *Metrics
}

// NewFind creates the Find stage.
func NewFind(fs adapter.SourceFSAdapter, cfg Config, metrics *Metrics) (*Find, error) {
	include, err := compilePatterns(cfg.Include)
	if err != nil {
		return nil, err
	}

	exclude, err := compilePatterns(cfg.Exclude)
	if err != nil {
		return nil, err
	}

	return &Find{
		fs:      fs,
		include: include,
		exclude: exclude,
		files:   cfg.FileMode == ModeRegister,
		dirs:    cfg.DirMode == ModeRegister,
		metrics: metrics,
	}, nil
}

// Run walks every root received on roots until the channel closes.
func (f *Find) Run(ctx context.Context, roots <-chan m.Path, out chan<- envelope) error {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case root, ok := <-roots:
			if !ok {
				return nil
			}

			slog.Info("Scanning root", "root", root)

			if err := f.walk(ctx, root, out); err != nil {
				return err
			}
		}
	}
}

func (f *Find) walk(ctx context.Context, root m.Path, out chan<- envelope) error {
	return f.fs.Walk(root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			slog.Warn("Skipping unreadable entry", "path", path, "error", err)
			f.metrics.item(m.StageFind, outcomeError)

			if sendErr := send(ctx, out, failed(nil, m.Path(path), m.StageFind, err)); sendErr != nil {
				return sendErr
			}

			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if f.excluded(path) {
			slog.Debug("Excluded", "path", path)

			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		item := f.item(path, info)
		if item == nil {
			return nil
		}

		f.metrics.item(m.StageFind, outcomeOK)

		return send(ctx, out, envelope{item: item})
	})
}

// item builds the WorkItem for an entry, or nil when the entry is not
// emitted. Directories are still descended into.
func (f *Find) item(path string, info os.FileInfo) *m.WorkItem {
	if !f.included(path) {
		return nil
	}

	var size *int64

	switch {
	case info.Mode().IsRegular():
		if !f.files {
			return nil
		}

		size = m.SizeOf(info.Size())
	case info.IsDir():
		if !f.dirs {
			return nil
		}
	default:
		slog.Debug("Skipping entry", "path", path, "kind", adapter.EntryKind(info))
		return nil
	}

	user, group := f.fs.Owner(info)

	return &m.WorkItem{
		Path:   m.Path(path),
		Size:   size,
		MTime:  info.ModTime(),
		User:   user,
		Group:  group,
		Status: m.StatusDiscovered,
	}
}

func (f *Find) excluded(path string) bool {
	for _, re := range f.exclude {
		if re.MatchString(path) {
			return true
		}
	}

	return false
}

func (f *Find) included(path string) bool {
	if len(f.include) == 0 {
		return true
	}

	for _, re := range f.include {
		if re.MatchString(path) {
			return true
		}
	}

	return false
}
