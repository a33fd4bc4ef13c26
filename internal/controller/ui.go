// Package controller renders command results for the terminal.
package controller

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
)

// UI displays command results.
type UI interface {
	// StartProgress shows live scan progress read from progress until
	// StopProgress. interrupt is called when the user asks to stop.
	StartProgress(ctx context.Context, progress func() m.Progress, interrupt func()) error
	StopProgress(ctx context.Context)

	DisplaySummary(ctx context.Context, summary *m.Summary) error
	DisplayStatus(ctx context.Context, stats *adapter.StoreStats, scans []*m.Scan, pending []*m.FileRecord) error
	DisplayTags(ctx context.Context, path m.Path, tags m.TagSet, err error) error
	DisplaySubject(ctx context.Context, name string, subject adapter.Subject) error
}

// NewUI returns the UI for cmd: a live TUI on a terminal, plain tables
// otherwise.
func NewUI(cmd *cobra.Command, tty bool) UI {
	if tty {
		return NewTUI(cmd)
	}

	return NewSimpleUI(cmd, false)
}

// IsTTY reports whether f is a terminal.
func IsTTY(f *os.File) bool {
	if f == nil {
		return false
	}

	fd := f.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
