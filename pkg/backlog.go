// Package pkg provides utilities shared by the outbox pipeline.
package pkg

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrBacklogEmpty is returned by Pop on an empty backlog.
var ErrBacklogEmpty = errors.New("backlog is empty")

// Backlog is an unbounded FIFO queue. Items beyond the memory limit are
// spilled to a gob-encoded temp file and read back in order.
//
// A Backlog is not safe for concurrent use.
type Backlog[T any] interface {
	Len() int
	Push(item T) error
	// Front returns the oldest item without removing it.
	Front() (T, bool)
	Pop() (T, error)
	Close() error
}

type backlogImpl[T any] struct {
	dir   string
	limit int
	mem   []T

	path    string
	writer  *os.File
	reader  *os.File
	encoder *gob.Encoder
	decoder *gob.Decoder
	spilled int
}

// NewBacklog creates a Backlog that keeps up to limit items in memory and
// spills the rest to a temp file under dir (os.TempDir when empty).
func NewBacklog[T any](limit int, dir string) Backlog[T] {
	if limit < 1 {
		limit = 1
	}

	return &backlogImpl[T]{dir: dir, limit: limit}
}

// Len implements Backlog.
func (b *backlogImpl[T]) Len() int {
	return len(b.mem) + b.spilled
}

// Push implements Backlog.
func (b *backlogImpl[T]) Push(item T) error {
	if b.spilled == 0 && len(b.mem) < b.limit {
		b.mem = append(b.mem, item)
		return nil
	}

	if b.writer == nil {
		if err := b.openSpill(); err != nil {
			return err
		}
	}

	if err := b.encoder.Encode(item); err != nil {
		slog.Error("Failed to encode backlog item", "path", b.path, "error", err)
		return fmt.Errorf("failed to encode backlog item: %w", err)
	}

	b.spilled++

	return nil
}

// Front implements Backlog.
func (b *backlogImpl[T]) Front() (T, bool) {
	if len(b.mem) == 0 {
		var zero T
		return zero, false
	}

	return b.mem[0], true
}

// Pop implements Backlog.
func (b *backlogImpl[T]) Pop() (T, error) {
	var zero T

	if len(b.mem) == 0 {
		return zero, ErrBacklogEmpty
	}

	item := b.mem[0]
	b.mem[0] = zero
	b.mem = b.mem[1:]

	if len(b.mem) == 0 && b.spilled > 0 {
		if err := b.refill(); err != nil {
			return zero, err
		}
	}

	return item, nil
}

// refill moves up to limit spilled items back into memory. The spill file
// is removed once it has been fully read.
func (b *backlogImpl[T]) refill() error {
	n := min(b.limit, b.spilled)
	b.mem = make([]T, 0, n)

	for i := 0; i < n; i++ {
		var item T
		if err := b.decoder.Decode(&item); err != nil {
			slog.Error("Failed to decode backlog item", "path", b.path, "error", err)
			return fmt.Errorf("failed to decode backlog item: %w", err)
		}

		b.mem = append(b.mem, item)
		b.spilled--
	}

	slog.Debug("Refilled backlog from spill", "path", b.path, "count", n, "remaining", b.spilled)

	if b.spilled == 0 {
		return b.closeSpill()
	}

	return nil
}

func (b *backlogImpl[T]) openSpill() error {
	writer, err := os.CreateTemp(b.dir, "outbox-backlog-*.gob")
	if err != nil {
		slog.Error("Failed to create backlog spill file", "dir", b.dir, "error", err)
		return fmt.Errorf("failed to create backlog spill file: %w", err)
	}

	reader, err := os.Open(writer.Name())
	if err != nil {
		_ = writer.Close()
		_ = os.Remove(writer.Name())

		slog.Error("Failed to open backlog spill file", "path", writer.Name(), "error", err)

		return fmt.Errorf("failed to open backlog spill file: %w", err)
	}

	b.path = writer.Name()
	b.writer = writer
	b.reader = reader
	b.encoder = gob.NewEncoder(writer)
	b.decoder = gob.NewDecoder(reader)

	slog.Debug("Created backlog spill file", "path", b.path)

	return nil
}

func (b *backlogImpl[T]) closeSpill() error {
	if b.writer == nil {
		return nil
	}

	errs := []error{b.writer.Close(), b.reader.Close(), os.Remove(b.path)}

	slog.Debug("Removed backlog spill file", "path", b.path)

	b.writer, b.reader, b.encoder, b.decoder = nil, nil, nil, nil
	b.path = ""

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to remove backlog spill file: %w", err)
	}

	return nil
}

// Close implements Backlog. Items still queued are discarded.
func (b *backlogImpl[T]) Close() error {
	b.mem = nil
	b.spilled = 0

	return b.closeSpill()
}
