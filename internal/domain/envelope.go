package domain

import (
	"context"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

// envelope carries an item between stages, or the error that stopped it.
// A failed registration carries both.
type envelope struct {
	item *m.WorkItem
	err  *m.ItemError
}

func failed(item *m.WorkItem, path m.Path, stage m.Stage, err error) envelope {
	return envelope{item: item, err: &m.ItemError{Path: path, Stage: stage, Err: err}}
}

// send delivers v on out unless ctx is done first.
func send[T any](ctx context.Context, out chan<- T, v T) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- v:
		return nil
	}
}
