package domain

import (
	"context"
	"log/slog"
	"time"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

// Registrar submits subjects to the catalog in bulk.
type Registrar interface {
	Login(ctx context.Context) error
	AddSubjects(ctx context.Context, subjects []m.TagSet) error
	Close() error
}

// Register batches tagged items into bulk catalog submissions.
type Register struct {
	client   Registrar
	batchMax int
	metrics  *Metrics
	now      func() time.Time

	pending  []*m.WorkItem
	loginErr error
}

// NewRegister creates the Register stage.
func NewRegister(client Registrar, batchMax int, metrics *Metrics) *Register {
	if batchMax <= 0 {
		batchMax = DefaultBatchMax
	}

	return &Register{client: client, batchMax: batchMax, metrics: metrics, now: time.Now}
}

// Run opens a catalog session, registers tagged items in batches of at most
// batchMax and flushes the remainder when in closes. Errors from earlier
// stages are forwarded unchanged.
func (r *Register) Run(ctx context.Context, in <-chan envelope, out chan<- envelope) error {
	defer close(out)

	if err := r.client.Login(ctx); err != nil {
		slog.Error("Failed to open catalog session", "error", err)
		r.loginErr = err
	}

	defer func() {
		if err := r.client.Close(); err != nil {
			slog.Warn("Failed to close catalog session", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-in:
			if !ok {
				return r.flush(ctx, out)
			}

			if env.err != nil {
				if err := send(ctx, out, env); err != nil {
					return err
				}

				continue
			}

			r.pending = append(r.pending, env.item)

			if len(r.pending) >= r.batchMax {
				if err := r.flush(ctx, out); err != nil {
					return err
				}
			}
		}
	}
}

// flush submits the pending items as one batch. A failure fails every item
// of the batch; nothing is retried.
func (r *Register) flush(ctx context.Context, out chan<- envelope) error {
	if len(r.pending) == 0 {
		return nil
	}

	batch := r.pending
	r.pending = nil

	err := r.loginErr
	if err == nil {
		subjects := make([]m.TagSet, 0, len(batch))
		for _, item := range batch {
			subjects = append(subjects, item.Tags)
		}

		err = r.client.AddSubjects(ctx, subjects)
	}

	r.metrics.batch(len(batch), err)

	if err != nil {
		slog.Error("Failed to register batch", "count", len(batch), "error", err)

		for _, item := range batch {
			r.metrics.item(m.StageRegister, outcomeError)

			if sendErr := send(ctx, out, failed(item, item.Path, m.StageRegister, err)); sendErr != nil {
				return sendErr
			}
		}

		return nil
	}

	rtime := r.now()

	slog.Info("Registered batch", "count", len(batch), "rtime", rtime)

	for _, item := range batch {
		item.RTime = &rtime
		r.metrics.item(m.StageRegister, outcomeOK)

		if err := send(ctx, out, envelope{item: item}); err != nil {
			return err
		}
	}

	return nil
}
