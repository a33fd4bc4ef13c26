package domain

import (
	"context"
	"errors"
	"log/slog"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
)

// Hasher computes content digests.
type Hasher interface {
	HashFile(ctx context.Context, path m.Path) (string, error)
}

// Checksum computes digests off the dispatcher goroutine.
type Checksum struct {
	hasher  Hasher
	metrics *Metrics
}

// NewChecksum creates the Checksum stage.
func NewChecksum(hasher Hasher, metrics *Metrics) *Checksum {
	return &Checksum{hasher: hasher, metrics: metrics}
}

// Run hashes every item received on in. The digest lands in Checksum for a
// first computation and in Compare for a recomputation.
func (c *Checksum) Run(ctx context.Context, in <-chan *m.WorkItem, out chan<- envelope) error {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-in:
			if !ok {
				return nil
			}

			if err := send(ctx, out, c.checksum(ctx, item)); err != nil {
				return err
			}
		}
	}
}

func (c *Checksum) checksum(ctx context.Context, item *m.WorkItem) envelope {
	digest, err := c.hasher.HashFile(ctx, item.Path)
	if err != nil {
		if !errors.Is(err, adapter.ErrChecksumCancelled) {
			slog.Warn("Failed to checksum file", "path", item.Path, "error", err)
		}

		c.metrics.item(m.StageChecksum, outcomeError)

		return failed(nil, item.Path, m.StageChecksum, err)
	}

	if item.Status == m.StatusCompare {
		item.Compare = digest
	} else {
		item.Checksum = digest
	}

	c.metrics.item(m.StageChecksum, outcomeOK)

	return envelope{item: item}
}
