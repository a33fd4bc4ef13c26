package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tagfiler.dev/pkg/outbox/internal/adapter"
	m "tagfiler.dev/pkg/outbox/internal/model"
	"tagfiler.dev/pkg/outbox/pkg"
)

// Dispatcher owns the per-path state machine. It is the only component that
// touches the state store.
type Dispatcher struct {
	store   adapter.StateStore
	scanID  string
	era     int64
	metrics *Metrics

	toChecksum pkg.Backlog[*m.WorkItem]
	toTag      pkg.Backlog[*m.WorkItem]

	summary m.Summary
}

// DispatcherChannels are the queues between the Dispatcher and the stages.
type DispatcherChannels struct {
	Found      <-chan envelope
	Checksums  <-chan envelope
	Registered <-chan envelope
	ToChecksum chan<- *m.WorkItem
	ToTag      chan<- *m.WorkItem
}

// NewDispatcher creates a Dispatcher for one scan under rule era era.
func NewDispatcher(store adapter.StateStore, scanID string, era int64, cfg Config, metrics *Metrics) *Dispatcher {
	cfg = cfg.withDefaults()

	return &Dispatcher{
		store:      store,
		scanID:     scanID,
		era:        era,
		metrics:    metrics,
		toChecksum: pkg.NewBacklog[*m.WorkItem](cfg.BacklogMemory, cfg.SpillDir),
		toTag:      pkg.NewBacklog[*m.WorkItem](cfg.BacklogMemory, cfg.SpillDir),
		summary:    m.Summary{ScanID: scanID},
	}
}

// Summary returns the counters collected so far. It must not be called
// while Run is executing.
func (d *Dispatcher) Summary() m.Summary {
	return d.summary
}

// Run routes items until registration results are exhausted. Outbound
// queues are buffered in backlogs so a producer is never blocked on the
// Dispatcher. Each outbound channel is closed once nothing more can reach it.
func (d *Dispatcher) Run(ctx context.Context, ch DispatcherChannels) error {
	defer func() {
		_ = d.toChecksum.Close()
		_ = d.toTag.Close()
	}()

	found, checksums, registered := ch.Found, ch.Checksums, ch.Registered
	toChecksum, toTag := ch.ToChecksum, ch.ToTag

	for {
		if found == nil && toChecksum != nil && d.toChecksum.Len() == 0 {
			close(toChecksum)
			toChecksum = nil
		}

		if found == nil && checksums == nil && toTag != nil && d.toTag.Len() == 0 {
			close(toTag)
			toTag = nil
		}

		if registered == nil {
			return nil
		}

		d.metrics.queued(m.StageChecksum, d.toChecksum.Len())
		d.metrics.queued(m.StageTag, d.toTag.Len())

		var (
			checksumOut chan<- *m.WorkItem
			tagOut      chan<- *m.WorkItem
		)

		checksumHead, ok := d.toChecksum.Front()
		if ok {
			checksumOut = toChecksum
		}

		tagHead, ok := d.toTag.Front()
		if ok {
			tagOut = toTag
		}

		var err error

		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-found:
			if !ok {
				found = nil
				continue
			}

			err = d.onFound(ctx, env)
		case env, ok := <-checksums:
			if !ok {
				checksums = nil
				continue
			}

			err = d.onChecksum(ctx, env)
		case env, ok := <-registered:
			if !ok {
				registered = nil
				continue
			}

			err = d.onRegistered(ctx, env)
		case checksumOut <- checksumHead:
			_, err = d.toChecksum.Pop()
		case tagOut <- tagHead:
			_, err = d.toTag.Pop()
		}

		if err != nil {
			return err
		}
	}
}

func (d *Dispatcher) onFound(ctx context.Context, env envelope) error {
	if env.err != nil {
		d.recordError(env.err)
		return nil
	}

	item := env.item
	d.summary.Found++

	rec, err := d.store.GetFile(ctx, item.Path)
	if errors.Is(err, adapter.ErrNotFound) {
		rec = item.Record()
		rec.MustTag = true

		if err := d.store.InsertFile(ctx, rec); err != nil {
			return d.storeFailure("insert", item.Path, err)
		}

		if item.IsDir() {
			return d.tag(item)
		}

		item.Status = m.StatusCompute

		return d.checksum(item)
	}

	if err != nil {
		return d.storeFailure("get", item.Path, err)
	}

	changed := !item.MTime.Equal(rec.MTime) || !sameSize(item.Size, rec.Size)

	if item.IsDir() {
		if changed {
			rec.MTime = item.MTime
			rec.Size = nil

			if err := d.store.UpdateFile(ctx, rec); err != nil {
				return d.storeFailure("update", item.Path, err)
			}
		}

		return d.tagIfStale(item, rec)
	}

	item.Checksum = rec.Checksum

	if changed || rec.Checksum == "" {
		item.Status = m.StatusCompare
		return d.checksum(item)
	}

	return d.tagIfStale(item, rec)
}

func (d *Dispatcher) onChecksum(ctx context.Context, env envelope) error {
	if env.err != nil {
		d.recordError(env.err)
		return nil
	}

	item := env.item
	d.summary.Checksummed++

	rec, err := d.store.GetFile(ctx, item.Path)
	if err != nil {
		return d.storeFailure("get", item.Path, err)
	}

	if item.Status == m.StatusCompute {
		rec = d.refresh(rec, item, item.Checksum)
		if err := d.store.UpdateFile(ctx, rec); err != nil {
			return d.storeFailure("update", item.Path, err)
		}

		return d.tag(item)
	}

	digest := item.Compare
	item.Compare = ""

	if digest != rec.Checksum || !rec.Registered() {
		slog.Debug("Content changed", "path", item.Path)

		rec = d.refresh(rec, item, digest)
		if err := d.store.UpdateFile(ctx, rec); err != nil {
			return d.storeFailure("update", item.Path, err)
		}

		item.Checksum = digest

		return d.tag(item)
	}

	rec.Size = item.Size
	rec.MTime = item.MTime

	if err := d.store.UpdateFile(ctx, rec); err != nil {
		return d.storeFailure("update", item.Path, err)
	}

	return d.tagIfStale(item, rec)
}

// refresh copies the snapshot of item and digest into rec and marks it for
// tagging.
func (d *Dispatcher) refresh(rec *m.FileRecord, item *m.WorkItem, digest string) *m.FileRecord {
	rec.Size = item.Size
	rec.MTime = item.MTime
	rec.User = item.User
	rec.Group = item.Group
	rec.Checksum = digest
	rec.MustTag = true

	return rec
}

func (d *Dispatcher) onRegistered(ctx context.Context, env envelope) error {
	if env.err != nil {
		d.recordError(env.err)

		if env.item == nil {
			return nil
		}

		d.summary.Tagged++

		if err := d.store.StageRegistration(ctx, d.scanID, env.item.Path, env.item.Tags); err != nil {
			return d.storeFailure("stage", env.item.Path, err)
		}

		return nil
	}

	item := env.item
	d.summary.Tagged++
	d.summary.Registered++

	if err := d.store.MarkRegistered(ctx, item.Path, *item.RTime, d.era); err != nil {
		return d.storeFailure("mark registered", item.Path, err)
	}

	return nil
}

// tagIfStale sends item to tagging when rec was never registered, is marked
// for tagging, or was tagged under an older rule era. Otherwise the item is
// complete.
func (d *Dispatcher) tagIfStale(item *m.WorkItem, rec *m.FileRecord) error {
	if !rec.Registered() || rec.MustTag || rec.TagEra < d.era {
		return d.tag(item)
	}

	slog.Debug("Skipping unchanged entry", "path", item.Path)
	d.summary.Skipped++
	d.metrics.item(m.StageDispatcher, outcomeSkipped)

	return nil
}

func (d *Dispatcher) checksum(item *m.WorkItem) error {
	if err := d.toChecksum.Push(item); err != nil {
		return fmt.Errorf("queue %s for checksum: %w", item.Path, err)
	}

	return nil
}

func (d *Dispatcher) tag(item *m.WorkItem) error {
	item.Tags = nil

	if err := d.toTag.Push(item); err != nil {
		return fmt.Errorf("queue %s for tagging: %w", item.Path, err)
	}

	return nil
}

func (d *Dispatcher) recordError(err *m.ItemError) {
	d.summary.Errors = append(d.summary.Errors, err)
}

func (d *Dispatcher) storeFailure(op string, path m.Path, err error) error {
	slog.Error("State store failure", "op", op, "path", path, "error", err)
	return fmt.Errorf("state store %s %s: %w", op, path, err)
}

func sameSize(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}
