package domain

import (
	"context"
	"log/slog"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

// Tagger derives the tags of a work item.
type Tagger interface {
	Tag(ctx context.Context, item *m.WorkItem) (m.TagSet, error)
}

// Tag applies the rule set to each item.
type Tag struct {
	tagger  Tagger
	metrics *Metrics
}

// NewTag creates the Tag stage.
func NewTag(tagger Tagger, metrics *Metrics) *Tag {
	return &Tag{tagger: tagger, metrics: metrics}
}

// Run tags every item received on in and forwards it to registration.
func (t *Tag) Run(ctx context.Context, in <-chan *m.WorkItem, out chan<- envelope) error {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-in:
			if !ok {
				return nil
			}

			tags, err := t.tagger.Tag(ctx, item)
			if err != nil {
				slog.Warn("Failed to tag item", "path", item.Path, "error", err)
				t.metrics.item(m.StageTag, outcomeError)

				if err := send(ctx, out, failed(nil, item.Path, m.StageTag, err)); err != nil {
					return err
				}

				continue
			}

			item.Tags = tags
			item.Status = m.StatusRegister
			t.metrics.item(m.StageTag, outcomeOK)

			slog.Debug("Tagged item", "path", item.Path, "tags", tags.Names())

			if err := send(ctx, out, envelope{item: item}); err != nil {
				return err
			}
		}
	}
}
