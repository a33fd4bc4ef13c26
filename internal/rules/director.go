package rules

import (
	"context"
	"fmt"
	"log/slog"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

// Director applies an ordered rule list to work items.
type Director struct {
	rules []*Rule
	open  Opener
}

// NewDirector creates a Director over compiled rules. A nil opener reads
// files from disk.
func NewDirector(rules []*Rule, open Opener) *Director {
	if open == nil {
		open = OpenFile
	}

	return &Director{rules: rules, open: open}
}

// Tag applies every rule to item and unions the results. Line rules are not
// applied to directories. The result must carry the identity tag.
func (d *Director) Tag(ctx context.Context, item *m.WorkItem) (m.TagSet, error) {
	tags := m.TagSet{}
	path := string(item.Path)

	for i, rule := range d.rules {
		if rule.Kind == m.RuleKindLine && item.IsDir() {
			continue
		}

		result, err := Evaluate(ctx, rule, path, d.open)
		if err != nil {
			slog.Warn("Rule evaluation failed", "path", path, "rule", i, "error", err)
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		tags.Union(result)
	}

	if !tags.Has(m.IdentityTag) {
		return nil, fmt.Errorf("%w %q for %s", ErrMissingIdentityTag, m.IdentityTag, path)
	}

	return tags, nil
}
