package model

import (
	"slices"
	"sort"
)

// IdentityTag is the tag that names a subject in the remote catalog.
const IdentityTag = "name"

// TagSet maps a tag name to its set of values. Value slices are kept sorted
// and free of duplicates so equal sets compare equal.
type TagSet map[string][]string

// NewTagSet builds a TagSet from name/value pairs.
func NewTagSet(pairs ...string) TagSet {
	tags := TagSet{}
	for i := 0; i+1 < len(pairs); i += 2 {
		tags.Add(pairs[i], pairs[i+1])
	}

	return tags
}

// Add inserts value into the set for name.
func (t TagSet) Add(name, value string) {
	values := t[name]

	idx, found := slices.BinarySearch(values, value)
	if found {
		return
	}

	t[name] = slices.Insert(values, idx, value)
}

// Union merges other into t. Value sets are unioned, never overwritten.
func (t TagSet) Union(other TagSet) {
	for name, values := range other {
		for _, value := range values {
			t.Add(name, value)
		}
	}
}

// Values returns the sorted values of name.
func (t TagSet) Values(name string) []string {
	return t[name]
}

// Has reports whether name carries at least one non-empty value.
func (t TagSet) Has(name string) bool {
	for _, value := range t[name] {
		if value != "" {
			return true
		}
	}

	return false
}

// Names returns the tag names in sorted order.
func (t TagSet) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Identity returns the first identity tag value, or "" when absent.
func (t TagSet) Identity() string {
	for _, value := range t[IdentityTag] {
		if value != "" {
			return value
		}
	}

	return ""
}

// Clone returns a deep copy of t.
func (t TagSet) Clone() TagSet {
	out := make(TagSet, len(t))
	for name, values := range t {
		out[name] = slices.Clone(values)
	}

	return out
}
