// Package rules implements the regular expression rule language used to
// derive catalog tags from file paths and file content.
package rules

import (
	"fmt"
	"regexp"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

// legacyGroupRef matches \g<name>, \g<1> and \1 group references.
var legacyGroupRef = regexp.MustCompile(`\\g<(\w+)>|\\(\d+)`)

type rewrite struct {
	pattern  *regexp.Regexp
	template string
}

// patternRule is a compiled m.PatternRule.
type patternRule struct {
	prepattern *patternRule
	pattern    *regexp.Regexp
	apply      m.ApplyMode
	extract    m.ExtractMode
	tags       []string
	templates  []string
	constants  m.TagSet
	rewrites   []rewrite
}

// compilePattern compiles def. A gate is only ever tested, so it needs no
// extraction settings.
func compilePattern(def m.PatternRule, gate bool) (*patternRule, error) {
	rule := &patternRule{
		apply:     def.Apply,
		extract:   def.Extract,
		tags:      def.Tags,
		constants: m.TagSet{},
	}

	if rule.apply == "" {
		rule.apply = m.ApplyMatch
	}

	if rule.extract == "" {
		rule.extract = m.ExtractSingle
	}

	switch rule.apply {
	case m.ApplyMatch, m.ApplySearch, m.ApplyFindAll:
	default:
		return nil, fmt.Errorf("%w: apply %q", ErrInvalidRule, rule.apply)
	}

	switch rule.extract {
	case m.ExtractConstants, m.ExtractNamed:
	case m.ExtractSingle, m.ExtractPositional:
		if len(rule.tags) == 0 && !gate {
			return nil, fmt.Errorf("%w: extract %q requires tags", ErrInvalidRule, rule.extract)
		}
	case m.ExtractTemplate:
		if len(def.Templates) != len(def.Tags) {
			return nil, fmt.Errorf("%w: %d templates for %d tags", ErrInvalidRule, len(def.Templates), len(def.Tags))
		}
	default:
		return nil, fmt.Errorf("%w: extract %q", ErrInvalidRule, rule.extract)
	}

	pattern, err := regexp.Compile(def.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %w", ErrInvalidRule, def.Pattern, err)
	}

	rule.pattern = pattern

	for _, tmpl := range def.Templates {
		rule.templates = append(rule.templates, convertTemplate(tmpl))
	}

	for name, values := range def.Constants {
		for _, value := range values {
			rule.constants.Add(name, value)
		}
	}

	for _, rw := range def.Rewrites {
		rwPattern, err := regexp.Compile(rw.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rewrite %q: %w", ErrInvalidRule, rw.Pattern, err)
		}

		rule.rewrites = append(rule.rewrites, rewrite{pattern: rwPattern, template: convertTemplate(rw.Template)})
	}

	if def.Prepattern != nil {
		pre, err := compilePattern(*def.Prepattern, true)
		if err != nil {
			return nil, fmt.Errorf("prepattern: %w", err)
		}

		rule.prepattern = pre
	}

	return rule, nil
}

// convertTemplate turns \g<name> and \1 references into ${name} and ${1}.
func convertTemplate(tmpl string) string {
	return legacyGroupRef.ReplaceAllString(tmpl, "$${$1$2}")
}

// Test reports whether s passes the prepattern and pattern.
func (r *patternRule) Test(s string) bool {
	if r.prepattern != nil && !r.prepattern.Test(s) {
		return false
	}

	return r.find(s) != nil
}

// Analyze returns the tags extracted from s.
func (r *patternRule) Analyze(s string) m.TagSet {
	if r.prepattern != nil && !r.prepattern.Test(s) {
		return m.TagSet{}
	}

	switch r.apply {
	case m.ApplyFindAll:
		tags := m.TagSet{}
		for _, loc := range r.pattern.FindAllStringSubmatchIndex(s, -1) {
			tags.Union(r.extractFrom(s, loc))
		}

		return tags
	default:
		loc := r.find(s)
		if loc == nil {
			return m.TagSet{}
		}

		return r.extractFrom(s, loc)
	}
}

// find returns the submatch index of the first match allowed by the apply mode.
func (r *patternRule) find(s string) []int {
	loc := r.pattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return nil
	}

	// The leftmost match starts at 0 whenever any match anchored at 0 exists.
	if r.apply == m.ApplyMatch && loc[0] != 0 {
		return nil
	}

	return loc
}

func (r *patternRule) extractFrom(s string, loc []int) m.TagSet {
	tags := m.TagSet{}

	switch r.extract {
	case m.ExtractConstants:
		tags.Union(r.constants)
	case m.ExtractSingle:
		tags.Add(r.tags[0], r.rewrite(s[loc[0]:loc[1]]))
	case m.ExtractPositional:
		for i, name := range r.tags {
			if name == "" {
				continue
			}

			if group, ok := submatch(s, loc, i+1); ok {
				r.addValue(tags, name, group)
			}
		}
	case m.ExtractNamed:
		for i, name := range r.pattern.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}

			if group, ok := submatch(s, loc, i); ok {
				r.addValue(tags, name, group)
			}
		}
	case m.ExtractTemplate:
		for i, name := range r.tags {
			expanded := r.pattern.ExpandString(nil, r.templates[i], s, loc)
			tags.Add(name, r.rewrite(string(expanded)))
		}
	}

	return tags
}

// addValue rewrites a captured group and stores it unless it ends up empty.
// Single and template extraction keep empty values.
func (r *patternRule) addValue(tags m.TagSet, name, value string) {
	value = r.rewrite(value)
	if value == "" {
		return
	}

	tags.Add(name, value)
}

func (r *patternRule) rewrite(value string) string {
	for _, rw := range r.rewrites {
		value = rw.pattern.ReplaceAllString(value, rw.template)
	}

	return value
}

// submatch returns group n of the match at loc, if it participated.
func submatch(s string, loc []int, n int) (string, bool) {
	if 2*n+1 >= len(loc) || loc[2*n] < 0 {
		return "", false
	}

	return s[loc[2*n]:loc[2*n+1]], true
}
