package rules

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

var (
	// ErrInvalidRule is returned when a rule definition cannot be compiled.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrMissingIdentityTag is returned when no rule produced the identity tag.
	ErrMissingIdentityTag = errors.New("missing identity tag")
)

// maxLineSize bounds a single line read by a line rule.
const maxLineSize = 1 << 20

// Opener opens a file for line scanning.
type Opener func(path string) (io.ReadCloser, error)

// OpenFile is the default Opener.
func OpenFile(path string) (io.ReadCloser, error) {
	// #nosec G304 - path comes from the configured scan roots
	return os.Open(path)
}

// Rule is a compiled rule. Exactly one variant is populated, selected by Kind.
type Rule struct {
	Kind m.RuleKind

	// path is set for RuleKindPath.
	path *patternRule

	// gate and lines are set for RuleKindLine.
	gate  *patternRule
	lines []*patternRule
}

// Compile builds a Rule from its definition.
func Compile(def m.RuleDefinition) (*Rule, error) {
	kind := def.Kind
	if kind == "" {
		kind = m.RuleKindPath
	}

	switch kind {
	case m.RuleKindPath:
		path, err := compilePattern(def.PatternRule, false)
		if err != nil {
			return nil, err
		}

		return &Rule{Kind: kind, path: path}, nil
	case m.RuleKindLine:
		gateDef := m.PatternRule{Pattern: ".*"}
		if def.PathRule != nil {
			gateDef = *def.PathRule
		}

		gate, err := compilePattern(gateDef, true)
		if err != nil {
			return nil, fmt.Errorf("pathrule: %w", err)
		}

		rule := &Rule{Kind: kind, gate: gate}

		for i, lineDef := range def.LineRules {
			line, err := compilePattern(lineDef, false)
			if err != nil {
				return nil, fmt.Errorf("linerules[%d]: %w", i, err)
			}

			rule.lines = append(rule.lines, line)
		}

		return rule, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidRule, kind)
	}
}

// CompileAll compiles defs in order.
func CompileAll(defs []m.RuleDefinition) ([]*Rule, error) {
	compiled := make([]*Rule, 0, len(defs))

	for i, def := range defs {
		rule, err := Compile(def)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		compiled = append(compiled, rule)
	}

	return compiled, nil
}

// Evaluate applies rule to path. Line rules read the file through open, but
// only after their path gate matched. A read error aborts the rule.
func Evaluate(ctx context.Context, rule *Rule, path string, open Opener) (m.TagSet, error) {
	switch rule.Kind {
	case m.RuleKindPath:
		return rule.path.Analyze(path), nil
	case m.RuleKindLine:
		if !rule.gate.Test(path) {
			return m.TagSet{}, nil
		}

		return evaluateLines(ctx, rule.lines, path, open)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidRule, rule.Kind)
	}
}

func evaluateLines(ctx context.Context, lines []*patternRule, path string, open Opener) (m.TagSet, error) {
	if open == nil {
		open = OpenFile
	}

	f, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	tags := m.TagSet{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := strings.TrimSpace(scanner.Text())
		for _, rule := range lines {
			tags.Union(rule.Analyze(line))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return tags, nil
}

// DefaultNameRule returns the rule that names a subject
// file://<endpoint><path>.
func DefaultNameRule(endpoint string) m.RuleDefinition {
	return m.RuleDefinition{
		Kind: m.RuleKindPath,
		PatternRule: m.PatternRule{
			Pattern:   `^(?P<path>.*)`,
			Extract:   m.ExtractTemplate,
			Tags:      []string{m.IdentityTag},
			Templates: []string{"file://" + strings.ReplaceAll(endpoint, "$", "$$") + "${path}"},
		},
	}
}

// Fingerprint returns a stable digest of the rule definitions. A change in
// the fingerprint means previously tagged files are stale.
func Fingerprint(defs []m.RuleDefinition) (string, error) {
	data, err := json.Marshal(defs)
	if err != nil {
		return "", fmt.Errorf("encode rules: %w", err)
	}

	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}
