package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

// File is the on-disk layout of a rules file.
type File struct {
	Rules []m.RuleDefinition `yaml:"rules"`
}

// LoadFile reads rule definitions from a YAML rules file.
func LoadFile(path string) ([]m.RuleDefinition, error) {
	// #nosec G304 - path is supplied by the operator's configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	return file.Rules, nil
}

// WithDefaultName prepends the default identity rule unless one of defs can
// already produce the identity tag.
func WithDefaultName(defs []m.RuleDefinition, endpoint string) []m.RuleDefinition {
	for _, def := range defs {
		if namesIdentity(def) {
			return defs
		}
	}

	return append([]m.RuleDefinition{DefaultNameRule(endpoint)}, defs...)
}

func namesIdentity(def m.RuleDefinition) bool {
	if def.Kind == m.RuleKindLine {
		for _, line := range def.LineRules {
			if patternNamesIdentity(line) {
				return true
			}
		}

		return false
	}

	return patternNamesIdentity(def.PatternRule)
}

func patternNamesIdentity(rule m.PatternRule) bool {
	for _, tag := range rule.Tags {
		if tag == m.IdentityTag {
			return true
		}
	}

	if _, ok := rule.Constants[m.IdentityTag]; ok {
		return true
	}

	return rule.Extract == m.ExtractNamed && containsNamedGroup(rule.Pattern, m.IdentityTag)
}

func containsNamedGroup(pattern, name string) bool {
	for _, marker := range []string{"(?P<" + name + ">", "(?<" + name + ">"} {
		if strings.Contains(pattern, marker) {
			return true
		}
	}

	return false
}
