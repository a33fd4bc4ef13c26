// Package domain implements the outbox pipeline: the Find, Checksum, Tag and
// Register stages and the Dispatcher that coordinates them.
package domain

import (
	"errors"
	"fmt"
	"regexp"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

// ModeRegister enables registration of files or directories.
const ModeRegister = "register"

// Defaults applied to unset sizes.
const (
	DefaultBatchMax      = 1000
	DefaultBacklogMemory = 10000
)

// ErrInvalidConfig is returned for unusable pipeline settings.
var ErrInvalidConfig = errors.New("invalid outbox configuration")

// Config holds the pipeline settings.
type Config struct {
	Roots   []m.Path
	Include []string
	Exclude []string
	// FileMode and DirMode are ModeRegister or empty.
	FileMode string
	DirMode  string

	BatchMax      int
	BacklogMemory int
	// SpillDir holds backlog spill files; empty means os.TempDir.
	SpillDir string

	// RuleFingerprint identifies the effective rule set.
	RuleFingerprint string
}

func (c Config) withDefaults() Config {
	if c.BatchMax <= 0 {
		c.BatchMax = DefaultBatchMax
	}

	if c.BacklogMemory <= 0 {
		c.BacklogMemory = DefaultBacklogMemory
	}

	return c
}

// Validate checks the modes and patterns.
func (c Config) Validate() error {
	for _, mode := range []string{c.FileMode, c.DirMode} {
		if mode != "" && mode != ModeRegister {
			return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, mode)
		}
	}

	if _, err := compilePatterns(c.Include); err != nil {
		return err
	}

	if _, err := compilePatterns(c.Exclude); err != nil {
		return err
	}

	return nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))

	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %w", ErrInvalidConfig, pattern, err)
		}

		compiled = append(compiled, re)
	}

	return compiled, nil
}
