package model

// RuleKind selects the rule variant.
type RuleKind string

// Rule kinds.
const (
	RuleKindPath RuleKind = "pathmatch"
	RuleKindLine RuleKind = "linematch"
)

// ApplyMode selects how a pattern is applied to a string.
type ApplyMode string

// Apply modes.
const (
	// ApplyMatch matches at the start of the string.
	ApplyMatch ApplyMode = "match"
	// ApplySearch matches anywhere in the string.
	ApplySearch ApplyMode = "search"
	// ApplyFindAll extracts from every non-overlapping match.
	ApplyFindAll ApplyMode = "finditer"
)

// ExtractMode selects how tag values are extracted from a match.
type ExtractMode string

// Extract modes.
const (
	ExtractConstants  ExtractMode = "constants"
	ExtractSingle     ExtractMode = "single"
	ExtractPositional ExtractMode = "positional"
	ExtractNamed      ExtractMode = "named"
	ExtractTemplate   ExtractMode = "template"
)

// Rewrite replaces every match of Pattern in an extracted value with Template.
type Rewrite struct {
	Pattern  string `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Template string `json:"template" yaml:"template" mapstructure:"template"`
}

// PatternRule is the declarative form of a regular expression rule.
type PatternRule struct {
	Prepattern *PatternRule        `json:"prepattern,omitempty" yaml:"prepattern,omitempty" mapstructure:"prepattern"`
	Pattern    string              `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Apply      ApplyMode           `json:"apply,omitempty" yaml:"apply,omitempty" mapstructure:"apply"`
	Extract    ExtractMode         `json:"extract,omitempty" yaml:"extract,omitempty" mapstructure:"extract"`
	Tags       []string            `json:"tags,omitempty" yaml:"tags,omitempty" mapstructure:"tags"`
	Templates  []string            `json:"templates,omitempty" yaml:"templates,omitempty" mapstructure:"templates"`
	Constants  map[string][]string `json:"constants,omitempty" yaml:"constants,omitempty" mapstructure:"constants"`
	Rewrites   []Rewrite           `json:"rewrites,omitempty" yaml:"rewrites,omitempty" mapstructure:"rewrites"`
}

// RuleDefinition is the declarative form of a path or line rule.
//
// A path rule uses the embedded PatternRule. A line rule uses PathRule as its
// gate (match-everything when nil) and LineRules for the file content.
type RuleDefinition struct {
	PatternRule `yaml:",inline" mapstructure:",squash"`

	Kind      RuleKind      `json:"kind" yaml:"kind" mapstructure:"kind"`
	PathRule  *PatternRule  `json:"pathrule,omitempty" yaml:"pathrule,omitempty" mapstructure:"pathrule"`
	LineRules []PatternRule `json:"linerules,omitempty" yaml:"linerules,omitempty" mapstructure:"linerules"`
}
