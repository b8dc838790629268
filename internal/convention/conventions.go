// Package convention encodes and decodes typed issue fields to and from
// the untyped remote representation (title, body, labels, state,
// assignees). Labels carry type, priority, and in-progress status; the
// body carries relationships in a marked metadata block.
package convention

import (
	"fmt"
	"regexp"

	"github.com/dot-do/todo/internal/types"
)

// Marker precedes the relation lines in the body metadata block. Issues
// written by this codec always carry it so decode can find the block.
const Marker = "<!-- sync-metadata - do not edit below -->"

// Conventions holds the configurable mapping rules. Zero values are not
// usable; build with Default or Default().Merge(overrides).
type Conventions struct {
	TypeMap           map[types.IssueType]string `mapstructure:"type_map" yaml:"type_map"`
	PriorityMap       map[int]string             `mapstructure:"priority_map" yaml:"priority_map"`
	InProgressLabel   string                     `mapstructure:"in_progress_label" yaml:"in_progress_label"`
	DependencyPattern string                     `mapstructure:"dependency_pattern" yaml:"dependency_pattern"`
	BlocksPattern     string                     `mapstructure:"blocks_pattern" yaml:"blocks_pattern"`
	ParentPattern     string                     `mapstructure:"parent_pattern" yaml:"parent_pattern"`
	Separator         string                     `mapstructure:"separator" yaml:"separator"`
}

// Overrides carries partial convention settings that deep-merge onto the
// defaults: map entries override per key, empty strings keep the default.
type Overrides struct {
	TypeMap           map[string]string `mapstructure:"type_map" yaml:"type_map"`
	PriorityMap       map[int]string    `mapstructure:"priority_map" yaml:"priority_map"`
	InProgressLabel   string            `mapstructure:"in_progress_label" yaml:"in_progress_label"`
	DependencyPattern string            `mapstructure:"dependency_pattern" yaml:"dependency_pattern"`
	BlocksPattern     string            `mapstructure:"blocks_pattern" yaml:"blocks_pattern"`
	ParentPattern     string            `mapstructure:"parent_pattern" yaml:"parent_pattern"`
	Separator         string            `mapstructure:"separator" yaml:"separator"`
}

// Default returns the default conventions.
func Default() Conventions {
	return Conventions{
		TypeMap: map[types.IssueType]string{
			types.TypeBug:     "bug",
			types.TypeFeature: "enhancement",
			types.TypeTask:    "task",
			types.TypeEpic:    "epic",
			types.TypeChore:   "chore",
		},
		PriorityMap: map[int]string{
			0: "P0",
			1: "P1",
			2: "P2",
			3: "P3",
			4: "P4",
		},
		InProgressLabel:   "status:in-progress",
		DependencyPattern: `(?m)^Depends on:\s*(.+)$`,
		BlocksPattern:     `(?m)^Blocks:\s*(.+)$`,
		ParentPattern:     `(?m)^Parent:\s*(.+)$`,
		Separator:         "---",
	}
}

// Merge returns a copy of c with the overrides applied.
func (c Conventions) Merge(o Overrides) Conventions {
	merged := Conventions{
		TypeMap:           make(map[types.IssueType]string, len(c.TypeMap)),
		PriorityMap:       make(map[int]string, len(c.PriorityMap)),
		InProgressLabel:   c.InProgressLabel,
		DependencyPattern: c.DependencyPattern,
		BlocksPattern:     c.BlocksPattern,
		ParentPattern:     c.ParentPattern,
		Separator:         c.Separator,
	}
	for k, v := range c.TypeMap {
		merged.TypeMap[k] = v
	}
	for k, v := range c.PriorityMap {
		merged.PriorityMap[k] = v
	}

	for k, v := range o.TypeMap {
		merged.TypeMap[types.IssueType(k)] = v
	}
	for k, v := range o.PriorityMap {
		merged.PriorityMap[k] = v
	}
	if o.InProgressLabel != "" {
		merged.InProgressLabel = o.InProgressLabel
	}
	if o.DependencyPattern != "" {
		merged.DependencyPattern = o.DependencyPattern
	}
	if o.BlocksPattern != "" {
		merged.BlocksPattern = o.BlocksPattern
	}
	if o.ParentPattern != "" {
		merged.ParentPattern = o.ParentPattern
	}
	if o.Separator != "" {
		merged.Separator = o.Separator
	}
	return merged
}

// Codec performs the conversions for one set of conventions.
type Codec struct {
	conv     Conventions
	typeFor  map[string]types.IssueType // label -> type
	prioFor  map[string]int             // label -> priority
	depRe    *regexp.Regexp
	blocksRe *regexp.Regexp
	parentRe *regexp.Regexp
}

// NewCodec compiles the conventions' relation patterns and inverts the
// label maps for decoding. Returns an error for invalid regex patterns.
func NewCodec(conv Conventions) (*Codec, error) {
	depRe, err := regexp.Compile(conv.DependencyPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid dependency pattern: %w", err)
	}
	blocksRe, err := regexp.Compile(conv.BlocksPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid blocks pattern: %w", err)
	}
	parentRe, err := regexp.Compile(conv.ParentPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid parent pattern: %w", err)
	}

	typeFor := make(map[string]types.IssueType, len(conv.TypeMap))
	for issueType, label := range conv.TypeMap {
		typeFor[label] = issueType
	}
	prioFor := make(map[string]int, len(conv.PriorityMap))
	for priority, label := range conv.PriorityMap {
		prioFor[label] = priority
	}

	return &Codec{
		conv:     conv,
		typeFor:  typeFor,
		prioFor:  prioFor,
		depRe:    depRe,
		blocksRe: blocksRe,
		parentRe: parentRe,
	}, nil
}

// Conventions returns the conventions the codec was built with.
func (c *Codec) Conventions() Conventions {
	return c.conv
}
