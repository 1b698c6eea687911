// Package hierarchy infers the three-tier Grand Net / Net / Subnet structure
// over a codeframe and renders coded responses as a wide binary-encoded table.
package hierarchy

import (
	"regexp"

	"codeframe/internal/taxonomy"
)

// =============================================================================
// LEVEL CLASSIFICATION
// =============================================================================

// LevelClassifier assigns a hierarchy level to a code within its codeframe.
// Level inference from labels is inherently fuzzy, so the strategy is
// pluggable: a structured taxonomy source can bypass heuristics entirely.
type LevelClassifier interface {
	Classify(code taxonomy.Code, cf *taxonomy.Codeframe) taxonomy.HierarchyLevel
}

// grandNetPattern matches sentiment/aggregate vocabulary as whole words.
var grandNetPattern = regexp.MustCompile(`(?i)\b(positive|negative|overall|general)\b`)

// HeuristicClassifier is the default label-and-reference strategy:
//
//   - grand_net when the label carries sentiment/aggregate vocabulary
//     ("positive", "negative", "overall", "general") as a whole word;
//   - net when at least one other code names this code as its parent;
//   - subnet otherwise.
//
// A code with children is an aggregate regardless of its own ParentID, so a
// middle tier classifies as net while leaves with parents stay subnet.
type HeuristicClassifier struct{}

// Classify implements LevelClassifier.
func (HeuristicClassifier) Classify(code taxonomy.Code, cf *taxonomy.Codeframe) taxonomy.HierarchyLevel {
	if grandNetPattern.MatchString(code.Label) {
		return taxonomy.LevelGrandNet
	}
	if cf != nil {
		for _, other := range cf.Codes {
			if other.ID != code.ID && other.ParentID == code.ID {
				return taxonomy.LevelNet
			}
		}
	}
	return taxonomy.LevelSubnet
}

// ExplicitClassifier trusts caller-supplied levels and falls back to the
// heuristic for codes it has no entry for.
type ExplicitClassifier struct {
	Levels   map[string]taxonomy.HierarchyLevel
	fallback HeuristicClassifier
}

// NewExplicitClassifier creates a classifier over a fixed id-to-level map.
func NewExplicitClassifier(levels map[string]taxonomy.HierarchyLevel) *ExplicitClassifier {
	return &ExplicitClassifier{Levels: levels}
}

// Classify implements LevelClassifier.
func (e *ExplicitClassifier) Classify(code taxonomy.Code, cf *taxonomy.Codeframe) taxonomy.HierarchyLevel {
	if level, ok := e.Levels[code.ID]; ok {
		return level
	}
	return e.fallback.Classify(code, cf)
}
