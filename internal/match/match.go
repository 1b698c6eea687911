// Package match assigns existing codes to verbatim responses with a
// transparent, re-derivable confidence score. It is intentionally not a
// learned model: the same (response, codeframe) pair always produces the
// same ordered result, so coded output stays auditable.
package match

import (
	"sort"
	"strings"
	"unicode"

	"codeframe/internal/logging"
	"codeframe/internal/taxonomy"
)

// DefaultThreshold is the minimum summed confidence for a code to apply.
const DefaultThreshold = 0.2

// Per-contribution weights.
const (
	keywordWeight = 0.3
	exampleWeight = 0.5
	minTokenLen   = 4 // tokens shorter than this never match
)

// stopWords are common tokens excluded from keyword rules.
var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "what": true, "when": true, "they": true,
	"their": true, "there": true, "which": true, "would": true,
	"about": true, "your": true, "because": true, "really": true,
	"very": true, "just": true, "like": true, "them": true,
}

// Scored is one applying code with its confidence.
type Scored struct {
	CodeID     string
	Confidence float64
}

// rule is the compiled matcher for one code.
type rule struct {
	codeID   string
	keywords []string // deduplicated, lowercased, len > 3, stop-listed
	examples []string // raw example phrases for phrase-level overlap
}

// Engine matches responses against a loaded codeframe. The codeframe is
// borrowed read-only; rules are compiled once per Load.
type Engine struct {
	threshold float64
	rules     []rule
}

// NewEngine creates a matching engine with the given confidence threshold.
// A non-positive threshold falls back to DefaultThreshold.
func NewEngine(threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Load compiles one rule per code in the codeframe. Rules keep the
// codeframe's order so confidence ties resolve deterministically.
func (e *Engine) Load(cf *taxonomy.Codeframe) {
	timer := logging.StartTimer(logging.CategoryMatch, "Engine.Load")
	defer timer.Stop()

	e.rules = e.rules[:0]
	if cf == nil {
		return
	}
	for _, code := range cf.Codes {
		e.rules = append(e.rules, compileRule(code))
	}
	logging.MatchDebug("Compiled %d rules", len(e.rules))
}

// compileRule extracts the keyword set and retains raw examples for one code.
// Keywords come from the label, definition, and all examples.
func compileRule(code taxonomy.Code) rule {
	seen := make(map[string]bool)
	var keywords []string

	addTokens := func(text string) {
		for _, tok := range tokenize(text) {
			if len(tok) < minTokenLen || stopWords[tok] || seen[tok] {
				continue
			}
			seen[tok] = true
			keywords = append(keywords, tok)
		}
	}

	addTokens(code.Label)
	addTokens(code.Definition)
	for _, ex := range code.Examples {
		addTokens(ex)
	}

	return rule{
		codeID:   code.ID,
		keywords: keywords,
		examples: append([]string(nil), code.Examples...),
	}
}

// tokenize lower-cases and splits on non-letter boundaries.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// Match scores the response against every compiled rule and returns all
// applying codes sorted by descending confidence. Ties keep codeframe
// order. Pure function of (response, loaded codeframe): no side effects,
// empty input yields an empty result.
func (e *Engine) Match(response string) []Scored {
	if strings.TrimSpace(response) == "" {
		return nil
	}

	lowered := strings.ToLower(response)

	var results []Scored
	for _, r := range e.rules {
		conf := r.score(lowered)
		if conf > e.threshold {
			results = append(results, Scored{CodeID: r.codeID, Confidence: conf})
		}
	}

	// Stable sort preserves codeframe order for equal confidences.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results
}

// score sums keyword and example-phrase contributions, capped at 1.0.
func (r rule) score(lowered string) float64 {
	conf := 0.0

	for _, kw := range r.keywords {
		if strings.Contains(lowered, kw) {
			conf += keywordWeight
		}
	}

	for _, phrase := range r.examples {
		words := tokenize(phrase)
		if len(words) == 0 {
			continue
		}
		matching := 0
		for _, w := range words {
			if len(w) >= minTokenLen && strings.Contains(lowered, w) {
				matching++
			}
		}
		conf += float64(matching) / float64(len(words)) * exampleWeight
	}

	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// Match is the standalone entrypoint: compile the codeframe's rules with the
// default threshold and score one response.
func Match(response string, cf *taxonomy.Codeframe) []Scored {
	e := NewEngine(DefaultThreshold)
	e.Load(cf)
	return e.Match(response)
}

// Apply re-applies a frozen codeframe to a set of verbatim cells, producing
// coded responses. Used to code rows the oracle never saw, or to re-code a
// new wave against a finalized taxonomy.
func (e *Engine) Apply(columnID string, cells []taxonomy.CellValue) []taxonomy.CodedResponse {
	timer := logging.StartTimer(logging.CategoryMatch, "Engine.Apply")
	defer timer.Stop()

	out := make([]taxonomy.CodedResponse, 0, len(cells))
	for _, cell := range cells {
		scored := e.Match(cell.Text)
		ids := make([]string, 0, len(scored))
		for _, s := range scored {
			ids = append(ids, s.CodeID)
		}
		out = append(out, taxonomy.CodedResponse{
			Text:          cell.Text,
			CodesAssigned: ids,
			ColumnID:      columnID,
			RowID:         cell.RowID,
		})
	}
	return out
}
