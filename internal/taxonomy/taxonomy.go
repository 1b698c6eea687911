// Package taxonomy defines the passive data model shared by every engine
// component: codes, codeframes, coded responses, and question groups.
// Nothing in this package talks to the oracle or performs I/O; the types are
// plain data so that snapshots stay trivially deep-copyable.
package taxonomy

import (
	"fmt"
	"strings"
)

// =============================================================================
// HIERARCHY LEVELS
// =============================================================================

// HierarchyLevel tags a code's position in the three-tier aggregation
// hierarchy, broadest to narrowest.
type HierarchyLevel string

const (
	LevelGrandNet HierarchyLevel = "grand_net"
	LevelNet      HierarchyLevel = "net"
	LevelSubnet   HierarchyLevel = "subnet"
)

// Tag returns the display tag used in wide-table column names.
func (l HierarchyLevel) Tag() string {
	switch l {
	case LevelGrandNet:
		return "Grand Net"
	case LevelNet:
		return "Net"
	default:
		return "Subnet"
	}
}

// =============================================================================
// CODE
// =============================================================================

// Code is a single taxonomy entry.
//
// ParentID is a weak, id-based reference into the owning Codeframe; it is
// never an embedded pointer. Percentage is always derived from Count and the
// group's response total and must be recomputed whenever membership changes.
type Code struct {
	ID         string   `json:"id" yaml:"id"`
	NumericID  int      `json:"numericId" yaml:"numeric_id"`
	Label      string   `json:"label" yaml:"label"`
	Definition string   `json:"definition" yaml:"definition"`
	Examples   []string `json:"examples,omitempty" yaml:"examples,omitempty"`
	Count      int      `json:"count" yaml:"count"`
	Percentage float64  `json:"percentage" yaml:"percentage"`
	ParentID   string   `json:"parentId,omitempty" yaml:"parent_id,omitempty"`
}

// IsCatchAll reports whether this code functions as the catch-all bucket.
func (c Code) IsCatchAll() bool {
	return strings.EqualFold(strings.TrimSpace(c.Label), CatchAllLabel)
}

// CatchAllLabel is the canonical label of the catch-all code.
const CatchAllLabel = "Other"

// CatchAllID is the id used when the engine has to synthesize a catch-all.
const CatchAllID = "other"

// =============================================================================
// CODEFRAME
// =============================================================================

// Codeframe is an ordered sequence of codes for one question group. Order is
// meaningful for display but not for matching.
type Codeframe struct {
	Codes []Code `json:"codes" yaml:"codes"`
}

// NewCodeframe wraps the given codes without copying.
func NewCodeframe(codes ...Code) *Codeframe {
	return &Codeframe{Codes: codes}
}

// Len returns the number of codes.
func (cf *Codeframe) Len() int {
	if cf == nil {
		return 0
	}
	return len(cf.Codes)
}

// Index returns a map from code id to position in the ordered sequence.
func (cf *Codeframe) Index() map[string]int {
	idx := make(map[string]int, len(cf.Codes))
	for i, c := range cf.Codes {
		idx[c.ID] = i
	}
	return idx
}

// Get returns the code with the given id.
func (cf *Codeframe) Get(id string) (Code, bool) {
	for _, c := range cf.Codes {
		if c.ID == id {
			return c, true
		}
	}
	return Code{}, false
}

// ParentOf resolves a code's ParentID within this codeframe. Returns false
// when the code has no parent or the reference does not resolve.
func (cf *Codeframe) ParentOf(c Code) (Code, bool) {
	if c.ParentID == "" {
		return Code{}, false
	}
	return cf.Get(c.ParentID)
}

// CatchAll returns the catch-all code, if present.
func (cf *Codeframe) CatchAll() (Code, bool) {
	for _, c := range cf.Codes {
		if c.IsCatchAll() {
			return c, true
		}
	}
	return Code{}, false
}

// EnsureCatchAll appends a zero-count "Other" code when generation supplied
// none. NumericID continues the existing sequence.
func (cf *Codeframe) EnsureCatchAll() {
	if _, ok := cf.CatchAll(); ok {
		return
	}
	next := 0
	for _, c := range cf.Codes {
		if c.NumericID > next {
			next = c.NumericID
		}
	}
	cf.Codes = append(cf.Codes, Code{
		ID:        CatchAllID,
		NumericID: next + 1,
		Label:     CatchAllLabel,
		Count:     0,
	})
}

// EnsureNumericIDs synthesizes a NumericID from the 1-based position for any
// code the oracle returned without one.
func (cf *Codeframe) EnsureNumericIDs() {
	for i := range cf.Codes {
		if cf.Codes[i].NumericID == 0 {
			cf.Codes[i].NumericID = i + 1
		}
	}
}

// RecomputeStats recounts every code's Count from the given responses and
// re-derives Percentage against totalResponses. Counts are group-local:
// totalResponses is the number of responses in the owning group, never a
// global total.
func (cf *Codeframe) RecomputeStats(responses []CodedResponse, totalResponses int) {
	counts := make(map[string]int, len(cf.Codes))
	for _, r := range responses {
		for _, id := range r.CodesAssigned {
			counts[id]++
		}
	}
	for i := range cf.Codes {
		cf.Codes[i].Count = counts[cf.Codes[i].ID]
		if totalResponses > 0 {
			cf.Codes[i].Percentage = float64(cf.Codes[i].Count) / float64(totalResponses) * 100
		} else {
			cf.Codes[i].Percentage = 0
		}
	}
}

// DeepCopy returns an independent copy of the codeframe. ParentID links are
// id-based, so copying the slice (plus each Examples slice) is a full deep
// copy.
func (cf *Codeframe) DeepCopy() *Codeframe {
	if cf == nil {
		return nil
	}
	out := &Codeframe{Codes: make([]Code, len(cf.Codes))}
	copy(out.Codes, cf.Codes)
	for i := range out.Codes {
		if len(cf.Codes[i].Examples) > 0 {
			out.Codes[i].Examples = append([]string(nil), cf.Codes[i].Examples...)
		}
	}
	return out
}

// Validate checks the codeframe invariants: unique ids and exactly one
// catch-all entry.
func (cf *Codeframe) Validate() error {
	seen := make(map[string]bool, len(cf.Codes))
	catchAlls := 0
	for _, c := range cf.Codes {
		if c.ID == "" {
			return fmt.Errorf("code %q has empty id", c.Label)
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate code id %q", c.ID)
		}
		seen[c.ID] = true
		if c.IsCatchAll() {
			catchAlls++
		}
	}
	if catchAlls != 1 {
		return fmt.Errorf("expected exactly one catch-all code, found %d", catchAlls)
	}
	return nil
}

// =============================================================================
// CODED RESPONSES
// =============================================================================

// CodedResponse is one verbatim answer instance with its assigned code ids.
// Every id in CodesAssigned must resolve in the owning group's codeframe;
// unresolved ids are rejected at merge time, never silently dropped.
type CodedResponse struct {
	Text          string   `json:"text"`
	CodesAssigned []string `json:"codesAssigned"`
	ColumnID      string   `json:"columnId"`
	RowID         string   `json:"rowId"`
}

// HasCode reports whether the response carries the given code id.
func (r CodedResponse) HasCode(id string) bool {
	for _, c := range r.CodesAssigned {
		if c == id {
			return true
		}
	}
	return false
}

// =============================================================================
// QUESTION GROUPS
// =============================================================================

// CellValue is one respondent's verbatim text in one column.
type CellValue struct {
	RowID string `json:"rowId"`
	Text  string `json:"text"`
}

// Column is one open-ended response column with typed metadata.
type Column struct {
	Name      string      `json:"name"`
	Index     int         `json:"index"`
	Responses []CellValue `json:"responses"`
}

// QuestionGroup is a named set of columns sharing one question type. Each
// group owns exactly one generated codeframe. Groups are created during
// setup and immutable once generation starts; the orchestrator references
// them, never duplicates them.
type QuestionGroup struct {
	ID           string   `json:"id"`
	QuestionType string   `json:"questionType"`
	Columns      []Column `json:"columns"`
}

// ResponseTotal returns the number of verbatim responses across the group's
// columns. This is the group-local denominator for percentage stats.
func (g QuestionGroup) ResponseTotal() int {
	n := 0
	for _, col := range g.Columns {
		n += len(col.Responses)
	}
	return n
}

// =============================================================================
// HIERARCHICAL CODES (derived)
// =============================================================================

// HierarchicalCode is a code annotated with its inferred level and resolved
// relations. It is rebuilt on demand from a codeframe and never persisted.
type HierarchicalCode struct {
	Code     Code
	Level    HierarchyLevel
	ParentID string
	ChildIDs []string
}
