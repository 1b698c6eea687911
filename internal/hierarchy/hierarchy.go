package hierarchy

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	"codeframe/internal/logging"
	"codeframe/internal/taxonomy"
)

// =============================================================================
// BUILDER
// =============================================================================

// BuilderConfig holds configuration for the hierarchy builder.
type BuilderConfig struct {
	Classifier  LevelClassifier
	SlotColumns int // fixed numeric-id slot columns per question
}

// DefaultBuilderConfig returns sensible defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Classifier:  HeuristicClassifier{},
		SlotColumns: 10,
	}
}

// Builder derives hierarchical codes from a codeframe and renders coded
// responses into the wide export table.
type Builder struct {
	classifier LevelClassifier
	slots      int
}

// NewBuilder creates a builder with the given configuration.
func NewBuilder(config BuilderConfig) *Builder {
	if config.Classifier == nil {
		config.Classifier = HeuristicClassifier{}
	}
	if config.SlotColumns <= 0 {
		config.SlotColumns = 10
	}
	return &Builder{classifier: config.Classifier, slots: config.SlotColumns}
}

// Hierarchy classifies every code in the codeframe and resolves parent/child
// relations. The result keeps codeframe order and is derived fresh on every
// call, never cached.
func (b *Builder) Hierarchy(cf *taxonomy.Codeframe) []taxonomy.HierarchicalCode {
	if cf == nil {
		return nil
	}

	children := make(map[string][]string)
	for _, c := range cf.Codes {
		if c.ParentID == "" {
			continue
		}
		if _, ok := cf.Get(c.ParentID); ok {
			children[c.ParentID] = append(children[c.ParentID], c.ID)
		}
	}

	out := make([]taxonomy.HierarchicalCode, 0, len(cf.Codes))
	for _, c := range cf.Codes {
		out = append(out, taxonomy.HierarchicalCode{
			Code:     c,
			Level:    b.classifier.Classify(c, cf),
			ParentID: c.ParentID,
			ChildIDs: children[c.ID],
		})
	}
	return out
}

// =============================================================================
// WIDE TABLE
// =============================================================================

// WideTable is the rendered export: one header row and one data row per
// respondent identity.
type WideTable struct {
	Headers []string
	Rows    [][]string
}

// questionPlan is the per-question column layout computed during Render.
type questionPlan struct {
	id       string
	reach    []string // reachable code ids, Subnet then Net then Grand Net
	colIndex map[string]int
	verbatim int
	slot0    int
}

// Render builds the wide table for one question group's codeframe. Responses
// are grouped by question id (the source column name); respondents who
// answered several questions share a single row keyed by RowID, with blank
// verbatim cells for questions they skipped.
//
// Per question the layout is: one verbatim column, then the fixed numeric-id
// slot columns, then one 0/1 column per reachable code ordered Subnet, Net,
// Grand Net so detail stays adjacent to its verbatim source and aggregates
// trail to the right.
func (b *Builder) Render(cf *taxonomy.Codeframe, responsesByQuestion map[string][]taxonomy.CodedResponse) *WideTable {
	timer := logging.StartTimer(logging.CategoryHierarchy, "Builder.Render")
	defer timer.Stop()

	questionIDs := make([]string, 0, len(responsesByQuestion))
	for qid := range responsesByQuestion {
		questionIDs = append(questionIDs, qid)
	}
	sort.Strings(questionIDs)

	levels := make(map[string]taxonomy.HierarchyLevel, cf.Len())
	for _, c := range cf.Codes {
		levels[c.ID] = b.classifier.Classify(c, cf)
	}

	table := &WideTable{}
	plans := make([]questionPlan, 0, len(questionIDs))

	for _, qid := range questionIDs {
		plan := questionPlan{
			id:       qid,
			reach:    b.reachable(cf, levels, responsesByQuestion[qid]),
			colIndex: make(map[string]int),
			verbatim: len(table.Headers),
		}
		table.Headers = append(table.Headers, qid)

		plan.slot0 = len(table.Headers)
		for i := 0; i < b.slots; i++ {
			table.Headers = append(table.Headers, fmt.Sprintf("%s_Code%d", qid, i+1))
		}

		for _, id := range plan.reach {
			code, _ := cf.Get(id)
			plan.colIndex[id] = len(table.Headers)
			table.Headers = append(table.Headers, columnName(qid, code, levels[id]))
		}
		plans = append(plans, plan)
	}

	// One row per respondent, in first-appearance order.
	rowIndex := make(map[string]int)
	var rowIDs []string
	for _, qid := range questionIDs {
		for _, r := range responsesByQuestion[qid] {
			if _, ok := rowIndex[r.RowID]; !ok {
				rowIndex[r.RowID] = len(rowIDs)
				rowIDs = append(rowIDs, r.RowID)
			}
		}
	}

	table.Rows = make([][]string, len(rowIDs))
	for i := range table.Rows {
		row := make([]string, len(table.Headers))
		for _, plan := range plans {
			for _, id := range plan.reach {
				row[plan.colIndex[id]] = "0"
			}
		}
		table.Rows[i] = row
	}

	for _, plan := range plans {
		for _, r := range responsesByQuestion[plan.id] {
			row := table.Rows[rowIndex[r.RowID]]
			row[plan.verbatim] = r.Text

			slot := 0
			for _, id := range r.CodesAssigned {
				code, ok := cf.Get(id)
				if !ok {
					continue
				}
				if slot < b.slots {
					row[plan.slot0+slot] = fmt.Sprintf("%d", code.NumericID)
					slot++
				}
				// Mark the code itself, then roll up through every
				// resolvable parent. A dangling ParentID just stops the
				// walk; rollup is best-effort, never an error.
				for _, hit := range ancestry(cf, id) {
					if col, ok := plan.colIndex[hit]; ok {
						row[col] = "1"
					}
				}
			}
		}
	}

	logging.HierarchyDebug("Rendered wide table: %d questions, %d columns, %d rows",
		len(questionIDs), len(table.Headers), len(table.Rows))
	return table
}

// reachable collects the distinct code ids reachable for one question: every
// assigned code plus its resolvable ancestors, ordered Subnet first, then
// Net, then Grand Net, codeframe order within a level.
func (b *Builder) reachable(cf *taxonomy.Codeframe, levels map[string]taxonomy.HierarchyLevel, responses []taxonomy.CodedResponse) []string {
	seen := make(map[string]bool)
	for _, r := range responses {
		for _, id := range r.CodesAssigned {
			for _, hit := range ancestry(cf, id) {
				seen[hit] = true
			}
		}
	}

	byLevel := func(want taxonomy.HierarchyLevel) []string {
		var ids []string
		for _, c := range cf.Codes {
			if seen[c.ID] && levels[c.ID] == want {
				ids = append(ids, c.ID)
			}
		}
		return ids
	}

	out := byLevel(taxonomy.LevelSubnet)
	out = append(out, byLevel(taxonomy.LevelNet)...)
	out = append(out, byLevel(taxonomy.LevelGrandNet)...)
	return out
}

// ancestry returns the code id followed by its resolvable ParentID chain.
// Unresolvable ids yield nothing; cycles terminate at the first repeat.
func ancestry(cf *taxonomy.Codeframe, id string) []string {
	var chain []string
	visited := make(map[string]bool)
	for id != "" && !visited[id] {
		code, ok := cf.Get(id)
		if !ok {
			break
		}
		visited[id] = true
		chain = append(chain, id)
		id = code.ParentID
	}
	return chain
}

// columnName composes the export header for one binary column, e.g.
// "B1r1_Different_Unique (Subnet)_1042".
func columnName(questionID string, code taxonomy.Code, level taxonomy.HierarchyLevel) string {
	return fmt.Sprintf("%s_%s (%s)_%d", questionID, sanitizeLabel(code.Label), level.Tag(), code.NumericID)
}

// sanitizeLabel replaces runs of non-alphanumeric characters with a single
// underscore.
func sanitizeLabel(label string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range label {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			sb.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(sb.String(), "_")
}

// =============================================================================
// CSV SERIALIZATION
// =============================================================================

// WriteCSV serializes the table: comma delimiter, fields containing the
// delimiter, a quote, or a newline wrapped in quotes with internal quotes
// doubled, no trailing delimiter.
func (t *WideTable) WriteCSV(w io.Writer) error {
	timer := logging.StartTimer(logging.CategoryExport, "WideTable.WriteCSV")
	defer timer.Stop()

	if err := writeRecord(w, t.Headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := writeRecord(w, row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	logging.Export("Wrote CSV: %d columns, %d rows", len(t.Headers), len(t.Rows))
	return nil
}

func writeRecord(w io.Writer, fields []string) error {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(csvField(f))
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w, sb.String())
	return err
}

// csvField quotes a field only when its content requires it.
func csvField(f string) string {
	if !strings.ContainsAny(f, ",\"\n\r") {
		return f
	}
	return `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
}
