package hierarchy

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"testing"

	"codeframe/internal/taxonomy"
)

// threeTierFrame is a small codeframe with a full Grand Net / Net / Subnet
// chain plus the catch-all.
func threeTierFrame() *taxonomy.Codeframe {
	return taxonomy.NewCodeframe(
		taxonomy.Code{ID: "pos", NumericID: 100, Label: "Overall Positive"},
		taxonomy.Code{ID: "taste", NumericID: 10, Label: "Taste", ParentID: "pos"},
		taxonomy.Code{ID: "sweet", NumericID: 1, Label: "Sweet/Sugary", ParentID: "taste"},
		taxonomy.Code{ID: "fresh", NumericID: 2, Label: "Freshness", ParentID: "taste"},
		taxonomy.Code{ID: "other", NumericID: 99, Label: "Other"},
	)
}

func TestHeuristicClassifier(t *testing.T) {
	cf := threeTierFrame()
	c := HeuristicClassifier{}

	tests := []struct {
		id   string
		want taxonomy.HierarchyLevel
	}{
		{"pos", taxonomy.LevelGrandNet},  // sentiment vocabulary in label
		{"taste", taxonomy.LevelNet},     // referenced as parent
		{"sweet", taxonomy.LevelSubnet},  // leaf, despite having a parent
		{"fresh", taxonomy.LevelSubnet},  // leaf
		{"other", taxonomy.LevelSubnet},  // unrelated catch-all
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			code, _ := cf.Get(tt.id)
			if got := c.Classify(code, cf); got != tt.want {
				t.Errorf("Classify(%s) = %s, want %s", tt.id, got, tt.want)
			}
		})
	}
}

func TestHeuristicClassifier_WholeWordOnly(t *testing.T) {
	c := HeuristicClassifier{}
	code := taxonomy.Code{ID: "x", Label: "Composition"} // contains "positi" but not the word
	if got := c.Classify(code, taxonomy.NewCodeframe(code)); got != taxonomy.LevelSubnet {
		t.Errorf("Classify = %s, want subnet", got)
	}
}

func TestExplicitClassifier(t *testing.T) {
	cf := threeTierFrame()
	c := NewExplicitClassifier(map[string]taxonomy.HierarchyLevel{
		"sweet": taxonomy.LevelNet,
	})

	sweet, _ := cf.Get("sweet")
	if got := c.Classify(sweet, cf); got != taxonomy.LevelNet {
		t.Errorf("explicit level ignored: got %s", got)
	}
	// No entry falls back to the heuristic.
	pos, _ := cf.Get("pos")
	if got := c.Classify(pos, cf); got != taxonomy.LevelGrandNet {
		t.Errorf("fallback = %s, want grand_net", got)
	}
}

func TestHierarchy_ChildResolution(t *testing.T) {
	b := NewBuilder(DefaultBuilderConfig())
	codes := b.Hierarchy(threeTierFrame())

	byID := make(map[string]taxonomy.HierarchicalCode)
	for _, hc := range codes {
		byID[hc.Code.ID] = hc
	}

	if got := byID["taste"].ChildIDs; !reflect.DeepEqual(got, []string{"sweet", "fresh"}) {
		t.Errorf("taste children = %v, want [sweet fresh]", got)
	}
	if got := byID["pos"].ChildIDs; !reflect.DeepEqual(got, []string{"taste"}) {
		t.Errorf("pos children = %v, want [taste]", got)
	}
	if byID["sweet"].ParentID != "taste" {
		t.Errorf("sweet parent = %q, want taste", byID["sweet"].ParentID)
	}
}

func renderFixture(t *testing.T, slots int) (*WideTable, map[string][]taxonomy.CodedResponse) {
	t.Helper()
	responses := map[string][]taxonomy.CodedResponse{
		"B1r1": {
			{Text: "so sweet", CodesAssigned: []string{"sweet"}, ColumnID: "B1r1", RowID: "r1"},
			{Text: "fresh, dunno", CodesAssigned: []string{"fresh", "other"}, ColumnID: "B1r1", RowID: "r2"},
		},
		"B1r2": {
			{Text: "always fresh", CodesAssigned: []string{"fresh"}, ColumnID: "B1r2", RowID: "r1"},
		},
	}
	b := NewBuilder(BuilderConfig{SlotColumns: slots})
	return b.Render(threeTierFrame(), responses), responses
}

func TestRender_ColumnPlan(t *testing.T) {
	table, _ := renderFixture(t, 3)

	want := []string{
		"B1r1", "B1r1_Code1", "B1r1_Code2", "B1r1_Code3",
		"B1r1_Sweet_Sugary (Subnet)_1",
		"B1r1_Freshness (Subnet)_2",
		"B1r1_Other (Subnet)_99",
		"B1r1_Taste (Net)_10",
		"B1r1_Overall_Positive (Grand Net)_100",
		"B1r2", "B1r2_Code1", "B1r2_Code2", "B1r2_Code3",
		"B1r2_Freshness (Subnet)_2",
		"B1r2_Taste (Net)_10",
		"B1r2_Overall_Positive (Grand Net)_100",
	}
	if !reflect.DeepEqual(table.Headers, want) {
		t.Errorf("headers mismatch:\n got %v\nwant %v", table.Headers, want)
	}
}

func TestRender_RollupSetsAllThreeLevels(t *testing.T) {
	table, _ := renderFixture(t, 3)
	header := indexOf(table.Headers)

	// r1 answered B1r1 with a subnet whose net and grand net resolve.
	row := table.Rows[0]
	for _, col := range []string{
		"B1r1_Sweet_Sugary (Subnet)_1",
		"B1r1_Taste (Net)_10",
		"B1r1_Overall_Positive (Grand Net)_100",
	} {
		if row[header[col]] != "1" {
			t.Errorf("column %q = %q, want 1", col, row[header[col]])
		}
	}
	if row[header["B1r1_Freshness (Subnet)_2"]] != "0" {
		t.Error("unassigned subnet column should stay 0")
	}
}

func TestRender_RowMergesQuestions(t *testing.T) {
	table, _ := renderFixture(t, 3)
	header := indexOf(table.Headers)

	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2 (one per respondent)", len(table.Rows))
	}

	r1 := table.Rows[0]
	if r1[header["B1r1"]] != "so sweet" || r1[header["B1r2"]] != "always fresh" {
		t.Errorf("r1 verbatims not merged: %q / %q", r1[header["B1r1"]], r1[header["B1r2"]])
	}

	// r2 never answered B1r2: blank verbatim and slots, zeroed binaries.
	r2 := table.Rows[1]
	if r2[header["B1r2"]] != "" || r2[header["B1r2_Code1"]] != "" {
		t.Errorf("unanswered question should be blank, got %q / %q",
			r2[header["B1r2"]], r2[header["B1r2_Code1"]])
	}
	if r2[header["B1r2_Freshness (Subnet)_2"]] != "0" {
		t.Error("unanswered question's binary column should be 0")
	}
}

func TestRender_SlotColumns(t *testing.T) {
	table, _ := renderFixture(t, 3)
	header := indexOf(table.Headers)

	r2 := table.Rows[1]
	if r2[header["B1r1_Code1"]] != "2" || r2[header["B1r1_Code2"]] != "99" {
		t.Errorf("slots = %q, %q, want 2, 99", r2[header["B1r1_Code1"]], r2[header["B1r1_Code2"]])
	}
	if r2[header["B1r1_Code3"]] != "" {
		t.Errorf("unused slot should be blank, got %q", r2[header["B1r1_Code3"]])
	}
}

// TestRender_RoundTrip re-parses the subnet binary columns and checks they
// reproduce the original leaf assignments. Rollup is lossy upward only.
func TestRender_RoundTrip(t *testing.T) {
	table, responses := renderFixture(t, 3)
	header := indexOf(table.Headers)
	cf := threeTierFrame()

	numericToID := make(map[string]string)
	for _, c := range cf.Codes {
		numericToID[strconv.Itoa(c.NumericID)] = c.ID
	}

	rowIDs := []string{"r1", "r2"}
	for qid, coded := range responses {
		for _, r := range coded {
			rowIdx := indexOfString(rowIDs, r.RowID)
			var got []string
			for name, col := range header {
				if !strings.HasPrefix(name, qid+"_") || !strings.Contains(name, "(Subnet)") {
					continue
				}
				if table.Rows[rowIdx][col] == "1" {
					suffix := name[strings.LastIndex(name, "_")+1:]
					got = append(got, numericToID[suffix])
				}
			}
			want := append([]string(nil), r.CodesAssigned...)
			sort.Strings(got)
			sort.Strings(want)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("%s/%s round trip = %v, want %v", qid, r.RowID, got, want)
			}
		}
	}
}

func TestWriteCSV(t *testing.T) {
	table := &WideTable{
		Headers: []string{"B1r1", "B1r1_Code1"},
		Rows: [][]string{
			{`said "cheap, fresh"`, "1"},
			{"plain", "2"},
		},
	}

	var sb strings.Builder
	if err := table.WriteCSV(&sb); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	want := "B1r1,B1r1_Code1\n" +
		`"said ""cheap, fresh""",1` + "\n" +
		"plain,2\n"
	if sb.String() != want {
		t.Errorf("csv mismatch:\n got %q\nwant %q", sb.String(), want)
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Different/Unique", "Different_Unique"},
		{"Value  for $$ money", "Value_for_money"},
		{"Plain", "Plain"},
		{"--edge--", "edge"},
	}
	for _, tt := range tests {
		if got := sanitizeLabel(tt.in); got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func indexOf(headers []string) map[string]int {
	m := make(map[string]int, len(headers))
	for i, h := range headers {
		m[h] = i
	}
	return m
}

func indexOfString(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}
