package taxonomy

import (
	"math"
	"testing"
)

func sampleFrame() *Codeframe {
	return NewCodeframe(
		Code{ID: "c1", NumericID: 1, Label: "Value", Definition: "price, worth, cheap"},
		Code{ID: "c2", NumericID: 2, Label: "Quality", Definition: "well made, durable"},
		Code{ID: "other", NumericID: 3, Label: "Other"},
	)
}

func TestEnsureCatchAll_SynthesizesWhenMissing(t *testing.T) {
	cf := NewCodeframe(
		Code{ID: "c1", NumericID: 7, Label: "Value"},
	)
	cf.EnsureCatchAll()

	ca, ok := cf.CatchAll()
	if !ok {
		t.Fatal("expected a catch-all code after EnsureCatchAll")
	}
	if ca.Count != 0 {
		t.Errorf("synthesized catch-all Count = %d, want 0", ca.Count)
	}
	if ca.NumericID != 8 {
		t.Errorf("synthesized catch-all NumericID = %d, want 8", ca.NumericID)
	}

	// Idempotent: a second call must not add another one.
	cf.EnsureCatchAll()
	if err := cf.Validate(); err != nil {
		t.Fatalf("Validate after double EnsureCatchAll: %v", err)
	}
}

func TestEnsureNumericIDs(t *testing.T) {
	cf := NewCodeframe(
		Code{ID: "a", NumericID: 42},
		Code{ID: "b"},
		Code{ID: "c"},
	)
	cf.EnsureNumericIDs()

	if cf.Codes[0].NumericID != 42 {
		t.Errorf("existing NumericID overwritten: got %d", cf.Codes[0].NumericID)
	}
	if cf.Codes[1].NumericID != 2 || cf.Codes[2].NumericID != 3 {
		t.Errorf("synthesized NumericIDs = %d, %d, want 2, 3", cf.Codes[1].NumericID, cf.Codes[2].NumericID)
	}
}

func TestRecomputeStats(t *testing.T) {
	cf := sampleFrame()
	responses := []CodedResponse{
		{Text: "great value", CodesAssigned: []string{"c1"}, RowID: "r1"},
		{Text: "cheap and solid", CodesAssigned: []string{"c1", "c2"}, RowID: "r2"},
		{Text: "dunno", CodesAssigned: nil, RowID: "r3"},
		{Text: "well made", CodesAssigned: []string{"c2"}, RowID: "r4"},
	}

	cf.RecomputeStats(responses, len(responses))

	wantCounts := map[string]int{"c1": 2, "c2": 2, "other": 0}
	total := 0
	for _, c := range cf.Codes {
		if c.Count != wantCounts[c.ID] {
			t.Errorf("code %s Count = %d, want %d", c.ID, c.Count, wantCounts[c.ID])
		}
		wantPct := float64(wantCounts[c.ID]) / 4 * 100
		if math.Abs(c.Percentage-wantPct) > 1e-9 {
			t.Errorf("code %s Percentage = %f, want %f", c.ID, c.Percentage, wantPct)
		}
		if !c.IsCatchAll() {
			total += c.Count
		}
	}
	if total > len(responses)*2 {
		t.Errorf("non-catch-all counts exceed plausible bound: %d", total)
	}
}

func TestRecomputeStats_ZeroTotal(t *testing.T) {
	cf := sampleFrame()
	cf.Codes[0].Percentage = 99 // stale value must be cleared
	cf.RecomputeStats(nil, 0)
	for _, c := range cf.Codes {
		if c.Count != 0 || c.Percentage != 0 {
			t.Errorf("code %s = (%d, %f), want (0, 0)", c.ID, c.Count, c.Percentage)
		}
	}
}

func TestDeepCopy_Independence(t *testing.T) {
	cf := NewCodeframe(
		Code{ID: "c1", Label: "Value", Examples: []string{"good price"}},
	)
	snap := cf.DeepCopy()

	cf.Codes[0].Label = "mutated"
	cf.Codes[0].Examples[0] = "mutated"

	if snap.Codes[0].Label != "Value" {
		t.Errorf("snapshot label mutated: %s", snap.Codes[0].Label)
	}
	if snap.Codes[0].Examples[0] != "good price" {
		t.Errorf("snapshot examples mutated: %s", snap.Codes[0].Examples[0])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cf      *Codeframe
		wantErr bool
	}{
		{"valid", sampleFrame(), false},
		{"duplicate id", NewCodeframe(
			Code{ID: "c1", Label: "A"},
			Code{ID: "c1", Label: "B"},
			Code{ID: "other", Label: "Other"},
		), true},
		{"no catch-all", NewCodeframe(Code{ID: "c1", Label: "A"}), true},
		{"two catch-alls", NewCodeframe(
			Code{ID: "o1", Label: "Other"},
			Code{ID: "o2", Label: "other"},
		), true},
		{"empty id", NewCodeframe(Code{Label: "Other"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cf.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuestionGroup_ResponseTotal(t *testing.T) {
	g := QuestionGroup{
		ID:           "g1",
		QuestionType: "brand-description",
		Columns: []Column{
			{Name: "B1r1", Index: 0, Responses: []CellValue{{RowID: "1", Text: "a"}, {RowID: "2", Text: "b"}}},
			{Name: "B1r2", Index: 1, Responses: []CellValue{{RowID: "1", Text: "c"}}},
		},
	}
	if got := g.ResponseTotal(); got != 3 {
		t.Errorf("ResponseTotal() = %d, want 3", got)
	}
}
