package match

import (
	"math"
	"reflect"
	"testing"

	"codeframe/internal/taxonomy"
)

func valueFrame() *taxonomy.Codeframe {
	return taxonomy.NewCodeframe(
		taxonomy.Code{ID: "C01", Label: "Value", Definition: "price, worth, cheap"},
		taxonomy.Code{ID: "C02", Label: "Quality", Definition: "durable, sturdy, well made"},
		taxonomy.Code{ID: "other", Label: "Other"},
	)
}

func TestMatch_ValueScenario(t *testing.T) {
	// Two keyword hits ("value" from the label, "price" from the definition)
	// at 0.3 each put the code well above the 0.2 threshold.
	results := Match("Great value for the price", valueFrame())

	if len(results) == 0 {
		t.Fatal("expected at least one match")
	}
	if results[0].CodeID != "C01" {
		t.Errorf("top match = %s, want C01", results[0].CodeID)
	}
	if results[0].Confidence <= 0.2 {
		t.Errorf("confidence = %f, want > 0.2", results[0].Confidence)
	}
	if math.Abs(results[0].Confidence-0.6) > 1e-9 {
		t.Errorf("confidence = %f, want 0.6", results[0].Confidence)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	cf := valueFrame()
	e := NewEngine(DefaultThreshold)
	e.Load(cf)

	first := e.Match("cheap but durable, great price")
	second := e.Match("cheap but durable, great price")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("same input produced different results:\n%v\n%v", first, second)
	}
}

func TestMatch_TieKeepsCodeframeOrder(t *testing.T) {
	cf := taxonomy.NewCodeframe(
		taxonomy.Code{ID: "a", Label: "Freshness", Definition: "fresh"},
		taxonomy.Code{ID: "b", Label: "Crispness", Definition: "fresh"},
		taxonomy.Code{ID: "other", Label: "Other"},
	)

	results := Match("tastes so fresh", cf)
	if len(results) != 2 {
		t.Fatalf("matches = %d, want 2", len(results))
	}
	if results[0].CodeID != "a" || results[1].CodeID != "b" {
		t.Errorf("tie order = %s, %s, want a, b", results[0].CodeID, results[1].CodeID)
	}
}

func TestMatch_ExamplePhraseOverlap(t *testing.T) {
	cf := taxonomy.NewCodeframe(
		taxonomy.Code{
			ID:       "c1",
			Label:    "Convenience",
			Examples: []string{"easy to find everywhere"},
		},
		taxonomy.Code{ID: "other", Label: "Other"},
	)

	// "easy" and "everywhere" match (len > 3); "to" and "find"... "find"
	// matches too. 3/4 words * 0.5 plus keyword hits from the same tokens.
	results := Match("so easy to find, they are everywhere", cf)
	if len(results) == 0 {
		t.Fatal("expected a match from example phrase overlap")
	}
	if results[0].CodeID != "c1" {
		t.Errorf("top match = %s, want c1", results[0].CodeID)
	}
}

func TestMatch_ConfidenceCappedAtOne(t *testing.T) {
	cf := taxonomy.NewCodeframe(
		taxonomy.Code{
			ID:         "c1",
			Label:      "Everything",
			Definition: "price worth cheap value bargain affordable budget",
		},
		taxonomy.Code{ID: "other", Label: "Other"},
	)

	results := Match("price worth cheap value bargain affordable budget everything", cf)
	if len(results) == 0 {
		t.Fatal("expected a match")
	}
	if results[0].Confidence > 1.0 {
		t.Errorf("confidence = %f, want <= 1.0", results[0].Confidence)
	}
}

func TestMatch_EmptyInputs(t *testing.T) {
	if got := Match("   ", valueFrame()); len(got) != 0 {
		t.Errorf("whitespace response matched %d codes, want 0", len(got))
	}
	if got := Match("great value", taxonomy.NewCodeframe()); len(got) != 0 {
		t.Errorf("empty codeframe matched %d codes, want 0", len(got))
	}
}

func TestMatch_BelowThresholdExcluded(t *testing.T) {
	cf := taxonomy.NewCodeframe(
		taxonomy.Code{ID: "c1", Label: "Sustainability", Definition: "recyclable packaging"},
		taxonomy.Code{ID: "other", Label: "Other"},
	)

	// No keyword overlap at all.
	if got := Match("tastes great with breakfast", cf); len(got) != 0 {
		t.Errorf("unrelated response matched %d codes, want 0", len(got))
	}
}

func TestApply(t *testing.T) {
	e := NewEngine(DefaultThreshold)
	e.Load(valueFrame())

	cells := []taxonomy.CellValue{
		{RowID: "r1", Text: "great value for the price"},
		{RowID: "r2", Text: ""},
	}
	coded := e.Apply("B1r1", cells)

	if len(coded) != 2 {
		t.Fatalf("coded = %d, want 2", len(coded))
	}
	if coded[0].RowID != "r1" || coded[0].ColumnID != "B1r1" {
		t.Errorf("identity not carried: %+v", coded[0])
	}
	if len(coded[0].CodesAssigned) == 0 || coded[0].CodesAssigned[0] != "C01" {
		t.Errorf("expected C01 assigned, got %v", coded[0].CodesAssigned)
	}
	if len(coded[1].CodesAssigned) != 0 {
		t.Errorf("blank cell should have no codes, got %v", coded[1].CodesAssigned)
	}
}
