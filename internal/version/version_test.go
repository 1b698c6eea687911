package version

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"codeframe/internal/taxonomy"
)

func snapshot(num int, codes ...taxonomy.Code) *StudyVersion {
	return &StudyVersion{
		StudyID:           "study-1",
		VersionNumber:     num,
		CodeframeSnapshot: taxonomy.NewCodeframe(codes...),
	}
}

func TestDiff_SelfIsEmpty(t *testing.T) {
	v := snapshot(1,
		taxonomy.Code{ID: "c1", Label: "Value", Definition: "price", Percentage: 10},
		taxonomy.Code{ID: "other", Label: "Other"},
	)

	summary := Diff(v, v, DefaultSignificanceThreshold)
	if !summary.Empty() {
		t.Errorf("self diff not empty: %+v", summary)
	}
}

func TestDiff_PercentageThreshold(t *testing.T) {
	v1 := snapshot(1, taxonomy.Code{ID: "x", Label: "X", Percentage: 10})
	v2 := snapshot(2, taxonomy.Code{ID: "x", Label: "X", Percentage: 17})

	summary := Diff(v1, v2, 5)
	want := []PercentageChange{{ID: "x", Label: "X", From: 10, To: 17, Delta: 7}}
	if diff := cmp.Diff(want, summary.PercentageChanges); diff != "" {
		t.Errorf("percentageChanges mismatch (-want +got):\n%s", diff)
	}

	if got := Diff(v1, v2, 8); len(got.PercentageChanges) != 0 {
		t.Errorf("threshold 8 should suppress a 7-point shift, got %+v", got.PercentageChanges)
	}
}

func TestDiff_NewRemovedModified(t *testing.T) {
	v1 := snapshot(1,
		taxonomy.Code{ID: "keep", Label: "Keep", Definition: "old def"},
		taxonomy.Code{ID: "gone", Label: "Gone"},
	)
	v2 := snapshot(2,
		taxonomy.Code{ID: "keep", Label: "Kept", Definition: "old def"},
		taxonomy.Code{ID: "born", Label: "Born"},
	)

	summary := Diff(v1, v2, 5)

	if diff := cmp.Diff([]CodeChange{{ID: "born", Label: "Born"}}, summary.NewCodes); diff != "" {
		t.Errorf("newCodes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]CodeChange{{ID: "gone", Label: "Gone"}}, summary.RemovedCodes); diff != "" {
		t.Errorf("removedCodes mismatch (-want +got):\n%s", diff)
	}
	if len(summary.ModifiedCodes) != 1 || summary.ModifiedCodes[0].ID != "keep" {
		t.Fatalf("modifiedCodes = %+v, want one entry for keep", summary.ModifiedCodes)
	}
	if changes := summary.ModifiedCodes[0].Changes; len(changes) != 1 || !strings.Contains(changes[0], `"Keep" -> "Kept"`) {
		t.Errorf("change list = %v", changes)
	}
}

func TestDiff_SortedByAbsoluteDelta(t *testing.T) {
	v1 := snapshot(1,
		taxonomy.Code{ID: "a", Label: "A", Percentage: 20},
		taxonomy.Code{ID: "b", Label: "B", Percentage: 10},
		taxonomy.Code{ID: "c", Label: "C", Percentage: 30},
	)
	v2 := snapshot(2,
		taxonomy.Code{ID: "a", Label: "A", Percentage: 26},  // +6
		taxonomy.Code{ID: "b", Label: "B", Percentage: 2},   // -8
		taxonomy.Code{ID: "c", Label: "C", Percentage: 37},  // +7
	)

	summary := Diff(v1, v2, 5)
	var order []string
	for _, p := range summary.PercentageChanges {
		order = append(order, p.ID)
	}
	if diff := cmp.Diff([]string{"b", "c", "a"}, order); diff != "" {
		t.Errorf("sort order mismatch (-want +got):\n%s", diff)
	}
	if summary.PercentageChanges[0].Delta != -8 {
		t.Errorf("delta = %f, want -8 (sign keeps v1->v2 direction)", summary.PercentageChanges[0].Delta)
	}
}

func TestReport_Direction(t *testing.T) {
	v1 := snapshot(1, taxonomy.Code{ID: "x", Label: "Value", Percentage: 10})
	v1.Wave = "W1"
	v2 := snapshot(2, taxonomy.Code{ID: "x", Label: "Value", Percentage: 17})
	v2.Wave = "W2"

	text := Report(v1, v2, 5)
	for _, want := range []string{"v1 (wave W1) -> v2 (wave W2)", "10.0% -> 17.0%", "(+7.0)"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

func TestTracker_SaveAssignsSequentialNumbers(t *testing.T) {
	tracker, err := NewTracker(DefaultTrackerConfig(NewMemoryStore()))
	if err != nil {
		t.Fatalf("NewTracker() error = %v", err)
	}
	ctx := context.Background()
	cf := taxonomy.NewCodeframe(taxonomy.Code{ID: "c1", Label: "Value"}, taxonomy.Code{ID: "other", Label: "Other"})

	v1, err := tracker.SaveVersion(ctx, "study-1", cf, "W1")
	if err != nil {
		t.Fatalf("SaveVersion() error = %v", err)
	}
	v2, err := tracker.SaveVersion(ctx, "study-1", cf, "W2")
	if err != nil {
		t.Fatalf("SaveVersion() error = %v", err)
	}

	if v1.VersionNumber != 1 || v2.VersionNumber != 2 {
		t.Errorf("version numbers = %d, %d, want 1, 2", v1.VersionNumber, v2.VersionNumber)
	}
	if v1.ChangesSummary != nil {
		t.Error("first version has no comparison partner, summary should be nil")
	}
	if v2.ChangesSummary == nil || v2.ChangesSummary.FromVersion != 1 {
		t.Errorf("second version summary = %+v, want comparison against v1", v2.ChangesSummary)
	}
}

func TestTracker_SnapshotIsIndependent(t *testing.T) {
	tracker, _ := NewTracker(DefaultTrackerConfig(NewMemoryStore()))
	cf := taxonomy.NewCodeframe(taxonomy.Code{ID: "c1", Label: "Value"}, taxonomy.Code{ID: "other", Label: "Other"})

	v, err := tracker.SaveVersion(context.Background(), "study-1", cf, "W1")
	if err != nil {
		t.Fatalf("SaveVersion() error = %v", err)
	}

	cf.Codes[0].Label = "Mutated"
	if v.CodeframeSnapshot.Codes[0].Label != "Value" {
		t.Error("snapshot shares memory with the live codeframe")
	}
}

func TestTracker_VsBaseline(t *testing.T) {
	store := NewMemoryStore()
	tracker, _ := NewTracker(TrackerConfig{
		Store:           store,
		ComparisonMode:  CompareVsBaseline,
		BaselineVersion: 1,
	})
	ctx := context.Background()

	mk := func(pct float64) *taxonomy.Codeframe {
		return taxonomy.NewCodeframe(
			taxonomy.Code{ID: "x", Label: "X", Percentage: pct},
			taxonomy.Code{ID: "other", Label: "Other"},
		)
	}

	tracker.SaveVersion(ctx, "study-1", mk(10), "W1")
	tracker.SaveVersion(ctx, "study-1", mk(12), "W2")
	v3, err := tracker.SaveVersion(ctx, "study-1", mk(20), "W3")
	if err != nil {
		t.Fatalf("SaveVersion() error = %v", err)
	}

	// Compared against the pinned baseline, not the previous wave.
	if v3.ChangesSummary == nil || v3.ChangesSummary.FromVersion != 1 {
		t.Fatalf("summary = %+v, want comparison against baseline v1", v3.ChangesSummary)
	}
	if len(v3.ChangesSummary.PercentageChanges) != 1 || v3.ChangesSummary.PercentageChanges[0].Delta != 10 {
		t.Errorf("percentageChanges = %+v, want x +10", v3.ChangesSummary.PercentageChanges)
	}
}

func TestTracker_InsufficientVersions(t *testing.T) {
	tracker, _ := NewTracker(DefaultTrackerConfig(NewMemoryStore()))
	ctx := context.Background()

	if _, err := tracker.Diff(ctx, "study-1", 1, 2); !errors.Is(err, ErrInsufficientVersions) {
		t.Errorf("Diff() error = %v, want ErrInsufficientVersions", err)
	}

	cf := taxonomy.NewCodeframe(taxonomy.Code{ID: "c1", Label: "Value"}, taxonomy.Code{ID: "other", Label: "Other"})
	tracker.SaveVersion(ctx, "study-1", cf, "W1")
	if _, err := tracker.Report(ctx, "study-1", 1, 1); !errors.Is(err, ErrInsufficientVersions) {
		t.Errorf("Report() error = %v, want ErrInsufficientVersions", err)
	}
}
