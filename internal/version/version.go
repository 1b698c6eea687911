// Package version tracks codeframe evolution across study waves: immutable
// per-wave snapshots, longitudinal diffs, and human-readable change reports.
package version

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"codeframe/internal/logging"
	"codeframe/internal/taxonomy"
)

// ErrInsufficientVersions signals a diff request against a study with fewer
// than two saved versions. It is an expected condition, not a crash.
var ErrInsufficientVersions = errors.New("insufficient versions for comparison")

// DefaultSignificanceThreshold is the percentage-point cutoff for reporting
// a code's share shift.
const DefaultSignificanceThreshold = 5.0

// =============================================================================
// TYPES
// =============================================================================

// ComparisonMode selects which prior version a new snapshot is compared to.
type ComparisonMode string

const (
	CompareWaveOverWave ComparisonMode = "wave-over-wave" // immediately previous version
	CompareVsBaseline   ComparisonMode = "vs-baseline"    // pinned baseline version
	CompareAllWaves     ComparisonMode = "all-waves"      // caller supplies explicit pairs
)

// Metadata carries snapshot bookkeeping stored alongside the codeframe.
type Metadata struct {
	CodeCount int    `json:"codeCount"`
	Notes     string `json:"notes,omitempty"`
}

// StudyVersion is one immutable codeframe snapshot for a study wave. The
// snapshot is deep-copied on save; nothing mutates it afterwards.
type StudyVersion struct {
	StudyID           string              `json:"studyId"`
	VersionNumber     int                 `json:"versionNumber"`
	Wave              string              `json:"wave"`
	CreatedAt         time.Time           `json:"createdAt"`
	CodeframeSnapshot *taxonomy.Codeframe `json:"codeframeSnapshot"`
	Metadata          Metadata            `json:"metadata"`
	ChangesSummary    *ChangesSummary     `json:"changesSummary,omitempty"`
}

// CodeChange identifies a code that appeared or disappeared between versions.
type CodeChange struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Modification is a code present in both versions whose label or definition
// changed, with a human-readable change list.
type Modification struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Changes []string `json:"changes"`
}

// PercentageChange is a significant share shift for one code, v1 to v2.
type PercentageChange struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Delta float64 `json:"delta"`
}

// ChangesSummary is the directional v1-to-v2 comparison of two snapshots.
type ChangesSummary struct {
	FromVersion       int                `json:"fromVersion"`
	ToVersion         int                `json:"toVersion"`
	NewCodes          []CodeChange       `json:"newCodes"`
	RemovedCodes      []CodeChange       `json:"removedCodes"`
	ModifiedCodes     []Modification     `json:"modifiedCodes"`
	PercentageChanges []PercentageChange `json:"percentageChanges"`
}

// Empty reports whether the comparison found no differences at all.
func (s *ChangesSummary) Empty() bool {
	return s == nil ||
		(len(s.NewCodes) == 0 && len(s.RemovedCodes) == 0 &&
			len(s.ModifiedCodes) == 0 && len(s.PercentageChanges) == 0)
}

// =============================================================================
// DIFF
// =============================================================================

// Diff compares two snapshots directionally, v1 to v2. Codes are matched by
// id. Share shifts at or above the significance threshold (percentage
// points) are reported sorted by descending absolute delta; a non-positive
// threshold falls back to DefaultSignificanceThreshold.
func Diff(v1, v2 *StudyVersion, threshold float64) *ChangesSummary {
	if threshold <= 0 {
		threshold = DefaultSignificanceThreshold
	}

	summary := &ChangesSummary{
		FromVersion: v1.VersionNumber,
		ToVersion:   v2.VersionNumber,
	}

	old := make(map[string]taxonomy.Code)
	for _, c := range v1.CodeframeSnapshot.Codes {
		old[c.ID] = c
	}

	for _, c := range v2.CodeframeSnapshot.Codes {
		prev, existed := old[c.ID]
		if !existed {
			summary.NewCodes = append(summary.NewCodes, CodeChange{ID: c.ID, Label: c.Label})
			continue
		}

		var changes []string
		if prev.Label != c.Label {
			changes = append(changes, fmt.Sprintf("label: %q -> %q", prev.Label, c.Label))
		}
		if prev.Definition != c.Definition {
			changes = append(changes, fmt.Sprintf("definition: %q -> %q", prev.Definition, c.Definition))
		}
		if len(changes) > 0 {
			summary.ModifiedCodes = append(summary.ModifiedCodes, Modification{
				ID:      c.ID,
				Label:   c.Label,
				Changes: changes,
			})
		}

		if delta := c.Percentage - prev.Percentage; math.Abs(delta) >= threshold {
			summary.PercentageChanges = append(summary.PercentageChanges, PercentageChange{
				ID:    c.ID,
				Label: c.Label,
				From:  prev.Percentage,
				To:    c.Percentage,
				Delta: delta,
			})
		}
	}

	newIDs := v2.CodeframeSnapshot.Index()
	for _, c := range v1.CodeframeSnapshot.Codes {
		if _, still := newIDs[c.ID]; !still {
			summary.RemovedCodes = append(summary.RemovedCodes, CodeChange{ID: c.ID, Label: c.Label})
		}
	}

	sort.SliceStable(summary.PercentageChanges, func(i, j int) bool {
		return math.Abs(summary.PercentageChanges[i].Delta) > math.Abs(summary.PercentageChanges[j].Delta)
	})

	return summary
}

// Report renders the v1-to-v2 comparison as human-readable text. Signs and
// arrows always reflect the v1-to-v2 direction.
func Report(v1, v2 *StudyVersion, threshold float64) string {
	summary := Diff(v1, v2, threshold)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Codeframe changes: v%d (wave %s) -> v%d (wave %s)\n",
		v1.VersionNumber, waveOrDash(v1.Wave), v2.VersionNumber, waveOrDash(v2.Wave))

	if summary.Empty() {
		sb.WriteString("No changes.\n")
		return sb.String()
	}

	if len(summary.NewCodes) > 0 {
		fmt.Fprintf(&sb, "\nNew codes (%d):\n", len(summary.NewCodes))
		for _, c := range summary.NewCodes {
			fmt.Fprintf(&sb, "  + %s (%s)\n", c.Label, c.ID)
		}
	}
	if len(summary.RemovedCodes) > 0 {
		fmt.Fprintf(&sb, "\nRemoved codes (%d):\n", len(summary.RemovedCodes))
		for _, c := range summary.RemovedCodes {
			fmt.Fprintf(&sb, "  - %s (%s)\n", c.Label, c.ID)
		}
	}
	if len(summary.ModifiedCodes) > 0 {
		fmt.Fprintf(&sb, "\nModified codes (%d):\n", len(summary.ModifiedCodes))
		for _, m := range summary.ModifiedCodes {
			fmt.Fprintf(&sb, "  ~ %s (%s)\n", m.Label, m.ID)
			for _, change := range m.Changes {
				fmt.Fprintf(&sb, "      %s\n", change)
			}
		}
	}
	if len(summary.PercentageChanges) > 0 {
		fmt.Fprintf(&sb, "\nSignificant share shifts (%d):\n", len(summary.PercentageChanges))
		for _, p := range summary.PercentageChanges {
			fmt.Fprintf(&sb, "  %s: %.1f%% -> %.1f%% (%+.1f)\n", p.Label, p.From, p.To, p.Delta)
		}
	}

	return sb.String()
}

func waveOrDash(wave string) string {
	if strings.TrimSpace(wave) == "" {
		return "-"
	}
	return wave
}

// =============================================================================
// TRACKER
// =============================================================================

// TrackerConfig holds configuration for the version tracker.
type TrackerConfig struct {
	Store                 Store
	ComparisonMode        ComparisonMode
	BaselineVersion       int // used by CompareVsBaseline
	SignificanceThreshold float64
}

// DefaultTrackerConfig returns sensible defaults over the given store.
func DefaultTrackerConfig(store Store) TrackerConfig {
	return TrackerConfig{
		Store:                 store,
		ComparisonMode:        CompareWaveOverWave,
		BaselineVersion:       1,
		SignificanceThreshold: DefaultSignificanceThreshold,
	}
}

// Tracker saves snapshots and serves diffs over an append-only store.
type Tracker struct {
	store     Store
	mode      ComparisonMode
	baseline  int
	threshold float64
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config TrackerConfig) (*Tracker, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("version store is required")
	}
	mode := config.ComparisonMode
	if mode == "" {
		mode = CompareWaveOverWave
	}
	switch mode {
	case CompareWaveOverWave, CompareVsBaseline, CompareAllWaves:
	default:
		return nil, fmt.Errorf("unknown comparison mode %q", mode)
	}
	threshold := config.SignificanceThreshold
	if threshold <= 0 {
		threshold = DefaultSignificanceThreshold
	}
	return &Tracker{
		store:     config.Store,
		mode:      mode,
		baseline:  config.BaselineVersion,
		threshold: threshold,
	}, nil
}

// SaveVersion snapshots the codeframe as the study's next sequential version.
// Under wave-over-wave and vs-baseline modes the summary against the
// comparison partner is computed immediately and stored with the snapshot;
// all-waves leaves comparison to explicit Diff calls.
func (t *Tracker) SaveVersion(ctx context.Context, studyID string, cf *taxonomy.Codeframe, wave string) (*StudyVersion, error) {
	timer := logging.StartTimer(logging.CategoryVersion, "Tracker.SaveVersion")
	defer timer.Stop()

	existing, err := t.store.List(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	next := 1
	for _, v := range existing {
		if v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}

	v := &StudyVersion{
		StudyID:           studyID,
		VersionNumber:     next,
		Wave:              wave,
		CreatedAt:         time.Now().UTC(),
		CodeframeSnapshot: cf.DeepCopy(),
		Metadata:          Metadata{CodeCount: cf.Len()},
	}

	if partner := t.comparisonPartner(existing); partner != nil {
		v.ChangesSummary = Diff(partner, v, t.threshold)
	}

	if err := t.store.Append(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to persist version: %w", err)
	}

	logging.Version("Saved %s v%d (wave %s, %d codes)", studyID, v.VersionNumber, waveOrDash(wave), v.Metadata.CodeCount)
	return v, nil
}

// comparisonPartner picks the prior version the new snapshot is compared to,
// or nil when the mode defers comparison or no partner exists.
func (t *Tracker) comparisonPartner(existing []*StudyVersion) *StudyVersion {
	switch t.mode {
	case CompareWaveOverWave:
		var latest *StudyVersion
		for _, v := range existing {
			if latest == nil || v.VersionNumber > latest.VersionNumber {
				latest = v
			}
		}
		return latest
	case CompareVsBaseline:
		for _, v := range existing {
			if v.VersionNumber == t.baseline {
				return v
			}
		}
		return nil
	default:
		return nil
	}
}

// Diff compares two saved versions of a study, v1 to v2.
func (t *Tracker) Diff(ctx context.Context, studyID string, v1Num, v2Num int) (*ChangesSummary, error) {
	v1, v2, err := t.pair(ctx, studyID, v1Num, v2Num)
	if err != nil {
		return nil, err
	}
	return Diff(v1, v2, t.threshold), nil
}

// Report renders the comparison of two saved versions as text.
func (t *Tracker) Report(ctx context.Context, studyID string, v1Num, v2Num int) (string, error) {
	v1, v2, err := t.pair(ctx, studyID, v1Num, v2Num)
	if err != nil {
		return "", err
	}
	return Report(v1, v2, t.threshold), nil
}

// List returns the study's versions ordered by version number.
func (t *Tracker) List(ctx context.Context, studyID string) ([]*StudyVersion, error) {
	versions, err := t.store.List(ctx, studyID)
	if err != nil {
		return nil, err
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionNumber < versions[j].VersionNumber
	})
	return versions, nil
}

func (t *Tracker) pair(ctx context.Context, studyID string, v1Num, v2Num int) (*StudyVersion, *StudyVersion, error) {
	versions, err := t.store.List(ctx, studyID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list versions: %w", err)
	}
	if len(versions) < 2 {
		return nil, nil, fmt.Errorf("study %s has %d version(s): %w", studyID, len(versions), ErrInsufficientVersions)
	}

	var v1, v2 *StudyVersion
	for _, v := range versions {
		if v.VersionNumber == v1Num {
			v1 = v
		}
		if v.VersionNumber == v2Num {
			v2 = v
		}
	}
	if v1 == nil {
		return nil, nil, fmt.Errorf("version %d not found for study %s", v1Num, studyID)
	}
	if v2 == nil {
		return nil, nil, fmt.Errorf("version %d not found for study %s", v2Num, studyID)
	}
	return v1, v2, nil
}
