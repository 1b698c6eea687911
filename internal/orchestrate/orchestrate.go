// Package orchestrate drives codeframe generation: one oracle call per
// question group, bounded concurrency, per-group failure capture, and merge
// of the surviving results into a single retryable run.
package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"codeframe/internal/logging"
	"codeframe/internal/oracle"
	"codeframe/internal/taxonomy"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// Status is the overall outcome of a generation run.
type Status string

const (
	StatusComplete Status = "complete" // every group succeeded
	StatusPartial  Status = "partial"  // some groups succeeded, some failed
	StatusFailed   Status = "failed"   // no group succeeded
)

// GroupFailure records one failed group with enough detail to retry it.
type GroupFailure struct {
	GroupID      string `json:"groupId"`
	QuestionType string `json:"questionType"`
	Message      string `json:"message"`
}

// RunResult is the merged outcome of a generation run. A partial result
// retains every succeeded group's codeframe and responses untouched, so
// retrying the failures never recomputes what already worked.
type RunResult struct {
	RunID            string                         `json:"runId"`
	CodeframesByType map[string]*taxonomy.Codeframe `json:"codeframesByType"`
	MergedResponses  []taxonomy.CodedResponse       `json:"mergedResponses"`
	Insights         string                         `json:"insights,omitempty"`
	Status           Status                         `json:"status"`
	Failures         []GroupFailure                 `json:"failures,omitempty"`
	SucceededGroups  []string                       `json:"succeededGroups,omitempty"`

	// ColumnTypes maps each succeeded group's column names to its question
	// type, so exports can regroup merged responses without the original
	// groups file.
	ColumnTypes map[string]string `json:"columnTypes,omitempty"`
}

// Retryable reports whether the run has failed groups worth retrying.
func (r *RunResult) Retryable() bool {
	return len(r.Failures) > 0
}

// =============================================================================
// GENERATOR
// =============================================================================

// GeneratorConfig holds configuration for the generation orchestrator.
type GeneratorConfig struct {
	Oracle      oracle.Client
	Concurrency int  // concurrent oracle calls
	SampleSize  int  // verbatims per column sent to the oracle
	Insights    bool // attempt a cross-group summary
}

// DefaultGeneratorConfig returns sensible defaults over the given oracle.
func DefaultGeneratorConfig(client oracle.Client) GeneratorConfig {
	return GeneratorConfig{
		Oracle:      client,
		Concurrency: 3,
		SampleSize:  200,
		Insights:    true,
	}
}

// Generator runs classification over question groups.
type Generator struct {
	oracle      oracle.Client
	concurrency int
	sampleSize  int
	insights    bool
}

// NewGenerator creates a generator with the given configuration.
func NewGenerator(config GeneratorConfig) (*Generator, error) {
	if config.Oracle == nil {
		return nil, fmt.Errorf("oracle client is required")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 3
	}
	if config.SampleSize <= 0 {
		config.SampleSize = 200
	}
	return &Generator{
		oracle:      config.Oracle,
		concurrency: config.Concurrency,
		sampleSize:  config.SampleSize,
		insights:    config.Insights,
	}, nil
}

// groupOutcome is the resolved result of one group, success or failure.
type groupOutcome struct {
	codeframe *taxonomy.Codeframe
	responses []taxonomy.CodedResponse
	err       error
}

// Generate runs every group through the oracle. Groups are independent: a
// transport, parse, or schema failure marks its group failed and never
// aborts siblings. Outcomes land in a slice indexed by submission order, so
// the merged sequence preserves group order regardless of which oracle call
// finished first.
func (g *Generator) Generate(ctx context.Context, groups []taxonomy.QuestionGroup) *RunResult {
	timer := logging.StartTimer(logging.CategoryOrchestrate, "Generator.Generate")
	defer timer.Stop()

	result := &RunResult{
		RunID:            uuid.NewString(),
		CodeframesByType: make(map[string]*taxonomy.Codeframe),
		ColumnTypes:      make(map[string]string),
	}

	logging.Orchestrate("Run %s: %d group(s), concurrency %d", result.RunID, len(groups), g.concurrency)

	outcomes := make([]groupOutcome, len(groups))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i := range groups {
		eg.Go(func() error {
			cf, responses, err := g.processGroup(ctx, groups[i])
			outcomes[i] = groupOutcome{codeframe: cf, responses: responses, err: err}
			return nil
		})
	}
	eg.Wait()

	g.merge(result, groups, outcomes)
	g.maybeInsights(ctx, result)
	return result
}

// Retry re-runs only the given failed groups and merges their outcomes into
// the prior result. Succeeded groups' codeframes and statistics are carried
// over untouched; a retried group that succeeds replaces its failure record,
// and its responses append after the prior merged sequence.
func (g *Generator) Retry(ctx context.Context, prior *RunResult, groups []taxonomy.QuestionGroup) *RunResult {
	timer := logging.StartTimer(logging.CategoryOrchestrate, "Generator.Retry")
	defer timer.Stop()

	result := &RunResult{
		RunID:            prior.RunID,
		CodeframesByType: make(map[string]*taxonomy.Codeframe, len(prior.CodeframesByType)),
		MergedResponses:  append([]taxonomy.CodedResponse(nil), prior.MergedResponses...),
		Insights:         prior.Insights,
		SucceededGroups:  append([]string(nil), prior.SucceededGroups...),
		ColumnTypes:      make(map[string]string, len(prior.ColumnTypes)),
	}
	for qt, cf := range prior.CodeframesByType {
		result.CodeframesByType[qt] = cf
	}
	for col, qt := range prior.ColumnTypes {
		result.ColumnTypes[col] = qt
	}

	retried := make(map[string]bool, len(groups))
	for _, group := range groups {
		retried[group.ID] = true
	}
	for _, failure := range prior.Failures {
		if !retried[failure.GroupID] {
			result.Failures = append(result.Failures, failure)
		}
	}

	logging.Orchestrate("Run %s: retrying %d group(s)", prior.RunID, len(groups))

	outcomes := make([]groupOutcome, len(groups))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i := range groups {
		eg.Go(func() error {
			cf, responses, err := g.processGroup(ctx, groups[i])
			outcomes[i] = groupOutcome{codeframe: cf, responses: responses, err: err}
			return nil
		})
	}
	eg.Wait()

	g.merge(result, groups, outcomes)
	g.maybeInsights(ctx, result)
	return result
}

// merge folds resolved outcomes into the result, in submission order, and
// recomputes the overall status.
func (g *Generator) merge(result *RunResult, groups []taxonomy.QuestionGroup, outcomes []groupOutcome) {
	for i, group := range groups {
		outcome := outcomes[i]
		if outcome.err != nil {
			logging.Orchestrate("Group %s (%s) failed: %v", group.ID, group.QuestionType, outcome.err)
			result.Failures = append(result.Failures, GroupFailure{
				GroupID:      group.ID,
				QuestionType: group.QuestionType,
				Message:      outcome.err.Error(),
			})
			continue
		}
		result.CodeframesByType[group.QuestionType] = outcome.codeframe
		result.MergedResponses = append(result.MergedResponses, outcome.responses...)
		result.SucceededGroups = append(result.SucceededGroups, group.ID)
		for _, col := range group.Columns {
			result.ColumnTypes[col.Name] = group.QuestionType
		}
		logging.OrchestrateDebug("Group %s merged: %d codes, %d responses",
			group.ID, outcome.codeframe.Len(), len(outcome.responses))
	}

	switch {
	case len(result.Failures) == 0:
		result.Status = StatusComplete
	case len(result.SucceededGroups) > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusFailed
	}
}

// processGroup runs one group end to end: sample, classify, validate,
// normalize, and enforce the merge invariant.
func (g *Generator) processGroup(ctx context.Context, group taxonomy.QuestionGroup) (*taxonomy.Codeframe, []taxonomy.CodedResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("run abandoned before dispatch: %w", err)
	}

	req := oracle.ClassificationRequest{QuestionType: group.QuestionType}
	for _, col := range group.Columns {
		texts := make([]string, 0, len(col.Responses))
		for _, cell := range col.Responses {
			if strings.TrimSpace(cell.Text) == "" {
				continue
			}
			texts = append(texts, cell.Text)
			if len(texts) >= g.sampleSize {
				break
			}
		}
		req.Columns = append(req.Columns, oracle.RequestColumn{
			Name:      col.Name,
			Index:     col.Index,
			Responses: texts,
		})
	}

	parsed, err := g.oracle.Classify(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	cf := parsed.ToCodeframe()
	cf.EnsureNumericIDs()
	cf.EnsureCatchAll()

	// Duplicate ids or stray catch-alls would double-report statistics, so
	// an invalid codeframe fails the group like any other schema violation.
	if err := cf.Validate(); err != nil {
		return nil, nil, &oracle.ValidationError{Field: "codeframe", Reason: err.Error()}
	}

	responses := resolveRows(group, parsed.CodedResponses)

	// Merge invariant: an assigned id that does not resolve in the group's
	// own codeframe would corrupt count/percentage statistics, so the whole
	// response is dropped, logged as a defect.
	valid := cf.Index()
	kept := responses[:0]
	for _, r := range responses {
		ok := true
		for _, id := range r.CodesAssigned {
			if _, found := valid[id]; !found {
				logging.Orchestrate("Defect: group %s response %q assigned unknown code %q, dropping",
					group.ID, r.Text, id)
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, r)
		}
	}

	cf.RecomputeStats(kept, group.ResponseTotal())
	return cf, kept, nil
}

// resolveRows maps the oracle's wire responses back onto respondent rows.
// The oracle echoes text and column but not row identity, so each wire
// response consumes the first unconsumed cell of its column with matching
// text, falling back to plain occurrence order when the echo was reworded.
func resolveRows(group taxonomy.QuestionGroup, wires []oracle.WireResponse) []taxonomy.CodedResponse {
	type colState struct {
		cells    []taxonomy.CellValue
		consumed []bool
	}
	states := make(map[string]*colState, len(group.Columns))
	for _, col := range group.Columns {
		states[col.Name] = &colState{
			cells:    col.Responses,
			consumed: make([]bool, len(col.Responses)),
		}
	}

	out := make([]taxonomy.CodedResponse, 0, len(wires))
	for _, wire := range wires {
		coded := taxonomy.CodedResponse{
			Text:          wire.ResponseText,
			CodesAssigned: append([]string(nil), wire.CodesAssigned...),
			ColumnID:      wire.ColumnName,
		}

		state, ok := states[wire.ColumnName]
		if !ok && wire.ColumnIndex >= 0 && wire.ColumnIndex < len(group.Columns) {
			col := group.Columns[wire.ColumnIndex]
			state, ok = states[col.Name]
			coded.ColumnID = col.Name
		}
		if !ok {
			logging.Orchestrate("Defect: group %s response %q names unknown column %q, dropping",
				group.ID, wire.ResponseText, wire.ColumnName)
			continue
		}

		// A wire response with no cell left to claim has no respondent
		// identity; merging it would collapse such responses into one
		// phantom row downstream, so it is dropped like a merge defect.
		idx := claimCell(state.cells, state.consumed, wire.ResponseText)
		if idx < 0 {
			logging.Orchestrate("Defect: group %s column %s has no cell left for response %q, dropping",
				group.ID, coded.ColumnID, wire.ResponseText)
			continue
		}
		state.consumed[idx] = true
		coded.RowID = state.cells[idx].RowID
		out = append(out, coded)
	}
	return out
}

// claimCell finds the first unconsumed cell matching the echoed text, or the
// first unconsumed non-blank cell when nothing matches exactly.
func claimCell(cells []taxonomy.CellValue, consumed []bool, text string) int {
	for i, cell := range cells {
		if !consumed[i] && cell.Text == text {
			return i
		}
	}
	for i, cell := range cells {
		if !consumed[i] && strings.TrimSpace(cell.Text) != "" {
			return i
		}
	}
	return -1
}

// maybeInsights asks the oracle for a cross-group summary. Best effort: only
// attempted when more than one group succeeded, and a failure never changes
// the run's status.
func (g *Generator) maybeInsights(ctx context.Context, result *RunResult) {
	if !g.insights || result.Insights != "" || len(result.SucceededGroups) < 2 {
		return
	}

	summary, err := g.oracle.Summarize(ctx, buildInsightsPrompt(result))
	if err != nil {
		logging.Orchestrate("Insights generation failed (status unchanged): %v", err)
		return
	}
	result.Insights = summary
}

// buildInsightsPrompt summarizes every group's top codes for the oracle.
func buildInsightsPrompt(result *RunResult) string {
	types := make([]string, 0, len(result.CodeframesByType))
	for qt := range result.CodeframesByType {
		types = append(types, qt)
	}
	sort.Strings(types)

	var sb strings.Builder
	sb.WriteString("You are summarizing coded survey results. For each question type below, the codes and their response shares are listed. Write a short cross-question insights summary highlighting the dominant themes and any notable contrasts.\n")
	for _, qt := range types {
		cf := result.CodeframesByType[qt]
		fmt.Fprintf(&sb, "\nQuestion type: %s\n", qt)
		for _, c := range cf.Codes {
			fmt.Fprintf(&sb, "  - %s: %d responses (%.1f%%)\n", c.Label, c.Count, c.Percentage)
		}
	}
	return sb.String()
}
