package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codeframe/internal/orchestrate"
	"codeframe/internal/taxonomy"
)

var (
	generateGroupsPath string
	generateOutPath    string

	retryGroupsPath string
	retryResultPath string
	retryOutPath    string
	retryGroupIDs   []string
)

// generateCmd runs a full generation pass over every question group.
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate codeframes for every question group via the oracle",
	Long: `Reads question groups (already-parsed column data) from a JSON file,
sends each group to the classification oracle, and writes the merged run
result: one codeframe per question type, all coded responses, and per-group
failure detail for retry.

A partial run is not an error: succeeded groups keep their statistics and
the failed ones can be re-run with 'codeframe retry'.`,
	RunE: runGenerate,
}

// retryCmd re-runs only the failed groups of a prior run.
var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry the failed groups of a previous run",
	Long: `Loads a prior run result and the original groups file, re-runs only the
groups recorded as failed (or the subset named with --group), and merges the
outcome into the prior result without recomputing succeeded groups.`,
	RunE: runRetry,
}

func init() {
	generateCmd.Flags().StringVar(&generateGroupsPath, "groups", "", "question groups JSON file (required)")
	generateCmd.Flags().StringVar(&generateOutPath, "out", "", "output path for the run result (default <workspace>/.codeframe/result.json)")
	generateCmd.MarkFlagRequired("groups")

	retryCmd.Flags().StringVar(&retryGroupsPath, "groups", "", "question groups JSON file (required)")
	retryCmd.Flags().StringVar(&retryResultPath, "result", "", "prior run result JSON file (required)")
	retryCmd.Flags().StringVar(&retryOutPath, "out", "", "output path (default: overwrite --result)")
	retryCmd.Flags().StringSliceVar(&retryGroupIDs, "group", nil, "retry only these group ids")
	retryCmd.MarkFlagRequired("groups")
	retryCmd.MarkFlagRequired("result")
}

func newGenerator() (*orchestrate.Generator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := buildOracle(cfg)
	if err != nil {
		return nil, err
	}
	return orchestrate.NewGenerator(orchestrate.GeneratorConfig{
		Oracle:      client,
		Concurrency: cfg.Generation.Concurrency,
		SampleSize:  cfg.Generation.SampleSize,
		Insights:    cfg.Generation.Insights,
	})
}

func runGenerate(cmd *cobra.Command, args []string) error {
	groups, err := loadGroups(generateGroupsPath)
	if err != nil {
		return err
	}

	gen, err := newGenerator()
	if err != nil {
		return err
	}

	logger.Info("Starting generation",
		zap.Int("groups", len(groups)),
		zap.String("source", generateGroupsPath))

	result := gen.Generate(cmd.Context(), groups)

	out := generateOutPath
	if out == "" {
		out = filepath.Join(workspace, ".codeframe", "result.json")
	}
	if err := saveJSON(out, result); err != nil {
		return err
	}

	printRunSummary(result)
	fmt.Printf("Result written to %s\n", out)
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	prior, err := loadResult(retryResultPath)
	if err != nil {
		return err
	}
	if !prior.Retryable() {
		fmt.Println("Nothing to retry: the prior run has no failed groups.")
		return nil
	}

	groups, err := loadGroups(retryGroupsPath)
	if err != nil {
		return err
	}

	failed := selectFailedGroups(prior, groups, retryGroupIDs)
	if len(failed) == 0 {
		return fmt.Errorf("no failed groups matched in %s", retryGroupsPath)
	}

	gen, err := newGenerator()
	if err != nil {
		return err
	}

	logger.Info("Retrying failed groups",
		zap.String("run", prior.RunID),
		zap.Int("groups", len(failed)))

	result := gen.Retry(cmd.Context(), prior, failed)

	out := retryOutPath
	if out == "" {
		out = retryResultPath
	}
	if err := saveJSON(out, result); err != nil {
		return err
	}

	printRunSummary(result)
	fmt.Printf("Result written to %s\n", out)
	return nil
}

// selectFailedGroups picks the groups recorded as failed in the prior run,
// optionally narrowed to explicitly named ids.
func selectFailedGroups(prior *orchestrate.RunResult, groups []taxonomy.QuestionGroup, only []string) []taxonomy.QuestionGroup {
	wanted := make(map[string]bool, len(prior.Failures))
	for _, f := range prior.Failures {
		wanted[f.GroupID] = true
	}
	if len(only) > 0 {
		narrowed := make(map[string]bool, len(only))
		for _, id := range only {
			if wanted[id] {
				narrowed[id] = true
			}
		}
		wanted = narrowed
	}

	var out []taxonomy.QuestionGroup
	for _, g := range groups {
		if wanted[g.ID] {
			out = append(out, g)
		}
	}
	return out
}
