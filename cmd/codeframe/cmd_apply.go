package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codeframe/internal/match"
	"codeframe/internal/taxonomy"
)

var (
	applyResultPath string
	applyGroupsPath string
	applyOutPath    string
)

// applyCmd re-codes verbatims deterministically against frozen codeframes.
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply frozen codeframes to verbatims without the oracle",
	Long: `Re-codes question groups against the codeframes of a prior run using the
deterministic matching engine. No oracle call is made: the same verbatims and
codeframes always produce the same assignments, so this is the tool for
coding late respondents or a new wave against a finalized taxonomy.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applyResultPath, "result", "", "run result JSON holding the codeframes (required)")
	applyCmd.Flags().StringVar(&applyGroupsPath, "groups", "", "question groups JSON file to code (required)")
	applyCmd.Flags().StringVar(&applyOutPath, "out", "", "output path (default <workspace>/.codeframe/coded.json)")
	applyCmd.MarkFlagRequired("result")
	applyCmd.MarkFlagRequired("groups")
}

func runApply(cmd *cobra.Command, args []string) error {
	result, err := loadResult(applyResultPath)
	if err != nil {
		return err
	}
	groups, err := loadGroups(applyGroupsPath)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var coded []taxonomy.CodedResponse
	for _, group := range groups {
		cf, ok := result.CodeframesByType[group.QuestionType]
		if !ok {
			return fmt.Errorf("no codeframe for question type %q in %s", group.QuestionType, applyResultPath)
		}

		engine := match.NewEngine(cfg.Matching.Threshold)
		engine.Load(cf)
		for _, col := range group.Columns {
			coded = append(coded, engine.Apply(col.Name, col.Responses)...)
		}

		logger.Info("Coded group",
			zap.String("group", group.ID),
			zap.String("questionType", group.QuestionType),
			zap.Int("responses", group.ResponseTotal()))
	}

	out := applyOutPath
	if out == "" {
		out = filepath.Join(workspace, ".codeframe", "coded.json")
	}
	if err := saveJSON(out, coded); err != nil {
		return err
	}

	fmt.Printf("Coded %d responses across %d group(s), written to %s\n", len(coded), len(groups), out)
	return nil
}
