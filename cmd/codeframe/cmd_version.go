package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codeframe/internal/version"
)

var (
	versionStudyID      string
	saveWave            string
	saveResultPath      string
	saveQuestionType    string
	diffV1, diffV2      int
	reportV1, reportV2  int
)

// versionCmd groups the wave-tracking subcommands.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Track codeframe versions across study waves",
	Long: `Snapshots codeframes per wave into the local version store and compares
them longitudinally: new, removed, and modified codes plus significant
percentage shifts between any two saved versions.`,
}

var versionSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Snapshot a run's codeframe as the study's next version",
	RunE:  runVersionSave,
}

var versionDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Diff two saved versions (JSON output)",
	RunE:  runVersionDiff,
}

var versionReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Human-readable change report between two versions",
	RunE:  runVersionReport,
}

var versionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a study's saved versions",
	RunE:  runVersionList,
}

func init() {
	versionCmd.PersistentFlags().StringVar(&versionStudyID, "study", "", "study identifier (required)")
	versionCmd.MarkPersistentFlagRequired("study")

	versionSaveCmd.Flags().StringVar(&saveWave, "wave", "", "wave label, e.g. W3")
	versionSaveCmd.Flags().StringVar(&saveResultPath, "result", "", "run result JSON file (required)")
	versionSaveCmd.Flags().StringVar(&saveQuestionType, "question-type", "", "question type whose codeframe to snapshot (required)")
	versionSaveCmd.MarkFlagRequired("result")
	versionSaveCmd.MarkFlagRequired("question-type")

	versionDiffCmd.Flags().IntVar(&diffV1, "v1", 0, "from version number (required)")
	versionDiffCmd.Flags().IntVar(&diffV2, "v2", 0, "to version number (required)")
	versionDiffCmd.MarkFlagRequired("v1")
	versionDiffCmd.MarkFlagRequired("v2")

	versionReportCmd.Flags().IntVar(&reportV1, "v1", 0, "from version number (required)")
	versionReportCmd.Flags().IntVar(&reportV2, "v2", 0, "to version number (required)")
	versionReportCmd.MarkFlagRequired("v1")
	versionReportCmd.MarkFlagRequired("v2")

	versionCmd.AddCommand(versionSaveCmd)
	versionCmd.AddCommand(versionDiffCmd)
	versionCmd.AddCommand(versionReportCmd)
	versionCmd.AddCommand(versionListCmd)
}

func runVersionSave(cmd *cobra.Command, args []string) error {
	result, err := loadResult(saveResultPath)
	if err != nil {
		return err
	}
	cf, ok := result.CodeframesByType[saveQuestionType]
	if !ok {
		return fmt.Errorf("no codeframe for question type %q in %s", saveQuestionType, saveResultPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tracker, store, err := buildTracker(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	v, err := tracker.SaveVersion(cmd.Context(), versionStudyID, cf, saveWave)
	if err != nil {
		return err
	}

	logger.Info("Saved version",
		zap.String("study", versionStudyID),
		zap.Int("version", v.VersionNumber),
		zap.String("wave", v.Wave))

	fmt.Printf("Saved %s v%d (wave %s, %d codes)\n", versionStudyID, v.VersionNumber, v.Wave, v.Metadata.CodeCount)
	if v.ChangesSummary != nil && !v.ChangesSummary.Empty() {
		fmt.Printf("Changes vs v%d: %d new, %d removed, %d modified, %d significant shifts\n",
			v.ChangesSummary.FromVersion,
			len(v.ChangesSummary.NewCodes),
			len(v.ChangesSummary.RemovedCodes),
			len(v.ChangesSummary.ModifiedCodes),
			len(v.ChangesSummary.PercentageChanges))
	}
	return nil
}

func runVersionDiff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tracker, store, err := buildTracker(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := tracker.Diff(cmd.Context(), versionStudyID, diffV1, diffV2)
	if err != nil {
		if errors.Is(err, version.ErrInsufficientVersions) {
			fmt.Printf("Study %s does not have enough versions to compare yet.\n", versionStudyID)
			return nil
		}
		return err
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runVersionReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tracker, store, err := buildTracker(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	text, err := tracker.Report(cmd.Context(), versionStudyID, reportV1, reportV2)
	if err != nil {
		if errors.Is(err, version.ErrInsufficientVersions) {
			fmt.Printf("Study %s does not have enough versions to compare yet.\n", versionStudyID)
			return nil
		}
		return err
	}

	fmt.Print(text)
	return nil
}

func runVersionList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tracker, store, err := buildTracker(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	versions, err := tracker.List(cmd.Context(), versionStudyID)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Printf("No versions saved for study %s.\n", versionStudyID)
		return nil
	}

	for _, v := range versions {
		fmt.Printf("v%d  wave=%-6s  codes=%-3d  created=%s\n",
			v.VersionNumber, v.Wave, v.Metadata.CodeCount, v.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
