package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codeframe/internal/hierarchy"
	"codeframe/internal/taxonomy"
)

var (
	exportResultPath   string
	exportOutDir       string
	exportQuestionType string
)

// exportCmd renders run results as wide CSV tables.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the wide table as CSV",
	Long: `Renders a run result into the wide export format, one CSV per question
type: a verbatim column and numeric code slots per question, followed by 0/1
theme columns ordered Subnet, Net, Grand Net, with subnet hits rolled up
into their resolvable parents.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportResultPath, "result", "", "run result JSON file (required)")
	exportCmd.Flags().StringVar(&exportOutDir, "out", "", "output directory (default from config)")
	exportCmd.Flags().StringVar(&exportQuestionType, "question-type", "", "export only this question type")
	exportCmd.MarkFlagRequired("result")
}

func runExport(cmd *cobra.Command, args []string) error {
	result, err := loadResult(exportResultPath)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	outDir := exportOutDir
	if outDir == "" {
		outDir = cfg.Export.OutputDirectory
		if outDir == "" {
			outDir = filepath.Join(workspace, ".codeframe", "export")
		}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Responses per question type, then per question (column) id.
	byType := make(map[string]map[string][]taxonomy.CodedResponse)
	for qt := range result.CodeframesByType {
		byType[qt] = make(map[string][]taxonomy.CodedResponse)
	}
	for _, r := range result.MergedResponses {
		qt, ok := result.ColumnTypes[r.ColumnID]
		if !ok {
			continue
		}
		byType[qt][r.ColumnID] = append(byType[qt][r.ColumnID], r)
	}

	builder := hierarchy.NewBuilder(hierarchy.BuilderConfig{SlotColumns: cfg.Export.SlotColumns})

	exported := 0
	for qt, cf := range result.CodeframesByType {
		if exportQuestionType != "" && qt != exportQuestionType {
			continue
		}

		table := builder.Render(cf, byType[qt])
		path := filepath.Join(outDir, exportFileName(qt))

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := table.WriteCSV(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", path, err)
		}

		logger.Info("Exported wide table",
			zap.String("questionType", qt),
			zap.Int("rows", len(table.Rows)),
			zap.String("path", path))
		fmt.Printf("%s: %d rows, %d columns -> %s\n", qt, len(table.Rows), len(table.Headers), path)
		exported++
	}

	if exported == 0 {
		return fmt.Errorf("no codeframes matched question type %q", exportQuestionType)
	}
	return nil
}

// exportFileName sanitizes a question type into a CSV file name.
func exportFileName(questionType string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, questionType)
	return name + ".csv"
}
