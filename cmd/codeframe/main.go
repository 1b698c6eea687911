// codeframe is the command-line driver for the codeframe engine: codeframe
// generation against the classification oracle, deterministic re-coding,
// wide-table export, and wave-over-wave version tracking.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"codeframe/internal/config"
	"codeframe/internal/logging"
	"codeframe/internal/oracle"
	"codeframe/internal/orchestrate"
	"codeframe/internal/taxonomy"
	"codeframe/internal/version"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "codeframe",
	Short: "Codeframe engine for open-ended survey coding",
	Long: `codeframe drives the full open-end coding pipeline for market research
studies:

  1. Generate: send question groups to the classification oracle and build
     one codeframe (with counts and percentages) per question type.
  2. Retry: re-run only the groups that failed, merging into the prior run.
  3. Apply: deterministically re-code verbatims against a frozen codeframe.
  4. Export: render the wide table (verbatims, code slots, binary nets) as CSV.
  5. Version: snapshot codeframes per wave and diff them across waves.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Debug("Debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .codeframe/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", ".", "workspace directory")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration, defaulting the path into the
// workspace.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(workspace, ".codeframe", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildOracle constructs the configured oracle client.
func buildOracle(cfg *config.Config) (oracle.Client, error) {
	switch cfg.Oracle.Provider {
	case "gemini":
		return oracle.NewGeminiClientWithConfig(oracle.GeminiConfig{
			APIKey: cfg.Oracle.APIKey,
			Model:  cfg.Oracle.Model,
		})
	case "openai-compatible":
		return oracle.NewHTTPClientWithConfig(oracle.HTTPConfig{
			APIKey:      cfg.Oracle.APIKey,
			BaseURL:     cfg.Oracle.BaseURL,
			Model:       cfg.Oracle.Model,
			Timeout:     cfg.GetOracleTimeout(),
			MaxRetries:  cfg.Oracle.MaxRetries,
			MinInterval: cfg.GetMinInterval(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
	}
}

// buildTracker constructs the version tracker over the configured store.
func buildTracker(cfg *config.Config) (*version.Tracker, *version.SQLStore, error) {
	dbPath := cfg.Versioning.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	store, err := version.NewSQLStore(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open version store: %w", err)
	}
	tracker, err := version.NewTracker(version.TrackerConfig{
		Store:                 store,
		ComparisonMode:        version.ComparisonMode(cfg.Versioning.ComparisonMode),
		BaselineVersion:       cfg.Versioning.BaselineVersion,
		SignificanceThreshold: cfg.Versioning.SignificanceThreshold,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return tracker, store, nil
}

// loadGroups reads a question-groups JSON file.
func loadGroups(path string) ([]taxonomy.QuestionGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read groups file: %w", err)
	}
	var groups []taxonomy.QuestionGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse groups file: %w", err)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("groups file %s contains no question groups", path)
	}
	return groups, nil
}

// loadResult reads a saved run result.
func loadResult(path string) (*orchestrate.RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}
	var result orchestrate.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result file: %w", err)
	}
	return &result, nil
}

// saveJSON writes v as indented JSON, creating parent directories.
func saveJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// printRunSummary reports a run's outcome on stdout.
func printRunSummary(result *orchestrate.RunResult) {
	fmt.Printf("Run %s: %s\n", result.RunID, result.Status)
	fmt.Printf("  Groups succeeded: %d, failed: %d\n", len(result.SucceededGroups), len(result.Failures))
	fmt.Printf("  Merged responses: %d\n", len(result.MergedResponses))
	for qt, cf := range result.CodeframesByType {
		fmt.Printf("  %s: %d codes\n", qt, cf.Len())
	}
	for _, f := range result.Failures {
		fmt.Printf("  FAILED %s (%s): %s\n", f.GroupID, f.QuestionType, f.Message)
	}
	if result.Retryable() {
		fmt.Println("  Failed groups can be retried with 'codeframe retry'.")
	}
	if result.Insights != "" {
		fmt.Printf("\nInsights:\n%s\n", result.Insights)
	}
}
