package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swingft/console-llm/internal/config"
	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

var (
	analyzeMode    string
	swingftPath    string
	outputDirFlag  string
	maxWorkersFlag int
	dryRun         bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the analysis pipeline over a swingft project",
	Long: `Analyzes every relevant Swift file of the project referenced by the
swingft config: AST extraction, prompt construction, model generation and
response parsing, under a bounded worker pool. Results are written as one
JSON record per file plus a per-mode summary.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeMode, "mode", "", "analysis mode: exclude, sensitive or both (required)")
	analyzeCmd.Flags().StringVar(&swingftPath, "swingft", "", "path to swingft_config.json (required)")
	analyzeCmd.Flags().StringVar(&outputDirFlag, "output-dir", "", "override run.outputDir from config")
	analyzeCmd.Flags().IntVar(&maxWorkersFlag, "max-workers", 0, "override run.maxWorkers from config")
	analyzeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report per-file input sizes without loading the model")
	_ = analyzeCmd.MarkFlagRequired("mode")
	_ = analyzeCmd.MarkFlagRequired("swingft")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	mode := domain.Mode(analyzeMode)
	if analyzeMode != "both" && !mode.Valid() {
		return fmt.Errorf("invalid --mode %q: must be exclude, sensitive or both", analyzeMode)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if outputDirFlag != "" {
		cfg.Run.OutputDir = outputDirFlag
	}
	if maxWorkersFlag > 0 {
		cfg.Run.MaxWorkers = maxWorkersFlag
	}

	project, err := config.LoadSwingft(swingftPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dryRun {
		return runDryRun(ctx, cfg, project, mode)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	startMode := mode
	if analyzeMode == "both" {
		startMode = domain.ModeExclude
	}
	eng, err := buildEngine(ctx, cfg, startMode, true)
	if err != nil {
		return err
	}
	defer eng.close()

	if analyzeMode == "both" {
		sums, err := eng.svc.RunBoth(ctx, project.Project.Input, project.Hints())
		for _, m := range []domain.Mode{domain.ModeExclude, domain.ModeSensitive} {
			if sum, ok := sums[m]; ok {
				printSummary(sum)
			}
		}
		return err
	}

	sum, err := eng.svc.RunProject(ctx, mode, project.Project.Input, project.Hints())
	if err != nil {
		return err
	}
	printSummary(sum)
	return nil
}

func printSummary(sum domain.Summary) {
	fmt.Printf("\n=== %s analysis complete ===\n", sum.Mode)
	fmt.Printf("Files processed: %d\n", sum.FilesAnalyzed)
	fmt.Printf("Successful: %d\n", sum.Successful)
	fmt.Printf("Failed: %d\n", sum.Failed)
	fmt.Printf("Total identifiers found: %d\n", sum.TotalIdentifiers)
	fmt.Printf("Unique identifiers: %d\n", len(sum.UniqueIdentifiers))
	if sum.ArtifactURL != "" {
		fmt.Printf("Artifact: %s\n", sum.ArtifactURL)
	}
}

// runDryRun prints the per-file input footprint (source, AST, full prompt)
// without starting the model server, so oversized projects surface before a
// multi-hour run.
func runDryRun(ctx context.Context, cfg *config.Config, project *config.Swingft, mode domain.Mode) error {
	eng, err := buildEngine(ctx, cfg, mode, false)
	if err != nil {
		return err
	}
	defer eng.close()

	modes := []domain.Mode{mode}
	if string(mode) == "both" || !mode.Valid() {
		modes = []domain.Mode{domain.ModeExclude, domain.ModeSensitive}
	}

	for _, m := range modes {
		files, err := projectFilesForDryRun(eng, m, project)
		if err != nil {
			return err
		}
		sizes, err := eng.svc.InputSizes(ctx, m, files, project.Hints())
		if err != nil {
			return err
		}
		fmt.Printf("\n--- %s mode: %d files ---\n", m, len(sizes))
		fmt.Printf("%-45s | %10s | %10s | %12s\n", "file", "code (KB)", "ast (KB)", "prompt (KB)")
		var totalKB float64
		for _, sz := range sizes {
			astCol := fmt.Sprintf("%10.2f", float64(sz.AstBytes)/1024)
			if sz.AstFailed {
				astCol = fmt.Sprintf("%10s", "failed")
			}
			fmt.Printf("%-45s | %10.2f | %s | %12.2f\n",
				trunc(sz.FilePath, 45), float64(sz.CodeBytes)/1024, astCol, float64(sz.PromptBytes)/1024)
			totalKB += float64(sz.PromptBytes) / 1024
		}
		fmt.Printf("total model input: %.2f KB\n", totalKB)
	}
	return nil
}

func projectFilesForDryRun(eng *engine, mode domain.Mode, project *config.Swingft) ([]string, error) {
	if mode == domain.ModeSensitive {
		return eng.svc.Finder.MatchingFiles(project.Project.Input, project.Hints().Exclude)
	}
	return eng.svc.Finder.SwiftFiles(project.Project.Input)
}

func trunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
