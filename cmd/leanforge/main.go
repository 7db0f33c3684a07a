package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"leanforge/internal/config"
	"leanforge/internal/formalize"
	"leanforge/internal/leancheck"
	"leanforge/internal/llm"
	"leanforge/internal/pipeline"
	"leanforge/internal/trace"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "leanforge",
	Short: "leanforge - formalize database tables and APIs into checked Lean 4 artifacts",
	Long: `leanforge drives a parsed project structure through dependency
analysis and formalization stages. Candidate Lean artifacts come from a
text-generation service and only survive when the external proof
checker accepts them; every stage output is persisted so interrupted
runs can resume.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var formalizeCmd = &cobra.Command{
	Use:   "formalize",
	Short: "Run the full formalization pipeline from the beginning",
	Long: `Runs every stage in order: structure validation, table dependency
analysis, table formalization, API table dependency analysis, API
dependency analysis, API formalization.

Example:
  leanforge formalize --config leanforge.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, pipeline.StageInit)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [stage]",
	Short: "Resume an interrupted run",
	Long: `Reruns the pipeline from the named stage using the persisted output
of its predecessor. The stage must not lie beyond the saved checkpoint.
Without an argument, the run resumes from the checkpointed stage.

Stages: init, table_dependency, table_formalization,
api_table_dependency, api_dependency, api_formalization.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			stage, err := pipeline.ParseStage(args[0])
			if err != nil {
				return err
			}
			return runPipeline(cmd, stage)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cp, err := pipeline.LoadCheckpoint(runDir(cfg))
		if err != nil {
			return err
		}
		if cp == nil {
			return fmt.Errorf("no checkpoint under %s, nothing to resume", cfg.Project.OutputPath)
		}
		next := cp.Stage + 1
		if next >= pipeline.StageCompleted {
			fmt.Println("run already completed")
			return nil
		}
		return runPipeline(cmd, next)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [file.lean]",
	Short: "Validate one Lean file with the external checker",
	Long: `Runs a single file through the configured proof checker and prints
the verdict. Accepted artifacts already on disk can be supplied as
premises.

Example:
  leanforge check candidate.lean --premise orders.lean`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Lean.ProjectRoot == "" {
			return fmt.Errorf("lean.project_root is not configured")
		}

		source, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		premisePaths, _ := cmd.Flags().GetStringArray("premise")
		premises := make([]string, 0, len(premisePaths))
		for _, path := range premisePaths {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			premises = append(premises, string(data))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		checker := leancheck.New(cfg.Lean.ProjectRoot, cfg.Lean.SourceDir, cfg.Lean.Script, logger)
		report, err := checker.Check(ctx, string(source), premises)
		if err != nil {
			return err
		}
		if report.Accepted {
			fmt.Printf("%s: accepted\n", args[0])
			return nil
		}
		if errs := report.Errors(); len(errs) > 0 {
			fmt.Print(leancheck.FormatDiagnostics(errs, string(source)))
		}
		if goals := report.UnsolvedGoals(); len(goals) > 0 {
			fmt.Println(leancheck.FormatGoals(goals))
		}
		return fmt.Errorf("%s: rejected with %d diagnostics", args[0], len(report.Diagnostics))
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace [run-id]",
	Short: "Export the model call trace of a run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, err := trace.Open(cfg.Project.OutputPath)
		if err != nil {
			return err
		}
		defer store.Close()

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = filepath.Join(cfg.Project.OutputPath, args[0]+"_trace.json")
		}
		if err := store.ExportJSON(args[0], out); err != nil {
			return err
		}
		fmt.Printf("trace written to %s\n", out)
		return nil
	},
}

func runPipeline(cmd *cobra.Command, from pipeline.Stage) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !verbose {
		if rebuilt, err := newLeveledLogger(cfg.Logging.Level); err == nil {
			logger = rebuilt
		}
	}
	if cfg.Project.StructurePath == "" {
		return fmt.Errorf("project.structure_path is not configured")
	}
	if cfg.Lean.ProjectRoot == "" {
		return fmt.Errorf("lean.project_root is not configured")
	}

	client, err := llm.NewClient(llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.ParsedTimeout(),
	})
	if err != nil {
		return err
	}

	checker := leancheck.New(cfg.Lean.ProjectRoot, cfg.Lean.SourceDir, cfg.Lean.Script, logger)

	store, err := trace.Open(cfg.Project.OutputPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := uuid.NewString()
	logger.Info("starting run",
		zap.String("run_id", runID),
		zap.String("from", from.String()),
		zap.String("structure", cfg.Project.StructurePath),
	)

	p := pipeline.New(pipeline.Options{
		StructurePath: cfg.Project.StructurePath,
		OutputDir:     runDir(cfg),
		TableRetries:  cfg.Pipeline.TableRetries,
		APIRetries:    cfg.Pipeline.APIRetries,
		MaxWorkers:    cfg.Pipeline.MaxWorkers,
	}, client, checker, store, runID, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := p.Run(ctx, from)
	if err != nil {
		return err
	}
	printSummary("tables", result.Tables)
	printSummary("apis", result.APIs)
	fmt.Printf("run %s completed\n", runID)
	return nil
}

// runDir is where a project's stage outputs and checkpoint live:
// <output>/<project>/formalization. The trace database stays at the
// output root so runs across projects share one store.
func runDir(cfg *config.Config) string {
	return filepath.Join(cfg.Project.OutputPath, cfg.Project.Name, "formalization")
}

func newLeveledLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(parsed)
	return zcfg.Build()
}

func printSummary(label string, s *formalize.Summary) {
	if s == nil {
		return
	}
	fmt.Printf("%s: %d accepted, %d failed, %d skipped\n",
		label, len(s.Accepted), len(s.Failed), len(s.Skipped))
	for _, name := range s.Failed {
		fmt.Printf("  failed: %s\n", name)
	}
	for _, name := range s.Skipped {
		fmt.Printf("  skipped: %s\n", name)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "leanforge.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	traceCmd.Flags().String("out", "", "Destination file (default <output>/<run-id>_trace.json)")
	checkCmd.Flags().StringArray("premise", nil, "Accepted artifact file to load as a premise (repeatable)")

	rootCmd.AddCommand(formalizeCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(traceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
