// Package pipeline sequences the formalization stages over a project,
// persisting each stage's output and a checkpoint so interrupted runs
// resume where they stopped.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"leanforge/internal/formalize"
	"leanforge/internal/llm"
	"leanforge/internal/project"
)

// ErrInvalidResume reports a resume request beyond what the checkpoint
// on disk can support. Saved is negative when no checkpoint exists.
type ErrInvalidResume struct {
	Requested Stage
	Saved     Stage
}

func (e *ErrInvalidResume) Error() string {
	if e.Saved < 0 {
		return fmt.Sprintf("cannot resume from %s: no checkpoint exists", e.Requested)
	}
	return fmt.Sprintf("cannot resume from %s: checkpoint is at %s", e.Requested, e.Saved)
}

// Options configures a pipeline run.
type Options struct {
	// StructurePath is the parsed project structure consumed by init.
	StructurePath string
	// OutputDir receives per-stage outputs and the checkpoint.
	OutputDir string

	TableRetries int
	APIRetries   int
	MaxWorkers   int
}

// Result carries the formalization stage summaries of a run.
type Result struct {
	Tables *formalize.Summary
	APIs   *formalize.Summary
}

type stageFunc func(ctx context.Context, p *project.Project) error

// Pipeline drives a project through the ordered stages. Stage bodies
// sit behind stageFunc so tests can substitute them.
type Pipeline struct {
	opts   Options
	logger *zap.Logger
	runID  string

	stages map[Stage]stageFunc
	result Result
}

// New wires a pipeline from its collaborators. runID tags trace records
// for this run.
func New(opts Options, client llm.Client, checker formalize.Checker, sink formalize.TraceSink, runID string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		opts:   opts,
		logger: logger,
		runID:  runID,
	}
	tableAnalyzer := formalize.NewTableAnalyzer(client, sink, runID, opts.MaxWorkers, logger)
	apiTableAnalyzer := formalize.NewAPITableAnalyzer(client, sink, runID, opts.MaxWorkers, logger)
	apiAnalyzer := formalize.NewAPIAnalyzer(client, sink, runID, opts.MaxWorkers, logger)
	tableFormalizer := formalize.NewTableFormalizer(client, checker, sink, runID, opts.TableRetries, logger)
	apiFormalizer := formalize.NewAPIFormalizer(client, checker, sink, runID, opts.APIRetries, logger)

	p.stages = map[Stage]stageFunc{
		StageInit:               p.runInit,
		StageTableDependency:    tableAnalyzer.Analyze,
		StageAPITableDependency: apiTableAnalyzer.Analyze,
		StageAPIDependency:      apiAnalyzer.Analyze,
		StageTableFormalization: func(ctx context.Context, proj *project.Project) error {
			summary, err := tableFormalizer.Formalize(ctx, proj)
			if err != nil {
				return err
			}
			p.result.Tables = summary
			p.logSummary(StageTableFormalization, summary)
			return nil
		},
		StageAPIFormalization: func(ctx context.Context, proj *project.Project) error {
			summary, err := apiFormalizer.Formalize(ctx, proj)
			if err != nil {
				return err
			}
			p.result.APIs = summary
			p.logSummary(StageAPIFormalization, summary)
			return nil
		},
	}
	return p
}

// runInit validates the freshly loaded structure. Loading itself
// happens in Run, since resume reads a stage output instead.
func (p *Pipeline) runInit(ctx context.Context, proj *project.Project) error {
	return proj.Validate()
}

func (p *Pipeline) logSummary(stage Stage, s *formalize.Summary) {
	p.logger.Info("stage summary",
		zap.String("stage", stage.String()),
		zap.Int("accepted", len(s.Accepted)),
		zap.Int("failed", len(s.Failed)),
		zap.Int("skipped", len(s.Skipped)),
	)
	if !s.Clean() {
		p.logger.Warn("stage left entities without artifacts",
			zap.String("stage", stage.String()),
			zap.Strings("failed", s.Failed),
			zap.Strings("skipped", s.Skipped),
		)
	}
}

// Run executes the pipeline from the given stage through completion.
// Resuming is only allowed up to the stage after the checkpoint; every
// rerun stage overwrites its persisted output.
func (p *Pipeline) Run(ctx context.Context, from Stage) (*Result, error) {
	if from >= StageCompleted {
		return nil, fmt.Errorf("cannot start from %s", from)
	}
	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	if from > StageInit {
		cp, err := LoadCheckpoint(p.opts.OutputDir)
		if err != nil {
			return nil, err
		}
		if cp == nil {
			return nil, &ErrInvalidResume{Requested: from, Saved: -1}
		}
		// Resuming one stage past the checkpoint is fine: its input is
		// the checkpointed stage's output.
		if from > cp.Stage+1 {
			return nil, &ErrInvalidResume{Requested: from, Saved: cp.Stage}
		}
	}

	proj, err := p.loadInput(from)
	if err != nil {
		return nil, err
	}

	for stage := from; stage < StageCompleted; stage++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.logger.Info("stage starting", zap.String("stage", stage.String()))
		if err := p.stages[stage](ctx, proj); err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		if err := proj.Save(p.stageOutputPath(stage)); err != nil {
			return nil, fmt.Errorf("stage %s: persist output: %w", stage, err)
		}
		if err := saveCheckpoint(p.opts.OutputDir, stage); err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		p.logger.Info("stage completed", zap.String("stage", stage.String()))
	}

	if err := saveCheckpoint(p.opts.OutputDir, StageCompleted); err != nil {
		return nil, err
	}
	p.logger.Info("pipeline completed", zap.String("run_id", p.runID))
	return &p.result, nil
}

// loadInput returns the project the given stage starts from: the
// source structure for init, the previous stage's persisted output
// otherwise.
func (p *Pipeline) loadInput(from Stage) (*project.Project, error) {
	if from == StageInit {
		proj, err := project.Load(p.opts.StructurePath)
		if err != nil {
			return nil, fmt.Errorf("load structure: %w", err)
		}
		return proj, nil
	}
	path := p.stageOutputPath(from - 1)
	proj, err := project.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s output: %w", from-1, err)
	}
	return proj, nil
}

func (p *Pipeline) stageOutputPath(stage Stage) string {
	return filepath.Join(p.opts.OutputDir, stage.String()+".json")
}
