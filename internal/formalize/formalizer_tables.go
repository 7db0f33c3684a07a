package formalize

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"leanforge/internal/llm"
	"leanforge/internal/project"
)

// TableFormalizer produces an accepted Lean artifact for each table,
// walking every service's resolved table order so dependency artifacts
// exist before their dependents are attempted.
type TableFormalizer struct {
	client      llm.Client
	checker     Checker
	trace       TraceSink
	logger      *zap.Logger
	runID       string
	maxAttempts int
}

func NewTableFormalizer(client llm.Client, checker Checker, sink TraceSink, runID string, maxAttempts int, logger *zap.Logger) *TableFormalizer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &TableFormalizer{
		client:      client,
		checker:     checker,
		trace:       sink,
		logger:      logger,
		runID:       runID,
		maxAttempts: maxAttempts,
	}
}

// Formalize fills Table.LeanCode for every table it can. When a table
// exhausts its retry budget the rest of that service's order is
// skipped, since later tables would build on the missing artifact.
// Other services still run. A checker tool failure aborts the stage.
func (f *TableFormalizer) Formalize(ctx context.Context, p *project.Project) (*Summary, error) {
	summary := &Summary{}
	for _, s := range p.Services {
		if err := f.formalizeService(ctx, s, summary); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

func (f *TableFormalizer) formalizeService(ctx context.Context, s *project.Service, summary *Summary) error {
	for i, name := range s.TableOrder {
		t := s.Table(name)
		if t == nil {
			return fmt.Errorf("service %s: table order names unknown table %q", s.Name, name)
		}
		qualified := s.Name + "." + name

		deps := make([]*project.Table, 0, len(t.DependsOn))
		premises := make([]string, 0, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			dt := s.Table(dep)
			if dt == nil || dt.LeanCode == "" {
				return fmt.Errorf("table %s: dependency %q has no accepted artifact", qualified, dep)
			}
			deps = append(deps, dt)
			premises = append(premises, dt.LeanCode)
		}

		l := &loop{
			client:      f.client,
			checker:     f.checker,
			trace:       f.trace,
			logger:      f.logger,
			maxAttempts: f.maxAttempts,
			runID:       f.runID,
			stage:       "table_formalization",
			service:     s.Name,
			entity:      qualified,
		}
		res, err := l.run(ctx, tableFormalizeSystemPrompt, tableFormalizePrompt(t, deps), premises)
		if err != nil {
			return err
		}
		if !res.accepted {
			summary.Failed = append(summary.Failed, qualified)
			for _, rest := range s.TableOrder[i+1:] {
				summary.Skipped = append(summary.Skipped, s.Name+"."+rest)
			}
			f.logger.Warn("table stage stopped for service",
				zap.String("service", s.Name),
				zap.String("failed", qualified),
				zap.Int("skipped", len(s.TableOrder)-i-1),
			)
			return nil
		}
		t.LeanCode = res.candidate
		summary.Accepted = append(summary.Accepted, qualified)
	}
	return nil
}
