package formalize

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leanforge/internal/graph"
	"leanforge/internal/llm"
	"leanforge/internal/project"
	"leanforge/internal/trace"
)

// TableAnalyzer infers table-to-table dependencies per service and
// computes each service's dependency-first table order.
type TableAnalyzer struct {
	client      llm.Client
	trace       TraceSink
	logger      *zap.Logger
	runID       string
	maxAttempts int
	maxWorkers  int
}

func NewTableAnalyzer(client llm.Client, sink TraceSink, runID string, maxWorkers int, logger *zap.Logger) *TableAnalyzer {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &TableAnalyzer{
		client:      client,
		trace:       sink,
		logger:      logger,
		runID:       runID,
		maxAttempts: defaultAnalysisAttempts,
		maxWorkers:  maxWorkers,
	}
}

// Analyze fills Table.DependsOn and Service.TableOrder for every
// service. Services are independent, so they run concurrently up to the
// worker limit; each goroutine writes only its own service.
func (a *TableAnalyzer) Analyze(ctx context.Context, p *project.Project) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxWorkers)
	for _, s := range p.Services {
		s := s
		if len(s.Tables) == 0 {
			s.TableOrder = nil
			continue
		}
		g.Go(func() error {
			return a.analyzeService(ctx, s)
		})
	}
	return g.Wait()
}

func (a *TableAnalyzer) analyzeService(ctx context.Context, s *project.Service) error {
	meta := trace.Record{
		RunID:   a.runID,
		Stage:   "table_dependency",
		Service: s.Name,
		Entity:  s.Name,
	}
	var deps map[string][]string
	parse := func(payload string) error {
		var parsed map[string][]string
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			return fmt.Errorf("payload is not a name-to-dependencies object: %w", err)
		}
		if err := validateTableDeps(s, parsed); err != nil {
			return err
		}
		deps = parsed
		return nil
	}
	if err := askStructured(ctx, a.client, a.trace, a.logger, meta, tableDepSystemPrompt, tableDepPrompt(s), a.maxAttempts, parse); err != nil {
		return err
	}

	order, err := graph.Resolve(s.TableNames(), deps)
	if err != nil {
		return fmt.Errorf("service %s: %w", s.Name, err)
	}
	for _, t := range s.Tables {
		t.DependsOn = deps[t.Name]
	}
	s.TableOrder = order
	a.logger.Info("table order resolved",
		zap.String("service", s.Name),
		zap.Strings("order", order),
	)
	return nil
}

// validateTableDeps rejects a dependency map that does not cover the
// service's tables exactly. Unknown names inside the dependency lists
// are left for graph resolution to report.
func validateTableDeps(s *project.Service, deps map[string][]string) error {
	for _, t := range s.Tables {
		if _, ok := deps[t.Name]; !ok {
			return fmt.Errorf("dependency map is missing table %q", t.Name)
		}
	}
	if len(deps) != len(s.Tables) {
		for name := range deps {
			if s.Table(name) == nil {
				return fmt.Errorf("dependency map names unknown table %q", name)
			}
		}
	}
	return nil
}
