package formalize

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leanforge/internal/llm"
	"leanforge/internal/project"
	"leanforge/internal/trace"
)

// APITableAnalyzer infers which of its service's tables each API reads
// or writes.
type APITableAnalyzer struct {
	client      llm.Client
	trace       TraceSink
	logger      *zap.Logger
	runID       string
	maxAttempts int
	maxWorkers  int
}

func NewAPITableAnalyzer(client llm.Client, sink TraceSink, runID string, maxWorkers int, logger *zap.Logger) *APITableAnalyzer {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &APITableAnalyzer{
		client:      client,
		trace:       sink,
		logger:      logger,
		runID:       runID,
		maxAttempts: defaultAnalysisAttempts,
		maxWorkers:  maxWorkers,
	}
}

// Analyze fills API.TableDeps for every API in the project. APIs are
// analyzed concurrently up to the worker limit; each goroutine writes
// only its own API.
func (a *APITableAnalyzer) Analyze(ctx context.Context, p *project.Project) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxWorkers)
	for _, s := range p.Services {
		for _, api := range s.APIs {
			s, api := s, api
			g.Go(func() error {
				return a.analyzeAPI(ctx, s, api)
			})
		}
	}
	return g.Wait()
}

func (a *APITableAnalyzer) analyzeAPI(ctx context.Context, s *project.Service, api *project.API) error {
	meta := trace.Record{
		RunID:   a.runID,
		Stage:   "api_table_dependency",
		Service: s.Name,
		Entity:  api.Name,
	}
	var tables []string
	parse := func(payload string) error {
		var parsed []string
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			return fmt.Errorf("payload is not an array of table names: %w", err)
		}
		seen := make(map[string]bool, len(parsed))
		for _, name := range parsed {
			if s.Table(name) == nil {
				return fmt.Errorf("unknown table %q", name)
			}
			if seen[name] {
				return fmt.Errorf("table %q listed twice", name)
			}
			seen[name] = true
		}
		tables = parsed
		return nil
	}
	if err := askStructured(ctx, a.client, a.trace, a.logger, meta, apiTableDepSystemPrompt, apiTableDepPrompt(s, api), a.maxAttempts, parse); err != nil {
		return fmt.Errorf("api %s.%s: %w", s.Name, api.Name, err)
	}
	api.TableDeps = tables
	a.logger.Info("api table deps resolved",
		zap.String("service", s.Name),
		zap.String("api", api.Name),
		zap.Strings("tables", tables),
	)
	return nil
}
