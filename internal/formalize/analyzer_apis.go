package formalize

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leanforge/internal/graph"
	"leanforge/internal/llm"
	"leanforge/internal/project"
	"leanforge/internal/trace"
)

// APIAnalyzer infers cross-service API call dependencies and computes
// the global dependency-first API formalization order.
type APIAnalyzer struct {
	client      llm.Client
	trace       TraceSink
	logger      *zap.Logger
	runID       string
	maxAttempts int
	maxWorkers  int
}

func NewAPIAnalyzer(client llm.Client, sink TraceSink, runID string, maxWorkers int, logger *zap.Logger) *APIAnalyzer {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &APIAnalyzer{
		client:      client,
		trace:       sink,
		logger:      logger,
		runID:       runID,
		maxAttempts: defaultAnalysisAttempts,
		maxWorkers:  maxWorkers,
	}
}

// Analyze fills API.APIDeps for every API and Project.APIOrder across
// services. Per-API analysis runs concurrently; ordering happens once
// all results are in, since the graph spans services.
func (a *APIAnalyzer) Analyze(ctx context.Context, p *project.Project) error {
	refs := p.AllAPIRefs()
	known := make(map[string]bool, len(refs))
	for _, ref := range refs {
		known[ref.Key()] = true
	}

	var mu sync.Mutex
	deps := make(map[string][]string, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxWorkers)
	for _, ref := range refs {
		ref := ref
		api := p.API(ref)
		g.Go(func() error {
			parsed, err := a.analyzeAPI(gctx, p, ref, api, known)
			if err != nil {
				return err
			}
			api.APIDeps = parsed
			keys := make([]string, len(parsed))
			for i, d := range parsed {
				keys[i] = d.Key()
			}
			mu.Lock()
			deps[ref.Key()] = keys
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	entities := make([]string, len(refs))
	byKey := make(map[string]project.APIRef, len(refs))
	for i, ref := range refs {
		entities[i] = ref.Key()
		byKey[ref.Key()] = ref
	}
	order, err := graph.Resolve(entities, deps)
	if err != nil {
		return err
	}
	p.APIOrder = make([]project.APIRef, len(order))
	for i, key := range order {
		p.APIOrder[i] = byKey[key]
	}
	a.logger.Info("api order resolved", zap.Strings("order", order))
	return nil
}

func (a *APIAnalyzer) analyzeAPI(ctx context.Context, p *project.Project, ref project.APIRef, api *project.API, known map[string]bool) ([]project.APIRef, error) {
	meta := trace.Record{
		RunID:   a.runID,
		Stage:   "api_dependency",
		Service: ref.Service,
		Entity:  ref.API,
	}
	var result []project.APIRef
	parse := func(payload string) error {
		var pairs [][]string
		if err := json.Unmarshal([]byte(payload), &pairs); err != nil {
			return fmt.Errorf("payload is not an array of [service, api] pairs: %w", err)
		}
		parsed := make([]project.APIRef, 0, len(pairs))
		seen := make(map[string]bool, len(pairs))
		for _, pair := range pairs {
			if len(pair) != 2 {
				return fmt.Errorf("entry %v is not a [service, api] pair", pair)
			}
			dep := project.APIRef{Service: pair[0], API: pair[1]}
			if !known[dep.Key()] {
				return fmt.Errorf("unknown api %s", dep)
			}
			if dep == ref {
				return fmt.Errorf("api %s cannot depend on itself", ref)
			}
			if seen[dep.Key()] {
				return fmt.Errorf("api %s listed twice", dep)
			}
			seen[dep.Key()] = true
			parsed = append(parsed, dep)
		}
		result = parsed
		return nil
	}
	if err := askStructured(ctx, a.client, a.trace, a.logger, meta, apiDepSystemPrompt, apiDepPrompt(p, ref, api), a.maxAttempts, parse); err != nil {
		return nil, fmt.Errorf("api %s: %w", ref, err)
	}
	return result, nil
}
