package formalize

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"leanforge/internal/llm"
	"leanforge/internal/project"
)

// APIFormalizer produces an accepted Lean artifact for each API,
// walking the global resolved API order so every dependency artifact,
// table or API, exists before its dependents are attempted.
type APIFormalizer struct {
	client      llm.Client
	checker     Checker
	trace       TraceSink
	logger      *zap.Logger
	runID       string
	maxAttempts int
}

func NewAPIFormalizer(client llm.Client, checker Checker, sink TraceSink, runID string, maxAttempts int, logger *zap.Logger) *APIFormalizer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &APIFormalizer{
		client:      client,
		checker:     checker,
		trace:       sink,
		logger:      logger,
		runID:       runID,
		maxAttempts: maxAttempts,
	}
}

// Formalize fills API.LeanCode for every API it can. An API whose table
// dependencies lack artifacts (the table stage gave up on them) is
// skipped without burning attempts. When an API exhausts its retry
// budget the rest of the global order is skipped. A checker tool
// failure aborts the stage.
func (f *APIFormalizer) Formalize(ctx context.Context, p *project.Project) (*Summary, error) {
	summary := &Summary{}
	for i, ref := range p.APIOrder {
		api := p.API(ref)
		if api == nil {
			return nil, fmt.Errorf("api order names unknown api %s", ref)
		}

		tableDeps, apiDeps, premises, missing := f.collectPremises(p, ref, api)
		if missing != "" {
			summary.Skipped = append(summary.Skipped, ref.Key())
			f.logger.Warn("api skipped, dependency has no artifact",
				zap.String("api", ref.Key()),
				zap.String("dependency", missing),
			)
			continue
		}

		l := &loop{
			client:      f.client,
			checker:     f.checker,
			trace:       f.trace,
			logger:      f.logger,
			maxAttempts: f.maxAttempts,
			runID:       f.runID,
			stage:       "api_formalization",
			service:     ref.Service,
			entity:      ref.Key(),
		}
		res, err := l.run(ctx, apiFormalizeSystemPrompt, apiFormalizePrompt(ref, api, tableDeps, apiDeps), premises)
		if err != nil {
			return nil, err
		}
		if !res.accepted {
			summary.Failed = append(summary.Failed, ref.Key())
			for _, rest := range p.APIOrder[i+1:] {
				summary.Skipped = append(summary.Skipped, rest.Key())
			}
			f.logger.Warn("api stage stopped",
				zap.String("failed", ref.Key()),
				zap.Int("skipped", len(p.APIOrder)-i-1),
			)
			return summary, nil
		}
		api.LeanCode = res.candidate
		summary.Accepted = append(summary.Accepted, ref.Key())
	}
	return summary, nil
}

// collectPremises gathers the accepted artifacts an API builds on. The
// returned missing name is non-empty when any dependency lacks one.
func (f *APIFormalizer) collectPremises(p *project.Project, ref project.APIRef, api *project.API) (tables []*project.Table, apis []*project.API, premises []string, missing string) {
	s := p.Service(ref.Service)
	for _, name := range api.TableDeps {
		t := s.Table(name)
		if t == nil || t.LeanCode == "" {
			return nil, nil, nil, ref.Service + "." + name
		}
		tables = append(tables, t)
		premises = append(premises, t.LeanCode)
	}
	for _, dep := range api.APIDeps {
		d := p.API(dep)
		if d == nil || d.LeanCode == "" {
			return nil, nil, nil, dep.Key()
		}
		apis = append(apis, d)
		premises = append(premises, d.LeanCode)
	}
	return tables, apis, premises, ""
}
