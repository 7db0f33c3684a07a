package formalize

import (
	"context"
	"time"

	"go.uber.org/zap"

	"leanforge/internal/leancheck"
	"leanforge/internal/llm"
	"leanforge/internal/trace"
)

// State names the phases of one entity's formalization attempt loop.
type State string

const (
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateAccepted   State = "accepted"
	StateRetrying   State = "retrying"
	StateExhausted  State = "exhausted"
)

// Checker validates one Lean candidate in the context of already
// accepted premise artifacts.
type Checker interface {
	Check(ctx context.Context, candidate string, premises []string) (*leancheck.Report, error)
}

// TraceSink records one model call. Satisfied by *trace.Store.
type TraceSink interface {
	Append(rec trace.Record) error
}

// loop runs the generate-validate-retry cycle for a single entity. The
// transcript grows across attempts, so later generations see both their
// own failed candidates and the feedback that rejected them.
type loop struct {
	client      llm.Client
	checker     Checker
	trace       TraceSink
	logger      *zap.Logger
	maxAttempts int

	runID  string
	stage  string
	entity string
	// service is empty for cross-service entities.
	service string
}

type loopResult struct {
	accepted  bool
	candidate string
	attempts  int
}

func (l *loop) run(ctx context.Context, system, initial string, premises []string) (loopResult, error) {
	var history []llm.Turn
	prompt := initial
	state := StateGenerating

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return loopResult{attempts: attempt - 1}, err
		}
		log := l.logger.With(
			zap.String("entity", l.entity),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", l.maxAttempts),
		)
		log.Info("generating candidate", zap.String("state", string(state)))

		start := time.Now()
		response, genErr := l.client.CompleteWithHistory(ctx, system, history, prompt)
		l.record(attempt, system, prompt, response, genErr, time.Since(start))
		if genErr != nil {
			if ctx.Err() != nil {
				return loopResult{attempts: attempt}, ctx.Err()
			}
			log.Warn("generation failed", zap.Error(genErr))
			history = append(history,
				llm.Turn{Role: llm.RoleUser, Content: prompt},
				llm.Turn{Role: llm.RoleAssistant, Content: "generation failed: " + genErr.Error()},
			)
			prompt = retryPrompt("The generation service returned no usable response.")
			state = StateRetrying
			continue
		}
		history = append(history,
			llm.Turn{Role: llm.RoleUser, Content: prompt},
			llm.Turn{Role: llm.RoleAssistant, Content: response},
		)

		candidate, err := ExtractLeanBlock(response)
		if err != nil {
			log.Warn("no candidate in response", zap.Error(err))
			prompt = retryPrompt("The response did not end with a \"### Lean Code\" section holding a fenced lean block.")
			state = StateRetrying
			continue
		}

		state = StateValidating
		log.Info("validating candidate", zap.String("state", string(state)))
		report, err := l.checker.Check(ctx, candidate, premises)
		if err != nil {
			// Tool failures are environmental, not a judgment on the
			// candidate. Burning retries on them would be misleading.
			return loopResult{attempts: attempt}, err
		}
		if report.Accepted {
			log.Info("candidate accepted", zap.String("state", string(StateAccepted)))
			return loopResult{accepted: true, candidate: candidate, attempts: attempt}, nil
		}

		feedback := rejectionFeedback(report, candidate)
		log.Info("candidate rejected",
			zap.String("state", string(StateRetrying)),
			zap.Int("errors", len(report.Errors())),
			zap.Int("unsolved_goals", len(report.UnsolvedGoals())),
		)
		prompt = retryPrompt(feedback)
		state = StateRetrying
	}

	l.logger.Warn("attempts exhausted",
		zap.String("entity", l.entity),
		zap.String("state", string(StateExhausted)),
		zap.Int("attempts", l.maxAttempts),
	)
	return loopResult{attempts: l.maxAttempts}, nil
}

func (l *loop) record(attempt int, system, prompt, response string, genErr error, elapsed time.Duration) {
	if l.trace == nil {
		return
	}
	rec := trace.Record{
		RunID:        l.runID,
		Stage:        l.stage,
		Service:      l.service,
		Entity:       l.entity,
		Attempt:      attempt,
		SystemPrompt: system,
		UserPrompt:   prompt,
		Response:     response,
		Success:      genErr == nil,
		DurationMs:   elapsed.Milliseconds(),
	}
	if genErr != nil {
		rec.ErrorMessage = genErr.Error()
	}
	if err := l.trace.Append(rec); err != nil {
		l.logger.Warn("trace append failed", zap.Error(err))
	}
}

func rejectionFeedback(report *leancheck.Report, candidate string) string {
	feedback := leancheck.FormatDiagnostics(report.Errors(), candidate)
	if goals := report.UnsolvedGoals(); len(goals) > 0 {
		feedback += "\n" + leancheck.FormatGoals(goals)
	}
	return feedback
}
