package formalize

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leanforge/internal/llm"
	"leanforge/internal/trace"
)

// defaultAnalysisAttempts bounds retries for dependency analysis calls.
// Analysis output is cheap to regenerate, so the budget stays small.
const defaultAnalysisAttempts = 3

// askStructured asks the model for a "### Output" json payload and
// hands it to parse. A failed generation, a missing section, or a parse
// rejection all feed back into the transcript and consume one attempt.
func askStructured(ctx context.Context, client llm.Client, sink TraceSink, logger *zap.Logger, meta trace.Record, system, prompt string, attempts int, parse func(payload string) error) error {
	var history []llm.Turn
	cur := prompt
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		response, genErr := client.CompleteWithHistory(ctx, system, history, cur)
		recordCall(sink, logger, meta, attempt, system, cur, response, genErr, time.Since(start))
		if genErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("analysis generation failed",
				zap.String("entity", meta.Entity),
				zap.Int("attempt", attempt),
				zap.Error(genErr),
			)
			lastErr = genErr
			history = append(history,
				llm.Turn{Role: llm.RoleUser, Content: cur},
				llm.Turn{Role: llm.RoleAssistant, Content: "generation failed: " + genErr.Error()},
			)
			cur = analyzerRetryPrompt("The generation service returned no usable response.")
			continue
		}
		history = append(history,
			llm.Turn{Role: llm.RoleUser, Content: cur},
			llm.Turn{Role: llm.RoleAssistant, Content: response},
		)

		payload, err := ExtractJSONBlock(response)
		if err == nil {
			err = parse(payload)
			if err == nil {
				return nil
			}
		}
		logger.Warn("analysis response rejected",
			zap.String("entity", meta.Entity),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		lastErr = err
		cur = analyzerRetryPrompt(err.Error())
	}
	return fmt.Errorf("analysis of %s failed after %d attempts: %w", meta.Entity, attempts, lastErr)
}

func recordCall(sink TraceSink, logger *zap.Logger, meta trace.Record, attempt int, system, prompt, response string, genErr error, elapsed time.Duration) {
	if sink == nil {
		return
	}
	rec := meta
	rec.Attempt = attempt
	rec.SystemPrompt = system
	rec.UserPrompt = prompt
	rec.Response = response
	rec.Success = genErr == nil
	rec.DurationMs = elapsed.Milliseconds()
	if genErr != nil {
		rec.ErrorMessage = genErr.Error()
	}
	if err := sink.Append(rec); err != nil {
		logger.Warn("trace append failed", zap.Error(err))
	}
}
