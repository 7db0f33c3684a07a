// Package llm provides clients for the external text-generation
// services that produce candidate Lean artifacts. The pipeline only
// depends on the Client interface; concrete providers are selected by
// configuration.
package llm

import "context"

// Roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior exchange in a retry conversation. Histories are
// append-only: later attempts always replay the full transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the minimal interface the formalizers use to call an LLM.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// CompleteWithHistory replays prior turns before the new user
	// prompt, preserving error context across retry attempts.
	CompleteWithHistory(ctx context.Context, systemPrompt string, history []Turn, userPrompt string) (string, error)
}
