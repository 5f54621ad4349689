// Package llm abstracts the generation service behind a narrow interface
// so every caller degrades gracefully when the service is mocked, offline,
// or returns malformed output.
package llm

import (
	"context"

	"github.com/closerlabs/convoengine/pkg/models"
)

// Options tunes a single generation call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator is the generation service consumed by the engine. Callers
// must treat any error as "no result" and fall back to pre-existing
// state; generation failures never propagate past the component that
// issued the call.
type Generator interface {
	// Generate produces free-form text from a system prompt and a
	// message window.
	Generate(ctx context.Context, systemPrompt string, messages []models.ConversationTurn, opts Options) (string, error)

	// GenerateObject produces a JSON-shaped response and unmarshals it
	// into v. Implementations must tolerate prose around the JSON.
	GenerateObject(ctx context.Context, prompt string, v any) error
}
