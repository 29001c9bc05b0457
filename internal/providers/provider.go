// Package providers implements the upstream streaming-completion
// capability. Each provider converts a prompt of role-tagged turns into a
// lazily delivered stream of token chunks.
package providers

import (
	"context"

	"github.com/nekocord/nekocord/pkg/models"
)

// Request is a provider-agnostic streaming completion request. Turns hold
// the system preamble followed by the conversation context, in prompt
// order.
type Request struct {
	Model            string
	Turns            []models.Turn
	Temperature      float32
	TopP             float32
	MaxTokens        int
	FrequencyPenalty float32
	PresencePenalty  float32
}

// Chunk is one streamed increment of a completion. Exactly one terminal
// chunk is delivered: either Done or Err set.
type Chunk struct {
	Text string
	Err  error
	Done bool
}

// Provider streams completion tokens for a request. The returned channel is
// closed after the terminal chunk. Implementations must honor context
// cancellation on every send.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}
