package providers

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nekocord/nekocord/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider streams completions from the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a provider. An empty baseURL uses the
// official Anthropic API.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(options...)}
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Stream opens a streaming message request and delivers text deltas as they
// arrive. System turns are collected into the separate system field the
// Anthropic API requires; user turns keep their speaker prefix, which
// already carries attribution.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = anthropicDefaultMaxTokens
	}
	if req.Temperature != 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.TopP != 0 {
		params.TopP = anthropic.Float(float64(req.TopP))
	}

	var system []string
	for _, turn := range req.Turns {
		switch turn.Role {
		case models.RoleSystem:
			system = append(system, turn.Content)
		case models.RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				if !emit(ctx, chunks, Chunk{Text: delta.Text}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			emit(ctx, chunks, Chunk{Err: err, Done: true})
			return
		}
		emit(ctx, chunks, Chunk{Done: true})
	}()
	return chunks, nil
}
