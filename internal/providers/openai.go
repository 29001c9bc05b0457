package providers

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nekocord/nekocord/pkg/models"
)

// OpenAIProvider streams completions from any OpenAI-compatible API
// (OpenAI, DeepSeek, Ollama, ...) selected by base URL.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider for the given endpoint. An empty
// baseURL uses the official OpenAI API.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Stream opens a streaming chat completion and delivers text deltas as they
// arrive. The error return covers request-setup failures only; mid-stream
// failures arrive as a terminal Chunk.Err.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:            req.Model,
		Messages:         convertTurns(req.Turns),
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxTokens,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stream:           true,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: create stream: %w", err)
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					emit(ctx, chunks, Chunk{Done: true})
					return
				}
				emit(ctx, chunks, Chunk{Err: err, Done: true})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				if !emit(ctx, chunks, Chunk{Text: delta}) {
					return
				}
			}
		}
	}()
	return chunks, nil
}

func convertTurns(turns []models.Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
			Name:    turn.Name,
		})
	}
	return messages
}

// emit sends a chunk unless the context is cancelled.
func emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
