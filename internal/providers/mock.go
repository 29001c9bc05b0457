package providers

import (
	"context"
	"strings"
	"time"
)

// mockResponse exercises the markdown constructs a surface has to render,
// including a reasoning span.
const mockResponse = "<think>weighing the options\nsettling on an answer</think># H1\n" +
	"\n" +
	"## H2\n" +
	"\n" +
	"**bold text**\n" +
	"*italicized text*\n" +
	"~~strikethrough~~\n" +
	"\n" +
	"> blockquote\n" +
	"\n" +
	"1. First item\n" +
	"2. Second item\n" +
	"\n" +
	"- First item\n" +
	"- Second item\n" +
	"\n" +
	"`code`\n" +
	"\n" +
	"[title](https://www.example.com)\n" +
	"\n" +
	"| Syntax | Description |\n" +
	"| ------ | ----------- |\n" +
	"| Header | Title       |\n" +
	"\n" +
	"```json\n" +
	"{\n" +
	"  \"firstName\": \"John\",\n" +
	"  \"lastName\": \"Smith\"\n" +
	"}\n" +
	"```\n" +
	"\n" +
	"- [x] Write the press release\n" +
	"- [ ] Update the website\n"

// MockProvider yields a deterministic canned response line by line. It is
// selected by the agent's mock flag and used in tests and dry runs.
type MockProvider struct {
	// Delay is the pause between lines. Zero streams as fast as the
	// consumer reads.
	Delay time.Duration
}

// Name returns the provider identifier.
func (p *MockProvider) Name() string {
	return "mock"
}

// Stream ignores the request and yields the canned response, one line (with
// its trailing newline) per chunk.
func (p *MockProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		for _, line := range strings.Split(mockResponse, "\n") {
			if p.Delay > 0 {
				timer := time.NewTimer(p.Delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			if !emit(ctx, chunks, Chunk{Text: line + "\n"}) {
				return
			}
		}
		emit(ctx, chunks, Chunk{Done: true})
	}()
	return chunks, nil
}
