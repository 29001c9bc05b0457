package providers

import (
	"context"
	"strings"
	"testing"

	"github.com/nekocord/nekocord/pkg/models"
)

func TestMockProviderStreams(t *testing.T) {
	p := &MockProvider{}
	chunks, err := p.Stream(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var sb strings.Builder
	var done bool
	for c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected chunk error: %v", c.Err)
		}
		if c.Done {
			done = true
			continue
		}
		sb.WriteString(c.Text)
	}
	if !done {
		t.Error("missing terminal Done chunk")
	}
	got := sb.String()
	if !strings.Contains(got, "# H1") || !strings.Contains(got, "<think>") {
		t.Errorf("canned response incomplete: %q", got[:min(len(got), 80)])
	}
}

func TestMockProviderCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &MockProvider{}
	chunks, err := p.Stream(ctx, &Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	<-chunks
	cancel()
	// The producer must terminate and close the channel even though the
	// consumer stops reading.
	for range chunks {
		break
	}
}

func TestConvertTurnsKeepsNames(t *testing.T) {
	messages := convertTurns([]models.Turn{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "alice:hi", Name: "alice"},
		{Role: models.RoleAssistant, Content: "hello", Name: "neko"},
	})
	if len(messages) != 3 {
		t.Fatalf("converted %d messages, want 3", len(messages))
	}
	if messages[0].Role != "system" || messages[1].Role != "user" || messages[2].Role != "assistant" {
		t.Errorf("roles mangled: %+v", messages)
	}
	if messages[1].Name != "alice" || messages[2].Name != "neko" {
		t.Errorf("speaker names dropped: %+v", messages)
	}
}
