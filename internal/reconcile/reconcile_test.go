package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nekocord/nekocord/internal/backoff"
	"github.com/nekocord/nekocord/internal/chat"
)

type recordingEditor struct {
	mu       sync.Mutex
	calls    []string
	failNext int
}

func (e *recordingEditor) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, content)
	if e.failNext > 0 {
		e.failNext--
		return errors.New("edit rejected")
	}
	return nil
}

func (e *recordingEditor) last() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.calls) == 0 {
		return ""
	}
	return e.calls[len(e.calls)-1]
}

func fragmentChan(fragments ...chat.Fragment) <-chan chat.Fragment {
	ch := make(chan chat.Fragment, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond}
}

func TestRunConverges(t *testing.T) {
	editor := &recordingEditor{}
	r := New(editor, Config{Policy: fastPolicy()})

	got, err := r.Run(context.Background(), "c1", "m1",
		fragmentChan(chat.Fragment{Text: "a"}, chat.Fragment{Text: "b"}, chat.Fragment{Text: "c"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "abc" {
		t.Errorf("accumulated = %q, want abc", got)
	}
	if editor.last() != "abc" {
		t.Errorf("final display = %q, want abc", editor.last())
	}
}

func TestRunRetriesFinalEdit(t *testing.T) {
	editor := &recordingEditor{failNext: 3}
	r := New(editor, Config{Policy: fastPolicy()})

	got, err := r.Run(context.Background(), "c1", "m1", fragmentChan(chat.Fragment{Text: "done"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "done" || editor.last() != "done" {
		t.Errorf("got %q, display %q, want done", got, editor.last())
	}
	editor.mu.Lock()
	calls := len(editor.calls)
	editor.mu.Unlock()
	if calls < 4 {
		t.Errorf("editor called %d times, want at least 4 (3 failures then success)", calls)
	}
}

func TestRunExhaustsAttemptBudget(t *testing.T) {
	editor := &recordingEditor{failNext: 100}
	r := New(editor, Config{Policy: fastPolicy(), MaxAttempts: 3, Notice: "gone"})

	got, err := r.Run(context.Background(), "c1", "m1", fragmentChan(chat.Fragment{Text: "x"}))
	if err == nil {
		t.Fatal("expected convergence failure")
	}
	if got != "x" {
		t.Errorf("accumulated = %q, want x", got)
	}
	if editor.last() != "gone" {
		t.Errorf("final display = %q, want the notice", editor.last())
	}
}

func TestRunStreamErrorSkipsConvergence(t *testing.T) {
	editor := &recordingEditor{}
	r := New(editor, Config{Policy: fastPolicy()})

	streamErr := errors.New("upstream gone")
	got, err := r.Run(context.Background(), "c1", "m1",
		fragmentChan(chat.Fragment{Text: "partial"}, chat.Fragment{Err: streamErr}))
	if !errors.Is(err, streamErr) {
		t.Fatalf("Run error = %v, want stream error", err)
	}
	if got != "partial" {
		t.Errorf("accumulated = %q, want partial", got)
	}
}

func TestRunEmptyStreamEditsNothing(t *testing.T) {
	editor := &recordingEditor{}
	r := New(editor, Config{Policy: fastPolicy()})

	got, err := r.Run(context.Background(), "c1", "m1", fragmentChan())
	if err != nil || got != "" {
		t.Fatalf("Run = %q, %v, want empty and nil", got, err)
	}
	if editor.last() != "" {
		t.Errorf("editor called on empty stream: %q", editor.last())
	}
}

func TestRunAppliesTransform(t *testing.T) {
	editor := &recordingEditor{}
	r := New(editor, Config{
		Policy:    fastPolicy(),
		Transform: strings.ToUpper,
	})

	got, err := r.Run(context.Background(), "c1", "m1", fragmentChan(chat.Fragment{Text: "hi"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "hi" {
		t.Errorf("accumulated = %q, want the untransformed text", got)
	}
	if editor.last() != "HI" {
		t.Errorf("display = %q, want HI", editor.last())
	}
}

func TestRunKeepsOneEditInFlight(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	editor := editorFunc(func(ctx context.Context, _, _, _ string) error {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	r := New(editor, Config{Policy: fastPolicy()})

	ch := make(chan chat.Fragment)
	go func() {
		defer close(ch)
		for i := 0; i < 20; i++ {
			ch <- chat.Fragment{Text: "t"}
		}
	}()
	if _, err := r.Run(context.Background(), "c1", "m1", ch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if maxSeen > 1 {
		t.Errorf("%d edits in flight at once, want at most 1", maxSeen)
	}
}

type editorFunc func(ctx context.Context, channelID, messageID, content string) error

func (f editorFunc) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	return f(ctx, channelID, messageID, content)
}
