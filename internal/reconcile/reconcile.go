// Package reconcile pushes a growing text accumulator into a single
// platform message. Edits are rate-shaped by keeping at most one in flight
// and always carrying the latest accumulator state, so dropped intermediate
// frames are harmless. A final corrective pass retries until the displayed
// message matches the complete text.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nekocord/nekocord/internal/backoff"
	"github.com/nekocord/nekocord/internal/chat"
)

// Editor edits an already-sent platform message in place.
type Editor interface {
	EditMessage(ctx context.Context, channelID, messageID, content string) error
}

// Config tunes a Reconciler.
type Config struct {
	// Policy shapes the retry delays of the final corrective pass.
	Policy backoff.Policy
	// MaxAttempts bounds the corrective pass. Zero means retry until ctx
	// is done.
	MaxAttempts int
	// Notice replaces the message content when the corrective pass is
	// exhausted. Empty leaves the last successful edit in place.
	Notice string
	// Transform renders the accumulator into display form before each
	// edit. Nil means identity.
	Transform func(string) string

	Logger *slog.Logger
}

// Reconciler drives one message's edits for one generation.
type Reconciler struct {
	editor Editor
	cfg    Config
	log    *slog.Logger
}

// New creates a reconciler over the given editor.
func New(editor Editor, cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy == (backoff.Policy{}) {
		cfg.Policy = backoff.Default()
	}
	return &Reconciler{editor: editor, cfg: cfg, log: logger.With("component", "reconcile")}
}

// Run consumes fragments, edits the message toward the accumulated text,
// and returns the complete text once the display has converged. A fragment
// error aborts the corrective pass and is returned with whatever text
// accumulated before it.
//
// While the stream is live, at most one edit is in flight; new fragments
// arriving during an edit only grow the accumulator, and the next edit
// carries the latest state. After the stream ends, the final text is
// re-sent until an edit succeeds or the attempt budget runs out.
func (r *Reconciler) Run(ctx context.Context, channelID, messageID string, fragments <-chan chat.Fragment) (string, error) {
	var (
		mu       sync.Mutex
		acc      strings.Builder
		inFlight bool
		wg       sync.WaitGroup
	)

	render := func(s string) string {
		if r.cfg.Transform != nil {
			return r.cfg.Transform(s)
		}
		return s
	}

	for f := range fragments {
		if f.Err != nil {
			wg.Wait()
			return acc.String(), f.Err
		}

		mu.Lock()
		acc.WriteString(f.Text)
		snapshot := acc.String()
		launch := !inFlight
		if launch {
			inFlight = true
		}
		mu.Unlock()
		if !launch {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.editor.EditMessage(ctx, channelID, messageID, render(snapshot))
			mu.Lock()
			inFlight = false
			mu.Unlock()
			if err != nil {
				r.log.Debug("interim edit dropped", "message_id", messageID, "error", err)
			}
		}()
	}
	wg.Wait()

	final := acc.String()
	if final == "" {
		return "", nil
	}
	if err := r.converge(ctx, channelID, messageID, render(final)); err != nil {
		return final, err
	}
	return final, nil
}

// converge retries the final edit until it sticks.
func (r *Reconciler) converge(ctx context.Context, channelID, messageID, content string) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		err := r.editor.EditMessage(ctx, channelID, messageID, content)
		if err == nil {
			return nil
		}
		lastErr = err
		r.log.Warn("final edit failed", "message_id", messageID, "attempt", attempt, "error", err)
		if r.cfg.MaxAttempts > 0 && attempt >= r.cfg.MaxAttempts {
			break
		}
		if err := backoff.Sleep(ctx, r.cfg.Policy.Delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	if r.cfg.Notice != "" {
		// Best effort; the notice edit may fail for the same reason.
		if err := r.editor.EditMessage(ctx, channelID, messageID, r.cfg.Notice); err != nil {
			r.log.Warn("notice edit failed", "message_id", messageID, "error", err)
		}
	}
	return fmt.Errorf("message edit did not converge: %w", lastErr)
}
