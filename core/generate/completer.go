// Package generate wraps the external text generation capability used to
// compose answers from synthesis contexts. The engine treats generation as
// best-effort: transient failures are retried with backoff, persistent
// ones surface as model.ErrCapabilityUnavailable without corrupting any
// stored state.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
)

// Completer produces a completion for a prompt. Implementations wrap an
// external model endpoint.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// RetryingCompleter retries a wrapped completer with bounded exponential
// backoff before giving up.
type RetryingCompleter struct {
	inner       Completer
	maxAttempts int
	baseDelay   time.Duration
	log         *slog.Logger
}

// NewRetryingCompleter wraps a completer with the default retry policy.
func NewRetryingCompleter(inner Completer, logger *slog.Logger) (*RetryingCompleter, error) {
	if inner == nil {
		return nil, helper.NewError("completer validation", fmt.Errorf("inner completer is nil"))
	}
	return &RetryingCompleter{
		inner:       inner,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		log:         logger,
	}, nil
}

// Complete retries the wrapped completer up to maxAttempts times, doubling
// the delay between attempts. After the last failure it returns
// model.ErrCapabilityUnavailable wrapping the final error.
func (r *RetryingCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	delay := r.baseDelay
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		out, err := r.inner.Complete(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		r.log.Warn("Completion attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.maxAttempts),
			slog.String("error", err.Error()))

		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return "", fmt.Errorf("generation failed after %d attempts: %v: %w",
		r.maxAttempts, lastErr, model.ErrCapabilityUnavailable)
}

// Prompt renders a synthesis context into the prompt handed to the
// completer.
func Prompt(sc *model.SynthesisContext) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the provided context.\n\n")

	if sc.SchemaSummary != "" {
		b.WriteString(sc.SchemaSummary)
		b.WriteString("\n\n")
	}

	if len(sc.Entities) > 0 {
		b.WriteString("Known entities:\n")
		for _, e := range sc.Entities {
			props, err := e.Properties.Marshal()
			if err != nil {
				props = []byte("{}")
			}
			b.WriteString(fmt.Sprintf("- %s %s\n", e.TypeName, string(props)))
		}
		b.WriteString("\n")
	}

	if len(sc.Relations) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range sc.Relations {
			b.WriteString("- " + rel.Summary + "\n")
		}
		b.WriteString("\n")
	}

	for _, ex := range sc.Excerpts {
		b.WriteString(fmt.Sprintf("From %q:\n%s\n\n", ex.DocumentTitle, ex.Text))
	}

	b.WriteString("Question: " + sc.Query + "\n")
	return b.String()
}
