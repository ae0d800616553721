package automation

import (
	"context"
	"strings"
	"time"
)

const DefaultPollInterval = 200 * time.Millisecond

// Confirmer polls a page for evidence that a dispatched message was sent:
// the input no longer holds the text, or the text shows up in the stream
// more often than it did before dispatch.
type Confirmer struct {
	Poll time.Duration
}

func (c Confirmer) poll() time.Duration {
	if c.Poll <= 0 {
		return DefaultPollInterval
	}
	return c.Poll
}

// Occurrences counts how often the trimmed text appears in the stream now.
// Callers take it before dispatch and pass it to ConfirmSince.
func (c Confirmer) Occurrences(ctx context.Context, page Page, text string) int {
	needle := strings.TrimSpace(text)
	if needle == "" {
		return 0
	}
	stream, err := page.StreamText(ctx)
	if err != nil {
		return 0
	}
	return strings.Count(stream, needle)
}

// Confirm is ConfirmSince with an empty baseline.
func (c Confirmer) Confirm(ctx context.Context, page Page, original string, timeout time.Duration) bool {
	return c.ConfirmSince(ctx, page, original, 0, timeout)
}

// ConfirmSince returns true on the first tick where either signal holds,
// false on timeout or ctx cancellation.
func (c Confirmer) ConfirmSince(ctx context.Context, page Page, original string, baseline int, timeout time.Duration) bool {
	if timeout <= 0 {
		return c.probe(ctx, page, original, baseline)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(c.poll())
	defer t.Stop()

	for {
		if c.probe(cctx, page, original, baseline) {
			return true
		}
		select {
		case <-cctx.Done():
			return false
		case <-t.C:
		}
	}
}

func (c Confirmer) probe(ctx context.Context, page Page, original string, baseline int) bool {
	if ctx.Err() != nil {
		return false
	}
	if v, err := page.InputValue(ctx); err == nil && v != original {
		return true
	}
	return c.Occurrences(ctx, page, original) > baseline
}
