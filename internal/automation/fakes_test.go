package automation

import (
	"context"
	"strings"
	"sync"
	"time"
)

type fakePage struct {
	mu          sync.Mutex
	input       string
	stream      string
	sent        []string
	dispatchErr error
	lands       bool // dispatched text clears the input and shows up in the stream
}

func (p *fakePage) Dispatch(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, text)
	if p.dispatchErr != nil {
		return p.dispatchErr
	}
	if p.lands {
		p.input = ""
		p.stream += text + "\n"
		return nil
	}
	p.input = text
	return nil
}

func (p *fakePage) InputValue(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input, nil
}

func (p *fakePage) StreamText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream, nil
}

func (p *fakePage) set(input, stream string) {
	p.mu.Lock()
	p.input = input
	p.stream = stream
	p.mu.Unlock()
}

func (p *fakePage) sentMessages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// fakeClock lets the first free sleeps pass instantly; later sleeps block
// until the context ends.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	free   int
	sleeps []time.Duration
	slept  chan time.Duration
}

func newFakeClock(now time.Time, free int) *fakeClock {
	return &fakeClock{now: now, free: free, slept: make(chan time.Duration, 64)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) bool {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	pass := c.free != 0
	if c.free > 0 {
		c.free--
	}
	if pass {
		c.now = c.now.Add(d)
	}
	c.mu.Unlock()

	select {
	case c.slept <- d:
	default:
	}
	if pass {
		return ctx.Err() == nil
	}
	<-ctx.Done()
	return false
}

func (c *fakeClock) allow(n int) {
	c.mu.Lock()
	c.free = n
	c.mu.Unlock()
}

func (c *fakeClock) sleepLog() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// seqRand returns the given values in order, then repeats the last one.
type seqRand struct {
	vals  []int
	calls int
}

func (r *seqRand) Intn(n int) int {
	i := r.calls
	r.calls++
	if i >= len(r.vals) {
		i = len(r.vals) - 1
	}
	return r.vals[i] % n
}

type eventLog struct {
	ch chan Event
}

func newEventLog() *eventLog { return &eventLog{ch: make(chan Event, 256)} }

func (l *eventLog) observe(ev Event) {
	select {
	case l.ch <- ev:
	default:
	}
}

// waitFor blocks until n events of type t arrived or the timeout passed.
func (l *eventLog) waitFor(t EventType, n int, timeout time.Duration) ([]Event, bool) {
	deadline := time.After(timeout)
	var got []Event
	for {
		select {
		case ev := <-l.ch:
			if ev.Type == t {
				got = append(got, ev)
				if len(got) == n {
					return got, true
				}
			}
		case <-deadline:
			return got, false
		}
	}
}

func joinMessages(ms []string) string { return strings.Join(ms, ",") }
