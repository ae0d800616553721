package eventbus

import (
	"testing"
	"time"
)

func TestSubscribePrefixFilter(t *testing.T) {
	t.Parallel()
	b := New()
	runner, unsubRunner := b.Subscribe(4, "runner.")
	all, unsubAll := b.Subscribe(4)
	defer unsubRunner()
	defer unsubAll()

	b.Publish(Event{Type: "runner.sent", Data: 5})
	b.Publish(Event{Type: "campaign.fired"})

	select {
	case e := <-runner:
		if e.Type != "runner.sent" || e.Time.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("runner subscriber got nothing")
	}
	select {
	case e := <-runner:
		t.Fatalf("filtered subscriber received %q", e.Type)
	default:
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber buffered %d events, want 2", len(all))
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "c"})
}
