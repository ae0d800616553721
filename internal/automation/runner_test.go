package automation

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func newTestRunner(p Page, clk Clock, log *eventLog, rt RuntimeState) *Runner {
	return New(Options{
		TabID:          5,
		Page:           p,
		Clock:          clk,
		Rand:           rand.New(rand.NewSource(3)),
		Confirmer:      Confirmer{Poll: 2 * time.Millisecond},
		ConfirmTimeout: 20 * time.Millisecond,
		Runtime:        rt,
		Observer:       log.observe,
	})
}

func seqConfig(msgs ...string) Config {
	return Config{Messages: msgs, SendMode: ModeSequential, MinIntervalSeconds: 1, MaxIntervalSeconds: 1}
}

func stopCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunnerSendsConfirmedMessages(t *testing.T) {
	p := &fakePage{lands: true}
	clk := newFakeClock(at(12, 0), 3)
	log := newEventLog()
	r := newTestRunner(p, clk, log, RuntimeState{})

	if err := r.Start(context.Background(), seqConfig("a", "b")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := log.waitFor(EventSent, 3, 2*time.Second); !ok {
		t.Fatalf("expected 3 sent events")
	}
	if err := r.Stop(stopCtx(t), false); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := joinMessages(p.sentMessages()); got != "a,b,a" {
		t.Fatalf("unexpected sends: %s", got)
	}
	st := r.Status()
	if st.State != StateStopped {
		t.Fatalf("expected stopped, got %s", st.State)
	}
	if st.Runtime.TotalSent != 3 || st.Runtime.MessagesSentToday != 3 {
		t.Fatalf("unexpected counters: %+v", st.Runtime)
	}
	for _, d := range clk.sleepLog() {
		if d != time.Second {
			t.Fatalf("unexpected wait %v", d)
		}
	}
}

func TestRunnerStartTwice(t *testing.T) {
	r := newTestRunner(&fakePage{lands: true}, newFakeClock(at(12, 0), 0), newEventLog(), RuntimeState{})
	if err := r.Start(context.Background(), seqConfig("a")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(stopCtx(t), false)
	if err := r.Start(context.Background(), seqConfig("a")); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunnerStartRejectsInvalidConfig(t *testing.T) {
	r := newTestRunner(&fakePage{}, newFakeClock(at(12, 0), 0), newEventLog(), RuntimeState{})
	err := r.Start(context.Background(), Config{MinIntervalSeconds: 5, MaxIntervalSeconds: 1})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if r.Status().State != StateIdle {
		t.Fatalf("runner left idle on invalid config")
	}
}

func TestRunnerStopWhileWaitingSendsNothing(t *testing.T) {
	p := &fakePage{lands: true}
	clk := newFakeClock(at(12, 0), 0)
	log := newEventLog()
	r := newTestRunner(p, clk, log, RuntimeState{})

	if err := r.Start(context.Background(), seqConfig("a")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-clk.slept:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop never started waiting")
	}
	if r.Status().Phase != PhaseWaiting {
		t.Fatalf("expected waiting phase, got %q", r.Status().Phase)
	}
	if err := r.Stop(stopCtx(t), false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sent := p.sentMessages(); len(sent) != 0 {
		t.Fatalf("sent after stop: %v", sent)
	}
	if _, ok := log.waitFor(EventStopped, 1, time.Second); !ok {
		t.Fatalf("missing stopped event")
	}
}

type panicPage struct{ fakePage }

func (p *panicPage) Dispatch(ctx context.Context, text string) error { panic("driver bug") }

func TestRunnerPagePanicStopsOnlyThatLoop(t *testing.T) {
	p := &panicPage{}
	clk := newFakeClock(at(12, 0), -1)
	log := newEventLog()
	r := newTestRunner(p, clk, log, RuntimeState{})

	if err := r.Start(context.Background(), seqConfig("a")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	evs, ok := log.waitFor(EventError, 1, 2*time.Second)
	if !ok {
		t.Fatalf("panic was not reported as an error event")
	}
	if !strings.Contains(evs[0].Err, "driver bug") {
		t.Fatalf("unexpected error text %q", evs[0].Err)
	}
	if _, ok := log.waitFor(EventStopped, 1, 2*time.Second); !ok {
		t.Fatalf("missing stopped event after panic")
	}
	if st := r.Status(); st.State != StateStopped || st.LastError == "" {
		t.Fatalf("expected stopped with error, got %+v", st)
	}
}

func TestRunnerDispatchErrorStops(t *testing.T) {
	p := &fakePage{dispatchErr: ErrDispatchTarget}
	clk := newFakeClock(at(12, 0), -1)
	log := newEventLog()
	r := newTestRunner(p, clk, log, RuntimeState{})

	if err := r.Start(context.Background(), seqConfig("a")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	evs, ok := log.waitFor(EventError, 1, 2*time.Second)
	if !ok {
		t.Fatalf("missing error event")
	}
	if evs[0].Err != ErrDispatchTarget.Error() {
		t.Fatalf("unexpected error text %q", evs[0].Err)
	}
	if st := r.Status(); st.State != StateStopped || st.LastError == "" {
		t.Fatalf("expected stopped with error, got %+v", st)
	}

	// a fresh start must wait for the failed loop and then run again
	p.mu.Lock()
	p.dispatchErr = nil
	p.lands = true
	p.mu.Unlock()
	if err := r.Start(context.Background(), seqConfig("a")); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, ok := log.waitFor(EventSent, 1, 2*time.Second); !ok {
		t.Fatalf("restarted runner did not send")
	}
	_ = r.Stop(stopCtx(t), false)
	if len(p.sentMessages()) < 2 {
		t.Fatalf("expected the failed attempt plus a send, got %v", p.sentMessages())
	}
}

func TestRunnerUnconfirmedKeepsRunning(t *testing.T) {
	p := &fakePage{}
	clk := newFakeClock(at(12, 0), 2)
	log := newEventLog()
	r := newTestRunner(p, clk, log, RuntimeState{})

	if err := r.Start(context.Background(), seqConfig("a", "b")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := log.waitFor(EventUnconfirmed, 2, 2*time.Second); !ok {
		t.Fatalf("expected two unconfirmed events")
	}
	if err := r.Stop(stopCtx(t), false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rt := r.Runtime()
	if rt.TotalUnconfirmed != 2 || rt.TotalSent != 0 || rt.MessagesSentToday != 0 {
		t.Fatalf("unexpected counters: %+v", rt)
	}
}

func TestRunnerGatedDoesNotSend(t *testing.T) {
	p := &fakePage{lands: true}
	clk := newFakeClock(at(22, 0), 0)
	log := newEventLog()
	r := newTestRunner(p, clk, log, RuntimeState{MessagesSentToday: 1, LastResetDate: "2024-03-10"})

	limit := 1
	cfg := seqConfig("a")
	cfg.DailyLimit = &limit
	if err := r.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	evs, ok := log.waitFor(EventGated, 1, 2*time.Second)
	if !ok {
		t.Fatalf("missing gated event")
	}
	if evs[0].Reason != ReasonDailyLimit || evs[0].Delay != 2*time.Hour {
		t.Fatalf("unexpected gate: %+v", evs[0])
	}
	if st := r.Status(); st.Gate != ReasonDailyLimit {
		t.Fatalf("status gate = %q", st.Gate)
	}
	if err := r.Stop(stopCtx(t), false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(p.sentMessages()) != 0 {
		t.Fatalf("gated runner sent %v", p.sentMessages())
	}
	if r.Runtime().TotalUnconfirmed != 0 {
		t.Fatalf("gate counted as an attempt")
	}
}

func TestRunnerPauseResumeContinuesSequence(t *testing.T) {
	p := &fakePage{lands: true}
	clk := newFakeClock(at(12, 0), 2)
	log := newEventLog()
	r := newTestRunner(p, clk, log, RuntimeState{})

	if err := r.Start(context.Background(), seqConfig("a", "b", "c")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := log.waitFor(EventSent, 2, 2*time.Second); !ok {
		t.Fatalf("expected two sends")
	}
	if err := r.Pause(stopCtx(t)); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if r.Status().State != StatePaused {
		t.Fatalf("expected paused")
	}

	clk.allow(1)
	if err := r.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, ok := log.waitFor(EventSent, 1, 2*time.Second); !ok {
		t.Fatalf("expected a send after resume")
	}
	if err := r.Stop(stopCtx(t), true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := joinMessages(p.sentMessages()); got != "a,b,c" {
		t.Fatalf("unexpected sends: %s", got)
	}
	rt := r.Runtime()
	if rt.CurrentIndex != 0 || len(rt.RecentMessages) != 0 {
		t.Fatalf("history not cleared: %+v", rt)
	}
	if rt.TotalSent != 3 {
		t.Fatalf("counters must survive clearHistory: %+v", rt)
	}
}

func TestRunnerStopWhenIdle(t *testing.T) {
	r := newTestRunner(&fakePage{}, newFakeClock(at(12, 0), 0), newEventLog(), RuntimeState{})
	if err := r.Stop(context.Background(), false); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestRunnerSeededRuntimeResumesCursor(t *testing.T) {
	p := &fakePage{lands: true}
	clk := newFakeClock(at(12, 0), 1)
	log := newEventLog()
	r := newTestRunner(p, clk, log, RuntimeState{CurrentIndex: 1, TotalSent: 9, LastResetDate: "2024-03-10", MessagesSentToday: 4})

	if err := r.Start(context.Background(), seqConfig("a", "b")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := log.waitFor(EventSent, 1, 2*time.Second); !ok {
		t.Fatalf("expected a send")
	}
	_ = r.Stop(stopCtx(t), false)
	if got := joinMessages(p.sentMessages()); got != "b" {
		t.Fatalf("expected b, got %s", got)
	}
	if rt := r.Runtime(); rt.TotalSent != 10 || rt.MessagesSentToday != 5 {
		t.Fatalf("unexpected counters: %+v", rt)
	}
}
