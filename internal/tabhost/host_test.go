package tabhost

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"autosend/internal/automation"
	"autosend/internal/coordinator"
	"autosend/internal/eventbus"
	"autosend/internal/runtime/supervisor"
	"autosend/internal/storage"
)

type memPage struct {
	mu     sync.Mutex
	stream string
	sent   []string
}

func (p *memPage) Dispatch(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, text)
	p.stream += text + "\n"
	return nil
}

func (p *memPage) InputValue(ctx context.Context) (string, error) { return "", nil }

func (p *memPage) StreamText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream, nil
}

type fakePages struct {
	mu    sync.Mutex
	pages map[int]*memPage
}

func (f *fakePages) Exists(ctx context.Context, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pages[id]
	return ok, nil
}

func (f *fakePages) Page(ctx context.Context, id int) (automation.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return nil, errors.New("no page")
	}
	return p, nil
}

func newTestHost(t *testing.T, st storage.Store, bus eventbus.Bus, pages *fakePages) *Host {
	t.Helper()
	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return New(Options{
		Pages:      pages,
		Store:      st,
		Bus:        bus,
		Supervisor: sup,
		Runner:     RunnerSettings{ConfirmTimeout: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond},
	})
}

func limitedConfig(limit int) *automation.Config {
	return &automation.Config{Messages: []string{"ping"}, DailyLimit: &limit}
}

func TestHostStartPersistsRuntime(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	bus := eventbus.New()
	sent, unsub := bus.Subscribe(16, string(automation.EventSent))
	defer unsub()

	page := &memPage{}
	h := newTestHost(t, st, bus, &fakePages{pages: map[int]*memPage{5: page}})

	reply, err := h.Send(ctx, 5, coordinator.Command{Action: coordinator.ActionStart, Config: limitedConfig(2)})
	if err != nil || !reply.OK {
		t.Fatalf("start: reply=%+v err=%v", reply, err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("missing sent event %d", i+1)
		}
	}

	// the third cycle parks on the daily limit
	deadline := time.Now().Add(2 * time.Second)
	for {
		reply, _ = h.Send(ctx, 5, coordinator.Command{Action: coordinator.ActionStatus})
		if reply.Status != nil && reply.Status.Gate == automation.ReasonDailyLimit {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("runner never gated: %+v", reply.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reply.Status.State != automation.StateRunning {
		t.Fatalf("gated runner should still be running: %+v", reply.Status)
	}

	reply, err = h.Send(ctx, 5, coordinator.Command{Action: coordinator.ActionStop})
	if err != nil || !reply.OK {
		t.Fatalf("stop: reply=%+v err=%v", reply, err)
	}

	got, _ := st.Get(ctx, RuntimeKey(5))
	var rt automation.RuntimeState
	if err := json.Unmarshal(got[RuntimeKey(5)], &rt); err != nil {
		t.Fatalf("decode runtime: %v", err)
	}
	if rt.TotalSent != 2 || rt.MessagesSentToday != 2 {
		t.Fatalf("unexpected persisted runtime: %+v", rt)
	}
}

func TestHostRestoresRuntimeForNewRunner(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	seed, _ := json.Marshal(automation.RuntimeState{TotalSent: 41, LastResetDate: time.Now().Format("2006-01-02"), MessagesSentToday: 1})
	_ = st.Set(ctx, map[string][]byte{RuntimeKey(2): seed})

	bus := eventbus.New()
	sent, unsub := bus.Subscribe(4, string(automation.EventSent))
	defer unsub()
	h := newTestHost(t, st, bus, &fakePages{pages: map[int]*memPage{2: {}}})

	if _, err := h.Send(ctx, 2, coordinator.Command{Action: coordinator.ActionStart, Config: limitedConfig(2)}); err != nil {
		t.Fatalf("start: %v", err)
	}
	var ev eventbus.Event
	select {
	case ev = <-sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("missing sent event")
	}
	if rt := ev.Data.(automation.Event).Runtime; rt.TotalSent != 42 || rt.MessagesSentToday != 2 {
		t.Fatalf("counters not restored: %+v", rt)
	}
	_, _ = h.Send(ctx, 2, coordinator.Command{Action: coordinator.ActionStop})
}

func TestHostClosedTabIsTransportError(t *testing.T) {
	h := newTestHost(t, storage.NewMemory(), eventbus.New(), &fakePages{pages: map[int]*memPage{}})
	_, err := h.Send(context.Background(), 9, coordinator.Command{Action: coordinator.ActionStatus})
	if !errors.Is(err, ErrTabClosed) {
		t.Fatalf("expected ErrTabClosed, got %v", err)
	}
}

func TestHostRunnerErrorsInReply(t *testing.T) {
	ctx := context.Background()
	h := newTestHost(t, storage.NewMemory(), eventbus.New(), &fakePages{pages: map[int]*memPage{1: {}}})

	reply, err := h.Send(ctx, 1, coordinator.Command{Action: coordinator.ActionStop})
	if err != nil {
		t.Fatalf("transport error: %v", err)
	}
	if !errors.Is(reply.Err(), automation.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", reply.Err())
	}

	reply, _ = h.Send(ctx, 1, coordinator.Command{Action: coordinator.ActionStart})
	if !errors.Is(reply.Err(), automation.ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig, got %v", reply.Err())
	}

	reply, _ = h.Send(ctx, 1, coordinator.Command{Action: "explode"})
	if reply.OK || reply.Code != coordinator.CodeUnknown {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
