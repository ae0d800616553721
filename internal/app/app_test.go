package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"autosend/internal/automation"
	"autosend/internal/browser"
	"autosend/internal/campaign"
	"autosend/internal/coordinator"
	"autosend/internal/storage"
	logx "autosend/pkg/logx"
)

type stubSource struct {
	tabs []browser.TabInfo
	err  error
}

func (s *stubSource) Sync(ctx context.Context) ([]browser.TabInfo, error) { return s.tabs, s.err }

type okTransport struct{}

func (okTransport) TabExists(ctx context.Context, id int) (bool, error) { return true, nil }
func (okTransport) Send(ctx context.Context, id int, cmd coordinator.Command) (coordinator.Reply, error) {
	return coordinator.Reply{OK: true}, nil
}

func TestSyncTabs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := now
	coord := coordinator.New(coordinator.Options{
		Store:     storage.NewMemory(),
		Transport: okTransport{},
		Now:       func() time.Time { return clock },
	})
	src := &stubSource{tabs: []browser.TabInfo{
		{ID: 1, URL: "https://a.example", Title: "A"},
		{ID: 2, URL: "https://b.example", Title: "B"},
	}}
	if err := syncTabs(ctx, src, coord, logx.Nop()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n := len(coord.Snapshot()); n != 2 {
		t.Fatalf("tracked %d tabs, want 2", n)
	}

	// tab 1 unchanged, tab 2 navigated, tab 3 new; later clock
	clock = now.Add(time.Hour)
	src.tabs = []browser.TabInfo{
		{ID: 1, URL: "https://a.example", Title: "A"},
		{ID: 3, URL: "https://c.example", Title: "C"},
	}
	if err := syncTabs(ctx, src, coord, logx.Nop()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	st1, ok := coord.GetTabState(1)
	if !ok || !st1.LastActivity.Equal(now) {
		t.Fatalf("unchanged tab touched: %+v", st1)
	}
	if _, ok := coord.GetTabState(2); ok {
		t.Fatalf("closed tab still tracked")
	}
	if st3, ok := coord.GetTabState(3); !ok || st3.URL != "https://c.example" {
		t.Fatalf("new tab missing: %+v", st3)
	}

	src.tabs = []browser.TabInfo{{ID: 1, URL: "https://a.example/next", Title: "A2"}, {ID: 3, URL: "https://c.example", Title: "C"}}
	if err := syncTabs(ctx, src, coord, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	if st1, _ := coord.GetTabState(1); st1.URL != "https://a.example/next" || st1.Title != "A2" {
		t.Fatalf("navigation not recorded: %+v", st1)
	}

	src.err = errors.New("devtools gone")
	if err := syncTabs(ctx, src, coord, logx.Nop()); err == nil {
		t.Fatalf("expected sync error")
	}
	if n := len(coord.Snapshot()); n != 2 {
		t.Fatalf("failed sync must not drop tabs, have %d", n)
	}
}

func TestProfileSetSwap(t *testing.T) {
	p := newProfileSet(campaign.ProfileMap{"a": {Messages: []string{"x"}}})
	c, ok := p.Profile("a")
	if !ok || c.Messages[0] != "x" {
		t.Fatalf("profile a: %+v %v", c, ok)
	}
	c.Messages[0] = "mutated"
	if c2, _ := p.Profile("a"); c2.Messages[0] != "x" {
		t.Fatalf("profile returned shared slice")
	}
	p.Set(campaign.ProfileMap{"b": {SendMode: automation.ModeRandom}})
	if _, ok := p.Profile("a"); ok {
		t.Fatalf("old profile still visible")
	}
	if b, ok := p.Profile("b"); !ok || b.SendMode != automation.ModeRandom {
		t.Fatalf("profile b: %+v", b)
	}
	p.Set(nil)
	if _, ok := p.Profile("b"); ok {
		t.Fatalf("nil set should clear")
	}
}

func TestStepBoundsSlowSteps(t *testing.T) {
	a := &App{log: logx.Nop()}
	ctx := context.Background()

	start := time.Now()
	release := make(chan struct{})
	a.step(ctx, "slow", 20*time.Millisecond, func(c context.Context) error {
		<-release
		return nil
	})
	close(release)
	if el := time.Since(start); el > time.Second {
		t.Fatalf("slow step blocked for %v", el)
	}

	ran := false
	a.step(ctx, "panics", time.Second, func(c context.Context) error {
		ran = true
		panic("boom")
	})
	if !ran {
		t.Fatalf("step did not run")
	}

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()
	called := false
	a.step(expired, "late", time.Second, func(c context.Context) error { called = true; return nil })
	if called {
		t.Fatalf("step ran past the shutdown deadline")
	}
}
