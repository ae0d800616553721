// Package tabhost is the process side of the coordinator transport: it owns
// one automation.Runner per browser tab and executes commands against it.
package tabhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"autosend/internal/automation"
	"autosend/internal/coordinator"
	"autosend/internal/eventbus"
	"autosend/internal/runtime/supervisor"
	"autosend/internal/storage"
	logx "autosend/pkg/logx"
)

var ErrTabClosed = errors.New("tab closed")

// Pages resolves tab ids to automation pages.
type Pages interface {
	Exists(ctx context.Context, tabID int) (bool, error)
	Page(ctx context.Context, tabID int) (automation.Page, error)
}

// RunnerSettings apply to runners created after they are set.
type RunnerSettings struct {
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
	DispatchTimeout time.Duration
}

type Options struct {
	Pages      Pages
	Store      storage.Store
	Bus        eventbus.Bus
	Supervisor *supervisor.Supervisor
	Log        logx.Logger
	Runner     RunnerSettings
	Clock      automation.Clock
}

type Host struct {
	pages Pages
	store storage.Store
	bus   eventbus.Bus
	sup   *supervisor.Supervisor
	log   logx.Logger
	clock automation.Clock

	mu       sync.Mutex
	runners  map[int]*automation.Runner
	settings RunnerSettings
}

func New(opts Options) *Host {
	h := &Host{
		pages:    opts.Pages,
		store:    opts.Store,
		bus:      opts.Bus,
		sup:      opts.Supervisor,
		log:      opts.Log,
		clock:    opts.Clock,
		runners:  map[int]*automation.Runner{},
		settings: opts.Runner,
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	return h
}

// RuntimeKey is the store key of a tab's runtime counters.
func RuntimeKey(tabID int) string { return "runtime:" + strconv.Itoa(tabID) }

func (h *Host) SetRunnerSettings(s RunnerSettings) {
	h.mu.Lock()
	h.settings = s
	h.mu.Unlock()
}

func (h *Host) TabExists(ctx context.Context, tabID int) (bool, error) {
	return h.pages.Exists(ctx, tabID)
}

// Send executes cmd on the tab's runner. Only a missing tab is a transport
// error; runner errors come back in the Reply.
func (h *Host) Send(ctx context.Context, tabID int, cmd coordinator.Command) (coordinator.Reply, error) {
	ok, err := h.pages.Exists(ctx, tabID)
	if err != nil {
		return coordinator.Reply{}, err
	}
	if !ok {
		h.forget(tabID)
		return coordinator.Reply{}, fmt.Errorf("%w: %d", ErrTabClosed, tabID)
	}

	switch cmd.Action {
	case coordinator.ActionStart:
		if cmd.Config == nil {
			return coordinator.ReplyFor(automation.ErrNoConfig), nil
		}
		r, err := h.runner(ctx, tabID, true)
		if err != nil {
			return coordinator.Reply{}, err
		}
		return coordinator.ReplyFor(r.Start(h.parent(), *cmd.Config)), nil

	case coordinator.ActionResume:
		r, err := h.runner(ctx, tabID, false)
		if err != nil {
			return coordinator.ReplyFor(err), nil
		}
		return coordinator.ReplyFor(r.Resume(h.parent())), nil

	case coordinator.ActionStop:
		r, err := h.runner(ctx, tabID, false)
		if err != nil {
			return coordinator.ReplyFor(err), nil
		}
		return coordinator.ReplyFor(r.Stop(ctx, cmd.ClearHistory)), nil

	case coordinator.ActionPause:
		r, err := h.runner(ctx, tabID, false)
		if err != nil {
			return coordinator.ReplyFor(err), nil
		}
		return coordinator.ReplyFor(r.Pause(ctx)), nil

	case coordinator.ActionUpdate:
		if cmd.Config == nil {
			return coordinator.ReplyFor(automation.ErrNoConfig), nil
		}
		r, err := h.runner(ctx, tabID, true)
		if err != nil {
			return coordinator.Reply{}, err
		}
		return coordinator.ReplyFor(r.UpdateConfig(*cmd.Config)), nil

	case coordinator.ActionStatus:
		h.mu.Lock()
		r := h.runners[tabID]
		h.mu.Unlock()
		if r == nil {
			rt, _ := h.loadRuntime(ctx, tabID)
			return coordinator.Reply{OK: true, Status: &automation.Status{TabID: tabID, State: automation.StateIdle, Runtime: rt}}, nil
		}
		st := r.Status()
		return coordinator.Reply{OK: true, Status: &st}, nil
	}
	return coordinator.Reply{Code: coordinator.CodeUnknown, Error: "unknown action " + string(cmd.Action)}, nil
}

func (h *Host) parent() context.Context {
	if h.sup != nil {
		return h.sup.Context()
	}
	return context.Background()
}

// runner returns the tab's runner, creating it (with persisted counters)
// when create is set.
func (h *Host) runner(ctx context.Context, tabID int, create bool) (*automation.Runner, error) {
	h.mu.Lock()
	r := h.runners[tabID]
	settings := h.settings
	h.mu.Unlock()
	if r != nil {
		return r, nil
	}
	if !create {
		return nil, automation.ErrNotRunning
	}

	page, err := h.pages.Page(ctx, tabID)
	if err != nil {
		return nil, err
	}
	rt, err := h.loadRuntime(ctx, tabID)
	if err != nil {
		h.log.Warn("runtime state not restored", logx.Int("tab", tabID), logx.Err(err))
	}

	r = automation.New(automation.Options{
		TabID:           tabID,
		Page:            page,
		Clock:           h.clock,
		Confirmer:       automation.Confirmer{Poll: settings.PollInterval},
		ConfirmTimeout:  settings.ConfirmTimeout,
		DispatchTimeout: settings.DispatchTimeout,
		Runtime:         rt,
		Observer:        h.observe,
		Log:             h.log.With(logx.Int("tab", tabID)),
		Spawn:           h.spawn,
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing := h.runners[tabID]; existing != nil {
		return existing, nil
	}
	h.runners[tabID] = r
	return r, nil
}

func (h *Host) spawn(name string, fn func()) {
	if h.sup == nil {
		go fn()
		return
	}
	h.sup.Go0(name, func(context.Context) { fn() })
}

func (h *Host) forget(tabID int) {
	h.mu.Lock()
	r := h.runners[tabID]
	delete(h.runners, tabID)
	h.mu.Unlock()
	if r == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Stop(ctx, false); err != nil && !errors.Is(err, automation.ErrNotRunning) {
		h.log.Warn("stopping runner of closed tab failed", logx.Int("tab", tabID), logx.Err(err))
	}
}

func (h *Host) observe(ev automation.Event) {
	if h.bus != nil {
		h.bus.Publish(eventbus.Event{Type: string(ev.Type), Time: ev.At, Data: ev})
	}
	switch ev.Type {
	case automation.EventSent, automation.EventUnconfirmed, automation.EventStopped, automation.EventPaused, automation.EventError:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.saveRuntime(ctx, ev.TabID, ev.Runtime); err != nil {
			h.log.Warn("runtime state not saved", logx.Int("tab", ev.TabID), logx.Err(err))
		}
	}
}

func (h *Host) loadRuntime(ctx context.Context, tabID int) (automation.RuntimeState, error) {
	var rt automation.RuntimeState
	got, err := h.store.Get(ctx, RuntimeKey(tabID))
	if err != nil {
		return rt, err
	}
	raw, ok := got[RuntimeKey(tabID)]
	if !ok {
		return rt, nil
	}
	err = json.Unmarshal(raw, &rt)
	return rt, err
}

func (h *Host) saveRuntime(ctx context.Context, tabID int, rt automation.RuntimeState) error {
	b, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	return h.store.Set(ctx, map[string][]byte{RuntimeKey(tabID): b})
}

// Statuses reports every runner the host knows about.
func (h *Host) Statuses() []automation.Status {
	h.mu.Lock()
	rs := make([]*automation.Runner, 0, len(h.runners))
	for _, r := range h.runners {
		rs = append(rs, r)
	}
	h.mu.Unlock()
	out := make([]automation.Status, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Flush persists the counters of every runner; used on shutdown after the
// loops have exited.
func (h *Host) Flush(ctx context.Context) error {
	h.mu.Lock()
	rs := make([]*automation.Runner, 0, len(h.runners))
	for _, r := range h.runners {
		rs = append(rs, r)
	}
	h.mu.Unlock()
	var errs []error
	for _, r := range rs {
		if err := h.saveRuntime(ctx, r.TabID(), r.Runtime()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
