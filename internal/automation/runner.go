package automation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	logx "autosend/pkg/logx"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

type Phase string

const (
	PhaseSelecting   Phase = "selecting"
	PhaseWaiting     Phase = "waiting"
	PhaseDispatching Phase = "dispatching"
	PhaseConfirming  Phase = "confirming"
)

const (
	DefaultConfirmTimeout  = 3 * time.Second
	DefaultDispatchTimeout = 30 * time.Second
)

type Options struct {
	TabID int
	Page  Page

	Clock     Clock
	Rand      Rand
	Confirmer Confirmer

	ConfirmTimeout  time.Duration
	DispatchTimeout time.Duration

	// Runtime seeds counters and selection history, e.g. from storage.
	Runtime RuntimeState

	Observer Observer
	Log      logx.Logger

	// Spawn starts the loop goroutine. Defaults to a bare go statement.
	Spawn func(name string, fn func())
}

type Status struct {
	TabID      int          `json:"tab_id"`
	State      State        `json:"state"`
	Phase      Phase        `json:"phase,omitempty"`
	NextSendAt time.Time    `json:"next_send_at,omitempty"`
	Gate       GateReason   `json:"gate,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	Config     *Config      `json:"config,omitempty"`
	Runtime    RuntimeState `json:"runtime"`
}

// Runner owns the send loop for one tab. All methods are safe for
// concurrent use.
type Runner struct {
	tabID    int
	page     Page
	clock    Clock
	rng      Rand
	confirm  Confirmer
	observer Observer
	log      logx.Logger
	spawn    func(name string, fn func())

	confirmTimeout  time.Duration
	dispatchTimeout time.Duration

	mu      sync.Mutex
	cfg     *Config
	state   State
	phase   Phase
	nextAt  time.Time
	gate    GateReason
	lastErr string
	rt      RuntimeState
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(opts Options) *Runner {
	r := &Runner{
		tabID:           opts.TabID,
		page:            opts.Page,
		clock:           opts.Clock,
		rng:             opts.Rand,
		confirm:         opts.Confirmer,
		observer:        opts.Observer,
		log:             opts.Log,
		spawn:           opts.Spawn,
		confirmTimeout:  opts.ConfirmTimeout,
		dispatchTimeout: opts.DispatchTimeout,
		state:           StateIdle,
		rt:              opts.Runtime.Clone(),
	}
	if r.clock == nil {
		r.clock = SystemClock()
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano() + int64(opts.TabID)))
	}
	if r.confirmTimeout <= 0 {
		r.confirmTimeout = DefaultConfirmTimeout
	}
	if r.dispatchTimeout <= 0 {
		r.dispatchTimeout = DefaultDispatchTimeout
	}
	if r.spawn == nil {
		r.spawn = func(_ string, fn func()) { go fn() }
	}
	return r
}

func (r *Runner) TabID() int { return r.tabID }

// Start validates cfg and launches the loop. It waits for a previous loop
// that is still winding down.
func (r *Runner) Start(parent context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if r.page == nil {
		return ErrDispatchTarget
	}
	cfg = cfg.Clone()

	r.mu.Lock()
	for r.done != nil && r.state != StateRunning {
		done := r.done
		r.mu.Unlock()
		select {
		case <-done:
		case <-parent.Done():
			return parent.Err()
		}
		r.mu.Lock()
	}
	if r.state == StateRunning {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	r.cfg = &cfg
	r.state = StateRunning
	r.phase = PhaseSelecting
	r.lastErr = ""
	r.cancel = cancel
	r.done = done
	ev := r.eventLocked(EventStarted)
	r.mu.Unlock()

	r.emit(ev)
	r.spawn(fmt.Sprintf("runner.%d", r.tabID), func() { r.loop(ctx, done) })
	return nil
}

// Resume restarts a paused runner with the config it had.
func (r *Runner) Resume(parent context.Context) error {
	r.mu.Lock()
	cfg := r.cfg
	state := r.state
	r.mu.Unlock()
	if state == StateRunning {
		return ErrAlreadyRunning
	}
	if cfg == nil {
		return ErrNoConfig
	}
	return r.Start(parent, *cfg)
}

// UpdateConfig swaps the config used from the next cycle on.
func (r *Runner) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg = cfg.Clone()
	r.mu.Lock()
	r.cfg = &cfg
	r.mu.Unlock()
	return nil
}

func (r *Runner) Pause(ctx context.Context) error {
	return r.halt(ctx, StatePaused, false)
}

// Stop ends the loop. clearHistory drops the selection history and the
// sequential cursor; counters are kept.
func (r *Runner) Stop(ctx context.Context, clearHistory bool) error {
	return r.halt(ctx, StateStopped, clearHistory)
}

func (r *Runner) halt(ctx context.Context, target State, clearHistory bool) error {
	r.mu.Lock()
	if r.state != StateRunning {
		// paused -> stopped needs no loop to wind down
		if target == StateStopped && r.state == StatePaused {
			r.state = StateStopped
			if clearHistory {
				r.clearHistoryLocked()
			}
			ev := r.eventLocked(EventStopped)
			r.mu.Unlock()
			r.emit(ev)
			return nil
		}
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.state = target
	r.phase = ""
	r.nextAt = time.Time{}
	r.gate = ""
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	if clearHistory {
		r.clearHistoryLocked()
	}
	typ := EventStopped
	if target == StatePaused {
		typ = EventPaused
	}
	ev := r.eventLocked(typ)
	r.mu.Unlock()
	r.emit(ev)
	return nil
}

func (r *Runner) clearHistoryLocked() {
	r.rt.RecentMessages = nil
	r.rt.CurrentIndex = 0
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		TabID:      r.tabID,
		State:      r.state,
		Phase:      r.phase,
		NextSendAt: r.nextAt,
		Gate:       r.gate,
		LastError:  r.lastErr,
		Runtime:    r.rt.Clone(),
	}
	if r.cfg != nil {
		c := r.cfg.Clone()
		st.Config = &c
	}
	return st
}

func (r *Runner) Runtime() RuntimeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rt.Clone()
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		if r.state == StateRunning {
			// parent canceled (shutdown): no event, the tab stays "running"
			// in the coordinator so it resumes after restart
			r.state = StateIdle
		}
		r.phase = ""
		r.cancel = nil
		r.done = nil
		r.mu.Unlock()
		close(done)
	}()

	for ctx.Err() == nil {
		if !r.cycle(ctx) {
			return
		}
	}
}

// cycle runs one wait/select/dispatch/confirm round. It returns false when
// the loop has to end.
func (r *Runner) cycle(ctx context.Context) bool {
	now := r.clock.Now()

	r.mu.Lock()
	r.phase = PhaseSelecting
	d := NextDelay(*r.cfg, now, &r.rt, r.rng)
	r.phase = PhaseWaiting
	r.nextAt = now.Add(d.Delay)
	r.gate = d.Reason
	var gated Event
	if d.Gated {
		gated = r.eventLocked(EventGated)
		gated.Delay = d.Delay
		gated.Reason = d.Reason
	}
	r.mu.Unlock()

	if d.Gated {
		r.log.Debug("send gated", logx.String("reason", string(d.Reason)), logx.Duration("delay", d.Delay))
		r.emit(gated)
		return r.clock.Sleep(ctx, d.Delay)
	}
	if !r.clock.Sleep(ctx, d.Delay) {
		return false
	}

	r.mu.Lock()
	cfg := *r.cfg
	msg := SelectNext(cfg.Messages, cfg.mode(), &r.rt, r.rng)
	r.gate = ""
	r.nextAt = time.Time{}
	if msg == "" {
		ev := r.eventLocked(EventSkipped)
		r.mu.Unlock()
		r.emit(ev)
		return true
	}
	// halt flips state before it cancels, so check both
	if ctx.Err() != nil || r.state != StateRunning {
		r.mu.Unlock()
		return false
	}
	r.phase = PhaseDispatching
	r.mu.Unlock()

	// Dispatch never observes the loop context: a stop issued mid-send
	// takes effect once the send returns.
	var baseline int
	err := guard(func() error {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.dispatchTimeout)
		defer cancel()
		baseline = r.confirm.Occurrences(dctx, r.page, msg)
		return r.page.Dispatch(dctx, msg)
	})
	if err != nil {
		r.fail(msg, err)
		return false
	}

	r.setPhase(PhaseConfirming)
	var ok bool
	err = guard(func() error {
		ok = r.confirm.ConfirmSince(ctx, r.page, msg, baseline, r.confirmTimeout)
		if !ok && ctx.Err() != nil {
			// stopped while confirming: take one last look so a send that
			// did land is still counted
			pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), r.confirm.poll())
			defer pcancel()
			ok = r.confirm.ConfirmSince(pctx, r.page, msg, baseline, 0)
		}
		return nil
	})
	if err != nil {
		r.fail(msg, err)
		return false
	}

	r.mu.Lock()
	var ev Event
	if ok {
		r.rt.MessagesSentToday++
		r.rt.TotalSent++
		r.rt.LastSentAt = r.clock.Now().UTC().Round(0)
		ev = r.eventLocked(EventSent)
	} else {
		r.rt.TotalUnconfirmed++
		ev = r.eventLocked(EventUnconfirmed)
	}
	ev.Message = msg
	r.mu.Unlock()

	if !ok {
		r.log.Warn("send unconfirmed", logx.Int("tab", r.tabID))
	}
	r.emit(ev)
	return ctx.Err() == nil
}

func (r *Runner) fail(msg string, err error) {
	r.log.Error("dispatch failed, stopping", logx.Int("tab", r.tabID), logx.Err(err))

	r.mu.Lock()
	// a concurrent halt emits its own transition
	halting := r.state != StateRunning
	if !halting {
		r.state = StateStopped
	}
	r.phase = ""
	r.lastErr = err.Error()
	errEv := r.eventLocked(EventError)
	errEv.Message = msg
	errEv.Err = err.Error()
	stopEv := r.eventLocked(EventStopped)
	r.mu.Unlock()

	r.emit(errEv)
	if !halting {
		r.emit(stopEv)
	}
}

// guard turns a panic in page code into an error so a broken driver stops
// only its own tab.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page panic: %v", rec)
		}
	}()
	return fn()
}

func (r *Runner) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

func (r *Runner) eventLocked(t EventType) Event {
	return Event{
		Type:    t,
		TabID:   r.tabID,
		At:      r.clock.Now(),
		Runtime: r.rt.Clone(),
	}
}

func (r *Runner) emit(ev Event) {
	if r.observer != nil {
		r.observer(ev)
	}
}
