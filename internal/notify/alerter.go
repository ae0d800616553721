package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"autosend/internal/automation"
	"autosend/internal/eventbus"
	logx "autosend/pkg/logx"
)

const DefaultUnconfirmedStreak = 3

// Sender is anything that can deliver an alert; logx.AlertSink has the same
// shape so one Telegram value serves both.
type Sender interface {
	SendAlert(ctx context.Context, text string) error
}

type AlerterConfig struct {
	// RatePerSec bounds alert delivery; <= 0 means unlimited.
	RatePerSec float64
	// UnconfirmedStreak is how many unconfirmed sends in a row trigger an
	// alert; <= 0 uses DefaultUnconfirmedStreak.
	UnconfirmedStreak int
}

// Alerter turns runner events from the bus into alerts.
type Alerter struct {
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter
	streak  int

	unconfirmed map[int]int
	dropped     atomic.Int64
}

func NewAlerter(sender Sender, cfg AlerterConfig, log logx.Logger) *Alerter {
	if log.IsZero() {
		log = logx.Nop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	streak := cfg.UnconfirmedStreak
	if streak <= 0 {
		streak = DefaultUnconfirmedStreak
	}
	return &Alerter{sender: sender, log: log, limiter: lim, streak: streak, unconfirmed: map[int]int{}}
}

// Run consumes bus events until ctx ends.
func (a *Alerter) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64, "runner.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if ev, ok := e.Data.(automation.Event); ok {
				a.Handle(ctx, ev)
			}
		}
	}
}

// Handle processes one runner event. It is not safe for concurrent use;
// Run calls it from a single goroutine.
func (a *Alerter) Handle(ctx context.Context, ev automation.Event) {
	var text string
	switch ev.Type {
	case automation.EventError:
		delete(a.unconfirmed, ev.TabID)
		text = fmt.Sprintf("[ERROR] tab %d stopped: dispatch failed\n- err=%s", ev.TabID, ev.Err)
	case automation.EventUnconfirmed:
		a.unconfirmed[ev.TabID]++
		if a.unconfirmed[ev.TabID] != a.streak {
			return
		}
		text = fmt.Sprintf("[WARN] tab %d: %d sends in a row not confirmed\n- total_unconfirmed=%d", ev.TabID, a.streak, ev.Runtime.TotalUnconfirmed)
	case automation.EventSent, automation.EventStopped, automation.EventStarted:
		delete(a.unconfirmed, ev.TabID)
		return
	default:
		return
	}

	if !a.limiter.Allow() {
		a.dropped.Add(1)
		a.log.Debug("alert dropped by rate limit", logx.Int("tab", ev.TabID))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.sender.SendAlert(sctx, text); err != nil {
		a.log.Warn("alert delivery failed", logx.Err(err))
	}
}

// Dropped reports alerts suppressed by the rate limit.
func (a *Alerter) Dropped() int { return int(a.dropped.Load()) }
