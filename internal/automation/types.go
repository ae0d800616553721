package automation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("automation already running")
	ErrNotRunning     = errors.New("automation not running")
	ErrNoConfig       = errors.New("automation has no config")
	ErrInvalidConfig  = errors.New("invalid automation config")
	// ErrDispatchTarget means the page has no input to type into.
	ErrDispatchTarget = errors.New("dispatch target not found")
)

type SendMode string

const (
	ModeSequential SendMode = "sequential"
	ModeRandom     SendMode = "random"
)

// ActiveHours is a local-time hour window. End may be 24.
// Start > End wraps past midnight.
type ActiveHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Config is the immutable snapshot a Runner works from.
type Config struct {
	Messages           []string     `json:"messages"`
	SendMode           SendMode     `json:"send_mode,omitempty"`
	MinIntervalSeconds int          `json:"min_interval_seconds"`
	MaxIntervalSeconds int          `json:"max_interval_seconds"`
	DailyLimit         *int         `json:"daily_limit,omitempty"`
	ActiveHours        *ActiveHours `json:"active_hours,omitempty"`
}

func (c Config) Validate() error {
	switch c.SendMode {
	case "", ModeSequential, ModeRandom:
	default:
		return fmt.Errorf("send_mode: unknown mode %q", c.SendMode)
	}
	if c.MinIntervalSeconds < 0 {
		return fmt.Errorf("min_interval_seconds must be >= 0")
	}
	if c.MaxIntervalSeconds < c.MinIntervalSeconds {
		return fmt.Errorf("max_interval_seconds (%d) must be >= min_interval_seconds (%d)", c.MaxIntervalSeconds, c.MinIntervalSeconds)
	}
	if c.DailyLimit != nil && *c.DailyLimit < 0 {
		return fmt.Errorf("daily_limit must be >= 0")
	}
	if h := c.ActiveHours; h != nil {
		if h.Start < 0 || h.Start > 23 {
			return fmt.Errorf("active_hours.start must be 0-23")
		}
		if h.End < 0 || h.End > 24 {
			return fmt.Errorf("active_hours.end must be 0-24")
		}
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate a running snapshot.
func (c Config) Clone() Config {
	out := c
	out.Messages = append([]string(nil), c.Messages...)
	if c.DailyLimit != nil {
		v := *c.DailyLimit
		out.DailyLimit = &v
	}
	if c.ActiveHours != nil {
		h := *c.ActiveHours
		out.ActiveHours = &h
	}
	return out
}

func (c Config) mode() SendMode {
	if c.SendMode == "" {
		return ModeSequential
	}
	return c.SendMode
}

// RuntimeState is the mutable part of a Runner, persisted between runs.
type RuntimeState struct {
	RecentMessages    []string  `json:"recent_messages,omitempty"`
	MessagesSentToday int       `json:"messages_sent_today"`
	LastResetDate     string    `json:"last_reset_date,omitempty"`
	CurrentIndex      int       `json:"current_index"`
	TotalSent         int       `json:"total_sent"`
	TotalUnconfirmed  int       `json:"total_unconfirmed"`
	LastSentAt        time.Time `json:"last_sent_at,omitempty"`
}

func (s RuntimeState) Clone() RuntimeState {
	out := s
	out.RecentMessages = append([]string(nil), s.RecentMessages...)
	return out
}

// Rand is the subset of *math/rand.Rand used for draws.
type Rand interface {
	Intn(n int) int
}

// Page is the tab-side surface a Runner types into and observes.
type Page interface {
	Dispatch(ctx context.Context, text string) error
	InputValue(ctx context.Context) (string, error)
	StreamText(ctx context.Context) (string, error)
}

// Clock abstracts time for the loop. Sleep returns false if ctx ended first.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) bool
}

type realClock struct{}

// SystemClock is the wall clock.
func SystemClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
