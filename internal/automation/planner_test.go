package automation

import (
	"math/rand"
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestNextDelayWithinBounds(t *testing.T) {
	cfg := Config{Messages: []string{"x"}, MinIntervalSeconds: 10, MaxIntervalSeconds: 20}
	rng := rand.New(rand.NewSource(1))
	st := &RuntimeState{}
	seen := map[time.Duration]bool{}
	for i := 0; i < 10000; i++ {
		d := NextDelay(cfg, at(12, 0), st, rng)
		if d.Gated {
			t.Fatalf("unexpected gate: %+v", d)
		}
		if d.Delay < 10*time.Second || d.Delay > 20*time.Second {
			t.Fatalf("delay out of range: %v", d.Delay)
		}
		if d.Delay%time.Second != 0 {
			t.Fatalf("delay is not whole seconds: %v", d.Delay)
		}
		seen[d.Delay] = true
	}
	if len(seen) != 11 {
		t.Fatalf("expected all 11 values in [10,20], got %d", len(seen))
	}
}

func TestNextDelayEqualBounds(t *testing.T) {
	cfg := Config{MinIntervalSeconds: 5, MaxIntervalSeconds: 5}
	d := NextDelay(cfg, at(12, 0), &RuntimeState{}, rand.New(rand.NewSource(1)))
	if d.Delay != 5*time.Second {
		t.Fatalf("expected 5s, got %v", d.Delay)
	}
}

func TestActiveHoursContains(t *testing.T) {
	cases := []struct {
		name  string
		h     ActiveHours
		hour  int
		allow bool
	}{
		{"day inside", ActiveHours{9, 17}, 9, true},
		{"day end exclusive", ActiveHours{9, 17}, 17, false},
		{"day before", ActiveHours{9, 17}, 8, false},
		{"wrap late", ActiveHours{22, 6}, 23, true},
		{"wrap early", ActiveHours{22, 6}, 3, true},
		{"wrap midday", ActiveHours{22, 6}, 12, false},
		{"wrap end exclusive", ActiveHours{22, 6}, 6, false},
		{"full 0-24", ActiveHours{0, 24}, 23, true},
		{"full equal", ActiveHours{8, 8}, 2, true},
		{"to midnight", ActiveHours{18, 24}, 23, true},
		{"to midnight before", ActiveHours{18, 24}, 17, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.h.Contains(tc.hour); got != tc.allow {
				t.Fatalf("Contains(%d) = %v, want %v", tc.hour, got, tc.allow)
			}
		})
	}
}

func TestNextDelayActiveHoursGate(t *testing.T) {
	cases := []struct {
		name string
		h    ActiveHours
		now  time.Time
		want time.Duration
	}{
		{"before window", ActiveHours{9, 17}, at(7, 30), 90 * time.Minute},
		{"after window", ActiveHours{9, 17}, at(18, 0), 15 * time.Hour},
		{"wrap midday", ActiveHours{22, 6}, at(12, 0), 10 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := tc.h
			cfg := Config{MinIntervalSeconds: 1, MaxIntervalSeconds: 2, ActiveHours: &h}
			d := NextDelay(cfg, tc.now, &RuntimeState{}, rand.New(rand.NewSource(1)))
			if !d.Gated || d.Reason != ReasonActiveHours {
				t.Fatalf("expected active_hours gate, got %+v", d)
			}
			if d.Delay != tc.want {
				t.Fatalf("delay = %v, want %v", d.Delay, tc.want)
			}
		})
	}
}

func TestNextDelayDailyLimitGate(t *testing.T) {
	limit := 2
	cfg := Config{MinIntervalSeconds: 1, MaxIntervalSeconds: 1, DailyLimit: &limit}
	st := &RuntimeState{MessagesSentToday: 2, LastResetDate: "2024-03-10"}

	d := NextDelay(cfg, at(22, 0), st, rand.New(rand.NewSource(1)))
	if !d.Gated || d.Reason != ReasonDailyLimit {
		t.Fatalf("expected daily_limit gate, got %+v", d)
	}
	if d.Delay != 2*time.Hour {
		t.Fatalf("expected 2h until midnight, got %v", d.Delay)
	}
}

func TestNextDelayZeroLimitIsUnlimited(t *testing.T) {
	limit := 0
	cfg := Config{MinIntervalSeconds: 7, MaxIntervalSeconds: 7, DailyLimit: &limit}
	st := &RuntimeState{MessagesSentToday: 500, LastResetDate: "2024-03-10"}

	d := NextDelay(cfg, at(12, 0), st, rand.New(rand.NewSource(1)))
	if d.Gated || d.Delay != 7*time.Second {
		t.Fatalf("daily_limit 0 must not gate, got %+v", d)
	}
	d = NextDelay(cfg, at(12, 0), &RuntimeState{}, rand.New(rand.NewSource(1)))
	if d.Gated {
		t.Fatalf("daily_limit 0 gated a fresh runtime: %+v", d)
	}
}

func TestNextDelayActiveHoursCheckedBeforeLimit(t *testing.T) {
	limit := 1
	h := ActiveHours{9, 17}
	cfg := Config{DailyLimit: &limit, ActiveHours: &h}
	st := &RuntimeState{MessagesSentToday: 1, LastResetDate: "2024-03-10"}
	d := NextDelay(cfg, at(20, 0), st, rand.New(rand.NewSource(1)))
	if d.Reason != ReasonActiveHours {
		t.Fatalf("expected active_hours first, got %+v", d)
	}
}

func TestDailyResetHappensOncePerDay(t *testing.T) {
	st := &RuntimeState{MessagesSentToday: 5, LastResetDate: "2024-03-09"}
	if !ResetDaily(st, at(0, 1)) {
		t.Fatalf("expected reset on a new day")
	}
	if st.MessagesSentToday != 0 || st.LastResetDate != "2024-03-10" {
		t.Fatalf("unexpected state after reset: %+v", st)
	}
	st.MessagesSentToday = 3
	if ResetDaily(st, at(23, 59)) {
		t.Fatalf("reset twice on the same day")
	}
	if st.MessagesSentToday != 3 {
		t.Fatalf("counter changed without reset: %d", st.MessagesSentToday)
	}
}

func TestNextDelayResetsBeforeLimit(t *testing.T) {
	limit := 1
	cfg := Config{MinIntervalSeconds: 1, MaxIntervalSeconds: 1, DailyLimit: &limit}
	st := &RuntimeState{MessagesSentToday: 1, LastResetDate: "2024-03-09"}
	d := NextDelay(cfg, at(8, 0), st, rand.New(rand.NewSource(1)))
	if d.Gated {
		t.Fatalf("yesterday's count must not gate today: %+v", d)
	}
}

func TestConfigValidate(t *testing.T) {
	neg := -1
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"ok", Config{MinIntervalSeconds: 1, MaxIntervalSeconds: 2}, true},
		{"min > max", Config{MinIntervalSeconds: 3, MaxIntervalSeconds: 2}, false},
		{"negative min", Config{MinIntervalSeconds: -1}, false},
		{"bad mode", Config{SendMode: "burst"}, false},
		{"negative limit", Config{DailyLimit: &neg}, false},
		{"bad start", Config{ActiveHours: &ActiveHours{Start: 24, End: 2}}, false},
		{"bad end", Config{ActiveHours: &ActiveHours{Start: 1, End: 25}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}
