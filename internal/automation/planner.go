package automation

import "time"

type GateReason string

const (
	ReasonActiveHours GateReason = "active_hours"
	ReasonDailyLimit  GateReason = "daily_limit"
)

// Decision is what the planner tells the loop to do next. A gated decision
// is a wait with no send attached.
type Decision struct {
	Delay  time.Duration
	Gated  bool
	Reason GateReason
}

const dateLayout = "2006-01-02"

// ResetDaily zeroes the daily counter when now's local date differs from
// the stored one. It reports whether a reset happened.
func ResetDaily(st *RuntimeState, now time.Time) bool {
	today := now.Format(dateLayout)
	if st.LastResetDate == today {
		return false
	}
	st.MessagesSentToday = 0
	st.LastResetDate = today
	return true
}

// FullDay reports whether the window covers all 24 hours.
func (h ActiveHours) FullDay() bool {
	return h.Start == h.End || (h.Start == 0 && h.End == 24)
}

// Contains reports whether a local hour (0-23) falls inside the window.
func (h ActiveHours) Contains(hour int) bool {
	switch {
	case h.FullDay():
		return true
	case h.Start < h.End:
		return hour >= h.Start && hour < h.End
	default:
		return hour >= h.Start || hour < h.End
	}
}

// NextDelay runs the daily reset, then the gates, then draws the interval.
func NextDelay(cfg Config, now time.Time, st *RuntimeState, rng Rand) Decision {
	ResetDaily(st, now)

	if h := cfg.ActiveHours; h != nil && !h.Contains(now.Hour()) {
		return Decision{Delay: untilHour(now, h.Start), Gated: true, Reason: ReasonActiveHours}
	}
	// a limit of 0 means unlimited
	if cfg.DailyLimit != nil && *cfg.DailyLimit > 0 && st.MessagesSentToday >= *cfg.DailyLimit {
		return Decision{Delay: untilMidnight(now), Gated: true, Reason: ReasonDailyLimit}
	}

	lo, hi := cfg.MinIntervalSeconds, cfg.MaxIntervalSeconds
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	secs := lo + rng.Intn(hi-lo+1)
	return Decision{Delay: time.Duration(secs) * time.Second}
}

func untilHour(now time.Time, hour int) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d, hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(y, m, d+1, hour, 0, 0, 0, now.Location())
	}
	return next.Sub(now)
}

func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Sub(now)
}
