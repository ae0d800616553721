// Package campaign runs drip campaigns: recurring daily windows during which
// a set of tabs is kept sending with a given profile.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"autosend/internal/automation"
	"autosend/internal/coordinator"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidSchedule  = errors.New("invalid schedule")
)

// StateKey is the store key holding all schedules.
const StateKey = "schedules"

const alarmPrefix = "campaign:"

type Type string

const TypeDrip Type = "drip"

type Interval struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type Schedule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ProfileID string    `json:"profile_id"`
	Type      Type      `json:"type"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Interval  Interval  `json:"interval"`
	TabIDs    []int     `json:"tab_ids,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	// Owned lists the tabs this schedule started and has not stopped yet.
	// Only these are stopped when the window closes.
	Owned []int `json:"owned_tabs,omitempty"`
}

func (s Schedule) clone() Schedule {
	out := s
	out.TabIDs = append([]int(nil), s.TabIDs...)
	out.Owned = append([]int(nil), s.Owned...)
	return out
}

func (s Schedule) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSchedule, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(s.Name) == "" {
		return bad("name is required")
	}
	if strings.TrimSpace(s.ProfileID) == "" {
		return bad("profile_id is required")
	}
	if s.Type != "" && s.Type != TypeDrip {
		return bad("unknown type %q", s.Type)
	}
	if _, err := parseHHMM(s.StartTime); err != nil {
		return bad("start_time: %v", err)
	}
	if _, err := parseHHMM(s.EndTime); err != nil {
		return bad("end_time: %v", err)
	}
	if s.Interval.Min < 0 || s.Interval.Max < s.Interval.Min {
		return bad("interval must satisfy 0 <= min <= max")
	}
	for _, id := range s.TabIDs {
		if id < 0 {
			return bad("tab id %d", id)
		}
	}
	return nil
}

// AlarmName is the wake-up name registered for a schedule.
func AlarmName(id string) string { return alarmPrefix + id }

// PeriodMinutes derives the wake-up period from the minimum interval.
func (s Schedule) PeriodMinutes() int {
	return max(1, s.Interval.Min/60)
}

// InWindow reports whether now (already in the campaign's location) falls
// inside [start, end). A window with start == end covers the whole day.
func (s Schedule) InWindow(now time.Time) bool {
	start, err1 := parseHHMM(s.StartTime)
	end, err2 := parseHHMM(s.EndTime)
	if err1 != nil || err2 != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	switch {
	case start == end:
		return true
	case start < end:
		return cur >= start && cur < end
	default:
		return cur >= start || cur < end
	}
}

// parseHHMM returns minutes since midnight.
func parseHHMM(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("bad hour in %q", v)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 || len(m) != 2 {
		return 0, fmt.Errorf("bad minute in %q", v)
	}
	return hh*60 + mm, nil
}

// Profiles resolves a profile id to the config runners start with.
type Profiles interface {
	Profile(id string) (automation.Config, bool)
}

type ProfileMap map[string]automation.Config

func (m ProfileMap) Profile(id string) (automation.Config, bool) {
	c, ok := m[id]
	return c, ok
}

// Tabs is the part of the coordinator a campaign drives.
type Tabs interface {
	Snapshot() []coordinator.TabState
	StartAutomation(ctx context.Context, tabID int, cfg automation.Config) error
	StopAutomation(ctx context.Context, tabID int, clearHistory bool) error
}

// FireResult is what a single wake-up did.
type FireResult struct {
	ScheduleID string         `json:"schedule_id"`
	InWindow   bool           `json:"in_window"`
	Started    []int          `json:"started,omitempty"`
	Stopped    []int          `json:"stopped,omitempty"`
	Failed     map[int]string `json:"failed,omitempty"`
}
