package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autosend/internal/alarm"
	"autosend/internal/coordinator"
	"autosend/internal/eventbus"
	"autosend/internal/storage"
	logx "autosend/pkg/logx"
)

type Options struct {
	Store    storage.Store
	Alarms   alarm.Alarms
	Tabs     Tabs
	Profiles Profiles
	Bus      eventbus.Bus
	Log      logx.Logger
	Location *time.Location
	Now      func() time.Time
}

// Scheduler owns the schedules and keeps exactly one alarm per active one.
type Scheduler struct {
	store  storage.Store
	alarms alarm.Alarms
	tabs   Tabs
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	mu        sync.Mutex
	schedules map[string]Schedule
	profiles  Profiles
	loc       *time.Location
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		store:     opts.Store,
		alarms:    opts.Alarms,
		tabs:      opts.Tabs,
		bus:       opts.Bus,
		log:       opts.Log,
		now:       opts.Now,
		schedules: map[string]Schedule{},
		profiles:  opts.Profiles,
		loc:       opts.Location,
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.profiles == nil {
		s.profiles = ProfileMap{}
	}
	return s
}

// SetProfiles swaps the profile source (config reload).
func (s *Scheduler) SetProfiles(p Profiles) {
	s.mu.Lock()
	s.profiles = p
	s.mu.Unlock()
}

func (s *Scheduler) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	s.loc = loc
	s.mu.Unlock()
}

// Init loads schedules and registers an alarm for every active one.
func (s *Scheduler) Init(ctx context.Context) error {
	got, err := s.store.Get(ctx, StateKey)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	var list []Schedule
	if raw, ok := got[StateKey]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("decode schedules: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = make(map[string]Schedule, len(list))
	for _, sc := range list {
		if sc.ID == "" {
			continue
		}
		s.schedules[sc.ID] = sc
	}
	active := 0
	for _, sc := range s.schedules {
		if !sc.Active {
			continue
		}
		if err := s.registerLocked(sc); err != nil {
			s.log.Warn("alarm registration failed", logx.String("schedule", sc.ID), logx.Err(err))
			continue
		}
		active++
	}
	s.log.Info("schedules loaded", logx.Int("schedules", len(s.schedules)), logx.Int("active", active))
	return nil
}

func (s *Scheduler) persistLocked(ctx context.Context) error {
	b, err := json.Marshal(s.sortedLocked())
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, map[string][]byte{StateKey: b}); err != nil {
		return fmt.Errorf("persist schedules: %w", err)
	}
	return nil
}

func (s *Scheduler) sortedLocked() []Schedule {
	out := make([]Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Scheduler) Create(ctx context.Context, in Schedule) (Schedule, error) {
	if in.Type == "" {
		in.Type = TypeDrip
	}
	if err := in.Validate(); err != nil {
		return Schedule{}, err
	}
	sc := in.clone()
	sc.ID = uuid.NewString()
	sc.CreatedAt = s.now().UTC().Round(0)
	sc.Owned = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ID] = sc
	// the schedule is live in memory either way, so it gets its alarm even
	// when the write fails
	if sc.Active {
		if err := s.registerLocked(sc); err != nil {
			return sc.clone(), err
		}
	}
	if err := s.persistLocked(ctx); err != nil {
		s.log.Warn("schedule created but not persisted", logx.String("schedule", sc.ID), logx.Err(err))
		return sc.clone(), err
	}
	s.log.Info("schedule created", logx.String("schedule", sc.ID), logx.String("name", sc.Name), logx.Bool("active", sc.Active))
	return sc.clone(), nil
}

// Update replaces a schedule's fields, keeping its id and creation time,
// and re-registers or clears its alarm to match Active.
func (s *Scheduler) Update(ctx context.Context, id string, in Schedule) (Schedule, error) {
	if in.Type == "" {
		in.Type = TypeDrip
	}
	if err := in.Validate(); err != nil {
		return Schedule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.schedules[id]
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	sc := in.clone()
	sc.ID = old.ID
	sc.CreatedAt = old.CreatedAt
	sc.Owned = append([]int(nil), old.Owned...)
	s.schedules[id] = sc

	if sc.Active {
		if err := s.registerLocked(sc); err != nil {
			return sc, err
		}
	} else {
		s.alarms.Clear(AlarmName(id))
	}
	if err := s.persistLocked(ctx); err != nil {
		return sc, err
	}
	return sc.clone(), nil
}

// SetActive toggles a schedule without touching the rest of it.
func (s *Scheduler) SetActive(ctx context.Context, id string, active bool) (Schedule, error) {
	sc, ok := s.Get(id)
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	sc.Active = active
	return s.Update(ctx, id, sc)
}

// Delete removes a schedule and its alarm.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	delete(s.schedules, id)
	s.alarms.Clear(AlarmName(id))
	s.log.Info("schedule deleted", logx.String("schedule", id))
	return s.persistLocked(ctx)
}

func (s *Scheduler) Get(id string) (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return Schedule{}, false
	}
	return sc.clone(), true
}

func (s *Scheduler) GetAll() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// RegisterAlarm registers (or replaces) the wake-up for sc.
func (s *Scheduler) RegisterAlarm(sc Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(sc)
}

func (s *Scheduler) registerLocked(sc Schedule) error {
	id := sc.ID
	return s.alarms.Every(AlarmName(id), sc.PeriodMinutes(), func(ctx context.Context, _ string) {
		if _, err := s.Fire(ctx, id, s.now()); err != nil {
			s.log.Warn("campaign fire failed", logx.String("schedule", id), logx.Err(err))
		}
	})
}

// UnregisterAlarm clears the wake-up for id and reports whether one existed.
func (s *Scheduler) UnregisterAlarm(id string) bool {
	return s.alarms.Clear(AlarmName(id))
}

// ScheduleID extracts the schedule id from an alarm name.
func ScheduleID(alarmName string) (string, bool) {
	return strings.CutPrefix(alarmName, alarmPrefix)
}

// Fire applies the schedule at now: inside the window every target tab that
// is not running is started, outside it the running tabs this schedule
// started are stopped. Tabs started by hand or by another schedule are left
// alone.
func (s *Scheduler) Fire(ctx context.Context, id string, now time.Time) (FireResult, error) {
	s.mu.Lock()
	sc, ok := s.schedules[id]
	loc := s.loc
	profiles := s.profiles
	s.mu.Unlock()

	res := FireResult{ScheduleID: id}
	if !ok {
		// an alarm outliving its schedule must not act; clear it
		s.alarms.Clear(AlarmName(id))
		return res, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	if !sc.Active {
		return res, nil
	}

	res.InWindow = sc.InWindow(now.In(loc))
	targets := s.targets(sc)
	owned := s.liveOwned(sc)

	fail := func(tab int, err error) {
		if res.Failed == nil {
			res.Failed = map[int]string{}
		}
		res.Failed[tab] = err.Error()
	}

	if res.InWindow {
		cfg, ok := profiles.Profile(sc.ProfileID)
		if !ok {
			return res, fmt.Errorf("%w: unknown profile %q", ErrInvalidSchedule, sc.ProfileID)
		}
		cfg = cfg.Clone()
		cfg.MinIntervalSeconds = sc.Interval.Min
		cfg.MaxIntervalSeconds = sc.Interval.Max
		for _, t := range targets {
			if t.IsRunning {
				continue
			}
			if err := s.tabs.StartAutomation(ctx, t.TabID, cfg); err != nil {
				fail(t.TabID, err)
				continue
			}
			res.Started = append(res.Started, t.TabID)
			owned[t.TabID] = true
		}
	} else {
		for _, t := range targets {
			if !t.IsRunning || !owned[t.TabID] {
				continue
			}
			if err := s.tabs.StopAutomation(ctx, t.TabID, false); err != nil {
				// still ours; the next wake-up retries
				fail(t.TabID, err)
				continue
			}
			res.Stopped = append(res.Stopped, t.TabID)
			delete(owned, t.TabID)
		}
	}
	s.setOwned(ctx, id, owned)

	if len(res.Started)+len(res.Stopped)+len(res.Failed) > 0 {
		s.log.Info("campaign fired", logx.String("schedule", id), logx.Bool("in_window", res.InWindow),
			logx.Any("started", res.Started), logx.Any("stopped", res.Stopped), logx.Int("failed", len(res.Failed)))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "campaign.fired", Time: now, Data: res})
	}
	return res, nil
}

// liveOwned returns the schedule's owned tabs that are still running. A tab
// that stopped or disappeared since the last wake-up is no longer ours.
func (s *Scheduler) liveOwned(sc Schedule) map[int]bool {
	running := map[int]bool{}
	for _, t := range s.tabs.Snapshot() {
		if t.IsRunning {
			running[t.TabID] = true
		}
	}
	out := make(map[int]bool, len(sc.Owned))
	for _, id := range sc.Owned {
		if running[id] {
			out[id] = true
		}
	}
	return out
}

// setOwned stores the owned set and persists it when it changed.
func (s *Scheduler) setOwned(ctx context.Context, id string, owned map[int]bool) {
	list := make([]int, 0, len(owned))
	for tab := range owned {
		list = append(list, tab)
	}
	sort.Ints(list)

	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok || slices.Equal(sc.Owned, list) {
		return
	}
	if len(list) == 0 {
		list = nil
	}
	sc.Owned = list
	s.schedules[id] = sc
	if err := s.persistLocked(ctx); err != nil {
		s.log.Warn("persist campaign ownership failed", logx.String("schedule", id), logx.Err(err))
	}
}

func (s *Scheduler) targets(sc Schedule) []coordinator.TabState {
	all := s.tabs.Snapshot()
	if len(sc.TabIDs) == 0 {
		return all
	}
	want := make(map[int]bool, len(sc.TabIDs))
	for _, id := range sc.TabIDs {
		want[id] = true
	}
	out := all[:0]
	for _, t := range all {
		if want[t.TabID] {
			out = append(out, t)
		}
	}
	return out
}
