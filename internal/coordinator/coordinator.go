package coordinator

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
	"autosend/internal/storage"
	logx "autosend/pkg/logx"
)

const DefaultIdleTTL = 24 * time.Hour

type Options struct {
	Store     storage.Store
	Transport Transport
	Log       logx.Logger
	Now       func() time.Time
	IdleTTL   time.Duration
}

type Coordinator struct {
	store storage.Store
	tr    Transport
	log   logx.Logger
	now   func() time.Time

	mu      sync.Mutex
	tabs    map[int]TabState
	idleTTL time.Duration
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		store:   opts.Store,
		tr:      opts.Transport,
		log:     opts.Log,
		now:     opts.Now,
		tabs:    map[int]TabState{},
		idleTTL: opts.IdleTTL,
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.idleTTL <= 0 {
		c.idleTTL = DefaultIdleTTL
	}
	return c
}

// SetIdleTTL applies a reloaded prune threshold.
func (c *Coordinator) SetIdleTTL(d time.Duration) {
	if d <= 0 {
		d = DefaultIdleTTL
	}
	c.mu.Lock()
	c.idleTTL = d
	c.mu.Unlock()
}

func (c *Coordinator) stamp() time.Time { return c.now().UTC().Round(0) }

// Init loads the persisted tab map, replacing whatever is in memory.
func (c *Coordinator) Init(ctx context.Context) error {
	got, err := c.store.Get(ctx, StateKey)
	if err != nil {
		return fmt.Errorf("load tab states: %w", err)
	}
	tabs := map[int]TabState{}
	if raw, ok := got[StateKey]; ok && len(raw) > 0 {
		var m map[string]TabState
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode tab states: %w", err)
		}
		for k, st := range m {
			id, err := strconv.Atoi(k)
			if err != nil {
				c.log.Warn("skipping malformed tab key", logx.String("key", k))
				continue
			}
			st.TabID = id
			tabs[id] = st
		}
	}

	c.mu.Lock()
	c.tabs = tabs
	c.mu.Unlock()
	c.log.Info("tab states loaded", logx.Int("tabs", len(tabs)))
	return nil
}

// persistLocked writes the whole map. The in-memory map is already updated;
// a failed write is returned and not rolled back.
func (c *Coordinator) persistLocked(ctx context.Context) error {
	m := make(map[string]TabState, len(c.tabs))
	for id, st := range c.tabs {
		m[strconv.Itoa(id)] = st
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, map[string][]byte{StateKey: b}); err != nil {
		return fmt.Errorf("persist tab states: %w", err)
	}
	return nil
}

// RegisterTab records a tab, keeping run state and config if it is known.
func (c *Coordinator) RegisterTab(ctx context.Context, tabID int, url, title string) (TabState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.stamp()
	st, ok := c.tabs[tabID]
	if ok {
		st = st.clone()
	} else {
		st = TabState{TabID: tabID, RegisteredAt: now}
	}
	st.URL = url
	st.Title = title
	st.LastActivity = now
	c.tabs[tabID] = st
	return st.clone(), c.persistLocked(ctx)
}

// UnregisterTab forgets a tab. Unknown ids are not an error.
func (c *Coordinator) UnregisterTab(ctx context.Context, tabID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tabs[tabID]; !ok {
		return nil
	}
	delete(c.tabs, tabID)
	return c.persistLocked(ctx)
}

func (c *Coordinator) UpdateTabState(ctx context.Context, tabID int, p Patch) (TabState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tabs[tabID]
	if !ok {
		return TabState{}, fmt.Errorf("%w: %d", ErrTabNotFound, tabID)
	}
	st = st.clone()
	if p.URL != nil {
		st.URL = *p.URL
	}
	if p.Title != nil {
		st.Title = *p.Title
	}
	if p.IsRunning != nil {
		st.IsRunning = *p.IsRunning
	}
	if p.Config != nil {
		cfg := p.Config.Clone()
		st.Config = &cfg
	}
	st.LastActivity = c.stamp()
	c.tabs[tabID] = st
	return st.clone(), c.persistLocked(ctx)
}

func (c *Coordinator) GetTabState(tabID int) (TabState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tabs[tabID]
	if !ok {
		return TabState{}, false
	}
	return st.clone(), true
}

// Snapshot returns all tracked tabs ordered by id without probing them.
func (c *Coordinator) Snapshot() []TabState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedLocked()
}

func (c *Coordinator) sortedLocked() []TabState {
	out := make([]TabState, 0, len(c.tabs))
	for _, st := range c.tabs {
		out = append(out, st.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// GetAllTabs drops tabs the transport no longer knows and returns the rest.
// A probe error keeps the tab.
func (c *Coordinator) GetAllTabs(ctx context.Context) ([]TabState, error) {
	ids := c.ids()
	var gone []int
	for _, id := range ids {
		ok, err := c.tr.TabExists(ctx, id)
		if err != nil {
			c.log.Debug("tab probe failed", logx.Int("tab", id), logx.Err(err))
			continue
		}
		if !ok {
			gone = append(gone, id)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if len(gone) > 0 {
		for _, id := range gone {
			delete(c.tabs, id)
		}
		c.log.Info("pruned closed tabs", logx.Any("tabs", gone))
		err = c.persistLocked(ctx)
	}
	return c.sortedLocked(), err
}

func (c *Coordinator) ids() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.tabs))
	for id := range c.tabs {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// SendToTab delivers cmd. A transport failure removes the tab; a failed
// reply is returned as an error matching the runner sentinels.
func (c *Coordinator) SendToTab(ctx context.Context, tabID int, cmd Command) (Reply, error) {
	reply, err := c.tr.Send(ctx, tabID, cmd)
	if err != nil {
		c.log.Warn("tab unreachable, removing", logx.Int("tab", tabID), logx.String("action", string(cmd.Action)), logx.Err(err))
		if uerr := c.UnregisterTab(ctx, tabID); uerr != nil {
			c.log.Warn("remove unreachable tab failed", logx.Int("tab", tabID), logx.Err(uerr))
		}
		return Reply{}, fmt.Errorf("%w: tab %d: %v", ErrTabUnreachable, tabID, err)
	}
	return reply, reply.Err()
}

// BroadcastToAllTabs sends cmd to every tracked tab and returns the
// per-tab outcome.
func (c *Coordinator) BroadcastToAllTabs(ctx context.Context, cmd Command) map[int]error {
	out := map[int]error{}
	for _, id := range c.ids() {
		_, err := c.SendToTab(ctx, id, cmd)
		out[id] = err
	}
	return out
}

// StartAutomation starts the runner of a tracked tab and records the config.
func (c *Coordinator) StartAutomation(ctx context.Context, tabID int, cfg automation.Config) error {
	if _, ok := c.GetTabState(tabID); !ok {
		return fmt.Errorf("%w: %d", ErrTabNotFound, tabID)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", automation.ErrInvalidConfig, err)
	}
	if _, err := c.SendToTab(ctx, tabID, Command{Action: ActionStart, Config: &cfg}); err != nil {
		return err
	}
	running := true
	_, err := c.UpdateTabState(ctx, tabID, Patch{IsRunning: &running, Config: &cfg})
	return err
}

// StopAutomation stops a tab's runner. Stopping a runner that is not
// running only clears the flag.
func (c *Coordinator) StopAutomation(ctx context.Context, tabID int, clearHistory bool) error {
	return c.halt(ctx, tabID, Command{Action: ActionStop, ClearHistory: clearHistory})
}

func (c *Coordinator) PauseAutomation(ctx context.Context, tabID int) error {
	return c.halt(ctx, tabID, Command{Action: ActionPause})
}

func (c *Coordinator) halt(ctx context.Context, tabID int, cmd Command) error {
	if _, ok := c.GetTabState(tabID); !ok {
		return fmt.Errorf("%w: %d", ErrTabNotFound, tabID)
	}
	_, err := c.SendToTab(ctx, tabID, cmd)
	if errors.Is(err, ErrTabUnreachable) {
		return err
	}
	if err != nil && !errors.Is(err, automation.ErrNotRunning) {
		return err
	}
	running := false
	_, perr := c.UpdateTabState(ctx, tabID, Patch{IsRunning: &running})
	return perr
}

// TabStatus asks the tab for its live runner status.
func (c *Coordinator) TabStatus(ctx context.Context, tabID int) (automation.Status, error) {
	reply, err := c.SendToTab(ctx, tabID, Command{Action: ActionStatus})
	if err != nil {
		return automation.Status{}, err
	}
	if reply.Status == nil {
		return automation.Status{TabID: tabID, State: automation.StateIdle}, nil
	}
	return *reply.Status, nil
}

// PruneIdle removes tabs that are gone, or idle (not running) for longer
// than the idle TTL. It returns the removed ids.
func (c *Coordinator) PruneIdle(ctx context.Context) ([]int, error) {
	type probe struct {
		id     int
		exists bool
	}
	var probes []probe
	for _, id := range c.ids() {
		ok, err := c.tr.TabExists(ctx, id)
		if err != nil {
			ok = true
		}
		probes = append(probes, probe{id: id, exists: ok})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.idleTTL)
	var removed []int
	for _, p := range probes {
		st, ok := c.tabs[p.id]
		if !ok {
			continue
		}
		if !p.exists || (!st.IsRunning && st.LastActivity.Before(cutoff)) {
			delete(c.tabs, p.id)
			removed = append(removed, p.id)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	c.log.Info("pruned idle tabs", logx.Any("tabs", removed))
	return removed, c.persistLocked(ctx)
}

// ResumeRunning restarts every tab persisted as running. Tabs without a
// config, or whose start fails, are marked stopped. It returns the number
// of runners started.
func (c *Coordinator) ResumeRunning(ctx context.Context) (int, error) {
	started := 0
	var errs []error
	for _, st := range c.Snapshot() {
		if !st.IsRunning {
			continue
		}
		if st.Config == nil {
			errs = append(errs, c.markStopped(ctx, st.TabID))
			continue
		}
		_, err := c.SendToTab(ctx, st.TabID, Command{Action: ActionStart, Config: st.Config})
		switch {
		case err == nil, errors.Is(err, automation.ErrAlreadyRunning):
			started++
			c.log.Info("runner resumed", logx.Int("tab", st.TabID))
		case errors.Is(err, ErrTabUnreachable):
			// already removed
		default:
			c.log.Warn("resume failed", logx.Int("tab", st.TabID), logx.Err(err))
			errs = append(errs, c.markStopped(ctx, st.TabID))
		}
	}
	return started, errors.Join(errs...)
}

func (c *Coordinator) markStopped(ctx context.Context, tabID int) error {
	running := false
	_, err := c.UpdateTabState(ctx, tabID, Patch{IsRunning: &running})
	if errors.Is(err, ErrTabNotFound) {
		return nil
	}
	return err
}
