// Package alarm provides named periodic wake-ups.
//
// Alarms are identified by name; registering a name again replaces the
// previous registration. Cron is the production implementation, Manual is
// driven by hand (tests, offline CLI).
package alarm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrInvalidPeriod = errors.New("alarm period must be at least one minute")

type Handler func(ctx context.Context, name string)

type Alarms interface {
	Every(name string, minutes int, h Handler) error
	Clear(name string) bool
	Has(name string) bool
	Names() []string
}

type Entry struct {
	Name    string    `json:"name"`
	Minutes int       `json:"minutes"`
	Next    time.Time `json:"next,omitempty"`
}

// Manual records registrations and fires them only when asked.
type Manual struct {
	mu      sync.Mutex
	entries map[string]manualEntry
}

type manualEntry struct {
	minutes int
	h       Handler
}

func NewManual() *Manual {
	return &Manual{entries: map[string]manualEntry{}}
}

func (m *Manual) Every(name string, minutes int, h Handler) error {
	if minutes < 1 {
		return ErrInvalidPeriod
	}
	m.mu.Lock()
	m.entries[name] = manualEntry{minutes: minutes, h: h}
	m.mu.Unlock()
	return nil
}

func (m *Manual) Clear(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[name]
	delete(m.entries, name)
	return ok
}

func (m *Manual) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[name]
	return ok
}

func (m *Manual) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for n := range m.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Period returns the registered period in minutes, 0 if absent.
func (m *Manual) Period(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[name].minutes
}

// Fire runs the handler synchronously. It reports whether the alarm exists.
func (m *Manual) Fire(ctx context.Context, name string) bool {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()
	if !ok || e.h == nil {
		return ok
	}
	e.h(ctx, name)
	return true
}
