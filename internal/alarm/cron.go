package alarm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "autosend/pkg/logx"
)

const maxStartupSpread = 30 * time.Second

// Cron runs alarms on robfig/cron. Overlapping runs of one alarm are
// skipped and handler panics are recovered.
type Cron struct {
	log logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cronEntry
	started bool
}

type cronEntry struct {
	id      cron.EntryID
	minutes int
}

func NewCron(log logx.Logger) *Cron {
	if log.IsZero() {
		log = logx.Nop()
	}
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{
		log:     log,
		c:       cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		ctx:     ctx,
		cancel:  cancel,
		entries: map[string]cronEntry{},
	}
}

// Start begins triggering. Handlers get a context derived from parent.
func (a *Cron) Start(parent context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true
	a.cancel()
	a.ctx, a.cancel = context.WithCancel(parent)
	a.c.Start()
	a.log.Info("alarms started", logx.Int("alarms", len(a.entries)))
}

// Stop halts triggering and waits for running handlers (bounded by ctx).
func (a *Cron) Stop(ctx context.Context) {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	a.cancel()
	stopped := a.c.Stop()
	a.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	a.log.Info("alarms stopped")
}

func (a *Cron) Every(name string, minutes int, h Handler) error {
	if minutes < 1 {
		return ErrInvalidPeriod
	}
	if h == nil {
		return fmt.Errorf("alarm %q: nil handler", name)
	}
	every := time.Duration(minutes) * time.Minute
	sched, jitter := newSpread(every, time.Now(), name)

	a.mu.Lock()
	defer a.mu.Unlock()
	if old, ok := a.entries[name]; ok {
		a.c.Remove(old.id)
	}
	id := a.c.Schedule(sched, cron.FuncJob(func() {
		a.mu.Lock()
		ctx := a.ctx
		a.mu.Unlock()
		h(ctx, name)
	}))
	a.entries[name] = cronEntry{id: id, minutes: minutes}
	a.log.Debug("alarm registered", logx.String("name", name), logx.Int("minutes", minutes), logx.Duration("spread", jitter))
	return nil
}

func (a *Cron) Clear(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[name]
	if !ok {
		return false
	}
	a.c.Remove(e.id)
	delete(a.entries, name)
	a.log.Debug("alarm cleared", logx.String("name", name))
	return true
}

func (a *Cron) Has(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[name]
	return ok
}

func (a *Cron) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for n := range a.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Entries lists alarms with their next fire time (zero before Start).
func (a *Cron) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, 0, len(a.entries))
	for n, e := range a.entries {
		out = append(out, Entry{Name: n, Minutes: e.minutes, Next: a.c.Entry(e.id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// spreadSchedule delays the first run by a random share of the period (at
// most maxStartupSpread) so alarms registered together don't fire together.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq uint64

func newSpread(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return base, 0
	}
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	jitter := time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(spreadMax)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
