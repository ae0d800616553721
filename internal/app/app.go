// Package app wires the daemon: storage, the browser, per-tab runners, the
// coordinator, campaigns, alerts and the control API.
package app

import (
	"context"
	"fmt"
	"time"

	"autosend/internal/alarm"
	"autosend/internal/automation"
	"autosend/internal/browser"
	"autosend/internal/campaign"
	"autosend/internal/config"
	"autosend/internal/coordinator"
	"autosend/internal/eventbus"
	"autosend/internal/httpapi"
	"autosend/internal/notify"
	"autosend/internal/runtime/supervisor"
	"autosend/internal/storage"
	"autosend/internal/tabhost"
	logx "autosend/pkg/logx"
	"autosend/pkg/systemd"
)

const (
	pruneAlarm = "tabs.prune"
	syncAlarm  = "browser.sync"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor
	sd   systemd.Notifier

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tg      *notify.Telegram
	alerter *notify.Alerter

	profiles *profileSet
	alarms   *alarm.Cron
	browser  *browser.Browser
	host     *tabhost.Host
	coord    *coordinator.Coordinator
	sched    *campaign.Scheduler
	http     *httpapi.Server

	started time.Time
}

// New loads the config and opens storage. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	_, s, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var (
		tg   *notify.Telegram
		sink logx.AlertSink
	)
	if s.TelegramSet {
		// telebot checks the token with getMe here
		tg, err = notify.NewTelegram(s.Telegram)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sink = tg
	}
	logSvc, log := logx.New(s.Logging, sink)
	log = log.With(logx.String("comp", "app"))

	store, err := storage.Open(s.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", s.Storage.Driver))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   eventbus.New(),
		store: store,
		tg:    tg,
	}
	if tg != nil {
		a.alerter = notify.NewAlerter(tg, s.Alerts, log.With(logx.String("comp", "alerts")))
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	s := a.cfgm.Settings()
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	fail := func(err error) error {
		a.sup.Cancel()
		if a.browser != nil {
			a.browser.Close()
		}
		return err
	}

	// Chrome outlives the supervisor context so runners can finish a
	// dispatch during shutdown; Stop closes it explicitly.
	br, err := browser.New(context.Background(), s.Browser, a.store, a.log.With(logx.String("comp", "browser")))
	if err != nil {
		return fail(fmt.Errorf("browser: %w", err))
	}
	a.browser = br

	a.host = tabhost.New(tabhost.Options{
		Pages:      br,
		Store:      a.store,
		Bus:        a.bus,
		Supervisor: a.sup,
		Log:        a.log.With(logx.String("comp", "tabs")),
		Runner:     s.Runner,
	})
	a.coord = coordinator.New(coordinator.Options{
		Store:     a.store,
		Transport: a.host,
		Log:       a.log.With(logx.String("comp", "coordinator")),
		IdleTTL:   s.IdleTTL,
	})
	if err := a.coord.Init(ctx); err != nil {
		return fail(fmt.Errorf("coordinator init: %w", err))
	}

	a.profiles = newProfileSet(s.Profiles)
	a.alarms = alarm.NewCron(a.log.With(logx.String("comp", "alarms")))
	a.sched = campaign.New(campaign.Options{
		Store:    a.store,
		Alarms:   a.alarms,
		Tabs:     a.coord,
		Profiles: a.profiles,
		Bus:      a.bus,
		Log:      a.log.With(logx.String("comp", "campaign")),
		Location: s.Location,
	})
	if err := a.sched.Init(ctx); err != nil {
		return fail(fmt.Errorf("campaign init: %w", err))
	}

	a.sup.Go0("coordinator.watch", func(c context.Context) { a.coord.Watch(c, a.bus) })
	if a.alerter != nil {
		a.sup.Go0("alerts", func(c context.Context) { a.alerter.Run(c, a.bus) })
	}
	a.sup.Go0("eventbus.log", a.logEvents)

	if err := syncTabs(ctx, br, a.coord, a.log); err != nil {
		a.log.Warn("initial tab sync failed", logx.Err(err))
	}
	n, err := a.coord.ResumeRunning(ctx)
	if err != nil {
		a.log.Warn("resuming tabs failed", logx.Err(err))
	}
	if n > 0 {
		a.log.Info("resumed tabs", logx.Int("count", n))
	}

	if err := a.registerHousekeeping(s); err != nil {
		return fail(err)
	}
	a.alarms.Start(a.sup.Context())

	a.http = httpapi.NewServer(s.HTTP, &httpapi.API{
		Tabs:      a.coord,
		Schedules: a.sched,
		Profiles:  a.profiles,
		Status:    a.status,
		Log:       a.log.With(logx.String("comp", "api")),
	}, a.log.With(logx.String("comp", "http")))
	a.http.Start(a.sup.Context())

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.RunWatchdog(c, func() bool { return a.sup.Err() == nil })
	})

	if _, err := a.sd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started", logx.Int("tabs", len(a.coord.Snapshot())), logx.Int("schedules", len(a.sched.GetAll())))
	return nil
}

func (a *App) registerHousekeeping(s config.Settings) error {
	if err := a.alarms.Every(pruneAlarm, int(s.PruneEvery/time.Minute), a.prune); err != nil {
		return fmt.Errorf("alarm %s: %w", pruneAlarm, err)
	}
	if err := a.alarms.Every(syncAlarm, 1, func(ctx context.Context, _ string) {
		if err := syncTabs(ctx, a.browser, a.coord, a.log); err != nil {
			a.log.Warn("tab sync failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("alarm %s: %w", syncAlarm, err)
	}
	return nil
}

func (a *App) prune(ctx context.Context, _ string) {
	removed, err := a.coord.PruneIdle(ctx)
	if err != nil {
		a.log.Warn("tab prune failed", logx.Err(err))
		return
	}
	if len(removed) > 0 {
		a.log.Info("pruned tabs", logx.Any("tabs", removed))
	}
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

type statusView struct {
	Uptime        string                 `json:"uptime"`
	Supervisor    supervisor.Snapshot    `json:"supervisor"`
	Alarms        []alarm.Entry          `json:"alarms"`
	Runners       []automation.Status    `json:"runners"`
	Tabs          []coordinator.TabState `json:"tabs"`
	Schedules     []campaign.Schedule    `json:"schedules"`
	BusDropped    uint64                 `json:"bus_dropped"`
	AlertsDropped int                    `json:"alerts_dropped"`
}

func (a *App) status() any {
	v := statusView{
		Uptime:     time.Since(a.started).Round(time.Second).String(),
		Supervisor: a.sup.Snapshot(),
		Alarms:     a.alarms.Entries(),
		Runners:    a.host.Statuses(),
		Tabs:       a.coord.Snapshot(),
		Schedules:  a.sched.GetAll(),
		BusDropped: a.bus.Dropped(),
	}
	if a.alerter != nil {
		v.AlertsDropped = a.alerter.Dropped()
	}
	return v
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()

	// Runner loops exit on cancel without emitting stop events, so tabs
	// still marked running resume on the next start.
	a.sup.Cancel()

	a.step(ctx, "alarms", 2*time.Second, func(c context.Context) error { a.alarms.Stop(c); return nil })
	a.step(ctx, "http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "tabs.flush", 2*time.Second, func(c context.Context) error { return a.host.Flush(c) })
	a.step(ctx, "browser", 2*time.Second, func(c context.Context) error { a.browser.Close(); return nil })
	a.step(ctx, "storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit (and ctx). A step that
// overruns is left running in the background and logged when it ends.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
