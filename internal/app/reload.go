package app

import (
	"context"
	"strings"
	"time"

	"autosend/internal/config"
	logx "autosend/pkg/logx"
)

// reloadLoop applies published configs until ctx ends. A burst of reloads
// collapses into the newest one.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	// Settings were resolved when the manager committed newCfg.
	s := a.cfgm.Settings()
	_, _ = a.sd.Reloading()
	defer func() { _, _ = a.sd.Ready() }()

	for _, sec := range sections {
		switch sec {
		case "logging":
			a.logs.Apply(s.Logging)
		case "scheduler":
			a.sched.SetLocation(s.Location)
		case "coordinator":
			a.coord.SetIdleTTL(s.IdleTTL)
			if err := a.alarms.Every(pruneAlarm, int(s.PruneEvery/time.Minute), a.prune); err != nil {
				a.log.Warn("prune alarm not updated", logx.Err(err))
			}
		case "runner":
			// running tabs keep their timings until restarted
			a.host.SetRunnerSettings(s.Runner)
		case "profiles":
			a.profiles.Set(s.Profiles)
		case "http":
			rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.http.Reconfigure(rctx, s.HTTP)
			cancel()
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
