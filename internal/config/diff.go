package config

import (
	"reflect"
	"sort"
	"strings"

	logx "autosend/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"storage":  true,
	"browser":  true,
	"telegram": true,
}

// SummarizeChange returns the changed top-level sections, log attrs that
// never include secrets, and the changed sections that need a restart.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	if oldCfg.Coordinator != newCfg.Coordinator {
		changed = append(changed, "coordinator")
		attrs = append(attrs,
			logx.String("coordinator.idle_ttl", newCfg.Coordinator.IdleTTL),
			logx.String("coordinator.prune_every", newCfg.Coordinator.PruneEvery),
		)
	}

	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.String("runner.confirm_timeout", newCfg.Runner.ConfirmTimeout),
			logx.String("runner.poll_interval", newCfg.Runner.PollInterval),
			logx.String("runner.dispatch_timeout", newCfg.Runner.DispatchTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.Browser, newCfg.Browser) {
		changed = append(changed, "browser")
		attrs = append(attrs,
			logx.Bool("browser.remote", strings.TrimSpace(newCfg.Browser.RemoteURL) != ""),
			logx.Int("browser.tabs", len(newCfg.Browser.Tabs)),
		)
	}

	// Never log the token itself.
	if nt := newCfg.Telegram; oldCfg.Telegram != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int64("telegram.chat_id", nt.ChatID),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	oh.Token, nh.Token = tokenMark(oh.Token), tokenMark(nh.Token)
	if oh != nh || strings.TrimSpace(oldCfg.HTTP.Token) != strings.TrimSpace(newCfg.HTTP.Token) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", nh.Token != ""),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	if profs := diffProfiles(oldCfg, newCfg); len(profs) > 0 {
		changed = append(changed, "profiles")
		attrs = append(attrs,
			logx.Int("profiles.changed_count", len(profs)),
			logx.Int("profiles.count", len(newCfg.Profiles)),
		)
	}

	sort.Strings(changed)
	var restart []string
	for _, c := range changed {
		if restartSections[c] {
			restart = append(restart, c)
		}
	}
	return changed, attrs, restart
}

func tokenMark(tok string) string {
	if strings.TrimSpace(tok) == "" {
		return ""
	}
	return "set"
}

func diffProfiles(oldCfg, newCfg *Config) []string {
	set := map[string]struct{}{}
	for k := range oldCfg.Profiles {
		set[k] = struct{}{}
	}
	for k := range newCfg.Profiles {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		o, oOK := oldCfg.Profiles[id]
		n, nOK := newCfg.Profiles[id]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
