package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"autosend/internal/automation"
	"autosend/internal/browser"
	"autosend/internal/campaign"
	"autosend/internal/coordinator"
	"autosend/internal/httpapi"
	"autosend/internal/notify"
	"autosend/internal/storage"
	"autosend/internal/tabhost"
	logx "autosend/pkg/logx"
)

const DefaultPruneEvery = time.Hour

// Settings is a Config with every duration parsed and every default applied.
type Settings struct {
	Logging     logx.Config
	Storage     storage.Config
	Location    *time.Location
	IdleTTL     time.Duration
	PruneEvery  time.Duration
	Runner      tabhost.RunnerSettings
	Browser     browser.Config
	Telegram    notify.TelegramConfig
	Alerts      notify.AlerterConfig
	HTTP        httpapi.Config
	Profiles    campaign.ProfileMap
	TelegramSet bool
}

// Resolve validates cfg and converts it into component settings.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config is nil")
	}
	var (
		s   Settings
		err error
	)

	tg := cfg.Logging.Telegram
	s.Logging = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Alert:   logx.AlertConfig{Enabled: tg.Enabled, MinLevel: tg.MinLevel, RatePerSec: tg.RatePerSec},
	}
	if tg.RatePerSec < 0 {
		return Settings{}, errors.New("logging.telegram.rate_per_sec must be >= 0")
	}

	if st := cfg.Storage; st != nil {
		s.Storage = storage.Config{Driver: strings.TrimSpace(st.Driver), Path: strings.TrimSpace(st.Path)}
		if s.Storage.BusyTimeout, err = duration("storage.busy_timeout", st.BusyTimeout, 0); err != nil {
			return Settings{}, err
		}
		switch strings.ToLower(s.Storage.Driver) {
		case "", "memory", "mem":
		case "file", "sqlite", "sqlite3":
			if s.Storage.Path == "" {
				return Settings{}, fmt.Errorf("storage.path is required for driver %q", s.Storage.Driver)
			}
		default:
			return Settings{}, fmt.Errorf("storage.driver: unknown driver %q", s.Storage.Driver)
		}
	}

	s.Location = time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if s.Location, err = time.LoadLocation(tz); err != nil {
			return Settings{}, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	if s.IdleTTL, err = duration("coordinator.idle_ttl", cfg.Coordinator.IdleTTL, coordinator.DefaultIdleTTL); err != nil {
		return Settings{}, err
	}
	if s.PruneEvery, err = duration("coordinator.prune_every", cfg.Coordinator.PruneEvery, DefaultPruneEvery); err != nil {
		return Settings{}, err
	}
	if s.PruneEvery < time.Minute {
		return Settings{}, errors.New("coordinator.prune_every must be >= 1m")
	}

	if s.Runner.ConfirmTimeout, err = duration("runner.confirm_timeout", cfg.Runner.ConfirmTimeout, automation.DefaultConfirmTimeout); err != nil {
		return Settings{}, err
	}
	if s.Runner.PollInterval, err = duration("runner.poll_interval", cfg.Runner.PollInterval, automation.DefaultPollInterval); err != nil {
		return Settings{}, err
	}
	if s.Runner.DispatchTimeout, err = duration("runner.dispatch_timeout", cfg.Runner.DispatchTimeout, automation.DefaultDispatchTimeout); err != nil {
		return Settings{}, err
	}

	b := cfg.Browser
	s.Browser = browser.Config{
		RemoteURL: strings.TrimSpace(b.RemoteURL),
		Headless:  b.Headless,
		ExecPath:  strings.TrimSpace(b.ExecPath),
		Selectors: browser.Selectors{
			Input:  strings.TrimSpace(b.InputSelector),
			Submit: strings.TrimSpace(b.SubmitSelector),
			Stream: strings.TrimSpace(b.StreamSelector),
		},
		Tabs: append([]string(nil), b.Tabs...),
	}
	if s.Browser.Selectors.Input == "" {
		return Settings{}, errors.New("browser.input_selector is required")
	}

	t := cfg.Telegram
	s.Telegram = notify.TelegramConfig{Token: strings.TrimSpace(t.Token), ChatID: t.ChatID, ThreadID: t.ThreadID}
	s.TelegramSet = s.Telegram.Token != ""
	if s.TelegramSet && s.Telegram.ChatID == 0 {
		return Settings{}, errors.New("telegram.chat_id is required when telegram.token is set")
	}
	if tg.Enabled && !s.TelegramSet {
		return Settings{}, errors.New("logging.telegram.enabled needs telegram.token")
	}
	s.Alerts = notify.AlerterConfig{RatePerSec: float64(tg.RatePerSec), UnconfirmedStreak: t.UnconfirmedStreak}

	h := cfg.HTTP
	s.HTTP = httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
	}
	if s.HTTP.ReadTimeout, err = duration("http.read_timeout", h.ReadTimeout, 0); err != nil {
		return Settings{}, err
	}
	if s.HTTP.WriteTimeout, err = duration("http.write_timeout", h.WriteTimeout, 0); err != nil {
		return Settings{}, err
	}
	if s.HTTP.IdleTimeout, err = duration("http.idle_timeout", h.IdleTimeout, 0); err != nil {
		return Settings{}, err
	}

	s.Profiles = make(campaign.ProfileMap, len(cfg.Profiles))
	ids := make([]string, 0, len(cfg.Profiles))
	for id := range cfg.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return Settings{}, errors.New("profiles: empty profile id")
		}
		p := cfg.Profiles[id]
		if err := p.Validate(); err != nil {
			return Settings{}, fmt.Errorf("profiles.%s: %w", id, err)
		}
		s.Profiles[id] = p.Clone()
	}
	return s, nil
}
