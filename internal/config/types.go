package config

import (
	"autosend/internal/automation"
)

type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	Runner      RunnerConfig      `json:"runner"`
	Browser     BrowserConfig     `json:"browser"`
	Telegram    TelegramConfig    `json:"telegram"`
	HTTP        HTTPConfig        `json:"http"`

	// Profiles are named automation configs that tabs and campaigns start from.
	Profiles map[string]automation.Config `json:"profiles"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards WARN+ log lines to the telegram chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls persistence of tab states, runtimes and schedules.
//
// Example:
//
//	storage: { driver: sqlite, path: ./autosend.db, busy_timeout: 5s }
//
// Omitting the section keeps everything in memory.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig sets the location campaign windows are evaluated in.
// Empty means the process local time zone.
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

// CoordinatorConfig controls tab bookkeeping. Durations are Go duration strings.
//
// Defaults: idle_ttl "24h", prune_every "1h".
type CoordinatorConfig struct {
	IdleTTL    string `json:"idle_ttl,omitempty"`
	PruneEvery string `json:"prune_every,omitempty"`
}

// RunnerConfig tunes the per-tab send loop.
//
// Defaults: confirm_timeout "3s", poll_interval "200ms", dispatch_timeout "30s".
type RunnerConfig struct {
	ConfirmTimeout  string `json:"confirm_timeout,omitempty"`
	PollInterval    string `json:"poll_interval,omitempty"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
}

// BrowserConfig selects the Chrome instance and the page elements to drive.
// With remote_url empty a local Chrome is launched.
type BrowserConfig struct {
	RemoteURL      string   `json:"remote_url,omitempty"`
	Headless       bool     `json:"headless,omitempty"`
	ExecPath       string   `json:"exec_path,omitempty"`
	InputSelector  string   `json:"input_selector"`
	SubmitSelector string   `json:"submit_selector,omitempty"`
	StreamSelector string   `json:"stream_selector,omitempty"`
	Tabs           []string `json:"tabs,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// UnconfirmedStreak alerts after this many unconfirmed sends in a row.
	UnconfirmedStreak int `json:"unconfirmed_streak,omitempty"`
}

// HTTPConfig controls the control API.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:8787").
//   - A non-loopback address needs a token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
