// Package coordinator tracks browser tabs and routes runner commands to them.
//
// The tab map is the single source of truth for which tabs exist and which
// should be running. It is persisted as a whole on every change so a restart
// picks up where the process left off.
package coordinator

import (
	"context"
	"errors"
	"time"

	"autosend/internal/automation"
)

var (
	ErrTabNotFound    = errors.New("tab not found")
	ErrTabUnreachable = errors.New("tab unreachable")
)

// StateKey is the store key holding the whole tab map.
const StateKey = "tabStates"

type TabState struct {
	TabID        int                `json:"tab_id"`
	URL          string             `json:"url,omitempty"`
	Title        string             `json:"title,omitempty"`
	IsRunning    bool               `json:"is_running"`
	LastActivity time.Time          `json:"last_activity"`
	Config       *automation.Config `json:"config,omitempty"`
	RegisteredAt time.Time          `json:"registered_at"`
}

func (s TabState) clone() TabState {
	out := s
	if s.Config != nil {
		c := s.Config.Clone()
		out.Config = &c
	}
	return out
}

// Patch is a partial update; nil fields are left alone.
type Patch struct {
	URL       *string
	Title     *string
	IsRunning *bool
	Config    *automation.Config
}

type Action string

const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionUpdate Action = "update_config"
	ActionStatus Action = "status"
)

type Command struct {
	Action       Action             `json:"action"`
	Config       *automation.Config `json:"config,omitempty"`
	ClearHistory bool               `json:"clear_history,omitempty"`
}

// Reply codes carry runner sentinels across the transport.
const (
	CodeAlreadyRunning = "already_running"
	CodeNotRunning     = "not_running"
	CodeNoConfig       = "no_config"
	CodeDispatchTarget = "dispatch_target"
	CodeInvalid        = "invalid"
	CodeFailed         = "failed"
	CodeUnknown        = "unknown_action"
)

type Reply struct {
	OK     bool               `json:"ok"`
	Code   string             `json:"code,omitempty"`
	Error  string             `json:"error,omitempty"`
	Status *automation.Status `json:"status,omitempty"`
}

// ReplyFor builds a Reply from a runner error.
func ReplyFor(err error) Reply {
	if err == nil {
		return Reply{OK: true}
	}
	r := Reply{Error: err.Error()}
	switch {
	case errors.Is(err, automation.ErrAlreadyRunning):
		r.Code = CodeAlreadyRunning
	case errors.Is(err, automation.ErrNotRunning):
		r.Code = CodeNotRunning
	case errors.Is(err, automation.ErrNoConfig):
		r.Code = CodeNoConfig
	case errors.Is(err, automation.ErrDispatchTarget):
		r.Code = CodeDispatchTarget
	case errors.Is(err, automation.ErrInvalidConfig):
		r.Code = CodeInvalid
	default:
		r.Code = CodeFailed
	}
	return r
}

// Err maps a failed Reply back to an error matching the runner sentinels.
func (r Reply) Err() error {
	if r.OK {
		return nil
	}
	var base error
	switch r.Code {
	case CodeAlreadyRunning:
		base = automation.ErrAlreadyRunning
	case CodeNotRunning:
		base = automation.ErrNotRunning
	case CodeNoConfig:
		base = automation.ErrNoConfig
	case CodeDispatchTarget:
		base = automation.ErrDispatchTarget
	case CodeInvalid:
		base = automation.ErrInvalidConfig
	default:
		if r.Error == "" {
			return errors.New("command failed")
		}
		return errors.New(r.Error)
	}
	if r.Error == "" || r.Error == base.Error() {
		return base
	}
	return &replyError{base: base, msg: r.Error}
}

type replyError struct {
	base error
	msg  string
}

func (e *replyError) Error() string { return e.msg }
func (e *replyError) Unwrap() error { return e.base }

// Transport delivers commands to the process side of a tab.
type Transport interface {
	TabExists(ctx context.Context, tabID int) (bool, error)
	Send(ctx context.Context, tabID int, cmd Command) (Reply, error)
}
