package automation

import "time"

type EventType string

const (
	EventStarted     EventType = "runner.started"
	EventPaused      EventType = "runner.paused"
	EventStopped     EventType = "runner.stopped"
	EventGated       EventType = "runner.gated"
	EventSkipped     EventType = "runner.skipped"
	EventSent        EventType = "runner.sent"
	EventUnconfirmed EventType = "runner.unconfirmed"
	EventError       EventType = "runner.error"
)

// Event is emitted on every runner transition. Runtime is a copy taken
// right after the transition.
type Event struct {
	Type    EventType     `json:"type"`
	TabID   int           `json:"tab_id"`
	At      time.Time     `json:"at"`
	Message string        `json:"message,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
	Reason  GateReason    `json:"reason,omitempty"`
	Err     string        `json:"err,omitempty"`
	Runtime RuntimeState  `json:"runtime"`
}

// Observer receives runner events on the loop goroutine. It must not block.
type Observer func(Event)
