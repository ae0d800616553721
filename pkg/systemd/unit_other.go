//go:build !linux

package systemd

import (
	"context"
	"errors"
	"time"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

type UnitStatus struct {
	Name        string    `json:"name"`
	Active      string    `json:"active"`
	SubState    string    `json:"sub_state"`
	LoadState   string    `json:"load_state"`
	Description string    `json:"description,omitempty"`
	Since       time.Time `json:"since,omitempty"`
}

func Status(ctx context.Context, name string) (UnitStatus, error) { return UnitStatus{}, ErrUnsupported }

func Restart(ctx context.Context, name string) error { return ErrUnsupported }
