//go:build linux

package systemd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// UnitStatus is the core state of one unit.
type UnitStatus struct {
	Name        string    `json:"name"`
	Active      string    `json:"active"`
	SubState    string    `json:"sub_state"`
	LoadState   string    `json:"load_state"`
	Description string    `json:"description,omitempty"`
	Since       time.Time `json:"since,omitempty"`
}

func unitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func connect(ctx context.Context) (*dbus.Conn, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	return conn, nil
}

// Status reports the unit state. A missing unit is not an error; its
// LoadState is "not-found".
func Status(ctx context.Context, name string) (UnitStatus, error) {
	conn, err := connect(ctx)
	if err != nil {
		return UnitStatus{}, err
	}
	defer conn.Close()

	unit := unitName(name)
	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchUnit") {
			return UnitStatus{Name: unit, Active: "unknown", SubState: "not-found", LoadState: "not-found"}, nil
		}
		return UnitStatus{}, fmt.Errorf("status %s: %w", unit, err)
	}
	st := UnitStatus{
		Name:        unit,
		Active:      stringProp(props, "ActiveState"),
		SubState:    stringProp(props, "SubState"),
		LoadState:   stringProp(props, "LoadState"),
		Description: stringProp(props, "Description"),
	}
	key := "InactiveEnterTimestamp"
	if st.Active == "active" {
		key = "ActiveEnterTimestamp"
	}
	// systemd timestamps are microseconds since the epoch
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		st.Since = time.Unix(int64(ts/1_000_000), 0)
	}
	return st, nil
}

// Restart restarts the unit and waits for the job to finish.
func Restart(ctx context.Context, name string) error {
	conn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	unit := unitName(name)
	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("restart %s: %w", unit, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("restart %s: job %s", unit, res)
		}
		return nil
	}
}

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}
