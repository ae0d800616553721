package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	logx "autosend/pkg/logx"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(cfg Config) func() Store {
		return func() Store {
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open(%s): %v", cfg.Driver, err)
			}
			return st
		}
	}
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"file":   open(Config{Driver: "file", Path: filepath.Join(dir, "state.json")}),
		"sqlite": open(Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db"), BusyTimeout: time.Second}),
	}
}

func TestStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			err := st.Set(ctx, map[string][]byte{
				"tabStates":  []byte(`{"5":{"tabId":5}}`),
				"schedules":  []byte(`[]`),
				"runtime:5":  []byte(`{"currentIndex":2}`),
				"runtime:12": []byte(`{"currentIndex":0}`),
			})
			if err != nil {
				t.Fatalf("Set: %v", err)
			}

			got, err := st.Get(ctx, "tabStates", "schedules", "missing")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("Get returned %d keys, want 2: %v", len(got), got)
			}
			if string(got["tabStates"]) != `{"5":{"tabId":5}}` {
				t.Fatalf("tabStates = %s", got["tabStates"])
			}

			keys, err := st.Keys(ctx, "runtime:")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if !reflect.DeepEqual(keys, []string{"runtime:12", "runtime:5"}) {
				t.Fatalf("Keys = %v", keys)
			}

			if err := st.Delete(ctx, "schedules"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			got, _ = st.Get(ctx, "schedules")
			if _, ok := got["schedules"]; ok {
				t.Fatal("schedules still present after Delete")
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Set(ctx, map[string][]byte{"a": []byte(`1`), "b": []byte(`2`)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := st.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Set(ctx, map[string][]byte{"b": []byte(`3`)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Reopen without Close: the journal alone must be enough.
	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, err := st2.Get(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := got["a"]; ok {
		t.Fatal("deleted key came back after reopen")
	}
	if string(got["b"]) != "3" {
		t.Fatalf("b = %s, want 3", got["b"])
	}
	_ = st.Close()

	// After Close the snapshot holds everything.
	st3, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	defer st3.Close()
	got, _ = st3.Get(ctx, "b")
	if string(got["b"]) != "3" {
		t.Fatalf("b after compaction = %s", got["b"])
	}
}

func TestFileStoreRejectsNonJSON(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if err := st.Set(context.Background(), map[string][]byte{"k": []byte("not json")}); err == nil {
		t.Fatal("expected error for non-JSON value")
	}
}

func TestClosedStoreErrors(t *testing.T) {
	st := NewMemory()
	_ = st.Close()
	if _, err := st.Get(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after close err = %v, want ErrClosed", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
