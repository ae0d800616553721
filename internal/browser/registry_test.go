package browser

import (
	"context"
	"strings"
	"testing"

	"autosend/internal/storage"
)

func TestRegistryKeepsIDsAcrossReload(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()

	r := newRegistry(st)
	if err := r.load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	a, _ := r.assign(ctx, "T-A")
	b, _ := r.assign(ctx, "T-B")
	again, _ := r.assign(ctx, "T-A")
	if a != 1 || b != 2 || again != 1 {
		t.Fatalf("unexpected ids: a=%d b=%d again=%d", a, b, again)
	}

	r2 := newRegistry(st)
	if err := r2.load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if id, _ := r2.assign(ctx, "T-B"); id != 2 {
		t.Fatalf("T-B lost its id: %d", id)
	}
	if id, _ := r2.assign(ctx, "T-C"); id != 3 {
		t.Fatalf("expected next id 3, got %d", id)
	}
}

func TestRegistryRetain(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(storage.NewMemory())
	_, _ = r.assign(ctx, "x")
	_, _ = r.assign(ctx, "y")
	_, _ = r.assign(ctx, "z")

	gone, err := r.retain(ctx, map[string]bool{"y": true})
	if err != nil {
		t.Fatalf("retain: %v", err)
	}
	if len(gone) != 2 || gone[0] != 1 || gone[1] != 3 {
		t.Fatalf("unexpected removals: %v", gone)
	}
	if _, ok := r.target(1); ok {
		t.Fatalf("removed target still resolvable")
	}
	if tid, ok := r.target(2); !ok || tid != "y" {
		t.Fatalf("live target lost: %q", tid)
	}
}

func TestScriptsQuoteSelectors(t *testing.T) {
	s := inputScript(`textarea[name="msg"]`)
	if !strings.Contains(s, `"textarea[name=\"msg\"]"`) {
		t.Fatalf("selector not JSON-quoted: %s", s)
	}
	if got := streamScript(""); !strings.Contains(got, "document.body") {
		t.Fatalf("empty stream selector should read the body: %s", got)
	}
}
