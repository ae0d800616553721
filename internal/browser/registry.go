package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"autosend/internal/storage"
)

// RegistryKey holds the CDP target id -> tab id mapping.
const RegistryKey = "browser.targets"

// registry hands out small stable integer ids for CDP target ids, so a
// tab keeps its id across restarts while the browser keeps the target.
type registry struct {
	mu    sync.Mutex
	store storage.Store
	ids   map[string]int
	next  int
}

func newRegistry(store storage.Store) *registry {
	return &registry{store: store, ids: map[string]int{}, next: 1}
}

func (r *registry) load(ctx context.Context) error {
	got, err := r.store.Get(ctx, RegistryKey)
	if err != nil {
		return fmt.Errorf("load tab registry: %w", err)
	}
	ids := map[string]int{}
	if raw, ok := got[RegistryKey]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &ids); err != nil {
			return fmt.Errorf("decode tab registry: %w", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = ids
	r.next = 1
	for _, id := range ids {
		if id >= r.next {
			r.next = id + 1
		}
	}
	return nil
}

// assign returns the id for target, allocating one if needed.
func (r *registry) assign(ctx context.Context, target string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[target]; ok {
		return id, nil
	}
	id := r.next
	r.next++
	r.ids[target] = id
	return id, r.saveLocked(ctx)
}

func (r *registry) target(id int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, v := range r.ids {
		if v == id {
			return t, true
		}
	}
	return "", false
}

// retain drops every target not in live and reports the removed tab ids.
func (r *registry) retain(ctx context.Context, live map[string]bool) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var gone []int
	for t, id := range r.ids {
		if !live[t] {
			delete(r.ids, t)
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return nil, nil
	}
	sort.Ints(gone)
	return gone, r.saveLocked(ctx)
}

func (r *registry) saveLocked(ctx context.Context) error {
	b, err := json.Marshal(r.ids)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, map[string][]byte{RegistryKey: b})
}
