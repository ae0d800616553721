package app

import (
	"context"
	"errors"

	"autosend/internal/browser"
	"autosend/internal/coordinator"
	logx "autosend/pkg/logx"
)

type tabSource interface {
	Sync(ctx context.Context) ([]browser.TabInfo, error)
}

type tabRegistry interface {
	Snapshot() []coordinator.TabState
	RegisterTab(ctx context.Context, tabID int, url, title string) (coordinator.TabState, error)
	UpdateTabState(ctx context.Context, tabID int, p coordinator.Patch) (coordinator.TabState, error)
	UnregisterTab(ctx context.Context, tabID int) error
}

// syncTabs mirrors the browser's page targets into the coordinator: new
// tabs are registered, navigations update URL and title, closed tabs are
// dropped. Unchanged tabs are left alone so idle pruning still sees them
// as idle.
func syncTabs(ctx context.Context, src tabSource, reg tabRegistry, log logx.Logger) error {
	live, err := src.Sync(ctx)
	if err != nil {
		return err
	}
	known := map[int]coordinator.TabState{}
	for _, st := range reg.Snapshot() {
		known[st.TabID] = st
	}

	var errs []error
	seen := make(map[int]bool, len(live))
	for _, t := range live {
		seen[t.ID] = true
		st, ok := known[t.ID]
		switch {
		case !ok:
			if _, err := reg.RegisterTab(ctx, t.ID, t.URL, t.Title); err != nil {
				errs = append(errs, err)
				continue
			}
			log.Info("tab registered", logx.Int("tab", t.ID), logx.String("url", t.URL))
		case st.URL != t.URL || st.Title != t.Title:
			url, title := t.URL, t.Title
			if _, err := reg.UpdateTabState(ctx, t.ID, coordinator.Patch{URL: &url, Title: &title}); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for id := range known {
		if seen[id] {
			continue
		}
		if err := reg.UnregisterTab(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info("tab closed", logx.Int("tab", id))
	}
	return errors.Join(errs...)
}
