// Package browser connects to Chrome over CDP and exposes its page tabs as
// automation pages with stable integer ids.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"autosend/internal/automation"
	"autosend/internal/storage"
	logx "autosend/pkg/logx"
)

var ErrNoTab = errors.New("browser tab not found")

type Config struct {
	RemoteURL string // ws:// or http:// DevTools endpoint; empty launches Chrome
	Headless  bool
	ExecPath  string
	Selectors Selectors
	// Tabs are opened at startup when no existing page target matches them.
	Tabs []string
}

type TabInfo struct {
	ID    int    `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type tab struct {
	target target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

type Browser struct {
	log logx.Logger
	cfg Config
	reg *registry

	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc

	mu   sync.Mutex
	tabs map[int]*tab
}

// New attaches to (or launches) Chrome, restores tab ids and opens the
// configured start tabs.
func New(ctx context.Context, cfg Config, store storage.Store, log logx.Logger) (*Browser, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Selectors.Input) == "" {
		return nil, errors.New("browser: input selector is required")
	}

	var (
		alloc       context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		alloc, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		alloc, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	bctx, bcancel := chromedp.NewContext(alloc)
	if err := chromedp.Run(bctx); err != nil {
		bcancel()
		allocCancel()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	b := &Browser{
		log:           log,
		cfg:           cfg,
		reg:           newRegistry(store),
		allocCancel:   allocCancel,
		browser:       bctx,
		browserCancel: bcancel,
		tabs:          map[int]*tab{},
	}
	if err := b.reg.load(ctx); err != nil {
		b.Close()
		return nil, err
	}
	if _, err := b.Sync(ctx); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openMissing(ctx); err != nil {
		b.log.Warn("opening start tabs failed", logx.Err(err))
	}
	return b, nil
}

func (b *Browser) pageTargets(ctx context.Context) ([]*target.Info, error) {
	infos, err := chromedp.Targets(b.browser)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, ti := range infos {
		if ti.Type == "page" {
			out = append(out, ti)
		}
	}
	return out, nil
}

// Sync attaches to every page target, drops tabs whose target is gone and
// returns the live tabs ordered by id.
func (b *Browser) Sync(ctx context.Context) ([]TabInfo, error) {
	infos, err := b.pageTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("browser: list targets: %w", err)
	}

	live := map[string]bool{}
	var out []TabInfo
	for _, ti := range infos {
		live[string(ti.TargetID)] = true
		id, err := b.reg.assign(ctx, string(ti.TargetID))
		if err != nil {
			return nil, err
		}
		if err := b.attach(id, ti.TargetID); err != nil {
			b.log.Warn("attach to tab failed", logx.Int("tab", id), logx.Err(err))
			continue
		}
		out = append(out, TabInfo{ID: id, URL: ti.URL, Title: ti.Title})
	}

	gone, err := b.reg.retain(ctx, live)
	b.mu.Lock()
	for _, id := range gone {
		if t := b.tabs[id]; t != nil {
			t.cancel()
			delete(b.tabs, id)
		}
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// attach binds a chromedp context to the target. The first Run has to use
// the tab context itself so the session lives as long as the tab does.
func (b *Browser) attach(id int, tid target.ID) error {
	b.mu.Lock()
	t, ok := b.tabs[id]
	b.mu.Unlock()
	if ok && t.target == tid {
		return nil
	}
	tctx, cancel := chromedp.NewContext(b.browser, chromedp.WithTargetID(tid))
	if err := chromedp.Run(tctx); err != nil {
		cancel()
		return err
	}
	b.mu.Lock()
	if old := b.tabs[id]; old != nil {
		old.cancel()
	}
	b.tabs[id] = &tab{target: tid, ctx: tctx, cancel: cancel}
	b.mu.Unlock()
	return nil
}

func (b *Browser) openMissing(ctx context.Context) error {
	if len(b.cfg.Tabs) == 0 {
		return nil
	}
	infos, err := b.pageTargets(ctx)
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for _, ti := range infos {
		have[ti.URL] = true
	}
	var errs []error
	for _, u := range b.cfg.Tabs {
		if have[u] {
			continue
		}
		if _, err := b.Open(ctx, u); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

// Open creates a new tab at url and returns its id.
func (b *Browser) Open(ctx context.Context, url string) (int, error) {
	tctx, cancel := chromedp.NewContext(b.browser)
	if err := chromedp.Run(tctx, chromedp.Navigate(url)); err != nil {
		cancel()
		return 0, fmt.Errorf("browser: open %s: %w", url, err)
	}
	tid := chromedp.FromContext(tctx).Target.TargetID
	id, err := b.reg.assign(ctx, string(tid))
	if err != nil {
		cancel()
		return 0, err
	}
	b.mu.Lock()
	b.tabs[id] = &tab{target: tid, ctx: tctx, cancel: cancel}
	b.mu.Unlock()
	b.log.Info("tab opened", logx.Int("tab", id), logx.String("url", url))
	return id, nil
}

// Exists reports whether the tab's target is still open.
func (b *Browser) Exists(ctx context.Context, id int) (bool, error) {
	tid, ok := b.reg.target(id)
	if !ok {
		return false, nil
	}
	infos, err := b.pageTargets(ctx)
	if err != nil {
		return false, err
	}
	for _, ti := range infos {
		if string(ti.TargetID) == tid {
			return true, nil
		}
	}
	return false, nil
}

func (b *Browser) Page(ctx context.Context, id int) (automation.Page, error) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoTab, id)
	}
	return &Page{tab: t.ctx, sel: b.cfg.Selectors}, nil
}

// Close detaches from all tabs and from the browser. Launched browsers are
// shut down; remote ones are left running.
func (b *Browser) Close() {
	b.mu.Lock()
	for id, t := range b.tabs {
		if b.cfg.RemoteURL == "" {
			t.cancel()
		}
		delete(b.tabs, id)
	}
	b.mu.Unlock()
	if b.cfg.RemoteURL == "" {
		b.browserCancel()
	}
	b.allocCancel()
}
