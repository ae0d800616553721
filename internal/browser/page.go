package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"autosend/internal/automation"
)

// Selectors are CSS selectors evaluated with document.querySelector.
type Selectors struct {
	Input  string
	Submit string // empty: press Enter in the input
	Stream string // empty: the whole body
}

// Page drives one tab. Its chromedp context outlives individual calls;
// every call is bounded by the caller's context.
type Page struct {
	tab context.Context
	sel Selectors
}

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(p.tab)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var c2 context.CancelFunc
		rctx, c2 = context.WithDeadline(rctx, dl)
		defer c2()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx, actions...)
}

type inputState struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

func (p *Page) readInput(ctx context.Context) (inputState, error) {
	var res inputState
	err := p.run(ctx, chromedp.Evaluate(inputScript(p.sel.Input), &res))
	return res, err
}

func (p *Page) Dispatch(ctx context.Context, text string) error {
	res, err := p.readInput(ctx)
	if err != nil {
		return err
	}
	if !res.Found {
		return fmt.Errorf("%w: %s", automation.ErrDispatchTarget, p.sel.Input)
	}

	// SendKeys appends, so leftover draft text is wiped first
	var cleared bool
	actions := []chromedp.Action{
		chromedp.Focus(p.sel.Input, chromedp.ByQuery),
		chromedp.Evaluate(clearScript(p.sel.Input), &cleared),
		chromedp.SendKeys(p.sel.Input, text, chromedp.ByQuery),
	}
	if p.sel.Submit != "" {
		actions = append(actions, chromedp.Click(p.sel.Submit, chromedp.ByQuery))
	} else {
		actions = append(actions, chromedp.SendKeys(p.sel.Input, kb.Enter, chromedp.ByQuery))
	}
	return p.run(ctx, actions...)
}

func (p *Page) InputValue(ctx context.Context) (string, error) {
	res, err := p.readInput(ctx)
	if err != nil {
		return "", err
	}
	if !res.Found {
		return "", automation.ErrDispatchTarget
	}
	return res.Value, nil
}

func (p *Page) StreamText(ctx context.Context) (string, error) {
	var out string
	err := p.run(ctx, chromedp.Evaluate(streamScript(p.sel.Stream), &out))
	return out, err
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func inputScript(sel string) string {
	return `(() => {
  const el = document.querySelector(` + jsString(sel) + `);
  if (!el) return {found: false, value: ""};
  const v = ("value" in el) ? el.value : el.innerText;
  return {found: true, value: v || ""};
})()`
}

// clearScript empties a form field or a contenteditable element and fires
// an input event so frameworks tracking the value see the change.
func clearScript(sel string) string {
	return `(() => {
  const el = document.querySelector(` + jsString(sel) + `);
  if (!el) return false;
  if ("value" in el) el.value = "";
  else el.textContent = "";
  el.dispatchEvent(new Event("input", {bubbles: true}));
  return true;
})()`
}

func streamScript(sel string) string {
	if sel == "" {
		return `document.body ? document.body.innerText : ""`
	}
	return `(() => {
  const el = document.querySelector(` + jsString(sel) + `);
  return el ? el.innerText : "";
})()`
}
