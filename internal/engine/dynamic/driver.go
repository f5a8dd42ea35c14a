package dynamic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"
)

// ScrollDriver implements scroll.Driver on a chromedp tab.
type ScrollDriver struct {
	container string
	item      string
}

// NewScrollDriver scrolls container (a CSS selector, "body" for the window)
// and snapshots either its children or the elements matching item.
func NewScrollDriver(container, item string) *ScrollDriver {
	if container == "" {
		container = "body"
	}
	return &ScrollDriver{container: container, item: item}
}

// Scroll advances the container by one viewport.
func (d *ScrollDriver) Scroll(ctx context.Context) error {
	js := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el || el === document.body || el === document.documentElement) {
		window.scrollBy(0, window.innerHeight);
		return true;
	}
	el.scrollTop = el.scrollTop + el.clientHeight;
	return true;
})()`, jsString(d.container))
	var ok bool
	return chromedp.Run(ctx, chromedp.Evaluate(js, &ok))
}

// Snapshot returns the outer HTML of each rendered item.
func (d *ScrollDriver) Snapshot(ctx context.Context) ([]string, error) {
	js := fmt.Sprintf(`(() => {
	const root = document.querySelector(%s) || document.body;
	const sel = %s;
	const items = sel ? root.querySelectorAll(sel) : root.children;
	return Array.from(items).map(e => e.outerHTML);
})()`, jsString(d.container), jsString(d.item))
	var items []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &items)); err != nil {
		return nil, err
	}
	return items, nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
