package scrape

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var errNotFound = errors.New("selector not found")

// fakePage はセレクタの有無とHTMLを固定で返すPage。
type fakePage struct {
	mu sync.Mutex

	present     map[string]bool
	html        string
	navigateErr error
	settleErr   error
	contentErr  error

	navigated []string
	waited    []string
	fills     map[string]string
	clicks    []string
	settled   bool
	closed    bool
}

func newFakePage(html string, present ...string) *fakePage {
	p := &fakePage{
		present: make(map[string]bool),
		html:    html,
		fills:   make(map[string]string),
	}
	for _, sel := range present {
		p.present[sel] = true
	}
	return p
}

func (p *fakePage) Navigate(url string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return p.navigateErr
}

func (p *fakePage) WaitForSelector(selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waited = append(p.waited, selector)
	if p.present[selector] {
		return nil
	}
	return errNotFound
}

func (p *fakePage) Fill(selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills[selector] = text
	return nil
}

func (p *fakePage) Click(selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) WaitForSettle(_ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = true
	return p.settleErr
}

func (p *fakePage) Content() (string, error) {
	return p.html, p.contentErr
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeBrowser は常に同じfakePageを返す。
type fakeBrowser struct {
	page       *fakePage
	newPageErr error
	userAgents []string
}

func (b *fakeBrowser) NewPage(_ context.Context, userAgent string) (Page, error) {
	if b.newPageErr != nil {
		return nil, b.newPageErr
	}
	b.userAgents = append(b.userAgents, userAgent)
	return b.page, nil
}

func (b *fakeBrowser) Close() error { return nil }

// fakeGuard はURLGuardのモック。
type fakeGuard struct {
	validateErr  error
	preflightErr error
	preflights   int
}

func (g *fakeGuard) ValidateURL(string) error { return g.validateErr }

func (g *fakeGuard) Preflight(context.Context, string) error {
	g.preflights++
	return g.preflightErr
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
