package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/session"
)

// MockSite is a scripted website served to every mock page. Routes map a
// URL to fixed HTML; a handler can compute HTML from the URL and the
// browser's cookies instead.
type MockSite struct {
	mu          sync.Mutex
	routes      map[string]string
	handler     func(url string, cookies []session.Cookie) (string, bool)
	clicks      map[string]func(p *MockPage)
	buttons     map[string]func(p *MockPage)
	delay       func(url string) time.Duration
	failures    map[string]error
	navigations []string
	clicked     []string
}

// NewMockSite creates an empty site
func NewMockSite() *MockSite {
	return &MockSite{
		routes:   make(map[string]string),
		clicks:   make(map[string]func(p *MockPage)),
		buttons:  make(map[string]func(p *MockPage)),
		failures: make(map[string]error),
	}
}

// Route serves html at url
func (s *MockSite) Route(url, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[url] = html
}

// Handle installs a dynamic handler consulted before the routes
func (s *MockSite) Handle(fn func(url string, cookies []session.Cookie) (string, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// OnClick runs fn after a Click on selector
func (s *MockSite) OnClick(selector string, fn func(p *MockPage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks[selector] = fn
}

// OnButton runs fn after ClickButtonWithText(text) found a button
func (s *MockSite) OnButton(text string, fn func(p *MockPage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttons[text] = fn
}

// Delay makes every navigation to url take fn(url)
func (s *MockSite) Delay(fn func(url string) time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = fn
}

// FailNavigation makes navigations to url return err
func (s *MockSite) FailNavigation(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[url] = err
}

// Navigations returns every URL navigated to, in order
func (s *MockSite) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// NavigationCount counts navigations whose URL contains substr
func (s *MockSite) NavigationCount(substr string) int {
	n := 0
	for _, u := range s.Navigations() {
		if strings.Contains(u, substr) {
			n++
		}
	}
	return n
}

// Clicked returns every clicked selector or button text, in order
func (s *MockSite) Clicked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicked...)
}

func (s *MockSite) serve(ctx context.Context, url string, cookies []session.Cookie) (string, error) {
	s.mu.Lock()
	s.navigations = append(s.navigations, url)
	delay := s.delay
	failure := s.failures[url]
	handler := s.handler
	html, routed := s.routes[url]
	s.mu.Unlock()

	if delay != nil {
		if d := delay(url); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}
	}
	if failure != nil {
		return "", failure
	}
	if handler != nil {
		if h, ok := handler(url, cookies); ok {
			return h, nil
		}
	}
	if routed {
		return html, nil
	}
	return "<html><head></head><body></body></html>", nil
}

// MockLauncher hands out MockBrowsers over one site
type MockLauncher struct {
	Site *MockSite

	mu        sync.Mutex
	launchErr error
	browsers  []*MockBrowser
}

// NewMockLauncher creates a launcher over site
func NewMockLauncher(site *MockSite) *MockLauncher {
	return &MockLauncher{Site: site}
}

// FailLaunch makes subsequent launches fail with err
func (l *MockLauncher) FailLaunch(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launchErr = err
}

func (l *MockLauncher) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	b := &MockBrowser{site: l.Site, cookies: make(map[string]session.Cookie)}
	l.browsers = append(l.browsers, b)
	return b, nil
}

// Browsers returns every browser launched so far
func (l *MockLauncher) Browsers() []*MockBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*MockBrowser(nil), l.browsers...)
}

// AllClosed reports whether every launched browser and page was closed
func (l *MockLauncher) AllClosed() bool {
	for _, b := range l.Browsers() {
		if !b.Closed() || b.OpenPages() > 0 {
			return false
		}
	}
	return true
}

// MockBrowser is an in-memory Browser with a shared cookie jar
type MockBrowser struct {
	site *MockSite

	mu      sync.Mutex
	cookies map[string]session.Cookie
	pages   []*MockPage
	closed  bool
}

func (b *MockBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser is closed")
	}
	p := &MockPage{browser: b, values: make(map[string]string), html: "<html><body></body></html>"}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *MockBrowser) Close() error {
	b.mu.Lock()
	pages := b.pages
	b.closed = true
	b.mu.Unlock()
	for _, p := range pages {
		_ = p.Close()
	}
	return nil
}

// Closed reports whether Close was called
func (b *MockBrowser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// PageCount returns how many pages were ever opened
func (b *MockBrowser) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}

// OpenPages returns how many pages are still open
func (b *MockBrowser) OpenPages() int {
	b.mu.Lock()
	pages := append([]*MockPage(nil), b.pages...)
	b.mu.Unlock()
	n := 0
	for _, p := range pages {
		if !p.Closed() {
			n++
		}
	}
	return n
}

func (b *MockBrowser) jar() []session.Cookie {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]session.Cookie, 0, len(b.cookies))
	for _, c := range b.cookies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (b *MockBrowser) setCookie(c session.Cookie) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cookies[c.Name] = c
}

// MockPage is an in-memory Page. WaitFor checks the current HTML once and
// never sleeps.
type MockPage struct {
	browser *MockBrowser

	mu     sync.Mutex
	url    string
	html   string
	values map[string]string
	closed bool
}

func (p *MockPage) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("page is closed")
	}
	return nil
}

func (p *MockPage) Navigate(ctx context.Context, url string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	html, err := p.browser.site.serve(ctx, url, p.browser.jar())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.Wrap(errs.ErrorTypeNetwork, "navigation failed", err)
	}
	p.mu.Lock()
	p.url = url
	p.html = html
	p.values = make(map[string]string)
	p.mu.Unlock()
	return nil
}

func (p *MockPage) doc() (*goquery.Document, error) {
	p.mu.Lock()
	html := p.html
	p.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (p *MockPage) has(selector string) bool {
	doc, err := p.doc()
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}

func (p *MockPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if p.has(selector) {
		return nil
	}
	return errs.Newf(errs.ErrorTypeTimeout, "timed out waiting for %s", selector)
}

func (p *MockPage) Settle(ctx context.Context, idle time.Duration) error {
	return p.check(ctx)
}

func (p *MockPage) HTML(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *MockPage) URL(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *MockPage) Type(ctx context.Context, selector, text string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if !p.has(selector) {
		return fmt.Errorf("no element matches %s", selector)
	}
	p.mu.Lock()
	p.values[selector] = text
	p.mu.Unlock()
	return nil
}

func (p *MockPage) Click(ctx context.Context, selector string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if !p.has(selector) {
		return fmt.Errorf("no element matches %s", selector)
	}
	site := p.browser.site
	site.mu.Lock()
	site.clicked = append(site.clicked, selector)
	effect := site.clicks[selector]
	site.mu.Unlock()
	if effect != nil {
		effect(p)
	}
	return nil
}

func (p *MockPage) ClickButtonWithText(ctx context.Context, text string) (bool, error) {
	if err := p.check(ctx); err != nil {
		return false, err
	}
	doc, err := p.doc()
	if err != nil {
		return false, err
	}
	found := false
	doc.Find(`button, div[role="button"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) == text {
			found = true
			return false
		}
		return true
	})
	if !found {
		return false, nil
	}

	site := p.browser.site
	site.mu.Lock()
	site.clicked = append(site.clicked, text)
	effect := site.buttons[text]
	site.mu.Unlock()
	if effect != nil {
		effect(p)
	}
	return true, nil
}

func (p *MockPage) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	for _, c := range cookies {
		p.browser.setCookie(c)
	}
	return nil
}

func (p *MockPage) Cookies(ctx context.Context) ([]session.Cookie, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return p.browser.jar(), nil
}

func (p *MockPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called
func (p *MockPage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Value returns what was typed into selector since the last navigation
func (p *MockPage) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector]
}

// SetHTML replaces the page content, as a script on the page would
func (p *MockPage) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// SetCookie adds a cookie to the browser jar, as a server response would
func (p *MockPage) SetCookie(c session.Cookie) {
	p.browser.setCookie(c)
}
