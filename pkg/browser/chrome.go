package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/logger"
	"igbatch/pkg/session"
)

// hideWebdriver runs before any page script
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

const clickButtonJS = `(function(text) {
	const buttons = Array.from(document.querySelectorAll('button, div[role="button"]'));
	const match = buttons.find(b => b.innerText && b.innerText.trim() === text);
	if (!match) { return false; }
	match.click();
	return true;
})(%q)`

// ChromeLauncher starts Chrome through chromedp
type ChromeLauncher struct {
	opts Options
	log  logger.Logger
}

// NewChromeLauncher creates a launcher with stealth defaults
func NewChromeLauncher(opts Options, log logger.Logger) *ChromeLauncher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.WindowWidth == 0 || opts.WindowHeight == 0 {
		opts.WindowWidth, opts.WindowHeight = 1920, 1080
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ChromeLauncher{opts: opts, log: log.WithField("component", "browser")}
}

// allocatorOptions returns flags that hide the usual automation tells
func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(l.opts.UserAgent),
		chromedp.WindowSize(l.opts.WindowWidth, l.opts.WindowHeight),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if l.opts.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}
	if l.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-dev-shm-usage", true))
	}
	if l.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
	}
	return opts
}

// Launch starts a fresh browser process. The process outlives ctx; only the
// startup honours it. Callers must Close the browser.
func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		log:         l.log,
	}

	// The first Run allocates the process, so it must use the bare context
	if err := startWithin(ctx, browserCtx); err != nil {
		b.Close()
		return nil, errs.Wrap(classify(err), "failed to launch browser", err)
	}

	l.log.Debug("Browser launched")
	return b, nil
}

// startWithin runs the first (allocating) action on target while giving up
// early if caller ends.
func startWithin(caller, target context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(target) }()

	select {
	case err := <-done:
		return err
	case <-caller.Done():
		return caller.Err()
	}
}

// classify maps launch failures that carry no type onto network errors
func classify(err error) errs.ErrorType {
	if t := errs.TypeOf(err); t != errs.ErrorTypeUnknown {
		return t
	}
	return errs.ErrorTypeNetwork
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	log         logger.Logger

	mu     sync.Mutex
	pages  []*chromePage
	closed bool
}

func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("browser is closed")
	}
	b.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	p := &chromePage{ctx: tabCtx, cancel: tabCancel}
	p.listenNetwork()

	if err := startWithin(ctx, tabCtx); err != nil {
		tabCancel()
		return nil, errs.Wrap(classify(err), "failed to open page", err)
	}

	if err := p.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
		return err
	})); err != nil {
		b.log.WithError(err).Debug("Failed to install stealth script")
	}

	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

func (b *chromeBrowser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pages := b.pages
	b.pages = nil
	b.mu.Unlock()

	for _, p := range pages {
		_ = p.Close()
	}

	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc

	inflight     atomic.Int32
	lastActivity atomic.Int64
	closeOnce    sync.Once
}

// listenNetwork tracks in-flight requests for Settle
func (p *chromePage) listenNetwork() {
	p.lastActivity.Store(time.Now().UnixNano())
	chromedp.ListenTarget(p.ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			p.inflight.Add(1)
			p.lastActivity.Store(time.Now().UnixNano())
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if p.inflight.Add(-1) < 0 {
				p.inflight.Store(0)
			}
			p.lastActivity.Store(time.Now().UnixNano())
		}
	})
}

// run executes actions on the tab bounded by both ctx and timeout
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrorTypeTimeout, "browser action timed out", err)
	}
	return errs.Wrap(errs.ErrorTypeNetwork, "browser action failed", err)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	p.lastActivity.Store(time.Now().UnixNano())
	return p.run(ctx, 0, chromedp.Navigate(url))
}

func (p *chromePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Settle(ctx context.Context, idle time.Duration) error {
	if idle <= 0 {
		return nil
	}
	tick := idle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		quiet := time.Since(time.Unix(0, p.lastActivity.Load()))
		if p.inflight.Load() == 0 && quiet >= idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, 0, chromedp.Location(&u))
	return u, err
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) ClickButtonWithText(ctx context.Context, text string) (bool, error) {
	var clicked bool
	err := p.run(ctx, 0, chromedp.Evaluate(fmt.Sprintf(clickButtonJS, text), &clicked))
	return clicked, err
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	return p.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			set := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.SameSite != "" {
				set = set.WithSameSite(network.CookieSameSite(c.SameSite))
			}
			if c.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				set = set.WithExpires(&exp)
			}
			if err := set.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *chromePage) Cookies(ctx context.Context) ([]session.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, session.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return cookies, nil
}

func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		_ = chromedp.Cancel(p.ctx)
		p.cancel()
	})
	return nil
}
