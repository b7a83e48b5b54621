// Package browser abstracts the headless browser the scraper drives.
//
// Launcher, Browser and Page are small interfaces so the Instagram logic can
// run against Chrome through chromedp or against the in-memory MockLauncher
// in tests. A Browser belongs to exactly one account scrape; its pages share
// the browser's cookie jar.
package browser

import (
	"context"
	"time"

	"igbatch/pkg/session"
)

// Launcher starts isolated browser instances
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one browser process holding a cookie jar shared by its pages
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// Close releases the process and every page still open. It is safe to
	// call more than once.
	Close() error
}

// Page is a single tab. Pages are not safe for concurrent use; each is
// owned by one task at a time.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor waits until selector matches a visible element
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Settle waits until the network has been quiet for idle, or ctx ends
	Settle(ctx context.Context, idle time.Duration) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	// ClickButtonWithText clicks the first button whose trimmed text equals
	// text and reports whether one was found.
	ClickButtonWithText(ctx context.Context, text string) (bool, error)
	SetCookies(ctx context.Context, cookies []session.Cookie) error
	Cookies(ctx context.Context) ([]session.Cookie, error)
	Close() error
}

// Options configures the Chrome launcher
type Options struct {
	ExecPath     string
	Headless     bool
	NoSandbox    bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
}

// DefaultUserAgent is a realistic desktop Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
