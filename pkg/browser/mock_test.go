package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/session"
)

func launchPage(t *testing.T, site *MockSite) (*MockLauncher, Browser, Page) {
	t.Helper()
	l := NewMockLauncher(site)
	b, err := l.Launch(context.Background())
	require.NoError(t, err)
	p, err := b.NewPage(context.Background())
	require.NoError(t, err)
	return l, b, p
}

func TestMockNavigateServesRoutes(t *testing.T) {
	site := NewMockSite()
	site.Route("https://example.test/a", `<html><body><div id="x">hi</div></body></html>`)
	_, _, p := launchPage(t, site)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, "https://example.test/a"))
	html, err := p.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `id="x"`)

	assert.NoError(t, p.WaitFor(ctx, "#x", time.Second))
	err = p.WaitFor(ctx, "#missing", time.Second)
	assert.True(t, errs.Is(err, errs.ErrorTypeTimeout))

	u, err := p.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/a", u)
	assert.Equal(t, 1, site.NavigationCount("example.test"))
}

func TestMockHandlerSeesCookies(t *testing.T) {
	site := NewMockSite()
	site.Handle(func(url string, cookies []session.Cookie) (string, bool) {
		for _, c := range cookies {
			if c.Name == "sessionid" {
				return "<html><body>logged in</body></html>", true
			}
		}
		return "", false
	})
	_, _, p := launchPage(t, site)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, "https://example.test/"))
	html, _ := p.HTML(ctx)
	assert.NotContains(t, html, "logged in")

	require.NoError(t, p.SetCookies(ctx, []session.Cookie{{Name: "sessionid", Value: "v"}}))
	require.NoError(t, p.Navigate(ctx, "https://example.test/"))
	html, _ = p.HTML(ctx)
	assert.Contains(t, html, "logged in")
}

func TestMockClickEffects(t *testing.T) {
	site := NewMockSite()
	site.Route("https://example.test/form", `<html><body><input name="q"><button type="submit">Go</button><button>Not Now</button></body></html>`)
	site.OnClick(`button[type="submit"]`, func(p *MockPage) {
		p.SetHTML("<html><body>submitted " + p.Value(`input[name="q"]`) + "</body></html>")
	})
	_, _, p := launchPage(t, site)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, "https://example.test/form"))
	clicked, err := p.ClickButtonWithText(ctx, "Not Now")
	require.NoError(t, err)
	assert.True(t, clicked)
	clicked, err = p.ClickButtonWithText(ctx, "Save Info")
	require.NoError(t, err)
	assert.False(t, clicked)

	require.NoError(t, p.Type(ctx, `input[name="q"]`, "cats"))
	require.NoError(t, p.Click(ctx, `button[type="submit"]`))
	html, _ := p.HTML(ctx)
	assert.Contains(t, html, "submitted cats")
	assert.Error(t, p.Click(ctx, "#nope"))
	assert.Equal(t, []string{"Not Now", `button[type="submit"]`}, site.Clicked())
}

func TestMockNavigationDelayHonoursContext(t *testing.T) {
	site := NewMockSite()
	site.Delay(func(string) time.Duration { return time.Hour })
	_, _, p := launchPage(t, site)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Navigate(ctx, "https://example.test/slow"), context.DeadlineExceeded)
}

func TestMockNavigationFailure(t *testing.T) {
	site := NewMockSite()
	site.FailNavigation("https://example.test/down", errors.New("connection reset"))
	_, _, p := launchPage(t, site)

	err := p.Navigate(context.Background(), "https://example.test/down")
	assert.True(t, errs.Is(err, errs.ErrorTypeNetwork))
}

func TestMockCloseReleasesPages(t *testing.T) {
	l, b, p := launchPage(t, NewMockSite())
	assert.False(t, l.AllClosed())

	require.NoError(t, b.Close())
	assert.True(t, l.AllClosed())
	assert.Error(t, p.Navigate(context.Background(), "https://example.test/"))
	_, err := b.NewPage(context.Background())
	assert.Error(t, err)
}

func TestMockLaunchFailure(t *testing.T) {
	l := NewMockLauncher(NewMockSite())
	l.FailLaunch(errors.New("no chrome"))
	_, err := l.Launch(context.Background())
	assert.Error(t, err)
}

func TestChromeLauncherOptions(t *testing.T) {
	l := NewChromeLauncher(Options{Headless: true, NoSandbox: true, ExecPath: "/opt/chrome"}, nil)
	assert.Equal(t, DefaultUserAgent, l.opts.UserAgent)
	assert.Equal(t, 1920, l.opts.WindowWidth)
	assert.Greater(t, len(l.allocatorOptions()), 10)
}

type countingWaiter struct {
	calls int
	err   error
}

func (w *countingWaiter) Wait(ctx context.Context) error {
	w.calls++
	return w.err
}

func TestPacedPageWaitsBeforeNavigating(t *testing.T) {
	site := NewMockSite()
	b, err := NewMockLauncher(site).Launch(context.Background())
	require.NoError(t, err)
	raw, err := b.NewPage(context.Background())
	require.NoError(t, err)

	waiter := &countingWaiter{}
	page := Paced(raw, waiter)
	require.NoError(t, page.Navigate(context.Background(), "https://example.test/a"))
	require.NoError(t, page.Navigate(context.Background(), "https://example.test/b"))
	assert.Equal(t, 2, waiter.calls)

	waiter.err = errors.New("burst exceeded")
	err = page.Navigate(context.Background(), "https://example.test/c")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeRateLimit))
	assert.Equal(t, 2, len(site.Navigations()), "a refused navigation never reaches the page")

	assert.Same(t, raw, Paced(raw, nil))
}

func TestPacedPageReservesSlot(t *testing.T) {
	site := NewMockSite()
	_, _, raw := launchPage(t, site)
	waiter := &countingWaiter{}
	page := Paced(raw, waiter)

	require.NoError(t, Pace(context.Background(), page))
	require.NoError(t, Pace(context.Background(), page), "a reserved slot is kept")
	require.NoError(t, page.Navigate(context.Background(), "https://example.test/a"))
	assert.Equal(t, 1, waiter.calls)

	require.NoError(t, page.Navigate(context.Background(), "https://example.test/b"))
	assert.Equal(t, 2, waiter.calls)

	assert.NoError(t, Pace(context.Background(), raw), "unpaced pages need no slot")
}

func TestPacedPageWaitsOutDeadline(t *testing.T) {
	site := NewMockSite()
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, limiter.Allow())
	_, _, raw := launchPage(t, site)
	page := Paced(raw, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := page.Navigate(ctx, "https://example.test/a")

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errs.Is(err, errs.ErrorTypeRateLimit))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Empty(t, site.Navigations())
}
