package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChromeLauncherDefaults(t *testing.T) {
	l := NewChromeLauncher(Options{Headless: true}, nil)
	assert.Equal(t, DefaultUserAgent, l.opts.UserAgent)
	assert.Equal(t, 1920, l.opts.WindowWidth)
	assert.Equal(t, 1080, l.opts.WindowHeight)

	l = NewChromeLauncher(Options{UserAgent: "custom", WindowWidth: 800, WindowHeight: 600}, nil)
	assert.Equal(t, "custom", l.opts.UserAgent)
	assert.Equal(t, 800, l.opts.WindowWidth)
}

func TestChromeSmoke(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a real browser")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := NewChromeLauncher(Options{Headless: true, NoSandbox: true}, nil).Launch(ctx)
	if err != nil {
		t.Skipf("Skipping chromedp smoke test (environment does not support chromedp): %v", err)
	}
	defer b.Close()

	page, err := b.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, "data:text/html,<html><body><p id=greeting>hello</p></body></html>"))

	html, err := page.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "hello")

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "closing twice is fine")
}
