package instagram

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"igbatch/pkg/auth"
	"igbatch/pkg/browser"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/logger"
	"igbatch/pkg/session"
)

// AuthConfig tunes the login flow
type AuthConfig struct {
	ProbeTimeout time.Duration
	LoginTimeout time.Duration
	SettleTime   time.Duration
	PollInterval time.Duration
}

// DefaultAuthConfig returns the timings used against the live site
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		ProbeTimeout: 8 * time.Second,
		LoginTimeout: 20 * time.Second,
		SettleTime:   2 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// Authenticator makes a page logged in, reusing a persisted session when
// it still works and logging in interactively otherwise.
type Authenticator struct {
	sessions *session.Store
	cfg      AuthConfig
	log      logger.Logger
	now      func() time.Time
}

// NewAuthenticator creates an authenticator over the session store
func NewAuthenticator(sessions *session.Store, cfg AuthConfig, log logger.Logger) *Authenticator {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultAuthConfig().PollInterval
	}
	return &Authenticator{sessions: sessions, cfg: cfg, log: log, now: time.Now}
}

// EnsureAuthenticated leaves page logged in as creds.Username. Rejected
// credentials return an ErrorTypeAuth error, which callers must not retry.
func (a *Authenticator) EnsureAuthenticated(ctx context.Context, page browser.Page, creds auth.Credentials) error {
	if err := creds.Validate(); err != nil {
		return errs.Wrap(errs.ErrorTypeConfig, "Valid Instagram credentials are required", err)
	}
	log := a.log.WithField("identity", creds.Username)
	started := a.now()

	ok, err := a.restore(ctx, page, creds.Username)
	if err != nil {
		return err
	}
	if ok {
		log.Debug("Reused saved session")
		return nil
	}

	lock := a.sessions.LoginLock(creds.Username)
	if err := lock.Acquire(ctx, 1); err != nil {
		return errs.Wrap(errs.ErrorTypeTimeout, "gave up waiting for a concurrent login", err)
	}
	defer lock.Release(1)

	// Another scrape for this identity may have logged in since we started
	if state, found := a.sessions.Load(creds.Username); found && !state.SavedAt.Before(started) {
		ok, err := a.restore(ctx, page, creds.Username)
		if err != nil {
			return err
		}
		if ok {
			log.Debug("Reused session saved by a concurrent login")
			return nil
		}
	}

	return a.login(ctx, page, creds, log)
}

// restore injects the saved cookies and probes for the logged-in marker.
// It reports false when there is nothing to restore or the probe fails.
func (a *Authenticator) restore(ctx context.Context, page browser.Page, identity string) (bool, error) {
	state, ok := a.sessions.Load(identity)
	if !ok {
		return false, nil
	}
	cookies := state.Live(a.now())
	if len(cookies) == 0 {
		return false, nil
	}

	if err := page.SetCookies(ctx, cookies); err != nil {
		return false, err
	}
	if err := page.Navigate(ctx, HomeURL()); err != nil {
		return false, err
	}
	if err := page.WaitFor(ctx, SelectorLoggedIn, a.cfg.ProbeTimeout); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		a.log.WithField("identity", identity).Info("Saved session is stale, logging in again")
		return false, nil
	}
	return true, nil
}

func (a *Authenticator) login(ctx context.Context, page browser.Page, creds auth.Credentials, log logger.Logger) error {
	log.Info("Logging in")

	if err := page.Navigate(ctx, LoginURL()); err != nil {
		return err
	}
	if err := page.WaitFor(ctx, SelectorUsernameInput, a.cfg.LoginTimeout); err != nil {
		return err
	}
	if err := page.Type(ctx, SelectorUsernameInput, creds.Username); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, "failed to fill the login form", err)
	}
	if err := page.Type(ctx, SelectorPasswordInput, creds.Password); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, "failed to fill the login form", err)
	}
	if err := page.Click(ctx, SelectorSubmit); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, "failed to submit the login form", err)
	}

	if err := a.awaitOutcome(ctx, page); err != nil {
		return err
	}

	a.dismissInterstitials(ctx, page)

	cookies, err := page.Cookies(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not read cookies after login")
		return nil
	}
	if err := a.sessions.Save(creds.Username, cookies); err != nil {
		log.WithError(err).Warn("Failed to persist session")
	}
	log.Info("Login succeeded")
	return nil
}

// awaitOutcome polls the page until the login either succeeded or showed
// an inline error. Transient read errors during the post-submit navigation
// are ignored until the login timeout.
func (a *Authenticator) awaitOutcome(ctx context.Context, page browser.Page) error {
	deadline := a.now().Add(a.cfg.LoginTimeout)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if html, err := page.HTML(ctx); err == nil {
			if msg, failed := loginError(html); failed {
				return errs.New(errs.ErrorTypeAuth, "Instagram login failed: "+msg)
			}
			if loggedIn(html) {
				return nil
			}
		}
		if !a.now().Before(deadline) {
			return errs.New(errs.ErrorTypeTimeout, "timed out waiting for login to complete")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Authenticator) dismissInterstitials(ctx context.Context, page browser.Page) {
	for round := 0; round < 2; round++ {
		if !clickAny(ctx, page, dismissTexts) {
			return
		}
		_ = page.Settle(ctx, a.cfg.SettleTime)
	}
}

func clickAny(ctx context.Context, page browser.Page, texts []string) bool {
	for _, text := range texts {
		clicked, err := page.ClickButtonWithText(ctx, text)
		if err == nil && clicked {
			return true
		}
	}
	return false
}

// loggedIn treats the save-login-info interstitial as success; it is only
// shown after the credentials were accepted.
func loggedIn(html string) bool {
	doc, err := parse(html)
	if err != nil {
		return false
	}
	if doc.Find(SelectorLoggedIn).Length() > 0 {
		return true
	}
	found := false
	doc.Find("button, div[role=\"button\"]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		for _, t := range dismissTexts {
			if text == t {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func loginError(html string) (string, bool) {
	doc, err := parse(html)
	if err != nil {
		return "", false
	}
	sel := doc.Find(SelectorLoginError).First()
	if sel.Length() == 0 {
		return "", false
	}
	msg := strings.TrimSpace(sel.Text())
	if msg == "" {
		msg = "credentials were rejected"
	}
	return msg, true
}

func parse(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
