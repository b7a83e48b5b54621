package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"igbatch/internal/pagepool"
	"igbatch/pkg/auth"
	"igbatch/pkg/browser"
	"igbatch/pkg/config"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/instagram"
	"igbatch/pkg/logger"
	"igbatch/pkg/ratelimit"
	"igbatch/pkg/recency"
	"igbatch/pkg/retry"
	"igbatch/pkg/session"
)

// Options tunes one profile scrape
type Options struct {
	// PostLimit is how many post URLs are read from the profile page
	PostLimit int
	// TimeThreshold is the recency window in hours
	TimeThreshold int
	// BatchSize is how many posts are extracted concurrently
	BatchSize int
	// MaxPosts caps the returned posts; zero means no cap
	MaxPosts int
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{PostLimit: 5, TimeThreshold: 12, BatchSize: 3}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.PostLimit <= 0 {
		o.PostLimit = d.PostLimit
	}
	if o.TimeThreshold <= 0 {
		o.TimeThreshold = d.TimeThreshold
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	return o
}

// Metrics describes the work done for one profile
type Metrics struct {
	DurationMs      int64 `json:"durationMs"`
	LoginAttempts   int   `json:"loginAttempts"`
	URLsFound       int   `json:"urlsFound"`
	PostsExamined   int   `json:"postsExamined"`
	BatchesIssued   int   `json:"batchesIssued"`
	EarlyTerminated bool  `json:"earlyTerminated"`
}

// AccountResult is the outcome of scraping one profile. It is built once
// and never modified afterwards.
type AccountResult struct {
	Success          bool             `json:"success"`
	Username         string           `json:"username"`
	Posts            []instagram.Post `json:"posts"`
	RecentPostsCount int              `json:"recentPostsCount"`
	Message          string           `json:"message,omitempty"`
	Error            string           `json:"error,omitempty"`
	ErrorType        errs.ErrorType   `json:"errorType,omitempty"`
	Metrics          *Metrics         `json:"metrics,omitempty"`
}

// Failed builds a failure result without post data
func Failed(username string, errorType errs.ErrorType, message, errText string) AccountResult {
	return AccountResult{
		Username:  username,
		Posts:     []instagram.Post{},
		Message:   message,
		Error:     errText,
		ErrorType: errorType,
	}
}

// Deps are the collaborators of a Scraper
type Deps struct {
	Launcher      browser.Launcher
	Authenticator Authenticator
	Crawler       Crawler
	Extractor     pagepool.Extractor
	// Limiter paces navigations per login identity; nil disables pacing
	Limiter *ratelimit.Keyed
	Retry   *retry.Config
	// PinnedAllowance is how many leading posts are kept regardless of age.
	// Nil means recency.DefaultPinnedAllowance; zero disables the allowance.
	PinnedAllowance *int
	// MaxPagesPerBrowser bounds the pages open in one browser
	MaxPagesPerBrowser int
	Logger             logger.Logger
}

// Scraper scrapes single profiles. It is safe for concurrent use; every
// call launches its own browser.
type Scraper struct {
	launcher  browser.Launcher
	auth      Authenticator
	crawler   Crawler
	extractor pagepool.Extractor
	limiter   *ratelimit.Keyed
	retry     *retry.Config
	pinned    int
	maxPages  int
	logger    logger.Logger
	now       func() time.Time
}

// New creates a scraper from its collaborators
func New(d Deps) *Scraper {
	if d.Logger == nil {
		d.Logger = logger.GetLogger()
	}
	if d.Retry == nil {
		d.Retry = retry.DefaultConfig()
	}
	if d.MaxPagesPerBrowser <= 0 {
		d.MaxPagesPerBrowser = 6
	}
	pinned := recency.DefaultPinnedAllowance
	if d.PinnedAllowance != nil && *d.PinnedAllowance >= 0 {
		pinned = *d.PinnedAllowance
	}
	return &Scraper{
		launcher:  d.Launcher,
		auth:      d.Authenticator,
		crawler:   d.Crawler,
		extractor: d.Extractor,
		limiter:   d.Limiter,
		retry:     d.Retry,
		pinned:    pinned,
		maxPages:  d.MaxPagesPerBrowser,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// NewFromConfig wires the Instagram components from configuration
func NewFromConfig(cfg *config.Config, launcher browser.Launcher, sessions *session.Store, log logger.Logger) *Scraper {
	if log == nil {
		log = logger.GetLogger()
	}
	limiter := ratelimit.NewKeyed(cfg.RateLimit.NavigationsPerMinute, cfg.RateLimit.BurstSize)
	pinned := cfg.Scrape.PinnedAllowance
	limiter.OnWait(func(key string, waited time.Duration) {
		logger.LogRateLimit(log, key, waited)
	})

	return New(Deps{
		Launcher: launcher,
		Authenticator: instagram.NewAuthenticator(sessions, instagram.AuthConfig{
			ProbeTimeout: cfg.Browser.ProbeTimeout,
			LoginTimeout: cfg.Browser.LoginTimeout,
			SettleTime:   cfg.Browser.SettleTime,
		}, log),
		Crawler:            instagram.NewCrawler(cfg.Browser.ProbeTimeout, cfg.Browser.SettleTime, log),
		Extractor:          instagram.NewExtractor(cfg.Browser.NavigationTimeout, cfg.Browser.SettleTime, log),
		Limiter:            limiter,
		Retry:              retry.FromSettings(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, log),
		PinnedAllowance:    &pinned,
		MaxPagesPerBrowser: cfg.Browser.MaxPagesPerBrowser,
		Logger:             log,
	})
}

// ScrapeProfile returns the recent posts of username. The browser it
// launches is closed before it returns, whatever the outcome.
func (s *Scraper) ScrapeProfile(ctx context.Context, username string, creds auth.Credentials, opts Options) (result AccountResult) {
	opts = opts.normalized()
	start := s.now()
	metrics := &Metrics{}
	log := s.logger.WithFields(map[string]interface{}{"username": username, "identity": creds.Username})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Scrape panicked")
			result = s.failure(username, fmt.Errorf("unexpected failure: %v", r))
		}
		metrics.DurationMs = s.now().Sub(start).Milliseconds()
		result.Metrics = metrics
	}()

	b, err := s.launcher.Launch(ctx)
	if err != nil {
		return s.failure(username, errs.Wrap(errs.ErrorTypeNetwork, "failed to launch browser", err))
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.WithError(err).Warn("Failed to close browser")
		}
	}()

	budget := semaphore.NewWeighted(int64(s.maxPages))
	if err := budget.Acquire(ctx, 1); err != nil {
		return s.failure(username, err)
	}
	raw, err := b.NewPage(ctx)
	if err != nil {
		budget.Release(1)
		return s.failure(username, errs.Wrap(errs.ErrorTypeNetwork, "failed to open page", err))
	}
	// The main page hands its budget unit to the detail pool once the
	// profile has been crawled.
	mainOpen := true
	closeMain := func() {
		if mainOpen {
			mainOpen = false
			_ = raw.Close()
			budget.Release(1)
		}
	}
	defer closeMain()
	page := s.paced(raw, creds.Username)

	err = retry.Do(ctx, func(ctx context.Context) error {
		metrics.LoginAttempts++
		return s.auth.EnsureAuthenticated(ctx, page, creds)
	}, s.retry)
	if err != nil {
		return s.failure(username, err)
	}

	urls, err := s.crawler.ListPostURLs(ctx, page, username, opts.PostLimit)
	if err != nil {
		return s.failure(username, err)
	}
	metrics.URLsFound = len(urls)
	closeMain()
	if len(urls) == 0 {
		return AccountResult{
			Success:  true,
			Username: username,
			Posts:    []instagram.Post{},
			Message:  fmt.Sprintf("No posts found for %s", username),
		}
	}

	pool, err := pagepool.New(ctx, b, s.extractor, pagepool.Options{
		Size:   min(opts.BatchSize, len(urls)),
		Budget: budget,
		Wrap:   func(p browser.Page) browser.Page { return s.paced(p, creds.Username) },
	}, log)
	if err != nil {
		return s.failure(username, errs.Wrap(errs.ErrorTypeNetwork, "failed to open detail pages", err))
	}
	defer pool.Stop()

	window := recency.NewWindow(recency.Hours(opts.TimeThreshold), s.pinned, s.now())
	for i := 0; i < len(urls); i += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return s.failure(username, err)
		}
		end := min(i+opts.BatchSize, len(urls))
		batch := pool.Run(ctx, urls[i:end])
		metrics.BatchesIssued++

		if window.Add(batch) {
			metrics.EarlyTerminated = end < len(urls)
			log.WithField("examined", window.Examined()).Debug("Older posts reached, stopping")
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return s.failure(username, err)
	}
	metrics.PostsExamined = window.Examined()

	posts := window.Results()
	if opts.MaxPosts > 0 && len(posts) > opts.MaxPosts {
		posts = posts[:opts.MaxPosts]
	}

	return AccountResult{
		Success:          true,
		Username:         username,
		Posts:            posts,
		RecentPostsCount: len(posts),
		Message:          fmt.Sprintf("Found %d posts within the last %d hours", len(posts), opts.TimeThreshold),
	}
}

func (s *Scraper) paced(page browser.Page, identity string) browser.Page {
	if s.limiter == nil {
		return page
	}
	return browser.Paced(page, s.limiter.For(identity))
}

// failure converts err into a failed result. A profile without posts is
// not a failure.
func (s *Scraper) failure(username string, err error) AccountResult {
	errorType, message := Classify(username, err)
	if errorType == errs.ErrorTypeNoPosts {
		return AccountResult{Success: true, Username: username, Posts: []instagram.Post{}, Message: message}
	}
	s.logger.WithError(err).WithFields(map[string]interface{}{
		"username":   username,
		"error_type": string(errorType),
	}).Debug("Profile scrape failed")
	return Failed(username, errorType, message, ErrorText(err))
}

// Classify maps err to an error type and a human readable message. Typed
// errors keep their type; anything else is classified by keywords in its
// text.
func Classify(username string, err error) (errs.ErrorType, string) {
	errorType := errs.TypeOf(err)
	if errorType == errs.ErrorTypeUnknown {
		errorType = classifyText(err.Error())
	}

	switch errorType {
	case errs.ErrorTypePrivate:
		return errorType, fmt.Sprintf("Account %s is private", username)
	case errs.ErrorTypeNotFound:
		return errorType, fmt.Sprintf("Account %s not found", username)
	case errs.ErrorTypeNoPosts:
		return errorType, fmt.Sprintf("No posts found for %s", username)
	case errs.ErrorTypeUnknownStatus:
		return errorType, fmt.Sprintf("Could not determine the status of account %s", username)
	case errs.ErrorTypeTimeout:
		return errorType, fmt.Sprintf("Timed out scraping %s", username)
	case errs.ErrorTypeAuth:
		return errorType, "Instagram authentication failed"
	case errs.ErrorTypeConfig:
		return errorType, "Scraper is not configured correctly"
	case errs.ErrorTypeRateLimit:
		return errorType, fmt.Sprintf("Rate limited while scraping %s", username)
	case errs.ErrorTypeNetwork:
		return errorType, fmt.Sprintf("Network error while scraping %s", username)
	default:
		return errs.ErrorTypeUnknown, fmt.Sprintf("Failed to scrape %s", username)
	}
}

func classifyText(text string) errs.ErrorType {
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, "private"):
		return errs.ErrorTypePrivate
	case strings.Contains(text, "not found"), strings.Contains(text, "isn't available"), strings.Contains(text, "not available"):
		return errs.ErrorTypeNotFound
	case strings.Contains(text, "no posts"):
		return errs.ErrorTypeNoPosts
	case strings.Contains(text, "timeout"), strings.Contains(text, "timed out"), strings.Contains(text, "deadline"):
		return errs.ErrorTypeTimeout
	default:
		return errs.ErrorTypeUnknown
	}
}

// ErrorText is the diagnostic text stored in AccountResult.Error. A
// classified error without a cause contributes just its message.
func ErrorText(err error) string {
	var classified *errs.Error
	if errors.As(err, &classified) && classified.Err == nil {
		return classified.Message
	}
	return err.Error()
}
