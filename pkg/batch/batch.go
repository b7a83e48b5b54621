package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"igbatch/pkg/auth"
	"igbatch/pkg/config"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/instagram"
	"igbatch/pkg/logger"
	"igbatch/pkg/scraper"
)

// ProfileScraper scrapes one profile. Implementations must honour ctx and
// always return a result.
type ProfileScraper interface {
	ScrapeProfile(ctx context.Context, username string, creds auth.Credentials, opts scraper.Options) scraper.AccountResult
}

// Options tunes a batch run
type Options struct {
	// ConcurrencyLimit is the chunk size: accounts scraped at the same time
	ConcurrencyLimit int
	PostLimit        int
	// TimeThreshold is the recency window in hours
	TimeThreshold int
	BatchSize     int
	MaxPosts      int
	// Timeout bounds each account
	Timeout time.Duration
	// CleanupGrace is how long a timed out account may take to release its
	// browser before the next chunk starts
	CleanupGrace time.Duration
	// Progress receives events while the batch runs
	Progress Listener
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{
		ConcurrencyLimit: 2,
		PostLimit:        5,
		TimeThreshold:    12,
		BatchSize:        3,
		Timeout:          120 * time.Second,
		CleanupGrace:     10 * time.Second,
	}
}

// OptionsFromConfig reads the batch section and scrape tuning of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConcurrencyLimit: cfg.Batch.ConcurrencyLimit,
		PostLimit:        cfg.Scrape.PostLimit,
		TimeThreshold:    cfg.Scrape.TimeThreshold,
		BatchSize:        cfg.Scrape.BatchSize,
		MaxPosts:         cfg.Scrape.MaxPosts,
		Timeout:          cfg.Batch.Timeout,
		CleanupGrace:     cfg.Batch.CleanupGrace,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = d.ConcurrencyLimit
	}
	if o.PostLimit <= 0 {
		o.PostLimit = d.PostLimit
	}
	if o.TimeThreshold <= 0 {
		o.TimeThreshold = d.TimeThreshold
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.CleanupGrace < 0 {
		o.CleanupGrace = 0
	}
	return o
}

func (o Options) scrape() scraper.Options {
	return scraper.Options{
		PostLimit:     o.PostLimit,
		TimeThreshold: o.TimeThreshold,
		BatchSize:     o.BatchSize,
		MaxPosts:      o.MaxPosts,
	}
}

// Report is the aggregate outcome of one batch call
type Report struct {
	ID               string                  `json:"id"`
	Success          bool                    `json:"success"`
	Total            int                     `json:"total"`
	SuccessCount     int                     `json:"successCount"`
	TotalRecentPosts int                     `json:"totalRecentPosts"`
	TimeThreshold    int                     `json:"timeThreshold"`
	Timeframe        string                  `json:"timeframe"`
	Results          []scraper.AccountResult `json:"results"`
	Performance      Performance             `json:"performance"`
	StartedAt        time.Time               `json:"startedAt"`
	FinishedAt       time.Time               `json:"finishedAt"`
}

// Performance holds the timing of a batch
type Performance struct {
	TotalDurationMs  int64           `json:"totalDurationMs"`
	ConcurrencyLimit int             `json:"concurrencyLimit"`
	Chunks           []ChunkMetrics  `json:"chunks"`
	Accounts         []AccountTiming `json:"accounts"`
}

// ChunkMetrics describes one chunk of concurrently scraped accounts
type ChunkMetrics struct {
	Index        int      `json:"index"`
	Usernames    []string `json:"usernames"`
	DurationMs   int64    `json:"durationMs"`
	SuccessCount int      `json:"successCount"`
}

// AccountTiming is the wall clock time spent on one account
type AccountTiming struct {
	Username   string `json:"username"`
	DurationMs int64  `json:"durationMs"`
	Success    bool   `json:"success"`
	TimedOut   bool   `json:"timedOut,omitempty"`
}

// Runner scrapes many accounts with bounded concurrency. One Runner may
// serve concurrent batch calls; every call builds its own report.
type Runner struct {
	scraper ProfileScraper
	logger  logger.Logger
	now     func() time.Time
}

// New creates a runner over s
func New(s ProfileScraper, log logger.Logger) *Runner {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Runner{scraper: s, logger: log, now: time.Now}
}

// ScrapeMultipleAccounts scrapes usernames in chunks of
// opts.ConcurrencyLimit. Chunks run one after another; accounts within a
// chunk run concurrently. The report holds exactly one result per username,
// in input order. Only configuration problems are returned as errors.
func (r *Runner) ScrapeMultipleAccounts(ctx context.Context, usernames []string, creds auth.Credentials, opts Options) (*Report, error) {
	if len(usernames) == 0 {
		return nil, errs.New(errs.ErrorTypeConfig, "At least one username is required")
	}
	if err := creds.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, "Valid Instagram credentials are required", err)
	}
	opts = opts.normalized()

	b := &run{
		Runner:  r,
		id:      uuid.NewString(),
		creds:   creds,
		opts:    opts,
		total:   len(usernames),
		results: make([]scraper.AccountResult, len(usernames)),
		timings: make([]AccountTiming, len(usernames)),
		emit:    opts.Progress,
	}
	if b.emit == nil {
		b.emit = func(Event) {}
	}
	return b.execute(ctx, usernames), nil
}

type run struct {
	*Runner
	id      string
	creds   auth.Credentials
	opts    Options
	total   int
	results []scraper.AccountResult
	timings []AccountTiming
	emit    Listener

	gateMu   sync.Mutex
	authFail *scraper.AccountResult
}

func (b *run) execute(ctx context.Context, usernames []string) *Report {
	started := b.now()
	chunks := split(usernames, b.opts.ConcurrencyLimit)
	log := b.logger.WithFields(map[string]interface{}{"batch_id": b.id, "identity": b.creds.Username})

	logger.LogComponentStart(log, "batch", map[string]interface{}{
		"accounts":    len(usernames),
		"chunks":      len(chunks),
		"concurrency": b.opts.ConcurrencyLimit,
		"timeout_ms":  b.opts.Timeout.Milliseconds(),
	})
	b.emit(Event{Type: EventBatchStarted, BatchID: b.id, Chunks: len(chunks), Total: b.total, Time: started})

	metrics := make([]ChunkMetrics, 0, len(chunks))
	offset := 0
	for ci, chunk := range chunks {
		chunkStart := b.now()
		logger.LogChunk(log, ci+1, len(chunks), chunk)
		b.emit(Event{Type: EventChunkStarted, BatchID: b.id, Chunk: ci + 1, Chunks: len(chunks), Total: b.total, Time: chunkStart})

		var g errgroup.Group
		for j, username := range chunk {
			idx := offset + j
			g.Go(func() error {
				b.results[idx] = b.account(ctx, log, idx, username)
				return nil
			})
		}
		_ = g.Wait()

		cm := ChunkMetrics{
			Index:      ci + 1,
			Usernames:  chunk,
			DurationMs: b.now().Sub(chunkStart).Milliseconds(),
		}
		for j := range chunk {
			if b.results[offset+j].Success {
				cm.SuccessCount++
			}
		}
		metrics = append(metrics, cm)
		b.emit(Event{Type: EventChunkFinished, BatchID: b.id, Chunk: ci + 1, Chunks: len(chunks), Total: b.total, Time: b.now()})
		offset += len(chunk)
	}

	report := b.report(started, metrics)
	logger.LogMetrics(log, "batch", map[string]interface{}{
		"total":              report.Total,
		"success_count":      report.SuccessCount,
		"total_recent_posts": report.TotalRecentPosts,
		"duration_ms":        report.Performance.TotalDurationMs,
	})
	b.emit(Event{Type: EventBatchFinished, BatchID: b.id, Chunks: len(chunks), Total: b.total, Report: report, Time: report.FinishedAt})
	return report
}

// account produces the result of one username. It returns once the scrape
// finished, or once the timeout elapsed and the cleanup grace was spent.
func (b *run) account(ctx context.Context, log logger.Logger, idx int, username string) scraper.AccountResult {
	start := b.now()
	b.emit(Event{Type: EventAccountStarted, BatchID: b.id, Index: idx, Username: username, Total: b.total, Time: start})

	result, timedOut := b.scrape(ctx, log, username)
	result.Username = username
	if result.Posts == nil {
		result.Posts = []instagram.Post{}
	}
	if result.ErrorType == errs.ErrorTypeAuth {
		b.tripGate(result)
	}

	elapsed := b.now().Sub(start)
	b.timings[idx] = AccountTiming{
		Username:   username,
		DurationMs: elapsed.Milliseconds(),
		Success:    result.Success,
		TimedOut:   timedOut,
	}
	logger.LogAccountResult(log, username, result.Success, result.RecentPostsCount, string(result.ErrorType), elapsed)
	b.emit(Event{Type: EventAccountFinished, BatchID: b.id, Index: idx, Username: username, Total: b.total, Result: &result, Time: b.now()})
	return result
}

func (b *run) scrape(ctx context.Context, log logger.Logger, username string) (scraper.AccountResult, bool) {
	if gated := b.gate(); gated != nil {
		return scraper.Failed(username, errs.ErrorTypeAuth, gated.Message, gated.Error), false
	}
	if err := ctx.Err(); err != nil {
		return cancelled(username, err), false
	}

	actx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	done := make(chan scraper.AccountResult, 1)
	go func() {
		done <- b.scraper.ScrapeProfile(actx, username, b.creds, b.opts.scrape())
	}()

	select {
	case result := <-done:
		if result.ErrorType == errs.ErrorTypeTimeout && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return b.timeout(username), true
		}
		return result, false
	case <-actx.Done():
	}

	cancel()
	b.awaitCleanup(log.WithField("username", username), done)
	if ctx.Err() != nil {
		return cancelled(username, ctx.Err()), false
	}
	return b.timeout(username), true
}

func (b *run) timeout(username string) scraper.AccountResult {
	msg := fmt.Sprintf("Timeout scraping %s after %dms", username, b.opts.Timeout.Milliseconds())
	return scraper.Failed(username, errs.ErrorTypeTimeout, msg, msg)
}

func cancelled(username string, err error) scraper.AccountResult {
	return scraper.Failed(username, errs.ErrorTypeTimeout, fmt.Sprintf("Batch cancelled before %s finished", username), err.Error())
}

// awaitCleanup gives a cancelled scrape the grace period to close its
// browser
func (b *run) awaitCleanup(log logger.Logger, done <-chan scraper.AccountResult) {
	if b.opts.CleanupGrace <= 0 {
		return
	}
	timer := time.NewTimer(b.opts.CleanupGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.WithField("grace_ms", b.opts.CleanupGrace.Milliseconds()).Warn("Timed out scrape still running after cleanup grace")
	}
}

// gate returns the first authentication failure of this run, if any. Every
// account shares one identity, so later accounts fail the same way.
func (b *run) gate() *scraper.AccountResult {
	b.gateMu.Lock()
	defer b.gateMu.Unlock()
	return b.authFail
}

func (b *run) tripGate(result scraper.AccountResult) {
	b.gateMu.Lock()
	defer b.gateMu.Unlock()
	if b.authFail == nil {
		b.authFail = &result
	}
}

func (b *run) report(started time.Time, chunks []ChunkMetrics) *Report {
	finished := b.now()
	report := &Report{
		ID:            b.id,
		Total:         b.total,
		TimeThreshold: b.opts.TimeThreshold,
		Timeframe:     fmt.Sprintf("last %d hours", b.opts.TimeThreshold),
		Results:       b.results,
		StartedAt:     started,
		FinishedAt:    finished,
		Performance: Performance{
			TotalDurationMs:  finished.Sub(started).Milliseconds(),
			ConcurrencyLimit: b.opts.ConcurrencyLimit,
			Chunks:           chunks,
			Accounts:         b.timings,
		},
	}
	for _, r := range b.results {
		if r.Success {
			report.SuccessCount++
		}
		report.TotalRecentPosts += len(r.Posts)
	}
	report.Success = report.SuccessCount > 0
	return report
}

// split partitions usernames into consecutive chunks of at most size
func split(usernames []string, size int) [][]string {
	chunks := make([][]string, 0, (len(usernames)+size-1)/size)
	for i := 0; i < len(usernames); i += size {
		chunks = append(chunks, usernames[i:min(i+size, len(usernames))])
	}
	return chunks
}
