// Package pagepool runs post detail extraction on a fixed set of browser
// pages, one worker goroutine per page.
package pagepool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"igbatch/pkg/browser"
	"igbatch/pkg/instagram"
	"igbatch/pkg/logger"
)

// Job is one post URL and its position in the batch
type Job struct {
	Index int
	URL   string
	batch uint64
}

// Result is the extraction outcome of a job
type Result struct {
	Job      Job
	Post     instagram.Post
	WorkerID int
	Duration time.Duration
}

// Extractor reads one post page
type Extractor interface {
	Extract(ctx context.Context, page browser.Page, postURL string) instagram.Post
}

// Pool owns its pages. Batches are run one at a time through Run.
type Pool struct {
	pages       []browser.Page
	budget      *semaphore.Weighted
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	runMu       sync.Mutex
	batches     uint64
	ctx         context.Context
	cancel      context.CancelFunc
	extractor   Extractor
	wrap        func(browser.Page) browser.Page
	logger      logger.Logger
	stopOnce    sync.Once
}

// Options configures a pool
type Options struct {
	// Size is the number of pages wanted
	Size int
	// Budget bounds the pages open in the browser at once. Each pool page
	// holds one unit until Stop. The first page waits for a unit; further
	// pages are only opened while units are free.
	Budget *semaphore.Weighted
	// Wrap decorates every page, e.g. with navigation pacing
	Wrap func(browser.Page) browser.Page
}

// New opens up to opts.Size pages in b and starts their workers. The pool
// gets at least one page or fails.
func New(ctx context.Context, b browser.Browser, extractor Extractor, opts Options, log logger.Logger) (*Pool, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.Budget == nil {
		opts.Budget = semaphore.NewWeighted(int64(opts.Size))
	}
	if opts.Wrap == nil {
		opts.Wrap = func(p browser.Page) browser.Page { return p }
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		budget:      opts.Budget,
		jobQueue:    make(chan Job, opts.Size*2),
		resultQueue: make(chan Result, opts.Size),
		ctx:         poolCtx,
		cancel:      cancel,
		extractor:   extractor,
		wrap:        opts.Wrap,
		logger:      log,
	}

	for i := 0; i < opts.Size; i++ {
		if i == 0 {
			if err := p.budget.Acquire(ctx, 1); err != nil {
				cancel()
				return nil, err
			}
		} else if !p.budget.TryAcquire(1) {
			break
		}

		page, err := b.NewPage(ctx)
		if err != nil {
			p.budget.Release(1)
			p.closePages()
			cancel()
			return nil, fmt.Errorf("failed to open pool page: %w", err)
		}
		p.pages = append(p.pages, p.wrap(page))
	}

	p.logger.DebugWithFields("Starting page pool", map[string]interface{}{
		"pages":     len(p.pages),
		"requested": opts.Size,
	})
	for i := range p.pages {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p, nil
}

// Size returns the number of pages in the pool
func (p *Pool) Size() int {
	return len(p.pages)
}

// Run extracts every URL concurrently and returns the posts in URL order.
// Extraction itself runs under the context the pool was created with; a
// job that cannot finish because ctx ended yields a post carrying the
// context error.
func (p *Pool) Run(ctx context.Context, urls []string) []instagram.Post {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.batches++
	batch := p.batches
	posts := make([]instagram.Post, len(urls))
	done := make([]bool, len(urls))

	go func() {
		for i, u := range urls {
			select {
			case p.jobQueue <- Job{Index: i, URL: u, batch: batch}:
			case <-ctx.Done():
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()

	for received := 0; received < len(urls); {
		select {
		case result := <-p.resultQueue:
			// leftovers of a batch abandoned by an earlier Run
			if result.Job.batch != batch {
				continue
			}
			received++
			posts[result.Job.Index] = result.Post
			done[result.Job.Index] = true
		case <-ctx.Done():
			return fillMissing(posts, done, urls, ctx.Err())
		case <-p.ctx.Done():
			return fillMissing(posts, done, urls, p.ctx.Err())
		}
	}
	return posts
}

func fillMissing(posts []instagram.Post, done []bool, urls []string, err error) []instagram.Post {
	now := time.Now().UTC()
	for i := range posts {
		if !done[i] {
			posts[i] = instagram.Post{
				URL:           urls[i],
				Date:          now,
				DateEstimated: true,
				Caption:       instagram.NoCaption,
				Error:         err.Error(),
			}
		}
	}
	return posts
}

// Stop shuts the workers down and closes every page. It is safe to call
// more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.closePages()
		p.logger.Debug("Page pool stopped")
	})
}

func (p *Pool) closePages() {
	for _, page := range p.pages {
		if err := page.Close(); err != nil {
			p.logger.WithError(err).Debug("Failed to close pool page")
		}
		p.budget.Release(1)
	}
	p.pages = nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	page := p.pages[id]

	for {
		var job Job
		select {
		case <-p.ctx.Done():
			return
		case job = <-p.jobQueue:
		}

		start := time.Now()
		post := p.extractor.Extract(p.ctx, page, job.URL)
		result := Result{Job: job, Post: post, WorkerID: id, Duration: time.Since(start)}

		p.logger.DebugWithFields("Post extracted", map[string]interface{}{
			"worker_id": id,
			"url":       job.URL,
			"duration":  result.Duration,
			"failed":    post.Error != "",
		})

		select {
		case p.resultQueue <- result:
		case <-p.ctx.Done():
			return
		}
	}
}
