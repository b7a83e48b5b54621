package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igbatch/pkg/auth"
	"igbatch/pkg/batch"
	"igbatch/pkg/config"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/instagram"
	"igbatch/pkg/logger"
	"igbatch/pkg/scraper"
	"igbatch/pkg/storage"
)

func TestNewRejectsUnknownTimezone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons", time.Minute, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestSchedulerJobs(t *testing.T) {
	s, err := New("UTC", time.Minute, logger.NewNopLogger())
	require.NoError(t, err)

	noop := func(ctx context.Context) error { return nil }
	assert.Error(t, s.AddJob("bad", "not a cron spec", noop))
	require.NoError(t, s.AddJob("scrape", "0 0 * * *", noop))
	require.NoError(t, s.AddJob("digest", "30 7 * * *", noop))
	require.NoError(t, s.AddJob("scrape", "0 12 * * *", noop))

	s.Start()
	defer s.Stop()

	jobs := s.ListJobs()
	require.Len(t, jobs, 2, "re-adding a name replaces the job")
	assert.Equal(t, "digest", jobs[0].Name)
	assert.Equal(t, "scrape", jobs[1].Name)
	assert.Equal(t, 12, jobs[1].NextRun.UTC().Hour())

	s.RemoveJob("digest")
	assert.Len(t, s.ListJobs(), 1)
}

func TestSchedulerRunsJobs(t *testing.T) {
	s, err := New("", time.Minute, logger.NewNopLogger())
	require.NoError(t, err)

	ran := make(chan struct{}, 1)
	require.NoError(t, s.AddJob("tick", "@every 1s", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestRunNowAppliesTimeout(t *testing.T) {
	log := logger.NewTestLogger()
	s, err := New("UTC", 20*time.Millisecond, log)
	require.NoError(t, err)

	err = s.RunNow("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, log.HasMessage("Job failed"))
}

type fakeRunner struct {
	calls     int32
	usernames []string
	opts      batch.Options
	err       error
}

func (f *fakeRunner) ScrapeMultipleAccounts(ctx context.Context, usernames []string, creds auth.Credentials, opts batch.Options) (*batch.Report, error) {
	atomic.AddInt32(&f.calls, 1)
	f.usernames = usernames
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	finished := time.Date(2026, 5, 21, 0, 1, 0, 0, time.UTC)
	report := &batch.Report{ID: "nightly-1", Total: len(usernames), StartedAt: finished.Add(-time.Minute), FinishedAt: finished}
	for _, name := range usernames {
		report.Results = append(report.Results, scraper.AccountResult{
			Success:          true,
			Username:         name,
			Posts:            []instagram.Post{{URL: instagram.PostURL("x" + name), Date: finished.Add(-time.Hour), Caption: "Bake sale"}},
			RecentPostsCount: 1,
		})
		report.SuccessCount++
		report.TotalRecentPosts++
	}
	report.Success = report.SuccessCount > 0
	return report, nil
}

func newStore(t *testing.T, usernames ...string) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:", logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	for _, name := range usernames {
		_, err := store.AddAccount(context.Background(), name)
		require.NoError(t, err)
	}
	return store
}

func TestScrapeJobRecordsRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "clubA", "clubB")
	runner := &fakeRunner{}
	opts := batch.Options{ConcurrencyLimit: 2, PostLimit: 10, TimeThreshold: 24}
	job := &ScrapeJob{
		Runner:      runner,
		Store:       store,
		Credentials: auth.Credentials{Username: "bot", Password: "secret"},
		Options:     opts,
		Logger:      logger.NewNopLogger(),
	}

	report, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SuccessCount)
	assert.Equal(t, []string{"clubA", "clubB"}, runner.usernames)
	assert.Equal(t, opts, runner.opts)

	a, err := store.GetAccount(ctx, "clubA")
	require.NoError(t, err)
	require.NotNil(t, a.LastScraped)
	assert.Equal(t, report.FinishedAt, *a.LastScraped)
	assert.Len(t, a.LastPosts, 1)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, TriggerSchedule, runs[0].Trigger)
}

func TestScrapeJobWithoutAccounts(t *testing.T) {
	runner := &fakeRunner{}
	log := logger.NewTestLogger()
	job := &ScrapeJob{
		Runner:      runner,
		Store:       newStore(t),
		Credentials: auth.Credentials{Username: "bot", Password: "secret"},
		Logger:      log,
	}

	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoAccounts)
	assert.NoError(t, job.Func()(context.Background()), "an empty list is not a failure")
	assert.True(t, log.HasMessage("No accounts to scrape"))
	assert.Zero(t, atomic.LoadInt32(&runner.calls))
}

func TestScrapeJobWithoutCredentials(t *testing.T) {
	runner := &fakeRunner{}
	job := &ScrapeJob{Runner: runner, Store: newStore(t, "clubA"), Logger: logger.NewNopLogger()}

	_, err := job.Run(context.Background())
	assert.True(t, errs.Is(err, errs.ErrorTypeConfig))
	assert.Zero(t, atomic.LoadInt32(&runner.calls))
}

func TestScrapeJobPropagatesBatchErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("browser unavailable")}
	job := &ScrapeJob{
		Runner:      runner,
		Store:       newStore(t, "clubA"),
		Credentials: auth.Credentials{Username: "bot", Password: "secret"},
	}
	assert.Error(t, job.Func()(context.Background()))
}

func TestJobOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Schedule.ConcurrencyLimit = 3
	cfg.Schedule.PostLimit = 7
	cfg.Schedule.TimeThreshold = 30

	opts := JobOptions(cfg)
	assert.Equal(t, 3, opts.ConcurrencyLimit)
	assert.Equal(t, 7, opts.PostLimit)
	assert.Equal(t, 30, opts.TimeThreshold)
	assert.Equal(t, cfg.Batch.Timeout, opts.Timeout)
}
