package schedule

import (
	"context"
	"errors"

	"igbatch/pkg/auth"
	"igbatch/pkg/batch"
	"igbatch/pkg/config"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/logger"
)

const (
	// ScrapeJobName is the name the tracked account scrape is scheduled under
	ScrapeJobName = "scrape"
	// TriggerSchedule tags runs started by the scheduler
	TriggerSchedule = "schedule"
)

// ErrNoAccounts is returned when no accounts are tracked
var ErrNoAccounts = errors.New("No accounts to scrape")

// Runner runs a batch scrape
type Runner interface {
	ScrapeMultipleAccounts(ctx context.Context, usernames []string, creds auth.Credentials, opts batch.Options) (*batch.Report, error)
}

// AccountStore lists the tracked accounts and records finished runs
type AccountStore interface {
	Usernames(ctx context.Context) ([]string, error)
	RecordReport(ctx context.Context, report *batch.Report) (int, error)
	RecordRun(ctx context.Context, report *batch.Report, trigger string) error
}

// ReportSink keeps finished reports
type ReportSink interface {
	Write(report *batch.Report) (string, error)
}

// ScrapeJob scrapes every tracked account with fixed options
type ScrapeJob struct {
	Runner      Runner
	Store       AccountStore
	Reports     ReportSink
	Credentials auth.Credentials
	Options     batch.Options
	Logger      logger.Logger
}

// JobOptions returns the batch options of the scheduled scrape: the
// engine settings from cfg with the schedule's fixed concurrency, post
// limit and threshold
func JobOptions(cfg *config.Config) batch.Options {
	opts := batch.OptionsFromConfig(cfg)
	if cfg.Schedule.ConcurrencyLimit > 0 {
		opts.ConcurrencyLimit = cfg.Schedule.ConcurrencyLimit
	}
	if cfg.Schedule.PostLimit > 0 {
		opts.PostLimit = cfg.Schedule.PostLimit
	}
	if cfg.Schedule.TimeThreshold > 0 {
		opts.TimeThreshold = cfg.Schedule.TimeThreshold
	}
	return opts
}

// Run performs one scheduled scrape
func (j *ScrapeJob) Run(ctx context.Context) (*batch.Report, error) {
	log := j.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	usernames, err := j.Store.Usernames(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, "failed to load tracked accounts", err)
	}
	if len(usernames) == 0 {
		return nil, ErrNoAccounts
	}
	if err := j.Credentials.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, "Instagram credentials not configured", err)
	}

	log.WithField("accounts", len(usernames)).Info("Starting scheduled scrape")
	report, err := j.Runner.ScrapeMultipleAccounts(ctx, usernames, j.Credentials, j.Options)
	if err != nil {
		return nil, err
	}

	log = log.WithField("batch_id", report.ID)
	// the run may have used up its deadline
	save := context.WithoutCancel(ctx)
	updated, err := j.Store.RecordReport(save, report)
	if err != nil {
		log.WithError(err).Error("Failed to record scraped posts")
	}
	if err := j.Store.RecordRun(save, report, TriggerSchedule); err != nil {
		log.WithError(err).Error("Failed to record run")
	}
	if j.Reports != nil {
		if _, err := j.Reports.Write(report); err != nil {
			log.WithError(err).Error("Failed to write report file")
		}
	}

	logger.LogMetrics(log, "scheduled_scrape", map[string]interface{}{
		"total":              report.Total,
		"success_count":      report.SuccessCount,
		"total_recent_posts": report.TotalRecentPosts,
		"accounts_updated":   updated,
	})
	return report, nil
}

// Func adapts the job for a Scheduler. An empty account list is logged
// rather than reported as a failure.
func (j *ScrapeJob) Func() Job {
	return func(ctx context.Context) error {
		_, err := j.Run(ctx)
		if errors.Is(err, ErrNoAccounts) {
			if j.Logger != nil {
				j.Logger.Info(err.Error())
			}
			return nil
		}
		return err
	}
}
