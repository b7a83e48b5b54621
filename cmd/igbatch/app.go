package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"igbatch/internal/schedule"
	"igbatch/pkg/auth"
	"igbatch/pkg/batch"
	"igbatch/pkg/browser"
	"igbatch/pkg/config"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/logger"
	"igbatch/pkg/scraper"
	"igbatch/pkg/session"
	"igbatch/pkg/storage"
)

// loadConfig loads the configuration with the global flags and extra
// command flags applied on top
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := map[string]interface{}{"log-level": logLevel}
	for k, v := range extra {
		flags[k] = v
	}
	return config.Load(configFile, flags)
}

// setupLogging installs the global logger. Detached loggers write only to
// the log file so a full-screen UI is not disturbed.
func setupLogging(cfg *config.Config, detached bool) (logger.Logger, error) {
	if !detached {
		if err := logger.Initialize(&cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		return logger.GetLogger(), nil
	}

	path := cfg.Logging.File
	if path == "" {
		path = filepath.Join(config.DataDir(), "igbatch.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l, err := logger.NewWithWriter(f, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLogger(l)
	return l, nil
}

// resolveCredentials picks the login identity: the configured one, then
// the named stored account, then the default stored account
func resolveCredentials(cfg *config.Config, account string) (auth.Credentials, error) {
	if cfg.HasCredentials() && (account == "" || account == cfg.Instagram.Username) {
		return auth.Credentials{Username: cfg.Instagram.Username, Password: cfg.Instagram.Password}, nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var creds *auth.Credentials
	if account != "" {
		creds, err = manager.Retrieve(account)
	} else {
		creds, err = manager.RetrieveDefault()
	}
	if errors.Is(err, auth.ErrCredentialsNotFound) {
		return auth.Credentials{}, errs.Wrap(errs.ErrorTypeConfig,
			"Instagram credentials not configured, run 'igbatch auth login'", err)
	}
	if err != nil {
		return auth.Credentials{}, err
	}
	return *creds, nil
}

// engine holds the wired scraping stack shared by the commands
type engine struct {
	cfg      *config.Config
	log      logger.Logger
	sessions *session.Store
	runner   *batch.Runner
	store    *storage.Store
	reports  *storage.ReportWriter
}

func newEngine(cfg *config.Config, log logger.Logger) (*engine, error) {
	sessions, err := session.NewStore(cfg.Session.Directory, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DatabasePath, log)
	if err != nil {
		return nil, err
	}

	reports, err := storage.NewReportWriter(cfg.Storage.ReportDirectory)
	if err != nil {
		store.Close()
		return nil, err
	}

	launcher := browser.NewChromeLauncher(browser.Options{
		ExecPath:  cfg.Browser.ExecPath,
		Headless:  cfg.Browser.Headless,
		NoSandbox: cfg.Browser.NoSandbox,
		UserAgent: cfg.Browser.UserAgent,
	}, log)

	return &engine{
		cfg:      cfg,
		log:      log,
		sessions: sessions,
		runner:   batch.New(scraper.NewFromConfig(cfg, launcher, sessions, log), log),
		store:    store,
		reports:  reports,
	}, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}

// record persists a finished report and returns the path of its JSON file.
// Storage failures are logged, never returned.
func (e *engine) record(ctx context.Context, report *batch.Report, trigger string) string {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.store.RecordReport(ctx, report); err != nil {
		e.log.WithError(err).Error("Failed to record report")
	}
	if err := e.store.RecordRun(ctx, report, trigger); err != nil {
		e.log.WithError(err).Error("Failed to record run")
	}
	path, err := e.reports.Write(report)
	if err != nil {
		e.log.WithError(err).Error("Failed to write report")
	}
	return path
}

// scrapeJob builds the recurring scrape of the tracked accounts
func (e *engine) scrapeJob(creds auth.Credentials) *schedule.ScrapeJob {
	return &schedule.ScrapeJob{
		Runner:      e.runner,
		Store:       e.store,
		Reports:     e.reports,
		Credentials: creds,
		Options:     schedule.JobOptions(e.cfg),
		Logger:      e.log,
	}
}

// newScheduler registers the tracked account scrape on the configured
// schedule, with spec overriding it when set
func (e *engine) newScheduler(creds auth.Credentials, spec string) (*schedule.Scheduler, error) {
	if spec == "" {
		spec = e.cfg.Schedule.Spec
	}
	s, err := schedule.New(e.cfg.Schedule.Timezone, e.cfg.Schedule.RunTimeout, e.log)
	if err != nil {
		return nil, err
	}
	if err := s.AddJob(schedule.ScrapeJobName, spec, e.scrapeJob(creds).Func()); err != nil {
		return nil, err
	}
	return s, nil
}
