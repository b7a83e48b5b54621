// Package schedule runs recurring batch scrapes on cron schedules.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"igbatch/pkg/logger"
)

// DefaultRunTimeout bounds a job run when no timeout is configured
const DefaultRunTimeout = 30 * time.Minute

// Job is a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages named periodic jobs. Runs of the same job never
// overlap; a tick that arrives while the previous run is busy is skipped.
type Scheduler struct {
	mu         sync.Mutex
	cron       *cron.Cron
	jobs       map[string]cron.EntryID
	timezone   *time.Location
	runTimeout time.Duration
	logger     logger.Logger
}

// New creates a scheduler evaluating specs in timezone. An empty timezone
// means the local zone.
func New(timezone string, runTimeout time.Duration, log logger.Logger) (*Scheduler, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
		}
	}
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "scheduler")

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{log}),
		cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
	)
	return &Scheduler{
		cron:       c,
		jobs:       make(map[string]cron.EntryID),
		timezone:   loc,
		runTimeout: runTimeout,
		logger:     log,
	}, nil
}

// AddJob schedules job under name. spec is a five field cron expression
// ("0 0 * * *" runs at midnight) or a descriptor such as "@every 1h".
// Adding a name again replaces the earlier job.
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(spec, func() {
		_ = s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = entryID
	s.logger.WithFields(map[string]interface{}{"job": name, "schedule": spec}).Info("Added job")
	return nil
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	log := s.logger.WithField("job", name)
	log.Info("Starting job")
	start := time.Now()

	if err := job(ctx); err != nil {
		log.WithError(err).WithField("duration", time.Since(start)).Error("Job failed")
		return err
	}
	log.WithField("duration", time.Since(start)).Info("Job completed")
	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.logger.WithField("job", name).Info("Removed job")
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	logger.LogComponentStart(s.logger, "scheduler", map[string]interface{}{
		"timezone": s.timezone.String(),
		"jobs":     len(s.jobs),
	})
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	logger.LogComponentStop(s.logger, "scheduler", "stopped")
	return s.cron.Stop()
}

// RunNow executes job immediately with the run timeout
func (s *Scheduler) RunNow(name string, job Job) error {
	return s.run(name, job)
}

// JobInfo describes a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// ListJobs returns the scheduled jobs sorted by name
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{Name: name, NextRun: entry.Next, LastRun: entry.Prev})
				break
			}
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// cronLogger routes cron's own logging into ours
type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.DebugWithFields("cron: "+msg, kv(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithError(err).ErrorWithFields("cron: "+msg, kv(keysAndValues))
}

func kv(pairs []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return fields
}
