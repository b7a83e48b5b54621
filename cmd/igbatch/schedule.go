package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"igbatch/internal/schedule"
	"igbatch/pkg/ui"
)

var (
	scheduleSpec    string
	scheduleAccount string
	scheduleNow     bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Scrape the tracked accounts on a schedule",
	Long: `Run the recurring scrape of every tracked account in the foreground.

The schedule is a cron expression (default "0 0 * * *", midnight) evaluated
in the configured timezone. A run that is still going when the next one is
due makes the next one skip. Reports are stored like any other run.`,
	Example: `  # Use the configured schedule
  igbatch schedule

  # Every six hours
  igbatch schedule --spec "0 */6 * * *"

  # Run once now and exit
  igbatch schedule --now`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().StringVar(&scheduleSpec, "spec", "", "cron expression overriding the configured schedule")
	scheduleCmd.Flags().StringVarP(&scheduleAccount, "account", "a", "", "stored login account to use")
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "run the scrape once and exit")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	log, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}

	creds, err := resolveCredentials(cfg, scheduleAccount)
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	scheduler, err := eng.newScheduler(creds, scheduleSpec)
	if err != nil {
		return err
	}

	if scheduleNow {
		return scheduler.RunNow(schedule.ScrapeJobName, eng.scrapeJob(creds).Func())
	}

	scheduler.Start()
	for _, job := range scheduler.ListJobs() {
		if !quiet {
			ui.PrintInfo(os.Stderr, "Next run", fmt.Sprintf("%s (%s)", job.NextRun.Format("2006-01-02 15:04 MST"), job.Name))
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("Waiting for running jobs to finish")
	<-scheduler.Stop().Done()
	return nil
}
