package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"igbatch/pkg/auth"
	"igbatch/pkg/batch"
	"igbatch/pkg/checkpoint"
	"igbatch/pkg/config"
	"igbatch/pkg/instagram"
	"igbatch/pkg/ui"
	"igbatch/pkg/ui/tui"
)

// TriggerCLI marks runs started from the command line
const TriggerCLI = "cli"

var (
	scrapeAccount     string
	scrapeTracked     bool
	scrapeConcurrency int
	scrapePostLimit   int
	scrapeBatchSize   int
	scrapeMaxPosts    int
	scrapeThreshold   int
	scrapeTimeout     time.Duration
	scrapeHeadless    bool
	scrapeTUI         bool
	scrapeJSON        bool
	scrapeNotify      bool
	scrapeNoSave      bool
	scrapeResume      bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [usernames...]",
	Short: "Collect the recent posts of one or more accounts",
	Long: `Scrape the recent posts of the given Instagram accounts.

Usernames can be passed as separate arguments or comma separated. With
--tracked the accounts added with 'igbatch accounts add' are scraped.

The finished report is stored in the database and written as JSON to the
report directory unless --no-save is given.

Progress is checkpointed while the batch runs. After an interruption,
--resume scrapes only the accounts that did not finish and reports on the
whole list.`,
	Example: `  # Two accounts, last 24 hours
  igbatch scrape natgeo,nasa --threshold 24

  # Every tracked account with the live dashboard
  igbatch scrape --tracked --tui

  # Report as JSON on stdout
  igbatch scrape natgeo --json > report.json

  # Continue an interrupted batch
  igbatch scrape --resume`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	f := scrapeCmd.Flags()
	f.StringVarP(&scrapeAccount, "account", "a", "", "stored login account to use")
	f.BoolVar(&scrapeTracked, "tracked", false, "scrape every tracked account")
	f.IntVar(&scrapeConcurrency, "concurrency", 0, "accounts scraped at the same time")
	f.IntVar(&scrapePostLimit, "post-limit", 0, "maximum posts returned per account")
	f.IntVar(&scrapeBatchSize, "batch-size", 0, "posts extracted in parallel per account")
	f.IntVar(&scrapeMaxPosts, "max-posts", 0, "cap on recent posts per account")
	f.IntVar(&scrapeThreshold, "threshold", 0, "recency window in hours")
	f.DurationVar(&scrapeTimeout, "timeout", 0, "per-account timeout")
	f.BoolVar(&scrapeHeadless, "headless", true, "run the browser headless")
	f.BoolVar(&scrapeTUI, "tui", false, "show a live dashboard")
	f.BoolVar(&scrapeJSON, "json", false, "print the report as JSON")
	f.BoolVar(&scrapeNotify, "notify", false, "send a desktop notification when done")
	f.BoolVar(&scrapeNoSave, "no-save", false, "do not store the report")
	f.BoolVar(&scrapeResume, "resume", false, "continue the last interrupted batch")
}

func runScrape(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"concurrency": scrapeConcurrency,
		"post-limit":  scrapePostLimit,
		"batch-size":  scrapeBatchSize,
		"max-posts":   scrapeMaxPosts,
		"threshold":   scrapeThreshold,
		"timeout":     scrapeTimeout,
	}
	if cmd.Flags().Changed("headless") {
		flags["headless"] = scrapeHeadless
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log, err := setupLogging(cfg, scrapeTUI)
	if err != nil {
		return err
	}

	creds, err := resolveCredentials(cfg, scrapeAccount)
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkpoints, err := checkpoint.NewManager(filepath.Join(config.DataDir(), "checkpoints"), log)
	if err != nil {
		return err
	}

	opts := batch.OptionsFromConfig(cfg)
	var (
		cp        *checkpoint.Checkpoint
		positions []int
		usernames []string
	)
	if scrapeResume {
		if len(args) > 0 || scrapeTracked {
			return errors.New("--resume takes no usernames")
		}
		if cp, err = checkpoints.Load(); err != nil {
			return err
		}
		if cp == nil {
			return errors.New("no interrupted batch to resume")
		}
		positions, usernames = cp.Pending()
		opts.TimeThreshold = cp.TimeThreshold
		if !quiet {
			ui.PrintInfo(os.Stderr, "Resuming", fmt.Sprintf("%d of %d accounts left", len(usernames), len(cp.Usernames)))
		}
	} else {
		usernames = instagram.ParseUsernames(strings.Join(args, ","))
		if scrapeTracked {
			tracked, err := eng.store.Usernames(ctx)
			if err != nil {
				return err
			}
			usernames = append(usernames, tracked...)
		}
		if len(usernames) == 0 {
			return errors.New("no usernames given; pass them as arguments or use --tracked")
		}
		if cp, err = checkpoints.Create(usernames, opts.TimeThreshold); err != nil {
			return err
		}
	}

	listeners := []batch.Listener{checkpoints.Listener(cp, positions)}
	if scrapeNotify {
		listeners = append(listeners, ui.NewNotifier().Handle)
	}

	var (
		report *batch.Report
		quit   bool
	)
	if len(usernames) == 0 {
		now := time.Now()
		report = &batch.Report{
			ID:            uuid.NewString(),
			TimeThreshold: cp.TimeThreshold,
			Timeframe:     fmt.Sprintf("last %d hours", cp.TimeThreshold),
			StartedAt:     now,
			FinishedAt:    now,
		}
	} else if scrapeTUI {
		report, quit, err = scrapeWithTUI(ctx, eng, usernames, creds, opts, listeners)
	} else {
		var out io.Writer = os.Stdout
		if scrapeJSON {
			out = os.Stderr
		}
		if !quiet {
			listeners = append(listeners, ui.Listener(ui.NewPrinter(out, verbose)))
		}
		opts.Progress = batch.Fanout(listeners...)
		report, err = eng.runner.ScrapeMultipleAccounts(ctx, usernames, creds, opts)
	}
	if err != nil {
		return err
	}

	if quit || ctx.Err() != nil {
		ui.PrintWarning(os.Stderr, "Interrupted; continue with 'igbatch scrape --resume'")
		return errors.New("batch interrupted")
	}
	if scrapeResume {
		report = checkpoint.Merge(cp, positions, report)
	}
	if err := checkpoints.Delete(); err != nil {
		log.WithError(err).Warn("Failed to remove checkpoint")
	}

	if !scrapeNoSave {
		if path := eng.record(ctx, report, TriggerCLI); path != "" && !quiet {
			ui.PrintInfo(os.Stderr, "Report", path)
		}
	}

	if scrapeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
	}

	if !report.Success {
		return fmt.Errorf("none of the %d accounts was scraped successfully", report.Total)
	}
	return nil
}

// scrapeWithTUI runs the batch behind the dashboard. Quitting before the
// batch finished cancels it and reports quit; otherwise the dashboard
// stays open until the user closes it.
func scrapeWithTUI(ctx context.Context, eng *engine, usernames []string, creds auth.Credentials, opts batch.Options, listeners []batch.Listener) (*batch.Report, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var quit atomic.Bool
	dashboard := tui.New(usernames, opts.ConcurrencyLimit, func() {
		quit.Store(true)
		cancel()
	})
	opts.Progress = batch.Fanout(append(listeners, ui.Listener(dashboard))...)

	type outcome struct {
		report *batch.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := eng.runner.ScrapeMultipleAccounts(ctx, usernames, creds, opts)
		if err != nil {
			dashboard.LogError("Batch failed: %v", err)
		}
		done <- outcome{report, err}
	}()

	if err := dashboard.Run(); err != nil {
		cancel()
		<-done
		return nil, true, fmt.Errorf("dashboard failed: %w", err)
	}
	result := <-done
	return result.report, quit.Load(), result.err
}
