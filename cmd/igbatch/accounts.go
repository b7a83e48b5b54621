package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"igbatch/pkg/storage"
	"igbatch/pkg/ui"
)

var historyLimit int

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the tracked accounts",
	Long: `Tracked accounts are scraped by 'igbatch scrape --tracked' and by the
scheduled scrape. Their most recent posts are kept after every run.`,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <username>...",
	Short: "Track one or more accounts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAccountsAdd,
}

var accountsRemoveCmd = &cobra.Command{
	Use:     "remove <username>",
	Aliases: []string{"rm"},
	Short:   "Stop tracking an account",
	Args:    cobra.ExactArgs(1),
	RunE:    runAccountsRemove,
}

var accountsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked accounts",
	Args:    cobra.NoArgs,
	RunE:    runAccountsList,
}

var accountsShowCmd = &cobra.Command{
	Use:   "show <username>",
	Short: "Show the last posts stored for an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsShow,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent batch runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsShowCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show (0 for all)")
}

// withStore opens the database for a command that only needs storage
func withStore(fn func(ctx context.Context, store *storage.Store) error) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	log, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Storage.DatabasePath, log)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *storage.Store) error {
		var failed error
		for _, name := range args {
			account, err := store.AddAccount(ctx, name)
			switch {
			case errors.Is(err, storage.ErrAccountExists):
				ui.PrintWarning(os.Stdout, "Already tracked: "+name)
			case err != nil:
				ui.PrintError(os.Stderr, "Failed to add "+name, err)
				failed = err
			default:
				ui.PrintSuccess(os.Stdout, "Tracking @"+account.Username)
			}
		}
		return failed
	})
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *storage.Store) error {
		if err := store.RemoveAccount(ctx, args[0]); err != nil {
			return err
		}
		ui.PrintSuccess(os.Stdout, "Stopped tracking "+args[0])
		return nil
	})
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *storage.Store) error {
		accounts, err := store.ListAccounts(ctx)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			ui.PrintInfo(os.Stdout, "No tracked accounts", "Use 'igbatch accounts add <username>'")
			return nil
		}

		rows := make([][]string, 0, len(accounts))
		for _, a := range accounts {
			rows = append(rows, []string{
				"@" + a.Username,
				lastScraped(a.LastScraped),
				strconv.Itoa(len(a.LastPosts)),
				a.CreatedAt.Format("2006-01-02"),
			})
		}
		return ui.PrintTable(os.Stdout, []string{"USERNAME", "LAST SCRAPED", "POSTS", "ADDED"}, rows)
	})
}

func runAccountsShow(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *storage.Store) error {
		account, err := store.GetAccount(ctx, args[0])
		if err != nil {
			return err
		}
		ui.PrintInfo(os.Stdout, "Account", "@"+account.Username)
		ui.PrintInfo(os.Stdout, "Last scraped", lastScraped(account.LastScraped))
		if len(account.LastPosts) == 0 {
			return nil
		}

		rows := make([][]string, 0, len(account.LastPosts))
		for _, p := range account.LastPosts {
			date := p.Date.Local().Format("2006-01-02 15:04")
			if p.DateEstimated {
				date += "?"
			}
			rows = append(rows, []string{date, p.URL, ui.Shorten(p.Caption, 60)})
		}
		return ui.PrintTable(os.Stdout, []string{"DATE", "URL", "CAPTION"}, rows)
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *storage.Store) error {
		runs, err := store.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			ui.PrintInfo(os.Stdout, "No recorded runs", "Run 'igbatch scrape' first")
			return nil
		}

		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				r.StartedAt.Local().Format("2006-01-02 15:04"),
				r.Trigger,
				fmt.Sprintf("%d/%d", r.SuccessCount, r.Total),
				strconv.Itoa(r.TotalRecentPosts),
				ui.FormatDuration(r.FinishedAt.Sub(r.StartedAt)),
				r.ID,
			})
		}
		return ui.PrintTable(os.Stdout, []string{"STARTED", "TRIGGER", "ACCOUNTS", "POSTS", "DURATION", "ID"}, rows)
	})
}

func lastScraped(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
