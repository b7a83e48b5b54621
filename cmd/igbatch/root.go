package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"igbatch/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "igbatch",
	Short: "Collect recent Instagram posts from many accounts at once",
	Long: `igbatch logs into Instagram with a headless browser and collects the
recent posts of a list of accounts, several at a time.

Features:
  - Batch scraping with bounded concurrency and per-account timeouts
  - Saved browser sessions so logins are rare
  - HTTP and websocket API with live progress
  - Recurring scrapes of tracked accounts on a cron schedule
  - Secure credential storage using the system keychain`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			return
		}
		switch cmd.Name() {
		case "version", "help", "show":
			return
		}
		ui.PrintLogo(os.Stderr)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(os.Stderr, "Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.config/igbatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress the logo and progress output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "list every post found")

	rootCmd.SetVersionTemplate(`igbatch {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
