package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"igbatch/internal/api"
	"igbatch/pkg/auth"
	"igbatch/pkg/batch"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

var (
	serveListen       string
	serveAccount      string
	serveWithSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	Long: `Serve the scraping API.

Endpoints:
  GET    /healthz
  GET    /api/instagram/instagram-multiple?usernames=a,b&timeThreshold=24
  GET    /ws/instagram/instagram-multiple  (same query, live progress)
  GET    /api/accounts/
  POST   /api/accounts/
  GET    /api/accounts/{username}
  DELETE /api/accounts/{username}

With --with-schedule the tracked accounts are also scraped on the
configured schedule.`,
	Example: `  igbatch serve --listen :9000
  igbatch serve --with-schedule`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default :8080)")
	serveCmd.Flags().StringVarP(&serveAccount, "account", "a", "", "stored login account to use")
	serveCmd.Flags().BoolVar(&serveWithSchedule, "with-schedule", false, "also run the scheduled scrape")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(map[string]interface{}{"listen": serveListen})
	if err != nil {
		return err
	}
	log, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}

	creds, err := resolveCredentials(cfg, serveAccount)
	if errs.Is(err, errs.ErrorTypeConfig) {
		// Scrape requests are refused until credentials exist
		log.Warn("Instagram credentials not configured")
		creds = auth.Credentials{}
	} else if err != nil {
		return err
	}

	eng, err := newEngine(cfg, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveWithSchedule {
		scheduler, err := eng.newScheduler(creds, "")
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	server := api.NewServer(api.Deps{
		Config:      cfg.Server,
		Runner:      eng.runner,
		Store:       eng.store,
		Reports:     eng.reports,
		Credentials: creds,
		Batch:       batch.OptionsFromConfig(cfg),
		Logger:      log,
	})
	httpServer := server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		logger.LogComponentStart(log, "api", map[string]interface{}{
			"listen":      httpServer.Addr,
			"credentials": creds.Validate() == nil,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Graceful shutdown failed")
		return err
	}
	logger.LogComponentStop(log, "api", "shutdown")
	return nil
}
