package api

import (
	"context"
	"errors"
	"net/http"

	"igbatch/pkg/batch"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/scraper"
)

// TriggerHTTP tags runs started through the API
const TriggerHTTP = "http"

// ScrapeResponse is the body of a completed scrape request
type ScrapeResponse struct {
	Success          bool                    `json:"success"`
	ID               string                  `json:"id"`
	Total            int                     `json:"total"`
	SuccessCount     int                     `json:"successCount"`
	TimeThreshold    int                     `json:"timeThreshold"`
	Timeframe        string                  `json:"timeframe"`
	TotalRecentPosts int                     `json:"totalRecentPosts"`
	Data             []scraper.AccountResult `json:"data"`
	Performance      batch.Performance       `json:"performance"`
}

func newScrapeResponse(r *batch.Report) ScrapeResponse {
	return ScrapeResponse{
		Success:          r.Success,
		ID:               r.ID,
		Total:            r.Total,
		SuccessCount:     r.SuccessCount,
		TimeThreshold:    r.TimeThreshold,
		Timeframe:        r.Timeframe,
		TotalRecentPosts: r.TotalRecentPosts,
		Data:             r.Results,
		Performance:      r.Performance,
	}
}

func (s *Server) defaults() Defaults {
	return Defaults{
		Concurrency:   s.cfg.DefaultConcurrency,
		PostLimit:     s.cfg.DefaultPostLimit,
		TimeThreshold: s.cfg.DefaultThreshold,
	}
}

// options merges a validated request over the server's batch options
func (s *Server) options(req ScrapeRequest) batch.Options {
	opts := s.batch
	opts.ConcurrencyLimit = req.Concurrency
	opts.PostLimit = req.PostLimit
	opts.TimeThreshold = req.TimeThreshold
	return opts
}

func (s *Server) parse(r *http.Request) (ScrapeRequest, error) {
	return ParseScrapeRequest(r.URL.Query(), s.hasCreds, s.defaults())
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithContext(r.Context())

	req, err := s.parse(r)
	if err != nil {
		log.WithError(err).Warn("Rejected scrape request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.runner.ScrapeMultipleAccounts(r.Context(), req.Usernames, s.creds, s.options(req))
	if err != nil {
		status, msg := scrapeErrorStatus(err)
		log.WithError(err).Error("Batch scrape failed")
		writeError(w, status, msg)
		return
	}

	s.persist(r.Context(), report)
	writeJSON(w, http.StatusOK, newScrapeResponse(report))
}

func scrapeErrorStatus(err error) (int, string) {
	var e *errs.Error
	if errors.As(err, &e) {
		if e.Type == errs.ErrorTypeConfig {
			return http.StatusBadRequest, e.Message
		}
		return http.StatusInternalServerError, e.Message
	}
	return http.StatusInternalServerError, "Failed to scrape Instagram accounts"
}

// persist records a finished report. Failures are logged and never change
// the response.
func (s *Server) persist(ctx context.Context, report *batch.Report) {
	log := s.logger.WithContext(ctx).WithField("batch_id", report.ID)
	// the client may be gone by now
	ctx = context.WithoutCancel(ctx)

	if s.store != nil {
		if n, err := s.store.RecordReport(ctx, report); err != nil {
			log.WithError(err).Error("Failed to record scraped posts")
		} else {
			log.WithField("accounts", n).Debug("Recorded scraped posts")
		}
		if err := s.store.RecordRun(ctx, report, TriggerHTTP); err != nil {
			log.WithError(err).Error("Failed to record run")
		}
	}
	if s.reports != nil {
		if _, err := s.reports.Write(report); err != nil {
			log.WithError(err).Error("Failed to write report file")
		}
	}
}
