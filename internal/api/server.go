// Package api serves the batch scraper over HTTP: a validated scrape
// endpoint, its websocket twin streaming progress, and CRUD over the
// tracked accounts.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"igbatch/pkg/auth"
	"igbatch/pkg/batch"
	"igbatch/pkg/config"
	"igbatch/pkg/logger"
	"igbatch/pkg/ratelimit"
	"igbatch/pkg/storage"
)

// Runner runs a batch scrape
type Runner interface {
	ScrapeMultipleAccounts(ctx context.Context, usernames []string, creds auth.Credentials, opts batch.Options) (*batch.Report, error)
}

// AccountStore is the persistence the API reads and writes
type AccountStore interface {
	AddAccount(ctx context.Context, username string) (*storage.Account, error)
	RemoveAccount(ctx context.Context, username string) error
	ListAccounts(ctx context.Context) ([]storage.Account, error)
	GetAccount(ctx context.Context, username string) (*storage.Account, error)
	RecordReport(ctx context.Context, report *batch.Report) (int, error)
	RecordRun(ctx context.Context, report *batch.Report, trigger string) error
}

// ReportSink keeps finished reports
type ReportSink interface {
	Write(report *batch.Report) (string, error)
}

// Deps are the collaborators of a Server
type Deps struct {
	Config      config.ServerConfig
	Runner      Runner
	Store       AccountStore
	Reports     ReportSink
	Credentials auth.Credentials
	// Batch supplies the options a request cannot set, such as the per
	// account timeout
	Batch  batch.Options
	Logger logger.Logger
}

// Server is the HTTP and websocket API
type Server struct {
	cfg      config.ServerConfig
	runner   Runner
	store    AccountStore
	reports  ReportSink
	creds    auth.Credentials
	hasCreds bool
	batch    batch.Options
	router   chi.Router
	upgrader websocket.Upgrader
	limiter  *ratelimit.Keyed
	logger   logger.Logger
}

// NewServer builds the router
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = logger.GetLogger()
	}
	s := &Server{
		cfg:      d.Config,
		runner:   d.Runner,
		store:    d.Store,
		reports:  d.Reports,
		creds:    d.Credentials,
		hasCreds: d.Credentials.Validate() == nil,
		batch:    d.Batch,
		router:   chi.NewRouter(),
		logger:   d.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if d.Config.RequestsPerMinute > 0 {
		s.limiter = ratelimit.NewKeyed(d.Config.RequestsPerMinute, d.Config.BurstSize)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Get("/api/instagram/instagram-multiple", s.handleScrape)
		r.Get("/ws/instagram/instagram-multiple", s.handleScrapeWS)

		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleAddAccount)
			r.Get("/{username}", s.handleGetAccount)
			r.Delete("/{username}", s.handleRemoveAccount)
		})
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // scrapes and websockets stream for minutes
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, failure{Success: false, Message: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"credentials": s.hasCreds,
	})
}
