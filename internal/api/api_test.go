package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igbatch/pkg/auth"
	"igbatch/pkg/batch"
	"igbatch/pkg/config"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/instagram"
	"igbatch/pkg/logger"
	"igbatch/pkg/scraper"
	"igbatch/pkg/storage"
)

type call struct {
	usernames []string
	opts      batch.Options
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeRunner) ScrapeMultipleAccounts(ctx context.Context, usernames []string, creds auth.Credentials, opts batch.Options) (*batch.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{usernames: usernames, opts: opts})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	emit := func(e batch.Event) {
		if opts.Progress != nil {
			opts.Progress(e)
		}
	}
	report := &batch.Report{
		ID:            "batch-1",
		Total:         len(usernames),
		TimeThreshold: opts.TimeThreshold,
		Timeframe:     "last 24 hours",
		FinishedAt:    time.Date(2026, 5, 20, 18, 0, 0, 0, time.UTC),
	}
	emit(batch.Event{Type: batch.EventBatchStarted, BatchID: report.ID, Total: len(usernames)})
	for i, name := range usernames {
		emit(batch.Event{Type: batch.EventAccountStarted, BatchID: report.ID, Index: i, Username: name})
		res := scraper.AccountResult{Success: true, Username: name, Posts: []instagram.Post{
			{URL: instagram.PostURL("p" + name), Date: report.FinishedAt.Add(-time.Hour), Caption: "Open mic"},
		}, RecentPostsCount: 1}
		if name == "private" {
			res = scraper.Failed(name, errs.ErrorTypePrivate, "Account private is private", "Account private is private")
		} else {
			report.SuccessCount++
			report.TotalRecentPosts++
		}
		report.Results = append(report.Results, res)
		emit(batch.Event{Type: batch.EventAccountFinished, BatchID: report.ID, Index: i, Username: name, Result: &res})
	}
	report.Success = report.SuccessCount > 0
	emit(batch.Event{Type: batch.EventBatchFinished, BatchID: report.ID, Total: len(usernames), Report: report})
	return report, nil
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type memReports struct {
	mu  sync.Mutex
	ids []string
}

func (m *memReports) Write(r *batch.Report) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, r.ID)
	return r.ID + ".report.json", nil
}

func (m *memReports) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

type fixture struct {
	server  *Server
	runner  *fakeRunner
	store   *storage.Store
	reports *memReports
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:", logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{runner: &fakeRunner{}, store: store, reports: &memReports{}}
	d := Deps{
		Config: config.ServerConfig{
			DefaultConcurrency: 3,
			DefaultPostLimit:   10,
			DefaultThreshold:   24,
		},
		Runner:      f.runner,
		Store:       store,
		Reports:     f.reports,
		Credentials: auth.Credentials{Username: "bot", Password: "secret"},
		Batch:       batch.Options{Timeout: 90 * time.Second},
		Logger:      logger.NewNopLogger(),
	}
	if mutate != nil {
		mutate(&d)
	}
	f.server = NewServer(d)
	return f
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), "body: %s", rec.Body.String())
}

func TestParseScrapeRequest(t *testing.T) {
	d := Defaults{Concurrency: 3, PostLimit: 10, TimeThreshold: 24}
	q := func(raw string) url.Values {
		values, err := url.ParseQuery(raw)
		require.NoError(t, err)
		return values
	}

	req, err := ParseScrapeRequest(q("usernames=clubA, @clubB,,clubA"), true, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"clubA", "clubB", "clubA"}, req.Usernames)
	assert.Equal(t, 3, req.Concurrency)
	assert.Equal(t, 10, req.PostLimit)
	assert.Equal(t, 24, req.TimeThreshold)

	req, err = ParseScrapeRequest(q("usernames=a&concurrency=4&postLimit=1&timeThreshold=36"), true, d)
	require.NoError(t, err)
	assert.Equal(t, 4, req.Concurrency)
	assert.Equal(t, 1, req.PostLimit)
	assert.Equal(t, 36, req.TimeThreshold)

	tests := []struct {
		name  string
		query string
		creds bool
		want  string
	}{
		{"no credentials", "usernames=a", false, MsgNoCredentials},
		{"credentials checked first", "concurrency=9", false, MsgNoCredentials},
		{"no usernames", "concurrency=2", true, MsgUsernamesRequired},
		{"blank usernames", "usernames=,,", true, MsgUsernamesRequired},
		{"concurrency low", "usernames=a&concurrency=0", true, MsgInvalidConcurrency},
		{"concurrency high", "usernames=a&concurrency=5", true, MsgInvalidConcurrency},
		{"concurrency not a number", "usernames=a&concurrency=two", true, MsgInvalidConcurrency},
		{"post limit high", "usernames=a&postLimit=11", true, MsgInvalidPostLimit},
		{"threshold high", "usernames=a&timeThreshold=50", true, MsgInvalidTimeThreshold},
		{"threshold fractional", "usernames=a&timeThreshold=1.5", true, MsgInvalidTimeThreshold},
		{"first failure wins", "usernames=a&concurrency=9&timeThreshold=50", true, MsgInvalidConcurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScrapeRequest(q(tt.query), tt.creds, d)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Message)
		})
	}
}

func TestScrapeRejectsInvalidThreshold(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.server, http.MethodGet, "/api/instagram/instagram-multiple?usernames=a,b&timeThreshold=50", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	decodeJSON(t, rec, &body)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, MsgInvalidTimeThreshold, body["message"])
	assert.Empty(t, f.runner.Calls(), "the batch never starts")
}

func TestScrapeWithoutCredentials(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Credentials = auth.Credentials{} })

	rec := doJSON(t, f.server, http.MethodGet, "/api/instagram/instagram-multiple?usernames=a", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgNoCredentials)
	assert.Empty(t, f.runner.Calls())
}

func TestScrapeReturnsEnvelope(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.AddAccount(ctx, "clubA")
	require.NoError(t, err)

	rec := doJSON(t, f.server, http.MethodGet, "/api/instagram/instagram-multiple?usernames=clubA,private&concurrency=2&postLimit=4", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body ScrapeResponse
	decodeJSON(t, rec, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "batch-1", body.ID)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.SuccessCount)
	assert.Equal(t, 24, body.TimeThreshold)
	assert.Equal(t, "last 24 hours", body.Timeframe)
	require.Len(t, body.Data, 2)
	assert.False(t, body.Data[1].Success)
	assert.Equal(t, "Account private is private", body.Data[1].Error)

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"clubA", "private"}, calls[0].usernames)
	assert.Equal(t, 2, calls[0].opts.ConcurrencyLimit)
	assert.Equal(t, 4, calls[0].opts.PostLimit)
	assert.Equal(t, 24, calls[0].opts.TimeThreshold)
	assert.Equal(t, 90*time.Second, calls[0].opts.Timeout, "server batch options are kept")

	account, err := f.store.GetAccount(ctx, "clubA")
	require.NoError(t, err)
	assert.NotNil(t, account.LastScraped)
	assert.Len(t, account.LastPosts, 1)

	runs, err := f.store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, TriggerHTTP, runs[0].Trigger)
	assert.Equal(t, []string{"batch-1"}, f.reports.IDs())
}

func TestScrapeErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"config", errs.New(errs.ErrorTypeConfig, "At least one username is required"), http.StatusBadRequest},
		{"typed", errs.New(errs.ErrorTypeNetwork, "browser crashed"), http.StatusInternalServerError},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.runner.err = tt.err

			rec := doJSON(t, f.server, http.MethodGet, "/api/instagram/instagram-multiple?usernames=a", "")
			assert.Equal(t, tt.code, rec.Code)
			var body map[string]any
			decodeJSON(t, rec, &body)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestAccountsCRUD(t *testing.T) {
	f := newFixture(t, nil)

	rec := doJSON(t, f.server, http.MethodPost, "/api/accounts", `{"username":"@clubA"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, f.server, http.MethodPost, "/api/accounts", `{"username":"clubA"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, f.server, http.MethodPost, "/api/accounts", `{"username":"two words"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.server, http.MethodPost, "/api/accounts", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.server, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Success bool              `json:"success"`
		Data    []storage.Account `json:"data"`
	}
	decodeJSON(t, rec, &list)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "clubA", list.Data[0].Username)

	rec = doJSON(t, f.server, http.MethodGet, "/api/accounts/clubA", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, f.server, http.MethodDelete, "/api/accounts/clubA", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, f.server, http.MethodGet, "/api/accounts/clubA", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, f.server, http.MethodDelete, "/api/accounts/clubA", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Config.RequestsPerMinute = 1
		d.Config.BurstSize = 1
	})

	rec := doJSON(t, f.server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "6f1c2a9e-3b7d-4c5e-9a8b-1d2e3f4a5b6c")
	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	assert.Equal(t, "6f1c2a9e-3b7d-4c5e-9a8b-1d2e3f4a5b6c", rec.Header().Get(RequestIDHeader))

	rec = doJSON(t, f.server, http.MethodGet, "/api/accounts", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, f.server, http.MethodGet, "/api/accounts", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = doJSON(t, f.server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are not rate limited")
}

func TestScrapeStream(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/instagram/instagram-multiple?usernames=clubA,private&concurrency=1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var types []string
	var final map[string]any
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		typ, _ := frame["type"].(string)
		types = append(types, typ)
		if typ == FrameReport || typ == FrameError {
			final = frame
			break
		}
	}

	assert.Equal(t, []string{
		string(batch.EventBatchStarted),
		string(batch.EventAccountStarted),
		string(batch.EventAccountFinished),
		string(batch.EventAccountStarted),
		string(batch.EventAccountFinished),
		string(batch.EventBatchFinished),
		FrameReport,
	}, types)
	assert.Equal(t, true, final["success"])
	assert.Equal(t, float64(1), final["successCount"])
	assert.Len(t, final["data"], 2)
}

func TestScrapeStreamValidatesBeforeUpgrade(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/instagram/instagram-multiple?usernames=a&postLimit=0"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.runner.Calls())
}
