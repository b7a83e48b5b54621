package api

import (
	"context"
	"net/http"
	"sync"

	"igbatch/pkg/batch"
)

// Frame types of the progress stream besides the batch events themselves
const (
	FrameReport = "report"
	FrameError  = "error"
)

type reportFrame struct {
	Type string `json:"type"`
	ScrapeResponse
}

type errorFrame struct {
	Type string `json:"type"`
	failure
}

// eventQueue buffers every event a batch of total accounts can emit so the
// batch goroutines never wait on the socket
type eventQueue struct {
	mu     sync.Mutex
	ch     chan batch.Event
	closed bool
}

func newEventQueue(total, concurrency int) *eventQueue {
	chunks := (total + concurrency - 1) / concurrency
	return &eventQueue{ch: make(chan batch.Event, 2+2*chunks+2*total)}
}

func (q *eventQueue) push(e batch.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- e:
	default:
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (s *Server) handleScrapeWS(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithContext(r.Context())

	req, err := s.parse(r)
	if err != nil {
		log.WithError(err).Warn("Rejected scrape stream")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading to websocket")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client never sends anything; a read error means it went away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	queue := newEventQueue(len(req.Usernames), req.Concurrency)
	opts := s.options(req)
	opts.Progress = batch.Fanout(opts.Progress, queue.push)

	var (
		report *batch.Report
		runErr error
	)
	go func() {
		defer queue.close()
		report, runErr = s.runner.ScrapeMultipleAccounts(ctx, req.Usernames, s.creds, opts)
	}()

	writing := true
	for ev := range queue.ch {
		if !writing {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			log.WithError(err).Info("Progress client disconnected, cancelling batch")
			writing = false
			cancel()
		}
	}

	if runErr != nil {
		status, msg := scrapeErrorStatus(runErr)
		log.WithError(runErr).WithField("status", status).Error("Batch scrape failed")
		if writing {
			_ = conn.WriteJSON(errorFrame{Type: FrameError, failure: failure{Message: msg}})
		}
		return
	}

	s.persist(ctx, report)
	if writing {
		_ = conn.WriteJSON(reportFrame{Type: FrameReport, ScrapeResponse: newScrapeResponse(report)})
	}
}
