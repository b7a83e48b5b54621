package batch

import (
	"time"

	"igbatch/pkg/scraper"
)

// EventType names a point in a batch run
type EventType string

const (
	EventBatchStarted    EventType = "batch_started"
	EventChunkStarted    EventType = "chunk_started"
	EventAccountStarted  EventType = "account_started"
	EventAccountFinished EventType = "account_finished"
	EventChunkFinished   EventType = "chunk_finished"
	EventBatchFinished   EventType = "batch_finished"
)

// Event reports progress of a batch. Account events carry the username and
// its position in the input; finished events carry the result.
type Event struct {
	Type     EventType              `json:"type"`
	BatchID  string                 `json:"batchId"`
	Chunk    int                    `json:"chunk,omitempty"`
	Chunks   int                    `json:"chunks,omitempty"`
	Index    int                    `json:"index"`
	Username string                 `json:"username,omitempty"`
	Total    int                    `json:"total"`
	Result   *scraper.AccountResult `json:"result,omitempty"`
	Report   *Report                `json:"report,omitempty"`
	Time     time.Time              `json:"time"`
}

// Listener receives progress events. It is called from the goroutines
// running the accounts and must not block for long.
type Listener func(Event)

// Fanout returns a listener that forwards every event to each non-nil
// listener in order
func Fanout(listeners ...Listener) Listener {
	var active []Listener
	for _, l := range listeners {
		if l != nil {
			active = append(active, l)
		}
	}
	return func(e Event) {
		for _, l := range active {
			l(e)
		}
	}
}
