package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"igbatch/pkg/batch"
	"igbatch/pkg/scraper"
)

// Printer writes one coloured line per batch event. It is safe for use
// from the goroutines of a running batch.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
	started map[int]time.Time
}

// NewPrinter creates a printer writing to w. Verbose printers also list
// the posts of every account.
func NewPrinter(w io.Writer, verbose bool) *Printer {
	return &Printer{w: w, verbose: verbose, started: make(map[int]time.Time)}
}

// Handle prints e. It satisfies batch.Listener.
func (p *Printer) Handle(e batch.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case batch.EventBatchStarted:
		fmt.Fprintf(p.w, "%s %d accounts in %d chunks\n", Magenta("[BATCH]"), e.Total, e.Chunks)
	case batch.EventChunkStarted:
		fmt.Fprintf(p.w, "%s %d/%d\n", Magenta("[CHUNK]"), e.Chunk, e.Chunks)
	case batch.EventAccountStarted:
		p.started[e.Index] = e.Time
		fmt.Fprintf(p.w, "  %s @%s\n", Dim("→"), e.Username)
	case batch.EventAccountFinished:
		if e.Result == nil {
			return
		}
		var took time.Duration
		if start, ok := p.started[e.Index]; ok {
			took = e.Time.Sub(start)
			delete(p.started, e.Index)
		}
		p.printResult(*e.Result, took)
	case batch.EventBatchFinished:
		if e.Report != nil {
			p.printSummary(e.Report)
		}
	}
}

func (p *Printer) printResult(r scraper.AccountResult, took time.Duration) {
	if !r.Success {
		fmt.Fprintf(p.w, "  %s @%s %s %s\n", Red("✗"), r.Username, Red(r.Error), Dim(FormatDuration(took)))
		return
	}
	fmt.Fprintf(p.w, "  %s @%s %s %s\n", Green("✓"), r.Username,
		Yellow(fmt.Sprintf("%d recent posts", len(r.Posts))), Dim(FormatDuration(took)))
	if !p.verbose {
		return
	}
	for _, post := range r.Posts {
		date := post.Date.Format("2006-01-02 15:04")
		if post.DateEstimated {
			date += "?"
		}
		fmt.Fprintf(p.w, "      %s %s %s\n", Dim(date), Cyan(post.URL), Shorten(post.Caption, 60))
	}
}

func (p *Printer) printSummary(r *batch.Report) {
	status := Green
	if !r.Success {
		status = Red
	}
	fmt.Fprintf(p.w, "\n%s %d/%d accounts, %d recent posts in the %s %s\n",
		status("[DONE]"), r.SuccessCount, r.Total, r.TotalRecentPosts, r.Timeframe,
		Dim(FormatDuration(time.Duration(r.Performance.TotalDurationMs)*time.Millisecond)))
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// Shorten collapses whitespace and cuts s to n runes
func Shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
