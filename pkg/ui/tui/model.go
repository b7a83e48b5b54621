package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"igbatch/pkg/batch"
	"igbatch/pkg/instagram"
)

// AccountState is the progress of one account in the batch
type AccountState int

const (
	AccountPending AccountState = iota
	AccountRunning
	AccountDone
	AccountFailed
)

func (s AccountState) String() string {
	switch s {
	case AccountRunning:
		return "running"
	case AccountDone:
		return "done"
	case AccountFailed:
		return "failed"
	default:
		return "pending"
	}
}

// AccountRow is one line of the accounts panel
type AccountRow struct {
	Username  string
	State     AccountState
	Posts     int
	Started   time.Time
	Duration  time.Duration
	Message   string
	ErrorType string
	Latest    *instagram.Post
}

// Model is the bubbletea model of a batch run
type Model struct {
	spinner  spinner.Model
	progress progress.Model

	rows        []AccountRow
	concurrency int
	batchID     string
	chunk       int
	chunks      int
	finished    int
	failed      int
	posts       int
	startTime   time.Time
	report      *batch.Report

	width          int
	height         int
	showHelp       bool
	quitting       bool
	onQuit         func()
	logMessages    []LogMessage
	maxLogMessages int

	now func() time.Time
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// NewModel creates a model listing usernames as pending
func NewModel(usernames []string, concurrency int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40

	rows := make([]AccountRow, len(usernames))
	for i, name := range usernames {
		rows[i] = AccountRow{Username: name}
	}

	return Model{
		spinner:        s,
		progress:       p,
		rows:           rows,
		concurrency:    concurrency,
		chunks:         (len(usernames) + max(concurrency, 1) - 1) / max(concurrency, 1),
		logMessages:    []LogMessage{},
		maxLogMessages: 50,
		now:            time.Now,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// Apply folds a batch event into the model
func (m *Model) Apply(e batch.Event) {
	switch e.Type {
	case batch.EventBatchStarted:
		m.batchID = e.BatchID
		m.startTime = e.Time
		if e.Chunks > 0 {
			m.chunks = e.Chunks
		}
		m.AddLogMessage("INFO", fmt.Sprintf("Scraping %d accounts, %d at a time", e.Total, m.concurrency))

	case batch.EventChunkStarted:
		m.chunk = e.Chunk
		m.chunks = e.Chunks

	case batch.EventAccountStarted:
		if row := m.row(e.Index); row != nil {
			row.State = AccountRunning
			row.Started = e.Time
		}

	case batch.EventAccountFinished:
		row := m.row(e.Index)
		if row == nil || e.Result == nil {
			return
		}
		res := e.Result
		row.Duration = e.Time.Sub(row.Started)
		row.Posts = len(res.Posts)
		row.ErrorType = string(res.ErrorType)
		m.finished++
		if res.Success {
			row.State = AccountDone
			row.Message = res.Message
			if len(res.Posts) > 0 {
				latest := res.Posts[0]
				row.Latest = &latest
			}
			m.posts += row.Posts
			m.AddLogMessage("SUCCESS", fmt.Sprintf("@%s: %d recent posts", row.Username, row.Posts))
		} else {
			row.State = AccountFailed
			row.Message = res.Error
			m.failed++
			m.AddLogMessage("ERROR", fmt.Sprintf("@%s: %s", row.Username, res.Error))
		}

	case batch.EventBatchFinished:
		m.report = e.Report
		if e.Report != nil {
			m.AddLogMessage("INFO", fmt.Sprintf("Finished: %d/%d accounts, %d recent posts",
				e.Report.SuccessCount, e.Report.Total, e.Report.TotalRecentPosts))
		}
	}
}

func (m *Model) row(idx int) *AccountRow {
	if idx < 0 || idx >= len(m.rows) {
		return nil
	}
	return &m.rows[idx]
}

// Rows returns the account rows in input order
func (m *Model) Rows() []AccountRow {
	return append([]AccountRow(nil), m.rows...)
}

// Done reports whether the final report arrived
func (m *Model) Done() bool {
	return m.report != nil
}

// Report returns the final report once the batch finished
func (m *Model) Report() *batch.Report {
	return m.report
}

// Percent is the share of accounts with a result
func (m *Model) Percent() float64 {
	if len(m.rows) == 0 {
		return 1
	}
	return float64(m.finished) / float64(len(m.rows))
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	color := dimWhite
	switch level {
	case "ERROR":
		color = neonRed
	case "WARN":
		color = neonOrange
	case "SUCCESS":
		color = neonGreen
	case "INFO":
		color = neonCyan
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    m.now(),
		Level:   level,
		Message: message,
		Color:   color,
	})

	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// elapsed is the run time so far, or the total once finished
func (m *Model) elapsed() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	if m.report != nil {
		return m.report.FinishedAt.Sub(m.startTime)
	}
	return m.now().Sub(m.startTime)
}

func (m *Model) counts() (pending, running int) {
	for _, r := range m.rows {
		switch r.State {
		case AccountPending:
			pending++
		case AccountRunning:
			running++
		}
	}
	return pending, running
}
