package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igbatch/pkg/batch"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/instagram"
	"igbatch/pkg/scraper"
)

var t0 = time.Date(2026, 5, 20, 18, 0, 0, 0, time.UTC)

func newTestModel(usernames ...string) *Model {
	m := NewModel(usernames, 2)
	m.now = func() time.Time { return t0.Add(10 * time.Second) }
	return &m
}

func TestModelTracksAccounts(t *testing.T) {
	m := newTestModel("clubA", "clubB", "clubC")
	for _, r := range m.Rows() {
		assert.Equal(t, AccountPending, r.State)
	}

	m.Update(EventMsg{Type: batch.EventBatchStarted, BatchID: "b1", Chunks: 2, Total: 3, Time: t0})
	m.Update(EventMsg{Type: batch.EventChunkStarted, Chunk: 1, Chunks: 2, Time: t0})
	m.Update(EventMsg{Type: batch.EventAccountStarted, Index: 0, Username: "clubA", Time: t0})
	m.Update(EventMsg{Type: batch.EventAccountStarted, Index: 1, Username: "clubB", Time: t0})

	rows := m.Rows()
	assert.Equal(t, AccountRunning, rows[0].State)
	assert.Equal(t, AccountRunning, rows[1].State)
	assert.Equal(t, AccountPending, rows[2].State)

	ok := scraper.AccountResult{Success: true, Username: "clubA", Posts: []instagram.Post{
		{URL: instagram.PostURL("a1"), Caption: "Trivia night"},
		{URL: instagram.PostURL("a2"), Caption: instagram.NoCaption},
	}, RecentPostsCount: 2}
	failed := scraper.Failed("clubB", errs.ErrorTypePrivate, "Account clubB is private", "Account clubB is private")

	m.Update(EventMsg{Type: batch.EventAccountFinished, Index: 0, Result: &ok, Time: t0.Add(1500 * time.Millisecond)})
	m.Update(EventMsg{Type: batch.EventAccountFinished, Index: 1, Result: &failed, Time: t0.Add(2 * time.Second)})

	rows = m.Rows()
	assert.Equal(t, AccountDone, rows[0].State)
	assert.Equal(t, 2, rows[0].Posts)
	assert.Equal(t, 1500*time.Millisecond, rows[0].Duration)
	require.NotNil(t, rows[0].Latest)
	assert.Equal(t, "Trivia night", rows[0].Latest.Caption)

	assert.Equal(t, AccountFailed, rows[1].State)
	assert.Equal(t, "Account clubB is private", rows[1].Message)
	assert.Equal(t, "private", rows[1].ErrorType)

	assert.InDelta(t, 2.0/3.0, m.Percent(), 0.001)
	assert.False(t, m.Done())

	report := &batch.Report{Total: 3, SuccessCount: 1, TotalRecentPosts: 2, FinishedAt: t0.Add(5 * time.Second)}
	m.Update(EventMsg{Type: batch.EventBatchFinished, Report: report, Time: report.FinishedAt})
	assert.True(t, m.Done())
	assert.Same(t, report, m.Report())
	assert.Equal(t, 5*time.Second, m.elapsed())
}

func TestModelIgnoresUnknownIndexes(t *testing.T) {
	m := newTestModel("clubA")
	res := scraper.AccountResult{Success: true}
	m.Apply(batch.Event{Type: batch.EventAccountStarted, Index: 4})
	m.Apply(batch.Event{Type: batch.EventAccountFinished, Index: -1, Result: &res})
	assert.Equal(t, AccountPending, m.Rows()[0].State)
	assert.Zero(t, m.Percent())
}

func TestQuitCancelsRunningBatch(t *testing.T) {
	m := newTestModel("clubA")
	cancelled := 0
	m.onQuit = func() { cancelled++ }

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, 1, cancelled)
	assert.True(t, m.quitting)

	done := newTestModel("clubA")
	done.onQuit = func() { cancelled++ }
	done.Apply(batch.Event{Type: batch.EventBatchFinished, Report: &batch.Report{}})
	done.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Equal(t, 1, cancelled, "a finished batch is not cancelled again")
}

func TestLogMessagesAreCapped(t *testing.T) {
	m := newTestModel()
	for i := 0; i < 60; i++ {
		m.AddLogMessage("INFO", "tick")
	}
	assert.Len(t, m.logMessages, 50)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Empty(t, m.logMessages)
}

func TestViewRendersRows(t *testing.T) {
	m := newTestModel("clubA", "clubB")
	assert.Equal(t, "Initializing...", m.View())

	m.Update(tea.WindowSizeMsg{Width: 160, Height: 50})
	failed := scraper.Failed("clubB", errs.ErrorTypeNotFound, "Account clubB not found", "Account clubB not found")
	m.Apply(batch.Event{Type: batch.EventAccountStarted, Index: 1, Time: t0})
	m.Apply(batch.Event{Type: batch.EventAccountFinished, Index: 1, Result: &failed, Time: t0.Add(time.Second)})

	view := m.View()
	assert.Contains(t, view, "@clubA")
	assert.Contains(t, view, "Account clubB not found")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "02:05", formatDuration(125*time.Second))
	assert.Equal(t, "01:00:00", formatDuration(time.Hour))
	assert.Equal(t, "0.0s", formatDuration(-time.Second))
}
