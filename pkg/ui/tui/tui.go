package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"igbatch/pkg/batch"
)

// TUI renders a batch run in the terminal
type TUI struct {
	program *tea.Program
	model   *Model
}

// New creates a TUI for usernames. onQuit is called when the user quits
// before the batch finished.
func New(usernames []string, concurrency int, onQuit func(), opts ...tea.ProgramOption) *TUI {
	model := NewModel(usernames, concurrency)
	model.onQuit = onQuit
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		program: tea.NewProgram(&model, opts...),
		model:   &model,
	}
}

// Run blocks until the user quits
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI gracefully
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// Handle forwards a batch event. It satisfies batch.Listener.
func (t *TUI) Handle(e batch.Event) {
	t.Send(EventMsg(e))
}

// Log sends a log message to the TUI
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(SendLog(level, fmt.Sprintf(format, args...)))
}

// LogInfo logs an info message
func (t *TUI) LogInfo(format string, args ...interface{}) {
	t.Log("INFO", format, args...)
}

// LogWarning logs a warning message
func (t *TUI) LogWarning(format string, args ...interface{}) {
	t.Log("WARN", format, args...)
}

// LogError logs an error message
func (t *TUI) LogError(format string, args ...interface{}) {
	t.Log("ERROR", format, args...)
}

// Report returns the final report once the batch finished
func (t *TUI) Report() *batch.Report {
	return t.model.Report()
}
