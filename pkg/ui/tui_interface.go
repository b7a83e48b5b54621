package ui

import "igbatch/pkg/batch"

// Reporter displays batch progress. Printer and tui.TUI implement it.
type Reporter interface {
	Handle(e batch.Event)
}

// Listener adapts r for batch.Options.Progress
func Listener(r Reporter) batch.Listener {
	if r == nil {
		return nil
	}
	return r.Handle
}
