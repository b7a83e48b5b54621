package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"igbatch/pkg/batch"
)

const reportSuffix = ".report.json"

// ReportWriter saves batch reports as JSON files, one per batch id
type ReportWriter struct {
	dir     string
	written map[string]bool
	mu      sync.RWMutex
}

// NewReportWriter creates dir if needed and indexes the reports already in
// it
func NewReportWriter(dir string) (*ReportWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	w := &ReportWriter{dir: dir, written: make(map[string]bool)}
	if err := w.scanExisting(); err != nil {
		return nil, fmt.Errorf("failed to scan existing reports: %w", err)
	}
	return w, nil
}

func (w *ReportWriter) scanExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), reportSuffix) {
			w.written[strings.TrimSuffix(entry.Name(), reportSuffix)] = true
		}
	}
	return nil
}

// Path returns the file a report with id is written to
func (w *ReportWriter) Path(id string) string {
	return filepath.Join(w.dir, id+reportSuffix)
}

// Has reports whether a report with id exists
func (w *ReportWriter) Has(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written[id]
}

// Write saves report atomically and returns its path
func (w *ReportWriter) Write(report *batch.Report) (string, error) {
	if report.ID == "" || strings.ContainsAny(report.ID, `/\`) {
		return "", fmt.Errorf("invalid report id %q", report.ID)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	filename := w.Path(report.ID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to rename report: %w", err)
	}

	w.mu.Lock()
	w.written[report.ID] = true
	w.mu.Unlock()
	return filename, nil
}

// Read loads the report with id
func (w *ReportWriter) Read(id string) (*batch.Report, error) {
	data, err := os.ReadFile(w.Path(id))
	if err != nil {
		return nil, err
	}
	var report batch.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &report, nil
}

// IDs returns the ids of every known report, sorted
func (w *ReportWriter) IDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.written))
	for id := range w.written {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dir returns the report directory
func (w *ReportWriter) Dir() string {
	return w.dir
}
