package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"igbatch/pkg/batch"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/logger"
	"igbatch/pkg/scraper"
)

// Version is the checkpoint file format version
const Version = 1

const fileName = "batch.checkpoint.json"

// Checkpoint is the state of an unfinished batch. Results are indexed by
// position in Usernames; nil entries still need scraping.
type Checkpoint struct {
	Usernames     []string                 `json:"usernames"`
	TimeThreshold int                      `json:"time_threshold"`
	Results       []*scraper.AccountResult `json:"results"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
	Version       int                      `json:"version"`
}

// Completed counts the positions with a final result
func (c *Checkpoint) Completed() int {
	n := 0
	for _, r := range c.Results {
		if r != nil {
			n++
		}
	}
	return n
}

// Pending returns the positions still to scrape and their usernames
func (c *Checkpoint) Pending() (indexes []int, usernames []string) {
	for i, r := range c.Results {
		if r == nil {
			indexes = append(indexes, i)
			usernames = append(usernames, c.Usernames[i])
		}
	}
	return indexes, usernames
}

// Final reports whether a result should not be scraped again on resume.
// Timeouts, cancellations and network problems are retried.
func Final(r scraper.AccountResult) bool {
	return r.Success || errs.IsAccessibility(r.ErrorType)
}

// Manager handles checkpoint operations
type Manager struct {
	mu     sync.Mutex
	path   string
	logger logger.Logger
	now    func() time.Time
}

// NewManager creates a manager keeping its checkpoint in dir
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		path:   filepath.Join(dir, fileName),
		logger: log,
		now:    time.Now,
	}, nil
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.path
}

// Create starts a checkpoint for a new batch, replacing any previous one
func (m *Manager) Create(usernames []string, timeThreshold int) (*Checkpoint, error) {
	now := m.now()
	cp := &Checkpoint{
		Usernames:     append([]string(nil), usernames...),
		TimeThreshold: timeThreshold,
		Results:       make([]*scraper.AccountResult, len(usernames)),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       Version,
	}

	if err := m.Save(cp); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"accounts": len(usernames),
		"path":     m.path,
	})
	return cp, nil
}

// Load reads the checkpoint. It returns nil without error when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version != Version {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	if len(cp.Results) != len(cp.Usernames) {
		return nil, fmt.Errorf("corrupt checkpoint: %d results for %d accounts", len(cp.Results), len(cp.Usernames))
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"accounts":   len(cp.Usernames),
		"completed":  cp.Completed(),
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// Save writes the checkpoint to disk atomically
func (m *Manager) Save(cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(cp)
}

func (m *Manager) save(cp *Checkpoint) error {
	cp.UpdatedAt = m.now()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"completed": cp.Completed(),
	})
	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.Debug("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Record stores a final result at position index of cp and saves it.
// Results that are not final are ignored.
func (m *Manager) Record(cp *Checkpoint, index int, result scraper.AccountResult) error {
	if !Final(result) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(cp.Results) {
		return fmt.Errorf("checkpoint position %d out of range", index)
	}
	r := result
	cp.Results[index] = &r
	return m.save(cp)
}

// Listener records finished accounts of a batch run over a subset of cp.
// positions maps the run's indexes to positions in cp; nil means the run
// covers every position in order.
func (m *Manager) Listener(cp *Checkpoint, positions []int) batch.Listener {
	return func(e batch.Event) {
		if e.Type != batch.EventAccountFinished || e.Result == nil {
			return
		}
		index := e.Index
		if positions != nil {
			if index < 0 || index >= len(positions) {
				return
			}
			index = positions[index]
		}
		if err := m.Record(cp, index, *e.Result); err != nil {
			m.logger.WithError(err).Warn("Failed to update checkpoint")
		}
	}
}

// Merge folds the report of a resumed run over positions back into the
// whole batch. Totals are recounted over every account; identity and
// timing stay those of the resumed run.
func Merge(cp *Checkpoint, positions []int, report *batch.Report) *batch.Report {
	results := make([]scraper.AccountResult, len(cp.Usernames))
	for i, r := range cp.Results {
		if r != nil {
			results[i] = *r
		}
	}
	for i, r := range report.Results {
		if i < len(positions) {
			results[positions[i]] = r
		}
	}

	merged := *report
	merged.Results = results
	merged.Total = len(results)
	merged.SuccessCount = 0
	merged.TotalRecentPosts = 0
	for _, r := range results {
		if r.Success {
			merged.SuccessCount++
		}
		merged.TotalRecentPosts += len(r.Posts)
	}
	merged.Success = merged.SuccessCount > 0
	return &merged
}
