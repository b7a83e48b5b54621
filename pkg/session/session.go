// Package session persists browser cookie jars per login identity so a
// scrape can skip the interactive login when a previous one is still valid.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"igbatch/pkg/logger"
)

const (
	fileSuffix = ".session.json"
	version    = 1
)

// Cookie is the persisted form of one browser cookie. Expires is seconds
// since the Unix epoch; zero marks a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Expired reports whether the cookie has a past expiry
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && float64(now.Unix()) >= c.Expires
}

// State is the cookie jar saved for one identity
type State struct {
	Identity string    `json:"identity"`
	Cookies  []Cookie  `json:"cookies"`
	SavedAt  time.Time `json:"savedAt"`
	Version  int       `json:"version"`
}

// Live returns the cookies that have not expired
func (s *State) Live(now time.Time) []Cookie {
	live := make([]Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if !c.Expired(now) {
			live = append(live, c)
		}
	}
	return live
}

// Store reads and writes one file per identity under a directory. Writes for
// the same identity are serialized; LoginLock lets callers serialize the
// login that produces a new state.
type Store struct {
	dir string
	log logger.Logger

	mu         sync.Mutex
	writeLocks map[string]*sync.Mutex
	loginLocks map[string]*semaphore.Weighted
}

// NewStore creates the directory if needed
func NewStore(dir string, log logger.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{
		dir:        dir,
		log:        log.WithField("component", "session"),
		writeLocks: make(map[string]*sync.Mutex),
		loginLocks: make(map[string]*semaphore.Weighted),
	}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitize(identity string) string {
	s := unsafeChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(identity)), "_")
	if s == "" || strings.Trim(s, ".") == "" {
		return "_"
	}
	return s
}

// Path returns the file that holds identity's state
func (s *Store) Path(identity string) string {
	return filepath.Join(s.dir, sanitize(identity)+fileSuffix)
}

func (s *Store) lockFor(identity string) *sync.Mutex {
	key := sanitize(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.writeLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.writeLocks[key] = m
	}
	return m
}

// LoginLock returns the weight-1 semaphore guarding interactive login for
// identity. Waiters Acquire(ctx, 1) so they can give up with their context.
func (s *Store) LoginLock(identity string) *semaphore.Weighted {
	key := sanitize(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.loginLocks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.loginLocks[key] = sem
	}
	return sem
}

// Load returns the saved state for identity. A missing, unreadable or
// corrupt file is reported as absent.
func (s *Store) Load(identity string) (*State, bool) {
	path := s.Path(identity)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).WithField("path", path).Warn("Session file unreadable")
		}
		return nil, false
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.WithError(err).WithField("path", path).Warn("Session file corrupt, ignoring")
		return nil, false
	}
	if len(state.Cookies) == 0 {
		return nil, false
	}

	s.log.DebugWithFields("Session loaded", map[string]interface{}{
		"identity": identity,
		"cookies":  len(state.Cookies),
		"saved_at": state.SavedAt,
	})
	return &state, true
}

// Save atomically replaces identity's state
func (s *Store) Save(identity string, cookies []Cookie) error {
	mu := s.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	state := State{
		Identity: identity,
		Cookies:  cookies,
		SavedAt:  time.Now(),
		Version:  version,
	}

	path := s.Path(identity)
	tempPath := path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.log.DebugWithFields("Session saved", map[string]interface{}{
		"identity": identity,
		"cookies":  len(cookies),
	})
	return nil
}

// Delete removes identity's state; a missing file is not an error
func (s *Store) Delete(identity string) error {
	mu := s.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(s.Path(identity)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Info summarizes a saved session without its cookie values
type Info struct {
	Identity string
	Cookies  int
	SavedAt  time.Time
}

// List describes every readable session file in the directory
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var state State
		if json.Unmarshal(data, &state) != nil {
			continue
		}
		infos = append(infos, Info{Identity: state.Identity, Cookies: len(state.Cookies), SavedAt: state.SavedAt})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Identity < infos[j].Identity })
	return infos, nil
}
