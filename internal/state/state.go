// Package state persists the outcome of the last synchronization between restarts.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/tartampluch/go-untis-sync/internal/atomicfile"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"gopkg.in/yaml.v3"
)

// State is the YAML document written after each scheduled or manual run.
type State struct {
	// LastRunDate is the local date (YYYY-MM-DD) of the last successful automatic sync.
	LastRunDate string    `yaml:"last_run_date,omitempty"`
	LastSyncAt  time.Time `yaml:"last_sync_at,omitempty"`
	LastStatus  string    `yaml:"last_status,omitempty"`
	LastMessage string    `yaml:"last_message,omitempty"`
	LastPushed  int       `yaml:"last_pushed"`
}

// Store reads and writes State at Path. It is safe for concurrent use.
type Store struct {
	Path string

	mu sync.Mutex
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load returns the stored state. A missing or empty file yields the zero State.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (State, error) {
	var st State
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("%s: %w", config.ErrStateRead, err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("%s: %w", config.ErrStateRead, err)
	}
	return st, nil
}

// Save replaces the stored state.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(st)
}

func (s *Store) save(st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("%s: %w", config.ErrStateWrite, err)
	}
	if err := atomicfile.Write(s.Path, data, config.FilePermUserRW, config.DirPermUserRWX); err != nil {
		return fmt.Errorf("%s: %w", config.ErrStateWrite, err)
	}
	return nil
}

// Record stores the outcome of a run finished at now. On success the local date of now
// becomes the last run date when markRun is set; failures keep the previous date so the
// scheduler retries on its next tick.
func (s *Store) Record(now time.Time, pushed int, runErr error, markRun bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		// A corrupt file must not block recording new results.
		st = State{}
	}

	st.LastSyncAt = now
	st.LastPushed = pushed
	if runErr != nil {
		st.LastStatus = config.StatusError
		st.LastMessage = runErr.Error()
	} else {
		st.LastStatus = config.StatusSuccess
		st.LastMessage = ""
		if markRun {
			st.LastRunDate = now.Format(config.DateKeyLayout)
		}
	}
	return s.save(st)
}
