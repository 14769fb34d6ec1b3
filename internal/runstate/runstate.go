// Package runstate persists what the last watch session observed so the next
// one can pick up the same company.
package runstate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iambrandonn/bmoffice/internal/engine"
	"github.com/iambrandonn/bmoffice/internal/fsutil"
)

// Status represents the overall state of a watch session
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusFailed  Status = "failed"
)

// WatchState is the persisted record of a watch session
type WatchState struct {
	SessionID    string              `json:"session_id"`
	Status       Status              `json:"status"`
	CompanyID    string              `json:"company_id,omitempty"`
	Generation   uint64              `json:"generation"`
	Connectivity engine.Connectivity `json:"connectivity,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	StoppedAt    *time.Time          `json:"stopped_at,omitempty"`
	LastEventAt  *time.Time          `json:"last_event_at,omitempty"`
	// Acknowledged counts movements completed and acknowledged upstream
	Acknowledged int `json:"acknowledged"`
	// Companies maps each company observed to when it was last switched to
	Companies map[string]time.Time `json:"companies,omitempty"`
}

// NewWatchState creates a running state for sessionID
func NewWatchState(sessionID string) *WatchState {
	return &WatchState{
		SessionID: sessionID,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		Companies: make(map[string]time.Time),
	}
}

// Save writes state to disk atomically
func Save(state *WatchState, path string) error {
	return fsutil.AtomicWriteJSON(path, state)
}

// Load reads state from disk
func Load(path string) (*WatchState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watch state: %w", err)
	}

	var state WatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal watch state: %w", err)
	}

	if state.Companies == nil {
		state.Companies = make(map[string]time.Time)
	}

	return &state, nil
}

// DefaultPath returns the standard state path under dir
func DefaultPath(dir string) string {
	return filepath.Join(dir, ".bmoffice", "state.json")
}

// LastCompany returns the company the session at path last observed, or ""
// when there is no readable state
func LastCompany(path string) string {
	state, err := Load(path)
	if err != nil {
		return ""
	}
	return state.CompanyID
}

// MarkStopped marks the session as cleanly stopped
func (s *WatchState) MarkStopped() {
	s.Status = StatusStopped
	now := time.Now().UTC()
	s.StoppedAt = &now
}

// MarkFailed marks the session as failed
func (s *WatchState) MarkFailed() {
	s.Status = StatusFailed
	now := time.Now().UTC()
	s.StoppedAt = &now
}

// Apply folds one session event into the state
func (s *WatchState) Apply(evt engine.Event) {
	at := evt.At
	s.LastEventAt = &at

	switch evt.Kind {
	case engine.EventCompanySwitched:
		s.CompanyID = evt.CompanyID
		s.Generation = evt.Generation
		if s.Companies == nil {
			s.Companies = make(map[string]time.Time)
		}
		s.Companies[evt.CompanyID] = evt.At
	case engine.EventConnectivity:
		s.Connectivity = evt.Connectivity
	case engine.EventMovementCompleted:
		if evt.Movement != nil && evt.Movement.Acknowledged {
			s.Acknowledged++
		}
	}
}

// Tracker is an engine.EventSink keeping a WatchState current. Emit only
// touches memory; Save writes the file.
type Tracker struct {
	mu     sync.Mutex
	path   string
	state  *WatchState
	logger *slog.Logger
}

// NewTracker creates a tracker persisting to path. The session id is set by
// Begin once the session exists.
func NewTracker(path string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		path:   path,
		state:  NewWatchState(""),
		logger: logger,
	}
}

// Begin names the session being tracked
func (t *Tracker) Begin(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.SessionID = sessionID
}

// Emit records evt
func (t *Tracker) Emit(evt engine.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Apply(evt)
}

// State returns a copy of the current state
func (t *Tracker) State() WatchState {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := *t.state
	c.Companies = make(map[string]time.Time, len(t.state.Companies))
	for k, v := range t.state.Companies {
		c.Companies[k] = v
	}
	return c
}

// Save writes the current state
func (t *Tracker) Save() error {
	state := t.State()
	if err := Save(&state, t.path); err != nil {
		return err
	}
	t.logger.Debug("saved watch state", "path", t.path, "company", state.CompanyID, "generation", state.Generation)
	return nil
}

// Finish marks the session stopped, or failed when err is non-nil, and saves
func (t *Tracker) Finish(err error) error {
	t.mu.Lock()
	if err != nil {
		t.state.MarkFailed()
	} else {
		t.state.MarkStopped()
	}
	t.mu.Unlock()
	return t.Save()
}

var _ engine.EventSink = (*Tracker)(nil)
