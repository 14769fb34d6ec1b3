// Package engine reconciles polled backend state with local actors and
// choreographs pending movements.
//
// A Session owns the actor registry, the active-movement table and the poll
// generation counter. Every mutation of those happens under the session lock,
// in the order poll cycles and animation callbacks arrive. Network calls and
// dwell waits happen outside the lock; their results are checked against the
// generation captured when they started and dropped if a reset happened in
// between.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iambrandonn/bmoffice/internal/office"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/zones"
)

// Options configures a Session
type Options struct {
	Source   RemoteStateSource
	Animator Animator
	Layout   *zones.Layout
	Sink     EventSink
	Logger   *slog.Logger
	Clock    Clock

	// RequestTimeout bounds every backend call (default 10s)
	RequestTimeout time.Duration
	// HandoffDwell is how long a handoff discussion lasts before the
	// movement is acknowledged (default 2s, negative for none)
	HandoffDwell time.Duration
	// CleanupEvery triggers a stale-movement cleanup every N successful
	// cycles; zero disables it
	CleanupEvery int
	// LogLimit is the page size of the per-cycle log fetch; zero disables it
	LogLimit int
}

const (
	defaultRequestTimeout = 10 * time.Second
	defaultHandoffDwell   = 2 * time.Second
)

// Session is one reconciliation context. Create with NewSession, point it at
// a company with SwitchCompany, drive it with a PollLoop, and release it
// with Dispose.
type Session struct {
	id     string
	source RemoteStateSource
	anim   Animator
	layout *zones.Layout
	sink   EventSink
	logger *slog.Logger
	clock  Clock

	requestTimeout time.Duration
	handoffDwell   time.Duration
	cleanupEvery   int
	logLimit       int

	// ctx scopes background work (animations, dwell, acknowledge calls)
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	// cycleMu serializes whole poll cycles
	cycleMu sync.Mutex

	mu           sync.Mutex
	state        SessionState
	companyID    string
	generation   uint64
	registry     *office.Registry
	choreo       *Choreographer
	selected     string
	roleConfigs  map[string]protocol.RoleConfig
	connectivity Connectivity
	okCycles     int
	lastLogIDs   map[string]struct{}
	wake         chan struct{}
}

// NewSession creates an idle session
func NewSession(opts Options) (*Session, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("session requires a remote state source")
	}
	if opts.Animator == nil {
		return nil, fmt.Errorf("session requires an animator")
	}
	if opts.Layout == nil {
		opts.Layout = zones.NewLayout()
	}
	if opts.Sink == nil {
		opts.Sink = discardSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.HandoffDwell < 0 {
		opts.HandoffDwell = 0
	} else if opts.HandoffDwell == 0 {
		opts.HandoffDwell = defaultHandoffDwell
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:             uuid.New().String()[:8],
		source:         opts.Source,
		anim:           opts.Animator,
		layout:         opts.Layout,
		sink:           opts.Sink,
		logger:         opts.Logger,
		clock:          opts.Clock,
		requestTimeout: opts.RequestTimeout,
		handoffDwell:   opts.HandoffDwell,
		cleanupEvery:   opts.CleanupEvery,
		logLimit:       opts.LogLimit,
		ctx:            ctx,
		cancel:         cancel,
		state:          StateIdle,
		registry:       office.NewRegistry(),
		connectivity:   ConnectivityUnknown,
		wake:           make(chan struct{}, 1),
	}
	s.logger = s.logger.With("session", s.id)
	s.choreo = newChoreographer(s)
	return s, nil
}

// ID returns the session's short identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the lifecycle state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the current poll generation
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// CompanyID returns the observed company, or "" when idle
func (s *Session) CompanyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.companyID
}

// Connectivity returns the last connectivity signal
func (s *Session) Connectivity() Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectivity
}

// Actors returns copies of the reconciled actors sorted by id
func (s *Session) Actors() []office.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.registry.All()
	out := make([]office.Actor, 0, len(all))
	for _, a := range all {
		out = append(out, a.Clone())
	}
	return out
}

// Actor returns a copy of one actor
func (s *Session) Actor(id string) (office.Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.registry.Get(id)
	if a == nil {
		return office.Actor{}, false
	}
	return a.Clone(), true
}

// ActiveMovements describes the locally tracked movements sorted by id
func (s *Session) ActiveMovements() []MovementInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.choreo.snapshot()
}

// Select marks an actor as selected. Returns false for unknown ids.
func (s *Session) Select(actorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry.Get(actorID) == nil {
		return false
	}
	s.selected = actorID
	return true
}

// Selected returns the selected actor id, or ""
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SwitchCompany resets the session and starts observing companyID. While a
// switch runs, further switch requests return ErrSwitchInProgress and change
// nothing. The first snapshot of the new company is loaded before returning;
// a failed load leaves the session active with degraded connectivity.
func (s *Session) SwitchCompany(ctx context.Context, companyID string) error {
	if companyID == "" {
		return ErrNoCompany
	}

	s.mu.Lock()
	switch s.state {
	case StateSwitching:
		s.mu.Unlock()
		s.logger.Debug("ignoring company switch, another is in progress", "company", companyID)
		return ErrSwitchInProgress
	case StateDisposed:
		s.mu.Unlock()
		return ErrDisposed
	}
	s.transitionLocked(StateSwitching)
	gen := s.resetLocked()
	s.companyID = companyID
	s.emitLocked(Event{Kind: EventCompanySwitched})
	s.mu.Unlock()

	s.logger.Info("switching company", "company", companyID, "generation", gen)
	s.cycle(ctx, gen, companyID)

	s.mu.Lock()
	if s.generation == gen && s.state == StateSwitching {
		s.transitionLocked(StateActive)
	}
	s.mu.Unlock()

	s.Wake()
	return nil
}

// Stop stops observing the current company. In-flight results are dropped.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisposed {
		return
	}
	gen := s.resetLocked()
	s.companyID = ""
	s.transitionLocked(StateIdle)
	s.logger.Info("session stopped", "generation", gen)
}

// Dispose tears the session down and waits for background work to finish.
// The session cannot be used afterwards.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.companyID = ""
	s.transitionLocked(StateDisposed)
	s.mu.Unlock()

	s.cancel()
	s.bg.Wait()
	s.logger.Info("session disposed")
}

// Wait blocks until background movement work has drained
func (s *Session) Wait() {
	s.bg.Wait()
}

// Wake asks a waiting poll loop to run its next cycle now
func (s *Session) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) transitionLocked(to SessionState) {
	if !s.state.canTransition(to) {
		s.logger.Error("illegal session transition", "from", s.state, "to", to)
		return
	}
	s.state = to
}

// resetLocked bumps the generation and tears down all local state
func (s *Session) resetLocked() uint64 {
	s.generation++
	for _, a := range s.registry.All() {
		s.destroyActorLocked(a)
	}
	s.registry.Clear()
	s.choreo.reset()
	s.layout.Reset()
	s.selected = ""
	s.roleConfigs = nil
	s.okCycles = 0
	s.lastLogIDs = nil
	s.connectivity = ConnectivityUnknown
	return s.generation
}

// destroyActorLocked cancels the actor's movements, clears selection and
// removes it from the registry
func (s *Session) destroyActorLocked(a *office.Actor) {
	s.choreo.cancelFor(a)
	if s.selected == a.ID {
		s.selected = ""
	}
	s.registry.Remove(a.ID)
	s.emitLocked(Event{Kind: EventActorRemoved, ActorID: a.ID})
}

func (s *Session) emitLocked(evt Event) {
	evt.At = s.clock.Now().UTC()
	evt.CompanyID = s.companyID
	evt.Generation = s.generation
	s.sink.Emit(evt)
}

func (s *Session) emitActorLocked(kind EventKind, a *office.Actor) {
	c := a.Clone()
	s.emitLocked(Event{Kind: kind, ActorID: a.ID, Actor: &c})
}

func (s *Session) setConnectivityLocked(c Connectivity, err error) {
	if s.connectivity == c {
		return
	}
	s.connectivity = c
	evt := Event{Kind: EventConnectivity, Connectivity: c}
	if err != nil {
		evt.Error = err.Error()
	}
	s.emitLocked(evt)
}

// liveLocked reports whether work started under gen for actor may still
// touch session state
func (s *Session) liveLocked(gen uint64, a *office.Actor) bool {
	return gen == s.generation && s.registry.Contains(a)
}

func (s *Session) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.requestTimeout)
}
