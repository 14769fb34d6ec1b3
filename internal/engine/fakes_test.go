package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iambrandonn/bmoffice/internal/motion"
	"github.com/iambrandonn/bmoffice/internal/office"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/zones"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned snapshots per company and records write calls
type fakeSource struct {
	mu          sync.Mutex
	snapshots   map[string]*protocol.Snapshot
	logs        map[string][]protocol.LogEntry
	fetchErr    error
	ackErr      error
	logErr      error
	progressErr error
	cleanupErr  error
	// gate, when set, blocks FetchSnapshot until closed; inFlight receives
	// the company id of each blocked fetch. A blocked fetch answers with the
	// snapshot that was set when it started.
	gate     chan struct{}
	inFlight chan string

	fetches  int
	acks     []string
	progress map[string][]float64
	cleanups int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		snapshots: make(map[string]*protocol.Snapshot),
		logs:      make(map[string][]protocol.LogEntry),
		progress:  make(map[string][]float64),
	}
}

func (f *fakeSource) set(companyID string, agents []protocol.Agent, pending ...protocol.PendingMovement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[companyID] = &protocol.Snapshot{CompanyID: companyID, Agents: agents, PendingMovements: pending}
}

func (f *fakeSource) FetchSnapshot(ctx context.Context, companyID string) (*protocol.Snapshot, error) {
	f.mu.Lock()
	gate, inFlight := f.gate, f.inFlight
	f.fetches++
	snap, ok := f.snapshots[companyID]
	f.mu.Unlock()

	if gate != nil {
		if inFlight != nil {
			inFlight <- companyID
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if !ok {
		return &protocol.Snapshot{CompanyID: companyID}, nil
	}
	cp := *snap
	cp.Agents = append([]protocol.Agent(nil), snap.Agents...)
	cp.PendingMovements = append([]protocol.PendingMovement(nil), snap.PendingMovements...)
	return &cp, nil
}

func (f *fakeSource) FetchLogs(ctx context.Context, companyID string, q protocol.LogQuery) (*protocol.LogPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return nil, f.logErr
	}
	logs := append([]protocol.LogEntry(nil), f.logs[companyID]...)
	return &protocol.LogPage{Logs: logs, Total: len(logs)}, nil
}

func (f *fakeSource) ReportProgress(ctx context.Context, companyID, movementID string, progress float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[movementID] = append(f.progress[movementID], progress)
	return f.progressErr
}

func (f *fakeSource) AcknowledgeComplete(ctx context.Context, companyID, movementID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, movementID)
	return f.ackErr
}

func (f *fakeSource) CleanupStaleMovements(ctx context.Context, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return f.cleanupErr
}

func (f *fakeSource) ackCount(movementID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.acks {
		if id == movementID {
			n++
		}
	}
	return n
}

func (f *fakeSource) reported(movementID string) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.progress[movementID]...)
}

func (f *fakeSource) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

// waitDrained fails the test when background movement work outlives waitFor
func waitDrained(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("background movement work did not drain")
	}
}

// fakeHandle is a move the test finishes by hand
type fakeHandle struct {
	actorID  string
	to       zones.Position
	progress chan float64
	done     chan struct{}
	once     sync.Once
	arrived  atomic.Bool
}

func (h *fakeHandle) Progress() <-chan float64 { return h.progress }
func (h *fakeHandle) Done() <-chan struct{}    { return h.done }
func (h *fakeHandle) Arrived() bool            { return h.arrived.Load() }
func (h *fakeHandle) Cancel()                  { h.finish(false) }

func (h *fakeHandle) finish(arrived bool) {
	h.once.Do(func() {
		h.arrived.Store(arrived)
		close(h.done)
	})
}

func (h *fakeHandle) step(p float64) { h.progress <- p }
func (h *fakeHandle) arrive()        { h.finish(true) }

type fakeAnimator struct {
	mu      sync.Mutex
	handles map[string][]*fakeHandle
}

func newFakeAnimator() *fakeAnimator {
	return &fakeAnimator{handles: make(map[string][]*fakeHandle)}
}

func (a *fakeAnimator) Move(ctx context.Context, actorID string, from, to zones.Position) motion.Handle {
	h := &fakeHandle{
		actorID:  actorID,
		to:       to,
		progress: make(chan float64, 16),
		done:     make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			h.finish(false)
		case <-h.done:
		}
	}()

	a.mu.Lock()
	a.handles[actorID] = append(a.handles[actorID], h)
	a.mu.Unlock()
	return h
}

func (a *fakeAnimator) moves(actorID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles[actorID])
}

func (a *fakeAnimator) last(t *testing.T, actorID string) *fakeHandle {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	hs := a.handles[actorID]
	require.NotEmpty(t, hs, "no move started for %s", actorID)
	return hs[len(hs)-1]
}

// manualClock fires After channels only when told to
type manualClock struct {
	mu      sync.Mutex
	waiters []chan time.Time
	now     time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 10, 19, 18, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, ch)
	return ch
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *manualClock) fire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.waiters {
		ch <- c.now
	}
	c.waiters = nil
}

// recorder collects events
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	src   *fakeSource
	anim  *fakeAnimator
	clock *manualClock
	rec   *recorder
	s     *Session
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		src:   newFakeSource(),
		anim:  newFakeAnimator(),
		clock: newManualClock(),
		rec:   &recorder{},
	}
	opts := Options{
		Source:         h.src,
		Animator:       h.anim,
		Sink:           h.rec,
		Clock:          h.clock,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		RequestTimeout: time.Second,
		HandoffDwell:   time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := NewSession(opts)
	require.NoError(t, err)
	h.s = s
	t.Cleanup(s.Dispose)
	return h
}

func (h *harness) actor(t *testing.T, id string) office.Actor {
	t.Helper()
	got, ok := h.s.Actor(id)
	require.True(t, ok, "actor %s missing", id)
	return got
}

func (h *harness) activeIDs() []string {
	var ids []string
	for _, mv := range h.s.ActiveMovements() {
		ids = append(ids, mv.ID)
	}
	return ids
}

func (h *harness) movement(t *testing.T, id string) *movement {
	t.Helper()
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	mv, ok := h.s.choreo.active[id]
	require.True(t, ok, "movement %s not active", id)
	return mv
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond
