package engine

import (
	"context"
	"sort"
	"time"

	"github.com/iambrandonn/bmoffice/internal/office"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/zones"
)

// CycleResult describes what one poll cycle did
type CycleResult struct {
	// Skipped: no company is being observed
	Skipped bool
	// Discarded: a reset happened while the fetch was in flight
	Discarded bool
	// Diff is what was applied to the registry
	Diff office.Diff
	// Err is the snapshot fetch failure, if any
	Err error
}

// PollLoop drives a session with delay-after-completion scheduling: the next
// fetch is issued only after the previous cycle has been fully applied.
type PollLoop struct {
	s        *Session
	interval time.Duration
}

// NewPollLoop creates a loop polling every interval
func NewPollLoop(s *Session, interval time.Duration) *PollLoop {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollLoop{s: s, interval: interval}
}

// Run polls until ctx is done, then stops the session
func (l *PollLoop) Run(ctx context.Context) error {
	l.s.logger.Info("poll loop started", "interval", l.interval)
	defer l.s.logger.Info("poll loop stopped")

	for {
		res := l.s.RunCycle(ctx)
		if res.Err != nil {
			l.s.logger.Debug("poll cycle failed", "error", res.Err)
		}

		select {
		case <-ctx.Done():
			l.s.Stop()
			return ctx.Err()
		case <-l.s.wake:
		case <-l.s.clock.After(l.interval):
		}
	}
}

// RunCycle runs one poll cycle against the current company. It never
// returns an error to the caller; failures show up as connectivity events
// and in CycleResult.
func (s *Session) RunCycle(ctx context.Context) CycleResult {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return CycleResult{Skipped: true}
	}
	gen, company := s.generation, s.companyID
	s.mu.Unlock()

	return s.cycle(ctx, gen, company)
}

// cycle is fetch → diff → apply → movements → logs for generation gen
func (s *Session) cycle(ctx context.Context, gen uint64, companyID string) CycleResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	fctx, cancel := s.requestContext(ctx)
	snap, err := s.source.FetchSnapshot(fctx, companyID)
	cancel()
	if err == nil && snap == nil {
		err = ErrEmptySnapshot
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarding stale snapshot", "generation", gen)
		return CycleResult{Discarded: true}
	}
	if err != nil {
		s.setConnectivityLocked(ConnectivityDegraded, err)
		s.mu.Unlock()
		s.logger.Warn("snapshot fetch failed", "company", companyID, "error", err)
		return CycleResult{Err: err}
	}
	s.setConnectivityLocked(ConnectivityConnected, nil)

	diff := office.ComputeDiff(s.registry.IDs(), snap.Agents, s.registry.Actors())
	s.applyLocked(diff, snap.RoleConfigs)
	s.choreo.Process(snap.PendingMovements)

	s.okCycles++
	cleanup := s.cleanupEvery > 0 && s.okCycles%s.cleanupEvery == 0
	if cleanup {
		s.bg.Add(1)
	}
	s.mu.Unlock()

	if !diff.Empty() {
		s.logger.Debug("snapshot applied",
			"added", len(diff.ToAdd),
			"removed", len(diff.ToRemove),
			"updated", len(diff.ToUpdate))
	}

	s.fetchLogs(ctx, gen, companyID)

	if cleanup {
		go s.cleanupStale(companyID)
	}

	return CycleResult{Diff: diff}
}

// applyLocked applies a diff: removals, then additions, then updates
func (s *Session) applyLocked(diff office.Diff, roleConfigs map[string]protocol.RoleConfig) {
	if roleConfigs != nil {
		s.roleConfigs = roleConfigs
	}

	for _, id := range diff.ToRemove {
		if a := s.registry.Get(id); a != nil {
			s.destroyActorLocked(a)
		}
	}

	for _, agent := range diff.ToAdd {
		zone := zones.HomeZone(agent.Role, s.roleConfigs)
		actor := office.NewActor(agent, zone, s.layout.AssignDesk(zone))
		s.registry.Upsert(agent.ID, actor)
		s.emitActorLocked(EventActorAdded, actor)
	}

	for _, agent := range diff.ToUpdate {
		actor := s.registry.Get(agent.ID)
		if actor == nil || !actor.ApplyRemote(agent) {
			continue
		}
		s.emitActorLocked(EventActorUpdated, actor)
	}
}

// fetchLogs emits log entries not seen in the previous page
func (s *Session) fetchLogs(ctx context.Context, gen uint64, companyID string) {
	if s.logLimit <= 0 {
		return
	}

	lctx, cancel := s.requestContext(ctx)
	page, err := s.source.FetchLogs(lctx, companyID, protocol.LogQuery{Limit: s.logLimit})
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	if err != nil {
		s.setConnectivityLocked(ConnectivityDegraded, err)
		s.logger.Warn("log fetch failed", "company", companyID, "error", err)
		return
	}
	if page == nil {
		return
	}

	seen := make(map[string]struct{}, len(page.Logs))
	var fresh []protocol.LogEntry
	for _, entry := range page.Logs {
		seen[entry.ID] = struct{}{}
		if _, ok := s.lastLogIDs[entry.ID]; ok {
			continue
		}
		fresh = append(fresh, entry)
	}
	s.lastLogIDs = seen

	if len(fresh) == 0 {
		return
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Timestamp.Before(fresh[j].Timestamp) })
	s.emitLocked(Event{Kind: EventLogs, Logs: fresh})
}

// cleanupStale asks the backend to drop stale movements. Failures are logged
// and otherwise ignored.
func (s *Session) cleanupStale(companyID string) {
	defer s.bg.Done()
	ctx, cancel := s.requestContext(s.ctx)
	defer cancel()
	if err := s.source.CleanupStaleMovements(ctx, companyID); err != nil {
		s.logger.Warn("stale movement cleanup failed", "company", companyID, "error", err)
		return
	}
	s.logger.Debug("stale movement cleanup done", "company", companyID)
}
