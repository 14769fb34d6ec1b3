package engine

import (
	"context"
	"sort"
	"time"

	"github.com/iambrandonn/bmoffice/internal/motion"
	"github.com/iambrandonn/bmoffice/internal/office"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/zones"
)

// movement is one locally active movement instance
type movement struct {
	id         string
	companyID  string
	generation uint64
	actor      *office.Actor
	purpose    protocol.Purpose
	zone       zones.Zone
	dest       zones.Position
	startedAt  time.Time
	handle     motion.Handle
	// ctx bounds the walk and the handoff dwell; cancel ends both
	ctx        context.Context
	cancel     context.CancelFunc
	milestones milestones
	progress   float64

	arrived  bool
	released bool
	// purged is set when the backend stopped listing the movement before
	// it finished locally
	purged bool
}

func (mv *movement) info() *MovementInfo {
	return &MovementInfo{
		ID:          mv.id,
		ActorID:     mv.actor.ID,
		Purpose:     mv.purpose,
		Zone:        mv.zone,
		Destination: mv.dest,
		Progress:    mv.progress,
		StartedAt:   mv.startedAt,
	}
}

// Choreographer turns pending movements into at most one local animation
// per actor and reports their completion to the backend. All methods except
// run expect the session lock to be held.
type Choreographer struct {
	s      *Session
	active map[string]*movement
	// acked holds movements acknowledged locally that the backend may still
	// list in a snapshot fetched before the acknowledgement landed
	acked map[string]struct{}
	// inflight holds every started movement not yet released, purged ones
	// included
	inflight map[*movement]struct{}
}

func newChoreographer(s *Session) *Choreographer {
	return &Choreographer{
		s:        s,
		active:   make(map[string]*movement),
		acked:    make(map[string]struct{}),
		inflight: make(map[*movement]struct{}),
	}
}

// Process applies one cycle's pending list:
//  1. start handoffs not yet active
//  2. start returns not yet active, unless the actor has an active handoff
//  3. drop active movements the backend no longer lists
func (c *Choreographer) Process(pending []protocol.PendingMovement) {
	listed := make(map[string]struct{}, len(pending))
	var handoffs, returns []protocol.PendingMovement

	for _, pm := range pending {
		if pm.ID == "" {
			continue
		}
		listed[pm.ID] = struct{}{}
		switch pm.Purpose {
		case protocol.PurposeHandoff:
			handoffs = append(handoffs, pm)
		case protocol.PurposeReturn:
			returns = append(returns, pm)
		default:
			c.s.logger.Debug("skipping movement with unknown purpose", "movement", pm.ID, "purpose", pm.Purpose)
		}
	}

	for _, pm := range handoffs {
		if c.known(pm.ID) {
			continue
		}
		c.start(pm)
	}

	for _, pm := range returns {
		if c.known(pm.ID) {
			continue
		}
		if c.hasActiveHandoff(pm.AgentID) {
			c.s.logger.Debug("deferring return behind active handoff", "movement", pm.ID, "agent", pm.AgentID)
			continue
		}
		c.start(pm)
	}

	for id, mv := range c.active {
		if _, ok := listed[id]; ok {
			continue
		}
		c.s.logger.Info("movement resolved remotely", "movement", id, "agent", mv.actor.ID)
		mv.purged = true
		delete(c.active, id)
	}
	for id := range c.acked {
		if _, ok := listed[id]; !ok {
			delete(c.acked, id)
		}
	}
}

// known reports whether id is active or already acknowledged
func (c *Choreographer) known(id string) bool {
	if _, ok := c.active[id]; ok {
		return true
	}
	_, ok := c.acked[id]
	return ok
}

func (c *Choreographer) hasActiveHandoff(agentID string) bool {
	for _, mv := range c.active {
		if mv.actor.ID == agentID && mv.purpose == protocol.PurposeHandoff {
			return true
		}
	}
	return false
}

// start claims the actor and launches its animation. Missing or busy actors
// are skipped; the movement is retried next cycle while still pending.
func (c *Choreographer) start(pm protocol.PendingMovement) {
	s := c.s
	actor := s.registry.Get(pm.AgentID)
	if actor == nil {
		s.logger.Debug("movement for unknown agent", "movement", pm.ID, "agent", pm.AgentID)
		return
	}
	if actor.Busy {
		s.logger.Debug("agent busy, movement deferred", "movement", pm.ID, "agent", pm.AgentID)
		return
	}

	var zone zones.Zone
	var dest zones.Position
	if pm.Purpose == protocol.PurposeReturn {
		zone, dest = actor.HomeZone, actor.HomeAnchor
	} else {
		zone, dest = s.layout.Destination(pm.ToZone)
	}

	if err := actor.BeginWalk(office.InteractionFor(pm)); err != nil {
		return
	}

	mv := &movement{
		id:         pm.ID,
		companyID:  s.companyID,
		generation: s.generation,
		actor:      actor,
		purpose:    pm.Purpose,
		zone:       zone,
		dest:       dest,
		startedAt:  s.clock.Now().UTC(),
		progress:   pm.Progress,
	}
	mv.milestones.seed(pm.Progress)
	mv.ctx, mv.cancel = context.WithCancel(s.ctx)
	c.active[pm.ID] = mv
	c.inflight[mv] = struct{}{}

	s.logger.Info("movement started", "movement", pm.ID, "agent", actor.ID, "purpose", pm.Purpose, "zone", zone)
	s.emitActorLocked(EventActorUpdated, actor)
	s.emitLocked(Event{Kind: EventMovementStarted, ActorID: actor.ID, Movement: mv.info()})

	mv.handle = s.anim.Move(mv.ctx, actor.ID, actor.Position, dest)
	s.bg.Add(1)
	go c.run(mv)
}

// run follows one animation to its end. It holds no lock itself.
func (c *Choreographer) run(mv *movement) {
	defer c.s.bg.Done()
	h := mv.handle

	for {
		select {
		case p := <-h.Progress():
			c.progress(mv, p)
		case <-h.Done():
			if !h.Arrived() {
				return
			}
			select {
			case p := <-h.Progress():
				c.progress(mv, p)
			default:
			}
			if c.arrive(mv) {
				c.complete(mv)
			}
			return
		}
	}
}

// progress records p and reports newly crossed milestones upstream without
// waiting for the backend
func (c *Choreographer) progress(mv *movement, p float64) {
	s := c.s
	s.mu.Lock()
	if mv.purged || !s.liveLocked(mv.generation, mv.actor) {
		s.mu.Unlock()
		return
	}
	if p > mv.progress {
		mv.progress = p
	}
	crossed := mv.milestones.cross(p)
	for _, m := range crossed {
		info := mv.info()
		info.Progress = m
		s.emitLocked(Event{Kind: EventMovementProgress, ActorID: mv.actor.ID, Movement: info})
	}
	if len(crossed) > 0 {
		s.bg.Add(1)
	}
	s.mu.Unlock()

	if len(crossed) == 0 {
		return
	}
	go func() {
		defer s.bg.Done()
		for _, m := range crossed {
			ctx, cancel := s.requestContext(s.ctx)
			err := s.source.ReportProgress(ctx, mv.companyID, mv.id, m)
			cancel()
			if err != nil {
				s.logger.Warn("failed to report movement progress", "movement", mv.id, "progress", m, "error", err)
			}
		}
	}()
}

// arrive applies the arrival once per movement instance. It returns true
// when the caller should go on to complete the movement.
func (c *Choreographer) arrive(mv *movement) bool {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if mv.arrived {
		return false
	}
	mv.arrived = true

	if !s.liveLocked(mv.generation, mv.actor) {
		s.logger.Debug("arrival for destroyed actor ignored", "movement", mv.id, "agent", mv.actor.ID)
		return false
	}

	mv.actor.ArriveAt(mv.dest, mv.purpose)
	s.logger.Info("movement arrived", "movement", mv.id, "agent", mv.actor.ID, "purpose", mv.purpose)
	s.emitActorLocked(EventActorUpdated, mv.actor)
	s.emitLocked(Event{Kind: EventMovementArrived, ActorID: mv.actor.ID, Movement: mv.info()})

	if mv.purged {
		c.releaseLocked(mv, false)
		return false
	}
	return true
}

// complete holds handoffs for the dwell, acknowledges the movement and
// releases the actor whatever the backend answered
func (c *Choreographer) complete(mv *movement) {
	s := c.s

	if mv.purpose == protocol.PurposeHandoff && s.handoffDwell > 0 {
		select {
		case <-s.clock.After(s.handoffDwell):
		case <-mv.ctx.Done():
			return
		}

		s.mu.Lock()
		if !s.liveLocked(mv.generation, mv.actor) {
			s.mu.Unlock()
			return
		}
		if mv.purged {
			c.releaseLocked(mv, false)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}

	ctx, cancel := s.requestContext(s.ctx)
	err := s.source.AcknowledgeComplete(ctx, mv.companyID, mv.id)
	cancel()
	if err != nil {
		s.logger.Warn("failed to acknowledge movement", "movement", mv.id, "error", err)
	}

	s.mu.Lock()
	c.releaseLocked(mv, err == nil)
	s.mu.Unlock()
}

// releaseLocked clears the movement's tracking and hands the actor back to
// remote control. Safe to call more than once.
func (c *Choreographer) releaseLocked(mv *movement, acknowledged bool) {
	s := c.s
	if mv.released {
		return
	}
	mv.released = true
	c.dropLocked(mv)
	if acknowledged && mv.generation == s.generation {
		c.acked[mv.id] = struct{}{}
	}
	if !s.liveLocked(mv.generation, mv.actor) {
		return
	}

	mv.actor.Release(office.StatusIdle)
	info := mv.info()
	info.Acknowledged = acknowledged
	s.logger.Info("movement completed", "movement", mv.id, "agent", mv.actor.ID, "acknowledged", acknowledged)
	s.emitLocked(Event{Kind: EventMovementCompleted, ActorID: mv.actor.ID, Movement: info})
	s.emitActorLocked(EventActorUpdated, mv.actor)
}

// dropLocked forgets mv and ends its context
func (c *Choreographer) dropLocked(mv *movement) {
	if c.active[mv.id] == mv {
		delete(c.active, mv.id)
	}
	delete(c.inflight, mv)
	if mv.cancel != nil {
		mv.cancel()
	}
}

// cancelFor stops every walk and dwell bound to actor, including movements
// the backend already stopped listing
func (c *Choreographer) cancelFor(actor *office.Actor) {
	for mv := range c.inflight {
		if mv.actor != actor {
			continue
		}
		if mv.handle != nil {
			mv.handle.Cancel()
		}
		c.dropLocked(mv)
	}
}

// reset drops all tracking; callers destroy the actors first
func (c *Choreographer) reset() {
	for mv := range c.inflight {
		if mv.handle != nil {
			mv.handle.Cancel()
		}
		c.dropLocked(mv)
	}
	clear(c.active)
	clear(c.acked)
}

func (c *Choreographer) snapshot() []MovementInfo {
	out := make([]MovementInfo, 0, len(c.active))
	for _, mv := range c.active {
		out = append(out, *mv.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
