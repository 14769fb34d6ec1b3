// Package officesim is a small in-process backend for bmoffice. It keeps
// companies of agents with pending movements, accepts operator events, and
// serves the same HTTP API the client polls.
package officesim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/zones"
)

var (
	ErrUnknownCompany  = errors.New("unknown company")
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrUnknownMovement = errors.New("unknown movement")
)

// DefaultStaleAge is how old a pending movement gets before cleanup drops it
const DefaultStaleAge = 2 * time.Minute

// Seed describes one company to load
type Seed struct {
	ID          string                         `yaml:"id" json:"id"`
	Name        string                         `yaml:"name" json:"name"`
	Agents      []protocol.Agent               `yaml:"agents" json:"agents"`
	RoleConfigs map[string]protocol.RoleConfig `yaml:"role_configs" json:"role_configs"`
}

// Options configures a Simulator
type Options struct {
	// Logs is the event log store; an in-memory store is opened when nil
	Logs     *LogStore
	Logger   *slog.Logger
	Now      func() time.Time
	StaleAge time.Duration
}

type company struct {
	id          string
	name        string
	agents      []*protocol.Agent
	byID        map[string]*protocol.Agent
	movements   []*protocol.PendingMovement
	roleConfigs map[string]protocol.RoleConfig
	// completed remembers finished movement ids so a repeated completion
	// is answered with success
	completed map[string]struct{}
}

func (c *company) movement(id string) (int, *protocol.PendingMovement) {
	for i, mv := range c.movements {
		if mv.ID == id {
			return i, mv
		}
	}
	return -1, nil
}

// Simulator is the backend state. It is safe for concurrent use.
type Simulator struct {
	mu        sync.Mutex
	companies map[string]*company
	// keys holds Idempotency-Key values already applied
	keys     map[string]struct{}
	logs     *LogStore
	ownsLogs bool
	logger   *slog.Logger
	now      func() time.Time
	staleAge time.Duration
}

// New creates a simulator with no companies
func New(opts Options) (*Simulator, error) {
	s := &Simulator{
		companies: make(map[string]*company),
		keys:      make(map[string]struct{}),
		logs:      opts.Logs,
		logger:    opts.Logger,
		now:       opts.Now,
		staleAge:  opts.StaleAge,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.staleAge <= 0 {
		s.staleAge = DefaultStaleAge
	}
	if s.logs == nil {
		logs, err := OpenLogStore(MemoryDSN)
		if err != nil {
			return nil, err
		}
		s.logs = logs
		s.ownsLogs = true
	}
	return s, nil
}

// Close releases the log store if the simulator opened it
func (s *Simulator) Close() error {
	if s.ownsLogs {
		return s.logs.Close()
	}
	return nil
}

// AddCompany loads or replaces a company
func (s *Simulator) AddCompany(seed Seed) error {
	if seed.ID == "" {
		return fmt.Errorf("company seed has no id")
	}
	c := &company{
		id:          seed.ID,
		name:        seed.Name,
		byID:        make(map[string]*protocol.Agent),
		roleConfigs: seed.RoleConfigs,
		completed:   make(map[string]struct{}),
	}
	for _, a := range seed.Agents {
		if a.ID == "" {
			return fmt.Errorf("company %s: agent without id", seed.ID)
		}
		if _, dup := c.byID[a.ID]; dup {
			return fmt.Errorf("company %s: duplicate agent %s", seed.ID, a.ID)
		}
		agent := a
		if agent.Status == "" {
			agent.Status = protocol.StatusIdle
		}
		c.agents = append(c.agents, &agent)
		c.byID[agent.ID] = &agent
	}

	s.mu.Lock()
	s.companies[seed.ID] = c
	s.mu.Unlock()
	s.logger.Info("company loaded", "company", seed.ID, "agents", len(c.agents))
	return nil
}

// Companies lists the companies sorted by id
func (s *Simulator) Companies() []protocol.Company {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, protocol.Company{ID: c.id, Name: c.name, Agents: len(c.agents)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Simulator) companyLocked(id string) (*company, error) {
	c, ok := s.companies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompany, id)
	}
	return c, nil
}

// Snapshot returns a copy of a company's current state
func (s *Simulator) Snapshot(companyID string) (*protocol.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.companyLocked(companyID)
	if err != nil {
		return nil, err
	}
	snap := &protocol.Snapshot{
		CompanyID:        c.id,
		Agents:           make([]protocol.Agent, 0, len(c.agents)),
		PendingMovements: make([]protocol.PendingMovement, 0, len(c.movements)),
		RoleConfigs:      c.roleConfigs,
	}
	for _, a := range c.agents {
		snap.Agents = append(snap.Agents, *a)
	}
	for _, mv := range c.movements {
		snap.PendingMovements = append(snap.PendingMovements, *mv)
	}
	return snap, nil
}

// Logs returns a page of a company's event log
func (s *Simulator) Logs(ctx context.Context, companyID string, q protocol.LogQuery) (*protocol.LogPage, error) {
	s.mu.Lock()
	_, err := s.companyLocked(companyID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.logs.Query(ctx, companyID, q)
}

// ReportProgress records movement progress. Progress never goes backwards.
func (s *Simulator) ReportProgress(companyID, movementID string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.companyLocked(companyID)
	if err != nil {
		return err
	}
	_, mv := c.movement(movementID)
	if mv == nil {
		return fmt.Errorf("%w: %s", ErrUnknownMovement, movementID)
	}
	progress = min(max(progress, 0), 1)
	if progress > mv.Progress {
		mv.Progress = progress
	}
	return nil
}

// Complete finishes a movement. Repeating a completion, by movement id or by
// idempotency key, succeeds without effect. Completing a handoff queues the
// agent's return to its desk.
func (s *Simulator) Complete(ctx context.Context, companyID, movementID, idemKey string) (protocol.Ack, error) {
	s.mu.Lock()

	if idemKey != "" {
		if _, seen := s.keys[idemKey]; seen {
			s.mu.Unlock()
			return protocol.Ack{OK: true}, nil
		}
	}

	c, err := s.companyLocked(companyID)
	if err != nil {
		s.mu.Unlock()
		return protocol.Ack{}, err
	}
	i, mv := c.movement(movementID)
	if mv == nil {
		_, done := c.completed[movementID]
		s.mu.Unlock()
		if done {
			return protocol.Ack{OK: true}, nil
		}
		return protocol.Ack{}, fmt.Errorf("%w: %s", ErrUnknownMovement, movementID)
	}

	c.movements = append(c.movements[:i], c.movements[i+1:]...)
	c.completed[movementID] = struct{}{}
	if idemKey != "" {
		s.keys[idemKey] = struct{}{}
	}

	now := s.now().UTC()
	entry := protocol.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		AgentID:   mv.AgentID,
		EventType: "movement_completed",
		Message:   fmt.Sprintf("%s finished %s movement", mv.AgentID, mv.Purpose),
		Metadata:  map[string]any{"movement_id": mv.ID, "purpose": string(mv.Purpose)},
	}

	if mv.Purpose == protocol.PurposeHandoff {
		ret := &protocol.PendingMovement{
			ID:        uuid.NewString(),
			AgentID:   mv.AgentID,
			FromZone:  mv.ToZone,
			ToZone:    mv.FromZone,
			Purpose:   protocol.PurposeReturn,
			CreatedAt: now,
		}
		c.movements = append(c.movements, ret)
		if a := c.byID[mv.AgentID]; a != nil {
			a.Status = protocol.StatusWalking
		}
		if to := c.byID[mv.ToAgentID]; to != nil && mv.Artifact != "" {
			to.CurrentTask = "review " + mv.Artifact
			to.Status = protocol.StatusReviewing
		}
		entry.Metadata["return_movement_id"] = ret.ID
	} else if a := c.byID[mv.AgentID]; a != nil && a.Status == protocol.StatusWalking {
		a.Status = protocol.StatusIdle
	}
	s.mu.Unlock()

	s.logger.Info("movement completed", "company", companyID, "movement", movementID, "purpose", mv.Purpose)
	if err := s.logs.Append(ctx, companyID, entry); err != nil {
		s.logger.Warn("failed to log completion", "movement", movementID, "error", err)
	}
	return protocol.Ack{OK: true}, nil
}

// CleanupStale drops pending movements older than maxAge (the simulator's
// stale age when maxAge is zero) and returns how many it removed
func (s *Simulator) CleanupStale(companyID string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = s.staleAge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.companyLocked(companyID)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge)
	kept := c.movements[:0]
	removed := 0
	for _, mv := range c.movements {
		if mv.CreatedAt.Before(cutoff) {
			removed++
			if a := c.byID[mv.AgentID]; a != nil && a.Status == protocol.StatusWalking {
				a.Status = protocol.StatusIdle
			}
			continue
		}
		kept = append(kept, mv)
	}
	c.movements = kept
	if removed > 0 {
		s.logger.Info("stale movements removed", "company", companyID, "removed", removed)
	}
	return removed, nil
}

// Inject applies an operator event after validating it
func (s *Simulator) Inject(ctx context.Context, companyID string, req protocol.InjectRequest) (*protocol.InjectResponse, error) {
	if err := ValidateInject(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	c, err := s.companyLocked(companyID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	agent := c.byID[req.AgentID]
	if agent == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, req.AgentID)
	}

	now := s.now().UTC()
	resp := &protocol.InjectResponse{OK: true, LogID: uuid.NewString()}
	entry := protocol.LogEntry{
		ID:        resp.LogID,
		Timestamp: now,
		AgentID:   agent.ID,
		EventType: req.EventType,
	}

	switch req.EventType {
	case protocol.EventStatusChanged:
		agent.Status = req.Status
		entry.Message = fmt.Sprintf("%s is now %s", displayName(agent), req.Status)

	case protocol.EventTaskAssigned:
		agent.CurrentTask = req.Task
		agent.Status = protocol.StatusWorking
		entry.Message = fmt.Sprintf("%s picked up %q", displayName(agent), req.Task)

	case protocol.EventHandoff:
		to := c.byID[req.ToAgentID]
		if to == nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, req.ToAgentID)
		}
		mv := &protocol.PendingMovement{
			ID:          uuid.NewString(),
			AgentID:     agent.ID,
			FromZone:    zones.HomeZone(agent.Role, c.roleConfigs).String(),
			ToZone:      zones.HomeZone(to.Role, c.roleConfigs).String(),
			Purpose:     protocol.PurposeHandoff,
			Artifact:    req.Artifact,
			FromAgentID: agent.ID,
			ToAgentID:   to.ID,
			Action:      "handoff",
			Topic:       req.Topic,
			CreatedAt:   now,
		}
		c.movements = append(c.movements, mv)
		resp.MovementID = mv.ID
		entry.Message = fmt.Sprintf("%s hands %s to %s", displayName(agent), orDefault(req.Artifact, "work"), displayName(to))
		entry.Metadata = map[string]any{"movement_id": mv.ID, "to_agent_id": to.ID}

	case protocol.EventBreak:
		agent.Status = protocol.StatusBreak
		entry.Message = fmt.Sprintf("%s is taking a break", displayName(agent))

	case protocol.EventError:
		agent.Status = protocol.StatusError
		entry.Message = fmt.Sprintf("%s hit an error", displayName(agent))
		if req.Task != "" {
			entry.Message += ": " + req.Task
		}
	}
	s.mu.Unlock()

	s.logger.Debug("event injected", "company", companyID, "type", req.EventType, "agent", req.AgentID)
	if err := s.logs.Append(ctx, companyID, entry); err != nil {
		return nil, err
	}
	return resp, nil
}

func displayName(a *protocol.Agent) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
