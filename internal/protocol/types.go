package protocol

import (
	"net/url"
	"strconv"
	"time"
)

// Purpose is why a pending movement exists
type Purpose string

const (
	// PurposeHandoff sends an agent to another zone to hand over work.
	PurposeHandoff Purpose = "handoff"
	// PurposeReturn sends an agent back to its desk.
	PurposeReturn Purpose = "return"
)

// Valid reports whether p is a known purpose
func (p Purpose) Valid() bool {
	return p == PurposeHandoff || p == PurposeReturn
}

// Raw status values reported by the backend. Anything else is tolerated and
// mapped to idle by the client.
const (
	StatusIdle       = "idle"
	StatusWorking    = "working"
	StatusCoding     = "coding"
	StatusThinking   = "thinking"
	StatusDiscussing = "discussing"
	StatusReviewing  = "reviewing"
	StatusBreak      = "break"
	StatusWalking    = "walking"
	StatusError      = "error"
)

// Agent is one remote agent as reported in a snapshot
type Agent struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Role        string `json:"role,omitempty" yaml:"role,omitempty"`
	Status      string `json:"status" yaml:"status"`
	CurrentTask string `json:"current_task,omitempty" yaml:"current_task,omitempty"`
}

// PendingMovement is a backend instruction that an agent should travel to a zone
type PendingMovement struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	FromZone    string    `json:"from_zone,omitempty"`
	ToZone      string    `json:"to_zone,omitempty"`
	Purpose     Purpose   `json:"purpose"`
	Artifact    string    `json:"artifact,omitempty"`
	Progress    float64   `json:"progress"`
	FromAgentID string    `json:"from_agent_id,omitempty"`
	ToAgentID   string    `json:"to_agent_id,omitempty"`
	Action      string    `json:"action,omitempty"`
	Topic       string    `json:"topic,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleConfig carries per-role presentation hints
type RoleConfig struct {
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Zone        string `json:"zone,omitempty" yaml:"zone,omitempty"`
	Color       string `json:"color,omitempty" yaml:"color,omitempty"`
}

// Snapshot is one polled company state response
type Snapshot struct {
	CompanyID        string                `json:"company_id"`
	Agents           []Agent               `json:"agents"`
	PendingMovements []PendingMovement     `json:"pending_movements"`
	RoleConfigs      map[string]RoleConfig `json:"role_configs,omitempty"`
}

// Company is a summary entry in the company listing
type Company struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Agents int    `json:"agents"`
}

// CompanyList is the response body of the company listing
type CompanyList struct {
	Companies []Company `json:"companies"`
}

// LogEntry is one event in a company's event log
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id,omitempty"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// LogPage is the response body of a log fetch
type LogPage struct {
	Logs  []LogEntry `json:"logs"`
	Total int        `json:"total"`
}

// LogQuery filters a log fetch
type LogQuery struct {
	Limit     int
	Offset    int
	AgentID   string
	EventType string
}

// Values encodes the query as URL parameters, omitting zero values
func (q LogQuery) Values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.AgentID != "" {
		v.Set("agent_id", q.AgentID)
	}
	if q.EventType != "" {
		v.Set("event_type", q.EventType)
	}
	return v
}

// ParseLogQuery is the inverse of Values. Malformed numbers are treated as zero.
func ParseLogQuery(v url.Values) LogQuery {
	limit, _ := strconv.Atoi(v.Get("limit"))
	offset, _ := strconv.Atoi(v.Get("offset"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return LogQuery{
		Limit:     limit,
		Offset:    offset,
		AgentID:   v.Get("agent_id"),
		EventType: v.Get("event_type"),
	}
}

// ProgressReport is the request body for movement progress
type ProgressReport struct {
	Progress float64 `json:"progress"`
}

// Ack is the generic success body for write endpoints
type Ack struct {
	OK bool `json:"ok"`
	// Removed is set by the cleanup endpoint
	Removed int `json:"removed,omitempty"`
}

// Event types accepted by the injection endpoint
const (
	EventStatusChanged = "status_changed"
	EventTaskAssigned  = "task_assigned"
	EventHandoff       = "handoff"
	EventBreak         = "break"
	EventError         = "error"
)

// InjectRequest is an operator-injected event
type InjectRequest struct {
	EventType string `json:"event_type"`
	AgentID   string `json:"agent_id"`
	ToAgentID string `json:"to_agent_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Task      string `json:"task,omitempty"`
	Artifact  string `json:"artifact,omitempty"`
	Topic     string `json:"topic,omitempty"`
}

// InjectResponse reports what an injected event produced
type InjectResponse struct {
	OK         bool   `json:"ok"`
	LogID      string `json:"log_id"`
	MovementID string `json:"movement_id,omitempty"`
}

// Header names shared by client and server
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)
