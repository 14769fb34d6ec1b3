package engine

import (
	"time"

	"github.com/iambrandonn/bmoffice/internal/office"
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/zones"
)

// EventKind identifies what an Event reports
type EventKind string

const (
	EventCompanySwitched   EventKind = "company_switched"
	EventActorAdded        EventKind = "actor_added"
	EventActorRemoved      EventKind = "actor_removed"
	EventActorUpdated      EventKind = "actor_updated"
	EventMovementStarted   EventKind = "movement_started"
	EventMovementProgress  EventKind = "movement_progress"
	EventMovementArrived   EventKind = "movement_arrived"
	EventMovementCompleted EventKind = "movement_completed"
	EventConnectivity      EventKind = "connectivity"
	EventLogs              EventKind = "logs"
)

// Connectivity is the health of the link to the backend
type Connectivity string

const (
	ConnectivityUnknown   Connectivity = "unknown"
	ConnectivityConnected Connectivity = "connected"
	ConnectivityDegraded  Connectivity = "degraded"
)

// MovementInfo describes one movement in an event
type MovementInfo struct {
	ID          string           `json:"id"`
	ActorID     string           `json:"actor_id"`
	Purpose     protocol.Purpose `json:"purpose"`
	Zone        zones.Zone       `json:"zone"`
	Destination zones.Position   `json:"destination"`
	Progress    float64          `json:"progress"`
	StartedAt   time.Time        `json:"started_at"`
	// Acknowledged is set on completion when the backend accepted it
	Acknowledged bool `json:"acknowledged,omitempty"`
}

// Event is one observable change for the presentation layer
type Event struct {
	Kind         EventKind           `json:"kind"`
	At           time.Time           `json:"at"`
	CompanyID    string              `json:"company_id,omitempty"`
	Generation   uint64              `json:"generation"`
	ActorID      string              `json:"actor_id,omitempty"`
	Actor        *office.Actor       `json:"actor,omitempty"`
	Movement     *MovementInfo       `json:"movement,omitempty"`
	Connectivity Connectivity        `json:"connectivity,omitempty"`
	Error        string              `json:"error,omitempty"`
	Logs         []protocol.LogEntry `json:"logs,omitempty"`
}

// EventSink consumes session events. Emit is called with the session lock
// held and in order; implementations must not block and must not call back
// into the Session.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(Event)

// Emit calls f
func (f SinkFunc) Emit(evt Event) { f(evt) }

// MultiSink fans events out to several sinks in order
type MultiSink []EventSink

// Emit forwards evt to every sink
func (m MultiSink) Emit(evt Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(evt)
		}
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
