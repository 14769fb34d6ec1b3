package office

import (
	"errors"

	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/zones"
)

// ErrActorBusy is returned when a movement tries to claim an actor that a
// local animation already owns
var ErrActorBusy = errors.New("actor is busy")

// Interaction is the handoff context shown alongside an actor
type Interaction struct {
	FromActorID string `json:"from_actor_id,omitempty"`
	ToActorID   string `json:"to_actor_id,omitempty"`
	Action      string `json:"action,omitempty"`
	Topic       string `json:"topic,omitempty"`
	Artifact    string `json:"artifact,omitempty"`
}

// InteractionFor builds the interaction record of a pending movement. Return
// movements carry no interaction.
func InteractionFor(mv protocol.PendingMovement) *Interaction {
	if mv.Purpose != protocol.PurposeHandoff {
		return nil
	}
	from := mv.FromAgentID
	if from == "" {
		from = mv.AgentID
	}
	return &Interaction{
		FromActorID: from,
		ToActorID:   mv.ToAgentID,
		Action:      mv.Action,
		Topic:       mv.Topic,
		Artifact:    mv.Artifact,
	}
}

// Actor is the local representation of one remote agent
type Actor struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	Status      Status `json:"status"`
	CurrentTask string `json:"current_task,omitempty"`
	// Busy is set while a local movement owns the actor. Remote status
	// updates are suppressed until it clears.
	Busy bool `json:"busy"`
	// ErrorFlag mirrors the last observed remote "error" status. It is a
	// decoration, not a state: Status is idle while it is set.
	ErrorFlag bool `json:"error_flag,omitempty"`

	HomeZone   zones.Zone     `json:"home_zone"`
	HomeAnchor zones.Position `json:"home_anchor"`
	Position   zones.Position `json:"position"`

	CurrentInteraction *Interaction `json:"current_interaction,omitempty"`
	LastInteraction    *Interaction `json:"last_interaction,omitempty"`
}

// NewActor creates an actor from its first remote sighting, seated at home
func NewActor(agent protocol.Agent, homeZone zones.Zone, home zones.Position) *Actor {
	a := &Actor{
		ID:         agent.ID,
		Name:       agent.Name,
		Role:       agent.Role,
		HomeZone:   homeZone,
		HomeAnchor: home,
		Position:   home,
	}
	a.ApplyRemote(agent)
	return a
}

// Clone returns a copy safe to hand outside the session lock
func (a *Actor) Clone() Actor {
	c := *a
	if a.CurrentInteraction != nil {
		ci := *a.CurrentInteraction
		c.CurrentInteraction = &ci
	}
	if a.LastInteraction != nil {
		li := *a.LastInteraction
		c.LastInteraction = &li
	}
	return c
}
