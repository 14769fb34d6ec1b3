package office

import (
	"github.com/iambrandonn/bmoffice/internal/protocol"
	"github.com/iambrandonn/bmoffice/internal/zones"
)

// ApplyRemote applies a remote-driven update. Any status may follow any
// other; the backend owns the business rules. Returns false, changing
// nothing, while the actor is busy.
//
// The error flag is recomputed from scratch on every call so repeated
// error/non-error toggles never stack decorations.
func (a *Actor) ApplyRemote(agent protocol.Agent) bool {
	if a.Busy {
		return false
	}
	a.Status = MapStatus(agent.Status)
	a.ErrorFlag = IsErrorStatus(agent.Status)
	a.CurrentTask = agent.CurrentTask
	if agent.Name != "" {
		a.Name = agent.Name
	}
	return true
}

// NeedsUpdate reports whether agent differs from what the actor shows
func (a *Actor) NeedsUpdate(agent protocol.Agent) bool {
	return MapStatus(agent.Status) != a.Status ||
		IsErrorStatus(agent.Status) != a.ErrorFlag ||
		agent.CurrentTask != a.CurrentTask
}

// BeginWalk hands the actor to a local movement
func (a *Actor) BeginWalk(interaction *Interaction) error {
	if a.Busy {
		return ErrActorBusy
	}
	a.Busy = true
	a.Status = StatusWalking
	a.CurrentInteraction = interaction
	return nil
}

// ArriveAt ends the walking leg at pos. Handoffs continue in a discussion.
// The actor stays busy either way until Release.
func (a *Actor) ArriveAt(pos zones.Position, purpose protocol.Purpose) {
	a.Position = pos
	if purpose == protocol.PurposeHandoff {
		a.Status = StatusDiscussing
	}
}

// Release returns the actor to remote control with the given status. It is
// the only way Busy goes false. Returns false if the actor was not busy.
func (a *Actor) Release(status Status) bool {
	if !a.Busy {
		return false
	}
	a.Busy = false
	a.Status = status
	if a.CurrentInteraction != nil {
		a.LastInteraction = a.CurrentInteraction
		a.CurrentInteraction = nil
	}
	return true
}
