package zones

import (
	"sync"

	"github.com/iambrandonn/bmoffice/internal/protocol"
)

const (
	deskSpacing  = 40.0
	desksPerRow  = 3
	deskRowShift = 40.0
)

// Layout hands out home anchors (desk positions) and resolves movement
// destinations. Desk slots are assigned in request order per zone and are
// never reused while the Layout lives, so an anchor is stable for an actor's
// lifetime.
type Layout struct {
	mu    sync.Mutex
	slots map[Zone]int
}

// NewLayout creates an empty layout
func NewLayout() *Layout {
	return &Layout{slots: make(map[Zone]int)}
}

// HomeZone picks the zone an agent's desk lives in. Role configs win over the
// role name itself.
func HomeZone(role string, configs map[string]protocol.RoleConfig) Zone {
	if rc, ok := configs[role]; ok && rc.Zone != "" {
		if z, ok := Resolve(rc.Zone); ok {
			return z
		}
	}
	z, _ := Resolve(role)
	return z
}

// AssignDesk allocates the next desk in zone z
func (l *Layout) AssignDesk(z Zone) Position {
	l.mu.Lock()
	slot := l.slots[z]
	l.slots[z] = slot + 1
	l.mu.Unlock()

	origin := Origin(z)
	col := slot % desksPerRow
	row := slot / desksPerRow
	return Position{
		X: origin.X + float64(col-1)*deskSpacing,
		Y: origin.Y - deskRowShift + float64(row)*deskSpacing,
	}
}

// Reset forgets all assigned desks
func (l *Layout) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slots = make(map[Zone]int)
}

// Destination resolves a movement's target zone name to a position. Unknown
// names fall back to the meeting area.
func (l *Layout) Destination(toZone string) (Zone, Position) {
	z, ok := Resolve(toZone)
	if !ok {
		z = ZoneMeeting
	}
	return z, Origin(z)
}
