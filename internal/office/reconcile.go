package office

import (
	"sort"

	"github.com/iambrandonn/bmoffice/internal/protocol"
)

// Diff is the per-cycle difference between local actors and a snapshot
type Diff struct {
	ToAdd    []protocol.Agent
	ToRemove []string
	ToUpdate []protocol.Agent
}

// Empty reports whether the diff changes nothing
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// ComputeDiff classifies every id in known and remote:
//
//	remote only           → ToAdd
//	known only            → ToRemove
//	both, changed, !busy  → ToUpdate
//
// Busy actors are left out of ToUpdate; the next cycle re-evaluates them
// against whatever the backend reports then. If remote repeats an id, the
// first occurrence wins. Outputs are sorted by id.
func ComputeDiff(known IDSet, remote []protocol.Agent, previous map[string]*Actor) Diff {
	var d Diff
	seen := make(IDSet, len(remote))

	for _, agent := range remote {
		if agent.ID == "" || seen.Has(agent.ID) {
			continue
		}
		seen[agent.ID] = struct{}{}

		if !known.Has(agent.ID) {
			d.ToAdd = append(d.ToAdd, agent)
			continue
		}

		actor := previous[agent.ID]
		if actor == nil || actor.Busy {
			continue
		}
		if actor.NeedsUpdate(agent) {
			d.ToUpdate = append(d.ToUpdate, agent)
		}
	}

	for id := range known {
		if !seen.Has(id) {
			d.ToRemove = append(d.ToRemove, id)
		}
	}

	sort.Slice(d.ToAdd, func(i, j int) bool { return d.ToAdd[i].ID < d.ToAdd[j].ID })
	sort.Slice(d.ToUpdate, func(i, j int) bool { return d.ToUpdate[i].ID < d.ToUpdate[j].ID })
	sort.Strings(d.ToRemove)
	return d
}
