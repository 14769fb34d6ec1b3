package engine

// progressMilestones are the fractions reported upstream during a movement
var progressMilestones = [...]float64{0.25, 0.5, 0.75}

// milestones remembers the highest milestone already reported for one
// movement instance. It only moves forward, so a progress value that dips
// and climbs again cannot report the same milestone twice.
type milestones struct {
	next int
}

// seed marks milestones at or below p as already reported
func (m *milestones) seed(p float64) {
	m.cross(p)
}

// cross returns the milestones newly passed by p, in ascending order
func (m *milestones) cross(p float64) []float64 {
	var out []float64
	for m.next < len(progressMilestones) && p >= progressMilestones[m.next] {
		out = append(out, progressMilestones[m.next])
		m.next++
	}
	return out
}
