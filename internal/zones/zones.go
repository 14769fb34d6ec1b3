// Package zones maps the backend's logical zone and role names onto a closed
// set of office zones, and zones onto concrete positions.
//
// The alias table is normalized and validated once at package init. Lookups
// only lower-case, trim and map '_' to '-', so a name either resolves through
// the table or it does not.
package zones

import (
	"fmt"
	"math"
	"strings"
)

// Zone is one area of the office floor
type Zone int

const (
	ZoneLobby Zone = iota
	ZoneAnalysis
	ZonePlanning
	ZoneArchitecture
	ZoneScrum
	ZoneDevelopment
	ZoneQA
	ZoneDesign
	ZoneProduct
	ZoneOrchestration
	ZoneLounge
	ZoneMeeting

	zoneCount
)

var zoneNames = [zoneCount]string{
	ZoneLobby:         "lobby",
	ZoneAnalysis:      "analysis",
	ZonePlanning:      "planning",
	ZoneArchitecture:  "architecture",
	ZoneScrum:         "scrum",
	ZoneDevelopment:   "development",
	ZoneQA:            "qa",
	ZoneDesign:        "design",
	ZoneProduct:       "product",
	ZoneOrchestration: "orchestration",
	ZoneLounge:        "lounge",
	ZoneMeeting:       "meeting",
}

// String returns the canonical zone name
func (z Zone) String() string {
	if z < 0 || z >= zoneCount {
		return fmt.Sprintf("zone(%d)", int(z))
	}
	return zoneNames[z]
}

// MarshalText encodes z by name
func (z Zone) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

// UnmarshalText decodes a zone name; unknown names become the lobby
func (z *Zone) UnmarshalText(b []byte) error {
	*z, _ = Resolve(string(b))
	return nil
}

// Position is a point on the office floor
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the euclidean distance between p and q
func (p Position) Distance(q Position) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Lerp returns the point a fraction t of the way from p to q
func (p Position) Lerp(q Position, t float64) Position {
	return Position{X: p.X + (q.X-p.X)*t, Y: p.Y + (q.Y-p.Y)*t}
}

// origins are the zone centres on a 4x3 grid of 200-unit cells
var origins = [zoneCount]Position{
	ZoneLobby:         {X: 100, Y: 500},
	ZoneAnalysis:      {X: 100, Y: 100},
	ZonePlanning:      {X: 300, Y: 100},
	ZoneArchitecture:  {X: 500, Y: 100},
	ZoneScrum:         {X: 700, Y: 100},
	ZoneDevelopment:   {X: 100, Y: 300},
	ZoneQA:            {X: 300, Y: 300},
	ZoneDesign:        {X: 500, Y: 300},
	ZoneProduct:       {X: 700, Y: 300},
	ZoneOrchestration: {X: 300, Y: 500},
	ZoneLounge:        {X: 500, Y: 500},
	ZoneMeeting:       {X: 700, Y: 500},
}

// aliases maps role names and alternate spellings to zones. Canonical zone
// names are added at init.
var aliases = map[string]Zone{
	"analyst":         ZoneAnalysis,
	"pm":              ZonePlanning,
	"product-manager": ZonePlanning,
	"architect":       ZoneArchitecture,
	"sm":              ZoneScrum,
	"scrum-master":    ZoneScrum,
	"dev":             ZoneDevelopment,
	"developer":       ZoneDevelopment,
	"engineering":     ZoneDevelopment,
	"review":          ZoneQA,
	"ux":              ZoneDesign,
	"ux-expert":       ZoneDesign,
	"po":              ZoneProduct,
	"product-owner":   ZoneProduct,
	"orchestrator":    ZoneOrchestration,
	"bmad-master":     ZoneOrchestration,
	"break":           ZoneLounge,
	"break-room":      ZoneLounge,
	"kitchen":         ZoneLounge,
	"conference":      ZoneMeeting,
}

func init() {
	if err := buildTable(); err != nil {
		panic(err)
	}
}

func buildTable() error {
	for z := Zone(0); z < zoneCount; z++ {
		name := zoneNames[z]
		if name == "" {
			return fmt.Errorf("zone %d has no name", int(z))
		}
		if z != ZoneLobby && origins[z] == (Position{}) {
			return fmt.Errorf("zone %s has no position", name)
		}
		if prev, ok := aliases[name]; ok && prev != z {
			return fmt.Errorf("zone name %q aliased to %s", name, prev)
		}
		aliases[name] = z
	}

	normalized := make(map[string]Zone, len(aliases))
	for alias, z := range aliases {
		if z < 0 || z >= zoneCount {
			return fmt.Errorf("alias %q targets unknown zone %d", alias, int(z))
		}
		key := normalize(alias)
		if prev, ok := normalized[key]; ok && prev != z {
			return fmt.Errorf("alias %q collides after normalization", alias)
		}
		normalized[key] = z
	}
	aliases = normalized
	return nil
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, "_", "-")
}

// Resolve maps a zone or role name to a Zone. Unknown names resolve to the
// lobby with ok=false.
func Resolve(name string) (Zone, bool) {
	z, ok := aliases[normalize(name)]
	if !ok {
		return ZoneLobby, false
	}
	return z, true
}

// Origin returns the centre of z
func Origin(z Zone) Position {
	if z < 0 || z >= zoneCount {
		return origins[ZoneLobby]
	}
	return origins[z]
}

// All returns every zone in declaration order
func All() []Zone {
	out := make([]Zone, 0, zoneCount)
	for z := Zone(0); z < zoneCount; z++ {
		out = append(out, z)
	}
	return out
}
