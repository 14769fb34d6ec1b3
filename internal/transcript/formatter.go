package transcript

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/iambrandonn/bmoffice/internal/engine"
	"github.com/iambrandonn/bmoffice/internal/office"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Formatter formats engine events for console output
type Formatter struct{}

// NewFormatter creates a new transcript formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatEvent formats an event for console display. Log events produce one
// line per entry.
func (f *Formatter) FormatEvent(evt engine.Event) string {
	prefix := ""
	if evt.CompanyID != "" {
		prefix = "[" + evt.CompanyID + "] "
	}

	switch evt.Kind {
	case engine.EventCompanySwitched:
		return prefix + fmt.Sprintf("observing company %s (generation %d)", evt.CompanyID, evt.Generation)

	case engine.EventActorAdded:
		if evt.Actor == nil {
			break
		}
		return prefix + fmt.Sprintf("+ %s at %s: %s", actorLabel(evt.Actor), evt.Actor.HomeZone, f.actorState(evt.Actor))

	case engine.EventActorUpdated:
		if evt.Actor == nil {
			break
		}
		return prefix + fmt.Sprintf("~ %s: %s", actorLabel(evt.Actor), f.actorState(evt.Actor))

	case engine.EventActorRemoved:
		return prefix + fmt.Sprintf("- %s left", evt.ActorID)

	case engine.EventMovementStarted:
		if m := evt.Movement; m != nil {
			return prefix + fmt.Sprintf("> %s %s to %s", m.ActorID, m.Purpose, m.Zone)
		}

	case engine.EventMovementProgress:
		if m := evt.Movement; m != nil {
			return prefix + fmt.Sprintf(". %s %s %.0f%%", m.ActorID, m.Purpose, m.Progress*100)
		}

	case engine.EventMovementArrived:
		if m := evt.Movement; m != nil {
			return prefix + fmt.Sprintf("@ %s arrived at %s", m.ActorID, m.Zone)
		}

	case engine.EventMovementCompleted:
		if m := evt.Movement; m != nil {
			ack := "not acknowledged"
			if m.Acknowledged {
				ack = "acknowledged"
			}
			return prefix + fmt.Sprintf("< %s %s done after %s (%s)", m.ActorID, m.Purpose, elapsed(m.StartedAt, evt.At), ack)
		}

	case engine.EventConnectivity:
		line := prefix + "! backend " + string(evt.Connectivity)
		if evt.Error != "" {
			line += ": " + evt.Error
		}
		return line

	case engine.EventLogs:
		lines := make([]string, 0, len(evt.Logs))
		for _, entry := range evt.Logs {
			who := entry.EventType
			if entry.AgentID != "" {
				who = entry.AgentID + " " + entry.EventType
			}
			age := strings.TrimSpace(humanize.RelTime(entry.Timestamp, evt.At, "ago", "from now"))
			lines = append(lines, prefix+fmt.Sprintf("# %s %s: %s", who, age, entry.Message))
		}
		return strings.Join(lines, "\n")
	}

	return prefix + string(evt.Kind)
}

func actorLabel(a *office.Actor) string {
	switch {
	case a.Name != "" && a.Role != "":
		return fmt.Sprintf("%s (%s)", a.Name, a.Role)
	case a.Name != "":
		return a.Name
	default:
		return a.ID
	}
}

func (f *Formatter) actorState(a *office.Actor) string {
	// casers carry state, one per call keeps the formatter shareable
	s := cases.Title(language.English).String(string(a.Status))
	if a.CurrentTask != "" {
		s += fmt.Sprintf(" on %q", a.CurrentTask)
	}
	if a.ErrorFlag {
		s += " [error]"
	}
	return s
}

// elapsed renders a movement duration; sub-second moves are shown in ms
func elapsed(start, end time.Time) string {
	d := end.Sub(start)
	if d < time.Second {
		return fmt.Sprintf("%dms", max(d.Milliseconds(), 0))
	}
	return strings.TrimSpace(humanize.RelTime(start, end, "", ""))
}

// Printer is an engine.EventSink writing one transcript line per event
type Printer struct {
	mu sync.Mutex
	w  io.Writer
	f  *Formatter
	// Verbose includes movement progress milestones
	Verbose bool
}

// NewPrinter creates a printer writing to w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, f: NewFormatter()}
}

// Emit writes evt. Write errors are ignored.
func (p *Printer) Emit(evt engine.Event) {
	if evt.Kind == engine.EventMovementProgress && !p.Verbose {
		return
	}
	line := p.f.FormatEvent(evt)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, line+"\n")
}
