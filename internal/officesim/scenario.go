package officesim

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/iambrandonn/bmoffice/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted workflow: operator events played back on a timer
type Scenario struct {
	Name string `yaml:"name"`
	// Company is the default target of every step
	Company string `yaml:"company"`
	// Loop replays the steps until the context ends
	Loop bool `yaml:"loop"`
	// Companies replaces the default seeds when set
	Companies []Seed `yaml:"companies"`
	Steps     []Step `yaml:"steps"`
}

// Step is one scheduled event. After is relative to the previous step.
type Step struct {
	After    time.Duration `yaml:"after"`
	Company  string        `yaml:"company,omitempty"`
	Type     string        `yaml:"type"`
	Agent    string        `yaml:"agent"`
	To       string        `yaml:"to,omitempty"`
	Status   string        `yaml:"status,omitempty"`
	Task     string        `yaml:"task,omitempty"`
	Artifact string        `yaml:"artifact,omitempty"`
	Topic    string        `yaml:"topic,omitempty"`
}

// Request converts the step into an injection request
func (st Step) Request() protocol.InjectRequest {
	return protocol.InjectRequest{
		EventType: st.Type,
		AgentID:   st.Agent,
		ToAgentID: st.To,
		Status:    st.Status,
		Task:      st.Task,
		Artifact:  st.Artifact,
		Topic:     st.Topic,
	}
}

// LoadScenario reads and checks a YAML scenario file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes a YAML scenario and validates every step
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario has no steps")
	}
	var total time.Duration
	for i, st := range sc.Steps {
		total += st.After
		if st.After < 0 {
			return nil, fmt.Errorf("step %d: negative delay %s", i+1, st.After)
		}
		if st.Company == "" && sc.Company == "" {
			return nil, fmt.Errorf("step %d: no company (set one on the step or the scenario)", i+1)
		}
		if err := ValidateInject(st.Request()); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	if sc.Loop && total == 0 {
		return nil, fmt.Errorf("looping scenario needs at least one delayed step")
	}
	return &sc, nil
}

// RunScenario plays sc against the simulator until it ends or ctx is done.
// Steps that fail are logged and skipped.
func (s *Simulator) RunScenario(ctx context.Context, sc *Scenario) error {
	s.logger.Info("scenario started", "name", sc.Name, "steps", len(sc.Steps), "loop", sc.Loop)
	for round := 1; ; round++ {
		for i, st := range sc.Steps {
			if st.After > 0 {
				timer := time.NewTimer(st.After)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}

			companyID := st.Company
			if companyID == "" {
				companyID = sc.Company
			}
			if _, err := s.Inject(ctx, companyID, st.Request()); err != nil {
				s.logger.Warn("scenario step failed", "round", round, "step", i+1, "type", st.Type, "error", err)
			}
		}
		if !sc.Loop {
			s.logger.Info("scenario finished", "name", sc.Name)
			return nil
		}
	}
}
