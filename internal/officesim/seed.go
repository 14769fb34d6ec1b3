package officesim

import "github.com/iambrandonn/bmoffice/internal/protocol"

// DefaultSeeds are the companies the simulator starts with when no scenario
// provides its own
func DefaultSeeds() []Seed {
	return []Seed{
		{
			ID:   "acme",
			Name: "Acme Robotics",
			Agents: []protocol.Agent{
				{ID: "analyst-1", Name: "Mary", Role: "analyst", Status: protocol.StatusIdle},
				{ID: "pm-1", Name: "John", Role: "pm", Status: protocol.StatusThinking},
				{ID: "architect-1", Name: "Winston", Role: "architect", Status: protocol.StatusIdle},
				{ID: "sm-1", Name: "Bob", Role: "sm", Status: protocol.StatusIdle},
				{ID: "dev-1", Name: "James", Role: "dev", Status: protocol.StatusCoding, CurrentTask: "story 1.1"},
				{ID: "qa-1", Name: "Quinn", Role: "qa", Status: protocol.StatusIdle},
				{ID: "ux-1", Name: "Sally", Role: "ux-expert", Status: protocol.StatusIdle},
				{ID: "po-1", Name: "Sarah", Role: "po", Status: protocol.StatusIdle},
			},
			RoleConfigs: map[string]protocol.RoleConfig{
				"ux-expert": {DisplayName: "UX Expert", Zone: "design", Color: "#d16ba5"},
				"qa":        {DisplayName: "Test Architect", Zone: "qa", Color: "#5ffbf1"},
			},
		},
		{
			ID:   "globex",
			Name: "Globex Labs",
			Agents: []protocol.Agent{
				{ID: "orchestrator", Name: "Orin", Role: "bmad-master", Status: protocol.StatusThinking},
				{ID: "dev-a", Name: "Ada", Role: "dev", Status: protocol.StatusIdle},
				{ID: "dev-b", Name: "Linus", Role: "developer", Status: protocol.StatusIdle},
				{ID: "review-1", Name: "Grace", Role: "review", Status: protocol.StatusIdle},
			},
		},
	}
}
