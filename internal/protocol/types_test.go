package protocol

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSnapshotDecodesBackendPayload(t *testing.T) {
	payload := `{
		"company_id": "acme",
		"agents": [
			{"id": "dev-1", "name": "Dana", "role": "dev", "status": "coding", "current_task": "story 1.2"},
			{"id": "qa-1", "role": "qa", "status": "idle"}
		],
		"pending_movements": [
			{"id": "m1", "agent_id": "dev-1", "to_zone": "qa", "purpose": "handoff",
			 "to_agent_id": "qa-1", "artifact": "story-1.2.md", "progress": 0,
			 "created_at": "2025-10-19T18:03:00Z"}
		],
		"role_configs": {"dev": {"display_name": "Developer", "zone": "development"}}
	}`

	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}

	want := Snapshot{
		CompanyID: "acme",
		Agents: []Agent{
			{ID: "dev-1", Name: "Dana", Role: "dev", Status: StatusCoding, CurrentTask: "story 1.2"},
			{ID: "qa-1", Role: "qa", Status: StatusIdle},
		},
		PendingMovements: []PendingMovement{
			{
				ID:        "m1",
				AgentID:   "dev-1",
				ToZone:    "qa",
				Purpose:   PurposeHandoff,
				ToAgentID: "qa-1",
				Artifact:  "story-1.2.md",
				CreatedAt: time.Date(2025, 10, 19, 18, 3, 0, 0, time.UTC),
			},
		},
		RoleConfigs: map[string]RoleConfig{
			"dev": {DisplayName: "Developer", Zone: "development"},
		},
	}

	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestPurposeValid(t *testing.T) {
	cases := map[Purpose]bool{
		PurposeHandoff: true,
		PurposeReturn:  true,
		"":             false,
		"teleport":     false,
	}
	for p, want := range cases {
		if got := p.Valid(); got != want {
			t.Errorf("Purpose(%q).Valid() = %v, want %v", p, got, want)
		}
	}
}

func TestLogQueryValuesOmitsZeroFields(t *testing.T) {
	v := LogQuery{Limit: 25}.Values()
	if got := v.Encode(); got != "limit=25" {
		t.Errorf("expected only limit to be encoded, got %q", got)
	}

	full := LogQuery{Limit: 10, Offset: 20, AgentID: "dev-1", EventType: EventHandoff}
	if diff := cmp.Diff(full, ParseLogQuery(full.Values())); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLogQueryToleratesGarbage(t *testing.T) {
	q := ParseLogQuery(url.Values{"limit": {"ten"}, "offset": {"-4"}})
	if q.Limit != 0 || q.Offset != 0 {
		t.Errorf("expected zero limit/offset for malformed input, got %+v", q)
	}
}
