package policy

import (
	"testing"

	"github.com/outpost-sh/outpost/pkg/types"
)

// TestAgentVisibleDefaultOpen tests that no group assignment means
// unrestricted visibility
func TestAgentVisibleDefaultOpen(t *testing.T) {
	if !AgentVisible(nil, "web-01") {
		t.Error("user without groups should see every agent")
	}
	if !AgentVisible([]*types.AccessGroup{}, "web-01") {
		t.Error("empty group slice should be unrestricted")
	}
}

// TestAgentVisibleScoped tests pattern-based visibility through groups
func TestAgentVisibleScoped(t *testing.T) {
	groups := []*types.AccessGroup{
		{ID: "g1", Name: "web", AgentPatterns: []string{"web-*"}},
		{ID: "g2", Name: "db", AgentPatterns: []string{"db-01"}},
	}

	tests := []struct {
		agent string
		want  bool
	}{
		{"web-01", true},
		{"web-99", true},
		{"db-01", true},
		{"db-02", false},
		{"cache-01", false},
	}
	for _, tt := range tests {
		if got := AgentVisible(groups, tt.agent); got != tt.want {
			t.Errorf("AgentVisible(%q) = %v, want %v", tt.agent, got, tt.want)
		}
	}
}

// TestFilterVisibleAgents tests list filtering preserves order
func TestFilterVisibleAgents(t *testing.T) {
	groups := []*types.AccessGroup{
		{ID: "g1", AgentPatterns: []string{"web-*"}},
	}
	agents := []*types.Agent{
		{Name: "db-01"},
		{Name: "web-01"},
		{Name: "web-02"},
		{Name: "cache-01"},
	}

	visible := FilterVisibleAgents(groups, agents)
	if len(visible) != 2 {
		t.Fatalf("visible = %d agents, want 2", len(visible))
	}
	if visible[0].Name != "web-01" || visible[1].Name != "web-02" {
		t.Errorf("unexpected order: %s, %s", visible[0].Name, visible[1].Name)
	}

	// A group with an empty pattern list hides everything for its members
	empty := []*types.AccessGroup{{ID: "g2"}}
	if got := FilterVisibleAgents(empty, agents); len(got) != 0 {
		t.Errorf("group without patterns exposed %d agents", len(got))
	}
}

// TestIntegrationVisible tests exact-match integration scoping
func TestIntegrationVisible(t *testing.T) {
	groups := []*types.AccessGroup{
		{ID: "g1", IntegrationIDs: []string{"grafana"}},
	}
	if !IntegrationVisible(nil, "anything") {
		t.Error("no groups should be unrestricted")
	}
	if !IntegrationVisible(groups, "grafana") {
		t.Error("listed integration hidden")
	}
	if IntegrationVisible(groups, "pagerduty") {
		t.Error("unlisted integration visible")
	}
}
