package store

// AgentConfig is the versioned configuration of an agent.
type AgentConfig struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Instructions   string         `json:"instructions"`
	Model          string         `json:"model"`
	Tools          []string       `json:"tools"`
	DefaultOptions map[string]any `json:"defaultOptions"`
}

var agentKind = EntityKind{
	Name:         "agent",
	Table:        "agents",
	VersionTable: "agent_versions",
	ParentColumn: "agentId",
	LegacyColumns: []Column{
		{Name: "name", Type: ColumnText},
		{Name: "description", Type: ColumnText, Nullable: true},
		{Name: "instructions", Type: ColumnText},
		{Name: "model", Type: ColumnText},
		{Name: "tools", Type: ColumnStructured, Nullable: true},
		{Name: "defaultOptions", Type: ColumnStructured, Nullable: true},
	},
}

// AgentKind describes the agent tables.
func AgentKind() EntityKind {
	return agentKind
}
