package store

// WorkspaceConfig is the versioned configuration of a workspace.
type WorkspaceConfig struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Agents      []string       `json:"agents"`
	Filesystem  map[string]any `json:"filesystem"`
	Settings    map[string]any `json:"settings"`
}

var workspaceKind = EntityKind{
	Name:         "workspace",
	Table:        "workspaces",
	VersionTable: "workspace_versions",
	ParentColumn: "workspaceId",
	LegacyColumns: []Column{
		{Name: "name", Type: ColumnText},
		{Name: "description", Type: ColumnText, Nullable: true},
		{Name: "agents", Type: ColumnStructured, Nullable: true},
		{Name: "filesystem", Type: ColumnStructured, Nullable: true},
		{Name: "settings", Type: ColumnStructured, Nullable: true},
	},
}

// WorkspaceKind describes the workspace tables.
func WorkspaceKind() EntityKind {
	return workspaceKind
}
