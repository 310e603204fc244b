package mcp

// ServerStatus is an external view of a server connection's state.
type ServerStatus struct {
	Name       string      `json:"name"`
	State      ConnState   `json:"state"`
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`
	Error      string      `json:"error,omitempty"`
	ToolCount  int         `json:"toolCount"`
}

// SetServersResult reports what changed after a SetServers call.
type SetServersResult struct {
	Added   []string          `json:"added,omitempty"`
	Removed []string          `json:"removed,omitempty"`
	Updated []string          `json:"updated,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}
