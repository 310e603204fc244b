package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alsk1992/Flip-God-sub006/pkg/mcp"
)

// Upstream is the slice of the MCP client registry the proxy layer needs:
// tool discovery plus qualified dispatch. *mcp.Registry implements it.
type Upstream interface {
	AllTools(ctx context.Context) []mcp.ToolInfo
	CallTool(ctx context.Context, ref string, args map[string]any) (*mcp.ToolResult, error)
}

// RemoteTool exposes a tool from an upstream MCP server through the local
// registry under the name mcp__<server>__<tool>, so locally served listings
// can mix native and proxied tools without collisions.
type RemoteTool struct {
	server string
	info   mcp.ToolInfo
	schema map[string]any
	client Upstream
}

// NewRemoteTool wraps an upstream tool descriptor. The descriptor's schema
// is decoded once here; descriptors with no schema get a permissive object.
func NewRemoteTool(client Upstream, server string, info mcp.ToolInfo) *RemoteTool {
	schema := map[string]any{"type": "object"}
	if len(info.InputSchema) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(info.InputSchema, &decoded); err == nil {
			schema = decoded
		}
	}
	return &RemoteTool{server: server, info: info, schema: schema, client: client}
}

func (t *RemoteTool) Name() string {
	return fmt.Sprintf("mcp__%s__%s", t.server, t.info.Name)
}

func (t *RemoteTool) Description() string {
	if t.info.Description != "" {
		return fmt.Sprintf("[%s] %s", t.server, t.info.Description)
	}
	return fmt.Sprintf("Tool %s from MCP server %s", t.info.Name, t.server)
}

func (t *RemoteTool) InputSchema() map[string]any {
	return t.schema
}

func (t *RemoteTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	result, err := t.client.CallTool(ctx, t.server+":"+t.info.Name, input)
	if err != nil {
		return errorOutput("MCP call failed: %v", err), nil
	}
	return ToolOutput{Content: FlattenContent(result.Content), IsError: result.IsError}, nil
}

// FlattenContent renders MCP content blocks as a single text payload.
// Non-text blocks become bracketed placeholders.
func FlattenContent(blocks []mcp.ContentBlock) string {
	var sb strings.Builder
	for i, block := range blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch block.Type {
		case "text":
			sb.WriteString(block.Text)
		case "image":
			fmt.Fprintf(&sb, "[image: %s]", block.MimeType)
		case "resource":
			fmt.Fprintf(&sb, "[resource: %s]", block.URI)
		default:
			fmt.Fprintf(&sb, "[%s content]", block.Type)
		}
	}
	return sb.String()
}

// RegisterRemoteTools lists tools on every ready upstream server and
// registers a RemoteTool wrapper for each. It returns how many were added.
func RegisterRemoteTools(ctx context.Context, reg *Registry, client Upstream) (int, error) {
	added := 0
	for _, info := range client.AllTools(ctx) {
		if err := reg.Register(NewRemoteTool(client, info.Server, info)); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// UnregisterRemoteTools removes every wrapper registered for the given
// upstream server and returns how many were removed.
func UnregisterRemoteTools(reg *Registry, server string) int {
	return reg.UnregisterPrefix(fmt.Sprintf("mcp__%s__", server))
}
