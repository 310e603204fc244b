package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alsk1992/Flip-God-sub006/pkg/mcp"
)

// handleRequest routes a request to its method handler. Every request gets
// exactly one reply.
func (s *Server) handleRequest(ctx context.Context, req mcp.Message) mcp.Message {
	s.log.Debug("request", "method", req.Method, "id", string(req.ID))
	switch req.Method {
	case mcp.MethodInitialize:
		return s.handleInitialize(req)
	case mcp.MethodToolsList:
		return s.handleToolsList(req)
	case mcp.MethodToolsCall:
		return s.handleToolsCall(ctx, req)
	case mcp.MethodResourcesList:
		return s.result(req.ID, mcp.ResourcesListResult{Resources: s.resources.List()})
	case mcp.MethodResourcesTemplatesList:
		return s.result(req.ID, mcp.ResourceTemplatesListResult{ResourceTemplates: s.resources.Templates()})
	case mcp.MethodResourcesRead:
		return s.handleResourcesRead(ctx, req)
	case mcp.MethodPromptsList:
		return s.result(req.ID, mcp.PromptsListResult{Prompts: s.prompts.List()})
	case mcp.MethodPromptsGet:
		return s.handlePromptsGet(req)
	default:
		return mcp.NewErrorResponse(req.ID, mcp.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func (s *Server) handleNotification(msg mcp.Message) {
	switch msg.Method {
	case mcp.MethodInitialized:
		s.log.Info("client initialized", "client", s.client())
	default:
		s.log.Debug("unhandled notification", "method", msg.Method)
	}
}

func (s *Server) handleInitialize(req mcp.Message) mcp.Message {
	var params mcp.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, "invalid initialize params", nil)
		}
	}
	s.setClient(params.ClientInfo.Name)
	s.log.Info("initialize", "client", params.ClientInfo.Name,
		"clientVersion", params.ClientInfo.Version, "protocol", params.ProtocolVersion)

	return s.result(req.ID, mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools:     &mcp.ToolsCapability{},
			Resources: &mcp.ResourcesCapability{},
			Prompts:   &mcp.PromptsCapability{},
		},
		ServerInfo: mcp.ServerInfo{Name: serverName, Version: serverVersion},
	})
}

// handleToolsList returns descriptors for every registered tool the policy
// allows. Blocked tools are invisible, not errored.
func (s *Server) handleToolsList(req mcp.Message) mcp.Message {
	all := s.tools.List()
	infos := make([]mcp.ToolInfo, 0, len(all))
	for _, t := range all {
		if !s.guard.IsToolAllowed(t.Name()) {
			continue
		}
		schema, err := json.Marshal(t.InputSchema())
		if err != nil {
			s.log.Warn("skipping tool with unencodable schema", "tool", t.Name(), "error", err)
			continue
		}
		infos = append(infos, mcp.ToolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schema,
		})
	}
	return s.result(req.ID, mcp.ToolsListResult{Tools: infos})
}

// handleResourcesRead reads a catalog resource and chunks oversized payloads
// so each returned content item stays under the configured chunk size.
func (s *Server) handleResourcesRead(ctx context.Context, req mcp.Message) mcp.Message {
	var params mcp.ResourceReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, "uri is required", nil)
	}
	content, err := s.resources.Read(ctx, params.URI)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, err.Error(), nil)
	}
	contents := make([]mcp.ResourceContent, 0, 1)
	for chunk := range mcp.StreamContent(content, s.chunkSize) {
		contents = append(contents, chunk)
	}
	return s.result(req.ID, mcp.ResourceReadResult{Contents: contents})
}

func (s *Server) handlePromptsGet(req mcp.Message) mcp.Message {
	var params mcp.PromptGetParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, "prompt name is required", nil)
	}
	result, err := s.prompts.Get(params.Name, params.Arguments)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, err.Error(), nil)
	}
	return s.result(req.ID, result)
}

// result wraps a value as a response, degrading to an internal error when
// the value cannot be encoded.
func (s *Server) result(id json.RawMessage, v any) mcp.Message {
	msg, err := mcp.NewResponse(id, v)
	if err != nil {
		s.log.Error("failed to encode result", "error", err)
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, "failed to encode result", nil)
	}
	return msg
}
