package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alsk1992/Flip-God-sub006/pkg/mcp"
	"github.com/alsk1992/Flip-God-sub006/pkg/security"
	"github.com/alsk1992/Flip-God-sub006/pkg/tools"
)

// handleToolsCall runs the security pipeline in front of tool execution:
// allow-list, rate limit, argument sanitization, execution raced against the
// tool timeout, and an audit record for every outcome. Tool-level failures
// (including timeouts) come back as successful responses carrying an isError
// result; only pipeline rejections are protocol errors.
func (s *Server) handleToolsCall(ctx context.Context, req mcp.Message) mcp.Message {
	var params mcp.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		s.audit(params.Name, security.OutcomeRejected, "invalid tools/call params", 0, 0)
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, "tool name is required", nil)
	}
	name := params.Name
	argBytes := 0
	if params.Arguments != nil {
		if data, err := json.Marshal(params.Arguments); err == nil {
			argBytes = len(data)
		}
	}

	if !s.guard.IsToolAllowed(name) {
		s.audit(name, security.OutcomeBlocked, "tool blocked by policy", 0, argBytes)
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidRequest, fmt.Sprintf("tool not allowed: %s", name), nil)
	}

	if err := s.guard.CheckRateLimit(s.client()); err != nil {
		s.audit(name, security.OutcomeRateLimited, err.Error(), 0, argBytes)
		return mcp.NewErrorResponse(req.ID, mcp.CodeRateLimited, err.Error(), nil)
	}

	if err := s.guard.SanitizeArgs(params.Arguments); err != nil {
		s.audit(name, security.OutcomeRejected, err.Error(), 0, argBytes)
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, err.Error(), nil)
	}

	tool, ok := s.tools.Get(name)
	if !ok {
		s.audit(name, security.OutcomeNotFound, "unknown tool", 0, argBytes)
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidParams, fmt.Sprintf("unknown tool: %s", name), nil)
	}

	start := time.Now()
	out, timedOut, execErr := s.execute(ctx, tool, params.Arguments)
	elapsed := time.Since(start)

	switch {
	case timedOut:
		s.log.Warn("tool timed out", "tool", name, "timeout", s.toolTimeout)
		s.audit(name, security.OutcomeTimeout, "execution timed out", elapsed, argBytes)
		return s.toolError(req.ID, fmt.Sprintf("timed out after %d ms", s.toolTimeout.Milliseconds()))
	case execErr != nil:
		s.audit(name, security.OutcomeError, execErr.Error(), elapsed, argBytes)
		return s.toolError(req.ID, execErr.Error())
	case out.IsError:
		s.audit(name, security.OutcomeError, out.Content, elapsed, argBytes)
		return s.toolError(req.ID, out.Content)
	default:
		s.audit(name, security.OutcomeOK, "", elapsed, argBytes)
		return s.result(req.ID, mcp.ToolResult{
			Content: []mcp.ContentBlock{{Type: "text", Text: out.Content}},
		})
	}
}

// execute races the tool against the configured timeout. On timeout the
// tool's context is cancelled and its eventual result discarded.
func (s *Server) execute(ctx context.Context, t tools.Tool, args map[string]any) (tools.ToolOutput, bool, error) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		out tools.ToolOutput
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := t.Execute(execCtx, args)
		done <- outcome{out, err}
	}()

	timer := time.NewTimer(s.toolTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.out, false, res.err
	case <-timer.C:
		return tools.ToolOutput{}, true, nil
	}
}

// toolError wraps a tool-level failure as an isError result.
func (s *Server) toolError(id json.RawMessage, text string) mcp.Message {
	return s.result(id, mcp.ToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	})
}

func (s *Server) audit(tool string, outcome security.Outcome, errText string, elapsed time.Duration, argBytes int) {
	s.guard.Audit(security.Record{
		Client:     s.client(),
		Tool:       tool,
		Outcome:    outcome,
		Error:      errText,
		DurationMs: elapsed.Milliseconds(),
		ArgBytes:   argBytes,
	})
}
