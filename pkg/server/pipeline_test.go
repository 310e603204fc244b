package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
	"github.com/alsk1992/Flip-God-sub006/pkg/mcp"
	"github.com/alsk1992/Flip-God-sub006/pkg/security"
	"github.com/alsk1992/Flip-God-sub006/pkg/tools"
)

func callFrame(t *testing.T, id int64, name string, args map[string]any) string {
	t.Helper()
	return frame(t, id, mcp.MethodToolsCall, mcp.ToolCallParams{Name: name, Arguments: args})
}

func initFrame(t *testing.T, client string) string {
	t.Helper()
	return frame(t, 1, mcp.MethodInitialize, mcp.InitializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		ClientInfo:      mcp.ClientInfo{Name: client, Version: "1.0.0"},
	})
}

// decodeToolResult unwraps a tools/call reply, failing on protocol errors.
func decodeToolResult(t *testing.T, msg mcp.Message) mcp.ToolResult {
	t.Helper()
	if msg.Error != nil {
		t.Fatalf("protocol error %d: %s", msg.Error.Code, msg.Error.Message)
	}
	var result mcp.ToolResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatal(err)
	}
	return result
}

func TestToolsCallSuccess(t *testing.T) {
	reg := tools.NewRegistry()
	var gotArgs map[string]any
	err := reg.Register(&fakeTool{
		name: "margin_calc",
		execute: func(_ context.Context, input map[string]any) (tools.ToolOutput, error) {
			gotArgs = input
			return tools.ToolOutput{Content: "net margin: 6.00"}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	guard := &recordingGuard{}

	args := map[string]any{"sku": "B00X"}
	input := initFrame(t, "flip-cli") + callFrame(t, 2, "margin_calc", args)
	replies := runServer(t, input, reg, WithGuard(guard))
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(replies))
	}

	result := decodeToolResult(t, replies[1])
	if result.IsError {
		t.Error("success result marked isError")
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" || result.Content[0].Text != "net margin: 6.00" {
		t.Errorf("content = %+v", result.Content)
	}
	if gotArgs["sku"] != "B00X" {
		t.Errorf("tool saw args %v", gotArgs)
	}

	records := guard.audited()
	if len(records) != 1 {
		t.Fatalf("audited %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Outcome != security.OutcomeOK || rec.Tool != "margin_calc" || rec.Error != "" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Client != "flip-cli" {
		t.Errorf("client = %q, want identity from initialize", rec.Client)
	}
	wantArgs, _ := json.Marshal(args)
	if rec.ArgBytes != len(wantArgs) {
		t.Errorf("argBytes = %d, want %d", rec.ArgBytes, len(wantArgs))
	}
}

func TestToolsCallMissingName(t *testing.T) {
	guard := &recordingGuard{}
	input := callFrame(t, 1, "", nil) +
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":[1,2]}` + "\n"
	replies := runServer(t, input, tools.NewRegistry(), WithGuard(guard))
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(replies))
	}
	for i, reply := range replies {
		if reply.Error == nil || reply.Error.Code != mcp.CodeInvalidParams || reply.Error.Message != "tool name is required" {
			t.Errorf("reply %d error = %+v", i, reply.Error)
		}
	}

	records := guard.audited()
	if len(records) != 2 {
		t.Fatalf("audited %d records, want 2", len(records))
	}
	for i, rec := range records {
		if rec.Outcome != security.OutcomeRejected || rec.Error != "invalid tools/call params" {
			t.Errorf("record %d = %+v", i, rec)
		}
	}
}

func TestToolsCallBlocked(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(&fakeTool{name: "inventory_admin"}); err != nil {
		t.Fatal(err)
	}
	guard := &recordingGuard{allow: func(string) bool { return false }}

	replies := runServer(t, callFrame(t, 1, "inventory_admin", nil), reg, WithGuard(guard))
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	if e := replies[0].Error; e == nil || e.Code != mcp.CodeInvalidRequest || e.Message != "tool not allowed: inventory_admin" {
		t.Errorf("error = %+v", replies[0].Error)
	}

	records := guard.audited()
	if len(records) != 1 {
		t.Fatalf("audited %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Outcome != security.OutcomeBlocked || rec.Tool != "inventory_admin" || rec.DurationMs != 0 {
		t.Errorf("record = %+v", rec)
	}
}

func TestToolsCallRateLimited(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(&fakeTool{name: "price_check"}); err != nil {
		t.Fatal(err)
	}
	guard := &recordingGuard{rateErr: errors.New("rate limit exceeded: 60 calls/min")}

	replies := runServer(t, callFrame(t, 1, "price_check", nil), reg, WithGuard(guard))
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	if e := replies[0].Error; e == nil || e.Code != mcp.CodeRateLimited || !strings.Contains(e.Message, "rate limit exceeded") {
		t.Errorf("error = %+v", replies[0].Error)
	}

	records := guard.audited()
	if len(records) != 1 || records[0].Outcome != security.OutcomeRateLimited {
		t.Errorf("records = %+v", records)
	}
}

func TestToolsCallSanitizeRejected(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(&fakeTool{name: "price_check"}); err != nil {
		t.Fatal(err)
	}
	guard := &recordingGuard{sanErr: errors.New(`argument "query" contains a banned substring`)}

	replies := runServer(t, callFrame(t, 1, "price_check", map[string]any{"query": "x"}), reg, WithGuard(guard))
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	if e := replies[0].Error; e == nil || e.Code != mcp.CodeInvalidParams || !strings.Contains(e.Message, "banned substring") {
		t.Errorf("error = %+v", replies[0].Error)
	}

	records := guard.audited()
	if len(records) != 1 || records[0].Outcome != security.OutcomeRejected {
		t.Errorf("records = %+v", records)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	guard := &recordingGuard{}
	replies := runServer(t, callFrame(t, 1, "ghost", nil), tools.NewRegistry(), WithGuard(guard))
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	if e := replies[0].Error; e == nil || e.Code != mcp.CodeInvalidParams || e.Message != "unknown tool: ghost" {
		t.Errorf("error = %+v", replies[0].Error)
	}

	records := guard.audited()
	if len(records) != 1 || records[0].Outcome != security.OutcomeNotFound {
		t.Errorf("records = %+v", records)
	}
}

// A tool that outlives the timeout produces a successful response carrying
// an isError result, not a protocol error.
func TestToolsCallTimeout(t *testing.T) {
	reg := tools.NewRegistry()
	err := reg.Register(&fakeTool{
		name: "slow_scan",
		execute: func(ctx context.Context, _ map[string]any) (tools.ToolOutput, error) {
			<-ctx.Done()
			return tools.ToolOutput{}, ctx.Err()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	guard := &recordingGuard{}

	replies := runServer(t, callFrame(t, 1, "slow_scan", nil), reg,
		WithGuard(guard), WithToolTimeout(50*time.Millisecond))
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	result := decodeToolResult(t, replies[0])
	if !result.IsError {
		t.Error("timeout result not marked isError")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "timed out after 50 ms" {
		t.Errorf("content = %+v", result.Content)
	}

	records := guard.audited()
	if len(records) != 1 {
		t.Fatalf("audited %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Outcome != security.OutcomeTimeout || rec.Error != "execution timed out" {
		t.Errorf("record = %+v", rec)
	}
	if rec.DurationMs < 50 {
		t.Errorf("durationMs = %d, want >= 50", rec.DurationMs)
	}
}

func TestToolsCallExecError(t *testing.T) {
	reg := tools.NewRegistry()
	err := reg.Register(&fakeTool{
		name: "fetch_listing",
		execute: func(context.Context, map[string]any) (tools.ToolOutput, error) {
			return tools.ToolOutput{}, errors.New("ebay api: 503")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	guard := &recordingGuard{}

	replies := runServer(t, callFrame(t, 1, "fetch_listing", nil), reg, WithGuard(guard))
	result := decodeToolResult(t, replies[0])
	if !result.IsError || result.Content[0].Text != "ebay api: 503" {
		t.Errorf("result = %+v", result)
	}

	records := guard.audited()
	if len(records) != 1 || records[0].Outcome != security.OutcomeError || records[0].Error != "ebay api: 503" {
		t.Errorf("records = %+v", records)
	}
}

func TestToolsCallToolReportedError(t *testing.T) {
	reg := tools.NewRegistry()
	err := reg.Register(&fakeTool{
		name: "margin_calc",
		execute: func(context.Context, map[string]any) (tools.ToolOutput, error) {
			return tools.ToolOutput{Content: "margin would be negative", IsError: true}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	guard := &recordingGuard{}

	replies := runServer(t, callFrame(t, 1, "margin_calc", nil), reg, WithGuard(guard))
	result := decodeToolResult(t, replies[0])
	if !result.IsError || result.Content[0].Text != "margin would be negative" {
		t.Errorf("result = %+v", result)
	}

	records := guard.audited()
	if len(records) != 1 || records[0].Outcome != security.OutcomeError {
		t.Errorf("records = %+v", records)
	}
}

// Every tools/call writes exactly one audit record, whatever the outcome.
// Other methods write none.
func TestToolsCallAuditEveryOutcome(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(&fakeTool{name: "margin_calc"}); err != nil {
		t.Fatal(err)
	}
	guard := &recordingGuard{allow: func(name string) bool { return name != "inventory_admin" }}

	input := initFrame(t, "flip-cli") +
		frame(t, 2, mcp.MethodToolsList, nil) +
		callFrame(t, 3, "margin_calc", nil) +
		callFrame(t, 4, "inventory_admin", nil) +
		callFrame(t, 5, "ghost", nil)
	replies := runServer(t, input, reg, WithGuard(guard))
	if len(replies) != 5 {
		t.Fatalf("got %d replies, want 5", len(replies))
	}

	records := guard.audited()
	want := []security.Outcome{security.OutcomeOK, security.OutcomeBlocked, security.OutcomeNotFound}
	if len(records) != len(want) {
		t.Fatalf("audited %d records, want %d", len(records), len(want))
	}
	for i, rec := range records {
		if rec.Outcome != want[i] {
			t.Errorf("record %d outcome = %s, want %s", i, rec.Outcome, want[i])
		}
		if rec.Client != "flip-cli" {
			t.Errorf("record %d client = %q", i, rec.Client)
		}
	}
}

// Before initialize names the client, audit records fall back to "unknown".
func TestToolsCallUnknownClient(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(&fakeTool{name: "margin_calc"}); err != nil {
		t.Fatal(err)
	}
	guard := &recordingGuard{}

	runServer(t, callFrame(t, 1, "margin_calc", nil), reg, WithGuard(guard))
	records := guard.audited()
	if len(records) != 1 || records[0].Client != "unknown" {
		t.Errorf("records = %+v", records)
	}
}

// The real policy drives the same pipeline: a denied pattern blocks both
// listing and calling.
func TestToolsCallRealPolicy(t *testing.T) {
	reg := tools.NewRegistry()
	for _, name := range []string{"margin_calc", "inventory_admin"} {
		if err := reg.Register(&fakeTool{name: name}); err != nil {
			t.Fatal(err)
		}
	}
	cfg := security.DefaultConfig()
	cfg.DeniedTools = []string{"*_admin"}
	policy := security.NewPolicy(cfg, logger.Discard())

	input := frame(t, 1, mcp.MethodToolsList, nil) +
		callFrame(t, 2, "margin_calc", nil) +
		callFrame(t, 3, "inventory_admin", nil)
	replies := runServer(t, input, reg, WithGuard(policy))
	if len(replies) != 3 {
		t.Fatalf("got %d replies, want 3", len(replies))
	}

	var list mcp.ToolsListResult
	if err := json.Unmarshal(replies[0].Result, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "margin_calc" {
		t.Errorf("listing = %+v, want denied tool filtered", list.Tools)
	}

	result := decodeToolResult(t, replies[1])
	if result.IsError {
		t.Errorf("allowed call failed: %+v", result)
	}
	if e := replies[2].Error; e == nil || e.Code != mcp.CodeInvalidRequest {
		t.Errorf("denied call error = %+v", replies[2].Error)
	}
}
