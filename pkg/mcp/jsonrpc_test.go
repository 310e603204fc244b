package mcp

import (
	"encoding/json"
	"testing"
)

func TestMessageKind(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want MessageKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, KindRequest},
		{"request with string id", `{"jsonrpc":"2.0","id":"abc","method":"tools/list"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification},
		{"response with result", `{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse},
		{"response with error", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, KindResponse},
		{"missing version", `{"id":1,"method":"x"}`, KindInvalid},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"x"}`, KindInvalid},
		{"id but no method or result", `{"jsonrpc":"2.0","id":1}`, KindInvalid},
		{"null id counts as absent", `{"jsonrpc":"2.0","id":null,"method":"x"}`, KindNotification},
		{"empty object", `{}`, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			if err := json.Unmarshal([]byte(tt.raw), &msg); err != nil {
				t.Fatal(err)
			}
			if got := msg.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasID(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`{"jsonrpc":"2.0","id":7,"method":"m"}`, true},
		{`{"jsonrpc":"2.0","id":"s-1","method":"m"}`, true},
		{`{"jsonrpc":"2.0","id":0,"method":"m"}`, true},
		{`{"jsonrpc":"2.0","id":null,"method":"m"}`, false},
		{`{"jsonrpc":"2.0","method":"m"}`, false},
	}
	for _, tt := range tests {
		var msg Message
		if err := json.Unmarshal([]byte(tt.raw), &msg); err != nil {
			t.Fatal(err)
		}
		if got := msg.HasID(); got != tt.want {
			t.Errorf("HasID(%s) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestIDKeyCanonicalization(t *testing.T) {
	// Numbers arriving with different textual forms must land on one key.
	if idKey(json.RawMessage("7")) != idKey(json.RawMessage("7.0")) {
		t.Error("7 and 7.0 should share a key")
	}
	// Numbers and their string spellings are distinct identifiers.
	if idKey(json.RawMessage("7")) == idKey(json.RawMessage(`"7"`)) {
		t.Error("number 7 and string \"7\" must not collide")
	}
	if idKey(json.RawMessage(`"abc"`)) != idKey(json.RawMessage(`"abc"`)) {
		t.Error("string keys must be stable")
	}
	if idKey(nil) != "" {
		t.Errorf("nil id key = %q, want empty", idKey(nil))
	}
}

func TestNewRequestRoundTrip(t *testing.T) {
	msg, err := NewRequest(42, MethodToolsList, map[string]string{"cursor": "x"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Kind() != KindRequest {
		t.Errorf("kind = %v, want request", back.Kind())
	}
	if string(back.ID) != "42" {
		t.Errorf("id = %s, want 42", back.ID)
	}
	if back.Method != MethodToolsList {
		t.Errorf("method = %q", back.Method)
	}
}

func TestNewRequestNilParamsOmitted(t *testing.T) {
	msg, err := NewRequest(1, "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(msg)
	var raw map[string]json.RawMessage
	json.Unmarshal(data, &raw)
	if _, present := raw["params"]; present {
		t.Error("nil params should be omitted from the wire")
	}
}

func TestNewRequestMarshalFailure(t *testing.T) {
	_, err := NewRequest(1, "x", map[string]any{"bad": func() {}})
	if err == nil {
		t.Error("expected marshal error for unencodable params")
	}
}

func TestNewErrorResponseNilID(t *testing.T) {
	msg := NewErrorResponse(nil, CodeInvalidRequest, "invalid", nil)
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	json.Unmarshal(data, &raw)
	if string(raw["id"]) != "null" {
		t.Errorf("id = %s, want null", raw["id"])
	}
}

func TestNewResponsePreservesStringID(t *testing.T) {
	msg, err := NewResponse(json.RawMessage(`"req-9"`), map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.ID) != `"req-9"` {
		t.Errorf("id = %s, want \"req-9\"", msg.ID)
	}
	if msg.Kind() != KindResponse {
		t.Errorf("kind = %v, want response", msg.Kind())
	}
}

func TestRPCErrorIsError(t *testing.T) {
	var err error = &RPCError{Code: CodeMethodNotFound, Message: "method not found: x"}
	if err.Error() != "method not found: x" {
		t.Errorf("Error() = %q", err.Error())
	}
}
