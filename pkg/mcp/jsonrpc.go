package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the JSON-RPC version every frame must carry.
const Version = "2.0"

// JSON-RPC 2.0 error codes used across both roles.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeRateLimited    = -32000
)

// Message is the JSON-RPC 2.0 envelope, covering requests, notifications,
// and responses in both directions. ID is kept raw so a numeric or string
// identifier survives a round trip byte-for-byte.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object in a JSON-RPC 2.0 response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// MessageKind classifies a decoded envelope.
type MessageKind int

const (
	KindInvalid MessageKind = iota
	KindRequest
	KindNotification
	KindResponse
)

// HasID reports whether the envelope carries a usable identifier.
// A literal JSON null counts as absent.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

// Kind classifies the envelope per JSON-RPC 2.0: a method with an ID is a
// request, a method without one is a notification, and an ID with a result
// or error is a response. Anything else is invalid.
func (m *Message) Kind() MessageKind {
	if m.JSONRPC != Version {
		return KindInvalid
	}
	switch {
	case m.Method != "" && m.HasID():
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.HasID() && (m.Result != nil || m.Error != nil):
		return KindResponse
	default:
		return KindInvalid
	}
}

// NewRequest builds a request envelope with a numeric ID, marshaling params
// up front so encoding failures surface at the call site.
func NewRequest(id int64, method string, params any) (Message, error) {
	raw, err := marshalField(params)
	if err != nil {
		return Message{}, fmt.Errorf("marshal params: %w", err)
	}
	return Message{
		JSONRPC: Version,
		ID:      NumericID(id),
		Method:  method,
		Params:  raw,
	}, nil
}

// NewNotification builds a notification envelope (no ID, no response expected).
func NewNotification(method string, params any) (Message, error) {
	raw, err := marshalField(params)
	if err != nil {
		return Message{}, fmt.Errorf("marshal params: %w", err)
	}
	return Message{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewResponse builds a success response echoing the request's raw ID.
func NewResponse(id json.RawMessage, result any) (Message, error) {
	raw, err := marshalField(result)
	if err != nil {
		return Message{}, fmt.Errorf("marshal result: %w", err)
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	return Message{
		JSONRPC: Version,
		ID:      id,
		Result:  raw,
	}, nil
}

// NewErrorResponse builds an error response echoing the request's raw ID.
// A nil ID becomes JSON null, as required for requests whose ID could not
// be determined.
func NewErrorResponse(id json.RawMessage, code int, message string, data any) Message {
	if id == nil {
		id = json.RawMessage("null")
	}
	return Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// NumericID renders an int64 as a raw JSON number.
func NumericID(id int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(id, 10))
}

// idKey canonicalizes a raw wire ID for use as a correlation-map key, so
// that a number arriving as 7 or 7.0 and a string arriving with different
// escaping all land on the same entry.
func idKey(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return "n:" + strconv.FormatInt(n, 10)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return "n:" + strconv.FormatInt(int64(f), 10)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return "s:" + s
	}
	return string(raw)
}

func marshalField(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
