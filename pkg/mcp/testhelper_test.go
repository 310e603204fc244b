package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// mockTransport implements Transport with pre-programmed responses.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage // method → result JSON
	rpcErrs   map[string]*RPCError       // method → JSON-RPC error
	sendErrs  map[string]error           // method → transport-level error
	failAfter map[string]int             // method → successes before failing
	calls     []string                   // methods sent, in order
	notified  []string                   // notification methods sent
	closed    bool
	nextID    int64
	notif     chan Message
	closeOnce sync.Once
	onExit    func(code int)
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		responses: make(map[string]json.RawMessage),
		rpcErrs:   make(map[string]*RPCError),
		sendErrs:  make(map[string]error),
		failAfter: make(map[string]int),
		notif:     make(chan Message, 8),
	}
}

// withInitialize configures the initialize response with the given capabilities.
func (m *mockTransport) withInitialize(caps ServerCapabilities) *mockTransport {
	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      ServerInfo{Name: "mock-server", Version: "1.0"},
	}
	data, _ := json.Marshal(result)
	m.responses[MethodInitialize] = data
	return m
}

func (m *mockTransport) withTools(tools []ToolInfo) *mockTransport {
	data, _ := json.Marshal(ToolsListResult{Tools: tools})
	m.responses[MethodToolsList] = data
	return m
}

func (m *mockTransport) withToolCall(result ToolResult) *mockTransport {
	data, _ := json.Marshal(result)
	m.responses[MethodToolsCall] = data
	return m
}

func (m *mockTransport) withResources(resources []Resource) *mockTransport {
	data, _ := json.Marshal(ResourcesListResult{Resources: resources})
	m.responses[MethodResourcesList] = data
	return m
}

func (m *mockTransport) withResourceTemplates(templates []ResourceTemplate) *mockTransport {
	data, _ := json.Marshal(ResourceTemplatesListResult{ResourceTemplates: templates})
	m.responses[MethodResourcesTemplatesList] = data
	return m
}

func (m *mockTransport) withResourceRead(result ResourceReadResult) *mockTransport {
	data, _ := json.Marshal(result)
	m.responses[MethodResourcesRead] = data
	return m
}

func (m *mockTransport) withPrompts(prompts []Prompt) *mockTransport {
	data, _ := json.Marshal(PromptsListResult{Prompts: prompts})
	m.responses[MethodPromptsList] = data
	return m
}

func (m *mockTransport) withPromptGet(result PromptGetResult) *mockTransport {
	data, _ := json.Marshal(result)
	m.responses[MethodPromptsGet] = data
	return m
}

// withRPCError makes a method answer with a JSON-RPC error.
func (m *mockTransport) withRPCError(method string, code int, message string) *mockTransport {
	m.rpcErrs[method] = &RPCError{Code: code, Message: message}
	return m
}

// withSendError makes a method fail at the transport level.
func (m *mockTransport) withSendError(method string, err error) *mockTransport {
	m.sendErrs[method] = err
	return m
}

// withFailAfter lets a method succeed the given number of times, then fail
// at the transport level.
func (m *mockTransport) withFailAfter(method string, successes int) *mockTransport {
	m.failAfter[method] = successes
	return m
}

func (m *mockTransport) Send(_ context.Context, method string, _ any) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrTransportClosed
	}
	m.calls = append(m.calls, method)

	if err, ok := m.sendErrs[method]; ok {
		return nil, err
	}
	if budget, ok := m.failAfter[method]; ok {
		sent := 0
		for _, c := range m.calls {
			if c == method {
				sent++
			}
		}
		if sent > budget {
			return nil, fmt.Errorf("injected failure on %s call %d", method, sent)
		}
	}

	m.nextID++
	id := NumericID(m.nextID)

	if rpcErr, ok := m.rpcErrs[method]; ok {
		return &Message{JSONRPC: Version, ID: id, Error: rpcErr}, nil
	}
	result, ok := m.responses[method]
	if !ok {
		return &Message{
			JSONRPC: Version,
			ID:      id,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + method},
		}, nil
	}
	return &Message{JSONRPC: Version, ID: id, Result: result}, nil
}

func (m *mockTransport) Notify(_ context.Context, method string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportClosed
	}
	m.notified = append(m.notified, method)
	return nil
}

func (m *mockTransport) Notifications() <-chan Message {
	return m.notif
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.notif) })
	return nil
}

func (m *mockTransport) OnExit(fn func(code int)) {
	m.mu.Lock()
	m.onExit = fn
	m.mu.Unlock()
}

// fireExit simulates the subprocess dying with the given code.
func (m *mockTransport) fireExit(code int) {
	m.mu.Lock()
	fn := m.onExit
	m.closed = true
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.notif) })
	if fn != nil {
		fn(code)
	}
}

// callCount reports how many times a method was sent.
func (m *mockTransport) callCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// newTestConnection builds a connection whose transport factory returns the
// given mock instead of spawning a subprocess.
func newTestConnection(name string, cfg ServerConfig, transport Transport) *Connection {
	conn := NewConnection(name, cfg, nil)
	conn.newTransport = func(context.Context) (Transport, error) {
		return transport, nil
	}
	return conn
}

// registerMock registers a server backed by a mock transport and returns the
// mock for assertions.
func registerMock(r *Registry, name string, mock *mockTransport) *mockTransport {
	if err := r.Register(name, ServerConfig{Command: "mock"}); err != nil {
		panic(err)
	}
	conn, _ := r.Connection(name)
	conn.newTransport = func(context.Context) (Transport, error) {
		return mock, nil
	}
	return mock
}

func allCaps() ServerCapabilities {
	return ServerCapabilities{
		Tools:     &ToolsCapability{},
		Resources: &ResourcesCapability{},
		Prompts:   &PromptsCapability{},
	}
}
