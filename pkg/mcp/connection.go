package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
)

// Client identity sent during the initialize handshake.
const (
	clientName    = "flip-god"
	clientVersion = "0.1.0"
)

// Connection manages the lifecycle of a single MCP server:
// Disconnected -> Connecting -> Initializing -> Ready, with Reconnecting
// entered when a Ready server dies and its config allows supervision.
type Connection struct {
	name string
	cfg  ServerConfig
	log  *logger.Logger

	// newTransport is swapped in tests to inject mock transports.
	newTransport func(ctx context.Context) (Transport, error)

	mu              sync.Mutex
	state           ConnState
	transport       Transport
	info            *ServerInfo
	caps            *ServerCapabilities
	protocol        string
	lastErr         string
	attempts        int // reconnect attempts since the last success
	gen             int // transport generation, guards stale exit events
	lastToolCount   int
	cancelReconnect context.CancelFunc
}

// NewConnection creates a connection in the Disconnected state. Nothing is
// spawned until Connect.
func NewConnection(name string, cfg ServerConfig, log *logger.Logger) *Connection {
	if log == nil {
		log = logger.Discard()
	}
	c := &Connection{
		name:  name,
		cfg:   cfg,
		log:   log.WithComponent("mcp." + name),
		state: StateDisconnected,
	}
	c.newTransport = c.createTransport
	return c
}

// Name returns the config key this connection was registered under.
func (c *Connection) Name() string { return c.name }

// Config returns the server config the connection was built from.
func (c *Connection) Config() ServerConfig { return c.cfg }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info returns the server identity captured during the handshake.
func (c *Connection) Info() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Capabilities returns the capabilities declared during the handshake.
func (c *Connection) Capabilities() *ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Status returns a point-in-time view for status reporting.
func (c *Connection) Status() ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ServerStatus{
		Name:       c.name,
		State:      c.state,
		ServerInfo: c.info,
		Error:      c.lastErr,
		ToolCount:  c.lastToolCount,
	}
}

// Connect brings the connection to Ready. It is a no-op when already Ready
// and cancels any reconnect supervision in favor of the explicit attempt.
// A config with nothing launchable fails immediately with no retry.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.stopReconnectLocked()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateInitializing:
		c.mu.Unlock()
		return fmt.Errorf("server %q: connect already in progress", c.name)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	return c.establish(ctx)
}

// establish spawns the transport and runs the handshake. The caller must
// have already moved the state to Connecting.
func (c *Connection) establish(ctx context.Context) error {
	transport, err := c.newTransport(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastErr = err.Error()
		c.mu.Unlock()
		return fmt.Errorf("create transport: %w", err)
	}

	c.mu.Lock()
	c.transport = transport
	c.gen++
	gen := c.gen
	c.state = StateInitializing
	c.mu.Unlock()

	if ea, ok := transport.(exitAware); ok {
		ea.OnExit(func(code int) { c.handleExit(gen, code) })
	}
	go c.drainNotifications(transport)

	if err := c.runHandshake(ctx, transport); err != nil {
		c.mu.Lock()
		if c.transport == transport {
			c.transport = nil
		}
		c.state = StateDisconnected
		c.lastErr = err.Error()
		c.mu.Unlock()
		transport.Close()
		return err
	}

	c.mu.Lock()
	c.state = StateReady
	c.attempts = 0
	c.lastErr = ""
	c.mu.Unlock()

	c.log.Info("server ready", "server", c.name)
	return nil
}

// runHandshake performs the MCP initialization exchange on a connected
// transport: initialize request, capture identity and capabilities, then
// the initialized notification.
func (c *Connection) runHandshake(ctx context.Context, transport Transport) error {
	initParams := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      ClientInfo{Name: clientName, Version: clientVersion},
	}
	resp, err := transport.Send(ctx, MethodInitialize, initParams)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize error: %w", resp.Error)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(resp.Result, &initResult); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.info = &initResult.ServerInfo
	c.caps = &initResult.Capabilities
	c.protocol = initResult.ProtocolVersion
	c.mu.Unlock()

	if err := transport.Notify(ctx, MethodInitialized, nil); err != nil {
		return fmt.Errorf("send initialized: %w", err)
	}
	return nil
}

// Disconnect tears the connection down: supervision cancelled, pending
// requests rejected, subprocess terminated. Idempotent.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.stopReconnectLocked()
	transport := c.transport
	c.transport = nil
	c.gen++ // a late exit event from the old transport is now stale
	c.state = StateDisconnected
	c.info = nil
	c.caps = nil
	c.lastErr = ""
	c.mu.Unlock()

	if transport != nil {
		return transport.Close()
	}
	return nil
}

// stopReconnectLocked cancels an active reconnect supervisor. Callers hold mu.
func (c *Connection) stopReconnectLocked() {
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
	if c.state == StateReconnecting {
		c.state = StateDisconnected
	}
}

// handleExit reacts to a transport that died without Close being requested.
// Reconnect supervision starts only for exits out of Ready, and only when
// the config asks for it: restartOnExit supervises any exit, retryOnFailure
// only non-zero exits.
func (c *Connection) handleExit(gen, code int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	wasReady := c.state == StateReady
	c.transport = nil
	c.lastErr = (&ProcessExitError{Code: code}).Error()

	if wasReady && (c.cfg.RestartOnExit || (c.cfg.RetryOnFailure && code != 0)) {
		c.state = StateReconnecting
		rctx, cancel := context.WithCancel(context.Background())
		c.cancelReconnect = cancel
		c.mu.Unlock()
		c.log.Warn("server exited, supervising reconnect", "server", c.name, "code", code)
		go c.superviseReconnect(rctx)
		return
	}

	c.state = StateDisconnected
	c.mu.Unlock()
	c.log.Warn("server exited", "server", c.name, "code", code)
}

// superviseReconnect retries Connect with capped exponential backoff until
// it succeeds, the retry budget runs out, or the supervisor is cancelled.
// A successful connect resets the attempt counter.
func (c *Connection) superviseReconnect(ctx context.Context) {
	for {
		c.mu.Lock()
		if ctx.Err() != nil || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		attempt := c.attempts
		if attempt >= c.cfg.maxRetries() {
			c.state = StateDisconnected
			c.lastErr = (&ReconnectExhaustedError{Server: c.name, Attempts: attempt}).Error()
			c.cancelReconnect = nil
			c.mu.Unlock()
			c.log.Warn("reconnect attempts exhausted", "server", c.name, "attempts", attempt)
			return
		}
		c.attempts++
		delay := backoffDelay(c.cfg.reconnectBase(), c.cfg.reconnectMax(), attempt)
		c.mu.Unlock()

		c.log.Info("reconnect scheduled", "server", c.name, "attempt", attempt+1, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if ctx.Err() != nil || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		if err := c.establish(ctx); err == nil {
			c.mu.Lock()
			c.cancelReconnect = nil
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.state = StateReconnecting
		c.mu.Unlock()
	}
}

// backoffDelay computes min(max, base*2^attempt).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultReconnectBase
	}
	if max <= 0 {
		max = defaultReconnectMax
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// drainNotifications logs server-initiated frames until the transport's
// notification channel closes.
func (c *Connection) drainNotifications(transport Transport) {
	for msg := range transport.Notifications() {
		c.log.Debug("server notification", "server", c.name, "method", msg.Method)
	}
}

// ready returns the transport when the connection is Ready.
func (c *Connection) ready() (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.transport == nil {
		return nil, &NotConnectedError{Server: c.name, State: c.state}
	}
	return c.transport, nil
}

// call issues one request and decodes its result into out when non-nil.
func (c *Connection) call(ctx context.Context, method string, params, out any) error {
	transport, err := c.ready()
	if err != nil {
		return err
	}
	resp, err := transport.Send(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("parse %s result: %w", method, err)
		}
	}
	return nil
}

// ListTools queries tools/list. A server that never declared the tools
// capability is not sent the request and contributes nothing.
func (c *Connection) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if caps := c.Capabilities(); caps == nil || caps.Tools == nil {
		return nil, nil
	}
	var result ToolsListResult
	if err := c.call(ctx, MethodToolsList, nil, &result); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lastToolCount = len(result.Tools)
	c.mu.Unlock()
	return result.Tools, nil
}

// CallTool executes a tool on this server.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	var result ToolResult
	err := c.call(ctx, MethodToolsCall, ToolCallParams{Name: name, Arguments: args}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources queries resources/list, gated on the resources capability.
func (c *Connection) ListResources(ctx context.Context) ([]Resource, error) {
	if caps := c.Capabilities(); caps == nil || caps.Resources == nil {
		return nil, nil
	}
	var result ResourcesListResult
	if err := c.call(ctx, MethodResourcesList, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ListResourceTemplates queries resources/templates/list, gated on the
// resources capability.
func (c *Connection) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	if caps := c.Capabilities(); caps == nil || caps.Resources == nil {
		return nil, nil
	}
	var result ResourceTemplatesListResult
	if err := c.call(ctx, MethodResourcesTemplatesList, nil, &result); err != nil {
		return nil, err
	}
	return result.ResourceTemplates, nil
}

// ReadResource reads one resource by URI.
func (c *Connection) ReadResource(ctx context.Context, uri string) (*ResourceReadResult, error) {
	var result ResourceReadResult
	if err := c.call(ctx, MethodResourcesRead, ResourceReadParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts queries prompts/list, gated on the prompts capability.
func (c *Connection) ListPrompts(ctx context.Context) ([]Prompt, error) {
	if caps := c.Capabilities(); caps == nil || caps.Prompts == nil {
		return nil, nil
	}
	var result PromptsListResult
	if err := c.call(ctx, MethodPromptsList, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt expands one prompt with the given arguments.
func (c *Connection) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptGetResult, error) {
	var result PromptGetResult
	if err := c.call(ctx, MethodPromptsGet, PromptGetParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// createTransport builds the transport named by the config.
func (c *Connection) createTransport(ctx context.Context) (Transport, error) {
	cfg := c.cfg
	switch cfg.Transport {
	case TransportStdio, "":
		if cfg.Command == "" {
			if cfg.URL != "" {
				return NewHTTPTransport(cfg.URL, cfg.Headers, cfg.requestTimeout()), nil
			}
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		return NewStdioTransport(cfg.Command, cfg.Args, cfg.Env,
			WithCwd(cfg.Cwd),
			WithRequestTimeout(cfg.requestTimeout()),
			WithLogger(c.log))
	case TransportHTTP, TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http transport requires a URL")
		}
		return NewHTTPTransport(cfg.URL, cfg.Headers, cfg.requestTimeout()), nil
	case TransportWebSocket, "websocket":
		if cfg.URL == "" {
			return nil, fmt.Errorf("websocket transport requires a URL")
		}
		return NewWebSocketTransport(ctx, cfg.URL, cfg.Headers, cfg.requestTimeout(), c.log)
	default:
		return nil, fmt.Errorf("unsupported transport type: %q", cfg.Transport)
	}
}
