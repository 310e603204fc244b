package mcp

import "context"

// Transport abstracts bidirectional JSON-RPC communication with an MCP
// server. Implementations allocate request IDs, correlate responses, and
// apply the per-request deadline.
type Transport interface {
	// Send issues a request and waits for the correlated response, the
	// per-request timeout, or ctx cancellation, whichever comes first.
	Send(ctx context.Context, method string, params any) (*Message, error)
	// Notify sends a notification (no ID, no response expected).
	Notify(ctx context.Context, method string, params any) error
	// Notifications delivers server-initiated frames that carry no ID.
	Notifications() <-chan Message
	// Close terminates the transport connection and rejects pending calls.
	Close() error
}

// exitAware is implemented by transports backed by a subprocess or a
// persistent connection that can die underneath the client. The handler
// fires once, with the exit code, only when the teardown was not requested
// via Close.
type exitAware interface {
	OnExit(func(code int))
}
