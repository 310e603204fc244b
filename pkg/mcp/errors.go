package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors callers branch on with errors.Is.
var (
	ErrTransportClosed    = errors.New("transport closed")
	ErrClientDisconnected = errors.New("client disconnected")
	ErrToolNotFound       = errors.New("tool not found on any connected server")
	ErrResourceNotFound   = errors.New("resource not found on any connected server")
	ErrPromptNotFound     = errors.New("prompt not found on any connected server")
)

// TimeoutError reports a request that exceeded its deadline. The pending
// entry is removed before the error is returned, so a late response is
// dropped rather than delivered.
type TimeoutError struct {
	Millis int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %dms", e.Millis)
}

// NotConnectedError reports an operation attempted on a connection that is
// not Ready.
type NotConnectedError struct {
	Server string
	State  ConnState
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("server %q is not connected (state %s)", e.Server, e.State)
}

// ProcessExitError reports a subprocess that exited while requests were
// pending.
type ProcessExitError struct {
	Code int
}

func (e *ProcessExitError) Error() string {
	return fmt.Sprintf("server process exited with code %d", e.Code)
}

// ReconnectExhaustedError reports a reconnect supervisor that used up its
// retry budget.
type ReconnectExhaustedError struct {
	Server   string
	Attempts int
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("server %q: reconnect attempts exhausted after %d tries", e.Server, e.Attempts)
}
