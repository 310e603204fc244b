package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPTransport communicates with an MCP server via Streamable HTTP.
// Each JSON-RPC request is sent as an HTTP POST; the response may be
// immediate JSON or an SSE stream.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	timeout time.Duration

	calls *correlator // ID allocation only; HTTP correlates per request

	mu        sync.Mutex
	sessionID string // Mcp-Session-Id from server

	notif     chan Message
	closeOnce sync.Once
}

// NewHTTPTransport creates an HTTP transport for the given URL with
// optional custom headers.
func NewHTTPTransport(url string, headers map[string]string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = RequestTimeout()
	}
	return &HTTPTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{},
		timeout: timeout,
		calls:   newCorrelator(),
		notif:   make(chan Message),
	}
}

// Send posts a JSON-RPC request and returns the response, which may come as
// immediate JSON or via an SSE stream.
func (t *HTTPTransport) Send(ctx context.Context, method string, params any) (*Message, error) {
	req, err := NewRequest(t.calls.next(), method, params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	t.mu.Lock()
	if t.sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return t.parseSSEResponse(ctx, resp.Body, req.ID)
	}

	var rpcResp Message
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &rpcResp, nil
}

// parseSSEResponse scans an SSE stream for the JSON-RPC response matching
// the request ID.
func (t *HTTPTransport) parseSSEResponse(ctx context.Context, body io.Reader, reqID json.RawMessage) (*Message, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	want := idKey(reqID)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()

		// Skip SSE comments and empty lines
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var resp Message
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue // skip unparseable
		}
		if resp.Kind() == KindResponse && idKey(resp.ID) == want {
			return &resp, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sse stream: %w", err)
	}
	return nil, fmt.Errorf("sse stream ended without matching response")
}

// Notify posts a JSON-RPC notification (no response body expected).
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	n, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	t.mu.Lock()
	if t.sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("http %d for notification", resp.StatusCode)
	}
	return nil
}

// Notifications returns a channel that closes on shutdown. The stateless
// HTTP transport has no server-push path outside a request.
func (t *HTTPTransport) Notifications() <-chan Message {
	return t.notif
}

// Close is nearly a no-op for HTTP: it only releases notification drains.
func (t *HTTPTransport) Close() error {
	t.closeOnce.Do(func() { close(t.notif) })
	return nil
}
