package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
)

// WebSocketTransport speaks JSON-RPC over a WebSocket connection. Each text
// frame carries one JSON-RPC message.
type WebSocketTransport struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	calls   *correlator
	notif   chan Message

	timeout time.Duration
	log     *logger.Logger

	quit    chan struct{}
	done    chan struct{}
	closing atomic.Bool

	exitMu sync.Mutex
	onExit func(code int)
}

// NewWebSocketTransport dials url and returns a connected transport.
func NewWebSocketTransport(ctx context.Context, url string, headers map[string]string, timeout time.Duration, log *logger.Logger) (*WebSocketTransport, error) {
	if timeout <= 0 {
		timeout = RequestTimeout()
	}
	if log == nil {
		log = logger.Discard()
	}

	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	connCtx, cancel := context.WithCancel(context.Background())
	t := &WebSocketTransport{
		conn:    conn,
		ctx:     connCtx,
		cancel:  cancel,
		calls:   newCorrelator(),
		notif:   make(chan Message, 64),
		timeout: timeout,
		log:     log,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go t.readLoop()

	return t, nil
}

// OnExit registers a handler fired once when the connection drops without
// Close having been requested. Code 0 means a clean remote closure.
func (t *WebSocketTransport) OnExit(f func(code int)) {
	t.exitMu.Lock()
	t.onExit = f
	t.exitMu.Unlock()
}

// readLoop reads frames until the connection dies, then rejects pending
// calls and reports the drop.
func (t *WebSocketTransport) readLoop() {
	var code int
	for {
		_, data, err := t.conn.Read(t.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				code = 0
			default:
				code = 1
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Warn("dropping unparseable frame", "error", err, "bytes", len(data))
			continue
		}

		switch msg.Kind() {
		case KindResponse:
			if !t.calls.settle(msg.ID, msg) {
				t.log.Warn("dropping response with no pending request", "id", string(msg.ID))
			}
		case KindNotification:
			select {
			case t.notif <- msg:
			case <-t.quit:
			}
		default:
			t.log.Warn("ignoring server-initiated request", "method", msg.Method)
		}
	}

	requested := t.closing.Load()
	if requested {
		t.calls.failAll(ErrClientDisconnected)
	} else {
		n := t.calls.failAll(ErrTransportClosed)
		t.log.Info("websocket closed", "code", code, "rejectedCalls", n)
	}

	close(t.notif)
	close(t.done)

	if !requested {
		t.exitMu.Lock()
		handler := t.onExit
		t.exitMu.Unlock()
		if handler != nil {
			handler(code)
		}
	}
}

// Send writes a request frame and waits for the correlated response with
// the same first-writer-wins settlement as the stdio transport.
func (t *WebSocketTransport) Send(ctx context.Context, method string, params any) (*Message, error) {
	id := t.calls.next()
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := t.calls.register(id)

	t.writeMu.Lock()
	writeErr := t.conn.Write(ctx, websocket.MessageText, data)
	t.writeMu.Unlock()
	if writeErr != nil {
		t.calls.remove(id)
		return nil, fmt.Errorf("write request: %w", writeErr)
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return settled(res)
	case <-timer.C:
		if t.calls.remove(id) {
			return nil, &TimeoutError{Millis: t.timeout.Milliseconds()}
		}
		return settled(<-ch)
	case <-ctx.Done():
		if t.calls.remove(id) {
			return nil, ctx.Err()
		}
		return settled(<-ch)
	case <-t.done:
		if t.calls.remove(id) {
			return nil, ErrTransportClosed
		}
		return settled(<-ch)
	}
}

// Notify writes a notification frame.
func (t *WebSocketTransport) Notify(ctx context.Context, method string, params any) error {
	n, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Notifications delivers server-initiated frames carrying no ID.
func (t *WebSocketTransport) Notifications() <-chan Message {
	return t.notif
}

// Close sends a close frame and shuts the transport down. Safe to call
// more than once.
func (t *WebSocketTransport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		<-t.done
		return nil
	}

	close(t.quit)
	_ = t.conn.Close(websocket.StatusNormalClosure, "")
	t.cancel()
	<-t.done
	return nil
}
