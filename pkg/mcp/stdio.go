package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
)

// StdioTransport speaks newline-delimited JSON-RPC with a spawned child
// process over its stdin/stdout. Stderr is drained to diagnostics and never
// parsed as protocol.
type StdioTransport struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex // serializes frame writes to stdin
	calls   *correlator
	notif   chan Message

	timeout time.Duration
	log     *logger.Logger

	quit       chan struct{} // closed when Close begins
	readerDone chan struct{} // closed when the stdout reader exits
	stderrDone chan struct{} // closed when the stderr drain exits
	done       chan struct{} // closed when the process has been reaped
	closing    atomic.Bool

	exitMu sync.Mutex
	onExit func(code int)

	stderrMu   sync.Mutex
	lastStderr string
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithCwd sets the child process working directory.
func WithCwd(dir string) StdioOption {
	return func(t *StdioTransport) {
		if dir != "" {
			t.cmd.Dir = dir
		}
	}
}

// WithRequestTimeout overrides the default per-request deadline.
func WithRequestTimeout(d time.Duration) StdioOption {
	return func(t *StdioTransport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger attaches a logger for decode warnings and exit diagnostics.
func WithLogger(log *logger.Logger) StdioOption {
	return func(t *StdioTransport) {
		if log != nil {
			t.log = log
		}
	}
}

// NewStdioTransport spawns a child process and returns a transport speaking
// JSON-RPC over its stdin/stdout. The process inherits the parent
// environment plus any overrides.
func NewStdioTransport(command string, args []string, env map[string]string, opts ...StdioOption) (*StdioTransport, error) {
	cmd := exec.Command(command, args...)

	// Inherit parent env + user overrides
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	t := &StdioTransport{
		cmd:        cmd,
		calls:      newCorrelator(),
		notif:      make(chan Message, 64),
		timeout:    RequestTimeout(),
		log:        logger.Discard(),
		quit:       make(chan struct{}),
		readerDone: make(chan struct{}),
		stderrDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	t.stdin = stdinPipe

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	go t.readLoop(stdoutPipe)
	go t.drainStderr(stderrPipe)
	go t.waitLoop()

	return t, nil
}

// OnExit registers a handler invoked once, with the exit code, when the
// process dies without Close having been requested.
func (t *StdioTransport) OnExit(f func(code int)) {
	t.exitMu.Lock()
	t.onExit = f
	t.exitMu.Unlock()
}

// readLoop feeds stdout through the frame decoder and dispatches each
// message. It exits on EOF, which the wait loop treats as the cue to reap.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer close(t.readerDone)

	dec := NewFrameDecoder(t.log)
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, msg := range dec.Feed(buf[:n]) {
				if !t.dispatch(msg) {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// dispatch routes one decoded frame. Responses settle their pending call;
// frames without an ID go to the notification channel. It reports false
// when the transport is shutting down.
func (t *StdioTransport) dispatch(msg Message) bool {
	switch msg.Kind() {
	case KindResponse:
		if !t.calls.settle(msg.ID, msg) {
			t.log.Warn("dropping response with no pending request", "id", string(msg.ID))
		}
	case KindNotification:
		select {
		case t.notif <- msg:
		case <-t.quit:
			return false
		}
	case KindRequest:
		// Server-initiated requests are not supported over this transport.
		t.log.Warn("ignoring server-initiated request", "method", msg.Method)
	}
	return true
}

// drainStderr logs child diagnostics line by line and keeps the most recent
// line for error context.
func (t *StdioTransport) drainStderr(stderr io.Reader) {
	defer close(t.stderrDone)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 16*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		t.stderrMu.Lock()
		t.lastStderr = line
		t.stderrMu.Unlock()
		t.log.Debug("server stderr", "line", line)
	}
}

// waitLoop reaps the child after both pipes drain, rejects everything still
// pending, and fires the exit handler when the death was not requested.
func (t *StdioTransport) waitLoop() {
	<-t.readerDone
	<-t.stderrDone

	code := 0
	if err := t.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	requested := t.closing.Load()
	if requested {
		t.calls.failAll(ErrClientDisconnected)
	} else {
		n := t.calls.failAll(&ProcessExitError{Code: code})
		t.log.Info("server process exited", "code", code, "rejectedCalls", n, "stderr", t.lastStderrLine())
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

func (t *StdioTransport) lastStderrLine() string {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()
	return t.lastStderr
}

// Send writes a request frame and waits for the correlated response, the
// per-request deadline, ctx cancellation, or transport death. Whichever
// path removes the pending entry first owns the outcome.
func (t *StdioTransport) Send(ctx context.Context, method string, params any) (*Message, error) {
	id := t.calls.next()
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	frame, err := EncodeFrame(req)
	if err != nil {
		return nil, err
	}

	// Register before writing so a fast response cannot miss its waiter.
	ch := t.calls.register(id)

	t.writeMu.Lock()
	_, writeErr := t.stdin.Write(frame)
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
			return nil, fmt.Errorf("%w: %s", ErrTransportClosed, t.lastStderrLine())
		}
		return settled(<-ch)
	}
}

// settled unwraps a correlator result for return to the caller.
func settled(res callResult) (*Message, error) {
	if res.err != nil {
		return nil, res.err
	}
	msg := res.msg
	return &msg, nil
}

// Notify writes a notification frame (no ID, no response expected).
func (t *StdioTransport) Notify(_ context.Context, method string, params any) error {
	n, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(n)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(frame); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Notifications delivers server-initiated frames carrying no ID. The
// channel closes when the transport shuts down.
func (t *StdioTransport) Notifications() <-chan Message {
	return t.notif
}

// Close terminates the child process: close stdin, SIGTERM, wait with
// timeout, SIGKILL. Safe to call more than once.
func (t *StdioTransport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		<-t.done
		return nil
	}

	close(t.quit)
	t.stdin.Close()

	if t.cmd.Process != nil {
		_ = t.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-t.done
	}
	return nil
}
