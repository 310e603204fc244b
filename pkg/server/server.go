// Package server exposes the agent's own tools, resources, and prompts over
// MCP on a stdin/stdout pair, with a security pipeline in front of tool
// execution. Logs go to stderr; stdout carries only protocol frames.
package server

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
	"github.com/alsk1992/Flip-God-sub006/pkg/mcp"
	"github.com/alsk1992/Flip-God-sub006/pkg/security"
	"github.com/alsk1992/Flip-God-sub006/pkg/tools"
)

const (
	serverName    = "flip-god"
	serverVersion = "0.1.0"

	readBufSize = 32 * 1024
)

// Guard is the security surface consulted on every tools/call.
// *security.Policy implements it.
type Guard interface {
	IsToolAllowed(name string) bool
	CheckRateLimit(client string) error
	SanitizeArgs(args map[string]any) error
	Audit(rec security.Record)
}

// Server speaks MCP over a reader/writer pair, stdin and stdout in
// production. One instance serves one client process.
type Server struct {
	in  io.Reader
	out io.Writer

	tools     *tools.Registry
	resources *ResourceCatalog
	prompts   *PromptCatalog
	guard     Guard
	log       *logger.Logger

	toolTimeout time.Duration
	chunkSize   int

	writeMu sync.Mutex // one frame per write, never interleaved

	mu       sync.Mutex
	clientID string // from initialize, used for rate-limit bucketing
}

// Option configures a Server.
type Option func(*Server)

// WithGuard installs the security pipeline. Without one the server uses a
// permissive policy built from security defaults.
func WithGuard(g Guard) Option {
	return func(s *Server) { s.guard = g }
}

// WithResources installs the local resource catalog.
func WithResources(c *ResourceCatalog) Option {
	return func(s *Server) { s.resources = c }
}

// WithPrompts installs the local prompt catalog.
func WithPrompts(c *PromptCatalog) Option {
	return func(s *Server) { s.prompts = c }
}

// WithToolTimeout overrides the execution timeout raced against each tool.
func WithToolTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.toolTimeout = d
		}
	}
}

// WithChunkSize overrides the resource chunk size for resources/read.
func WithChunkSize(n int) Option {
	return func(s *Server) { s.chunkSize = n }
}

// WithLogger sets the logger. Logs always go to stderr.
func WithLogger(log *logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log.WithComponent("server")
		}
	}
}

// New creates a server reading frames from in and writing frames to out.
func New(in io.Reader, out io.Writer, reg *tools.Registry, opts ...Option) *Server {
	s := &Server{
		in:          in,
		out:         out,
		tools:       reg,
		resources:   NewResourceCatalog(),
		prompts:     NewPromptCatalog(),
		log:         logger.Discard().WithComponent("server"),
		toolTimeout: mcp.ToolTimeout(),
		chunkSize:   mcp.ChunkSize(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tools == nil {
		s.tools = tools.NewRegistry()
	}
	if s.guard == nil {
		s.guard = security.NewPolicy(security.DefaultConfig(), s.log)
	}
	return s
}

// Run reads frames until the input stream ends or ctx is cancelled.
// Requests are dispatched sequentially in arrival order.
func (s *Server) Run(ctx context.Context) error {
	msgs := make(chan mcp.Message, 16)
	readErr := make(chan error, 1)
	go s.readLoop(msgs, readErr)

	s.log.Info("mcp server listening", "name", serverName, "version", serverVersion)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				err := <-readErr
				s.log.Info("mcp server input closed")
				return err
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Server) readLoop(msgs chan<- mcp.Message, readErr chan<- error) {
	dec := mcp.NewFrameDecoder(s.log)
	buf := make([]byte, readBufSize)
	for {
		n, err := s.in.Read(buf)
		if n > 0 {
			// FeedAll keeps structurally invalid envelopes so handle can
			// answer them with an invalid-request error.
			for _, m := range dec.FeedAll(buf[:n]) {
				msgs <- m
			}
		}
		if err != nil {
			if err == io.EOF {
				readErr <- nil
			} else {
				readErr <- err
			}
			close(msgs)
			return
		}
	}
}

// handle routes one decoded frame. Only requests produce replies.
func (s *Server) handle(ctx context.Context, msg mcp.Message) {
	switch msg.Kind() {
	case mcp.KindRequest:
		s.write(s.handleRequest(ctx, msg))
	case mcp.KindNotification:
		s.handleNotification(msg)
	case mcp.KindResponse:
		s.log.Debug("ignoring response frame", "id", string(msg.ID))
	default:
		// Valid JSON, invalid envelope. Reply only when it carries an ID.
		if msg.HasID() {
			s.write(mcp.NewErrorResponse(msg.ID, mcp.CodeInvalidRequest, "invalid request", nil))
		} else {
			s.log.Warn("dropping invalid frame", "method", msg.Method)
		}
	}
}

func (s *Server) write(msg mcp.Message) {
	data, err := mcp.EncodeFrame(msg)
	if err != nil {
		s.log.Error("failed to encode frame", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.log.Error("failed to write frame", "error", err)
	}
}

// client returns the identity captured from initialize, for rate limiting
// and audit records.
func (s *Server) client() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientID == "" {
		return "unknown"
	}
	return s.clientID
}

func (s *Server) setClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		s.clientID = id
	}
}
