package mcp

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
)

// Registry manages the fleet of configured MCP servers: lazy connection
// creation, concurrent startup, cross-server aggregation, and dispatch by
// qualified or probed name. Registration order is the probe order.
type Registry struct {
	log       *logger.Logger
	cache     *PromptCache
	chunkSize int

	mu    sync.RWMutex
	order []string
	conns map[string]*Connection
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPromptCache replaces the default prompt cache.
func WithPromptCache(cache *PromptCache) RegistryOption {
	return func(r *Registry) {
		if cache != nil {
			r.cache = cache
		}
	}
}

// WithChunkSize overrides the resource streaming chunk size. Values under
// the floor are raised to it.
func WithChunkSize(n int) RegistryOption {
	return func(r *Registry) {
		if n < MinChunkSize {
			n = MinChunkSize
		}
		r.chunkSize = n
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logger.Discard()
	}
	r := &Registry{
		log:       log.WithComponent("mcp.registry"),
		cache:     NewPromptCache(0, 0),
		chunkSize: ChunkSize(),
		conns:     make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a server config under a unique name. The connection is
// created lazily and stays Disconnected until connected.
func (r *Registry) Register(name string, cfg ServerConfig) error {
	if name == "" {
		return fmt.Errorf("server name must not be empty")
	}
	if strings.Contains(name, ":") {
		return fmt.Errorf("server name %q must not contain ':'", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[name]; exists {
		return fmt.Errorf("server %q already registered", name)
	}
	r.conns[name] = NewConnection(name, cfg, r.log)
	r.order = append(r.order, name)
	return nil
}

// Unregister disconnects and removes a server.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	conn, ok := r.conns[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown server: %q", name)
	}
	delete(r.conns, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	return conn.Disconnect()
}

// Connection returns the connection registered under name.
func (r *Registry) Connection(name string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[name]
	return conn, ok
}

// Names returns the registered server names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Connect brings one server to Ready.
func (r *Registry) Connect(ctx context.Context, name string) error {
	conn, ok := r.Connection(name)
	if !ok {
		return fmt.Errorf("unknown server: %q", name)
	}
	return conn.Connect(ctx)
}

// ConnectAll connects every server whose autoStart is not explicitly
// disabled, one goroutine per server. Per-server failures are collected and
// logged, never aborting the rest.
func (r *Registry) ConnectAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.order))
	for _, name := range r.order {
		conn := r.conns[name]
		if conn.Config().autoStart() {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	failures := make(map[string]error)

	for _, conn := range targets {
		wg.Add(1)
		go func(conn *Connection) {
			defer wg.Done()
			if err := conn.Connect(ctx); err != nil {
				r.log.Warn("connect failed", "server", conn.Name(), "error", err)
				errMu.Lock()
				failures[conn.Name()] = err
				errMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()
	return failures
}

// readyConnections returns Ready connections in registration order.
func (r *Registry) readyConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.order))
	for _, name := range r.order {
		if conn := r.conns[name]; conn.State() == StateReady {
			out = append(out, conn)
		}
	}
	return out
}

// AllTools aggregates tools/list across every Ready server in registration
// order, tagging each descriptor with its owning server. A failing server
// is skipped with a warning.
func (r *Registry) AllTools(ctx context.Context) []ToolInfo {
	var all []ToolInfo
	for _, conn := range r.readyConnections() {
		tools, err := conn.ListTools(ctx)
		if err != nil {
			r.log.Warn("tools/list failed", "server", conn.Name(), "error", err)
			continue
		}
		for _, t := range tools {
			t.Server = conn.Name()
			all = append(all, t)
		}
	}
	return all
}

// AllResources aggregates resources/list across every Ready server.
func (r *Registry) AllResources(ctx context.Context) []Resource {
	var all []Resource
	for _, conn := range r.readyConnections() {
		resources, err := conn.ListResources(ctx)
		if err != nil {
			r.log.Warn("resources/list failed", "server", conn.Name(), "error", err)
			continue
		}
		for _, res := range resources {
			res.Server = conn.Name()
			all = append(all, res)
		}
	}
	return all
}

// AllResourceTemplates aggregates resources/templates/list across every
// Ready server.
func (r *Registry) AllResourceTemplates(ctx context.Context) []ResourceTemplate {
	var all []ResourceTemplate
	for _, conn := range r.readyConnections() {
		templates, err := conn.ListResourceTemplates(ctx)
		if err != nil {
			r.log.Warn("resources/templates/list failed", "server", conn.Name(), "error", err)
			continue
		}
		for _, tpl := range templates {
			tpl.Server = conn.Name()
			all = append(all, tpl)
		}
	}
	return all
}

// AllPrompts aggregates prompts/list across every Ready server.
func (r *Registry) AllPrompts(ctx context.Context) []Prompt {
	var all []Prompt
	for _, conn := range r.readyConnections() {
		prompts, err := conn.ListPrompts(ctx)
		if err != nil {
			r.log.Warn("prompts/list failed", "server", conn.Name(), "error", err)
			continue
		}
		for _, p := range prompts {
			p.Server = conn.Name()
			all = append(all, p)
		}
	}
	return all
}

// resolveTool maps a tool reference to its owning connection. A name of
// the form server:tool dispatches directly; anything else probes Ready
// servers in registration order and picks the first that declares it.
func (r *Registry) resolveTool(ctx context.Context, ref string) (*Connection, string, error) {
	if server, tool, ok := strings.Cut(ref, ":"); ok {
		conn, exists := r.Connection(server)
		if !exists {
			return nil, "", fmt.Errorf("unknown server %q in tool reference %q", server, ref)
		}
		return conn, tool, nil
	}

	for _, conn := range r.readyConnections() {
		tools, err := conn.ListTools(ctx)
		if err != nil {
			r.log.Warn("tool probe failed", "server", conn.Name(), "error", err)
			continue
		}
		for _, t := range tools {
			if t.Name == ref {
				return conn, ref, nil
			}
		}
	}
	return nil, "", fmt.Errorf("%w: %q", ErrToolNotFound, ref)
}

// CallTool dispatches one tool call by qualified or probed name.
func (r *Registry) CallTool(ctx context.Context, ref string, args map[string]any) (*ToolResult, error) {
	conn, tool, err := r.resolveTool(ctx, ref)
	if err != nil {
		return nil, err
	}
	return conn.CallTool(ctx, tool, args)
}

// CallToolBatch resolves the tool once and executes the argument sets
// sequentially. The first failure aborts the batch and discards every
// earlier result.
func (r *Registry) CallToolBatch(ctx context.Context, ref string, argsList []map[string]any) ([]*ToolResult, error) {
	conn, tool, err := r.resolveTool(ctx, ref)
	if err != nil {
		return nil, err
	}

	results := make([]*ToolResult, 0, len(argsList))
	for i, args := range argsList {
		result, err := conn.CallTool(ctx, tool, args)
		if err != nil {
			return nil, fmt.Errorf("batch call %d/%d failed: %w", i+1, len(argsList), err)
		}
		results = append(results, result)
	}
	return results, nil
}

// resolveResource maps a resource reference to a connection and URI. The
// reference is qualified only when the segment before the first ':' names
// a registered server, because bare URIs carry colons of their own.
func (r *Registry) resolveResource(ctx context.Context, ref string) (*Connection, string, error) {
	if server, uri, ok := strings.Cut(ref, ":"); ok {
		if conn, exists := r.Connection(server); exists {
			return conn, uri, nil
		}
	}

	for _, conn := range r.readyConnections() {
		resources, err := conn.ListResources(ctx)
		if err != nil {
			r.log.Warn("resource probe failed", "server", conn.Name(), "error", err)
			continue
		}
		for _, res := range resources {
			if res.URI == ref {
				return conn, ref, nil
			}
		}
	}
	return nil, "", fmt.Errorf("%w: %q", ErrResourceNotFound, ref)
}

// ReadResource reads a resource by qualified or probed reference.
func (r *Registry) ReadResource(ctx context.Context, ref string) (*ResourceReadResult, error) {
	conn, uri, err := r.resolveResource(ctx, ref)
	if err != nil {
		return nil, err
	}
	return conn.ReadResource(ctx, uri)
}

// StreamResource reads a resource and returns its contents as a lazy chunk
// sequence honoring the registry chunk size.
func (r *Registry) StreamResource(ctx context.Context, ref string) (iter.Seq[ResourceContent], error) {
	result, err := r.ReadResource(ctx, ref)
	if err != nil {
		return nil, err
	}
	return StreamAll(result, r.chunkSize), nil
}

// resolvePrompt maps a prompt reference to its owning connection, like
// resolveTool.
func (r *Registry) resolvePrompt(ctx context.Context, ref string) (*Connection, string, error) {
	if server, prompt, ok := strings.Cut(ref, ":"); ok {
		conn, exists := r.Connection(server)
		if !exists {
			return nil, "", fmt.Errorf("unknown server %q in prompt reference %q", server, ref)
		}
		return conn, prompt, nil
	}

	for _, conn := range r.readyConnections() {
		prompts, err := conn.ListPrompts(ctx)
		if err != nil {
			r.log.Warn("prompt probe failed", "server", conn.Name(), "error", err)
			continue
		}
		for _, p := range prompts {
			if p.Name == ref {
				return conn, ref, nil
			}
		}
	}
	return nil, "", fmt.Errorf("%w: %q", ErrPromptNotFound, ref)
}

// GetPrompt expands a prompt, serving repeats from the TTL cache. The
// reference is resolved before the lookup and the cache is keyed by the
// owning server plus canonicalized arguments, so qualified and bare
// references to the same prompt share one entry and a fresh hit skips the
// prompts/get fetch.
func (r *Registry) GetPrompt(ctx context.Context, ref string, args map[string]string) (*PromptGetResult, error) {
	conn, prompt, err := r.resolvePrompt(ctx, ref)
	if err != nil {
		return nil, err
	}

	key := promptCacheKey(conn.Name(), prompt, args)
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}
	result, err := conn.GetPrompt(ctx, prompt, args)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, result)
	return result, nil
}

// SetServers reconciles the registry against a desired config set: new
// servers are added (and connected when autoStart allows), removed ones are
// disconnected and dropped, changed ones are replaced and reconnected.
// Unchanged servers are left alone.
func (r *Registry) SetServers(ctx context.Context, servers map[string]ServerConfig) *SetServersResult {
	result := &SetServersResult{Errors: make(map[string]string)}

	r.mu.RLock()
	existing := make(map[string]ServerConfig, len(r.conns))
	for name, conn := range r.conns {
		existing[name] = conn.Config()
	}
	r.mu.RUnlock()

	for name := range existing {
		if _, keep := servers[name]; !keep {
			if err := r.Unregister(name); err != nil {
				result.Errors[name] = err.Error()
			} else {
				result.Removed = append(result.Removed, name)
			}
		}
	}

	// Map iteration order is random; apply the desired set sorted so the
	// probe order of servers added in one reload is stable.
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := servers[name]
		old, had := existing[name]
		switch {
		case !had:
			if err := r.Register(name, cfg); err != nil {
				result.Errors[name] = err.Error()
				continue
			}
			result.Added = append(result.Added, name)
			if cfg.autoStart() {
				if err := r.Connect(ctx, name); err != nil {
					result.Errors[name] = err.Error()
				}
			}
		case !old.equal(cfg):
			conn, _ := r.Connection(name)
			wasUp := conn != nil && conn.State() != StateDisconnected
			if err := r.Unregister(name); err != nil {
				result.Errors[name] = err.Error()
				continue
			}
			if err := r.Register(name, cfg); err != nil {
				result.Errors[name] = err.Error()
				continue
			}
			result.Updated = append(result.Updated, name)
			if wasUp || cfg.autoStart() {
				if err := r.Connect(ctx, name); err != nil {
					result.Errors[name] = err.Error()
				}
			}
		}
	}

	return result
}

// Status reports every server's state in registration order.
func (r *Registry) Status() []ServerStatus {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.order))
	for _, name := range r.order {
		conns = append(conns, r.conns[name])
	}
	r.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(conns))
	for _, conn := range conns {
		statuses = append(statuses, conn.Status())
	}
	return statuses
}

// Close disconnects every server.
func (r *Registry) Close() error {
	var errs []string
	for _, name := range r.Names() {
		if conn, ok := r.Connection(name); ok {
			if err := conn.Disconnect(); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
