// flipgod is the MCP layer of the Flip-God arbitrage agent. It plays both
// protocol roles: `serve` exposes the agent's own tools over stdio with a
// security pipeline in front of execution, while the query commands drive
// the fleet of upstream MCP servers declared in the mcpServers config.
//
// Usage:
//
//	flipgod serve
//	flipgod tools
//	flipgod call prices:lookup_price --args '{"sku":"B0ABC123"}'
//	flipgod resources
//	flipgod read flipgod://status
//	flipgod prompts
//	flipgod prompt flip-analysis --arg product="vintage lens" --arg cost=120
//	flipgod status
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/alsk1992/Flip-God-sub006/pkg/logger"
	"github.com/alsk1992/Flip-God-sub006/pkg/mcp"
	"github.com/alsk1992/Flip-God-sub006/pkg/security"
	"github.com/alsk1992/Flip-God-sub006/pkg/server"
	"github.com/alsk1992/Flip-God-sub006/pkg/tools"
)

// CLI is the kong command grammar.
type CLI struct {
	Config         string `kong:"short='c',help='MCP server config JSON (default: probe flipgod.mcp.json, mcp.config.json, ~/.config/flipgod/mcp.json, ~/.flipgod/mcp.json)'"`
	SecurityConfig string `kong:"name='security-config',help='Security policy YAML (default: built-in policy)'"`
	LogLevel       string `kong:"name='log-level',default='info',enum='debug,info,warn,error',help='Log level, written to stderr'"`

	Serve     ServeCmd     `kong:"cmd,default='1',help='Run the stdio MCP server and connect upstream servers'"`
	Tools     ToolsCmd     `kong:"cmd,help='List local and aggregated upstream tools'"`
	Call      CallCmd      `kong:"cmd,help='Call a tool (server:name, or a bare name probed in registration order)'"`
	Resources ResourcesCmd `kong:"cmd,help='List aggregated upstream resources and templates'"`
	Read      ReadCmd      `kong:"cmd,help='Read a resource and print its reassembled content'"`
	Prompts   PromptsCmd   `kong:"cmd,help='List aggregated upstream prompts'"`
	Prompt    PromptCmd    `kong:"cmd,help='Expand a prompt with arguments'"`
	Status    StatusCmd    `kong:"cmd,help='Show per-server connection status'"`
}

// app carries the state shared by every command.
type app struct {
	log      *logger.Logger
	cfg      *mcp.Config
	cfgPath  string
	registry *mcp.Registry
}

func newApp(cli *CLI) (*app, error) {
	log := logger.New(logger.ParseLevel(cli.LogLevel))

	var (
		cfg  *mcp.Config
		path string
		err  error
	)
	if cli.Config != "" {
		path = cli.Config
		cfg, err = mcp.LoadConfig(path)
	} else {
		cfg, path, err = mcp.LoadDefaultConfig()
	}
	if err != nil {
		return nil, err
	}

	cache := mcp.NewPromptCache(mcp.PromptCacheTTL(), 0)
	registry := mcp.NewRegistry(log, mcp.WithPromptCache(cache), mcp.WithChunkSize(mcp.ChunkSize()))

	// Map iteration order is random; register sorted so probe order is stable.
	names := make([]string, 0, len(cfg.McpServers))
	for name := range cfg.McpServers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := registry.Register(name, cfg.McpServers[name]); err != nil {
			return nil, fmt.Errorf("register server %q: %w", name, err)
		}
	}

	return &app{log: log, cfg: cfg, cfgPath: path, registry: registry}, nil
}

func (a *app) Close() {
	if a.registry != nil {
		_ = a.registry.Close()
	}
}

// connect brings up every autoStart server, logging failures without
// aborting: one dead marketplace server must not take the others down.
func (a *app) connect(ctx context.Context) {
	for name, err := range a.registry.ConnectAll(ctx) {
		a.log.Warn("server connect failed", "server", name, "error", err)
	}
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("flipgod"),
		kong.Description("MCP layer of the Flip-God arbitrage agent: stdio tool server plus upstream MCP fleet client."),
		kong.UsageOnError(),
	)

	app, err := newApp(&cli)
	kctx.FatalIfErrorf(err)

	err = kctx.Run(&cli, app)
	app.Close()
	kctx.FatalIfErrorf(err)
}

// ServeCmd runs the inbound stdio server until stdin closes or a signal
// arrives, with the upstream fleet mounted as proxied tools.
type ServeCmd struct{}

func (cmd *ServeCmd) Run(cli *CLI, a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secCfg, err := security.LoadConfig(cli.SecurityConfig)
	if err != nil {
		return fmt.Errorf("security config: %w", err)
	}
	policy := security.NewPolicy(secCfg, a.log)
	defer policy.Close()

	a.connect(ctx)

	local := tools.NewRegistry()
	for _, t := range localToolSet() {
		if err := local.Register(t); err != nil {
			return err
		}
	}
	if n, err := tools.RegisterRemoteTools(ctx, local, a.registry); err != nil {
		a.log.Warn("remote tool registration incomplete", "error", err)
	} else if n > 0 {
		a.log.Info("mounted remote tools", "count", n)
	}

	if a.cfgPath != "" {
		watcher := mcp.NewConfigWatcher(a.cfgPath, a.log, func(cfg *mcp.Config) {
			res := a.registry.SetServers(ctx, cfg.McpServers)
			refreshRemoteTools(ctx, local, a.registry, res, a.log)
		})
		if err := watcher.Start(ctx); err != nil {
			a.log.Warn("config watcher unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	srv := server.New(os.Stdin, os.Stdout, local,
		server.WithGuard(policy),
		server.WithLogger(a.log),
		server.WithResources(buildResources(a)),
		server.WithPrompts(buildPrompts()),
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// localToolSet builds the agent's built-in tools.
func localToolSet() []tools.Tool {
	return []tools.Tool{
		tools.NewMarginTool(),
		tools.NewPriceListTool(),
		tools.NewListingTool(),
	}
}

// refreshRemoteTools reconciles proxied tool wrappers after a config reload.
func refreshRemoteTools(ctx context.Context, local *tools.Registry, client *mcp.Registry, res *mcp.SetServersResult, log *logger.Logger) {
	for _, name := range res.Removed {
		tools.UnregisterRemoteTools(local, name)
	}
	for _, name := range res.Updated {
		tools.UnregisterRemoteTools(local, name)
	}
	if _, err := tools.RegisterRemoteTools(ctx, local, client); err != nil {
		log.Warn("remote tool refresh incomplete", "error", err)
	}
}

// buildResources assembles the server's own resource catalog.
func buildResources(a *app) *server.ResourceCatalog {
	cat := server.NewResourceCatalog()
	cat.Add(mcp.Resource{
		URI:         "flipgod://status",
		Name:        "Upstream server status",
		Description: "Connection state, identity, and tool count of every configured MCP server",
		MimeType:    "application/json",
	}, func(context.Context) (mcp.ResourceContent, error) {
		data, err := json.MarshalIndent(a.registry.Status(), "", "  ")
		if err != nil {
			return mcp.ResourceContent{}, err
		}
		return mcp.ResourceContent{URI: "flipgod://status", MimeType: "application/json", Text: string(data)}, nil
	})
	cat.Add(mcp.Resource{
		URI:         "flipgod://config/servers",
		Name:        "Configured servers",
		Description: "Names and transports of the configured MCP servers",
		MimeType:    "application/json",
	}, func(context.Context) (mcp.ResourceContent, error) {
		summary := make(map[string]string, len(a.cfg.McpServers))
		for name, sc := range a.cfg.McpServers {
			transport := sc.Transport
			if transport == "" {
				transport = mcp.TransportStdio
			}
			summary[name] = transport
		}
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return mcp.ResourceContent{}, err
		}
		return mcp.ResourceContent{URI: "flipgod://config/servers", MimeType: "application/json", Text: string(data)}, nil
	})
	cat.AddTemplate(mcp.ResourceTemplate{
		URITemplate: "flipgod://audit/{date}",
		Name:        "Audit log by day",
		Description: "Tool-call audit records for a given UTC date (YYYY-MM-DD)",
		MimeType:    "application/json",
	})
	return cat
}

// buildPrompts assembles the server's own prompt catalog.
func buildPrompts() *server.PromptCatalog {
	cat := server.NewPromptCatalog()
	cat.Add(mcp.Prompt{
		Name:        "flip-analysis",
		Description: "Evaluate whether a product is worth flipping",
		Arguments: []mcp.PromptArgument{
			{Name: "product", Description: "Product name or listing title", Required: true},
			{Name: "cost", Description: "Acquisition cost", Required: true},
			{Name: "target_margin", Description: "Desired margin percentage"},
		},
	}, []mcp.PromptMessage{{
		Role: "user",
		Content: mcp.ContentBlock{
			Type: "text",
			Text: "Analyze the resale potential of {{product}} acquired at {{cost}}. " +
				"Estimate realistic sale price ranges across marketplaces, expected fees, " +
				"and whether the flip clears a {{target_margin}}% margin.",
		},
	}})
	cat.Add(mcp.Prompt{
		Name:        "listing-seo",
		Description: "Rewrite a listing title and description for search ranking",
		Arguments: []mcp.PromptArgument{
			{Name: "title", Description: "Current listing title", Required: true},
			{Name: "keywords", Description: "Comma-separated target keywords"},
		},
	}, []mcp.PromptMessage{{
		Role: "user",
		Content: mcp.ContentBlock{
			Type: "text",
			Text: "Rewrite this listing for marketplace search: {{title}}. " +
				"Work in the keywords: {{keywords}}. Keep it accurate and under 80 characters.",
		},
	}})
	return cat
}

// ToolsCmd lists local built-ins and aggregated upstream tools.
type ToolsCmd struct{}

func (cmd *ToolsCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.connect(ctx)

	fmt.Println("Local tools:")
	for _, t := range localToolSet() {
		fmt.Printf("  %-20s %s\n", t.Name(), t.Description())
	}

	infos := a.registry.AllTools(ctx)
	if len(infos) == 0 {
		fmt.Println("\nNo upstream tools available.")
		return nil
	}
	fmt.Println("\nUpstream tools:")
	for _, ti := range infos {
		fmt.Printf("  %-14s %-24s %s\n", ti.Server, ti.Name, ti.Description)
	}
	return nil
}

// CallCmd dispatches one tool call through the client registry.
type CallCmd struct {
	Tool string `kong:"arg,required,help='Tool reference: server:name, or a bare name'"`
	Args string `kong:"help='JSON object of tool arguments'"`
}

func (cmd *CallCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.connect(ctx)

	var args map[string]any
	if cmd.Args != "" {
		if err := json.Unmarshal([]byte(cmd.Args), &args); err != nil {
			return fmt.Errorf("--args must be a JSON object: %w", err)
		}
	}

	result, err := a.registry.CallTool(ctx, cmd.Tool, args)
	if err != nil {
		return err
	}
	fmt.Println(tools.FlattenContent(result.Content))
	if result.IsError {
		return fmt.Errorf("tool %s reported an error", cmd.Tool)
	}
	return nil
}

// ResourcesCmd lists aggregated upstream resources and templates.
type ResourcesCmd struct{}

func (cmd *ResourcesCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.connect(ctx)

	resources := a.registry.AllResources(ctx)
	if len(resources) == 0 {
		fmt.Println("No resources available.")
	}
	for _, res := range resources {
		fmt.Printf("%-14s %-40s %s\n", res.Server, res.URI, res.Name)
	}

	templates := a.registry.AllResourceTemplates(ctx)
	if len(templates) > 0 {
		fmt.Println("\nTemplates:")
		for _, tpl := range templates {
			fmt.Printf("%-14s %-40s %s\n", tpl.Server, tpl.URITemplate, tpl.Name)
		}
	}
	return nil
}

// ReadCmd reads one resource, reassembling chunked content in order.
type ReadCmd struct {
	URI string `kong:"arg,required,help='Resource URI, optionally server-qualified (server:uri)'"`
}

func (cmd *ReadCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.connect(ctx)

	seq, err := a.registry.StreamResource(ctx, cmd.URI)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for chunk := range seq {
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
		} else {
			sb.WriteString(chunk.Blob)
		}
	}
	fmt.Println(sb.String())
	return nil
}

// PromptsCmd lists aggregated upstream prompts.
type PromptsCmd struct{}

func (cmd *PromptsCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.connect(ctx)

	prompts := a.registry.AllPrompts(ctx)
	if len(prompts) == 0 {
		fmt.Println("No prompts available.")
		return nil
	}
	for _, p := range prompts {
		argNames := make([]string, 0, len(p.Arguments))
		for _, arg := range p.Arguments {
			name := arg.Name
			if arg.Required {
				name += "*"
			}
			argNames = append(argNames, name)
		}
		fmt.Printf("%-14s %-24s (%s) %s\n", p.Server, p.Name, strings.Join(argNames, ", "), p.Description)
	}
	return nil
}

// PromptCmd expands one prompt with arguments.
type PromptCmd struct {
	Name string   `kong:"arg,required,help='Prompt reference: server:name, or a bare name'"`
	Arg  []string `kong:"name='arg',help='Prompt argument as key=value, repeatable'"`
}

func (cmd *PromptCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.connect(ctx)

	args := make(map[string]string, len(cmd.Arg))
	for _, pair := range cmd.Arg {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("--arg must be key=value, got %q", pair)
		}
		args[k] = v
	}

	result, err := a.registry.GetPrompt(ctx, cmd.Name, args)
	if err != nil {
		return err
	}
	if result.Description != "" {
		fmt.Printf("# %s\n", result.Description)
	}
	for _, msg := range result.Messages {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content.Text)
	}
	return nil
}

// StatusCmd prints per-server connection status.
type StatusCmd struct{}

func (cmd *StatusCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.connect(ctx)

	statuses := a.registry.Status()
	if len(statuses) == 0 {
		fmt.Println("No servers configured.")
		return nil
	}
	for _, st := range statuses {
		identity := "-"
		if st.ServerInfo != nil {
			identity = fmt.Sprintf("%s@%s", st.ServerInfo.Name, st.ServerInfo.Version)
		}
		line := fmt.Sprintf("%-14s %-13s %-24s tools=%d", st.Name, st.State, identity, st.ToolCount)
		if st.Error != "" {
			line += "  error: " + st.Error
		}
		fmt.Println(line)
	}
	return nil
}
