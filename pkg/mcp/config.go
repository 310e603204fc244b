package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults for tunables not set in config or environment.
const (
	DefaultChunkSize      = 64 * 1024
	MinChunkSize          = 1024
	defaultRequestTimeout = 15 * time.Second
	defaultPromptCacheTTL = 5 * time.Minute
	defaultToolTimeout    = 30 * time.Second
	defaultMaxRetries     = 5
	defaultReconnectBase  = time.Second
	defaultReconnectMax   = 30 * time.Second
)

// Environment variable names for runtime tunables.
const (
	EnvChunkSize        = "FLIPGOD_MCP_CHUNK_SIZE"
	EnvRequestTimeoutMs = "FLIPGOD_MCP_REQUEST_TIMEOUT_MS"
	EnvPromptCacheTTLMs = "FLIPGOD_PROMPT_CACHE_TTL_MS"
	EnvToolTimeoutMs    = "FLIPGOD_TOOL_TIMEOUT_MS"
)

// ServerConfig declares how to reach one MCP server and how its connection
// behaves across failures.
type ServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Transport is stdio (default when a command is set), http, sse, or ws.
	Transport string `json:"transport,omitempty"`

	// AutoStart defaults to true; ConnectAll skips servers that set it to
	// false explicitly.
	AutoStart        *bool `json:"autoStart,omitempty"`
	RetryOnFailure   bool  `json:"retryOnFailure,omitempty"`
	MaxRetries       int   `json:"maxRetries,omitempty"`
	RestartOnExit    bool  `json:"restartOnExit,omitempty"`
	RequestTimeoutMs int   `json:"requestTimeoutMs,omitempty"`
	ReconnectBaseMs  int   `json:"reconnectBaseMs,omitempty"`
	ReconnectMaxMs   int   `json:"reconnectMaxMs,omitempty"`
}

func (c ServerConfig) autoStart() bool {
	return c.AutoStart == nil || *c.AutoStart
}

func (c ServerConfig) requestTimeout() time.Duration {
	if c.RequestTimeoutMs > 0 {
		return time.Duration(c.RequestTimeoutMs) * time.Millisecond
	}
	return RequestTimeout()
}

func (c ServerConfig) reconnectBase() time.Duration {
	if c.ReconnectBaseMs > 0 {
		return time.Duration(c.ReconnectBaseMs) * time.Millisecond
	}
	return defaultReconnectBase
}

func (c ServerConfig) reconnectMax() time.Duration {
	if c.ReconnectMaxMs > 0 {
		return time.Duration(c.ReconnectMaxMs) * time.Millisecond
	}
	return defaultReconnectMax
}

func (c ServerConfig) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return defaultMaxRetries
}

// equal reports whether two configs would produce the same connection.
func (c ServerConfig) equal(o ServerConfig) bool {
	a, _ := json.Marshal(c)
	b, _ := json.Marshal(o)
	return string(a) == string(b)
}

// Config is the top-level client configuration file shape.
type Config struct {
	McpServers map[string]ServerConfig `json:"mcpServers"`
}

// ConfigCandidates returns the ordered paths probed when no explicit config
// path is given.
func ConfigCandidates() []string {
	candidates := []string{
		"flipgod.mcp.json",
		"mcp.config.json",
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "flipgod", "mcp.json"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "flipgod", "mcp.json"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".flipgod", "mcp.json"))
	}
	return candidates
}

// ResolveConfigPath probes the candidate list and returns the first
// existing file.
func ResolveConfigPath() (string, bool) {
	for _, p := range ConfigCandidates() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// LoadConfig reads and parses an explicit config file path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.McpServers == nil {
		cfg.McpServers = make(map[string]ServerConfig)
	}
	return &cfg, nil
}

// LoadDefaultConfig resolves the candidate paths and loads the first hit.
// No config file anywhere is not an error: the client starts empty.
func LoadDefaultConfig() (*Config, string, error) {
	path, ok := ResolveConfigPath()
	if !ok {
		return &Config{McpServers: make(map[string]ServerConfig)}, "", nil
	}
	cfg, err := LoadConfig(path)
	return cfg, path, err
}

// ChunkSize returns the resource streaming chunk size, honoring the
// environment override and the 1 KiB floor.
func ChunkSize() int {
	n := envInt(EnvChunkSize, DefaultChunkSize)
	if n < MinChunkSize {
		return MinChunkSize
	}
	return n
}

// RequestTimeout returns the default per-request deadline.
func RequestTimeout() time.Duration {
	return envDurationMs(EnvRequestTimeoutMs, defaultRequestTimeout)
}

// PromptCacheTTL returns how long cached prompt expansions stay fresh.
func PromptCacheTTL() time.Duration {
	return envDurationMs(EnvPromptCacheTTLMs, defaultPromptCacheTTL)
}

// ToolTimeout returns the inbound tool-execution deadline.
func ToolTimeout() time.Duration {
	return envDurationMs(EnvToolTimeoutMs, defaultToolTimeout)
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationMs(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
