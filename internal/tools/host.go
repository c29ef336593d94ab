// Package tools hosts Model Context Protocol servers and exposes their tool
// catalogues to the conversation path.
//
// It connects to MCP servers via stdio or streamable-HTTP transports using the
// official MCP Go SDK (github.com/modelcontextprotocol/go-sdk) and maintains a
// concurrent-safe in-memory tool registry.
//
// Typical usage:
//
//	h := tools.NewHost()
//
//	err := h.RegisterServer(ctx, tools.ServerConfig{
//	    Name:      "home-assistant",
//	    Transport: tools.TransportStdio,
//	    Command:   "/usr/local/bin/ha-mcp",
//	})
//
//	defs := h.AvailableTools(ctx)
//	out, err := h.ExecuteTool(ctx, types.ToolCall{Name: "turn_on_light", Arguments: "{}"})
//
//	h.Close()
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/hearthware/auricle/internal/observe"
	"github.com/hearthware/auricle/pkg/types"
)

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name is a unique identifier for this server, used in logs and to
	// attribute tools back to their origin.
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable (with optional space-separated arguments)
	// launched when Transport is "stdio".
	Command string

	// URL is the endpoint address used when Transport is "streamable-http".
	URL string

	// Env holds additional environment variables passed to the subprocess
	// for stdio transport. May be nil.
	Env map[string]string
}

// toolEntry associates a tool definition with the server that provides it.
type toolEntry struct {
	def        types.ToolDefinition
	serverName string
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Host manages connections to one or more MCP servers and the merged tool
// registry they provide. Tool names are global: a later registration with a
// colliding name replaces the earlier one.
//
// The zero value is not usable; create instances with [NewHost].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	servers map[string]serverConn // key: server name

	// client is reused across all server connections. The official SDK
	// allows a single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client

	metrics *observe.Metrics
	log     *slog.Logger
}

// HostOption configures a [Host].
type HostOption func(*Host)

// WithMetrics records tool call counts and execution latency on m.
func WithMetrics(m *observe.Metrics) HostOption {
	return func(h *Host) { h.metrics = m }
}

// NewHost creates and returns a ready-to-use Host with no servers registered.
func NewHost(opts ...HostOption) *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "auricle", Version: "1.0.0"},
		nil,
	)
	h := &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
		log:     slog.With("component", "tools"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue into the host. If a server with the same Name is already
// registered, the old connection is closed and replaced.
//
// For [TransportStdio]: cfg.Command is split on spaces into executable plus
// args, and cfg.Env is appended to the subprocess environment.
//
// For [TransportStreamableHTTP]: cfg.URL is the endpoint address.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: server config requires a non-empty Name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("tools: server %q has unknown transport %q", cfg.Name, cfg.Transport)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return fmt.Errorf("tools: stdio server %q requires a non-empty Command", cfg.Name)
		}
		executable, args := splitCommand(cfg.Command)
		cmd := exec.CommandContext(ctx, executable, args...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: failed to connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}

	h.servers[cfg.Name] = serverConn{session: session}

	for _, t := range discovered {
		h.tools[t.Name] = toolEntry{
			def: types.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			serverName: cfg.Name,
		}
	}

	h.log.Info("mcp server registered", "server", cfg.Name, "transport", cfg.Transport, "tools", len(discovered))
	return nil
}

// AvailableTools returns all registered tool definitions. Order is
// unspecified.
func (h *Host) AvailableTools(ctx context.Context) []types.ToolDefinition {
	h.mu.RLock()
	defer h.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	return defs
}

// ExecuteTool routes the call to the server that provides call.Name and
// returns the concatenated text content of the result.
//
// call.Arguments must be a JSON object string; empty and "{}" are both valid
// for parameter-less tools. A tool-level failure (result IsError) is returned
// as a Go error carrying the tool's output.
func (h *Host) ExecuteTool(ctx context.Context, call types.ToolCall) (string, error) {
	h.mu.RLock()
	entry, ok := h.tools[call.Name]
	var conn serverConn
	if ok {
		conn, ok = h.servers[entry.serverName]
	}
	h.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tools: tool %q not found", call.Name)
	}

	var argsMap map[string]any
	if call.Arguments != "" && call.Arguments != "{}" {
		if err := json.Unmarshal([]byte(call.Arguments), &argsMap); err != nil {
			return "", fmt.Errorf("tools: invalid args JSON for tool %q: %w", call.Name, err)
		}
	}

	start := time.Now()
	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      call.Name,
		Arguments: argsMap,
	})
	h.observe(ctx, call.Name, time.Since(start), err != nil || (result != nil && result.IsError))
	if err != nil {
		return "", fmt.Errorf("tools: call to tool %q failed: %w", call.Name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	if result.IsError {
		return "", fmt.Errorf("tools: tool %q reported an error: %s", call.Name, sb.String())
	}
	return sb.String(), nil
}

func (h *Host) observe(ctx context.Context, tool string, elapsed time.Duration, isError bool) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if isError {
		status = "error"
	}
	h.metrics.RecordToolCall(ctx, tool, status)
	h.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("tool", tool)))
}

// Close shuts down all server connections and clears the tool registry.
// After Close returns the Host must not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: error closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)

	return firstErr
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" becomes ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// schemaToMap converts any schema value to a map[string]any, falling back to
// a bare object schema when conversion fails.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
