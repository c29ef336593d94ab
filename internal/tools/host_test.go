package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hearthware/auricle/pkg/types"
)

// newTestServer builds an in-process MCP server exposing an echo tool and a
// failing tool, served over streamable HTTP.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "test-server", Version: "0.0.1"}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "echo",
		Description: "Echoes its message argument back.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, input map[string]any) (*mcpsdk.CallToolResult, any, error) {
		msg, _ := input["message"].(string)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo: " + msg}},
		}, nil, nil
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "always_fails",
		Description: "Reports a tool-level error.",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, input map[string]any) (*mcpsdk.CallToolResult, any, error) {
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "boom"}},
		}, nil, nil
	})

	handler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func registerTestServer(t *testing.T, h *Host, name string) {
	t.Helper()
	ts := newTestServer(t)
	err := h.RegisterServer(context.Background(), ServerConfig{
		Name:      name,
		Transport: TransportStreamableHTTP,
		URL:       ts.URL,
	})
	if err != nil {
		t.Fatalf("RegisterServer: %v", err)
	}
}

func toolNamed(defs []types.ToolDefinition, name string) (types.ToolDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return types.ToolDefinition{}, false
}

func TestRegisterServerImportsCatalogue(t *testing.T) {
	t.Parallel()

	h := NewHost()
	defer h.Close()
	registerTestServer(t, h, "test")

	defs := h.AvailableTools(context.Background())
	if len(defs) != 2 {
		t.Fatalf("AvailableTools: got %d tools, want 2", len(defs))
	}
	echo, ok := toolNamed(defs, "echo")
	if !ok {
		t.Fatal("echo tool not found in catalogue")
	}
	if echo.Description == "" {
		t.Error("echo tool has empty description")
	}
	if echo.Parameters == nil {
		t.Error("echo tool has nil parameters schema")
	}
}

func TestRegisterServerValidation(t *testing.T) {
	t.Parallel()

	h := NewHost()
	defer h.Close()
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  ServerConfig
	}{
		{"empty name", ServerConfig{Transport: TransportStdio, Command: "/bin/true"}},
		{"bad transport", ServerConfig{Name: "x", Transport: "carrier-pigeon"}},
		{"stdio without command", ServerConfig{Name: "x", Transport: TransportStdio}},
		{"http without url", ServerConfig{Name: "x", Transport: TransportStreamableHTTP}},
	}
	for _, tc := range cases {
		if err := h.RegisterServer(ctx, tc.cfg); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestExecuteTool(t *testing.T) {
	t.Parallel()

	h := NewHost()
	defer h.Close()
	registerTestServer(t, h, "test")

	out, err := h.ExecuteTool(context.Background(), types.ToolCall{
		Name:      "echo",
		Arguments: `{"message": "hello"}`,
	})
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if out != "echo: hello" {
		t.Errorf("ExecuteTool: got %q, want %q", out, "echo: hello")
	}
}

func TestExecuteToolEmptyArgs(t *testing.T) {
	t.Parallel()

	h := NewHost()
	defer h.Close()
	registerTestServer(t, h, "test")

	if _, err := h.ExecuteTool(context.Background(), types.ToolCall{Name: "echo"}); err != nil {
		t.Fatalf("ExecuteTool with empty args: %v", err)
	}
	if _, err := h.ExecuteTool(context.Background(), types.ToolCall{Name: "echo", Arguments: "{}"}); err != nil {
		t.Fatalf("ExecuteTool with {} args: %v", err)
	}
}

func TestExecuteToolNotFound(t *testing.T) {
	t.Parallel()

	h := NewHost()
	defer h.Close()

	_, err := h.ExecuteTool(context.Background(), types.ToolCall{Name: "nope", Arguments: "{}"})
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error should mention not found: %v", err)
	}
}

func TestExecuteToolInvalidArgs(t *testing.T) {
	t.Parallel()

	h := NewHost()
	defer h.Close()
	registerTestServer(t, h, "test")

	_, err := h.ExecuteTool(context.Background(), types.ToolCall{Name: "echo", Arguments: "not json"})
	if err == nil {
		t.Fatal("expected error for malformed args")
	}
}

func TestExecuteToolReportedError(t *testing.T) {
	t.Parallel()

	h := NewHost()
	defer h.Close()
	registerTestServer(t, h, "test")

	_, err := h.ExecuteTool(context.Background(), types.ToolCall{Name: "always_fails", Arguments: "{}"})
	if err == nil {
		t.Fatal("expected error from failing tool")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should carry the tool output: %v", err)
	}
}

func TestRegisterServerReplacesExisting(t *testing.T) {
	t.Parallel()

	h := NewHost()
	defer h.Close()
	registerTestServer(t, h, "test")
	registerTestServer(t, h, "test")

	defs := h.AvailableTools(context.Background())
	if len(defs) != 2 {
		t.Fatalf("after re-registration: got %d tools, want 2", len(defs))
	}

	out, err := h.ExecuteTool(context.Background(), types.ToolCall{
		Name:      "echo",
		Arguments: `{"message": "again"}`,
	})
	if err != nil {
		t.Fatalf("ExecuteTool after re-registration: %v", err)
	}
	if out != "echo: again" {
		t.Errorf("got %q, want %q", out, "echo: again")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	h := NewHost()
	registerTestServer(t, h, "a")
	registerTestServer(t, h, "b")

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := h.AvailableTools(context.Background()); len(got) != 0 {
		t.Errorf("after Close: got %d tools, want 0", len(got))
	}
	if _, err := h.ExecuteTool(context.Background(), types.ToolCall{Name: "echo"}); err == nil {
		t.Error("ExecuteTool after Close should fail")
	}
}

func TestConcurrentRegisterAndAvailable(t *testing.T) {
	t.Parallel()

	h := NewHost()
	defer h.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := newTestServer(t)
			err := h.RegisterServer(context.Background(), ServerConfig{
				Name:      fmt.Sprintf("srv-%d", i),
				Transport: TransportStreamableHTTP,
				URL:       ts.URL,
			})
			if err != nil {
				errs <- err
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.AvailableTools(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	if err := errors.Join(collect(errs)...); err != nil {
		t.Fatalf("concurrent registration: %v", err)
	}

	// Every server exposes the same tool names, so the merged registry
	// still holds exactly the two catalogue entries.
	if got := h.AvailableTools(context.Background()); len(got) != 2 {
		t.Errorf("got %d tools, want 2", len(got))
	}
}

func collect(ch <-chan error) []error {
	var out []error
	for err := range ch {
		out = append(out, err)
	}
	return out
}
