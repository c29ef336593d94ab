package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hearthware/auricle/pkg/provider/llm"
	"github.com/hearthware/auricle/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "llama3.2"); err == nil {
		t.Error("expected error for empty providerName, got nil")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model, got nil")
	}
	if _, err := New("carrier-pigeon", "llama3.2"); err == nil {
		t.Error("expected error for unsupported provider, got nil")
	}
}

func TestConvertMessage_User(t *testing.T) {
	got := convertMessage(types.Message{Role: "user", Content: "turn on the lights"})
	if got.Role != "user" {
		t.Errorf("role = %q, want user", got.Role)
	}
	if got.ContentString() != "turn on the lights" {
		t.Errorf("content = %q, want the original text", got.ContentString())
	}
}

func TestConvertMessage_ToolCalls(t *testing.T) {
	m := types.Message{
		Role: "assistant",
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "route_intent", Arguments: `{"type":"action"}`},
		},
	}
	got := convertMessage(m)
	if len(got.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(got.ToolCalls))
	}
	tc := got.ToolCalls[0]
	if tc.Type != "function" {
		t.Errorf("tool call type = %q, want function", tc.Type)
	}
	if tc.Function.Name != "route_intent" {
		t.Errorf("function name = %q, want route_intent", tc.Function.Name)
	}
	if tc.Function.Arguments != `{"type":"action"}` {
		t.Errorf("arguments = %q", tc.Function.Arguments)
	}
}

func TestConvertMessage_ToolResponse(t *testing.T) {
	got := convertMessage(types.Message{Role: "tool", Content: "3 items", ToolCallID: "call_1"})
	if got.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q, want call_1", got.ToolCallID)
	}
}

func TestBuildParams_SystemPromptComesFirst(t *testing.T) {
	p := &Provider{model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a home assistant.",
		Messages:     []types.Message{{Role: "user", Content: "hello"}},
	})
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
}

func TestBuildParams_OptionalFields(t *testing.T) {
	p := &Provider{model: "llama3.2"}

	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	})
	if params.Temperature != nil {
		t.Error("Temperature should be nil when unset")
	}
	if params.MaxTokens != nil {
		t.Error("MaxTokens should be nil when unset")
	}

	params = p.buildParams(llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: "hello"}},
		Temperature: 0.3,
		MaxTokens:   256,
	})
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v, want 256", params.MaxTokens)
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model   string
		wantCtx int
	}{
		{"claude-3-5-haiku-latest", 200_000},
		{"gemini-2.0-flash", 1_048_576},
		{"llama3.2", 8_192},
		{"gpt-4o-mini", 128_000},
		{"entirely-unknown", 128_000},
	}
	for _, tt := range tests {
		if caps := modelCapabilities(tt.model); caps.ContextWindow != tt.wantCtx {
			t.Errorf("%s: ContextWindow = %d, want %d", tt.model, caps.ContextWindow, tt.wantCtx)
		}
	}
}
