package telemetry

import (
	"context"
	"time"

	"github.com/hearthware/auricle/pkg/provider/llm"
	"github.com/hearthware/auricle/pkg/types"
)

// CallSink receives LLM call records. *Recorder satisfies it.
type CallSink interface {
	RecordLLMCall(call LLMCall)
}

// RecordingProvider wraps an [llm.Provider] and reports every completion to
// a [CallSink], capturing prompts, responses, token usage, and latency.
// Failures are recorded too, with the error text in place of a response.
type RecordingProvider struct {
	inner llm.Provider
	sink  CallSink
	model string
}

var _ llm.Provider = (*RecordingProvider)(nil)

// NewRecordingProvider wraps inner, tagging records with the given model
// name.
func NewRecordingProvider(inner llm.Provider, sink CallSink, model string) *RecordingProvider {
	return &RecordingProvider{inner: inner, sink: sink, model: model}
}

// Complete forwards to the wrapped provider and records the round trip.
func (p *RecordingProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	call := LLMCall{
		CallType:     callType(req),
		StartedAt:    time.Now().UTC(),
		Model:        p.model,
		SystemPrompt: req.SystemPrompt,
		UserMessage:  lastUserMessage(req.Messages),
	}

	resp, err := p.inner.Complete(ctx, req)
	call.EndedAt = time.Now().UTC()
	if err != nil {
		call.Error = err.Error()
		p.sink.RecordLLMCall(call)
		return nil, err
	}

	call.ResponseText = resp.Content
	call.InputTokens = resp.Usage.PromptTokens
	call.OutputTokens = resp.Usage.CompletionTokens
	call.StopReason = resp.StopReason
	p.sink.RecordLLMCall(call)
	return resp, nil
}

// Capabilities forwards to the wrapped provider.
func (p *RecordingProvider) Capabilities() types.ModelCapabilities {
	return p.inner.Capabilities()
}

func callType(req llm.CompletionRequest) string {
	if len(req.Tools) > 0 {
		return "tool_use"
	}
	return "chat"
}

func lastUserMessage(msgs []types.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}
