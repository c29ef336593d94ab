// Package router dispatches transcribed speech to a spoken reply.
//
// Routing runs in three tiers. The first walks the registered features in
// order and hands the transcript to the first one whose Matches reports
// true. When nothing matches, the recovery tier repairs likely speech
// recognition damage: a phonetic sweep rewrites spans that sound like
// trigger phrases, then an LLM classify pass catches the garbles phonetics
// cannot ("gross free list"), and the corrected text re-runs the feature
// tier. Everything else lands in the conversation tier, where the LLM
// either parses the transcript into a structured feature action via the
// route_intent tool or answers conversationally with bounded history and,
// when a tool host is wired, externally hosted tools.
//
// The LLM-backed tiers share one circuit breaker so a dead endpoint costs
// an instant error instead of a timeout per interaction.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/hearthware/auricle/internal/feature"
	"github.com/hearthware/auricle/internal/resilience"
	"github.com/hearthware/auricle/pkg/provider/llm"
	"github.com/hearthware/auricle/pkg/types"
)

// ErrTimeout marks a routing pass abandoned at its deadline. The pipeline
// applies the deadline and matches this with errors.Is to speak the generic
// failure response.
var ErrTimeout = errors.New("routing timed out")

const (
	defaultMaxTokens       = 1024
	defaultIntentMaxTokens = 300

	// maxToolRounds caps tool-call round trips in one conversation turn;
	// the final request is sent without tools to force a spoken answer.
	maxToolRounds = 4
)

// defaultSystemPrompt is the assistant persona for the conversation path.
const defaultSystemPrompt = "You are a helpful voice assistant on a Raspberry Pi smart display. " +
	"Keep responses concise — 2 to 3 sentences max. " +
	"Be conversational and direct. " +
	"If the user corrects a previous statement (e.g. 'no, I meant...'), " +
	"use the conversation history to understand what they're correcting."

// Intent types reported by the route_intent tool.
const (
	intentAction        = "action"
	intentConversation  = "conversation"
	intentClarification = "clarification"
)

// routeIntentTool is the structured-output contract for intent parsing.
var routeIntentTool = types.ToolDefinition{
	Name: "route_intent",
	Description: "Parse the user's voice command and route to the appropriate " +
		"action or respond conversationally.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{
				"type": "string",
				"enum": []string{intentAction, intentConversation, intentClarification},
			},
			"feature":    map[string]any{"type": "string"},
			"action":     map[string]any{"type": "string"},
			"parameters": map[string]any{"type": "object"},
			"speech":     map[string]any{"type": "string"},
			"expects_follow_up": map[string]any{
				"type": "boolean",
				"description": "True when this response asks the user a question, " +
					"presents options, or needs further input.",
			},
		},
		"required": []string{"type", "speech", "expects_follow_up"},
	},
}

const intentPromptHeader = `You are an intent parser for a voice assistant called Auricle.
The user's speech has been transcribed by Whisper and may contain recognition errors.
Use the route_intent tool to respond. ALWAYS use this tool.

## Available Features

`

const intentPromptGuidelines = `## Guidelines
- Use "action" when the user clearly wants a feature. Use "conversation" for general Q&A.
  Use "clarification" only when the transcription is too ambiguous to determine intent.
- Common STT errors: "gross free"→"grocery", "rye mend"→"remind", garbled movie titles
- Keep "speech" concise (1-2 sentences), suitable for text-to-speech
- For actions, still provide a brief speech (used as fallback if feature errors)

## Follow-up Signal
- Set "expects_follow_up": true when asking a question, presenting options, in a multi-turn flow, or when the input appears cut off
- Set "expects_follow_up": false for complete answers and terminal actions

## Context Priority
- When [CONTEXT: ...] is present, ALWAYS prioritize routing to the relevant feature
- Partial transcriptions in follow-up should be interpreted in the active context, not as standalone statements`

// Reply is the routed result for one transcript.
type Reply struct {
	// Text is the sentence to speak.
	Text string

	// ExpectsFollowUp reports that the responder wants an immediate answer,
	// so the pipeline should re-enter recording without a wake word.
	ExpectsFollowUp bool

	// Feature and Action identify the dispatch target when a feature
	// produced the reply. Both are empty for conversational replies.
	Feature string
	Action  string
}

// ToolHost exposes externally hosted tools to the conversation path.
type ToolHost interface {
	// AvailableTools lists the tool definitions to offer the model.
	AvailableTools(ctx context.Context) []types.ToolDefinition

	// ExecuteTool runs one tool call and returns its textual result.
	ExecuteTool(ctx context.Context, call types.ToolCall) (string, error)
}

// Option is a functional option for configuring a [Router].
type Option func(*Router)

// WithCorrector enables the transcript recovery tier.
func WithCorrector(c *Corrector) Option {
	return func(r *Router) { r.corrector = c }
}

// WithBreaker guards the recovery and conversation tiers with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Router) { r.breaker = cb }
}

// WithToolHost offers the host's tools to the model on the conversation
// path.
func WithToolHost(h ToolHost) Option {
	return func(r *Router) { r.tools = h }
}

// WithHistory replaces the default conversation history (10 turns, 5 minute
// TTL).
func WithHistory(h *History) Option {
	return func(r *Router) { r.history = h }
}

// WithSystemPrompt overrides the assistant persona for conversation.
func WithSystemPrompt(prompt string) Option {
	return func(r *Router) {
		if prompt != "" {
			r.systemPrompt = prompt
		}
	}
}

// WithMaxTokens caps conversation completions. Default: 1024.
func WithMaxTokens(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// WithIntentMaxTokens caps intent parse completions. Default: 300.
func WithIntentMaxTokens(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.intentMaxTokens = n
		}
	}
}

// Router routes transcripts to features or the LLM. Construct with [New];
// all methods are safe for concurrent use.
type Router struct {
	features        []feature.Feature
	llm             llm.Provider
	history         *History
	corrector       *Corrector
	breaker         *resilience.CircuitBreaker
	tools           ToolHost
	systemPrompt    string
	intentPrompt    string
	maxTokens       int
	intentMaxTokens int
}

// New creates a Router over the given provider and ordered feature set.
// provider must be non-nil; features may be empty, in which case every
// transcript lands in the conversation tier.
func New(provider llm.Provider, features []feature.Feature, opts ...Option) *Router {
	r := &Router{
		features:        features,
		llm:             provider,
		history:         NewHistory(defaultMaxTurns, defaultHistoryTTL),
		systemPrompt:    defaultSystemPrompt,
		maxTokens:       defaultMaxTokens,
		intentMaxTokens: defaultIntentMaxTokens,
	}
	for _, o := range opts {
		o(r)
	}
	r.intentPrompt = buildIntentPrompt(features)
	return r
}

// Descriptions collects the non-empty feature descriptions, in registration
// order, for the classify prompt.
func Descriptions(features []feature.Feature) []string {
	descs := make([]string, 0, len(features))
	for _, f := range features {
		if d := f.Description(); d != "" {
			descs = append(descs, d)
		}
	}
	return descs
}

// Route dispatches text and returns the reply to speak. The caller bounds
// the pass with a context deadline; deadline expiry surfaces as
// [ErrTimeout].
func (r *Router) Route(ctx context.Context, text string) (Reply, error) {
	if reply, ok, err := r.tryFeatures(ctx, text); ok || err != nil {
		return reply, err
	}

	if r.corrector != nil {
		if reply, ok, err := r.recover(ctx, text); ok || err != nil {
			return reply, err
		}
	}

	slog.Info("no feature matched, falling back to conversation")
	return r.converse(ctx, text)
}

// ClearHistory drops the conversation history, e.g. from the admin surface.
func (r *Router) ClearHistory() {
	r.history.Clear()
}

// Close closes every registered feature and joins their errors.
func (r *Router) Close() error {
	var errs []error
	for _, f := range r.features {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("router: close %s: %w", f.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// tryFeatures walks the features in order and hands text to the first
// match. ok is false when no feature claimed the text.
func (r *Router) tryFeatures(ctx context.Context, text string) (Reply, bool, error) {
	for _, f := range r.features {
		if !f.Matches(text) {
			continue
		}
		slog.Info("matched feature", "feature", f.Name())
		resp, err := f.Handle(ctx, text)
		if err != nil {
			return Reply{}, false, fmt.Errorf("router: feature %s: %w", f.Name(), err)
		}
		return Reply{
			Text:            resp,
			ExpectsFollowUp: f.ExpectsFollowUp(),
			Feature:         f.Name(),
		}, true, nil
	}
	return Reply{}, false, nil
}

// recover repairs the transcript and re-runs feature matching on the
// corrected text. ok is false when no correction produced a feature match;
// classify failures are logged and swallowed so the conversation tier still
// gets its turn.
func (r *Router) recover(ctx context.Context, text string) (Reply, bool, error) {
	if corrected, changed := r.corrector.Phonetic(text); changed {
		slog.Info("phonetic recovery", "from", text, "to", corrected)
		if reply, ok, err := r.tryFeatures(ctx, corrected); ok || err != nil {
			return reply, ok, err
		}
	}

	var corrected string
	err := r.guard(func() error {
		var cerr error
		corrected, cerr = r.corrector.Classify(ctx, text)
		return cerr
	})
	if err != nil {
		slog.Warn("intent classification failed, falling through", "error", err)
		return Reply{}, false, nil
	}
	if corrected == "" {
		return Reply{}, false, nil
	}

	slog.Info("intent classification corrected transcript", "from", text, "to", corrected)
	if reply, ok, err := r.tryFeatures(ctx, corrected); ok || err != nil {
		return reply, ok, err
	}
	slog.Info("corrected text matched no feature, falling through")
	return Reply{}, false, nil
}

// converse is the conversation tier: a structured intent parse when the
// model supports tool calling, otherwise plain chat.
func (r *Router) converse(ctx context.Context, text string) (Reply, error) {
	if r.llm.Capabilities().SupportsToolCalling {
		parsed, err := r.parseIntent(ctx, text)
		if err != nil {
			return Reply{}, routeErr("parse intent", err)
		}
		if parsed == nil {
			slog.Warn("no routing decision from intent parse, falling back to chat")
		} else {
			switch parsed.Type {
			case intentAction:
				if reply, ok := r.executeIntent(ctx, parsed); ok {
					return reply, nil
				}
			case intentConversation:
				if r.tools != nil {
					content, err := r.chat(ctx, text)
					if err == nil {
						r.history.Record(text, content)
						return Reply{Text: content, ExpectsFollowUp: parsed.ExpectsFollowUp}, nil
					}
					slog.Warn("tool chat failed, speaking parsed fallback", "error", err)
				}
			}
			if parsed.Speech != "" {
				r.history.Record(text, parsed.Speech)
				return Reply{Text: parsed.Speech, ExpectsFollowUp: parsed.ExpectsFollowUp}, nil
			}
		}
	}

	content, err := r.chat(ctx, text)
	if err != nil {
		return Reply{}, routeErr("chat", err)
	}
	r.history.Record(text, content)
	return Reply{Text: content}, nil
}

// intentResult is the route_intent tool payload.
type intentResult struct {
	Type            string         `json:"type"`
	Feature         string         `json:"feature"`
	Action          string         `json:"action"`
	Parameters      map[string]any `json:"parameters"`
	Speech          string         `json:"speech"`
	ExpectsFollowUp bool           `json:"expects_follow_up"`
}

// parseIntent asks the model to classify the transcript through the
// route_intent tool. A nil result with nil error means the model produced
// no usable routing decision; the caller falls back to plain chat.
func (r *Router) parseIntent(ctx context.Context, text string) (*intentResult, error) {
	userContent := text
	if featCtx := r.activeContext(); featCtx != "" {
		userContent = fmt.Sprintf("[CONTEXT: %s]\n\n%s", featCtx, text)
	}

	req := llm.CompletionRequest{
		SystemPrompt: r.intentPrompt,
		Messages:     r.history.Messages(userContent),
		Tools:        []types.ToolDefinition{routeIntentTool},
		MaxTokens:    r.intentMaxTokens,
	}

	var resp *llm.CompletionResponse
	err := r.guard(func() error {
		var cerr error
		resp, cerr = r.llm.Complete(ctx, req)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	if resp == nil {
		return nil, nil
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != routeIntentTool.Name {
			continue
		}
		var in intentResult
		if err := json.Unmarshal([]byte(tc.Arguments), &in); err != nil {
			slog.Warn("route_intent arguments unparseable", "error", err)
			return nil, nil
		}
		slog.Info("intent parsed",
			"type", in.Type, "feature", in.Feature, "action", in.Action)
		return &in, nil
	}

	slog.Warn("no route_intent call in intent response", "tool_calls", len(resp.ToolCalls))
	return nil, nil
}

// executeIntent dispatches a parsed action to its feature. ok is false when
// the parsed feature name matches nothing registered, or the feature failed
// and the parse carried no fallback speech.
func (r *Router) executeIntent(ctx context.Context, in *intentResult) (Reply, bool) {
	f := r.findFeature(in.Feature)
	if f == nil {
		slog.Warn("parsed intent names no registered feature",
			"feature", in.Feature, "action", in.Action)
		return Reply{}, false
	}

	resp, err := f.Execute(ctx, in.Action, stringifyParams(in.Parameters))
	if err != nil {
		slog.Warn("feature execute failed, speaking parsed fallback",
			"feature", f.Name(), "action", in.Action, "error", err)
		if in.Speech == "" {
			return Reply{}, false
		}
		return Reply{
			Text:            in.Speech,
			ExpectsFollowUp: in.ExpectsFollowUp,
			Feature:         f.Name(),
			Action:          in.Action,
		}, true
	}

	return Reply{
		Text:            resp,
		ExpectsFollowUp: f.ExpectsFollowUp(),
		Feature:         f.Name(),
		Action:          in.Action,
	}, true
}

// chat completes a conversational reply with history and, when a tool host
// is wired, a bounded tool-call loop. Tool execution failures are fed back
// to the model as error text rather than aborting the turn.
func (r *Router) chat(ctx context.Context, text string) (string, error) {
	var defs []types.ToolDefinition
	if r.tools != nil {
		defs = r.tools.AvailableTools(ctx)
	}

	msgs := r.history.Messages(text)
	for round := 0; round <= maxToolRounds; round++ {
		withTools := len(defs) > 0 && round < maxToolRounds

		req := llm.CompletionRequest{
			SystemPrompt: r.systemPrompt,
			Messages:     msgs,
			MaxTokens:    r.maxTokens,
		}
		if withTools {
			req.Tools = defs
		}

		var resp *llm.CompletionResponse
		err := r.guard(func() error {
			var cerr error
			resp, cerr = r.llm.Complete(ctx, req)
			return cerr
		})
		if err != nil {
			return "", err
		}
		if resp == nil {
			return "", errors.New("empty completion response")
		}
		if !withTools || len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		msgs = append(msgs, types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			out, terr := r.tools.ExecuteTool(ctx, tc)
			if terr != nil {
				slog.Warn("tool execution failed", "tool", tc.Name, "error", terr)
				out = fmt.Sprintf("error: %v", terr)
			}
			msgs = append(msgs, types.Message{
				Role:       "tool",
				Content:    out,
				ToolCallID: tc.ID,
			})
		}
	}

	// Unreachable: the final round runs without tools and returns above.
	return "", errors.New("tool loop exhausted")
}

// guard runs fn through the circuit breaker when one is wired.
func (r *Router) guard(fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	return r.breaker.Execute(fn)
}

// activeContext returns the first non-empty feature context, e.g. a pending
// media disambiguation, for the intent parse prompt.
func (r *Router) activeContext() string {
	for _, f := range r.features {
		if c := f.Context(); c != "" {
			return c
		}
	}
	return ""
}

// findFeature resolves a parsed feature name against the registry, first by
// routing key, then by substring of the full name.
func (r *Router) findFeature(name string) feature.Feature {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil
	}
	for _, f := range r.features {
		if featureKey(f.Name()) == key {
			return f
		}
	}
	for _, f := range r.features {
		if strings.Contains(strings.ToLower(f.Name()), key) {
			return f
		}
	}
	return nil
}

// featureKey derives the routing key the intent catalog shows the model:
// the first word of the feature name, lowercased.
func featureKey(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// buildIntentPrompt renders the intent parse system prompt: the catalog of
// feature actions plus the routing guidelines.
func buildIntentPrompt(features []feature.Feature) string {
	var sb strings.Builder
	sb.WriteString(intentPromptHeader)

	for _, f := range features {
		schema := f.ActionSchema()
		if len(schema) == 0 {
			continue
		}

		fmt.Fprintf(&sb, "### %s\n", featureKey(f.Name()))

		actions := make([]string, 0, len(schema))
		for name := range schema {
			actions = append(actions, name)
		}
		slices.Sort(actions)

		parts := make([]string, 0, len(actions))
		for _, action := range actions {
			params := make([]string, 0, len(schema[action]))
			for p := range schema[action] {
				params = append(params, p)
			}
			slices.Sort(params)
			parts = append(parts, fmt.Sprintf("%s(%s)", action, strings.Join(params, ", ")))
		}
		fmt.Fprintf(&sb, "Actions: %s\n", strings.Join(parts, ", "))

		if d := f.Description(); d != "" {
			sb.WriteString(d)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	sb.WriteString(intentPromptGuidelines)
	return sb.String()
}

// stringifyParams flattens the parsed tool parameters to the string map
// features consume. JSON numbers that are whole render without a decimal
// point, so a parsed index of 3 arrives as "3".
func stringifyParams(params map[string]any) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			if val == math.Trunc(val) && math.Abs(val) < 1e15 {
				out[k] = strconv.FormatInt(int64(val), 10)
			} else {
				out[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// routeErr wraps err with the router prefix, folding deadline expiry into
// [ErrTimeout] so the pipeline can match it.
func routeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("router: %s: %w", op, errors.Join(ErrTimeout, err))
	}
	return fmt.Errorf("router: %s: %w", op, err)
}
