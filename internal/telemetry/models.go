// Package telemetry records voice interactions for later inspection.
//
// A Session spans one wake-to-close interaction and contains one Exchange
// per command/response cycle, each with per-phase timings, the transcript,
// the routing decision, and any LLM calls made along the way. The pipeline
// feeds a Recorder, the Recorder persists finished sessions through a
// pgx-backed Store, and the admin server exposes the data through the
// embedded dashboard. An optional SemanticIndex embeds each exchange into a
// pgvector column so the dashboard can answer "what did I ask about the
// thermostat last week".
package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline phase names recorded per exchange.
const (
	PhaseRecording = "recording"
	PhaseSTT       = "stt"
	PhaseRouting   = "routing"
	PhaseTTS       = "tts"
	PhasePlayback  = "playback"
)

// PhaseNames lists all recorded phases in pipeline order.
var PhaseNames = []string{PhaseRecording, PhaseSTT, PhaseRouting, PhaseTTS, PhasePlayback}

// Phase holds start and end timestamps for one pipeline stage. Either field
// may be zero when the stage never ran or never finished.
type Phase struct {
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// Duration returns the elapsed time of the phase, or zero when either
// timestamp is missing.
func (p Phase) Duration() time.Duration {
	if p.StartedAt.IsZero() || p.EndedAt.IsZero() {
		return 0
	}
	return p.EndedAt.Sub(p.StartedAt)
}

// LLMCall captures one round trip to a language model backend.
type LLMCall struct {
	// CallType classifies the request: "tool_use" when tools were offered,
	// "chat" otherwise.
	CallType string `json:"call_type"`

	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	UserMessage  string `json:"user_message,omitempty"`
	ResponseText string `json:"response_text,omitempty"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	StopReason string `json:"stop_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Duration returns the elapsed time of the call, or zero when either
// timestamp is missing.
func (c LLMCall) Duration() time.Duration {
	if c.StartedAt.IsZero() || c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.StartedAt)
}

// Exchange is one command/response cycle within a session.
type Exchange struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Sequence  int    `json:"sequence"`

	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	// Phases maps phase name to its timing. Stages that never ran are
	// absent.
	Phases map[string]Phase `json:"phases,omitempty"`

	// Transcription is the recognised text, empty when recognition failed
	// or produced nothing.
	Transcription string `json:"transcription,omitempty"`

	// RoutePath records which routing tier answered: "feature", "action",
	// or "conversation".
	RoutePath      string `json:"routing_path,omitempty"`
	MatchedFeature string `json:"matched_feature,omitempty"`
	FeatureAction  string `json:"feature_action,omitempty"`
	ResponseText   string `json:"response_text,omitempty"`

	UsedVAD    bool `json:"used_vad"`
	HadBargeIn bool `json:"had_bargein"`
	IsFollowUp bool `json:"is_follow_up"`

	Error string `json:"error,omitempty"`

	LLMCalls []LLMCall `json:"llm_calls,omitempty"`
}

// StartPhase records the start timestamp for a pipeline phase.
func (e *Exchange) StartPhase(name string) {
	if e.Phases == nil {
		e.Phases = make(map[string]Phase, len(PhaseNames))
	}
	p := e.Phases[name]
	p.StartedAt = time.Now().UTC()
	e.Phases[name] = p
}

// EndPhase records the end timestamp for a pipeline phase. A phase that was
// never started stays absent.
func (e *Exchange) EndPhase(name string) {
	p, ok := e.Phases[name]
	if !ok {
		return
	}
	p.EndedAt = time.Now().UTC()
	e.Phases[name] = p
}

// PhaseDuration returns the duration of the named phase, zero when the
// phase never completed.
func (e *Exchange) PhaseDuration(name string) time.Duration {
	return e.Phases[name].Duration()
}

// Session is a voice interaction starting from wake word detection.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	WakeModel string    `json:"wake_model,omitempty"`

	Exchanges []*Exchange `json:"exchanges,omitempty"`
}

// NewSession creates a session with a fresh ID, started now.
func NewSession(wakeModel string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		WakeModel: wakeModel,
	}
}

// AddExchange assigns the exchange an ID, the session ID, and the next
// sequence number, then appends it.
func (s *Session) AddExchange(ex *Exchange) {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	ex.SessionID = s.ID
	ex.Sequence = len(s.Exchanges)
	s.Exchanges = append(s.Exchanges, ex)
}

// Finish marks the session as ended.
func (s *Session) Finish() {
	s.EndedAt = time.Now().UTC()
}
