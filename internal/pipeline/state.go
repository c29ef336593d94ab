package pipeline

import "time"

// State is the pipeline's position in the interaction cycle. The worker
// goroutine is the only writer, so transitions never race.
type State int

const (
	// StateIdle means the pipeline is listening for the wake word.
	StateIdle State = iota

	// StateAcknowledging means the wake word fired and the cached ack
	// phrase is starting.
	StateAcknowledging

	// StateRecording means an utterance is being captured.
	StateRecording

	// StateTranscribing means the captured audio is at the STT engine.
	StateTranscribing

	// StateRouting means the transcript is being dispatched to a reply.
	StateRouting

	// StateSpeaking means the reply or an announcement is playing.
	StateSpeaking
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcknowledging:
		return "acknowledging"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateRouting:
		return "routing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// EventKind classifies a pipeline event.
type EventKind int

const (
	// EventState reports a state transition; Event.State carries the new
	// state.
	EventState EventKind = iota

	// EventTranscript reports recognised speech; Event.Text carries the
	// transcript.
	EventTranscript

	// EventReply reports the routed response; Event.Text carries the
	// sentence being spoken.
	EventReply

	// EventAnnouncement reports a background announcement; Event.Text
	// carries the announcement text.
	EventAnnouncement
)

// String returns the lowercase event kind name.
func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventTranscript:
		return "transcript"
	case EventReply:
		return "reply"
	case EventAnnouncement:
		return "announcement"
	default:
		return "unknown"
	}
}

// Event is one observable pipeline occurrence, published to registered
// observers as it happens.
type Event struct {
	Kind  EventKind
	State State
	Text  string
	At    time.Time
}

// Observer receives pipeline events. Observers run on the pipeline
// goroutine and must not block; anything slow belongs behind a channel.
type Observer func(Event)
