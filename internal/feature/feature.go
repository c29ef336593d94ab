// Package feature implements the built-in voice commands.
//
// A feature self-selects with Matches and handles matched text with Handle.
// The intent router walks the registered features in order and dispatches to
// the first match; when the LLM parses a transcript into a structured intent
// instead, the router calls Execute with the action name and parameters.
// Responses are plain sentences meant for TTS, so formatting favours natural
// phrasing over precision.
package feature

import (
	"context"
	"strings"
)

// Feature is one built-in voice command handler.
//
// Implementations must be safe for concurrent use: the pipeline loop, the
// background scheduler, and the admin server may all touch a feature at the
// same time.
type Feature interface {
	// Name is the spoken, human-readable feature name (e.g. "Grocery List").
	Name() string

	// ShortDescription is a one-line summary used in capability listings.
	ShortDescription() string

	// Description explains the trigger phrases in prose. The router feeds
	// it to the LLM when recovering misheard commands; empty opts out.
	Description() string

	// ActionSchema declares the structured actions this feature supports
	// for LLM intent parsing, keyed by action name with parameter names
	// mapped to their types. Nil means the feature has no actions.
	ActionSchema() map[string]map[string]string

	// Matches reports whether this feature should handle the given
	// transcript.
	Matches(text string) bool

	// Handle processes a matched transcript and returns the sentence to
	// speak.
	Handle(ctx context.Context, text string) (string, error)

	// Execute runs a pre-parsed action with its parameters and returns the
	// sentence to speak. Unrecognised actions fall back to the feature's
	// safest read-only response; the parse came from a language model, not
	// a trusted caller.
	Execute(ctx context.Context, action string, params map[string]string) (string, error)

	// ExpectsFollowUp reports whether the feature is mid-flow and the
	// pipeline should listen for an immediate answer instead of returning
	// to the wake word.
	ExpectsFollowUp() bool

	// Context describes any active multi-turn state for the LLM (e.g. a
	// pending disambiguation question). Empty means no active state.
	Context() string

	// Close releases the feature's resources.
	Close() error
}

// joinList renders items for speech with a serial comma:
// "milk", "milk, and eggs", "milk, eggs, and bread".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}

// plural picks the spoken noun form for a count.
func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
