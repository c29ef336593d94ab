// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A Synthesizer works in batch mode: one call renders the complete PCM for
// one spoken response. Responses on a voice assistant are short, a sentence
// or two, so batch synthesis keeps latency acceptable without streaming
// plumbing between the router and the audio controller.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize renders text as 16 kHz mono PCM samples ready for the
	// audio controller. Empty or whitespace-only text yields 0.1 s of
	// silence rather than an error, so callers never have to special-case
	// a blank response.
	Synthesize(ctx context.Context, text string) ([]int16, error)
}
