// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber works on complete utterances rather than a live stream: the
// pipeline records audio until the voice-activity detector signals the end of
// speech, then submits the whole utterance as a single batch request. This
// matches how whisper.cpp operates and keeps the contract to one call, one
// transcript.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned by Transcribe when the engine produced no usable
// text for the utterance. Callers should treat this as "nothing was said"
// rather than a backend failure; match it with errors.Is.
var ErrNoSpeech = errors.New("stt: no speech recognized")

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe converts one utterance of 16 kHz mono PCM into text. The
	// returned text is trimmed of surrounding whitespace and never empty;
	// an utterance that yields no text returns ErrNoSpeech instead.
	//
	// The context bounds the whole operation. Implementations backed by a
	// network service must abort the request when ctx is cancelled.
	Transcribe(ctx context.Context, pcm []int16) (string, error)
}
