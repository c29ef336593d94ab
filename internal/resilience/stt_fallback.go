package resilience

import (
	"context"
	"errors"

	"github.com/hearthware/auricle/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple speech-to-text backends. Each backend has its own circuit
// breaker; the usual pairing is the whisper server as primary with the
// in-process model as fallback.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe submits the utterance to the first healthy backend.
// [stt.ErrNoSpeech] is a verdict, not a failure: it neither trips the
// breaker nor wakes the next backend, since a second engine re-hearing the
// same silence helps nobody.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	var noSpeech bool
	text, err := ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		text, err := t.Transcribe(ctx, pcm)
		if errors.Is(err, stt.ErrNoSpeech) {
			noSpeech = true
			return "", nil
		}
		return text, err
	})
	if noSpeech {
		return "", stt.ErrNoSpeech
	}
	return text, err
}
