// Package mock provides a test double for the stt.Transcriber interface.
//
// Set Result (or queue several values in Results) and Err to script what
// Transcribe returns, then inspect Calls to verify what audio the caller
// submitted.
//
// Example:
//
//	tr := &mock.Transcriber{Result: "add milk to the list"}
//	text, err := tr.Transcribe(ctx, pcm)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hearthware/auricle/pkg/provider/stt"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio samples passed to Transcribe.
	PCM []int16
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results, if non-empty, is consumed one element per call, in order.
	// Once exhausted, calls fall back to Result.
	Results []string

	// Result is returned by Transcribe when Err is nil and Results is empty.
	Result string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Delay, if non-zero, makes Transcribe sleep before returning, honoring
	// context cancellation. Useful for exercising timeout paths.
	Delay time.Duration

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (m *Transcriber) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	m.mu.Lock()
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	m.Calls = append(m.Calls, TranscribeCall{PCM: cp})
	delay := m.Delay
	err := m.Err
	text := m.Result
	if len(m.Results) > 0 {
		text = m.Results[0]
		m.Results = m.Results[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
