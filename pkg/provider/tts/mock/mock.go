// Package mock provides a test double for the tts.Synthesizer interface.
//
// Set Result to script the PCM returned by Synthesize, or leave it nil to
// get Duration of silence per call, then inspect Calls to verify what text
// the caller submitted.
//
// Example:
//
//	syn := &mock.Synthesizer{Result: []int16{100, 200, 300}}
//	pcm, err := syn.Synthesize(ctx, "added milk")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hearthware/auricle/pkg/audio"
	"github.com/hearthware/auricle/pkg/provider/tts"
)

// Compile-time assertion that Synthesizer implements tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// defaultDuration is the length of silence synthesized when neither Result
// nor Duration is set.
const defaultDuration = 2 * time.Second

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Result, if non-nil, is the PCM returned by every Synthesize call.
	Result []int16

	// Duration is the length of silence returned when Result is nil.
	// Zero means 2 s, matching roughly how long a short sentence takes.
	Duration time.Duration

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// Delay, if non-zero, makes Synthesize sleep before returning, honoring
	// context cancellation.
	Delay time.Duration

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns the scripted PCM. Empty or
// whitespace-only text returns 0.1 s of silence, matching the contract of
// real backends.
func (m *Synthesizer) Synthesize(ctx context.Context, text string) ([]int16, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, SynthesizeCall{Text: text})
	result := m.Result
	dur := m.Duration
	err := m.Err
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if isBlank(text) {
		return audio.Silence(100 * time.Millisecond), nil
	}
	if result != nil {
		cp := make([]int16, len(result))
		copy(cp, result)
		return cp, nil
	}
	if dur <= 0 {
		dur = defaultDuration
	}
	return audio.Silence(dur), nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (m *Synthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Texts returns the text of every recorded call in order. Thread-safe.
func (m *Synthesizer) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Synthesizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
