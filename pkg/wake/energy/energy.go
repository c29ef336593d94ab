// Package energy provides a loudness-based [wake.Detector]. It fires when a
// run of consecutive chunks stays above an RMS threshold.
//
// It is not a wake-word detector in the strict sense: the pipeline uses it
// for the "energy" barge-in policy, where any sustained loud speech while
// the assistant is talking should cut the playback. The threshold sits well
// above the voice-activity threshold so playback bleed from the device's
// own speaker does not trigger it.
package energy

import (
	"context"

	"github.com/hearthware/auricle/pkg/audio"
	"github.com/hearthware/auricle/pkg/wake"
)

// Compile-time interface assertion.
var _ wake.Detector = (*Detector)(nil)

const (
	// DefaultThreshold is the RMS amplitude a chunk must reach to count
	// toward a detection run.
	DefaultThreshold = 1500.0

	// DefaultConsecutive is how many loud chunks in a row fire a
	// detection (3 chunks = 240 ms of sustained loud speech).
	DefaultConsecutive = 3
)

// Option configures a [Detector] during construction.
type Option func(*Detector)

// WithThreshold sets the RMS threshold. Values <= 0 are ignored.
func WithThreshold(rms float64) Option {
	return func(d *Detector) {
		if rms > 0 {
			d.threshold = rms
		}
	}
}

// WithConsecutive sets the required run length in chunks. Values <= 0 are
// ignored.
func WithConsecutive(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.consecutive = n
		}
	}
}

// Detector fires after a run of consecutive loud chunks.
type Detector struct {
	threshold   float64
	consecutive int
	run         int
}

// New creates a Detector with the package defaults, adjusted by opts.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold:   DefaultThreshold,
		consecutive: DefaultConsecutive,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Observe implements [wake.Detector]. A quiet chunk resets the run.
func (d *Detector) Observe(_ context.Context, chunk []int16) (bool, error) {
	if audio.RMS(chunk) < d.threshold {
		d.run = 0
		return false, nil
	}
	d.run++
	if d.run >= d.consecutive {
		d.run = 0
		return true, nil
	}
	return false, nil
}

// Reset implements [wake.Detector].
func (d *Detector) Reset() {
	d.run = 0
}
