// Package mock provides a clockwork [wake.Detector] for development and
// tests: it fires after a fixed number of observed chunks, no audio
// required. With the default cadence of 62 chunks (~5 s at 80 ms per chunk)
// a device without a wake-word model still cycles through the whole
// pipeline.
package mock

import (
	"context"
	"sync"

	"github.com/hearthware/auricle/pkg/wake"
)

// Compile-time interface assertion.
var _ wake.Detector = (*Detector)(nil)

// DefaultFireAfter is the default detection cadence in chunks.
const DefaultFireAfter = 62

// Detector is a scripted wake detector. It fires every FireAfter observed
// chunks, and immediately on the next Observe after [Detector.Trigger].
type Detector struct {
	mu        sync.Mutex
	fireAfter int
	count     int
	triggered bool
}

// New creates a Detector firing every fireAfter chunks. Values <= 0 use
// [DefaultFireAfter].
func New(fireAfter int) *Detector {
	if fireAfter <= 0 {
		fireAfter = DefaultFireAfter
	}
	return &Detector{fireAfter: fireAfter}
}

// Observe implements [wake.Detector]. The chunk contents are ignored.
func (d *Detector) Observe(_ context.Context, _ []int16) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.triggered {
		d.triggered = false
		d.count = 0
		return true, nil
	}

	d.count++
	if d.count >= d.fireAfter {
		d.count = 0
		return true, nil
	}
	return false, nil
}

// Trigger makes the next Observe call report a detection. Use this in tests
// to fire the wake word at an exact point in the script.
func (d *Detector) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggered = true
}

// Reset implements [wake.Detector].
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count = 0
	d.triggered = false
}
