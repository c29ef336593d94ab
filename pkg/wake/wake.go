// Package wake defines the wake-word detection contract for the voice
// pipeline.
//
// A [Detector] watches the capture stream one chunk at a time and reports
// when the wake phrase completes. Implementations are provided by adapter
// subpackages:
//
//   - wake/oww — streams audio to an openWakeWord server over WebSocket.
//   - wake/energy — loudness runs, used by the barge-in policy.
//   - wake/mock — fires on a fixed chunk cadence, for development and tests.
package wake

import "context"

// Detector watches capture chunks for the wake phrase.
//
// Implementations keep per-utterance state (buffered audio, score history)
// and are not safe for concurrent use; the pipeline worker owns them.
type Detector interface {
	// Observe feeds one capture chunk. It returns true when the wake
	// phrase completed within the observed audio. Detections computed
	// remotely may surface one Observe call after the chunk that carried
	// the triggering audio.
	Observe(ctx context.Context, chunk []int16) (bool, error)

	// Reset clears buffered audio and score state, discarding any pending
	// detection.
	Reset()
}
