// Package audio defines the capture and playback primitives for the Auricle
// voice pipeline.
//
// The two primary abstractions are:
//
//   - [Device] — a duplex audio endpoint that captures microphone chunks and
//     accepts playback samples.
//   - [Controller] — the session controller that owns capture buffering and
//     playback arbitration on top of a single [Device].
//
// Implementations of [Device] are provided by hardware-specific adapter
// packages (audio/portaudio for real hardware, audio/mock for tests). The
// interface is intentionally narrow to keep the pipeline decoupled from
// driver details.
//
// All audio in the pipeline is 16 kHz mono little-endian int16 PCM; the
// constants in this package pin that format. Providers that produce other
// rates (e.g. 22.05 kHz TTS output) convert with [Resample] before handing
// samples to the [Controller].
package audio

import (
	"errors"
	"time"
)

const (
	// SampleRate is the fixed pipeline sample rate in Hz.
	SampleRate = 16000

	// ChunkDuration is the length of one capture chunk.
	ChunkDuration = 80 * time.Millisecond

	// ChunkSamples is the number of int16 samples in one capture chunk
	// (80 ms at 16 kHz).
	ChunkSamples = SampleRate * 80 / 1000
)

// ErrDevice indicates that the underlying audio hardware failed or became
// unavailable. Errors returned by [Device] implementations and surfaced
// through [Controller.NextChunk] or [Playback.Err] wrap this sentinel so
// callers can classify faults with errors.Is.
var ErrDevice = errors.New("audio: device unavailable")

// Device is a duplex audio endpoint. It captures microphone input in
// fixed-size chunks and plays back int16 PCM samples, both at the pipeline
// format pinned by [SampleRate].
//
// Implementations must be safe for concurrent use: ReadChunk and Write are
// called from different goroutines. Device errors are classified by the
// [Controller], which wraps them in [ErrDevice] before surfacing them.
type Device interface {
	// ReadChunk blocks until the next captured chunk is available and
	// returns it. The returned slice is owned by the caller.
	ReadChunk() ([]int16, error)

	// Write plays pcm through the output stream, blocking until the device
	// has accepted all samples.
	Write(pcm []int16) error

	// Close releases the device. After Close, ReadChunk and Write return
	// errors. Close is idempotent.
	Close() error
}
