// Package mock provides an in-memory implementation of [audio.Device] for
// use in unit tests.
//
// The mock is safe for concurrent use. Capture is scripted: tests queue
// chunks with [Device.Feed] (or set [Device.Loop] for a steady background
// signal) and the pipeline under test pulls them through ReadChunk exactly
// as it would from real hardware. Playback is recorded: every Write call is
// kept so tests can assert on what was played.
//
// Typical usage:
//
//	dev := mock.NewDevice()
//	dev.Loop = make([]int16, audio.ChunkSamples) // silence between cues
//	dev.Feed(speechChunk, speechChunk)
//	ctrl := audio.NewController(dev)
//	defer ctrl.Close()
package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/hearthware/auricle/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// ErrClosed is returned by ReadChunk and Write after the device is closed.
var ErrClosed = errors.New("mock: device closed")

// readResult is one scripted ReadChunk outcome.
type readResult struct {
	chunk []int16
	err   error
}

// Device is a scriptable mock implementation of [audio.Device].
// Set the exported fields before first use; inspect WriteCalls (or the
// snapshot helpers) after.
type Device struct {
	mu sync.Mutex

	// Loop, when non-nil, is returned (copied) by ReadChunk whenever the
	// scripted feed is empty. When nil, ReadChunk blocks until Feed or
	// FeedErr supplies a result, or until the device is closed.
	Loop []int16

	// ReadDelay paces ReadChunk: each call sleeps this long before
	// returning. Use it to approximate real-time capture in tests that
	// exercise timing behaviour.
	ReadDelay time.Duration

	// WriteErr, when non-nil, is returned by every Write call.
	WriteErr error

	// WriteDelay paces Write: each call sleeps this long before returning.
	// Use it to keep playback in flight long enough to stop it mid-way.
	WriteDelay time.Duration

	// CloseErr is returned by Close.
	CloseErr error

	// WriteCalls records the pcm argument of every Write invocation.
	WriteCalls [][]int16

	feed      chan readResult
	closed    chan struct{}
	closeOnce sync.Once
}

// NewDevice returns a Device with an empty capture script.
func NewDevice() *Device {
	return &Device{
		feed:   make(chan readResult, 1024),
		closed: make(chan struct{}),
	}
}

// Feed queues chunks for delivery by subsequent ReadChunk calls, in order.
func (d *Device) Feed(chunks ...[]int16) {
	for _, c := range chunks {
		d.feed <- readResult{chunk: c}
	}
}

// FeedErr queues a capture error for delivery by a subsequent ReadChunk call.
func (d *Device) FeedErr(err error) {
	d.feed <- readResult{err: err}
}

// ReadChunk implements [audio.Device]. It returns the next scripted chunk or
// error, falls back to Loop when the script is exhausted, and otherwise
// blocks until the script grows or the device is closed.
func (d *Device) ReadChunk() ([]int16, error) {
	d.mu.Lock()
	delay := d.ReadDelay
	loop := d.Loop
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-d.closed:
			timer.Stop()
			return nil, ErrClosed
		case <-timer.C:
		}
	}

	select {
	case r := <-d.feed:
		return r.chunk, r.err
	case <-d.closed:
		return nil, ErrClosed
	default:
	}

	if loop != nil {
		out := make([]int16, len(loop))
		copy(out, loop)
		return out, nil
	}

	select {
	case r := <-d.feed:
		return r.chunk, r.err
	case <-d.closed:
		return nil, ErrClosed
	}
}

// Write implements [audio.Device]. Records the call and returns WriteErr.
func (d *Device) Write(pcm []int16) error {
	select {
	case <-d.closed:
		return ErrClosed
	default:
	}

	d.mu.Lock()
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	d.WriteCalls = append(d.WriteCalls, cp)
	delay := d.WriteDelay
	err := d.WriteErr
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-d.closed:
			timer.Stop()
			return ErrClosed
		case <-timer.C:
		}
	}
	return err
}

// Close implements [audio.Device]. Unblocks pending reads and writes.
// Idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	return d.CloseErr
}

// CountWrites returns the number of Write calls so far.
func (d *Device) CountWrites() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.WriteCalls)
}

// Written returns all samples written so far, concatenated in call order.
func (d *Device) Written() []int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []int16
	for _, c := range d.WriteCalls {
		out = append(out, c...)
	}
	return out
}
