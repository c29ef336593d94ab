package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultBufferChunks is the capture buffer depth when no explicit
	// capacity is configured via [WithBufferChunks]. At 80 ms per chunk
	// this holds roughly 2.5 s of audio.
	defaultBufferChunks = 32

	// defaultFaultRetryDelay paces capture reads while the device is
	// faulted, so a dead microphone does not spin the capture goroutine.
	defaultFaultRetryDelay = 500 * time.Millisecond
)

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithBufferChunks sets the capture buffer depth in chunks. When the buffer
// is full the oldest chunk is dropped to make room, so a stalled consumer
// sees recent audio rather than stale audio.
func WithBufferChunks(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.chunks = make(chan []int16, n)
		}
	}
}

// WithFaultRetryDelay sets how long the capture goroutine waits after a
// failed device read before trying again.
func WithFaultRetryDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// Playback is a handle to one in-flight playback started by
// [Controller.Play]. The pipeline uses it to wait for completion, stop the
// playback early, and inspect the outcome.
type Playback struct {
	cancel   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// playErr stores the device error that ended playback early.
	// Access via Err; written once before done is closed.
	playErr atomic.Pointer[error]
}

// Done returns a channel that is closed when the playback has finished,
// whether it completed, was stopped, or failed.
func (p *Playback) Done() <-chan struct{} {
	return p.done
}

// Err returns the device error that ended the playback prematurely, or nil
// if it completed or was stopped. Only meaningful after Done is closed.
func (p *Playback) Err() error {
	if e := p.playErr.Load(); e != nil {
		return *e
	}
	return nil
}

// Stop requests that this playback end. The audible effect lands within one
// chunk write. Stop is idempotent and safe to call after completion.
func (p *Playback) Stop() {
	p.stopOnce.Do(func() {
		close(p.cancel)
	})
}

func (p *Playback) setErr(err error) {
	p.playErr.Store(&err)
}

// Controller is the audio session controller. It owns a single [Device],
// runs a background capture goroutine that buffers microphone chunks, and
// arbitrates playback so that at most one response is audible at a time.
//
// The capture path and the playback path share no lock: capture delivers
// chunks through a buffered channel while playback state lives behind its
// own mutex. A stalled consumer therefore never delays playback, and a slow
// device write never delays capture.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	device Device

	chunks     chan []int16
	captureErr atomic.Pointer[error]
	retryDelay time.Duration

	mu      sync.Mutex // guards playback state only
	current *Playback

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	warnedOverflow sync.Once
}

// NewController starts capturing from device immediately and returns the
// controller. Call [Controller.Close] to stop the capture goroutine and
// release the device.
func NewController(device Device, opts ...Option) *Controller {
	c := &Controller{
		device:     device,
		chunks:     make(chan []int16, defaultBufferChunks),
		retryDelay: defaultFaultRetryDelay,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.captureLoop()
	return c
}

// NextChunk returns the next captured chunk, blocking up to timeout. A
// timeout is not an error: the call returns (nil, nil) so the caller can
// poll for other work. A capture fault surfaces as an error wrapping
// [ErrDevice]; calls keep returning the error while the device stays down,
// and deliver chunks again once the capture goroutine's retries succeed.
func (c *Controller) NextChunk(timeout time.Duration) ([]int16, error) {
	if err := c.loadCaptureErr(); err != nil {
		// Drain buffered chunks recorded before the fault first.
		select {
		case chunk, ok := <-c.chunks:
			if ok {
				return chunk, nil
			}
		default:
		}
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-c.chunks:
		if !ok {
			return nil, c.loadCaptureErr()
		}
		return chunk, nil
	case <-timer.C:
		return nil, nil
	}
}

// Flush discards all buffered captured chunks. The pipeline calls this after
// playback so the next recording does not begin with the tail of the
// assistant's own speech.
func (c *Controller) Flush() {
	for {
		select {
		case _, ok := <-c.chunks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Play starts playing pcm and returns immediately with a [Playback] handle.
// If another playback is in flight it is stopped first: the most recent
// Play always wins. The samples are written to the device chunk by chunk so
// a Stop lands within one chunk interval.
func (c *Controller) Play(pcm []int16) *Playback {
	p := &Playback{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.current != nil {
		c.current.Stop()
	}
	c.current = p
	c.mu.Unlock()

	go c.playLoop(p, pcm)
	return p
}

// Stop ends the current playback, if any. The audible effect lands within
// one chunk write. If nothing is playing, Stop is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}
}

// IsPlaying reports whether a playback is currently audible.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	p := c.current
	c.mu.Unlock()

	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Close stops the capture goroutine, ends any current playback, and closes
// the device. Close is idempotent; subsequent calls return the first result.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Stop()
		c.closeErr = c.device.Close()
	})
	return c.closeErr
}

// captureLoop reads chunks from the device into the buffer until the
// controller is closed. A failed read marks the controller faulted and the
// loop keeps retrying at retryDelay pace; the first successful read clears
// the fault. When the buffer is full the oldest chunk is dropped so the
// consumer always sees recent audio.
func (c *Controller) captureLoop() {
	defer close(c.chunks)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		chunk, err := c.device.ReadChunk()
		if err != nil {
			select {
			case <-c.done:
				// Close raced the read; not a fault.
				return
			default:
			}
			if c.loadCaptureErr() == nil {
				slog.Warn("audio capture fault, retrying", "err", err)
			}
			c.setCaptureErr(fmt.Errorf("%w: read chunk: %v", ErrDevice, err))
			select {
			case <-c.done:
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}
		if c.loadCaptureErr() != nil {
			c.clearCaptureErr()
			slog.Info("audio capture recovered")
		}

		select {
		case c.chunks <- chunk:
		default:
			c.warnedOverflow.Do(func() {
				slog.Warn("audio capture buffer full, dropping oldest chunk",
					"capacity", cap(c.chunks),
				)
			})
			select {
			case <-c.chunks:
			default:
			}
			select {
			case c.chunks <- chunk:
			default:
			}
		}
	}
}

// playLoop writes pcm to the device in chunk-sized slices, checking for
// cancellation between writes.
func (c *Controller) playLoop(p *Playback, pcm []int16) {
	defer close(p.done)

	for off := 0; off < len(pcm); off += ChunkSamples {
		select {
		case <-p.cancel:
			return
		case <-c.done:
			return
		default:
		}

		end := off + ChunkSamples
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := c.device.Write(pcm[off:end]); err != nil {
			p.setErr(fmt.Errorf("%w: write chunk: %v", ErrDevice, err))
			return
		}
	}
}

func (c *Controller) setCaptureErr(err error) {
	c.captureErr.Store(&err)
}

func (c *Controller) clearCaptureErr() {
	c.captureErr.Store(nil)
}

func (c *Controller) loadCaptureErr() error {
	if e := c.captureErr.Load(); e != nil {
		return *e
	}
	return nil
}
