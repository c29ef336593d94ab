// Package oww provides a [wake.Detector] backed by an openWakeWord
// streaming server over WebSocket.
//
// Each observed chunk is forwarded as a binary frame of little-endian int16
// PCM at 16 kHz. The server scores every frame against its loaded models
// and replies with JSON objects mapping model names to activation scores,
// e.g. {"hey_jarvis": 0.91}. A score at or above the configured threshold
// counts as a detection. Scores arrive asynchronously, so a detection
// surfaces on the Observe call after the one that carried the triggering
// audio — one chunk of extra latency, which the pipeline tolerates.
package oww

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/hearthware/auricle/pkg/audio"
	"github.com/hearthware/auricle/pkg/wake"
)

// Compile-time interface assertion.
var _ wake.Detector = (*Detector)(nil)

const (
	defaultModel     = "hey_jarvis"
	defaultThreshold = 0.5

	// detectionBuffer bounds pending detections; the pipeline consumes one
	// per chunk so anything beyond a few is stale.
	detectionBuffer = 8
)

// Option is a functional option for configuring the Detector.
type Option func(*Detector)

// WithModel sets the openWakeWord model name to watch (e.g. "hey_jarvis").
func WithModel(name string) Option {
	return func(d *Detector) {
		if name != "" {
			d.model = name
		}
	}
}

// WithThreshold sets the activation score at which a detection fires.
func WithThreshold(score float64) Option {
	return func(d *Detector) {
		if score > 0 {
			d.storeThreshold(score)
		}
	}
}

// Detector streams capture chunks to an openWakeWord server and reports
// detections. Create one with [Dial]; call [Detector.Close] to release the
// connection.
type Detector struct {
	model string

	// threshold holds math.Float64bits of the activation score; the read
	// loop loads it per message so [Detector.SetThreshold] applies live.
	threshold atomic.Uint64

	conn       *websocket.Conn
	detections chan float64

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// readErr stores the error that ended the read loop.
	readErr atomic.Pointer[error]
}

// Dial connects to the openWakeWord server at serverURL (ws:// or wss://)
// and starts the score reader. serverURL must be non-empty.
func Dial(ctx context.Context, serverURL string, opts ...Option) (*Detector, error) {
	if serverURL == "" {
		return nil, errors.New("oww: serverURL must not be empty")
	}

	d := &Detector{
		model:      defaultModel,
		detections: make(chan float64, detectionBuffer),
		done:       make(chan struct{}),
	}
	d.storeThreshold(defaultThreshold)
	for _, o := range opts {
		o(d)
	}

	conn, _, err := websocket.Dial(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oww: dial %s: %w", serverURL, err)
	}
	d.conn = conn

	d.wg.Add(1)
	go d.readLoop()

	return d, nil
}

// Observe implements [wake.Detector]. It forwards the chunk to the server
// and reports any detection that has arrived since the last call.
func (d *Detector) Observe(ctx context.Context, chunk []int16) (bool, error) {
	if d.pending() {
		return true, nil
	}
	if err := d.loadReadErr(); err != nil {
		return false, err
	}

	if err := d.conn.Write(ctx, websocket.MessageBinary, audio.SamplesToBytes(chunk)); err != nil {
		select {
		case <-d.done:
			return false, errors.New("oww: detector closed")
		default:
		}
		return false, fmt.Errorf("oww: send chunk: %w", err)
	}

	return d.pending(), nil
}

// Reset implements [wake.Detector]. It discards pending detections; the
// server keeps its own rolling audio window.
func (d *Detector) Reset() {
	for {
		select {
		case <-d.detections:
		default:
			return
		}
	}
}

// Close terminates the connection and stops the score reader. Idempotent.
func (d *Detector) Close() error {
	d.once.Do(func() {
		close(d.done)
		d.conn.Close(websocket.StatusNormalClosure, "detector closed")
		d.wg.Wait()
	})
	return nil
}

// pending reports and consumes one queued detection, if any.
func (d *Detector) pending() bool {
	select {
	case score := <-d.detections:
		slog.Debug("wake word detected", "model", d.model, "score", score)
		return true
	default:
		return false
	}
}

// readLoop receives score messages until the connection closes. Scores at
// or above the threshold are queued for Observe; when the queue is full the
// detection is dropped (the pipeline is already acting on an earlier one).
func (d *Detector) readLoop() {
	defer d.wg.Done()

	for {
		_, msg, err := d.conn.Read(context.Background())
		if err != nil {
			select {
			case <-d.done:
			default:
				e := fmt.Errorf("oww: connection lost: %w", err)
				d.readErr.Store(&e)
			}
			return
		}

		score, ok := parseScore(msg, d.model)
		if !ok || score < d.loadThreshold() {
			continue
		}
		select {
		case d.detections <- score:
		default:
		}
	}
}

// SetThreshold changes the activation score at which a detection fires.
// Safe to call while the detector is running; scores ≤ 0 are ignored.
func (d *Detector) SetThreshold(score float64) {
	if score > 0 {
		d.storeThreshold(score)
	}
}

func (d *Detector) storeThreshold(score float64) {
	d.threshold.Store(math.Float64bits(score))
}

func (d *Detector) loadThreshold() float64 {
	return math.Float64frombits(d.threshold.Load())
}

func (d *Detector) loadReadErr() error {
	if e := d.readErr.Load(); e != nil {
		return *e
	}
	return nil
}

// parseScore extracts the activation score for model from a server message.
// Messages that are not flat score objects (e.g. the loaded-models greeting)
// are ignored.
func parseScore(data []byte, model string) (float64, bool) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, false
	}
	v, ok := m[model]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
