// Package vad implements energy-based voice activity detection over the
// pipeline's capture chunks.
//
// The [Detector] is a small state machine fed one chunk at a time through
// [Detector.Observe]. It reports the transitions the recording loop cares
// about: the first loud chunk starts an utterance, a hangover of sustained
// silence ends it, and a hard cap on utterance length force-stops runaway
// recordings. A minimum-speech gate ([Detector.HasSpeech]) lets the caller
// discard utterances that never contained real speech.
//
// The detector keeps plain state and is not safe for concurrent use; the
// pipeline worker owns it.
package vad

import (
	"time"

	"github.com/hearthware/auricle/pkg/audio"
)

// Event is the detection result for one observed chunk.
type Event int

const (
	// Silence indicates no utterance is in progress.
	Silence Event = iota

	// SpeechStart indicates this chunk began a new utterance.
	SpeechStart

	// SpeechContinuing indicates an utterance is in progress. Trailing
	// quiet chunks inside the hangover window also report this.
	SpeechContinuing

	// SpeechEnd indicates the utterance just ended, either because the
	// hangover elapsed or because the utterance hit its maximum length.
	SpeechEnd
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case Silence:
		return "SILENCE"
	case SpeechStart:
		return "SPEECH_START"
	case SpeechContinuing:
		return "SPEECH_CONTINUING"
	case SpeechEnd:
		return "SPEECH_END"
	default:
		return "UNKNOWN"
	}
}

// Defaults tuned for a living-room microphone at arm's length.
const (
	// DefaultThreshold is the RMS amplitude above which a chunk counts as
	// speech.
	DefaultThreshold = 500.0

	// DefaultHangover is how much sustained silence ends an utterance.
	DefaultHangover = 1500 * time.Millisecond

	// DefaultMinSpeech is the minimum loud time an utterance needs before
	// [Detector.HasSpeech] accepts it.
	DefaultMinSpeech = 500 * time.Millisecond

	// DefaultMaxUtterance caps utterance length; beyond it the detector
	// force-stops with [SpeechEnd] even while speech continues.
	DefaultMaxUtterance = 15 * time.Second
)

// Option configures a [Detector] during construction.
type Option func(*Detector)

// WithThreshold sets the RMS speech threshold. Values <= 0 are ignored.
func WithThreshold(rms float64) Option {
	return func(d *Detector) {
		if rms > 0 {
			d.threshold = rms
		}
	}
}

// WithHangover sets the silence duration that ends an utterance.
// Values <= 0 are ignored.
func WithHangover(dur time.Duration) Option {
	return func(d *Detector) {
		if dur > 0 {
			d.hangover = dur
		}
	}
}

// WithMinSpeech sets the minimum loud time for [Detector.HasSpeech].
// Values <= 0 are ignored.
func WithMinSpeech(dur time.Duration) Option {
	return func(d *Detector) {
		if dur > 0 {
			d.minSpeech = dur
		}
	}
}

// WithMaxUtterance sets the hard cap on utterance length.
// Values <= 0 are ignored.
func WithMaxUtterance(dur time.Duration) Option {
	return func(d *Detector) {
		if dur > 0 {
			d.maxUtterance = dur
		}
	}
}

// Detector classifies capture chunks into utterance transitions by RMS
// energy. Durations are accumulated from actual chunk lengths, so chunk
// size changes do not skew the hangover or the gates.
type Detector struct {
	threshold    float64
	hangover     time.Duration
	minSpeech    time.Duration
	maxUtterance time.Duration

	inSpeech  bool
	utterance time.Duration // total time since SpeechStart
	speech    time.Duration // loud time within the utterance
	silence   time.Duration // trailing quiet time
}

// New creates a Detector with the package defaults, adjusted by opts.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold:    DefaultThreshold,
		hangover:     DefaultHangover,
		minSpeech:    DefaultMinSpeech,
		maxUtterance: DefaultMaxUtterance,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Observe classifies one chunk and advances the utterance state machine.
func (d *Detector) Observe(chunk []int16) Event {
	dur := time.Duration(len(chunk)) * time.Second / audio.SampleRate
	loud := audio.RMS(chunk) >= d.threshold

	if !d.inSpeech {
		if !loud {
			return Silence
		}
		d.inSpeech = true
		d.utterance = dur
		d.speech = dur
		d.silence = 0
		return SpeechStart
	}

	d.utterance += dur
	if loud {
		d.speech += dur
		d.silence = 0
	} else {
		d.silence += dur
	}

	if d.silence >= d.hangover || d.utterance >= d.maxUtterance {
		d.inSpeech = false
		return SpeechEnd
	}
	return SpeechContinuing
}

// HasSpeech reports whether the current or most recently ended utterance
// accumulated at least the minimum loud time. Utterances below the gate are
// noise: the caller drops them without transcribing.
func (d *Detector) HasSpeech() bool {
	return d.speech >= d.minSpeech
}

// Reset clears all utterance state, including the [Detector.HasSpeech]
// result of the last utterance.
func (d *Detector) Reset() {
	d.inSpeech = false
	d.utterance = 0
	d.speech = 0
	d.silence = 0
}
