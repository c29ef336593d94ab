package vad_test

import (
	"testing"
	"time"

	"github.com/hearthware/auricle/pkg/audio"
	"github.com/hearthware/auricle/pkg/vad"
)

// loudChunk returns one 80 ms chunk with RMS 1000, well above the default
// threshold of 500.
func loudChunk() []int16 {
	c := make([]int16, audio.ChunkSamples)
	for i := range c {
		c[i] = 1000
	}
	return c
}

func quietChunk() []int16 {
	return make([]int16, audio.ChunkSamples)
}

// newTestDetector uses small windows so tests stay short: hangover after
// 3 quiet chunks, min speech at 2 loud chunks, force stop at 10 chunks.
func newTestDetector() *vad.Detector {
	return vad.New(
		vad.WithHangover(240*time.Millisecond),
		vad.WithMinSpeech(160*time.Millisecond),
		vad.WithMaxUtterance(800*time.Millisecond),
	)
}

func TestSilenceStaysSilent(t *testing.T) {
	d := newTestDetector()
	for i := 0; i < 20; i++ {
		if ev := d.Observe(quietChunk()); ev != vad.Silence {
			t.Fatalf("chunk %d: got %v, want SILENCE", i, ev)
		}
	}
	if d.HasSpeech() {
		t.Error("HasSpeech true without any utterance")
	}
}

func TestSpeechStartOnLoudChunk(t *testing.T) {
	d := newTestDetector()
	if ev := d.Observe(quietChunk()); ev != vad.Silence {
		t.Fatalf("got %v, want SILENCE", ev)
	}
	if ev := d.Observe(loudChunk()); ev != vad.SpeechStart {
		t.Fatalf("got %v, want SPEECH_START", ev)
	}
	if ev := d.Observe(loudChunk()); ev != vad.SpeechContinuing {
		t.Fatalf("got %v, want SPEECH_CONTINUING", ev)
	}
}

func TestHangoverEndsUtterance(t *testing.T) {
	d := newTestDetector()
	d.Observe(loudChunk())
	d.Observe(loudChunk())
	d.Observe(loudChunk())

	// Hangover is 240 ms = 3 chunks: two quiet chunks keep the utterance
	// open, the third closes it.
	if ev := d.Observe(quietChunk()); ev != vad.SpeechContinuing {
		t.Fatalf("first quiet chunk: got %v, want SPEECH_CONTINUING", ev)
	}
	if ev := d.Observe(quietChunk()); ev != vad.SpeechContinuing {
		t.Fatalf("second quiet chunk: got %v, want SPEECH_CONTINUING", ev)
	}
	if ev := d.Observe(quietChunk()); ev != vad.SpeechEnd {
		t.Fatalf("third quiet chunk: got %v, want SPEECH_END", ev)
	}

	// Back to idle.
	if ev := d.Observe(quietChunk()); ev != vad.Silence {
		t.Fatalf("after end: got %v, want SILENCE", ev)
	}
}

func TestLoudChunkResetsHangover(t *testing.T) {
	d := newTestDetector()
	d.Observe(loudChunk())
	d.Observe(quietChunk())
	d.Observe(quietChunk())

	// Speech resumes before the hangover elapses; the silence counter
	// starts over.
	if ev := d.Observe(loudChunk()); ev != vad.SpeechContinuing {
		t.Fatalf("resumed speech: got %v, want SPEECH_CONTINUING", ev)
	}
	if ev := d.Observe(quietChunk()); ev != vad.SpeechContinuing {
		t.Fatalf("got %v, want SPEECH_CONTINUING", ev)
	}
	if ev := d.Observe(quietChunk()); ev != vad.SpeechContinuing {
		t.Fatalf("got %v, want SPEECH_CONTINUING", ev)
	}
	if ev := d.Observe(quietChunk()); ev != vad.SpeechEnd {
		t.Fatalf("got %v, want SPEECH_END", ev)
	}
}

func TestMaxUtteranceForcesEnd(t *testing.T) {
	d := newTestDetector()

	// 800 ms cap = 10 chunks of 80 ms. Continuous speech must be cut off
	// on the 10th chunk even though it is still loud.
	if ev := d.Observe(loudChunk()); ev != vad.SpeechStart {
		t.Fatalf("got %v, want SPEECH_START", ev)
	}
	for i := 2; i <= 9; i++ {
		if ev := d.Observe(loudChunk()); ev != vad.SpeechContinuing {
			t.Fatalf("chunk %d: got %v, want SPEECH_CONTINUING", i, ev)
		}
	}
	if ev := d.Observe(loudChunk()); ev != vad.SpeechEnd {
		t.Fatalf("chunk 10: got %v, want SPEECH_END (force stop)", ev)
	}
}

func TestHasSpeechGate(t *testing.T) {
	d := newTestDetector()

	// One loud chunk (80 ms) is below the 160 ms gate.
	d.Observe(loudChunk())
	d.Observe(quietChunk())
	d.Observe(quietChunk())
	if ev := d.Observe(quietChunk()); ev != vad.SpeechEnd {
		t.Fatalf("got %v, want SPEECH_END", ev)
	}
	if d.HasSpeech() {
		t.Error("HasSpeech true for an 80 ms blip")
	}

	// Two loud chunks (160 ms) meet the gate. The result survives the end
	// of the utterance so the caller can check it afterwards.
	d.Reset()
	d.Observe(loudChunk())
	d.Observe(loudChunk())
	d.Observe(quietChunk())
	d.Observe(quietChunk())
	if ev := d.Observe(quietChunk()); ev != vad.SpeechEnd {
		t.Fatalf("got %v, want SPEECH_END", ev)
	}
	if !d.HasSpeech() {
		t.Error("HasSpeech false for a 160 ms utterance")
	}
}

func TestResetClearsState(t *testing.T) {
	d := newTestDetector()
	d.Observe(loudChunk())
	d.Observe(loudChunk())
	d.Observe(loudChunk())

	d.Reset()
	if d.HasSpeech() {
		t.Error("HasSpeech true after Reset")
	}
	if ev := d.Observe(quietChunk()); ev != vad.Silence {
		t.Fatalf("after Reset: got %v, want SILENCE", ev)
	}
	if ev := d.Observe(loudChunk()); ev != vad.SpeechStart {
		t.Fatalf("after Reset: got %v, want SPEECH_START", ev)
	}
}

func TestDefaultWindows(t *testing.T) {
	// With defaults, 18 quiet chunks (1440 ms) keep the utterance open and
	// the 19th (1520 ms) closes it.
	d := vad.New()
	d.Observe(loudChunk())
	for i := 1; i <= 18; i++ {
		if ev := d.Observe(quietChunk()); ev != vad.SpeechContinuing {
			t.Fatalf("quiet chunk %d: got %v, want SPEECH_CONTINUING", i, ev)
		}
	}
	if ev := d.Observe(quietChunk()); ev != vad.SpeechEnd {
		t.Fatalf("quiet chunk 19: got %v, want SPEECH_END", ev)
	}
}

func TestEventString(t *testing.T) {
	cases := []struct {
		ev   vad.Event
		want string
	}{
		{vad.Silence, "SILENCE"},
		{vad.SpeechStart, "SPEECH_START"},
		{vad.SpeechContinuing, "SPEECH_CONTINUING"},
		{vad.SpeechEnd, "SPEECH_END"},
		{vad.Event(99), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.ev.String(); got != c.want {
			t.Errorf("Event(%d).String() = %q, want %q", c.ev, got, c.want)
		}
	}
}
