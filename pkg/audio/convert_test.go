package audio_test

import (
	"testing"

	"github.com/hearthware/auricle/pkg/audio"
)

func TestSamplesBytesRoundTrip(t *testing.T) {
	in := []int16{0, 100, -100, 32767, -32768}
	out := audio.BytesToSamples(audio.SamplesToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestBytesToSamplesIgnoresTrailingByte(t *testing.T) {
	// 5 bytes = 2 complete samples + 1 trailing byte.
	b := []byte{0x64, 0x00, 0xC8, 0x00, 0xFF}
	got := audio.BytesToSamples(b)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 100 || got[1] != 200 {
		t.Errorf("got %v, want [100 200]", got)
	}
}

func TestRMSSilence(t *testing.T) {
	if got := audio.RMS(make([]int16, 320)); got != 0 {
		t.Errorf("RMS of silence: got %v, want 0", got)
	}
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS of empty input: got %v, want 0", got)
	}
}

func TestRMSConstantSignal(t *testing.T) {
	pcm := make([]int16, 256)
	for i := range pcm {
		pcm[i] = 1000
	}
	got := audio.RMS(pcm)
	if got < 999.9 || got > 1000.1 {
		t.Errorf("RMS of constant 1000 signal: got %v, want 1000", got)
	}
}

func TestResampleSameRate(t *testing.T) {
	pcm := []int16{100, 200, 300}
	out := audio.Resample(pcm, 16000, 16000)
	// Same slice — pointer equality check.
	if &out[0] != &pcm[0] {
		t.Error("expected same slice (zero allocation) for matching rates")
	}
}

func TestResampleUpsample(t *testing.T) {
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	pcm := []int16{1000, 2000}
	out := audio.Resample(pcm, 16000, 48000)
	if len(out) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(out))
	}
	if out[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", out[0])
	}
	last := out[len(out)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleDownsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	pcm := []int16{100, 200, 300, 400, 500, 600}
	out := audio.Resample(pcm, 48000, 16000)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
}

func TestResamplePiperRate(t *testing.T) {
	// One second at 22.05 kHz should come out as one second at 16 kHz.
	pcm := make([]int16, 22050)
	out := audio.Resample(pcm, 22050, 16000)
	if len(out) != 16000 {
		t.Errorf("expected 16000 samples, got %d", len(out))
	}
}

func TestResampleInvalidRates(t *testing.T) {
	pcm := []int16{100, 200}
	if out := audio.Resample(pcm, 0, 48000); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero srcRate, got len %d", len(out))
	}
	if out := audio.Resample(pcm, 48000, 0); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero dstRate, got len %d", len(out))
	}
	if out := audio.Resample(pcm, -1, 48000); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for negative srcRate, got len %d", len(out))
	}
}

func TestResampleEmpty(t *testing.T) {
	if out := audio.Resample(nil, 22050, 16000); len(out) != 0 {
		t.Errorf("expected empty output for empty input, got %d samples", len(out))
	}
}
