package piper_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hearthware/auricle/pkg/audio"
	"github.com/hearthware/auricle/pkg/provider/tts/piper"
)

// synthesisRequest captures what one POST delivered.
type synthesisRequest struct {
	text        string
	contentType string
	query       string
}

// newPiperServer creates a test server that responds to any POST with a WAV
// file containing pcm at sampleRate. calls is incremented per request; when
// capture is non-nil it records the last request.
func newPiperServer(t *testing.T, pcm []int16, sampleRate int, calls *atomic.Int32, capture *synthesisRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			capture.text = string(body)
			capture.contentType = r.Header.Get("Content-Type")
			capture.query = r.URL.RawQuery
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(pcm, sampleRate))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRequiresServerURL(t *testing.T) {
	if _, err := piper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestSynthesizeSendsPlainText(t *testing.T) {
	var got synthesisRequest
	srv := newPiperServer(t, make([]int16, 160), 16000, nil, &got)

	p, err := piper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "Added milk to your list."); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if got.text != "Added milk to your list." {
		t.Errorf("request body = %q, want the raw text", got.text)
	}
	if got.contentType != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", got.contentType)
	}
	if got.query != "" {
		t.Errorf("query = %q, want none without a speaker", got.query)
	}
}

func TestSynthesizeSendsSpeakerParam(t *testing.T) {
	var got synthesisRequest
	srv := newPiperServer(t, make([]int16, 160), 16000, nil, &got)

	p, _ := piper.New(srv.URL, piper.WithSpeaker("3"))
	if _, err := p.Synthesize(context.Background(), "hello"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.query != "speaker_id=3" {
		t.Errorf("query = %q, want speaker_id=3", got.query)
	}
}

func TestSynthesizePassesThroughNativeRate(t *testing.T) {
	want := []int16{0, 1000, 2000, 3000, 4000, 5000}
	srv := newPiperServer(t, want, 16000, nil, nil)

	p, _ := piper.New(srv.URL)
	pcm, err := p.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != len(want) {
		t.Fatalf("got %d samples, want %d", len(pcm), len(want))
	}
	for i := range want {
		if pcm[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, pcm[i], want[i])
		}
	}
}

func TestSynthesizeResamplesToPipelineRate(t *testing.T) {
	// 2205 samples at 22 050 Hz is exactly 0.1 s, which must come back as
	// 1600 samples at 16 kHz.
	srv := newPiperServer(t, make([]int16, 2205), 22050, nil, nil)

	p, _ := piper.New(srv.URL)
	pcm, err := p.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != 1600 {
		t.Errorf("got %d samples, want 1600 after resampling", len(pcm))
	}
}

func TestSynthesizeEmptyTextReturnsSilence(t *testing.T) {
	var calls atomic.Int32
	srv := newPiperServer(t, make([]int16, 160), 16000, &calls, nil)

	p, _ := piper.New(srv.URL)
	for _, text := range []string{"", "   ", "\n\t"} {
		pcm, err := p.Synthesize(context.Background(), text)
		if err != nil {
			t.Fatalf("Synthesize(%q): %v", text, err)
		}
		if len(pcm) != 1600 {
			t.Errorf("Synthesize(%q) = %d samples, want 1600 (0.1 s)", text, len(pcm))
		}
		for i, s := range pcm {
			if s != 0 {
				t.Fatalf("Synthesize(%q) sample %d = %d, want silence", text, i, s)
			}
		}
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server received %d requests for empty text, want 0", n)
	}
}

func TestSynthesizeServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice not loaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p, _ := piper.New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for HTTP 503, got nil")
	}
}

func TestSynthesizeRejectsNonWAVResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not audio</html>"))
	}))
	t.Cleanup(srv.Close)

	p, _ := piper.New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-WAV response, got nil")
	}
}

func TestSynthesizeCancelledContext(t *testing.T) {
	srv := newPiperServer(t, make([]int16, 160), 16000, nil, nil)
	p, _ := piper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Synthesize(ctx, "hello"); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
