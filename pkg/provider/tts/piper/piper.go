// Package piper provides a tts.Synthesizer backed by a Piper HTTP server.
//
// Piper (github.com/rhasspy/piper) ships a small HTTP server
// (python -m piper.http_server) that accepts plain text and responds with a
// WAV file at the voice's native sample rate, 22 050 Hz for the medium
// quality voices. The provider decodes the WAV and resamples to the
// pipeline's fixed 16 kHz mono format.
//
// Usage:
//
//	p, err := piper.New("http://localhost:5000")
//	pcm, err := p.Synthesize(ctx, "Added milk to your grocery list.")
package piper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hearthware/auricle/pkg/audio"
	"github.com/hearthware/auricle/pkg/provider/tts"
)

const defaultTimeout = 30 * time.Second

// Compile-time assertion that Provider implements tts.Synthesizer.
var _ tts.Synthesizer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout for calls to the Piper
// server. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithSpeaker selects a speaker of a multi-speaker voice model, forwarded as
// the speaker_id query parameter. Empty (the default) uses the model's
// default speaker.
func WithSpeaker(speaker string) Option {
	return func(p *Provider) {
		p.speaker = speaker
	}
}

// Provider implements tts.Synthesizer backed by a locally-running Piper HTTP
// server. It is stateless between calls and safe for concurrent use.
type Provider struct {
	serverURL  string
	speaker    string
	httpClient *http.Client
}

// New creates a Provider that targets the Piper server at serverURL
// (e.g., "http://localhost:5000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("piper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize POSTs text to the Piper server and returns the decoded,
// resampled PCM. Empty or whitespace-only text returns 0.1 s of silence
// without contacting the server.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]int16, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Silence(100 * time.Millisecond), nil
	}

	endpoint := p.serverURL + "/"
	if p.speaker != "" {
		endpoint += "?speaker_id=" + url.QueryEscape(p.speaker)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("piper: create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("piper: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: server returned HTTP %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("piper: read WAV response: %w", err)
	}

	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("piper: %w", err)
	}
	if rate != audio.SampleRate {
		pcm = audio.Resample(pcm, rate, audio.SampleRate)
	}
	return pcm, nil
}
