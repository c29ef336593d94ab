// Package mock provides a test double for the embeddings.Provider interface.
//
// With no scripted result, Embed derives a deterministic pseudo-vector from
// the text itself, so identical texts always map to identical vectors and
// the interaction index behaves sensibly when the mock backend is selected
// in the config. Set EmbedResult or Err to script explicit outcomes, then
// inspect Calls to verify what was submitted.
//
// Example:
//
//	p := &mock.Provider{DimensionsValue: 8}
//	vec, _ := p.Embed(ctx, "watered the plants")
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/hearthware/auricle/pkg/provider/embeddings"
)

// Compile-time assertion that Provider implements embeddings.Provider.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult, if non-nil, is returned by every Embed call and every
	// EmbedBatch element instead of the derived vector.
	EmbedResult []float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// DimensionsValue is returned by Dimensions and sets the length of
	// derived vectors.
	DimensionsValue int

	// ModelIDValue is returned by ModelID. Empty means "mock".
	ModelIDValue string

	// Calls records every text submitted through Embed or EmbedBatch,
	// in order.
	Calls []string
}

// Embed records the call and returns the scripted or derived vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, text)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.EmbedResult != nil {
		return p.EmbedResult, nil
	}
	return derive(text, p.DimensionsValue), nil
}

// EmbedBatch records every text and returns one vector per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	result := make([][]float32, len(texts))
	for i, text := range texts {
		if p.EmbedResult != nil {
			result[i] = p.EmbedResult
			continue
		}
		result[i] = derive(text, p.DimensionsValue)
	}
	return result, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue, or "mock" when unset.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelIDValue == "" {
		return "mock"
	}
	return p.ModelIDValue
}

// Reset clears the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// derive hashes the text into dims pseudo-random components in [-1, 1).
// The same text always derives the same vector.
func derive(text string, dims int) []float32 {
	out := make([]float32, dims)
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()
	for i := range out {
		state = state*6364136223846793005 + 1442695040888963407
		out[i] = float32(int32(state>>32)) / (1 << 31)
	}
	return out
}
