// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text strings to dense float32 vectors. The
// interaction log uses these vectors for semantic recall: every finished
// voice interaction is embedded and stored alongside its transcript, and
// questions like "what did I ask about the solar panels last week" are
// answered by embedding the query and ranking stored vectors by cosine
// distance. Backends include a local Ollama server (nomic-embed-text) and
// the OpenAI embeddings API.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the
// same dimensionality (returned by Dimensions). Vectors from different Provider
// instances must not be mixed in the same similarity computation unless both
// use the same model: the interaction store records ModelID next to each vector
// so stale rows can be detected after a model change.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails or ctx
	// is cancelled.
	//
	// The input text should be pre-processed according to the model's requirements
	// (e.g., nomic-embed-text expects a "search_query: " prefix for retrieval
	// queries). Callers are responsible for any such formatting; the Provider
	// passes text through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings in a single
	// provider call, which is typically far more efficient than calling Embed in a
	// loop. The returned slice has the same length as texts and the i-th element
	// corresponds to texts[i].
	//
	// Returns an error if any single embedding fails or if ctx is cancelled. Partial
	// results are not returned — on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced by
	// this provider. The interaction store uses it to size the pgvector column,
	// so it must be known (or detectable) before the first insert.
	Dimensions() int

	// ModelID returns the provider-specific model identifier used for embeddings
	// (e.g., "text-embedding-3-small", "nomic-embed-text"). Stored with each
	// vector and logged at startup.
	ModelID() string
}
