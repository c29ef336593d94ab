package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/hearthware/auricle/pkg/provider/embeddings"
)

// SemanticIndex embeds finished exchanges into a pgvector column so the
// dashboard can answer free-text recall queries ("what did I ask about the
// thermostat"). Indexing is best-effort: a failed embed loses one search
// hit, never telemetry.
//
// All methods are safe for concurrent use.
type SemanticIndex struct {
	db  DB
	emb embeddings.Provider
}

// NewSemanticIndex creates an index writing through db and embedding with
// emb. Call [SemanticIndex.Migrate] before indexing.
func NewSemanticIndex(db DB, emb embeddings.Provider) *SemanticIndex {
	return &SemanticIndex{db: db, emb: emb}
}

// Migrate creates the vector extension and the embeddings table. The column
// width is fixed to the provider's dimensionality, so switching embedding
// models requires dropping the table.
func (x *SemanticIndex) Migrate(ctx context.Context) error {
	dims := x.emb.Dimensions()
	if dims <= 0 {
		return fmt.Errorf("telemetry: semantic index: provider %s reports %d dimensions", x.emb.ModelID(), dims)
	}
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS exchange_embeddings (
    exchange_id UUID PRIMARY KEY REFERENCES exchanges(id),
    content     TEXT NOT NULL,
    embedding   vector(%d) NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exchange_embeddings_hnsw
    ON exchange_embeddings USING hnsw (embedding vector_cosine_ops);
`, dims)
	if _, err := x.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("telemetry: semantic index: migrate: %w", err)
	}
	return nil
}

// Index embeds the exchange's transcript and response as one document and
// upserts it. Exchanges with neither are skipped.
func (x *SemanticIndex) Index(ctx context.Context, ex *Exchange) error {
	content := indexContent(ex)
	if content == "" {
		return nil
	}
	vec, err := x.emb.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("telemetry: semantic index: embed exchange %s: %w", ex.ID, err)
	}

	const q = `INSERT INTO exchange_embeddings (exchange_id, content, embedding)
VALUES ($1, $2, $3)
ON CONFLICT (exchange_id) DO UPDATE SET
    content   = EXCLUDED.content,
    embedding = EXCLUDED.embedding`
	if _, err := x.db.Exec(ctx, q, ex.ID, content, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("telemetry: semantic index: index exchange %s: %w", ex.ID, err)
	}
	return nil
}

// SearchResult is one semantic recall hit, most similar first.
type SearchResult struct {
	ExchangeID    string    `json:"exchange_id"`
	SessionID     string    `json:"session_id"`
	Transcription string    `json:"transcription"`
	ResponseText  string    `json:"response_text"`
	CreatedAt     time.Time `json:"created_at"`

	// Distance is the cosine distance to the query; smaller is closer.
	Distance float64 `json:"distance"`
}

// Search embeds the query and returns the topK nearest exchanges by cosine
// distance.
func (x *SemanticIndex) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	vec, err := x.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("telemetry: semantic index: embed query: %w", err)
	}

	const q = `SELECT emb.exchange_id, e.session_id,
    COALESCE(e.transcription, ''), COALESCE(e.response_text, ''), e.created_at,
    emb.embedding <=> $1 AS distance
FROM exchange_embeddings emb
JOIN exchanges e ON e.id = emb.exchange_id
ORDER BY distance
LIMIT $2`
	rows, err := x.db.Query(ctx, q, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("telemetry: semantic index: search: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ExchangeID, &r.SessionID, &r.Transcription,
			&r.ResponseText, &r.CreatedAt, &r.Distance); err != nil {
			return nil, fmt.Errorf("telemetry: semantic index: search: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("telemetry: semantic index: search: %w", err)
	}
	return results, nil
}

func indexContent(ex *Exchange) string {
	var parts []string
	if ex.Transcription != "" {
		parts = append(parts, "user: "+ex.Transcription)
	}
	if ex.ResponseText != "" {
		parts = append(parts, "assistant: "+ex.ResponseText)
	}
	return strings.Join(parts, "\n")
}
