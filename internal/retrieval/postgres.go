package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/compliance-intelligence/internal/llm"
	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/repository"
)

// DefaultCandidates bounds how many rows one search scores.
const DefaultCandidates = 2000

// PostgresBackend stores embedded documents in the documents table and
// ranks candidates by cosine similarity.
type PostgresBackend struct {
	db         *sql.DB
	embedder   llm.Embedder
	candidates int
}

// NewPostgresBackend creates a backend. embedder must produce vectors of a
// single dimension for every text.
func NewPostgresBackend(db *sql.DB, embedder llm.Embedder) *PostgresBackend {
	return &PostgresBackend{db: db, embedder: embedder, candidates: DefaultCandidates}
}

type candidate struct {
	text      string
	source    string
	embedding []float32
}

func scanCandidate(s repository.Scanner) (candidate, error) {
	var c candidate
	var raw []byte
	if err := s.Scan(&c.text, &c.source, &raw); err != nil {
		return c, err
	}
	if err := json.Unmarshal(raw, &c.embedding); err != nil {
		return c, fmt.Errorf("decode embedding: %w", err)
	}
	return c, nil
}

// Search implements Backend.
func (b *PostgresBackend) Search(ctx context.Context, query string, k int, filters Filters) ([]model.Snippet, error) {
	vecs, err := b.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, errors.New("embed query: no vector returned")
	}

	filterJSON, err := json.Marshal(filtersOrEmpty(filters))
	if err != nil {
		return nil, fmt.Errorf("marshal filters: %w", err)
	}

	q := `
		SELECT text, source, embedding
		FROM documents
		WHERE metadata @> $1::jsonb
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := repository.QueryMany(ctx, b.db, q, []any{string(filterJSON), b.candidates}, scanCandidate)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	return rank(vecs[0], rows, k), nil
}

// Index implements Backend.
func (b *PostgresBackend) Index(ctx context.Context, doc Document) error {
	vecs, err := b.embedder.Embed(ctx, []string{doc.Text})
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	if len(vecs) != 1 {
		return errors.New("embed document: no vector returned")
	}

	id := doc.ID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	embedding, err := json.Marshal(vecs[0])
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	metadata, err := json.Marshal(filtersOrEmpty(doc.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	q := `
		INSERT INTO documents (id, text, source, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			source = EXCLUDED.source,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`

	if _, err := b.db.ExecContext(ctx, q, id, doc.Text, doc.Source, string(metadata), string(embedding), time.Now().UTC()); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func filtersOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// rank scores candidates against the query vector and returns the top k.
// Candidates whose dimension differs from the query are skipped.
func rank(query []float32, candidates []candidate, k int) []model.Snippet {
	out := make([]model.Snippet, 0, len(candidates))
	for _, c := range candidates {
		score, ok := cosine(query, c.embedding)
		if !ok {
			continue
		}
		out = append(out, model.Snippet{Text: c.text, Source: c.source, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
