package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresIndex stores embeddings in a pgvector table. Deterministic entry ids
// make re-ingesting a document an overwrite instead of a duplication.
type PostgresIndex struct {
	pool      *pgxpool.Pool
	dimension int

	mu    sync.Mutex
	ready bool
}

func NewPostgresIndex(pool *pgxpool.Pool, dimension int) *PostgresIndex {
	return &PostgresIndex{pool: pool, dimension: dimension}
}

func (s *PostgresIndex) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if s.dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive", ErrUnavailable)
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS material_vectors (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			ingested_at TIMESTAMPTZ NOT NULL
		)`, s.dimension),
		"CREATE INDEX IF NOT EXISTS idx_material_vectors_owner ON material_vectors(owner_id)",
		"CREATE INDEX IF NOT EXISTS idx_material_vectors_document ON material_vectors(owner_id, document_id)",
		"CREATE INDEX IF NOT EXISTS idx_material_vectors_embedding ON material_vectors USING ivfflat (embedding vector_cosine_ops)",
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: execute schema statement: %v", ErrUnavailable, err)
		}
	}

	s.ready = true
	return nil
}

func (s *PostgresIndex) Upsert(ctx context.Context, entries []Entry) error {
	if err := s.requireReady(); err != nil {
		return err
	}

	for start := 0; start < len(entries); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(entries) {
			end = len(entries)
		}

		for _, entry := range entries[start:end] {
			if len(entry.Vector) != s.dimension {
				return fmt.Errorf("entry %s: vector dimension mismatch: expected %d, got %d", entry.ID, s.dimension, len(entry.Vector))
			}
			if _, err := s.pool.Exec(ctx, `
				INSERT INTO material_vectors (id, owner_id, document_id, filename, chunk_index, content, embedding, ingested_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
					owner_id = EXCLUDED.owner_id,
					document_id = EXCLUDED.document_id,
					filename = EXCLUDED.filename,
					chunk_index = EXCLUDED.chunk_index,
					content = EXCLUDED.content,
					embedding = EXCLUDED.embedding,
					ingested_at = EXCLUDED.ingested_at
			`, entry.ID, entry.Metadata.OwnerID, entry.Metadata.DocumentID, entry.Metadata.Filename,
				entry.Metadata.ChunkIndex, entry.Metadata.Text, pgvector.NewVector(entry.Vector), entry.Metadata.IngestedAt); err != nil {
				return fmt.Errorf("upsert entry %s: %w", entry.ID, err)
			}
		}
	}

	return nil
}

func (s *PostgresIndex) Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]Match, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if topK <= 0 {
		topK = 3
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := topK * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT owner_id, document_id, filename, chunk_index, content, ingested_at,
		       1 - (embedding <=> $1::vector) AS score
		FROM material_vectors
		WHERE owner_id = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3
	`, pgvector.NewVector(vector), ownerID, topK)
	if err != nil {
		return nil, fmt.Errorf("query similar vectors: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Metadata.OwnerID, &m.Metadata.DocumentID, &m.Metadata.Filename,
			&m.Metadata.ChunkIndex, &m.Metadata.Text, &m.Metadata.IngestedAt, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return matches, nil
}

func (s *PostgresIndex) DeleteDocument(ctx context.Context, ownerID, documentID string) error {
	if err := s.requireReady(); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, "DELETE FROM material_vectors WHERE owner_id = $1 AND document_id = $2", ownerID, documentID); err != nil {
		return fmt.Errorf("delete document vectors: %w", err)
	}
	return nil
}

func (s *PostgresIndex) requireReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrUnavailable
	}
	return nil
}

var _ Index = (*PostgresIndex)(nil)
