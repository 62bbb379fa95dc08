// Package vectorindex abstracts the similarity-search service holding chunk
// embeddings. Every query is filtered by owner id; an entry must never be
// visible to a different owner.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pberga/coursemind/config"
)

// ErrUnavailable marks the index as unreachable or not yet created. Ingestion
// and search refuse cleanly instead of crashing when they see it.
var ErrUnavailable = errors.New("vector index not available")

// UpsertBatchSize bounds the payload of a single upsert request. Batches are
// not transactional: a mid-batch failure leaves a partially indexed document,
// and callers retry the whole document.
const UpsertBatchSize = 100

// Metadata travels with every stored vector. Text is the verbatim chunk
// content, served back as retrieval context.
type Metadata struct {
	OwnerID    string
	DocumentID string
	Filename   string
	ChunkIndex int
	Text       string
	IngestedAt time.Time
}

type Entry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

type Match struct {
	Metadata Metadata
	Score    float64
}

type Index interface {
	// EnsureReady creates the backing collection if absent. Idempotent and
	// cheap once the index is known to exist.
	EnsureReady(ctx context.Context) error
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]Match, error)
	DeleteDocument(ctx context.Context, ownerID, documentID string) error
}

type Options struct {
	Provider  string
	Dimension int

	PineconeAPIKey     string
	PineconeIndexName  string
	PineconeControlURL string

	Timeout time.Duration
}

func New(cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) (Index, error) {
	opts := Options{
		Provider:           cfg.VectorProvider,
		Dimension:          cfg.Embeddings.Dimension,
		PineconeAPIKey:     cfg.Pinecone.APIKey,
		PineconeIndexName:  cfg.Pinecone.IndexName,
		PineconeControlURL: cfg.Pinecone.ControlURL,
		Timeout:            cfg.RequestTimeout,
	}

	switch opts.Provider {
	case config.ProviderPinecone:
		if opts.PineconeAPIKey == "" {
			return nil, fmt.Errorf("pinecone provider selected but PINECONE_API_KEY not set")
		}
		return NewPineconeIndex(opts, logger), nil
	case config.ProviderPostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres provider selected but no connection pool supplied")
		}
		return NewPostgresIndex(pool, opts.Dimension), nil
	case config.ProviderMemory:
		return NewMemoryIndex(opts.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown vector index provider: %s", opts.Provider)
	}
}
