package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pberga/coursemind/database"
	"github.com/pberga/coursemind/embeddings"
	"github.com/pberga/coursemind/vectorindex"
)

// MaxUploadBytes bounds accepted document size.
const MaxUploadBytes = 10 << 20

// textPreviewLimit bounds how much extracted text the metadata row keeps for
// quick previews; the full text lives only as chunk metadata in the index.
const textPreviewLimit = 5000

var (
	ErrEmptyFile       = errors.New("uploaded file is empty")
	ErrFileTooLarge    = fmt.Errorf("file too large, maximum size is %d MiB", MaxUploadBytes>>20)
	ErrUnsupportedType = errors.New("only PDF files are supported")
)

// MetadataStore persists the relational side of an ingested document.
type MetadataStore interface {
	Insert(ctx context.Context, doc database.Document) error
	Get(ctx context.Context, ownerID, id string) (*database.Document, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type Request struct {
	OwnerID  string
	CourseID string
	Filename string
	Data     []byte
}

// Result summarizes a successful ingestion. Warnings carry per-chunk
// embedding degradations that did not abort the document.
type Result struct {
	DocumentID string
	Filename   string
	ChunkCount int
	TextLength int
	Warnings   []string
}

type Service struct {
	index     vectorindex.Index
	embedder  embeddings.Embedder
	store     MetadataStore
	extractor Extractor
	logger    *slog.Logger

	chunkSize    int
	chunkOverlap int
}

func NewService(index vectorindex.Index, embedder embeddings.Embedder, store MetadataStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		index:        index,
		embedder:     embedder,
		store:        store,
		extractor:    NewExtractor(),
		logger:       logger,
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
	}
}

// WithExtractor swaps the text extractor. Used by tests and by callers that
// support additional formats.
func (s *Service) WithExtractor(extractor Extractor) *Service {
	s.extractor = extractor
	return s
}

// Ingest runs the full pipeline for one document: validate, extract, chunk,
// embed, index, persist metadata. Any failed stage aborts the document; no
// metadata row is written for a failed ingestion.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if req.CourseID == "" {
		return nil, fmt.Errorf("course id is required")
	}
	if len(req.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if len(req.Data) > MaxUploadBytes {
		return nil, ErrFileTooLarge
	}

	format := DetectFormat(req.Filename)
	if format == FormatUnknown {
		return nil, ErrUnsupportedType
	}

	// Check index availability before doing any extraction work.
	if err := s.index.EnsureReady(ctx); err != nil {
		return nil, err
	}

	text, err := s.extractor.Extract(req.Data, format)
	if err != nil {
		if errors.Is(err, ErrNoText) {
			return nil, err
		}
		return nil, fmt.Errorf("extract text: %w", err)
	}

	chunks := ChunkText(text, s.chunkSize, s.chunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrNoText
	}

	batch, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(batch.Vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: have %d chunks, %d vectors", len(chunks), len(batch.Vectors))
	}

	warnings := make([]string, 0, len(batch.Failed))
	for _, idx := range batch.Failed {
		warnings = append(warnings, fmt.Sprintf("embedding degraded for chunk %d, zero vector indexed", idx))
	}

	documentID := uuid.New().String()
	now := time.Now().UTC()

	entries := make([]vectorindex.Entry, 0, len(chunks))
	for idx, chunk := range chunks {
		entries = append(entries, vectorindex.Entry{
			// Deterministic per document: re-ingesting overwrites instead of
			// piling up duplicates.
			ID:     fmt.Sprintf("doc_%s_%d", documentID, idx),
			Vector: batch.Vectors[idx],
			Metadata: vectorindex.Metadata{
				OwnerID:    req.OwnerID,
				DocumentID: documentID,
				Filename:   req.Filename,
				ChunkIndex: idx,
				Text:       chunk,
				IngestedAt: now,
			},
		})
	}

	if err := s.index.Upsert(ctx, entries); err != nil {
		return nil, fmt.Errorf("index document chunks: %w", err)
	}

	preview := text
	if len(preview) > textPreviewLimit {
		cut := textPreviewLimit
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}

	doc := database.Document{
		ID:          documentID,
		OwnerID:     req.OwnerID,
		CourseID:    req.CourseID,
		Filename:    req.Filename,
		FileType:    string(format),
		FileSize:    int64(len(req.Data)),
		TextPreview: preview,
		ChunkCount:  len(chunks),
		Processed:   true,
		UploadedAt:  now,
	}
	if err := s.store.Insert(ctx, doc); err != nil {
		return nil, fmt.Errorf("persist document metadata: %w", err)
	}

	s.logger.Info("ingested document",
		"owner", req.OwnerID,
		"filename", req.Filename,
		"chunks", len(chunks),
		"degraded", len(batch.Failed))

	return &Result{
		DocumentID: documentID,
		Filename:   req.Filename,
		ChunkCount: len(chunks),
		TextLength: len(text),
		Warnings:   warnings,
	}, nil
}

// Delete removes a document's metadata row and its vectors. Vectors go first
// so a partial failure cannot leave searchable chunks behind a deleted row.
func (s *Service) Delete(ctx context.Context, ownerID, documentID string) (*database.Document, error) {
	doc, err := s.store.Get(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}

	if err := s.index.EnsureReady(ctx); err != nil {
		return nil, err
	}
	if err := s.index.DeleteDocument(ctx, ownerID, documentID); err != nil {
		return nil, fmt.Errorf("delete document vectors: %w", err)
	}

	if err := s.store.Delete(ctx, ownerID, documentID); err != nil {
		return nil, err
	}

	s.logger.Info("deleted document", "owner", ownerID, "document", documentID)
	return doc, nil
}
