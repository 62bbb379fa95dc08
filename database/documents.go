package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a document does not exist or belongs to a
// different owner. Callers must not be able to tell the two cases apart.
var ErrNotFound = errors.New("document not found")

const (
	StatusProcessed = "processed"
	StatusPending   = "pending"
)

// Document is one uploaded course material. Only the processed flag is ever
// mutated after creation.
type Document struct {
	ID          string
	OwnerID     string
	CourseID    string
	Filename    string
	FileType    string
	FileSize    int64
	TextPreview string
	ChunkCount  int
	Processed   bool
	UploadedAt  time.Time
}

func (d Document) Status() string {
	if d.Processed {
		return StatusProcessed
	}
	return StatusPending
}

// DocumentStore persists course material metadata rows in Postgres.
type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

func (s *DocumentStore) Insert(ctx context.Context, doc Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO course_materials (id, owner_id, course_id, filename, file_type, file_size, text_preview, chunk_count, processed, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, doc.ID, doc.OwnerID, doc.CourseID, doc.Filename, doc.FileType, doc.FileSize, doc.TextPreview, doc.ChunkCount, doc.Processed, doc.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert course material: %w", err)
	}
	return nil
}

func (s *DocumentStore) ListByOwner(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, course_id, filename, file_type, file_size, text_preview, chunk_count, processed, uploaded_at
		FROM course_materials
		WHERE owner_id = $1
		ORDER BY uploaded_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list course materials: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.CourseID, &doc.Filename, &doc.FileType, &doc.FileSize, &doc.TextPreview, &doc.ChunkCount, &doc.Processed, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan course material: %w", err)
		}
		docs = append(docs, doc)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return docs, nil
}

func (s *DocumentStore) Get(ctx context.Context, ownerID, id string) (*Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, course_id, filename, file_type, file_size, text_preview, chunk_count, processed, uploaded_at
		FROM course_materials
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id).Scan(&doc.ID, &doc.OwnerID, &doc.CourseID, &doc.Filename, &doc.FileType, &doc.FileSize, &doc.TextPreview, &doc.ChunkCount, &doc.Processed, &doc.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get course material: %w", err)
	}
	return &doc, nil
}

func (s *DocumentStore) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM course_materials WHERE owner_id = $1 AND id = $2", ownerID, id)
	if err != nil {
		return fmt.Errorf("delete course material: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
