package vectorindex

import (
	"context"
	"errors"
	"testing"
)

func TestPostgresIndexUnavailableBeforeReady(t *testing.T) {
	index := NewPostgresIndex(nil, 3)

	if err := index.Upsert(context.Background(), []Entry{{ID: "x"}}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Upsert before EnsureReady: got %v", err)
	}
	if _, err := index.Query(context.Background(), []float32{1, 0, 0}, "u1", 3); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Query before EnsureReady: got %v", err)
	}
	if err := index.DeleteDocument(context.Background(), "u1", "d1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("DeleteDocument before EnsureReady: got %v", err)
	}
}

func TestPostgresIndexRejectsZeroDimension(t *testing.T) {
	index := NewPostgresIndex(nil, 0)

	if err := index.EnsureReady(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for zero dimension, got %v", err)
	}
}
