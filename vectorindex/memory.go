package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine similarity index. It backs local
// development and tests; nothing survives a restart.
type MemoryIndex struct {
	dimension int

	mu      sync.RWMutex
	ready   bool
	entries map[string]Entry
}

func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{dimension: dimension}
}

func (s *MemoryIndex) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive", ErrUnavailable)
	}
	if !s.ready {
		s.entries = make(map[string]Entry)
		s.ready = true
	}
	return nil
}

func (s *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrUnavailable
	}

	for _, entry := range entries {
		if len(entry.Vector) != s.dimension {
			return fmt.Errorf("entry %s: vector dimension mismatch: expected %d, got %d", entry.ID, s.dimension, len(entry.Vector))
		}
		s.entries[entry.ID] = entry
	}
	return nil
}

func (s *MemoryIndex) Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return nil, ErrUnavailable
	}
	if topK <= 0 {
		topK = 3
	}

	matches := make([]Match, 0)
	for _, entry := range s.entries {
		if entry.Metadata.OwnerID != ownerID {
			continue
		}
		matches = append(matches, Match{Metadata: entry.Metadata, Score: cosineSimilarity(vector, entry.Vector)})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func (s *MemoryIndex) DeleteDocument(ctx context.Context, ownerID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrUnavailable
	}

	for id, entry := range s.entries {
		if entry.Metadata.OwnerID == ownerID && entry.Metadata.DocumentID == documentID {
			delete(s.entries, id)
		}
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Index = (*MemoryIndex)(nil)
