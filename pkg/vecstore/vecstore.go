// Package vecstore provides similarity search over embedded incident
// vectors.
package vecstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when a vector's length differs from
// the store's established dimension.
var ErrDimensionMismatch = errors.New("vecstore: vector dimension mismatch")

// Document is an embedded payload stored for retrieval.
type Document struct {
	ID     string
	Text   string
	Vector []float32
}

// Match pairs a stored document with its similarity to a query vector.
type Match struct {
	Document Document
	Score    float32
}

// Store indexes documents by embedding vector and retrieves nearest
// neighbors by cosine similarity.
type Store interface {
	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, docs []Document) error

	// Search returns up to limit documents most similar to vector,
	// best first.
	Search(ctx context.Context, vector []float32, limit int) ([]Match, error)

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Len reports the number of stored documents.
	Len() int
}

// MemoryStore is a Store backed by a flat in-process index. Exhaustive
// scan is adequate at sampler-window scale.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
	dim  int
}

// NewMemoryStore creates an empty index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

// Upsert inserts or replaces documents by ID. The first document fixes
// the index dimension.
func (s *MemoryStore) Upsert(_ context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if s.dim == 0 {
			s.dim = len(d.Vector)
		}
		if len(d.Vector) != s.dim {
			return ErrDimensionMismatch
		}
		s.docs[d.ID] = d
	}
	return nil
}

// Search scans the index and returns the limit best cosine matches.
func (s *MemoryStore) Search(_ context.Context, vector []float32, limit int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(vector) != s.dim {
		return nil, ErrDimensionMismatch
	}

	matches := make([]Match, 0, len(s.docs))
	for _, d := range s.docs {
		matches = append(matches, Match{Document: d, Score: Cosine(vector, d.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Document.ID < matches[j].Document.ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Delete removes documents by ID.
func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
	}
	return nil
}

// Len reports the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Cosine computes the cosine similarity of two vectors. Mismatched or
// zero-magnitude inputs score zero.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}
