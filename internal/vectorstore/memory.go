package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/chatforge/ragpipe/internal/model"
	apperrors "github.com/chatforge/ragpipe/internal/pkg/errors"
)

// StatusResolver reports a document's status so the memory store can honor
// status filters the way the Postgres store does via its join.
type StatusResolver interface {
	DocumentStatus(ctx context.Context, tenantID, documentID string) (model.DocumentStatus, error)
}

// MemoryStore is a brute-force cosine store keyed by tenant. Used in tests and
// single-process deployments without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	dims     int
	tenants  map[string]map[string]Entry
	resolver StatusResolver
}

func NewMemoryStore(dims int, resolver StatusResolver) *MemoryStore {
	return &MemoryStore{
		dims:     dims,
		tenants:  make(map[string]map[string]Entry),
		resolver: resolver,
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, tenantID string, entries []Entry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	collection := s.tenants[tenantID]
	if collection == nil {
		collection = make(map[string]Entry)
		s.tenants[tenantID] = collection
	}
	for _, entry := range entries {
		if s.dims > 0 && len(entry.Vector) != s.dims {
			return fmt.Errorf("%w: entry %s has %d dims, collection expects %d",
				apperrors.ErrDimensionMismatch, entry.ID, len(entry.Vector), s.dims)
		}
		collection[entry.ID] = entry
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, tenantID string, vector []float32, k int, threshold float32, filter SearchFilter) ([]Match, error) {
	s.mu.RLock()
	collection := s.tenants[tenantID]
	entries := make([]Entry, 0, len(collection))
	for _, entry := range collection {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	allowed := func(documentID string) (bool, error) {
		if len(filter.Statuses) == 0 || s.resolver == nil {
			return true, nil
		}
		status, err := s.resolver.DocumentStatus(ctx, tenantID, documentID)
		if err != nil {
			return false, err
		}
		for _, want := range filter.Statuses {
			if status == want {
				return true, nil
			}
		}
		return false, nil
	}

	var matches []Match
	for _, entry := range entries {
		ok, err := allowed(entry.Meta.DocumentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		score := cosineSimilarity(vector, entry.Vector)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{ID: entry.ID, Score: score, Text: entry.Text, Meta: entry.Meta})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Meta.ChunkIndex < matches[j].Meta.ChunkIndex
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.tenants[tenantID] {
		if entry.Meta.DocumentID == documentID {
			delete(s.tenants[tenantID], id)
		}
	}
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ Store = (*MemoryStore)(nil)
