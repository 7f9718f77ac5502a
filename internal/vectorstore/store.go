package vectorstore

import (
	"context"

	"github.com/chatforge/ragpipe/internal/model"
)

// Metadata travels with every vector so retrieval can attribute sources.
type Metadata struct {
	DocumentID  string
	ChunkIndex  int
	SourceTitle string
}

// Entry is one chunk vector to upsert. Re-upserting the same ID replaces it.
type Entry struct {
	ID     string
	Vector []float32
	Text   string
	Meta   Metadata
}

// Match is a search hit, cosine similarity descending, chunk index ascending
// on ties.
type Match struct {
	ID    string
	Score float32
	Text  string
	Meta  Metadata
}

// SearchFilter restricts hits by the owning document's status. Empty means no
// status restriction.
type SearchFilter struct {
	Statuses []model.DocumentStatus
}

// Store owns one isolated collection per tenant. The collection namespace is
// derived from the tenant ID inside the implementation, so cross-tenant reads
// are structurally impossible rather than filter-dependent.
type Store interface {
	Upsert(ctx context.Context, tenantID string, entries []Entry) error
	Search(ctx context.Context, tenantID string, vector []float32, k int, threshold float32, filter SearchFilter) ([]Match, error)
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error
}
