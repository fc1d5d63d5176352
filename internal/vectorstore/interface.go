// Package vectorstore provides the authoritative store for embedded content.
//
// Two backends are available: an embedded chromem-go database (default, no
// external service) and an external Qdrant instance reached over gRPC. Both
// store the same record shape: content, an embedding, and enough metadata to
// reconstruct a mirror record without consulting the mirror store.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrNotFound is returned when a record or collection does not exist.
	ErrNotFound = errors.New("vector record not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embedding")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// Payload keys every stored vector carries. RecordID is the back-reference
// to the owning mirror record and is the join key for reconciliation.
const (
	PayloadRecordID       = "record_id"
	PayloadTitle          = "title"
	PayloadCollectionType = "collection_type"
	PayloadFieldName      = "field_name"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorRecord is the persisted form of a segment in the authoritative store.
//
// RecordID references the owning mirror record. A record listed with an
// empty RecordID is malformed: reconciliation reports it instead of silently
// dropping it.
type VectorRecord struct {
	ID             string
	Content        string
	RecordID       string
	Title          string
	CollectionType string
	FieldName      string
}

// SearchResult pairs a record with its cosine distance to the query
// (0 = identical).
type SearchResult struct {
	Record   VectorRecord
	Distance float32
}

// Store is the authoritative vector store interface.
type Store interface {
	// EnsureCollection creates the backing collection if missing. Idempotent.
	EnsureCollection(ctx context.Context) error

	// Insert embeds rec.Content and stores it, returning the store-assigned id.
	Insert(ctx context.Context, rec *VectorRecord) (string, error)

	// Delete removes records by their store-assigned ids.
	Delete(ctx context.Context, ids []string) error

	// DeleteByRecordID removes every record whose RecordID matches.
	DeleteByRecordID(ctx context.Context, recordID string) error

	// List returns a full snapshot of all records, payload included. The
	// reconciler's diff needs global visibility, so no paging is offered.
	List(ctx context.Context) ([]*VectorRecord, error)

	// Search returns up to k results ordered by ascending distance, dropping
	// results whose distance exceeds threshold (threshold <= 0 disables the
	// cut-off).
	Search(ctx context.Context, query string, k int, threshold float32) ([]SearchResult, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
