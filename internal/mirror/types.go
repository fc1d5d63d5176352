// Package mirror provides the secondary metadata store kept convergent with
// the authoritative vector store.
//
// Records carry the full text and free-form metadata of each stored segment
// plus a nullable reference to the corresponding vector-store entry. The
// reconciler reads full snapshots from this store; the materializer writes
// through it.
package mirror

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for mirror store operations.
var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord indicates a record that cannot be persisted.
	ErrInvalidRecord = errors.New("invalid record")
)

// Metadata keys used for chunk-group linkage. A record belonging to a group
// carries all of them; a standalone record carries none.
const (
	MetaIsChunk       = "isChunk"
	MetaChunkIndex    = "chunkIndex"
	MetaTotalChunks   = "totalChunks"
	MetaStartOffset   = "startOffset"
	MetaEndOffset     = "endOffset"
	MetaOriginalTitle = "originalTitle"
	MetaParentID      = "parentId"
)

// Record is the persisted form of a chunk or whole document in the mirror
// store.
//
// VectorRef points at the corresponding entry in the authoritative store; an
// empty VectorRef means the embedding was not yet created or its creation
// failed, which is a valid transient state the reconciler repairs.
type Record struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	VectorRef    string         `json:"vectorRef,omitempty"`
	RelationType string         `json:"relationType,omitempty"`
	RelationID   string         `json:"relationId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// IsChunk reports whether the record is part of a chunk group.
func (r *Record) IsChunk() bool {
	v, ok := r.Metadata[MetaIsChunk]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// ParentID returns the group anchor's id, or "" for an anchor or a
// standalone record.
func (r *Record) ParentID() string {
	v, ok := r.Metadata[MetaParentID]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ChunkIndex returns the record's position within its group, or 0 when the
// record carries no chunk metadata.
func (r *Record) ChunkIndex() int {
	return metaInt(r.Metadata, MetaChunkIndex)
}

// TotalChunks returns the group size recorded on the record, or 0.
func (r *Record) TotalChunks() int {
	return metaInt(r.Metadata, MetaTotalChunks)
}

// OriginalTitle returns the pre-chunking document title, falling back to the
// record title for standalone records.
func (r *Record) OriginalTitle() string {
	if v, ok := r.Metadata[MetaOriginalTitle]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return r.Title
}

// metaInt reads an integer metadata value, tolerating the float64 that
// JSON round-trips produce.
func metaInt(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Store is the mirror store interface.
//
// Create and Update return the persisted record so callers see the
// assigned id and timestamps without a follow-up Get. List returns a full
// snapshot: the reconciler's diff needs global visibility to detect
// orphans, so no paging is offered. ListByParent finds all group members
// referencing a given anchor via a metadata match.
type Store interface {
	Create(ctx context.Context, rec *Record) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, rec *Record) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Record, error)
	ListByParent(ctx context.Context, parentID string) ([]*Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
