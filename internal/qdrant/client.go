// Package qdrant wraps the official Qdrant gRPC client behind a narrow
// interface with retries and payload conversion.
package qdrant

import (
	"context"
)

// Client is the subset of Qdrant operations mirrord needs.
type Client interface {
	// Collection operations
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)

	// Point operations
	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64) ([]*ScoredPoint, error)
	Delete(ctx context.Context, collection string, ids []string) error
	DeleteByField(ctx context.Context, collection, field, value string) error

	// Scroll pages through every point in the collection, payloads included.
	Scroll(ctx context.Context, collection string) ([]*Point, error)

	// Count returns the number of points in the collection.
	Count(ctx context.Context, collection string) (uint64, error)

	// Health verifies the connection.
	Health(ctx context.Context) error

	// Close closes the client connection.
	Close() error
}

// Point represents a vector point in Qdrant.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint represents a search result with its similarity score.
type ScoredPoint struct {
	Point
	Score float32
}
