package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("mirrord.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/mirrord/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name. Default: "mirrord_records".
	Collection string

	// VectorSize is the embedding dimension. Must match the embedder's
	// output dimension. Default: 1536.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/mirrord/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "mirrord_records"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements the Store interface using chromem-go, an embeddable
// pure-Go vector database with automatic persistence to disk. It needs no
// external service, which makes it the default backend.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("chromem store initialized",
		zap.String("path", expandedPath),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
	)

	return store, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder interface to chromem's EmbeddingFunc.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection() (*chromem.Collection, error) {
	collection := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if collection == nil {
		return nil, ErrNotFound
	}
	return collection, nil
}

// EnsureCollection creates the backing collection if missing. Idempotent.
func (s *ChromemStore) EnsureCollection(ctx context.Context) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.EnsureCollection")
	defer span.End()

	// Must pass the embedding function: chromem-go falls back to its default
	// OpenAI embedder when nil is given for persisted collections.
	_, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("getting/creating collection %s: %w", s.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Insert embeds rec.Content and stores it under a fresh id.
func (s *ChromemStore) Insert(ctx context.Context, rec *VectorRecord) (string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()

	if rec == nil || rec.Content == "" {
		return "", fmt.Errorf("%w: record content is required", ErrInvalidConfig)
	}

	if err := s.EnsureCollection(ctx); err != nil {
		return "", err
	}
	collection, err := s.collection()
	if err != nil {
		return "", err
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, []string{rec.Content})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}

	doc := chromem.Document{
		ID:        id,
		Content:   rec.Content,
		Metadata:  payloadMetadata(rec),
		Embedding: embeddings[0],
	}

	// Concurrency of 1 since the embedding is already computed.
	if err := collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("adding document: %w", err)
	}

	span.SetAttributes(attribute.String("id", id))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("inserted vector record",
		zap.String("id", id),
		zap.String("record_id", rec.RecordID),
	)

	return id, nil
}

// Delete removes records by their store-assigned ids.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	collection, err := s.collection()
	if err != nil {
		return err
	}

	var failures []string
	for _, id := range ids {
		if err := collection.Delete(ctx, nil, nil, id); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to delete vector record",
				zap.String("id", id),
				zap.Error(err),
			)
			failures = append(failures, id)
		}
	}
	if len(failures) > 0 {
		span.SetStatus(codes.Error, "partial deletion failure")
		return fmt.Errorf("failed to delete %d of %d records: %v", len(failures), len(ids), failures)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByRecordID removes every record whose record_id payload matches.
func (s *ChromemStore) DeleteByRecordID(ctx context.Context, recordID string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByRecordID")
	defer span.End()

	span.SetAttributes(attribute.String("record_id", recordID))

	if recordID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidConfig)
	}

	collection, err := s.collection()
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}

	where := map[string]string{PayloadRecordID: recordID}
	if err := collection.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting by record id %s: %w", recordID, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// List returns a full snapshot of all records.
//
// chromem-go exposes no enumeration API, so the snapshot is taken by querying
// with a fixed basis vector and nResults equal to the document count. Cosine
// similarity against the basis vector orders the results, which callers must
// not rely on.
func (s *ChromemStore) List(ctx context.Context) ([]*VectorRecord, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.List")
	defer span.End()

	collection, err := s.collection()
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	count := collection.Count()
	if count == 0 {
		return nil, nil
	}

	basis := make([]float32, s.config.VectorSize)
	basis[0] = 1

	results, err := collection.QueryEmbedding(ctx, basis, count, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collection %s: %w", s.config.Collection, err)
	}

	records := make([]*VectorRecord, len(results))
	for i, r := range results {
		records[i] = recordFromMetadata(r.ID, r.Content, r.Metadata)
	}

	span.SetAttributes(attribute.Int("count", len(records)))
	span.SetStatus(codes.Ok, "success")
	return records, nil
}

// Search returns up to k results ordered by ascending distance.
func (s *ChromemStore) Search(ctx context.Context, query string, k int, threshold float32) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(attribute.Int("k", k))

	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	collection, err := s.collection()
	if err != nil {
		if err == ErrNotFound {
			return []SearchResult{}, nil
		}
		return nil, err
	}

	// chromem requires nResults <= document count.
	docCount := collection.Count()
	if docCount == 0 {
		return []SearchResult{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, r := range results {
		distance := 1 - r.Similarity
		if threshold > 0 && distance > threshold {
			continue
		}
		searchResults = append(searchResults, SearchResult{
			Record:   *recordFromMetadata(r.ID, r.Content, r.Metadata),
			Distance: distance,
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// Count returns the number of stored records.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Count")
	defer span.End()

	collection, err := s.collection()
	if err != nil {
		if err == ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return collection.Count(), nil
}

// Close closes the store. chromem-go persists automatically, so this only
// marks the store closed.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("chromem store closed")
	return nil
}

// payloadMetadata converts a record's payload fields to chromem's string map.
func payloadMetadata(rec *VectorRecord) map[string]string {
	return map[string]string{
		PayloadRecordID:       rec.RecordID,
		PayloadTitle:          rec.Title,
		PayloadCollectionType: rec.CollectionType,
		PayloadFieldName:      rec.FieldName,
	}
}

// recordFromMetadata rebuilds a VectorRecord from stored metadata.
func recordFromMetadata(id, content string, metadata map[string]string) *VectorRecord {
	return &VectorRecord{
		ID:             id,
		Content:        content,
		RecordID:       metadata[PayloadRecordID],
		Title:          metadata[PayloadTitle],
		CollectionType: metadata[PayloadCollectionType],
		FieldName:      metadata[PayloadFieldName],
	}
}
