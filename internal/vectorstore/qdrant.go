package vectorstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	qdrantclient "github.com/fyrsmithlabs/mirrord/internal/qdrant"
)

var qdrantTracer = otel.Tracer("mirrord.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant-backed store.
type QdrantConfig struct {
	// Collection is the collection name. Default: "mirrord_records".
	Collection string

	// VectorSize is the embedding dimension. Default: 1536.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "mirrord_records"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore implements the Store interface against an external Qdrant
// instance. The gRPC client handles retries for transient failures.
type QdrantStore struct {
	client   qdrantclient.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore creates a QdrantStore using an established client.
func NewQdrantStore(config QdrantConfig, client qdrantclient.Client, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: qdrant client is required", ErrInvalidConfig)
	}
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

	return &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// EnsureCollection creates the backing collection if missing. Idempotent.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()

	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}

	if err := s.client.CreateCollection(ctx, s.config.Collection, uint64(s.config.VectorSize)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	s.logger.Info("created qdrant collection",
		zap.String("collection", s.config.Collection),
		zap.Int("vector_size", s.config.VectorSize),
	)
	return nil
}

// Insert embeds rec.Content and upserts it under a fresh point id.
func (s *QdrantStore) Insert(ctx context.Context, rec *VectorRecord) (string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
	defer span.End()

	if rec == nil || rec.Content == "" {
		return "", fmt.Errorf("%w: record content is required", ErrInvalidConfig)
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

	point := &qdrantclient.Point{
		ID:     id,
		Vector: embeddings[0],
		Payload: map[string]any{
			PayloadRecordID:       rec.RecordID,
			PayloadTitle:          rec.Title,
			PayloadCollectionType: rec.CollectionType,
			PayloadFieldName:      rec.FieldName,
			"content":             rec.Content,
		},
	}

	if err := s.client.Upsert(ctx, s.config.Collection, []*qdrantclient.Point{point}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("upserting point: %w", err)
	}

	span.SetAttributes(attribute.String("id", id))
	span.SetStatus(codes.Ok, "success")
	return id, nil
}

// Delete removes records by their store-assigned point ids.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	if err := s.client.Delete(ctx, s.config.Collection, ids); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByRecordID removes every point whose record_id payload matches.
func (s *QdrantStore) DeleteByRecordID(ctx context.Context, recordID string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByRecordID")
	defer span.End()

	span.SetAttributes(attribute.String("record_id", recordID))

	if recordID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidConfig)
	}
	if err := s.client.DeleteByField(ctx, s.config.Collection, PayloadRecordID, recordID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting by record id %s: %w", recordID, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// List returns a full snapshot of all records by scrolling the collection.
func (s *QdrantStore) List(ctx context.Context) ([]*VectorRecord, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.List")
	defer span.End()

	points, err := s.client.Scroll(ctx, s.config.Collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scrolling collection %s: %w", s.config.Collection, err)
	}

	records := make([]*VectorRecord, len(points))
	for i, p := range points {
		records[i] = recordFromPayload(p.ID, p.Payload)
	}

	span.SetAttributes(attribute.Int("count", len(records)))
	span.SetStatus(codes.Ok, "success")
	return records, nil
}

// Search returns up to k results ordered by ascending distance.
func (s *QdrantStore) Search(ctx context.Context, query string, k int, threshold float32) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(attribute.Int("k", k))

	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	scored, err := s.client.Search(ctx, s.config.Collection, vector, uint64(k))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	// Qdrant returns cosine similarity scores, highest first.
	results := make([]SearchResult, 0, len(scored))
	for _, sp := range scored {
		distance := 1 - sp.Score
		if threshold > 0 && distance > threshold {
			continue
		}
		results = append(results, SearchResult{
			Record:   *recordFromPayload(sp.ID, sp.Payload),
			Distance: distance,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Count returns the number of stored records.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Count")
	defer span.End()

	count, err := s.client.Count(ctx, s.config.Collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("counting collection %s: %w", s.config.Collection, err)
	}
	return int(count), nil
}

// Close closes the underlying client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// recordFromPayload rebuilds a VectorRecord from a point payload.
func recordFromPayload(id string, payload map[string]any) *VectorRecord {
	rec := &VectorRecord{ID: id}
	if v, ok := payload[PayloadRecordID].(string); ok {
		rec.RecordID = v
	}
	if v, ok := payload[PayloadTitle].(string); ok {
		rec.Title = v
	}
	if v, ok := payload[PayloadCollectionType].(string); ok {
		rec.CollectionType = v
	}
	if v, ok := payload[PayloadFieldName].(string); ok {
		rec.FieldName = v
	}
	if v, ok := payload["content"].(string); ok {
		rec.Content = v
	}
	return rec
}
