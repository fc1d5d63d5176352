// Package materializer turns logical documents into mirror records and
// vector records. Long content is chunked before writing; each chunk becomes
// a mirror record linked to the group anchor plus a best-effort vector write.
package materializer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirrord/internal/chunker"
	"github.com/fyrsmithlabs/mirrord/internal/mirror"
	"github.com/fyrsmithlabs/mirrord/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/mirrord/internal/materializer"

var (
	// ErrClosed is returned when the service has been closed.
	ErrClosed = errors.New("materializer service is closed")

	// ErrInvalidDocument indicates a document missing required fields.
	ErrInvalidDocument = errors.New("invalid document")
)

// Document is the logical unit of ingestion.
type Document struct {
	// ID is an optional explicit id for the record (or group anchor).
	ID string `json:"id,omitempty"`

	Title   string `json:"title"`
	Content string `json:"content"`

	// CollectionType and FieldName identify the source of the content.
	CollectionType string `json:"collectionType,omitempty"`
	FieldName      string `json:"fieldName,omitempty"`

	// Metadata is merged into every written mirror record.
	Metadata map[string]any `json:"metadata,omitempty"`

	// DisableChunking stores the content as a single record regardless of
	// length.
	DisableChunking bool `json:"-"`
}

// Result reports what a materialization wrote.
type Result struct {
	// Anchor is the group anchor (or the single record for short content).
	Anchor *mirror.Record `json:"anchor"`

	// Records lists every written mirror record in chunk order.
	Records []*mirror.Record `json:"records"`

	// Chunked reports whether the content was split.
	Chunked bool `json:"chunked"`

	// VectorFailures counts chunks whose embedding write failed and whose
	// mirror record was left without a vector reference.
	VectorFailures int `json:"vectorFailures"`
}

// Service materializes documents into the two stores.
type Service interface {
	// Materialize writes a document, chunking it when needed.
	Materialize(ctx context.Context, doc Document) (*Result, error)

	// Update edits an existing record or group. When the chunking decision
	// is unchanged the affected records are updated in place; otherwise the
	// old group is deleted and the document re-materialized.
	Update(ctx context.Context, id string, doc Document) (*Result, error)

	// DeleteGroup removes a record and every group member it belongs to,
	// vector records first.
	DeleteGroup(ctx context.Context, id string) error

	// Close closes the service.
	Close() error
}

// Config configures the materializer.
type Config struct {
	// MaxChunkSize is the chunk size budget in bytes (default: 4000).
	MaxChunkSize int

	// ChunkOverlap is the overlap carried between chunks (default: 200).
	ChunkOverlap int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxChunkSize: 4000,
		ChunkOverlap: 200,
	}
}

type service struct {
	config  *Config
	chunker *chunker.Chunker
	mirror  mirror.Store
	vectors vectorstore.Store
	logger  *zap.Logger

	tracer             trace.Tracer
	meter              metric.Meter
	materializeCounter metric.Int64Counter
	chunkCounter       metric.Int64Counter
	vectorFailCounter  metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a materializer service.
func NewService(cfg *Config, mirrorStore mirror.Store, vectors vectorstore.Store, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if mirrorStore == nil {
		return nil, errors.New("mirror store is required")
	}
	if vectors == nil {
		return nil, errors.New("vector store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config: cfg,
		chunker: chunker.New(
			chunker.WithMaxSize(cfg.MaxChunkSize),
			chunker.WithOverlap(cfg.ChunkOverlap),
		),
		mirror:  mirrorStore,
		vectors: vectors,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.materializeCounter, err = s.meter.Int64Counter(
		"mirrord.materializer.documents_total",
		metric.WithDescription("Total number of documents materialized"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		s.logger.Warn("failed to create materialize counter", zap.Error(err))
	}

	s.chunkCounter, err = s.meter.Int64Counter(
		"mirrord.materializer.chunks_total",
		metric.WithDescription("Total number of chunks written"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		s.logger.Warn("failed to create chunk counter", zap.Error(err))
	}

	s.vectorFailCounter, err = s.meter.Int64Counter(
		"mirrord.materializer.vector_failures_total",
		metric.WithDescription("Total number of failed embedding writes"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		s.logger.Warn("failed to create vector failure counter", zap.Error(err))
	}
}

func (s *service) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Materialize writes a document, chunking it when needed.
func (s *service) Materialize(ctx context.Context, doc Document) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "materializer.Materialize")
	defer span.End()

	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if err := validateDocument(doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	chunks := s.chunkDocument(doc)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: content is empty", ErrInvalidDocument)
	}

	span.SetAttributes(
		attribute.String("title", doc.Title),
		attribute.Int("chunk_count", len(chunks)),
	)

	var result *Result
	var err error
	if len(chunks) == 1 {
		result, err = s.materializeSingle(ctx, doc, chunks[0])
	} else {
		result, err = s.materializeGroup(ctx, doc, chunks)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.materializeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("chunked", result.Chunked),
	))
	s.chunkCounter.Add(ctx, int64(len(result.Records)))

	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// chunkDocument splits the document content, honoring the opt-out.
func (s *service) chunkDocument(doc Document) []chunker.Chunk {
	if doc.DisableChunking {
		return chunker.Single(doc.Content)
	}
	return s.chunker.Chunk(doc.Content)
}

// materializeSingle writes a short document as one record without chunk
// metadata.
func (s *service) materializeSingle(ctx context.Context, doc Document, chunk chunker.Chunk) (*Result, error) {
	rec := &mirror.Record{
		ID:           doc.ID,
		Title:        doc.Title,
		Content:      chunk.Text,
		Metadata:     cloneMetadata(doc.Metadata),
		RelationType: doc.CollectionType,
	}
	created, err := s.mirror.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("creating mirror record: %w", err)
	}

	failures := 0
	if !s.writeVector(ctx, created, chunk.Text, doc) {
		failures++
	}

	return &Result{
		Anchor:         created,
		Records:        []*mirror.Record{created},
		Chunked:        false,
		VectorFailures: failures,
	}, nil
}

// materializeGroup writes chunked content. Chunk 0 is written first and
// becomes the anchor; later chunks always carry its id as parent.
func (s *service) materializeGroup(ctx context.Context, doc Document, chunks []chunker.Chunk) (*Result, error) {
	total := len(chunks)
	result := &Result{Chunked: true}

	var anchorID string
	for _, chunk := range chunks {
		rec := &mirror.Record{
			Title:        partTitle(doc.Title, chunk.Index, total),
			Content:      chunk.Text,
			Metadata:     chunkMetadata(doc, chunk, anchorID),
			RelationType: doc.CollectionType,
		}
		if chunk.Index == 0 {
			rec.ID = doc.ID
		}

		created, err := s.mirror.Create(ctx, rec)
		if err != nil {
			if chunk.Index == 0 {
				// Without an anchor the rest of the group cannot be linked.
				return nil, fmt.Errorf("creating group anchor: %w", err)
			}
			s.logger.Error("failed to create chunk mirror record",
				zap.String("title", rec.Title),
				zap.Int("chunk_index", chunk.Index),
				zap.Error(err),
			)
			continue
		}
		if chunk.Index == 0 {
			anchorID = created.ID
			result.Anchor = created
		}
		result.Records = append(result.Records, created)

		if !s.writeVector(ctx, created, chunk.Text, doc) {
			result.VectorFailures++
		}
	}

	return result, nil
}

// writeVector embeds content and links the vector back to the mirror record.
// A failure leaves the record without a vector reference and returns false.
func (s *service) writeVector(ctx context.Context, rec *mirror.Record, content string, doc Document) bool {
	vectorID, err := s.vectors.Insert(ctx, &vectorstore.VectorRecord{
		Content:        content,
		RecordID:       rec.ID,
		Title:          rec.Title,
		CollectionType: doc.CollectionType,
		FieldName:      doc.FieldName,
	})
	if err != nil {
		s.vectorFailCounter.Add(ctx, 1)
		s.logger.Error("embedding write failed, mirror record left without vector ref",
			zap.String("record_id", rec.ID),
			zap.String("title", rec.Title),
			zap.Error(err),
		)
		return false
	}

	rec.VectorRef = vectorID
	if _, err := s.mirror.Update(ctx, rec); err != nil {
		s.logger.Error("failed to save vector ref on mirror record",
			zap.String("record_id", rec.ID),
			zap.String("vector_id", vectorID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Update edits an existing record or group.
func (s *service) Update(ctx context.Context, id string, doc Document) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "materializer.Update")
	defer span.End()

	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if err := validateDocument(doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("id", id))

	existing, err := s.mirror.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	anchor, members, err := s.resolveGroup(ctx, existing)
	if err != nil {
		return nil, err
	}

	chunks := s.chunkDocument(doc)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: content is empty", ErrInvalidDocument)
	}

	// Chunk boundaries are not stable under arbitrary edits: only an update
	// that keeps the same shape (same number of members) is done in place.
	if len(chunks) == len(members) {
		result, err := s.updateInPlace(ctx, doc, members, chunks)
		if err == nil {
			span.SetStatus(codes.Ok, "success")
			return result, nil
		}
		s.logger.Warn("in-place update failed, re-materializing group",
			zap.String("id", id),
			zap.Error(err),
		)
	}

	if err := s.deleteMembers(ctx, members); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("deleting old group: %w", err)
	}
	doc.ID = anchor.ID
	result, err := s.Materialize(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// updateInPlace rewrites each member's content and vector, preserving the
// group linkage and part-title suffixes.
func (s *service) updateInPlace(ctx context.Context, doc Document, members []*mirror.Record, chunks []chunker.Chunk) (*Result, error) {
	total := len(chunks)
	result := &Result{Chunked: total > 1}

	for i, member := range members {
		chunk := chunks[i]

		if total > 1 {
			member.Title = partTitle(doc.Title, chunk.Index, total)
			if member.Metadata == nil {
				member.Metadata = make(map[string]any)
			}
			member.Metadata[mirror.MetaChunkIndex] = chunk.Index
			member.Metadata[mirror.MetaTotalChunks] = total
			member.Metadata[mirror.MetaStartOffset] = chunk.StartOffset
			member.Metadata[mirror.MetaEndOffset] = chunk.EndOffset
			member.Metadata[mirror.MetaOriginalTitle] = doc.Title
		} else {
			member.Title = doc.Title
		}
		member.Content = chunk.Text

		// Replace the vector before saving the new reference.
		if member.VectorRef != "" {
			if err := s.vectors.Delete(ctx, []string{member.VectorRef}); err != nil {
				s.logger.Warn("failed to delete stale vector record",
					zap.String("vector_id", member.VectorRef),
					zap.Error(err),
				)
			}
			member.VectorRef = ""
		}

		updated, err := s.mirror.Update(ctx, member)
		if err != nil {
			return nil, fmt.Errorf("updating mirror record %s: %w", member.ID, err)
		}
		result.Records = append(result.Records, updated)
		if i == 0 {
			result.Anchor = updated
		}

		if !s.writeVector(ctx, updated, chunk.Text, doc) {
			result.VectorFailures++
		}
	}

	return result, nil
}

// DeleteGroup removes a record and every group member it belongs to.
func (s *service) DeleteGroup(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "materializer.DeleteGroup")
	defer span.End()

	if err := s.checkClosed(); err != nil {
		return err
	}

	span.SetAttributes(attribute.String("id", id))

	rec, err := s.mirror.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, members, err := s.resolveGroup(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := s.deleteMembers(ctx, members); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.Int("deleted", len(members)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// resolveGroup finds the anchor for a record and collects every member,
// anchor first, children in chunk order. A record with no parent may still
// anchor a group, so children are always looked up.
func (s *service) resolveGroup(ctx context.Context, rec *mirror.Record) (*mirror.Record, []*mirror.Record, error) {
	anchor := rec
	if parentID := rec.ParentID(); parentID != "" {
		parent, err := s.mirror.Get(ctx, parentID)
		switch {
		case err == nil:
			anchor = parent
		case errors.Is(err, mirror.ErrNotFound):
			s.logger.Warn("group anchor missing, treating record as anchor",
				zap.String("record_id", rec.ID),
				zap.String("parent_id", parentID),
			)
		default:
			return nil, nil, fmt.Errorf("resolving anchor %s: %w", parentID, err)
		}
	}

	children, err := s.mirror.ListByParent(ctx, anchor.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing group members: %w", err)
	}

	members := make([]*mirror.Record, 0, len(children)+1)
	members = append(members, anchor)
	members = append(members, children...)
	return anchor, members, nil
}

// deleteMembers removes each member's vector record before its mirror
// record. Vector deletion failures are logged and tolerated.
func (s *service) deleteMembers(ctx context.Context, members []*mirror.Record) error {
	for _, member := range members {
		if err := s.vectors.DeleteByRecordID(ctx, member.ID); err != nil {
			s.logger.Warn("failed to delete vector records for member",
				zap.String("record_id", member.ID),
				zap.Error(err),
			)
		}
		if err := s.mirror.Delete(ctx, member.ID); err != nil && !errors.Is(err, mirror.ErrNotFound) {
			return fmt.Errorf("deleting mirror record %s: %w", member.ID, err)
		}
	}
	return nil
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("materializer service closed")
	return nil
}

// partTitle builds the 1-based part suffix for chunked records.
func partTitle(title string, index, total int) string {
	return fmt.Sprintf("%s [Part %d/%d]", title, index+1, total)
}

// chunkMetadata builds the metadata for a chunk record. Chunk 0 has no
// parent; every later chunk references the anchor.
func chunkMetadata(doc Document, chunk chunker.Chunk, anchorID string) map[string]any {
	meta := cloneMetadata(doc.Metadata)
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[mirror.MetaIsChunk] = true
	meta[mirror.MetaChunkIndex] = chunk.Index
	meta[mirror.MetaTotalChunks] = chunk.TotalChunks
	meta[mirror.MetaStartOffset] = chunk.StartOffset
	meta[mirror.MetaEndOffset] = chunk.EndOffset
	meta[mirror.MetaOriginalTitle] = doc.Title
	if chunk.Index > 0 {
		meta[mirror.MetaParentID] = anchorID
	}
	return meta
}

func cloneMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func validateDocument(doc Document) error {
	if strings.TrimSpace(doc.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidDocument)
	}
	return nil
}
