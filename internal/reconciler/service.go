// Package reconciler keeps the mirror store convergent with the vector
// store. The vector store is authoritative: records missing from the mirror
// are synthesized from vector content, drifted records are overwritten, and
// mirror records with no vector counterpart are orphans.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirrord/internal/mirror"
	"github.com/fyrsmithlabs/mirrord/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/mirrord/internal/reconciler"

// ErrClosed is returned when the service has been closed.
var ErrClosed = errors.New("reconciler service is closed")

// Options controls one reconciliation run.
type Options struct {
	// RemoveOrphans also deletes mirror records with no vector counterpart.
	RemoveOrphans bool `json:"removeOrphans"`

	// DryRun classifies and reports actions without applying them.
	DryRun bool `json:"dryRun"`
}

// Service reconciles the two stores.
type Service interface {
	// Status reports drift between the stores without changing anything.
	Status(ctx context.Context) (*SyncStatus, error)

	// Reconcile classifies and (unless dry-run) applies corrective actions.
	Reconcile(ctx context.Context, opts Options) (*SyncReport, error)

	// Close closes the service.
	Close() error
}

type service struct {
	vectors vectorstore.Store
	mirror  mirror.Store
	logger  *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	runCounter    metric.Int64Counter
	actionCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a reconciler service.
func NewService(vectors vectorstore.Store, mirrorStore mirror.Store, logger *zap.Logger) (Service, error) {
	if vectors == nil {
		return nil, errors.New("vector store is required")
	}
	if mirrorStore == nil {
		return nil, errors.New("mirror store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		vectors: vectors,
		mirror:  mirrorStore,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.runCounter, err = s.meter.Int64Counter(
		"mirrord.reconciler.runs_total",
		metric.WithDescription("Total number of reconciliation runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn("failed to create run counter", zap.Error(err))
	}

	s.actionCounter, err = s.meter.Int64Counter(
		"mirrord.reconciler.actions_total",
		metric.WithDescription("Total number of reconciliation actions classified"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		s.logger.Warn("failed to create action counter", zap.Error(err))
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

// updatePair links a drifted mirror record to its vector counterpart.
type updatePair struct {
	vector *vectorstore.VectorRecord
	mirror *mirror.Record
}

// diff is the classified difference between two full snapshots.
type diff struct {
	creates []*vectorstore.VectorRecord
	updates []updatePair
	orphans []*mirror.Record
	invalid []string
}

// classify runs the three-way diff over full snapshots. It is a pure
// function of current store content, which is what makes reconciliation
// idempotent.
func classify(vectorRecs []*vectorstore.VectorRecord, mirrorRecs []*mirror.Record) diff {
	var d diff

	vectorByMirrorID := make(map[string]*vectorstore.VectorRecord, len(vectorRecs))
	for _, v := range vectorRecs {
		if v.RecordID == "" {
			d.invalid = append(d.invalid, fmt.Sprintf("vector record %s has no record id back-reference", v.ID))
			continue
		}
		vectorByMirrorID[v.RecordID] = v
	}

	mirrorByID := make(map[string]*mirror.Record, len(mirrorRecs))
	for _, m := range mirrorRecs {
		mirrorByID[m.ID] = m
	}

	for _, v := range vectorRecs {
		if v.RecordID == "" {
			continue
		}
		m, ok := mirrorByID[v.RecordID]
		if !ok {
			d.creates = append(d.creates, v)
			continue
		}
		if m.Title != v.Title || m.Content != v.Content || m.VectorRef == "" {
			d.updates = append(d.updates, updatePair{vector: v, mirror: m})
		}
	}

	for _, m := range mirrorRecs {
		if _, ok := vectorByMirrorID[m.ID]; !ok {
			d.orphans = append(d.orphans, m)
		}
	}

	return d
}

// Status reports drift between the stores without changing anything.
func (s *service) Status(ctx context.Context) (*SyncStatus, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.Status")
	defer span.End()

	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	vectorRecs, mirrorRecs, err := s.snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	d := classify(vectorRecs, mirrorRecs)
	status := &SyncStatus{
		VectorCount:        len(vectorRecs),
		MirrorCount:        len(mirrorRecs),
		MissingInMirror:    len(d.creates),
		MissingInVector:    len(d.orphans),
		ContentDifferences: len(d.updates),
	}
	status.InSync = status.MissingInMirror == 0 &&
		status.MissingInVector == 0 &&
		status.ContentDifferences == 0 &&
		len(d.invalid) == 0

	span.SetAttributes(
		attribute.Int("vector_count", status.VectorCount),
		attribute.Int("mirror_count", status.MirrorCount),
		attribute.Bool("in_sync", status.InSync),
	)
	span.SetStatus(codes.Ok, "success")
	return status, nil
}

// Reconcile classifies and (unless dry-run) applies corrective actions.
func (s *service) Reconcile(ctx context.Context, opts Options) (*SyncReport, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.Reconcile")
	defer span.End()

	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("remove_orphans", opts.RemoveOrphans),
		attribute.Bool("dry_run", opts.DryRun),
	)

	vectorRecs, mirrorRecs, err := s.snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	d := classify(vectorRecs, mirrorRecs)
	builder := newReportBuilder(opts.DryRun, len(vectorRecs), len(mirrorRecs))
	for _, msg := range d.invalid {
		builder.addError("%s", msg)
	}

	// Actions apply in create, update, delete-orphan order. Each failure is
	// recorded and the run continues so one bad record cannot block the
	// convergence of the rest.
	for _, v := range d.creates {
		builder.addCreated(v.RecordID, v.Title)
		if opts.DryRun {
			continue
		}
		if err := s.applyCreate(ctx, v); err != nil {
			builder.addError("creating mirror record %s: %v", v.RecordID, err)
		}
	}

	for _, pair := range d.updates {
		builder.addUpdated(pair.mirror.ID, pair.vector.Title)
		if opts.DryRun {
			continue
		}
		if err := s.applyUpdate(ctx, pair); err != nil {
			builder.addError("updating mirror record %s: %v", pair.mirror.ID, err)
		}
	}

	if opts.RemoveOrphans {
		for _, m := range d.orphans {
			builder.addOrphanRemoved(m.ID, m.Title)
			if opts.DryRun {
				continue
			}
			if err := s.mirror.Delete(ctx, m.ID); err != nil {
				builder.addError("removing orphan %s: %v", m.ID, err)
			}
		}
	}

	report := builder.build()

	s.runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("dry_run", opts.DryRun),
		attribute.Bool("success", report.Success),
	))
	s.actionCounter.Add(ctx, int64(report.Actions.Created), metric.WithAttributes(attribute.String("action", "create")))
	s.actionCounter.Add(ctx, int64(report.Actions.Updated), metric.WithAttributes(attribute.String("action", "update")))
	s.actionCounter.Add(ctx, int64(report.Actions.OrphansRemoved), metric.WithAttributes(attribute.String("action", "delete_orphan")))

	s.logger.Info("reconciliation run completed",
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("success", report.Success),
		zap.Int("created", report.Actions.Created),
		zap.Int("updated", report.Actions.Updated),
		zap.Int("orphans_removed", report.Actions.OrphansRemoved),
		zap.Int("errors", len(report.Errors)),
	)

	span.SetStatus(codes.Ok, "success")
	return report, nil
}

// snapshot loads both stores in full. The diff needs global visibility to
// detect orphans, so no paging or streaming is used.
func (s *service) snapshot(ctx context.Context) ([]*vectorstore.VectorRecord, []*mirror.Record, error) {
	vectorRecs, err := s.vectors.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing vector store: %w", err)
	}
	mirrorRecs, err := s.mirror.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing mirror store: %w", err)
	}
	return vectorRecs, mirrorRecs, nil
}

// applyCreate synthesizes a mirror record from its vector counterpart.
func (s *service) applyCreate(ctx context.Context, v *vectorstore.VectorRecord) error {
	rec := &mirror.Record{
		ID:           v.RecordID,
		Title:        v.Title,
		Content:      v.Content,
		VectorRef:    v.ID,
		RelationType: v.CollectionType,
	}
	if v.FieldName != "" {
		rec.Metadata = map[string]any{"fieldName": v.FieldName}
	}
	_, err := s.mirror.Create(ctx, rec)
	return err
}

// applyUpdate overwrites a drifted mirror record from its vector
// counterpart. The vector store is the source of truth for content.
func (s *service) applyUpdate(ctx context.Context, pair updatePair) error {
	pair.mirror.Title = pair.vector.Title
	pair.mirror.Content = pair.vector.Content
	pair.mirror.VectorRef = pair.vector.ID
	_, err := s.mirror.Update(ctx, pair.mirror)
	return err
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("reconciler service closed")
	return nil
}
