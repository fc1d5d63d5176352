package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/mirrord/internal/mirror"
	"github.com/fyrsmithlabs/mirrord/internal/vectorstore"
)

// fakeVectorStore serves preloaded records for snapshotting.
type fakeVectorStore struct {
	records []*vectorstore.VectorRecord
	listErr error
}

var _ vectorstore.Store = (*fakeVectorStore)(nil)

func (f *fakeVectorStore) EnsureCollection(context.Context) error { return nil }

func (f *fakeVectorStore) Insert(_ context.Context, rec *vectorstore.VectorRecord) (string, error) {
	stored := *rec
	if stored.ID == "" {
		stored.ID = fmt.Sprintf("vec-%d", len(f.records)+1)
	}
	f.records = append(f.records, &stored)
	return stored.ID, nil
}

func (f *fakeVectorStore) Delete(_ context.Context, ids []string) error {
	for _, id := range ids {
		for i, rec := range f.records {
			if rec.ID == id {
				f.records = append(f.records[:i], f.records[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (f *fakeVectorStore) DeleteByRecordID(_ context.Context, recordID string) error {
	kept := f.records[:0]
	for _, rec := range f.records {
		if rec.RecordID != recordID {
			kept = append(kept, rec)
		}
	}
	f.records = kept
	return nil
}

func (f *fakeVectorStore) List(context.Context) ([]*vectorstore.VectorRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*vectorstore.VectorRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeVectorStore) Search(context.Context, string, int, float32) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (f *fakeVectorStore) Count(context.Context) (int, error) { return len(f.records), nil }

func (f *fakeVectorStore) Close() error { return nil }

// failOnCreateStore wraps a mirror store and fails Create for one id.
type failOnCreateStore struct {
	mirror.Store
	failID string
}

func (f *failOnCreateStore) Create(ctx context.Context, rec *mirror.Record) (*mirror.Record, error) {
	if rec.ID == f.failID {
		return nil, errors.New("simulated create failure")
	}
	return f.Store.Create(ctx, rec)
}

// driftFixture builds the two stores from the sync scenarios: 10 vector
// records, 8 mirror records, 7 overlapping with identical content, and 1
// mirror record with no vector counterpart.
func driftFixture(t *testing.T) (*fakeVectorStore, mirror.Store) {
	t.Helper()
	ctx := context.Background()
	vectors := &fakeVectorStore{}
	mirrorStore := mirror.NewMemoryStore()

	for i := 1; i <= 10; i++ {
		vectors.records = append(vectors.records, &vectorstore.VectorRecord{
			ID:       fmt.Sprintf("vec-%d", i),
			RecordID: fmt.Sprintf("rec-%d", i),
			Title:    fmt.Sprintf("Title %d", i),
			Content:  fmt.Sprintf("content %d", i),
		})
	}
	// Mirror has rec-1..rec-7 matching the vectors, plus one orphan.
	for i := 1; i <= 7; i++ {
		_, err := mirrorStore.Create(ctx, &mirror.Record{
			ID:        fmt.Sprintf("rec-%d", i),
			Title:     fmt.Sprintf("Title %d", i),
			Content:   fmt.Sprintf("content %d", i),
			VectorRef: fmt.Sprintf("vec-%d", i),
		})
		require.NoError(t, err)
	}
	_, err := mirrorStore.Create(ctx, &mirror.Record{
		ID:      "rec-orphan",
		Title:   "Orphan",
		Content: "orphan content",
	})
	require.NoError(t, err)

	return vectors, mirrorStore
}

func newTestService(t *testing.T, vectors vectorstore.Store, mirrorStore mirror.Store) Service {
	t.Helper()
	svc, err := NewService(vectors, mirrorStore, zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, mirror.NewMemoryStore(), nil)
	require.Error(t, err)

	_, err = NewService(&fakeVectorStore{}, nil, nil)
	require.Error(t, err)
}

func TestStatus_Drift(t *testing.T) {
	vectors, mirrorStore := driftFixture(t)
	svc := newTestService(t, vectors, mirrorStore)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, status.VectorCount)
	assert.Equal(t, 8, status.MirrorCount)
	assert.Equal(t, 3, status.MissingInMirror)
	assert.Equal(t, 1, status.MissingInVector)
	assert.Equal(t, 0, status.ContentDifferences)
	assert.False(t, status.InSync)
}

func TestStatus_InSync(t *testing.T) {
	ctx := context.Background()
	vectors := &fakeVectorStore{records: []*vectorstore.VectorRecord{
		{ID: "vec-1", RecordID: "rec-1", Title: "T", Content: "C"},
	}}
	mirrorStore := mirror.NewMemoryStore()
	_, err := mirrorStore.Create(ctx, &mirror.Record{ID: "rec-1", Title: "T", Content: "C", VectorRef: "vec-1"})
	require.NoError(t, err)

	svc := newTestService(t, vectors, mirrorStore)
	status, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.InSync)
}

func TestReconcile_DryRunClassifiesWithoutWriting(t *testing.T) {
	vectors, mirrorStore := driftFixture(t)
	svc := newTestService(t, vectors, mirrorStore)
	ctx := context.Background()

	report, err := svc.Reconcile(ctx, Options{RemoveOrphans: true, DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.True(t, report.DryRun)
	assert.Equal(t, 10, report.VectorCount)
	assert.Equal(t, 8, report.MirrorCount)
	assert.Equal(t, 3, report.Actions.Created)
	assert.Equal(t, 0, report.Actions.Updated)
	assert.Equal(t, 1, report.Actions.OrphansRemoved)
	require.Len(t, report.Details.OrphansRemoved, 1)
	assert.Contains(t, report.Details.OrphansRemoved[0], "rec-orphan (Orphan)")

	// Both stores are untouched.
	count, err := mirrorStore.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, count)
	_, err = mirrorStore.Get(ctx, "rec-orphan")
	require.NoError(t, err)
	assert.Len(t, vectors.records, 10)
}

func TestReconcile_AppliesActions(t *testing.T) {
	vectors, mirrorStore := driftFixture(t)
	svc := newTestService(t, vectors, mirrorStore)
	ctx := context.Background()

	report, err := svc.Reconcile(ctx, Options{RemoveOrphans: true})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 3, report.Actions.Created)
	assert.Equal(t, 1, report.Actions.OrphansRemoved)

	// The synthesized records carry the vector's content and id linkage.
	for i := 8; i <= 10; i++ {
		rec, err := mirrorStore.Get(ctx, fmt.Sprintf("rec-%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("Title %d", i), rec.Title)
		assert.Equal(t, fmt.Sprintf("content %d", i), rec.Content)
		assert.Equal(t, fmt.Sprintf("vec-%d", i), rec.VectorRef)
	}

	_, err = mirrorStore.Get(ctx, "rec-orphan")
	require.ErrorIs(t, err, mirror.ErrNotFound)
}

func TestReconcile_Idempotent(t *testing.T) {
	vectors, mirrorStore := driftFixture(t)
	svc := newTestService(t, vectors, mirrorStore)
	ctx := context.Background()

	first, err := svc.Reconcile(ctx, Options{RemoveOrphans: true})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := svc.Reconcile(ctx, Options{RemoveOrphans: true})
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Zero(t, second.Actions.Created)
	assert.Zero(t, second.Actions.Updated)
	assert.Zero(t, second.Actions.OrphansRemoved)
}

func TestReconcile_UpdatesDriftedRecords(t *testing.T) {
	ctx := context.Background()
	vectors := &fakeVectorStore{records: []*vectorstore.VectorRecord{
		{ID: "vec-1", RecordID: "rec-1", Title: "New Title", Content: "new content"},
		{ID: "vec-2", RecordID: "rec-2", Title: "T2", Content: "C2"},
	}}
	mirrorStore := mirror.NewMemoryStore()
	// rec-1 has drifted content; rec-2 matches but lost its vector ref.
	_, err := mirrorStore.Create(ctx, &mirror.Record{ID: "rec-1", Title: "Old Title", Content: "old content", VectorRef: "vec-1"})
	require.NoError(t, err)
	_, err = mirrorStore.Create(ctx, &mirror.Record{ID: "rec-2", Title: "T2", Content: "C2"})
	require.NoError(t, err)

	svc := newTestService(t, vectors, mirrorStore)
	report, err := svc.Reconcile(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Actions.Updated)

	rec1, err := mirrorStore.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "New Title", rec1.Title)
	assert.Equal(t, "new content", rec1.Content)

	rec2, err := mirrorStore.Get(ctx, "rec-2")
	require.NoError(t, err)
	assert.Equal(t, "vec-2", rec2.VectorRef)
}

func TestReconcile_OrphansKeptWithoutFlag(t *testing.T) {
	vectors, mirrorStore := driftFixture(t)
	svc := newTestService(t, vectors, mirrorStore)
	ctx := context.Background()

	report, err := svc.Reconcile(ctx, Options{RemoveOrphans: false})
	require.NoError(t, err)
	assert.Zero(t, report.Actions.OrphansRemoved)

	_, err = mirrorStore.Get(ctx, "rec-orphan")
	require.NoError(t, err)
}

func TestReconcile_InvalidVectorRecordReported(t *testing.T) {
	ctx := context.Background()
	vectors := &fakeVectorStore{records: []*vectorstore.VectorRecord{
		{ID: "vec-bad", RecordID: "", Title: "No Backref", Content: "x"},
		{ID: "vec-1", RecordID: "rec-1", Title: "T", Content: "C"},
	}}
	svc := newTestService(t, vectors, mirror.NewMemoryStore())

	report, err := svc.Reconcile(ctx, Options{})
	require.NoError(t, err)
	assert.False(t, report.Success)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "vec-bad")
	// The valid record is still processed.
	assert.Equal(t, 1, report.Actions.Created)
}

func TestReconcile_ErrorIsolation(t *testing.T) {
	ctx := context.Background()
	vectors := &fakeVectorStore{records: []*vectorstore.VectorRecord{
		{ID: "vec-1", RecordID: "rec-1", Title: "T1", Content: "C1"},
		{ID: "vec-2", RecordID: "rec-2", Title: "T2", Content: "C2"},
		{ID: "vec-3", RecordID: "rec-3", Title: "T3", Content: "C3"},
	}}
	mirrorStore := &failOnCreateStore{Store: mirror.NewMemoryStore(), failID: "rec-2"}
	svc := newTestService(t, vectors, mirrorStore)

	report, err := svc.Reconcile(ctx, Options{})
	require.NoError(t, err)
	assert.False(t, report.Success)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "rec-2")
	// Counts reflect classified actions, including the failed one.
	assert.Equal(t, 3, report.Actions.Created)

	// The other two records converged.
	_, err = mirrorStore.Get(ctx, "rec-1")
	require.NoError(t, err)
	_, err = mirrorStore.Get(ctx, "rec-3")
	require.NoError(t, err)
}

func TestReconcile_SnapshotFailure(t *testing.T) {
	vectors := &fakeVectorStore{listErr: errors.New("connection refused")}
	svc := newTestService(t, vectors, mirror.NewMemoryStore())

	_, err := svc.Reconcile(context.Background(), Options{})
	require.Error(t, err)
}

func TestService_Close(t *testing.T) {
	svc := newTestService(t, &fakeVectorStore{}, mirror.NewMemoryStore())
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	_, err := svc.Status(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
