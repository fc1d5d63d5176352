package vectorstore

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	qdrantclient "github.com/fyrsmithlabs/mirrord/internal/qdrant"
)

// fakeQdrantClient is an in-memory stand-in for the gRPC client.
type fakeQdrantClient struct {
	collections map[string]uint64
	points      map[string]*qdrantclient.Point
	closed      bool
}

var _ qdrantclient.Client = (*fakeQdrantClient)(nil)

func newFakeQdrantClient() *fakeQdrantClient {
	return &fakeQdrantClient{
		collections: make(map[string]uint64),
		points:      make(map[string]*qdrantclient.Point),
	}
}

func (f *fakeQdrantClient) CreateCollection(_ context.Context, name string, vectorSize uint64) error {
	f.collections[name] = vectorSize
	return nil
}

func (f *fakeQdrantClient) DeleteCollection(_ context.Context, name string) error {
	delete(f.collections, name)
	return nil
}

func (f *fakeQdrantClient) CollectionExists(_ context.Context, name string) (bool, error) {
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeQdrantClient) Upsert(_ context.Context, _ string, points []*qdrantclient.Point) error {
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeQdrantClient) Search(_ context.Context, _ string, vector []float32, limit uint64) ([]*qdrantclient.ScoredPoint, error) {
	var scored []*qdrantclient.ScoredPoint
	for _, p := range f.points {
		var dot float32
		for i := range vector {
			if i < len(p.Vector) {
				dot += vector[i] * p.Vector[i]
			}
		}
		scored = append(scored, &qdrantclient.ScoredPoint{Point: *p, Score: dot})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if uint64(len(scored)) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (f *fakeQdrantClient) Delete(_ context.Context, _ string, ids []string) error {
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeQdrantClient) DeleteByField(_ context.Context, _ string, field, value string) error {
	for id, p := range f.points {
		if v, ok := p.Payload[field].(string); ok && v == value {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeQdrantClient) Scroll(_ context.Context, _ string) ([]*qdrantclient.Point, error) {
	out := make([]*qdrantclient.Point, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeQdrantClient) Count(_ context.Context, _ string) (uint64, error) {
	return uint64(len(f.points)), nil
}

func (f *fakeQdrantClient) Health(_ context.Context) error { return nil }

func (f *fakeQdrantClient) Close() error {
	f.closed = true
	return nil
}

func newTestQdrantStore(t *testing.T) (*QdrantStore, *fakeQdrantClient) {
	t.Helper()
	client := newFakeQdrantClient()
	store, err := NewQdrantStore(QdrantConfig{
		Collection: "test_records",
		VectorSize: 8,
	}, client, newFakeEmbedder(8), zaptest.NewLogger(t))
	require.NoError(t, err)
	return store, client
}

func TestNewQdrantStore_Validation(t *testing.T) {
	_, err := NewQdrantStore(QdrantConfig{}, nil, newFakeEmbedder(8), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewQdrantStore(QdrantConfig{}, newFakeQdrantClient(), nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestQdrantStore_EnsureCollection(t *testing.T) {
	store, client := newTestQdrantStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureCollection(ctx))
	assert.Equal(t, uint64(8), client.collections["test_records"])

	// Second call is a no-op.
	require.NoError(t, store.EnsureCollection(ctx))
}

func TestQdrantStore_InsertAndList(t *testing.T) {
	store, _ := newTestQdrantStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, &VectorRecord{
		Content:        "some content",
		RecordID:       "rec-1",
		Title:          "Title",
		CollectionType: "articles",
		FieldName:      "body",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, "rec-1", records[0].RecordID)
	assert.Equal(t, "Title", records[0].Title)
	assert.Equal(t, "articles", records[0].CollectionType)
	assert.Equal(t, "body", records[0].FieldName)
	assert.Equal(t, "some content", records[0].Content)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQdrantStore_DeleteByRecordID(t *testing.T) {
	store, _ := newTestQdrantStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, &VectorRecord{Content: "chunk a", RecordID: "parent"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, &VectorRecord{Content: "chunk b", RecordID: "parent"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, &VectorRecord{Content: "other", RecordID: "other"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteByRecordID(ctx, "parent"))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "other", records[0].RecordID)
}

func TestQdrantStore_Search(t *testing.T) {
	store, _ := newTestQdrantStore(t)
	ctx := context.Background()

	_, err := store.Insert(ctx, &VectorRecord{Content: "exact match text", RecordID: "rec-1"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, &VectorRecord{Content: "completely unrelated words", RecordID: "rec-2"})
	require.NoError(t, err)

	results, err := store.Search(ctx, "exact match text", 2, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "rec-1", results[0].Record.RecordID)
	assert.InDelta(t, 0, results[0].Distance, 0.01)

	results, err = store.Search(ctx, "exact match text", 2, 0.05)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestQdrantStore_CloseClosesClient(t *testing.T) {
	store, client := newTestQdrantStore(t)
	require.NoError(t, store.Close())
	assert.True(t, client.closed)
}
