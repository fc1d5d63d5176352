package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirrord/internal/materializer"
	"github.com/fyrsmithlabs/mirrord/internal/mirror"
	"github.com/fyrsmithlabs/mirrord/internal/reconciler"
	"github.com/fyrsmithlabs/mirrord/internal/vectorstore"
)

type fakeMaterializer struct {
	result    *materializer.Result
	err       error
	deleteErr error

	lastID  string
	lastDoc materializer.Document
}

func (f *fakeMaterializer) Materialize(_ context.Context, doc materializer.Document) (*materializer.Result, error) {
	f.lastDoc = doc
	return f.result, f.err
}

func (f *fakeMaterializer) Update(_ context.Context, id string, doc materializer.Document) (*materializer.Result, error) {
	f.lastID = id
	f.lastDoc = doc
	return f.result, f.err
}

func (f *fakeMaterializer) DeleteGroup(_ context.Context, id string) error {
	f.lastID = id
	return f.deleteErr
}

func (f *fakeMaterializer) Close() error { return nil }

type fakeSearcher struct {
	vectorstore.Store

	results []vectorstore.SearchResult
	err     error

	lastQuery string
	lastK     int
}

func (f *fakeSearcher) Search(_ context.Context, query string, k int, _ float32) ([]vectorstore.SearchResult, error) {
	f.lastQuery = query
	f.lastK = k
	return f.results, f.err
}

type fakeReconciler struct {
	status *reconciler.SyncStatus
	report *reconciler.SyncReport
	err    error

	lastOpts reconciler.Options
}

func (f *fakeReconciler) Status(_ context.Context) (*reconciler.SyncStatus, error) {
	return f.status, f.err
}

func (f *fakeReconciler) Reconcile(_ context.Context, opts reconciler.Options) (*reconciler.SyncReport, error) {
	f.lastOpts = opts
	return f.report, f.err
}

func (f *fakeReconciler) Close() error { return nil }

type fakeGenerator struct {
	answer string
	err    error

	lastContext  string
	lastQuestion string
}

func (f *fakeGenerator) Generate(_ context.Context, contextText, question string) (string, error) {
	f.lastContext = contextText
	f.lastQuestion = question
	return f.answer, f.err
}

type serverFixture struct {
	server  *Server
	docs    *fakeMaterializer
	mirror  *mirror.MemoryStore
	vectors *fakeSearcher
	rec     *fakeReconciler
	gen     *fakeGenerator
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	f := &serverFixture{
		docs: &fakeMaterializer{
			result: &materializer.Result{
				Anchor:  &mirror.Record{ID: "rec-1", Title: "Doc"},
				Records: []*mirror.Record{{ID: "rec-1", Title: "Doc"}},
			},
		},
		mirror:  mirror.NewMemoryStore(),
		vectors: &fakeSearcher{},
		rec: &fakeReconciler{
			status: &reconciler.SyncStatus{VectorCount: 2, MirrorCount: 2, InSync: true},
			report: &reconciler.SyncReport{Success: true, Timestamp: time.Now()},
		},
		gen: &fakeGenerator{answer: "Blue."},
	}

	srv, err := NewServer(f.docs, f.mirror, f.vectors, f.rec, nil, f.gen, zap.NewNop(), nil)
	require.NoError(t, err)
	f.server = srv
	return f
}

func (f *serverFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rr, req)
	return rr
}

func TestNewServerValidation(t *testing.T) {
	logger := zap.NewNop()
	docs := &fakeMaterializer{}
	store := mirror.NewMemoryStore()
	vectors := &fakeSearcher{}
	rec := &fakeReconciler{}

	_, err := NewServer(nil, store, vectors, rec, nil, nil, logger, nil)
	assert.ErrorContains(t, err, "materializer")

	_, err = NewServer(docs, nil, vectors, rec, nil, nil, logger, nil)
	assert.ErrorContains(t, err, "mirror store")

	_, err = NewServer(docs, store, nil, rec, nil, nil, logger, nil)
	assert.ErrorContains(t, err, "vector store")

	_, err = NewServer(docs, store, vectors, nil, nil, nil, logger, nil)
	assert.ErrorContains(t, err, "reconciler")

	_, err = NewServer(docs, store, vectors, rec, nil, nil, nil, nil)
	assert.ErrorContains(t, err, "logger")
}

func TestHandleHealth(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleCreateDocument(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/documents", `{"title":"Doc","content":"hello world","collectionType":"article"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	assert.Equal(t, "Doc", f.docs.lastDoc.Title)
	assert.Equal(t, "article", f.docs.lastDoc.CollectionType)

	var resp DocumentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "rec-1", resp.Anchor.ID)
}

func TestHandleCreateDocumentAutoChunkOptOut(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/documents", `{"title":"Doc","content":"hello","autoChunk":false}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.True(t, f.docs.lastDoc.DisableChunking)

	rr = f.do(http.MethodPost, "/api/v1/documents", `{"title":"Doc","content":"hello"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.False(t, f.docs.lastDoc.DisableChunking)
}

func TestHandleCreateDocumentEmptyContent(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/documents", `{"title":"Doc"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleGetDocument(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.mirror.Create(context.Background(), &mirror.Record{ID: "rec-9", Title: "Stored", Content: "body"})
	require.NoError(t, err)

	rr := f.do(http.MethodGet, "/api/v1/documents/rec-9", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var rec mirror.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "Stored", rec.Title)
}

func TestHandleGetDocumentNotFound(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodGet, "/api/v1/documents/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleListDocuments(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.mirror.Create(context.Background(), &mirror.Record{ID: "a", Content: "one"})
	require.NoError(t, err)
	_, err = f.mirror.Create(context.Background(), &mirror.Record{ID: "b", Content: "two"})
	require.NoError(t, err)

	rr := f.do(http.MethodGet, "/api/v1/documents", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Records, 2)
}

func TestHandleUpdateDocument(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodPut, "/api/v1/documents/rec-1", `{"title":"Doc","content":"updated"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "rec-1", f.docs.lastID)
	assert.Equal(t, "updated", f.docs.lastDoc.Content)
}

func TestHandleUpdateDocumentNotFound(t *testing.T) {
	f := newServerFixture(t)
	f.docs.err = mirror.ErrNotFound

	rr := f.do(http.MethodPut, "/api/v1/documents/missing", `{"content":"updated"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleDeleteDocument(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodDelete, "/api/v1/documents/rec-1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "rec-1", f.docs.lastID)
}

func TestHandleDeleteDocumentNotFound(t *testing.T) {
	f := newServerFixture(t)
	f.docs.deleteErr = mirror.ErrNotFound

	rr := f.do(http.MethodDelete, "/api/v1/documents/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleSearch(t *testing.T) {
	f := newServerFixture(t)
	f.vectors.results = []vectorstore.SearchResult{
		{Record: vectorstore.VectorRecord{ID: "v1", RecordID: "rec-1", Title: "Doc", Content: "hello"}, Distance: 0.1},
	}

	rr := f.do(http.MethodGet, "/api/v1/search?q=hello&k=3", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", f.vectors.lastQuery)
	assert.Equal(t, 3, f.vectors.lastK)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "rec-1", resp.Results[0].RecordID)
	assert.InDelta(t, 0.1, resp.Results[0].Distance, 0.001)
}

func TestHandleSearchValidation(t *testing.T) {
	f := newServerFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/search", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/search?q=x&k=zero", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/search?q=x&threshold=-1", "").Code)
}

func TestHandleAsk(t *testing.T) {
	f := newServerFixture(t)
	f.vectors.results = []vectorstore.SearchResult{
		{Record: vectorstore.VectorRecord{ID: "v1", Title: "Sky", Content: "The sky is blue."}, Distance: 0.05},
	}

	rr := f.do(http.MethodPost, "/api/v1/ask", `{"question":"What color is the sky?"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Blue.", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "What color is the sky?", f.gen.lastQuestion)
	assert.Contains(t, f.gen.lastContext, "The sky is blue.")
	assert.Equal(t, defaultSearchK, f.vectors.lastK)
}

func TestHandleAskNoResults(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/ask", `{"question":"anything?"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "No relevant documents found.", resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestHandleAskWithoutGenerator(t *testing.T) {
	f := newServerFixture(t)
	srv, err := NewServer(f.docs, f.mirror, f.vectors, f.rec, nil, nil, zap.NewNop(), nil)
	require.NoError(t, err)
	f.server = srv

	rr := f.do(http.MethodPost, "/api/v1/ask", `{"question":"anything?"}`)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestHandleSyncStatus(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp SyncStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Status)
	assert.True(t, resp.Status.InSync)
	assert.Empty(t, resp.CircuitState)
}

func TestHandleSync(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/sync", `{"removeOrphans":true,"dryRun":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, f.rec.lastOpts.RemoveOrphans)
	assert.True(t, f.rec.lastOpts.DryRun)

	var report reconciler.SyncReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.True(t, report.Success)
}

func TestHandleSyncDefaultOptions(t *testing.T) {
	f := newServerFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, f.rec.lastOpts.RemoveOrphans)
	assert.False(t, f.rec.lastOpts.DryRun)
}
