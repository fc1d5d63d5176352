package http

import (
	"github.com/fyrsmithlabs/mirrord/internal/materializer"
	"github.com/fyrsmithlabs/mirrord/internal/mirror"
	"github.com/fyrsmithlabs/mirrord/internal/reconciler"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DocumentRequest is the request body for POST and PUT document endpoints.
type DocumentRequest struct {
	ID             string         `json:"id,omitempty"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	CollectionType string         `json:"collectionType,omitempty"`
	FieldName      string         `json:"fieldName,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	// AutoChunk controls whether long content is split. Defaults to true.
	AutoChunk *bool `json:"autoChunk,omitempty"`
}

// DocumentResponse is the response body for document write endpoints.
type DocumentResponse struct {
	Anchor         *mirror.Record   `json:"anchor"`
	Records        []*mirror.Record `json:"records"`
	Chunked        bool             `json:"chunked"`
	VectorFailures int              `json:"vectorFailures"`
}

// ListResponse is the response body for GET /api/v1/documents.
type ListResponse struct {
	Records []*mirror.Record `json:"records"`
	Total   int              `json:"total"`
}

// SearchHit is one result of GET /api/v1/search.
type SearchHit struct {
	ID       string  `json:"id"`
	RecordID string  `json:"recordId,omitempty"`
	Title    string  `json:"title,omitempty"`
	Content  string  `json:"content"`
	Distance float32 `json:"distance"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// AskRequest is the request body for POST /api/v1/ask.
type AskRequest struct {
	Question string `json:"question"`

	// TopK bounds how many search hits feed the answer (default: 5).
	TopK int `json:"topK,omitempty"`
}

// AskResponse is the response body for POST /api/v1/ask.
type AskResponse struct {
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
	Sources  []SearchHit `json:"sources"`
}

// SyncStatusResponse is the response body for GET /api/v1/sync/status.
type SyncStatusResponse struct {
	Status       *reconciler.SyncStatus `json:"status"`
	LastReport   *reconciler.SyncReport `json:"lastReport,omitempty"`
	CircuitState string                 `json:"circuitState,omitempty"`
}

// newDocumentResponse maps a materializer result onto the wire shape.
func newDocumentResponse(res *materializer.Result) DocumentResponse {
	return DocumentResponse{
		Anchor:         res.Anchor,
		Records:        res.Records,
		Chunked:        res.Chunked,
		VectorFailures: res.VectorFailures,
	}
}
