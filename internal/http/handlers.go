package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirrord/internal/materializer"
	"github.com/fyrsmithlabs/mirrord/internal/mirror"
	"github.com/fyrsmithlabs/mirrord/internal/reconciler"
)

const defaultSearchK = 5

// handleCreateDocument materializes a new document into both stores.
func (s *Server) handleCreateDocument(c echo.Context) error {
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid document request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	res, err := s.docs.Materialize(c.Request().Context(), documentFromRequest(req))
	if err != nil {
		s.logger.Error("materialize failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to materialize document")
	}

	return c.JSON(http.StatusCreated, newDocumentResponse(res))
}

// handleListDocuments lists all mirror records.
func (s *Server) handleListDocuments(c echo.Context) error {
	records, err := s.mirror.List(c.Request().Context())
	if err != nil {
		s.logger.Error("list failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list documents")
	}

	return c.JSON(http.StatusOK, ListResponse{Records: records, Total: len(records)})
}

// handleGetDocument fetches a single mirror record by id.
func (s *Server) handleGetDocument(c echo.Context) error {
	rec, err := s.mirror.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		s.logger.Error("get failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get document")
	}

	return c.JSON(http.StatusOK, rec)
}

// handleUpdateDocument rewrites an existing record or chunk group.
func (s *Server) handleUpdateDocument(c echo.Context) error {
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid document request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	res, err := s.docs.Update(c.Request().Context(), c.Param("id"), documentFromRequest(req))
	if err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		s.logger.Error("update failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update document")
	}

	return c.JSON(http.StatusOK, newDocumentResponse(res))
}

// handleDeleteDocument removes a record and its chunk group from both stores.
func (s *Server) handleDeleteDocument(c echo.Context) error {
	err := s.docs.DeleteGroup(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		s.logger.Error("delete failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete document")
	}

	return c.NoContent(http.StatusNoContent)
}

// handleSearch runs a semantic query against the vector store.
func (s *Server) handleSearch(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q query parameter is required")
	}

	k := defaultSearchK
	if raw := c.QueryParam("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a positive integer")
		}
		k = parsed
	}

	var threshold float32
	if raw := c.QueryParam("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 32)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "threshold must be a non-negative number")
		}
		threshold = float32(parsed)
	}

	results, err := s.vectors.Search(c.Request().Context(), query, k, threshold)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{
			ID:       r.Record.ID,
			RecordID: r.Record.RecordID,
			Title:    r.Record.Title,
			Content:  r.Record.Content,
			Distance: r.Distance,
		})
	}

	return c.JSON(http.StatusOK, SearchResponse{Query: query, Results: hits})
}

// handleAsk answers a question grounded on the top search hits.
func (s *Server) handleAsk(c echo.Context) error {
	if s.generator == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "answer generation is not configured")
	}

	var req AskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ask request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	k := req.TopK
	if k <= 0 {
		k = defaultSearchK
	}

	ctx := c.Request().Context()
	results, err := s.vectors.Search(ctx, req.Question, k, 0)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	if len(results) == 0 {
		return c.JSON(http.StatusOK, AskResponse{
			Question: req.Question,
			Answer:   "No relevant documents found.",
			Sources:  []SearchHit{},
		})
	}

	var contextText strings.Builder
	hits := make([]SearchHit, 0, len(results))
	for i, r := range results {
		if i > 0 {
			contextText.WriteString("\n\n---\n\n")
		}
		if r.Record.Title != "" {
			contextText.WriteString(r.Record.Title)
			contextText.WriteString("\n")
		}
		contextText.WriteString(r.Record.Content)

		hits = append(hits, SearchHit{
			ID:       r.Record.ID,
			RecordID: r.Record.RecordID,
			Title:    r.Record.Title,
			Content:  r.Record.Content,
			Distance: r.Distance,
		})
	}

	answer, err := s.generator.Generate(ctx, contextText.String(), req.Question)
	if err != nil {
		s.logger.Error("answer generation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "answer generation failed")
	}

	return c.JSON(http.StatusOK, AskResponse{
		Question: req.Question,
		Answer:   answer,
		Sources:  hits,
	})
}

// handleSyncStatus reports drift between the stores.
func (s *Server) handleSyncStatus(c echo.Context) error {
	status, err := s.reconciler.Status(c.Request().Context())
	if err != nil {
		s.logger.Error("sync status failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute sync status")
	}

	resp := SyncStatusResponse{Status: status}
	if s.scheduler != nil {
		resp.LastReport = s.scheduler.LastReport()
		resp.CircuitState = s.scheduler.CircuitState()
	}

	return c.JSON(http.StatusOK, resp)
}

// handleSync runs a reconciliation pass on demand.
func (s *Server) handleSync(c echo.Context) error {
	var opts reconciler.Options
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&opts); err != nil {
			s.logger.Warn("invalid sync request", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	report, err := s.reconciler.Reconcile(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error("reconcile failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reconciliation failed")
	}

	return c.JSON(http.StatusOK, report)
}

// documentFromRequest maps the wire shape onto a materializer document.
func documentFromRequest(req DocumentRequest) materializer.Document {
	return materializer.Document{
		ID:              req.ID,
		Title:           req.Title,
		Content:         req.Content,
		CollectionType:  req.CollectionType,
		FieldName:       req.FieldName,
		Metadata:        req.Metadata,
		DisableChunking: req.AutoChunk != nil && !*req.AutoChunk,
	}
}
