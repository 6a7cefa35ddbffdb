package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/extraction"
	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/internal/pipeline"
	"github.com/certiva/docpipe/internal/repository"
	"github.com/certiva/docpipe/internal/watcher"
)

// maxUploadBytes caps a single document upload (25 MiB)
const maxUploadBytes = 25 << 20

// PipelineService is the pipeline surface the handlers depend on
type PipelineService interface {
	Submit(ctx context.Context, data []byte, filename, tenant string) (*pipeline.Result, error)
	Status(ctx context.Context, docID models.DocumentID) (*models.Document, error)
	Export(ctx context.Context, docID models.DocumentID) ([]byte, error)
}

// ReviewStore is the review queue surface the handlers depend on
type ReviewStore interface {
	ListPending(ctx context.Context, tenant string) ([]*models.ReviewItem, error)
	Resolve(ctx context.Context, docID models.DocumentID) error
}

// DocumentStore reopens documents after a human decision
type DocumentStore interface {
	TransitionStatus(ctx context.Context, docID models.DocumentID, to string) error
}

// BatchStore lists recent batch runs
type BatchStore interface {
	Recent(ctx context.Context, limit int) ([]*models.BatchRun, error)
}

// ProviderHealth exposes the extraction provider state for /health
type ProviderHealth interface {
	Healthy() bool
	Stats() extraction.Stats
	Breaker() *extraction.Breaker
}

// Pinger verifies database connectivity
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WatcherStatus exposes the batch watcher state for /health
type WatcherStatus interface {
	GetStatus() watcher.Status
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	pipe          PipelineService
	reviews       ReviewStore
	docs          DocumentStore
	batches       BatchStore
	provider      ProviderHealth
	db            Pinger
	watcher       WatcherStatus
	defaultTenant string
	logger        *zap.Logger
}

// NewHandlers creates a new Handlers instance. The watcher may be nil
// when batch ingestion is disabled.
func NewHandlers(
	pipe PipelineService,
	reviews ReviewStore,
	docs DocumentStore,
	batches BatchStore,
	provider ProviderHealth,
	db Pinger,
	w WatcherStatus,
	defaultTenant string,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		pipe:          pipe,
		reviews:       reviews,
		docs:          docs,
		batches:       batches,
		provider:      provider,
		db:            db,
		watcher:       w,
		defaultTenant: defaultTenant,
		logger:        logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SubmitResponse represents the outcome of a document submission
type SubmitResponse struct {
	DocID        string   `json:"doc_id"`
	Status       string   `json:"status"`
	Disposition  string   `json:"disposition,omitempty"`
	Issues       []string `json:"issues,omitempty"`
	GlobalConf   float64  `json:"global_conf"`
	ShortCircuit bool     `json:"short_circuit"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string           `json:"status"`
	Database string           `json:"database"`
	Provider ProviderSnapshot `json:"provider"`
	Watcher  *watcher.Status  `json:"watcher,omitempty"`
}

// ProviderSnapshot is the extraction provider portion of /health
type ProviderSnapshot struct {
	Healthy      bool             `json:"healthy"`
	BreakerState string           `json:"breaker_state"`
	BreakerTrips int              `json:"breaker_trips"`
	Stats        extraction.Stats `json:"stats"`
}

// SubmitDocument handles POST /api/v1/documents
func (h *Handlers) SubmitDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "multipart field 'file' is required",
		})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, Response{
			Success: false,
			Error:   "file exceeds upload limit",
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", zap.Error(err))
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "failed to read upload",
		})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		h.logger.Error("Failed to read upload", zap.Error(err))
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "failed to read upload",
		})
		return
	}

	tenant := c.PostForm("tenant")
	if tenant == "" {
		tenant = h.defaultTenant
	}

	res, err := h.pipe.Submit(c.Request.Context(), data, file.Filename, tenant)
	if err != nil {
		h.logger.Error("Submit failed",
			zap.String("filename", file.Filename),
			zap.String("tenant", tenant),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "document processing failed",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: SubmitResponse{
			DocID:        res.DocID.String(),
			Status:       res.Status,
			Disposition:  string(res.Disposition),
			Issues:       res.Issues,
			GlobalConf:   res.GlobalConf,
			ShortCircuit: res.ShortCircuit,
		},
	})
}

// GetDocument handles GET /api/v1/documents/:id
func (h *Handlers) GetDocument(c *gin.Context) {
	docID := models.DocumentID(c.Param("id"))

	doc, err := h.pipe.Status(c.Request.Context(), docID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "document not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get document", zap.String("doc_id", docID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve document",
		})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// ExportDocument handles GET /api/v1/documents/:id/export
func (h *Handlers) ExportDocument(c *gin.Context) {
	docID := models.DocumentID(c.Param("id"))

	data, err := h.pipe.Export(c.Request.Context(), docID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "document not found",
		})
		return
	case errors.Is(err, pipeline.ErrNotPosted):
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Error:   "document is not posted",
		})
		return
	case err != nil:
		h.logger.Error("Failed to export document", zap.String("doc_id", docID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to export document",
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", docID.String()))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// ListReview handles GET /api/v1/review
func (h *Handlers) ListReview(c *gin.Context) {
	tenant := c.Query("tenant")

	items, err := h.reviews.ListPending(c.Request.Context(), tenant)
	if err != nil {
		h.logger.Error("Failed to list review queue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve review queue",
		})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: items})
}

// ResolveReview handles POST /api/v1/review/:id/resolve. It records the
// human decision and reopens the document so the next submission of the
// same file runs with the decision applied (an updated vendor rule, a
// corrected policy). The review subsystem itself lives outside this
// service.
func (h *Handlers) ResolveReview(c *gin.Context) {
	docID := models.DocumentID(c.Param("id"))

	if err := h.reviews.Resolve(c.Request.Context(), docID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{
				Success: false,
				Error:   "no pending review for document",
			})
			return
		}
		h.logger.Error("Failed to resolve review", zap.String("doc_id", docID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to resolve review",
		})
		return
	}

	if err := h.docs.TransitionStatus(c.Request.Context(), docID, models.StatusNew); err != nil {
		h.logger.Error("Failed to reopen document", zap.String("doc_id", docID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "review resolved but document could not be reopened",
		})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// RecentBatches handles GET /api/v1/batches
func (h *Handlers) RecentBatches(c *gin.Context) {
	runs, err := h.batches.Recent(c.Request.Context(), 20)
	if err != nil {
		h.logger.Error("Failed to list batch runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve batch runs",
		})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: runs})
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	healthy := true
	if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "unreachable"
		healthy = false
	}

	breaker := h.provider.Breaker()
	snapshot := ProviderSnapshot{
		Healthy:      h.provider.Healthy(),
		BreakerState: string(breaker.State()),
		BreakerTrips: breaker.TripCount(),
		Stats:        h.provider.Stats(),
	}
	if !snapshot.Healthy {
		healthy = false
	}

	resp := HealthResponse{
		Status:   "healthy",
		Database: dbStatus,
		Provider: snapshot,
	}
	if h.watcher != nil {
		status := h.watcher.GetStatus()
		resp.Watcher = &status
	}

	code := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, Response{Success: healthy, Data: resp})
}
