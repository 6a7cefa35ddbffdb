package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/config"
	"github.com/certiva/docpipe/internal/extraction"
	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/internal/pipeline"
	"github.com/certiva/docpipe/internal/repository"
)

type fakePipeline struct {
	submitRes *pipeline.Result
	submitErr error
	doc       *models.Document
	docErr    error
	csv       []byte
	csvErr    error

	lastTenant   string
	lastFilename string
}

func (f *fakePipeline) Submit(_ context.Context, _ []byte, filename, tenant string) (*pipeline.Result, error) {
	f.lastFilename = filename
	f.lastTenant = tenant
	return f.submitRes, f.submitErr
}

func (f *fakePipeline) Status(context.Context, models.DocumentID) (*models.Document, error) {
	return f.doc, f.docErr
}

func (f *fakePipeline) Export(context.Context, models.DocumentID) ([]byte, error) {
	return f.csv, f.csvErr
}

type fakeReviews struct {
	items      []*models.ReviewItem
	resolveErr error
	resolved   []models.DocumentID
}

func (f *fakeReviews) ListPending(_ context.Context, _ string) ([]*models.ReviewItem, error) {
	return f.items, nil
}

func (f *fakeReviews) Resolve(_ context.Context, docID models.DocumentID) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, docID)
	return nil
}

type fakeDocs struct {
	transitions []string
	err         error
}

func (f *fakeDocs) TransitionStatus(_ context.Context, _ models.DocumentID, to string) error {
	if f.err != nil {
		return f.err
	}
	f.transitions = append(f.transitions, to)
	return nil
}

type fakeBatches struct{ runs []*models.BatchRun }

func (f *fakeBatches) Recent(context.Context, int) ([]*models.BatchRun, error) {
	return f.runs, nil
}

type fakeProvider struct {
	healthy bool
	breaker *extraction.Breaker
}

func (f *fakeProvider) Healthy() bool                { return f.healthy }
func (f *fakeProvider) Stats() extraction.Stats      { return extraction.Stats{Attempts: 7} }
func (f *fakeProvider) Breaker() *extraction.Breaker { return f.breaker }

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

type serverEnv struct {
	server   *Server
	pipeline *fakePipeline
	reviews  *fakeReviews
	docs     *fakeDocs
	pinger   *fakePinger
	provider *fakeProvider
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	env := &serverEnv{
		pipeline: &fakePipeline{},
		reviews:  &fakeReviews{},
		docs:     &fakeDocs{},
		pinger:   &fakePinger{},
		provider: &fakeProvider{
			healthy: true,
			breaker: extraction.NewBreaker(extraction.BreakerConfig{
				FailureThreshold: 3,
				Cooldown:         time.Minute,
				MaxCooldown:      time.Hour,
			}),
		},
	}
	handlers := NewHandlers(env.pipeline, env.reviews, env.docs, &fakeBatches{},
		env.provider, env.pinger, nil, "acme", zap.NewNop())
	env.server = NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, handlers, zap.NewNop())
	return env
}

func (e *serverEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, fieldName, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestSubmitDocumentUpload(t *testing.T) {
	env := newServerEnv(t)
	env.pipeline.submitRes = &pipeline.Result{
		DocID:       models.DocumentID("abc123"),
		Status:      models.StatusPosted,
		Disposition: models.DispositionAutoPost,
		GlobalConf:  0.95,
	}

	body, contentType := multipartUpload(t, "file", "factura.pdf", []byte("pdf-bytes"),
		map[string]string{"tenant": "globex"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "globex", env.pipeline.lastTenant)
	assert.Equal(t, "factura.pdf", env.pipeline.lastFilename)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestSubmitDocumentDefaultsTenant(t *testing.T) {
	env := newServerEnv(t)
	env.pipeline.submitRes = &pipeline.Result{DocID: "x", Status: models.StatusPosted}

	body, contentType := multipartUpload(t, "file", "a.pdf", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)

	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", env.pipeline.lastTenant)
}

func TestSubmitDocumentMissingFile(t *testing.T) {
	env := newServerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDocumentNotFound(t *testing.T) {
	env := newServerEnv(t)
	env.pipeline.docErr = repository.ErrNotFound

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/deadbeef", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDocument(t *testing.T) {
	env := newServerEnv(t)
	env.pipeline.doc = &models.Document{ID: "deadbeef", Status: models.StatusPosted}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/deadbeef", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadbeef")
}

func TestExportDocumentNotPosted(t *testing.T) {
	env := newServerEnv(t)
	env.pipeline.csvErr = pipeline.ErrNotPosted

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/deadbeef/export", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExportDocumentCSV(t *testing.T) {
	env := newServerEnv(t)
	env.pipeline.csv = []byte("Fecha,Diario\n")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/deadbeef/export", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "deadbeef.csv")
	assert.Equal(t, "Fecha,Diario\n", rec.Body.String())
}

func TestListReview(t *testing.T) {
	env := newServerEnv(t)
	env.reviews.items = []*models.ReviewItem{
		{ID: "r1", DocID: "d1", Tenant: "acme", Issues: []string{models.IssueNoRule}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/review?tenant=acme", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO_RULE")
}

func TestResolveReviewReopensDocument(t *testing.T) {
	env := newServerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/review/d1/resolve", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.DocumentID{"d1"}, env.reviews.resolved)
	assert.Equal(t, []string{models.StatusNew}, env.docs.transitions)
}

func TestResolveReviewNotFound(t *testing.T) {
	env := newServerEnv(t)
	env.reviews.resolveErr = repository.ErrNotFound

	req := httptest.NewRequest(http.MethodPost, "/api/v1/review/missing/resolve", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.docs.transitions)
}

func TestHealthOK(t *testing.T) {
	env := newServerEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"breaker_state":"CLOSED"`)
}

func TestHealthDegradedProvider(t *testing.T) {
	env := newServerEnv(t)
	env.provider.healthy = false

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestHealthDatabaseDown(t *testing.T) {
	env := newServerEnv(t)
	env.pinger.err = context.DeadlineExceeded

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"unreachable"`)
}
