package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/export"
	"github.com/certiva/docpipe/internal/extraction"
	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/internal/notify"
	"github.com/certiva/docpipe/internal/policy"
	"github.com/certiva/docpipe/internal/repository"
	"github.com/certiva/docpipe/internal/router"
	"github.com/certiva/docpipe/internal/rules"
	"github.com/certiva/docpipe/pkg/database"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeExtractor struct {
	fn    func(data []byte) (*extraction.Result, error)
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, _ models.DocumentID, data []byte, _ string) (*extraction.Result, error) {
	f.calls++
	return f.fn(data)
}

func cleanResult() *extraction.Result {
	return &extraction.Result{
		SupplierName:  "Suministros Norte SL",
		SupplierNIF:   "B12345674",
		InvoiceNumber: "F-2026-0117",
		InvoiceDate:   "2026-02-10",
		Currency:      "EUR",
		Net:           "120,00",
		Tax:           "25,20",
		Gross:         "145,20",
		Confidence:    0.95,
		PageCount:     1,
	}
}

type testEnv struct {
	pipeline *Pipeline
	docs     *repository.DocumentRepository
	reviews  *repository.ReviewRepository
	dedupe   *repository.DedupeRepository
	rules    *repository.RuleRepository
	extract  *fakeExtractor
}

func newTestEnv(t *testing.T, fn func(data []byte) (*extraction.Result, error)) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.NewInMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).Run())

	env := &testEnv{
		docs:    repository.NewDocumentRepository(db, logger),
		reviews: repository.NewReviewRepository(db, logger),
		dedupe:  repository.NewDedupeRepository(db, logger),
		rules:   repository.NewRuleRepository(db, logger),
		extract: &fakeExtractor{fn: fn},
	}

	p := New(Deps{
		Documents: env.docs,
		Dedupe:    env.dedupe,
		Reviews:   env.reviews,
		Rules:     env.rules,
		Provider:  env.extract,
		Policies:  policy.NewStore(t.TempDir(), "acme", 0.85, logger),
		Exporter:  export.NewA3Exporter(t.TempDir(), logger),
		Notifier:  notify.NewLogNotifier(logger),
		Engine:    rules.NewEngine(rules.DefaultConfig(), logger),
		Router:    router.New(logger, router.WithRandSource(func() float64 { return 0.99 })),
	}, logger)
	p.SetClock(func() time.Time { return testNow })
	env.pipeline = p

	require.NoError(t, env.rules.Create(context.Background(), &models.VendorRule{
		Tenant:       "acme",
		SupplierNIF:  "B12345674",
		SupplierName: "Suministros Norte SL",
		Account:      "628000",
		VATRate:      decimal.NewFromInt(21),
	}))
	return env
}

func TestSubmitCleanInvoiceAutoPosts(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) { return cleanResult(), nil })
	ctx := context.Background()

	res, err := env.pipeline.Submit(ctx, []byte("invoice-1"), "factura.pdf", "acme")
	require.NoError(t, err)

	assert.Equal(t, models.StatusPosted, res.Status)
	assert.Equal(t, models.DispositionAutoPost, res.Disposition)
	assert.Empty(t, res.Issues)
	assert.InDelta(t, 0.95, res.GlobalConf, 0.001)

	doc, err := env.docs.GetByID(ctx, res.DocID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPosted, doc.Status)
	assert.NotNil(t, doc.ReceivedAt)
	assert.NotNil(t, doc.ExtractedAt)
	assert.NotNil(t, doc.ValidatedAt)
	assert.NotNil(t, doc.PostedAt)
	assert.True(t, doc.GrossAmount.Equal(decimal.RequireFromString("145.20")))
	assert.NotEmpty(t, doc.EntryJSON)

	// Fingerprint committed for future duplicate checks
	records, err := env.dedupe.FindCandidates(ctx, "acme", "B12345674", "2025-09-03")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSubmitIdenticalBytesShortCircuits(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) { return cleanResult(), nil })
	ctx := context.Background()

	first, err := env.pipeline.Submit(ctx, []byte("invoice-1"), "factura.pdf", "acme")
	require.NoError(t, err)
	require.Equal(t, models.StatusPosted, first.Status)
	require.Equal(t, 1, env.extract.calls)

	second, err := env.pipeline.Submit(ctx, []byte("invoice-1"), "factura.pdf", "acme")
	require.NoError(t, err)
	assert.Equal(t, first.DocID, second.DocID)
	assert.True(t, second.ShortCircuit)
	assert.Equal(t, models.StatusPosted, second.Status)
	assert.Equal(t, 1, env.extract.calls, "no provider call on resubmission")
}

func TestSubmitDuplicateInvoiceGoesToReview(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) { return cleanResult(), nil })
	ctx := context.Background()

	_, err := env.pipeline.Submit(ctx, []byte("invoice-1"), "a.pdf", "acme")
	require.NoError(t, err)

	// Different bytes, same supplier and invoice number
	res, err := env.pipeline.Submit(ctx, []byte("invoice-1-rescan"), "b.pdf", "acme")
	require.NoError(t, err)

	assert.Equal(t, models.StatusReviewPending, res.Status)
	assert.Contains(t, res.Issues, models.IssueDupNIFNumber)

	item, err := env.reviews.GetByDocID(ctx, res.DocID)
	require.NoError(t, err)
	assert.False(t, item.Resolved)
	assert.NotEmpty(t, item.Suggestion)
}

func TestSubmitRescanOfReviewPendingInvoiceIsDuplicate(t *testing.T) {
	// First copy carries an amount mismatch and lands in review; the
	// clean rescan of the same invoice must still be caught as a
	// duplicate, never auto-posted.
	env := newTestEnv(t, func(data []byte) (*extraction.Result, error) {
		r := cleanResult()
		if string(data) == "invoice-smudged" {
			r.Gross = "140,00"
		}
		return r, nil
	})
	ctx := context.Background()

	first, err := env.pipeline.Submit(ctx, []byte("invoice-smudged"), "a.pdf", "acme")
	require.NoError(t, err)
	require.Equal(t, models.StatusReviewPending, first.Status)
	require.Contains(t, first.Issues, models.IssueAmountMismatch)

	records, err := env.dedupe.FindCandidates(ctx, "acme", "B12345674", "2025-09-03")
	require.NoError(t, err)
	require.Len(t, records, 1, "review-pending document still commits its fingerprint")

	second, err := env.pipeline.Submit(ctx, []byte("invoice-clean-rescan"), "b.pdf", "acme")
	require.NoError(t, err)

	assert.Equal(t, models.StatusReviewPending, second.Status)
	assert.Contains(t, second.Issues, models.IssueDupNIFNumber)
	assert.NotEqual(t, models.StatusPosted, second.Status)
}

func TestSubmitNoRuleGoesToReview(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) {
		r := cleanResult()
		r.SupplierNIF = "B65472389"
		r.SupplierName = "Proveedor Nuevo SL"
		return r, nil
	})

	res, err := env.pipeline.Submit(context.Background(), []byte("invoice-2"), "c.pdf", "acme")
	require.NoError(t, err)

	assert.Equal(t, models.StatusReviewPending, res.Status)
	assert.Contains(t, res.Issues, models.IssueNoRule)
}

func TestSubmitLowExtractionConfidenceCascades(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) {
		r := cleanResult()
		r.Confidence = 0.70
		return r, nil
	})

	res, err := env.pipeline.Submit(context.Background(), []byte("invoice-3"), "d.pdf", "acme")
	require.NoError(t, err)

	assert.Equal(t, models.StatusReviewPending, res.Status)
	assert.Contains(t, res.Issues, models.IssueLowConfidence)
	assert.InDelta(t, 0.70, res.GlobalConf, 0.001, "global confidence is min(extraction, entry)")
}

func TestSubmitFallbackCapsConfidence(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) {
		r := cleanResult()
		r.FallbackUsed = true
		return r, nil
	})

	res, err := env.pipeline.Submit(context.Background(), []byte("invoice-4"), "e.pdf", "acme")
	require.NoError(t, err)

	assert.Equal(t, models.StatusReviewPending, res.Status)
	assert.Contains(t, res.Issues, models.IssueFallbackUsed)
	assert.LessOrEqual(t, res.GlobalConf, 0.60)
}

func TestSubmitExtractionFailureIsError(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) {
		return nil, extraction.ErrTempProvider
	})
	ctx := context.Background()

	res, err := env.pipeline.Submit(ctx, []byte("invoice-5"), "f.pdf", "acme")
	require.NoError(t, err)

	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Issues, models.IssueOCRTempError)

	doc, err := env.docs.GetByID(ctx, res.DocID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, doc.Status)
	assert.NotEmpty(t, doc.ErrorMessage)
}

func TestSubmitErroredDocumentReopensOnResubmit(t *testing.T) {
	failing := true
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) {
		if failing {
			return nil, extraction.ErrTempProvider
		}
		return cleanResult(), nil
	})
	ctx := context.Background()

	first, err := env.pipeline.Submit(ctx, []byte("invoice-6"), "g.pdf", "acme")
	require.NoError(t, err)
	require.Equal(t, models.StatusError, first.Status)

	failing = false
	second, err := env.pipeline.Submit(ctx, []byte("invoice-6"), "g.pdf", "acme")
	require.NoError(t, err)

	assert.Equal(t, first.DocID, second.DocID)
	assert.Equal(t, models.StatusPosted, second.Status)
	assert.Equal(t, 2, env.extract.calls)
}

func TestSubmitEmptyInputRejected(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) { return cleanResult(), nil })

	_, err := env.pipeline.Submit(context.Background(), nil, "h.pdf", "acme")
	assert.Error(t, err)
	assert.Zero(t, env.extract.calls)
}

func TestExportReturnsPostedEntryCSV(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) { return cleanResult(), nil })
	ctx := context.Background()

	res, err := env.pipeline.Submit(ctx, []byte("invoice-7"), "i.pdf", "acme")
	require.NoError(t, err)
	require.Equal(t, models.StatusPosted, res.Status)

	data, err := env.pipeline.Export(ctx, res.DocID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Fecha,Diario,Documento,Cuenta,Debe,Haber,Concepto,NIF")
	assert.Contains(t, string(data), "628000")
}

func TestExportUnpostedDocumentFails(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) {
		return nil, extraction.ErrTempProvider
	})
	ctx := context.Background()

	res, err := env.pipeline.Submit(ctx, []byte("invoice-8"), "j.pdf", "acme")
	require.NoError(t, err)
	require.Equal(t, models.StatusError, res.Status)

	_, err = env.pipeline.Export(ctx, res.DocID)
	assert.ErrorIs(t, err, ErrNotPosted)
}

func TestStatusUnknownDocument(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) { return cleanResult(), nil })

	_, err := env.pipeline.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSubmitReviewPendingDocumentShortCircuits(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) {
		r := cleanResult()
		r.SupplierNIF = "B65472389"
		r.SupplierName = "Proveedor Nuevo SL"
		return r, nil
	})
	ctx := context.Background()

	first, err := env.pipeline.Submit(ctx, []byte("invoice-9"), "k.pdf", "acme")
	require.NoError(t, err)
	require.Equal(t, models.StatusReviewPending, first.Status)

	second, err := env.pipeline.Submit(ctx, []byte("invoice-9"), "k.pdf", "acme")
	require.NoError(t, err)
	assert.True(t, second.ShortCircuit)
	assert.Equal(t, 1, env.extract.calls,
		"a document awaiting human decision is not reprocessed")
}

func TestSubmitCorruptInputError(t *testing.T) {
	env := newTestEnv(t, func([]byte) (*extraction.Result, error) {
		return nil, fmt.Errorf("%w: bad magic bytes", extraction.ErrCorruptInput)
	})

	res, err := env.pipeline.Submit(context.Background(), []byte("not-a-pdf"), "l.pdf", "acme")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Issues, models.IssueCorruptInput)
}
