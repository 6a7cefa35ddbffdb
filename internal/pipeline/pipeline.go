// Package pipeline drives one document through extraction, normalization,
// rules evaluation, and routing, persisting every stage. Submitting the
// same bytes twice is a no-op once the document has posted.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/extraction"
	"github.com/certiva/docpipe/internal/identity"
	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/internal/normalize"
	"github.com/certiva/docpipe/internal/notify"
	"github.com/certiva/docpipe/internal/policy"
	"github.com/certiva/docpipe/internal/repository"
	"github.com/certiva/docpipe/internal/router"
	"github.com/certiva/docpipe/internal/rules"
)

// ErrNotPosted is returned by Export for documents without a posted entry
var ErrNotPosted = errors.New("document has no posted entry")

// Extractor is the resilient provider surface the pipeline depends on
type Extractor interface {
	Extract(ctx context.Context, docID models.DocumentID, data []byte, tenant string) (*extraction.Result, error)
}

// Exporter renders and writes the ERP file for a posted entry
type Exporter interface {
	Render(entry *models.CandidateEntry) ([]byte, error)
	Export(entry *models.CandidateEntry) (string, error)
}

// Result is the outcome of one Submit call
type Result struct {
	DocID       models.DocumentID
	Status      string
	Disposition models.Disposition
	Issues      []string
	GlobalConf  float64
	// ShortCircuit is true when the document was already terminal and no
	// processing happened.
	ShortCircuit bool
}

// Pipeline wires the processing stages together
type Pipeline struct {
	docs     *repository.DocumentRepository
	dedupe   *repository.DedupeRepository
	reviews  *repository.ReviewRepository
	rules    *repository.RuleRepository
	provider Extractor
	norm     *normalize.Normalizer
	engine   *rules.Engine
	router   *router.Router
	policies *policy.Store
	exporter Exporter
	notifier notify.ReviewNotifier
	logger   *zap.Logger
	now      func() time.Time
}

type Deps struct {
	Documents *repository.DocumentRepository
	Dedupe    *repository.DedupeRepository
	Reviews   *repository.ReviewRepository
	Rules     *repository.RuleRepository
	Provider  Extractor
	Policies  *policy.Store
	Exporter  Exporter
	Notifier  notify.ReviewNotifier
	Engine    *rules.Engine
	Router    *router.Router
}

func New(deps Deps, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		docs:     deps.Documents,
		dedupe:   deps.Dedupe,
		reviews:  deps.Reviews,
		rules:    deps.Rules,
		provider: deps.Provider,
		norm:     normalize.New(logger),
		engine:   deps.Engine,
		router:   deps.Router,
		policies: deps.Policies,
		exporter: deps.Exporter,
		notifier: deps.Notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the reference time source, used by tests
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Submit processes raw document bytes end to end. Identity is content
// based: identical bytes always map to the same document, and a posted
// document is never touched again.
func (p *Pipeline) Submit(ctx context.Context, data []byte, filename, tenant string) (*Result, error) {
	docID, err := identity.Identify(data)
	if err != nil {
		return nil, err
	}

	log := p.logger.With(zap.String("doc_id", docID.String()), zap.String("tenant", tenant))

	existing, err := p.docs.GetByID(ctx, docID)
	switch {
	case err == nil:
		if existing.Status == models.StatusPosted || existing.Status == models.StatusReviewPending {
			log.Info("Document already handled, skipping", zap.String("status", existing.Status))
			return &Result{
				DocID:        docID,
				Status:       existing.Status,
				Issues:       existing.Issues,
				GlobalConf:   existing.GlobalConf,
				ShortCircuit: true,
			}, nil
		}
		// ERROR documents reopen; NEW/EXTRACTED/VALIDATED are crash leftovers
		if existing.Status == models.StatusError {
			if err := p.docs.TransitionStatus(ctx, docID, models.StatusNew); err != nil {
				return nil, fmt.Errorf("failed to reopen document: %w", err)
			}
		}
	case errors.Is(err, repository.ErrNotFound):
		received := p.now().UTC()
		doc := &models.Document{
			ID:         docID,
			Tenant:     tenant,
			Filename:   filename,
			Status:     models.StatusNew,
			Currency:   "EUR",
			ReceivedAt: &received,
		}
		if err := p.docs.Create(ctx, doc); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return p.process(ctx, docID, data, filename, tenant, log)
}

func (p *Pipeline) process(ctx context.Context, docID models.DocumentID, data []byte, filename, tenant string, log *zap.Logger) (*Result, error) {
	raw, err := p.provider.Extract(ctx, docID, data, tenant)
	if err != nil {
		return p.failExtraction(ctx, docID, err, log)
	}
	if err := p.advance(ctx, docID, models.StatusExtracted); err != nil {
		return nil, err
	}

	inv, err := p.norm.Normalize(raw)
	if err != nil {
		return p.fail(ctx, docID, []string{models.IssueCorruptInput}, err, log)
	}

	if raw.FallbackUsed {
		inv.Issues = models.AppendIssue(inv.Issues, models.IssueFallbackUsed)
		// A heuristic fallback extraction is never trusted above its base
		if inv.Confidence > 0.60 {
			inv.Confidence = 0.60
		}
	}
	if raw.PageCount == 0 {
		inv.Issues = models.AppendIssue(inv.Issues, models.IssuePageCountZero)
	}

	pol := p.policies.Get(tenant)
	now := p.now()

	ruleset, err := p.rules.ListByTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	duplicates, err := p.dedupe.FindCandidates(ctx, tenant, inv.SupplierNIF, p.engine.DuplicateCutoff(now))
	if err != nil {
		return nil, err
	}

	eval := p.engine.Evaluate(docID, inv, tenant, ruleset, duplicates, pol, now)
	if err := p.advance(ctx, docID, models.StatusValidated); err != nil {
		return nil, err
	}

	decision := p.router.Route(router.Input{
		DocID:          docID,
		Tenant:         tenant,
		Category:       inv.Category,
		Issues:         eval.Issues,
		ExtractionConf: inv.Confidence,
		EntryConf:      eval.EntryConf,
		Policy:         pol,
	})

	entryJSON, err := json.Marshal(eval.Entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}

	doc, err := p.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	doc.Filename = filename
	doc.DocType = inv.DocType
	doc.SupplierName = inv.SupplierName
	doc.SupplierNIF = inv.SupplierNIF
	doc.InvoiceNumber = inv.InvoiceNumber
	doc.InvoiceDate = eval.Entry.Date
	doc.Currency = inv.Currency
	doc.NetAmount = inv.Net
	doc.TaxAmount = inv.Tax
	doc.GrossAmount = eval.Entry.Gross
	doc.ExtractionConf = inv.Confidence
	doc.EntryConf = eval.EntryConf
	doc.GlobalConf = decision.GlobalConf
	doc.Issues = decision.Issues
	doc.EntryJSON = string(entryJSON)
	if err := p.docs.Update(ctx, doc); err != nil {
		return nil, err
	}

	// The fingerprint is committed for every evaluated document, not just
	// posted ones. A rescan of an invoice waiting in the review queue must
	// still surface as a duplicate.
	if err := p.dedupe.Upsert(ctx, &models.DedupeRecord{
		DocID:         doc.ID,
		Tenant:        doc.Tenant,
		SupplierNIF:   doc.SupplierNIF,
		InvoiceNumber: doc.InvoiceNumber,
		InvoiceDate:   doc.InvoiceDate,
		Gross:         doc.GrossAmount,
	}); err != nil {
		return nil, err
	}

	switch decision.Disposition {
	case models.DispositionAutoPost:
		return p.post(ctx, doc, &eval.Entry, decision, log)
	case models.DispositionReviewPending:
		return p.review(ctx, doc, &eval.Entry, decision, log)
	default:
		return p.fail(ctx, docID, decision.Issues, errors.New("routing produced an error disposition"), log)
	}
}

// advance records an intermediate stage. A document resumed past the
// stage (a crash leftover) is left where it is.
func (p *Pipeline) advance(ctx context.Context, docID models.DocumentID, to string) error {
	err := p.docs.TransitionStatus(ctx, docID, to)
	if errors.Is(err, repository.ErrInvalidTransition) {
		return nil
	}
	return err
}

// post exports the entry and marks POSTED
func (p *Pipeline) post(ctx context.Context, doc *models.Document, entry *models.CandidateEntry, decision router.Decision, log *zap.Logger) (*Result, error) {
	if _, err := p.exporter.Export(entry); err != nil {
		return p.fail(ctx, doc.ID, decision.Issues, fmt.Errorf("failed to export entry: %w", err), log)
	}

	if err := p.docs.TransitionStatus(ctx, doc.ID, models.StatusPosted); err != nil {
		return nil, err
	}

	log.Info("Document auto-posted",
		zap.String("gross", doc.GrossAmount.String()),
		zap.Float64("global_conf", decision.GlobalConf))
	return &Result{
		DocID:       doc.ID,
		Status:      models.StatusPosted,
		Disposition: models.DispositionAutoPost,
		Issues:      decision.Issues,
		GlobalConf:  decision.GlobalConf,
	}, nil
}

// review queues the document for a human decision and notifies
func (p *Pipeline) review(ctx context.Context, doc *models.Document, entry *models.CandidateEntry, decision router.Decision, log *zap.Logger) (*Result, error) {
	suggestion, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal suggestion: %w", err)
	}

	item := &models.ReviewItem{
		DocID:      doc.ID,
		Tenant:     doc.Tenant,
		Reason:     reviewReason(decision.Issues),
		Issues:     decision.Issues,
		Suggestion: string(suggestion),
	}
	if err := p.reviews.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	if err := p.docs.TransitionStatus(ctx, doc.ID, models.StatusReviewPending); err != nil {
		return nil, err
	}

	if err := p.notifier.NotifyReview(ctx, item); err != nil {
		log.Warn("Failed to notify review", zap.Error(err))
	}

	log.Info("Document queued for review", zap.Strings("issues", decision.Issues))
	return &Result{
		DocID:       doc.ID,
		Status:      models.StatusReviewPending,
		Disposition: models.DispositionReviewPending,
		Issues:      decision.Issues,
		GlobalConf:  decision.GlobalConf,
	}, nil
}

// failExtraction maps provider errors to issue codes and an ERROR status
func (p *Pipeline) failExtraction(ctx context.Context, docID models.DocumentID, extractErr error, log *zap.Logger) (*Result, error) {
	var issues []string
	switch {
	case errors.Is(extractErr, extraction.ErrCorruptInput):
		issues = []string{models.IssueCorruptInput}
	case errors.Is(extractErr, extraction.ErrProviderDegraded):
		issues = []string{models.IssueProviderDegraded, models.IssueProviderUnavailable}
	case errors.Is(extractErr, extraction.ErrTempProvider), errors.Is(extractErr, extraction.ErrThrottled):
		issues = []string{models.IssueOCRTempError, models.IssueProviderUnavailable}
	default:
		issues = []string{models.IssueOCRTempError}
	}
	return p.fail(ctx, docID, issues, extractErr, log)
}

func (p *Pipeline) fail(ctx context.Context, docID models.DocumentID, issues []string, cause error, log *zap.Logger) (*Result, error) {
	if err := p.docs.TransitionStatus(ctx, docID, models.StatusError); err != nil {
		return nil, err
	}
	if err := p.docs.StoreError(ctx, docID, cause.Error()); err != nil {
		return nil, err
	}

	doc, err := p.docs.GetByID(ctx, docID)
	if err == nil {
		for _, code := range issues {
			doc.Issues = models.AppendIssue(doc.Issues, code)
		}
		if updateErr := p.docs.Update(ctx, doc); updateErr != nil {
			log.Warn("Failed to persist error issues", zap.Error(updateErr))
		}
	}

	log.Warn("Document failed", zap.Strings("issues", issues), zap.Error(cause))
	return &Result{
		DocID:       docID,
		Status:      models.StatusError,
		Disposition: models.DispositionError,
		Issues:      issues,
	}, nil
}

// Status returns the persisted document
func (p *Pipeline) Status(ctx context.Context, docID models.DocumentID) (*models.Document, error) {
	return p.docs.GetByID(ctx, docID)
}

// Export returns the A3 CSV bytes of a posted document's entry
func (p *Pipeline) Export(ctx context.Context, docID models.DocumentID) ([]byte, error) {
	doc, err := p.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusPosted || doc.EntryJSON == "" {
		return nil, ErrNotPosted
	}

	var entry models.CandidateEntry
	if err := json.Unmarshal([]byte(doc.EntryJSON), &entry); err != nil {
		return nil, fmt.Errorf("failed to parse stored entry: %w", err)
	}
	return p.exporter.Render(&entry)
}

// reviewReason joins the human-readable issue messages
func reviewReason(issues []string) string {
	if len(issues) == 0 {
		return "Revisión manual"
	}
	messages := make([]string, 0, len(issues))
	for _, code := range issues {
		messages = append(messages, models.IssueMessage(code))
	}
	return strings.Join(messages, "; ")
}
