package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentID is the sha256 hex digest of a document's raw bytes.
// Identical bytes always map to the same DocumentID.
type DocumentID string

func (id DocumentID) String() string { return string(id) }

// Document status constants, mirroring the lifecycle state machine
const (
	StatusNew           = "NEW"
	StatusExtracted     = "EXTRACTED"
	StatusValidated     = "VALIDATED"
	StatusPosted        = "POSTED"
	StatusReviewPending = "REVIEW_PENDING"
	StatusError         = "ERROR"
)

// TerminalStatuses are statuses that re-submission must not disturb.
// REVIEW_PENDING and ERROR are resolvable (re-runs allowed), POSTED is not.
var TerminalStatuses = map[string]bool{
	StatusPosted: true,
}

// Document represents one physical invoice file across its lifetime
type Document struct {
	ID            DocumentID      `json:"doc_id"`
	Tenant        string          `json:"tenant"`
	Filename      string          `json:"filename"`
	Status        string          `json:"status"`
	DocType       string          `json:"doc_type"`
	SupplierName  string          `json:"supplier_name"`
	SupplierNIF   string          `json:"supplier_nif"`
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   string          `json:"invoice_date"` // ISO-8601
	Currency      string          `json:"currency"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`

	ExtractionConf float64 `json:"extraction_conf"`
	EntryConf      float64 `json:"entry_conf"`
	GlobalConf     float64 `json:"global_conf"`

	Issues       []string `json:"issues"`
	EntryJSON    string   `json:"entry_json,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`

	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	ExtractedAt *time.Time `json:"extracted_at,omitempty"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether re-submitting identical bytes must be a no-op
func (d *Document) IsTerminal() bool {
	return TerminalStatuses[d.Status]
}

// Disposition is the terminal routing decision for a document
type Disposition string

const (
	DispositionAutoPost      Disposition = "AUTO_POST"
	DispositionReviewPending Disposition = "REVIEW_PENDING"
	DispositionError         Disposition = "ERROR"
)

// ReviewItem is queued when a document routes to REVIEW_PENDING.
// It is resolved only by an explicit human decision, outside this core.
type ReviewItem struct {
	ID         string     `json:"id"`
	DocID      DocumentID `json:"doc_id"`
	Tenant     string     `json:"tenant"`
	Reason     string     `json:"reason"`
	Issues     []string   `json:"issues"`
	Suggestion string     `json:"suggestion,omitempty"` // JSON of a suggested resolution
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// DedupeRecord is the committed fingerprint used by the duplicate window
type DedupeRecord struct {
	DocID         DocumentID      `json:"doc_id"`
	Tenant        string          `json:"tenant"`
	SupplierNIF   string          `json:"supplier_nif"`
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   string          `json:"invoice_date"`
	Gross         decimal.Decimal `json:"gross"`
}

// VendorRule maps a (tenant, counterparty) to an account and VAT treatment
type VendorRule struct {
	ID           int64           `json:"id"`
	Tenant       string          `json:"tenant"`
	SupplierNIF  string          `json:"supplier_nif"`
	SupplierName string          `json:"supplier_name"`
	Account      string          `json:"account"`
	VATRate      decimal.Decimal `json:"vat_rate"`
}

// BatchRun summarizes one processed batch. Every document lands in exactly
// one of the three partitions.
type BatchRun struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	TriggerReason string     `json:"trigger_reason"` // SIZE_REACHED, TIMEOUT_REACHED, STABILIZED
	DocCount      int        `json:"doc_count"`
	PostedCount   int        `json:"posted_count"`
	ReviewCount   int        `json:"review_count"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}
