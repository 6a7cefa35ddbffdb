// Package extraction wraps external invoice-recognition backends with the
// resilience controls the pipeline depends on: result caching, admission
// control, circuit breaking, retry with backoff, and a fallback backend.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrThrottled is returned when admission cannot be acquired within the
	// configured wait
	ErrThrottled = errors.New("extraction throttled: admission wait exceeded")

	// ErrProviderDegraded is returned when the circuit breaker is open
	ErrProviderDegraded = errors.New("extraction provider degraded")

	// ErrTempProvider is returned after retries are exhausted on transient
	// failures. Callers must treat it as a normal, recoverable outcome.
	ErrTempProvider = errors.New("extraction provider temporarily unavailable")

	// ErrCorruptInput is returned when the document bytes cannot be read at all
	ErrCorruptInput = errors.New("document is corrupt or unreadable")
)

// TransientError marks a backend failure as retryable. RetryAfter carries a
// server-provided hint when present.
type TransientError struct {
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient extraction failure (status %d): %v", e.Status, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether an error is eligible for retry
func IsTransient(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Line is a raw extracted line item. Amounts stay textual until the
// normalizer parses them into fixed-point decimals.
type Line struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	VATRate     string `json:"vat_rate"`
	Amount      string `json:"amount"`
}

// Result is the raw provider output before normalization
type Result struct {
	SupplierName  string `json:"supplier_name"`
	SupplierNIF   string `json:"supplier_nif"`
	CustomerNIF   string `json:"customer_nif"`
	InvoiceNumber string `json:"invoice_number"`
	InvoiceDate   string `json:"invoice_date"`
	DueDate       string `json:"due_date"`
	Currency      string `json:"currency"`
	DocType       string `json:"doc_type"`
	Category      string `json:"category"`
	Net           string `json:"net"`
	Tax           string `json:"tax"`
	Gross         string `json:"gross"`
	Lines         []Line `json:"lines"`

	Confidence      float64            `json:"confidence"`
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`

	PageCount    int    `json:"page_count"`
	FallbackUsed bool   `json:"fallback_used"`
	Text         string `json:"text,omitempty"`
}

// Backend is a single extraction service. Implementations signal retryable
// failures with *TransientError; anything else is treated as fatal for the
// current document.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, data []byte, tenant string) (*Result, error)
}
