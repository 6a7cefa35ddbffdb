package models

import (
	"github.com/shopspring/decimal"
)

// EntryLine is one line of a candidate accounting entry
type EntryLine struct {
	Account     string          `json:"account"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
	VATRate     decimal.Decimal `json:"vat_rate,omitempty"`
	NIF         string          `json:"nif,omitempty"`
}

// CandidateEntry is the proposed accounting entry for a document.
// Owned exclusively by the document that produced it until posted.
type CandidateEntry struct {
	DocID         DocumentID      `json:"doc_id"`
	Tenant        string          `json:"tenant"`
	Journal       string          `json:"journal"`
	Date          string          `json:"date"` // ISO-8601
	DueDate       string          `json:"due_date,omitempty"`
	InvoiceNumber string          `json:"invoice_number"`
	Currency      string          `json:"currency"`
	SupplierName  string          `json:"supplier_name"`
	SupplierNIF   string          `json:"supplier_nif"`
	Lines         []EntryLine     `json:"lines"`
	MappingSource string          `json:"mapping_source"` // rule_nif, rule_name, category, suspense
	Flow          string          `json:"flow"`           // AP or AR
	CreditNote    bool            `json:"credit_note"`
	Gross         decimal.Decimal `json:"gross"`
}

// TotalDebit sums the debit side of all lines
func (e *CandidateEntry) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Debit)
	}
	return total
}

// TotalCredit sums the credit side of all lines
func (e *CandidateEntry) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Credit)
	}
	return total
}

// Balanced reports whether debits equal credits within tolerance
func (e *CandidateEntry) Balanced(tolerance decimal.Decimal) bool {
	return e.TotalDebit().Sub(e.TotalCredit()).Abs().LessThanOrEqual(tolerance)
}
