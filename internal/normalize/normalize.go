// Package normalize converts raw extraction output into a typed invoice
// with quantized amounts, ISO dates, and canonical tax identifiers.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/extraction"
	"github.com/certiva/docpipe/internal/fiscal"
	"github.com/certiva/docpipe/internal/models"
)

// Line is one normalized invoice line
type Line struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

// Invoice is the normalized view of an extraction result. Amounts are
// quantized to 2 decimal places; dates are ISO-8601; the supplier tax id is
// canonical (uppercase, no separators).
type Invoice struct {
	DocType       string
	SupplierName  string
	SupplierNIF   string
	NIFStatus     fiscal.Status
	CustomerNIF   string
	InvoiceNumber string
	InvoiceDate   string
	DueDate       string
	Currency      string
	Category      string
	Net           decimal.Decimal
	Tax           decimal.Decimal
	Gross         decimal.Decimal
	Lines         []Line

	Confidence      float64
	FieldConfidence map[string]float64
	FallbackUsed    bool

	// Issues collected during normalization (MISSING_*), in detection order
	Issues []string
}

// dateLayouts are accepted input date formats, day-first tolerated
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
}

// Normalizer turns extraction results into invoices. It never fails on
// missing fields, only on structurally unusable input.
type Normalizer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize builds an Invoice from a raw extraction result.
// Missing fields become MISSING_* issues on the invoice, never errors.
func (n *Normalizer) Normalize(result *extraction.Result) (*Invoice, error) {
	if result == nil {
		return nil, fmt.Errorf("nil extraction result")
	}

	inv := &Invoice{
		DocType:         normalizeDocType(result.DocType),
		SupplierName:    strings.TrimSpace(result.SupplierName),
		CustomerNIF:     fiscal.Canonicalize(result.CustomerNIF),
		InvoiceNumber:   strings.TrimSpace(result.InvoiceNumber),
		Currency:        normalizeCurrency(result.Currency),
		Category:        strings.ToLower(strings.TrimSpace(result.Category)),
		Confidence:      result.Confidence,
		FieldConfidence: result.FieldConfidence,
		FallbackUsed:    result.FallbackUsed,
	}

	inv.SupplierNIF = fiscal.Canonicalize(result.SupplierNIF)
	if inv.SupplierNIF != "" {
		inv.NIFStatus = fiscal.ValidateNIF(inv.SupplierNIF)
	}

	inv.InvoiceDate = normalizeDate(result.InvoiceDate)
	inv.DueDate = normalizeDate(result.DueDate)

	net, netOK := ParseAmount(result.Net)
	tax, taxOK := ParseAmount(result.Tax)
	gross, grossOK := ParseAmount(result.Gross)

	// Backfill: any one of net/tax/gross can be derived from the other two
	switch {
	case netOK && taxOK && !grossOK:
		gross = net.Add(tax)
		grossOK = true
	case grossOK && taxOK && !netOK:
		net = gross.Sub(tax)
		netOK = true
	case grossOK && netOK && !taxOK:
		tax = gross.Sub(net)
		taxOK = true
	}

	if netOK {
		inv.Net = net
	}
	if taxOK {
		inv.Tax = tax
	}
	if grossOK {
		inv.Gross = gross
	}

	for _, line := range result.Lines {
		amount, ok := ParseAmount(line.Amount)
		if !ok {
			continue
		}
		rate, _ := ParseAmount(line.VATRate)
		inv.Lines = append(inv.Lines, Line{
			Description: strings.TrimSpace(line.Description),
			Amount:      amount,
			VATRate:     rate,
		})
	}

	// Synthesize a single line when extraction yields none but totals exist
	if len(inv.Lines) == 0 && netOK {
		rate := decimal.Zero
		if taxOK && !net.IsZero() {
			rate = tax.Div(net).Mul(decimal.NewFromInt(100)).Round(0)
		}
		desc := inv.SupplierName
		if desc == "" {
			desc = "Factura"
		}
		inv.Lines = append(inv.Lines, Line{Description: desc, Amount: net, VATRate: rate})
	}

	if inv.SupplierNIF == "" {
		inv.Issues = models.AppendIssue(inv.Issues, models.IssueMissingSupplierNIF)
	}
	if inv.InvoiceNumber == "" {
		inv.Issues = models.AppendIssue(inv.Issues, models.IssueMissingInvoiceNumber)
	}
	if inv.InvoiceDate == "" {
		if strings.TrimSpace(result.InvoiceDate) != "" {
			inv.Issues = models.AppendIssue(inv.Issues, models.IssueInvalidDate)
		} else {
			inv.Issues = models.AppendIssue(inv.Issues, models.IssueMissingDate)
		}
	}
	if !grossOK {
		inv.Issues = models.AppendIssue(inv.Issues, models.IssueMissingGross)
	}

	n.logger.Debug("Normalized invoice",
		zap.String("supplier_nif", inv.SupplierNIF),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("gross", inv.Gross.String()),
		zap.Int("issues", len(inv.Issues)))

	return inv, nil
}

// ParseAmount parses a raw amount string tolerating both "1.234,56" and
// "1234.56" notations. Results are quantized to 2 decimal places, half-up.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false
	}
	s = strings.TrimSuffix(s, "€")
	s = strings.TrimPrefix(s, "€")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSuffix(s, "%")

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	if lastComma > lastDot {
		// Comma is the decimal separator; dots are thousands
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else if lastComma >= 0 {
		// Dot is the decimal separator; commas are thousands
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d.Round(2), true
}

func normalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func normalizeCurrency(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || s == "€" {
		return "EUR"
	}
	return s
}

func normalizeDocType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "credit_note", "abono", "rectificativa":
		return "credit_note"
	case "expense_ticket", "ticket", "recibo", "receipt":
		return "expense_ticket"
	default:
		return "invoice"
	}
}
