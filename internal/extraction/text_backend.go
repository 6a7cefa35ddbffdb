package extraction

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Field patterns for plain-text Spanish invoices. Amounts tolerate both
// "1.234,56" and "1234.56" notations; normalization fixes the separator.
var (
	reSupplier = regexp.MustCompile(`(?im)^\s*(?:Proveedor|Emisor|Raz[oó]n social)\s*[:=]\s*(.+?)\s*$`)
	reNIF      = regexp.MustCompile(`(?im)\b(?:NIF|CIF|VAT)\s*[:=]?\s*((?:ES)?[A-Z0-9][0-9]{7}[A-Z0-9])\b`)
	reNumber   = regexp.MustCompile(`(?im)^\s*(?:Factura|N[uú]m(?:ero)?\.?\s*(?:de\s+)?factura|Invoice)\s*(?:n[ºo°]\.?)?\s*[:=#]?\s*([A-Z0-9][A-Z0-9\-/]*)\s*$`)
	reDate     = regexp.MustCompile(`(?im)\b(?:Fecha(?:\s+de\s+emisi[oó]n)?)\s*[:=]?\s*([0-9]{4}-[0-9]{2}-[0-9]{2}|[0-9]{1,2}[/-][0-9]{1,2}[/-][0-9]{4})`)
	reNet      = regexp.MustCompile(`(?im)\b(?:Base\s+imponible|Subtotal|Base)\s*[:=]?\s*([0-9][0-9.,]*)`)
	reTax      = regexp.MustCompile(`(?im)\b(?:IVA|Cuota)\s*(?:\([0-9]{1,2}\s*%\))?\s*[:=]?\s*([0-9][0-9.,]*)`)
	reGross    = regexp.MustCompile(`(?im)\b(?:Total(?:\s+factura)?|Importe\s+total)\s*[:=]?\s*([0-9][0-9.,]*)`)
	reAbono    = regexp.MustCompile(`(?i)\b(?:abono|rectificativa|credit\s*note)\b`)
)

// TextBackend extracts fields from plain-text documents with regular
// expressions. It serves as the fallback behind the Vision backend and as
// the primary in test and development environments.
type TextBackend struct {
	logger *zap.Logger
}

func NewTextBackend(logger *zap.Logger) *TextBackend {
	return &TextBackend{logger: logger}
}

// Name implements Backend
func (b *TextBackend) Name() string {
	return "text-heuristic"
}

// Analyze implements Backend
func (b *TextBackend) Analyze(ctx context.Context, data []byte, tenant string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := string(data)
	pageCount := 1
	if isPDF(data) {
		var err error
		text, pageCount, err = pdfText(data)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{
		Currency:        "EUR",
		DocType:         "invoice",
		PageCount:       pageCount,
		Text:            text,
		FieldConfidence: map[string]float64{},
	}

	found := 0
	total := 0
	capture := func(re *regexp.Regexp, field string, dst *string) {
		total++
		if m := re.FindStringSubmatch(text); m != nil {
			*dst = strings.TrimSpace(m[1])
			result.FieldConfidence[field] = 0.93
			found++
			return
		}
		result.FieldConfidence[field] = 0.0
	}

	capture(reSupplier, "supplier_name", &result.SupplierName)
	capture(reNIF, "supplier_nif", &result.SupplierNIF)
	capture(reNumber, "invoice_number", &result.InvoiceNumber)
	capture(reDate, "invoice_date", &result.InvoiceDate)
	capture(reNet, "net", &result.Net)
	capture(reTax, "tax", &result.Tax)
	capture(reGross, "gross", &result.Gross)

	if reAbono.MatchString(text) {
		result.DocType = "credit_note"
	}

	if found == total {
		result.Confidence = 0.93
	} else if found > 0 {
		result.Confidence = 0.6
	} else {
		result.Confidence = 0.1
	}

	b.logger.Debug("Text extraction completed",
		zap.String("tenant", tenant),
		zap.Int("fields_found", found),
		zap.Float64("confidence", result.Confidence))

	return result, nil
}
