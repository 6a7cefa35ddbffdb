package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleInvoiceText = `Proveedor: Suministros Industriales Norte SL
NIF: B12345674
Factura: F-2026-0117
Fecha: 2026-02-10
Base imponible: 120,00
IVA (21%): 25,20
Total: 145,20
`

func TestTextBackendExtractsAllFields(t *testing.T) {
	b := NewTextBackend(zap.NewNop())

	result, err := b.Analyze(context.Background(), []byte(sampleInvoiceText), "acme")
	require.NoError(t, err)

	assert.Equal(t, "Suministros Industriales Norte SL", result.SupplierName)
	assert.Equal(t, "B12345674", result.SupplierNIF)
	assert.Equal(t, "F-2026-0117", result.InvoiceNumber)
	assert.Equal(t, "2026-02-10", result.InvoiceDate)
	assert.Equal(t, "120,00", result.Net)
	assert.Equal(t, "25,20", result.Tax)
	assert.Equal(t, "145,20", result.Gross)
	assert.Equal(t, "invoice", result.DocType)
	assert.InDelta(t, 0.93, result.Confidence, 0.001)
}

func TestTextBackendPartialFieldsLowerConfidence(t *testing.T) {
	b := NewTextBackend(zap.NewNop())

	result, err := b.Analyze(context.Background(), []byte("Proveedor: Acme SL\nTotal: 99,00\n"), "acme")
	require.NoError(t, err)

	assert.Equal(t, "Acme SL", result.SupplierName)
	assert.Empty(t, result.SupplierNIF)
	assert.InDelta(t, 0.6, result.Confidence, 0.001)
}

func TestTextBackendDetectsCreditNote(t *testing.T) {
	b := NewTextBackend(zap.NewNop())

	text := sampleInvoiceText + "Factura rectificativa de F-2026-0050\n"
	result, err := b.Analyze(context.Background(), []byte(text), "acme")
	require.NoError(t, err)

	assert.Equal(t, "credit_note", result.DocType)
}
