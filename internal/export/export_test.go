package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
)

func sampleEntry() *models.CandidateEntry {
	return &models.CandidateEntry{
		DocID:         "doc-1",
		Tenant:        "acme",
		Journal:       "COMPRAS",
		Date:          "2026-02-10",
		InvoiceNumber: "F-2026-0117",
		Currency:      "EUR",
		SupplierName:  "Suministros Norte SL",
		SupplierNIF:   "B12345674",
		Gross:         decimal.RequireFromString("145.20"),
		Lines: []models.EntryLine{
			{Account: "628000", Debit: decimal.RequireFromString("120"), Description: "F-2026-0117 (21.00%)"},
			{Account: "472000", Debit: decimal.RequireFromString("25.20"), Description: "IVA SOPORTADO 21.00%"},
			{Account: "410000", Credit: decimal.RequireFromString("145.20"), Description: "Suministros Norte SL", NIF: "B12345674"},
		},
	}
}

func TestA3RenderFixedColumns(t *testing.T) {
	e := NewA3Exporter(t.TempDir(), zap.NewNop())

	data, err := e.Render(sampleEntry())
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{"Fecha", "Diario", "Documento", "Cuenta", "Debe", "Haber", "Concepto", "NIF"}, records[0])
	assert.Equal(t, []string{"2026-02-10", "COMPRAS", "F-2026-0117", "628000", "120.00", "0.00", "F-2026-0117 (21.00%)", "B12345674"}, records[1])
	assert.Equal(t, "25.20", records[2][4])
	assert.Equal(t, []string{"2026-02-10", "COMPRAS", "F-2026-0117", "410000", "0.00", "145.20", "Suministros Norte SL", "B12345674"}, records[3])
}

func TestA3ExportWritesFile(t *testing.T) {
	dir := t.TempDir()
	e := NewA3Exporter(dir, zap.NewNop())

	path, err := e.Export(sampleEntry())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "doc-1.csv"), path)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSummaryWriteWorkbook(t *testing.T) {
	dir := t.TempDir()
	w := NewSummaryWriter(dir, zap.NewNop())

	run := &models.BatchRun{
		ID:            "batch-1",
		Source:        "inbox",
		TriggerReason: "STABILIZED",
		DocCount:      2,
		PostedCount:   1,
		ReviewCount:   1,
	}
	docs := []*models.Document{
		{
			ID: "doc-1", Filename: "a.pdf", SupplierName: "Acme SL", SupplierNIF: "B12345674",
			InvoiceNumber: "F-1", InvoiceDate: "2026-02-10", Status: models.StatusPosted,
			GrossAmount: decimal.RequireFromString("145.20"), GlobalConf: 0.95,
		},
		{
			ID: "doc-2", Filename: "b.pdf", SupplierName: "Beta SL",
			Status: models.StatusReviewPending, GlobalConf: 0.60,
			GrossAmount: decimal.RequireFromString("99.00"),
			Issues:      []string{models.IssueNoRule},
		},
	}

	path, err := w.Write(run, docs)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetCellValue("Resumen", "B1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", got)

	got, err = f.GetCellValue("Resumen", "A9")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got)

	got, err = f.GetCellValue("Resumen", "H10")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewPending, got)
}
