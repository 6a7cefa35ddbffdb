package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
)

// SummaryWriter produces one workbook per processed batch with the
// per-document outcome and the batch partition counts.
type SummaryWriter struct {
	dir    string
	logger *zap.Logger
}

func NewSummaryWriter(dir string, logger *zap.Logger) *SummaryWriter {
	return &SummaryWriter{dir: dir, logger: logger}
}

var summaryHeader = []string{
	"Documento", "Fichero", "Proveedor", "NIF", "Número", "Fecha",
	"Total", "Estado", "Confianza", "Incidencias",
}

// Write renders the batch summary workbook and returns its path
func (w *SummaryWriter) Write(run *models.BatchRun, docs []*models.Document) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Resumen"
	f.SetSheetName("Sheet1", sheet)

	// Batch header block
	w.setCell(f, sheet, "A1", "Lote")
	w.setCell(f, sheet, "B1", run.ID)
	w.setCell(f, sheet, "A2", "Origen")
	w.setCell(f, sheet, "B2", run.Source)
	w.setCell(f, sheet, "A3", "Disparo")
	w.setCell(f, sheet, "B3", run.TriggerReason)
	w.setCell(f, sheet, "A4", "Contabilizadas")
	w.setCell(f, sheet, "B4", run.PostedCount)
	w.setCell(f, sheet, "A5", "En revisión")
	w.setCell(f, sheet, "B5", run.ReviewCount)
	w.setCell(f, sheet, "A6", "Con error")
	w.setCell(f, sheet, "B6", run.ErrorCount)

	headerRow := 8
	for col, title := range summaryHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, headerRow)
		if err != nil {
			return "", fmt.Errorf("failed to build header cell: %w", err)
		}
		w.setCell(f, sheet, cell, title)
	}

	for i, doc := range docs {
		row := headerRow + 1 + i
		values := []interface{}{
			doc.ID.String(),
			doc.Filename,
			doc.SupplierName,
			doc.SupplierNIF,
			doc.InvoiceNumber,
			doc.InvoiceDate,
			doc.GrossAmount.StringFixed(2),
			doc.Status,
			fmt.Sprintf("%.2f", doc.GlobalConf),
			joinIssues(doc.Issues),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return "", fmt.Errorf("failed to build data cell: %w", err)
			}
			w.setCell(f, sheet, cell, value)
		}
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create summary directory: %w", err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("batch_%s.xlsx", run.ID))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save batch summary: %w", err)
	}

	w.logger.Info("Wrote batch summary",
		zap.String("batch_id", run.ID),
		zap.String("path", path),
		zap.Int("documents", len(docs)))
	return path, nil
}

func (w *SummaryWriter) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		w.logger.Warn("Failed to set summary cell",
			zap.String("cell", cell), zap.Error(err))
	}
}

func joinIssues(issues []string) string {
	out := ""
	for i, code := range issues {
		if i > 0 {
			out += "; "
		}
		out += models.IssueMessage(code)
	}
	return out
}
