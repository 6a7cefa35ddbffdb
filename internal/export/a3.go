// Package export writes posted entries to ERP import files and batch
// summary workbooks.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
)

// a3Columns is the fixed header of an A3 import file
var a3Columns = []string{"Fecha", "Diario", "Documento", "Cuenta", "Debe", "Haber", "Concepto", "NIF"}

// A3Exporter renders candidate entries as A3-compatible CSV files,
// one file per document.
type A3Exporter struct {
	dir    string
	logger *zap.Logger
}

func NewA3Exporter(dir string, logger *zap.Logger) *A3Exporter {
	return &A3Exporter{dir: dir, logger: logger}
}

// Render produces the CSV bytes for an entry without touching disk
func (e *A3Exporter) Render(entry *models.CandidateEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(a3Columns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, line := range entry.Lines {
		concept := line.Description
		if concept == "" {
			concept = entry.SupplierName
		}
		nif := line.NIF
		if nif == "" {
			nif = entry.SupplierNIF
		}
		record := []string{
			entry.Date,
			entry.Journal,
			entry.InvoiceNumber,
			line.Account,
			line.Debit.StringFixed(2),
			line.Credit.StringFixed(2),
			concept,
			nif,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV line: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// Export writes the entry's CSV file, returning its path
func (e *A3Exporter) Export(entry *models.CandidateEntry) (string, error) {
	data, err := e.Render(entry)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(e.dir, entry.DocID.String()+".csv")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	e.logger.Info("Exported A3 entry",
		zap.String("doc_id", entry.DocID.String()),
		zap.String("path", path),
		zap.Int("lines", len(entry.Lines)))
	return path, nil
}
