package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/pkg/database"
)

// DedupeRepository stores the committed invoice fingerprints consulted by
// the duplicate checks. Rows are written only when a document posts.
type DedupeRepository struct {
	db     *database.DB
	logger *zap.Logger
}

func NewDedupeRepository(db *database.DB, logger *zap.Logger) *DedupeRepository {
	return &DedupeRepository{db: db, logger: logger}
}

// Upsert commits a fingerprint, replacing any previous row for the document
func (r *DedupeRepository) Upsert(ctx context.Context, rec *models.DedupeRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dedupe (doc_id, tenant, supplier_nif, invoice_number, invoice_date, gross)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			tenant = excluded.tenant,
			supplier_nif = excluded.supplier_nif,
			invoice_number = excluded.invoice_number,
			invoice_date = excluded.invoice_date,
			gross = excluded.gross`,
		rec.DocID.String(), rec.Tenant, rec.SupplierNIF, rec.InvoiceNumber,
		rec.InvoiceDate, rec.Gross.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dedupe record: %w", err)
	}
	return nil
}

// FindCandidates returns fingerprints for the same tenant and supplier tax
// id with an invoice date at or after cutoff (ISO-8601, inclusive).
func (r *DedupeRepository) FindCandidates(ctx context.Context, tenant, supplierNIF, cutoff string) ([]models.DedupeRecord, error) {
	if supplierNIF == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT doc_id, tenant, supplier_nif, invoice_number, invoice_date, gross
		FROM dedupe
		WHERE tenant = ? AND supplier_nif = ? AND invoice_date >= ?`,
		tenant, supplierNIF, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query dedupe records: %w", err)
	}
	defer rows.Close()

	var records []models.DedupeRecord
	for rows.Next() {
		var rec models.DedupeRecord
		var id, gross string
		if err := rows.Scan(&id, &rec.Tenant, &rec.SupplierNIF, &rec.InvoiceNumber, &rec.InvoiceDate, &gross); err != nil {
			return nil, fmt.Errorf("failed to scan dedupe record: %w", err)
		}
		rec.DocID = models.DocumentID(id)
		if rec.Gross, err = decimal.NewFromString(gross); err != nil {
			return nil, fmt.Errorf("failed to parse dedupe gross: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
