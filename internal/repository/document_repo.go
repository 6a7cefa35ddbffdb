// Package repository implements sqlite persistence for the document
// pipeline. All writes that move a document's status go through the
// lifecycle state machine guard, so a terminal document can never regress.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/domain/workflow"
	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/pkg/database"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("status transition not permitted")
)

// DocumentRepository persists documents and their stage history
type DocumentRepository struct {
	db     *database.DB
	logger *zap.Logger
}

func NewDocumentRepository(db *database.DB, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{db: db, logger: logger}
}

const documentColumns = `doc_id, tenant, filename, status, doc_type, supplier_name,
	supplier_nif, invoice_number, invoice_date, currency, net_amount, tax_amount,
	gross_amount, extraction_conf, entry_conf, global_conf, issues, entry_json,
	error_message, received_at, extracted_at, validated_at, posted_at, created_at, updated_at`

// Create inserts a new document in NEW status
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.Status == "" {
		doc.Status = models.StatusNew
	}
	issues, err := json.Marshal(doc.Issues)
	if err != nil {
		return fmt.Errorf("failed to marshal issues: %w", err)
	}

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO documents (
			doc_id, tenant, filename, status, doc_type, supplier_name, supplier_nif,
			invoice_number, invoice_date, currency, net_amount, tax_amount, gross_amount,
			extraction_conf, entry_conf, global_conf, issues, entry_json, error_message,
			received_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID.String(), doc.Tenant, doc.Filename, doc.Status, doc.DocType,
		doc.SupplierName, doc.SupplierNIF, doc.InvoiceNumber, doc.InvoiceDate,
		doc.Currency, doc.NetAmount.String(), doc.TaxAmount.String(), doc.GrossAmount.String(),
		doc.ExtractionConf, doc.EntryConf, doc.GlobalConf, string(issues), doc.EntryJSON,
		doc.ErrorMessage, doc.ReceivedAt, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID fetches one document
func (r *DocumentRepository) GetByID(ctx context.Context, id models.DocumentID) (*models.Document, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE doc_id = ?", id.String())
	return scanDocument(row)
}

// Update writes back the document's extracted fields and confidences.
// The status column is untouched; status moves only via TransitionStatus.
func (r *DocumentRepository) Update(ctx context.Context, doc *models.Document) error {
	issues, err := json.Marshal(doc.Issues)
	if err != nil {
		return fmt.Errorf("failed to marshal issues: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE documents SET
			doc_type = ?, supplier_name = ?, supplier_nif = ?, invoice_number = ?,
			invoice_date = ?, currency = ?, net_amount = ?, tax_amount = ?,
			gross_amount = ?, extraction_conf = ?, entry_conf = ?, global_conf = ?,
			issues = ?, entry_json = ?, error_message = ?, updated_at = ?
		WHERE doc_id = ?`,
		doc.DocType, doc.SupplierName, doc.SupplierNIF, doc.InvoiceNumber,
		doc.InvoiceDate, doc.Currency, doc.NetAmount.String(), doc.TaxAmount.String(),
		doc.GrossAmount.String(), doc.ExtractionConf, doc.EntryConf, doc.GlobalConf,
		string(issues), doc.EntryJSON, doc.ErrorMessage, time.Now().UTC(), doc.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return requireRowAffected(res)
}

// TransitionStatus moves a document to a new status when the lifecycle
// permits it. Stage timestamps are stamped for the states that carry one.
func (r *DocumentRepository) TransitionStatus(ctx context.Context, id models.DocumentID, to string) error {
	return r.db.WithTransaction(func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM documents WHERE doc_id = ?", id.String()).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read document status: %w", err)
		}

		// Same-state writes are a no-op, not a violation
		if current == to {
			return nil
		}
		if !workflow.CanTransition(workflow.State(current), workflow.State(to)) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
		}

		now := time.Now().UTC()
		stampColumn := map[string]string{
			models.StatusExtracted: "extracted_at",
			models.StatusValidated: "validated_at",
			models.StatusPosted:    "posted_at",
		}[to]

		query := "UPDATE documents SET status = ?, updated_at = ? WHERE doc_id = ?"
		args := []any{to, now, id.String()}
		if stampColumn != "" {
			query = fmt.Sprintf(
				"UPDATE documents SET status = ?, %s = ?, updated_at = ? WHERE doc_id = ?", stampColumn)
			args = []any{to, now, now, id.String()}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to transition document: %w", err)
		}

		r.logger.Debug("Document status transition",
			zap.String("doc_id", id.String()),
			zap.String("from", current),
			zap.String("to", to))
		return nil
	})
}

// StoreError records a failure message without losing accumulated issues
func (r *DocumentRepository) StoreError(ctx context.Context, id models.DocumentID, message string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE documents SET error_message = ?, updated_at = ? WHERE doc_id = ?",
		message, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to store document error: %w", err)
	}
	return requireRowAffected(res)
}

// ListByStatus returns documents in any of the given statuses
func (r *DocumentRepository) ListByStatus(ctx context.Context, statuses ...string) ([]*models.Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = s
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE status IN ("+placeholders+") ORDER BY created_at",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListNonTerminal returns documents whose processing is unfinished,
// used by the watcher's startup requeue.
func (r *DocumentRepository) ListNonTerminal(ctx context.Context) ([]*models.Document, error) {
	return r.ListByStatus(ctx,
		models.StatusNew, models.StatusExtracted, models.StatusValidated, models.StatusError)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var id, net, tax, gross, issues string
	var receivedAt, extractedAt, validatedAt, postedAt sql.NullTime

	err := row.Scan(
		&id, &doc.Tenant, &doc.Filename, &doc.Status, &doc.DocType,
		&doc.SupplierName, &doc.SupplierNIF, &doc.InvoiceNumber, &doc.InvoiceDate,
		&doc.Currency, &net, &tax, &gross,
		&doc.ExtractionConf, &doc.EntryConf, &doc.GlobalConf,
		&issues, &doc.EntryJSON, &doc.ErrorMessage,
		&receivedAt, &extractedAt, &validatedAt, &postedAt,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.ID = models.DocumentID(id)
	if doc.NetAmount, err = decimal.NewFromString(net); err != nil {
		return nil, fmt.Errorf("failed to parse net amount: %w", err)
	}
	if doc.TaxAmount, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("failed to parse tax amount: %w", err)
	}
	if doc.GrossAmount, err = decimal.NewFromString(gross); err != nil {
		return nil, fmt.Errorf("failed to parse gross amount: %w", err)
	}
	if err := json.Unmarshal([]byte(issues), &doc.Issues); err != nil {
		return nil, fmt.Errorf("failed to parse issues: %w", err)
	}

	doc.ReceivedAt = nullTimePtr(receivedAt)
	doc.ExtractedAt = nullTimePtr(extractedAt)
	doc.ValidatedAt = nullTimePtr(validatedAt)
	doc.PostedAt = nullTimePtr(postedAt)
	return &doc, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
