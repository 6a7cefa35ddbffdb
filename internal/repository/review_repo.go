package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/pkg/database"
)

// ReviewRepository stores the manual review queue
type ReviewRepository struct {
	db     *database.DB
	logger *zap.Logger
}

func NewReviewRepository(db *database.DB, logger *zap.Logger) *ReviewRepository {
	return &ReviewRepository{db: db, logger: logger}
}

// Enqueue adds a document to the review queue. A document re-routed to
// review keeps a single queue row with the latest reason.
func (r *ReviewRepository) Enqueue(ctx context.Context, item *models.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = time.Now().UTC()

	issues, err := json.Marshal(item.Issues)
	if err != nil {
		return fmt.Errorf("failed to marshal review issues: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO review_queue (id, doc_id, tenant, reason, issues, suggestion, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			reason = excluded.reason,
			issues = excluded.issues,
			suggestion = excluded.suggestion,
			resolved = 0,
			resolved_at = NULL`,
		item.ID, item.DocID.String(), item.Tenant, item.Reason,
		string(issues), item.Suggestion, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue review item: %w", err)
	}
	return nil
}

// GetByDocID returns the queue row for a document
func (r *ReviewRepository) GetByDocID(ctx context.Context, docID models.DocumentID) (*models.ReviewItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, doc_id, tenant, reason, issues, suggestion, resolved, created_at, resolved_at
		FROM review_queue WHERE doc_id = ?`, docID.String())
	return scanReviewItem(row)
}

// ListPending returns unresolved review items, oldest first
func (r *ReviewRepository) ListPending(ctx context.Context, tenant string) ([]*models.ReviewItem, error) {
	query := `
		SELECT id, doc_id, tenant, reason, issues, suggestion, resolved, created_at, resolved_at
		FROM review_queue WHERE resolved = 0`
	args := []any{}
	if tenant != "" {
		query += " AND tenant = ?"
		args = append(args, tenant)
	}
	query += " ORDER BY created_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	defer rows.Close()

	var items []*models.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Resolve marks a review item as handled by a human decision
func (r *ReviewRepository) Resolve(ctx context.Context, docID models.DocumentID) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE review_queue SET resolved = 1, resolved_at = ? WHERE doc_id = ? AND resolved = 0",
		time.Now().UTC(), docID.String())
	if err != nil {
		return fmt.Errorf("failed to resolve review item: %w", err)
	}
	return requireRowAffected(res)
}

func scanReviewItem(row rowScanner) (*models.ReviewItem, error) {
	var item models.ReviewItem
	var docID, issues string
	var resolvedAt sql.NullTime

	err := row.Scan(&item.ID, &docID, &item.Tenant, &item.Reason, &issues,
		&item.Suggestion, &item.Resolved, &item.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan review item: %w", err)
	}

	item.DocID = models.DocumentID(docID)
	if err := json.Unmarshal([]byte(issues), &item.Issues); err != nil {
		return nil, fmt.Errorf("failed to parse review issues: %w", err)
	}
	item.ResolvedAt = nullTimePtr(resolvedAt)
	return &item, nil
}
