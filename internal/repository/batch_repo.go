package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/pkg/database"
)

// BatchRepository records batch runs and their partition counts
type BatchRepository struct {
	db     *database.DB
	logger *zap.Logger
}

func NewBatchRepository(db *database.DB, logger *zap.Logger) *BatchRepository {
	return &BatchRepository{db: db, logger: logger}
}

// Start records the beginning of a batch run
func (r *BatchRepository) Start(ctx context.Context, run *models.BatchRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO batch_runs (id, source, trigger_reason, doc_count, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.TriggerReason, run.DocCount, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to record batch start: %w", err)
	}
	return nil
}

// Finish stores the final partition counts for a batch run
func (r *BatchRepository) Finish(ctx context.Context, run *models.BatchRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	res, err := r.db.ExecContext(ctx, `
		UPDATE batch_runs SET posted_count = ?, review_count = ?, error_count = ?, finished_at = ?
		WHERE id = ?`,
		run.PostedCount, run.ReviewCount, run.ErrorCount, now, run.ID)
	if err != nil {
		return fmt.Errorf("failed to record batch finish: %w", err)
	}
	return requireRowAffected(res)
}

// Recent returns the latest batch runs, newest first
func (r *BatchRepository) Recent(ctx context.Context, limit int) ([]*models.BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source, trigger_reason, doc_count, posted_count, review_count, error_count,
			started_at, finished_at
		FROM batch_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.BatchRun
	for rows.Next() {
		var run models.BatchRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Source, &run.TriggerReason, &run.DocCount,
			&run.PostedCount, &run.ReviewCount, &run.ErrorCount,
			&run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		run.FinishedAt = nullTimePtr(finished)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
