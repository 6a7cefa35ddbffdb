package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/certiva/docpipe/pkg/database"
)

// ErrLockHeld is returned when another live holder owns the source lock
var ErrLockHeld = errors.New("batch lock held by another instance")

// LockRepository implements the per-source advisory lock guarding against
// concurrent watcher instances. A lock with a heartbeat older than the
// stale window is considered abandoned and may be taken over.
type LockRepository struct {
	db     *database.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewLockRepository(db *database.DB, logger *zap.Logger) *LockRepository {
	return &LockRepository{db: db, logger: logger, now: time.Now}
}

// SetClock overrides the time source, used by tests
func (r *LockRepository) SetClock(now func() time.Time) {
	r.now = now
}

// Acquire takes the lock for a source, or returns ErrLockHeld. A stale
// lock (heartbeat beyond staleAfter) is stolen with a warning.
func (r *LockRepository) Acquire(ctx context.Context, source, holder string, staleAfter time.Duration) error {
	return r.db.WithTransaction(func(tx *sql.Tx) error {
		now := r.now().UTC()

		var currentHolder string
		var heartbeat time.Time
		err := tx.QueryRowContext(ctx,
			"SELECT holder, heartbeat_at FROM batch_locks WHERE source = ?", source).
			Scan(&currentHolder, &heartbeat)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO batch_locks (source, holder, acquired_at, heartbeat_at) VALUES (?, ?, ?, ?)",
				source, holder, now, now); err != nil {
				return fmt.Errorf("failed to insert batch lock: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to read batch lock: %w", err)
		}

		if currentHolder != holder && now.Sub(heartbeat) < staleAfter {
			return ErrLockHeld
		}

		if currentHolder != holder {
			r.logger.Warn("Taking over stale batch lock",
				zap.String("source", source),
				zap.String("previous_holder", currentHolder),
				zap.Time("last_heartbeat", heartbeat))
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE batch_locks SET holder = ?, acquired_at = ?, heartbeat_at = ? WHERE source = ?",
			holder, now, now, source); err != nil {
			return fmt.Errorf("failed to update batch lock: %w", err)
		}
		return nil
	})
}

// Heartbeat refreshes the lock while a batch is being processed
func (r *LockRepository) Heartbeat(ctx context.Context, source, holder string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE batch_locks SET heartbeat_at = ? WHERE source = ? AND holder = ?",
		r.now().UTC(), source, holder)
	if err != nil {
		return fmt.Errorf("failed to heartbeat batch lock: %w", err)
	}
	return requireRowAffected(res)
}

// Release drops the lock if this holder still owns it
func (r *LockRepository) Release(ctx context.Context, source, holder string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM batch_locks WHERE source = ? AND holder = ?", source, holder)
	if err != nil {
		return fmt.Errorf("failed to release batch lock: %w", err)
	}
	return nil
}
