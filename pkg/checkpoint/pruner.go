package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gardenista/beanbot/pkg/logger"
)

// Pruner garbage-collects old checkpoints on a maintenance cycle.
// Ephemeral threads past the retention window are deleted entirely;
// persistent threads are trimmed to their newest MaxTurns. Each
// thread's exclusion lock is held while it is touched, so pruning
// never races an in-progress turn.
type Pruner struct {
	store         *Store
	retentionDays int
	maxTurns      int
}

func NewPruner(store *Store, retentionDays, maxTurns int) *Pruner {
	if retentionDays < 1 {
		retentionDays = 7
	}
	if maxTurns < 1 {
		maxTurns = 20
	}
	return &Pruner{store: store, retentionDays: retentionDays, maxTurns: maxTurns}
}

// Prune runs one garbage-collection pass and returns the number of
// rows deleted. Safe to invoke at any time; the scheduler calls it
// nightly and the CLI exposes it as a run-now job.
func (p *Pruner) Prune(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -p.retentionDays).Format("2006-01-02")
	total := 0

	ephemeral, err := p.store.Threads(ctx, "ephemeral")
	if err != nil {
		return 0, fmt.Errorf("checkpoint: list ephemeral threads: %w", err)
	}
	for _, threadID := range ephemeral {
		if !olderThanCutoff(threadID, cutoff) {
			continue
		}
		n, err := p.deleteThread(ctx, threadID)
		if err != nil {
			return total, err
		}
		total += n
	}

	persistent, err := p.store.Threads(ctx, "persistent")
	if err != nil {
		return total, fmt.Errorf("checkpoint: list persistent threads: %w", err)
	}
	for _, threadID := range persistent {
		n, err := p.trimThread(ctx, threadID)
		if err != nil {
			return total, err
		}
		total += n
	}

	if _, err := p.store.db.ExecContext(ctx, `VACUUM`); err != nil {
		logger.WarnCF("checkpoint", "Vacuum failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.InfoCF("checkpoint", "Prune complete", map[string]interface{}{
		"rows_deleted": total,
	})
	return total, nil
}

// olderThanCutoff compares the ISO date suffix of an ephemeral thread
// id against the cutoff date. String comparison is chronological for
// YYYY-MM-DD.
func olderThanCutoff(threadID, cutoff string) bool {
	for _, prefix := range ephemeralPrefixes {
		if strings.HasPrefix(threadID, prefix) {
			return strings.TrimPrefix(threadID, prefix) < cutoff
		}
	}
	return false
}

func (p *Pruner) deleteThread(ctx context.Context, threadID string) (int, error) {
	release := p.store.LockThread(threadID)
	defer release()

	tx, err := p.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: begin prune: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, stmt := range []string{
		`DELETE FROM events WHERE thread_id = ?`,
		`DELETE FROM turns WHERE thread_id = ?`,
		`DELETE FROM threads WHERE thread_id = ?`,
	} {
		res, err := tx.ExecContext(ctx, stmt, threadID)
		if err != nil {
			return 0, fmt.Errorf("checkpoint: prune %s: %w", threadID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

// trimThread keeps the newest maxTurns turns of a persistent thread.
func (p *Pruner) trimThread(ctx context.Context, threadID string) (int, error) {
	release := p.store.LockThread(threadID)
	defer release()

	var cutoffSeq int64
	err := p.store.db.QueryRowContext(ctx, `
		SELECT seq FROM turns WHERE thread_id = ?
		ORDER BY seq DESC LIMIT 1 OFFSET ?`,
		threadID, p.maxTurns-1).Scan(&cutoffSeq)
	if errors.Is(err, sql.ErrNoRows) {
		// Fewer than maxTurns turns, nothing to trim.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("checkpoint: trim cutoff %s: %w", threadID, err)
	}

	tx, err := p.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: begin trim: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	res, err := tx.ExecContext(ctx, `
		DELETE FROM events WHERE turn_id IN (
			SELECT id FROM turns WHERE thread_id = ? AND seq < ?
		)`, threadID, cutoffSeq)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: trim events %s: %w", threadID, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted += int(n)
	}

	res, err = tx.ExecContext(ctx,
		`DELETE FROM turns WHERE thread_id = ? AND seq < ?`, threadID, cutoffSeq)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: trim turns %s: %w", threadID, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}
