package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Cleanup deletes cycle-log and catalogue rows older than the retention window.
// The newest snapshot is always kept so the read API has something to report.
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) error {
	db.LockWrite()
	defer db.UnlockWrite()

	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	queries := []struct {
		name  string
		query string
	}{
		{
			name: "snapshots",
			query: `DELETE FROM bus_snapshots
				WHERE created_at_utc < ?
				AND snapshot_id <> (SELECT snapshot_id FROM bus_snapshots ORDER BY created_at_utc DESC, rowid DESC LIMIT 1)`,
		},
		{
			name: "cycles",
			query: `DELETE FROM bus_cycles
				WHERE started_at_utc < ?
				AND status <> 'running'
				AND cycle_id NOT IN (SELECT cycle_id FROM bus_snapshots WHERE cycle_id IS NOT NULL)`,
		},
	}

	totalDeleted := 0
	for _, q := range queries {
		result, err := db.conn.ExecContext(ctx, q.query, cutoff)
		if err != nil {
			return fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		rows, _ := result.RowsAffected()
		totalDeleted += int(rows)
	}

	if totalDeleted > 0 {
		db.logger.Info("cleanup deleted old records",
			zap.Int("deleted", totalDeleted),
			zap.Duration("retention", retention),
		)
	}

	return nil
}
