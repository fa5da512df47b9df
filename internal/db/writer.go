package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lon-trans/bus-density/internal/models"
)

// Snapshot is one promoted snapshot in the catalogue
type Snapshot struct {
	ID        string    `json:"snapshotId"`
	CycleID   string    `json:"cycleId"`
	PulledAt  string    `json:"pulledAtLocalTimestamp"`
	CreatedAt time.Time `json:"createdAt"`
	RowCount  int       `json:"rowCount"`
	Path      string    `json:"path"`
}

// RecordSnapshot catalogues a promoted snapshot and returns its ID.
// pulledAt is stored in its own zone, rendered in the local timestamp layout.
func (db *DB) RecordSnapshot(ctx context.Context, cycleID string, pulledAt time.Time, rowCount int, path string) (string, error) {
	db.LockWrite()
	defer db.UnlockWrite()

	var cycle any
	if cycleID != "" {
		cycle = cycleID
	}

	snapshotID := uuid.New().String()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO bus_snapshots (snapshot_id, cycle_id, pulled_at_local, created_at_utc, row_count, path)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snapshotID, cycle, pulledAt.Format(models.PulledAtLayout), time.Now().UTC().Format(time.RFC3339), rowCount, path)
	if err != nil {
		return "", fmt.Errorf("failed to record snapshot: %w", err)
	}

	return snapshotID, nil
}

// LatestSnapshot returns the newest catalogued snapshot, or nil if none exists
func (db *DB) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var (
		s         Snapshot
		cycleID   sql.NullString
		createdAt string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT snapshot_id, cycle_id, pulled_at_local, created_at_utc, row_count, path
		FROM bus_snapshots
		ORDER BY created_at_utc DESC, rowid DESC
		LIMIT 1
	`).Scan(&s.ID, &cycleID, &s.PulledAt, &createdAt, &s.RowCount, &s.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	s.CycleID = cycleID.String
	if s.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot time %q: %w", createdAt, err)
	}
	return &s, nil
}
