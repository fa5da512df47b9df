package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cycle statuses
const (
	CycleRunning   = "running"
	CycleSucceeded = "succeeded"
	CycleFailed    = "failed"
)

// Cycle is one row of the cycle log
type Cycle struct {
	ID         string     `json:"cycleId"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Status     string     `json:"status"`
	ArrivalsIn int        `json:"arrivalsIn"`
	RowsOut    int        `json:"rowsOut"`
	Error      string     `json:"error,omitempty"`
}

// StartCycle records a running cycle and returns its ID
func (db *DB) StartCycle(ctx context.Context, startedAt time.Time) (string, error) {
	db.LockWrite()
	defer db.UnlockWrite()

	cycleID := uuid.New().String()
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO bus_cycles (cycle_id, started_at_utc, status) VALUES (?, ?, ?)",
		cycleID, startedAt.UTC().Format(time.RFC3339), CycleRunning,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start cycle: %w", err)
	}
	return cycleID, nil
}

// FinishCycle closes a cycle with its final status. An empty errMsg is stored as NULL.
func (db *DB) FinishCycle(ctx context.Context, cycleID, status string, arrivalsIn, rowsOut int, errMsg string, finishedAt time.Time) error {
	db.LockWrite()
	defer db.UnlockWrite()

	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE bus_cycles
		SET finished_at_utc = ?, status = ?, arrivals_in = ?, rows_out = ?, error = ?
		WHERE cycle_id = ?
	`, finishedAt.UTC().Format(time.RFC3339), status, arrivalsIn, rowsOut, errVal, cycleID)
	if err != nil {
		return fmt.Errorf("failed to finish cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to finish cycle: unknown cycle %s", cycleID)
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first
func (db *DB) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT cycle_id, started_at_utc, finished_at_utc, status, arrivals_in, rows_out, error
		FROM bus_cycles
		ORDER BY started_at_utc DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	cycles := []Cycle{}
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycles: %w", err)
	}
	return cycles, nil
}

// LatestCycle returns the most recent cycle, or nil if none has run
func (db *DB) LatestCycle(ctx context.Context) (*Cycle, error) {
	cycles, err := db.RecentCycles(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return nil, nil
	}
	return &cycles[0], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (Cycle, error) {
	var (
		c          Cycle
		startedAt  string
		finishedAt sql.NullString
		errMsg     sql.NullString
	)
	if err := row.Scan(&c.ID, &startedAt, &finishedAt, &c.Status, &c.ArrivalsIn, &c.RowsOut, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan cycle: %w", err)
	}

	var err error
	if c.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return c, fmt.Errorf("failed to parse cycle start %q: %w", startedAt, err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return c, fmt.Errorf("failed to parse cycle finish %q: %w", finishedAt.String, err)
		}
		c.FinishedAt = &t
	}
	c.Error = errMsg.String
	return c, nil
}
