package db

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/models"
)

// maxIDsPerQuery keeps IN lists under SQLite's bound-parameter limit
const maxIDsPerQuery = 500

// ReadAll returns every clustered stop. Stops without a cluster label are
// not part of the table's domain and are skipped.
func (db *DB) ReadAll(ctx context.Context) ([]models.ClusterAssignment, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT naptan_id, common_name, latitude, longitude, cluster_agglomerative
		FROM stopspoint_coordinates_aggloclusters_enriched
		WHERE cluster_agglomerative IS NOT NULL
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster table: %w", err)
	}
	defer rows.Close()

	var out []models.ClusterAssignment
	for rows.Next() {
		var a models.ClusterAssignment
		if err := rows.Scan(&a.StopID, &a.DisplayName, &a.Latitude, &a.Longitude, &a.ClusterLabel); err != nil {
			return nil, fmt.Errorf("failed to scan cluster row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cluster rows: %w", err)
	}

	db.logger.Debug("read cluster table", zap.Int("row_count", len(out)))
	return out, nil
}

// ReadByIDs returns the stop coordinates for the given ids. Missing ids are
// simply absent from the result.
func (db *DB) ReadByIDs(ctx context.Context, ids []string) ([]models.StopPoint, error) {
	var out []models.StopPoint

	for start := 0; start < len(ids); start += maxIDsPerQuery {
		end := min(start+maxIDsPerQuery, len(ids))
		batch := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := db.conn.QueryContext(ctx, `
			SELECT naptan_id, common_name, latitude, longitude
			FROM stopspoint_coordinates
			WHERE naptan_id IN (`+placeholders+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query stop coordinates: %w", err)
		}

		for rows.Next() {
			var p models.StopPoint
			if err := rows.Scan(&p.StopID, &p.DisplayName, &p.Latitude, &p.Longitude); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan stop row: %w", err)
			}
			out = append(out, p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate stop rows: %w", err)
		}
	}

	return out, nil
}

// UpsertStops inserts or updates stop coordinates
func (db *DB) UpsertStops(ctx context.Context, stops []models.StopPoint) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stopspoint_coordinates (naptan_id, common_name, latitude, longitude, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT (naptan_id) DO UPDATE SET
			common_name = excluded.common_name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare stop upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stops {
		if _, err := stmt.ExecContext(ctx, s.StopID, s.DisplayName, s.Latitude, s.Longitude); err != nil {
			return fmt.Errorf("failed to upsert stop %s: %w", s.StopID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stops: %w", err)
	}
	return nil
}

// ClusterImport is one row of the cluster membership import. A nil label
// keeps the stop in the table but outside the cluster domain.
type ClusterImport struct {
	Stop  models.StopPoint
	Label *models.ClusterLabel
}

// UpsertClusters inserts or updates cluster membership rows
func (db *DB) UpsertClusters(ctx context.Context, rows []ClusterImport) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stopspoint_coordinates_aggloclusters_enriched (
			naptan_id, common_name, latitude, longitude, cluster_agglomerative, updated_at
		) VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (naptan_id) DO UPDATE SET
			common_name = excluded.common_name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			cluster_agglomerative = excluded.cluster_agglomerative,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cluster upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		var label any
		if r.Label != nil {
			label = int64(*r.Label)
		}
		if _, err := stmt.ExecContext(ctx, r.Stop.StopID, r.Stop.DisplayName, r.Stop.Latitude, r.Stop.Longitude, label); err != nil {
			return fmt.Errorf("failed to upsert cluster row %s: %w", r.Stop.StopID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cluster rows: %w", err)
	}
	return nil
}
