// Package warehouse reads the stop and cluster tables from a Postgres
// warehouse, where they keep the camelCase column names of the upstream export.
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/models"
)

// Store serves the cluster table and the fallback coordinates from Postgres
type Store struct {
	pool         *pgxpool.Pool
	logger       *zap.Logger
	clusterTable string
	stopsTable   string
}

// NewStore connects to the warehouse. Table names may be schema-qualified ("bus.stops").
func NewStore(ctx context.Context, logger *zap.Logger, databaseURL, clusterTable, stopsTable string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool:         pool,
		logger:       logger.With(zap.String("component", "warehouse")),
		clusterTable: quoteTable(clusterTable),
		stopsTable:   quoteTable(stopsTable),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the pool can reach the warehouse
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ReadAll returns every stop carrying a cluster label
func (s *Store) ReadAll(ctx context.Context) ([]models.ClusterAssignment, error) {
	query := `
		SELECT "naptanId", COALESCE("commonName", ''), "latitude", "longitude", "clusterAgglomerative"
		FROM ` + s.clusterTable + `
		WHERE "clusterAgglomerative" IS NOT NULL
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster table: %w", err)
	}
	defer rows.Close()

	var out []models.ClusterAssignment
	for rows.Next() {
		var (
			a     models.ClusterAssignment
			label int64
		)
		if err := rows.Scan(&a.StopID, &a.DisplayName, &a.Latitude, &a.Longitude, &label); err != nil {
			return nil, fmt.Errorf("failed to scan cluster row: %w", err)
		}
		a.ClusterLabel = models.ClusterLabel(label)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cluster rows: %w", err)
	}

	s.logger.Debug("read cluster table", zap.Int("row_count", len(out)))
	return out, nil
}

// ReadByIDs returns the coordinates of the requested stops in one round trip
func (s *Store) ReadByIDs(ctx context.Context, ids []string) ([]models.StopPoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT "naptanId", COALESCE("commonName", ''), "latitude", "longitude"
		FROM ` + s.stopsTable + `
		WHERE "naptanId" = ANY($1)
	`

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query stop coordinates: %w", err)
	}
	defer rows.Close()

	var out []models.StopPoint
	for rows.Next() {
		var p models.StopPoint
		if err := rows.Scan(&p.StopID, &p.DisplayName, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan stop row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stop rows: %w", err)
	}
	return out, nil
}

func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
