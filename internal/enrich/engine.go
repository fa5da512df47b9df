package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/geo"
	"github.com/lon-trans/bus-density/internal/models"
)

// Engine joins raw arrivals against the cluster table and assigns clusters
// to unknown stops by proximity. One Engine may serve many runs, but runs
// must not overlap.
type Engine struct {
	logger *zap.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewEngine creates an engine that stamps rows in the given local timezone
func NewEngine(logger *zap.Logger, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		logger: logger.With(zap.String("component", "enrich")),
		loc:    loc,
		now:    time.Now,
	}
}

// Run fetches arrivals from the feed and enriches them. A feed failure or an
// empty feed is returned as *UpstreamFetchError before any enrichment happens.
func (e *Engine) Run(ctx context.Context, feed ArrivalFeed, clusters []models.ClusterAssignment, fallback FallbackCoordinates) (*Result, error) {
	arrivals, err := feed.Fetch(ctx)
	if err != nil {
		return nil, &UpstreamFetchError{Err: err}
	}
	if len(arrivals) == 0 {
		return nil, &UpstreamFetchError{Err: ErrNoArrivals}
	}

	return e.Enrich(ctx, arrivals, clusters, fallback)
}

// Enrich produces the null-free set of enriched arrivals. Events are dropped,
// never errored, when their stop is the unknown sentinel, when the stop is in
// neither the cluster table nor the fallback table, or when the cluster table
// is empty. The only error is a failure to read the fallback table.
func (e *Engine) Enrich(ctx context.Context, arrivals []models.ArrivalEvent, clusters []models.ClusterAssignment, fallback FallbackCoordinates) (*Result, error) {
	pulledAt := e.now().In(e.loc).Truncate(time.Second)
	stats := Stats{Input: len(arrivals)}

	byStop := make(map[string]models.ClusterAssignment, len(clusters))
	for _, c := range clusters {
		if _, dup := byStop[c.StopID]; dup {
			e.logger.Debug("duplicate stop in cluster table, keeping first",
				zap.String("stop_id", c.StopID),
			)
			continue
		}
		byStop[c.StopID] = c
	}

	rows := make([]models.EnrichedArrival, 0, len(arrivals))
	var unresolved []models.ArrivalEvent
	var unresolvedIDs []string
	seen := make(map[string]bool)

	// Join, and set aside known stops missing from the cluster table
	for _, a := range arrivals {
		if !a.HasKnownStop() {
			stats.UnknownStop++
			continue
		}

		c, ok := byStop[a.StopID]
		if !ok {
			unresolved = append(unresolved, a)
			if !seen[a.StopID] {
				seen[a.StopID] = true
				unresolvedIDs = append(unresolvedIDs, a.StopID)
			}
			continue
		}

		rows = append(rows, newRow(a, c.Latitude, c.Longitude, c.ClusterLabel, pulledAt))
		stats.Joined++
	}
	stats.Unresolved = len(unresolved)

	if len(unresolved) > 0 {
		proximityRows, fallbackMissing, err := e.resolveByProximity(ctx, unresolved, unresolvedIDs, clusters, fallback, pulledAt)
		if err != nil {
			return nil, err
		}
		rows = append(rows, proximityRows...)
		stats.Proximity = len(proximityRows)
		stats.FallbackMissing = fallbackMissing
	}

	e.logger.Info("enriched arrivals",
		zap.Int("input", stats.Input),
		zap.Int("joined", stats.Joined),
		zap.Int("proximity", stats.Proximity),
		zap.Int("unknown_stop", stats.UnknownStop),
		zap.Int("fallback_missing", stats.FallbackMissing),
		zap.Int("dropped", stats.Dropped()),
	)

	return &Result{
		Rows:     rows,
		PulledAt: pulledAt,
		Stats:    stats,
	}, nil
}

// resolveByProximity looks up fallback coordinates, then the nearest cluster.
// It returns the new rows and the number of events whose stop had no coordinates.
func (e *Engine) resolveByProximity(ctx context.Context, unresolved []models.ArrivalEvent, ids []string, clusters []models.ClusterAssignment, fallback FallbackCoordinates, pulledAt time.Time) ([]models.EnrichedArrival, int, error) {
	if len(clusters) == 0 {
		e.logger.Warn("cluster table is empty, dropping stops without a cluster",
			zap.Int("events", len(unresolved)),
			zap.Int("stops", len(ids)),
		)
		return nil, 0, nil
	}

	points, err := fallback.ReadByIDs(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read fallback coordinates: %w", err)
	}

	coords := make(map[string]models.StopPoint, len(points))
	for _, p := range points {
		if !models.ValidCoordinates(p.Latitude, p.Longitude) {
			e.logger.Debug("fallback stop has invalid coordinates",
				zap.String("stop_id", p.StopID),
				zap.Float64("latitude", p.Latitude),
				zap.Float64("longitude", p.Longitude),
			)
			continue
		}
		if _, dup := coords[p.StopID]; !dup {
			coords[p.StopID] = p
		}
	}

	idx, err := geo.Build(clusters)
	if err != nil {
		return nil, 0, err
	}

	labels := make(map[string]models.ClusterLabel, len(coords))
	for _, id := range ids {
		p, ok := coords[id]
		if !ok {
			e.logger.Debug("stop not in fallback coordinates, dropping",
				zap.String("stop_id", id),
			)
			continue
		}
		label, dist := idx.NearestWithDistance(p.Latitude, p.Longitude)
		labels[id] = label
		e.logger.Debug("assigned cluster by proximity",
			zap.String("stop_id", id),
			zap.Stringer("cluster_label", label),
			zap.Float64("distance_km", dist),
		)
	}

	rows := make([]models.EnrichedArrival, 0, len(unresolved))
	missing := 0
	for _, a := range unresolved {
		label, ok := labels[a.StopID]
		if !ok {
			missing++
			continue
		}
		p := coords[a.StopID]
		rows = append(rows, newRow(a, p.Latitude, p.Longitude, label, pulledAt))
	}

	return rows, missing, nil
}

func newRow(a models.ArrivalEvent, lat, lon float64, label models.ClusterLabel, pulledAt time.Time) models.EnrichedArrival {
	return models.EnrichedArrival{
		VehicleID:        a.VehicleID,
		StopID:           a.StopID,
		SecondsToStation: a.SecondsToStation,
		Latitude:         lat,
		Longitude:        lon,
		ClusterLabel:     label,
		PulledAt:         pulledAt,
	}
}
