package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lon-trans/bus-density/internal/models"
)

// ErrNoArrivals is reported when the feed answered but carried no arrivals
var ErrNoArrivals = errors.New("arrivals feed returned no events")

// UpstreamFetchError means the raw arrivals could not be obtained, so no
// enrichment was attempted.
type UpstreamFetchError struct {
	Err error
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf("failed to fetch arrivals: %v", e.Err)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}

// ArrivalFeed is the live source of arrival predictions
type ArrivalFeed interface {
	Fetch(ctx context.Context) ([]models.ArrivalEvent, error)
}

// ClusterTable is a read-only snapshot of the stop to cluster mapping
type ClusterTable interface {
	ReadAll(ctx context.Context) ([]models.ClusterAssignment, error)
}

// FallbackCoordinates is the broader table of known stops without cluster labels
type FallbackCoordinates interface {
	ReadByIDs(ctx context.Context, ids []string) ([]models.StopPoint, error)
}

// Stats counts what happened to the input events during one enrichment
type Stats struct {
	Input           int `json:"input"`
	UnknownStop     int `json:"unknownStop"`
	Joined          int `json:"joined"`
	Unresolved      int `json:"unresolved"`
	FallbackMissing int `json:"fallbackMissing"`
	Proximity       int `json:"proximity"`
}

// Dropped is the number of input events that produced no output row
func (s Stats) Dropped() int {
	return s.Input - s.Joined - s.Proximity
}

// Result is the output of one enrichment run
type Result struct {
	Rows     []models.EnrichedArrival
	PulledAt time.Time
	Stats    Stats
}
