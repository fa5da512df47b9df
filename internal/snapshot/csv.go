// Package snapshot publishes enriched arrivals as a CSV file with a staged
// write followed by an atomic promote, and reads the promoted file back.
package snapshot

import (
	"fmt"
	"time"

	"github.com/lon-trans/bus-density/internal/models"
)

// Row is the CSV layout of one snapshot line
type Row struct {
	VehicleID        string  `csv:"vehicleId"`
	StopID           string  `csv:"stopId"`
	SecondsToStation int     `csv:"secondsToStation"`
	Latitude         float64 `csv:"latitude"`
	Longitude        float64 `csv:"longitude"`
	ClusterLabel     int64   `csv:"clusterLabel"`
	PulledAt         string  `csv:"pulledAtLocalTimestamp"`
}

func toRows(arrivals []models.EnrichedArrival) []*Row {
	rows := make([]*Row, len(arrivals))
	for i, a := range arrivals {
		rows[i] = &Row{
			VehicleID:        a.VehicleID,
			StopID:           a.StopID,
			SecondsToStation: a.SecondsToStation,
			Latitude:         a.Latitude,
			Longitude:        a.Longitude,
			ClusterLabel:     int64(a.ClusterLabel),
			PulledAt:         a.PulledAt.Format(models.PulledAtLayout),
		}
	}
	return rows
}

func fromRows(rows []*Row, loc *time.Location) ([]models.EnrichedArrival, error) {
	out := make([]models.EnrichedArrival, len(rows))
	for i, r := range rows {
		pulledAt, err := time.ParseInLocation(models.PulledAtLayout, r.PulledAt, loc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pulledAt on row %d: %w", i+1, err)
		}
		out[i] = models.EnrichedArrival{
			VehicleID:        r.VehicleID,
			StopID:           r.StopID,
			SecondsToStation: r.SecondsToStation,
			Latitude:         r.Latitude,
			Longitude:        r.Longitude,
			ClusterLabel:     models.ClusterLabel(r.ClusterLabel),
			PulledAt:         pulledAt,
		}
	}
	return out, nil
}
