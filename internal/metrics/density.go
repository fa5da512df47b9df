package metrics

import (
	"sort"

	"github.com/lon-trans/bus-density/internal/models"
)

// Window bounds for DensityByCluster, in minutes
const (
	MinWindowMinutes     = 1
	MaxWindowMinutes     = 20
	DefaultWindowMinutes = 10
)

// ClusterDensity is the approaching-bus count of one cluster
type ClusterDensity struct {
	ClusterLabel      models.ClusterLabel `json:"clusterLabel"`
	BusesApproaching  int                 `json:"busesApproaching"`
	Latitude          float64             `json:"latitude"`
	Longitude         float64             `json:"longitude"`
	DensityNorm       float64             `json:"densityNorm"`
	WaitMeanSeconds   float64             `json:"waitMeanSeconds"`
	WaitStdDevSeconds float64             `json:"waitStdDevSeconds"`
}

type clusterAcc struct {
	vehicles map[string]struct{}
	wait     WelfordState
	lat, lon float64
	rows     int
}

// DensityByCluster counts the distinct vehicles arriving at each cluster
// within windowMinutes. A cluster's position is the mean of all its rows,
// including those outside the window. Only clusters with at least one
// vehicle in the window are returned, busiest first, ties by label.
// DensityNorm is min-max scaled over the returned clusters and is 0 for
// every cluster when all counts are equal.
func DensityByCluster(rows []models.EnrichedArrival, windowMinutes int) []ClusterDensity {
	limit := windowMinutes * 60
	accs := make(map[models.ClusterLabel]*clusterAcc)

	for _, r := range rows {
		acc, ok := accs[r.ClusterLabel]
		if !ok {
			acc = &clusterAcc{vehicles: make(map[string]struct{})}
			accs[r.ClusterLabel] = acc
		}
		acc.lat += r.Latitude
		acc.lon += r.Longitude
		acc.rows++

		if r.SecondsToStation <= limit {
			acc.vehicles[r.VehicleID] = struct{}{}
			acc.wait.Update(float64(r.SecondsToStation))
		}
	}

	out := make([]ClusterDensity, 0, len(accs))
	for label, acc := range accs {
		if len(acc.vehicles) == 0 {
			continue
		}
		out = append(out, ClusterDensity{
			ClusterLabel:      label,
			BusesApproaching:  len(acc.vehicles),
			Latitude:          acc.lat / float64(acc.rows),
			Longitude:         acc.lon / float64(acc.rows),
			WaitMeanSeconds:   acc.wait.Mean,
			WaitStdDevSeconds: acc.wait.StdDev(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BusesApproaching != out[j].BusesApproaching {
			return out[i].BusesApproaching > out[j].BusesApproaching
		}
		return out[i].ClusterLabel < out[j].ClusterLabel
	})

	if len(out) > 0 {
		maxCount := out[0].BusesApproaching
		minCount := out[len(out)-1].BusesApproaching
		if maxCount > minCount {
			span := float64(maxCount - minCount)
			for i := range out {
				out[i].DensityNorm = float64(out[i].BusesApproaching-minCount) / span
			}
		}
	}

	return out
}
