package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lon-trans/bus-density/internal/models"
)

func TestWelfordState(t *testing.T) {
	var w WelfordState
	assert.Zero(t, w.StdDev())

	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.Update(x)
	}
	assert.Equal(t, 8, w.Count)
	assert.InDelta(t, 5.0, w.Mean, 1e-12)
	assert.InDelta(t, 2.0, w.StdDev(), 1e-12)

	var single WelfordState
	single.Update(42)
	assert.Equal(t, 42.0, single.Mean)
	assert.Zero(t, single.StdDev())
}

func row(vehicle string, label int64, seconds int, lat, lon float64) models.EnrichedArrival {
	return models.EnrichedArrival{
		VehicleID:        vehicle,
		ClusterLabel:     models.ClusterLabel(label),
		SecondsToStation: seconds,
		Latitude:         lat,
		Longitude:        lon,
	}
}

func TestDensityByCluster(t *testing.T) {
	rows := []models.EnrichedArrival{
		row("V1", 1, 60, 51.0, -0.10),
		row("V1", 1, 120, 51.2, -0.30), // same vehicle counted once
		row("V2", 1, 300, 51.1, -0.20),
		row("V3", 1, 900, 51.1, -0.20), // outside 10 minutes, still moves the centroid
		row("V4", 2, 30, 52.0, 0.00),
		row("V5", 3, 30, 53.0, 0.00),
		row("V6", 3, 90, 53.0, 0.00),
		row("V7", 4, 1200, 54.0, 0.00), // no vehicle in window
	}

	got := DensityByCluster(rows, 10)
	require.Len(t, got, 3)

	assert.Equal(t, models.ClusterLabel(1), got[0].ClusterLabel)
	assert.Equal(t, 2, got[0].BusesApproaching)
	assert.InDelta(t, 51.1, got[0].Latitude, 1e-9)
	assert.InDelta(t, -0.2, got[0].Longitude, 1e-9)
	assert.InDelta(t, 160.0, got[0].WaitMeanSeconds, 1e-9)
	assert.Equal(t, 1.0, got[0].DensityNorm)

	// tie on count broken by label
	assert.Equal(t, models.ClusterLabel(3), got[1].ClusterLabel)
	assert.Equal(t, 2, got[1].BusesApproaching)
	assert.Equal(t, models.ClusterLabel(2), got[2].ClusterLabel)
	assert.Equal(t, 0.0, got[2].DensityNorm)
}

func TestDensityByClusterEqualCounts(t *testing.T) {
	rows := []models.EnrichedArrival{
		row("V1", 5, 60, 51.0, 0),
		row("V2", 9, 60, 52.0, 0),
	}
	got := DensityByCluster(rows, 1)
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Zero(t, c.DensityNorm)
		assert.False(t, math.IsNaN(c.DensityNorm))
	}
	assert.Equal(t, models.ClusterLabel(5), got[0].ClusterLabel)
}

func TestDensityByClusterWindowBoundaryIsInclusive(t *testing.T) {
	got := DensityByCluster([]models.EnrichedArrival{row("V1", 1, 60, 51, 0), row("V2", 1, 61, 51, 0)}, 1)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].BusesApproaching)
}

func TestDensityByClusterEmpty(t *testing.T) {
	assert.Empty(t, DensityByCluster(nil, 10))
}
