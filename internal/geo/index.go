package geo

import (
	"errors"
	"math"

	"github.com/lon-trans/bus-density/internal/models"
)

// ErrEmptyIndex is returned when an index is built from zero points
var ErrEmptyIndex = errors.New("geo index requires at least one reference point")

type refPoint struct {
	phi    float64
	lambda float64
	label  models.ClusterLabel
}

// Index answers nearest-cluster queries over a fixed set of labeled points.
// It is immutable after Build and safe for concurrent reads.
type Index struct {
	points []refPoint
}

// Build creates an index from the given assignments, preserving input order
func Build(points []models.ClusterAssignment) (*Index, error) {
	if len(points) == 0 {
		return nil, ErrEmptyIndex
	}

	refs := make([]refPoint, len(points))
	for i, p := range points {
		refs[i] = refPoint{
			phi:    toRadians(p.Latitude),
			lambda: toRadians(p.Longitude),
			label:  p.ClusterLabel,
		}
	}

	return &Index{points: refs}, nil
}

// Len returns the number of reference points
func (idx *Index) Len() int {
	return len(idx.points)
}

// Nearest returns the label of the reference point closest to (lat, lon).
// Equidistant points resolve to the one that appeared first in the input to Build.
func (idx *Index) Nearest(lat, lon float64) models.ClusterLabel {
	label, _ := idx.NearestWithDistance(lat, lon)
	return label
}

// NearestWithDistance is Nearest that also returns the distance in kilometers
func (idx *Index) NearestWithDistance(lat, lon float64) (models.ClusterLabel, float64) {
	phi := toRadians(lat)
	lambda := toRadians(lon)

	minDist := math.MaxFloat64
	minIdx := 0

	for i, p := range idx.points {
		// strict < keeps the first of any equal distances
		dist := haversineRad(p.phi, p.lambda, phi, lambda)
		if dist < minDist {
			minDist = dist
			minIdx = i
		}
	}

	return idx.points[minIdx].label, minDist
}
