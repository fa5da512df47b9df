// Package importer parses the stop-coordinate and cluster-membership CSV
// exports loaded into the local table store.
package importer

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/lon-trans/bus-density/internal/db"
	"github.com/lon-trans/bus-density/internal/models"
)

type stopRecord struct {
	NaptanID   string  `csv:"naptanId"`
	CommonName string  `csv:"commonName"`
	Latitude   float64 `csv:"latitude"`
	Longitude  float64 `csv:"longitude"`
}

type clusterRecord struct {
	NaptanID             string  `csv:"naptanId"`
	CommonName           string  `csv:"commonName"`
	Latitude             float64 `csv:"latitude"`
	Longitude            float64 `csv:"longitude"`
	ClusterAgglomerative string  `csv:"clusterAgglomerative"`
}

// Rejected is an input row that was not imported
type Rejected struct {
	Line   int // 1-based, header is line 1
	StopID string
	Reason string
}

// ParseStops reads the stop coordinate CSV
func ParseStops(r io.Reader) ([]models.StopPoint, []Rejected, error) {
	var records []*stopRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, nil, fmt.Errorf("failed to parse stops csv: %w", err)
	}

	var (
		stops    []models.StopPoint
		rejected []Rejected
	)
	for i, rec := range records {
		stop, reason := toStop(rec.NaptanID, rec.CommonName, rec.Latitude, rec.Longitude)
		if reason != "" {
			rejected = append(rejected, Rejected{Line: i + 2, StopID: rec.NaptanID, Reason: reason})
			continue
		}
		stops = append(stops, stop)
	}
	return stops, rejected, nil
}

// ParseClusters reads the cluster membership CSV. An empty or NaN label
// imports the stop without a cluster.
func ParseClusters(r io.Reader) ([]db.ClusterImport, []Rejected, error) {
	var records []*clusterRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, nil, fmt.Errorf("failed to parse clusters csv: %w", err)
	}

	var (
		rows     []db.ClusterImport
		rejected []Rejected
	)
	for i, rec := range records {
		stop, reason := toStop(rec.NaptanID, rec.CommonName, rec.Latitude, rec.Longitude)
		if reason != "" {
			rejected = append(rejected, Rejected{Line: i + 2, StopID: rec.NaptanID, Reason: reason})
			continue
		}

		label, err := parseLabel(rec.ClusterAgglomerative)
		if err != nil {
			rejected = append(rejected, Rejected{Line: i + 2, StopID: rec.NaptanID, Reason: err.Error()})
			continue
		}
		rows = append(rows, db.ClusterImport{Stop: stop, Label: label})
	}
	return rows, rejected, nil
}

func toStop(naptanID, commonName string, lat, lon float64) (models.StopPoint, string) {
	id := strings.TrimSpace(naptanID)
	if id == "" || id == models.StopIDUnknown {
		return models.StopPoint{}, "missing naptanId"
	}
	if !models.ValidCoordinates(lat, lon) {
		return models.StopPoint{}, fmt.Sprintf("coordinates out of range (%g, %g)", lat, lon)
	}
	return models.StopPoint{
		StopID:      id,
		DisplayName: strings.TrimSpace(commonName),
		Latitude:    lat,
		Longitude:   lon,
	}, ""
}

// parseLabel accepts integer labels, including the "12.0" form a float
// column takes when some rows are empty.
func parseLabel(raw string) (*models.ClusterLabel, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return nil, nil
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		label := models.ClusterLabel(n)
		return &label, nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid cluster label %q", raw)
	}
	label := models.ClusterLabel(int64(f))
	return &label, nil
}
