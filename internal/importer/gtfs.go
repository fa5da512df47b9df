package importer

import (
	"archive/zip"
	"fmt"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/lon-trans/bus-density/internal/models"
)

// gtfsStop is the subset of a GTFS stops.txt row used for fallback coordinates
type gtfsStop struct {
	StopID       string `csv:"stop_id"`
	StopName     string `csv:"stop_name"`
	StopLat      string `csv:"stop_lat"`
	StopLon      string `csv:"stop_lon"`
	LocationType string `csv:"location_type"`
}

// ParseGTFSStops reads stops.txt from a static GTFS zip. Only boarding
// points (location_type empty or 0) are returned; stations, entrances and
// rows without coordinates are rejected.
func ParseGTFSStops(zipPath string) ([]models.StopPoint, []Rejected, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	var stopsFile *zip.File
	for _, f := range r.File {
		if f.Name == "stops.txt" {
			stopsFile = f
			break
		}
	}
	if stopsFile == nil {
		return nil, nil, fmt.Errorf("stops.txt not found in %s", zipPath)
	}

	rc, err := stopsFile.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stops.txt: %w", err)
	}
	defer rc.Close()

	var records []*gtfsStop
	if err := gocsv.Unmarshal(rc, &records); err != nil {
		return nil, nil, fmt.Errorf("failed to parse stops.txt: %w", err)
	}

	var (
		stops    []models.StopPoint
		rejected []Rejected
	)
	for i, rec := range records {
		line := i + 2
		if lt := strings.TrimSpace(rec.LocationType); lt != "" && lt != "0" {
			rejected = append(rejected, Rejected{Line: line, StopID: rec.StopID, Reason: "not a boarding point"})
			continue
		}

		lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec.StopLat), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rec.StopLon), 64)
		if latErr != nil || lonErr != nil {
			rejected = append(rejected, Rejected{Line: line, StopID: rec.StopID, Reason: "missing coordinates"})
			continue
		}

		stop, reason := toStop(rec.StopID, rec.StopName, lat, lon)
		if reason != "" {
			rejected = append(rejected, Rejected{Line: line, StopID: rec.StopID, Reason: reason})
			continue
		}
		stops = append(stops, stop)
	}
	return stops, rejected, nil
}
