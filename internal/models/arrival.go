package models

import (
	"strconv"
	"time"
)

// StopIDUnknown is the literal stop identifier the arrivals feed reports when
// it does not know which stop a prediction belongs to.
const StopIDUnknown = "null"

// PulledAtLayout is the wall-clock layout used for pulledAtLocalTimestamp
const PulledAtLayout = "2006-01-02 15:04:05"

// ClusterLabel identifies a precomputed geographic cluster of stops
type ClusterLabel int64

func (l ClusterLabel) String() string {
	return strconv.FormatInt(int64(l), 10)
}

// ArrivalEvent is one observed vehicle-at-stop prediction
type ArrivalEvent struct {
	VehicleID        string    `json:"vehicleId"`
	StopID           string    `json:"stopId"`
	LineID           string    `json:"lineId"`
	ObservedAt       time.Time `json:"observedAt"`
	SecondsToStation int       `json:"secondsToStation"`
}

// HasKnownStop reports whether the event carries a real stop identifier
func (e ArrivalEvent) HasKnownStop() bool {
	return e.StopID != "" && e.StopID != StopIDUnknown
}

// StopPoint is a known physical stop without a cluster label
type StopPoint struct {
	StopID      string  `json:"stopId"`
	DisplayName string  `json:"displayName"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// ClusterAssignment is a stop together with the cluster it belongs to
type ClusterAssignment struct {
	StopID       string       `json:"stopId"`
	DisplayName  string       `json:"displayName,omitempty"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	ClusterLabel ClusterLabel `json:"clusterLabel"`
}

// EnrichedArrival is a single row of a published snapshot
type EnrichedArrival struct {
	VehicleID        string       `json:"vehicleId"`
	StopID           string       `json:"stopId"`
	SecondsToStation int          `json:"secondsToStation"`
	Latitude         float64      `json:"latitude"`
	Longitude        float64      `json:"longitude"`
	ClusterLabel     ClusterLabel `json:"clusterLabel"`
	PulledAt         time.Time    `json:"pulledAtLocalTimestamp"`
}

// ValidCoordinates reports whether lat/lon are within the WGS84 ranges
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
