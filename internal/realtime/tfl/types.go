package tfl

// DefaultArrivalsURL is the TfL endpoint for every live bus prediction
const DefaultArrivalsURL = "https://api.tfl.gov.uk/Mode/bus/Arrivals"

// prediction is the subset of a TfL Prediction object the feed uses
type prediction struct {
	VehicleID     string `json:"vehicleId"`
	NaptanID      string `json:"naptanId"`
	LineID        string `json:"lineId"`
	Timestamp     string `json:"timestamp"`
	TimeToStation int    `json:"timeToStation"`
}
