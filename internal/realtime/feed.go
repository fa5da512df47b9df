// Package realtime holds what the live arrival feeds share.
package realtime

import "fmt"

// FeedUnavailableError is returned when an arrivals endpoint gives no usable
// answer. StatusCode is set when a response arrived but was not usable.
type FeedUnavailableError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FeedUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("arrivals feed unavailable: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("arrivals feed unavailable: %v", e.Err)
}

func (e *FeedUnavailableError) Unwrap() error {
	return e.Err
}
