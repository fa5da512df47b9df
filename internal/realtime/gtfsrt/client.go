// Package gtfsrt adapts a GTFS-Realtime TripUpdates feed into arrival events,
// for networks that publish predictions as protobuf rather than TfL JSON.
package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/lon-trans/bus-density/internal/models"
	"github.com/lon-trans/bus-density/internal/realtime"
)

// Client fetches a TripUpdates feed and flattens each stop time update
// into an ArrivalEvent.
type Client struct {
	logger *zap.Logger
	url    string
	client *http.Client
	now    func() time.Time
}

// NewClient creates a new GTFS-RT trip updates client
func NewClient(logger *zap.Logger, url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger: logger.With(zap.String("component", "gtfsrt")),
		url:    url,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Fetch retrieves the feed and converts it to arrival events
func (c *Client) Fetch(ctx context.Context) ([]models.ArrivalEvent, error) {
	feed, err := c.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	events := c.toArrivals(feed)
	c.logger.Info("fetched arrivals",
		zap.Int("entities", len(feed.GetEntity())),
		zap.Int("count", len(events)),
	)
	return events, nil
}

func (c *Client) fetchFeed(ctx context.Context) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &realtime.FeedUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &realtime.FeedUnavailableError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("feed returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &realtime.FeedUnavailableError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, &realtime.FeedUnavailableError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse protobuf: %w", err)}
	}

	return feed, nil
}

// toArrivals measures secondsToStation against the feed header timestamp,
// falling back to the local clock when the header has none.
func (c *Client) toArrivals(feed *gtfs.FeedMessage) []models.ArrivalEvent {
	reference := c.now().UTC()
	if ts := feed.GetHeader().GetTimestamp(); ts > 0 {
		reference = time.Unix(int64(ts), 0).UTC()
	}

	var events []models.ArrivalEvent
	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}

		observedAt := reference
		if ts := tu.GetTimestamp(); ts > 0 {
			observedAt = time.Unix(int64(ts), 0).UTC()
		}

		vehicleID := tu.GetVehicle().GetId()
		if vehicleID == "" {
			vehicleID = tu.GetVehicle().GetLabel()
		}
		if vehicleID == "" {
			vehicleID = "trip:" + tu.GetTrip().GetTripId()
		}

		for _, stu := range tu.GetStopTimeUpdate() {
			if stu.GetScheduleRelationship() == gtfs.TripUpdate_StopTimeUpdate_SKIPPED {
				continue
			}

			predicted := stu.GetArrival().GetTime()
			if predicted == 0 {
				predicted = stu.GetDeparture().GetTime()
			}
			if predicted == 0 {
				continue
			}

			seconds := int(predicted - reference.Unix())
			if seconds < 0 {
				continue
			}

			stopID := stu.GetStopId()
			if stopID == "" {
				stopID = models.StopIDUnknown
			}

			events = append(events, models.ArrivalEvent{
				VehicleID:        vehicleID,
				StopID:           stopID,
				LineID:           tu.GetTrip().GetRouteId(),
				ObservedAt:       observedAt,
				SecondsToStation: seconds,
			})
		}
	}

	return events
}
