package tfl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/models"
	"github.com/lon-trans/bus-density/internal/realtime"
)

// Client fetches live bus arrival predictions from the TfL unified API
type Client struct {
	logger  *zap.Logger
	baseURL string
	appKey  string
	client  *http.Client
}

// NewClient creates a new TfL arrivals client. An empty baseURL uses DefaultArrivalsURL.
func NewClient(logger *zap.Logger, baseURL, appKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultArrivalsURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:  logger.With(zap.String("component", "tfl")),
		baseURL: baseURL,
		appKey:  appKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch retrieves the current arrival predictions
func (c *Client) Fetch(ctx context.Context) ([]models.ArrivalEvent, error) {
	reqURL, err := c.requestURL()
	if err != nil {
		return nil, fmt.Errorf("failed to build request url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &realtime.FeedUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Info("received non-OK response",
			zap.Int("status_code", resp.StatusCode),
		)
		return nil, &realtime.FeedUnavailableError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(string(body)),
		}
	}

	var data []prediction
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, &realtime.FeedUnavailableError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}

	events := make([]models.ArrivalEvent, 0, len(data))
	negative := 0
	for _, p := range data {
		if p.TimeToStation < 0 {
			negative++
			continue
		}

		observedAt, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil && p.Timestamp != "" {
			c.logger.Debug("unparseable prediction timestamp",
				zap.String("vehicle_id", p.VehicleID),
				zap.String("timestamp", p.Timestamp),
			)
		}

		events = append(events, models.ArrivalEvent{
			VehicleID:        p.VehicleID,
			StopID:           p.NaptanID,
			LineID:           p.LineID,
			ObservedAt:       observedAt,
			SecondsToStation: p.TimeToStation,
		})
	}

	if negative > 0 {
		c.logger.Debug("skipped predictions with negative time to station",
			zap.Int("count", negative),
		)
	}

	c.logger.Info("fetched arrivals", zap.Int("count", len(events)))
	return events, nil
}

func (c *Client) requestURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if c.appKey != "" {
		q := u.Query()
		q.Set("app_key", c.appKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
