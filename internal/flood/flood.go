// Package flood proxies the Disaster Management Center river-gauge feeds
// published through lk-flood-api, caching responses to keep load off the
// upstream deployment.
package flood

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/config"
)

// Gauge readings move on a five minute cadence upstream; station and river
// metadata barely changes.
const (
	stationsTTL = 15 * time.Minute
	levelsTTL   = 5 * time.Minute
	alertsTTL   = 5 * time.Minute
	riversTTL   = time.Hour
	basinsTTL   = time.Hour
)

// UpstreamError reports a failed call to the river-gauge API.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("river gauge API call failed: %v", e.Err)
	}
	return fmt.Sprintf("river gauge API call failed: status %d", e.StatusCode)
}

func (e UpstreamError) Unwrap() error {
	return e.Err
}

func (e UpstreamError) Status() (int, string) {
	return http.StatusBadGateway, "river gauge data unavailable"
}

// Client fetches and caches river-gauge data.
type Client struct {
	apiURL string
	store  cache.Cache[[]byte]
	client *http.Client
}

// New creates a river-gauge client backed by the shared API response store.
func New(cfg config.FloodConfig, store cache.Cache[[]byte]) *Client {
	return &Client{
		apiURL: cfg.APIURL,
		store:  store,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Stations returns the gauge station directory as raw JSON.
func (c *Client) Stations(ctx context.Context) ([]byte, error) {
	return c.fetchCached(ctx, "/stations", "flood/stations", stationsTTL)
}

// LatestLevels returns the most recent water-level reading for every station
// as raw JSON.
func (c *Client) LatestLevels(ctx context.Context) ([]byte, error) {
	return c.fetchCached(ctx, "/levels/latest", "flood/levels", levelsTTL)
}

// ActiveAlerts returns stations currently at or above an alert threshold as
// raw JSON.
func (c *Client) ActiveAlerts(ctx context.Context) ([]byte, error) {
	return c.fetchCached(ctx, "/alerts", "flood/alerts", alertsTTL)
}

// AlertSummary returns alert counts grouped by severity as raw JSON.
func (c *Client) AlertSummary(ctx context.Context) ([]byte, error) {
	return c.fetchCached(ctx, "/alerts/summary", "flood/alerts-summary", alertsTTL)
}

// Rivers returns the river directory as raw JSON.
func (c *Client) Rivers(ctx context.Context) ([]byte, error) {
	return c.fetchCached(ctx, "/rivers", "flood/rivers", riversTTL)
}

// Basins returns the drainage basin directory as raw JSON.
func (c *Client) Basins(ctx context.Context) ([]byte, error) {
	return c.fetchCached(ctx, "/basins", "flood/basins", basinsTTL)
}

func (c *Client) fetchCached(ctx context.Context, path string, key string, ttl time.Duration) ([]byte, error) {
	if data, ok := c.store.Get(ctx, key); ok {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return nil, UpstreamError{Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, UpstreamError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, UpstreamError{Err: err}
	}

	c.store.SetTTL(ctx, key, data, ttl)

	return data, nil
}
