//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/config"
	"github.com/lankasat/sentinel-bridge/internal/server"
	"github.com/lankasat/sentinel-bridge/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

// APITestHarness manages the complete test environment for API integration
// tests. Every upstream is mocked and the bridge runs as a real HTTP server
// with its full middleware stack.
type APITestHarness struct {
	t            *testing.T
	Server       *httptest.Server
	SentinelMock *testhelpers.MockSentinelServer
	WeatherMock  *testhelpers.MockWeatherServer
	FloodMock    *testhelpers.MockFloodServer
	Stores       *cache.Stores
}

// APITestHarnessOption adjusts the bridge configuration before startup.
type APITestHarnessOption func(*config.Config)

// WithoutWeather removes the weather API key so the weather surface reports
// itself unavailable.
func WithoutWeather() APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Weather.APIKey = ""
	}
}

// WithRateLimit lowers the per-client request allowance.
func WithRateLimit(requests int) APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Server.RateLimitRequests = requests
	}
}

// NewAPITestHarness creates a complete test harness with all mock upstreams
// and the API server. Use options to customize the configuration. Cleanup is
// handled automatically via t.Cleanup().
func NewAPITestHarness(t *testing.T, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	testhelpers.SetupLogger(t)
	hooks := server.ShutdownHooks{}

	t.Cleanup(func() {
		hooks.Execute(t.Context())
	})

	harness := &APITestHarness{t: t}

	// Setup mock upstreams
	harness.SentinelMock = testhelpers.SetupMockSentinelServer(t)
	harness.WeatherMock = testhelpers.SetupMockWeatherServer(t)
	harness.FloodMock = testhelpers.SetupMockFloodServer(t)

	hooks.AddClose("sentinel", harness.SentinelMock)
	hooks.AddClose("weather", harness.WeatherMock)
	hooks.AddClose("flood", harness.FloodMock)

	// Configure and start the API server
	cfg := config.Config{
		Sentinel: config.SentinelConfig{
			ClientID:       "test-client",
			ClientSecret:   "test-secret",
			AuthURL:        harness.SentinelMock.AuthURL(),
			ProcessURL:     harness.SentinelMock.ProcessURL(),
			TimeoutSeconds: 5,
		},
		Weather: config.WeatherConfig{
			APIKey:         "test-key",
			APIURL:         harness.WeatherMock.BaseURL(),
			TimeoutSeconds: 5,
		},
		Flood: config.FloodConfig{
			APIURL:         harness.FloodMock.Server.URL,
			TimeoutSeconds: 5,
		},
		Cache: config.CacheConfig{
			TokenCapacity:        10,
			TokenTTLSeconds:      3500,
			TileCapacity:         100,
			TileTTLSeconds:       300,
			APICapacity:          50,
			APITTLSeconds:        600,
			SweepIntervalSeconds: 60,
		},
		Observe: config.ObserveConfig{
			Enabled: false, // Disable observability for tests
		},
		Server: config.ServerConfig{
			Port:                   0, // Not used for httptest.Server
			AllowedOrigins:         []string{"*"},
			RateLimitRequests:      1000,
			RateLimitWindowSeconds: 60,
		},
	}

	// Apply options
	for _, opt := range options {
		opt(&cfg)
	}

	stores, err := cache.NewStores(cfg.Cache)
	require.NoError(t, err)
	harness.Stores = stores

	handler, err := configureServerRoutes(context.Background(), cfg, stores, &hooks)
	require.NoError(t, err)

	harness.Server = httptest.NewServer(handler)
	hooks.AddClose("api-server", harness.Server)

	return harness
}

// Client returns a TestClient configured for this harness.
func (h *APITestHarness) Client() *TestClient {
	return &TestClient{
		baseURL: h.Server.URL,
		client:  http.DefaultClient,
	}
}

// APIError represents a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       []byte
	Message    string // parsed from JSON error response if available
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// TestClient provides typed access to the bridge endpoints for testing.
type TestClient struct {
	baseURL string
	client  *http.Client
}

// Response wraps raw HTTP response for low-level assertions.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Request performs a low-level HTTP request and returns the raw response.
// This method is useful for testing error cases and edge conditions.
func (c *TestClient) Request(method, path string, body io.Reader) (*Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

// RequestJSON performs a request and returns the parsed JSON response.
// Returns the parsed JSON, status code, and any error.
func (c *TestClient) RequestJSON(method, path string) (map[string]any, int, error) {
	resp, err := c.Request(method, path, nil)
	if err != nil {
		return nil, 0, err
	}

	var result map[string]any
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("unmarshal JSON: %w", err)
		}
	}

	return result, resp.StatusCode, nil
}

// Tile requests a rendered tile and returns the raw response for header and
// body assertions. An empty date omits the parameter.
func (c *TestClient) Tile(layer string, z, x, y int, date string) (*Response, error) {
	path := fmt.Sprintf("/tile?layer=%s&z=%d&x=%d&y=%d", layer, z, x, y)
	if date != "" {
		path += "&date=" + date
	}

	return c.Request("GET", path, nil)
}

// GetJSON performs a GET expecting a 2xx JSON response, returning an APIError
// for anything else.
func (c *TestClient) GetJSON(path string) (map[string]any, error) {
	resp, err := c.Request("GET", path, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.parseError(resp)
	}

	var result map[string]any
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return result, nil
}

// parseError attempts to parse an error response from the API.
func (c *TestClient) parseError(resp *Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}

	// Try to parse JSON error message
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Message = errResp.Error
	}

	return apiErr
}
