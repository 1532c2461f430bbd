// Package weather integrates with OpenWeatherMap for current conditions and
// forecasts across Sri Lanka's key monitoring locations, and derives the
// island-wide rainfall and flood-risk summary from them.
package weather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/config"
)

// Staleness bounds for the provider responses held in the shared API store.
const (
	currentTTL  = 10 * time.Minute
	forecastTTL = 30 * time.Minute
	summaryTTL  = 10 * time.Minute
)

// Location is a monitored place with its coordinates.
type Location struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Region string  `json:"region"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

// monitored is the fixed set of locations the summary aggregates.
var monitored = []Location{
	{ID: "colombo", Name: "Colombo", Region: "Western Province", Lat: 6.93, Lon: 79.85},
	{ID: "kandy", Name: "Kandy", Region: "Central Province", Lat: 7.29, Lon: 80.63},
	{ID: "jaffna", Name: "Jaffna", Region: "Northern Province", Lat: 9.66, Lon: 80.01},
	{ID: "trincomalee", Name: "Trincomalee", Region: "Eastern Province", Lat: 8.57, Lon: 81.23},
	{ID: "batticaloa", Name: "Batticaloa", Region: "Eastern Province", Lat: 7.73, Lon: 81.70},
	{ID: "galle", Name: "Galle", Region: "Southern Province", Lat: 6.05, Lon: 80.22},
	{ID: "anuradhapura", Name: "Anuradhapura", Region: "North Central Province", Lat: 8.31, Lon: 80.41},
	{ID: "ratnapura", Name: "Ratnapura", Region: "Sabaragamuwa Province", Lat: 6.68, Lon: 80.40},
	{ID: "badulla", Name: "Badulla", Region: "Uva Province", Lat: 6.99, Lon: 81.06},
}

// Locations returns the monitored locations in presentation order.
func Locations() []Location {
	out := make([]Location, len(monitored))
	copy(out, monitored)
	return out
}

// Lookup resolves a location by identifier, falling back to a
// case-insensitive substring match on name or region.
func Lookup(query string) (Location, bool) {
	q := strings.ToLower(query)

	for _, loc := range monitored {
		if loc.ID == q {
			return loc, true
		}
	}

	for _, loc := range monitored {
		if strings.Contains(strings.ToLower(loc.Name), q) ||
			strings.Contains(strings.ToLower(loc.Region), q) {
			return loc, true
		}
	}

	return Location{}, false
}

// DisabledError reports that the weather surface is configured off.
type DisabledError struct{}

func (DisabledError) Error() string {
	return "weather service disabled: no API key configured"
}

func (DisabledError) Status() (int, string) {
	return http.StatusServiceUnavailable, "weather service not configured"
}

// UpstreamError reports a failed call to the weather provider.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("weather provider call failed: %v", e.Err)
	}
	return fmt.Sprintf("weather provider call failed: status %d", e.StatusCode)
}

func (e UpstreamError) Unwrap() error {
	return e.Err
}

func (e UpstreamError) Status() (int, string) {
	return http.StatusBadGateway, "weather data unavailable"
}

// Service fetches and caches weather data for the monitored locations.
type Service struct {
	apiURL string
	apiKey string
	store  cache.Cache[[]byte]
	client *http.Client
}

// New creates a weather service backed by the shared API response store.
func New(cfg config.WeatherConfig, store cache.Cache[[]byte]) *Service {
	return &Service{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		store:  store,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Enabled reports whether an API key is configured.
func (s *Service) Enabled() bool {
	return s.apiKey != ""
}

// Current returns the provider's current conditions for a location as raw
// JSON.
func (s *Service) Current(ctx context.Context, loc Location) ([]byte, error) {
	return s.fetchCached(ctx, "/weather", loc, "weather/current/"+loc.ID, currentTTL)
}

// Forecast returns the provider's 5-day/3-hour forecast for a location as
// raw JSON.
func (s *Service) Forecast(ctx context.Context, loc Location) ([]byte, error) {
	return s.fetchCached(ctx, "/forecast", loc, "weather/forecast/"+loc.ID, forecastTTL)
}

func (s *Service) fetchCached(ctx context.Context, path string, loc Location, key string, ttl time.Duration) ([]byte, error) {
	if !s.Enabled() {
		return nil, DisabledError{}
	}

	if data, ok := s.store.Get(ctx, key); ok {
		return data, nil
	}

	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%g", loc.Lat))
	query.Set("lon", fmt.Sprintf("%g", loc.Lon))
	query.Set("appid", s.apiKey)
	query.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, UpstreamError{Err: err}
	}

	resp, err := s.client.Do(req)
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

	s.store.SetTTL(ctx, key, data, ttl)

	return data, nil
}
