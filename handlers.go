package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lankasat/sentinel-bridge/internal/audit"
	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/sentinel"
	"github.com/lankasat/sentinel-bridge/internal/tile"
	"github.com/lankasat/sentinel-bridge/internal/weather"
	"github.com/rs/zerolog/log"
)

const (
	serviceName        = "sentinel-bridge"
	serviceVersion     = "1.0.0"
	serviceDescription = "Satellite imagery and weather bridge for the Sri Lanka flood dashboard"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// sriLanka frames the dashboard map over the island.
var sriLanka = mapDefaults{
	Center:      []float64{7.8731, 80.7718},
	Bounds:      mapBounds{North: 10.1, South: 5.9, East: 82.2, West: 79.4},
	DefaultZoom: 7,
	MinZoom:     7,
	MaxZoom:     15,
}

type mapDefaults struct {
	Center      []float64 `json:"center"`
	Bounds      mapBounds `json:"bounds"`
	DefaultZoom int       `json:"default_zoom"`
	MinZoom     int       `json:"min_zoom"`
	MaxZoom     int       `json:"max_zoom"`
}

type mapBounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

func handleIndex() http.Handler {
	index := struct {
		Name        string            `json:"name"`
		Version     string            `json:"version"`
		Description string            `json:"description"`
		Endpoints   map[string]string `json:"endpoints"`
	}{
		Name:        serviceName,
		Version:     serviceVersion,
		Description: serviceDescription,
		Endpoints: map[string]string{
			"healthcheck": "/healthcheck",
			"layers":      "/layers",
			"tile":        "/tile?layer={id}&z={z}&x={x}&y={y}&date={YYYY-MM-DD}",
			"token":       "/token",
			"weather":     "/weather",
			"rivers":      "/rivers",
			"cache":       "/cache/stats",
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, index)
	})
}

func handleHealthCheck(stores *cache.Stores) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, struct {
			Status     string               `json:"status"`
			Timestamp  string               `json:"timestamp"`
			CacheStats map[string]statsBody `json:"cache_stats"`
		}{
			Status:     "healthy",
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			CacheStats: storeStats(stores),
		})
	})
}

func handleLayers(registry *sentinel.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, struct {
			Layers   []sentinel.Layer `json:"layers"`
			SriLanka mapDefaults      `json:"sri_lanka"`
		}{
			Layers:   registry.Layers(),
			SriLanka: sriLanka,
		})
	})
}

func handleTile(fetcher *sentinel.Fetcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		q := r.URL.Query()

		layerID := q.Get("layer")
		if layerID == "" {
			writeJSONError(w, http.StatusBadRequest, "layer parameter is required")
			return
		}

		z, x, y, err := tileCoordinates(q)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		date := tile.ClampDate(q.Get("date"), time.Now().UTC())

		entry := audit.Log(r.Context())
		entry.Layer = layerID
		entry.Zoom = z
		entry.X = x
		entry.Y = y
		entry.Date = date

		result, err := fetcher.FetchTile(r.Context(), layerID, z, x, y, date)
		if err != nil {
			entry.Error = err.Error()
			status, message := errorStatus(err)
			writeJSONError(w, status, message)
			return
		}

		if result == nil {
			entry.TileSource = "absent"
			writeJSONError(w, http.StatusNotFound, "No imagery available for this tile/date combination")
			return
		}

		if result.FromCache {
			entry.TileSource = "cache"
		} else {
			entry.TileSource = "upstream"
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.Header().Set("X-Tile-Layer", layerID)
		w.Header().Set("X-Tile-Date", date)

		if _, err := w.Write(result.Data); err != nil {
			// record failure to log: trying to respond to the client at this
			// point will likely fail
			log.Info().Msgf("failed to write tile response: %v", err)
		}
	})
}

// tileCoordinates reads the z/x/y query parameters, all of which must be
// present and integral. Range checking belongs to the fetch pipeline.
func tileCoordinates(q url.Values) (z, x, y int, err error) {
	z, err = intParam(q, "z")
	if err != nil {
		return
	}
	x, err = intParam(q, "x")
	if err != nil {
		return
	}
	y, err = intParam(q, "y")
	return
}

func intParam(q url.Values, name string) (int, error) {
	v, err := strconv.Atoi(q.Get(name))
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be an integer", name)
	}
	return v, nil
}

func handleTokenCheck(tokens *sentinel.TokenSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		if _, err := tokens.Token(r.Context()); err != nil {
			audit.Log(r.Context()).Error = err.Error()
			status, message := errorStatus(err)
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Authenticated bool   `json:"authenticated"`
			Message       string `json:"message"`
		}{
			Authenticated: true,
			Message:       "Successfully authenticated with Sentinel Hub",
		})
	})
}

func handleCacheStats(stores *cache.Stores) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, storeStats(stores))
	})
}

func handleCacheClear(stores *cache.Stores) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		stores.ClearAll(r.Context())
		log.Info().Msg("caches cleared by request")

		writeJSON(w, http.StatusOK, struct {
			Message string `json:"message"`
		}{
			Message: "Cache cleared successfully",
		})
	})
}

// statsBody is the wire form of cache statistics.
type statsBody struct {
	Size       int `json:"size"`
	MaxSize    int `json:"max_size"`
	TTLSeconds int `json:"ttl_seconds"`
}

func storeStats(stores *cache.Stores) map[string]statsBody {
	stats := make(map[string]statsBody)
	for name, store := range stores.Admins() {
		s := store.Stats()
		stats[name] = statsBody{
			Size:       s.Size,
			MaxSize:    s.Capacity,
			TTLSeconds: int(s.TTL / time.Second),
		}
	}
	return stats
}

func handleWeatherSummary(forecasts *weather.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entry := audit.Log(r.Context())
		entry.Provider = "openweathermap"

		data, err := forecasts.Summary(r.Context())
		if err != nil {
			entry.Error = err.Error()
			status, message := errorStatus(err)
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Status    string          `json:"status"`
			Data      json.RawMessage `json:"data"`
			Timestamp string          `json:"timestamp"`
		}{
			Status:    "success",
			Data:      data,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func handleWeatherLocations() http.Handler {
	type locationBody struct {
		ID          string              `json:"id"`
		Name        string              `json:"name"`
		Region      string              `json:"region"`
		Coordinates weather.Coordinates `json:"coordinates"`
	}

	locations := make([]locationBody, 0)
	for _, loc := range weather.Locations() {
		locations = append(locations, locationBody{
			ID:          loc.ID,
			Name:        loc.Name,
			Region:      loc.Region,
			Coordinates: weather.Coordinates{Lat: loc.Lat, Lon: loc.Lon},
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, struct {
			Locations []locationBody `json:"locations"`
		}{
			Locations: locations,
		})
	})
}

func handleWeatherCurrent(forecasts *weather.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		loc, ok := weather.Lookup(r.PathValue("location"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, unknownLocationMessage())
			return
		}

		entry := audit.Log(r.Context())
		entry.Provider = "openweathermap"
		entry.Location = loc.ID

		data, err := forecasts.Current(r.Context(), loc)
		if err != nil {
			entry.Error = err.Error()
			status, message := errorStatus(err)
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Location  string          `json:"location"`
			Data      json.RawMessage `json:"data"`
			Timestamp string          `json:"timestamp"`
		}{
			Location:  loc.ID,
			Data:      data,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func handleWeatherForecast(forecasts *weather.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		loc, ok := weather.Lookup(r.PathValue("location"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, unknownLocationMessage())
			return
		}

		entry := audit.Log(r.Context())
		entry.Provider = "openweathermap"
		entry.Location = loc.ID

		data, err := forecasts.Forecast(r.Context(), loc)
		if err != nil {
			entry.Error = err.Error()
			status, message := errorStatus(err)
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Location  string          `json:"location"`
			Region    string          `json:"region"`
			Forecast  json.RawMessage `json:"forecast"`
			Timestamp string          `json:"timestamp"`
		}{
			Location:  loc.Name,
			Region:    loc.Region,
			Forecast:  data,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func unknownLocationMessage() string {
	ids := make([]string, 0)
	for _, loc := range weather.Locations() {
		ids = append(ids, loc.ID)
	}
	return "Location not found. Available: " + strings.Join(ids, ", ")
}

// riverProxy adapts one river-gauge API call into a handler. Upstream
// responses pass through untouched.
func riverProxy(name string, fetch func(context.Context) ([]byte, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entry := audit.Log(r.Context())
		entry.Provider = "lk-flood-api"

		data, err := fetch(r.Context())
		if err != nil {
			entry.Error = err.Error()
			status, message := errorStatus(err)
			writeJSONError(w, status, message)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(data); err != nil {
			log.Info().Msgf("failed to write %s response: %v", name, err)
		}
	})
}

// allowCrossOrigin answers browser preflights and marks responses for the
// configured dashboard origins. It wraps the whole mux so that OPTIONS
// requests are handled before method-specific routing rejects them.
func allowCrossOrigin(origins []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(origins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
