package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// MockSentinelServer provides a configurable mock Sentinel Hub server that
// handles both token issue and tile process requests.
type MockSentinelServer struct {
	Server            *httptest.Server
	Token             string     // Access token to return from the token endpoint
	AuthStatusCode    int        // HTTP status for the token endpoint (200 if not set)
	AuthRequests      int        // Number of token requests received
	LastAuthForm      url.Values // Captured form values from the last token request
	TileData          []byte     // Tile bytes to return from the process endpoint
	ProcessStatusCode int        // HTTP status for the process endpoint (200 if not set)
	ProcessRequests   int        // Number of process requests received
	LastAuthHeader    string     // Captured Authorization header from the last process request
	LastProcessBody   []byte     // Captured request body from the last process request
}

// SetupMockSentinelServer creates a mock Sentinel Hub server covering the
// OAuth token endpoint and the process API. Returns a MockSentinelServer with
// configurable response values and request tracking.
func SetupMockSentinelServer(t *testing.T) *MockSentinelServer {
	t.Helper()

	mock := &MockSentinelServer{
		Token:             "test-sentinel-token",
		AuthStatusCode:    http.StatusOK,
		TileData:          []byte("png-tile-data"),
		ProcessStatusCode: http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /auth/realms/main/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		mock.AuthRequests++

		if err := r.ParseForm(); err == nil {
			mock.LastAuthForm = r.PostForm
		}

		if mock.AuthStatusCode != http.StatusOK {
			w.WriteHeader(mock.AuthStatusCode)
			return
		}

		response := struct {
			AccessToken string `json:"access_token"`
			TokenType   string `json:"token_type"`
			ExpiresIn   int    `json:"expires_in"`
		}{
			AccessToken: mock.Token,
			TokenType:   "Bearer",
			ExpiresIn:   3599,
		}

		WriteJSON(w, response)
	})

	router.HandleFunc("POST /api/v1/process", func(w http.ResponseWriter, r *http.Request) {
		mock.ProcessRequests++
		mock.LastAuthHeader = r.Header.Get("Authorization")
		mock.LastProcessBody, _ = io.ReadAll(r.Body)

		if mock.ProcessStatusCode != http.StatusOK {
			w.WriteHeader(mock.ProcessStatusCode)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(mock.TileData)
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// AuthURL returns the mock's token endpoint URL.
func (m *MockSentinelServer) AuthURL() string {
	return m.Server.URL + "/auth/realms/main/protocol/openid-connect/token"
}

// ProcessURL returns the mock's process endpoint URL.
func (m *MockSentinelServer) ProcessURL() string {
	return m.Server.URL + "/api/v1/process"
}

// Close shuts down the mock server.
func (m *MockSentinelServer) Close() {
	m.Server.Close()
}

// MockWeatherServer provides a configurable mock OpenWeatherMap server for
// current conditions and forecast requests.
type MockWeatherServer struct {
	Server       *httptest.Server
	Temp         float64    // Temperature to report from the current endpoint
	RainOneHour  float64    // Rainfall rate to report (the rain block is omitted when zero)
	StatusCode   int        // HTTP status code to return (200 if not set)
	RequestCount int        // Number of requests received
	LastQuery    url.Values // Captured query parameters from the last request
}

// SetupMockWeatherServer creates a mock OpenWeatherMap server that handles
// current-conditions and forecast lookups. Returns a MockWeatherServer with
// configurable response values and request tracking.
func SetupMockWeatherServer(t *testing.T) *MockWeatherServer {
	t.Helper()

	mock := &MockWeatherServer{
		Temp:       29.4,
		StatusCode: http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("GET /data/2.5/weather", func(w http.ResponseWriter, r *http.Request) {
		mock.RequestCount++
		mock.LastQuery = r.URL.Query()

		if mock.StatusCode != http.StatusOK {
			w.WriteHeader(mock.StatusCode)
			return
		}

		observation := map[string]any{
			"weather": []map[string]any{
				{"description": "light rain", "icon": "10d"},
			},
			"main": map[string]any{
				"temp":       mock.Temp,
				"feels_like": mock.Temp + 2,
				"humidity":   84,
				"pressure":   1009,
			},
			"wind":       map[string]any{"speed": 3.6, "deg": 240},
			"clouds":     map[string]any{"all": 75},
			"visibility": 10000,
		}
		if mock.RainOneHour > 0 {
			observation["rain"] = map[string]any{"1h": mock.RainOneHour}
		}

		WriteJSON(w, observation)
	})

	router.HandleFunc("GET /data/2.5/forecast", func(w http.ResponseWriter, r *http.Request) {
		mock.RequestCount++
		mock.LastQuery = r.URL.Query()

		if mock.StatusCode != http.StatusOK {
			w.WriteHeader(mock.StatusCode)
			return
		}

		forecast := map[string]any{
			"cnt": 1,
			"list": []map[string]any{
				{
					"dt":   1735689600,
					"main": map[string]any{"temp": mock.Temp},
					"rain": map[string]any{"3h": mock.RainOneHour * 3},
				},
			},
		}

		WriteJSON(w, forecast)
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// BaseURL returns the mock's API base, ready for WeatherConfig.APIURL.
func (m *MockWeatherServer) BaseURL() string {
	return m.Server.URL + "/data/2.5"
}

// Close shuts down the mock server.
func (m *MockWeatherServer) Close() {
	m.Server.Close()
}

// MockFloodServer provides a configurable mock river-gauge API server.
type MockFloodServer struct {
	Server       *httptest.Server
	StatusCode   int // HTTP status code to return (200 if not set)
	RequestCount int // Number of requests received
}

// SetupMockFloodServer creates a mock river-gauge API server covering the
// station, level and alert endpoints. Returns a MockFloodServer with
// configurable response values and request tracking.
func SetupMockFloodServer(t *testing.T) *MockFloodServer {
	t.Helper()

	mock := &MockFloodServer{
		StatusCode: http.StatusOK,
	}

	serve := func(payload any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mock.RequestCount++

			if mock.StatusCode != http.StatusOK {
				w.WriteHeader(mock.StatusCode)
				return
			}

			WriteJSON(w, payload)
		}
	}

	router := http.NewServeMux()

	router.HandleFunc("GET /stations", serve(map[string]any{
		"stations": []map[string]any{
			{"id": "nagalagam-street", "name": "Nagalagam Street", "river": "Kelani Ganga"},
			{"id": "hanwella", "name": "Hanwella", "river": "Kelani Ganga"},
		},
	}))

	router.HandleFunc("GET /levels/latest", serve(map[string]any{
		"levels": []map[string]any{
			{"station": "nagalagam-street", "level_m": 1.82, "status": "normal"},
		},
	}))

	router.HandleFunc("GET /alerts", serve(map[string]any{
		"alerts": []map[string]any{
			{"station": "hanwella", "level": "minor", "message": "minor flood level exceeded"},
		},
	}))

	router.HandleFunc("GET /alerts/summary", serve(map[string]any{
		"total": 1,
		"by_level": map[string]any{
			"minor": 1,
		},
	}))

	router.HandleFunc("GET /rivers", serve(map[string]any{
		"rivers": []map[string]any{
			{"name": "Kelani Ganga", "basin": "Kelani"},
			{"name": "Kalu Ganga", "basin": "Kalu"},
		},
	}))

	router.HandleFunc("GET /basins", serve(map[string]any{
		"basins": []map[string]any{
			{"name": "Kelani", "stations": 6},
		},
	}))

	mock.Server = httptest.NewServer(router)
	return mock
}

// Close shuts down the mock server.
func (m *MockFloodServer) Close() {
	m.Server.Close()
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
