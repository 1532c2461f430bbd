package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cache    CacheConfig
	Flood    FloodConfig
	Observe  ObserveConfig
	Sentinel SentinelConfig
	Server   ServerConfig
	Weather  WeatherConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8000"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`

	// AllowedOrigins lists the origins permitted to call the API from a
	// browser. "*" allows any origin.
	AllowedOrigins []string `env:"CORS_ORIGINS, default=*"`

	// RateLimitRequests per RateLimitWindowSeconds, applied per client.
	RateLimitRequests      int `env:"RATE_LIMIT_REQUESTS, default=100"`
	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW, default=60"`
}

// SentinelConfig holds Sentinel Hub credentials and endpoints. The defaults
// point at the Planet-operated Sentinel Hub deployment, not the Copernicus
// Data Space endpoints.
type SentinelConfig struct {
	ClientID     string `env:"SENTINEL_CLIENT_ID, required"`
	ClientSecret string `env:"SENTINEL_CLIENT_SECRET, required"`

	AuthURL    string `env:"SENTINEL_AUTH_URL, default=https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token"`
	ProcessURL string `env:"SENTINEL_PROCESS_URL, default=https://services.sentinel-hub.com/api/v1/process"`

	// TimeoutSeconds bounds each upstream call, the token exchange
	// included. Process API renders can be slow for cold areas of
	// interest, so this is generous.
	TimeoutSeconds int `env:"SENTINEL_TIMEOUT_SECS, default=30"`

	// LayerFile optionally points to a YAML file of additional layer
	// definitions overlaid on the built-in set.
	LayerFile string `env:"SENTINEL_LAYER_FILE"`
}

// CacheConfig sizes the bridge's in-memory stores. Capacities bound memory;
// TTLs bound staleness.
type CacheConfig struct {
	// Token store: one entry per credential pair, expiring ahead of the
	// provider's one-hour token lifetime.
	TokenCapacity   int `env:"CACHE_TOKEN_CAPACITY, default=10"`
	TokenTTLSeconds int `env:"CACHE_TOKEN_TTL_SECS, default=3500"`

	// Tile store: rendered PNGs, the hot working set of a map session.
	TileCapacity   int `env:"CACHE_TILE_CAPACITY, default=500"`
	TileTTLSeconds int `env:"CACHE_TILE_TTL_SECS, default=300"`

	// API store: upstream JSON responses (weather, river gauges).
	APICapacity   int `env:"CACHE_API_CAPACITY, default=100"`
	APITTLSeconds int `env:"CACHE_API_TTL_SECS, default=600"`

	// SweepIntervalSeconds is how often the background sweeper reclaims
	// entries that expired without being observed.
	SweepIntervalSeconds int `env:"CACHE_SWEEP_INTERVAL_SECS, default=60"`
}

// WeatherConfig holds OpenWeatherMap settings. An empty APIKey disables the
// weather endpoints rather than failing startup; the imagery surface works
// without it.
type WeatherConfig struct {
	APIKey         string `env:"OPENWEATHER_API_KEY"`
	APIURL         string `env:"OPENWEATHER_API_URL, default=https://api.openweathermap.org/data/2.5"`
	TimeoutSeconds int    `env:"OPENWEATHER_TIMEOUT_SECS, default=10"`
}

// FloodConfig holds the Sri Lanka river gauge API settings.
type FloodConfig struct {
	APIURL         string `env:"FLOOD_API_URL, default=https://lk-flood-api.vercel.app"`
	TimeoutSeconds int    `env:"FLOOD_API_TIMEOUT_SECS, default=10"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=sentinel-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	err = cfg.Server.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid server configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that every store is given a usable capacity and TTL.
func (c *CacheConfig) Validate() error {
	limits := []struct {
		name  string
		value int
	}{
		{"CACHE_TOKEN_CAPACITY", c.TokenCapacity},
		{"CACHE_TOKEN_TTL_SECS", c.TokenTTLSeconds},
		{"CACHE_TILE_CAPACITY", c.TileCapacity},
		{"CACHE_TILE_TTL_SECS", c.TileTTLSeconds},
		{"CACHE_API_CAPACITY", c.APICapacity},
		{"CACHE_API_TTL_SECS", c.APITTLSeconds},
		{"CACHE_SWEEP_INTERVAL_SECS", c.SweepIntervalSeconds},
	}

	for _, l := range limits {
		if l.value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", l.name, l.value)
		}
	}

	return nil
}

// Validate checks the rate limiting settings.
func (c *ServerConfig) Validate() error {
	if c.RateLimitRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindowSeconds < 1 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1, got %d", c.RateLimitWindowSeconds)
	}
	return nil
}
