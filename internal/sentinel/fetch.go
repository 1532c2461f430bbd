package sentinel

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/config"
	"github.com/lankasat/sentinel-bridge/internal/tile"
)

// Rendered tile dimensions in pixels.
const (
	tileWidth  = 256
	tileHeight = 256
)

// historyWindowDays is how far back from the requested date the provider may
// reach for imagery. Satellite revisit intervals mean a single day rarely
// has a scene; thirty days reliably does.
const historyWindowDays = 30

// crs4326 identifies plain latitude/longitude coordinates to the Process
// API.
const crs4326 = "http://www.opengis.net/def/crs/EPSG/0/4326"

// Result carries a rendered tile and where it came from.
type Result struct {
	Data      []byte
	FromCache bool
}

// Fetcher renders map tiles through the Process API, caching the returned
// PNGs keyed by the full request identity.
type Fetcher struct {
	registry   *Registry
	tiles      cache.Cache[[]byte]
	tokens     *TokenSource
	client     *http.Client
	processURL string
}

// NewFetcher creates a tile fetcher using the given layer catalogue, tile
// store and token source.
func NewFetcher(cfg config.SentinelConfig, registry *Registry, tiles cache.Cache[[]byte], tokens *TokenSource) *Fetcher {
	return &Fetcher{
		registry:   registry,
		tiles:      tiles,
		tokens:     tokens,
		processURL: cfg.ProcessURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// FetchTile returns the rendered tile for a layer, tile address and date.
//
// A nil Result with a nil error means the provider has no imagery for the
// request. Upstream render failures are reported the same way so a map
// viewer shows a gap rather than an error, and nothing is cached for the
// failed request. Authentication failures do propagate: they affect every
// tile and need surfacing.
func (f *Fetcher) FetchTile(ctx context.Context, layerID string, z, x, y int, date string) (*Result, error) {
	if err := tile.ValidateCoordinates(z, x, y); err != nil {
		return nil, err
	}

	layer, ok := f.registry.Lookup(layerID)
	if !ok {
		return nil, UnknownLayerError{ID: layerID, Available: f.registry.IDs()}
	}

	key := tileCacheKey(layerID, z, x, y, date)
	if data, ok := f.tiles.Get(ctx, key); ok {
		return &Result{Data: data, FromCache: true}, nil
	}

	token, err := f.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(buildProcessRequest(layer, tile.ToBBox(z, x, y), date))
	if err != nil {
		return nil, fmt.Errorf("process request marshalling failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.processURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("process request construction failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	resp, err := f.client.Do(req)
	if err != nil {
		log.Warn().Err(err).
			Str("layer", layerID).
			Int("z", z).Int("x", x).Int("y", y).
			Msg("tile fetch failed")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn().
			Int("status", resp.StatusCode).
			Str("layer", layerID).
			Int("z", z).Int("x", x).Int("y", y).
			Str("detail", string(detail)).
			Msg("tile fetch rejected by provider")
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn().Err(err).
			Str("layer", layerID).
			Msg("tile response read failed")
		return nil, nil
	}

	if len(data) == 0 {
		log.Warn().
			Str("layer", layerID).
			Int("z", z).Int("x", x).Int("y", y).
			Msg("provider returned an empty tile")
		return nil, nil
	}

	f.tiles.Set(ctx, key, data)

	return &Result{Data: data}, nil
}

// tileCacheKey digests the full request identity so distinct requests can
// never collide on a key.
func tileCacheKey(layerID string, z, x, y int, date string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s/%d/%d/%d/%s", layerID, z, x, y, date))
	return hex.EncodeToString(sum[:])
}

// processRequest is the Process API request body.
type processRequest struct {
	Input      processInput  `json:"input"`
	Output     processOutput `json:"output"`
	Evalscript string        `json:"evalscript"`
}

type processInput struct {
	Bounds processBounds `json:"bounds"`
	Data   []processData `json:"data"`
}

type processBounds struct {
	BBox       []float64        `json:"bbox"`
	Properties boundsProperties `json:"properties"`
}

type boundsProperties struct {
	CRS string `json:"crs"`
}

type processData struct {
	Type       string     `json:"type"`
	DataFilter dataFilter `json:"dataFilter"`
}

type dataFilter struct {
	TimeRange       timeRange `json:"timeRange"`
	MosaickingOrder string    `json:"mosaickingOrder"`

	// MaxCloudCoverage is only meaningful for optical collections; the
	// Process API rejects it for radar.
	MaxCloudCoverage *int `json:"maxCloudCoverage,omitempty"`
}

type timeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type processOutput struct {
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Responses []processResponse `json:"responses"`
}

type processResponse struct {
	Identifier string       `json:"identifier"`
	Format     outputFormat `json:"format"`
}

type outputFormat struct {
	Type string `json:"type"`
}

// buildProcessRequest assembles the render request for one tile. The time
// range opens historyWindowDays before the requested date so the provider
// can mosaic from the most recent available pass.
func buildProcessRequest(layer Layer, bbox tile.BBox, date string) processRequest {
	target, err := time.Parse(tile.DateFormat, date)
	if err != nil {
		target = time.Now()
	}

	filter := dataFilter{
		TimeRange: timeRange{
			From: target.AddDate(0, 0, -historyWindowDays).Format(tile.DateFormat) + "T00:00:00Z",
			To:   target.Format(tile.DateFormat) + "T23:59:59Z",
		},
		MosaickingOrder: layer.MosaickingOrder,
	}

	if layer.optical() {
		coverage := layer.MaxCloudCoverage
		filter.MaxCloudCoverage = &coverage
	}

	return processRequest{
		Input: processInput{
			Bounds: processBounds{
				BBox:       bbox.Slice(),
				Properties: boundsProperties{CRS: crs4326},
			},
			Data: []processData{{
				Type:       layer.Type,
				DataFilter: filter,
			}},
		},
		Output: processOutput{
			Width:  tileWidth,
			Height: tileHeight,
			Responses: []processResponse{{
				Identifier: "default",
				Format:     outputFormat{Type: "image/png"},
			}},
		},
		Evalscript: layer.Evalscript,
	}
}
