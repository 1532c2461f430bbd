package sentinel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lankasat/sentinel-bridge/internal/cache"
	"github.com/lankasat/sentinel-bridge/internal/testhelpers"
	"github.com/lankasat/sentinel-bridge/internal/tile"
)

func newTestFetcher(t *testing.T, mock *testhelpers.MockSentinelServer) *Fetcher {
	t.Helper()

	tokenStore, err := cache.NewMemory[string](10, time.Hour)
	require.NoError(t, err)

	tileStore, err := cache.NewMemory[[]byte](100, 5*time.Minute)
	require.NoError(t, err)

	cfg := sentinelConfig(mock)

	return NewFetcher(cfg, NewRegistry(), tileStore, NewTokenSource(cfg, tokenStore))
}

func decodeProcessRequest(t *testing.T, body []byte) processRequest {
	t.Helper()

	var request processRequest
	require.NoError(t, json.Unmarshal(body, &request))

	return request
}

func TestFetchTile_FetchesAndCaches(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()

	fetcher := newTestFetcher(t, mock)

	result, err := fetcher.FetchTile(context.Background(), "S2_NDVI", 7, 64, 40, "2024-01-01")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, mock.TileData, result.Data)
	assert.False(t, result.FromCache)
	assert.Equal(t, 1, mock.ProcessRequests)
	assert.Equal(t, 1, mock.AuthRequests)

	// an identical request is served from the tile store
	again, err := fetcher.FetchTile(context.Background(), "S2_NDVI", 7, 64, 40, "2024-01-01")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, result.Data, again.Data)
	assert.True(t, again.FromCache)
	assert.Equal(t, 1, mock.ProcessRequests)
}

func TestFetchTile_UnknownLayer(t *testing.T) {
	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()

	fetcher := newTestFetcher(t, mock)

	_, err := fetcher.FetchTile(context.Background(), "S9_UNKNOWN", 7, 64, 40, "2024-01-01")
	require.Error(t, err)

	var unknown UnknownLayerError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "S9_UNKNOWN", unknown.ID)
	assert.Len(t, unknown.Available, 7)

	// never reaches the provider
	assert.Zero(t, mock.AuthRequests)
	assert.Zero(t, mock.ProcessRequests)
}

func TestFetchTile_InvalidCoordinates(t *testing.T) {
	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()

	fetcher := newTestFetcher(t, mock)

	_, err := fetcher.FetchTile(context.Background(), "S1_VV", 19, 0, 0, "2024-06-15")
	require.Error(t, err)

	var coordErr tile.CoordinateError
	require.ErrorAs(t, err, &coordErr)

	// never reaches the provider
	assert.Zero(t, mock.AuthRequests)
	assert.Zero(t, mock.ProcessRequests)
}

func TestFetchTile_AuthFailurePropagates(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()
	mock.AuthStatusCode = 500

	fetcher := newTestFetcher(t, mock)

	_, err := fetcher.FetchTile(context.Background(), "S1_VV", 10, 739, 492, "2024-06-15")

	var authErr AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Zero(t, mock.ProcessRequests)
}

func TestFetchTile_ProviderFailureIsAbsentAndRetried(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()
	mock.ProcessStatusCode = 404

	fetcher := newTestFetcher(t, mock)

	result, err := fetcher.FetchTile(context.Background(), "S1_VV", 10, 739, 492, "2024-06-15")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, mock.ProcessRequests)

	// the miss was not cached, the next call hits the provider again
	mock.ProcessStatusCode = 200
	result, err = fetcher.FetchTile(context.Background(), "S1_VV", 10, 739, 492, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, mock.TileData, result.Data)
	assert.Equal(t, 2, mock.ProcessRequests)
}

func TestFetchTile_EmptyBodyIsAbsent(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()
	mock.TileData = nil

	fetcher := newTestFetcher(t, mock)

	result, err := fetcher.FetchTile(context.Background(), "S1_VV", 10, 739, 492, "2024-06-15")
	require.NoError(t, err)
	assert.Nil(t, result)

	// nothing cached for the empty render
	mock.TileData = []byte("late-arriving-tile")
	result, err = fetcher.FetchTile(context.Background(), "S1_VV", 10, 739, 492, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []byte("late-arriving-tile"), result.Data)
}

func TestFetchTile_SendsBearerToken(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()

	fetcher := newTestFetcher(t, mock)

	_, err := fetcher.FetchTile(context.Background(), "S1_VV", 10, 739, 492, "2024-06-15")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-sentinel-token", mock.LastAuthHeader)
}

func TestFetchTile_RadarRequestShape(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()

	fetcher := newTestFetcher(t, mock)

	_, err := fetcher.FetchTile(context.Background(), "S1_FLOOD", 10, 739, 492, "2024-06-15")
	require.NoError(t, err)

	request := decodeProcessRequest(t, mock.LastProcessBody)

	require.Len(t, request.Input.Data, 1)
	data := request.Input.Data[0]
	assert.Equal(t, CollectionS1GRD, data.Type)
	assert.Equal(t, MosaicMostRecent, data.DataFilter.MosaickingOrder)

	// radar collections must not carry a cloud filter
	assert.Nil(t, data.DataFilter.MaxCloudCoverage)

	assert.Equal(t, "2024-05-16T00:00:00Z", data.DataFilter.TimeRange.From)
	assert.Equal(t, "2024-06-15T23:59:59Z", data.DataFilter.TimeRange.To)

	assert.Equal(t, "http://www.opengis.net/def/crs/EPSG/0/4326", request.Input.Bounds.Properties.CRS)
	require.Len(t, request.Input.Bounds.BBox, 4)
	west, south, east, north := request.Input.Bounds.BBox[0], request.Input.Bounds.BBox[1],
		request.Input.Bounds.BBox[2], request.Input.Bounds.BBox[3]
	assert.Less(t, west, east)
	assert.Less(t, south, north)

	assert.Equal(t, 256, request.Output.Width)
	assert.Equal(t, 256, request.Output.Height)
	require.Len(t, request.Output.Responses, 1)
	assert.Equal(t, "default", request.Output.Responses[0].Identifier)
	assert.Equal(t, "image/png", request.Output.Responses[0].Format.Type)

	assert.Contains(t, request.Evalscript, "VV")
}

func TestFetchTile_OpticalRequestShape(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockSentinelServer(t)
	defer mock.Close()

	fetcher := newTestFetcher(t, mock)

	_, err := fetcher.FetchTile(context.Background(), "S2_TRUE_COLOR", 10, 739, 492, "2024-06-15")
	require.NoError(t, err)

	request := decodeProcessRequest(t, mock.LastProcessBody)

	require.Len(t, request.Input.Data, 1)
	data := request.Input.Data[0]
	assert.Equal(t, CollectionS2L2A, data.Type)
	assert.Equal(t, MosaicLeastCloud, data.DataFilter.MosaickingOrder)

	require.NotNil(t, data.DataFilter.MaxCloudCoverage)
	assert.Equal(t, 30, *data.DataFilter.MaxCloudCoverage)
}

func TestBuildProcessRequest_UnparseableDateFallsBack(t *testing.T) {
	registry := NewRegistry()
	layer, ok := registry.Lookup("S1_VV")
	require.True(t, ok)

	request := buildProcessRequest(layer, tile.ToBBox(10, 739, 492), "not-a-date")

	from, err := time.Parse(time.RFC3339, request.Input.Data[0].DataFilter.TimeRange.From)
	require.NoError(t, err)
	to, err := time.Parse(time.RFC3339, request.Input.Data[0].DataFilter.TimeRange.To)
	require.NoError(t, err)

	// the window still spans thirty days ending at the fallback date
	assert.Equal(t, 30*24*time.Hour, to.Truncate(24*time.Hour).Sub(from))
}

func TestTileCacheKey_Distinct(t *testing.T) {
	base := tileCacheKey("S2_NDVI", 7, 64, 40, "2024-01-01")

	assert.Equal(t, base, tileCacheKey("S2_NDVI", 7, 64, 40, "2024-01-01"))

	variants := []string{
		tileCacheKey("S2_NDWI", 7, 64, 40, "2024-01-01"),
		tileCacheKey("S2_NDVI", 8, 64, 40, "2024-01-01"),
		tileCacheKey("S2_NDVI", 7, 65, 40, "2024-01-01"),
		tileCacheKey("S2_NDVI", 7, 64, 41, "2024-01-01"),
		tileCacheKey("S2_NDVI", 7, 64, 40, "2024-01-02"),
	}

	for i, variant := range variants {
		assert.NotEqual(t, base, variant, "variant %d must key separately", i)
	}
}
