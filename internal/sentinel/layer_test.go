package sentinel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lankasat/sentinel-bridge/internal/testhelpers"
)

func writeLayerFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "layers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestNewRegistry_Builtins(t *testing.T) {
	registry := NewRegistry()

	assert.Equal(t, []string{
		"S1_VV", "S1_VH", "S1_FLOOD",
		"S2_TRUE_COLOR", "S2_FALSE_COLOR", "S2_NDVI", "S2_NDWI",
	}, registry.IDs())

	radar, ok := registry.Lookup("S1_VV")
	require.True(t, ok)
	assert.Equal(t, CollectionS1GRD, radar.Type)
	assert.Equal(t, MosaicMostRecent, radar.MosaickingOrder)
	assert.Equal(t, 100, radar.MaxCloudCoverage)
	assert.NotEmpty(t, radar.Evalscript)
	assert.False(t, radar.optical())

	optical, ok := registry.Lookup("S2_NDVI")
	require.True(t, ok)
	assert.Equal(t, CollectionS2L2A, optical.Type)
	assert.Equal(t, MosaicLeastCloud, optical.MosaickingOrder)
	assert.Equal(t, 30, optical.MaxCloudCoverage)
	assert.True(t, optical.optical())
}

func TestLookup_UnknownLayer(t *testing.T) {
	registry := NewRegistry()

	_, ok := registry.Lookup("S5_METHANE")
	assert.False(t, ok)
}

func TestLayerJSON_OmitsProviderFields(t *testing.T) {
	registry := NewRegistry()

	layer, ok := registry.Lookup("S2_TRUE_COLOR")
	require.True(t, ok)

	data, err := json.Marshal(layer)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	assert.Contains(t, fields, "id")
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "description")
	assert.Contains(t, fields, "type")

	// the evalscript and filter settings stay server-side
	assert.NotContains(t, fields, "evalscript")
	assert.NotContains(t, fields, "mosaickingOrder")
	assert.NotContains(t, fields, "maxCloudCoverage")
}

func TestLoadRegistry_EmptyPathUsesBuiltins(t *testing.T) {
	registry, err := LoadRegistry("")
	require.NoError(t, err)

	assert.Len(t, registry.Layers(), 7)
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRegistry_AddsAndOverrides(t *testing.T) {
	testhelpers.SetupLogger(t)

	path := writeLayerFile(t, `
layers:
  - id: S2_MOISTURE
    name: Sentinel-2 Moisture Index
    description: NDMI moisture stress
    type: sentinel-2-l2a
    evalscript: "//VERSION=3\nfunction setup() {}"
    mosaickingOrder: leastCC
    maxCloudCoverage: 40
  - id: S2_NDWI
    name: Sentinel-2 NDWI (tuned)
    description: Water detection, tuned thresholds
    type: sentinel-2-l2a
    evalscript: "//VERSION=3\nfunction setup() {}"
`)

	registry, err := LoadRegistry(path)
	require.NoError(t, err)

	// the override replaces the built-in in place, the new layer appends
	assert.Equal(t, []string{
		"S1_VV", "S1_VH", "S1_FLOOD",
		"S2_TRUE_COLOR", "S2_FALSE_COLOR", "S2_NDVI", "S2_NDWI",
		"S2_MOISTURE",
	}, registry.IDs())

	overridden, ok := registry.Lookup("S2_NDWI")
	require.True(t, ok)
	assert.Equal(t, "Sentinel-2 NDWI (tuned)", overridden.Name)

	added, ok := registry.Lookup("S2_MOISTURE")
	require.True(t, ok)
	assert.Equal(t, 40, added.MaxCloudCoverage)
	assert.Equal(t, MosaicLeastCloud, added.MosaickingOrder)
}

func TestLoadRegistry_DefaultsForOmittedFields(t *testing.T) {
	testhelpers.SetupLogger(t)

	path := writeLayerFile(t, `
layers:
  - id: S1_CUSTOM
    type: sentinel-1-grd
    evalscript: "//VERSION=3"
`)

	registry, err := LoadRegistry(path)
	require.NoError(t, err)

	layer, ok := registry.Lookup("S1_CUSTOM")
	require.True(t, ok)
	assert.Equal(t, MosaicMostRecent, layer.MosaickingOrder)
	assert.Equal(t, 100, layer.MaxCloudCoverage)
}

func TestLoadRegistry_SkipsInvalidDefinitions(t *testing.T) {
	testhelpers.SetupLogger(t)

	path := writeLayerFile(t, `
layers:
  - id: S2_VALID
    type: sentinel-2-l2a
    evalscript: "//VERSION=3"
  - id: S2_NO_SCRIPT
    type: sentinel-2-l2a
  - id: L8_THERMAL
    type: landsat-8
    evalscript: "//VERSION=3"
  - id: S2_BAD_ORDER
    type: sentinel-2-l2a
    evalscript: "//VERSION=3"
    mosaickingOrder: cheapest
  - id: S2_BAD_COVERAGE
    type: sentinel-2-l2a
    evalscript: "//VERSION=3"
    maxCloudCoverage: 101
  - id: S2_VALID
    type: sentinel-2-l2a
    evalscript: "//VERSION=3"
`)

	registry, err := LoadRegistry(path)
	require.NoError(t, err)

	// only the first valid definition lands on top of the builtins
	assert.Len(t, registry.Layers(), 8)

	_, ok := registry.Lookup("S2_VALID")
	assert.True(t, ok)

	for _, id := range []string{"S2_NO_SCRIPT", "L8_THERMAL", "S2_BAD_ORDER", "S2_BAD_COVERAGE"} {
		_, ok := registry.Lookup(id)
		assert.False(t, ok, "%s should have been rejected", id)
	}
}

func TestLoadRegistry_RejectsUnknownFields(t *testing.T) {
	path := writeLayerFile(t, `
layers:
  - id: S2_TYPO
    type: sentinel-2-l2a
    evalscript: "//VERSION=3"
    maxCloudCover: 20
`)

	_, err := LoadRegistry(path)
	assert.ErrorContains(t, err, "parsing failed")
}

func TestUnknownLayerError_Status(t *testing.T) {
	err := UnknownLayerError{ID: "NOPE", Available: []string{"S1_VV", "S2_NDVI"}}

	code, message := err.Status()
	assert.Equal(t, 400, code)
	assert.Equal(t, `unknown layer "NOPE", available: S1_VV, S2_NDVI`, message)
}
