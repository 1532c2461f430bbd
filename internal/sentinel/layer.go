// Package sentinel integrates with the Sentinel Hub Process API: it holds
// the layer catalogue, exchanges OAuth client credentials for bearer tokens
// and renders map tiles on demand.
package sentinel

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Data collection identifiers understood by the Process API.
const (
	CollectionS1GRD = "sentinel-1-grd"
	CollectionS2L2A = "sentinel-2-l2a"
)

// Mosaicking orders accepted by the Process API.
const (
	MosaicMostRecent  = "mostRecent"
	MosaicLeastRecent = "leastRecent"
	MosaicLeastCloud  = "leastCC"
)

// Layer describes a renderable imagery product: the collection it draws
// from, the evalscript that styles it, and the filters applied when the
// provider assembles a mosaic.
type Layer struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Type        string `yaml:"type" json:"type"`

	Evalscript       string `yaml:"evalscript" json:"-"`
	MosaickingOrder  string `yaml:"mosaickingOrder" json:"-"`
	MaxCloudCoverage int    `yaml:"maxCloudCoverage" json:"-"`
}

// optical reports whether the layer draws from an optical collection, where
// cloud coverage filtering applies. Radar sees through cloud.
func (l Layer) optical() bool {
	return strings.Contains(l.Type, "sentinel-2")
}

// UnknownLayerError reports a request for a layer the registry doesn't hold.
type UnknownLayerError struct {
	ID        string
	Available []string
}

func (e UnknownLayerError) Error() string {
	return fmt.Sprintf("unknown layer %q", e.ID)
}

func (e UnknownLayerError) Status() (int, string) {
	return http.StatusBadRequest,
		fmt.Sprintf("unknown layer %q, available: %s", e.ID, strings.Join(e.Available, ", "))
}

// Registry is the immutable catalogue of layers the bridge will serve.
// Lookups after construction are read-only, so no locking is needed.
type Registry struct {
	ordered []Layer
	index   map[string]Layer
}

// NewRegistry returns a registry holding the built-in layer set.
func NewRegistry() *Registry {
	r := &Registry{index: make(map[string]Layer)}
	for _, l := range builtinLayers() {
		r.add(l)
	}
	return r
}

// LoadRegistry returns the built-in layer set overlaid with definitions from
// the named YAML file. An empty path yields the built-ins alone. Entries
// that fail validation are logged and skipped; a file that cannot be read or
// parsed fails outright.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layer file read failed: %w", err)
	}

	var file layerFile
	dec := yaml.NewDecoder(strings.NewReader(string(content)))

	// Unknown fields must fail: a typo in a filter field would otherwise
	// silently serve unfiltered imagery.
	dec.KnownFields(true)

	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("layer file parsing failed: %w", err)
	}

	invalid := make(map[string]error)
	seen := make(map[string]bool)
	added := 0

	for _, def := range file.Layers {
		if seen[def.ID] {
			invalid[def.ID] = fmt.Errorf("duplicate layer id %q", def.ID)
			continue
		}
		seen[def.ID] = true

		layer, err := def.validate()
		if err != nil {
			invalid[def.ID] = err
			continue
		}

		r.add(layer)
		added++
	}

	if len(invalid) > 0 {
		d := zerolog.Dict()
		for id, err := range invalid {
			d.Str(id, err.Error())
		}

		log.Warn().
			Str("path", path).
			Dict("invalid_layers", d).
			Msg("layer file: some definitions failed validation and were ignored")
	}

	log.Info().
		Str("path", path).
		Int("added", added).
		Int("invalid", len(invalid)).
		Msg("loaded layer definitions")

	return r, nil
}

// Lookup returns the layer registered under id.
func (r *Registry) Lookup(id string) (Layer, bool) {
	l, ok := r.index[id]
	return l, ok
}

// Layers returns the catalogue in registration order.
func (r *Registry) Layers() []Layer {
	out := make([]Layer, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// IDs returns the registered layer identifiers in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.ordered))
	for i, l := range r.ordered {
		ids[i] = l.ID
	}
	return ids
}

// add registers the layer, replacing any existing definition with the same
// id in place.
func (r *Registry) add(l Layer) {
	if _, exists := r.index[l.ID]; exists {
		for i, existing := range r.ordered {
			if existing.ID == l.ID {
				r.ordered[i] = l
				break
			}
		}
	} else {
		r.ordered = append(r.ordered, l)
	}
	r.index[l.ID] = l
}

// layerFile is the serialization format for SENTINEL_LAYER_FILE.
type layerFile struct {
	Layers []layerDefinition `yaml:"layers"`
}

type layerDefinition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`

	Evalscript      string `yaml:"evalscript"`
	MosaickingOrder string `yaml:"mosaickingOrder"`

	// MaxCloudCoverage is a pointer so that an omitted value can default
	// to 100 (no filtering) rather than excluding everything.
	MaxCloudCoverage *int `yaml:"maxCloudCoverage"`
}

func (d layerDefinition) validate() (Layer, error) {
	if d.ID == "" {
		return Layer{}, fmt.Errorf("layer id is required")
	}
	if d.Type == "" {
		return Layer{}, fmt.Errorf("layer type is required")
	}
	if !strings.HasPrefix(d.Type, "sentinel-") {
		return Layer{}, fmt.Errorf("unsupported collection type %q", d.Type)
	}
	if d.Evalscript == "" {
		return Layer{}, fmt.Errorf("evalscript is required")
	}

	order := d.MosaickingOrder
	if order == "" {
		order = MosaicMostRecent
	}
	switch order {
	case MosaicMostRecent, MosaicLeastRecent, MosaicLeastCloud:
	default:
		return Layer{}, fmt.Errorf("unsupported mosaicking order %q", order)
	}

	coverage := 100
	if d.MaxCloudCoverage != nil {
		coverage = *d.MaxCloudCoverage
		if coverage < 0 || coverage > 100 {
			return Layer{}, fmt.Errorf("maxCloudCoverage must be within 0-100, got %d", coverage)
		}
	}

	return Layer{
		ID:               d.ID,
		Name:             d.Name,
		Description:      d.Description,
		Type:             d.Type,
		Evalscript:       d.Evalscript,
		MosaickingOrder:  order,
		MaxCloudCoverage: coverage,
	}, nil
}

func builtinLayers() []Layer {
	return []Layer{
		{
			ID:               "S1_VV",
			Name:             "Sentinel-1 VV",
			Description:      "Radar VV polarization",
			Type:             CollectionS1GRD,
			Evalscript:       evalscriptS1VV,
			MosaickingOrder:  MosaicMostRecent,
			MaxCloudCoverage: 100,
		},
		{
			ID:               "S1_VH",
			Name:             "Sentinel-1 VH",
			Description:      "Radar VH polarization",
			Type:             CollectionS1GRD,
			Evalscript:       evalscriptS1VH,
			MosaickingOrder:  MosaicMostRecent,
			MaxCloudCoverage: 100,
		},
		{
			ID:               "S1_FLOOD",
			Name:             "Sentinel-1 Flood Detection",
			Description:      "Enhanced VV+VH for flood visualization",
			Type:             CollectionS1GRD,
			Evalscript:       evalscriptS1Flood,
			MosaickingOrder:  MosaicMostRecent,
			MaxCloudCoverage: 100,
		},
		{
			ID:               "S2_TRUE_COLOR",
			Name:             "Sentinel-2 True Color",
			Description:      "Natural color RGB",
			Type:             CollectionS2L2A,
			Evalscript:       evalscriptS2TrueColor,
			MosaickingOrder:  MosaicLeastCloud,
			MaxCloudCoverage: 30,
		},
		{
			ID:               "S2_FALSE_COLOR",
			Name:             "Sentinel-2 False Color",
			Description:      "Vegetation highlighting",
			Type:             CollectionS2L2A,
			Evalscript:       evalscriptS2FalseColor,
			MosaickingOrder:  MosaicLeastCloud,
			MaxCloudCoverage: 30,
		},
		{
			ID:               "S2_NDVI",
			Name:             "Sentinel-2 NDVI",
			Description:      "Vegetation index",
			Type:             CollectionS2L2A,
			Evalscript:       evalscriptS2NDVI,
			MosaickingOrder:  MosaicLeastCloud,
			MaxCloudCoverage: 30,
		},
		{
			ID:               "S2_NDWI",
			Name:             "Sentinel-2 NDWI",
			Description:      "Water detection index",
			Type:             CollectionS2L2A,
			Evalscript:       evalscriptS2NDWI,
			MosaickingOrder:  MosaicLeastCloud,
			MaxCloudCoverage: 30,
		},
	}
}
