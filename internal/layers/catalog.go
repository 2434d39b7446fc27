package layers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-atlas/internal/geodata"
	"github.com/joeblew999/plat-atlas/internal/state"
)

// Source names the dataset resources behind one thematic layer.
type Source struct {
	Key      string `yaml:"key" json:"key"`
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Stats    string `yaml:"stats,omitempty" json:"stats,omitempty"`
	Title    string `yaml:"title,omitempty" json:"title,omitempty"`
}

// Catalog maps each thematic layer to its dataset sources. The article
// locator layer has no entry; it is fed by the feature API, not by a
// dataset fetch.
type Catalog map[state.LayerID]Source

// DefaultCatalog returns the built-in dataset catalog. The boundary and
// literacy layers deliberately share the world boundaries dataset; the
// cache guarantees it is fetched once.
func DefaultCatalog() Catalog {
	return Catalog{
		state.LayerWorldBoundaries: {
			Key:   "world.geojson",
			Title: "Country boundaries",
		},
		state.LayerOceanCurrents: {
			Key:   "ocean-currents.geojson",
			Title: "Ocean currents",
		},
		state.LayerAdultLiteracy: {
			Key:   "world.geojson",
			Stats: "adult-literacy.geojson",
			Title: "Adult literacy rate",
		},
		state.LayerPopulationDensity: {
			Key:      "population-density-2022.geojson",
			Fallback: "population-density-static.geojson",
			Title:    "Population density 2022",
		},
		state.LayerIntactForests: {
			Key:   "intact-forests.geojson",
			Title: "Intact forest landscapes",
		},
	}
}

// LoadCatalog reads a YAML catalog file, validating every layer id.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var raw map[string]Source
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	catalog := make(Catalog, len(raw))
	for k, v := range raw {
		id := state.LayerID(k)
		if !id.Valid() {
			return nil, fmt.Errorf("%w: %q", state.ErrUnknownLayer, k)
		}
		if v.Key == "" {
			return nil, fmt.Errorf("catalog layer %q: missing key", k)
		}
		catalog[id] = v
	}
	return catalog, nil
}

// Keys returns every distinct dataset key in the catalog, for preloading.
func (c Catalog) Keys() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, src := range c {
		for _, k := range []string{src.Key, src.Stats} {
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// NewControllers builds one controller per catalog entry.
func NewControllers(catalog Catalog, cache *geodata.Cache, store *state.Store) (map[state.LayerID]*Controller, error) {
	controllers := make(map[state.LayerID]*Controller, len(catalog))
	for id, src := range catalog {
		c, err := NewController(Config{
			ID:       id,
			Key:      src.Key,
			Fallback: src.Fallback,
			Stats:    src.Stats,
		}, cache, store)
		if err != nil {
			return nil, err
		}
		controllers[id] = c
	}
	return controllers, nil
}
