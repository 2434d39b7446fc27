package layers

import (
	"strings"

	"github.com/paulmach/orb/geojson"
)

// statsIndex joins thematic statistics onto boundary polygons. The join
// key is the ISO A3 country code where both sides carry one; plain
// country-name matching is the fallback and is known to be lossy
// (aliases, spelling variants), so code matches always win.
type statsIndex struct {
	byCode map[string]float64
	byName map[string]float64
}

// indexStats builds a lookup from a statistics collection where every
// feature carries prop plus an iso_a3 and/or name property.
func indexStats(fc *geojson.FeatureCollection, prop string) statsIndex {
	ix := statsIndex{
		byCode: make(map[string]float64),
		byName: make(map[string]float64),
	}
	if fc == nil {
		return ix
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		v := floatProp(f.Properties, prop)
		if v == nil {
			continue
		}
		if code := countryCode(f.Properties); code != "" {
			ix.byCode[code] = *v
		}
		if name := countryName(f.Properties); name != "" {
			ix.byName[name] = *v
		}
	}
	return ix
}

// lookup resolves the statistic for one boundary feature's properties.
func (ix statsIndex) lookup(props geojson.Properties) *float64 {
	if code := countryCode(props); code != "" {
		if v, ok := ix.byCode[code]; ok {
			return &v
		}
	}
	if name := countryName(props); name != "" {
		if v, ok := ix.byName[name]; ok {
			return &v
		}
	}
	return nil
}

func countryCode(props geojson.Properties) string {
	for _, k := range []string{"iso_a3", "ISO_A3", "adm0_a3", "ADM0_A3"} {
		if s, ok := props[k].(string); ok && s != "" && s != "-99" {
			return strings.ToUpper(s)
		}
	}
	return ""
}

func countryName(props geojson.Properties) string {
	for _, k := range []string{"name", "NAME", "admin", "ADMIN", "country", "Country"} {
		if s, ok := props[k].(string); ok && s != "" {
			return normalizeName(s)
		}
	}
	return ""
}

// normalizeName lowercases and collapses whitespace for name matching.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
