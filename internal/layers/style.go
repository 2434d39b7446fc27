// Package layers owns the thematic map layers: lazy dataset
// materialization, visibility state, choropleth styling and legends.
package layers

import (
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-atlas/internal/state"
)

// Draw order ranks. Thematic layers draw beneath the boundary layer,
// article markers draw above everything except the measurement overlay.
const (
	ZPopulationDensity = 10
	ZIntactForests     = 11
	ZAdultLiteracy     = 12
	ZOceanCurrents     = 13
	ZWorldBoundaries   = 20
	ZArticleLocators   = 30
	ZMeasurement       = 40
)

// Style is a fill/stroke pair.
type Style struct {
	Fill   string `json:"fill"`
	Stroke string `json:"stroke"`
}

// StyleRule maps an inclusive [Min,Max] range of the thematic attribute
// to a style. A CatchAll rule matches any value and must come last.
type StyleRule struct {
	Min, Max float64
	CatchAll bool
	Style    Style
	Label    string
}

// StyleTable is an ordered threshold table: the first matching rule wins,
// values matching no rule (and missing values) get the NoData style.
// The legend is derived from the same rules so the two cannot drift.
type StyleTable struct {
	Property string // thematic attribute in feature properties
	NoData   Style
	Rules    []StyleRule
}

// StyleFor resolves the style for a thematic value. A nil value means the
// feature carries no data.
func (t StyleTable) StyleFor(v *float64) Style {
	if v == nil {
		return t.NoData
	}
	for _, r := range t.Rules {
		if r.CatchAll || (*v >= r.Min && *v <= r.Max) {
			return r.Style
		}
	}
	return t.NoData
}

// LegendEntry is one legend bin. Min/Max are nil for the catch-all bin.
type LegendEntry struct {
	Color string   `json:"color"`
	Label string   `json:"label"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
}

// Legend returns the ordered legend bins for the table.
func (t StyleTable) Legend() []LegendEntry {
	entries := make([]LegendEntry, 0, len(t.Rules))
	for _, r := range t.Rules {
		e := LegendEntry{Color: r.Style.Fill, Label: r.Label}
		if !r.CatchAll {
			lo, hi := r.Min, r.Max
			e.Min, e.Max = &lo, &hi
		}
		entries = append(entries, e)
	}
	return entries
}

func rule(min, max float64, fill, label string) StyleRule {
	return StyleRule{Min: min, Max: max, Style: Style{Fill: fill, Stroke: "#666666"}, Label: label}
}

// populationDensityStyle bins people per km² into a sequential ramp.
var populationDensityStyle = StyleTable{
	Property: "population_density",
	NoData:   Style{Fill: "#d9d9d9", Stroke: "#999999"},
	Rules: []StyleRule{
		rule(0, 10, "#ffffcc", "0–10"),
		rule(10, 50, "#ffeda0", "10–50"),
		rule(50, 100, "#fed976", "50–100"),
		rule(100, 250, "#feb24c", "100–250"),
		rule(250, 500, "#fd8d3c", "250–500"),
		rule(500, 1000, "#e31a1c", "500–1000"),
		{CatchAll: true, Style: Style{Fill: "#800026", Stroke: "#666666"}, Label: "> 1000"},
	},
}

// adultLiteracyStyle bins adult literacy rate (percent).
var adultLiteracyStyle = StyleTable{
	Property: "literacy_rate",
	NoData:   Style{Fill: "#d9d9d9", Stroke: "#999999"},
	Rules: []StyleRule{
		rule(0, 50, "#d73027", "< 50 %"),
		rule(50, 65, "#fc8d59", "50–65 %"),
		rule(65, 80, "#fee08b", "65–80 %"),
		rule(80, 90, "#d9ef8b", "80–90 %"),
		rule(90, 95, "#91cf60", "90–95 %"),
		{CatchAll: true, Style: Style{Fill: "#1a9850", Stroke: "#666666"}, Label: "> 95 %"},
	},
}

// intactForestsStyle is a single-class overlay.
var intactForestsStyle = StyleTable{
	Property: "area_km2",
	NoData:   Style{Fill: "#2d6a4f", Stroke: "#1b4332"},
	Rules: []StyleRule{
		{CatchAll: true, Style: Style{Fill: "#2d6a4f", Stroke: "#1b4332"}, Label: "Intact forest landscape"},
	},
}

// oceanCurrentsStyle separates warm and cold currents by water
// temperature class (negative = cold).
var oceanCurrentsStyle = StyleTable{
	Property: "temp",
	NoData:   Style{Fill: "", Stroke: "#888888"},
	Rules: []StyleRule{
		{Min: -100, Max: 0, Style: Style{Stroke: "#4575b4"}, Label: "Cold current"},
		{CatchAll: true, Style: Style{Stroke: "#d73027"}, Label: "Warm current"},
	},
}

// worldBoundariesStyle draws country outlines only.
var worldBoundariesStyle = StyleTable{
	NoData: Style{Fill: "", Stroke: "#444444"},
	Rules: []StyleRule{
		{CatchAll: true, Style: Style{Fill: "", Stroke: "#444444"}, Label: "Country boundary"},
	},
}

// articleLocatorsStyle marks user-generated article features.
var articleLocatorsStyle = StyleTable{
	NoData: Style{Fill: "#1d6fb8", Stroke: "#ffffff"},
	Rules: []StyleRule{
		{CatchAll: true, Style: Style{Fill: "#1d6fb8", Stroke: "#ffffff"}, Label: "Article"},
	},
}

// styleFor returns the style table and draw rank for a layer id.
func styleFor(id state.LayerID) (StyleTable, int, error) {
	switch id {
	case state.LayerPopulationDensity:
		return populationDensityStyle, ZPopulationDensity, nil
	case state.LayerIntactForests:
		return intactForestsStyle, ZIntactForests, nil
	case state.LayerAdultLiteracy:
		return adultLiteracyStyle, ZAdultLiteracy, nil
	case state.LayerOceanCurrents:
		return oceanCurrentsStyle, ZOceanCurrents, nil
	case state.LayerWorldBoundaries:
		return worldBoundariesStyle, ZWorldBoundaries, nil
	case state.LayerArticleLocators:
		return articleLocatorsStyle, ZArticleLocators, nil
	}
	return StyleTable{}, 0, fmt.Errorf("%w: %q", state.ErrUnknownLayer, id)
}

// floatProp extracts the first numeric property among keys, or nil.
func floatProp(props geojson.Properties, keys ...string) *float64 {
	for _, k := range keys {
		switch v := props[k].(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		}
	}
	return nil
}
