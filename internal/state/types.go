// Package state holds the shared map state tree for both renderer backends.
//
// The Store is the single source of truth: all mutations go through named
// setter actions, each of which touches exactly one top-level slice and
// notifies subscribers of that slice's topic. Renderers and controllers
// read snapshots and never reach into each other's internals.
package state

import "github.com/paulmach/orb"

// RenderMode selects the active renderer backend.
type RenderMode string

const (
	Mode2D RenderMode = "2d"
	Mode3D RenderMode = "3d"
)

// BaseMap identifies the base map style under the thematic layers.
type BaseMap string

const (
	BaseMapDefault   BaseMap = "default"
	BaseMapSatellite BaseMap = "satellite"
	BaseMapTerrain   BaseMap = "terrain"
)

// LayerID identifies one of the fixed thematic layers. The set is closed:
// there are no dynamic layer ids.
type LayerID string

const (
	LayerWorldBoundaries   LayerID = "worldBoundaries"
	LayerOceanCurrents     LayerID = "oceanCurrents"
	LayerArticleLocators   LayerID = "articleLocators"
	LayerAdultLiteracy     LayerID = "adultLiteracy"
	LayerPopulationDensity LayerID = "populationDensity"
	LayerIntactForests     LayerID = "intactForests"
)

// AllLayers lists every valid layer id in a fixed order.
var AllLayers = []LayerID{
	LayerWorldBoundaries,
	LayerOceanCurrents,
	LayerArticleLocators,
	LayerAdultLiteracy,
	LayerPopulationDensity,
	LayerIntactForests,
}

// Valid reports whether id is a member of the closed layer set.
func (id LayerID) Valid() bool {
	for _, l := range AllLayers {
		if l == id {
			return true
		}
	}
	return false
}

// ViewState is the camera/view state shared by both renderers.
// Center is [lon, lat]. Rotation is a radian heading, unbounded.
type ViewState struct {
	Center   orb.Point `json:"center"`
	Zoom     float64   `json:"zoom"`
	Rotation float64   `json:"rotation"`
}

// MeasurementState mirrors the measurement tool's externally visible state.
type MeasurementState struct {
	IsMeasuring bool   `json:"isMeasuring"`
	Label       string `json:"label"`
}

// Snapshot is a consistent copy of the whole state tree.
type Snapshot struct {
	View        ViewState        `json:"view"`
	RenderMode  RenderMode       `json:"renderMode"`
	BaseMap     BaseMap          `json:"baseMap"`
	Layers      map[LayerID]bool `json:"layers"`
	Selection   *int64           `json:"selection"`
	Measurement MeasurementState `json:"measurement"`
	Mouse       orb.Point        `json:"mouse"`
}

// Topic names one top-level slice of the state tree for subscription.
type Topic string

const (
	TopicView        Topic = "view"
	TopicRenderMode  Topic = "renderMode"
	TopicBaseMap     Topic = "baseMap"
	TopicLayers      Topic = "layers"
	TopicSelection   Topic = "selection"
	TopicMeasurement Topic = "measurement"
	TopicMouse       Topic = "mouse"
)

// Change notifies a subscriber that one slice changed. Subscribers re-read
// the slice through the Store's getters; the notification itself carries
// only the topic and, for layers, the affected id.
type Change struct {
	Topic Topic
	Layer LayerID // set for TopicLayers changes
}
