// Package render defines the capability contract both renderer backends
// implement, plus the draw-command stream they emit.
//
// The two backends (2D tiled map, 3D globe) are interchangeable behind
// the Backend interface: the shell depends only on the interface, and the
// click/hover routing contract produces identical observable behavior
// regardless of which backend is active.
package render

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/layers"
	"github.com/joeblew999/plat-atlas/internal/state"
)

// Kind classifies what a hit-test found under the pointer.
type Kind string

const (
	// KindArticle marks a selectable article locator.
	KindArticle Kind = "article"
	// KindThematic marks a thematic (choropleth) feature.
	KindThematic Kind = "thematic"
)

// Hit is the result of a renderer-native hit-test.
type Hit struct {
	Kind      Kind
	FeatureID int64     // article feature id; 0 for thematic hits
	At        orb.Point // geographic [lon, lat]
}

// Op is a draw-command opcode.
type Op string

const (
	OpTile    Op = "tile"
	OpPolygon Op = "polygon"
	OpLine    Op = "line"
	OpMarker  Op = "marker"
	OpSketch  Op = "sketch" // measurement overlay, drawn topmost
)

// Command is one backend-specific draw call. 2D commands carry projected
// screen coordinates; 3D commands carry geographic coordinates for the
// globe primitive layer.
type Command struct {
	Op        Op            `json:"op"`
	Layer     state.LayerID `json:"layer,omitempty"`
	Z         int           `json:"z"`
	FeatureID int64         `json:"featureId,omitempty"`
	Fill      string        `json:"fill,omitempty"`
	Stroke    string        `json:"stroke,omitempty"`
	Tile      string        `json:"tile,omitempty"` // z/x/y for OpTile
	Points    [][2]float64  `json:"points,omitempty"`
}

// Frame is one complete draw-command stream, ordered by Z.
type Frame struct {
	Mode     state.RenderMode `json:"mode"`
	Commands []Command        `json:"commands"`
}

// Backend is the renderer capability interface: view control, layer
// attach/detach, hit-testing and frame production. Renderer-native
// resources are owned exclusively by their backend; controllers reach
// them only through this interface or the shared store.
type Backend interface {
	Mode() state.RenderMode

	// Attach adds or replaces a materialized layer; Detach removes it.
	// Whether an attached layer is drawn follows the shared visibility
	// flag at frame time.
	Attach(l *layers.Layer)
	Detach(id state.LayerID)

	// ApplyView ingests the shared view state.
	ApplyView(v state.ViewState)

	// HitTest returns the topmost feature at a screen point, or nil.
	HitTest(x, y float64) *Hit

	// ScreenToGeo converts a screen point to geographic [lon, lat].
	ScreenToGeo(x, y float64) orb.Point

	// Frame renders the current shared state as a draw-command stream.
	Frame() *Frame

	Close() error
}
