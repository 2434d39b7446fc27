// Package flat is the 2D tiled-map renderer backend: Web Mercator tile
// math, projected vector draw commands and planar hit-testing.
package flat

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/plat-atlas/internal/layers"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/state"
)

const (
	tileSize = 256.0
	// hitRadius is the marker hit-test radius in screen pixels.
	hitRadius = 8.0
	// maxMercatorLat bounds the Web Mercator projection.
	maxMercatorLat = 85.05112878
)

// Options configures the 2D backend.
type Options struct {
	Width  int
	Height int
	// Sketch supplies the measurement overlay polyline, drawn topmost.
	Sketch func() orb.LineString
}

// Map is the 2D renderer backend.
type Map struct {
	store *state.Store
	opts  Options

	mu     sync.RWMutex
	view   state.ViewState
	layers map[state.LayerID]*layers.Layer
}

// New creates a 2D backend bound to the shared store.
func New(store *state.Store, opts Options) *Map {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 800
	}
	return &Map{
		store:  store,
		opts:   opts,
		view:   store.View(),
		layers: make(map[state.LayerID]*layers.Layer),
	}
}

// Mode implements render.Backend.
func (m *Map) Mode() state.RenderMode { return state.Mode2D }

// Attach implements render.Backend.
func (m *Map) Attach(l *layers.Layer) {
	m.mu.Lock()
	m.layers[l.ID] = l
	m.mu.Unlock()
}

// Detach implements render.Backend.
func (m *Map) Detach(id state.LayerID) {
	m.mu.Lock()
	delete(m.layers, id)
	m.mu.Unlock()
}

// ApplyView implements render.Backend.
func (m *Map) ApplyView(v state.ViewState) {
	m.mu.Lock()
	m.view = v
	m.mu.Unlock()
}

// Close implements render.Backend.
func (m *Map) Close() error { return nil }

// worldPx projects [lon, lat] to world pixel coordinates at zoom.
func worldPx(p orb.Point, zoom float64) (float64, float64) {
	scale := tileSize * math.Exp2(zoom)
	lat := math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p[1]))
	x := (p[0] + 180) / 360 * scale
	sinLat := math.Sin(lat * math.Pi / 180)
	y := (0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)) * scale
	return x, y
}

// GeoToScreen projects a geographic point to screen pixels for the
// current view (center, zoom, rotation).
func (m *Map) GeoToScreen(p orb.Point) (float64, float64) {
	m.mu.RLock()
	v := m.view
	m.mu.RUnlock()

	wx, wy := worldPx(p, v.Zoom)
	cx, cy := worldPx(v.Center, v.Zoom)
	dx, dy := wx-cx, wy-cy

	cos, sin := math.Cos(-v.Rotation), math.Sin(-v.Rotation)
	rx := dx*cos - dy*sin
	ry := dx*sin + dy*cos

	return rx + float64(m.opts.Width)/2, ry + float64(m.opts.Height)/2
}

// ScreenToGeo implements render.Backend: the inverse of GeoToScreen.
func (m *Map) ScreenToGeo(x, y float64) orb.Point {
	m.mu.RLock()
	v := m.view
	m.mu.RUnlock()

	dx := x - float64(m.opts.Width)/2
	dy := y - float64(m.opts.Height)/2

	cos, sin := math.Cos(v.Rotation), math.Sin(v.Rotation)
	rx := dx*cos - dy*sin
	ry := dx*sin + dy*cos

	cx, cy := worldPx(v.Center, v.Zoom)
	scale := tileSize * math.Exp2(v.Zoom)

	wx, wy := cx+rx, cy+ry
	lon := wx/scale*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*wy/scale))) * 180 / math.Pi
	return orb.Point{lon, lat}
}

// HitTest implements render.Backend: topmost visible feature first,
// article markers by screen distance, thematic polygons by containment.
func (m *Map) HitTest(x, y float64) *render.Hit {
	geoPt := m.ScreenToGeo(x, y)

	for _, l := range m.visibleLayersDesc() {
		for i := len(l.Features) - 1; i >= 0; i-- {
			f := l.Features[i]
			switch g := f.Geometry.(type) {
			case orb.Point:
				sx, sy := m.GeoToScreen(g)
				if math.Hypot(sx-x, sy-y) <= hitRadius {
					hit := &render.Hit{Kind: render.KindThematic, At: g}
					if l.ID == state.LayerArticleLocators {
						hit.Kind = render.KindArticle
						hit.FeatureID = f.FeatureID
					}
					return hit
				}
			case orb.Polygon:
				if planar.PolygonContains(g, geoPt) {
					return &render.Hit{Kind: render.KindThematic, At: geoPt}
				}
			case orb.MultiPolygon:
				if planar.MultiPolygonContains(g, geoPt) {
					return &render.Hit{Kind: render.KindThematic, At: geoPt}
				}
			}
		}
	}
	return nil
}

// Tiles returns the base map tiles covering the viewport at the current
// zoom's integer level.
func (m *Map) Tiles() []maptile.Tile {
	m.mu.RLock()
	v := m.view
	m.mu.RUnlock()

	z := maptile.Zoom(math.Round(v.Zoom))
	min := m.ScreenToGeo(0, 0)
	max := m.ScreenToGeo(float64(m.opts.Width), float64(m.opts.Height))

	bound := orb.MultiPoint{min, max}.Bound()
	minTile := maptile.At(orb.Point{bound.Min[0], bound.Max[1]}, z)
	maxTile := maptile.At(orb.Point{bound.Max[0], bound.Min[1]}, z)

	var tiles []maptile.Tile
	for x := minTile.X; x <= maxTile.X; x++ {
		for y := minTile.Y; y <= maxTile.Y; y++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}

// Frame implements render.Backend. Layers draw in ascending Z; hidden
// layers are skipped; the selected article marker is highlighted; the
// measurement sketch draws topmost.
func (m *Map) Frame() *render.Frame {
	frame := &render.Frame{Mode: state.Mode2D}

	for _, t := range m.Tiles() {
		frame.Commands = append(frame.Commands, render.Command{
			Op:   render.OpTile,
			Tile: fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y),
		})
	}

	selected := m.store.Selection()
	for _, l := range m.visibleLayersAsc() {
		for _, f := range l.Features {
			cmds := m.featureCommands(l, f)
			for i := range cmds {
				if selected != nil && cmds[i].Op == render.OpMarker &&
					l.ID == state.LayerArticleLocators && f.FeatureID == *selected {
					cmds[i].Stroke = "#ffd60a" // selection highlight
				}
			}
			frame.Commands = append(frame.Commands, cmds...)
		}
	}

	if m.opts.Sketch != nil {
		if sketch := m.opts.Sketch(); len(sketch) > 0 {
			frame.Commands = append(frame.Commands, render.Command{
				Op:     render.OpSketch,
				Z:      layers.ZMeasurement,
				Stroke: "#ffffff",
				Points: m.projectLine(sketch),
			})
		}
	}
	return frame
}

// featureCommands emits one draw command per geometry part. Polygon
// interior rings come out stroke-only so the sink outlines holes without
// filling them.
func (m *Map) featureCommands(l *layers.Layer, f layers.StyledFeature) []render.Command {
	base := render.Command{
		Layer:     l.ID,
		Z:         l.Z,
		FeatureID: f.FeatureID,
		Fill:      f.Style.Fill,
		Stroke:    f.Style.Stroke,
	}
	var out []render.Command
	switch g := f.Geometry.(type) {
	case orb.Point:
		sx, sy := m.GeoToScreen(g)
		cmd := base
		cmd.Op = render.OpMarker
		cmd.Points = [][2]float64{{sx, sy}}
		out = append(out, cmd)
	case orb.LineString:
		cmd := base
		cmd.Op = render.OpLine
		cmd.Points = m.projectLine(g)
		out = append(out, cmd)
	case orb.MultiLineString:
		for _, ls := range g {
			cmd := base
			cmd.Op = render.OpLine
			cmd.Points = m.projectLine(ls)
			out = append(out, cmd)
		}
	case orb.Polygon:
		out = m.appendPolygon(out, base, g)
	case orb.MultiPolygon:
		for _, p := range g {
			out = m.appendPolygon(out, base, p)
		}
	}
	return out
}

func (m *Map) appendPolygon(out []render.Command, base render.Command, p orb.Polygon) []render.Command {
	for i, ring := range p {
		cmd := base
		cmd.Op = render.OpPolygon
		if i > 0 {
			cmd.Fill = "" // interior ring
		}
		cmd.Points = m.projectLine(orb.LineString(ring))
		out = append(out, cmd)
	}
	return out
}

func (m *Map) projectLine(ls orb.LineString) [][2]float64 {
	out := make([][2]float64, len(ls))
	for i, p := range ls {
		x, y := m.GeoToScreen(p)
		out[i] = [2]float64{x, y}
	}
	return out
}

func (m *Map) visibleLayersAsc() []*layers.Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*layers.Layer
	for id, l := range m.layers {
		if m.store.LayerVisible(id) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Z < out[j].Z })
	return out
}

func (m *Map) visibleLayersDesc() []*layers.Layer {
	asc := m.visibleLayersAsc()
	for i, j := 0, len(asc)-1; i < j; i, j = i+1, j-1 {
		asc[i], asc[j] = asc[j], asc[i]
	}
	return asc
}

var _ render.Backend = (*Map)(nil)
