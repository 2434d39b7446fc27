// Package globe is the 3D virtual-globe renderer backend: orthographic
// camera math, tilt bounds and hemisphere visibility culling for point
// markers.
package globe

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/plat-atlas/internal/layers"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/state"
)

const (
	// hitRadius is the marker hit-test radius in screen pixels.
	hitRadius = 8.0

	// visibilityDot is the culling threshold: a marker is visible when
	// the dot product of the globe-center→camera and globe-center→marker
	// unit vectors exceeds it. Slightly below zero keeps markers on the
	// limb visible, approximating that the globe does not occlude point
	// primitives exactly at the horizon.
	visibilityDot = -0.05

	// cullDebounce batches visibility recomputes during continuous drag.
	cullDebounce = 100 * time.Millisecond
)

// ErrInitFailed reports a failed 3D context creation. The shell renders
// it as a terminal inline error instead of the globe canvas.
var ErrInitFailed = errors.New("globe renderer initialization failed")

// Options configures the 3D backend.
type Options struct {
	Width  int
	Height int
	// Sketch supplies the measurement overlay polyline.
	Sketch func() orb.LineString
	// Debounce overrides the culling debounce; zero means the default,
	// negative disables debouncing (recompute synchronously).
	Debounce time.Duration
}

// Globe is the 3D renderer backend.
type Globe struct {
	store *state.Store
	opts  Options

	mu      sync.RWMutex
	view    state.ViewState
	layers  map[state.LayerID]*layers.Layer
	visible map[int64]bool // culled article markers, by feature id
	pending *time.Timer    // scheduled debounced recompute
	closed  bool
}

// New creates a 3D backend bound to the shared store. Context creation
// can fail (ErrInitFailed); callers must surface that state instead of
// the canvas rather than crashing the shell.
func New(store *state.Store, opts Options) (*Globe, error) {
	if opts.Width < 0 || opts.Height < 0 {
		return nil, ErrInitFailed
	}
	if opts.Width == 0 {
		opts.Width = 1280
	}
	if opts.Height == 0 {
		opts.Height = 800
	}
	if opts.Debounce == 0 {
		opts.Debounce = cullDebounce
	}
	g := &Globe{
		store:   store,
		opts:    opts,
		view:    store.View(),
		layers:  make(map[state.LayerID]*layers.Layer),
		visible: make(map[int64]bool),
	}
	g.recomputeVisibility()
	return g, nil
}

// Mode implements render.Backend.
func (g *Globe) Mode() state.RenderMode { return state.Mode3D }

// Attach implements render.Backend.
func (g *Globe) Attach(l *layers.Layer) {
	g.mu.Lock()
	g.layers[l.ID] = l
	g.mu.Unlock()
	g.scheduleCull()
}

// Detach implements render.Backend.
func (g *Globe) Detach(id state.LayerID) {
	g.mu.Lock()
	delete(g.layers, id)
	g.mu.Unlock()
	g.scheduleCull()
}

// ApplyView implements render.Backend. Camera changes re-run hemisphere
// culling, debounced to avoid thrashing on continuous drag.
func (g *Globe) ApplyView(v state.ViewState) {
	g.mu.Lock()
	g.view = v
	g.mu.Unlock()
	g.scheduleCull()
}

// Close implements render.Backend.
func (g *Globe) Close() error {
	g.mu.Lock()
	g.closed = true
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
	g.mu.Unlock()
	return nil
}

func (g *Globe) scheduleCull() {
	if g.opts.Debounce < 0 {
		g.recomputeVisibility()
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.pending != nil {
		return
	}
	g.pending = time.AfterFunc(g.opts.Debounce, func() {
		g.mu.Lock()
		g.pending = nil
		g.mu.Unlock()
		g.recomputeVisibility()
	})
}

// cameraPoint is the unit vector from globe center toward the camera.
func (g *Globe) cameraPoint() s2.Point {
	g.mu.RLock()
	v := g.view
	g.mu.RUnlock()
	return s2.PointFromLatLng(s2.LatLngFromDegrees(v.Center[1], v.Center[0]))
}

// MarkerVisible reports whether a geographic point is on the camera-facing
// hemisphere.
func (g *Globe) MarkerVisible(p orb.Point) bool {
	cam := g.cameraPoint()
	marker := s2.PointFromLatLng(s2.LatLngFromDegrees(p[1], p[0]))
	return cam.Dot(marker.Vector) > visibilityDot
}

// recomputeVisibility re-runs hemisphere culling for every article marker.
func (g *Globe) recomputeVisibility() {
	cam := g.cameraPoint()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.visible = make(map[int64]bool)
	l, ok := g.layers[state.LayerArticleLocators]
	if !ok {
		return
	}
	for _, f := range l.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		marker := s2.PointFromLatLng(s2.LatLngFromDegrees(p[1], p[0]))
		g.visible[f.FeatureID] = cam.Dot(marker.Vector) > visibilityDot
	}
}

// VisibleMarkers returns the feature ids surviving the last culling pass.
func (g *Globe) VisibleMarkers() []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []int64
	for id, vis := range g.visible {
		if vis {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// radiusPx is the globe's pixel radius at the current zoom, matching the
// 2D backend's equatorial scale so switching modes keeps apparent size.
func radiusPx(zoom float64) float64 {
	return 256 * math.Exp2(zoom) / (2 * math.Pi)
}

// GeoToScreen projects a geographic point orthographically around the
// camera sub-point. The second return is false for far-hemisphere points.
func (g *Globe) GeoToScreen(p orb.Point) (float64, float64, bool) {
	g.mu.RLock()
	v := g.view
	g.mu.RUnlock()

	lat0 := v.Center[1] * math.Pi / 180
	lon0 := v.Center[0] * math.Pi / 180
	lat := p[1] * math.Pi / 180
	lon := p[0] * math.Pi / 180

	cosC := math.Sin(lat0)*math.Sin(lat) + math.Cos(lat0)*math.Cos(lat)*math.Cos(lon-lon0)
	if cosC < 0 {
		return 0, 0, false
	}

	r := radiusPx(v.Zoom)
	x := r * math.Cos(lat) * math.Sin(lon-lon0)
	y := -r * (math.Cos(lat0)*math.Sin(lat) - math.Sin(lat0)*math.Cos(lat)*math.Cos(lon-lon0))

	cos, sin := math.Cos(-v.Rotation), math.Sin(-v.Rotation)
	rx := x*cos - y*sin
	ry := x*sin + y*cos

	return rx + float64(g.opts.Width)/2, ry + float64(g.opts.Height)/2, true
}

// ScreenToGeo implements render.Backend: inverse orthographic projection.
// Points off the globe disk resolve to the nearest limb point.
func (g *Globe) ScreenToGeo(x, y float64) orb.Point {
	g.mu.RLock()
	v := g.view
	g.mu.RUnlock()

	dx := x - float64(g.opts.Width)/2
	dy := y - float64(g.opts.Height)/2

	cos, sin := math.Cos(v.Rotation), math.Sin(v.Rotation)
	rx := dx*cos - dy*sin
	ry := -(dx*sin + dy*cos) // screen y grows downward

	r := radiusPx(v.Zoom)
	rho := math.Hypot(rx, ry)
	if rho == 0 {
		return v.Center
	}
	if rho > r {
		rx, ry = rx*r/rho, ry*r/rho
		rho = r
	}

	lat0 := v.Center[1] * math.Pi / 180
	lon0 := v.Center[0] * math.Pi / 180
	c := math.Asin(rho / r)
	sinC, cosC := math.Sin(c), math.Cos(c)

	lat := math.Asin(cosC*math.Sin(lat0) + ry*sinC*math.Cos(lat0)/rho)
	lon := lon0 + math.Atan2(rx*sinC, rho*cosC*math.Cos(lat0)-ry*sinC*math.Sin(lat0))

	return orb.Point{normLon(lon * 180 / math.Pi), lat * 180 / math.Pi}
}

func normLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// HitTest implements render.Backend. The contract matches the 2D backend:
// article markers by screen distance, thematic polygons by containment,
// far-hemisphere features never hit.
func (g *Globe) HitTest(x, y float64) *render.Hit {
	geoPt := g.ScreenToGeo(x, y)

	for _, l := range g.visibleLayersDesc() {
		for i := len(l.Features) - 1; i >= 0; i-- {
			f := l.Features[i]
			switch geom := f.Geometry.(type) {
			case orb.Point:
				sx, sy, front := g.GeoToScreen(geom)
				if !front {
					continue
				}
				if l.ID == state.LayerArticleLocators && !g.markerShown(f.FeatureID) {
					continue
				}
				if math.Hypot(sx-x, sy-y) <= hitRadius {
					hit := &render.Hit{Kind: render.KindThematic, At: geom}
					if l.ID == state.LayerArticleLocators {
						hit.Kind = render.KindArticle
						hit.FeatureID = f.FeatureID
					}
					return hit
				}
			case orb.Polygon:
				// Planar containment matches the 2D backend; adequate
				// for the coarse country polygons the layers carry.
				if g.MarkerVisible(geoPt) && planar.PolygonContains(geom, geoPt) {
					return &render.Hit{Kind: render.KindThematic, At: geoPt}
				}
			case orb.MultiPolygon:
				if g.MarkerVisible(geoPt) && planar.MultiPolygonContains(geom, geoPt) {
					return &render.Hit{Kind: render.KindThematic, At: geoPt}
				}
			}
		}
	}
	return nil
}

func (g *Globe) markerShown(id int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.visible[id]
}

// Frame implements render.Backend. Commands carry geographic coordinates;
// the globe primitive layer projects them client-side. Culled markers are
// omitted entirely.
func (g *Globe) Frame() *render.Frame {
	frame := &render.Frame{Mode: state.Mode3D}

	selected := g.store.Selection()
	for _, l := range g.visibleLayersAsc() {
		for _, f := range l.Features {
			if l.ID == state.LayerArticleLocators && !g.markerShown(f.FeatureID) {
				continue
			}
			cmds := featureCommands(l, f)
			if l.ID == state.LayerArticleLocators && selected != nil && f.FeatureID == *selected {
				for i := range cmds {
					cmds[i].Stroke = "#ffd60a"
				}
			}
			frame.Commands = append(frame.Commands, cmds...)
		}
	}

	if g.opts.Sketch != nil {
		if sketch := g.opts.Sketch(); len(sketch) > 0 {
			frame.Commands = append(frame.Commands, render.Command{
				Op:     render.OpSketch,
				Z:      layers.ZMeasurement,
				Stroke: "#ffffff",
				Points: geoLine(sketch),
			})
		}
	}
	return frame
}

// featureCommands emits one draw command per geometry part. Polygon
// interior rings come out stroke-only so the sink outlines holes without
// filling them.
func featureCommands(l *layers.Layer, f layers.StyledFeature) []render.Command {
	base := render.Command{
		Layer:     l.ID,
		Z:         l.Z,
		FeatureID: f.FeatureID,
		Fill:      f.Style.Fill,
		Stroke:    f.Style.Stroke,
	}
	var out []render.Command
	switch geom := f.Geometry.(type) {
	case orb.Point:
		cmd := base
		cmd.Op = render.OpMarker
		cmd.Points = [][2]float64{{geom[0], geom[1]}}
		out = append(out, cmd)
	case orb.LineString:
		cmd := base
		cmd.Op = render.OpLine
		cmd.Points = geoLine(geom)
		out = append(out, cmd)
	case orb.MultiLineString:
		for _, ls := range geom {
			cmd := base
			cmd.Op = render.OpLine
			cmd.Points = geoLine(ls)
			out = append(out, cmd)
		}
	case orb.Polygon:
		out = appendPolygon(out, base, geom)
	case orb.MultiPolygon:
		for _, p := range geom {
			out = appendPolygon(out, base, p)
		}
	}
	return out
}

func appendPolygon(out []render.Command, base render.Command, p orb.Polygon) []render.Command {
	for i, ring := range p {
		cmd := base
		cmd.Op = render.OpPolygon
		if i > 0 {
			cmd.Fill = "" // interior ring
		}
		cmd.Points = geoLine(orb.LineString(ring))
		out = append(out, cmd)
	}
	return out
}

func geoLine(ls orb.LineString) [][2]float64 {
	out := make([][2]float64, len(ls))
	for i, p := range ls {
		out[i] = [2]float64{p[0], p[1]}
	}
	return out
}


func (g *Globe) visibleLayersAsc() []*layers.Layer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*layers.Layer
	for id, l := range g.layers {
		if g.store.LayerVisible(id) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Z < out[j].Z })
	return out
}

func (g *Globe) visibleLayersDesc() []*layers.Layer {
	asc := g.visibleLayersAsc()
	for i, j := 0, len(asc)-1; i < j; i, j = i+1, j-1 {
		asc[i], asc[j] = asc[j], asc[i]
	}
	return asc
}

var _ render.Backend = (*Globe)(nil)
