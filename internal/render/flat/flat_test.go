package flat

import (
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/layers"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/state"
)

func newTestMap(store *state.Store) *Map {
	return New(store, Options{Width: 1024, Height: 768})
}

func TestProjectionRoundTrip(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	g := newTestMap(store)

	cases := []struct {
		name string
		view state.ViewState
		p    orb.Point
	}{
		{"equator", state.ViewState{Center: orb.Point{0, 0}, Zoom: 4}, orb.Point{10, -20}},
		{"north", state.ViewState{Center: orb.Point{25, 60}, Zoom: 8}, orb.Point{24.9, 60.2}},
		{"rotated", state.ViewState{Center: orb.Point{25, 60}, Zoom: 8, Rotation: math.Pi / 3}, orb.Point{25.3, 59.9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store.SetView(tc.view)
			g.ApplyView(tc.view)
			x, y := g.GeoToScreen(tc.p)
			back := g.ScreenToGeo(x, y)
			if math.Abs(back[0]-tc.p[0]) > 1e-6 || math.Abs(back[1]-tc.p[1]) > 1e-6 {
				t.Fatalf("round trip = %v, want %v", back, tc.p)
			}
		})
	}
}

func TestCenterProjectsToScreenCenter(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	v := state.ViewState{Center: orb.Point{25, 60}, Zoom: 6}
	store.SetView(v)
	g := newTestMap(store)
	g.ApplyView(v)

	x, y := g.GeoToScreen(v.Center)
	if math.Abs(x-512) > 1e-9 || math.Abs(y-384) > 1e-9 {
		t.Fatalf("center projects to (%v, %v), want (512, 384)", x, y)
	}
}

func TestHitTestMarker(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	v := state.ViewState{Center: orb.Point{25, 60}, Zoom: 6}
	store.SetView(v)
	g := newTestMap(store)
	g.ApplyView(v)

	g.Attach(layers.NewMarkerLayer([]layers.Marker{{ID: 42, At: orb.Point{25, 60}}}))

	hit := g.HitTest(514, 386) // inside the 8px radius
	if hit == nil || hit.Kind != render.KindArticle || hit.FeatureID != 42 {
		t.Fatalf("hit = %+v, want article 42", hit)
	}

	if hit := g.HitTest(600, 600); hit != nil {
		t.Fatalf("empty click returned %+v, want nil", hit)
	}
}

func TestHitTestPolygon(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	v := state.ViewState{Center: orb.Point{0, 0}, Zoom: 4}
	store.SetView(v)
	g := newTestMap(store)
	g.ApplyView(v)

	square := orb.Polygon{{{-5, -5}, {5, -5}, {5, 5}, {-5, 5}, {-5, -5}}}
	l := &layers.Layer{
		ID: state.LayerWorldBoundaries,
		Z:  layers.ZWorldBoundaries,
		Features: []layers.StyledFeature{
			{FeatureID: 1, Geometry: square, Style: layers.Style{Fill: "#e8e8e8"}},
		},
	}
	if err := store.SetLayerVisibility(state.LayerWorldBoundaries, true); err != nil {
		t.Fatalf("SetLayerVisibility: %v", err)
	}
	g.Attach(l)

	x, y := g.GeoToScreen(orb.Point{0, 0})
	hit := g.HitTest(x, y)
	if hit == nil || hit.Kind != render.KindThematic {
		t.Fatalf("hit = %+v, want thematic", hit)
	}

	x, y = g.GeoToScreen(orb.Point{20, 20})
	if hit := g.HitTest(x, y); hit != nil {
		t.Fatalf("outside click returned %+v, want nil", hit)
	}
}

func TestMarkerOverPolygonWins(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	v := state.ViewState{Center: orb.Point{0, 0}, Zoom: 4}
	store.SetView(v)
	g := newTestMap(store)
	g.ApplyView(v)

	square := orb.Polygon{{{-5, -5}, {5, -5}, {5, 5}, {-5, 5}, {-5, -5}}}
	if err := store.SetLayerVisibility(state.LayerWorldBoundaries, true); err != nil {
		t.Fatalf("SetLayerVisibility: %v", err)
	}
	g.Attach(&layers.Layer{
		ID:       state.LayerWorldBoundaries,
		Z:        layers.ZWorldBoundaries,
		Features: []layers.StyledFeature{{FeatureID: 1, Geometry: square}},
	})
	g.Attach(layers.NewMarkerLayer([]layers.Marker{{ID: 9, At: orb.Point{0, 0}}}))

	x, y := g.GeoToScreen(orb.Point{0, 0})
	hit := g.HitTest(x, y)
	if hit == nil || hit.Kind != render.KindArticle || hit.FeatureID != 9 {
		t.Fatalf("hit = %+v, want article 9 over polygon", hit)
	}
}

func TestTilesCoverViewport(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	v := state.ViewState{Center: orb.Point{25, 60}, Zoom: 6}
	store.SetView(v)
	g := newTestMap(store)
	g.ApplyView(v)

	tiles := g.Tiles()
	if len(tiles) == 0 {
		t.Fatal("no tiles for viewport")
	}
	for _, tile := range tiles {
		if tile.Z != 6 {
			t.Fatalf("tile zoom = %d, want 6", tile.Z)
		}
	}
}

func TestFrameOrderingAndVisibility(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	v := state.ViewState{Center: orb.Point{0, 0}, Zoom: 4}
	store.SetView(v)
	g := newTestMap(store)
	g.ApplyView(v)

	square := orb.Polygon{{{-5, -5}, {5, -5}, {5, 5}, {-5, 5}, {-5, -5}}}
	if err := store.SetLayerVisibility(state.LayerWorldBoundaries, true); err != nil {
		t.Fatalf("SetLayerVisibility: %v", err)
	}
	g.Attach(&layers.Layer{
		ID:       state.LayerWorldBoundaries,
		Z:        layers.ZWorldBoundaries,
		Features: []layers.StyledFeature{{FeatureID: 1, Geometry: square}},
	})
	g.Attach(layers.NewMarkerLayer([]layers.Marker{{ID: 9, At: orb.Point{0, 0}}}))
	g.Attach(&layers.Layer{ // hidden layer must not render
		ID:       state.LayerIntactForests,
		Z:        layers.ZIntactForests,
		Features: []layers.StyledFeature{{FeatureID: 2, Geometry: square}},
	})

	frame := g.Frame()
	if frame.Mode != state.Mode2D {
		t.Fatalf("frame mode = %v, want 2D", frame.Mode)
	}

	var lastZ = -1
	sawTiles := false
	for _, cmd := range frame.Commands {
		if cmd.Op == render.OpTile {
			sawTiles = true
			continue
		}
		if cmd.Layer == state.LayerIntactForests {
			t.Fatal("hidden layer emitted commands")
		}
		if cmd.Z < lastZ {
			t.Fatalf("commands out of Z order: %d after %d", cmd.Z, lastZ)
		}
		lastZ = cmd.Z
	}
	if !sawTiles {
		t.Fatal("frame missing base tiles")
	}
}

func TestFrameMultiPartGeometry(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	v := state.ViewState{Center: orb.Point{0, 0}, Zoom: 4}
	store.SetView(v)
	g := newTestMap(store)
	g.ApplyView(v)

	// Two-part country: a mainland with a hole plus an island.
	mainland := orb.Polygon{
		{{-5, -5}, {5, -5}, {5, 5}, {-5, 5}, {-5, -5}},
		{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}, {-1, -1}},
	}
	island := orb.Polygon{{{8, 8}, {9, 8}, {9, 9}, {8, 9}, {8, 8}}}
	currents := orb.MultiLineString{
		{{-10, 0}, {-8, 1}},
		{{8, 0}, {10, -1}},
	}

	if err := store.SetLayerVisibility(state.LayerWorldBoundaries, true); err != nil {
		t.Fatalf("SetLayerVisibility: %v", err)
	}
	if err := store.SetLayerVisibility(state.LayerOceanCurrents, true); err != nil {
		t.Fatalf("SetLayerVisibility: %v", err)
	}
	g.Attach(&layers.Layer{
		ID:       state.LayerWorldBoundaries,
		Z:        layers.ZWorldBoundaries,
		Features: []layers.StyledFeature{{
			Geometry: orb.MultiPolygon{mainland, island},
			Style:    layers.Style{Fill: "#cccccc", Stroke: "#444444"},
		}},
	})
	g.Attach(&layers.Layer{
		ID:       state.LayerOceanCurrents,
		Z:        layers.ZOceanCurrents,
		Features: []layers.StyledFeature{{Geometry: currents}},
	})

	polygons, holes, lines := 0, 0, 0
	for _, cmd := range g.Frame().Commands {
		switch cmd.Op {
		case render.OpPolygon:
			polygons++
			if cmd.Fill == "" {
				holes++
			}
		case render.OpLine:
			lines++
		}
	}
	if polygons != 3 {
		t.Fatalf("polygon draw commands = %d, want 3", polygons)
	}
	if holes != 1 {
		t.Fatalf("stroke-only interior rings = %d, want 1", holes)
	}
	if lines != 2 {
		t.Fatalf("line draw commands = %d, want 2", lines)
	}
}

func TestFrameSelectionHighlight(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	g := newTestMap(store)
	g.Attach(layers.NewMarkerLayer([]layers.Marker{
		{ID: 1, At: orb.Point{10, 10}},
		{ID: 2, At: orb.Point{20, 20}},
	}))
	id := int64(2)
	store.SetSelection(&id)

	for _, cmd := range g.Frame().Commands {
		if cmd.Layer != state.LayerArticleLocators {
			continue
		}
		want := "#ffffff"
		if cmd.FeatureID == 2 {
			want = "#ffd60a"
		}
		if cmd.Stroke != want {
			t.Fatalf("marker %d stroke = %q, want %q", cmd.FeatureID, cmd.Stroke, want)
		}
	}
}

func TestFrameSketchOnTop(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	sketch := orb.LineString{{24.9, 60.1}, {25.1, 60.2}}
	g := New(store, Options{Sketch: func() orb.LineString { return sketch }})
	g.Attach(layers.NewMarkerLayer([]layers.Marker{{ID: 1, At: orb.Point{25, 60}}}))

	frame := g.Frame()
	last := frame.Commands[len(frame.Commands)-1]
	if last.Op != render.OpSketch || last.Z != layers.ZMeasurement {
		t.Fatalf("last command = %+v, want sketch at top", last)
	}
	if len(last.Points) != 2 {
		t.Fatalf("sketch points = %d, want 2", len(last.Points))
	}
}

func TestDetachRemovesLayer(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	g := newTestMap(store)
	g.Attach(layers.NewMarkerLayer([]layers.Marker{{ID: 1, At: orb.Point{25, 60}}}))
	g.Detach(state.LayerArticleLocators)

	for _, cmd := range g.Frame().Commands {
		if cmd.Op == render.OpMarker {
			t.Fatal("detached layer still renders")
		}
	}
}
