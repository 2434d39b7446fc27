package globe

import (
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/layers"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/state"
)

func markerLayer(markers ...layers.Marker) *layers.Layer {
	return layers.NewMarkerLayer(markers)
}

func newTestGlobe(t *testing.T, store *state.Store) *Globe {
	t.Helper()
	g, err := New(store, Options{Debounce: -1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestInitFailure(t *testing.T) {
	if _, err := New(state.NewStore(state.ViewState{}), Options{Width: -1}); err == nil {
		t.Fatal("expected init error for negative dimensions")
	}
}

func TestAntipodalMarkerCulled(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	store.SetView(state.ViewState{Center: orb.Point{25, 60}, Zoom: 3})
	g := newTestGlobe(t, store)

	g.Attach(markerLayer(
		layers.Marker{ID: 1, At: orb.Point{25, 60}},    // camera sub-point
		layers.Marker{ID: 2, At: orb.Point{-155, -60}}, // antipode
	))

	vis := g.VisibleMarkers()
	if len(vis) != 1 || vis[0] != 1 {
		t.Fatalf("visible markers = %v, want [1]", vis)
	}
	if !g.MarkerVisible(orb.Point{25, 60}) {
		t.Error("sub-point marker should be visible")
	}
	if g.MarkerVisible(orb.Point{-155, -60}) {
		t.Error("antipodal marker should be culled")
	}
}

func TestViewChangeRecomputesVisibility(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	store.SetView(state.ViewState{Center: orb.Point{0, 0}, Zoom: 3})
	g := newTestGlobe(t, store)

	g.Attach(markerLayer(layers.Marker{ID: 7, At: orb.Point{170, 0}}))
	if got := g.VisibleMarkers(); len(got) != 0 {
		t.Fatalf("far-side marker visible before rotation: %v", got)
	}

	// Spin the camera to face the marker.
	g.ApplyView(state.ViewState{Center: orb.Point{170, 0}, Zoom: 3})
	if got := g.VisibleMarkers(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("visible markers after view change = %v, want [7]", got)
	}
}

func TestCullDebounce(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	store.SetView(state.ViewState{Center: orb.Point{0, 0}, Zoom: 3})
	g, err := New(store, Options{Debounce: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	g.Attach(markerLayer(layers.Marker{ID: 7, At: orb.Point{170, 0}}))
	g.ApplyView(state.ViewState{Center: orb.Point{170, 0}, Zoom: 3})

	// Rapid drags coalesce into one recompute after the debounce window.
	for i := 0; i < 10; i++ {
		g.ApplyView(state.ViewState{Center: orb.Point{170, 0}, Zoom: 3})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := g.VisibleMarkers(); len(got) == 1 && got[0] == 7 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced recompute never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProjectionRoundTrip(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	store.SetView(state.ViewState{Center: orb.Point{25, 60}, Zoom: 5})
	g := newTestGlobe(t, store)

	p := orb.Point{24.5, 60.2}
	x, y, front := g.GeoToScreen(p)
	if !front {
		t.Fatalf("near-camera point projected to far hemisphere")
	}
	back := g.ScreenToGeo(x, y)
	if math.Abs(back[0]-p[0]) > 1e-6 || math.Abs(back[1]-p[1]) > 1e-6 {
		t.Fatalf("round trip = %v, want %v", back, p)
	}
}

func TestFarHemisphereNotProjected(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	store.SetView(state.ViewState{Center: orb.Point{0, 0}, Zoom: 3})
	g := newTestGlobe(t, store)

	if _, _, front := g.GeoToScreen(orb.Point{175, 0}); front {
		t.Fatal("far-hemisphere point should not project")
	}
}

func TestHitTestMarker(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	store.SetView(state.ViewState{Center: orb.Point{25, 60}, Zoom: 5})
	g := newTestGlobe(t, store)
	g.Attach(markerLayer(layers.Marker{ID: 42, At: orb.Point{25, 60}}))

	x, y, _ := g.GeoToScreen(orb.Point{25, 60})
	hit := g.HitTest(x+2, y+2)
	if hit == nil || hit.Kind != render.KindArticle || hit.FeatureID != 42 {
		t.Fatalf("hit = %+v, want article 42", hit)
	}

	if hit := g.HitTest(x+200, y+200); hit != nil && hit.Kind == render.KindArticle {
		t.Fatalf("distant click hit marker: %+v", hit)
	}
}

func TestFrameOmitsCulledMarkers(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	store.SetView(state.ViewState{Center: orb.Point{25, 60}, Zoom: 3})
	g := newTestGlobe(t, store)

	g.Attach(markerLayer(
		layers.Marker{ID: 1, At: orb.Point{25, 60}},
		layers.Marker{ID: 2, At: orb.Point{-155, -60}},
	))

	frame := g.Frame()
	if frame.Mode != state.Mode3D {
		t.Fatalf("frame mode = %v, want 3D", frame.Mode)
	}
	var ids []int64
	for _, cmd := range frame.Commands {
		if cmd.Layer == state.LayerArticleLocators {
			ids = append(ids, cmd.FeatureID)
		}
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("frame markers = %v, want [1]", ids)
	}
}

func TestFrameMultiPartGeometry(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	store.SetView(state.ViewState{Center: orb.Point{0, 0}, Zoom: 3})
	g := newTestGlobe(t, store)

	mainland := orb.Polygon{
		{{-5, -5}, {5, -5}, {5, 5}, {-5, 5}, {-5, -5}},
		{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}, {-1, -1}},
	}
	island := orb.Polygon{{{8, 8}, {9, 8}, {9, 9}, {8, 9}, {8, 8}}}

	if err := store.SetLayerVisibility(state.LayerWorldBoundaries, true); err != nil {
		t.Fatalf("SetLayerVisibility: %v", err)
	}
	g.Attach(&layers.Layer{
		ID: state.LayerWorldBoundaries,
		Z:  layers.ZWorldBoundaries,
		Features: []layers.StyledFeature{{
			Geometry: orb.MultiPolygon{mainland, island},
			Style:    layers.Style{Fill: "#cccccc", Stroke: "#444444"},
		}},
	})

	polygons, holes := 0, 0
	for _, cmd := range g.Frame().Commands {
		if cmd.Op == render.OpPolygon {
			polygons++
			if cmd.Fill == "" {
				holes++
			}
		}
	}
	if polygons != 3 {
		t.Fatalf("polygon draw commands = %d, want 3", polygons)
	}
	if holes != 1 {
		t.Fatalf("stroke-only interior rings = %d, want 1", holes)
	}
}

func TestHitTestInsidePolygonHole(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	store.SetView(state.ViewState{Center: orb.Point{0, 0}, Zoom: 3})
	g := newTestGlobe(t, store)

	holed := orb.Polygon{
		{{-5, -5}, {5, -5}, {5, 5}, {-5, 5}, {-5, -5}},
		{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}, {-1, -1}},
	}
	if err := store.SetLayerVisibility(state.LayerWorldBoundaries, true); err != nil {
		t.Fatalf("SetLayerVisibility: %v", err)
	}
	g.Attach(&layers.Layer{
		ID:       state.LayerWorldBoundaries,
		Z:        layers.ZWorldBoundaries,
		Features: []layers.StyledFeature{{Geometry: holed}},
	})

	sx, sy, front := g.GeoToScreen(orb.Point{3, 3})
	if !front {
		t.Fatal("test point not on the near hemisphere")
	}
	if hit := g.HitTest(sx, sy); hit == nil || hit.Kind != render.KindThematic {
		t.Fatalf("inside ring hit = %+v, want thematic", hit)
	}
	hx, hy, front := g.GeoToScreen(orb.Point{0, 0})
	if !front {
		t.Fatal("hole point not on the near hemisphere")
	}
	if hit := g.HitTest(hx, hy); hit != nil {
		t.Fatalf("click inside hole hit = %+v, want nil", hit)
	}
}

func TestDetachClearsVisibility(t *testing.T) {
	store := state.NewStore(state.ViewState{})
	g := newTestGlobe(t, store)
	g.Attach(markerLayer(layers.Marker{ID: 1, At: store.View().Center}))
	if len(g.VisibleMarkers()) != 1 {
		t.Fatal("marker not visible after attach")
	}
	g.Detach(state.LayerArticleLocators)
	if got := g.VisibleMarkers(); len(got) != 0 {
		t.Fatalf("visible after detach = %v, want none", got)
	}
}
