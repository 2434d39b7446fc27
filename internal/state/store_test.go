package state

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
)

func homeView() ViewState {
	return ViewState{Center: orb.Point{25.0, 62.0}, Zoom: 4}
}

func drain(sub *Subscription) []Change {
	var changes []Change
	for {
		select {
		case c := <-sub.C:
			changes = append(changes, c)
		default:
			return changes
		}
	}
}

func TestSetViewUpdatesOnlyViewSlice(t *testing.T) {
	s := NewStore(homeView())
	before := s.Snapshot()

	v := ViewState{Center: orb.Point{24.94, 60.17}, Zoom: 10, Rotation: 0.5}
	s.SetView(v)

	after := s.Snapshot()
	if after.View != v {
		t.Fatalf("view = %+v, want %+v", after.View, v)
	}
	if after.RenderMode != before.RenderMode || after.BaseMap != before.BaseMap {
		t.Fatal("SetView touched another slice")
	}
	for id, vis := range before.Layers {
		if after.Layers[id] != vis {
			t.Fatalf("SetView changed visibility of %s", id)
		}
	}
}

func TestLayerVisibilityRejectsUnknownID(t *testing.T) {
	s := NewStore(homeView())
	err := s.SetLayerVisibility(LayerID("riverDeltas"), true)
	if !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("err = %v, want ErrUnknownLayer", err)
	}
}

func TestLayerVisibilityToggle(t *testing.T) {
	s := NewStore(homeView())
	if s.LayerVisible(LayerAdultLiteracy) {
		t.Fatal("literacy layer should start hidden")
	}
	if err := s.SetLayerVisibility(LayerAdultLiteracy, true); err != nil {
		t.Fatal(err)
	}
	if !s.LayerVisible(LayerAdultLiteracy) {
		t.Fatal("literacy layer should be visible")
	}
}

func TestSelectionCopySemantics(t *testing.T) {
	s := NewStore(homeView())
	id := int64(42)
	s.SetSelection(&id)

	got := s.Selection()
	if got == nil || *got != 42 {
		t.Fatalf("selection = %v, want 42", got)
	}
	id = 7 // mutating the caller's variable must not leak into the store
	if *s.Selection() != 42 {
		t.Fatal("store shares memory with caller")
	}

	s.SetSelection(nil)
	if s.Selection() != nil {
		t.Fatal("selection should be cleared")
	}
}

func TestSubscribeFiltersByTopic(t *testing.T) {
	s := NewStore(homeView())
	sub := s.Subscribe(TopicLayers, TopicSelection)
	defer s.Unsubscribe(sub)

	s.SetView(ViewState{Zoom: 5})
	s.SetMouse(orb.Point{1, 2})
	if err := s.SetLayerVisibility(LayerIntactForests, true); err != nil {
		t.Fatal(err)
	}
	id := int64(3)
	s.SetSelection(&id)

	changes := drain(sub)
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2 (got %+v)", len(changes), changes)
	}
	if changes[0].Topic != TopicLayers || changes[0].Layer != LayerIntactForests {
		t.Fatalf("first change = %+v", changes[0])
	}
	if changes[1].Topic != TopicSelection {
		t.Fatalf("second change = %+v", changes[1])
	}
}

func TestSubscribeAllTopics(t *testing.T) {
	s := NewStore(homeView())
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	s.SetRenderMode(Mode3D)
	s.SetBaseMap(BaseMapSatellite)
	s.SetMeasurement(MeasurementState{IsMeasuring: true})

	if got := len(drain(sub)); got != 3 {
		t.Fatalf("changes = %d, want 3", got)
	}
	if s.RenderMode() != Mode3D {
		t.Fatalf("mode = %s, want 3d", s.RenderMode())
	}
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	s := NewStore(homeView())
	snap := s.Snapshot()
	snap.Layers[LayerOceanCurrents] = true

	if s.LayerVisible(LayerOceanCurrents) {
		t.Fatal("snapshot mutation leaked into the store")
	}
}
