package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
)

// ErrUnknownLayer is returned when a visibility toggle names a layer id
// outside the closed set. This is a programming error on the caller's side.
var ErrUnknownLayer = errors.New("unknown layer id")

// Subscription receives Change notifications for the topics it was
// created with. The channel is buffered; slow subscribers miss changes
// rather than blocking the writer.
type Subscription struct {
	C      chan Change
	topics map[Topic]struct{}
}

func (s *Subscription) wants(t Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

// Store is the shared map state tree. It has exactly one writer path (the
// named setter actions) and any number of readers. Every mutation is
// synchronous and total: a reader always observes a consistent snapshot.
type Store struct {
	mu       sync.RWMutex
	view     ViewState
	mode     RenderMode
	base     BaseMap
	layers   map[LayerID]bool
	selected *int64
	meas     MeasurementState
	mouse    orb.Point

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}
}

// NewStore creates a store with the given home view, 2D mode and all
// layers hidden except article locators.
func NewStore(home ViewState) *Store {
	layers := make(map[LayerID]bool, len(AllLayers))
	for _, id := range AllLayers {
		layers[id] = false
	}
	layers[LayerArticleLocators] = true

	return &Store{
		view:   home,
		mode:   Mode2D,
		base:   BaseMapDefault,
		layers: layers,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe registers for changes on the given topics. No topics means
// all topics.
func (s *Store) Subscribe(topics ...Topic) *Subscription {
	sub := &Subscription{C: make(chan Change, 32)}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}
	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(sub *Subscription) {
	s.subMu.Lock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.C)
	}
	s.subMu.Unlock()
}

func (s *Store) publish(c Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for sub := range s.subs {
		if !sub.wants(c.Topic) {
			continue
		}
		select {
		case sub.C <- c:
		default:
			// subscriber too slow, skip
		}
	}
}

// Actions. Each action mutates exactly one top-level slice.

// SetView replaces the camera/view slice.
func (s *Store) SetView(v ViewState) {
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
	s.publish(Change{Topic: TopicView})
}

// SetRenderMode switches the active renderer backend.
func (s *Store) SetRenderMode(m RenderMode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.publish(Change{Topic: TopicRenderMode})
}

// SetBaseMap selects the base map style.
func (s *Store) SetBaseMap(b BaseMap) {
	s.mu.Lock()
	s.base = b
	s.mu.Unlock()
	s.publish(Change{Topic: TopicBaseMap})
}

// SetLayerVisibility is the single mutation path for layer visibility.
func (s *Store) SetLayerVisibility(id LayerID, visible bool) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownLayer, id)
	}
	s.mu.Lock()
	s.layers[id] = visible
	s.mu.Unlock()
	s.publish(Change{Topic: TopicLayers, Layer: id})
	return nil
}

// SetSelection sets or clears the selected feature id.
func (s *Store) SetSelection(id *int64) {
	s.mu.Lock()
	if id == nil {
		s.selected = nil
	} else {
		v := *id
		s.selected = &v
	}
	s.mu.Unlock()
	s.publish(Change{Topic: TopicSelection})
}

// SetMeasurement replaces the measurement slice.
func (s *Store) SetMeasurement(m MeasurementState) {
	s.mu.Lock()
	s.meas = m
	s.mu.Unlock()
	s.publish(Change{Topic: TopicMeasurement})
}

// SetMouse updates the tracked mouse geographic coordinate.
func (s *Store) SetMouse(p orb.Point) {
	s.mu.Lock()
	s.mouse = p
	s.mu.Unlock()
	s.publish(Change{Topic: TopicMouse})
}

// Readers.

// View returns the current camera/view state.
func (s *Store) View() ViewState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// RenderMode returns the active renderer mode.
func (s *Store) RenderMode() RenderMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// BaseMap returns the active base map.
func (s *Store) BaseMap() BaseMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// LayerVisible reports the visibility flag for a layer.
func (s *Store) LayerVisible(id LayerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layers[id]
}

// Selection returns the selected feature id, or nil.
func (s *Store) Selection() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return nil
	}
	v := *s.selected
	return &v
}

// Measurement returns the measurement slice.
func (s *Store) Measurement() MeasurementState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meas
}

// Mouse returns the last tracked mouse coordinate.
func (s *Store) Mouse() orb.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mouse
}

// Snapshot returns a consistent copy of the whole tree.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layers := make(map[LayerID]bool, len(s.layers))
	for k, v := range s.layers {
		layers[k] = v
	}
	var sel *int64
	if s.selected != nil {
		v := *s.selected
		sel = &v
	}
	return Snapshot{
		View:        s.view,
		RenderMode:  s.mode,
		BaseMap:     s.base,
		Layers:      layers,
		Selection:   sel,
		Measurement: s.meas,
		Mouse:       s.mouse,
	}
}
