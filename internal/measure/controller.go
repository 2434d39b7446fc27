// Package measure implements the interactive polyline length-measurement
// tool shared by both renderer backends.
package measure

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/joeblew999/plat-atlas/internal/state"
)

// kmThreshold is the running length (meters) at which the label switches
// from meters to kilometers.
const kmThreshold = 100.0

// Controller captures a measurement polyline. States are idle → drawing →
// idle; the last label survives draw completion until an explicit Clear.
type Controller struct {
	store *state.Store

	mu       sync.Mutex
	drawing  bool
	vertices orb.LineString
	label    string
}

// New creates an idle measurement controller writing to store.
func New(store *state.Store) *Controller {
	return &Controller{store: store}
}

// Toggle flips drawing mode. Entering drawing mode clears any prior
// measurement geometry; leaving it cancels the current sketch.
func (c *Controller) Toggle() {
	c.mu.Lock()
	if c.drawing {
		c.drawing = false
		c.vertices = nil
	} else {
		c.drawing = true
		c.vertices = nil
		c.label = ""
	}
	c.mu.Unlock()
	c.sync()
}

// Drawing reports whether the tool is capturing vertices.
func (c *Controller) Drawing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drawing
}

// AddVertex appends a vertex ([lon, lat]) to the sketch and recomputes
// the running geodesic length. Ignored outside drawing mode.
func (c *Controller) AddVertex(p orb.Point) {
	c.mu.Lock()
	if !c.drawing {
		c.mu.Unlock()
		return
	}
	c.vertices = append(c.vertices, p)
	c.label = FormatLength(geo.Length(c.vertices))
	c.mu.Unlock()
	c.sync()
}

// Finish ends the capture gesture. The measurement stays displayed:
// drawing mode ends but the label is preserved until Clear.
func (c *Controller) Finish() {
	c.mu.Lock()
	c.drawing = false
	c.mu.Unlock()
	c.sync()
}

// Clear removes the measurement geometry and label.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.drawing = false
	c.vertices = nil
	c.label = ""
	c.mu.Unlock()
	c.sync()
}

// Sketch returns a copy of the captured polyline for the measurement
// overlay (drawn topmost by both backends).
func (c *Controller) Sketch() orb.LineString {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(orb.LineString, len(c.vertices))
	copy(out, c.vertices)
	return out
}

// Label returns the current formatted running length.
func (c *Controller) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

func (c *Controller) sync() {
	c.mu.Lock()
	m := state.MeasurementState{IsMeasuring: c.drawing, Label: c.label}
	c.mu.Unlock()
	c.store.SetMeasurement(m)
}

// FormatLength renders a geodesic length in meters as "45 m" below the
// kilometer threshold and "1.53 km" at or above it, rounded to two
// decimals with trailing zeros trimmed.
func FormatLength(meters float64) string {
	if meters < kmThreshold {
		return fmt.Sprintf("%s m", trimmed(meters))
	}
	return fmt.Sprintf("%s km", trimmed(meters/1000))
}

func trimmed(v float64) string {
	rounded := float64(int64(v*100+0.5)) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
