// Package viewport owns camera/view state transitions for the renderers:
// pan, zoom, rotate, tilt, home and fly-to, each as an animated transition
// whose terminal state is written back to the shared store.
package viewport

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/state"
)

// Zoom and pitch bounds are hard invariants, enforced during animation
// and corrected after free-form user drags.
const (
	MinZoom = 2.0
	MaxZoom = 18.0

	MinPitch = -90.0 // straight down
	MaxPitch = 0.0   // horizon-up

	rotateStep = 15 * math.Pi / 180
	tiltStep   = 15.0
)

// Durations groups the fixed animation duration classes. A zero duration
// applies transitions instantly (used by tests and the preload CLI).
type Durations struct {
	Zoom   time.Duration
	Rotate time.Duration
	Home   time.Duration
	FlyTo  time.Duration
}

// DefaultDurations matches the portal's interactive feel.
func DefaultDurations() Durations {
	return Durations{
		Zoom:   250 * time.Millisecond,
		Rotate: 400 * time.Millisecond,
		Home:   1200 * time.Millisecond,
		FlyTo:  1500 * time.Millisecond,
	}
}

// Controller drives the camera for whichever renderer backend is active.
// Pitch is tracked here rather than in ViewState because only the 3D
// backend consumes it.
type Controller struct {
	store *state.Store
	home  state.ViewState
	durs  Durations

	mu     sync.Mutex
	pitch  float64
	cancel context.CancelFunc // cancels the in-flight animation, if any
}

// New creates a controller writing to store, with home as the initial
// camera pose.
func New(store *state.Store, home state.ViewState, durs Durations) *Controller {
	home.Zoom = clamp(home.Zoom, MinZoom, MaxZoom)
	return &Controller{store: store, home: home, durs: durs, pitch: MinPitch / 2}
}

// Home returns the fixed initial camera pose.
func (c *Controller) Home() state.ViewState {
	return c.home
}

// Pitch returns the current camera pitch in degrees (3D only).
func (c *Controller) Pitch() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pitch
}

// Zoom animates one discrete zoom step in or out, clamped to the bounds.
func (c *Controller) Zoom(in bool) {
	v := c.store.View()
	if in {
		v.Zoom = clamp(v.Zoom+1, MinZoom, MaxZoom)
	} else {
		v.Zoom = clamp(v.Zoom-1, MinZoom, MaxZoom)
	}
	c.animate(v, c.durs.Zoom)
}

// Rotate adds or subtracts the fixed heading increment. Rotation is
// unbounded; renderers normalize when they need a wrapped angle.
func (c *Controller) Rotate(clockwise bool) {
	v := c.store.View()
	if clockwise {
		v.Rotation += rotateStep
	} else {
		v.Rotation -= rotateStep
	}
	c.animate(v, c.durs.Rotate)
}

// Tilt adjusts the camera pitch by the fixed increment, clamped so the
// camera can neither look above the horizon nor past straight-down.
// Only the 3D backend consumes pitch.
func (c *Controller) Tilt(down bool) {
	c.mu.Lock()
	if down {
		c.pitch = clamp(c.pitch-tiltStep, MinPitch, MaxPitch)
	} else {
		c.pitch = clamp(c.pitch+tiltStep, MinPitch, MaxPitch)
	}
	c.mu.Unlock()
	// Pitch changes still need a view notification so the 3D backend
	// recomputes its camera.
	c.store.SetView(c.store.View())
}

// GoHome animates back to the initial camera pose.
func (c *Controller) GoHome() {
	c.animate(c.home, c.durs.Home)
}

// FlyTo animates to an arbitrary point. Used by location search and
// selection-follow. Zoom is clamped to the bounds.
func (c *Controller) FlyTo(lat, lon, zoom float64) {
	c.animate(state.ViewState{
		Center:   orb.Point{lon, lat},
		Zoom:     clamp(zoom, MinZoom, MaxZoom),
		Rotation: c.store.View().Rotation,
	}, c.durs.FlyTo)
}

// SyncView ingests a renderer-native "view changed" event from free-form
// user interaction, correcting any bound overshoot before storing.
func (c *Controller) SyncView(v state.ViewState) {
	v.Zoom = clamp(v.Zoom, MinZoom, MaxZoom)
	c.store.SetView(v)
}

// animate interpolates from the current view to target over d, writing
// intermediate views to the store each frame and the exact target on
// completion. Starting a new transition cancels the one in flight
// (last-commanded-transition wins; animations are never queued).
func (c *Controller) animate(target state.ViewState, d time.Duration) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if d <= 0 {
		c.cancel = nil
		c.mu.Unlock()
		c.store.SetView(target)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	from := c.store.View()
	start := time.Now()

	go func() {
		ticker := time.NewTicker(16 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t := float64(now.Sub(start)) / float64(d)
				if t >= 1 {
					c.store.SetView(target)
					return
				}
				c.store.SetView(lerpView(from, target, easeInOut(t)))
			}
		}
	}()
}

// Stop cancels any in-flight animation without snapping to its target.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// easeInOut is a cubic ease matching the feel of the renderer-native
// flight animations.
func easeInOut(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	u := 2*t - 2
	return 1 + u*u*u/2
}

func lerpView(a, b state.ViewState, t float64) state.ViewState {
	return state.ViewState{
		Center: orb.Point{
			a.Center[0] + (b.Center[0]-a.Center[0])*t,
			a.Center[1] + (b.Center[1]-a.Center[1])*t,
		},
		Zoom:     a.Zoom + (b.Zoom-a.Zoom)*t,
		Rotation: a.Rotation + (b.Rotation-a.Rotation)*t,
	}
}
