package layers

import (
	"context"
	"sync"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/geodata"
	"github.com/joeblew999/plat-atlas/internal/logging"
	"github.com/joeblew999/plat-atlas/internal/state"
)

// Phase is the dataset lifecycle of one thematic layer.
type Phase int

const (
	PhaseUnloaded Phase = iota
	PhaseLoading
	PhaseReady
)

// StyledFeature is one renderable feature with its resolved style.
type StyledFeature struct {
	FeatureID int64 // article feature id; 0 for thematic features
	Geometry  orb.Geometry
	Value     *float64
	Style     Style
}

// Layer is the materialized, styled renderable for one layer id. It is
// immutable once built; renderers attach it and draw or skip based on the
// shared visibility flag.
type Layer struct {
	ID       state.LayerID
	Z        int
	Features []StyledFeature
}

// Config describes one thematic layer's dataset sources.
type Config struct {
	ID       state.LayerID
	Key      string // primary dataset key
	Fallback string // alternate static resource tried after a failed fetch
	Stats    string // optional statistics dataset joined onto the polygons
}

// Controller owns one thematic layer: fetch-on-demand materialization,
// pending-visibility bookkeeping and redraw triggering. The phase machine
// is unloaded → loading → ready; ready is terminal until Reset.
type Controller struct {
	cfg   Config
	style StyleTable
	z     int
	cache *geodata.Cache
	store *state.Store
	log   zerolog.Logger

	mu      sync.Mutex
	phase   Phase
	desired *bool // visibility requested before the layer was ready
	layer   *Layer
	built   chan struct{} // closed when the in-progress build completes
}

// NewController creates the controller for a layer id. The id must be a
// member of the closed layer set.
func NewController(cfg Config, cache *geodata.Cache, store *state.Store) (*Controller, error) {
	style, z, err := styleFor(cfg.ID)
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:   cfg,
		style: style,
		z:     z,
		cache: cache,
		store: store,
		log:   logging.With("layers").With().Str("layer", string(cfg.ID)).Logger(),
	}, nil
}

// Phase returns the controller's lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	}
	return "unloaded"
}

// Legend returns the static legend bins for the layer. The bins come from
// the same threshold table as the draw style.
func (c *Controller) Legend() []LegendEntry {
	return c.style.Legend()
}

// GetLayer returns the materialized layer, building it on first use.
// Concurrent calls during the build await the same in-progress creation
// rather than triggering a second one. A failed fetch yields an empty
// neutral layer (logged, never surfaced as a broken view).
func (c *Controller) GetLayer(ctx context.Context) (*Layer, error) {
	c.mu.Lock()
	switch c.phase {
	case PhaseReady:
		l := c.layer
		c.mu.Unlock()
		return l, nil
	case PhaseLoading:
		done := c.built
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
		l := c.layer
		c.mu.Unlock()
		return l, nil
	}

	c.phase = PhaseLoading
	c.built = make(chan struct{})
	c.mu.Unlock()

	return c.finishBuild(ctx)
}

// finishBuild runs the build for a controller already moved to
// PhaseLoading by the caller and publishes the result. Visibility
// requested during the build is applied before waiters are released.
func (c *Controller) finishBuild(ctx context.Context) (*Layer, error) {
	layer := c.build(ctx)

	c.mu.Lock()
	c.layer = layer
	pending := c.desired
	c.desired = nil
	var err error
	if pending != nil {
		// The store change also triggers the renderers' redraw. The
		// store never calls back into the controller, so holding the
		// lock across the set is safe.
		err = c.store.SetLayerVisibility(c.cfg.ID, *pending)
	}
	c.phase = PhaseReady
	close(c.built)
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return layer, nil
}

// SetVisible applies a visibility toggle. Ready layers apply immediately
// (and force a redraw through the store change). During loading the
// request is recorded and applied once the build completes; toggling an
// unloaded layer visible triggers the build as a side effect.
func (c *Controller) SetVisible(ctx context.Context, visible bool) error {
	c.mu.Lock()
	if c.phase == PhaseReady {
		c.mu.Unlock()
		return c.store.SetLayerVisibility(c.cfg.ID, visible)
	}
	v := visible
	c.desired = &v
	startBuild := visible && c.phase == PhaseUnloaded
	if startBuild {
		// Move to loading before releasing the lock so Wait and Phase
		// observe the build immediately, not once the goroutine runs.
		c.phase = PhaseLoading
		c.built = make(chan struct{})
	}
	c.mu.Unlock()

	if startBuild {
		// Visibility-driven lazy load: the expensive fetch only happens
		// once the user actually wants to see the layer.
		go func() {
			if _, err := c.finishBuild(context.WithoutCancel(ctx)); err != nil {
				c.log.Error().Err(err).Msg("deferred layer build failed")
			}
		}()
	}
	return nil
}

// Wait blocks until an in-progress build finishes. Toggling visibility
// with no build in progress returns immediately.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.built
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset discards the materialized layer so the next GetLayer rebuilds it.
// The underlying dataset cache is left intact; pair with cache.Clear to
// force a refetch.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.phase = PhaseUnloaded
	c.layer = nil
	c.desired = nil
	c.built = nil
	c.mu.Unlock()
}

// build fetches the dataset (with fallback) and styles its features.
func (c *Controller) build(ctx context.Context) *Layer {
	fc, err := c.cache.Get(ctx, c.cfg.Key)
	if err != nil && c.cfg.Fallback != "" {
		c.log.Warn().Err(err).Str("fallback", c.cfg.Fallback).
			Msg("primary dataset failed, trying fallback")
		fc, err = c.cache.Get(ctx, c.cfg.Fallback)
	}
	if err != nil {
		// Failed layers render as an empty neutral dataset rather than
		// crashing the view.
		c.log.Error().Err(err).Msg("dataset unavailable, layer renders empty")
		return &Layer{ID: c.cfg.ID, Z: c.z}
	}

	var stats statsIndex
	hasStats := false
	if c.cfg.Stats != "" {
		sfc, serr := c.cache.Get(ctx, c.cfg.Stats)
		if serr != nil {
			c.log.Error().Err(serr).Msg("statistics dataset unavailable, features render as no-data")
		} else {
			stats = indexStats(sfc, c.style.Property)
			hasStats = true
		}
	}

	layer := &Layer{ID: c.cfg.ID, Z: c.z, Features: make([]StyledFeature, 0, len(fc.Features))}
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue // defensive: skip invalid geometry, never throw
		}
		var value *float64
		if hasStats {
			value = stats.lookup(f.Properties)
		} else if c.style.Property != "" {
			value = floatProp(f.Properties, c.style.Property)
		}
		layer.Features = append(layer.Features, StyledFeature{
			Geometry: f.Geometry,
			Value:    value,
			Style:    c.style.StyleFor(value),
		})
	}
	c.log.Info().Int("features", len(layer.Features)).Msg("layer materialized")
	return layer
}

// Marker is a map-ready article locator derived from a feature record.
type Marker struct {
	ID int64
	At orb.Point
}

// NewMarkerLayer builds the article-locator layer from map-ready markers.
// Unlike thematic layers it is rebuilt whenever the feature list changes.
func NewMarkerLayer(markers []Marker) *Layer {
	layer := &Layer{ID: state.LayerArticleLocators, Z: ZArticleLocators,
		Features: make([]StyledFeature, 0, len(markers))}
	for _, m := range markers {
		layer.Features = append(layer.Features, StyledFeature{
			FeatureID: m.ID,
			Geometry:  m.At,
			Style:     articleLocatorsStyle.NoData,
		})
	}
	return layer
}
