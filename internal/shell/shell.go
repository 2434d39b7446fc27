// Package shell composes the map engine: shared state, dataset cache,
// layer controllers, viewport, measuring, selection routing and the
// active renderer backend. It is the single entry point the transport
// layer talks to.
package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/features"
	"github.com/joeblew999/plat-atlas/internal/geodata"
	"github.com/joeblew999/plat-atlas/internal/layers"
	"github.com/joeblew999/plat-atlas/internal/logging"
	"github.com/joeblew999/plat-atlas/internal/measure"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/render/flat"
	"github.com/joeblew999/plat-atlas/internal/render/globe"
	"github.com/joeblew999/plat-atlas/internal/selection"
	"github.com/joeblew999/plat-atlas/internal/state"
	"github.com/joeblew999/plat-atlas/internal/viewport"
)

// searchZoom is the zoom a successful location search flies to.
const searchZoom = 10

// ErrNoResults reports a location search with no matches.
var ErrNoResults = errors.New("no matching places")

// BackendFactory builds a renderer backend for the requested mode.
// sketch supplies the measurement overlay polyline.
type BackendFactory func(store *state.Store, sketch func() orb.LineString, mode state.RenderMode) (render.Backend, error)

// Config wires a Shell. Zero-value fields get sensible defaults.
type Config struct {
	Home    state.ViewState
	Catalog layers.Catalog

	// DataBase is the base URL datasets are fetched from; keys in the
	// catalog are appended as path segments.
	DataBase string
	// Fetcher overrides the HTTP fetch chain (tests).
	Fetcher geodata.Fetcher
	// Local, when set, serves datasets the remote chain failed to
	// deliver; the binary wires the DuckDB dataset store here.
	Local geodata.Fetcher

	FeaturesBase string
	GeocoderBase string

	// Backends overrides renderer construction (tests).
	Backends BackendFactory

	Durations *viewport.Durations
}

// Shell is the composed engine.
type Shell struct {
	store  *state.Store
	cache  *geodata.Cache
	ctrls  map[state.LayerID]*layers.Controller
	vp     *viewport.Controller
	meas   *measure.Controller
	router *selection.Router

	feats    *features.Client
	geocoder *features.Geocoder
	backends BackendFactory
	catalog  layers.Catalog
	log      zerolog.Logger

	mu        sync.Mutex
	active    render.Backend
	markers   map[int64]orb.Point
	markerLyr *layers.Layer
	renderErr error // terminal 3D init failure, if any
	cbs       selection.Callbacks
}

// New composes a Shell from cfg. The 2D backend is active initially.
func New(cfg Config, cbs selection.Callbacks) (*Shell, error) {
	if cfg.Catalog == nil {
		cfg.Catalog = layers.DefaultCatalog()
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = geodata.NewBreakerFetcher(
			geodata.NewRetryFetcher(
				geodata.NewHTTPFetcher(func(key string) string {
					return cfg.DataBase + "/" + key
				})))
	}
	if cfg.Local != nil {
		fetcher = geodata.NewFallbackFetcher(fetcher, cfg.Local)
	}
	durs := viewport.DefaultDurations()
	if cfg.Durations != nil {
		durs = *cfg.Durations
	}

	store := state.NewStore(cfg.Home)
	cache := geodata.NewCache(fetcher)
	ctrls, err := layers.NewControllers(cfg.Catalog, cache, store)
	if err != nil {
		return nil, fmt.Errorf("layer controllers: %w", err)
	}

	s := &Shell{
		store:    store,
		cache:    cache,
		ctrls:    ctrls,
		vp:       viewport.New(store, cfg.Home, durs),
		meas:     measure.New(store),
		backends: cfg.Backends,
		catalog:  cfg.Catalog,
		markers:  make(map[int64]orb.Point),
		log:      logging.With("shell"),
		cbs:      cbs,
	}
	if cfg.FeaturesBase != "" {
		s.feats = features.NewClient(cfg.FeaturesBase)
	}
	if cfg.GeocoderBase != "" {
		s.geocoder = features.NewGeocoder(cfg.GeocoderBase)
	}
	if s.backends == nil {
		s.backends = defaultBackends
	}
	s.router = selection.NewRouter(store, s.vp, s.locateMarker, cbs)

	backend, err := s.backends(store, s.meas.Sketch, state.Mode2D)
	if err != nil {
		return nil, fmt.Errorf("2d renderer: %w", err)
	}
	s.active = backend
	return s, nil
}

func defaultBackends(store *state.Store, sketch func() orb.LineString, mode state.RenderMode) (render.Backend, error) {
	if mode == state.Mode3D {
		return globe.New(store, globe.Options{Sketch: sketch})
	}
	return flat.New(store, flat.Options{Sketch: sketch}), nil
}

func (s *Shell) locateMarker(id int64) (orb.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.markers[id]
	return p, ok
}

// Store exposes the shared state container.
func (s *Shell) Store() *state.Store { return s.store }

// Viewport exposes the camera controller.
func (s *Shell) Viewport() *viewport.Controller { return s.vp }

// Measure exposes the measurement controller.
func (s *Shell) Measure() *measure.Controller { return s.meas }

// Cache exposes the dataset cache (admin/ops surface).
func (s *Shell) Cache() *geodata.Cache { return s.cache }

// Backend returns the active renderer, nil while in the 3D failure state.
func (s *Shell) Backend() render.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// RenderError returns the terminal renderer failure, if any.
func (s *Shell) RenderError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderErr
}

// SetRenderMode switches the active renderer. Layers re-attach to the
// new backend and the camera pose carries over. A 3D construction
// failure is terminal: the shell stays without a canvas and keeps
// returning the error until a 2D switch.
func (s *Shell) SetRenderMode(ctx context.Context, mode state.RenderMode) error {
	s.mu.Lock()
	if s.active != nil && s.active.Mode() == mode {
		s.mu.Unlock()
		return nil
	}
	if mode == state.Mode3D && s.renderErr != nil {
		err := s.renderErr
		s.mu.Unlock()
		return err
	}

	next, err := s.backends(s.store, s.meas.Sketch, mode)
	if err != nil {
		if s.active != nil {
			s.active.Close()
			s.active = nil
		}
		s.renderErr = fmt.Errorf("switch to %s renderer: %w", mode, err)
		err = s.renderErr
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("renderer switch failed")
		return err
	}

	old := s.active
	s.active = next
	if mode == state.Mode2D {
		s.renderErr = nil
	}
	if s.markerLyr != nil {
		next.Attach(s.markerLyr)
	}
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.reattachThematic(ctx, next)
	next.ApplyView(s.store.View())
	s.store.SetRenderMode(mode)
	s.log.Info().Str("mode", string(mode)).Msg("renderer switched")
	return nil
}

// reattachThematic hands every already-built visible layer to b.
func (s *Shell) reattachThematic(ctx context.Context, b render.Backend) {
	for id, ctrl := range s.ctrls {
		if ctrl.Phase() != layers.PhaseReady || !s.store.LayerVisible(id) {
			continue
		}
		l, err := ctrl.GetLayer(ctx)
		if err != nil {
			continue
		}
		b.Attach(l)
	}
}

// ToggleLayer flips a thematic layer's visibility. First visibility-on
// triggers the lazy dataset load; the layer attaches to the active
// backend once built.
func (s *Shell) ToggleLayer(ctx context.Context, id state.LayerID, visible bool) error {
	if id == state.LayerArticleLocators {
		return s.store.SetLayerVisibility(id, visible)
	}
	ctrl, ok := s.ctrls[id]
	if !ok {
		return fmt.Errorf("%w: %q", state.ErrUnknownLayer, id)
	}
	if err := ctrl.SetVisible(ctx, visible); err != nil {
		return err
	}
	if !visible {
		if b := s.Backend(); b != nil {
			b.Detach(id)
		}
		return nil
	}
	go func() {
		l, err := ctrl.GetLayer(context.WithoutCancel(ctx))
		if err != nil {
			s.log.Error().Err(err).Str("layer", string(id)).Msg("layer load failed")
			return
		}
		if !s.store.LayerVisible(id) {
			return
		}
		if b := s.Backend(); b != nil {
			b.Attach(l)
		}
	}()
	return nil
}

// WaitLayer blocks until the layer finishes loading (or ctx expires).
func (s *Shell) WaitLayer(ctx context.Context, id state.LayerID) error {
	ctrl, ok := s.ctrls[id]
	if !ok {
		return fmt.Errorf("%w: %q", state.ErrUnknownLayer, id)
	}
	return ctrl.Wait(ctx)
}

// Catalog exposes the layer source catalog.
func (s *Shell) Catalog() layers.Catalog { return s.catalog }

// LayerStatus describes one togglable layer for the control panel.
type LayerStatus struct {
	ID      state.LayerID `json:"id"`
	Title   string        `json:"title"`
	Visible bool          `json:"visible"`
	Phase   string        `json:"phase"`
}

// Layers reports every known layer in stable order.
func (s *Shell) Layers() []LayerStatus {
	out := make([]LayerStatus, 0, len(state.AllLayers))
	for _, id := range state.AllLayers {
		ls := LayerStatus{
			ID:      id,
			Visible: s.store.LayerVisible(id),
			Phase:   layers.PhaseReady.String(),
		}
		if src, ok := s.catalog[id]; ok {
			ls.Title = src.Title
		}
		if ctrl, ok := s.ctrls[id]; ok {
			ls.Phase = ctrl.Phase().String()
		}
		out = append(out, ls)
	}
	return out
}

// Legend returns the legend rows for a thematic layer.
func (s *Shell) Legend(id state.LayerID) ([]layers.LegendEntry, error) {
	ctrl, ok := s.ctrls[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", state.ErrUnknownLayer, id)
	}
	return ctrl.Legend(), nil
}

// LoadFeatures fetches the article list and rebuilds the marker layer.
// Records without a usable geometry are skipped.
func (s *Shell) LoadFeatures(ctx context.Context) (int, error) {
	if s.feats == nil {
		return 0, errors.New("feature API not configured")
	}
	recs, err := s.feats.List(ctx)
	if err != nil {
		return 0, err
	}
	markers := make([]layers.Marker, 0, len(recs))
	for _, rec := range recs {
		m, ok := rec.Marker()
		if !ok {
			s.log.Debug().Int64("id", rec.ID).Msg("feature without point geometry skipped")
			continue
		}
		markers = append(markers, m)
	}
	s.SetMarkers(markers)
	return len(markers), nil
}

// SetMarkers replaces the article marker set. The feature-list panel
// calls this when its data changes.
func (s *Shell) SetMarkers(markers []layers.Marker) {
	layer := layers.NewMarkerLayer(markers)

	s.mu.Lock()
	s.markers = make(map[int64]orb.Point, len(markers))
	for _, m := range markers {
		s.markers[m.ID] = m.At
	}
	s.markerLyr = layer
	b := s.active
	s.mu.Unlock()

	if b != nil {
		b.Attach(layer)
	}
}

// Select drives selection from the feature-list panel.
func (s *Shell) Select(id int64) { s.router.Select(id) }

// ClearSelection drops the selection (info panel closed).
func (s *Shell) ClearSelection() { s.router.Clear() }

// Click routes a pointer click. While a measurement is being drawn,
// clicks add vertices instead of hitting features.
func (s *Shell) Click(x, y float64) {
	b := s.Backend()
	if b == nil {
		return
	}
	if s.meas.Drawing() {
		s.meas.AddVertex(b.ScreenToGeo(x, y))
		return
	}
	s.router.Click(b, x, y)
}

// Hover routes a pointer move.
func (s *Shell) Hover(x, y float64) {
	b := s.Backend()
	if b == nil {
		return
	}
	s.router.Hover(b, x, y)
}

// Cursor reports the cursor the client should show.
func (s *Shell) Cursor() string {
	if s.meas.Drawing() {
		return "crosshair"
	}
	return s.router.Cursor()
}

// Search geocodes a free-text query and flies to the best match,
// returning its display name.
func (s *Shell) Search(ctx context.Context, query string) (string, error) {
	if s.geocoder == nil {
		return "", errors.New("geocoder not configured")
	}
	places, err := s.geocoder.Search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(places) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNoResults, query)
	}
	p, err := places[0].Point()
	if err != nil {
		return "", err
	}
	s.vp.FlyTo(p[1], p[0], searchZoom)
	return places[0].DisplayName, nil
}

// Preload warms the dataset cache for every catalog source.
func (s *Shell) Preload(ctx context.Context) []geodata.PreloadResult {
	return s.cache.Preload(ctx, s.catalog.Keys())
}

// Frame renders the current scene through the active backend.
func (s *Shell) Frame() (*render.Frame, error) {
	s.mu.Lock()
	b, err := s.active, s.renderErr
	s.mu.Unlock()
	if b == nil {
		return nil, err
	}
	return b.Frame(), nil
}

// Close stops animations and releases the active backend.
func (s *Shell) Close() error {
	s.vp.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		err := s.active.Close()
		s.active = nil
		return err
	}
	return nil
}
