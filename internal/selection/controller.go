// Package selection routes pointer events from the active renderer into
// shared-state mutations: feature selection, empty-space clicks and hover
// tracking.
package selection

import (
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/state"
	"github.com/joeblew999/plat-atlas/internal/viewport"
)

// selectZoom is the close-up zoom a fly-to-selection animation targets.
const selectZoom = 10

// Locator resolves a feature id to its marker coordinate. The shell backs
// it with the loaded article set.
type Locator func(id int64) (orb.Point, bool)

// Callbacks are the outward hooks consumed by the feature-list and
// feature-info panels. Any field may be nil.
type Callbacks struct {
	OnFeatureClick func(id int64)
	OnFeatureHover func(id *int64)
	OnMapClick     func(at orb.Point)
}

// Router owns the click/hover contract. Both renderer backends feed it the
// same way, so selection behavior is identical in 2D and 3D.
type Router struct {
	store  *state.Store
	view   *viewport.Controller
	locate Locator
	cbs    Callbacks

	mu      sync.Mutex
	flown   *int64 // last id a fly-to was issued for
	hovered *int64
}

// NewRouter creates a Router. view may be nil, which disables
// fly-to-selection (used by headless tests).
func NewRouter(store *state.Store, view *viewport.Controller, locate Locator, cbs Callbacks) *Router {
	return &Router{store: store, view: view, locate: locate, cbs: cbs}
}

// Click routes a pointer click at screen (x, y) through the backend's
// hit-test. A selectable article hit selects it; anything else clears the
// selection and reports the geographic click point.
func (r *Router) Click(b render.Backend, x, y float64) {
	hit := b.HitTest(x, y)
	if hit != nil && hit.Kind == render.KindArticle {
		r.Select(hit.FeatureID)
		return
	}
	r.Clear()
	if r.cbs.OnMapClick != nil {
		r.cbs.OnMapClick(b.ScreenToGeo(x, y))
	}
}

// Select marks the feature selected and flies the camera to it. The
// fly-to fires once per id change; re-selecting the current id is a
// highlight no-op. External feature-list selection enters here too.
func (r *Router) Select(id int64) {
	cur := r.store.Selection()
	if cur == nil || *cur != id {
		r.store.SetSelection(&id)
	}
	if r.cbs.OnFeatureClick != nil {
		r.cbs.OnFeatureClick(id)
	}

	r.mu.Lock()
	fly := r.flown == nil || *r.flown != id
	if fly {
		v := id
		r.flown = &v
	}
	r.mu.Unlock()
	if !fly || r.view == nil || r.locate == nil {
		return
	}
	if at, ok := r.locate(id); ok {
		r.view.FlyTo(at[1], at[0], selectZoom)
	}
}

// Clear drops the current selection. The next Select of any id flies
// again.
func (r *Router) Clear() {
	r.store.SetSelection(nil)
	r.mu.Lock()
	r.flown = nil
	r.mu.Unlock()
}

// Hover routes a pointer move: hover callbacks on enter/leave of a
// selectable marker, plus the continuously tracked geographic mouse
// position for the coordinate readout.
func (r *Router) Hover(b render.Backend, x, y float64) {
	r.store.SetMouse(b.ScreenToGeo(x, y))

	var id *int64
	if hit := b.HitTest(x, y); hit != nil && hit.Kind == render.KindArticle {
		v := hit.FeatureID
		id = &v
	}

	r.mu.Lock()
	changed := (r.hovered == nil) != (id == nil) ||
		(r.hovered != nil && id != nil && *r.hovered != *id)
	r.hovered = id
	r.mu.Unlock()

	if changed && r.cbs.OnFeatureHover != nil {
		r.cbs.OnFeatureHover(id)
	}
}

// Cursor reports the pointer cursor the shell should show: "pointer" over
// a selectable marker, "" otherwise.
func (r *Router) Cursor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hovered != nil {
		return "pointer"
	}
	return ""
}
