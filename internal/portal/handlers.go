package portal

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/layers"
	"github.com/joeblew999/plat-atlas/internal/measure"
	"github.com/joeblew999/plat-atlas/internal/render"
	"github.com/joeblew999/plat-atlas/internal/shell"
	"github.com/joeblew999/plat-atlas/internal/state"
)

// APIHandler holds the REST handlers for map-state operations.
type APIHandler struct {
	shell *shell.Shell
	log   zerolog.Logger
}

// Shared types

type LayerIDInput struct {
	ID string `path:"id" doc:"Layer identifier" example:"populationDensity"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

// RegisterHealth registers the health check route.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

// State

type StateOutput struct {
	Body state.Snapshot
}

// RegisterState registers the shared-state snapshot route.
func (h *APIHandler) RegisterState(api huma.API) {
	huma.Get(api, "/api/v1/state", h.GetState, huma.OperationTags("state"))
}

func (h *APIHandler) GetState(ctx context.Context, input *struct{}) (*StateOutput, error) {
	return &StateOutput{Body: h.shell.Store().Snapshot()}, nil
}

// Layers

type LayersOutput struct {
	Body []shell.LayerStatus
}

type VisibilityInput struct {
	LayerIDInput
	Body struct {
		Visible bool `json:"visible" doc:"Requested visibility"`
	}
}

type LegendOutput struct {
	Body []layers.LegendEntry
}

// RegisterLayers registers layer listing, visibility and legend routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}/visibility", h.PutVisibility, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}/legend", h.GetLegend, huma.OperationTags("layers"))
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	return &LayersOutput{Body: h.shell.Layers()}, nil
}

func (h *APIHandler) PutVisibility(ctx context.Context, input *VisibilityInput) (*struct{ Body MessageBody }, error) {
	id := state.LayerID(input.ID)
	if err := h.shell.ToggleLayer(ctx, id, input.Body.Visible); err != nil {
		if errors.Is(err, state.ErrUnknownLayer) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Visibility updated"}}, nil
}

func (h *APIHandler) GetLegend(ctx context.Context, input *LayerIDInput) (*LegendOutput, error) {
	legend, err := h.shell.Legend(state.LayerID(input.ID))
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &LegendOutput{Body: legend}, nil
}

// View

type ViewInput struct {
	Body struct {
		Lon      float64 `json:"lon" minimum:"-180" maximum:"180" doc:"Center longitude"`
		Lat      float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Center latitude"`
		Zoom     float64 `json:"zoom" doc:"Zoom level"`
		Rotation float64 `json:"rotation,omitempty" doc:"Heading in radians"`
	}
}

type DirectionInput struct {
	Body struct {
		In bool `json:"in" doc:"Zoom in (true) or out (false)"`
	}
}

type RotateInput struct {
	Body struct {
		Clockwise bool `json:"clockwise" doc:"Rotate clockwise"`
	}
}

type TiltInput struct {
	Body struct {
		Down bool `json:"down" doc:"Tilt toward the surface"`
	}
}

type FlyToInput struct {
	Body struct {
		Lat  float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Target latitude"`
		Lon  float64 `json:"lon" minimum:"-180" maximum:"180" doc:"Target longitude"`
		Zoom float64 `json:"zoom" doc:"Target zoom level"`
	}
}

type ViewOutput struct {
	Body state.ViewState
}

// RegisterView registers camera routes.
func (h *APIHandler) RegisterView(api huma.API) {
	huma.Get(api, "/api/v1/view", h.GetView, huma.OperationTags("view"))
	huma.Put(api, "/api/v1/view", h.PutView, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/zoom", h.PostZoom, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/rotate", h.PostRotate, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/tilt", h.PostTilt, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/home", h.PostHome, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/flyto", h.PostFlyTo, huma.OperationTags("view"))
	huma.Put(api, "/api/v1/mode", h.PutMode, huma.OperationTags("view"))
}

func (h *APIHandler) GetView(ctx context.Context, input *struct{}) (*ViewOutput, error) {
	return &ViewOutput{Body: h.shell.Store().View()}, nil
}

func (h *APIHandler) PutView(ctx context.Context, input *ViewInput) (*ViewOutput, error) {
	h.shell.Viewport().SyncView(state.ViewState{
		Center:   orb.Point{input.Body.Lon, input.Body.Lat},
		Zoom:     input.Body.Zoom,
		Rotation: input.Body.Rotation,
	})
	return &ViewOutput{Body: h.shell.Store().View()}, nil
}

func (h *APIHandler) PostZoom(ctx context.Context, input *DirectionInput) (*ViewOutput, error) {
	h.shell.Viewport().Zoom(input.Body.In)
	return &ViewOutput{Body: h.shell.Store().View()}, nil
}

func (h *APIHandler) PostRotate(ctx context.Context, input *RotateInput) (*ViewOutput, error) {
	h.shell.Viewport().Rotate(input.Body.Clockwise)
	return &ViewOutput{Body: h.shell.Store().View()}, nil
}

func (h *APIHandler) PostTilt(ctx context.Context, input *TiltInput) (*ViewOutput, error) {
	h.shell.Viewport().Tilt(input.Body.Down)
	return &ViewOutput{Body: h.shell.Store().View()}, nil
}

func (h *APIHandler) PostHome(ctx context.Context, input *struct{}) (*ViewOutput, error) {
	h.shell.Viewport().GoHome()
	return &ViewOutput{Body: h.shell.Store().View()}, nil
}

func (h *APIHandler) PostFlyTo(ctx context.Context, input *FlyToInput) (*ViewOutput, error) {
	h.shell.Viewport().FlyTo(input.Body.Lat, input.Body.Lon, input.Body.Zoom)
	return &ViewOutput{Body: h.shell.Store().View()}, nil
}

type ModeInput struct {
	Body struct {
		Mode string `json:"mode" enum:"2d,3d" doc:"Renderer backend"`
	}
}

func (h *APIHandler) PutMode(ctx context.Context, input *ModeInput) (*struct{ Body MessageBody }, error) {
	if err := h.shell.SetRenderMode(ctx, state.RenderMode(input.Body.Mode)); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Renderer switched"}}, nil
}

// Selection

type SelectionInput struct {
	Body struct {
		ID *int64 `json:"id" doc:"Feature id to select, null to clear"`
	}
}

// RegisterSelection registers the external selection route (feature-list
// panel and info-panel close).
func (h *APIHandler) RegisterSelection(api huma.API) {
	huma.Put(api, "/api/v1/selection", h.PutSelection, huma.OperationTags("selection"))
}

func (h *APIHandler) PutSelection(ctx context.Context, input *SelectionInput) (*struct{ Body MessageBody }, error) {
	if input.Body.ID == nil {
		h.shell.ClearSelection()
		return &struct{ Body MessageBody }{Body: MessageBody{Message: "Selection cleared"}}, nil
	}
	h.shell.Select(*input.Body.ID)
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Feature selected"}}, nil
}

// Measurement

type MeasureOutput struct {
	Body struct {
		Drawing bool   `json:"drawing" doc:"A measurement is in progress"`
		Label   string `json:"label" doc:"Formatted running length"`
	}
}

type VertexInput struct {
	Body struct {
		Lon float64 `json:"lon" minimum:"-180" maximum:"180"`
		Lat float64 `json:"lat" minimum:"-90" maximum:"90"`
	}
}

// RegisterMeasure registers measurement tool routes.
func (h *APIHandler) RegisterMeasure(api huma.API) {
	huma.Get(api, "/api/v1/measure", h.GetMeasure, huma.OperationTags("measure"))
	huma.Post(api, "/api/v1/measure/toggle", h.PostMeasureToggle, huma.OperationTags("measure"))
	huma.Post(api, "/api/v1/measure/vertex", h.PostMeasureVertex, huma.OperationTags("measure"))
	huma.Post(api, "/api/v1/measure/finish", h.PostMeasureFinish, huma.OperationTags("measure"))
}

func (h *APIHandler) measureOutput(m *measure.Controller) *MeasureOutput {
	out := &MeasureOutput{}
	out.Body.Drawing = m.Drawing()
	out.Body.Label = m.Label()
	return out
}

func (h *APIHandler) GetMeasure(ctx context.Context, input *struct{}) (*MeasureOutput, error) {
	return h.measureOutput(h.shell.Measure()), nil
}

func (h *APIHandler) PostMeasureToggle(ctx context.Context, input *struct{}) (*MeasureOutput, error) {
	h.shell.Measure().Toggle()
	return h.measureOutput(h.shell.Measure()), nil
}

func (h *APIHandler) PostMeasureVertex(ctx context.Context, input *VertexInput) (*MeasureOutput, error) {
	m := h.shell.Measure()
	if !m.Drawing() {
		return nil, huma.Error409Conflict("no measurement in progress")
	}
	m.AddVertex(orb.Point{input.Body.Lon, input.Body.Lat})
	return h.measureOutput(m), nil
}

func (h *APIHandler) PostMeasureFinish(ctx context.Context, input *struct{}) (*MeasureOutput, error) {
	h.shell.Measure().Finish()
	return h.measureOutput(h.shell.Measure()), nil
}

// Pointer

type PointerInput struct {
	Body struct {
		X float64 `json:"x" doc:"Screen x in pixels"`
		Y float64 `json:"y" doc:"Screen y in pixels"`
	}
}

type PointerOutput struct {
	Body struct {
		Cursor    string  `json:"cursor" doc:"Cursor the client should show"`
		Selection *int64  `json:"selection" doc:"Selected feature id"`
		Lon       float64 `json:"lon" doc:"Pointer longitude"`
		Lat       float64 `json:"lat" doc:"Pointer latitude"`
	}
}

// RegisterPointer registers click and hover routing routes.
func (h *APIHandler) RegisterPointer(api huma.API) {
	huma.Post(api, "/api/v1/pointer/click", h.PostClick, huma.OperationTags("pointer"))
	huma.Post(api, "/api/v1/pointer/move", h.PostMove, huma.OperationTags("pointer"))
}

func (h *APIHandler) pointerOutput() *PointerOutput {
	out := &PointerOutput{}
	st := h.shell.Store()
	out.Body.Cursor = h.shell.Cursor()
	out.Body.Selection = st.Selection()
	mouse := st.Mouse()
	out.Body.Lon, out.Body.Lat = mouse[0], mouse[1]
	return out
}

func (h *APIHandler) PostClick(ctx context.Context, input *PointerInput) (*PointerOutput, error) {
	h.shell.Click(input.Body.X, input.Body.Y)
	return h.pointerOutput(), nil
}

func (h *APIHandler) PostMove(ctx context.Context, input *PointerInput) (*PointerOutput, error) {
	h.shell.Hover(input.Body.X, input.Body.Y)
	return h.pointerOutput(), nil
}

// Search

type SearchInput struct {
	Body struct {
		Query string `json:"query" minLength:"1" doc:"Free-text place query" example:"Helsinki"`
	}
}

type SearchOutput struct {
	Body struct {
		DisplayName string          `json:"display_name" doc:"Matched place name"`
		View        state.ViewState `json:"view" doc:"Camera pose after the flight"`
	}
}

// RegisterSearch registers the location search route.
func (h *APIHandler) RegisterSearch(api huma.API) {
	huma.Post(api, "/api/v1/search", h.PostSearch, huma.OperationTags("search"))
}

func (h *APIHandler) PostSearch(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	name, err := h.shell.Search(ctx, input.Body.Query)
	if err != nil {
		if errors.Is(err, shell.ErrNoResults) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error502BadGateway(err.Error())
	}
	out := &SearchOutput{}
	out.Body.DisplayName = name
	out.Body.View = h.shell.Store().View()
	return out, nil
}

// Features

type FeaturesOutput struct {
	Body struct {
		Markers int `json:"markers" doc:"Number of placed article markers"`
	}
}

// RegisterFeatures registers the article marker refresh route.
func (h *APIHandler) RegisterFeatures(api huma.API) {
	huma.Post(api, "/api/v1/features/refresh", h.PostFeaturesRefresh, huma.OperationTags("features"))
}

func (h *APIHandler) PostFeaturesRefresh(ctx context.Context, input *struct{}) (*FeaturesOutput, error) {
	n, err := h.shell.LoadFeatures(ctx)
	if err != nil {
		return nil, huma.Error502BadGateway(err.Error())
	}
	out := &FeaturesOutput{}
	out.Body.Markers = n
	return out, nil
}

// Frame

type FrameOutput struct {
	Body render.Frame
}

// RegisterFrame registers the draw-command snapshot route.
func (h *APIHandler) RegisterFrame(api huma.API) {
	huma.Get(api, "/api/v1/frame", h.GetFrame, huma.OperationTags("frame"))
}

func (h *APIHandler) GetFrame(ctx context.Context, input *struct{}) (*FrameOutput, error) {
	frame, err := h.shell.Frame()
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if frame == nil {
		return nil, huma.Error503ServiceUnavailable("no active renderer")
	}
	return &FrameOutput{Body: *frame}, nil
}
