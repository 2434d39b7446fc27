package portal

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-atlas/internal/shell"
	"github.com/joeblew999/plat-atlas/internal/state"
)

// EventHandler streams shared-state changes to the browser via SSE.
// Clients get a full snapshot on connect, then one signal patch per
// state change, plus a fresh frame when a change affects the scene.
type EventHandler struct {
	shell *shell.Shell
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events,
		huma.OperationTags("events"),
	)
}

func (h *EventHandler) Events(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			r, w := humago.Unwrap(humaCtx)
			sse := datastar.NewSSE(w, r)

			st := h.shell.Store()
			sub := st.Subscribe()
			defer st.Unsubscribe(sub)

			h.push(sse, state.Change{})

			for {
				select {
				case <-ctx.Done():
					return
				case c := <-sub.C:
					h.push(sse, c)
				}
			}
		},
	}, nil
}

// visual reports whether a change needs a frame re-send.
func visual(c state.Change) bool {
	switch c.Topic {
	case state.TopicView, state.TopicLayers, state.TopicSelection,
		state.TopicMeasurement, state.TopicRenderMode, state.TopicBaseMap:
		return true
	}
	return false
}

func (h *EventHandler) push(sse *datastar.ServerSentEventGenerator, c state.Change) {
	snap := h.shell.Store().Snapshot()
	signals := map[string]any{
		"view":      snap.View,
		"mode":      snap.RenderMode,
		"baseMap":   snap.BaseMap,
		"layers":    snap.Layers,
		"selection": snap.Selection,
		"measure":   snap.Measurement,
		"mouse":     snap.Mouse,
		"cursor":    h.shell.Cursor(),
	}
	sse.MarshalAndPatchSignals(signals)

	if c.Topic == "" || visual(c) {
		if frame, err := h.shell.Frame(); err == nil && frame != nil {
			sse.MarshalAndPatchSignals(map[string]any{"frame": frame})
		}
	}
}
