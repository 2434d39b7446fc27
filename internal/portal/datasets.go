package portal

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/db"
	"github.com/joeblew999/plat-atlas/internal/shell"
)

// DatasetHandler exposes the DuckDB dataset store: import, listing,
// GeoJSON readback and the density summary. Registered only when the
// database opened.
type DatasetHandler struct {
	store *db.Store
	shell *shell.Shell
	log   zerolog.Logger
}

type DatasetKeyInput struct {
	Key string `path:"key" doc:"Dataset key" example:"population-density-2022.geojson"`
}

func (h *DatasetHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/datasets", h.ListDatasets, huma.OperationTags("datasets"))
	huma.Put(api, "/api/v1/datasets/{key}", h.ImportDataset, huma.OperationTags("datasets"))
	huma.Get(api, "/api/v1/datasets/{key}/geojson", h.GetDataset, huma.OperationTags("datasets"))
	huma.Get(api, "/api/v1/datasets/{key}/summary", h.GetSummary, huma.OperationTags("datasets"))
}

func (h *DatasetHandler) ListDatasets(ctx context.Context, input *struct{}) (*struct{ Body []db.DatasetInfo }, error) {
	infos, err := h.store.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	if infos == nil {
		infos = []db.DatasetInfo{}
	}
	return &struct{ Body []db.DatasetInfo }{Body: infos}, nil
}

type ImportInput struct {
	DatasetKeyInput
	RawBody []byte `contentType:"application/geo+json" doc:"GeoJSON FeatureCollection"`
}

type ImportBody struct {
	Key      string `json:"key" doc:"Dataset key"`
	Imported int    `json:"imported" doc:"Number of stored features"`
}

func (h *DatasetHandler) ImportDataset(ctx context.Context, input *ImportInput) (*struct{ Body ImportBody }, error) {
	fc, err := geojson.UnmarshalFeatureCollection(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid GeoJSON: " + err.Error())
	}
	n, err := h.store.ImportGeoJSON(ctx, input.Key, fc)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	// The cached copy is stale now; next access refetches.
	h.shell.Cache().Clear(input.Key)
	h.log.Info().Str("dataset", input.Key).Int("features", n).Msg("dataset imported")

	return &struct{ Body ImportBody }{Body: ImportBody{Key: input.Key, Imported: n}}, nil
}

type DatasetInput struct {
	DatasetKeyInput
	BBox string `query:"bbox" doc:"Optional bounding box filter: minLon,minLat,maxLon,maxLat" example:"19.1,59.7,31.6,70.1"`
}

func (h *DatasetHandler) GetDataset(ctx context.Context, input *DatasetInput) (*struct{ Body *geojson.FeatureCollection }, error) {
	if input.BBox != "" {
		bound, err := parseBBox(input.BBox)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid bbox: " + err.Error())
		}
		// A bbox query can legitimately match nothing; an empty
		// collection comes back rather than a 404.
		fc, err := h.store.DatasetBBox(ctx, input.Key, bound)
		if err != nil {
			return nil, huma.Error500InternalServerError(err.Error())
		}
		return &struct{ Body *geojson.FeatureCollection }{Body: fc}, nil
	}

	fc, err := h.store.Dataset(ctx, input.Key)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	if len(fc.Features) == 0 {
		return nil, huma.Error404NotFound("dataset not found: " + input.Key)
	}
	return &struct{ Body *geojson.FeatureCollection }{Body: fc}, nil
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("want 4 comma-separated numbers, got %d", len(parts))
	}
	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("component %d: %w", i+1, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("min exceeds max")
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

type SummaryInput struct {
	DatasetKeyInput
	Property string `query:"property" default:"population_density" doc:"Numeric property to aggregate"`
}

func (h *DatasetHandler) GetSummary(ctx context.Context, input *SummaryInput) (*struct{ Body db.Summary }, error) {
	sum, err := h.store.Summarize(ctx, input.Key, input.Property)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	if sum.Count == 0 {
		return nil, huma.Error404NotFound("no numeric values for " + input.Property)
	}
	return &struct{ Body db.Summary }{Body: sum}, nil
}
