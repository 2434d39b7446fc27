// Package features talks to the external article CRUD API and the
// geocoding search service. The engine only needs each record's id and
// geometry to place markers; the display fields pass through to the
// info panel untouched.
package features

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-atlas/internal/layers"
)

// Record is one article feature as the CRUD API serves it.
type Record struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Author      string            `json:"author,omitempty"`
	Excerpt     string            `json:"excerpt,omitempty"`
	Publication string            `json:"publication,omitempty"`
	Link        string            `json:"link,omitempty"`
	Location    *geojson.Geometry `json:"location,omitempty"`
}

// Marker derives the map-ready marker for the record. Records without a
// usable point geometry return ok=false; polygons collapse to their
// first vertex, matching how the markers layer places them.
func (r Record) Marker() (layers.Marker, bool) {
	if r.Location == nil {
		return layers.Marker{}, false
	}
	switch g := r.Location.Geometry().(type) {
	case orb.Point:
		return layers.Marker{ID: r.ID, At: g}, true
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return layers.Marker{}, false
		}
		return layers.Marker{ID: r.ID, At: g[0][0]}, true
	case orb.MultiPolygon:
		if len(g) == 0 || len(g[0]) == 0 || len(g[0][0]) == 0 {
			return layers.Marker{}, false
		}
		return layers.Marker{ID: r.ID, At: g[0][0][0]}, true
	}
	return layers.Marker{}, false
}

// Client is the article API client.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a Client for the API at base, e.g.
// "https://api.example.org".
func NewClient(base string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// List fetches all article features.
func (c *Client) List(ctx context.Context) ([]Record, error) {
	var body struct {
		Features []Record `json:"features"`
	}
	if err := c.getJSON(ctx, c.base+"/features", &body); err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	return body.Features, nil
}

// Get fetches a single article feature by id.
func (c *Client) Get(ctx context.Context, id int64) (*Record, error) {
	var body struct {
		Feature Record `json:"feature"`
	}
	url := c.base + "/features/" + strconv.FormatInt(id, 10)
	if err := c.getJSON(ctx, url, &body); err != nil {
		return nil, fmt.Errorf("get feature %d: %w", id, err)
	}
	return &body.Feature, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Place is one geocoding search result. The service returns coordinates
// as strings.
type Place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Point parses the place's coordinate pair.
func (p Place) Point() (orb.Point, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("parse lat %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("parse lon %q: %w", p.Lon, err)
	}
	return orb.Point{lon, lat}, nil
}

// Geocoder is the location search client.
type Geocoder struct {
	base string
	http *http.Client
}

// NewGeocoder creates a Geocoder for the search service at base.
func NewGeocoder(base string) *Geocoder {
	return &Geocoder{
		base: base,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// Search resolves a free-text place query. An empty result slice is not
// an error; the caller decides how to report "not found".
func (g *Geocoder) Search(ctx context.Context, query string) ([]Place, error) {
	u := g.base + "/search?format=json&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("geocode %q: unexpected status %d", query, resp.StatusCode)
	}

	var places []Place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	return places, nil
}
