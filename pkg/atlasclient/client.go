// Package atlasclient is a small Go client for the plat-atlas REST API.
package atlasclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Client talks to a running atlas server.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server at base, e.g. "http://localhost:8090".
func New(base string) *Client {
	return &Client{base: base, http: &http.Client{Timeout: 30 * time.Second}}
}

// Health is the /health response body.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ViewState mirrors the server's camera pose.
type ViewState struct {
	Center   [2]float64 `json:"center"`
	Zoom     float64    `json:"zoom"`
	Rotation float64    `json:"rotation"`
}

// LayerStatus mirrors one row of the layer list.
type LayerStatus struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Visible bool   `json:"visible"`
	Phase   string `json:"phase"`
}

// Snapshot mirrors the full shared-state tree.
type Snapshot struct {
	View       ViewState       `json:"view"`
	RenderMode string          `json:"renderMode"`
	BaseMap    string          `json:"baseMap"`
	Layers     map[string]bool `json:"layers"`
	Selection  *int64          `json:"selection"`
}

// SearchResult is the /api/v1/search response body.
type SearchResult struct {
	DisplayName string    `json:"display_name"`
	View        ViewState `json:"view"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) State(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	err := c.do(ctx, http.MethodGet, "/api/v1/state", nil, &out)
	return out, err
}

func (c *Client) Layers(ctx context.Context) ([]LayerStatus, error) {
	var out []LayerStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/layers", nil, &out)
	return out, err
}

func (c *Client) SetLayerVisibility(ctx context.Context, id string, visible bool) error {
	return c.do(ctx, http.MethodPut, "/api/v1/layers/"+id+"/visibility",
		map[string]any{"visible": visible}, nil)
}

func (c *Client) View(ctx context.Context) (ViewState, error) {
	var out ViewState
	err := c.do(ctx, http.MethodGet, "/api/v1/view", nil, &out)
	return out, err
}

func (c *Client) FlyTo(ctx context.Context, lat, lon, zoom float64) (ViewState, error) {
	var out ViewState
	err := c.do(ctx, http.MethodPost, "/api/v1/view/flyto",
		map[string]any{"lat": lat, "lon": lon, "zoom": zoom}, &out)
	return out, err
}

func (c *Client) SetMode(ctx context.Context, mode string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/mode", map[string]any{"mode": mode}, nil)
}

func (c *Client) Select(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPut, "/api/v1/selection", map[string]any{"id": id}, nil)
}

func (c *Client) ClearSelection(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/api/v1/selection", map[string]any{"id": nil}, nil)
}

func (c *Client) Search(ctx context.Context, query string) (SearchResult, error) {
	var out SearchResult
	err := c.do(ctx, http.MethodPost, "/api/v1/search", map[string]any{"query": query}, &out)
	return out, err
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
