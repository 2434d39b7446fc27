// Package portal is the HTTP surface of the map engine: a Huma REST API
// for state mutations, a Datastar SSE stream pushing state and frame
// updates, and optional dataset admin endpoints backed by DuckDB.
package portal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/db"
	"github.com/joeblew999/plat-atlas/internal/logging"
	"github.com/joeblew999/plat-atlas/internal/shell"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
}

// Server is the atlas HTTP server.
type Server struct {
	config  Config
	mux     *http.ServeMux
	humaAPI huma.API
	shell   *shell.Shell
	store   *db.Store
	log     zerolog.Logger
}

// New creates a server around an already-composed shell.
func New(cfg Config, sh *shell.Shell) *Server {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("plat-atlas API", "1.0.0")
	humaConfig.Info.Description = "Dual-renderer map portal: shared map state, thematic layers, measuring and selection."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humago.New(mux, humaConfig),
		shell:   sh,
		log:     logging.With("portal"),
	}

	if cfg.DataDir != "" {
		store, err := db.Open(context.Background(), db.Config{DataDir: cfg.DataDir, DBName: "atlas"})
		if err != nil {
			s.log.Warn().Err(err).Msg("dataset store unavailable")
		} else {
			s.store = store
		}
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated spec.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Close releases server resources.
func (s *Server) Close() error {
	if err := s.shell.Close(); err != nil {
		return err
	}
	if s.store != nil {
		return db.Close()
	}
	return nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/viewer", s.handleViewer)

	h := &APIHandler{shell: s.shell, log: s.log}
	h.RegisterHealth(s.humaAPI)
	h.RegisterState(s.humaAPI)
	h.RegisterLayers(s.humaAPI)
	h.RegisterView(s.humaAPI)
	h.RegisterSelection(s.humaAPI)
	h.RegisterMeasure(s.humaAPI)
	h.RegisterPointer(s.humaAPI)
	h.RegisterSearch(s.humaAPI)
	h.RegisterFeatures(s.humaAPI)
	h.RegisterFrame(s.humaAPI)

	eh := &EventHandler{shell: s.shell}
	eh.RegisterRoutes(s.humaAPI)

	if s.store != nil {
		dh := &DatasetHandler{store: s.store, shell: s.shell, log: s.log}
		dh.RegisterRoutes(s.humaAPI)
	}
}
