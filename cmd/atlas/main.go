package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-atlas/internal/db"
	"github.com/joeblew999/plat-atlas/internal/geodata"
	"github.com/joeblew999/plat-atlas/internal/layers"
	"github.com/joeblew999/plat-atlas/internal/logging"
	"github.com/joeblew999/plat-atlas/internal/portal"
	"github.com/joeblew999/plat-atlas/internal/selection"
	"github.com/joeblew999/plat-atlas/internal/shell"
	"github.com/joeblew999/plat-atlas/internal/state"
)

// Options defines all CLI flags and env vars for the atlas server.
// Flags: --host, --port, --data-dir, --data-base, --features-base,
// --geocoder-base, --catalog, --log-level, --log-format
type Options struct {
	Host         string  `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int     `doc:"Port to listen on" short:"p" default:"8090"`
	DataDir      string  `doc:"Directory for local data files" default:".data"`
	DataBase     string  `doc:"Base URL for GeoJSON datasets" default:"https://data.maapallo.info"`
	FeaturesBase string  `doc:"Base URL of the article feature API" default:"https://api.maapallo.info"`
	GeocoderBase string  `doc:"Base URL of the geocoding service" default:"https://nominatim.openstreetmap.org"`
	Catalog      string  `doc:"Path to a YAML layer catalog (default: built-in)" default:""`
	HomeLat      float64 `doc:"Initial camera latitude" default:"20"`
	HomeLon      float64 `doc:"Initial camera longitude" default:"0"`
	HomeZoom     float64 `doc:"Initial camera zoom" default:"3"`
	LogLevel     string  `doc:"Log level (debug, info, warn, error)" default:"info"`
	LogFormat    string  `doc:"Log format (console, json)" default:"console"`
}

func newShell(opts *Options) (*shell.Shell, error) {
	catalog := layers.DefaultCatalog()
	if opts.Catalog != "" {
		loaded, err := layers.LoadCatalog(opts.Catalog)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		catalog = loaded
	}
	// Imported datasets back the remote fetch chain when it fails.
	var local geodata.Fetcher
	if opts.DataDir != "" {
		if store, err := db.Open(context.Background(), db.Config{DataDir: opts.DataDir, DBName: "atlas"}); err == nil {
			local = store
		}
	}

	return shell.New(shell.Config{
		Home: state.ViewState{
			Center: orb.Point{opts.HomeLon, opts.HomeLat},
			Zoom:   opts.HomeZoom,
		},
		Catalog:      catalog,
		DataBase:     opts.DataBase,
		Local:        local,
		FeaturesBase: opts.FeaturesBase,
		GeocoderBase: opts.GeocoderBase,
	}, selection.Callbacks{})
}

func initLogging(opts *Options) {
	logging.Init(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat})
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		hooks.OnStart(func() {
			initLogging(opts)
			log := logging.With("main")

			sh, err := newShell(opts)
			if err != nil {
				log.Fatal().Err(err).Msg("shell setup failed")
			}
			srv := portal.New(portal.Config{
				Host:    opts.Host,
				Port:    fmt.Sprintf("%d", opts.Port),
				DataDir: opts.DataDir,
			}, sh)
			defer srv.Close()

			// Article markers are a soft dependency; the map works
			// without them.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if n, err := sh.LoadFeatures(ctx); err != nil {
					log.Warn().Err(err).Msg("feature load failed")
				} else {
					log.Info().Int("markers", n).Msg("article markers placed")
				}
			}()

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			log.Info().
				Str("server", fmt.Sprintf("http://%s:%d", displayHost, opts.Port)).
				Str("docs", fmt.Sprintf("http://%s:%d/docs", displayHost, opts.Port)).
				Msg("atlas server starting")

			if err := http.ListenAndServe(addr, srv); err != nil {
				log.Fatal().Err(err).Msg("server error")
			}
		})
	})

	cli.Root().Use = "atlas"
	cli.Root().Short = "Dual-renderer map portal server"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			initLogging(opts)
			sh, err := newShell(opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			srv := portal.New(portal.Config{
				Host: opts.Host,
				Port: fmt.Sprintf("%d", opts.Port),
			}, sh)
			defer srv.Close()

			useYAML, _ := cmd.Flags().GetBool("yaml")
			var output []byte
			if useYAML {
				output, err = yaml.Marshal(srv.OpenAPI())
			} else {
				output, err = json.MarshalIndent(srv.OpenAPI(), "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// preload subcommand: warm the dataset cache
	preloadCmd := &cobra.Command{
		Use:   "preload",
		Short: "Fetch every catalog dataset once and report failures",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			initLogging(opts)
			sh, err := newShell(opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer sh.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			failed := 0
			for _, res := range sh.Preload(ctx) {
				if res.Err != nil {
					failed++
					fmt.Printf("FAIL %s: %v\n", res.Key, res.Err)
				} else {
					fmt.Printf("ok   %s\n", res.Key)
				}
			}
			if failed > 0 {
				os.Exit(1)
			}
		}),
	}
	cli.Root().AddCommand(preloadCmd)

	// import subcommand: load a GeoJSON file into the local dataset store
	importCmd := &cobra.Command{
		Use:   "import <key> <file.geojson>",
		Short: "Import a GeoJSON file into the local DuckDB dataset store",
		Args:  cobra.ExactArgs(2),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			initLogging(opts)
			key, path := args[0], args[1]

			raw, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
				os.Exit(1)
			}
			fc, err := geojson.UnmarshalFeatureCollection(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing GeoJSON: %v\n", err)
				os.Exit(1)
			}

			ctx := context.Background()
			store, err := db.Open(ctx, db.Config{DataDir: opts.DataDir, DBName: "atlas"})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
				os.Exit(1)
			}
			defer db.Close()

			n, err := store.ImportGeoJSON(ctx, key, fc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Imported %d features into %s\n", n, key)
		}),
	}
	cli.Root().AddCommand(importCmd)

	cli.Run()
}
