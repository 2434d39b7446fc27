package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	conn    *sql.DB
	once    sync.Once
	openErr error
)

// Config locates the on-disk database.
type Config struct {
	DataDir string
	DBName  string
}

// Store persists imported GeoJSON datasets. It doubles as a local
// fallback source when the remote dataset host is unreachable.
type Store struct {
	db *sql.DB
}

// Open returns a dataset store over the process-wide DuckDB connection,
// creating the database file and schema on first use.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	once.Do(func() {
		dir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(dir, 0755); err != nil {
			openErr = fmt.Errorf("create duckdb directory: %w", err)
			return
		}
		conn, openErr = sql.Open("duckdb", filepath.Join(dir, cfg.DBName+".duckdb"))
		if openErr != nil {
			return
		}
		// Extensions may already be installed; a load failure surfaces
		// on the first query needing it.
		for _, ext := range []string{"spatial", "json"} {
			conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext))
		}
	})
	if openErr != nil {
		return nil, openErr
	}
	s := &Store{db: conn}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the process-wide connection.
func Close() error {
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dataset_features (
			dataset    VARCHAR NOT NULL,
			feature_id BIGINT,
			properties JSON,
			geometry   JSON NOT NULL,
			minx DOUBLE, miny DOUBLE, maxx DOUBLE, maxy DOUBLE
		)`)
	if err != nil {
		return fmt.Errorf("create dataset table: %w", err)
	}
	return nil
}

// ImportGeoJSON replaces the named dataset with the collection's
// features. Features without geometry are skipped. Returns the number
// of imported features.
func (s *Store) ImportGeoJSON(ctx context.Context, key string, fc *geojson.FeatureCollection) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_features WHERE dataset = ?`, key); err != nil {
		return 0, fmt.Errorf("clear dataset %q: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dataset_features
			(dataset, feature_id, properties, geometry, minx, miny, maxx, maxy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		props, err := json.Marshal(f.Properties)
		if err != nil {
			return 0, fmt.Errorf("marshal properties: %w", err)
		}
		geom, err := json.Marshal(geojson.NewGeometry(f.Geometry))
		if err != nil {
			return 0, fmt.Errorf("marshal geometry: %w", err)
		}
		b := f.Geometry.Bound()
		var fid any
		if id, ok := featureID(f); ok {
			fid = id
		}
		if _, err := stmt.ExecContext(ctx, key, fid, string(props), string(geom),
			b.Min[0], b.Min[1], b.Max[0], b.Max[1]); err != nil {
			return 0, fmt.Errorf("insert feature: %w", err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func featureID(f *geojson.Feature) (int64, bool) {
	switch v := f.ID.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Dataset loads a full dataset back as a feature collection.
func (s *Store) Dataset(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	return s.query(ctx,
		`SELECT feature_id, properties, geometry FROM dataset_features WHERE dataset = ?`, key)
}

// DatasetBBox loads the subset of a dataset intersecting bound.
func (s *Store) DatasetBBox(ctx context.Context, key string, bound orb.Bound) (*geojson.FeatureCollection, error) {
	return s.query(ctx, `
		SELECT feature_id, properties, geometry FROM dataset_features
		WHERE dataset = ?
		  AND NOT (maxx < ? OR minx > ? OR maxy < ? OR miny > ?)`,
		key, bound.Min[0], bound.Max[0], bound.Min[1], bound.Max[1])
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*geojson.FeatureCollection, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		var (
			fid   sql.NullInt64
			props sql.NullString
			geom  string
		)
		if err := rows.Scan(&fid, &props, &geom); err != nil {
			return nil, err
		}
		var g geojson.Geometry
		if err := json.Unmarshal([]byte(geom), &g); err != nil {
			return nil, fmt.Errorf("decode geometry: %w", err)
		}
		f := geojson.NewFeature(g.Geometry())
		if fid.Valid {
			f.ID = fid.Int64
		}
		if props.Valid && props.String != "" {
			if err := json.Unmarshal([]byte(props.String), &f.Properties); err != nil {
				return nil, fmt.Errorf("decode properties: %w", err)
			}
		}
		fc.Append(f)
	}
	return fc, rows.Err()
}

// Fetch looks a dataset up by key, satisfying the dataset-cache fetcher
// contract so the store can serve as a local source. An empty dataset is
// treated as missing.
func (s *Store) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	fc, err := s.Dataset(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("dataset %q not found", key)
	}
	return fc, nil
}

// DatasetInfo describes one stored dataset.
type DatasetInfo struct {
	Key      string `json:"key"`
	Features int    `json:"features"`
}

// List enumerates stored datasets with feature counts.
func (s *Store) List(ctx context.Context) ([]DatasetInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset, count(*) FROM dataset_features
		GROUP BY dataset ORDER BY dataset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DatasetInfo
	for rows.Next() {
		var info DatasetInfo
		if err := rows.Scan(&info.Key, &info.Features); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Summary aggregates a numeric property across a dataset's features.
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// Summarize computes min/max/mean/median of a numeric property, skipping
// features where it is absent or non-numeric.
func (s *Store) Summarize(ctx context.Context, key, property string) (Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH vals AS (
			SELECT TRY_CAST(json_extract_string(properties, '$.'||?) AS DOUBLE) AS v
			FROM dataset_features WHERE dataset = ?
		)
		SELECT count(v), coalesce(min(v), 0), coalesce(max(v), 0),
		       coalesce(avg(v), 0), coalesce(median(v), 0)
		FROM vals WHERE v IS NOT NULL`, property, key)

	var sum Summary
	if err := row.Scan(&sum.Count, &sum.Min, &sum.Max, &sum.Mean, &sum.Median); err != nil {
		return Summary{}, fmt.Errorf("summarize %q.%s: %w", key, property, err)
	}
	return sum, nil
}
