package geodata

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func testCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{24.94, 60.17}))
	return fc
}

type countingFetcher struct {
	calls int32
	gate  chan struct{} // when set, Fetch blocks until closed
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return testCollection(), nil
}

func (f *countingFetcher) count() int32 {
	return atomic.LoadInt32(&f.calls)
}

func TestGetCoalescesConcurrentCallers(t *testing.T) {
	fetcher := &countingFetcher{gate: make(chan struct{})}
	cache := NewCache(fetcher)

	const n = 8
	results := make([]*geojson.FeatureCollection, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fc, err := cache.Get(context.Background(), "world.geojson")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = fc
		}(i)
	}
	close(fetcher.gate)
	wg.Wait()

	if got := fetcher.count(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different collection", i)
		}
	}
}

func TestLateCallerUsesCachePopulatedDuringEntry(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher)

	// A sibling caller completes its whole fetch while this caller sits
	// between the cache check and the flight group; the flight must then
	// serve the cached collection instead of fetching again.
	primed := false
	cache.missHook = func() {
		if primed {
			return
		}
		primed = true
		if _, err := cache.Get(context.Background(), "world.geojson"); err != nil {
			t.Error(err)
		}
	}

	if _, err := cache.Get(context.Background(), "world.geojson"); err != nil {
		t.Fatal(err)
	}
	if got := fetcher.count(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
}

func TestGetReturnsCachedWithoutRefetch(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher)

	first, err := cache.Get(context.Background(), "world.geojson")
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.Get(context.Background(), "world.geojson")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("second Get returned a different collection")
	}
	if got := fetcher.count(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
}

func TestClearTriggersExactlyOneRefetch(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher)

	if _, err := cache.Get(context.Background(), "world.geojson"); err != nil {
		t.Fatal(err)
	}
	cache.Clear("world.geojson")
	if _, err := cache.Get(context.Background(), "world.geojson"); err != nil {
		t.Fatal(err)
	}
	if got := fetcher.count(); got != 2 {
		t.Fatalf("fetch calls = %d, want 2", got)
	}
}

func TestFetchErrorPropagatesToAllWaiters(t *testing.T) {
	wantErr := errors.New("boom")
	fetcher := &countingFetcher{gate: make(chan struct{}), err: wantErr}
	cache := NewCache(fetcher)

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Get(context.Background(), "currents.geojson")
		}(i)
	}
	close(fetcher.gate)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Fatalf("waiter %d: err = %v, want %v", i, err, wantErr)
		}
	}
	if cache.Len() != 0 {
		t.Fatal("failed fetch must not cache a value")
	}
}

func TestClearedInFlightDoesNotRepopulate(t *testing.T) {
	fetcher := &countingFetcher{gate: make(chan struct{})}
	cache := NewCache(fetcher)

	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(context.Background(), "forests.geojson")
		done <- err
	}()

	// Wait for the fetch to start, then clear while it is in flight.
	for fetcher.count() == 0 {
		runtime.Gosched()
	}
	cache.Clear("forests.geojson")
	close(fetcher.gate)

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 0 {
		t.Fatal("cleared in-flight fetch repopulated the cache")
	}

	if _, err := cache.Get(context.Background(), "forests.geojson"); err != nil {
		t.Fatal(err)
	}
	if got := fetcher.count(); got != 2 {
		t.Fatalf("fetch calls = %d, want 2", got)
	}
}

func TestPreloadReportsEachOutcome(t *testing.T) {
	wantErr := errors.New("unreachable")
	fetcher := FetcherFunc(func(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
		if key == "bad.geojson" {
			return nil, wantErr
		}
		return testCollection(), nil
	})
	cache := NewCache(fetcher)

	results := cache.Preload(context.Background(), []string{"a.geojson", "bad.geojson", "b.geojson"})
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, r := range results {
		switch r.Key {
		case "bad.geojson":
			if !errors.Is(r.Err, wantErr) {
				t.Fatalf("bad.geojson err = %v, want %v", r.Err, wantErr)
			}
		default:
			if r.Err != nil {
				t.Fatalf("%s err = %v, want nil", r.Key, r.Err)
			}
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("cached = %d, want 2", cache.Len())
	}
}
