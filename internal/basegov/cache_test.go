package basegov

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/contrap/basegov-etl/internal/etl"
)

type countingFetcher struct {
	calls   int
	records []etl.Record
}

func (f *countingFetcher) FetchByYear(ctx context.Context, dt etl.DataType, year int) ([]etl.Record, error) {
	f.calls++
	return f.records, nil
}

func TestCachingFetcherHitWithinTTL(t *testing.T) {
	inner := &countingFetcher{records: []etl.Record{{"idContrato": "C-1"}}}
	cache := NewCachingFetcher(inner, t.TempDir(), time.Hour)

	ctx := context.Background()
	first, err := cache.FetchByYear(ctx, etl.DataTypeContracts, 2024)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := cache.FetchByYear(ctx, etl.DataTypeContracts, 2024)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", inner.calls)
	}
	if len(first) != 1 || len(second) != 1 || second[0]["idContrato"] != "C-1" {
		t.Errorf("cached payload differs: %v vs %v", first, second)
	}
}

func TestCachingFetcherMissesAcrossKeys(t *testing.T) {
	inner := &countingFetcher{records: []etl.Record{{"x": "y"}}}
	cache := NewCachingFetcher(inner, t.TempDir(), time.Hour)

	ctx := context.Background()
	cache.FetchByYear(ctx, etl.DataTypeContracts, 2023)
	cache.FetchByYear(ctx, etl.DataTypeContracts, 2024)
	cache.FetchByYear(ctx, etl.DataTypeAnnouncements, 2024)

	if inner.calls != 3 {
		t.Errorf("upstream calls = %d, want 3", inner.calls)
	}
}

func TestOfflineFetcher(t *testing.T) {
	dir := t.TempDir()
	inner := &countingFetcher{records: []etl.Record{{"idContrato": "C-1"}}}
	cache := NewCachingFetcher(inner, dir, time.Hour)

	ctx := context.Background()
	if _, err := cache.FetchByYear(ctx, etl.DataTypeContracts, 2024); err != nil {
		t.Fatal(err)
	}

	offline := NewOfflineFetcher(dir)
	records, err := offline.FetchByYear(ctx, etl.DataTypeContracts, 2024)
	if err != nil {
		t.Fatalf("cached year should be served: %v", err)
	}
	if len(records) != 1 || records[0]["idContrato"] != "C-1" {
		t.Errorf("records = %v", records)
	}
	if inner.calls != 1 {
		t.Errorf("offline fetch hit upstream: %d calls", inner.calls)
	}

	if _, err := offline.FetchByYear(ctx, etl.DataTypeContracts, 1999); err == nil {
		t.Error("uncached year must error in offline mode")
	}
}

func TestCachingFetcherExpiredEntryRefetches(t *testing.T) {
	dir := t.TempDir()
	inner := &countingFetcher{records: []etl.Record{{"x": "y"}}}
	cache := NewCachingFetcher(inner, dir, time.Minute)

	ctx := context.Background()
	if _, err := cache.FetchByYear(ctx, etl.DataTypeContracts, 2024); err != nil {
		t.Fatal(err)
	}

	// Age the cache file past the TTL.
	path := cache.cachePath(etl.DataTypeContracts, 2024)
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.FetchByYear(ctx, etl.DataTypeContracts, 2024); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", inner.calls)
	}
}
