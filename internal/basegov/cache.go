package basegov

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/contrap/basegov-etl/internal/etl"
)

// CachingFetcher wraps a fetcher with an on-disk JSON cache. Year-level
// responses from BASE.gov run to tens of megabytes and take minutes to
// produce, so re-runs within the TTL read from disk instead.
type CachingFetcher struct {
	inner etl.Fetcher
	dir   string
	ttl   time.Duration
}

func NewCachingFetcher(inner etl.Fetcher, dir string, ttl time.Duration) *CachingFetcher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachingFetcher{inner: inner, dir: dir, ttl: ttl}
}

func (f *CachingFetcher) FetchByYear(ctx context.Context, dataType etl.DataType, year int) ([]etl.Record, error) {
	path := f.cachePath(dataType, year)

	if records, ok := f.load(path); ok {
		log.Printf("cache hit: %s", path)
		return records, nil
	}

	records, err := f.inner.FetchByYear(ctx, dataType, year)
	if err != nil {
		return nil, err
	}
	if err := f.save(path, records); err != nil {
		log.Printf("cache write %s: %v", path, err)
	}
	return records, nil
}

func (f *CachingFetcher) cachePath(dataType etl.DataType, year int) string {
	return cachePath(f.dir, dataType, year)
}

func cachePath(dir string, dataType etl.DataType, year int) string {
	return filepath.Join(dir, "raw", string(dataType), fmt.Sprintf("%s_%d.json", dataType, year))
}

// OfflineFetcher serves previously cached responses only, regardless of
// their age, and never touches the network. A missing cache file is an
// error: there is nothing to fall back to.
type OfflineFetcher struct {
	dir string
}

func NewOfflineFetcher(dir string) *OfflineFetcher {
	return &OfflineFetcher{dir: dir}
}

func (f *OfflineFetcher) FetchByYear(ctx context.Context, dataType etl.DataType, year int) ([]etl.Record, error) {
	path := cachePath(f.dir, dataType, year)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no cached data for %s %d: %w", dataType, year, err)
	}
	var records []etl.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("corrupt cache file %s: %w", path, err)
	}
	return records, nil
}

func (f *CachingFetcher) load(path string) ([]etl.Record, bool) {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) > f.ttl {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var records []etl.Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.Printf("cache corrupt, refetching: %s: %v", path, err)
		return nil, false
	}
	return records, true
}

func (f *CachingFetcher) save(path string, records []etl.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
