package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vmihailenco/msgpack/v5"

	"equity_valuation/pkg/core/dataset"
)

// DatasetCache caches fetched datasets by ticker.
// Supports Hybrid Vault: DB (Primary) + File System (Fallback/Local)
type DatasetCache struct {
	pool    *pgxpool.Pool
	fileDir string
	ttl     time.Duration
	now     func() time.Time
}

// NewDatasetCache creates a new dataset cache instance.
// If pool is nil, it falls back to msgpack files in dir. A ttl of zero never expires entries.
func NewDatasetCache(pool *pgxpool.Pool, dir string, ttl time.Duration) (*DatasetCache, error) {
	if pool == nil && dir == "" {
		dir = filepath.Join(".cache", "datasets")
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}
	return &DatasetCache{pool: pool, fileDir: dir, ttl: ttl, now: time.Now}, nil
}

// CacheEntry is the on-disk form of a cached dataset.
type CacheEntry struct {
	Ticker   string           `msgpack:"ticker"`
	Snapshot dataset.Snapshot `msgpack:"snapshot"`
	CachedAt time.Time        `msgpack:"cached_at"`
}

// Get returns the cached dataset for ticker. A miss (absent or expired) is (nil, false, nil).
func (c *DatasetCache) Get(ctx context.Context, ticker string) (*dataset.Dataset, bool, error) {
	ticker = dataset.NormalizeTicker(ticker)

	// 1. Try DB
	if c.pool != nil {
		var raw []byte
		var cachedAt time.Time
		err := c.pool.QueryRow(ctx, `SELECT snapshot, cached_at FROM dataset_cache WHERE ticker = $1`, ticker).
			Scan(&raw, &cachedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to query db cache: %w", err)
		}
		if c.expired(cachedAt) {
			return nil, false, nil
		}
		var snap dataset.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal db cached data: %w", err)
		}
		return dataset.FromSnapshot(snap), true, nil
	}

	// 2. Try File System
	entry, err := c.loadEntry(c.path(ticker))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if c.expired(entry.CachedAt) {
		return nil, false, nil
	}
	return dataset.FromSnapshot(entry.Snapshot), true, nil
}

// Put stores ds, replacing any previous entry for its ticker.
func (c *DatasetCache) Put(ctx context.Context, ds *dataset.Dataset) error {
	snap := ds.Snapshot()
	cachedAt := c.now().UTC()

	if c.pool != nil {
		raw, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		_, err = c.pool.Exec(ctx, `
			INSERT INTO dataset_cache (ticker, snapshot, cached_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (ticker)
			DO UPDATE SET snapshot = EXCLUDED.snapshot, cached_at = EXCLUDED.cached_at
		`, snap.Ticker, raw, cachedAt)
		if err != nil {
			return fmt.Errorf("failed to save to db cache: %w", err)
		}
		return nil
	}

	b, err := msgpack.Marshal(&CacheEntry{Ticker: snap.Ticker, Snapshot: snap, CachedAt: cachedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	// Write then rename so concurrent readers never see a partial file
	path := c.path(snap.Ticker)
	tmp, err := os.CreateTemp(c.fileDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to save to file cache: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save to file cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save to file cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save to file cache: %w", err)
	}
	return nil
}

// Internal File Helpers

func (c *DatasetCache) expired(cachedAt time.Time) bool {
	return c.ttl > 0 && c.now().Sub(cachedAt) > c.ttl
}

func (c *DatasetCache) path(ticker string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(ticker)
	return filepath.Join(c.fileDir, safe+".msgpack")
}

func (c *DatasetCache) loadEntry(path string) (*CacheEntry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry CacheEntry
	if err := msgpack.Unmarshal(b, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache file %s: %w", filepath.Base(path), err)
	}
	return &entry, nil
}
