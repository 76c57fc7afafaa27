// Package cache keeps recently parsed QR payloads so a later scan that
// fails to decode can still be resolved by entity id.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"digidex/internal/kv"
	"digidex/internal/logging"
	"digidex/internal/qrcode"
)

const (
	// BucketKey is the single storage key holding every entry.
	BucketKey            = "@digidex/cache/scans"
	DefaultTTL           = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Entry is one cached payload stamped with its insertion time in epoch ms.
type Entry struct {
	Data      qrcode.Payload `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

type bucket map[string]Entry

type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Cache is the scan cache for one workspace. All operations load, mutate
// and persist the whole bucket under a single mutex.
type Cache struct {
	store    kv.Store
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu sync.Mutex

	lifecycle sync.Mutex
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func New(store kv.Store, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:    store,
		ttl:      opts.TTL,
		interval: opts.SweepInterval,
		now:      opts.Now,
		log:      logging.OrNop(opts.Logger).With("component", "scan_cache"),
	}
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) stale(e Entry, now time.Time) bool {
	return now.UnixMilli()-e.Timestamp > c.ttl.Milliseconds()
}

// CacheQRData stores p under its id. Failures are logged and swallowed.
func (c *Cache) CacheQRData(ctx context.Context, p qrcode.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.load(ctx)
	b[p.ID] = Entry{Data: p, Timestamp: c.now().UnixMilli()}
	if err := c.save(ctx, b); err != nil {
		c.log.Warn("cache write failed", "id", p.ID, "error", err)
	}
}

// GetCachedQRData returns the payload cached for id, or nil when it is
// missing or stale. Stale entries are removed.
func (c *Cache) GetCachedQRData(ctx context.Context, id string) (*qrcode.Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.load(ctx)
	entry, ok := b[id]
	if !ok {
		return nil, nil
	}
	if c.stale(entry, c.now()) {
		delete(b, id)
		if err := c.save(ctx, b); err != nil {
			return nil, fmt.Errorf("drop stale cache entry: %w", err)
		}
		return nil, nil
	}
	p := entry.Data
	return &p, nil
}

func (c *Cache) RemoveFromCache(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.load(ctx)
	if _, ok := b[id]; !ok {
		return nil
	}
	delete(b, id)
	return c.save(ctx, b)
}

// ClearExpiredEntries removes every stale entry and reports how many.
func (c *Cache) ClearExpiredEntries(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.load(ctx)
	now := c.now()
	removed := 0
	for id, entry := range b {
		if c.stale(entry, now) {
			delete(b, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := c.save(ctx, b); err != nil {
		return 0, err
	}
	return removed, nil
}

// GetCacheSize counts entries, including stale ones not yet swept.
func (c *Cache) GetCacheSize(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b bucket
	if _, err := kv.GetJSON(ctx, c.store, BucketKey, &b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Start runs ClearExpiredEntries every sweep interval until Stop or ctx
// ends. Calling Start on a running cache is a no-op.
func (c *Cache) Start(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stopCh != nil {
		return
	}
	stop := make(chan struct{})
	c.stopCh = stop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				n, err := c.ClearExpiredEntries(ctx)
				if err != nil {
					c.log.Warn("cache sweep failed", "error", err)
					continue
				}
				if n > 0 {
					c.log.Debug("cache sweep", "removed", n)
				}
			}
		}
	}()
}

// Stop halts the background sweep and waits for it to exit.
func (c *Cache) Stop() {
	c.lifecycle.Lock()
	stop := c.stopCh
	c.stopCh = nil
	c.lifecycle.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	c.wg.Wait()
}

// load never fails: an unreadable bucket is treated as empty so that the
// next write replaces it.
func (c *Cache) load(ctx context.Context) bucket {
	var b bucket
	if _, err := kv.GetJSON(ctx, c.store, BucketKey, &b); err != nil {
		c.log.Warn("cache read failed", "error", err)
		return bucket{}
	}
	if b == nil {
		b = bucket{}
	}
	return b
}

func (c *Cache) save(ctx context.Context, b bucket) error {
	return kv.SetJSON(ctx, c.store, BucketKey, b)
}
