package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"digidex/internal/kv"
	"digidex/internal/qrcode"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T) (*Cache, *fakeClock, *kv.MemoryStore) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := kv.NewMemoryStore()
	return New(store, Options{Now: clock.Now}), clock, store
}

func payload(id string) qrcode.Payload {
	return qrcode.Payload{Type: qrcode.TypeProfile, ID: id}
}

func TestCacheTTLBoundary(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t)
	c.CacheQRData(ctx, payload("user-7"))

	clock.Advance(DefaultTTL - time.Millisecond)
	got, err := c.GetCachedQRData(ctx, "user-7")
	if err != nil || got == nil || got.ID != "user-7" {
		t.Fatalf("entry should be live just before TTL: %+v %v", got, err)
	}

	clock.Advance(time.Millisecond)
	if got, _ := c.GetCachedQRData(ctx, "user-7"); got == nil {
		t.Fatalf("entry at exactly TTL should still be live")
	}

	clock.Advance(time.Millisecond)
	got, err = c.GetCachedQRData(ctx, "user-7")
	if err != nil || got != nil {
		t.Fatalf("entry should be gone after TTL: %+v %v", got, err)
	}
	if n, _ := c.GetCacheSize(ctx); n != 0 {
		t.Fatalf("stale entry should be removed on touch, size=%d", n)
	}
}

func TestCacheMissAndUpsert(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t)
	if got, err := c.GetCachedQRData(ctx, "nobody"); got != nil || err != nil {
		t.Fatalf("miss = %+v %v", got, err)
	}
	c.CacheQRData(ctx, payload("a"))
	clock.Advance(DefaultTTL)
	updated := payload("a")
	updated.Name = "refreshed"
	c.CacheQRData(ctx, updated)
	clock.Advance(time.Hour)
	got, _ := c.GetCachedQRData(ctx, "a")
	if got == nil || got.Name != "refreshed" {
		t.Fatalf("upsert should refresh data and timestamp: %+v", got)
	}
	if err := c.RemoveFromCache(ctx, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got, _ := c.GetCachedQRData(ctx, "a"); got != nil {
		t.Fatalf("removed entry still present")
	}
}

func TestClearExpiredEntries(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t)
	c.CacheQRData(ctx, payload("old-1"))
	c.CacheQRData(ctx, payload("old-2"))
	clock.Advance(20 * time.Hour)
	c.CacheQRData(ctx, payload("fresh"))
	clock.Advance(5 * time.Hour)

	if n, _ := c.GetCacheSize(ctx); n != 3 {
		t.Fatalf("size before sweep = %d, want 3 (stale entries counted)", n)
	}
	removed, err := c.ClearExpiredEntries(ctx)
	if err != nil || removed != 2 {
		t.Fatalf("sweep removed %d err %v", removed, err)
	}
	if n, _ := c.GetCacheSize(ctx); n != 1 {
		t.Fatalf("size after sweep = %d", n)
	}
}

func TestCorruptBucketIsReplaced(t *testing.T) {
	ctx := context.Background()
	c, _, store := newTestCache(t)
	_ = store.SetItem(ctx, BucketKey, "{corrupt")
	if got, err := c.GetCachedQRData(ctx, "x"); got != nil || err != nil {
		t.Fatalf("corrupt bucket should read as empty: %+v %v", got, err)
	}
	c.CacheQRData(ctx, payload("x"))
	if got, _ := c.GetCachedQRData(ctx, "x"); got == nil {
		t.Fatalf("write after corruption should succeed")
	}
}

type failingStore struct{ *kv.MemoryStore }

func (f *failingStore) SetItem(context.Context, string, string) error {
	return errors.New("disk unavailable")
}

func TestCacheWriteFailureIsSwallowed(t *testing.T) {
	c := New(&failingStore{MemoryStore: kv.NewMemoryStore()}, Options{})
	c.CacheQRData(context.Background(), payload("x"))
	if got, _ := c.GetCachedQRData(context.Background(), "x"); got != nil {
		t.Fatalf("nothing should have been persisted")
	}
}

func TestBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(kv.NewMemoryStore(), Options{Now: clock.Now, SweepInterval: 5 * time.Millisecond})
	c.CacheQRData(ctx, payload("stale"))
	clock.Advance(DefaultTTL + time.Second)

	c.Start(ctx)
	c.Start(ctx)
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := c.GetCacheSize(ctx); n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("background sweep did not remove the stale entry")
}
