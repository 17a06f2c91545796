package buffer

import (
	"testing"

	"github.com/treecore/treecore/pkg/page"
)

func newTestPool(t *testing.T, frames int, policy Policy) (*Pool, *page.Store) {
	t.Helper()
	store, err := page.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return NewPool(store, frames, policy, nil, nil), store
}

func TestCreatePagePinnedAndDirty(t *testing.T) {
	pool, _ := newTestPool(t, 4, LRU)
	pg, err := pool.CreatePage(page.KindData)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	f := pool.frames[pool.pageToFrame[pg.Header.PageID]]
	if f.PinCount != 1 {
		t.Fatalf("PinCount = %d, want 1", f.PinCount)
	}
	if !f.Dirty {
		t.Fatalf("frame not marked dirty after CreatePage")
	}
}

func TestGetPageCacheHitThenMiss(t *testing.T) {
	pool, _ := newTestPool(t, 4, LRU)
	pg, _ := pool.CreatePage(page.KindData)
	pool.UnpinPage(pg.Header.PageID, true)

	if _, err := pool.GetPage(pg.Header.PageID); err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	stats := pool.Stats()
	if stats.CacheHits != 1 {
		t.Fatalf("CacheHits = %d, want 1", stats.CacheHits)
	}

	if _, err := pool.GetPage(999); err != nil {
		t.Fatalf("GetPage(missing): %v", err)
	}
	stats = pool.Stats()
	if stats.CacheMiss != 1 {
		t.Fatalf("CacheMiss = %d, want 1", stats.CacheMiss)
	}
}

func TestUnpinNeverGoesNegative(t *testing.T) {
	pool, _ := newTestPool(t, 4, LRU)
	pg, _ := pool.CreatePage(page.KindData)
	if err := pool.UnpinPage(pg.Header.PageID, false); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}
	if err := pool.UnpinPage(pg.Header.PageID, false); err != nil {
		t.Fatalf("UnpinPage (extra): %v", err)
	}
	f := pool.frames[pool.pageToFrame[pg.Header.PageID]]
	if f.PinCount != 0 {
		t.Fatalf("PinCount = %d, want 0 (never negative)", f.PinCount)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	pool, _ := newTestPool(t, 2, LRU)

	p1, _ := pool.CreatePage(page.KindData)
	pool.UnpinPage(p1.Header.PageID, false)
	p2, _ := pool.CreatePage(page.KindData)
	pool.UnpinPage(p2.Header.PageID, false)

	// touch p1 again so p2 becomes the LRU victim
	if _, err := pool.GetPage(p1.Header.PageID); err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	pool.UnpinPage(p1.Header.PageID, false)

	p3, err := pool.CreatePage(page.KindData)
	if err != nil {
		t.Fatalf("CreatePage (forces eviction): %v", err)
	}
	pool.UnpinPage(p3.Header.PageID, false)

	if _, resident := pool.pageToFrame[p2.Header.PageID]; resident {
		t.Fatalf("expected p2 to be evicted as least-recently-used")
	}
	if _, resident := pool.pageToFrame[p1.Header.PageID]; !resident {
		t.Fatalf("expected p1 to remain resident (touched most recently)")
	}
	if pool.Stats().Evictions != 1 {
		t.Fatalf("Evictions = %d, want 1", pool.Stats().Evictions)
	}
}

func TestFIFOEvictsInsertionOrder(t *testing.T) {
	pool, _ := newTestPool(t, 2, FIFO)

	p1, _ := pool.CreatePage(page.KindData)
	pool.UnpinPage(p1.Header.PageID, false)
	p2, _ := pool.CreatePage(page.KindData)
	pool.UnpinPage(p2.Header.PageID, false)

	// Access p1 again: FIFO does not reorder on access.
	if _, err := pool.GetPage(p1.Header.PageID); err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	pool.UnpinPage(p1.Header.PageID, false)

	p3, _ := pool.CreatePage(page.KindData)
	pool.UnpinPage(p3.Header.PageID, false)

	if _, resident := pool.pageToFrame[p1.Header.PageID]; resident {
		t.Fatalf("expected p1 (first inserted) to be evicted under FIFO despite recent access")
	}
}

func TestEvictionLastResortWhenAllPinned(t *testing.T) {
	pool, _ := newTestPool(t, 1, LRU)
	p1, err := pool.CreatePage(page.KindData)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	// p1 stays pinned (never unpinned): forcing the next create to hit
	// the last-resort eviction path instead of deadlocking.
	_, err = pool.CreatePage(page.KindData)
	if err != nil {
		t.Fatalf("CreatePage under all-pinned pool returned error, want last-resort eviction: %v", err)
	}
	_ = p1
}

func TestFlushAllIsIdempotent(t *testing.T) {
	pool, _ := newTestPool(t, 4, LRU)
	p1, _ := pool.CreatePage(page.KindData)
	p1.AddRecord(page.Record{"n": float64(1)})
	pool.UnpinPage(p1.Header.PageID, true)

	n, err := pool.FlushAll()
	if err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("FlushAll wrote %d pages, want 1", n)
	}

	n2, err := pool.FlushAll()
	if err != nil {
		t.Fatalf("FlushAll (2nd): %v", err)
	}
	if n2 != 0 {
		t.Fatalf("FlushAll (2nd) wrote %d pages, want 0 (idempotent)", n2)
	}
}

func TestHitRate(t *testing.T) {
	pool, _ := newTestPool(t, 4, LRU)
	pg, _ := pool.CreatePage(page.KindData)
	pool.UnpinPage(pg.Header.PageID, false)

	pool.GetPage(pg.Header.PageID)
	pool.GetPage(9999)

	stats := pool.Stats()
	if got := stats.HitRate(); got != 0.5 {
		t.Fatalf("HitRate = %v, want 0.5", got)
	}
}

func TestClockEviction(t *testing.T) {
	pool, _ := newTestPool(t, 2, CLOCK)
	p1, _ := pool.CreatePage(page.KindData)
	pool.UnpinPage(p1.Header.PageID, false)
	p2, _ := pool.CreatePage(page.KindData)
	pool.UnpinPage(p2.Header.PageID, false)

	p3, err := pool.CreatePage(page.KindData)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	pool.UnpinPage(p3.Header.PageID, false)

	if len(pool.pageToFrame) != 2 {
		t.Fatalf("resident pages = %d, want 2 (pool has 2 frames)", len(pool.pageToFrame))
	}
}
