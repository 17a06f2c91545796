// Package buffer implements a fixed-frame buffer pool caching pages
// from a page.Store, with pluggable LRU/FIFO/CLOCK eviction and
// pin/dirty bookkeeping.
package buffer

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/treecore/treecore/internal/logger"
	"github.com/treecore/treecore/internal/metrics"
	"github.com/treecore/treecore/pkg/page"
)

// Policy selects which eviction algorithm a Pool uses.
type Policy int

const (
	LRU Policy = iota
	FIFO
	CLOCK
)

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "lru", "LRU", "":
		return LRU, nil
	case "fifo", "FIFO":
		return FIFO, nil
	case "clock", "CLOCK":
		return CLOCK, nil
	default:
		return LRU, fmt.Errorf("unknown eviction policy: %q", s)
	}
}

// Frame is one slot in the buffer pool.
type Frame struct {
	Index        int
	PageID       page.ID
	Page         *page.Page
	Dirty        bool
	PinCount     int
	LastAccess   time.Time
	AccessCount  int
	ReferenceBit bool
}

func (f *Frame) empty() bool { return f.PageID == page.NoID }

func (f *Frame) reset() {
	f.PageID = page.NoID
	f.Page = nil
	f.Dirty = false
	f.PinCount = 0
	f.AccessCount = 0
	f.ReferenceBit = false
}

// Stats reports the buffer pool's running counters.
type Stats struct {
	CacheHits  int64
	CacheMiss  int64
	PageReads  int64
	PageWrites int64
	Evictions  int64
}

// HitRate returns hits / (hits + misses), or 0 if there have been no
// accesses yet.
func (s Stats) HitRate() float64 {
	total := s.CacheHits + s.CacheMiss
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Pool is a fixed-size set of frames caching pages from a page.Store.
// All public operations are protected by a single sync.Mutex, which is
// not reentrant: every method except PinPage takes the lock for its
// full duration (PinPage takes it once inside GetPage and again for its
// extra pin), matching the reference design's choice to hold the lock
// across page-store I/O (spec.md §5 permits this for a single-writer
// store).
type Pool struct {
	mu     sync.Mutex
	store  *page.Store
	policy Policy
	log    *logger.Logger
	mtr    *metrics.Metrics

	frames      []*Frame
	pageToFrame map[page.ID]int
	freeFrames  []int

	lruList *list.List
	lruElem map[page.ID]*list.Element

	fifoQueue []int // frame indices, oldest first

	clockHand int

	stats Stats
}

// NewPool constructs a Pool with n frames backed by store.
func NewPool(store *page.Store, n int, policy Policy, log *logger.Logger, mtr *metrics.Metrics) *Pool {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	frames := make([]*Frame, n)
	free := make([]int, n)
	for i := range frames {
		frames[i] = &Frame{Index: i, PageID: page.NoID}
		free[i] = i
	}
	return &Pool{
		store:       store,
		policy:      policy,
		log:         log.BufferLogger(),
		mtr:         mtr,
		frames:      frames,
		pageToFrame: make(map[page.ID]int),
		freeFrames:  free,
		lruList:     list.New(),
		lruElem:     make(map[page.ID]*list.Element),
	}
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pool) recordAccess(f *Frame) {
	f.LastAccess = time.Now()
	f.AccessCount++
	f.ReferenceBit = true
	if p.policy == LRU {
		p.touchLRU(f.PageID)
	}
}

func (p *Pool) touchLRU(id page.ID) {
	if el, ok := p.lruElem[id]; ok {
		p.lruList.MoveToBack(el)
		return
	}
	p.lruElem[id] = p.lruList.PushBack(id)
}

func (p *Pool) dropLRU(id page.ID) {
	if el, ok := p.lruElem[id]; ok {
		p.lruList.Remove(el)
		delete(p.lruElem, id)
	}
}

// GetPage returns the page for id, pinning it. If not resident it is
// loaded from the page store (evicting a frame if none are free). A
// page the store cannot supply, whether absent or unreadable, yields
// (nil, nil).
func (p *Pool) GetPage(id page.ID) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageToFrame[id]; ok {
		f := p.frames[idx]
		f.PinCount++
		p.recordAccess(f)
		p.stats.CacheHits++
		if p.mtr != nil {
			p.mtr.RecordBufferAccess(true)
			p.mtr.SetBufferHitRate(p.stats.HitRate())
		}
		return f.Page, nil
	}

	p.stats.CacheMiss++
	if p.mtr != nil {
		p.mtr.RecordBufferAccess(false)
		p.mtr.SetBufferHitRate(p.stats.HitRate())
	}

	pg, err := p.store.LoadPage(id)
	if err != nil {
		p.log.Error("page load failed; treating as not resident").Uint32("page_id", uint32(id)).Err(err).Send()
		return nil, nil
	}
	if pg == nil {
		return nil, nil
	}
	p.stats.PageReads++
	if p.mtr != nil {
		p.mtr.BufferPageReadsTotal.Inc()
	}

	idx, err := p.allocateFrame()
	if err != nil {
		return nil, err
	}
	f := p.frames[idx]
	f.PageID = id
	f.Page = pg
	f.Dirty = false
	f.PinCount = 1
	p.pageToFrame[id] = idx
	p.recordAccess(f)
	if p.policy == FIFO {
		p.fifoQueue = append(p.fifoQueue, idx)
	}
	return pg, nil
}

// PinPage is GetPage plus an explicit extra pin, for callers that want
// to declare intent separately from the implicit pin a first access
// performs.
func (p *Pool) PinPage(id page.ID) (*page.Page, error) {
	pg, err := p.GetPage(id)
	if err != nil || pg == nil {
		return pg, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.pageToFrame[id]; ok {
		p.frames[idx].PinCount++
	}
	return pg, nil
}

// UnpinPage decrements a page's pin count (never below zero) and,
// if isDirty, sets the frame's dirty flag (sticky until written back).
func (p *Pool) UnpinPage(id page.ID, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageToFrame[id]
	if !ok {
		return fmt.Errorf("unpin: page %d not resident", id)
	}
	f := p.frames[idx]
	if f.PinCount > 0 {
		f.PinCount--
	}
	if isDirty {
		f.Dirty = true
	}
	return nil
}

// FlushPage writes a resident page back to the page store if dirty.
func (p *Pool) FlushPage(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageToFrame[id]
	if !ok {
		return nil
	}
	return p.flushFrameLocked(p.frames[idx])
}

func (p *Pool) flushFrameLocked(f *Frame) error {
	if !f.Dirty {
		return nil
	}
	if err := p.store.SavePage(f.Page); err != nil {
		return err
	}
	f.Dirty = false
	p.stats.PageWrites++
	if p.mtr != nil {
		p.mtr.BufferPageWritesTotal.Inc()
	}
	p.log.LogBufferEvent("flush", f.Index, uint32(f.PageID))
	return nil
}

// FlushAll writes every dirty frame back to the page store before
// returning, as required before shutdown.
func (p *Pool) FlushAll() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, f := range p.frames {
		if f.empty() || !f.Dirty {
			continue
		}
		if err := p.flushFrameLocked(f); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CreatePage creates a page via the page store and installs it into a
// frame (evicting if necessary), pinned once and marked dirty.
func (p *Pool) CreatePage(kind page.Kind) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pg, err := p.store.CreatePage(kind)
	if err != nil {
		return nil, err
	}

	idx, err := p.allocateFrame()
	if err != nil {
		return nil, err
	}
	f := p.frames[idx]
	f.PageID = pg.Header.PageID
	f.Page = pg
	f.Dirty = true
	f.PinCount = 1
	p.pageToFrame[f.PageID] = idx
	p.recordAccess(f)
	if p.policy == FIFO {
		p.fifoQueue = append(p.fifoQueue, idx)
	}
	return pg, nil
}

// allocateFrame returns a free frame index, evicting one if the pool
// is full. Caller must hold p.mu.
func (p *Pool) allocateFrame() (int, error) {
	if len(p.freeFrames) > 0 {
		idx := p.freeFrames[len(p.freeFrames)-1]
		p.freeFrames = p.freeFrames[:len(p.freeFrames)-1]
		return idx, nil
	}
	return p.evictLocked()
}

// evictLocked picks a victim frame per the configured policy, writes
// it back if dirty, and returns its now-free index. Caller must hold
// p.mu.
func (p *Pool) evictLocked() (int, error) {
	var idx int
	switch p.policy {
	case LRU:
		idx = p.evictLRULocked()
	case FIFO:
		idx = p.evictFIFOLocked()
	case CLOCK:
		idx = p.evictCLOCKLocked()
	default:
		idx = p.evictLRULocked()
	}

	f := p.frames[idx]
	if f.Dirty {
		if err := p.store.SavePage(f.Page); err != nil {
			return 0, fmt.Errorf("evict: flush page %d: %w", f.PageID, err)
		}
		p.stats.PageWrites++
		if p.mtr != nil {
			p.mtr.BufferPageWritesTotal.Inc()
		}
	}

	delete(p.pageToFrame, f.PageID)
	p.dropLRU(f.PageID)
	p.log.LogBufferEvent("evict", f.Index, uint32(f.PageID))
	f.reset()
	p.stats.Evictions++
	if p.mtr != nil {
		p.mtr.BufferEvictionsTotal.Inc()
	}
	return idx, nil
}

// evictLRULocked picks the least-recently-used unpinned frame. If every
// frame is pinned (a misbehaving caller), it falls back to evicting
// the oldest entry regardless of pin count — the pool must never
// deadlock on eviction.
func (p *Pool) evictLRULocked() int {
	for el := p.lruList.Front(); el != nil; el = el.Next() {
		id := el.Value.(page.ID)
		idx := p.pageToFrame[id]
		if p.frames[idx].PinCount == 0 {
			return idx
		}
	}
	if el := p.lruList.Front(); el != nil {
		p.log.Warn("evicting pinned frame: all frames pinned (LRU last resort)").Send()
		return p.pageToFrame[el.Value.(page.ID)]
	}
	p.log.Warn("no resident frames to evict under LRU; evicting frame 0").Send()
	return 0
}

// evictFIFOLocked scans the allocation queue front-to-back for the
// first unpinned frame, rotating pinned candidates to the back.
func (p *Pool) evictFIFOLocked() int {
	for scanned := len(p.fifoQueue); scanned > 0; scanned-- {
		idx := p.fifoQueue[0]
		p.fifoQueue = p.fifoQueue[1:]
		if p.frames[idx].empty() {
			continue
		}
		if p.frames[idx].PinCount == 0 {
			return idx
		}
		p.fifoQueue = append(p.fifoQueue, idx)
	}
	// Every resident frame is pinned; last resort.
	p.log.Warn("evicting pinned frame: all frames pinned (FIFO last resort)").Send()
	for _, f := range p.frames {
		if !f.empty() {
			return f.Index
		}
	}
	return 0
}

// evictCLOCKLocked implements the clock-hand sweep: skip pinned
// frames, clear-and-skip referenced frames, evict the first
// unreferenced unpinned frame found.
func (p *Pool) evictCLOCKLocked() int {
	n := len(p.frames)
	for i := 0; i < n*2; i++ {
		f := p.frames[p.clockHand]
		if !f.empty() && f.PinCount == 0 {
			if f.ReferenceBit {
				f.ReferenceBit = false
				p.clockHand = (p.clockHand + 1) % n
				continue
			}
			victim := p.clockHand
			p.clockHand = (p.clockHand + 1) % n
			return victim
		}
		p.clockHand = (p.clockHand + 1) % n
	}
	p.log.Warn("evicting pinned frame: all frames pinned (CLOCK last resort)").Send()
	victim := p.clockHand
	p.clockHand = (p.clockHand + 1) % n
	return victim
}
