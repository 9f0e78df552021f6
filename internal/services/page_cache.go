// File: internal/services/page_cache.go
package services

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/liamnaddell/indexfs/internal/interfaces"
	"github.com/liamnaddell/indexfs/internal/types"
)

// PageCacheConfig holds cache configuration.
type PageCacheConfig struct {
	// MaxPages is the number of resident cache pages.
	MaxPages int

	// PageSpan is the number of filesystem blocks per cache page. One
	// device transfer loads the whole page, so logically adjacent
	// requests are satisfied by a single I/O; contiguous transfers are
	// cheap relative to seeks even without contiguous allocation.
	PageSpan uint32

	// WriteRetries is how many times a failed write-back is retried
	// before the page is declared lost and the volume goes read-only.
	WriteRetries int
}

// DefaultPageCacheConfig returns the recommended cache configuration.
func DefaultPageCacheConfig() PageCacheConfig {
	return PageCacheConfig{
		MaxPages:     128,
		PageSpan:     8,
		WriteRetries: 3,
	}
}

// PageCache is a page-granularity cache over a raw block device and the
// sole point of device I/O for a mounted volume. Lookup is by exact
// page-key in a hash map; recency is an LRU list; pinned pages are never
// evicted and a dirty victim is written back synchronously before its
// storage is reused.
type PageCache struct {
	dev       interfaces.BlockDevice
	blockSize uint32
	span      uint32
	maxPages  int
	retries   int

	// readOnly is shared with the owning volume; an unrecoverable
	// write-back failure sets it rather than silently losing the write.
	readOnly *atomic.Bool

	mu    sync.Mutex
	pages map[types.Pblk]*page // key: first block of the page
	order *list.List          // front = most recently used

	hits       uint64
	misses     uint64
	evictions  uint64
	writebacks uint64
}

// page is one resident cache page spanning a run of consecutive blocks.
type page struct {
	key    types.Pblk
	blocks uint32 // may be short for the page at the end of the device
	data   []byte
	pins   int
	dirty  bool
	elem   *list.Element

	// loaded is closed once the device read has finished; loadErr is
	// valid afterwards. Loading pages are pinned, so they are never
	// eviction victims.
	loaded  chan struct{}
	loadErr error
}

// pageBuf is a pinned view of a single filesystem block inside a page.
type pageBuf struct {
	pg    *page
	block types.Pblk
}

func (b *pageBuf) Block() types.Pblk { return b.block }

func (b *pageBuf) Data() []byte {
	bs := uint32(len(b.pg.data)) / b.pg.blocks
	off := uint32(b.block-b.pg.key) * bs
	return b.pg.data[off : off+bs]
}

var _ interfaces.BlockCache = (*PageCache)(nil)

// NewPageCache creates a page cache over dev. The readOnly flag is shared
// with the volume so write-back exhaustion can fence further mutation.
func NewPageCache(dev interfaces.BlockDevice, cfg PageCacheConfig, readOnly *atomic.Bool) (*PageCache, error) {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultPageCacheConfig().MaxPages
	}
	if cfg.PageSpan == 0 {
		cfg.PageSpan = DefaultPageCacheConfig().PageSpan
	}
	if cfg.WriteRetries < 0 {
		cfg.WriteRetries = 0
	}
	if readOnly == nil {
		readOnly = new(atomic.Bool)
	}
	return &PageCache{
		dev:       dev,
		blockSize: dev.BlockSize(),
		span:      cfg.PageSpan,
		maxPages:  cfg.MaxPages,
		retries:   cfg.WriteRetries,
		readOnly:  readOnly,
		pages:     make(map[types.Pblk]*page),
		order:     list.New(),
	}, nil
}

// Acquire returns a pinned view of the given block, loading the containing
// page from the device if absent. The device read happens outside the cache
// lock, so other requests proceed while this one waits on I/O.
func (c *PageCache) Acquire(block types.Pblk) (interfaces.Buffer, error) {
	if uint64(block) >= uint64(c.dev.TotalBlocks()) {
		return nil, fmt.Errorf("block %d outside device of %d blocks: %w", block, c.dev.TotalBlocks(), types.ErrIO)
	}

	key := block - block%types.Pblk(c.span)

	c.mu.Lock()
	if pg, ok := c.pages[key]; ok {
		pg.pins++
		c.order.MoveToFront(pg.elem)
		c.hits++
		c.mu.Unlock()

		<-pg.loaded
		if pg.loadErr != nil {
			c.mu.Lock()
			pg.pins--
			c.mu.Unlock()
			return nil, pg.loadErr
		}
		return &pageBuf{pg: pg, block: block}, nil
	}

	c.misses++
	if len(c.pages) >= c.maxPages {
		if err := c.evictVictim(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}

	blocks := uint32(c.span)
	if rem := uint64(c.dev.TotalBlocks()) - uint64(key); rem < uint64(blocks) {
		blocks = uint32(rem)
	}
	pg := &page{
		key:    key,
		blocks: blocks,
		data:   make([]byte, blocks*c.blockSize),
		pins:   1,
		loaded: make(chan struct{}),
	}
	pg.elem = c.order.PushFront(pg)
	c.pages[key] = pg
	c.mu.Unlock()

	// Load outside the lock; concurrent acquirers of this page wait on
	// pg.loaded rather than issuing a second read.
	err := c.dev.ReadBlocks(pg.key, pg.blocks, pg.data)
	if err != nil {
		pg.loadErr = fmt.Errorf("load of page at block %d failed: %w", pg.key, err)
	}
	close(pg.loaded)

	if err != nil {
		c.mu.Lock()
		// Drop the failed page so a later acquire retries the read.
		delete(c.pages, pg.key)
		c.order.Remove(pg.elem)
		c.mu.Unlock()
		return nil, pg.loadErr
	}
	return &pageBuf{pg: pg, block: block}, nil
}

// Release unpins a buffer; if dirty, the containing page is marked for
// write-back.
func (c *PageCache) Release(buf interfaces.Buffer, dirty bool) {
	pb, ok := buf.(*pageBuf)
	if !ok || pb.pg == nil {
		return
	}
	c.mu.Lock()
	if dirty {
		pb.pg.dirty = true
	}
	if pb.pg.pins > 0 {
		pb.pg.pins--
	}
	c.mu.Unlock()
	pb.pg = nil
}

// evictVictim removes the least recently used unpinned page, writing it
// back first if dirty. Called with c.mu held.
func (c *PageCache) evictVictim() error {
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		pg := elem.Value.(*page)
		if pg.pins > 0 {
			continue
		}
		if pg.dirty {
			if err := c.writeback(pg); err != nil {
				return err
			}
		}
		delete(c.pages, pg.key)
		c.order.Remove(elem)
		c.evictions++
		return nil
	}
	return fmt.Errorf("all %d cache pages pinned: %w", c.maxPages, types.ErrBusy)
}

// writeback pushes a dirty page to the device, retrying a bounded number
// of times. Exhaustion is fatal to the page: the volume is fenced
// read-only and an IOError propagates instead of the write being dropped.
// Called with c.mu held so the page's storage cannot be reused mid-write.
func (c *PageCache) writeback(pg *page) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		err = c.dev.WriteBlocks(pg.key, pg.data)
		if err == nil {
			pg.dirty = false
			c.writebacks++
			return nil
		}
	}
	c.readOnly.Store(true)
	return fmt.Errorf("write-back of page at block %d failed after %d attempts: %v: %w",
		pg.key, c.retries+1, err, types.ErrIO)
}

// Flush forces write-back of the dirty page containing the given block,
// if resident.
func (c *PageCache) Flush(block types.Pblk) error {
	key := block - block%types.Pblk(c.span)
	c.mu.Lock()
	defer c.mu.Unlock()
	if pg, ok := c.pages[key]; ok && pg.dirty {
		return c.writeback(pg)
	}
	return nil
}

// FlushAll forces write-back of every dirty page.
func (c *PageCache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pg := range c.pages {
		if pg.dirty {
			if err := c.writeback(pg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats returns cache performance counters.
func (c *PageCache) Stats() interfaces.BlockCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return interfaces.BlockCacheStats{
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		Writebacks:   c.writebacks,
		PagesInCache: uint32(len(c.pages)),
		MaxPages:     uint32(c.maxPages),
	}
}
