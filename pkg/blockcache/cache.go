// Bounded LRU cache of device blocks. Read-through on miss, write-through on
// store, so block-level readers always observe fresh bytes; write-back
// buffering happens above this layer.
package blockcache

import (
	"container/list"
	"sync"

	"github.com/reekid420/AegisFS/pkg/blockdev"
)

// DefaultCapacity holds ~4 MiB of 4 KiB blocks.
const DefaultCapacity = 1024

type entry struct {
	num  uint64
	data []byte
}

// Cache is safe for concurrent use. The map and LRU list share one mutex;
// device I/O happens outside it so readers of distinct blocks overlap.
type Cache struct {
	dev      blockdev.Device
	capacity int

	mu      sync.Mutex
	lru     *list.List // front = most recently used
	entries map[uint64]*list.Element

	hits   uint64
	misses uint64
}

// New creates a cache over dev holding at most capacity blocks.
func New(dev blockdev.Device, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		dev:      dev,
		capacity: capacity,
		lru:      list.New(),
		entries:  make(map[uint64]*list.Element),
	}
}

// Device returns the underlying device.
func (c *Cache) Device() blockdev.Device { return c.dev }

// ReadBlock fills buf with block num, from cache if resident.
func (c *Cache) ReadBlock(num uint64, buf []byte) error {
	c.mu.Lock()
	if el, ok := c.entries[num]; ok {
		c.lru.MoveToFront(el)
		copy(buf, el.Value.(*entry).data)
		c.hits++
		c.mu.Unlock()
		return nil
	}
	c.misses++
	c.mu.Unlock()

	if err := c.dev.ReadBlock(num, buf); err != nil {
		return err
	}

	// A writer may have raced us to this block; its cached copy is newer
	// than our device read, so never clobber an existing entry here.
	c.insert(num, buf, false)
	return nil
}

// WriteBlock writes through to the device, then updates the cached copy so
// later reads see the new bytes. On device failure the stale entry is
// dropped rather than updated.
func (c *Cache) WriteBlock(num uint64, buf []byte) error {
	if err := c.dev.WriteBlock(num, buf); err != nil {
		c.mu.Lock()
		if el, ok := c.entries[num]; ok {
			c.lru.Remove(el)
			delete(c.entries, num)
		}
		c.mu.Unlock()
		return err
	}
	c.insert(num, buf, true)
	return nil
}

// Sync flushes the device; the cache itself holds no dirty state.
func (c *Cache) Sync() error { return c.dev.Sync() }

// Invalidate drops a cached block, if resident.
func (c *Cache) Invalidate(num uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[num]; ok {
		c.lru.Remove(el)
		delete(c.entries, num)
	}
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of resident blocks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) insert(num uint64, data []byte, overwrite bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[num]; ok {
		if overwrite {
			copy(el.Value.(*entry).data, data)
		}
		c.lru.MoveToFront(el)
		return
	}

	e := &entry{num: num, data: append([]byte(nil), data...)}
	c.entries[num] = c.lru.PushFront(e)

	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).num)
	}
}
