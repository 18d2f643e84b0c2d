package serstack

import (
	"container/list"
	"sync"
)

// FrameCache is a bounded, strictly LRU cache of reconstructed frames. A Get
// on a present key promotes it to most recently used; a Put beyond capacity
// evicts exactly the least recently touched entry. The cache owns the buffers
// it stores and guards all access with a mutex so the display and prefetch
// paths may share it.
type FrameCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[int]*list.Element
}

type cacheEntry struct {
	index int
	frame *RGBImage
}

// NewFrameCache creates a cache holding at most capacity frames. Capacity
// below one is treated as one.
func NewFrameCache(capacity int) *FrameCache {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[int]*list.Element),
	}
}

// Get returns the cached frame for index and promotes it.
func (c *FrameCache) Get(index int) (*RGBImage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[index]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).frame, true
}

// Put inserts or updates a frame, promoting it to most recently used and
// evicting the least recently used entry if capacity is exceeded.
func (c *FrameCache) Put(index int, frame *RGBImage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[index]; ok {
		el.Value.(*cacheEntry).frame = frame
		c.order.MoveToFront(el)
		return
	}
	c.items[index] = c.order.PushFront(&cacheEntry{index: index, frame: frame})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).index)
	}
}

// Contains reports presence without promoting.
func (c *FrameCache) Contains(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[index]
	return ok
}

// Len returns the number of cached frames.
func (c *FrameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops every entry.
func (c *FrameCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[int]*list.Element)
}

// Prefetch fetches and inserts frames for indices not already present. A
// failure for any one index is swallowed and does not affect the others.
func (c *FrameCache) Prefetch(indices []int, fetch func(int) (*RGBImage, error)) {
	for _, idx := range indices {
		if c.Contains(idx) {
			continue
		}
		frame, err := fetch(idx)
		if err != nil {
			continue
		}
		c.Put(idx, frame)
	}
}
