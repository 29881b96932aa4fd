/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package page

import (
	"container/list"
	"sync"
)

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	MaxSize   int
}

// HitRate returns Hits/(Hits+Misses), or 0 when there have been no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type cacheEntry struct {
	pageID uint64
	frame  *Frame
}

// lruCache is a bounded, pageID-keyed least-recently-used cache. Every
// lookup that finds the key moves it to the front of the recency list; a
// Put that overflows MaxSize evicts the back entry, invoking onEvict so the
// manager can flush it first when dirty.
type lruCache struct {
	mu      sync.Mutex
	maxSize int
	ll      *list.List // front = most recently used
	index   map[uint64]*list.Element

	hits, misses, evictions uint64

	onEvict func(pageID uint64, frame *Frame)
}

func newLRUCache(maxSize int, onEvict func(uint64, *Frame)) *lruCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &lruCache{
		maxSize: maxSize,
		ll:      list.New(),
		index:   make(map[uint64]*list.Element),
		onEvict: onEvict,
	}
}

func (c *lruCache) get(pageID uint64) (*Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[pageID]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).frame, true
}

// put inserts or refreshes pageID's frame, evicting the LRU entry if the
// cache is at capacity and pageID is new.
func (c *lruCache) put(pageID uint64, frame *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[pageID]; ok {
		el.Value.(*cacheEntry).frame = frame
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.maxSize {
		c.evictLocked()
	}
	el := c.ll.PushFront(&cacheEntry{pageID: pageID, frame: frame})
	c.index[pageID] = el
}

func (c *lruCache) evictLocked() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*cacheEntry)
	c.ll.Remove(back)
	delete(c.index, entry.pageID)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(entry.pageID, entry.frame)
	}
}

func (c *lruCache) remove(pageID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[pageID]
	if !ok {
		return
	}
	c.ll.Remove(el)
	delete(c.index, pageID)
}

// all returns every cached frame, most-recently-used first.
func (c *lruCache) all() []*Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Frame, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*cacheEntry).frame)
	}
	return out
}

func (c *lruCache) stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.ll.Len(),
		MaxSize:   c.maxSize,
	}
}
