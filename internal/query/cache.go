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

package query

import (
	"container/list"
	"sync"
)

// CacheStats is a point-in-time snapshot of cache behavior, the
// {Hits, Misses, HitRate, Count} shape spec.md §4.8 names for the
// query-text cache (reused here for the plan cache too).
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Count  int
}

// HitRate returns Hits/(Hits+Misses), or 0 when there have been no
// lookups yet.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type lruEntry[V any] struct {
	key   string
	value V
}

// boundedCache is a generic, string-keyed, bounded LRU, the same
// eviction shape as internal/page's lruCache generalized over value type
// with container/list and a map index; used for both the plan cache
// (keyed by prepared-statement id) and the query-text cache (keyed by
// canonical SQL text) spec.md §4.8 names.
type boundedCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ll      *list.List
	index   map[string]*list.Element

	hits, misses uint64
}

func newBoundedCache[V any](maxSize int) *boundedCache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &boundedCache[V]{
		maxSize: maxSize,
		ll:      list.New(),
		index:   make(map[string]*list.Element),
	}
}

func (c *boundedCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry[V]).value, true
}

func (c *boundedCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		c.ll.MoveToFront(el)
		return
	}
	if c.ll.Len() >= c.maxSize {
		back := c.ll.Back()
		if back != nil {
			c.ll.Remove(back)
			delete(c.index, back.Value.(*lruEntry[V]).key)
		}
	}
	el := c.ll.PushFront(&lruEntry[V]{key: key, value: value})
	c.index[key] = el
}

// Invalidate removes key if present, reporting whether it was found.
func (c *boundedCache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.ll.Remove(el)
	delete(c.index, key)
	return true
}

// InvalidateWhere removes every entry for which keep returns false.
func (c *boundedCache[V]) InvalidateWhere(keep func(value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(*lruEntry[V])
		if !keep(entry.value) {
			c.ll.Remove(el)
			delete(c.index, entry.key)
		}
		el = next
	}
}

func (c *boundedCache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Count: c.ll.Len()}
}

// PlanCache holds compiled Plans for prepared statements, keyed by
// prepared-statement id, reused across repeated executions per spec.md
// §4.8 ("prepared statements hold a compiled plan and reuse it across
// executions").
type PlanCache struct {
	cache *boundedCache[*Plan]
}

// NewPlanCache builds a plan cache bounded to maxSize entries.
func NewPlanCache(maxSize int) *PlanCache {
	return &PlanCache{cache: newBoundedCache[*Plan](maxSize)}
}

func (c *PlanCache) Get(stmtID string) (*Plan, bool) { return c.cache.Get(stmtID) }
func (c *PlanCache) Put(stmtID string, p *Plan)       { c.cache.Put(stmtID, p) }
func (c *PlanCache) Invalidate(stmtID string) bool    { return c.cache.Invalidate(stmtID) }
func (c *PlanCache) Stats() CacheStats                { return c.cache.Stats() }

// InvalidateTable purges every cached plan that reads from table,
// matching the same invalidation rule spec.md §4.8 states for the
// subquery cache.
func (c *PlanCache) InvalidateTable(table string) {
	c.cache.InvalidateWhere(func(p *Plan) bool { return !p.ReferencesTable(table) })
}

// QueryResultCache memoizes read-only query results by canonical SQL
// text, bounded to a configurable size, per spec.md §4.8's "query-text
// cache".
type QueryResultCache struct {
	cache *boundedCache[queryResultEntry]
}

type queryResultEntry struct {
	rows   []IndexedRow
	tables []string
}

// NewQueryResultCache builds a query-text result cache bounded to
// maxSize entries.
func NewQueryResultCache(maxSize int) *QueryResultCache {
	return &QueryResultCache{cache: newBoundedCache[queryResultEntry](maxSize)}
}

// Get returns the cached rows for sql's canonical text, if present.
func (c *QueryResultCache) Get(sql string) ([]IndexedRow, bool) {
	e, ok := c.cache.Get(fingerprintSQL(sql))
	if !ok {
		return nil, false
	}
	return e.rows, true
}

// Put caches rows for sql against the tables referenced by plan, so a
// later InvalidateTable can find it.
func (c *QueryResultCache) Put(sql string, plan *Plan, rows []IndexedRow) {
	c.cache.Put(fingerprintSQL(sql), queryResultEntry{rows: rows, tables: referencedTables(plan)})
}

// InvalidateTable purges every cached entry whose plan referenced table.
func (c *QueryResultCache) InvalidateTable(table string) {
	c.cache.InvalidateWhere(func(e queryResultEntry) bool {
		for _, t := range e.tables {
			if t == table {
				return false
			}
		}
		return true
	})
}

func (c *QueryResultCache) Stats() CacheStats { return c.cache.Stats() }
