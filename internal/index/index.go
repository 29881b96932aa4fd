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

/*
Package index implements the B-tree and hash secondary indexes spec.md
§4.4 names, plus the lazy-build/stale-invalidation wrapper shared by both.
*/
package index

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"scdb/internal/storage"
)

// BuildMode selects when an index materializes its contents.
type BuildMode int

const (
	// BuildLazy defers materialization until the first probe.
	BuildLazy BuildMode = iota
	// BuildEager materializes immediately, at construction.
	BuildEager
)

// Statistics mirrors spec.md §4.4's named index statistics.
type Statistics struct {
	UniqueKeys           int64
	TotalEntries         int64
	AverageEntriesPerKey float64
	Selectivity          float64
	MemoryUsageBytes     int64
}

// Source supplies the (key, ref) pairs an index (re)builds itself from,
// in table scan order. A storage engine's table scan implements this.
type Source interface {
	Scan(yield func(key storage.Value, ref storage.Ref) bool) error
}

// Index is the common contract spec.md §4.4 names for every index kind.
type Index interface {
	Add(key storage.Value, ref storage.Ref) error
	Remove(key storage.Value, ref storage.Ref) (bool, error)
	Find(key storage.Value) ([]storage.Ref, error)
	FindRange(lo, hi storage.Value) ([]storage.Ref, error)
	Clear()
	Stats() Statistics
	Stale() bool
	MarkStale()
}

// Lazy wraps an Index with spec.md §4.4's lazy-build/stale-invalidation
// behavior: the underlying Index is not materialized until the first
// probe (Find/FindRange/Stats), and any write that reaches the index
// before it has been built simply marks it stale rather than maintaining
// it incrementally. The next probe observes stale and rebuilds fully
// from Source before answering. A singleflight.Group ensures concurrent
// probes racing to rebuild a stale index collapse onto a single rebuild
// (spec.md §5's "at most one thread rebuilds a stale index while the
// others wait").
type Lazy struct {
	idx  Index
	src  Source
	mode BuildMode

	mu    sync.RWMutex
	built bool
	group singleflight.Group
}

// NewLazy wraps idx, sourcing rebuilds from src. If mode is BuildEager,
// the index is materialized immediately.
func NewLazy(idx Index, src Source, mode BuildMode) (*Lazy, error) {
	l := &Lazy{idx: idx, src: src, mode: mode}
	if mode == BuildEager {
		if err := l.rebuild(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Lazy) rebuild() error {
	l.idx.Clear()
	if err := l.src.Scan(func(key storage.Value, ref storage.Ref) bool {
		l.idx.Add(key, ref)
		return true
	}); err != nil {
		return err
	}
	l.mu.Lock()
	l.built = true
	l.mu.Unlock()
	return nil
}

// ensureBuilt rebuilds the index if it has never been built, or has been
// marked stale since its last build, collapsing concurrent callers onto
// one rebuild.
func (l *Lazy) ensureBuilt() error {
	l.mu.RLock()
	needsBuild := !l.built || l.idx.Stale()
	l.mu.RUnlock()
	if !needsBuild {
		return nil
	}
	_, err, _ := l.group.Do("build", func() (interface{}, error) {
		l.mu.RLock()
		stillNeeds := !l.built || l.idx.Stale()
		l.mu.RUnlock()
		if !stillNeeds {
			return nil, nil
		}
		return nil, l.rebuild()
	})
	return err
}

// Add applies directly to the underlying index once built; before the
// first build it only marks the index stale, per spec.md §4.4.
func (l *Lazy) Add(key storage.Value, ref storage.Ref) error {
	l.mu.RLock()
	built := l.built
	l.mu.RUnlock()
	if !built {
		l.idx.MarkStale()
		return nil
	}
	return l.idx.Add(key, ref)
}

// Remove mirrors Add's built/unbuilt split.
func (l *Lazy) Remove(key storage.Value, ref storage.Ref) (bool, error) {
	l.mu.RLock()
	built := l.built
	l.mu.RUnlock()
	if !built {
		l.idx.MarkStale()
		return false, nil
	}
	return l.idx.Remove(key, ref)
}

// Find rebuilds the index first if it is unbuilt or stale, then probes it.
func (l *Lazy) Find(key storage.Value) ([]storage.Ref, error) {
	if err := l.ensureBuilt(); err != nil {
		return nil, err
	}
	return l.idx.Find(key)
}

// FindRange rebuilds the index first if it is unbuilt or stale, then
// range-probes it.
func (l *Lazy) FindRange(lo, hi storage.Value) ([]storage.Ref, error) {
	if err := l.ensureBuilt(); err != nil {
		return nil, err
	}
	return l.idx.FindRange(lo, hi)
}

// Stats rebuilds the index first if needed, then reports its statistics.
func (l *Lazy) Stats() (Statistics, error) {
	if err := l.ensureBuilt(); err != nil {
		return Statistics{}, err
	}
	return l.idx.Stats(), nil
}

// Clear discards the index's materialized contents and marks it unbuilt.
func (l *Lazy) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.idx.Clear()
	l.built = false
}

// Built reports whether the index has been materialized since the last
// Clear/stale invalidation.
func (l *Lazy) Built() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.built && !l.idx.Stale()
}
