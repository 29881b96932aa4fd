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

package container

import (
	"encoding/binary"
	"sort"
	"sync"

	scdberrors "scdb/internal/errors"
)

// extent is a contiguous run of free pages.
type extent struct {
	StartPage uint64
	Length    uint64
}

// allocator holds the free-extent set in startPage order and never lets two
// adjacent extents coexist (the coalescing invariant).
type allocator struct {
	mu       sync.Mutex
	strategy AllocationStrategy
	extents  []extent // sorted by StartPage

	lastExtension uint64

	diskOffset uint64
	diskLength uint64
}

func newAllocator(strategy AllocationStrategy) *allocator {
	return &allocator{strategy: strategy}
}

// allocate satisfies a request for n contiguous pages using the
// configured strategy, splitting off a surplus extent when the chosen
// extent is larger than needed.
func (a *allocator) allocate(n uint64) (extent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := -1
	switch a.strategy {
	case FirstFit:
		for i, e := range a.extents {
			if e.Length >= n {
				idx = i
				break
			}
		}
	case WorstFit:
		best := uint64(0)
		for i, e := range a.extents {
			if e.Length >= n && e.Length > best {
				best = e.Length
				idx = i
			}
		}
	default: // BestFit
		best := ^uint64(0)
		for i, e := range a.extents {
			if e.Length >= n && e.Length < best {
				best = e.Length
				idx = i
			}
		}
	}

	if idx < 0 {
		return extent{}, false
	}

	chosen := a.extents[idx]
	result := extent{StartPage: chosen.StartPage, Length: n}

	if chosen.Length == n {
		a.extents = append(a.extents[:idx], a.extents[idx+1:]...)
	} else {
		a.extents[idx] = extent{StartPage: chosen.StartPage + n, Length: chosen.Length - n}
	}
	return result, true
}

// free returns e to the pool, eagerly coalescing with any adjacent extent.
func (a *allocator) free(e extent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(e)
}

func (a *allocator) freeLocked(e extent) {
	if e.Length == 0 {
		return
	}
	pos := sort.Search(len(a.extents), func(i int) bool { return a.extents[i].StartPage >= e.StartPage })
	a.extents = append(a.extents, extent{})
	copy(a.extents[pos+1:], a.extents[pos:])
	a.extents[pos] = e

	// Coalesce with the following neighbor first so indices stay valid.
	if pos+1 < len(a.extents) {
		next := a.extents[pos+1]
		if a.extents[pos].StartPage+a.extents[pos].Length == next.StartPage {
			a.extents[pos].Length += next.Length
			a.extents = append(a.extents[:pos+1], a.extents[pos+2:]...)
		}
	}
	if pos > 0 {
		prev := a.extents[pos-1]
		if prev.StartPage+prev.Length == a.extents[pos].StartPage {
			a.extents[pos-1].Length += a.extents[pos].Length
			a.extents = append(a.extents[:pos], a.extents[pos+1:]...)
		}
	}
}

// serialize renders the free-extent list as {uint32 count, {uint64
// startPage, uint64 length}...} sorted by startPage per spec.md §6.
func (a *allocator) serialize() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := make([]byte, 4+16*len(a.extents))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(a.extents)))
	off := 4
	for _, e := range a.extents {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.StartPage)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.Length)
		off += 16
	}
	return buf
}

func (a *allocator) deserialize(buf []byte) error {
	if len(buf) < 4 {
		return scdberrors.Corruption("free-extent blob truncated")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	if uint64(len(buf)) < 4+16*uint64(count) {
		return scdberrors.Corruption("free-extent blob truncated")
	}
	extents := make([]extent, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		start := binary.LittleEndian.Uint64(buf[off : off+8])
		length := binary.LittleEndian.Uint64(buf[off+8 : off+16])
		extents = append(extents, extent{StartPage: start, Length: length})
		off += 16
	}
	a.mu.Lock()
	a.extents = extents
	a.mu.Unlock()
	return nil
}
