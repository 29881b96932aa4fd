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

package index

import (
	"hash/fnv"
	"strconv"
	"sync"

	scdberrors "scdb/internal/errors"
	"scdb/internal/storage"
)

// bucketEntry pairs a key with its accumulated refs; Hash keeps one per
// unique key within a bucket's chain, so a hash collision (or two text
// values that fold equal under the column's collation but hash the same)
// still resolves correctly by falling back to storage.CompareValues.
type bucketEntry struct {
	key  storage.Value
	refs []storage.Ref
}

// Hash is a chained hash index: equality lookups only (spec.md §4.4 names
// no range support for this kind). Keys are bucketed by a collation-aware
// hash of their canonical encoding, with per-bucket chains resolved by
// exact comparison so folding collations (NoCase, UnicodeCaseInsensitive,
// Locale) still behave correctly.
type Hash struct {
	mu      sync.RWMutex
	col     storage.Column
	buckets map[uint64][]bucketEntry
	stale   bool
	entries int64
}

// NewHash builds an empty hash index over col.
func NewHash(col storage.Column) *Hash {
	return &Hash{col: col, buckets: make(map[uint64][]bucketEntry)}
}

// hashKey folds key into a canonical form under col's collation (for
// TEXT, via the collator's own equality rule) and hashes the result with
// FNV-1a, so values considered equal under the collation always land in
// the same bucket.
func (h *Hash) hashKey(key storage.Value) (uint64, error) {
	var canon string
	switch key.Kind {
	case storage.KindText:
		coll, err := storage.Resolve(h.col.Collation)
		if err != nil {
			return 0, err
		}
		// Collators expose Equal/Compare, not a canonical form, so probe
		// equality against a fixed fold (lowercase) as the bucketing key;
		// entries within a bucket are still resolved by exact Collator
		// comparison, so an imperfect fold only costs extra chain length,
		// never correctness.
		canon = "s:" + foldForBucketing(coll, key.S)
	case storage.KindInt64:
		canon = "i:" + strconv.FormatInt(key.I, 10)
	case storage.KindFloat64:
		canon = "f:" + strconv.FormatFloat(key.F, 'g', -1, 64)
	case storage.KindDecimal:
		canon = "d:" + key.Dec
	case storage.KindBlob:
		canon = "b:" + string(key.B)
	case storage.KindDateTime:
		canon = "t:" + key.T.UTC().String()
	case storage.KindBool:
		canon = "o:" + strconv.FormatBool(key.Bln)
	case storage.KindNull:
		canon = "n:"
	default:
		return 0, scdberrors.InvariantViolation("index: unhashable kind %s", key.Kind)
	}
	sum := fnv.New64a()
	_, _ = sum.Write([]byte(canon))
	return sum.Sum64(), nil
}

// foldForBucketing lowercases s for bucketing purposes only; it need not
// be collation-exact because bucket chains fall back to the real
// Collator.Equal for the authoritative comparison.
func foldForBucketing(_ storage.Collator, s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (h *Hash) equal(a, b storage.Value) (bool, error) {
	n, err := storage.CompareValues(h.col, a, b)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Add inserts (key, ref) into the index.
func (h *Hash) Add(key storage.Value, ref storage.Ref) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket, err := h.hashKey(key)
	if err != nil {
		return err
	}
	chain := h.buckets[bucket]
	for i := range chain {
		if eq, err := h.equal(chain[i].key, key); err != nil {
			return err
		} else if eq {
			chain[i].refs = append(chain[i].refs, ref)
			h.entries++
			return nil
		}
	}
	h.buckets[bucket] = append(chain, bucketEntry{key: key, refs: []storage.Ref{ref}})
	h.entries++
	return nil
}

// Remove drops ref from key's chain entry, removing the entry outright if
// it empties.
func (h *Hash) Remove(key storage.Value, ref storage.Ref) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket, err := h.hashKey(key)
	if err != nil {
		return false, err
	}
	chain := h.buckets[bucket]
	for i := range chain {
		eq, err := h.equal(chain[i].key, key)
		if err != nil {
			return false, err
		}
		if !eq {
			continue
		}
		for j, r := range chain[i].refs {
			if r == ref {
				chain[i].refs = append(chain[i].refs[:j], chain[i].refs[j+1:]...)
				h.entries--
				if len(chain[i].refs) == 0 {
					h.buckets[bucket] = append(chain[:i], chain[i+1:]...)
				}
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

// Find returns every ref recorded against key.
func (h *Hash) Find(key storage.Value) ([]storage.Ref, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	bucket, err := h.hashKey(key)
	if err != nil {
		return nil, err
	}
	for _, e := range h.buckets[bucket] {
		eq, err := h.equal(e.key, key)
		if err != nil {
			return nil, err
		}
		if eq {
			out := make([]storage.Ref, len(e.refs))
			copy(out, e.refs)
			return out, nil
		}
	}
	return nil, nil
}

// FindRange is unsupported by a hash index (spec.md §4.4: "equality
// lookup only").
func (h *Hash) FindRange(storage.Value, storage.Value) ([]storage.Ref, error) {
	return nil, scdberrors.InvariantViolation("index: hash index does not support range scans")
}

// Clear discards the index's contents.
func (h *Hash) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buckets = make(map[uint64][]bucketEntry)
	h.entries = 0
	h.stale = false
}

// Stale reports whether the index needs a rebuild before its next probe.
func (h *Hash) Stale() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stale
}

// MarkStale flags the index as needing a rebuild.
func (h *Hash) MarkStale() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stale = true
}

// Stats reports spec.md §4.4's named statistics.
func (h *Hash) Stats() Statistics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	uniqueKeys := int64(0)
	memBytes := int64(0)
	for _, chain := range h.buckets {
		uniqueKeys += int64(len(chain))
		for _, e := range chain {
			memBytes += 48 + int64(len(e.refs))*8
		}
	}
	stats := Statistics{UniqueKeys: uniqueKeys, TotalEntries: h.entries, MemoryUsageBytes: memBytes}
	if uniqueKeys > 0 {
		stats.AverageEntriesPerKey = float64(h.entries) / float64(uniqueKeys)
	}
	if h.entries > 0 {
		stats.Selectivity = float64(uniqueKeys) / float64(h.entries)
	}
	return stats
}

var _ Index = (*Hash)(nil)
