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
Unified Storage Engine
======================

This file defines the StorageEngine interface shared by the two
interchangeable row-storage implementations: the page-heap engine
(heap.go) and the append-only log engine (appendonly.go). Both sit on top
of internal/page's buffer cache and slotted-page layout, and both publish the same metrics snapshot shape, so the SQL executor and the
index layer above can swap one for the other without caring which is
active for a given table.

	┌─────────────────────────────────────────────────────────────────┐
	│                        Query Executor                           │
	└─────────────────────────────────────────────────────────────────┘
	                              │
	                              ▼
	┌─────────────────────────────────────────────────────────────────┐
	│                    StorageEngine interface                      │
	│   insert / read / update / delete / insertBatch / tx lifecycle  │
	└─────────────────────────────────────────────────────────────────┘
	                         │                  │
	                         ▼                  ▼
	              ┌────────────────┐   ┌──────────────────┐
	              │  Heap Engine   │   │ Append-Only Engine│
	              │ (slotted pages)│   │ (log + tombstones) │
	              └────────────────┘   └──────────────────┘
	                         │                  │
	                         ▼                  ▼
	              ┌─────────────────────────────────────┐
	              │      internal/page.Manager (LRU)     │
	              └─────────────────────────────────────┘
*/
package storage

import "fmt"

// TableID identifies a table's row storage within one engine instance.
type TableID uint32

// Ref is an opaque row reference. Its bit layout is private to the engine
// that issued it: the heap engine packs {pageID, slotID}; the append-only
// engine uses it as a flat monotonic record id. Callers must never
// construct or decode a Ref themselves — only compare them for equality
// and pass them back to the engine that produced them.
type Ref uint64

// packHeapRef/unpackHeapRef implement the heap engine's Ref encoding:
// the high 48 bits are the page id, the low 16 bits the slot index.
func packHeapRef(pageID uint64, slot uint16) Ref {
	return Ref(pageID<<16 | uint64(slot))
}

func unpackHeapRef(r Ref) (pageID uint64, slot uint16) {
	return uint64(r) >> 16, uint16(r)
}

// EngineType distinguishes which row-storage implementation backs a table.
type EngineType string

const (
	EngineTypeHeap       EngineType = "heap"
	EngineTypeAppendOnly EngineType = "append-only"
)

// StorageEngine is the common contract spec.md §4.3 names: reference-based
// CRUD plus batch insert, a transaction lifecycle forwarded to the WAL, and
// a metrics snapshot.
type StorageEngine interface {
	// Insert stores data under tableID and returns a reference to it.
	Insert(tableID TableID, data []byte) (Ref, error)

	// Read returns the current bytes at ref, or ok=false if ref has been
	// deleted or never existed.
	Read(tableID TableID, ref Ref) (data []byte, ok bool, err error)

	// Update replaces the bytes at ref so existing references (e.g. from
	// an index) keep resolving to the new content. The heap engine
	// overwrites in place when the new content fits the existing slot and
	// otherwise relocates the row behind a forwarding stub; the
	// append-only engine appends the new content and remaps ref to it.
	Update(tableID TableID, ref Ref, data []byte) error

	// Delete removes the row at ref.
	Delete(tableID TableID, ref Ref) error

	// InsertBatch stores every entry in dataList under tableID, returning
	// one Ref per entry in the same order.
	InsertBatch(tableID TableID, dataList [][]byte) ([]Ref, error)

	// Begin starts a new transaction scoped to writes on this engine,
	// forwarding to the WAL transaction log.
	Begin() (txnID uint64, err error)

	// CommitAsync marks txnID committed; durability follows the WAL's
	// configured mode (FullSync/GroupCommit/Async).
	CommitAsync(txnID uint64) error

	// Rollback discards txnID's uncommitted writes.
	Rollback(txnID uint64) error

	// Stats returns a point-in-time metrics snapshot.
	Stats() EngineMetrics

	// Type identifies which implementation this is.
	Type() EngineType
}

// EngineMetrics is the metrics snapshot both engines publish, per spec.md
// §4.3's "identical metrics" requirement.
type EngineMetrics struct {
	EngineType         EngineType
	TotalInserts       uint64
	TotalUpdates       uint64
	TotalDeletes       uint64
	TotalReads         uint64
	BytesWritten       uint64
	AverageInsertNanos float64
}

func (m EngineMetrics) String() string {
	return fmt.Sprintf(
		"Engine: %s, Inserts: %d, Updates: %d, Deletes: %d, Reads: %d, BytesWritten: %d, AvgInsertNs: %.1f",
		m.EngineType, m.TotalInserts, m.TotalUpdates, m.TotalDeletes, m.TotalReads, m.BytesWritten, m.AverageInsertNanos,
	)
}
