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

package storage

import (
	"sync"
	"time"

	scdberrors "scdb/internal/errors"
	"scdb/internal/page"
)

// TransactionLog is the WAL-side collaborator a StorageEngine forwards its
// Begin/CommitAsync/Rollback calls to. internal/wal.WAL implements this;
// declaring the interface here (rather than importing internal/wal
// directly) keeps storage free of a storage<->wal dependency edge, mirroring
// the same pattern internal/container uses for its own TransactionLog.
type TransactionLog interface {
	BeginTransaction() (uint64, error)
	CommitTransactionAsync(uint64) error
	RollbackTransaction(uint64) error
}

// HeapEngine is the page-heap StorageEngine: rows live in slotted pages
// (internal/page), updates grow in place when the new value still fits the
// slot, and otherwise relocate to a fresh slot with a forwarding stub left
// at the original location.
//
// Simplification: the table-to-pages directory below is kept in memory
// only; internal/engine is responsible for persisting each table's owned
// page list as a container block (named "table:<id>:pages") and restoring
// it into a fresh HeapEngine on reopen. The slotted-page bytes themselves
// are already fully durable via internal/page/internal/container.
type HeapEngine struct {
	mu      sync.Mutex
	mgr     *page.Manager
	txnLog  TransactionLog
	tables  map[TableID][]uint64 // owned pages, in allocation order
	current map[TableID]uint64   // last page with known free space, 0 = none

	inserts, updates, deletes, reads, bytesWritten uint64
	insertNanos                                    uint64
}

// NewHeapEngine builds a HeapEngine over mgr. txnLog may be nil until
// internal/engine wires up the WAL (Begin/CommitAsync/Rollback then fail
// with InvariantViolation, matching internal/container's own unwired-log
// behavior).
func NewHeapEngine(mgr *page.Manager, txnLog TransactionLog) *HeapEngine {
	return &HeapEngine{
		mgr:     mgr,
		txnLog:  txnLog,
		tables:  make(map[TableID][]uint64),
		current: make(map[TableID]uint64),
	}
}

func (e *HeapEngine) Type() EngineType { return EngineTypeHeap }

// Insert appends data to tableID's current page, allocating a fresh page
// when the current one has no room.
func (e *HeapEngine) Insert(tableID TableID, data []byte) (Ref, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	ref, err := e.insertLocked(tableID, data)
	if err == nil {
		e.inserts++
		e.bytesWritten += uint64(len(data))
		e.insertNanos += uint64(time.Since(start))
	}
	return ref, err
}

func (e *HeapEngine) insertLocked(tableID TableID, data []byte) (Ref, error) {
	pageID := e.current[tableID]
	if pageID != 0 {
		f, err := e.mgr.GetPage(pageID, true)
		if err != nil {
			return 0, err
		}
		slot, err := page.InsertRecord(f.Data, data)
		if err == nil {
			f.SetDirty()
			return packHeapRef(pageID, slot), nil
		}
		if err != page.ErrPageFull {
			return 0, err
		}
		// Falls through to allocate a fresh page below.
	}

	f, err := e.mgr.AllocatePage()
	if err != nil {
		return 0, err
	}
	page.InitPage(f.Data)
	slot, err := page.InsertRecord(f.Data, data)
	if err != nil {
		return 0, err
	}
	f.SetDirty()
	e.tables[tableID] = append(e.tables[tableID], f.PageID)
	e.current[tableID] = f.PageID
	return packHeapRef(f.PageID, slot), nil
}

// Read resolves ref, following a single forwarding hop if the original
// slot was relocated by an Update.
func (e *HeapEngine) Read(tableID TableID, ref Ref) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok, err := e.readLocked(ref)
	if err == nil && ok {
		e.reads++
	}
	return data, ok, err
}

func (e *HeapEngine) readLocked(ref Ref) ([]byte, bool, error) {
	pageID, slot := unpackHeapRef(ref)
	f, err := e.mgr.GetPage(pageID, false)
	if err != nil {
		return nil, false, err
	}
	if targetPage, targetSlot, isForward := page.ReadForwardTarget(f.Data, slot); isForward {
		tf, err := e.mgr.GetPage(targetPage, false)
		if err != nil {
			return nil, false, err
		}
		data, ok := page.ReadRecord(tf.Data, targetSlot)
		if !ok {
			return nil, false, nil
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, true, nil
	}
	data, ok := page.ReadRecord(f.Data, slot)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Update overwrites ref's bytes in place when they still fit the existing
// slot; otherwise it inserts the new value elsewhere and points ref at the
// new location. A ref that is already forwarded is collapsed back onto a
// single hop: the original slot's stub is rewritten to the new location
// directly, rather than chaining a second hop through the old one, and the
// stale data slot is tombstoned.
func (e *HeapEngine) Update(tableID TableID, ref Ref, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pageID, slot := unpackHeapRef(ref)
	f, err := e.mgr.GetPage(pageID, true)
	if err != nil {
		return err
	}

	dataPageID, dataSlot := pageID, slot
	dataFrame := f
	wasForwarded := false
	if targetPage, targetSlot, isForward := page.ReadForwardTarget(f.Data, slot); isForward {
		tf, err := e.mgr.GetPage(targetPage, true)
		if err != nil {
			return err
		}
		dataPageID, dataSlot, dataFrame, wasForwarded = targetPage, targetSlot, tf, true
	}

	existing, ok := page.ReadRecord(dataFrame.Data, dataSlot)
	if !ok {
		return scdberrors.NotFound("heap: slot %d on page %d is deleted", dataSlot, dataPageID)
	}

	if len(data) <= len(existing) {
		padded := make([]byte, len(existing))
		copy(padded, data)
		page.UpdateInPlace(dataFrame.Data, dataSlot, padded)
		dataFrame.SetDirty()
		e.updates++
		return nil
	}

	newRef, err := e.insertLocked(tableID, data)
	if err != nil {
		return err
	}
	newPageID, newSlot := unpackHeapRef(newRef)
	if err := page.WriteForwardStub(f.Data, slot, newPageID, newSlot); err != nil {
		// The original slot is too small even for an 11-byte stub (can only
		// happen for near-empty original records); surface the error rather
		// than silently losing the reference.
		return err
	}
	f.SetDirty()
	if wasForwarded {
		page.DeleteRecord(dataFrame.Data, dataSlot)
		dataFrame.SetDirty()
	}
	e.updates++
	return nil
}

// Delete tombstones ref's slot, following a forwarding hop first.
func (e *HeapEngine) Delete(tableID TableID, ref Ref) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pageID, slot := unpackHeapRef(ref)
	f, err := e.mgr.GetPage(pageID, true)
	if err != nil {
		return err
	}
	if targetPage, targetSlot, isForward := page.ReadForwardTarget(f.Data, slot); isForward {
		tf, err := e.mgr.GetPage(targetPage, true)
		if err != nil {
			return err
		}
		page.DeleteRecord(tf.Data, targetSlot)
		tf.SetDirty()
		page.DeleteRecord(f.Data, slot)
		f.SetDirty()
	} else {
		page.DeleteRecord(f.Data, slot)
		f.SetDirty()
	}
	e.deletes++
	return nil
}

// InsertBatch inserts every entry in dataList, in order.
func (e *HeapEngine) InsertBatch(tableID TableID, dataList [][]byte) ([]Ref, error) {
	refs := make([]Ref, 0, len(dataList))
	for _, data := range dataList {
		ref, err := e.Insert(tableID, data)
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (e *HeapEngine) Begin() (uint64, error) {
	if e.txnLog == nil {
		return 0, scdberrors.InvariantViolation("heap: no transaction log configured")
	}
	return e.txnLog.BeginTransaction()
}

func (e *HeapEngine) CommitAsync(txnID uint64) error {
	if e.txnLog == nil {
		return scdberrors.InvariantViolation("heap: no transaction log configured")
	}
	return e.txnLog.CommitTransactionAsync(txnID)
}

func (e *HeapEngine) Rollback(txnID uint64) error {
	if e.txnLog == nil {
		return scdberrors.InvariantViolation("heap: no transaction log configured")
	}
	return e.txnLog.RollbackTransaction(txnID)
}

func (e *HeapEngine) Stats() EngineMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	avg := float64(0)
	if e.inserts > 0 {
		avg = float64(e.insertNanos) / float64(e.inserts)
	}
	return EngineMetrics{
		EngineType:         EngineTypeHeap,
		TotalInserts:       e.inserts,
		TotalUpdates:       e.updates,
		TotalDeletes:       e.deletes,
		TotalReads:         e.reads,
		BytesWritten:       e.bytesWritten,
		AverageInsertNanos: avg,
	}
}

// TablePages returns the page ids currently owned by tableID, in file
// (allocation) order — the iteration order spec.md §4.3 specifies for the
// heap engine.
func (e *HeapEngine) TablePages(tableID TableID) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint64, len(e.tables[tableID]))
	copy(out, e.tables[tableID])
	return out
}

// RestoreTablePages re-seeds tableID's owned-page list on a freshly opened
// HeapEngine, from the page directory internal/engine persisted as a
// container block on a prior close (see the Simplification note above).
// pages must be in the same allocation order TablePages previously
// reported. The last page becomes the table's current (has-room) page
// again; a later Insert that finds it full falls through to allocating a
// fresh one exactly as it would have before the restart.
func (e *HeapEngine) RestoreTablePages(tableID TableID, pages []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]uint64, len(pages))
	copy(cp, pages)
	e.tables[tableID] = cp
	if len(cp) > 0 {
		e.current[tableID] = cp[len(cp)-1]
	}
}

// Scan walks every live row owned by tableID, in page allocation order,
// invoking yield with each row's Ref and current bytes. A forwarding stub
// is skipped — the page it points at is itself one of tableID's owned
// pages, so the row is yielded once, from its current location. yield
// returning false stops the scan early.
func (e *HeapEngine) Scan(tableID TableID, yield func(ref Ref, data []byte) (bool, error)) error {
	e.mu.Lock()
	pages := make([]uint64, len(e.tables[tableID]))
	copy(pages, e.tables[tableID])
	e.mu.Unlock()

	for _, pageID := range pages {
		f, err := e.mgr.GetPage(pageID, false)
		if err != nil {
			return err
		}
		n := page.NumSlots(f.Data)
		for slot := uint16(0); slot < n; slot++ {
			if _, _, isForward := page.ReadForwardTarget(f.Data, slot); isForward {
				continue
			}
			data, ok := page.ReadRecord(f.Data, slot)
			if !ok {
				continue
			}
			cp := make([]byte, len(data))
			copy(cp, data)
			more, err := yield(packHeapRef(pageID, slot), cp)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
	}
	return nil
}
