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

// location pinpoints where an append-only record's current bytes live.
// Unlike the heap engine's Ref (which itself encodes the slot), the
// append-only engine keeps Ref a pure monotonic sequence number and maps it
// to its current location indirectly — an Update rewrites the mapping
// in place rather than relocating via an on-page forwarding stub, since
// there is no stable "home page" for a record to forward from.
type location struct {
	pageID uint64
	slot   uint16
}

// AppendOnlyEngine is the log-structured StorageEngine: every Insert and
// every post-Update rewrite appends to the tail of the log, never
// overwriting prior bytes in place. Deletes leave a tombstone (via the
// underlying slotted page's own tombstone bit); reclaiming tombstoned and
// superseded space is compaction, which spec.md §4.3 says is externally
// scheduled rather than automatic.
type AppendOnlyEngine struct {
	mu      sync.Mutex
	mgr     *page.Manager
	txnLog  TransactionLog
	nextID  uint64
	index   map[Ref]location
	tables  map[TableID][]uint64 // owned pages, append order
	current map[TableID]uint64

	inserts, updates, deletes, reads, bytesWritten uint64
	insertNanos                                    uint64
}

// NewAppendOnlyEngine builds an AppendOnlyEngine over mgr.
func NewAppendOnlyEngine(mgr *page.Manager, txnLog TransactionLog) *AppendOnlyEngine {
	return &AppendOnlyEngine{
		mgr:     mgr,
		txnLog:  txnLog,
		index:   make(map[Ref]location),
		tables:  make(map[TableID][]uint64),
		current: make(map[TableID]uint64),
	}
}

func (e *AppendOnlyEngine) Type() EngineType { return EngineTypeAppendOnly }

func (e *AppendOnlyEngine) Insert(tableID TableID, data []byte) (Ref, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	ref, err := e.appendLocked(tableID, data)
	if err == nil {
		e.inserts++
		e.bytesWritten += uint64(len(data))
		e.insertNanos += uint64(time.Since(start))
	}
	return ref, err
}

// appendLocked assigns the next monotonic id and appends data to the log
// tail, allocating a fresh page when the current one is full.
func (e *AppendOnlyEngine) appendLocked(tableID TableID, data []byte) (Ref, error) {
	loc, err := e.appendDataLocked(tableID, data)
	if err != nil {
		return 0, err
	}
	e.nextID++
	ref := Ref(e.nextID)
	e.index[ref] = loc
	return ref, nil
}

// appendDataLocked writes data to the log tail and returns its location,
// without minting a Ref — used directly by Update, which remaps an
// existing Ref onto a fresh location rather than allocating a new one.
func (e *AppendOnlyEngine) appendDataLocked(tableID TableID, data []byte) (location, error) {
	pageID := e.current[tableID]
	if pageID != 0 {
		f, err := e.mgr.GetPage(pageID, true)
		if err != nil {
			return location{}, err
		}
		slot, err := page.InsertRecord(f.Data, data)
		if err == nil {
			f.SetDirty()
			return location{pageID: pageID, slot: slot}, nil
		}
		if err != page.ErrPageFull {
			return location{}, err
		}
	}

	f, err := e.mgr.AllocatePage()
	if err != nil {
		return location{}, err
	}
	page.InitPage(f.Data)
	slot, err := page.InsertRecord(f.Data, data)
	if err != nil {
		return location{}, err
	}
	f.SetDirty()
	e.tables[tableID] = append(e.tables[tableID], f.PageID)
	e.current[tableID] = f.PageID
	return location{pageID: f.PageID, slot: slot}, nil
}

func (e *AppendOnlyEngine) Read(tableID TableID, ref Ref) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	loc, ok := e.index[ref]
	if !ok {
		return nil, false, nil
	}
	f, err := e.mgr.GetPage(loc.pageID, false)
	if err != nil {
		return nil, false, err
	}
	data, ok := page.ReadRecord(f.Data, loc.slot)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	e.reads++
	return out, true, nil
}

// Update appends data as a new log entry and remaps ref to it, tombstoning
// the superseded entry. ref itself never changes — callers (e.g. an index)
// keep resolving the same identifier to the newest value.
func (e *AppendOnlyEngine) Update(tableID TableID, ref Ref, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldLoc, ok := e.index[ref]
	if !ok {
		return scdberrors.NotFound("append-only: ref %d not found", ref)
	}

	newLoc, err := e.appendDataLocked(tableID, data)
	if err != nil {
		return err
	}
	e.index[ref] = newLoc

	oldFrame, err := e.mgr.GetPage(oldLoc.pageID, true)
	if err != nil {
		return err
	}
	page.DeleteRecord(oldFrame.Data, oldLoc.slot)
	oldFrame.SetDirty()

	e.updates++
	return nil
}

func (e *AppendOnlyEngine) Delete(tableID TableID, ref Ref) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	loc, ok := e.index[ref]
	if !ok {
		return nil
	}
	f, err := e.mgr.GetPage(loc.pageID, true)
	if err != nil {
		return err
	}
	page.DeleteRecord(f.Data, loc.slot)
	f.SetDirty()
	e.deletes++
	return nil
}

func (e *AppendOnlyEngine) InsertBatch(tableID TableID, dataList [][]byte) ([]Ref, error) {
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

func (e *AppendOnlyEngine) Begin() (uint64, error) {
	if e.txnLog == nil {
		return 0, scdberrors.InvariantViolation("append-only: no transaction log configured")
	}
	return e.txnLog.BeginTransaction()
}

func (e *AppendOnlyEngine) CommitAsync(txnID uint64) error {
	if e.txnLog == nil {
		return scdberrors.InvariantViolation("append-only: no transaction log configured")
	}
	return e.txnLog.CommitTransactionAsync(txnID)
}

func (e *AppendOnlyEngine) Rollback(txnID uint64) error {
	if e.txnLog == nil {
		return scdberrors.InvariantViolation("append-only: no transaction log configured")
	}
	return e.txnLog.RollbackTransaction(txnID)
}

func (e *AppendOnlyEngine) Stats() EngineMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	avg := float64(0)
	if e.inserts > 0 {
		avg = float64(e.insertNanos) / float64(e.inserts)
	}
	return EngineMetrics{
		EngineType:         EngineTypeAppendOnly,
		TotalInserts:       e.inserts,
		TotalUpdates:       e.updates,
		TotalDeletes:       e.deletes,
		TotalReads:         e.reads,
		BytesWritten:       e.bytesWritten,
		AverageInsertNanos: avg,
	}
}

// TablePages returns the page ids currently owned by tableID, in append
// order — the file order spec.md §4.3 specifies for iteration.
func (e *AppendOnlyEngine) TablePages(tableID TableID) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint64, len(e.tables[tableID]))
	copy(out, e.tables[tableID])
	return out
}

// RestoreTablePages re-seeds tableID on a freshly opened AppendOnlyEngine
// from the page directory internal/engine persisted as a container block
// on a prior close. Unlike the heap engine, a bare page list isn't enough
// here: Ref is a flat monotonic sequence number rather than an encoding of
// {page, slot}, so the Ref-to-location index has to be rebuilt by walking
// every live (non-tombstoned) slot across pages in their original append
// order and numbering them in that order, continuing from the engine's
// running Ref counter rather than restarting at 1. Refs issued before the
// restart are therefore not preserved, which is safe only because nothing outside this engine instance
// persists a Ref across a restart (callers re-resolve refs from a fresh
// scan after reopening, per the index layer's own lazy-rebuild-on-reopen
// design).
func (e *AppendOnlyEngine) RestoreTablePages(tableID TableID, pages []uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make([]uint64, len(pages))
	copy(cp, pages)
	e.tables[tableID] = cp
	if len(cp) > 0 {
		e.current[tableID] = cp[len(cp)-1]
	}

	for _, pageID := range cp {
		f, err := e.mgr.GetPage(pageID, false)
		if err != nil {
			return err
		}
		n := page.NumSlots(f.Data)
		for slot := uint16(0); slot < n; slot++ {
			if _, ok := page.ReadRecord(f.Data, slot); !ok {
				continue
			}
			e.nextID++
			e.index[Ref(e.nextID)] = location{pageID: pageID, slot: slot}
		}
	}
	return nil
}

// Scan walks every live row owned by tableID, invoking yield with each
// row's Ref and current bytes. Unlike the heap engine, page order doesn't
// recover a useful iteration order here (Ref is a flat counter, not a
// {page, slot} encoding), so this walks the Ref index directly, filtered
// down to entries whose page is one of tableID's own.
func (e *AppendOnlyEngine) Scan(tableID TableID, yield func(ref Ref, data []byte) (bool, error)) error {
	e.mu.Lock()
	owned := make(map[uint64]bool, len(e.tables[tableID]))
	for _, p := range e.tables[tableID] {
		owned[p] = true
	}
	type entry struct {
		ref Ref
		loc location
	}
	entries := make([]entry, 0, len(e.index))
	for ref, loc := range e.index {
		if owned[loc.pageID] {
			entries = append(entries, entry{ref, loc})
		}
	}
	e.mu.Unlock()

	for _, en := range entries {
		f, err := e.mgr.GetPage(en.loc.pageID, false)
		if err != nil {
			return err
		}
		data, ok := page.ReadRecord(f.Data, en.loc.slot)
		if !ok {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		more, err := yield(en.ref, cp)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
